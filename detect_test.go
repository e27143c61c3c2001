package linkdata

import "testing"

// embedSignature plants sig inside a zero blob of the given size.
func embedSignature(size, at int, sig string) []byte {
	blob := make([]byte, size)
	copy(blob[at:], sig)

	return blob
}

func TestDetectExtension(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		data []byte
		want string
	}{
		{name: "png", data: []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0x00}, want: ".png"},
		{name: "damaged png keeps four bytes", data: []byte{0x89, 'P', 'N', 'G', 0x00, 0x00}, want: ".png"},
		{name: "dds", data: []byte("DDS |DX10"), want: ".dds"},
		{name: "ogg", data: []byte("OggS\x00\x02"), want: ".ogg"},
		{name: "kovs audio chunk", data: []byte("KOVS\x00\x00\x00\x00"), want: ".kvs"},
		{name: "g1l", data: []byte("_L1G0000"), want: ".g1l"},
		{name: "wbd", data: []byte("_DBW0000"), want: ".wbd"},
		{name: "wbh", data: []byte("_HBW0000"), want: ".wbh"},
		{name: "ini global section", data: []byte("[global]\nkey=1"), want: ".ini"},
		{name: "g1f", data: []byte("XF1G0000"), want: ".g1f"},
		{name: "g1n", data: []byte("_N1G0000"), want: ".g1n"},
		{name: "g1a", data: []byte("_A1G0000"), want: ".g1a"},
		{name: "g1e", data: []byte("ME1G0000"), want: ".g1e"},
		{name: "riff wave", data: []byte("RIFF\x24\x00\x00\x00WAVEfmt "), want: ".wav"},
		{name: "riff other", data: []byte("RIFF\x24\x00\x00\x00AVI LIST"), want: ".riff"},
		{name: "xkm", data: []byte("XKM\x00"), want: ".xkm"},
		{name: "xft", data: []byte("XFT\x00"), want: ".xft"},
		{name: "bmp", data: []byte("BM\x36\x00"), want: ".bmp"},
		{name: "jpeg by jfif tag", data: []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, want: ".jpg"},
		{name: "tim2 by tag", data: []byte{0x10, 0x00, 'T', 'I', 'M', '2', 0x00}, want: ".tm2"},
		{name: "tim2 by magic", data: []byte{0x00, 0x20, 0xaf, 0x30, 0x00}, want: ".tm2"},
		{name: "ss2 header bank", data: []byte("SShd\x18\x00"), want: ".ss2"},
		{name: "ss2 body bank", data: []byte("SSbd\x18\x00"), want: ".ss2bd"},
		{name: "vag bank", data: []byte("IECSsreV\x01"), want: ".vagbank"},
		{name: "em record", data: []byte{'E', 'M', 0x06, 0x00, 0x01}, want: ".EM"},
		{name: "xl sheet", data: []byte("XL\x00\x01"), want: ".XL"},
		{name: "mesc", data: []byte("MESC\x00"), want: ".MESC"},
		{name: "ipu movie", data: []byte("ipu2\x00"), want: ".ipu2"},
		{name: "g1t texture", data: []byte("GT1G0600"), want: ".g1t"},
		{name: "g1m model", data: []byte("_M1G0034"), want: ".g1m"},
		{name: "g1s skeleton", data: []byte("LHSK\x00"), want: ".g1s"},
		{name: "kldm", data: []byte("MDLK\x00"), want: ".KLDM"},
		{name: "unknown", data: []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}, want: ".bin"},
		{name: "empty", data: nil, want: ".bin"},
		{name: "model pack by embedded magic", data: embedSignature(0x4000, 0x100, "_M1G"), want: ".g1pack1"},
		{name: "texture pack by embedded magic", data: embedSignature(0x4000, 0x100, "GT1G"), want: ".g1pack2"},
		{name: "small blob skips pack scan", data: embedSignature(0x3fff, 0x100, "_M1G"), want: ".bin"},
		{name: "pack magic beyond scan limit", data: embedSignature(600_000, 500_100, "GT1G"), want: ".bin"},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := DetectExtension(tc.data)
			if got != tc.want {
				t.Fatalf("DetectExtension = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDetectExtensionPrefersPrefixOverPackScan(t *testing.T) {
	t.Parallel()

	// A large blob starting with a known magic must not fall through to the
	// embedded pack scan.
	blob := embedSignature(0x8000, 0x200, "GT1G")
	copy(blob, "_M1G")

	if got := DetectExtension(blob); got != ".g1m" {
		t.Fatalf("DetectExtension = %q, want %q", got, ".g1m")
	}
}
