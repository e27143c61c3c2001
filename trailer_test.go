package linkdata

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestTrailerRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		trailer Trailer
		endian  Endian
	}{
		{name: "little", trailer: Trailer{Marker: 2, EntryOffset: 0x1234, Decompressed: true}, endian: EndianLittle},
		{name: "big", trailer: Trailer{Marker: 0, EntryOffset: 0xDEAD00, Decompressed: false}, endian: EndianBig},
		{name: "max offset", trailer: Trailer{Marker: 255, EntryOffset: 0xFFFFFFFF, Decompressed: true}, endian: EndianLittle},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			suffix := EncodeTrailer(tc.trailer, tc.endian)
			payload := []byte("payload bytes")
			blob := append(append([]byte{}, payload...), suffix[:]...)

			got, tr, err := ParseTrailer(blob, tc.endian)
			if err != nil {
				t.Fatalf("ParseTrailer: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("payload = %q, want %q", got, payload)
			}
			if tr != tc.trailer {
				t.Fatalf("trailer = %+v, want %+v", tr, tc.trailer)
			}
		})
	}
}

func TestParseTrailerShortBlob(t *testing.T) {
	t.Parallel()

	_, _, err := ParseTrailer([]byte{1, 2, 3, 4, 5}, EndianLittle)
	if !errors.Is(err, ErrBadTrailer) {
		t.Fatalf("expected ErrBadTrailer, got %v", err)
	}
}

func TestEncodeTrailerLayout(t *testing.T) {
	t.Parallel()

	suffix := EncodeTrailer(Trailer{Marker: 3, EntryOffset: 0x01020304, Decompressed: true}, EndianLittle)
	want := [TrailerSize]byte{3, 0x04, 0x03, 0x02, 0x01, 1}
	if suffix != want {
		t.Fatalf("suffix = % X, want % X", suffix, want)
	}

	suffix = EncodeTrailer(Trailer{Marker: 3, EntryOffset: 0x01020304}, EndianBig)
	want = [TrailerSize]byte{3, 0x01, 0x02, 0x03, 0x04, 0}
	if suffix != want {
		t.Fatalf("big-endian suffix = % X, want % X", suffix, want)
	}
}

func TestAppendTrailer(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "entry_00000.bin")
	payload := []byte("extracted entry")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	tr := Trailer{Marker: 1, EntryOffset: 64, Decompressed: true}
	appendTrailer(path, tr, EndianLittle)

	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}

	got, parsed, err := ParseTrailer(blob, EndianLittle)
	if err != nil {
		t.Fatalf("ParseTrailer: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}
	if parsed != tr {
		t.Fatalf("trailer = %+v, want %+v", parsed, tr)
	}

	// Missing files are a silent no-op.
	appendTrailer(filepath.Join(t.TempDir(), "missing.bin"), tr, EndianLittle)
}
