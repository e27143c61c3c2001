package linkdata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// buildSplitContainer assembles a split zlib container: the 12 byte header,
// a chunk size table, then aligned zlib chunks each led by a u32 inner size.
func buildSplitContainer(t *testing.T, fileType uint16, parts ...[]byte) []byte {
	t.Helper()

	header := make([]byte, splitHeaderSize)
	binary.LittleEndian.PutUint16(header[2:4], fileType)
	binary.LittleEndian.PutUint16(header[4:6], uint16(len(parts)))

	streams := make([][]byte, len(parts))
	total := 0
	for i, p := range parts {
		s, err := Compress(p, KindZlib)
		if err != nil {
			t.Fatalf("Compress part %d: %v", i, err)
		}
		streams[i] = s
		total += len(p)
	}
	binary.LittleEndian.PutUint32(header[8:12], uint32(total))

	blob := header
	for _, s := range streams {
		blob = binary.LittleEndian.AppendUint32(blob, uint32(len(s)+4))
	}
	for _, s := range streams {
		blob = append(blob, make([]byte, alignUp(len(blob), splitAlign)-len(blob))...)
		blob = binary.LittleEndian.AppendUint32(blob, uint32(len(s)))
		blob = append(blob, s...)
	}

	return blob
}

func TestDecompressSplit(t *testing.T) {
	t.Parallel()

	partOne := bytes.Repeat([]byte("first chunk payload "), 20)
	partTwo := bytes.Repeat([]byte("second chunk payload "), 30)
	partThree := bytes.Repeat([]byte("third chunk payload "), 25)
	blob := buildSplitContainer(t, 0x0010, partOne, partTwo, partThree)

	merged, ext, err := DecompressSplit(blob)
	if err != nil {
		t.Fatalf("DecompressSplit: %v", err)
	}
	if ext != ".g1t" {
		t.Fatalf("ext = %q, want .g1t", ext)
	}

	want := append(append([]byte{}, partOne...), partTwo...)
	want = append(want, partThree...)
	if !bytes.Equal(merged, want) {
		t.Fatalf("merged = %d bytes, want %d", len(merged), len(want))
	}

	// The dispatcher routes the split kind here as well.
	viaKind, err := Decompress(blob, KindZlibSplit)
	if err != nil {
		t.Fatalf("Decompress split: %v", err)
	}
	if !bytes.Equal(viaKind, want) {
		t.Fatal("Decompress split payload mismatch")
	}
}

func TestDecompressSplitFileTypes(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("typed payload "), 16)

	cases := []struct {
		name     string
		fileType uint16
		want     string
	}{
		{name: "model", fileType: 0x0001, want: ".g1m"},
		{name: "texture", fileType: 0x0010, want: ".g1t"},
		{name: "unknown", fileType: 0x0999, want: ".bin"},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, ext, err := DecompressSplit(buildSplitContainer(t, tc.fileType, payload))
			if err != nil {
				t.Fatalf("DecompressSplit: %v", err)
			}
			if ext != tc.want {
				t.Fatalf("ext = %q, want %q", ext, tc.want)
			}
		})
	}
}

func TestDecompressSplitErrors(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("chunk "), 16)
	good := buildSplitContainer(t, 0x0001, payload)

	t.Run("short header", func(t *testing.T) {
		t.Parallel()

		_, _, err := DecompressSplit(good[:8])
		if !errors.Is(err, ErrTruncated) {
			t.Fatalf("expected ErrTruncated, got %v", err)
		}
	})

	t.Run("zero chunk count", func(t *testing.T) {
		t.Parallel()

		blob := append([]byte{}, good...)
		binary.LittleEndian.PutUint16(blob[4:6], 0)
		_, _, err := DecompressSplit(blob)
		if !errors.Is(err, ErrInvalidChunkCount) {
			t.Fatalf("expected ErrInvalidChunkCount, got %v", err)
		}
	})

	t.Run("short size table", func(t *testing.T) {
		t.Parallel()

		blob := append([]byte{}, good[:16]...)
		binary.LittleEndian.PutUint16(blob[4:6], 100)
		_, _, err := DecompressSplit(blob)
		if !errors.Is(err, ErrTruncated) {
			t.Fatalf("expected ErrTruncated, got %v", err)
		}
	})

	t.Run("missing chunk", func(t *testing.T) {
		t.Parallel()

		_, _, err := DecompressSplit(good[:splitAlign])
		if !errors.Is(err, ErrTruncated) {
			t.Fatalf("expected ErrTruncated, got %v", err)
		}
	})

	t.Run("corrupt stream", func(t *testing.T) {
		t.Parallel()

		blob := append([]byte{}, good...)
		blob[splitAlign+4] = 0x00
		if _, _, err := DecompressSplit(blob); err == nil {
			t.Fatal("expected a decode error for a corrupt chunk")
		}
	})
}

func TestLooksLikeSplit(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("probe payload "), 16)
	good := buildSplitContainer(t, 0x0010, payload)

	if !LooksLikeSplit(good) {
		t.Fatal("well-formed container must look like a split")
	}

	if LooksLikeSplit(good[:0x10]) {
		t.Fatal("short blob must not look like a split")
	}

	zeroCount := append([]byte{}, good...)
	binary.LittleEndian.PutUint16(zeroCount[4:6], 0)
	if LooksLikeSplit(zeroCount) {
		t.Fatal("zero chunk count must not look like a split")
	}

	hugeCount := append([]byte{}, good...)
	binary.LittleEndian.PutUint16(hugeCount[4:6], 0xFFFF)
	if LooksLikeSplit(hugeCount) {
		t.Fatal("absurd chunk count must not look like a split")
	}

	notZlib := append([]byte{}, good...)
	notZlib[splitAlign+4] = 0x00
	if LooksLikeSplit(notZlib) {
		t.Fatal("non-zlib first chunk must not look like a split")
	}
}

func TestAlignUp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		v, align, want int
	}{
		{0, 16, 0},
		{1, 16, 16},
		{16, 16, 16},
		{37, 16, 48},
		{20, 128, 128},
	}

	for _, tc := range cases {
		if got := alignUp(tc.v, tc.align); got != tc.want {
			t.Fatalf("alignUp(%d, %d) = %d, want %d", tc.v, tc.align, got, tc.want)
		}
	}

	if got := alignUp64(129, 128); got != 256 {
		t.Fatalf("alignUp64(129, 128) = %d, want 256", got)
	}
	if got := alignUp64(4, 4); got != 4 {
		t.Fatalf("alignUp64(4, 4) = %d, want 4", got)
	}
}
