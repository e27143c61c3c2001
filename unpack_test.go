// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/woozymasta/pathrules"
)

// unpackConfig builds a one-pair config with the common four-field layout.
func unpackConfig(out string) Config {
	return Config{
		OutputRoot:  out,
		Endian:      EndianLittle,
		Containers:  []string{"GAME.BIN"},
		IndexFiles:  []string{"GAME.IDX"},
		Fields:      []string{"Offset", "Original_Size", "Compressed_Size", "Compression_Marker"},
		Compression: []Kind{KindZlib},
		FieldWidth:  4,
	}
}

// writeUnit writes one container/index pair under dir.
func writeUnit(t *testing.T, dir, binName, idxName string, container, index []byte) {
	t.Helper()

	if err := os.WriteFile(filepath.Join(dir, binName), container, 0o644); err != nil {
		t.Fatalf("write container: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, idxName), index, 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
}

// readEntryFile loads one extracted entry and splits off its trailer.
func readEntryFile(t *testing.T, path string, e Endian) ([]byte, Trailer) {
	t.Helper()

	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	payload, tr, err := ParseTrailer(blob, e)
	if err != nil {
		t.Fatalf("ParseTrailer(%s): %v", path, err)
	}

	return payload, tr
}

func TestUnpackPairs(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	cfg := unpackConfig(out)

	raw := pngChunk(24)
	inner := pngChunk(33)
	packed, err := Compress(inner, KindZlib)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	junk := bytes.Repeat([]byte{0x13, 0x37}, 16)

	container := append([]byte{}, raw...)
	container = append(container, packed...)
	container = append(container, junk...)

	index := indexEntry(0, 24, 24, 0)
	index = append(index, indexEntry(24, 33, uint32(len(packed)), 1)...)
	index = append(index, indexEntry(0, 0, 0, 0)...)
	index = append(index, indexEntry(uint32(24+len(packed)), 64, 32, 1)...)
	writeUnit(t, base, "GAME.BIN", "GAME.IDX", container, index)

	res, err := Unpack(t.Context(), cfg, base, UnpackOptions{SkipNested: true})
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if res.Pairs != 1 || res.FailedPairs != 0 {
		t.Fatalf("Pairs=%d FailedPairs=%d, want 1/0", res.Pairs, res.FailedPairs)
	}
	if res.WrittenEntries != 3 {
		t.Fatalf("WrittenEntries = %d, want 3", res.WrittenEntries)
	}
	if res.SkippedEntries != 1 {
		t.Fatalf("SkippedEntries = %d, want 1", res.SkippedEntries)
	}
	if res.RawFallbacks != 1 {
		t.Fatalf("RawFallbacks = %d, want 1", res.RawFallbacks)
	}
	if res.Nested != nil {
		t.Fatal("no nested jobs expected with SkipNested")
	}

	packDir := filepath.Join(out, "Pack_00")

	payload, tr := readEntryFile(t, filepath.Join(packDir, "entry_00000.png"), cfg.Endian)
	if !bytes.Equal(payload, raw) {
		t.Fatal("raw entry payload mismatch")
	}
	if tr.Marker != 0 || tr.EntryOffset != 0 || tr.Decompressed {
		t.Fatalf("raw entry trailer = %+v", tr)
	}

	payload, tr = readEntryFile(t, filepath.Join(packDir, "entry_00001.png"), cfg.Endian)
	if !bytes.Equal(payload, inner) {
		t.Fatal("flagged entry must decode to the inner payload")
	}
	if tr.EntryOffset != 16 || !tr.Decompressed {
		t.Fatalf("flagged entry trailer = %+v", tr)
	}

	payload, tr = readEntryFile(t, filepath.Join(packDir, "entry_00002.bin"), cfg.Endian)
	if !bytes.Equal(payload, junk) {
		t.Fatal("failed entry must fall back to raw bytes")
	}
	if tr.EntryOffset != 48 || tr.Decompressed {
		t.Fatalf("fallback entry trailer = %+v", tr)
	}

	logBlob, err := os.ReadFile(filepath.Join(out, "comp_log.txt"))
	if err != nil {
		t.Fatalf("read comp_log.txt: %v", err)
	}
	for _, want := range []string{"zlib decompress failed at IDX entry 3", "wrote raw to entry_00002.bin"} {
		if !strings.Contains(string(logBlob), want) {
			t.Fatalf("comp_log.txt lacks %q:\n%s", want, logBlob)
		}
	}
}

func TestUnpackFilter(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	cfg := unpackConfig(out)

	raw := pngChunk(24)
	other := bytes.Repeat([]byte{0x55}, 8)
	container := append(append([]byte{}, raw...), other...)
	index := append(indexEntry(0, 24, 24, 0), indexEntry(24, 8, 8, 0)...)
	writeUnit(t, base, "GAME.BIN", "GAME.IDX", container, index)

	res, err := Unpack(t.Context(), cfg, base, UnpackOptions{
		SkipNested: true,
		Include:    []pathrules.Rule{{Action: pathrules.ActionInclude, Pattern: "*.png"}},
		IncludeMatcherOptions: pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionExclude,
		},
	})
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if res.WrittenEntries != 1 {
		t.Fatalf("WrittenEntries = %d, want 1", res.WrittenEntries)
	}
	if res.FilteredEntries != 1 {
		t.Fatalf("FilteredEntries = %d, want 1", res.FilteredEntries)
	}

	packDir := filepath.Join(out, "Pack_00")
	if _, err := os.Stat(filepath.Join(packDir, "entry_00000.png")); err != nil {
		t.Fatalf("included entry missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(packDir, "entry_00001.bin")); !os.IsNotExist(err) {
		t.Fatalf("filtered entry should not exist, stat err = %v", err)
	}
}

func TestUnpackInvalidIncludeRules(t *testing.T) {
	t.Parallel()

	cfg := unpackConfig(filepath.Join(t.TempDir(), "out"))

	_, err := Unpack(t.Context(), cfg, t.TempDir(), UnpackOptions{
		Include: []pathrules.Rule{{Action: pathrules.ActionUnknown, Pattern: "*.png"}},
	})
	if !errors.Is(err, ErrInvalidIncludeRules) {
		t.Fatalf("expected ErrInvalidIncludeRules, got %v", err)
	}
}

func TestUnpackSharedIndex(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	cfg := Config{
		OutputRoot:  out,
		Endian:      EndianLittle,
		Containers:  []string{"PART0.BIN", "PART1.BIN"},
		IndexFiles:  []string{"ALL.IDX"},
		Fields:      []string{"Offset", "Original_Size", "Compressed_Size", "Compression_Marker"},
		Compression: []Kind{KindRaw},
		FieldWidth:  4,
	}

	a := bytes.Repeat([]byte{0x55}, 8)
	b := bytes.Repeat([]byte{0x66}, 8)
	c := bytes.Repeat([]byte{0x77}, 12)

	index := indexEntry(0, 8, 8, 0)
	index = append(index, indexEntry(8, 8, 8, 0)...)
	index = append(index, indexEntry(0, 12, 12, 0)...)

	writeUnit(t, base, "PART0.BIN", "ALL.IDX", append(append([]byte{}, a...), b...), index)
	if err := os.WriteFile(filepath.Join(base, "PART1.BIN"), c, 0o644); err != nil {
		t.Fatalf("write container: %v", err)
	}

	res, err := Unpack(t.Context(), cfg, base, UnpackOptions{SkipNested: true})
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if res.Pairs != 1 {
		t.Fatalf("Pairs = %d, want 1", res.Pairs)
	}
	if res.WrittenEntries != 3 {
		t.Fatalf("WrittenEntries = %d, want 3", res.WrittenEntries)
	}

	// The offset rewind at entry 2 advances into the second container and
	// restarts local numbering.
	payload, tr := readEntryFile(t, filepath.Join(out, "Pack_00", "entry_00001.bin"), cfg.Endian)
	if !bytes.Equal(payload, b) {
		t.Fatal("second entry payload mismatch")
	}
	if tr.EntryOffset != 16 {
		t.Fatalf("EntryOffset = %d, want 16", tr.EntryOffset)
	}

	payload, tr = readEntryFile(t, filepath.Join(out, "Pack_01", "entry_00000.bin"), cfg.Endian)
	if !bytes.Equal(payload, c) {
		t.Fatal("rewound entry must come from the next container")
	}
	if tr.Marker != 0 || tr.EntryOffset != 32 {
		t.Fatalf("rewound entry trailer = %+v", tr)
	}
}

func TestUnpackMissingContainer(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	cfg := Config{
		OutputRoot:  out,
		Endian:      EndianLittle,
		Containers:  []string{"GAME0.BIN", "GAME1.BIN"},
		IndexFiles:  []string{"GAME0.IDX", "GAME1.IDX"},
		Fields:      []string{"Offset", "Original_Size", "Compressed_Size", "Compression_Marker"},
		Compression: []Kind{KindRaw},
		FieldWidth:  4,
	}

	payload := bytes.Repeat([]byte{0x55}, 8)
	writeUnit(t, base, "GAME0.BIN", "GAME0.IDX", payload, indexEntry(0, 8, 8, 0))
	if err := os.WriteFile(filepath.Join(base, "GAME1.IDX"), indexEntry(0, 8, 8, 0), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	res, err := Unpack(t.Context(), cfg, base, UnpackOptions{SkipNested: true})
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if res.Pairs != 1 {
		t.Fatalf("Pairs = %d, want 1", res.Pairs)
	}
	if res.FailedPairs != 1 {
		t.Fatalf("FailedPairs = %d, want 1", res.FailedPairs)
	}
	if res.WrittenEntries != 1 {
		t.Fatalf("WrittenEntries = %d, want 1", res.WrittenEntries)
	}
}

func TestUnpackNestedAudio(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	cfg := unpackConfig(out)

	chunk := kovsChunk(16, 0xAB)
	writeUnit(t, base, "GAME.BIN", "GAME.IDX", chunk, indexEntry(0, uint32(len(chunk)), uint32(len(chunk)), 0))

	res, err := Unpack(t.Context(), cfg, base, UnpackOptions{})
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if res.Nested == nil {
		t.Fatal("a .kvs entry must spawn a nested unpack")
	}
	if err := res.Nested.Wait(); err != nil {
		t.Fatalf("nested unpack: %v", err)
	}

	nested, err := os.ReadFile(filepath.Join(out, "Pack_00", "entry_00000", "00000.kvs"))
	if err != nil {
		t.Fatalf("read nested chunk: %v", err)
	}
	if !bytes.Equal(nested, chunk) {
		t.Fatal("nested chunk bytes mismatch")
	}
}

func TestListEntries(t *testing.T) {
	t.Parallel()

	l := Layout{
		Endian:     EndianLittle,
		Fields:     []string{"Offset", "Size"},
		FieldWidth: 4,
		EntrySize:  8,
	}

	idxPath := filepath.Join(t.TempDir(), "GAME.IDX")
	index := append(indexEntry(16, 100), indexEntry(128, 200)...)
	if err := os.WriteFile(idxPath, index, 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	entries, err := ListEntries(idxPath, l, 0)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Values["Offset"] != 16 || entries[0].Values["Size"] != 100 {
		t.Fatalf("entry 0 values = %v", entries[0].Values)
	}
	if entries[1].Index != 1 || entries[1].Offset != 8 {
		t.Fatalf("entry 1 = %+v", entries[1])
	}
}

func TestListEntriesShiftAndStartOffset(t *testing.T) {
	t.Parallel()

	l := Layout{
		Endian:     EndianLittle,
		Fields:     []string{"Offset", "Size"},
		FieldWidth: 4,
		EntrySize:  8,
		ShiftBits:  2,
	}

	idxPath := filepath.Join(t.TempDir(), "GAME.IDX")
	blob := append(bytes.Repeat([]byte{0xFF}, 8), indexEntry(16, 100)...)
	if err := os.WriteFile(idxPath, blob, 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	entries, err := ListEntries(idxPath, l, 8)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}

	// Offset-like fields unpack shifted; plain sizes stay verbatim.
	if entries[0].Values["Offset"] != 64 {
		t.Fatalf("Offset = %d, want 64", entries[0].Values["Offset"])
	}
	if entries[0].Values["Size"] != 100 {
		t.Fatalf("Size = %d, want 100", entries[0].Values["Size"])
	}
	if entries[0].Offset != 8 {
		t.Fatalf("absolute offset = %d, want 8", entries[0].Offset)
	}
}

func TestListEntriesBadEntrySize(t *testing.T) {
	t.Parallel()

	if _, err := ListEntries("whatever.idx", Layout{}, 0); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestEffectiveReadSize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		orig    int64
		comp    int64
		flagged bool
		size    int64
		skip    bool
	}{
		{name: "placeholder", orig: 0, comp: 0, flagged: false, skip: true},
		{name: "zero compressed", orig: 10, comp: 0, flagged: false, skip: true},
		{name: "flagged uses compressed", orig: 10, comp: 5, flagged: true, size: 5},
		{name: "unflagged uses original", orig: 10, comp: 5, flagged: false, size: 10},
		{name: "flagged without original", orig: 0, comp: 5, flagged: true, size: 5},
		{name: "unflagged without original", orig: 0, comp: 5, flagged: false, skip: true},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			size, skip := effectiveReadSize(tc.orig, tc.comp, tc.flagged)
			if skip != tc.skip {
				t.Fatalf("skip = %v, want %v", skip, tc.skip)
			}
			if !tc.skip && size != tc.size {
				t.Fatalf("size = %d, want %d", size, tc.size)
			}
		})
	}
}
