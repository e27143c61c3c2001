// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"encoding/binary"
	"fmt"
)

// splitTypeExt maps the split container file type word to the merged
// asset extension. Unknown types fall back to ".bin".
var splitTypeExt = map[uint16]string{
	0x0001: ".g1m",
	0x0010: ".g1t",
}

// alignUp rounds v up to the next multiple of align. align must be a power of two.
func alignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}

// alignUp64 rounds v up to the next multiple of align. align must be a power of two.
func alignUp64(v, align int64) int64 {
	return (v + align - 1) &^ (align - 1)
}

// DecompressSplit decodes a split zlib container: a 12 byte header, a chunk
// size table, then zlib chunks each led by a u32 inner size and aligned to
// 128 byte boundaries. It returns the merged payload and the extension
// implied by the file type word. Table sizes that disagree with the inner
// size prefix are tolerated; the inner size wins.
func DecompressSplit(data []byte) ([]byte, string, error) {
	if len(data) < splitHeaderSize {
		return nil, "", fmt.Errorf("%w: split header needs %d bytes, have %d", ErrTruncated, splitHeaderSize, len(data))
	}

	fileType := binary.LittleEndian.Uint16(data[2:4])
	count := int(binary.LittleEndian.Uint16(data[4:6]))
	totalSize := binary.LittleEndian.Uint32(data[8:12])

	if count <= 0 {
		return nil, "", fmt.Errorf("%w: %d", ErrInvalidChunkCount, count)
	}

	tableEnd := splitHeaderSize + 4*count
	if tableEnd > len(data) {
		return nil, "", fmt.Errorf("%w: split size table", ErrTruncated)
	}

	sizes := make([]int, count)
	for i := range sizes {
		sizes[i] = int(binary.LittleEndian.Uint32(data[splitHeaderSize+4*i:]))
	}

	ext, ok := splitTypeExt[fileType]
	if !ok {
		ext = ".bin"
	}

	ptr := alignUp(tableEnd, splitAlign)
	merged := make([]byte, 0, totalSize)

	for i := range sizes {
		if ptr+4 > len(data) {
			return nil, "", fmt.Errorf("%w: split chunk %d size prefix", ErrTruncated, i)
		}

		innerSize := int(binary.LittleEndian.Uint32(data[ptr:]))
		chunkStart := ptr + 4
		chunkEnd := chunkStart + innerSize
		if innerSize < 0 || chunkEnd > len(data) {
			return nil, "", fmt.Errorf("%w: split chunk %d", ErrTruncated, i)
		}

		chunk, err := inflate(data[chunkStart:chunkEnd])
		if err != nil {
			return nil, "", fmt.Errorf("split chunk %d: %w", i, err)
		}

		merged = append(merged, chunk...)
		ptr = alignUp(chunkEnd, splitAlign)
	}

	return merged, ext, nil
}

// LooksLikeSplit reports whether raw plausibly starts a split zlib
// container. The file type word is not trusted; the check validates the
// chunk count, the size table bounds and the zlib header of the first chunk.
func LooksLikeSplit(raw []byte) bool {
	n := len(raw)
	if n < 0x20 {
		return false
	}

	count := int(binary.LittleEndian.Uint16(raw[4:6]))
	if count <= 0 || count > maxSplitChunks {
		return false
	}

	tableEnd := splitHeaderSize + 4*count
	if tableEnd+4 > n {
		return false
	}

	firstSize := int(binary.LittleEndian.Uint32(raw[splitHeaderSize:]))
	if firstSize <= 0 || firstSize > n {
		return false
	}

	ptr := alignUp(tableEnd, splitAlign)
	if ptr+4+2 > n {
		return false
	}

	innerSize := int(binary.LittleEndian.Uint32(raw[ptr:]))
	if innerSize <= 0 || ptr+4+innerSize > n {
		return false
	}

	return raw[ptr+4] == 0x78 && validZlibHeader(raw[ptr+4], raw[ptr+5])
}
