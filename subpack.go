// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var kovsMagic = []byte("KOVS")

// subpackDir is the sibling folder a subcontainer unpacks into: the file
// path with its extension dropped.
func subpackDir(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// UnpackVarTable unpacks a variable-size-table subcontainer into a sibling
// folder named after the file. Layout: u32 file count, count u32 sizes, an
// optional zero pad, then the file payloads stored back to back. The data
// start is discovered, not declared. Zero-size table slots produce empty
// placeholder files so inner numbering stays aligned with the table. It
// returns the number of files written.
func UnpackVarTable(path string) (int, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read subcontainer: %w", err)
	}
	if len(blob) < 8 {
		return 0, fmt.Errorf("%w: %s", ErrTruncated, filepath.Base(path))
	}

	count := int(binary.LittleEndian.Uint32(blob[0:4]))
	if count <= 0 || count > maxTableEntries {
		return 0, fmt.Errorf("%w: %d in %s", ErrInvalidFileCount, count, filepath.Base(path))
	}

	tocEnd := 4 + count*4
	if tocEnd > len(blob) {
		return 0, fmt.Errorf("%w: size table in %s", ErrTruncated, filepath.Base(path))
	}

	sizes := make([]int, count)
	for i := range sizes {
		sizes[i] = int(binary.LittleEndian.Uint32(blob[4+i*4:]))
	}

	outDir := subpackDir(path)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", outDir, err)
	}

	written := 0
	cur := chooseDataStart(blob, tocEnd, sizes)
	for i, sz := range sizes {
		if sz <= 0 {
			if err := os.WriteFile(filepath.Join(outDir, fmt.Sprintf("%03d.bin", i)), nil, 0o644); err == nil {
				written++
			}
			continue
		}

		if cur+sz > len(blob) {
			break
		}

		chunk := blob[cur : cur+sz]
		cur += sz

		ext := DetectExtension(chunk)
		if ext == ".ini" || ext == ".txt" {
			// Text magic with early NULs is binary data that happens to match.
			head := chunk
			if len(head) > 64 {
				head = head[:64]
			}
			if bytes.IndexByte(head, 0) >= 0 {
				ext = ".bin"
			}
		}

		if err := os.WriteFile(filepath.Join(outDir, fmt.Sprintf("%03d%s", i, ext)), chunk, 0o644); err != nil {
			continue
		}
		written++
	}

	return written, nil
}

// chooseDataStart locates where the sequential payloads of a
// variable-size-table subcontainer begin. Candidates are the table end and
// the first non-zero dword within a bounded window past it; each candidate
// is scored by how many of the leading files detect as known formats, so a
// first payload that begins with zeros keeps the table end. A candidate
// set that cannot fit the declared payload bytes falls back to the table
// end.
func chooseDataStart(blob []byte, tocEnd int, sizes []int) int {
	need := 0
	for _, sz := range sizes {
		need += sz
	}

	n := len(blob)
	if tocEnd+need > n {
		return tocEnd
	}

	candidates := []int{tocEnd}
	scanLimit := n
	if tocEnd+dataStartScanWindow < scanLimit {
		scanLimit = tocEnd + dataStartScanWindow
	}
	for off := tocEnd; off < scanLimit && off+4 <= n; off += 4 {
		if binary.LittleEndian.Uint32(blob[off:]) != 0 {
			candidates = append(candidates, off)
			break
		}
	}

	best := tocEnd
	bestScore := -1
	for _, cand := range candidates {
		if cand < tocEnd || cand+need > n {
			continue
		}

		score := 0
		cur := cand
		limit := len(sizes)
		if limit > 6 {
			limit = 6
		}
		for _, sz := range sizes[:limit] {
			if sz <= 0 || cur+sz > n {
				break
			}
			probe := sz
			if probe > 256 {
				probe = 256
			}
			if DetectExtension(blob[cur:cur+probe]) != ".bin" {
				score++
			}
			cur += sz
		}

		if score > bestScore {
			bestScore = score
			best = cand
		}
	}

	return best
}

// UnpackPairTable unpacks a fixed-table subcontainer into a sibling folder
// named after the file. Layout: u32 file count, then count pairs of
// u32 offset and u32 size addressing payloads inside the same blob.
// Non-positive or out-of-bounds entries are skipped. It returns the number
// of files written.
func UnpackPairTable(path string) (int, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read subcontainer: %w", err)
	}
	if len(blob) < 4 {
		return 0, fmt.Errorf("%w: %s", ErrTruncated, filepath.Base(path))
	}

	count := int(binary.LittleEndian.Uint32(blob[0:4]))
	if count <= 0 {
		return 0, fmt.Errorf("%w: %d in %s", ErrInvalidFileCount, count, filepath.Base(path))
	}
	if 4+count*8 > len(blob) {
		return 0, fmt.Errorf("%w: pair table in %s", ErrTruncated, filepath.Base(path))
	}

	outDir := subpackDir(path)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", outDir, err)
	}

	written := 0
	for i := 0; i < count; i++ {
		ent := 4 + i*8
		off := int(binary.LittleEndian.Uint32(blob[ent:]))
		size := int(binary.LittleEndian.Uint32(blob[ent+4:]))

		if size <= 0 || off+size > len(blob) {
			continue
		}

		chunk := blob[off : off+size]
		name := fmt.Sprintf("%03d%s", i, DetectExtension(chunk))
		if err := os.WriteFile(filepath.Join(outDir, name), chunk, 0o644); err != nil {
			continue
		}
		written++
	}

	return written, nil
}

// UnpackAudioStream splits a sequential KOVS audio container into one file
// per chunk inside a sibling folder named after the file. Each chunk keeps
// its full 32-byte header plus the declared data bytes; after a chunk the
// cursor aligns up to 16 and resyncs on the magic in 4-byte steps. The
// walk stops at the first missing magic, non-positive size, or short
// chunk. It returns the number of chunks written.
func UnpackAudioStream(path string) (int, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read audio container: %w", err)
	}

	n := len(blob)
	if n < audioHeaderSize {
		return 0, fmt.Errorf("%w: %s", ErrTruncated, filepath.Base(path))
	}

	outDir := subpackDir(path)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", outDir, err)
	}

	written := 0
	pos := 0
	for {
		if pos+audioHeaderSize > n {
			break
		}

		if !bytes.Equal(blob[pos:pos+4], kovsMagic) {
			found := false
			for scan := pos; scan+4 <= n; scan += 4 {
				if bytes.Equal(blob[scan:scan+4], kovsMagic) {
					pos = scan
					found = true
					break
				}
			}
			if !found {
				break
			}
			if pos+audioHeaderSize > n {
				break
			}
		}

		size := int(binary.LittleEndian.Uint32(blob[pos+4:]))
		if size <= 0 {
			break
		}

		dataEnd := pos + audioHeaderSize + size
		if dataEnd > n {
			break
		}

		name := fmt.Sprintf("%05d.kvs", written)
		if err := os.WriteFile(filepath.Join(outDir, name), blob[pos:dataEnd], 0o644); err != nil {
			return written, fmt.Errorf("write audio chunk: %w", err)
		}
		written++

		pos = alignUp(dataEnd, chunkAlign)
	}

	return written, nil
}
