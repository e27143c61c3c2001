// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// tocProgressStep is the entry interval between audio metadata progress emissions.
const tocProgressStep = 512

// audioChunk is one located KOVS chunk inside a rebuilt container.
type audioChunk struct {
	off  int64
	size int64
}

// UpdateAudioTOC rewrites the offset/size table of a paired audio metadata
// file by scanning containerPath for KOVS chunks. The metadata layout is a
// u32 entry count, a u32 reserved dword, then count (u32 offset, u32 size)
// pairs, all little-endian. The metadata file is never resized: when the
// container holds fewer chunks than the header declares, only the found
// prefix is rewritten and the rest of the table keeps its old entries.
// It returns the number of table entries updated.
func UpdateAudioTOC(ctx context.Context, containerPath, metadataPath string, opts RepackOptions) (int, error) {
	expected, err := readAudioTOCHeader(metadataPath)
	if err != nil {
		return 0, err
	}

	opts.status(fmt.Sprintf("Scanning %s for KOVS chunks (expecting %d entries)", filepath.Base(containerPath), expected), SeverityInfo)
	opts.progress(0, expected, "Scanning KVS")

	chunks, err := scanAudioChunks(ctx, containerPath, expected, &opts)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: no KOVS chunks in %s", ErrBadAudioTOC, containerPath)
	}

	opts.status(fmt.Sprintf("Found %d/%d KOVS entries. Writing metadata table", len(chunks), expected), SeverityInfo)

	if err := writeAudioTOC(metadataPath, chunks, expected, &opts); err != nil {
		return 0, err
	}

	if len(chunks) != expected {
		opts.status(fmt.Sprintf(
			"Metadata expects %d entries but the container holds %d; remaining table entries left unchanged.",
			expected, len(chunks)), SeverityWarn)
	} else {
		opts.status("Audio metadata table updated.", SeverityInfo)
		opts.progress(expected, expected, "Metadata update complete")
	}

	return len(chunks), nil
}

// readAudioTOCHeader validates the metadata header and returns the declared
// entry count.
func readAudioTOCHeader(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open metadata: %w", err)
	}
	defer f.Close()

	var header [8]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return 0, fmt.Errorf("%w: metadata shorter than its 8-byte header", ErrBadAudioTOC)
	}

	expected := int(binary.LittleEndian.Uint32(header[0:4]))
	if expected <= 0 {
		return 0, fmt.Errorf("%w: non-positive entry count %d", ErrBadAudioTOC, expected)
	}

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat metadata: %w", err)
	}

	tocEnd := int64(8 + expected*8)
	if tocEnd > info.Size() {
		return 0, fmt.Errorf("%w: table end 0x%X beyond metadata size 0x%X", ErrBadAudioTOC, tocEnd, info.Size())
	}

	return expected, nil
}

// scanAudioChunks walks the container collecting up to expected KOVS chunk
// positions. Implausible sizes resync the scan 4 bytes past the magic.
func scanAudioChunks(ctx context.Context, path string, expected int, opts *RepackOptions) ([]audioChunk, error) {
	c, err := openContainer(path)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	chunks := make([]audioChunk, 0, expected)
	scanBuf := make([]byte, 1<<20)
	var header [8]byte
	pos := int64(0)

	for len(chunks) < expected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		found, err := scanForMagic(c, pos, kovsMagic, scanBuf)
		if err != nil {
			return nil, fmt.Errorf("scan container: %w", err)
		}
		if found < 0 || found+int64(len(header)) > c.size {
			break
		}

		if _, err := c.r.ReadAt(header[:], found); err != nil {
			return nil, fmt.Errorf("read chunk header: %w", err)
		}

		dataSize := int64(binary.LittleEndian.Uint32(header[4:8]))
		chunkSize := int64(audioHeaderSize) + dataSize
		if dataSize <= 0 || found+chunkSize > c.size {
			pos = found + 4
			continue
		}

		chunks = append(chunks, audioChunk{off: found, size: chunkSize})
		pos = found + chunkSize

		if n := len(chunks); n%tocProgressStep == 0 || n == expected {
			opts.progress(n, expected, fmt.Sprintf("Scanning KVS %d/%d", n, expected))
		}
	}

	return chunks, nil
}

// scanForMagic returns the next offset of magic at or after from, or -1 when
// it does not occur again. Chunks normally follow within pad distance, so a
// short probe runs before the windowed forward scan.
func scanForMagic(c *container, from int64, magic, buf []byte) (int64, error) {
	overlap := int64(len(magic)) - 1

	length := int64(64)
	if length > int64(len(buf)) {
		length = int64(len(buf))
	}

	for base := from; base < c.size; {
		end := base + length
		if end > c.size {
			end = c.size
		}
		n := end - base
		if n < int64(len(magic)) {
			break
		}

		if _, err := c.r.ReadAt(buf[:n], base); err != nil {
			return -1, err
		}
		if i := bytes.Index(buf[:n], magic); i >= 0 {
			return base + int64(i), nil
		}

		base += n - overlap
		length = int64(len(buf))
	}

	return -1, nil
}

// writeAudioTOC overwrites the located chunk entries inside the metadata
// table, leaving the header and any entries past the found count untouched.
func writeAudioTOC(path string, chunks []audioChunk, expected int, opts *RepackOptions) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open metadata for update: %w", err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	var entry [8]byte
	for i, ch := range chunks {
		if ch.off > math.MaxUint32 || ch.size > math.MaxUint32 {
			return fmt.Errorf("%w: chunk at 0x%X", ErrSizeOverflow, ch.off)
		}

		binary.LittleEndian.PutUint32(entry[0:4], uint32(ch.off))
		binary.LittleEndian.PutUint32(entry[4:8], uint32(ch.size))
		if _, err := f.WriteAt(entry[:], int64(8+i*8)); err != nil {
			return fmt.Errorf("write table entry %d: %w", i, err)
		}

		if n := i + 1; n%tocProgressStep == 0 || n == len(chunks) {
			opts.progress(n, expected, fmt.Sprintf("Updating metadata %d/%d", n, expected))
		}
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync metadata: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close metadata: %w", err)
	}
	f = nil

	return nil
}
