// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// modReader decodes the little-endian mod wire primitives.
type modReader struct {
	r *bufio.Reader
}

func (mr *modReader) bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(mr.r, b); err != nil {
		return nil, err
	}

	return b, nil
}

func (mr *modReader) u8() (int, error) {
	b, err := mr.r.ReadByte()

	return int(b), err
}

func (mr *modReader) u16() (int, error) {
	b, err := mr.bytes(2)
	if err != nil {
		return 0, err
	}

	return int(binary.LittleEndian.Uint16(b)), nil
}

func (mr *modReader) u32() (int64, error) {
	b, err := mr.bytes(4)
	if err != nil {
		return 0, err
	}

	return int64(binary.LittleEndian.Uint32(b)), nil
}

// lenString8 reads a u8 length prefix followed by that many bytes.
func (mr *modReader) lenString8() (string, error) {
	n, err := mr.u8()
	if err != nil {
		return "", err
	}
	b, err := mr.bytes(n)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

// lenString16 reads a u16 length prefix followed by that many bytes.
func (mr *modReader) lenString16() (string, error) {
	n, err := mr.u16()
	if err != nil {
		return "", err
	}
	b, err := mr.bytes(n)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

// ParseModFile reads and parses one mod file.
func ParseModFile(path string) (ModMeta, []ModEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return ModMeta{}, nil, fmt.Errorf("open mod file: %w", err)
	}
	defer f.Close()

	return ParseMod(f)
}

// ParseMod parses the mod wire format: u8 name length + name, u32 file
// count, u8 author length + author, u8 version length + version, u16
// description length + description, then per file a u32 blob size and the
// blob itself. Every blob carries an extracted entry's payload plus its
// 6-byte trailer; blobs shorter than the trailer are an error.
func ParseMod(r io.Reader) (ModMeta, []ModEntry, error) {
	var meta ModMeta
	mr := &modReader{r: bufio.NewReader(r)}

	name, err := mr.lenString8()
	if err != nil {
		return meta, nil, fmt.Errorf("%w: truncated name", ErrBadModFile)
	}
	count, err := mr.u32()
	if err != nil {
		return meta, nil, fmt.Errorf("%w: truncated file count", ErrBadModFile)
	}
	author, err := mr.lenString8()
	if err != nil {
		return meta, nil, fmt.Errorf("%w: truncated author", ErrBadModFile)
	}
	version, err := mr.lenString8()
	if err != nil {
		return meta, nil, fmt.Errorf("%w: truncated version", ErrBadModFile)
	}
	description, err := mr.lenString16()
	if err != nil {
		return meta, nil, fmt.Errorf("%w: truncated description", ErrBadModFile)
	}

	meta = ModMeta{
		Name:        name,
		Author:      author,
		Version:     version,
		Description: description,
		FileCount:   int(count),
	}

	var entries []ModEntry
	for i := int64(0); i < count; i++ {
		size, err := mr.u32()
		if err != nil {
			return meta, nil, fmt.Errorf("%w: truncated size of blob %d", ErrBadModFile, i)
		}
		if size < TrailerSize {
			return meta, nil, fmt.Errorf("%w: blob %d is %d bytes, shorter than the %d-byte trailer", ErrBadModFile, i, size, TrailerSize)
		}

		blob, err := mr.bytes(int(size))
		if err != nil {
			return meta, nil, fmt.Errorf("%w: truncated blob %d", ErrBadModFile, i)
		}

		payload, tail, err := ParseTrailer(blob, EndianLittle)
		if err != nil {
			return meta, nil, fmt.Errorf("blob %d: %w", i, err)
		}

		entries = append(entries, ModEntry{Payload: payload, Trailer: tail})
	}

	return meta, entries, nil
}

// WriteModFile writes meta and the given blobs in the mod wire format.
// Each blob must already end with its 6-byte trailer, the way extracted
// entries are stored on disk. The written file count is len(blobs).
func WriteModFile(path string, meta ModMeta, blobs [][]byte) error {
	if len(meta.Name) > math.MaxUint8 {
		return fmt.Errorf("%w: mod name is %d bytes", ErrSizeOverflow, len(meta.Name))
	}
	if len(meta.Author) > math.MaxUint8 {
		return fmt.Errorf("%w: author is %d bytes", ErrSizeOverflow, len(meta.Author))
	}
	if len(meta.Version) > math.MaxUint8 {
		return fmt.Errorf("%w: version is %d bytes", ErrSizeOverflow, len(meta.Version))
	}
	if len(meta.Description) > math.MaxUint16 {
		return fmt.Errorf("%w: description is %d bytes", ErrSizeOverflow, len(meta.Description))
	}
	for i, blob := range blobs {
		if len(blob) < TrailerSize {
			return fmt.Errorf("%w: blob %d is %d bytes, shorter than the %d-byte trailer", ErrBadModFile, i, len(blob), TrailerSize)
		}
		if int64(len(blob)) > math.MaxUint32 {
			return fmt.Errorf("%w: blob %d is %d bytes", ErrSizeOverflow, i, len(blob))
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create mod file: %w", err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	w := bufio.NewWriter(f)
	writeLenString8(w, meta.Name)
	writeUint32LE(w, uint32(len(blobs)))
	writeLenString8(w, meta.Author)
	writeLenString8(w, meta.Version)
	writeLenString16(w, meta.Description)

	for _, blob := range blobs {
		writeUint32LE(w, uint32(len(blob)))
		_, _ = w.Write(blob)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("write mod file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync mod file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close mod file: %w", err)
	}
	f = nil

	return nil
}

// Buffered writes latch errors; Flush reports the first one.
func writeLenString8(w *bufio.Writer, s string) {
	_ = w.WriteByte(byte(len(s)))
	_, _ = w.WriteString(s)
}

func writeLenString16(w *bufio.Writer, s string) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(len(s)))
	_, _ = w.Write(b[:])
	_, _ = w.WriteString(s)
}

func writeUint32LE(w *bufio.Writer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, _ = w.Write(b[:])
}
