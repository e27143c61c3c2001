// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"fmt"
	"os"
)

// EncodeTrailer renders the 6-byte provenance suffix: marker byte, entry
// offset in the given byte order, decompressed flag byte.
func EncodeTrailer(t Trailer, e Endian) [TrailerSize]byte {
	var out [TrailerSize]byte
	out[0] = t.Marker
	e.order().PutUint32(out[1:5], t.EntryOffset)
	if t.Decompressed {
		out[5] = 1
	}

	return out
}

// ParseTrailer splits a blob into its payload and trailing provenance
// suffix. Blobs shorter than the suffix fail with ErrBadTrailer.
func ParseTrailer(blob []byte, e Endian) ([]byte, Trailer, error) {
	if len(blob) < TrailerSize {
		return nil, Trailer{}, fmt.Errorf("%w: blob is %d bytes", ErrBadTrailer, len(blob))
	}

	cut := len(blob) - TrailerSize
	tail := blob[cut:]

	t := Trailer{
		Marker:       tail[0],
		EntryOffset:  e.order().Uint32(tail[1:5]),
		Decompressed: tail[5] != 0,
	}

	return blob[:cut], t, nil
}

// appendTrailer appends the provenance suffix to an extracted file.
// Best effort: extraction keeps the payload even when the suffix cannot
// be written.
func appendTrailer(path string, t Trailer, e Endian) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	buf := EncodeTrailer(t, e)
	_, _ = f.Write(buf[:])
}
