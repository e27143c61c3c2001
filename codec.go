// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/DataDog/zstd"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
	"github.com/woozymasta/lzss"
)

// xzMagic is the xz stream header; LZMA payloads without it decode as lzma-alone.
var xzMagic = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}

// NormalizeKind maps one config spelling, including legacy aliases, onto a canonical Kind.
func NormalizeKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "zlib":
		return KindZlib, nil
	case "zlib_header", "ozlib", "omega_zlib":
		return KindZlibHeader, nil
	case "zlib_split", "omega_split":
		return KindZlibSplit, nil
	case "lzma":
		return KindLZMA, nil
	case "gzip", "gz":
		return KindGzip, nil
	case "zstd":
		return KindZstd, nil
	case "lzss":
		return KindLZSS, nil
	case "none", "raw":
		return KindRaw, nil
	case "auto", "pc_mixed", "":
		return KindAuto, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
}

// isZlibFamily reports whether kind may hide a split-chunk container.
func isZlibFamily(kind Kind) bool {
	switch kind {
	case KindZlib, KindZlibHeader, KindZlibSplit, KindAuto:
		return true
	default:
		return false
	}
}

// Decompress decodes data according to kind.
// KindLZSS needs the original size; use DecompressWithSize for it.
func Decompress(data []byte, kind Kind) ([]byte, error) {
	return DecompressWithSize(data, kind, 0)
}

// DecompressWithSize decodes data according to kind. originalSize is the
// expected decoded length; only KindLZSS requires it, other kinds ignore it.
// KindAuto delegates to DecompressAuto and never fails.
func DecompressWithSize(data []byte, kind Kind, originalSize int) ([]byte, error) {
	switch kind {
	case KindZlib:
		return inflate(data)
	case KindZlibHeader:
		return decompressLengthPrefixed(data)
	case KindZlibSplit:
		merged, _, err := DecompressSplit(data)
		return merged, err
	case KindLZMA:
		return decompressLZMA(data)
	case KindGzip:
		return decompressGzip(data)
	case KindZstd:
		out, err := zstd.Decompress(nil, data)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}

		return out, nil
	case KindLZSS:
		return decompressLZSS(data, originalSize)
	case KindRaw:
		return data, nil
	case KindAuto:
		return DecompressAuto(data), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}
}

// DecompressAuto decodes data by payload heuristics and never fails.
// It tries gzip by magic, then the length-prefixed zlib layout when the
// first dword looks like a size and byte 4 carries the deflate method
// nibble, then a bare zlib stream. Unrecognized data is returned unchanged.
func DecompressAuto(data []byte) []byte {
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		if out, err := decompressGzip(data); err == nil {
			return out
		}
	}

	if len(data) > 6 {
		size := int64(binary.LittleEndian.Uint32(data[0:4]))
		if size > 0 && 4+size <= int64(len(data)) && data[4]&0x0f == 8 {
			if out, err := decompressLengthPrefixed(data); err == nil {
				return out
			}
		}
	}

	if out, err := inflate(data); err == nil {
		return out
	}

	return data
}

// Compress encodes data according to kind with the default level.
func Compress(data []byte, kind Kind) ([]byte, error) {
	return CompressLevel(data, kind, zlib.DefaultCompression)
}

// CompressLevel encodes data according to kind. The level applies to the
// zlib kinds, gzip, and zstd; other kinds ignore it. KindZlibSplit and
// KindAuto have no compressor.
func CompressLevel(data []byte, kind Kind, level int) ([]byte, error) {
	switch kind {
	case KindZlib:
		return deflate(data, level)
	case KindZlibHeader:
		stream, err := deflate(data, level)
		if err != nil {
			return nil, err
		}
		if int64(len(stream)) > int64(math.MaxUint32) {
			return nil, fmt.Errorf("%w: compressed stream %d bytes", ErrSizeOverflow, len(stream))
		}

		out := make([]byte, 4+len(stream))
		binary.LittleEndian.PutUint32(out[0:4], uint32(len(stream)))
		copy(out[4:], stream)

		return out, nil
	case KindLZMA:
		return compressXZ(data)
	case KindGzip:
		return compressGzip(data, level)
	case KindZstd:
		if level <= 0 {
			out, err := zstd.Compress(nil, data)
			if err != nil {
				return nil, fmt.Errorf("zstd: %w", err)
			}

			return out, nil
		}

		out, err := zstd.CompressLevel(nil, data, level)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}

		return out, nil
	case KindLZSS:
		return lzss.Compress(data, lzss.DefaultCompressOptions())
	case KindRaw:
		return data, nil
	case KindZlibSplit, KindAuto:
		return nil, fmt.Errorf("%w: compress %s", ErrUnsupportedKind, string(kind))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}
}

// decompressLengthPrefixed decodes the length-prefixed zlib layout with
// recovery: trust the u32 size prefix first, then scan for a plausible zlib
// header reinterpreting the four preceding bytes as the size, then inflate
// from the found header to end of blob. Trailing bytes after a valid stream
// are ignored.
func decompressLengthPrefixed(data []byte) ([]byte, error) {
	n := int64(len(data))
	if n >= 6 {
		size := int64(binary.LittleEndian.Uint32(data[0:4]))
		if size > 0 && 4+size <= n {
			if out, err := inflate(data[4 : 4+size]); err == nil {
				return out, nil
			}
		}
	}

	for i := int64(0); i+1 < n; i++ {
		if data[i] != 0x78 || !validZlibHeader(data[i], data[i+1]) {
			continue
		}

		if i >= 4 {
			size := int64(binary.LittleEndian.Uint32(data[i-4 : i]))
			if size > 0 && i+size <= n {
				if out, err := inflate(data[i : i+size]); err == nil {
					return out, nil
				}
			}
		}

		if out, err := inflate(data[i:]); err == nil {
			return out, nil
		}
	}

	return nil, ErrNoDeflateStream
}

// validZlibHeader reports whether the CMF/FLG byte pair passes the zlib checksum rule.
func validZlibHeader(cmf, flg byte) bool {
	return (uint16(cmf)<<8|uint16(flg))%31 == 0
}

// inflate decodes one bare zlib stream; bytes after the stream end are ignored.
func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	defer func() { _ = zr.Close() }()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}

	return out, nil
}

// deflate encodes one zlib stream at the given level; out-of-range levels fall back to default.
func deflate(data []byte, level int) ([]byte, error) {
	if level < zlib.HuffmanOnly || level > zlib.BestCompression {
		level = zlib.DefaultCompression
	}

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}

	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("zlib: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}

	return buf.Bytes(), nil
}

// decompressGzip decodes one gzip stream including multi-member streams.
func decompressGzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer func() { _ = zr.Close() }()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}

	return out, nil
}

// compressGzip encodes one gzip stream at the given level.
func compressGzip(data []byte, level int) ([]byte, error) {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}

	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("gzip: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}

	return buf.Bytes(), nil
}

// decompressLZMA decodes an xz stream by magic and falls back to lzma-alone.
func decompressLZMA(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, xzMagic) {
		zr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("xz: %w", err)
		}

		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("xz: %w", err)
		}

		return out, nil
	}

	zr, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("lzma: %w", err)
	}

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("lzma: %w", err)
	}

	return out, nil
}

// compressXZ encodes one xz stream.
func compressXZ(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("xz: %w", err)
	}

	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("xz: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("xz: %w", err)
	}

	return buf.Bytes(), nil
}

// decompressLZSS decodes one LZSS stream of a known original size.
func decompressLZSS(data []byte, originalSize int) ([]byte, error) {
	if originalSize <= 0 {
		return nil, fmt.Errorf("%w: lzss", ErrSizeRequired)
	}

	var buf bytes.Buffer
	buf.Grow(originalSize)
	if _, err := lzss.DecompressToWriter(&buf, bytes.NewReader(data), originalSize, nil); err != nil {
		return nil, fmt.Errorf("lzss: %w", err)
	}

	return buf.Bytes(), nil
}
