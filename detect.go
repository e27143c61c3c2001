// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import "bytes"

// magicRule binds a byte signature to the extension it implies.
type magicRule struct {
	sig []byte
	ext string
}

// longMagics are exact prefix signatures checked first, in order.
var longMagics = []magicRule{
	{[]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, ".png"},
	{[]byte("DDS "), ".dds"},
	{[]byte("OggS"), ".ogg"},
	{[]byte("KOVS"), ".kvs"},
	{[]byte("_L1G"), ".g1l"},
	{[]byte("_DBW"), ".wbd"},
	{[]byte("_HBW"), ".wbh"},
	{[]byte("[glo"), ".ini"},
	{[]byte("XF1G"), ".g1f"},
	{[]byte("_N1G"), ".g1n"},
	{[]byte("_A1G"), ".g1a"},
	{[]byte("ME1G"), ".g1e"},
}

// shortMagics are secondary prefix signatures checked after the long table
// and the contains probes, in order.
var shortMagics = []magicRule{
	{[]byte("SShd"), ".ss2"},
	{[]byte("SSbd"), ".ss2bd"},
	{[]byte("IECSsreV"), ".vagbank"},
	{[]byte{'E', 'M', 0x06, 0x00}, ".EM"},
	{[]byte("XL"), ".XL"},
	{[]byte("MESC"), ".MESC"},
	{[]byte("ipu2"), ".ipu2"},
	{[]byte("GT1"), ".g1t"},
	{[]byte("_M1G"), ".g1m"},
	{[]byte("LHSK"), ".g1s"},
	{[]byte("MDLK"), ".KLDM"},
	{[]byte{0x00, 0x20, 0xaf, 0x30}, ".tm2"},
}

const (
	// detectHeadSize bounds the header window magic probes look at.
	detectHeadSize = 64
	// packScanFloor is the minimum blob size before the pack signature scan runs.
	packScanFloor = 0x4000
	// packScanStart skips the leading header area during the pack signature scan.
	packScanStart = 0xC
	// packScanLimit caps how far the pack signature scan reads into the blob.
	packScanLimit = 500_000
)

// DetectExtension guesses a file extension from magic bytes. It checks
// exact prefixes first, then signatures floating inside the 64 byte header
// window, and finally scans large blobs for embedded model or texture
// magics that mark pack subcontainers. Unknown data yields ".bin".
func DetectExtension(data []byte) string {
	head := data
	if len(head) > detectHeadSize {
		head = head[:detectHeadSize]
	}

	for _, m := range longMagics {
		if bytes.HasPrefix(head, m.sig) {
			return m.ext
		}
	}

	if bytes.HasPrefix(head, []byte("RIFF")) {
		if bytes.Contains(head, []byte("WAVEfmt")) {
			return ".wav"
		}

		return ".riff"
	}

	// Damaged PNG streams keep the first four magic bytes only.
	if bytes.HasPrefix(head, []byte{0x89, 'P', 'N', 'G'}) {
		return ".png"
	}
	if bytes.HasPrefix(head, []byte("XKM")) {
		return ".xkm"
	}
	if bytes.HasPrefix(head, []byte("XFT")) {
		return ".xft"
	}
	if bytes.HasPrefix(head, []byte("BM")) {
		return ".bmp"
	}

	if bytes.Contains(head, []byte("JFIF")) {
		return ".jpg"
	}
	if bytes.Contains(head, []byte("TIM2")) {
		return ".tm2"
	}

	for _, m := range shortMagics {
		if bytes.HasPrefix(head, m.sig) {
			return m.ext
		}
	}

	if len(data) >= packScanFloor {
		end := len(data)
		if end > packScanLimit {
			end = packScanLimit
		}
		window := data[packScanStart:end]

		if bytes.Contains(window, []byte("_M1G")) {
			return ".g1pack1"
		}
		if bytes.Contains(window, []byte("GT1G")) {
			return ".g1pack2"
		}
	}

	return ".bin"
}
