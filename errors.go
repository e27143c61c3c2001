// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import "errors"

// Sentinel errors for container operations. Use errors.Is in callers.
var (
	// ErrUnknownKind means the compression kind name is not recognized.
	ErrUnknownKind = errors.New("unknown compression kind")
	// ErrUnsupportedKind means the kind has no codec for the requested direction.
	ErrUnsupportedKind = errors.New("compression kind not supported for this operation")
	// ErrSizeRequired means the codec needs the original payload size to decode.
	ErrSizeRequired = errors.New("original size required for decompression")
	// ErrNoDeflateStream means no valid zlib stream was found in the blob.
	ErrNoDeflateStream = errors.New("no valid zlib stream found")
	// ErrInvalidChunkCount means the split-chunk header declares a non-positive or implausible chunk count.
	ErrInvalidChunkCount = errors.New("invalid split chunk count")

	// ErrInvalidFileCount reports a subcontainer table whose declared file
	// count is implausible. Use errors.Is in callers.
	ErrInvalidFileCount = errors.New("invalid subcontainer file count")
	// ErrTruncated means the blob ends before its declared structure.
	ErrTruncated = errors.New("blob truncated before declared structure")
	// ErrInvalidConfig means the container configuration is missing or inconsistent.
	ErrInvalidConfig = errors.New("invalid container configuration")
	// ErrEntryOutOfRange means the index entry span falls outside the container.
	ErrEntryOutOfRange = errors.New("index entry outside container bounds")
	// ErrEntrySizeMismatch means the index returned fewer bytes than one full entry.
	ErrEntrySizeMismatch = errors.New("index entry size mismatch")
	// ErrBadTrailer means the blob is too short to carry the 6-byte trailer.
	ErrBadTrailer = errors.New("blob too short for trailer")
	// ErrBadModFile means the mod file is malformed or truncated.
	ErrBadModFile = errors.New("malformed mod file")
	// ErrModEnabled means the mod is already enabled in the ledger.
	ErrModEnabled = errors.New("mod already enabled")
	// ErrModNotFound means the ledger holds no records for the mod.
	ErrModNotFound = errors.New("mod not found in ledger")
	// ErrPathUnresolved means the session has no path registered for the marker.
	ErrPathUnresolved = errors.New("no path registered for marker")
	// ErrInvalidIncludeRules means one or more include rules are invalid.
	ErrInvalidIncludeRules = errors.New("invalid include rules")
	// ErrEmptyFolder means the repack folder contains no usable files.
	ErrEmptyFolder = errors.New("no files to repack in folder")
	// ErrBadAudioTOC means the audio metadata table is malformed or extends beyond the file.
	ErrBadAudioTOC = errors.New("malformed audio metadata table")
	// ErrSizeOverflow means the size exceeds the uint32 field range of the format.
	ErrSizeOverflow = errors.New("size exceeds format field width")
)
