// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"encoding/binary"
	"time"

	"github.com/woozymasta/pathrules"
)

// Internal binary layout and format limits.
const (
	// TrailerSize is the provenance trailer length appended to extracted entries and mod blobs.
	TrailerSize = 6
	// chunkAlign is the payload alignment inside rebuilt and patched containers.
	chunkAlign = 16
	// splitAlign is the chunk alignment inside split-chunk compressed containers.
	splitAlign = 128
	// splitHeaderSize is the fixed split-chunk container header size in bytes.
	splitHeaderSize = 12
	// audioHeaderSize is the fixed per-chunk header size inside audio stream containers.
	audioHeaderSize = 32
	// defaultEntrySize is the fallback index entry width when config resolves none.
	defaultEntrySize = 32
	// maxSplitChunks bounds plausible chunk counts during split-container probing.
	maxSplitChunks = 0x1000
	// maxTableEntries bounds plausible entry counts in nested subcontainer tables.
	maxTableEntries = 200000
	// dataStartScanWindow bounds the data-start discovery scan in variable-size tables.
	dataStartScanWindow = 0x4000
	// progressStep is the entry interval between progress callback emissions.
	progressStep = 32
)

// Default engine tuning values.
const (
	DefaultWriteBuffer = 16 * 1024 * 1024
)

// Severity classifies one status callback event.
type Severity uint8

// Status severities.
const (
	// SeverityInfo marks normal operation milestones.
	SeverityInfo Severity = iota
	// SeverityWarn marks recoverable per-entry conditions (entry skipped or stored raw).
	SeverityWarn
	// SeverityError marks conditions that abort the current unit of work.
	SeverityError
)

// String returns a short lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// StatusFunc receives one human-readable status line per notable event.
type StatusFunc func(text string, severity Severity)

// ProgressFunc receives batched progress updates for long operations.
type ProgressFunc func(done, total int, note string)

// Kind identifies one payload compression scheme.
type Kind string

// Payload compression kinds.
const (
	// KindZlib is a bare zlib stream.
	KindZlib Kind = "zlib"
	// KindZlibHeader is a zlib stream behind a u32 little-endian length prefix.
	KindZlibHeader Kind = "zlib_header"
	// KindZlibSplit is a split-chunk container of independent zlib streams.
	KindZlibSplit Kind = "zlib_split"
	// KindLZMA is an xz or classic lzma-alone stream.
	KindLZMA Kind = "lzma"
	// KindGzip is a gzip stream.
	KindGzip Kind = "gzip"
	// KindZstd is a zstd frame.
	KindZstd Kind = "zstd"
	// KindLZSS is an LZSS stream; decoding needs the original size.
	KindLZSS Kind = "lzss"
	// KindRaw stores payloads without compression.
	KindRaw Kind = "none"
	// KindAuto selects the decoder from payload heuristics and never fails.
	KindAuto Kind = "auto"
)

// Endian selects the byte order of index entry fields and trailers.
type Endian string

// Index byte orders.
const (
	EndianLittle Endian = "little"
	EndianBig    Endian = "big"
)

// order returns the binary byte order for e; unset defaults to little-endian.
func (e Endian) order() binary.ByteOrder {
	if e == EndianBig {
		return binary.BigEndian
	}

	return binary.LittleEndian
}

// Config describes one container set: file names, index layout, and codecs.
type Config struct {
	// OutputRoot is the folder receiving extracted entries.
	OutputRoot string `json:"output_root" yaml:"output_root"`
	// Endian is the byte order of index fields and trailers.
	Endian Endian `json:"endian,omitempty" yaml:"endian,omitempty"`
	// Containers lists data container file names in index order.
	Containers []string `json:"containers" yaml:"containers"`
	// IndexFiles lists index file names; one shared index may serve many containers.
	IndexFiles []string `json:"index_files" yaml:"index_files"`
	// Fields lists index entry field names in stored order.
	Fields []string `json:"fields,omitempty" yaml:"fields,omitempty"`
	// Compression holds one codec kind per container.
	Compression []Kind `json:"compression,omitempty" yaml:"compression,omitempty"`
	// ShiftFields lists field names whose parsed values are left-shifted; empty means offset-like fields.
	ShiftFields []string `json:"shift_fields,omitempty" yaml:"shift_fields,omitempty"`
	// StartOffset skips index bytes before the first entry.
	StartOffset int64 `json:"start_offset,omitempty" yaml:"start_offset,omitempty"`
	// FieldWidth is the stored width of each field in bytes.
	FieldWidth int `json:"field_width,omitempty" yaml:"field_width,omitempty"`
	// EntrySize overrides the computed index entry width when non-zero.
	EntrySize int `json:"entry_size,omitempty" yaml:"entry_size,omitempty"`
	// ShiftBits is the left-shift applied to shifted fields after parse.
	ShiftBits uint `json:"shift_bits,omitempty" yaml:"shift_bits,omitempty"`
}

// Layout is the resolved index entry layout derived from one Config.
type Layout struct {
	// Endian is the byte order of entry fields.
	Endian Endian `json:"endian,omitempty" yaml:"endian,omitempty"`
	// Fields lists entry field names in stored order.
	Fields []string `json:"fields,omitempty" yaml:"fields,omitempty"`
	// ShiftFields lists fields carrying shifted values; empty means offset-like fields.
	ShiftFields []string `json:"shift_fields,omitempty" yaml:"shift_fields,omitempty"`
	// FieldWidth is the stored width of each field in bytes.
	FieldWidth int `json:"field_width,omitempty" yaml:"field_width,omitempty"`
	// EntrySize is the resolved entry width in bytes.
	EntrySize int `json:"entry_size" yaml:"entry_size"`
	// ShiftBits is the left-shift applied to shifted fields.
	ShiftBits uint `json:"shift_bits,omitempty" yaml:"shift_bits,omitempty"`
}

// Trailer is the 6-byte provenance suffix carried by extracted entries and mod blobs.
type Trailer struct {
	// Marker identifies the source index (pair number, or zero for a shared index).
	Marker byte `json:"marker" yaml:"marker"`
	// EntryOffset is the absolute byte offset of the entry inside the index file.
	EntryOffset uint32 `json:"entry_offset" yaml:"entry_offset"`
	// Decompressed reports whether the stored payload was decompressed during extraction.
	Decompressed bool `json:"decompressed" yaml:"decompressed"`
}

// ModMeta is the descriptive header of one mod file.
type ModMeta struct {
	// Name is the unique mod name used as the ledger key.
	Name string `json:"name" yaml:"name"`
	// Author is the free-form author string.
	Author string `json:"author,omitempty" yaml:"author,omitempty"`
	// Version is the free-form version string.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	// Description is the free-form description text.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// FileCount is the number of patch blobs declared by the header.
	FileCount int `json:"file_count" yaml:"file_count"`
}

// ModEntry is one patch blob parsed from a mod file.
type ModEntry struct {
	// Payload is the replacement payload without the trailer.
	Payload []byte `json:"-" yaml:"-"`
	// Trailer locates the index entry this payload replaces.
	Trailer Trailer `json:"trailer" yaml:"trailer"`
}

// LedgerRecord stores one patched index entry and its pre-patch bytes.
type LedgerRecord struct {
	// Mod is the owning mod name.
	Mod string `json:"mod" yaml:"mod"`
	// Entry holds the original index entry bytes for rollback.
	Entry []byte `json:"-" yaml:"-"`
	// EntryOffset is the absolute entry offset inside the index file.
	EntryOffset uint32 `json:"entry_offset" yaml:"entry_offset"`
	// Marker identifies the index the entry belongs to.
	Marker byte `json:"marker" yaml:"marker"`
}

// ContainerSize records one container's pre-mod size for snapshot-bounded truncation.
type ContainerSize struct {
	// Container is the container file name.
	Container string `json:"container" yaml:"container"`
	// Size is the container size in bytes before any mod was applied.
	Size int64 `json:"size" yaml:"size"`
}

// IndexEntry is one decoded index entry.
type IndexEntry struct {
	// Values maps field names to decoded values with shifts applied.
	Values map[string]uint64 `json:"values" yaml:"values"`
	// Offset is the absolute byte offset of the entry inside the index file.
	Offset int64 `json:"offset" yaml:"offset"`
	// Index is the entry ordinal within the index.
	Index int `json:"index" yaml:"index"`
}

// UnpackOptions configures Unpack behavior.
type UnpackOptions struct {
	// OnStatus receives status lines; nil disables status reporting.
	// Detached nested unpacks may invoke it concurrently.
	OnStatus StatusFunc `json:"-" yaml:"-"`
	// OnProgress receives batched progress updates; nil disables progress reporting.
	// Detached nested unpacks may invoke it concurrently.
	OnProgress ProgressFunc `json:"-" yaml:"-"`
	// Include defines ordered rules selecting which produced entry names are written.
	Include []pathrules.Rule `json:"include,omitempty" yaml:"include,omitempty"`
	// IncludeMatcherOptions control include rule matching.
	IncludeMatcherOptions pathrules.MatcherOptions `json:"include_matcher_options,omitzero" yaml:"include_matcher_options,omitzero"`
	// SkipNested disables detached subcontainer unpacking for detected nested formats.
	SkipNested bool `json:"skip_nested,omitempty" yaml:"skip_nested,omitempty"`
}

// UnpackResult contains unpack output statistics.
type UnpackResult struct {
	// Nested joins detached subcontainer unpacks; nil when none were spawned.
	Nested *NestedJobs `json:"-" yaml:"-"`
	// WrittenEntries is the number of entry files written.
	WrittenEntries int `json:"written_entries" yaml:"written_entries"`
	// SkippedEntries is the number of placeholder, non-physical, and out-of-range entries.
	SkippedEntries int `json:"skipped_entries,omitempty" yaml:"skipped_entries,omitempty"`
	// FilteredEntries is the number of entries excluded by include rules.
	FilteredEntries int `json:"filtered_entries,omitempty" yaml:"filtered_entries,omitempty"`
	// RawFallbacks is the number of entries stored raw after a failed decompression.
	RawFallbacks int `json:"raw_fallbacks,omitempty" yaml:"raw_fallbacks,omitempty"`
	// Pairs is the number of index/container units processed.
	Pairs int `json:"pairs" yaml:"pairs"`
	// FailedPairs is the number of units abandoned on configuration or I/O errors.
	FailedPairs int `json:"failed_pairs,omitempty" yaml:"failed_pairs,omitempty"`
	// Duration is the end-to-end unpack duration excluding detached nested work.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// RepackOptions configures Repack behavior.
type RepackOptions struct {
	// OnStatus receives status lines; nil disables status reporting.
	OnStatus StatusFunc `json:"-" yaml:"-"`
	// OnProgress receives batched progress updates; nil disables progress reporting.
	OnProgress ProgressFunc `json:"-" yaml:"-"`
	// ReferencePath points at the original container donating trailer bytes and layout hints.
	ReferencePath string `json:"reference_path,omitempty" yaml:"reference_path,omitempty"`
	// WriterBufferSize is the buffered writer size in bytes.
	WriterBufferSize int `json:"writer_buffer_size,omitempty" yaml:"writer_buffer_size,omitempty"`
}

// RepackResult contains repack output statistics.
type RepackResult struct {
	// OutputPath is the rebuilt container path.
	OutputPath string `json:"output_path" yaml:"output_path"`
	// Format is the rebuilt container format extension.
	Format string `json:"format" yaml:"format"`
	// WrittenFiles is the number of input files written into the container.
	WrittenFiles int `json:"written_files" yaml:"written_files"`
	// SkippedFiles is the number of unusable input files skipped.
	SkippedFiles int `json:"skipped_files,omitempty" yaml:"skipped_files,omitempty"`
	// DataSize is the total container bytes written including padding and trailer.
	DataSize int64 `json:"data_size" yaml:"data_size"`
	// Duration is the end-to-end repack duration.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// ManagerOptions configures the mod manager.
type ManagerOptions struct {
	// OnStatus receives status lines; nil disables status reporting.
	OnStatus StatusFunc `json:"-" yaml:"-"`
	// OnProgress receives batched progress updates; nil disables progress reporting.
	OnProgress ProgressFunc `json:"-" yaml:"-"`
	// Session resolves container and index paths per marker.
	Session *Session `json:"-" yaml:"-"`
	// LedgerPath is the binary ledger file path.
	LedgerPath string `json:"ledger_path" yaml:"ledger_path"`
	// SnapshotPath is the original-container-sizes snapshot path.
	SnapshotPath string `json:"snapshot_path" yaml:"snapshot_path"`
	// Layout is the index entry layout used to patch entries.
	Layout Layout `json:"layout" yaml:"layout"`
	// KeepCompressionFlag leaves the entry compression flag untouched when patching.
	// Default clears it so the game reads appended payloads as stored bytes.
	KeepCompressionFlag bool `json:"keep_compression_flag,omitempty" yaml:"keep_compression_flag,omitempty"`
}

// ApplyResult contains mod apply statistics.
type ApplyResult struct {
	// Mod is the applied mod name.
	Mod string `json:"mod" yaml:"mod"`
	// PatchedEntries is the number of index entries rewritten.
	PatchedEntries int `json:"patched_entries" yaml:"patched_entries"`
	// AppendedBytes is the total payload bytes appended to containers including padding.
	AppendedBytes int64 `json:"appended_bytes" yaml:"appended_bytes"`
	// Duration is the end-to-end apply duration.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// DisableResult contains mod disable statistics.
type DisableResult struct {
	// Mods lists the disabled mod names.
	Mods []string `json:"mods" yaml:"mods"`
	// RestoredEntries is the number of index entries restored from the ledger.
	RestoredEntries int `json:"restored_entries" yaml:"restored_entries"`
	// TruncatedContainers is the number of containers truncated back to snapshot size.
	TruncatedContainers int `json:"truncated_containers,omitempty" yaml:"truncated_containers,omitempty"`
	// Duration is the end-to-end disable duration.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// applyDefaults fills zero-valued repack options with defaults.
func (opts *RepackOptions) applyDefaults() {
	if opts.WriterBufferSize < 4096 {
		opts.WriterBufferSize = DefaultWriteBuffer
	}
}

// applyDefaults fills zero-valued unpack options with defaults.
func (opts *UnpackOptions) applyDefaults() {
	if opts.IncludeMatcherOptions == (pathrules.MatcherOptions{}) {
		opts.IncludeMatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionInclude,
		}
	}

	if opts.IncludeMatcherOptions.DefaultAction == pathrules.ActionUnknown {
		opts.IncludeMatcherOptions.DefaultAction = pathrules.ActionInclude
	}
}

// status emits one status line when a callback is set.
func (opts *UnpackOptions) status(text string, severity Severity) {
	if opts.OnStatus != nil {
		opts.OnStatus(text, severity)
	}
}

// progress emits one progress update when a callback is set.
func (opts *UnpackOptions) progress(done, total int, note string) {
	if opts.OnProgress != nil {
		opts.OnProgress(done, total, note)
	}
}

// status emits one status line when a callback is set.
func (opts *RepackOptions) status(text string, severity Severity) {
	if opts.OnStatus != nil {
		opts.OnStatus(text, severity)
	}
}

// progress emits one progress update when a callback is set.
func (opts *RepackOptions) progress(done, total int, note string) {
	if opts.OnProgress != nil {
		opts.OnProgress(done, total, note)
	}
}

// status emits one status line when a callback is set.
func (opts *ManagerOptions) status(text string, severity Severity) {
	if opts.OnStatus != nil {
		opts.OnStatus(text, severity)
	}
}

// progress emits one progress update when a callback is set.
func (opts *ManagerOptions) progress(done, total int, note string) {
	if opts.OnProgress != nil {
		opts.OnProgress(done, total, note)
	}
}
