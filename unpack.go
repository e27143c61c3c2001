// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// NestedJobs joins detached nested subcontainer unpacks. The unpack engine
// never blocks on nested work; callers that need completion call Wait.
type NestedJobs struct {
	group errgroup.Group
}

// Wait blocks until every detached nested unpack finishes and returns the
// first error among them.
func (j *NestedJobs) Wait() error {
	if j == nil {
		return nil
	}

	return j.group.Wait()
}

// spawn runs one nested unpack on a background goroutine.
func (j *NestedJobs) spawn(fn func() error) {
	j.group.Go(fn)
}

// unpackState carries the per-call fixtures of one Unpack run.
type unpackState struct {
	cfg     Config
	layout  Layout
	opts    *UnpackOptions
	matcher *entryMatcher
	res     *UnpackResult
}

// Unpack extracts every configured container/index unit under baseDir into
// the config's output root. One index with many containers walks them as a
// shared index; equal counts unpack as one-to-one pairs. Configuration and
// I/O failures abort one unit and continue with its siblings; entry-level
// failures skip the entry.
func Unpack(ctx context.Context, cfg Config, baseDir string, opts UnpackOptions) (*UnpackResult, error) {
	started := time.Now()
	opts.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	matcher, err := newEntryMatcher(opts.Include, opts.IncludeMatcherOptions)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.OutputRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}

	st := &unpackState{
		cfg:     cfg,
		layout:  cfg.Layout(),
		opts:    &opts,
		matcher: matcher,
		res:     &UnpackResult{},
	}

	opts.status(fmt.Sprintf("Unpacking containers (entry size: %d bytes)", st.layout.EntrySize), SeverityInfo)

	if len(cfg.IndexFiles) == 1 && len(cfg.Containers) > 1 {
		st.runShared(ctx, baseDir)
	} else {
		st.runPairs(ctx, baseDir)
	}

	if err := ctx.Err(); err != nil {
		st.res.Duration = time.Since(started)
		return st.res, err
	}

	opts.status("Finished unpacking.", SeverityInfo)
	st.res.Duration = time.Since(started)

	return st.res, nil
}

// runShared drives the single-index, many-containers mode.
func (st *unpackState) runShared(ctx context.Context, baseDir string) {
	idxPath := resolveUnder(baseDir, st.cfg.IndexFiles[0])
	if _, err := os.Stat(idxPath); err != nil {
		st.opts.status("Missing IDX: "+idxPath, SeverityError)
		st.res.FailedPairs++
		return
	}

	binPaths := make([]string, 0, len(st.cfg.Containers))
	for _, name := range st.cfg.Containers {
		p := resolveUnder(baseDir, name)
		if _, err := os.Stat(p); err != nil {
			st.opts.status("Missing container: "+p, SeverityWarn)
			continue
		}
		binPaths = append(binPaths, p)
	}

	if len(binPaths) == 0 {
		st.opts.status("No valid containers found for shared-IDX mode.", SeverityError)
		st.res.FailedPairs++
		return
	}

	if err := st.unpackShared(ctx, binPaths, idxPath, st.cfg.kindFor(0)); err != nil {
		if ctx.Err() == nil {
			st.opts.status(err.Error(), SeverityError)
			st.res.FailedPairs++
		}
		return
	}
	st.res.Pairs++
}

// runPairs drives the one-to-one container/index mode.
func (st *unpackState) runPairs(ctx context.Context, baseDir string) {
	for i := range st.cfg.Containers {
		if ctx.Err() != nil {
			return
		}

		binPath := resolveUnder(baseDir, st.cfg.Containers[i])
		idxPath := resolveUnder(baseDir, st.cfg.IndexFiles[i])

		if _, err := os.Stat(binPath); err != nil {
			st.opts.status("Missing container: "+binPath, SeverityWarn)
			st.res.FailedPairs++
			continue
		}
		if _, err := os.Stat(idxPath); err != nil {
			st.opts.status("Missing IDX: "+idxPath, SeverityWarn)
			st.res.FailedPairs++
			continue
		}

		outDir := filepath.Join(st.cfg.OutputRoot, fmt.Sprintf("Pack_%02d", i))
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			st.opts.status(fmt.Sprintf("Create %s: %v", outDir, err), SeverityError)
			st.res.FailedPairs++
			continue
		}

		if err := st.unpackPair(ctx, i, binPath, idxPath, outDir, st.cfg.kindFor(i)); err != nil {
			if ctx.Err() != nil {
				return
			}
			st.opts.status(err.Error(), SeverityError)
			st.res.FailedPairs++
			continue
		}
		st.res.Pairs++
	}
}

// unpackPair extracts one container/index pair into outDir.
func (st *unpackState) unpackPair(ctx context.Context, pairIndex int, binPath, idxPath, outDir string, kind Kind) error {
	opts := st.opts
	l := st.layout

	opts.status("Reading IDX: "+filepath.Base(idxPath), SeverityInfo)

	idxData, idxBase, err := loadIndex(idxPath, st.cfg.StartOffset, l.EntrySize, func(msg string) {
		opts.status(msg, SeverityWarn)
	})
	if err != nil {
		return err
	}

	total := len(idxData) / l.EntrySize
	opts.status(fmt.Sprintf("IDX entries: %d", total), SeverityInfo)
	opts.progress(0, total, filepath.Base(binPath)+": starting")

	c, err := openContainer(binPath)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	fileIndex := 0
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := i * l.EntrySize
		vals := l.parseEntry(idxData[start : start+l.EntrySize])
		l.applyShift(vals)

		offset := int64(vals["Offset"])
		orig := int64(fieldOr(vals, "Original_Size", "Full_Size"))
		comp := int64(vals["Compressed_Size"])
		flagged := vals["Compression_Marker"] == 1

		readSize, skip := effectiveReadSize(orig, comp, flagged)
		if skip {
			st.res.SkippedEntries++
			continue
		}

		raw, err := c.ReadRange(offset, readSize)
		if err != nil {
			opts.status(fmt.Sprintf("Entry %d out of range (offset=0x%X, size=0x%X) in %s; skipping.",
				i, offset, readSize, c.Name()), SeverityWarn)
			st.res.SkippedEntries++
			continue
		}

		written, err := st.writeEntry(entryOutput{
			dir:       outDir,
			container: c.Name(),
			kind:      kind,
			marker:    byte(pairIndex),
			index:     i,
			local:     fileIndex,
			absOffset: idxBase + int64(start),
			offset:    offset,
			readSize:  readSize,
			orig:      orig,
			flagged:   flagged,
		}, raw)
		if err != nil {
			return err
		}
		if written {
			fileIndex++
		}

		if i&31 == 0 || i+1 == total {
			opts.progress(i+1, total, fmt.Sprintf("%s: %d/%d", filepath.Base(binPath), i+1, total))
		}
	}

	opts.status(fmt.Sprintf("Unpacked %d IDX entries from %s", total, filepath.Base(binPath)), SeverityInfo)

	return nil
}

// unpackShared extracts entries of one index spread across many containers.
// The walk advances to the next container when offsets rewind or an entry
// overruns the current container, and never moves backwards.
func (st *unpackState) unpackShared(ctx context.Context, binPaths []string, idxPath string, kind Kind) error {
	opts := st.opts
	l := st.layout

	opts.status("Reading IDX (multi-container mode): "+filepath.Base(idxPath), SeverityInfo)

	idxData, idxBase, err := loadIndex(idxPath, st.cfg.StartOffset, l.EntrySize, func(msg string) {
		opts.status(msg, SeverityWarn)
	})
	if err != nil {
		return err
	}

	total := len(idxData) / l.EntrySize
	opts.status(fmt.Sprintf("IDX entries: %d", total), SeverityInfo)
	opts.progress(0, total, "Multi-container IDX: starting")

	set, err := openContainerSet(binPaths, func(msg string) {
		opts.status(msg, SeverityWarn)
	})
	if err != nil {
		return err
	}
	defer set.Close()

	lastOffset := int64(-1)
	advance := func() bool {
		if !set.advance() {
			return false
		}
		lastOffset = -1
		opts.status(fmt.Sprintf("Switching to next container [%d/%d]: %s",
			set.pos, len(set.containers)-1, set.current().Name()), SeverityInfo)

		return true
	}

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := i * l.EntrySize
		vals := l.parseEntry(idxData[start : start+l.EntrySize])
		l.applyShift(vals)

		offset := int64(vals["Offset"])
		orig := int64(fieldOr(vals, "Original_Size", "Full_Size"))
		comp := int64(vals["Compressed_Size"])
		flagged := vals["Compression_Marker"] == 1

		// Offsets rewind exactly when the index crosses into the next container.
		if lastOffset >= 0 && offset < lastOffset {
			advance()
		}
		lastOffset = offset

		readSize, skip := effectiveReadSize(orig, comp, flagged)
		if skip {
			st.res.SkippedEntries++
			continue
		}

		for offset+readSize > set.current().size {
			if !advance() {
				opts.status(fmt.Sprintf("Entry %d (offset %d, size %d) does not fit in remaining containers; skipping.",
					i, offset, readSize), SeverityWarn)
				readSize = 0
				break
			}
		}
		if readSize <= 0 {
			st.res.SkippedEntries++
			continue
		}

		c := set.current()
		raw, err := c.ReadRange(offset, readSize)
		if err != nil {
			opts.status(fmt.Sprintf("Entry %d out of range (offset=0x%X, size=0x%X) in %s; skipping.",
				i, offset, readSize, c.Name()), SeverityWarn)
			st.res.SkippedEntries++
			continue
		}

		outDir := filepath.Join(st.cfg.OutputRoot, fmt.Sprintf("Pack_%02d", set.pos))
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", outDir, err)
		}

		written, err := st.writeEntry(entryOutput{
			dir:       outDir,
			container: c.Name(),
			logPrefix: fmt.Sprintf("Pack_%02d/", set.pos),
			kind:      kind,
			marker:    0,
			index:     i,
			local:     set.counts[set.pos],
			absOffset: idxBase + int64(start),
			offset:    offset,
			readSize:  readSize,
			orig:      orig,
			flagged:   flagged,
		}, raw)
		if err != nil {
			return err
		}
		if written {
			set.counts[set.pos]++
		}

		if i&31 == 0 || i+1 == total {
			opts.progress(i+1, total, fmt.Sprintf("Multi-container: %d/%d", i+1, total))
		}
	}

	opts.status(fmt.Sprintf("Unpacked %d IDX entries across %d containers.", total, len(set.containers)), SeverityInfo)

	return nil
}

// entryOutput carries one entry's write facts into writeEntry.
type entryOutput struct {
	dir       string
	container string
	logPrefix string
	kind      Kind
	marker    byte
	index     int
	local     int
	absOffset int64
	offset    int64
	readSize  int64
	orig      int64
	flagged   bool
}

// writeEntry decodes one entry payload, corroborates its extension, applies
// include rules, writes the file with its trailer and dispatches nested
// subcontainers. It reports whether the entry consumed its local number.
// Decompression failures demote to raw bytes and land in comp_log.txt;
// only write failures propagate.
func (st *unpackState) writeEntry(eo entryOutput, raw []byte) (bool, error) {
	data := raw
	hint := ""
	did := false
	failText := ""

	if eo.flagged {
		d, h, dd, err := decodeEntryPayload(raw, eo.kind, int(eo.orig))
		if err != nil {
			failText = fmt.Sprintf("%s decompress failed at IDX entry %d (BIN=%s, offset=0x%X, size=0x%X): %v",
				eo.kind, eo.index, eo.container, eo.offset, eo.readSize, err)
		} else {
			data, hint, did = d, h, dd
		}
	} else if isZlibFamily(eo.kind) && LooksLikeSplit(raw) {
		// Some split containers are stored without the compression flag.
		d, h, err := DecompressSplit(raw)
		if err != nil {
			failText = fmt.Sprintf("split-zlib fallback failed at IDX entry %d (BIN=%s, offset=0x%X, size=0x%X): %v",
				eo.index, eo.container, eo.offset, eo.readSize, err)
		} else {
			data, hint, did = d, h, true
		}
	}

	ext := DetectExtension(data)
	if ext == ".bin" && hint != "" {
		ext = corroborateHint(hint, data)
	}

	name := fmt.Sprintf("entry_%05d%s", eo.local, ext)
	if !st.matcher.Match(name) {
		st.res.FilteredEntries++
		return false, nil
	}

	outPath := filepath.Join(eo.dir, name)
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return false, fmt.Errorf("write entry: %w", err)
	}

	appendTrailer(outPath, Trailer{
		Marker:       eo.marker,
		EntryOffset:  uint32(eo.absOffset),
		Decompressed: did,
	}, st.layout.Endian)

	st.dispatchNested(ext, outPath)

	st.res.WrittenEntries++
	if failText != "" {
		st.res.RawFallbacks++
		logCompFailure(st.cfg.OutputRoot, failText+"; wrote raw to "+eo.logPrefix+name)
	}

	return true, nil
}

// dispatchNested spawns the detached unpack matching a nested format.
func (st *unpackState) dispatchNested(ext, path string) {
	if st.opts.SkipNested {
		return
	}

	var fn func() error
	switch ext {
	case ".g1pack1":
		fn = func() error {
			_, err := UnpackVarTable(path)
			return err
		}
	case ".g1pack2":
		fn = func() error {
			_, err := UnpackPairTable(path)
			return err
		}
	case ".kvs":
		fn = func() error {
			_, err := UnpackAudioStream(path)
			return err
		}
	default:
		return
	}

	if st.res.Nested == nil {
		st.res.Nested = &NestedJobs{}
	}
	st.res.Nested.spawn(fn)
}

// decodeEntryPayload decodes one flagged entry according to the configured
// kind. An explicit split kind tries the split container first and falls
// back to the length-prefixed layout; the zlib family probes the split
// structure before choosing; every other kind goes straight to the codec.
// originalSize is forwarded for kinds that cannot self-terminate.
func decodeEntryPayload(raw []byte, kind Kind, originalSize int) ([]byte, string, bool, error) {
	switch kind {
	case KindZlibSplit:
		if data, hint, err := DecompressSplit(raw); err == nil {
			return data, hint, true, nil
		}

		data, err := decompressLengthPrefixed(raw)
		if err != nil {
			return nil, "", false, err
		}

		return data, "", true, nil
	case KindZlib, KindZlibHeader, KindAuto:
		if LooksLikeSplit(raw) {
			if data, hint, err := DecompressSplit(raw); err == nil {
				return data, hint, true, nil
			}
		}

		data, err := decompressLengthPrefixed(raw)
		if err != nil {
			return nil, "", false, err
		}

		return data, "", true, nil
	case KindRaw:
		return raw, "", false, nil
	default:
		data, err := DecompressWithSize(raw, kind, originalSize)
		if err != nil {
			return nil, "", false, err
		}

		return data, "", true, nil
	}
}

// corroborateHint accepts a split-container extension hint only when the
// merged payload's own magic agrees.
func corroborateHint(hint string, data []byte) string {
	switch {
	case hint == ".g1m" && bytes.HasPrefix(data, []byte("_M1G")):
		return ".g1m"
	case hint == ".g1t" && bytes.HasPrefix(data, []byte("GT1")):
		return ".g1t"
	default:
		return ".bin"
	}
}

// effectiveReadSize picks the stored byte length of one entry. Entries with
// both sizes zero are deliberate placeholders; a zero compressed size is
// non-physical. Both skip without error.
func effectiveReadSize(orig, comp int64, flagged bool) (int64, bool) {
	if orig == 0 && comp == 0 {
		return 0, true
	}
	if comp == 0 {
		return 0, true
	}

	size := orig
	if comp > 0 && flagged {
		size = comp
	}
	if size <= 0 {
		return 0, true
	}

	return size, false
}

// fieldOr returns the primary field when present, else the fallback.
func fieldOr(vals map[string]uint64, primary, fallback string) uint64 {
	if v, ok := vals[primary]; ok {
		return v
	}

	return vals[fallback]
}

// loadIndex reads one index file and trims it to the configured start
// offset. Without a start offset, a size that is not a whole number of
// entries draws a warning.
func loadIndex(path string, startOffset int64, entrySize int, warn func(string)) ([]byte, int64, error) {
	full, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read IDX: %w", err)
	}

	if startOffset > 0 {
		if startOffset >= int64(len(full)) {
			return nil, 0, fmt.Errorf("%w: start offset %d beyond IDX size %d",
				ErrInvalidConfig, startOffset, len(full))
		}

		return full[startOffset:], startOffset, nil
	}

	if entrySize > 0 && len(full)%entrySize != 0 && warn != nil {
		warn(fmt.Sprintf("IDX size %d is not a multiple of entry size %d.", len(full), entrySize))
	}

	return full, 0, nil
}

// logCompFailure appends one decompression failure line to comp_log.txt
// under dir. Best effort: extraction never fails on logging.
func logCompFailure(dir, message string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}

	f, err := os.OpenFile(filepath.Join(dir, "comp_log.txt"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	_, _ = f.WriteString(message + "\n")
}

// ListEntries decodes every entry of one index file using the layout, with
// shifts applied. Offsets are absolute positions inside the index file.
func ListEntries(indexPath string, l Layout, startOffset int64) ([]IndexEntry, error) {
	if l.EntrySize <= 0 {
		return nil, fmt.Errorf("%w: entry size %d", ErrInvalidConfig, l.EntrySize)
	}

	idxData, base, err := loadIndex(indexPath, startOffset, l.EntrySize, nil)
	if err != nil {
		return nil, err
	}

	total := len(idxData) / l.EntrySize
	entries := make([]IndexEntry, 0, total)
	for i := 0; i < total; i++ {
		start := i * l.EntrySize
		vals := l.parseEntry(idxData[start : start+l.EntrySize])
		l.applyShift(vals)

		entries = append(entries, IndexEntry{
			Values: vals,
			Offset: base + int64(start),
			Index:  i,
		})
	}

	return entries, nil
}
