// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Manager applies and disables mods against a live game install. Every
// apply appends the mod payloads to the containers, rewrites the affected
// index entries, and records the pre-patch entry bytes in the ledger so
// Disable can put them back.
type Manager struct {
	opts   ManagerOptions
	ledger *Ledger
}

// NewManager validates opts and builds a manager bound to its ledger.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("%w: session is required", ErrInvalidConfig)
	}
	if opts.LedgerPath == "" {
		return nil, fmt.Errorf("%w: ledger path is required", ErrInvalidConfig)
	}
	if opts.Layout.EntrySize <= 0 {
		return nil, fmt.Errorf("%w: entry size must be positive", ErrInvalidConfig)
	}

	return &Manager{opts: opts, ledger: NewLedger(opts.LedgerPath)}, nil
}

// Ledger returns the manager's enabled-mod ledger.
func (m *Manager) Ledger() *Ledger {
	return m.ledger
}

// Apply installs the mod file at modPath. Blobs group by trailer marker and
// apply in marker order; the first failing entry halts the apply and entries
// already patched stay applied, restorable through the ledger.
func (m *Manager) Apply(ctx context.Context, modPath string) (*ApplyResult, error) {
	start := time.Now()
	name := filepath.Base(modPath)
	res := &ApplyResult{Mod: name}

	enabled, err := m.ledger.IsEnabled(name)
	if err != nil {
		return nil, err
	}
	if enabled {
		return nil, fmt.Errorf("%w: %s", ErrModEnabled, name)
	}

	_, entries, err := ParseModFile(modPath)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no patch blobs in %s", ErrBadModFile, modPath)
	}

	groups := make(map[byte][]ModEntry)
	for _, ent := range entries {
		groups[ent.Trailer.Marker] = append(groups[ent.Trailer.Marker], ent)
	}
	markers := make([]byte, 0, len(groups))
	for marker := range groups {
		markers = append(markers, marker)
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i] < markers[j] })

	m.opts.status(fmt.Sprintf("Applying %s (%d entries)", name, len(entries)), SeverityInfo)

	// The mod name is written once; later ledger records inherit it.
	writeName := true
	for _, marker := range markers {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		containerPath, err := m.opts.Session.ContainerPath(marker)
		if err != nil {
			m.opts.status(fmt.Sprintf("No container registered for marker %d.", marker), SeverityError)

			return res, err
		}
		indexPath, err := m.opts.Session.IndexPath(marker)
		if err != nil {
			m.opts.status(fmt.Sprintf("No IDX registered for marker %d.", marker), SeverityError)

			return res, err
		}

		for _, ent := range groups[marker] {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if err := m.applyEntry(containerPath, indexPath, name, marker, ent, &writeName, res); err != nil {
				m.opts.status("Apply failed; already patched entries stay applied.", SeverityError)

				return res, err
			}
			res.PatchedEntries++
			m.opts.progress(res.PatchedEntries, len(entries),
				fmt.Sprintf("Applying %d/%d", res.PatchedEntries, len(entries)))
		}
	}

	res.Duration = time.Since(start)
	m.opts.status(fmt.Sprintf("Applied %s (%d entries).", name, res.PatchedEntries), SeverityInfo)

	return res, nil
}

// applyEntry appends one payload, patches its index entry, and records the
// pre-patch bytes in the ledger.
func (m *Manager) applyEntry(containerPath, indexPath, mod string, marker byte, ent ModEntry, writeName *bool, res *ApplyResult) error {
	newOff, appended, err := appendAligned(containerPath, ent.Payload)
	if err != nil {
		return err
	}
	res.AppendedBytes += appended

	original, err := readIndexEntry(indexPath, int64(ent.Trailer.EntryOffset), m.opts.Layout.EntrySize)
	if err != nil {
		return err
	}

	patched := m.opts.Layout.patchEntry(original, newOff, int64(len(ent.Payload)), !m.opts.KeepCompressionFlag)
	if err := writeIndexEntry(indexPath, int64(ent.Trailer.EntryOffset), patched); err != nil {
		return err
	}

	rec := LedgerRecord{
		Mod:         mod,
		Entry:       original,
		EntryOffset: ent.Trailer.EntryOffset,
		Marker:      marker,
	}
	if err := m.ledger.Append(rec, *writeName); err != nil {
		return err
	}
	*writeName = false

	return nil
}

// Disable restores every index entry the named mod patched and drops its
// records from the ledger. A failing restore aborts before the ledger is
// rewritten, so another Disable can retry.
func (m *Manager) Disable(ctx context.Context, name string) (*DisableResult, error) {
	start := time.Now()
	res := &DisableResult{}

	records, err := m.ledger.Records()
	if err != nil {
		return nil, err
	}

	target := foldModName(name)
	total := 0
	for _, rec := range records {
		if rec.Mod != "" && foldModName(rec.Mod) == target {
			total++
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: %s", ErrModNotFound, name)
	}

	for _, rec := range records {
		if rec.Mod == "" || foldModName(rec.Mod) != target {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if err := m.restoreRecord(rec); err != nil {
			m.opts.status("Disable failed; ledger keeps the remaining records.", SeverityError)

			return res, err
		}
		res.RestoredEntries++
		m.opts.progress(res.RestoredEntries, total,
			fmt.Sprintf("Restoring %d/%d", res.RestoredEntries, total))
	}

	if err := m.ledger.rewriteWithout(name); err != nil {
		return res, err
	}
	res.Mods = []string{name}

	res.Duration = time.Since(start)
	m.opts.status(fmt.Sprintf("Disabled %s (restored %d entries).", name, res.RestoredEntries), SeverityInfo)

	return res, nil
}

// DisableAll restores every ledger record, truncates containers back to
// their snapshot sizes, and clears the ledger.
func (m *Manager) DisableAll(ctx context.Context) (*DisableResult, error) {
	start := time.Now()
	res := &DisableResult{}

	records, err := m.ledger.Records()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		m.opts.status("No mods are enabled.", SeverityInfo)

		return res, nil
	}

	res.Mods = uniqueModNames(records)
	total := 0
	for _, rec := range records {
		if rec.Mod != "" {
			total++
		}
	}

	for _, rec := range records {
		if rec.Mod == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if err := m.restoreRecord(rec); err != nil {
			m.opts.status("Disable failed; ledger keeps the remaining records.", SeverityError)

			return res, err
		}
		res.RestoredEntries++
		m.opts.progress(res.RestoredEntries, total,
			fmt.Sprintf("Restoring %d/%d", res.RestoredEntries, total))
	}

	res.TruncatedContainers = m.truncateToSnapshot()

	if err := m.ledger.Clear(); err != nil {
		return res, err
	}

	res.Duration = time.Since(start)
	m.opts.status(fmt.Sprintf("Disabled all mods (restored %d entries).", res.RestoredEntries), SeverityInfo)

	return res, nil
}

// restoreRecord writes one ledger record's pre-patch bytes back to its index.
func (m *Manager) restoreRecord(rec LedgerRecord) error {
	indexPath, err := m.opts.Session.IndexPath(rec.Marker)
	if err != nil {
		return err
	}

	return writeIndexEntry(indexPath, int64(rec.EntryOffset), rec.Entry)
}

// truncateToSnapshot trims containers that grew past their recorded
// original sizes. Missing or unreadable snapshots skip truncation with a
// warning; restored index entries alone already disable the mods.
func (m *Manager) truncateToSnapshot() int {
	if m.opts.SnapshotPath == "" {
		m.opts.status("No size snapshot configured; skipping truncation.", SeverityWarn)

		return 0
	}

	blob, err := os.ReadFile(m.opts.SnapshotPath)
	if err != nil {
		m.opts.status("Original container sizes not recorded; skipping truncation.", SeverityWarn)

		return 0
	}
	var snapshot map[byte]ContainerSize
	if err := json.Unmarshal(blob, &snapshot); err != nil {
		m.opts.status("Could not parse the size snapshot; skipping truncation.", SeverityWarn)

		return 0
	}

	markers := make([]byte, 0, len(snapshot))
	for marker := range snapshot {
		markers = append(markers, marker)
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i] < markers[j] })

	truncated := 0
	for _, marker := range markers {
		rec := snapshot[marker]
		if rec.Size <= 0 || rec.Container == "" {
			continue
		}

		path, err := m.opts.Session.ContainerPath(marker)
		if err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.Size() <= rec.Size {
			continue
		}
		if err := os.Truncate(path, rec.Size); err != nil {
			m.opts.status(fmt.Sprintf("Could not truncate %s: %v", filepath.Base(path), err), SeverityWarn)
			continue
		}
		truncated++
	}
	if truncated > 0 {
		m.opts.status(fmt.Sprintf("Truncated %d container(s) back to original sizes.", truncated), SeverityInfo)
	}

	return truncated
}

// CaptureOriginalSizes records current container sizes into the snapshot
// file. An existing readable snapshot wins; sizes are only meaningful
// before the first apply.
func (m *Manager) CaptureOriginalSizes() error {
	if m.opts.SnapshotPath == "" {
		return fmt.Errorf("%w: snapshot path is required", ErrInvalidConfig)
	}

	if blob, err := os.ReadFile(m.opts.SnapshotPath); err == nil {
		existing := map[byte]ContainerSize{}
		if json.Unmarshal(blob, &existing) == nil && len(existing) > 0 {
			return nil
		}
	}

	session := m.opts.Session
	if session.InstallFolder == "" {
		return fmt.Errorf("%w: session has no install folder", ErrInvalidConfig)
	}

	snapshot := make(map[byte]ContainerSize, len(session.Containers))
	for i, name := range session.Containers {
		if i > math.MaxUint8 {
			break
		}
		path := filepath.Join(session.InstallFolder, name)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		snapshot[byte(i)] = ContainerSize{Container: name, Size: info.Size()}
	}

	blob, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(m.opts.SnapshotPath, blob, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	return nil
}

// appendAligned appends payload to the container at path, padded to the
// chunk alignment before and after. It returns the aligned payload start
// and the total bytes written including padding.
func appendAligned(path string, payload []byte) (int64, int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("open container: %w", err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("seek container end: %w", err)
	}

	var written int64
	start := alignUp64(end, chunkAlign)
	if pad := start - end; pad > 0 {
		if _, err := f.Write(zeroBlock[:pad]); err != nil {
			return 0, 0, fmt.Errorf("pad container: %w", err)
		}
		written += pad
	}
	if _, err := f.Write(payload); err != nil {
		return 0, 0, fmt.Errorf("append payload: %w", err)
	}
	written += int64(len(payload))

	tail := start + int64(len(payload))
	if pad := alignUp64(tail, chunkAlign) - tail; pad > 0 {
		if _, err := f.Write(zeroBlock[:pad]); err != nil {
			return 0, 0, fmt.Errorf("pad container: %w", err)
		}
		written += pad
	}

	if err := f.Sync(); err != nil {
		return 0, 0, fmt.Errorf("sync container: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, 0, fmt.Errorf("close container: %w", err)
	}
	f = nil

	return start, written, nil
}

// readIndexEntry reads one fixed-size entry at off.
func readIndexEntry(path string, off int64, entrySize int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open IDX: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	entry := make([]byte, entrySize)
	if _, err := f.ReadAt(entry, off); err != nil {
		return nil, fmt.Errorf("%w: read %d bytes at 0x%X in %s",
			ErrEntrySizeMismatch, entrySize, off, filepath.Base(path))
	}

	return entry, nil
}

// writeIndexEntry overwrites one entry in place.
func writeIndexEntry(path string, off int64, entry []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open IDX for patch: %w", err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("seek IDX entry: %w", err)
	}
	if _, err := f.Write(entry); err != nil {
		return fmt.Errorf("patch IDX entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync IDX: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close IDX: %w", err)
	}
	f = nil

	return nil
}

// pickField returns the first preferred name present in the layout, then
// the first field whose lowercase name contains any of contains and none
// of reject, and "" when nothing matches.
func (l Layout) pickField(prefer, contains, reject []string) string {
	for _, name := range prefer {
		for _, f := range l.Fields {
			if f == name {
				return name
			}
		}
	}
	for _, f := range l.Fields {
		low := strings.ToLower(f)
		if !containsAny(low, contains) || containsAny(low, reject) {
			continue
		}

		return f
	}

	return ""
}

// containsAny reports whether s contains any of subs.
func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}

	return false
}

// offsetField names the entry field holding the payload offset.
func (l Layout) offsetField() string {
	return l.pickField([]string{"Offset"}, []string{"offset"}, nil)
}

// originalSizeField names the uncompressed-size field.
func (l Layout) originalSizeField() string {
	return l.pickField([]string{"Original_Size", "Full_Size", "Size"}, []string{"size"}, []string{"compressed"})
}

// compressedSizeField names the stored-size field.
func (l Layout) compressedSizeField() string {
	return l.pickField([]string{"Compressed_Size"}, []string{"compressed", "csize"}, nil)
}

// compressionFlagField names the compression marker field.
func (l Layout) compressionFlagField() string {
	return l.pickField([]string{"Compression_Marker"}, []string{"compression", "flag", "marker"}, nil)
}

// patchEntry returns a copy of entry pointing at dataOff with both size
// fields set to size. The stored offset shifts right when the layout packs
// offsets; clearFlag zeroes the compression marker so the payload reads as
// stored bytes. Fields missing from the layout stay untouched.
func (l Layout) patchEntry(entry []byte, dataOff, size int64, clearFlag bool) []byte {
	patched := make([]byte, len(entry))
	copy(patched, entry)

	storedOff := uint64(dataOff)
	offField := l.offsetField()
	if offField != "" && l.shouldShift(offField) {
		storedOff >>= l.ShiftBits
	}
	l.writeField(patched, offField, storedOff)
	l.writeField(patched, l.originalSizeField(), uint64(size))
	l.writeField(patched, l.compressedSizeField(), uint64(size))
	if clearFlag {
		l.writeField(patched, l.compressionFlagField(), 0)
	}

	return patched
}

// writeField encodes value into the named field; unknown names no-op.
func (l Layout) writeField(entry []byte, name string, value uint64) {
	if name == "" {
		return
	}
	start, ok := l.fieldSpan(name)
	if !ok || start+l.FieldWidth > len(entry) {
		return
	}
	encodeUint(entry[start:start+l.FieldWidth], value, l.Endian)
}
