// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// Ledger is the binary enabled-mod ledger bound to one file path. Records
// store the pre-patch index entry bytes so disabling a mod can restore
// them. The record layout is fixed little-endian: u8 name length, name
// bytes (zero length inherits the previous record's mod), u8 marker,
// u32 entry offset, u16 entry size, then the entry bytes.
type Ledger struct {
	path string
}

// NewLedger binds a ledger to path; the file may not exist yet.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// Records parses all ledger records with inherited names resolved.
// A missing file yields no records; a truncated tail ends the parse
// silently, never as an error.
func (l *Ledger) Records() ([]LedgerRecord, error) {
	blob, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read ledger: %w", err)
	}

	return parseLedger(blob), nil
}

// parseLedger decodes records until the blob ends or a record is cut short.
func parseLedger(blob []byte) []LedgerRecord {
	var records []LedgerRecord
	lastName := ""
	pos := 0

	for pos < len(blob) {
		nameLen := int(blob[pos])
		pos++
		if nameLen > 0 {
			if pos+nameLen > len(blob) {
				break
			}
			lastName = string(blob[pos : pos+nameLen])
			pos += nameLen
		}

		if pos+7 > len(blob) {
			break
		}
		marker := blob[pos]
		entryOff := binary.LittleEndian.Uint32(blob[pos+1:])
		entrySize := int(binary.LittleEndian.Uint16(blob[pos+5:]))
		pos += 7

		if pos+entrySize > len(blob) {
			break
		}
		entry := make([]byte, entrySize)
		copy(entry, blob[pos:pos+entrySize])
		pos += entrySize

		records = append(records, LedgerRecord{
			Mod:         lastName,
			Entry:       entry,
			EntryOffset: entryOff,
			Marker:      marker,
		})
	}

	return records
}

// Mods returns the enabled mod names in first-seen order.
func (l *Ledger) Mods() ([]string, error) {
	records, err := l.Records()
	if err != nil {
		return nil, err
	}

	return uniqueModNames(records), nil
}

// uniqueModNames collects named records in first-seen order.
func uniqueModNames(records []LedgerRecord) []string {
	seen := make(map[string]struct{}, len(records))
	var names []string
	for _, rec := range records {
		if rec.Mod == "" {
			continue
		}
		if _, ok := seen[rec.Mod]; ok {
			continue
		}
		seen[rec.Mod] = struct{}{}
		names = append(names, rec.Mod)
	}

	return names
}

// IsEnabled reports whether any record belongs to name, ignoring case.
func (l *Ledger) IsEnabled(name string) (bool, error) {
	target := foldModName(name)
	if target == "" {
		return false, nil
	}

	records, err := l.Records()
	if err != nil {
		return false, err
	}

	for _, rec := range records {
		if foldModName(rec.Mod) == target {
			return true, nil
		}
	}

	return false, nil
}

// foldModName normalizes a mod name for matching.
func foldModName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Append serializes one record at the ledger tail. When writeName is false
// the record stores a zero-length name and inherits the previous record's
// mod on parse.
func (l *Ledger) Append(rec LedgerRecord, writeName bool) error {
	if writeName && len(rec.Mod) > math.MaxUint8 {
		return fmt.Errorf("%w: mod name is %d bytes", ErrSizeOverflow, len(rec.Mod))
	}
	if len(rec.Entry) > math.MaxUint16 {
		return fmt.Errorf("%w: entry is %d bytes", ErrSizeOverflow, len(rec.Entry))
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger folder: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	if _, err := f.Write(appendLedgerRecord(nil, rec, writeName)); err != nil {
		return fmt.Errorf("append ledger record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	f = nil

	return nil
}

// appendLedgerRecord serializes one record onto dst.
func appendLedgerRecord(dst []byte, rec LedgerRecord, writeName bool) []byte {
	if writeName {
		dst = append(dst, byte(len(rec.Mod)))
		dst = append(dst, rec.Mod...)
	} else {
		dst = append(dst, 0)
	}

	dst = append(dst, rec.Marker)
	dst = binary.LittleEndian.AppendUint32(dst, rec.EntryOffset)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(rec.Entry)))

	return append(dst, rec.Entry...)
}

// rewriteWithout replaces the ledger with every record not owned by name
// (ignoring case). Kept records re-serialize with the name written whenever
// it changes from the previous kept record's.
func (l *Ledger) rewriteWithout(name string) error {
	records, err := l.Records()
	if err != nil {
		return err
	}

	target := foldModName(name)
	var out []byte
	last := ""
	first := true
	for _, rec := range records {
		if foldModName(rec.Mod) == target {
			continue
		}

		out = appendLedgerRecord(out, rec, first || rec.Mod != last)
		last = rec.Mod
		first = false
	}

	return l.writeRaw(out)
}

// Clear removes every record.
func (l *Ledger) Clear() error {
	return l.writeRaw(nil)
}

// writeRaw atomically replaces the ledger content.
func (l *Ledger) writeRaw(blob []byte) error {
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}

	return nil
}
