// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"fmt"
	"strconv"
	"strings"
)

// ConfigFromMap adapts an externally parsed key/value mapping onto a Config.
// Keys follow the game reference files: Containers, IDX_Files,
// Main_Unpack_Folder, Raw_Variables, Length_Per_Raw_Variables,
// IDX_Chunk_Read, Raw_Variables_To_Shift, Raw_Shift_Bits (alias
// Bit_Shift_to_left), Endian, Compression, Start_From_Offset. Scalars
// broadcast to lists and numbers may arrive as strings; malformed values
// degrade to their zero defaults instead of failing.
func ConfigFromMap(m map[string]any) Config {
	cfg := Config{
		OutputRoot:  stringValue(m["Main_Unpack_Folder"], "Unpacked_Files"),
		Containers:  stringsValue(m["Containers"]),
		IndexFiles:  stringsValue(m["IDX_Files"]),
		Fields:      stringsValue(m["Raw_Variables"]),
		ShiftFields: csvValue(m["Raw_Variables_To_Shift"]),
		Endian:      parseEndian(stringValue(m["Endian"], "little")),
	}

	cfg.FieldWidth, _ = intFromAny(m["Length_Per_Raw_Variables"])
	cfg.EntrySize, _ = intFromAny(m["IDX_Chunk_Read"])

	if start, ok := intFromAny(m["Start_From_Offset"]); ok {
		cfg.StartOffset = int64(start)
	}

	shiftRaw, present := m["Raw_Shift_Bits"]
	if !present || shiftRaw == nil {
		shiftRaw = m["Bit_Shift_to_left"]
	}
	if n, ok := intFromAny(shiftRaw); ok && n > 0 {
		cfg.ShiftBits = uint(n)
	}

	cfg.Compression = kindList(m["Compression"], len(cfg.IndexFiles))

	return cfg
}

// validate rejects configs the unpack engine cannot pair up.
func (c Config) validate() error {
	if len(c.Containers) == 0 || len(c.IndexFiles) == 0 {
		return fmt.Errorf("%w: no containers or index files", ErrInvalidConfig)
	}
	if len(c.IndexFiles) > 1 && len(c.IndexFiles) != len(c.Containers) {
		return fmt.Errorf("%w: %d containers vs %d index files",
			ErrInvalidConfig, len(c.Containers), len(c.IndexFiles))
	}

	return nil
}

// Layout resolves the index entry layout: an explicit entry size override
// wins, else fields times field width, else the 32 byte default.
func (c Config) Layout() Layout {
	l := Layout{
		Endian:      c.Endian,
		Fields:      c.Fields,
		ShiftFields: c.ShiftFields,
		FieldWidth:  c.FieldWidth,
		ShiftBits:   c.ShiftBits,
	}

	switch {
	case c.EntrySize > 0:
		l.EntrySize = c.EntrySize
	case len(c.Fields) > 0 && c.FieldWidth > 0:
		l.EntrySize = len(c.Fields) * c.FieldWidth
	default:
		l.EntrySize = defaultEntrySize
	}

	return l
}

// kindFor returns the compression kind for pair i, reusing the final list
// element when the list is shorter than the container count.
func (c Config) kindFor(i int) Kind {
	if len(c.Compression) == 0 {
		return KindAuto
	}
	if i >= len(c.Compression) {
		i = len(c.Compression) - 1
	}

	return c.Compression[i]
}

// parseEntry decodes the named fields of one entry chunk in stored order.
// Fields that would read past the chunk end are dropped.
func (l Layout) parseEntry(chunk []byte) map[string]uint64 {
	vals := make(map[string]uint64, len(l.Fields))
	if l.FieldWidth <= 0 {
		return vals
	}

	for i, name := range l.Fields {
		start := i * l.FieldWidth
		end := start + l.FieldWidth
		if end > len(chunk) {
			break
		}
		vals[name] = decodeUint(chunk[start:end], l.Endian)
	}

	return vals
}

// applyShift left-shifts every shifted field present in vals.
func (l Layout) applyShift(vals map[string]uint64) {
	if l.ShiftBits == 0 {
		return
	}

	for name := range vals {
		if l.shouldShift(name) {
			vals[name] <<= l.ShiftBits
		}
	}
}

// shouldShift reports whether the named field carries a shifted value. With
// no explicit shift list, any field whose name contains "offset" qualifies.
func (l Layout) shouldShift(name string) bool {
	if l.ShiftBits == 0 {
		return false
	}

	if len(l.ShiftFields) > 0 {
		for _, s := range l.ShiftFields {
			if s == name {
				return true
			}
		}

		return false
	}

	return strings.Contains(strings.ToLower(name), "offset")
}

// fieldSpan returns the byte offset of the named field inside an entry, or
// false when the field is absent or extends past the entry size.
func (l Layout) fieldSpan(name string) (int, bool) {
	if l.FieldWidth <= 0 {
		return 0, false
	}

	for i, f := range l.Fields {
		if f != name {
			continue
		}
		start := i * l.FieldWidth
		if start+l.FieldWidth > l.EntrySize {
			return 0, false
		}

		return start, true
	}

	return 0, false
}

// decodeUint reads an unsigned integer of any byte width.
func decodeUint(b []byte, e Endian) uint64 {
	var v uint64
	if e == EndianBig {
		for _, x := range b {
			v = v<<8 | uint64(x)
		}

		return v
	}

	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}

	return v
}

// encodeUint writes an unsigned integer of any byte width into dst.
func encodeUint(dst []byte, v uint64, e Endian) {
	if e == EndianBig {
		for i := len(dst) - 1; i >= 0; i-- {
			dst[i] = byte(v)
			v >>= 8
		}

		return
	}

	for i := range dst {
		dst[i] = byte(v)
		v >>= 8
	}
}

// parseEndian maps config spellings onto an Endian, defaulting to little.
func parseEndian(s string) Endian {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "be", "big", "b":
		return EndianBig
	default:
		return EndianLittle
	}
}

// stringValue coerces a mapping value to a string with a default.
func stringValue(v any, def string) string {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return def
	}

	return strings.TrimSpace(s)
}

// stringsValue coerces a mapping value to a string list; a scalar string
// becomes a single-element list.
func stringsValue(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}

		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}

// csvValue coerces a mapping value to a string list, splitting scalar
// strings on commas.
func csvValue(v any) []string {
	s, ok := v.(string)
	if !ok {
		return stringsValue(v)
	}

	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}

	return out
}

// intFromAny coerces a mapping value to an int, reporting whether the value
// was present and parseable.
func intFromAny(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case uint64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}

		return n, true
	default:
		return 0, false
	}
}

// kindList expands the Compression value to one codec kind per index file.
// Scalars broadcast; short lists repeat their last element; unknown
// spellings pass through for the codec dispatcher to reject per entry.
func kindList(v any, indexCount int) []Kind {
	broadcast := func(k Kind) []Kind {
		n := indexCount
		if n < 1 {
			n = 1
		}
		out := make([]Kind, n)
		for i := range out {
			out[i] = k
		}

		return out
	}

	switch t := v.(type) {
	case nil:
		return broadcast(KindAuto)
	case string:
		return broadcast(looseKind(t))
	}

	names := stringsValue(v)
	if len(names) == 0 {
		return broadcast(KindAuto)
	}

	out := make([]Kind, 0, indexCount)
	for _, s := range names {
		out = append(out, looseKind(s))
	}
	for len(out) < indexCount {
		out = append(out, out[len(out)-1])
	}

	return out
}

// looseKind normalizes a kind spelling, keeping unknown names verbatim so
// per-entry decompression can fail and fall back to raw bytes.
func looseKind(s string) Kind {
	k, err := NormalizeKind(s)
	if err != nil {
		return Kind(strings.ToLower(strings.TrimSpace(s)))
	}

	return k
}
