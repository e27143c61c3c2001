// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// NormalizePath converts an entry/internal name to normalized slash-separated form.
// It trims spaces, accepts both "/" and "\", removes leading "./" and "/", and cleans "." segments.
func NormalizePath(raw string) string {
	raw = normalizePathForMatching(raw)
	raw = strings.TrimPrefix(raw, "/")
	raw = path.Clean("/" + raw)
	raw = strings.TrimPrefix(raw, "/")
	if raw == "." {
		return ""
	}

	return strings.TrimSuffix(raw, "/")
}

// normalizePathForMatching normalizes user/input paths for matcher use.
func normalizePathForMatching(path string) string {
	path = strings.TrimSpace(path)
	path = strings.ReplaceAll(path, `\`, `/`)
	path = strings.TrimPrefix(path, "./")
	return path
}

// isRegular reports whether path names an existing regular file.
func isRegular(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}

// resolveUnder joins name under base, keeping absolute names as-is.
func resolveUnder(base, name string) string {
	if name == "" {
		return base
	}
	if filepath.IsAbs(name) {
		return name
	}

	return filepath.Join(base, name)
}

// naturalKey is a filename sort key ordering embedded numbers numerically.
type naturalKey struct {
	stem   string
	name   string
	num    uint64
	hasNum bool
}

// naturalKeyFor builds the sort key for one file name.
// The last digit group of the stem orders numerically, ignoring zero padding;
// names without digits sort after numbered ones.
func naturalKeyFor(name string) naturalKey {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	key := naturalKey{stem: strings.ToLower(stem), name: strings.ToLower(name)}

	end := -1
	for i := len(stem) - 1; i >= 0; i-- {
		if stem[i] >= '0' && stem[i] <= '9' {
			end = i + 1
			break
		}
	}
	if end < 0 {
		return key
	}

	start := end - 1
	for start > 0 && stem[start-1] >= '0' && stem[start-1] <= '9' {
		start--
	}

	num, err := strconv.ParseUint(stem[start:end], 10, 64)
	if err != nil {
		return key
	}

	key.num = num
	key.hasNum = true

	return key
}

// lessNatural orders numbered names first by number, then lexically.
func lessNatural(a, b naturalKey) bool {
	if a.hasNum != b.hasNum {
		return a.hasNum
	}
	if a.hasNum && a.num != b.num {
		return a.num < b.num
	}
	if a.stem != b.stem {
		return a.stem < b.stem
	}

	return a.name < b.name
}
