// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "slash", in: "/", want: ""},
		{name: "clean", in: "Pack_00/entry_00001.g1t", want: "Pack_00/entry_00001.g1t"},
		{name: "windows", in: `.\Pack_00\entry_00001.g1t`, want: "Pack_00/entry_00001.g1t"},
		{name: "dot segments", in: "./a/../b//c.bin", want: "b/c.bin"},
		{name: "trailing slash", in: "Pack_01/", want: "Pack_01"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := NormalizePath(tc.in)
			if got != tc.want {
				t.Fatalf("NormalizePath(%q)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestResolveUnder(t *testing.T) {
	t.Parallel()

	abs := filepath.Join(string(filepath.Separator), "data", "LINKDATA.BIN")

	testCases := []struct {
		name string
		base string
		in   string
		want string
	}{
		{name: "relative joins", base: "/install", in: "LINKDATA.IDX", want: filepath.Join("/install", "LINKDATA.IDX")},
		{name: "absolute kept", base: "/install", in: abs, want: abs},
		{name: "empty yields base", base: "/install", in: "", want: "/install"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := resolveUnder(tc.base, tc.in)
			if got != tc.want {
				t.Fatalf("resolveUnder(%q, %q)=%q, want %q", tc.base, tc.in, got, tc.want)
			}
		})
	}
}

func TestSortNatural(t *testing.T) {
	t.Parallel()

	names := []string{
		"readme.txt",
		"010.kvs",
		"2.kvs",
		"chunk_00004.kvs",
		"00001.kvs",
		"alpha.bin",
	}
	sortNatural(names)

	want := []string{
		"00001.kvs",
		"2.kvs",
		"chunk_00004.kvs",
		"010.kvs",
		"alpha.bin",
		"readme.txt",
	}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("sortNatural = %v, want %v", names, want)
	}
}

func TestNaturalKeyFor(t *testing.T) {
	t.Parallel()

	key := naturalKeyFor("Entry_00042.bin")
	if !key.hasNum || key.num != 42 {
		t.Fatalf("key = %+v, want num 42", key)
	}
	if key.stem != "entry_00042" {
		t.Fatalf("stem = %q, want lowercased", key.stem)
	}

	key = naturalKeyFor("readme.txt")
	if key.hasNum {
		t.Fatalf("key = %+v, want no number", key)
	}
}

func TestLessNaturalTieBreaks(t *testing.T) {
	t.Parallel()

	// Same number sorts by stem, then by full name.
	a := naturalKeyFor("a_1.bin")
	b := naturalKeyFor("b_1.bin")
	if !lessNatural(a, b) {
		t.Fatal("a_1 must sort before b_1")
	}

	// Numbered names come before unnumbered ones.
	if !lessNatural(naturalKeyFor("9.bin"), naturalKeyFor("a.bin")) {
		t.Fatal("numbered name must sort before unnumbered")
	}
}

func TestIsRegular(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "file.bin")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if !isRegular(file) {
		t.Fatal("regular file must report true")
	}
	if isRegular(dir) {
		t.Fatal("directory must report false")
	}
	if isRegular(filepath.Join(dir, "missing.bin")) {
		t.Fatal("missing path must report false")
	}
}
