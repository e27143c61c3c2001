// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

/*
Package linkdata provides unpack, repack, and mod-patching operations for
Koei Tecmo LINKDATA-style container sets: large data containers paired with
fixed-width index (IDX) files. Container layouts are config-driven, so one
engine serves every supported game build.

Decompression recovery (summary):
  - each entry decodes per the configured codec kind (zlib, lzma, gzip,
    zstd, lzss, or length-prefixed variants);
  - KindAuto probes magic bytes and falls back through candidate codecs;
  - failed decompression stores the raw bytes and logs the failure to
    comp_log.txt instead of aborting the run;
  - extracted entries carry a 6-byte trailer (marker, index entry offset,
    decompressed flag) so mods can be built from them later.

# Unpacking

Build a Config from a parsed game reference mapping and extract everything:

	cfg := linkdata.ConfigFromMap(map[string]any{
	    "Containers":               "LINKDATA.BIN",
	    "IDX_Files":                "LINKDATA.IDX",
	    "Raw_Variables":            []string{"Offset", "Size", "Compressed_Size", "Compression_Marker"},
	    "Length_Per_Raw_Variables": 4,
	    "Compression":              "zlib",
	})
	res, err := linkdata.Unpack(ctx, cfg, "C:/Game", linkdata.UnpackOptions{})
	if err != nil {
	    return err
	}
	_ = res.WrittenEntries

One index file may serve several containers; entries then route by
container boundaries and trailers record marker zero. To inspect an index
without extracting:

	entries, err := linkdata.ListEntries("LINKDATA.IDX", cfg.Layout(), cfg.StartOffset)
	if err != nil {
	    return err
	}
	_ = entries

Status and progress callbacks receive what a frontend would print:

	res, err = linkdata.Unpack(ctx, cfg, "C:/Game", linkdata.UnpackOptions{
	    OnStatus: func(text string, severity linkdata.Severity) {
	        log.Printf("[%s] %s", severity, text)
	    },
	    Include: []pathrules.Rule{
	        {Action: pathrules.ActionInclude, Pattern: "*.g1t"},
	    },
	})

# Nested containers

Extracted entries detected as subcontainers unpack in place, either inline
or through the NestedJobs pool Unpack manages internally:

	n, err := linkdata.UnpackVarTable("out/Pack_00/entry_00042.g1pack1")
	n, err = linkdata.UnpackPairTable("out/Pack_00/entry_00043.g1pack2")
	n, err = linkdata.UnpackAudioStream("out/Pack_01/entry_00007.kvs")
	_ = n

# Repacking

Repack rebuilds a container byte-exactly from an unpacked folder. The
format resolves from the folder content and the optional reference
container, whose last six bytes are carried over as the trailer:

	res, err := linkdata.Repack(ctx, "out/Pack_00/entry_00042", linkdata.RepackOptions{
	    ReferencePath: "out/Pack_00/entry_00042.g1pack1",
	})
	if err != nil {
	    return err
	}
	_ = res.OutputPath

After repacking audio containers, rewrite the size/offset table of the
matching metadata file in place:

	updated, err := linkdata.UpdateAudioTOC(ctx, "LINKDATA.BIN", "KOVS_TOC.BIN", linkdata.RepackOptions{})

# Mods

A mod file bundles patched entry payloads with their trailers. Build one
from files that still carry trailers, then apply it against a live
install; applying appends payloads to the containers and rewrites the
affected index entries, and the ledger keeps the pre-patch bytes:

	err := linkdata.WriteModFile("retex.aldmod", linkdata.ModMeta{
	    Name:    "retex",
	    Author:  "someone",
	    Version: "1.0",
	}, blobs)

	session := linkdata.NewSession("C:/Game", cfg)
	mgr, err := linkdata.NewManager(linkdata.ManagerOptions{
	    Session:      session,
	    LedgerPath:   "enabled_mods.dat",
	    SnapshotPath: "orig_container_sizes.json",
	    Layout:       cfg.Layout(),
	})
	if err != nil {
	    return err
	}
	if err := mgr.CaptureOriginalSizes(); err != nil {
	    return err
	}
	if _, err := mgr.Apply(ctx, "mods/retex.aldmod"); err != nil {
	    return err
	}

Disable restores the recorded index entries and drops the mod from the
ledger; DisableAll additionally truncates containers back to their
snapshot sizes:

	if _, err := mgr.Disable(ctx, "retex.aldmod"); err != nil {
	    return err
	}
	if _, err := mgr.DisableAll(ctx); err != nil {
	    return err
	}
*/
package linkdata
