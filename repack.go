// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// repackWriterPool reuses default-sized bufio writers between Repack calls.
	repackWriterPool = sync.Pool{
		New: func() any {
			return bufio.NewWriterSize(io.Discard, DefaultWriteBuffer)
		},
	}
	// repackCopyBufferPool reuses payload copy buffers between Repack calls.
	repackCopyBufferPool = sync.Pool{
		New: func() any {
			return new([repackCopyBufferSize]byte)
		},
	}
	// zeroBlock feeds padding and zero-fill writes.
	zeroBlock [4096]byte
)

// repackCopyBufferSize is the temporary buffer size used by streaming payload copy.
const repackCopyBufferSize = 64 * 1024

// acquireRepackWriter returns a buffered writer and release callback for Repack.
func acquireRepackWriter(out io.Writer, size int) (*bufio.Writer, func()) {
	if size == DefaultWriteBuffer {
		w := repackWriterPool.Get().(*bufio.Writer) //nolint:forcetypeassert // pool contains only *bufio.Writer
		w.Reset(out)

		return w, func() {
			w.Reset(io.Discard)
			repackWriterPool.Put(w)
		}
	}

	return bufio.NewWriterSize(out, size), func() {}
}

// acquireRepackCopyBuffer returns a reusable payload copy buffer and release callback.
func acquireRepackCopyBuffer() ([]byte, func()) {
	arr := repackCopyBufferPool.Get().(*[repackCopyBufferSize]byte) //nolint:forcetypeassert // pool contains only fixed-size buffers

	return arr[:], func() {
		repackCopyBufferPool.Put(arr)
	}
}

// repackWriter tracks the absolute output position across buffered writes.
type repackWriter struct {
	w   *bufio.Writer
	pos int64
}

// Write forwards to the buffered writer and advances the position.
func (rw *repackWriter) Write(p []byte) (int, error) {
	n, err := rw.w.Write(p)
	rw.pos += int64(n)

	return n, err
}

// writeUint32 writes one little-endian dword.
func (rw *repackWriter) writeUint32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := rw.Write(b[:])

	return err
}

// writeZeros writes n zero bytes.
func (rw *repackWriter) writeZeros(n int64) error {
	for n > 0 {
		chunk := int64(len(zeroBlock))
		if chunk > n {
			chunk = n
		}
		if _, err := rw.Write(zeroBlock[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}

	return nil
}

// padTo zero-fills the output up to the next multiple of align.
func (rw *repackWriter) padTo(align int64) error {
	return rw.writeZeros(alignUp64(rw.pos, align) - rw.pos)
}

// copyPayload streams exactly size bytes from path, substituting zeros for
// bytes the source cannot provide so the planned layout stays intact.
// It reports whether the source supplied all bytes itself.
func (rw *repackWriter) copyPayload(path string, size int64, buf []byte) (bool, error) {
	if size <= 0 {
		return true, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return false, rw.writeZeros(size)
	}

	n, copyErr := io.CopyBuffer(rw, io.LimitReader(f, size), buf)
	_ = f.Close()

	if n < size {
		if err := rw.writeZeros(size - n); err != nil {
			return false, err
		}
	}

	return copyErr == nil && n == size, nil
}

// Repack rebuilds one container from a folder of unpacked files, writing it
// next to the folder under the folder's name plus the format extension.
// Any *.kvs files make it an audio-stream rebuild; otherwise the reference
// file's extension or an existing sibling container picks between the two
// table formats. ReferencePath, when set, donates the final 6 trailer bytes
// and the size-table data alignment.
func Repack(ctx context.Context, folder string, opts RepackOptions) (*RepackResult, error) {
	start := time.Now()
	opts.applyDefaults()

	folder, err := filepath.Abs(folder)
	if err != nil {
		return nil, fmt.Errorf("resolve folder: %w", err)
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("read folder: %w", err)
	}

	var names []string
	for _, ent := range entries {
		if ent.Type().IsRegular() {
			names = append(names, ent.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFolder, folder)
	}

	baseName := filepath.Base(folder)
	parentDir := filepath.Dir(folder)
	tail := referenceTail(opts.ReferencePath, &opts)

	var kvsNames []string
	for _, name := range names {
		if strings.EqualFold(filepath.Ext(name), ".kvs") {
			kvsNames = append(kvsNames, name)
		}
	}

	var res *RepackResult
	if len(kvsNames) > 0 {
		opts.status("Detected KVS chunk folder: "+baseName, SeverityInfo)
		res, err = repackAudio(ctx, folder, kvsNames, filepath.Join(parentDir, baseName+".kvs"), tail, &opts)
	} else {
		format := repackFormat(parentDir, baseName, opts.ReferencePath)
		outPath := filepath.Join(parentDir, baseName+format)
		opts.status(fmt.Sprintf("Detected %s folder: %s", strings.TrimPrefix(format, "."), baseName), SeverityInfo)

		if format == ".g1pack1" {
			res, err = repackVarTable(ctx, folder, names, outPath, tail, &opts)
		} else {
			res, err = repackPairTable(ctx, folder, names, outPath, tail, &opts)
		}
	}
	if err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)

	return res, nil
}

// repackFormat picks the table container format for a folder without audio chunks.
func repackFormat(parentDir, baseName, referencePath string) string {
	low := strings.ToLower(referencePath)
	switch {
	case strings.HasSuffix(low, ".g1pack1"):
		return ".g1pack1"
	case strings.HasSuffix(low, ".g1pack2"):
		return ".g1pack2"
	}

	if isRegular(filepath.Join(parentDir, baseName+".g1pack1")) {
		return ".g1pack1"
	}

	return ".g1pack2"
}

// referenceTail reads the final TrailerSize bytes of the reference file.
// Missing or short references warn and return nil; the rebuild still runs.
func referenceTail(path string, opts *RepackOptions) []byte {
	if path == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		opts.status(fmt.Sprintf("Could not open reference for trailer bytes: %v", err), SeverityWarn)
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		opts.status(fmt.Sprintf("Could not read reference trailer bytes: %v", err), SeverityWarn)
		return nil
	}
	if info.Size() < TrailerSize {
		opts.status(fmt.Sprintf("Reference too small for %d trailer bytes: %s", TrailerSize, path), SeverityWarn)
		return nil
	}

	tail := make([]byte, TrailerSize)
	if _, err := f.ReadAt(tail, info.Size()-TrailerSize); err != nil {
		opts.status(fmt.Sprintf("Could not read reference trailer bytes: %v", err), SeverityWarn)
		return nil
	}

	return tail
}

// finishContainer appends the donor trailer, flushes, and syncs the output.
func finishContainer(rw *repackWriter, f *os.File, tail []byte) error {
	if len(tail) == TrailerSize {
		if _, err := rw.Write(tail); err != nil {
			return fmt.Errorf("write trailer bytes: %w", err)
		}
	}

	if err := rw.w.Flush(); err != nil {
		return fmt.Errorf("flush container: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync container: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close container: %w", err)
	}

	return nil
}

// sortNatural orders file names numerically by their last digit group.
func sortNatural(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return lessNatural(naturalKeyFor(names[i]), naturalKeyFor(names[j]))
	})
}

// statSizes returns each file's size; unreadable files record zero.
func statSizes(folder string, names []string) []int64 {
	sizes := make([]int64, len(names))
	for i, name := range names {
		if info, err := os.Stat(filepath.Join(folder, name)); err == nil {
			sizes[i] = info.Size()
		}
	}

	return sizes
}

// repackAudio rebuilds a sequential KOVS container from loose chunk files.
// Each chunk keeps its 32-byte header plus the declared data bytes and is
// padded to a 16-byte boundary.
func repackAudio(ctx context.Context, folder string, names []string, outPath string, tail []byte, opts *RepackOptions) (*RepackResult, error) {
	sortNatural(names)
	total := len(names)
	opts.status(fmt.Sprintf("Repacking %d KOVS chunks into %s", total, filepath.Base(outPath)), SeverityInfo)

	f, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	bw, release := acquireRepackWriter(f, opts.WriterBufferSize)
	defer release()
	rw := &repackWriter{w: bw}

	res := &RepackResult{OutputPath: outPath, Format: ".kvs"}
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		blob, err := os.ReadFile(filepath.Join(folder, name))
		if err != nil {
			opts.status(fmt.Sprintf("Could not read %s; skipping.", name), SeverityWarn)
			res.SkippedFiles++
			continue
		}

		if len(blob) < audioHeaderSize || !bytes.HasPrefix(blob, kovsMagic) {
			opts.status(fmt.Sprintf("%s is not a valid KOVS chunk; skipping.", name), SeverityWarn)
			res.SkippedFiles++
			continue
		}

		size := int64(binary.LittleEndian.Uint32(blob[4:8]))
		if size <= 0 {
			opts.status(fmt.Sprintf("%s has non-positive data size; skipping.", name), SeverityWarn)
			res.SkippedFiles++
			continue
		}

		dataEnd := int64(audioHeaderSize) + size
		if dataEnd > int64(len(blob)) {
			opts.status(fmt.Sprintf("%s: declared size exceeds file length; clamping.", name), SeverityWarn)
			dataEnd = int64(len(blob))
		}

		if _, err := rw.Write(blob[:dataEnd]); err != nil {
			return nil, fmt.Errorf("write chunk %s: %w", name, err)
		}
		if err := rw.padTo(chunkAlign); err != nil {
			return nil, fmt.Errorf("pad chunk %s: %w", name, err)
		}

		res.WrittenFiles++
		opts.progress(i+1, total, fmt.Sprintf("KVS repack: %d/%d", i+1, total))
	}

	if err := finishContainer(rw, f, tail); err != nil {
		return nil, err
	}
	f = nil

	res.DataSize = rw.pos
	opts.status("KVS repack complete: "+outPath, SeverityInfo)

	return res, nil
}

// repackVarTable rebuilds a size-table subcontainer: u32 file count, one u32
// size per file, then the payloads back to back with no inter-file padding.
// The gap between table and data replicates the reference container when its
// alignment can be inferred.
func repackVarTable(ctx context.Context, folder string, names []string, outPath string, tail []byte, opts *RepackOptions) (*RepackResult, error) {
	sortNatural(names)
	total := len(names)
	opts.status(fmt.Sprintf("Repacking %d files into g1pack1: %s", total, filepath.Base(outPath)), SeverityInfo)

	sizes := statSizes(folder, names)
	for i, sz := range sizes {
		if sz > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %s is %d bytes", ErrSizeOverflow, names[i], sz)
		}
	}

	tocEnd := 4 + total*4
	dataStart := alignUp(tocEnd, tableAlignment(opts))

	f, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	bw, release := acquireRepackWriter(f, opts.WriterBufferSize)
	defer release()
	rw := &repackWriter{w: bw}

	if err := rw.writeUint32(uint32(total)); err != nil {
		return nil, fmt.Errorf("write file count: %w", err)
	}
	for _, sz := range sizes {
		if err := rw.writeUint32(uint32(sz)); err != nil {
			return nil, fmt.Errorf("write size table: %w", err)
		}
	}
	if err := rw.writeZeros(int64(dataStart - tocEnd)); err != nil {
		return nil, fmt.Errorf("pad size table: %w", err)
	}

	buf, releaseBuf := acquireRepackCopyBuffer()
	defer releaseBuf()

	res := &RepackResult{OutputPath: outPath, Format: ".g1pack1"}
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ok, err := rw.copyPayload(filepath.Join(folder, name), sizes[i], buf)
		if err != nil {
			return nil, fmt.Errorf("write payload %s: %w", name, err)
		}
		if ok {
			res.WrittenFiles++
		} else {
			opts.status(fmt.Sprintf("Could not read %s; writing zeros instead.", name), SeverityWarn)
			res.SkippedFiles++
		}

		opts.progress(i+1, total, fmt.Sprintf("g1pack1 repack: %d/%d", i+1, total))
	}

	if err := finishContainer(rw, f, tail); err != nil {
		return nil, err
	}
	f = nil

	res.DataSize = rw.pos
	opts.status("g1pack1 repack complete: "+outPath, SeverityInfo)

	return res, nil
}

// tableAlignment replicates the reference container's gap between size table
// and data when one can be inferred; rebuilds default to 16 otherwise.
func tableAlignment(opts *RepackOptions) int {
	if opts.ReferencePath == "" {
		return chunkAlign
	}

	blob, err := os.ReadFile(opts.ReferencePath)
	if err != nil {
		return chunkAlign
	}
	if a := inferTableAlignment(blob); a > 0 {
		return a
	}

	return chunkAlign
}

// inferTableAlignment recovers the power-of-two alignment that positioned a
// size-table container's data start, running the same data-start discovery
// the unpacker uses. Zero means no alignment explains the layout.
func inferTableAlignment(blob []byte) int {
	if len(blob) < 8 {
		return 0
	}

	count := int(binary.LittleEndian.Uint32(blob[0:4]))
	if count <= 0 || count > maxTableEntries {
		return 0
	}

	tocEnd := 4 + count*4
	if tocEnd > len(blob) {
		return 0
	}

	sizes := make([]int, count)
	for i := range sizes {
		sizes[i] = int(binary.LittleEndian.Uint32(blob[4+i*4:]))
	}

	dataStart := chooseDataStart(blob, tocEnd, sizes)
	for a := 4; a <= 4096; a *= 2 {
		if alignUp(tocEnd, a) == dataStart {
			return a
		}
	}

	if dataStart%chunkAlign == 0 {
		return chunkAlign
	}
	if dataStart%4 == 0 {
		return 4
	}

	return 0
}

// repackPairTable rebuilds an offset/size-table subcontainer: u32 file count,
// one (u32 offset, u32 size) pair per file, payloads at 16-aligned offsets
// with zero-filled gaps and each payload end padded to 16.
func repackPairTable(ctx context.Context, folder string, names []string, outPath string, tail []byte, opts *RepackOptions) (*RepackResult, error) {
	sort.Slice(names, func(i, j int) bool {
		a, b := strings.ToLower(names[i]), strings.ToLower(names[j])
		if a == b {
			return names[i] < names[j]
		}

		return a < b
	})
	total := len(names)
	opts.status(fmt.Sprintf("Repacking %d files into g1pack2: %s", total, filepath.Base(outPath)), SeverityInfo)

	sizes := statSizes(folder, names)

	headerSize := int64(4 + total*8)
	offsets := make([]int64, total)
	pos := alignUp64(headerSize, chunkAlign)
	for i, sz := range sizes {
		offsets[i] = pos
		pos = alignUp64(pos+sz, chunkAlign)
	}
	if pos > math.MaxUint32 {
		return nil, fmt.Errorf("%w: planned data end is %d bytes", ErrSizeOverflow, pos)
	}

	f, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	bw, release := acquireRepackWriter(f, opts.WriterBufferSize)
	defer release()
	rw := &repackWriter{w: bw}

	if err := rw.writeUint32(uint32(total)); err != nil {
		return nil, fmt.Errorf("write file count: %w", err)
	}
	for i := range offsets {
		if err := rw.writeUint32(uint32(offsets[i])); err != nil {
			return nil, fmt.Errorf("write offset table: %w", err)
		}
		if err := rw.writeUint32(uint32(sizes[i])); err != nil {
			return nil, fmt.Errorf("write offset table: %w", err)
		}
	}

	buf, releaseBuf := acquireRepackCopyBuffer()
	defer releaseBuf()

	res := &RepackResult{OutputPath: outPath, Format: ".g1pack2"}
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if gap := offsets[i] - rw.pos; gap > 0 {
			if err := rw.writeZeros(gap); err != nil {
				return nil, fmt.Errorf("pad before %s: %w", name, err)
			}
		} else if gap < 0 {
			opts.status(fmt.Sprintf("Overrun before writing %s (pos=0x%X, offset=0x%X).", name, rw.pos, offsets[i]), SeverityWarn)
		}

		ok, err := rw.copyPayload(filepath.Join(folder, name), sizes[i], buf)
		if err != nil {
			return nil, fmt.Errorf("write payload %s: %w", name, err)
		}
		if ok {
			res.WrittenFiles++
		} else {
			opts.status(fmt.Sprintf("Could not read %s; writing zeros instead.", name), SeverityWarn)
			res.SkippedFiles++
		}

		if err := rw.padTo(chunkAlign); err != nil {
			return nil, fmt.Errorf("pad after %s: %w", name, err)
		}

		opts.progress(i+1, total, fmt.Sprintf("g1pack2 repack: %d/%d", i+1, total))
	}

	if err := finishContainer(rw, f, tail); err != nil {
		return nil, err
	}
	f = nil

	res.DataSize = rw.pos
	opts.status("g1pack2 repack complete: "+outPath, SeverityInfo)

	return res, nil
}
