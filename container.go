// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"fmt"
	"path/filepath"

	"golang.org/x/exp/mmap"
)

// container is one read-only memory-mapped data container.
type container struct {
	r    *mmap.ReaderAt
	path string
	size int64
}

// openContainer maps a container file read-only.
func openContainer(path string) (*container, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("map container: %w", err)
	}

	return &container{r: r, path: path, size: int64(r.Len())}, nil
}

// Close unmaps the container.
func (c *container) Close() error {
	if err := c.r.Close(); err != nil {
		return fmt.Errorf("close container: %w", err)
	}

	return nil
}

// Name returns the container file name without its directory.
func (c *container) Name() string {
	return filepath.Base(c.path)
}

// ReadRange copies n bytes starting at off out of the mapping.
func (c *container) ReadRange(off, n int64) ([]byte, error) {
	if off < 0 || n <= 0 || off+n > c.size {
		return nil, fmt.Errorf("%w: offset=0x%X size=0x%X container=%d",
			ErrEntryOutOfRange, off, n, c.size)
	}

	buf := make([]byte, n)
	if _, err := c.r.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read container range: %w", err)
	}

	return buf, nil
}

// containerSet is the walk state over the containers a shared index spans.
// Entries consume containers in order; the walk only moves forward.
type containerSet struct {
	containers []*container
	counts     []int
	pos        int
}

// openContainerSet maps every container it can and reports the ones it
// cannot through warn. At least one mapped container is required.
func openContainerSet(paths []string, warn func(msg string)) (*containerSet, error) {
	set := &containerSet{}
	for _, p := range paths {
		c, err := openContainer(p)
		if err != nil {
			if warn != nil {
				warn(fmt.Sprintf("Could not open or map container: %s", p))
			}
			continue
		}
		set.containers = append(set.containers, c)
	}

	if len(set.containers) == 0 {
		return nil, fmt.Errorf("%w: no containers could be mapped", ErrInvalidConfig)
	}

	set.counts = make([]int, len(set.containers))

	return set, nil
}

// Close unmaps every container in the set.
func (s *containerSet) Close() {
	for _, c := range s.containers {
		_ = c.Close()
	}
}

// current returns the container the walk points at.
func (s *containerSet) current() *container {
	return s.containers[s.pos]
}

// advance moves the walk to the next container, reporting false at the end.
func (s *containerSet) advance() bool {
	if s.pos+1 >= len(s.containers) {
		return false
	}
	s.pos++

	return true
}
