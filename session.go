// SPDX-License-Identifier: MIT
// Copyright (c) 2026 MusouMods
// Source: github.com/musoumods/linkdata

package linkdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Session tracks where one game install keeps its containers and index
// files. Resolved paths are cached by marker and survive restarts through
// Save/LoadSession; the container and index name lists come from the
// active Config, not from disk.
type Session struct {
	// InstallFolder is the game folder holding containers and index files.
	InstallFolder string `json:"install_folder"`
	// ContainerPaths caches resolved container paths by marker.
	ContainerPaths map[byte]string `json:"container_paths,omitempty"`
	// IndexPaths caches resolved index file paths by marker.
	IndexPaths map[byte]string `json:"idx_paths,omitempty"`

	// Containers lists container file names in marker order.
	Containers []string `json:"-"`
	// IndexFiles lists index file names in marker order.
	IndexFiles []string `json:"-"`
}

// NewSession builds session state for cfg rooted at installFolder.
// Index files already present under the install folder resolve eagerly.
func NewSession(installFolder string, cfg Config) *Session {
	s := &Session{
		InstallFolder:  installFolder,
		ContainerPaths: make(map[byte]string),
		IndexPaths:     make(map[byte]string),
		Containers:     cfg.Containers,
		IndexFiles:     cfg.IndexFiles,
	}

	if installFolder == "" {
		return s
	}
	for i, name := range cfg.IndexFiles {
		if i > math.MaxUint8 {
			break
		}
		if p := filepath.Join(installFolder, name); isRegular(p) {
			s.IndexPaths[byte(i)] = p
		}
	}

	return s
}

// LoadSession restores session state from path, dropping cached paths that
// no longer exist. A missing file yields an empty session, not an error.
func LoadSession(path string, cfg Config) (*Session, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewSession("", cfg), nil
		}

		return nil, fmt.Errorf("read session: %w", err)
	}

	s := &Session{}
	if err := json.Unmarshal(blob, s); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}

	s.Containers = cfg.Containers
	s.IndexFiles = cfg.IndexFiles
	if s.ContainerPaths == nil {
		s.ContainerPaths = make(map[byte]string)
	}
	if s.IndexPaths == nil {
		s.IndexPaths = make(map[byte]string)
	}

	for marker, p := range s.ContainerPaths {
		if !isRegular(p) {
			delete(s.ContainerPaths, marker)
		}
	}
	for marker, p := range s.IndexPaths {
		if !isRegular(p) {
			delete(s.IndexPaths, marker)
		}
	}
	if s.InstallFolder != "" {
		if info, err := os.Stat(s.InstallFolder); err != nil || !info.IsDir() {
			s.InstallFolder = ""
		}
	}

	return s, nil
}

// Save writes the session state to path as indented JSON.
func (s *Session) Save(path string) error {
	blob, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	return nil
}

// indexMarker maps a container marker to its index marker. One shared
// index serving several containers holds every entry under marker zero.
func (s *Session) indexMarker(marker byte) byte {
	if len(s.IndexFiles) == 1 && len(s.Containers) > 1 {
		return 0
	}

	return marker
}

// IndexPath resolves the index file for marker, checking the cache first
// and then the install folder.
func (s *Session) IndexPath(marker byte) (string, error) {
	m := s.indexMarker(marker)
	if p, ok := s.IndexPaths[m]; ok && isRegular(p) {
		return p, nil
	}
	if s.InstallFolder != "" && int(m) < len(s.IndexFiles) {
		if p := filepath.Join(s.InstallFolder, s.IndexFiles[m]); isRegular(p) {
			s.SetIndexPath(m, p)

			return p, nil
		}
	}

	return "", fmt.Errorf("%w: index for marker %d", ErrPathUnresolved, marker)
}

// ContainerPath resolves the container file for marker, checking the
// cache first and then the install folder.
func (s *Session) ContainerPath(marker byte) (string, error) {
	if p, ok := s.ContainerPaths[marker]; ok && isRegular(p) {
		return p, nil
	}
	if s.InstallFolder != "" && int(marker) < len(s.Containers) {
		if p := filepath.Join(s.InstallFolder, s.Containers[marker]); isRegular(p) {
			s.SetContainerPath(marker, p)

			return p, nil
		}
	}

	return "", fmt.Errorf("%w: container for marker %d", ErrPathUnresolved, marker)
}

// SetContainerPath caches the container path for marker.
func (s *Session) SetContainerPath(marker byte, path string) {
	if s.ContainerPaths == nil {
		s.ContainerPaths = make(map[byte]string)
	}
	s.ContainerPaths[marker] = path
}

// SetIndexPath caches the index file path for marker.
func (s *Session) SetIndexPath(marker byte, path string) {
	if s.IndexPaths == nil {
		s.IndexPaths = make(map[byte]string)
	}
	s.IndexPaths[marker] = path
}
