// Package state provides persistent state management for the filesystem.
package state

import (
	"path"
	"sort"
	"strings"
	"time"
)

// CurrentVersion is the state file format version written by SaveState.
const CurrentVersion = 2

// FSState represents the filesystem state.
//
// FSState is not safe for concurrent use; the filesystem guards it with its
// own lock.
type FSState struct {
	// Extended attributes keyed by source-relative path, then attribute name
	Xattrs map[string]map[string][]byte `json:"xattrs"`

	// Last successful mount
	Mount MountRecord `json:"mount"`

	// Version for future compatibility
	Version int `json:"version"`
}

// MountRecord describes the last mount of a source directory.
type MountRecord struct {
	Source     string    `json:"source"`
	Mountpoint string    `json:"mountpoint"`
	Options    string    `json:"options"`
	MountedAt  time.Time `json:"mounted_at"`
}

// NewFSState returns an empty state.
func NewFSState() *FSState {
	return &FSState{
		Xattrs:  make(map[string]map[string][]byte),
		Version: CurrentVersion,
	}
}

// GetXattr returns a copy of the named attribute of a file.
func (s *FSState) GetXattr(file, name string) ([]byte, bool) {
	attrs, ok := s.Xattrs[file]
	if !ok {
		return nil, false
	}
	value, ok := attrs[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), value...), true
}

// SetXattr stores a copy of value.
func (s *FSState) SetXattr(file, name string, value []byte) {
	attrs, ok := s.Xattrs[file]
	if !ok {
		attrs = make(map[string][]byte)
		s.Xattrs[file] = attrs
	}
	attrs[name] = append([]byte{}, value...)
}

// RemoveXattr deletes an attribute and reports whether it existed.
func (s *FSState) RemoveXattr(file, name string) bool {
	attrs, ok := s.Xattrs[file]
	if !ok {
		return false
	}
	if _, ok := attrs[name]; !ok {
		return false
	}
	delete(attrs, name)
	if len(attrs) == 0 {
		delete(s.Xattrs, file)
	}
	return true
}

// ListXattrs returns the attribute names of a file in sorted order.
func (s *FSState) ListXattrs(file string) []string {
	attrs := s.Xattrs[file]
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RenamePath moves the attributes of oldPath and of everything below it to
// newPath. Attributes already recorded at the destination are replaced.
func (s *FSState) RenamePath(oldPath, newPath string) {
	moved := make(map[string]map[string][]byte)
	for file, attrs := range s.Xattrs {
		if rel, ok := underPath(file, oldPath); ok {
			moved[path.Join(newPath, rel)] = attrs
			delete(s.Xattrs, file)
		}
	}
	for file := range s.Xattrs {
		if _, ok := underPath(file, newPath); ok {
			delete(s.Xattrs, file)
		}
	}
	for file, attrs := range moved {
		s.Xattrs[file] = attrs
	}
}

// RemovePath forgets the attributes of p and of everything below it.
func (s *FSState) RemovePath(p string) {
	for file := range s.Xattrs {
		if _, ok := underPath(file, p); ok {
			delete(s.Xattrs, file)
		}
	}
}

// underPath reports whether file is dir or lies below it, and returns the
// remainder relative to dir.
func underPath(file, dir string) (string, bool) {
	if file == dir {
		return "", true
	}
	if dir == "" {
		return file, true
	}
	if rest, ok := strings.CutPrefix(file, dir+"/"); ok {
		return rest, true
	}
	return "", false
}
