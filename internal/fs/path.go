package fs

import (
	"path/filepath"
	"strings"

	"extendfs/internal/logging"
)

var (
	pathLogger = logging.GetLogger().WithPrefix("path")
)

// SourcePath represents a path in the actual source filesystem.
// All paths are stored relative to the source root directory.
type SourcePath struct {
	// relative path from source root
	path string
}

// NewSourcePath creates a new SourcePath instance.
// It cleans the path and ensures it's relative to the source root.
func NewSourcePath(path string) *SourcePath {
	// Clean and ensure relative
	cleaned := filepath.Clean(path)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "." {
		cleaned = ""
	}
	pathLogger.Trace("Creating new source path: %q -> %q", path, cleaned)
	return &SourcePath{path: cleaned}
}

// String returns the string representation of the path
func (sp *SourcePath) String() string {
	return sp.path
}

// FullPath returns the absolute path by joining with the source root
func (sp *SourcePath) FullPath(sourceRoot string) string {
	full := filepath.Join(sourceRoot, sp.path)
	pathLogger.Trace("Getting full path: %q + %q -> %q", sourceRoot, sp.path, full)
	return full
}

// Parent returns a SourcePath representing the parent directory
func (sp *SourcePath) Parent() *SourcePath {
	parent := filepath.Dir(sp.path)
	if parent == "." {
		parent = ""
	}
	pathLogger.Trace("Getting parent path: %q -> %q", sp.path, parent)
	return NewSourcePath(parent)
}

// Base returns the last element of the path
func (sp *SourcePath) Base() string {
	return filepath.Base(sp.path)
}

// Join returns the path of a child entry
func (sp *SourcePath) Join(name string) *SourcePath {
	return NewSourcePath(joinSource(sp.path, name))
}

// IsRoot returns true for the source root itself
func (sp *SourcePath) IsRoot() bool {
	return sp.path == ""
}

// joinSource joins source-relative paths, "" being the root.
func joinSource(dir, rest string) string {
	switch {
	case dir == "":
		return rest
	case rest == "":
		return dir
	}
	return dir + "/" + rest
}

// underSource reports whether p is dir or lies below it, and returns the
// remainder relative to dir.
func underSource(p, dir string) (string, bool) {
	if p == dir {
		return "", true
	}
	if dir == "" {
		return p, true
	}
	if rest, ok := strings.CutPrefix(p, dir+"/"); ok {
		return rest, true
	}
	return "", false
}
