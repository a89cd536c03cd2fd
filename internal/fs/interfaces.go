package fs

import (
	"bazil.org/fuse/fs"
)

// Node represents a filesystem node (file or directory)
type Node interface {
	fs.Node
	fs.NodeSetattrer
}

// Directory represents a directory of the source tree
type Directory interface {
	Node
	fs.NodeStringLookuper
	fs.HandleReadDirAller
	fs.NodeMkdirer
	fs.NodeCreater
	fs.NodeRemover
	fs.NodeRenamer
}

// FileInterface represents a file of the source tree
type FileInterface interface {
	Node
	fs.NodeOpener
	fs.NodeFsyncer
	fs.NodeGetxattrer
	fs.NodeSetxattrer
	fs.NodeListxattrer
	fs.NodeRemovexattrer
}

// FileHandleInterface represents an open file handle
type FileHandleInterface interface {
	fs.Handle
	fs.HandleReader
	fs.HandleWriter
	fs.HandleFlusher
	fs.HandleReleaser
}

// ControlNode represents a live configuration file
type ControlNode interface {
	Node
	fs.NodeOpener
	fs.HandleReader
	fs.HandleWriter
}

var (
	_ fs.FS                 = (*FS)(nil)
	_ Directory             = (*Dir)(nil)
	_ FileInterface         = (*File)(nil)
	_ FileHandleInterface   = (*FileHandle)(nil)
	_ ControlNode           = (*ControlFile)(nil)
	_ fs.NodeStringLookuper = (*ControlDir)(nil)
	_ fs.HandleReadDirAller = (*ControlDir)(nil)
)
