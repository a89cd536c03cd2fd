package fs

import (
	"context"
	"errors"
	"os"
	"strings"
	"syscall"

	"extendfs/internal/extend"
	"extendfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// ControlDirName is the root entry holding the live configuration nodes.
const ControlDirName = "." + extend.Namespace

// Dir represents a directory of the source tree.
type Dir struct {
	fs   *FS
	path *SourcePath
}

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(_ context.Context, a *fuse.Attr) error {
	dirLogger.Trace("Getting attributes for directory: %q", d.path.String())

	info, err := os.Stat(d.path.FullPath(d.fs.sourceDir))
	if err != nil {
		dirLogger.Warn("Failed to stat directory %q: %v", d.path.String(), err)
		return ToFuseError(NewFSError(OpGetattr, d.path.String(), err))
	}

	a.Mode = info.Mode()
	a.Size = safeInt64ToUint64(info.Size())
	a.Atime, a.Mtime, a.Ctime = statTimes(info)
	a.Uid = d.fs.uid
	a.Gid = d.fs.gid
	return nil
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (d *Dir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	dirLogger.Debug("Looking up %q in directory %q", name, d.path.String())

	if err := checkName(OpLookup, name); err != nil {
		return nil, ToFuseError(err)
	}
	if d.path.IsRoot() && name == ControlDirName {
		return d.fs.control, nil
	}

	child := d.path.Join(name)
	info, err := os.Lstat(child.FullPath(d.fs.sourceDir))
	if err != nil {
		dirLogger.Debug("Path not found: %q", child.String())
		return nil, ToFuseError(err)
	}

	if info.IsDir() {
		return &Dir{fs: d.fs, path: child}, nil
	}

	inode, err := d.fs.inode(child)
	if err != nil {
		return nil, ToFuseError(err)
	}
	return &File{fs: d.fs, inode: inode}, nil
}

// ReadDirAll implements the HandleReadDirAller interface, listing directory contents.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	dirLogger.Debug("Reading directory contents: %q", d.path.String())

	children, err := os.ReadDir(d.path.FullPath(d.fs.sourceDir))
	if err != nil {
		dirLogger.Error("Failed to read directory %q: %v", d.path.String(), err)
		return nil, ToFuseError(NewFSError(OpReadDir, d.path.String(), err))
	}

	entries := make([]fuse.Dirent, 0, len(children)+3)
	entries = append(entries, fuse.Dirent{Name: ".", Type: fuse.DT_Dir})
	entries = append(entries, fuse.Dirent{Name: "..", Type: fuse.DT_Dir})

	if d.path.IsRoot() {
		entries = append(entries, fuse.Dirent{Name: ControlDirName, Type: fuse.DT_Dir})
	}

	for _, child := range children {
		if d.path.IsRoot() && child.Name() == ControlDirName {
			continue
		}
		entries = append(entries, fuse.Dirent{
			Name: child.Name(),
			Type: direntType(child.Type()),
		})
	}

	dirLogger.Debug("Directory %q contains %d entries", d.path.String(), len(entries))
	return entries, nil
}

func direntType(mode os.FileMode) fuse.DirentType {
	switch {
	case mode.IsDir():
		return fuse.DT_Dir
	case mode&os.ModeSymlink != 0:
		return fuse.DT_Link
	case mode.IsRegular():
		return fuse.DT_File
	default:
		return fuse.DT_Unknown
	}
}

// reserved reports whether name shadows the control directory.
func (d *Dir) reserved(name string) bool {
	return d.path.IsRoot() && name == ControlDirName
}

// Mkdir implements the NodeMkdirer interface, creating a directory in the source.
// checkName rejects names that are not a single directory entry.
func checkName(op, name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return NewFSError(op, name, ErrInvalidPath)
	}
	return nil
}

func (d *Dir) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	dirLogger.Info("Creating new directory %q in %q", req.Name, d.path.String())

	if err := checkName(OpMkdir, req.Name); err != nil {
		return nil, ToFuseError(err)
	}
	if d.reserved(req.Name) {
		return nil, ToFuseError(NewFSError(OpMkdir, req.Name, ErrAlreadyExists))
	}

	child := d.path.Join(req.Name)
	if err := os.Mkdir(child.FullPath(d.fs.sourceDir), req.Mode.Perm()&^req.Umask.Perm()); err != nil {
		dirLogger.Error("Failed to create directory %q: %v", child.String(), err)
		return nil, ToFuseError(NewFSError(OpMkdir, child.String(), err))
	}

	dirLogger.Info("Successfully created directory: %s", child.String())
	return &Dir{fs: d.fs, path: child}, nil
}

// Create implements the NodeCreater interface, creating and opening a file.
func (d *Dir) Create(_ context.Context, req *fuse.CreateRequest, _ *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	dirLogger.Info("Creating file %q in %q", req.Name, d.path.String())

	if err := checkName(OpCreate, req.Name); err != nil {
		return nil, nil, ToFuseError(err)
	}
	if d.reserved(req.Name) {
		return nil, nil, ToFuseError(NewFSError(OpCreate, req.Name, ErrAlreadyExists))
	}

	child := d.path.Join(req.Name)
	flags := int(req.Flags)&(os.O_EXCL|os.O_TRUNC) | os.O_CREATE | os.O_RDONLY
	f, err := os.OpenFile(child.FullPath(d.fs.sourceDir), flags, req.Mode.Perm()&^req.Umask.Perm())
	if err != nil {
		dirLogger.Error("Failed to create %q: %v", child.String(), err)
		return nil, nil, ToFuseError(NewFSError(OpCreate, child.String(), err))
	}

	inode, err := d.fs.inode(child)
	if err != nil {
		f.Close()
		return nil, nil, ToFuseError(err)
	}
	if req.Flags&fuse.OpenTruncate != 0 {
		inode.truncate(0)
	}

	file := &File{fs: d.fs, inode: inode}
	return file, file.newHandle(f), nil
}

// Remove implements the NodeRemover interface, removing a file or directory.
func (d *Dir) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	dirLogger.Info("Removing %q from directory %q (isDir=%v)",
		req.Name, d.path.String(), req.Dir)

	if d.reserved(req.Name) {
		return ToFuseError(NewFSError(OpRemove, req.Name, ErrReadOnly))
	}

	child := d.path.Join(req.Name)
	full := child.FullPath(d.fs.sourceDir)

	var err error
	if req.Dir {
		err = syscall.Rmdir(full)
	} else {
		err = syscall.Unlink(full)
	}
	if errors.Is(err, syscall.ENOTEMPTY) {
		err = ErrDirectoryNotEmpty
	}
	if err != nil {
		dirLogger.Warn("Failed to remove %q: %v", child.String(), err)
		return ToFuseError(NewFSError(OpRemove, child.String(), err))
	}

	d.fs.forget(child.String())

	d.fs.mu.Lock()
	d.fs.state.RemovePath(child.String())
	err = d.fs.saveStateLocked()
	d.fs.mu.Unlock()

	if err != nil {
		dirLogger.Error("Failed to save state: %v", err)
		return ToFuseError(err)
	}

	dirLogger.Info("Successfully removed %q", child.String())
	return nil
}

// Rename implements the NodeRenamer interface, renaming/moving a file or directory.
func (d *Dir) Rename(_ context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	dirLogger.Info("Renaming %q to %q", req.OldName, req.NewName)

	target, ok := newDir.(*Dir)
	if !ok {
		dirLogger.Warn("Cannot move into %T", newDir)
		return syscall.EXDEV
	}
	if err := checkName(OpRename, req.OldName); err != nil {
		return ToFuseError(err)
	}
	if err := checkName(OpRename, req.NewName); err != nil {
		return ToFuseError(err)
	}
	if d.reserved(req.OldName) || target.reserved(req.NewName) {
		return ToFuseError(NewFSError(OpRename, req.OldName, ErrReadOnly))
	}

	oldPath := d.path.Join(req.OldName)
	newPath := target.path.Join(req.NewName)
	dirLogger.Debug("Rename operation: %q -> %q", oldPath.String(), newPath.String())

	if err := os.Rename(oldPath.FullPath(d.fs.sourceDir), newPath.FullPath(d.fs.sourceDir)); err != nil {
		dirLogger.Warn("Rename failed: %v", err)
		return ToFuseError(NewFSError(OpRename, oldPath.String(), err))
	}

	d.fs.renameInodes(oldPath.String(), newPath.String())

	d.fs.mu.Lock()
	d.fs.state.RenamePath(oldPath.String(), newPath.String())
	err := d.fs.saveStateLocked()
	d.fs.mu.Unlock()

	if err != nil {
		dirLogger.Error("Failed to save state: %v", err)
		return ToFuseError(err)
	}

	dirLogger.Info("Successfully completed rename operation")
	return nil
}

// Setattr implements the NodeSetattrer interface for mode and time changes.
func (d *Dir) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	full := d.path.FullPath(d.fs.sourceDir)

	if req.Valid.Mode() {
		if err := os.Chmod(full, req.Mode); err != nil {
			return ToFuseError(NewFSError(OpSetattr, d.path.String(), err))
		}
	}
	if req.Valid.Atime() || req.Valid.Mtime() {
		info, err := os.Stat(full)
		if err != nil {
			return ToFuseError(NewFSError(OpSetattr, d.path.String(), err))
		}
		atime, mtime, _ := statTimes(info)
		if req.Valid.Atime() {
			atime = setattrTime(req.Atime, req.Valid.AtimeNow(), d.fs.now)
		}
		if req.Valid.Mtime() {
			mtime = setattrTime(req.Mtime, req.Valid.MtimeNow(), d.fs.now)
		}
		if err := utimes(full, atime, mtime); err != nil {
			return ToFuseError(NewFSError(OpSetattr, d.path.String(), err))
		}
	}

	return d.Attr(ctx, &resp.Attr)
}
