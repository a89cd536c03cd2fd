package fs

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"extendfs/internal/extend"
	"extendfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// Setxattr flags, as in setxattr(2).
const (
	xattrCreate  = 0x1
	xattrReplace = 0x2
)

// File represents a file of the source tree backed by an inode.
type File struct {
	fs    *FS
	inode *Inode
}

func (f *File) fullPath() string {
	return NewSourcePath(f.inode.Path()).FullPath(f.fs.sourceDir)
}

// Attr implements the Node interface, returning the file's attributes.
func (f *File) Attr(_ context.Context, a *fuse.Attr) error {
	path := f.inode.Path()
	fileLogger.Trace("Getting attributes for file: %q", path)

	info, err := os.Lstat(f.fullPath())
	if err != nil {
		if os.IsNotExist(err) {
			fileLogger.Warn("Source file not found: %q", path)
			return syscall.ENOENT
		}
		fileLogger.Error("Failed to stat file: %v", err)
		return ToFuseError(NewFSError(OpGetattr, path, err))
	}
	f.inode.refresh(info)

	ts := f.inode.Timestamps()
	size := f.inode.Size()

	a.Mode = info.Mode()
	a.Size = safeInt64ToUint64(size)
	a.Atime = ts.Atime
	a.Mtime = ts.Mtime
	a.Ctime = ts.Ctime
	a.Uid = f.fs.uid
	a.Gid = f.fs.gid
	a.BlockSize = extend.PageSize
	a.Blocks = safeInt64ToUint64((size + 511) / 512)

	fileLogger.Trace("File attributes: mode=%v, size=%d, mtime=%v",
		a.Mode, a.Size, a.Mtime)
	return nil
}

// Setattr implements the NodeSetattrer interface. Size and mode changes
// always commit ctime; explicit atime/mtime values are applied as given.
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	path := f.inode.Path()
	fileLogger.Debug("Setattr on %q: %v", path, req.Valid)

	kinds := extend.TimeKind(0)
	if req.Valid.Size() {
		f.inode.truncate(int64(req.Size))
		if err := os.Truncate(f.fullPath(), int64(req.Size)); err != nil {
			fileLogger.Error("Failed to truncate %q: %v", path, err)
			return ToFuseError(NewFSError(OpSetattr, path, err))
		}
		kinds |= extend.TimeModify | extend.TimeChange | extend.TimeVersion
	}
	if req.Valid.Mode() {
		if err := os.Chmod(f.fullPath(), req.Mode); err != nil {
			return ToFuseError(NewFSError(OpSetattr, path, err))
		}
		kinds |= extend.TimeChange | extend.TimeVersion
	}
	if req.Valid.Atime() || req.Valid.Mtime() {
		kinds |= extend.TimeChange | extend.TimeVersion
	}
	if kinds != 0 {
		f.fs.touch(f.inode, kinds)
	}

	if req.Valid.Atime() || req.Valid.Mtime() {
		var atime, mtime *time.Time
		if req.Valid.Atime() {
			t := setattrTime(req.Atime, req.Valid.AtimeNow(), f.fs.now)
			atime = &t
		}
		if req.Valid.Mtime() {
			t := setattrTime(req.Mtime, req.Valid.MtimeNow(), f.fs.now)
			mtime = &t
		}
		f.inode.setTimes(atime, mtime)
	}

	return f.Attr(ctx, &resp.Attr)
}

// Open implements the NodeOpener interface, opening the underlying source file.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, _ *fuse.OpenResponse) (fusefs.Handle, error) {
	path := f.inode.Path()
	fileLogger.Debug("Opening file %q with flags %v", path, req.Flags)

	// Writes land in the page cache; the source is only read through the handle.
	file, err := os.Open(f.fullPath())
	if err != nil {
		fileLogger.Error("Failed to open file: %v", err)
		return nil, ToFuseError(NewFSError(OpOpen, path, err))
	}

	fileLogger.Debug("Successfully opened file %q", path)
	return f.newHandle(file), nil
}

func (f *File) newHandle(file *os.File) *FileHandle {
	f.inode.mu.Lock()
	f.inode.openCount++
	f.inode.mu.Unlock()
	return &FileHandle{fs: f.fs, inode: f.inode, file: file}
}

// Fsync implements the NodeFsyncer interface with an unthrottled writeback.
func (f *File) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	fileLogger.Debug("Fsync %q", f.inode.Path())
	if err := f.fs.flusher.SyncInode(f.inode); err != nil {
		return ToFuseError(NewFSError(OpFsync, f.inode.Path(), err))
	}
	return nil
}

// Getxattr implements the NodeGetxattrer interface, retrieving an extended attribute.
func (f *File) Getxattr(_ context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	path := f.inode.Path()
	fileLogger.Debug("Getting xattr %q for file %q", req.Name, path)

	f.fs.mu.RLock()
	value, exists := f.fs.state.GetXattr(path, req.Name)
	f.fs.mu.RUnlock()

	if !exists {
		fileLogger.Trace("Xattr %q not found for %q", req.Name, path)
		return fuse.ErrNoXattr
	}
	if req.Size != 0 && int(req.Size) < len(value) {
		return syscall.ERANGE
	}

	resp.Xattr = value
	fileLogger.Trace("Retrieved xattr %q: %d bytes", req.Name, len(value))
	return nil
}

// Setxattr implements the NodeSetxattrer interface, setting an extended attribute.
func (f *File) Setxattr(_ context.Context, req *fuse.SetxattrRequest) error {
	path := f.inode.Path()
	fileLogger.Debug("Setting xattr %q for file %q (size: %d bytes)", req.Name, path, len(req.Xattr))

	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	_, exists := f.fs.state.GetXattr(path, req.Name)
	switch {
	case req.Flags&xattrCreate != 0 && exists:
		return syscall.EEXIST
	case req.Flags&xattrReplace != 0 && !exists:
		return fuse.ErrNoXattr
	}

	f.fs.state.SetXattr(path, req.Name, req.Xattr)

	// Save the updated state
	if err := f.fs.saveStateLocked(); err != nil {
		fileLogger.Error("Failed to save state after setting xattr: %v", err)
		return ToFuseError(NewFSError(OpXattr, path, err))
	}

	fileLogger.Trace("Xattr %q set successfully", req.Name)
	return nil
}

// Listxattr implements the NodeListxattrer interface, listing all extended attributes.
func (f *File) Listxattr(_ context.Context, req *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	path := f.inode.Path()
	fileLogger.Debug("Listing xattrs for file %q", path)

	f.fs.mu.RLock()
	names := f.fs.state.ListXattrs(path)
	f.fs.mu.RUnlock()

	for _, name := range names {
		resp.Append(name)
	}
	if req.Size != 0 && int(req.Size) < len(resp.Xattr) {
		return syscall.ERANGE
	}

	fileLogger.Trace("Listed %d xattrs", len(names))
	return nil
}

// Removexattr implements the NodeRemovexattrer interface, removing an extended attribute.
func (f *File) Removexattr(_ context.Context, req *fuse.RemovexattrRequest) error {
	path := f.inode.Path()
	fileLogger.Debug("Removing xattr %q for file %q", req.Name, path)

	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if !f.fs.state.RemoveXattr(path, req.Name) {
		fileLogger.Trace("Xattr %q not found for %q", req.Name, path)
		return fuse.ErrNoXattr
	}

	if err := f.fs.saveStateLocked(); err != nil {
		fileLogger.Error("Failed to save state after removing xattr: %v", err)
		return ToFuseError(NewFSError(OpXattr, path, err))
	}

	fileLogger.Trace("Xattr %q removed successfully", req.Name)
	return nil
}

// FileHandle represents an open file handle.
// Reads come from the source file overlaid with the inode's dirty pages;
// writes only dirty pages.
type FileHandle struct {
	fs    *FS
	inode *Inode
	file  *os.File
	once  sync.Once
}

// Read implements the HandleReader interface, reading data from the file.
func (fh *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fileLogger.Trace("Reading %d bytes from file %q at offset %d",
		req.Size, fh.inode.Path(), req.Offset)

	buf := make([]byte, req.Size)
	n, err := fh.inode.readAt(fh.file, buf, req.Offset)
	if err != nil {
		fileLogger.Error("Failed to read from file: %v", err)
		return ToFuseError(NewFSError(OpRead, fh.inode.Path(), err))
	}
	resp.Data = buf[:n]

	fh.fs.touch(fh.inode, extend.TimeAccess)
	fileLogger.Trace("Successfully read %d bytes", n)
	return nil
}

// Write implements the HandleWriter interface, dirtying the page cache.
func (fh *FileHandle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	fileLogger.Trace("Writing %d bytes to file %q at offset %d",
		len(req.Data), fh.inode.Path(), req.Offset)

	n, err := fh.inode.write(fh.file, req.Data, req.Offset)
	resp.Size = n
	if err != nil {
		fileLogger.Error("Failed to write to file: %v", err)
		return ToFuseError(NewFSError(OpWrite, fh.inode.Path(), err))
	}

	fh.fs.touch(fh.inode, extend.TimeModify|extend.TimeChange)
	return nil
}

// Flush implements the HandleFlusher interface. Data stays cached until
// writeback or the last release.
func (fh *FileHandle) Flush(_ context.Context, _ *fuse.FlushRequest) error {
	fileLogger.Trace("Flush %q", fh.inode.Path())
	return nil
}

// Release implements the HandleReleaser interface. Releasing the last
// handle of a file writes all its dirty pages back.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	var err error
	fh.once.Do(func() {
		fileLogger.Debug("Closing file %q", fh.inode.Path())

		fh.inode.mu.Lock()
		fh.inode.openCount--
		last := fh.inode.openCount == 0
		fh.inode.mu.Unlock()

		if last {
			err = fh.fs.flusher.SyncInode(fh.inode)
		}
		if closeErr := fh.file.Close(); err == nil {
			err = closeErr
		}
	})
	return ToFuseError(err)
}
