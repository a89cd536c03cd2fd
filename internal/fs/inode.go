package fs

import (
	"errors"
	"io"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"extendfs/internal/extend"
	"extendfs/internal/logging"
)

var (
	inodeLogger = logging.GetLogger().WithPrefix("inode")
)

// Inode is the in-memory state of one regular file: its FUSE-visible
// timestamps, a change counter and the dirty page cache that the flusher
// writes back to the source file.
type Inode struct {
	fs *FS

	mu         sync.Mutex
	path       string // source-relative, renamed under fs.mu and mu
	atime      time.Time
	mtime      time.Time
	ctime      time.Time
	version    uint64
	size       int64            // logical size including dirty pages
	pages      map[int64][]byte // page index -> PageSize bytes
	timesDirty bool             // timestamps not yet pushed to the source
	openCount  int
	unlinked   bool // dropped from the inode table by remove or rename-over
}

var (
	_ extend.TimeCommitter = (*Inode)(nil)
	_ extend.WritebackFile = (*Inode)(nil)
)

func newInode(vfs *FS, path string, info os.FileInfo) *Inode {
	i := &Inode{
		fs:    vfs,
		path:  path,
		size:  info.Size(),
		pages: make(map[int64][]byte),
	}
	i.atime, i.mtime, i.ctime = statTimes(info)
	return i
}

// inode returns the inode of a source path, loading it on first use.
func (vfs *FS) inode(sp *SourcePath) (*Inode, error) {
	vfs.mu.RLock()
	i, ok := vfs.inodes[sp.String()]
	vfs.mu.RUnlock()
	if ok {
		return i, nil
	}

	info, err := os.Lstat(sp.FullPath(vfs.sourceDir))
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, syscall.EISDIR
	}

	vfs.mu.Lock()
	defer vfs.mu.Unlock()
	if i, ok := vfs.inodes[sp.String()]; ok {
		return i, nil
	}
	i = newInode(vfs, sp.String(), info)
	vfs.inodes[sp.String()] = i
	inodeLogger.Trace("Loaded inode %q (size %d)", i.path, i.size)
	return i, nil
}

// forget drops the inodes of p and everything below it.
func (vfs *FS) forget(p string) {
	vfs.mu.Lock()
	defer vfs.mu.Unlock()
	for key, i := range vfs.inodes {
		if _, ok := underSource(key, p); ok {
			delete(vfs.inodes, key)
			i.markUnlinked()
		}
	}
}

func (i *Inode) markUnlinked() {
	i.mu.Lock()
	i.unlinked = true
	i.mu.Unlock()
}

// renameInodes moves the inodes of oldPath and everything below it.
func (vfs *FS) renameInodes(oldPath, newPath string) {
	vfs.mu.Lock()
	defer vfs.mu.Unlock()

	moved := make(map[string]*Inode)
	for key, i := range vfs.inodes {
		if rest, ok := underSource(key, oldPath); ok {
			delete(vfs.inodes, key)
			moved[joinSource(newPath, rest)] = i
		} else if _, ok := underSource(key, newPath); ok {
			delete(vfs.inodes, key)
			i.markUnlinked()
		}
	}
	for key, i := range moved {
		i.mu.Lock()
		i.path = key
		i.mu.Unlock()
		vfs.inodes[key] = i
	}
}

// snapshotInodes returns every loaded inode.
func (vfs *FS) snapshotInodes() []*Inode {
	vfs.mu.RLock()
	defer vfs.mu.RUnlock()
	inodes := make([]*Inode, 0, len(vfs.inodes))
	for _, i := range vfs.inodes {
		inodes = append(inodes, i)
	}
	return inodes
}

// Path returns the source-relative path of the file.
func (i *Inode) Path() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.path
}

// GetXattr reads an extended attribute from the state store.
func (i *Inode) GetXattr(name string) ([]byte, bool) {
	path := i.Path()
	i.fs.mu.RLock()
	defer i.fs.mu.RUnlock()
	return i.fs.state.GetXattr(path, name)
}

// Timestamps returns the current timestamps.
func (i *Inode) Timestamps() extend.Timestamps {
	i.mu.Lock()
	defer i.mu.Unlock()
	return extend.Timestamps{Atime: i.atime, Mtime: i.mtime, Ctime: i.ctime}
}

// CommitTime stores now into the selected timestamps. A ctime or version
// update also bumps the change counter.
func (i *Inode) CommitTime(now time.Time, kinds extend.TimeKind) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if kinds&extend.TimeAccess != 0 {
		i.atime = now
	}
	if kinds&extend.TimeModify != 0 {
		i.mtime = now
	}
	if kinds&extend.TimeChange != 0 {
		i.ctime = now
	}
	if kinds&(extend.TimeChange|extend.TimeVersion) != 0 {
		i.version++
	}
	i.timesDirty = true
}

// Version returns the change counter.
func (i *Inode) Version() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.version
}

// Size returns the logical size.
func (i *Inode) Size() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.size
}

// DirtyPages returns the number of pages waiting for writeback.
func (i *Inode) DirtyPages() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.pages)
}

// setTimes applies explicit atime/mtime changes, as from utimensat(2).
func (i *Inode) setTimes(atime, mtime *time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if atime != nil {
		i.atime = *atime
	}
	if mtime != nil {
		i.mtime = *mtime
	}
	i.timesDirty = true
}

// refresh picks up the size of a clean file changed behind our back.
func (i *Inode) refresh(info os.FileInfo) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.pages) == 0 {
		i.size = info.Size()
	}
}

// readAt fills buf from src overlaid with the dirty pages.
func (i *Inode) readAt(src io.ReaderAt, buf []byte, off int64) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if off >= i.size {
		return 0, nil
	}
	if remaining := i.size - off; int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}

	n, err := src.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	clear(buf[n:])

	for idx := off / extend.PageSize; idx*extend.PageSize < off+int64(len(buf)); idx++ {
		page, ok := i.pages[idx]
		if !ok {
			continue
		}
		pageStart := idx * extend.PageSize
		from := max(off, pageStart)
		to := min(off+int64(len(buf)), pageStart+extend.PageSize)
		copy(buf[from-off:to-off], page[from-pageStart:to-pageStart])
	}
	return len(buf), nil
}

// write copies data into the page cache, loading partially overwritten
// pages from src first.
func (i *Inode) write(src io.ReaderAt, data []byte, off int64) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	end := off + int64(len(data))
	for pos := off; pos < end; {
		idx := pos / extend.PageSize
		pageStart := idx * extend.PageSize
		to := min(end, pageStart+extend.PageSize)

		page, ok := i.pages[idx]
		if !ok {
			page = make([]byte, extend.PageSize)
			whole := pos == pageStart && to == pageStart+extend.PageSize
			if !whole && pageStart < i.size {
				if err := i.fillPage(src, page, pageStart); err != nil {
					return int(pos - off), err
				}
			}
			i.pages[idx] = page
		}
		copy(page[pos-pageStart:to-pageStart], data[pos-off:to-off])
		pos = to
	}

	if end > i.size {
		i.size = end
	}
	return len(data), nil
}

// fillPage loads the current content of a page, i.mu held.
func (i *Inode) fillPage(src io.ReaderAt, page []byte, pageStart int64) error {
	valid := min(extend.PageSize, i.size-pageStart)
	n, err := src.ReadAt(page[:valid], pageStart)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	clear(page[n:])
	return nil
}

// truncate drops cached data beyond size and sets the logical size.
func (i *Inode) truncate(size int64) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for idx, page := range i.pages {
		pageStart := idx * extend.PageSize
		switch {
		case pageStart >= size:
			delete(i.pages, idx)
		case pageStart+extend.PageSize > size:
			clear(page[size-pageStart:])
		}
	}
	i.size = size
}

// dirtyIndexes returns the cached page indexes in ascending order, i.mu held.
func (i *Inode) dirtyIndexes() []int64 {
	idxs := make([]int64, 0, len(i.pages))
	for idx := range i.pages {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(a, b int) bool { return idxs[a] < idxs[b] })
	return idxs
}
