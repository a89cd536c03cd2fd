package fs

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"testing"
	"time"

	"extendfs/internal/extend"
	"extendfs/internal/state"

	"bazil.org/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingObserver captures everything the filesystem reports.
type recordingObserver struct {
	mu       sync.Mutex
	times    []bool
	stores   []string
	remounts []error
	pages    int
}

func (o *recordingObserver) ObserveTimeUpdate(_ extend.TimeKind, committed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.times = append(o.times, committed)
}

func (o *recordingObserver) ObserveWriteback(string, int64, int64) {}

func (o *recordingObserver) ObserveStore(attr string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stores = append(o.stores, attr)
}

func (o *recordingObserver) ObserveRemount(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.remounts = append(o.remounts, err)
}

func (o *recordingObserver) ObservePagesWritten(pages int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pages += pages
}

func setupTestFS(t *testing.T, opts Options) (*FS, string) {
	t.Helper()

	sourceDir := t.TempDir()
	stateManager, err := state.NewManager(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	fsState, err := stateManager.LoadState()
	require.NoError(t, err)

	if opts.WritebackInterval == 0 {
		opts.WritebackInterval = time.Hour
	}
	vfs, err := NewFS(sourceDir, fsState, stateManager, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vfs.Close() })

	return vfs, sourceDir
}

func rootDir(t *testing.T, vfs *FS) *Dir {
	t.Helper()
	root, err := vfs.Root()
	require.NoError(t, err)
	return root.(*Dir)
}

func direntNames(entries []fuse.Dirent) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

func lookupDir(t *testing.T, d *Dir, name string) *Dir {
	t.Helper()
	node, err := d.Lookup(context.Background(), name)
	require.NoError(t, err)
	dir, ok := node.(*Dir)
	require.True(t, ok, "%q is a %T", name, node)
	return dir
}

func TestNewFS(t *testing.T) {
	t.Run("MissingSource", func(t *testing.T) {
		_, err := NewFS(filepath.Join(t.TempDir(), "missing"), nil, nil, Options{})
		assert.Error(t, err)
	})

	t.Run("BadOptions", func(t *testing.T) {
		_, err := NewFS(t.TempDir(), nil, nil, Options{MountOptions: "delayupdatetime=abc"})
		assert.ErrorIs(t, err, extend.ErrInvalidValue)
	})

	t.Run("Defaults", func(t *testing.T) {
		vfs, err := NewFS(t.TempDir(), nil, nil, Options{})
		require.NoError(t, err)
		defer vfs.Close()

		assert.Equal(t, DefaultWritebackInterval, vfs.Flusher().interval)
		assert.Equal(t, int64(DefaultPagesPerPass), vfs.Flusher().pagesPerPass)
		assert.True(t, vfs.Config().Options().Has(extend.OptValid))
		assert.Empty(t, vfs.Control().Nodes())
	})
}

func TestDirOperations(t *testing.T) {
	vfs, sourceDir := setupTestFS(t, Options{})
	ctx := context.Background()

	// Create some test files in source directory
	testFiles := []string{
		"file1.txt",
		"dir1/file2.txt",
		"dir1/dir2/file3.txt",
	}
	for _, tf := range testFiles {
		fullPath := filepath.Join(sourceDir, tf)
		require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0755))
		require.NoError(t, os.WriteFile(fullPath, []byte("test content"), 0644))
	}

	root := rootDir(t, vfs)

	t.Run("RootDirectory", func(t *testing.T) {
		var attr fuse.Attr
		require.NoError(t, root.Attr(ctx, &attr))
		assert.True(t, attr.Mode.IsDir())
		assert.Equal(t, vfs.uid, attr.Uid)

		entries, err := root.ReadDirAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{".", "..", ControlDirName, "dir1", "file1.txt"}, direntNames(entries))
	})

	t.Run("LookupFile", func(t *testing.T) {
		node, err := root.Lookup(ctx, "file1.txt")
		require.NoError(t, err)
		file, ok := node.(*File)
		require.True(t, ok)
		assert.Equal(t, "file1.txt", file.inode.Path())

		again, err := root.Lookup(ctx, "file1.txt")
		require.NoError(t, err)
		assert.Same(t, file.inode, again.(*File).inode, "lookups share one inode")
	})

	t.Run("LookupMissing", func(t *testing.T) {
		_, err := root.Lookup(ctx, "nope")
		assert.Equal(t, syscall.ENOENT, err)
	})

	t.Run("LookupControlDir", func(t *testing.T) {
		node, err := root.Lookup(ctx, ControlDirName)
		require.NoError(t, err)
		assert.Same(t, vfs.Control(), node)

		// Only the root carries the control directory.
		dir1 := lookupDir(t, root, "dir1")
		_, err = dir1.Lookup(ctx, ControlDirName)
		assert.Equal(t, syscall.ENOENT, err)
	})

	t.Run("NestedListing", func(t *testing.T) {
		dir1 := lookupDir(t, root, "dir1")
		entries, err := dir1.ReadDirAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{".", "..", "dir2", "file2.txt"}, direntNames(entries))

		dir2 := lookupDir(t, dir1, "dir2")
		assert.Equal(t, "dir1/dir2", dir2.path.String())
	})

	t.Run("CreateDirectory", func(t *testing.T) {
		node, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: "newdir", Mode: os.ModeDir | 0755})
		require.NoError(t, err)
		assert.Equal(t, "newdir", node.(*Dir).path.String())

		info, err := os.Stat(filepath.Join(sourceDir, "newdir"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("CreateDirectoryUmask", func(t *testing.T) {
		_, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: "masked", Mode: os.ModeDir | 0777, Umask: 0077})
		require.NoError(t, err)

		info, err := os.Stat(filepath.Join(sourceDir, "masked"))
		require.NoError(t, err)
		assert.Zero(t, info.Mode().Perm()&0077)
	})

	t.Run("CreateExisting", func(t *testing.T) {
		_, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: "dir1", Mode: os.ModeDir | 0755})
		assert.Equal(t, syscall.EEXIST, err)
	})

	t.Run("RemoveDirectory", func(t *testing.T) {
		_, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: "gone", Mode: os.ModeDir | 0755})
		require.NoError(t, err)

		require.NoError(t, root.Remove(ctx, &fuse.RemoveRequest{Name: "gone", Dir: true}))
		_, err = os.Stat(filepath.Join(sourceDir, "gone"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("RemoveNonEmpty", func(t *testing.T) {
		err := root.Remove(ctx, &fuse.RemoveRequest{Name: "dir1", Dir: true})
		assert.Equal(t, syscall.ENOTEMPTY, err)
	})

	t.Run("RemoveFileDropsXattrs", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "tagged.txt"), nil, 0644))
		node, err := root.Lookup(ctx, "tagged.txt")
		require.NoError(t, err)
		require.NoError(t, node.(*File).Setxattr(ctx, &fuse.SetxattrRequest{Name: "user.tag", Xattr: []byte("x")}))

		require.NoError(t, root.Remove(ctx, &fuse.RemoveRequest{Name: "tagged.txt"}))

		vfs.mu.RLock()
		_, exists := vfs.state.GetXattr("tagged.txt", "user.tag")
		_, loaded := vfs.inodes["tagged.txt"]
		vfs.mu.RUnlock()
		assert.False(t, exists)
		assert.False(t, loaded)
	})

	t.Run("RenameDirectory", func(t *testing.T) {
		_, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: "src", Mode: os.ModeDir | 0755})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "src", "inner.txt"), []byte("x"), 0644))

		src := lookupDir(t, root, "src")
		node, err := src.Lookup(ctx, "inner.txt")
		require.NoError(t, err)
		inner := node.(*File)
		require.NoError(t, inner.Setxattr(ctx, &fuse.SetxattrRequest{Name: "user.k", Xattr: []byte("v")}))

		dst := lookupDir(t, root, "newdir")
		require.NoError(t, root.Rename(ctx, &fuse.RenameRequest{OldName: "src", NewName: "moved"}, dst))

		_, err = os.Stat(filepath.Join(sourceDir, "newdir", "moved", "inner.txt"))
		require.NoError(t, err)
		assert.Equal(t, "newdir/moved/inner.txt", inner.inode.Path())

		value, ok := inner.inode.GetXattr("user.k")
		assert.True(t, ok)
		assert.Equal(t, []byte("v"), value)
	})

	t.Run("RenameAcrossDevices", func(t *testing.T) {
		err := root.Rename(ctx, &fuse.RenameRequest{OldName: "file1.txt", NewName: "x"}, vfs.Control())
		assert.Equal(t, syscall.EXDEV, err)
	})

	t.Run("InvalidName", func(t *testing.T) {
		for _, name := range []string{"", ".", "..", "a/b", "nul\x00"} {
			_, err := root.Lookup(ctx, name)
			assert.Equal(t, syscall.EINVAL, err, "lookup %q", name)

			_, err = root.Mkdir(ctx, &fuse.MkdirRequest{Name: name, Mode: os.ModeDir | 0755})
			assert.Equal(t, syscall.EINVAL, err, "mkdir %q", name)

			_, _, err = root.Create(ctx, &fuse.CreateRequest{Name: name, Mode: 0644}, &fuse.CreateResponse{})
			assert.Equal(t, syscall.EINVAL, err, "create %q", name)

			err = root.Rename(ctx, &fuse.RenameRequest{OldName: "file1.txt", NewName: name}, root)
			assert.Equal(t, syscall.EINVAL, err, "rename to %q", name)
		}
		_, err := os.Stat(filepath.Join(sourceDir, "file1.txt"))
		assert.NoError(t, err)
	})

	t.Run("ReservedName", func(t *testing.T) {
		_, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: ControlDirName, Mode: os.ModeDir | 0755})
		assert.Equal(t, syscall.EEXIST, err)

		_, _, err = root.Create(ctx, &fuse.CreateRequest{Name: ControlDirName, Mode: 0644}, &fuse.CreateResponse{})
		assert.Equal(t, syscall.EEXIST, err)

		err = root.Remove(ctx, &fuse.RemoveRequest{Name: ControlDirName, Dir: true})
		assert.Equal(t, syscall.EROFS, err)

		err = root.Rename(ctx, &fuse.RenameRequest{OldName: "file1.txt", NewName: ControlDirName}, root)
		assert.Equal(t, syscall.EROFS, err)
	})

	t.Run("ShadowedSourceEntryHidden", func(t *testing.T) {
		require.NoError(t, os.Mkdir(filepath.Join(sourceDir, ControlDirName), 0755))
		defer os.Remove(filepath.Join(sourceDir, ControlDirName))

		entries, err := root.ReadDirAll(ctx)
		require.NoError(t, err)
		count := 0
		for _, e := range entries {
			if e.Name == ControlDirName {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})

	t.Run("DirSetattr", func(t *testing.T) {
		when := time.Unix(1_700_000_000, 0)
		var resp fuse.SetattrResponse
		req := &fuse.SetattrRequest{
			Valid: fuse.SetattrMode | fuse.SetattrMtime,
			Mode:  os.ModeDir | 0700,
			Mtime: when,
		}
		dir1 := lookupDir(t, root, "dir1")
		require.NoError(t, dir1.Setattr(ctx, req, &resp))

		info, err := os.Stat(filepath.Join(sourceDir, "dir1"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
		assert.True(t, info.ModTime().Equal(when))
		assert.True(t, resp.Attr.Mtime.Equal(when))
	})
}

func TestCreate(t *testing.T) {
	vfs, sourceDir := setupTestFS(t, Options{})
	ctx := context.Background()
	root := rootDir(t, vfs)

	node, handle, err := root.Create(ctx, &fuse.CreateRequest{
		Name:  "new.txt",
		Flags: fuse.OpenReadWrite | fuse.OpenCreate,
		Mode:  0644,
	}, &fuse.CreateResponse{})
	require.NoError(t, err)

	fh := handle.(*FileHandle)
	require.NoError(t, fh.Write(ctx, &fuse.WriteRequest{Data: []byte("created")}, &fuse.WriteResponse{}))

	// Data is cached until the last handle goes away.
	content, err := os.ReadFile(filepath.Join(sourceDir, "new.txt"))
	require.NoError(t, err)
	assert.Empty(t, content)

	require.NoError(t, fh.Release(ctx, &fuse.ReleaseRequest{}))
	content, err = os.ReadFile(filepath.Join(sourceDir, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "created", string(content))

	var attr fuse.Attr
	require.NoError(t, node.Attr(ctx, &attr))
	assert.Equal(t, uint64(len("created")), attr.Size)

	t.Run("Exclusive", func(t *testing.T) {
		_, _, err := root.Create(ctx, &fuse.CreateRequest{
			Name:  "new.txt",
			Flags: fuse.OpenReadWrite | fuse.OpenCreate | fuse.OpenExclusive,
			Mode:  0644,
		}, &fuse.CreateResponse{})
		assert.Equal(t, syscall.EEXIST, err)
	})

	t.Run("Truncate", func(t *testing.T) {
		_, handle, err := root.Create(ctx, &fuse.CreateRequest{
			Name:  "new.txt",
			Flags: fuse.OpenReadWrite | fuse.OpenCreate | fuse.OpenTruncate,
			Mode:  0644,
		}, &fuse.CreateResponse{})
		require.NoError(t, err)
		fh := handle.(*FileHandle)
		assert.Zero(t, fh.inode.Size())
		require.NoError(t, fh.Release(ctx, &fuse.ReleaseRequest{}))

		info, err := os.Stat(filepath.Join(sourceDir, "new.txt"))
		require.NoError(t, err)
		assert.Zero(t, info.Size())
	})
}
