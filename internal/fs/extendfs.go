package fs

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"extendfs/internal/extend"
	"extendfs/internal/logging"
	"extendfs/internal/state"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	vfsLogger = logging.GetLogger().WithPrefix("vfs")
)

// Observer receives policy decisions and filesystem events.
type Observer interface {
	extend.Observer
	ObserveRemount(err error)
	ObservePagesWritten(pages int)
}

type nopObserver struct{}

func (nopObserver) ObserveTimeUpdate(extend.TimeKind, bool) {}
func (nopObserver) ObserveWriteback(string, int64, int64) {}
func (nopObserver) ObserveStore(string, error) {}
func (nopObserver) ObserveRemount(error) {}
func (nopObserver) ObservePagesWritten(int) {}

// Options configures a filesystem instance.
type Options struct {
	// MountOptions is the ";"-separated extended option string
	MountOptions string

	// AllowOther lets other users access the mount
	AllowOther bool

	// WritebackInterval is the period of background writeback passes
	WritebackInterval time.Duration

	// PagesPerPass is the page quota of one background pass over one file
	PagesPerPass int64

	// Observer may be nil
	Observer Observer
}

// Default writeback settings used when Options leaves them zero.
const (
	DefaultWritebackInterval = 5 * time.Second
	DefaultPagesPerPass      = 8192
)

// FS is a passthrough filesystem over a source directory whose timestamp
// updates and writeback are governed by a per-mount extend.Config.
type FS struct {
	sourceDir    string         // Root directory of source files
	state        *state.FSState // Current filesystem state
	stateManager *state.Manager // Manages state persistence
	cfg          *extend.Config
	observer     Observer
	control      *ControlDir
	flusher      *Flusher
	inodes       map[string]*Inode // keyed by source-relative path
	conn         *fuse.Conn        // FUSE connection
	mountpoint   string
	allowOther   bool
	served       chan error
	uid          uint32 // User ID for filesystem operations
	gid          uint32 // Group ID for filesystem operations
	now          func() time.Time
	closeOnce    sync.Once
	mu           sync.RWMutex // Protects state, inodes and inode paths
}

// NewFS creates a filesystem instance for sourceDir. The extended options
// are parsed as a first mount and the live configuration nodes are
// registered in the .extend control directory.
func NewFS(sourceDir string, st *state.FSState, stateManager *state.Manager, opts Options) (*FS, error) {
	vfsLogger.Info("Creating new filesystem")
	vfsLogger.Debug("Source directory: %s", sourceDir)

	// Check if source directory is readable
	if _, err := os.ReadDir(sourceDir); err != nil {
		vfsLogger.Error("Cannot read source directory: %v", err)
		return nil, fmt.Errorf("source directory not readable: %w", err)
	}

	// Get UID/GID from environment if set
	uid := safeIntToUint32(os.Getuid())
	gid := safeIntToUint32(os.Getgid())

	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			uid = uint32(puid)
			vfsLogger.Debug("Using PUID from environment: %d", uid)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			gid = uint32(pgid)
			vfsLogger.Debug("Using PGID from environment: %d", gid)
		}
	}

	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	if st == nil {
		st = state.NewFSState()
	}

	vfs := &FS{
		sourceDir:    sourceDir,
		state:        st,
		stateManager: stateManager,
		cfg:          extend.NewConfig(observer),
		observer:     observer,
		inodes:       make(map[string]*Inode),
		allowOther:   opts.AllowOther,
		uid:          uid,
		gid:          gid,
		now:          time.Now,
	}

	if err := vfs.cfg.ParseOptions(opts.MountOptions, false); err != nil {
		vfsLogger.Error("Bad extended mount options: %v", err)
		return nil, err
	}

	vfs.control = newControlDir(vfs)
	if err := vfs.cfg.Register(vfs.control); err != nil {
		return nil, err
	}

	interval := opts.WritebackInterval
	if interval <= 0 {
		interval = DefaultWritebackInterval
	}
	pages := opts.PagesPerPass
	if pages <= 0 {
		pages = DefaultPagesPerPass
	}
	vfs.flusher = newFlusher(vfs, interval, pages)

	vfsLogger.Info("Filesystem created (options %q)", vfs.cfg.Snapshot().String())
	return vfs, nil
}

// Config returns the policy config of this mount.
func (vfs *FS) Config() *extend.Config {
	return vfs.cfg
}

// Control returns the directory holding the live configuration nodes.
func (vfs *FS) Control() *ControlDir {
	return vfs.control
}

// Flusher returns the background writeback flusher.
func (vfs *FS) Flusher() *Flusher {
	return vfs.flusher
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (vfs *FS) Root() (fusefs.Node, error) {
	vfsLogger.Trace("Getting root directory node")
	return &Dir{
		fs:   vfs,
		path: NewSourcePath(""),
	}, nil
}

func waitForMount(mountpoint string) error {
	for i := 0; i < 30; i++ {
		info, err := os.Stat(mountpoint)
		if err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("mount point not available after 3 seconds")
}

// Mount mounts the filesystem, starts serving it and starts background
// writeback.
func (vfs *FS) Mount(mountPoint string) error {
	vfsLogger.Info("Mounting filesystem")
	vfsLogger.Debug("Mount point: %s", mountPoint)
	vfsLogger.Debug("Source directory: %s", vfs.sourceDir)
	vfsLogger.Debug("UID: %d, GID: %d", vfs.uid, vfs.gid)

	mountOpts := []fuse.MountOption{
		fuse.FSName("extendfs"),
		fuse.Subtype("extendfs"),
		fuse.DefaultPermissions(),
	}
	if vfs.allowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}

	c, err := fuse.Mount(mountPoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	vfs.conn = c
	vfs.mountpoint = mountPoint
	vfs.served = make(chan error, 1)

	go func() {
		err := fusefs.Serve(c, vfs)
		if err != nil {
			vfsLogger.Error("FUSE server error: %v", err)
		}
		vfs.served <- err
	}()

	// Wait for mount to be ready
	if err := waitForMount(mountPoint); err != nil {
		c.Close()
		vfsLogger.Error("Mount point not ready: %v", err)
		return fmt.Errorf("mount point failed to initialize: %w", err)
	}

	vfs.flusher.Start()
	vfs.recordMount()

	vfsLogger.Info("Filesystem mounted successfully")
	return nil
}

// Wait blocks until the FUSE server stops.
func (vfs *FS) Wait() error {
	if vfs.served == nil {
		return errors.New("not mounted")
	}
	return <-vfs.served
}

// Unmount cleanly unmounts the filesystem.
func (vfs *FS) Unmount() error {
	vfsLogger.Info("Unmounting filesystem from: %s", vfs.mountpoint)
	if vfs.conn == nil {
		return nil
	}
	err := fuse.Unmount(vfs.mountpoint)
	if err != nil {
		vfsLogger.Error("Unmount failed: %v", err)
	} else {
		vfsLogger.Info("Unmount completed successfully")
	}
	return err
}

// Remount re-parses the extended options on the live mount. Configuration
// nodes registered at mount time are left as they are.
func (vfs *FS) Remount(options string) error {
	vfsLogger.Info("Remounting with options %q", options)
	err := vfs.cfg.ParseOptions(options, true)
	vfs.observer.ObserveRemount(err)
	if err != nil {
		vfsLogger.Error("Remount failed: %v", err)
		return err
	}
	vfs.recordMount()
	return nil
}

// Close tears the mount down: the configuration nodes go first, then all
// dirty data is written back and the state is saved.
func (vfs *FS) Close() error {
	var err error
	vfs.closeOnce.Do(func() {
		vfs.cfg.Unregister()
		vfs.flusher.Stop()

		vfs.mu.Lock()
		err = vfs.saveStateLocked()
		vfs.mu.Unlock()

		if vfs.conn != nil {
			if closeErr := vfs.conn.Close(); err == nil {
				err = closeErr
			}
		}
	})
	return err
}

func (vfs *FS) recordMount() {
	vfs.mu.Lock()
	defer vfs.mu.Unlock()

	vfs.state.Mount = state.MountRecord{
		Source:     vfs.sourceDir,
		Mountpoint: vfs.mountpoint,
		Options:    vfs.cfg.Snapshot().String(),
		MountedAt:  vfs.now(),
	}
	if err := vfs.saveStateLocked(); err != nil {
		vfsLogger.Warn("Failed to record mount: %v", err)
	}
}

// saveStateLocked persists the state; vfs.mu must be held.
func (vfs *FS) saveStateLocked() error {
	if vfs.stateManager == nil {
		return nil
	}
	return vfs.stateManager.SaveState(vfs.state)
}

// touch runs an implicit timestamp update through the policy.
func (vfs *FS) touch(i *Inode, kinds extend.TimeKind) bool {
	return vfs.cfg.UpdateTime(i, vfs.now(), kinds)
}
