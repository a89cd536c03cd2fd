package fs

import (
	"context"
	"os"
	"sort"
	"sync"

	"extendfs/internal/extend"
	"extendfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"bazil.org/fuse/fuseutil"
)

var (
	ctlLogger = logging.GetLogger().WithPrefix("control")
)

// ControlDir is the .extend directory at the root of a mount. It holds one
// file per live configuration node: reading shows the value, writing
// stores a new one.
type ControlDir struct {
	fs    *FS
	mu    sync.RWMutex
	nodes map[string]*extend.Node
}

var _ extend.NodeDir = (*ControlDir)(nil)

func newControlDir(vfs *FS) *ControlDir {
	return &ControlDir{fs: vfs, nodes: make(map[string]*extend.Node)}
}

// CreateNode publishes a node.
func (c *ControlDir) CreateNode(n *extend.Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.nodes[n.Name()]; exists {
		return NewFSError(OpCreate, n.Name(), ErrAlreadyExists)
	}
	c.nodes[n.Name()] = n
	ctlLogger.Debug("Published %s/%s", ControlDirName, n.Name())
	return nil
}

// RemoveNode withdraws a node.
func (c *ControlDir) RemoveNode(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, name)
	ctlLogger.Debug("Withdrew %s/%s", ControlDirName, name)
}

// Node returns a published node by name.
func (c *ControlDir) Node(name string) (*extend.Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[name]
	return n, ok
}

// Nodes returns the published nodes sorted by name.
func (c *ControlDir) Nodes() []*extend.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nodes := make([]*extend.Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(a, b int) bool { return nodes[a].Name() < nodes[b].Name() })
	return nodes
}

// Attr implements the Node interface.
func (c *ControlDir) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | 0755
	a.Uid = c.fs.uid
	a.Gid = c.fs.gid
	return nil
}

// Lookup implements the NodeStringLookuper interface.
func (c *ControlDir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	n, ok := c.Node(name)
	if !ok {
		return nil, ToFuseError(NewFSError(OpLookup, name, ErrPathNotFound))
	}
	return &ControlFile{fs: c.fs, node: n}, nil
}

// ReadDirAll implements the HandleReadDirAller interface.
func (c *ControlDir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	entries := []fuse.Dirent{
		{Name: ".", Type: fuse.DT_Dir},
		{Name: "..", Type: fuse.DT_Dir},
	}
	for _, n := range c.Nodes() {
		entries = append(entries, fuse.Dirent{Name: n.Name(), Type: fuse.DT_File})
	}
	return entries, nil
}

// ControlFile exposes one configuration node as a file.
type ControlFile struct {
	fs   *FS
	node *extend.Node
}

// Attr implements the Node interface.
func (cf *ControlFile) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = cf.node.Mode()
	a.Size = uint64(len(cf.node.Show()))
	a.Uid = cf.fs.uid
	a.Gid = cf.fs.gid
	return nil
}

// Open implements the NodeOpener interface. Content is generated on every
// read, so the kernel page cache is bypassed.
func (cf *ControlFile) Open(_ context.Context, _ *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	resp.Flags |= fuse.OpenDirectIO
	return cf, nil
}

// Read implements the HandleReader interface.
func (cf *ControlFile) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fuseutil.HandleRead(req, resp, []byte(cf.node.Show()))
	return nil
}

// Write implements the HandleWriter interface. The whole buffer is one
// value; malformed values fail with EINVAL.
func (cf *ControlFile) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	if err := cf.node.Store(string(req.Data)); err != nil {
		ctlLogger.Warn("Rejected write to %s/%s: %v", ControlDirName, cf.node.Name(), err)
		return ToFuseError(err)
	}
	resp.Size = len(req.Data)
	return nil
}

// Setattr implements the NodeSetattrer interface so that O_TRUNC opens
// succeed; nothing but truncation to zero is accepted.
func (cf *ControlFile) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Mode() || req.Valid.Uid() || req.Valid.Gid() || (req.Valid.Size() && req.Size != 0) {
		return ToFuseError(NewFSError(OpSetattr, cf.node.Name(), ErrReadOnly))
	}
	return cf.Attr(ctx, &resp.Attr)
}
