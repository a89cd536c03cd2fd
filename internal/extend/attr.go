package extend

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Namespace is the name of the per-mount directory holding the nodes.
const Namespace = "extend"

// Attribute names.
const (
	AttrDelayUpdateTime = "delay_update_time"
	AttrWBEnable        = "wb_enable"
)

// attribute maps a node name onto one Config field. load and store run with
// the config lock held.
type attribute struct {
	name     string
	mode     os.FileMode
	width    int // bytes
	requires Flags
	load     func(c *Config) uint64
	store    func(c *Config, v uint64)
}

var attributes = []attribute{
	{
		name:     AttrDelayUpdateTime,
		mode:     0644,
		width:    4,
		requires: OptDelayUpdateTime,
		load:     func(c *Config) uint64 { return uint64(c.delayUpdateTime) },
		store:    func(c *Config, v uint64) { c.delayUpdateTime = uint32(v) },
	},
	{
		name:     AttrWBEnable,
		mode:     0644,
		width:    4,
		requires: OptWBNice,
		load:     func(c *Config) uint64 { return uint64(c.wbEnable) },
		store:    func(c *Config, v uint64) { c.wbEnable = uint32(v) },
	},
}

// Node is one live configuration file bound to a mount's config.
type Node struct {
	attr *attribute
	cfg  *Config
}

// Name returns the node's file name.
func (n *Node) Name() string { return n.attr.name }

// Mode returns the node's permission bits.
func (n *Node) Mode() os.FileMode { return n.attr.mode }

// Width returns the size in bytes of the backing field.
func (n *Node) Width() int { return n.attr.width }

// Value reads the backing field.
func (n *Node) Value() uint64 {
	n.cfg.mu.Lock()
	v := n.attr.load(n.cfg)
	n.cfg.mu.Unlock()
	return v
}

// Show renders the value as a decimal line.
func (n *Node) Show() string {
	return strconv.FormatUint(n.Value(), 10) + "\n"
}

// Store parses text as an unsigned integer (0x/0/decimal auto-detected) and
// writes it truncated to the field width. A malformed value leaves the field
// untouched and returns ErrInvalidValue.
func (n *Node) Store(text string) error {
	v, err := parseUint(strings.TrimLeft(text, " \t\n\v\f\r"))
	if err == nil {
		n.cfg.mu.Lock()
		n.attr.store(n.cfg, v)
		n.cfg.mu.Unlock()
	}
	if n.cfg.observer != nil {
		n.cfg.observer.ObserveStore(n.attr.name, err)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", n.attr.name, err)
	}
	logger.Debug("Set %s/%s to %d", Namespace, n.attr.name, v)
	return nil
}

// NodeDir is where a mount publishes its configuration nodes.
type NodeDir interface {
	CreateNode(n *Node) error
	RemoveNode(name string)
}

// Register creates one node in dir for every attribute whose options are all
// enabled. It does nothing for a config that was never mounted. If any node
// fails, the nodes created so far are removed again.
func (c *Config) Register(dir NodeDir) error {
	opts := c.Options()
	if !opts.Has(OptValid) {
		return nil
	}
	if c.dir != nil {
		return nil
	}

	for i := range attributes {
		a := &attributes[i]
		if !opts.Has(a.requires) {
			continue
		}
		if err := dir.CreateNode(&Node{attr: a, cfg: c}); err != nil {
			logger.Error("Failed to create %s/%s: %v", Namespace, a.name, err)
			c.removeNodes(dir)
			return fmt.Errorf("%w %s/%s: %v", ErrRegistration, Namespace, a.name, err)
		}
		c.created = append(c.created, a.name)
	}

	c.dir = dir
	logger.Debug("Registered %d configuration nodes", len(c.created))
	return nil
}

// Unregister removes every node created by Register.
func (c *Config) Unregister() {
	if c.dir == nil {
		return
	}
	c.removeNodes(c.dir)
	c.dir = nil
}

func (c *Config) removeNodes(dir NodeDir) {
	for _, name := range c.created {
		dir.RemoveNode(name)
	}
	c.created = nil
}

// parseUint accepts an optional "+", then a "0x" prefix for
// hex, a leading "0" for octal, decimal otherwise. One trailing newline is
// allowed.
func parseUint(s string) (uint64, error) {
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimPrefix(s, "+")

	base := 10
	switch {
	case len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X'):
		base, s = 16, s[2:]
	case len(s) > 1 && s[0] == '0':
		base, s = 8, s[1:]
	}

	// ParseUint with an explicit base rejects signs and underscores.
	v, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, ErrInvalidValue
	}
	return v, nil
}
