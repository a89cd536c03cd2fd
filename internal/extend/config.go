// Package extend implements the per-mount I/O policy engine: the deferred
// timestamp-commit policy and the per-file writeback throttle, together with
// the option parser and live configuration nodes that tune them.
package extend

import (
	"sync"

	"extendfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("extend")
)

// Flags is the set of enabled extended options for a mount.
type Flags uint32

const (
	// OptValid marks a config that has been initialised by a mount.
	OptValid Flags = 1 << iota
	// OptDelayUpdateTime enables the deferred timestamp-commit policy.
	OptDelayUpdateTime
	// OptWBNice enables the per-file writeback throttle.
	OptWBNice
)

// DefaultDelayUpdateTime is the threshold in milliseconds used when
// delayupdatetime is given without a value.
const DefaultDelayUpdateTime = 1000

// Has reports whether every flag in want is set.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}

// Observer receives policy decisions. Implementations must not block.
type Observer interface {
	ObserveTimeUpdate(kinds TimeKind, committed bool)
	ObserveWriteback(file string, before, after int64)
	ObserveStore(attr string, err error)
}

// Config is the policy state of one mount instance.
//
// Every field is guarded by mu; call sites only go through the methods
// below. The registration fields are owned by the mount lifecycle
// (Register/Unregister run on the mount and unmount paths, never
// concurrently with each other).
type Config struct {
	mu              sync.Mutex
	opts            Flags
	delayUpdateTime uint32
	wbEnable        uint32

	observer Observer

	dir     NodeDir
	created []string
}

// NewConfig returns an empty, not yet mounted config. obs may be nil.
func NewConfig(obs Observer) *Config {
	return &Config{observer: obs}
}

// Options returns the enabled option flags.
func (c *Config) Options() Flags {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// DelayUpdateTime returns the timestamp commit threshold in milliseconds.
func (c *Config) DelayUpdateTime() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delayUpdateTime
}

// WritebackNiceEnabled reports whether the wb_enable sub-toggle is on.
func (c *Config) WritebackNiceEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wbEnable != 0
}

// SetDelayUpdateTime sets the commit threshold without touching the flags.
func (c *Config) SetDelayUpdateTime(ms uint32) {
	c.mu.Lock()
	c.delayUpdateTime = ms
	c.mu.Unlock()
}

// SetWritebackNiceEnabled flips the wb_enable sub-toggle.
func (c *Config) SetWritebackNiceEnabled(enabled bool) {
	var v uint32
	if enabled {
		v = 1
	}
	c.mu.Lock()
	c.wbEnable = v
	c.mu.Unlock()
}

// Snapshot is a consistent copy of the tunables.
type Snapshot struct {
	Options              Flags
	DelayUpdateTime      uint32
	WritebackNiceEnabled bool
}

// Snapshot copies all tunables under a single lock acquisition.
func (c *Config) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Options:              c.opts,
		DelayUpdateTime:      c.delayUpdateTime,
		WritebackNiceEnabled: c.wbEnable != 0,
	}
}

// timePolicy returns the flags and threshold consulted by ShouldCommitNow.
func (c *Config) timePolicy() (Flags, uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts, c.delayUpdateTime
}

func (c *Config) writebackPolicy() (Flags, uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts, c.wbEnable
}
