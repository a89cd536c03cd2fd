package extend

import (
	"strings"
	"time"
)

// TimeKind selects which inode timestamps an update touches.
type TimeKind uint8

const (
	TimeAccess TimeKind = 1 << iota
	TimeChange
	TimeModify
	TimeVersion
)

func (k TimeKind) String() string {
	var parts []string
	for _, p := range []struct {
		kind TimeKind
		name string
	}{
		{TimeAccess, "atime"},
		{TimeChange, "ctime"},
		{TimeModify, "mtime"},
		{TimeVersion, "version"},
	} {
		if k&p.kind != 0 {
			parts = append(parts, p.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Timestamps are the current timestamps of a file.
type Timestamps struct {
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// TimeCommitter is a file whose timestamps can be updated.
type TimeCommitter interface {
	Timestamps() Timestamps
	// CommitTime stores now into every timestamp selected by kinds.
	CommitTime(now time.Time, kinds TimeKind)
}

// elapsedMillis may be negative when the clock went backwards.
func elapsedMillis(old, now time.Time) int64 {
	return (now.Unix()-old.Unix())*1000 +
		int64(now.Nanosecond()-old.Nanosecond())/int64(time.Millisecond)
}

// ShouldCommitNow decides whether a timestamp update must be written now or
// can be skipped because the previous ctime/mtime change is recent enough.
// Version and access time updates are never skipped.
func (c *Config) ShouldCommitNow(existing Timestamps, now time.Time, kinds TimeKind) bool {
	opts, delay := c.timePolicy()

	if !opts.Has(OptDelayUpdateTime) {
		return true
	}
	if delay == 0 {
		return true
	}
	if kinds&TimeVersion != 0 {
		return true
	}
	if kinds&TimeAccess != 0 {
		return true
	}
	if kinds&TimeChange != 0 && elapsedMillis(existing.Ctime, now) >= int64(delay) {
		return true
	}
	if kinds&TimeModify != 0 && elapsedMillis(existing.Mtime, now) >= int64(delay) {
		return true
	}
	return false
}

// UpdateTime commits the update through f unless the policy skips it, and
// reports whether it committed. A skipped update leaves f untouched.
func (c *Config) UpdateTime(f TimeCommitter, now time.Time, kinds TimeKind) bool {
	commit := c.ShouldCommitNow(f.Timestamps(), now, kinds)
	if c.observer != nil {
		c.observer.ObserveTimeUpdate(kinds, commit)
	}
	if !commit {
		logger.Trace("Skipped %s update", kinds)
		return false
	}
	f.CommitTime(now, kinds)
	return true
}
