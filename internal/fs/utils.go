package fs

import (
	"time"

	"golang.org/x/sys/unix"
)

func safeInt64ToUint64(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}

// setattrTime resolves an explicit time from a setattr request.
func setattrTime(t time.Time, useNow bool, now func() time.Time) time.Time {
	if useNow {
		return now()
	}
	return t
}

// utimes sets atime and mtime of a source file without following symlinks.
func utimes(path string, atime, mtime time.Time) error {
	ts := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	return unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, unix.AT_SYMLINK_NOFOLLOW)
}
