//go:build !linux

package fs

import (
	"os"
	"time"
)

// statTimes returns the modification time for all three timestamps.
func statTimes(info os.FileInfo) (atime, mtime, ctime time.Time) {
	return info.ModTime(), info.ModTime(), info.ModTime()
}
