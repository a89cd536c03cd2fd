package fs

import (
	"os"
	"syscall"
	"time"
)

// statTimes returns atime, mtime and ctime of a file.
func statTimes(info os.FileInfo) (atime, mtime, ctime time.Time) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime(), info.ModTime(), info.ModTime()
	}
	return time.Unix(st.Atim.Unix()), time.Unix(st.Mtim.Unix()), time.Unix(st.Ctim.Unix())
}
