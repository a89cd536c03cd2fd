package fs

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"extendfs/internal/extend"
	"extendfs/internal/logging"
)

var (
	wbLogger = logging.GetLogger().WithPrefix("writeback")
)

// Flusher writes dirty pages back to the source directory. Background
// passes are throttled per file by the mount's writeback policy; explicit
// syncs are not.
type Flusher struct {
	fs           *FS
	interval     time.Duration
	pagesPerPass int64

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func newFlusher(vfs *FS, interval time.Duration, pagesPerPass int64) *Flusher {
	return &Flusher{
		fs:           vfs,
		interval:     interval,
		pagesPerPass: pagesPerPass,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the background loop.
func (w *Flusher) Start() {
	w.startOnce.Do(func() {
		wbLogger.Debug("Starting writeback every %v, %d pages per pass", w.interval, w.pagesPerPass)
		go w.loop()
	})
}

func (w *Flusher) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.RunPass()
		}
	}
}

// Stop ends the background loop and writes everything back.
func (w *Flusher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		// A flusher that never started has no loop to wait for.
		w.startOnce.Do(func() { close(w.done) })
		<-w.done

		for _, i := range w.fs.snapshotInodes() {
			if err := w.SyncInode(i); err != nil {
				wbLogger.Error("Final writeback of %q failed: %v", i.Path(), err)
			}
		}
		wbLogger.Debug("Writeback stopped")
	})
}

// RunPass runs one background pass over every dirty file and returns the
// number of pages written.
func (w *Flusher) RunPass() int {
	total := 0
	for _, i := range w.fs.snapshotInodes() {
		if !i.needsWriteback() {
			continue
		}
		wbc := &extend.WritebackControl{NrToWrite: w.pagesPerPass}
		n, err := w.writeback(i, wbc)
		switch {
		case err == nil:
		case IsTemporary(err):
			wbLogger.Debug("Writeback of %q deferred: %v", i.Path(), err)
		default:
			wbLogger.Error("Writeback of %q failed: %v", i.Path(), err)
		}
		total += n
	}
	if total > 0 {
		wbLogger.Debug("Background pass wrote %d pages", total)
	}
	return total
}

// SyncInode writes all dirty pages and timestamps of one file.
func (w *Flusher) SyncInode(i *Inode) error {
	if !i.needsWriteback() {
		return nil
	}
	_, err := w.writeback(i, &extend.WritebackControl{NrToWrite: extend.MaxNrToWrite})
	return err
}

// writeback writes up to wbc.NrToWrite of the lowest dirty pages of i, then
// pushes the timestamps once no dirty page is left.
func (w *Flusher) writeback(i *Inode, wbc *extend.WritebackControl) (int, error) {
	quota := w.fs.cfg.LimitWriteback(i, wbc)

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.unlinked {
		// the source path now names another file, if any
		clear(i.pages)
		i.timesDirty = false
		return 0, nil
	}

	full := NewSourcePath(i.path).FullPath(w.fs.sourceDir)
	written := 0

	if len(i.pages) > 0 {
		f, err := os.OpenFile(full, os.O_WRONLY, 0)
		if errors.Is(err, os.ErrNotExist) {
			// renamed on the source, inode not moved yet
			return 0, fmt.Errorf("source of %q moved: %w", i.path, syscall.EAGAIN)
		}
		if err != nil {
			return 0, err
		}

		for _, idx := range i.dirtyIndexes() {
			if int64(written) >= quota {
				break
			}
			off := idx * extend.PageSize
			n := min(extend.PageSize, i.size-off)
			if n > 0 {
				if _, err := f.WriteAt(i.pages[idx][:n], off); err != nil {
					f.Close()
					w.fs.observer.ObservePagesWritten(written)
					return written, err
				}
			}
			delete(i.pages, idx)
			written++
		}

		if err := f.Close(); err != nil {
			w.fs.observer.ObservePagesWritten(written)
			return written, err
		}
		w.fs.observer.ObservePagesWritten(written)
		wbLogger.Trace("Wrote %d pages of %q (quota %d, %d left)", written, i.path, quota, len(i.pages))
	}

	if len(i.pages) == 0 && i.timesDirty {
		if err := utimes(full, i.atime, i.mtime); err != nil && !errors.Is(err, os.ErrNotExist) {
			return written, err
		}
		i.timesDirty = false
	}
	return written, nil
}

// needsWriteback reports whether pages or timestamps are pending.
func (i *Inode) needsWriteback() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.pages) > 0 || i.timesDirty
}
