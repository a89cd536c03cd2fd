package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce collapses the burst of events an editor produces on save.
const debounce = 200 * time.Millisecond

// Watch reloads the configuration whenever the file changes and passes each
// valid result to fn. Invalid files are logged and skipped. The parent
// directory is watched so that editors replacing the file are noticed.
// Watch blocks until ctx is done.
func (l *Loader) Watch(ctx context.Context, fn func(*Config)) error {
	if l.path == "" {
		return fmt.Errorf("no configuration file to watch")
	}
	target, err := filepath.Abs(l.path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}
	logger.Debug("Watching %s for changes", target)

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Trace("Config event: %s", event)
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			reload = timer.C

		case <-reload:
			reload = nil
			cfg, err := l.Load()
			if err != nil {
				logger.Warn("Ignoring configuration change: %v", err)
				continue
			}
			logger.Info("Configuration reloaded from %s", target)
			fn(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error: %v", err)
		}
	}
}
