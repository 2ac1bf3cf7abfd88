// Package selfreload watches the running server binary for an
// in-place replacement (a rebuild copied over the same path) and
// signals the caller to exit so a process supervisor restarts it with
// the new binary.
package selfreload

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 300 * time.Millisecond

// Watch watches binaryPath and calls onReplace once after its mtime
// changes, debounced against the burst of events a rebuild's rename or
// truncate-then-write produces. Runs until ctx is canceled.
func Watch(ctx context.Context, binaryPath string, logger *slog.Logger, onReplace func()) error {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(binaryPath)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(abs)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	lastMod := modTime(abs)

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		fire := func() {
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				mt := modTime(abs)
				if mt.After(lastMod) {
					lastMod = mt
					logger.Info("selfreload: binary replaced, signaling restart", "path", abs)
					onReplace()
				}
			})
		}

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == abs {
					fire()
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("selfreload: watch error", "error", werr)
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			}
		}
	}()

	return nil
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
