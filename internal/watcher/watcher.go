// Package watcher reports changes to Markdown files under a vault directory.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event kinds.
const (
	Changed = "changed"
	Removed = "removed"
)

// DefaultDelay coalesces the burst of events an atomic write produces.
const DefaultDelay = 150 * time.Millisecond

// Callback receives a vault-relative, slash-separated path.
type Callback func(kind, path string)

// Watch watches root recursively until ctx is cancelled. Events for the same
// path within delay of each other are delivered once, with the last kind seen.
// New directories are added to the watch list as they appear.
func Watch(ctx context.Context, root string, delay time.Duration, logger *slog.Logger, cb Callback) error {
	if delay <= 0 {
		delay = DefaultDelay
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", root))

	pending := make(map[string]string)
	timer := time.NewTimer(delay)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	flush := func() {
		for rel, kind := range pending {
			logger.Debug("watcher: event", slog.String("path", rel), slog.String("kind", kind))
			if cb != nil {
				cb(kind, rel)
			}
		}
		clear(pending)
		armed = false
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("watcher: stopped")
			return nil

		case <-timer.C:
			flush()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					continue
				}
			}
			if !strings.HasSuffix(ev.Name, ".md") {
				continue
			}
			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending[rel] = Changed
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				pending[rel] = Removed
			default:
				continue
			}
			if armed && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(delay)
			armed = true

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
