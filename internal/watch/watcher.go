// Package watch keeps the index current while the process runs: a
// recursive fsnotify watch over the vault coalesces bursts of file
// events into debounced incremental sync runs.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/brendenrossin/secondbrain/internal/index"
)

// DefaultDebounce is the quiet window after the last event before a
// sync run starts. Editors save in bursts; one run covers the burst.
const DefaultDebounce = 500 * time.Millisecond

// Watcher triggers incremental syncs on vault changes.
type Watcher struct {
	root     string
	syncer   *index.Syncer
	debounce time.Duration
}

// New creates a watcher over the vault root.
func New(root string, syncer *index.Syncer, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{root: root, syncer: syncer, debounce: debounce}
}

// Run watches until the context is cancelled. Sync runs happen on the
// calling goroutine, so sync errors stop the watcher and are returned;
// the caller owns the writer lock for the whole session.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addRecursive(fw, w.root); err != nil {
		return err
	}

	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}

			// New directories need their own watches.
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(fw, ev.Name)
				}
			}

			slog.Debug("vault event",
				slog.String("path", ev.Name),
				slog.String("op", ev.Op.String()))

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", slog.String("error", err.Error()))

		case <-pending:
			pending = nil
			report, err := w.syncer.Sync(ctx)
			if err != nil {
				return err
			}
			if report.Indexed > 0 || report.Deleted > 0 {
				slog.Info("watch sync applied",
					slog.Int("indexed", report.Indexed),
					slog.Int("deleted", report.Deleted))
			}
		}
	}
}

// addRecursive walks a directory tree adding watches, skipping hidden
// directories. Unreadable subtrees are skipped, not fatal.
func (w *Watcher) addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("skipping unwatchable path",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); path != root && strings.HasPrefix(name, ".") {
			return fs.SkipDir
		}
		if err := fw.Add(path); err != nil {
			slog.Warn("failed to watch directory",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return nil
	})
}

// relevant filters events down to Markdown files and directory
// creations.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if strings.HasSuffix(strings.ToLower(base), ".md") {
		return true
	}
	// Directory events carry no extension; creations matter for new
	// subtrees, removals for deleted ones.
	return ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename)
}
