package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReindexFunc is called with the batch of changed record paths after each
// quiet window. Errors are logged; watching continues.
type ReindexFunc func(ctx context.Context, changed []string) error

// Watcher follows a corpus directory with fsnotify and fires a reindex
// callback when unit records settle after a change burst.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
	reindex  ReindexFunc
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the quiet window.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatchLogger overrides the watcher's logger.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher over the corpus directory.
func NewWatcher(dir string, reindex ReindexFunc, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:      dir,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		reindex:  reindex,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until the context is cancelled. The corpus root and every
// type directory are watched; directories created later are picked up from
// their create events.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := w.addRecursive(fsw, w.dir); err != nil {
		return err
	}

	debouncer := NewDebouncer(w.debounce)
	defer debouncer.Stop()

	w.logger.Info("watching corpus directory", "dir", w.dir, "debounce", w.debounce.String())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, debouncer, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case batch, ok := <-debouncer.Output():
			if !ok {
				return nil
			}
			w.logger.Info("corpus changed, reindexing", "changed_files", len(batch))
			if err := w.reindex(ctx, batch); err != nil {
				w.logger.Error("reindex after change failed", "error", err)
			}
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, debouncer *Debouncer, event fsnotify.Event) {
	// New type directories need their own watch.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fsw.Add(event.Name); err != nil {
				w.logger.Warn("cannot watch new directory", "dir", event.Name, "error", err)
			}
			return
		}
	}

	if !interestingEvent(event) {
		return
	}
	debouncer.Add(event.Name)
}

// interestingEvent keeps writes, creates, removes, and renames of JSON
// records, including the manifest. Index files and editor droppings are
// noise.
func interestingEvent(event fsnotify.Event) bool {
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename
	if event.Op&relevant == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return false
	}
	return strings.HasSuffix(name, ".json")
}

func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, root string) error {
	if err := fsw.Add(root); err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			if err := fsw.Add(filepath.Join(root, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
