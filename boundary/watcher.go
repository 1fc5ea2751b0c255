package boundary

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchDebounce sets how long the tree must be quiet before a re-check.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// Watcher re-runs a Checker whenever files under its API directory change
// and hands every report to onReport. Directories created after Start are
// watched as they appear.
type Watcher struct {
	checker  *Checker
	debounce time.Duration
	logger   *slog.Logger
	onReport func(*Report)

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu        sync.Mutex
	lastEvent time.Time
	dirty     bool
}

// NewWatcher creates a Watcher for checker.
func NewWatcher(checker *Checker, onReport func(*Report), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		checker:  checker,
		debounce: 300 * time.Millisecond,
		logger:   slog.Default(),
		onReport: onReport,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs an initial check, reports it, and begins watching.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("boundary watcher: create fsnotify: %w", err)
	}
	w.fsWatcher = fsw

	if err := w.addTree(w.apiRoot()); err != nil {
		_ = fsw.Close()
		w.fsWatcher = nil
		return err
	}

	w.check(ctx)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop terminates the watcher and waits for the background goroutine to exit.
// It is safe to call Stop multiple times.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		if w.fsWatcher != nil {
			err = w.fsWatcher.Close()
		}
	})
	return err
}

func (w *Watcher) apiRoot() string {
	root := w.checker.Root
	if root == "" {
		root = "."
	}
	return filepath.Join(root, filepath.FromSlash(w.checker.APIDir))
}

// addTree watches dir and every directory below it. fsnotify is not
// recursive.
func (w *Watcher) addTree(dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.fsWatcher.Add(path); err != nil {
				return fmt.Errorf("boundary watcher: watch %s: %w", path, err)
			}
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("boundary watcher: %s does not exist: %w", dir, err)
	}
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(max(w.debounce/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Error("boundary watcher: watch new directory", "path", event.Name, "err", err)
					}
				}
			}
			w.mu.Lock()
			w.dirty = true
			w.lastEvent = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("boundary watcher error", "err", err)

		case <-ticker.C:
			w.mu.Lock()
			ready := w.dirty && time.Since(w.lastEvent) >= w.debounce
			if ready {
				w.dirty = false
			}
			w.mu.Unlock()
			if ready {
				w.check(ctx)
			}
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	report, err := w.checker.Check(ctx)
	if err != nil {
		w.logger.Error("boundary watcher: check failed", "err", err)
		return
	}
	w.onReport(report)
}
