// Package watcher reloads the passage index when its directory changes on disk.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// ReloadFunc is called once per burst of changes.
type ReloadFunc func(ctx context.Context) error

// Watcher watches an index directory and its subdirectories and calls a ReloadFunc after
// changes settle. The parent directory is watched too, so replacing the whole index
// directory is noticed.
type Watcher struct {
	dir      string
	names    map[string]bool
	onChange ReloadFunc
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	timer    *time.Timer
	started  bool
	done     chan struct{}
	stopOnce sync.Once

	reloads atomic.Int64
	failed  atomic.Int64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long changes must be quiet before a reload.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithTriggers restricts reloads to changes of files with these base names.
// Replacing the index directory itself always triggers.
func WithTriggers(names ...string) Option {
	return func(w *Watcher) {
		for _, n := range names {
			w.names[n] = true
		}
	}
}

// New creates a watcher on dir calling onChange.
func New(dir string, onChange ReloadFunc, opts ...Option) *Watcher {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	w := &Watcher{
		dir:      filepath.Clean(dir),
		names:    make(map[string]bool),
		onChange: onChange,
		debounce: defaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.OrNop(w.logger)
	return w
}

// Start starts watching. It runs until ctx is cancelled or Stop is called.
// The index directory need not exist yet; its parent must.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.dir)); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw
	w.addTreeLocked(w.dir)
	w.started = true
	w.logger.Debug("watching index directory", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))

	go w.run(ctx, fw.Events, fw.Errors)
	return nil
}

func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if path != w.dir && !inDir(w.dir, path) {
		return
	}
	w.logger.Debug("index directory event", zap.String("op", ev.Op.String()), zap.String("path", path))

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.mu.Lock()
			w.addTreeLocked(path)
			w.mu.Unlock()
		}
	}
	if path == w.dir || w.matches(path) {
		w.schedule(ctx)
	}
}

func (w *Watcher) matches(path string) bool {
	return len(w.names) == 0 || w.names[filepath.Base(path)]
}

// addTreeLocked watches root and every directory below it. Missing roots are skipped.
func (w *Watcher) addTreeLocked(root string) {
	if w.watcher == nil {
		return
	}
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				w.logger.Debug("failed to watch directory", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.timer = nil
		w.mu.Unlock()
		w.fire(ctx)
	})
}

func (w *Watcher) fire(ctx context.Context) {
	if ctx.Err() != nil || w.onChange == nil {
		return
	}
	w.reloads.Add(1)
	if err := w.onChange(ctx); err != nil {
		w.failed.Add(1)
		w.logger.Warn("index reload failed", zap.String("dir", w.dir), zap.Error(err))
		return
	}
	w.logger.Info("index reloaded", zap.String("dir", w.dir))
}

// Reloads returns how many reloads were attempted and how many failed.
func (w *Watcher) Reloads() (attempted, failed int64) {
	return w.reloads.Load(), w.failed.Load()
}

// Stop stops the watcher and releases resources. A pending reload is dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
