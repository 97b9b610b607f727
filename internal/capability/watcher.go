package capability

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher could not be started.
var ErrWatcherFailed = errors.New("failed to initialize registry watcher")

// Source yields the registry in force for the next request.
type Source interface {
	Current() *Registry
}

// Static is a Source that never changes.
type Static struct {
	reg *Registry
}

// NewStatic wraps r as a Source.
func NewStatic(r *Registry) *Static {
	return &Static{reg: r}
}

// Current returns the wrapped registry.
func (s *Static) Current() *Registry {
	return s.reg
}

// Watcher reloads a registry file when it changes on disk.
//
// A reload that fails to parse keeps the previous registry in force, so a
// half-saved file never empties the provider set.
type Watcher struct {
	path    string
	current atomic.Pointer[Registry]
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	onReload func(*Registry)

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher loads path and prepares a watcher on its directory. The
// directory is watched rather than the file so editor rename-on-save is seen.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	w := &Watcher{
		path:    filepath.Clean(path),
		watcher: fw,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.current.Store(reg)
	return w, nil
}

// OnReload registers fn to run after each successful reload. Must be called
// before Start.
func (w *Watcher) OnReload(fn func(*Registry)) {
	w.onReload = fn
}

// Current returns the most recently loaded registry.
func (w *Watcher) Current() *Registry {
	return w.current.Load()
}

// Start processes filesystem events until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	if w.started.Swap(true) {
		return
	}
	go w.run(ctx)
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
	if w.started.Load() {
		<-w.done
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			w.stopOnce.Do(func() { _ = w.watcher.Close() })
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("registry watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	reg, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("registry reload failed, keeping previous",
			zap.String("path", w.path), zap.Error(err))
		return
	}
	prev := w.current.Swap(reg)
	if prev != nil && prev.Version() == reg.Version() {
		return
	}
	w.logger.Info("registry reloaded",
		zap.String("path", w.path),
		zap.String("version", reg.Version()),
		zap.Int("providers", reg.Len()))
	if w.onReload != nil {
		w.onReload(reg)
	}
}
