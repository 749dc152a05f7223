package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/estatecopilot/runtime/runtime/telemetry"
)

// Watcher reloads Config from disk whenever the backing file changes and
// keeps the latest successfully parsed revision available through Current.
// Prompt templates are hot-reloaded separately, by prompt.Store.WatchDir.
type Watcher struct {
	path   string
	logger telemetry.Logger

	mu      sync.RWMutex
	current *Config

	fsw *fsnotify.Watcher
}

// NewWatcher loads the initial configuration and prepares to watch path for
// subsequent changes. Call Start to begin watching.
func NewWatcher(path string, logger telemetry.Logger) (*Watcher, error) {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, logger: logger, current: cfg}, nil
}

// Current returns the most recently loaded configuration. Safe for
// concurrent use; callers must not mutate the returned value.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins watching the configuration file for changes until ctx is
// canceled. Reload failures are logged and the previous configuration stays
// in effect — a bad edit on disk must never take down a running process.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return err
	}

	go w.watchLoop(ctx, base)
	return nil
}

func (w *Watcher) watchLoop(ctx context.Context, base string) {
	defer w.fsw.Close()

	var debounce *time.Timer
	const delay = 150 * time.Millisecond
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(delay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			w.reload(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "config watcher error", "error", err.Error())
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error(ctx, "config reload failed, keeping previous revision", "path", w.path, "error", err.Error())
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	w.logger.Info(ctx, "config reloaded", "path", w.path)
}
