package prompt

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/estatecopilot/runtime/runtime/telemetry"
)

// WatchDir starts watching dir for *.tmpl changes and reloads store whenever
// a file is written, created, removed, or renamed, until ctx is canceled.
// A broken edit on disk is logged and the store keeps serving its last good
// revision (§9 "all prompts are hot-reloadable in dev"), mirroring the
// debounced reload pattern used by config.Watcher.
func (s *Store) WatchDir(ctx context.Context, dir string, logger telemetry.Logger) error {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if err := s.LoadDir(dir); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return err
	}

	go s.watchLoop(ctx, fsw, dir, logger)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, fsw *fsnotify.Watcher, dir string, logger telemetry.Logger) {
	defer fsw.Close()

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

		case _, ok := <-fsw.Events:
			if !ok {
				return
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
			if err := s.LoadDir(dir); err != nil {
				logger.Error(ctx, "prompt reload failed, keeping previous revision", "dir", dir, "error", err.Error())
				continue
			}
			logger.Info(ctx, "prompt templates reloaded", "dir", dir)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logger.Warn(ctx, "prompt watcher error", "error", err.Error())
		}
	}
}
