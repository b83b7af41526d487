package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"go.viam.com/audiosink/logging"
)

// reloadSettle is how long the file must stay quiet before it is re-read. Editors usually write a
// file in several steps.
const reloadSettle = 250 * time.Millisecond

// Watch calls onChange with the re-read config each time the file at path changes to a different
// valid config. Unreadable or invalid edits are logged and skipped. The parent directory is watched
// so that editors replacing the file by rename are seen. current must be the config as read from
// path, before any adjustment by the caller, or the first edit is always reported as a change.
// Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, current *Config, logger logging.Logger, onChange func(*Config)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrapf(err, "cannot resolve config path %s", path)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "cannot create config watcher")
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Debugw("error closing config watcher", "error", err)
		}
	}()
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return errors.Wrapf(err, "cannot watch config directory of %s", path)
	}

	var mu sync.Mutex
	last := current
	reload := func() {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		next, err := Read(absPath, logger)
		if err != nil {
			logger.Warnw("ignoring config change", "path", path, "error", err)
			return
		}
		if cmp.Equal(last, next) {
			logger.Debugw("config file touched but unchanged", "path", path)
			return
		}
		logger.Infow("config changed", "path", path, "diff", cmp.Diff(last, next))
		last = next
		onChange(next)
	}
	debounced := debounce.New(reloadSettle)

	for {
		select {
		case <-ctx.Done():
			// Wait out any reload that is already running.
			mu.Lock()
			defer mu.Unlock()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounced(reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("config watcher error", "error", err)
		}
	}
}
