package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"go.viam.com/stereocam/logging"
)

// MatchingConfigWatcher reloads a matching configuration whenever its file changes on disk.
type MatchingConfigWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*MatchingConfig)
	logger   logging.Logger
}

// NewMatchingConfigWatcher watches the directory containing path, since editors commonly replace
// files rather than writing in place. onChange receives every successfully validated reload;
// invalid documents are logged and skipped so the previous configuration stays in effect.
func NewMatchingConfigWatcher(
	path string,
	onChange func(*MatchingConfig),
	logger logging.Logger,
) (*MatchingConfigWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create file watcher")
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return nil, errors.Wrapf(err, "cannot watch %s", filepath.Dir(absPath))
	}
	return &MatchingConfigWatcher{path: absPath, watcher: watcher, onChange: onChange, logger: logger}, nil
}

// Run delivers reloads until ctx is done or the watcher is closed.
func (w *MatchingConfigWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg, err := ReadMatchingConfig(w.path)
			if err != nil {
				w.logger.Warnw("ignoring matching config change", "path", w.path, "error", err)
				continue
			}
			w.logger.Infow("matching config reloaded", "path", w.path, "mode", cfg.Mode.String())
			w.onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnw("file watcher error", "error", err)
		}
	}
}

// Close stops watching.
func (w *MatchingConfigWatcher) Close() error {
	return w.watcher.Close()
}
