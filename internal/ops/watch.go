package ops

import (
	"context"
	"os"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hftcore/pkg/exception"
)

// Watcher reloads a config file when its modification time moves forward.
type Watcher struct {
	path     string
	interval time.Duration
	apply    func(Loaded)
	lastMod  time.Time
}

// NewWatcher starts from the file's current mtime, so the first reload needs a change.
func NewWatcher(path string, interval time.Duration, apply func(Loaded)) (*Watcher, error) {
	if path == "" {
		return nil, exception.ErrConfigEmptyPath
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stat config %s", path)
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Watcher{path: path, interval: interval, apply: apply, lastMod: info.ModTime()}, nil
}

// Check reloads once if the file changed. A broken file is reported and retried on the next
// change; the previous config stays active.
func (w *Watcher) Check() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, errors.Wrapf(err, "stat config %s", w.path)
	}
	if !info.ModTime().After(w.lastMod) {
		return false, nil
	}
	w.lastMod = info.ModTime()
	loaded, err := Load(w.path)
	if err != nil {
		return false, err
	}
	w.apply(loaded)
	return true, nil
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			reloaded, err := w.Check()
			if err != nil {
				logs.Errorf("config reload failed: %v", err)
				continue
			}
			if reloaded {
				logs.Infof("config reloaded: %s", w.path)
			}
		}
	}
}
