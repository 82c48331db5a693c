package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cuemby/pactown/pkg/log"
	"github.com/cuemby/pactown/pkg/types"
)

const reloadDebounce = 250 * time.Millisecond

// WatchFunc is called after each debounced reload attempt with the
// freshly reparsed spec, or a nil spec and the parse error on a
// failed one.
type WatchFunc func(spec *types.EcosystemSpec, err error)

// Watcher watches a config file for changes and reparses it on
// write, reporting the result to a WatchFunc. It never applies a
// reload itself — the orchestrator keeps running whatever it started
// with; validate and up use a Watcher only to surface configuration
// drift to the operator as it happens.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// Watch starts watching path's containing directory for changes to
// path and invokes onChange, debounced, after each write. Watching
// the directory rather than the file survives editors that replace
// the file via rename-on-save instead of writing it in place.
func Watch(path string, onChange WatchFunc) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &Watcher{fsWatcher: fsWatcher, stopCh: make(chan struct{})}
	go w.run(path, onChange)
	return w, nil
}

func (w *Watcher) run(path string, onChange WatchFunc) {
	target := filepath.Clean(path)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounced(func() {
				spec, err := Load(path)
				onChange(spec, err)
			})
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.WithComponent("config").Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) debounced(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, fn)
}

// Stop stops watching and releases the underlying fsnotify handle.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.fsWatcher.Close()
}
