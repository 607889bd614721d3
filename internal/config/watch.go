package config

import (
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a single file for changes and invokes a reload
// callback after a debounce window, generalizing the teacher's
// YAML-config-only file watcher to any config file (app TOML or
// cluster topology YAML) — the reload logic itself lives with the
// caller, Watcher only debounces fsnotify events.
type Watcher struct {
	path     string
	callback func()
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher starts watching path, calling callback (debounced by
// 500ms) whenever the file is written or recreated.
func NewWatcher(path string, callback func()) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}
	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.callback)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error on %s: %v", cw.path, err)
		case <-cw.stopCh:
			return
		}
	}
}

// Stop stops the watcher and releases its inotify/kqueue handle.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}

// WatchTopology wires a Watcher to a TopologyHolder so that edits to
// path are hot-reloaded into the holder (spec.md §5's "write-rare,
// read-frequent swap-out" requirement for MeshConfig).
func WatchTopology(path string, holder *TopologyHolder) (*Watcher, error) {
	return NewWatcher(path, func() {
		if err := holder.Reload(path); err != nil {
			log.Printf("[config] topology hot-reload failed: %v", err)
			return
		}
		log.Printf("[config] topology reloaded from %s", path)
	})
}
