// Package notify watches a single on-disk file for changes and invokes a
// callback when it's rewritten, so the daemon can pick up an edited
// config.json without a restart.
package notify

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches one file's directory (editors often write via a
// rename, which fsnotify only sees at the directory level) and calls back
// whenever that specific file changes.
type ConfigWatcher struct {
	path     string
	callback func()
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewConfigWatcher creates a watcher for path. callback runs on every
// create or write event targeting path (a file renamed onto path arrives
// as a create); it should re-run
// config.LoadConfig and swap in the result.
func NewConfigWatcher(path string, callback func()) *ConfigWatcher {
	return &ConfigWatcher{path: path, callback: callback, done: make(chan struct{})}
}

// Start begins watching. Call Stop to clean up.
func (cw *ConfigWatcher) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(cw.path)); err != nil {
		_ = w.Close()
		return err
	}
	cw.watcher = w
	go cw.loop()
	log.Printf("notify: watching %s for changes", cw.path)
	return nil
}

// Stop shuts down the watcher and waits for its goroutine to exit.
func (cw *ConfigWatcher) Stop() {
	if cw.watcher != nil {
		_ = cw.watcher.Close()
	}
	<-cw.done
}

func (cw *ConfigWatcher) loop() {
	defer close(cw.done)
	for {
		select {
		case evt, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if evt.Name != cw.path {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) != 0 && cw.callback != nil {
				cw.callback()
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}
