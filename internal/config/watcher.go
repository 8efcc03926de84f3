package config

import (
	"sync"

	"aegis/internal/logging"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc receives the freshly parsed runtime subset after a config file
// change. Only the runtime block is hot-reloadable; everything else requires
// a restart.
type ReloadFunc func(rt RuntimeConfig)

// Watcher watches the config file and delivers runtime reloads.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	onLoad  ReloadFunc

	mu      sync.Mutex
	stopped bool
}

// NewWatcher starts watching path. The callback runs on the watcher
// goroutine; callers must make it cheap or dispatch internally.
func NewWatcher(path string, onLoad ReloadFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{path: path, watcher: fw, onLoad: onLoad}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	log := logging.Get(logging.CategoryConfig)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.Warn("config reload skipped", zap.Error(err))
				continue
			}
			cfg.ApplyEnv()
			log.Info("runtime config reloaded",
				zap.String("mode", string(cfg.Runtime.Mode)),
				zap.Bool("simulate_all", cfg.Runtime.SimulateAll))
			w.onLoad(cfg.Runtime)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher. Idempotent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	return w.watcher.Close()
}
