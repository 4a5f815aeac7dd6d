package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"

	"github.com/speedrun-hq/speedrun-keeper/pkg/logger"
)

// defaultDebounce collapses the burst of events an editor save produces
const defaultDebounce = 500 * time.Millisecond

// Watcher reloads the configuration when the env file changes
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*Config)
	debounce time.Duration
	logger   logger.Logger

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

// Watch starts watching the env file at path. On every change the file is
// applied over the process environment, the configuration is rebuilt and
// passed to fn. An invalid file is logged and ignored.
func Watch(path string, log logger.Logger, fn func(*Config)) (*Watcher, error) {
	return watch(path, log, fn, defaultDebounce)
}

func watch(path string, log logger.Logger, fn func(*Config), debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	// editors often replace the file, so watch the directory
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, errors.Wrapf(err, "failed to watch config file %s", path)
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		watcher:  fw,
		onReload: fn,
		debounce: debounce,
		logger:   logger.Safe(log),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Close stops watching
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.logger.Debug("Config watcher detected %s on %s", event.Op, event.Name)
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error: %v", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	if err := godotenv.Overload(w.path); err != nil {
		w.logger.Error("Config reload failed: %v", err)
		return
	}
	cfg, err := Load()
	if err != nil {
		w.logger.Error("Config reload rejected: %v", err)
		return
	}
	w.logger.Info("Config reloaded from %s", w.path)
	w.onReload(cfg)
}
