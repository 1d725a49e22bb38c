package siteguard

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// ConfigWatcher reloads the configuration file when it changes on disk and
// hands the parsed result to a callback. The watch is placed on the file's
// directory so editor rename-and-replace saves are still seen.
type ConfigWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*Config)
	logger   Logger

	debounceMu sync.Mutex
	timer      *time.Timer

	done    chan struct{}
	stopped chan struct{}
}

func NewConfigWatcher(path string, logger Logger, onReload func(*Config)) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}
	if logger == nil {
		logger = NopLogger{}
	}
	cw := &ConfigWatcher{
		path:     abs,
		watcher:  watcher,
		onReload: onReload,
		logger:   logger,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go cw.loop()
	return cw, nil
}

func (w *ConfigWatcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped
	return err
}

func (w *ConfigWatcher) loop() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", map[string]any{"error": err.Error()})
		}
	}
}

// scheduleReload debounces bursts of write events into one reload.
func (w *ConfigWatcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *ConfigWatcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous configuration", map[string]any{
			"path":  w.path,
			"error": err.Error(),
		})
		return
	}
	w.logger.Info("configuration reloaded", map[string]any{"path": w.path})
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
