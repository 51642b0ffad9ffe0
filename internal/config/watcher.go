package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads the configuration file named by CONFIG_FILE and
// notifies registered callbacks. Only ranking and chunking knobs are expected
// to change at runtime; components that care re-read them from the new
// snapshot in their callback.
type Watcher struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
	logger    *zap.Logger
	watcher   *fsnotify.Watcher
	path      string
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewWatcher creates a watcher over the given config file. An empty path
// disables watching; the Watcher still serves the initial snapshot.
func NewWatcher(initial *Config, path string, logger *zap.Logger) (*Watcher, error) {
	w := &Watcher{
		config: initial,
		logger: logger,
		path:   path,
		stopCh: make(chan struct{}),
	}

	if path == "" {
		logger.Info("configuration hot reload disabled, no config file")
		return w, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(path); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	w.watcher = fsWatcher

	go w.watchLoop()

	logger.Info("configuration hot reload enabled", zap.String("file", path))
	return w, nil
}

// Current returns the latest configuration snapshot.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// OnChange registers a callback invoked after each successful reload.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, callback)
	w.mu.Unlock()
}

// Stop shuts the watcher down. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}

func (w *Watcher) watchLoop() {
	// Editors often emit several events per save; debounce them into one
	// reload.
	var debounce *time.Timer
	const debounceDelay = 500 * time.Millisecond

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load()
	if err != nil {
		w.logger.Error("config reload rejected", zap.Error(err))
		return
	}

	w.mu.Lock()
	prev := w.config
	w.config = next
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logChanges(prev, next)

	for _, callback := range callbacks {
		callback(next)
	}
}

func (w *Watcher) logChanges(prev, next *Config) {
	var changes []string
	if prev.Search.QualityWeight != next.Search.QualityWeight {
		changes = append(changes, fmt.Sprintf("quality_weight: %.2f -> %.2f",
			prev.Search.QualityWeight, next.Search.QualityWeight))
	}
	if prev.Chunking.Size != next.Chunking.Size {
		changes = append(changes, fmt.Sprintf("chunk_size: %d -> %d",
			prev.Chunking.Size, next.Chunking.Size))
	}
	if prev.Chunking.Overlap != next.Chunking.Overlap {
		changes = append(changes, fmt.Sprintf("chunk_overlap: %d -> %d",
			prev.Chunking.Overlap, next.Chunking.Overlap))
	}
	if len(changes) > 0 {
		w.logger.Info("configuration reloaded", zap.Strings("changes", changes))
	} else {
		w.logger.Debug("configuration reloaded, no tracked changes")
	}
}
