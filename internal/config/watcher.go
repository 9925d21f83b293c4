package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/opsforge/sentinel-core/pkg/logger"
)

// Watcher reloads the configuration when the config file changes or the
// process receives SIGHUP, then fans the new snapshot out to subscribers.
// Only tunables read through the subscription are hot; components that
// captured values at construction keep them until restart.
type Watcher struct {
	configPath string
	logger     logger.Logger
	mu         sync.RWMutex
	current    *Config
	subs       []func(*Config)
}

func NewWatcher(configPath string, current *Config, log logger.Logger) *Watcher {
	return &Watcher{
		configPath: configPath,
		logger:     log,
		current:    current,
	}
}

// Subscribe registers a callback invoked with every reloaded snapshot.
func (w *Watcher) Subscribe(fn func(*Config)) {
	w.mu.Lock()
	w.subs = append(w.subs, fn)
	w.mu.Unlock()
}

// Current returns the latest loaded snapshot.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start blocks watching for file writes and SIGHUP until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if w.configPath != "" {
		if err := watcher.Add(w.configPath); err != nil {
			w.logger.Warn("config file not watchable; SIGHUP reload still available",
				"path", w.configPath, "error", err)
		}
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	w.logger.Info("configuration watcher started", "path", w.configPath)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Write == fsnotify.Write {
				w.logger.Info("configuration file changed, reloading", "file", event.Name)
				w.reload()
			}

		case <-hup:
			w.logger.Info("SIGHUP received, reloading configuration")
			w.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("configuration watcher error", "error", err)

		case <-ctx.Done():
			w.logger.Info("configuration watcher stopping")
			return nil
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load()
	if err != nil {
		w.logger.Error("configuration reload failed, keeping previous snapshot", "error", err)
		return
	}

	w.mu.Lock()
	w.current = cfg
	subs := make([]func(*Config), len(w.subs))
	copy(subs, w.subs)
	w.mu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}
}
