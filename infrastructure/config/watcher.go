package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	domainconfig "graphsync/domain/config"
)

const watchDebounce = 100 * time.Millisecond

// Watcher reloads the engine section of the config file when it changes and
// swaps it into the Holder every engine component reads from.
type Watcher struct {
	path     string
	holder   *domainconfig.Holder
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	onChange []func(*domainconfig.EngineConfig)
}

// NewWatcher creates a watcher for path. The directory is watched as well so
// editors that save by rename are picked up.
func NewWatcher(path string, holder *domainconfig.Holder, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	path = filepath.Clean(path)
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}
	return &Watcher{
		path:    path,
		holder:  holder,
		logger:  logger,
		watcher: fsw,
	}, nil
}

// OnChange registers a callback run after every successful swap.
func (w *Watcher) OnChange(fn func(*domainconfig.EngineConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	w.logger.Info("Configuration watcher started", zap.String("path", w.path))

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				_ = w.Reload()
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("File watcher error", zap.Error(err))

		case <-ctx.Done():
			w.logger.Info("Configuration watcher stopped")
			return nil
		}
	}
}

// Reload parses the file over the current configuration and swaps it in.
// An invalid file leaves the current configuration in place.
func (w *Watcher) Reload() error {
	next, err := LoadEngineFile(w.path, w.holder.Get())
	if err != nil {
		w.logger.Error("Invalid configuration after reload", zap.Error(err))
		return err
	}
	if *next == *w.holder.Get() {
		w.logger.Debug("Configuration unchanged after reload")
		return nil
	}
	if err := w.holder.Set(next); err != nil {
		w.logger.Error("Configuration rejected", zap.Error(err))
		return err
	}

	w.mu.Lock()
	callbacks := append([]func(*domainconfig.EngineConfig){}, w.onChange...)
	w.mu.Unlock()
	for _, fn := range callbacks {
		fn(w.holder.Get())
	}

	w.logger.Info("Configuration reloaded",
		zap.Duration("pollInterval", next.PollInterval),
		zap.Int("commitCap", next.CommitCap),
	)
	return nil
}
