package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"lettertool/internal/logger"
	"lettertool/internal/models"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 500 * time.Millisecond

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	Debounce time.Duration
	// OnChange receives every successfully loaded and validated config.
	OnChange func(*models.Config) error
	// OnError receives load, validation and watcher failures. The previous
	// config stays in effect.
	OnError func(error)
}

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	path    string
	opts    WatcherOptions
	watcher *fsnotify.Watcher
	log     *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWatcher watches path and the directory containing it, so atomic
// rename-on-save editors are picked up.
func NewWatcher(path string, opts WatcherOptions) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		path:    absPath,
		opts:    opts,
		watcher: fw,
		log:     logger.Component("config-watcher"),
		stopCh:  make(chan struct{}),
	}

	if err := fw.Add(filepath.Dir(absPath)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return w, nil
}

// Start begins watching for configuration changes
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.watchLoop()
	w.log.Info("Configuration watcher started", "file", w.path)
}

// Stop ends the watch loop and cancels any pending reload.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	return w.watcher.Close()
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("File watcher error", "error", err)
			w.fail(fmt.Errorf("watcher error: %w", err))

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}

	switch {
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create), event.Has(fsnotify.Rename):
		w.log.Debug("Config file changed", "file", event.Name, "op", event.Op.String())
		w.scheduleReload()
	case event.Has(fsnotify.Remove):
		w.log.Warn("Config file removed; keeping current configuration", "file", event.Name)
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.opts.Debounce, func() {
		if err := w.Reload(); err != nil {
			w.log.Error("Config reload failed", "error", err)
			w.fail(err)
		}
	})
}

// Reload loads the file and hands it to OnChange.
func (w *Watcher) Reload() error {
	w.log.Info("Reloading configuration", "file", w.path)

	cfg, err := Load(w.path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if w.opts.OnChange != nil {
		if err := w.opts.OnChange(cfg); err != nil {
			return fmt.Errorf("failed to apply config: %w", err)
		}
	}

	w.log.Info("Configuration reloaded successfully")
	return nil
}

func (w *Watcher) fail(err error) {
	if w.opts.OnError != nil {
		w.opts.OnError(err)
	}
}
