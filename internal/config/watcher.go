package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads the config file when it changes on disk
type Watcher struct {
	watcher  *fsnotify.Watcher
	loader   *Loader
	path     string
	logger   zerolog.Logger
	onChange func(*Config)
	debounce time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	stopCh chan struct{}
	once   sync.Once
}

// NewWatcher watches the loader's config file and calls onChange with every
// successfully reloaded config. Invalid edits are logged and skipped.
func NewWatcher(loader *Loader, logger zerolog.Logger, onChange func(*Config)) (*Watcher, error) {
	return newWatcher(loader, logger, onChange, defaultDebounce)
}

func newWatcher(loader *Loader, logger zerolog.Logger, onChange func(*Config), debounce time.Duration) (*Watcher, error) {
	path := loader.GetConfigPath()
	if path == "" {
		return nil, fmt.Errorf("failed to determine config path")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory since editors often replace the file
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{
		watcher:  fsw,
		loader:   loader,
		path:     filepath.Clean(path),
		logger:   logger.With().Str("component", "config-watcher").Logger(),
		onChange: onChange,
		debounce: debounce,
		stopCh:   make(chan struct{}),
	}

	go w.run()

	return w, nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Config change detected")

				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}

	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn().Err(err).Msg("Ignoring invalid config change")
		return
	}

	w.logger.Info().Msg("Config reloaded")
	w.onChange(cfg)
}
