package prompt

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/harun/grove/internal/observability"
	"github.com/rs/zerolog"
)

// Watcher reloads a Library when files in its override directory change.
type Watcher struct {
	library  *Library
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	debounce time.Duration
	onReload func(error)

	timer    *time.Timer
	timerMu  sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits for writes to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithReloadHook is called after every reload with its result.
func WithReloadHook(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(logger zerolog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher creates a watcher for the library's override directory.
func NewWatcher(library *Library, opts ...WatcherOption) (*Watcher, error) {
	if library.Dir() == "" {
		return nil, fmt.Errorf("prompt library has no override directory")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		library:  library,
		watcher:  fsw,
		logger:   zerolog.Nop(),
		debounce: 200 * time.Millisecond,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.library.Dir()); err != nil {
		return fmt.Errorf("failed to watch prompts: %w", err)
	}

	go w.eventLoop()

	w.logger.Info().
		Str("path", w.library.Dir()).
		Msg("Prompt watcher started")
	return nil
}

// Stop stops watching and cancels a pending reload.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isPromptFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.logger.Debug().
					Str("file", event.Name).
					Str("op", event.Op.String()).
					Msg("Prompt change detected")
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Prompt watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}

		err := w.library.Reload()
		observability.RecordPromptReload(err == nil)
		if err != nil {
			w.logger.Error().Err(err).Msg("Prompt reload failed, keeping previous prompts")
		} else {
			w.logger.Info().Msg("Prompts reloaded")
		}
		if w.onReload != nil {
			w.onReload(err)
		}
	})
}
