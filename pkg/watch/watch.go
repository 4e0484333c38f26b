// Package watch reports changes to a single file.
//
// The parent directory is watched rather than the file itself so editors that
// replace files through a rename are still seen. Bursts of events are debounced
// into one callback, and callbacks never overlap.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the quiet period after the last event before a change is reported.
const DefaultDebounce = 500 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	Logger   zerolog.Logger
}

// Watcher reports changes to one file.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   zerolog.Logger
}

// New creates a watcher for path. The parent directory must exist.
func New(path string, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if info, err := os.Stat(filepath.Dir(abs)); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("directory of %s is not accessible: %v", path, err)
	}

	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	return &Watcher{
		path:     abs,
		debounce: opts.Debounce,
		logger:   opts.Logger.With().Str("component", "watch").Str("file", abs).Logger(),
	}, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Run blocks until ctx is done, calling onChange after each debounced burst of
// writes to the file. A callback error is logged and watching continues.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.logger.Info().Dur("debounce", w.debounce).Msg("Watching flow file")

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}

			w.logger.Debug().Str("op", event.Op.String()).Msg("Flow file changed")

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := onChange(ctx); err != nil {
				w.logger.Error().Err(err).Msg("Change handler failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}
