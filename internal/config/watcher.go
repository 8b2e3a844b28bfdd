package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const watchDebounce = 500 * time.Millisecond

// TargetsWatcher re-reads the targets file when it changes on disk and hands
// the parsed result to the registered callback. Editors replace files rather
// than write them in place, so the watch is on the parent directory.
type TargetsWatcher struct {
	path     string
	onChange func([]Target)
	logger   zerolog.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewTargetsWatcher creates a watcher for the given targets file path.
func NewTargetsWatcher(path string, logger zerolog.Logger, onChange func([]Target)) (*TargetsWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}
	return &TargetsWatcher{
		path:     path,
		onChange: onChange,
		logger:   logger,
		watcher:  watcher,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *TargetsWatcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop terminates the watch loop and releases the inotify handle.
func (w *TargetsWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
	w.wg.Wait()
}

func (w *TargetsWatcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Coalesce bursts of events into a single reload.
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerCh = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("targets watcher error")
		case <-timerCh:
			timer = nil
			timerCh = nil
			targets, err := LoadTargets(w.path)
			if err != nil {
				w.logger.Warn().Err(err).Str("path", w.path).Msg("targets reload failed, keeping previous set")
				continue
			}
			w.logger.Info().Int("count", len(targets)).Msg("targets file reloaded")
			w.onChange(targets)
		}
	}
}
