package registry

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reloads the registry when the monitors file changes on disk.
// Editors and config management tools often write via rename, so the parent
// directory is watched rather than the file itself.
type Watcher struct {
	registry *Registry
	path     string
	onReload func()
	debounce time.Duration
}

// NewWatcher creates a watcher that calls onReload after every successful
// registry reload.
func NewWatcher(registry *Registry, path string, onReload func()) *Watcher {
	return &Watcher{
		registry: registry,
		path:     path,
		onReload: onReload,
		debounce: 500 * time.Millisecond,
	}
}

// Run watches until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return err
	}
	log.Info().Str("path", w.path).Msg("Watching monitors file for changes")

	var pending *time.Timer
	var pendingC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce bursts of writes into one reload.
			if pending == nil {
				pending = time.NewTimer(w.debounce)
				pendingC = pending.C
			} else {
				if !pending.Stop() {
					select {
					case <-pending.C:
					default:
					}
				}
				pending.Reset(w.debounce)
			}

		case <-pendingC:
			pending = nil
			pendingC = nil
			w.reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Monitors file watcher error")
		}
	}
}

// reload applies the reload; failures keep the previous snapshot.
func (w *Watcher) reload() {
	if err := w.registry.Reload(); err != nil {
		log.Error().Err(err).Msg("Monitor reload failed, keeping previous set")
		return
	}
	if w.onReload != nil {
		w.onReload()
	}
}
