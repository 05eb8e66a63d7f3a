package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the registry whenever the manifest at the artifact root is
// written, created, or renamed into place. Bursts of events within debounce
// collapse into one reload. Watch blocks until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, debounce time.Duration) error {
	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return fmt.Errorf("create artifact root: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: atomic renames replace the manifest inode.
	if err := w.Add(r.root); err != nil {
		return fmt.Errorf("watch %s: %w", r.root, err)
	}
	r.logger.Info("watching model manifest", "path", filepath.Join(r.root, ManifestFile))

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != ManifestFile {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("manifest watcher error", "error", err)
		case <-fire:
			fire = nil
			if _, err := r.LoadAll(ctx); err != nil {
				r.logger.Error("model reload failed", "error", err)
				continue
			}
			r.logger.Info("model registry reloaded after manifest change")
		}
	}
}
