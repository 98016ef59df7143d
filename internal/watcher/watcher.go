// Package watcher reloads the config file when it changes on disk.
package watcher

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"tunet/internal/config"
)

// Reloader watches a config file and hands every valid new version to a
// callback. Edits that fail to parse or validate are logged and ignored.
type Reloader struct {
	path     string
	onReload func(*config.Config)
	debounce time.Duration
	ready    chan struct{}
}

// New creates a reloader for the config file at path
func New(path string, onReload func(*config.Config)) *Reloader {
	return &Reloader{
		path:     path,
		onReload: onReload,
		debounce: 500 * time.Millisecond,
		ready:    make(chan struct{}),
	}
}

// WithDebounce sets the debounce duration
func (r *Reloader) WithDebounce(d time.Duration) *Reloader {
	r.debounce = d
	return r
}

// Watch blocks until ctx is cancelled or the watcher fails
func (r *Reloader) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	// Watch the directory so editors that replace the file are noticed
	dir := filepath.Dir(r.path)
	filename := filepath.Base(r.path)
	if err := fsw.Add(dir); err != nil {
		return err
	}
	close(r.ready)

	log.Printf("Watching %s for changes", r.path)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(r.debounce, r.reload)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("Watcher error: %v", err)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Reloader) reload() {
	cfg, _, err := config.LoadFromPath(r.path)
	if err != nil {
		log.Printf("Ignoring config change in %s: %v", r.path, err)
		return
	}
	log.Printf("Config reloaded: %s", r.path)
	r.onReload(cfg)
}
