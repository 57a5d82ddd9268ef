package assets

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher collects the names of files changed under a directory. It never
// touches the Cache itself: the rendering thread drains Changed and evicts.
type Watcher struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu      sync.Mutex
	changed map[string]struct{}

	done chan struct{}
}

// Watch starts watching dir. Names reported by Changed are slash separated
// and relative to dir, the same names Cache lookups take.
func Watch(dir string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	w := &Watcher{
		dir:     dir,
		watcher: fw,
		logger:  logger.With("component", "watcher"),
		changed: make(map[string]struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			name, err := filepath.Rel(w.dir, event.Name)
			if err != nil {
				continue
			}
			name = filepath.ToSlash(name)

			w.mu.Lock()
			w.changed[name] = struct{}{}
			w.mu.Unlock()
			w.logger.Debug("asset changed", "name", name, "op", event.Op.String())

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Changed returns, sorted, the names changed since the last call.
func (w *Watcher) Changed() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.changed) == 0 {
		return nil
	}
	names := make([]string, 0, len(w.changed))
	for name := range w.changed {
		names = append(names, name)
	}
	clear(w.changed)
	slices.Sort(names)
	return names
}

// Apply evicts every changed name from cache and returns the names which
// were cached.
func (w *Watcher) Apply(cache *Cache) []string {
	var evicted []string
	for _, name := range w.Changed() {
		if cache.Evict(name) {
			evicted = append(evicted, name)
		}
	}
	return evicted
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
