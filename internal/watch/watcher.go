// Package watch follows a source directory and reports NetCDF files once
// they have been completely written.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"meanie3d/internal/logging"
)

// Handler is called with the files that settled since the last call. Calls
// never overlap.
type Handler func(ctx context.Context, files []string) error

// Stats describes watcher activity.
type Stats struct {
	Events        int
	Settled       int
	Batches       int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
	LastBatchTime time.Time
}

// pending is a file seen by the watcher that has not settled yet.
type pending struct {
	seen time.Time
	size int64
}

// Watcher debounces create and write events of *.nc files in one
// directory. A file settles when no event arrived for the debounce period
// and its size did not change between two checks.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	dir      string
	pattern  string
	debounce time.Duration
	handler  Handler

	pending map[string]pending
	ready   []string
	trigger chan struct{}

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	stats   Stats
}

// New returns a watcher of dir. debounce defaults to 2s.
func New(dir string, debounce time.Duration, handler Handler) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watch: handler is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("watch: " + dir + " is not a directory")
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		dir:      dir,
		pattern:  "*.nc",
		debounce: debounce,
		handler:  handler,
		pending:  map[string]pending{},
		trigger:  make(chan struct{}, 1),
	}, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw
	w.stopCh = make(chan struct{})
	w.running = true

	w.wg.Add(2)
	go w.run(ctx)
	go w.dispatch(ctx)
	logging.Watch("Watching %s", w.dir)
	return nil
}

// Stop ends watching and waits for a running handler to return.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	if err := w.watcher.Close(); err != nil {
		logging.WatchWarn("Error closing watcher: %v", err)
	}
	logging.Watch("Stopped watching %s", w.dir)
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	tick := time.NewTicker(max(w.debounce/4, 10*time.Millisecond))
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WatchWarn("Watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-tick.C:
			w.settle()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if ok, _ := filepath.Match(w.pattern, filepath.Base(event.Name)); !ok {
		return
	}
	logging.WatchDebug("%s %s", event.Op, event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Events++
	w.stats.LastEventPath = event.Name
	w.stats.LastEventTime = time.Now()
	p := w.pending[event.Name]
	p.seen = time.Now()
	w.pending[event.Name] = p
}

// settle moves files that were quiet for the debounce period and kept
// their size into the ready list.
func (w *Watcher) settle() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	moved := false
	for path, p := range w.pending {
		if now.Sub(p.seen) < w.debounce {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if info.Size() != p.size || info.Size() == 0 {
			p.size = info.Size()
			p.seen = now
			w.pending[path] = p
			continue
		}
		delete(w.pending, path)
		w.ready = append(w.ready, path)
		w.stats.Settled++
		moved = true
	}
	if moved {
		select {
		case w.trigger <- struct{}{}:
		default:
		}
	}
}

// dispatch calls the handler with the ready files, one call at a time.
func (w *Watcher) dispatch(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.trigger:
		}

		w.mu.Lock()
		files := w.ready
		w.ready = nil
		w.stats.Batches++
		w.stats.LastBatchTime = time.Now()
		w.mu.Unlock()

		sort.Strings(files)
		logging.Watch("%d new file(s) settled", len(files))
		if err := w.handler(ctx, files); err != nil {
			logging.WatchWarn("Handler failed: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		}
	}
}
