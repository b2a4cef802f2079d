// Package watcher turns completion-marker files appearing in a folder into
// an ordered stream of notifications.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/trimet-twin/pipeline/internal/snapshot"
)

// Handler consumes one marker file name (base name, not a path).
// A returned error is logged; it does not stop the watcher.
type Handler func(ctx context.Context, marker string) error

// Options tune a Watcher
type Options struct {
	// ScanOnStart enqueues markers already present in the folder, in name
	// order, before any live event.
	ScanOnStart bool
}

// Watcher subscribes to a single folder (non-recursive) and forwards the
// creation of completion markers to a Handler, one at a time and in arrival
// order. Notifications are buffered in an unbounded queue so bursts are never
// dropped; a name that is already waiting in the queue is not queued twice.
//
// When the context passed to Run is cancelled the subscription is closed
// first, then every notification already queued is handed to the Handler
// before Run returns.
type Watcher struct {
	dir    string
	opts   Options
	fsw    *fsnotify.Watcher
	logger *slog.Logger

	mu      sync.Mutex
	queue   []string
	queued  map[string]struct{}
	closed  bool
	wake    chan struct{}
	handled int64
}

// New creates the filesystem subscription. Failing to subscribe is returned
// and should be treated as fatal by the caller.
func New(dir string, opts Options, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:    dir,
		opts:   opts,
		fsw:    fsw,
		logger: logger,
		queued: make(map[string]struct{}),
		wake:   make(chan struct{}, 1),
	}, nil
}

// Dir returns the watched folder
func (w *Watcher) Dir() string {
	return w.dir
}

// Pending returns the number of notifications waiting for the handler
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Handled returns the number of notifications handed to the handler
func (w *Watcher) Handled() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handled
}

// Close releases the subscription without running. Run closes it itself.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run dispatches notifications to handle until ctx is cancelled and the
// queue is drained. It must be called at most once.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	if w.opts.ScanOnStart {
		n, err := w.scan()
		if err != nil {
			w.logger.Warn("Watcher: startup scan failed", "dir", w.dir, "error", err)
		} else if n > 0 {
			w.logger.Info("Watcher: queued existing markers", "dir", w.dir, "count", n)
		}
	}

	go w.read(ctx)

	w.logger.Info("Watcher: watching", "dir", w.dir)

	// queued work finishes even after ctx is cancelled
	handlerCtx := context.WithoutCancel(ctx)
	for {
		name, ok := w.next()
		if !ok {
			w.logger.Info("Watcher: stopped", "dir", w.dir, "handled", w.Handled())
			return nil
		}
		if err := handle(handlerCtx, name); err != nil {
			w.logger.Error("Watcher: handler failed", "marker", name, "error", err)
		}
	}
}

// read forwards fsnotify events into the queue until ctx is cancelled or
// the subscription dies.
func (w *Watcher) read(ctx context.Context) {
	defer func() {
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("Watcher: failed to close subscription", "error", err)
		}
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		w.signal()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(ev.Name)
			if !snapshot.IsMarker(name) {
				continue
			}
			w.enqueue(name)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// inotify overflow or similar, the subscription keeps going
			w.logger.Error("Watcher: subscription error", "error", err)
		}
	}
}

// scan enqueues markers already in the folder. os.ReadDir sorts by name.
func (w *Watcher) scan() (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || !snapshot.IsMarker(e.Name()) {
			continue
		}
		if w.enqueue(e.Name()) {
			n++
		}
	}
	return n, nil
}

// enqueue appends name unless it is already waiting
func (w *Watcher) enqueue(name string) bool {
	w.mu.Lock()
	if _, dup := w.queued[name]; dup {
		w.mu.Unlock()
		w.logger.Debug("Watcher: coalesced duplicate notification", "marker", name)
		return false
	}
	w.queued[name] = struct{}{}
	w.queue = append(w.queue, name)
	w.mu.Unlock()

	w.signal()
	return true
}

// next blocks until a name is available or the queue is closed and empty
func (w *Watcher) next() (string, bool) {
	for {
		w.mu.Lock()
		if len(w.queue) > 0 {
			name := w.queue[0]
			w.queue[0] = ""
			w.queue = w.queue[1:]
			delete(w.queued, name)
			w.handled++
			w.mu.Unlock()
			return name, true
		}
		closed := w.closed
		w.mu.Unlock()

		if closed {
			return "", false
		}
		<-w.wake
	}
}

func (w *Watcher) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}
