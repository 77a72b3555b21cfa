package scene

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a scene file and swaps in a new [Graph] whenever the file
// content changes and the new document passes validation. Invalid or
// unparseable revisions are logged and ignored; the previous graph stays
// current.
type Watcher struct {
	path     string
	start    string
	interval time.Duration
	onChange func(old, new *Graph)
	onReject func(error)
	opts     []LoadOption

	mu       sync.Mutex
	current  *Graph
	done     chan struct{}
	stopOnce sync.Once

	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 2 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithStartNode overrides the start node of every loaded revision.
func WithStartNode(id string) WatcherOption {
	return func(w *Watcher) { w.start = id }
}

// WithOnReject registers fn to be called with the reason whenever a changed
// file cannot be loaded or fails validation.
func WithOnReject(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onReject = fn }
}

// WithLoadOptions passes opts to every load.
func WithLoadOptions(opts ...LoadOption) WatcherOption {
	return func(w *Watcher) { w.opts = append(w.opts, opts...) }
}

// NewWatcher loads the scene at path and starts polling it. The initial
// revision must parse; it is returned through [Watcher.Current] even when it
// fails validation so callers can report the issues.
func NewWatcher(path string, onChange func(old, new *Graph), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 2 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	g, hash, mtime, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("scene: watcher initial load: %w", err)
	}
	w.current = g
	w.lastHash = hash
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// Current returns the most recently accepted graph.
func (w *Watcher) Current() *Graph {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("scene watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	g, hash, newMtime, err := w.loadAndHash()
	if err != nil {
		slog.Warn("scene watcher: failed to load scene", "path", w.path, "err", err)
		w.reject(err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	if err := g.Err(); err != nil {
		// Remember the revision so the same broken file is not reported on
		// every tick.
		w.lastHash = hash
		w.lastMtime = newMtime
		w.mu.Unlock()
		slog.Warn("scene watcher: rejected invalid scene", "path", w.path, "issues", len(g.Issues()), "err", err)
		w.reject(err)
		return
	}

	old := w.current
	w.current = g
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	slog.Info("scene watcher: scene reloaded", "path", w.path, "scene_id", g.Meta().ID)

	// Outside the lock so the callback can call Current.
	if w.onChange != nil {
		w.onChange(old, g)
	}
}

func (w *Watcher) reject(err error) {
	if w.onReject != nil {
		w.onReject(err)
	}
}

func (w *Watcher) loadAndHash() (*Graph, [sha256.Size]byte, time.Time, error) {
	var zeroHash [sha256.Size]byte

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, &SchemaError{Source: w.path, Err: err}
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, &SchemaError{Source: w.path, Err: err}
	}

	doc, err := decode(bytes.NewReader(data), w.opts)
	if err != nil {
		return nil, zeroHash, time.Time{}, &SchemaError{Source: w.path, Err: err}
	}
	return NewGraph(doc, w.start), sha256.Sum256(data), info.ModTime(), nil
}
