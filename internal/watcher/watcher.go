// Package watcher watches a library tree for changes so its index can be
// rebuilt. The indexer's own output and hidden files are ignored.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/leafcutter/leafcutter/internal/indexer"
	"github.com/leafcutter/leafcutter/internal/logging"
	"github.com/leafcutter/leafcutter/pkg/tree"
)

// Event types.
const (
	EventCreate = "create"
	EventModify = "modify"
	EventDelete = "delete"
)

// DefaultDebounce is the quiet period before a burst of changes settles.
const DefaultDebounce = 2 * time.Second

// Event represents a file system change. Path is root-relative with a
// leading slash.
type Event struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Time int64  `json:"time"`
}

// SettleFunc receives the changes of one settled burst, sorted by path.
type SettleFunc func(changes []Event)

// Watcher watches a library root.
type Watcher struct {
	root     string
	debounce time.Duration
	onSettle SettleFunc

	fsw *fsnotify.Watcher

	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	pending map[string]Event

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher for root. onSettle may be nil.
func New(root string, debounce time.Duration, onSettle SettleFunc) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		root:     filepath.Clean(root),
		debounce: debounce,
		onSettle: onSettle,
		subs:     make(map[chan Event]struct{}),
		pending:  make(map[string]Event),
		done:     make(chan struct{}),
	}
}

// Start adds every directory under root to the watch and begins
// processing events in the background.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	if err := w.addTree(w.root); err != nil {
		fsw.Close()
		return err
	}

	go w.watchLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.fsw != nil {
			w.fsw.Close()
		}
	})
}

// Subscribe returns a channel that receives every accepted event.
func (w *Watcher) Subscribe() chan Event {
	ch := make(chan Event, 100)
	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown or
// already removed channels are ignored.
func (w *Watcher) Unsubscribe(ch chan Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.subs[ch]; !ok {
		return
	}
	delete(w.subs, ch)
	close(ch)
}

func (w *Watcher) watchLoop(ctx context.Context) {
	settle := time.NewTimer(w.debounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.handle(ev) {
				settle.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Warn("watch error", zap.String("root", w.root), zap.Error(err))
		case <-settle.C:
			w.flush()
		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handle records ev and reports whether it was accepted.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	rel, err := tree.Rel(w.root, ev.Name)
	if err != nil || ignored(rel) {
		return false
	}

	var typ string
	switch {
	case ev.Has(fsnotify.Create):
		typ = EventCreate
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				logging.Warn("failed to watch new directory", zap.String("dir", ev.Name), zap.Error(err))
			}
		}
	case ev.Has(fsnotify.Write):
		typ = EventModify
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		typ = EventDelete
	default:
		return false
	}

	e := Event{Type: typ, Path: rel, Time: time.Now().Unix()}
	w.mu.Lock()
	w.pending[rel] = e
	for ch := range w.subs {
		select {
		case ch <- e:
		default:
		}
	}
	w.mu.Unlock()
	return true
}

func (w *Watcher) flush() {
	w.mu.Lock()
	changes := make([]Event, 0, len(w.pending))
	for _, e := range w.pending {
		changes = append(changes, e)
	}
	w.pending = make(map[string]Event)
	w.mu.Unlock()

	if len(changes) == 0 {
		return
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	logging.Debug("changes settled", zap.String("root", w.root), zap.Int("changes", len(changes)))
	if w.onSettle != nil {
		w.onSettle(changes)
	}
}

// addTree watches dir and every non-ignored directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p != dir {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root {
			rel, err := tree.Rel(w.root, p)
			if err != nil {
				return err
			}
			if ignored(rel) {
				return filepath.SkipDir
			}
		}
		return w.fsw.Add(p)
	})
}

// ignored reports whether a root-relative path is generated or hidden.
func ignored(rel string) bool {
	if indexer.IsGenerated(rel) {
		return true
	}
	for _, seg := range strings.Split(strings.TrimPrefix(rel, "/"), "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
