package navigation

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/leafcutter/leafcutter/internal/logging"
)

// Transition computes the next snapshot of a tree.
type Transition func(ctx context.Context, s State) (State, error)

// ChangeFunc is called after a tree's snapshot is replaced.
type ChangeFunc func(root string, s State)

// Forest holds the snapshot of every tracked tree, keyed by root directory.
// Trees are updated by replacing their snapshot, never in place.
type Forest struct {
	mu        sync.Mutex
	trees     map[string]State
	order     []string
	listeners []ChangeFunc
}

// NewForest creates an empty Forest.
func NewForest() *Forest {
	return &Forest{trees: make(map[string]State)}
}

// OnChange registers fn to run after every replacement.
func (f *Forest) OnChange(fn ChangeFunc) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

// Put stores s under its root directory.
func (f *Forest) Put(s State) {
	f.replace(s.RootDirectory, s, true)
}

// Get returns the snapshot of root.
func (f *Forest) Get(root string) (State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.trees[trimSlash(root)]
	return s, ok
}

// Roots returns the tracked roots in insertion order.
func (f *Forest) Roots() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

// Remove drops a tree. It reports whether the tree was tracked.
func (f *Forest) Remove(root string) bool {
	root = trimSlash(root)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.trees[root]; !ok {
		return false
	}
	delete(f.trees, root)
	for i, r := range f.order {
		if r == root {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return true
}

// Dispatch runs t against the snapshot of root. While t runs the tree is
// marked Transitioning. On success the result replaces the snapshot; on
// failure the previous snapshot is restored and the error returned.
func (f *Forest) Dispatch(ctx context.Context, root string, t Transition) (State, error) {
	prev, ok := f.Get(root)
	if !ok {
		return State{}, &UnknownTreeError{Root: root}
	}

	busy := prev
	busy.Phase = Transitioning
	f.replace(prev.RootDirectory, busy, false)

	next, err := t(ctx, busy)
	if err != nil {
		logging.Debug("navigation transition failed",
			zap.String("root", prev.RootDirectory),
			zap.String("current", prev.CurrentDirectory),
			zap.Error(err))
		f.replace(prev.RootDirectory, prev, false)
		return prev, err
	}
	next.Phase = Stable
	f.replace(prev.RootDirectory, next, false)
	return next, nil
}

// replace stores s. Unless add is set, a tree removed in the meantime stays
// removed.
func (f *Forest) replace(root string, s State, add bool) {
	f.mu.Lock()
	if _, ok := f.trees[root]; !ok {
		if !add {
			f.mu.Unlock()
			return
		}
		f.order = append(f.order, root)
	}
	f.trees[root] = s
	listeners := append([]ChangeFunc(nil), f.listeners...)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(root, s)
	}
}

// UnknownTreeError is returned when dispatching to an untracked root.
type UnknownTreeError struct {
	Root string
}

func (e *UnknownTreeError) Error() string {
	return "navigation: no tree for root " + e.Root
}
