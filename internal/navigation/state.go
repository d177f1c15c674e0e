// Package navigation implements the directory navigation state machine
// behind one library tree view. Every transition takes a snapshot and
// returns a new one; a failed transition returns the error and the caller
// keeps its previous snapshot.
package navigation

import (
	"context"
	"fmt"

	"github.com/leafcutter/leafcutter/pkg/models"
	"github.com/leafcutter/leafcutter/pkg/tree"
)

const (
	// DefaultDisplayLimit is the number of entries shown before "show more".
	DefaultDisplayLimit = 10
	// DefaultIncrement is added to the display limit by "show more".
	DefaultIncrement = 10
)

// Phase is the animation sub-state of a tree view.
type Phase int

const (
	Stable Phase = iota
	Transitioning
)

func (p Phase) String() string {
	if p == Transitioning {
		return "transitioning"
	}
	return "stable"
}

// State is an immutable snapshot of one tree view. Content is shared
// between snapshots and must not be modified.
type State struct {
	RootDirectory    string
	CurrentDirectory string
	// Root is set for the collapsed view, whose only entry is the root
	// directory itself.
	Root         bool
	Content      *models.DirectoryIndex
	Breadcrumbs  []Breadcrumb
	DisplayLimit int
	Phase        Phase
	// Highlight names an entry rendered first, set when arriving from a
	// search result.
	Highlight string
}

// IndexSource resolves index.json locators.
type IndexSource interface {
	GetIndex(ctx context.Context, locator string) (*models.DirectoryIndex, error)
}

// Navigator computes transitions against an IndexSource.
type Navigator struct {
	src          IndexSource
	displayLimit int
	increment    int
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithDisplayLimit sets the initial display limit of every snapshot.
func WithDisplayLimit(n int) Option {
	return func(nv *Navigator) {
		if n > 0 {
			nv.displayLimit = n
		}
	}
}

// WithIncrement sets the "show more" step.
func WithIncrement(n int) Option {
	return func(nv *Navigator) {
		if n > 0 {
			nv.increment = n
		}
	}
}

// New creates a Navigator.
func New(src IndexSource, opts ...Option) *Navigator {
	nv := &Navigator{
		src:          src,
		displayLimit: DefaultDisplayLimit,
		increment:    DefaultIncrement,
	}
	for _, opt := range opts {
		opt(nv)
	}
	return nv
}

// Open loads root and returns its collapsed view.
func (nv *Navigator) Open(ctx context.Context, root string) (State, error) {
	root = trimSlash(root)
	if root == "" {
		return State{}, fmt.Errorf("open tree: empty root")
	}
	if _, err := nv.src.GetIndex(ctx, tree.IndexLocator(root)); err != nil {
		return State{}, err
	}
	return nv.collapsed(root), nil
}

// EnterDirectory descends into name. In the collapsed view name is the root
// locator itself.
func (nv *Navigator) EnterDirectory(ctx context.Context, s State, name string) (State, error) {
	if s.Root {
		return nv.enter(ctx, s, trimSlash(name), "")
	}
	if s.Content != nil {
		if e, ok := s.Content.Get(name); ok {
			switch e.Type {
			case models.TypeDirectory:
			case models.TypeFile:
				return s, fmt.Errorf("enter %s: not a directory", name)
			}
		}
	}
	return nv.enter(ctx, s, tree.BuildChildPath(s.CurrentDirectory, name), "")
}

// PopOneLevel moves to the parent directory. At the root it returns the
// collapsed view.
func (nv *Navigator) PopOneLevel(ctx context.Context, s State) (State, error) {
	if s.Root || s.CurrentDirectory == s.RootDirectory {
		if _, err := nv.src.GetIndex(ctx, tree.IndexLocator(s.RootDirectory)); err != nil {
			return s, err
		}
		return nv.collapsed(s.RootDirectory), nil
	}
	return nv.enter(ctx, s, tree.ParentPath(s.CurrentDirectory), "")
}

// Close collapses the view to its root without any I/O.
func (nv *Navigator) Close(s State) State {
	return nv.collapsed(s.RootDirectory)
}

// JumpToBreadcrumb navigates to an ancestor taken from a breadcrumb. The
// snapshot is returned unchanged when already there.
func (nv *Navigator) JumpToBreadcrumb(ctx context.Context, s State, p string) (State, error) {
	p = trimSlash(p)
	if !s.Root && p == s.CurrentDirectory {
		return s, nil
	}
	return nv.enter(ctx, s, p, "")
}

// Reveal opens the directory holding filePath and highlights the file.
func (nv *Navigator) Reveal(ctx context.Context, s State, filePath string) (State, error) {
	dir := tree.ParentPath(filePath)
	if dir == "" {
		return s, fmt.Errorf("reveal %s: no parent directory", filePath)
	}
	return nv.enter(ctx, s, dir, tree.Base(filePath))
}

// IncreaseDisplayLimit raises the display limit by one increment.
func (nv *Navigator) IncreaseDisplayLimit(s State) State {
	s.DisplayLimit += nv.increment
	return s
}

func (nv *Navigator) enter(ctx context.Context, s State, dir, highlight string) (State, error) {
	idx, err := nv.src.GetIndex(ctx, tree.IndexLocator(dir))
	if err != nil {
		return s, err
	}
	return State{
		RootDirectory:    s.RootDirectory,
		CurrentDirectory: dir,
		Content:          idx,
		Breadcrumbs:      Breadcrumbs(dir, s.RootDirectory),
		DisplayLimit:     nv.displayLimit,
		Phase:            s.Phase,
		Highlight:        highlight,
	}, nil
}

func (nv *Navigator) collapsed(root string) State {
	idx := models.NewDirectoryIndex()
	idx.Set(root, models.DirectoryEntry(root, root))
	return State{
		RootDirectory:    root,
		CurrentDirectory: root,
		Root:             true,
		Content:          idx,
		Breadcrumbs:      Breadcrumbs(root, root),
		DisplayLimit:     nv.displayLimit,
	}
}

// Keys returns the rendered order of s: the highlighted name first, the
// rest in index order.
func Keys(s State) []string {
	if s.Content == nil {
		return nil
	}
	names := s.Content.Names()
	if s.Highlight == "" {
		return names
	}
	out := make([]string, 0, len(names))
	found := false
	for _, n := range names {
		if n == s.Highlight {
			found = true
			continue
		}
		out = append(out, n)
	}
	if !found {
		return names
	}
	return append([]string{s.Highlight}, out...)
}

// Visible returns the entries shown under the current display limit.
func Visible(s State) []models.Entry {
	keys := Keys(s)
	if len(keys) > s.DisplayLimit {
		keys = keys[:s.DisplayLimit]
	}
	out := make([]models.Entry, 0, len(keys))
	for _, k := range keys {
		e, _ := s.Content.Get(k)
		out = append(out, e)
	}
	return out
}

// HasMore reports whether a "show more" control is needed.
func HasMore(s State) bool {
	return s.Content != nil && s.Content.Len() > s.DisplayLimit
}
