package navigation

import (
	"strings"

	"github.com/leafcutter/leafcutter/pkg/tree"
)

// Breadcrumb maps a display title to a navigable directory.
type Breadcrumb struct {
	Title string `json:"title"`
	Path  string `json:"path"`
}

// Breadcrumbs returns one crumb per directory from root down to current.
// The first crumb is the root itself; crumb i>0 points at
// root + "/" + the first i segments below root.
//
// When current does not literally start with root (a locator rewritten by a
// mirror, for example) the root's basename is located among current's
// segments instead. If it cannot be found a single crumb for current is
// returned.
func Breadcrumbs(current, root string) []Breadcrumb {
	if current == "" {
		return []Breadcrumb{}
	}
	current = trimSlash(current)
	root = trimSlash(root)

	rest, ok := below(current, root)
	if !ok {
		rest, ok = belowBasename(current, root)
	}
	if !ok {
		return []Breadcrumb{{Title: tree.Base(current), Path: current}}
	}

	crumbs := make([]Breadcrumb, 0, len(rest)+1)
	crumbs = append(crumbs, Breadcrumb{Title: tree.Base(root), Path: root})
	p := root
	for _, seg := range rest {
		// Segments are taken from current as written; URL locators keep
		// their encoding in Path and are decoded for Title.
		p = tree.Join(p, seg)
		crumbs = append(crumbs, Breadcrumb{Title: tree.Base(p), Path: p})
	}
	return crumbs
}

// below returns the segments of current under root.
func below(current, root string) ([]string, bool) {
	if current == root {
		return nil, true
	}
	prefix := root + "/"
	if root == "/" {
		prefix = "/"
	}
	if !strings.HasPrefix(current, prefix) {
		return nil, false
	}
	return strings.Split(current[len(prefix):], "/"), true
}

func belowBasename(current, root string) ([]string, bool) {
	name := tree.RawBase(root)
	segs := tree.Segments(current)
	for i, seg := range segs {
		if seg == name {
			return segs[i+1:], true
		}
	}
	return nil, false
}

func trimSlash(p string) string {
	if len(p) > 1 {
		return strings.TrimSuffix(p, "/")
	}
	return p
}
