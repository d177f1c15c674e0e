// Package tree provides path helpers for locators: local filesystem paths
// and remote URLs (http, https, s3) that address a library tree.
package tree

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// IndexFile is the per-directory index name.
	IndexFile = "index.json"
	// SearchDir holds the paginated search listing under a root.
	SearchDir = "_search"
	// ChecksumFile stores the structural checksum of the last full build.
	ChecksumFile = "top_level_checksum.txt"
)

var remoteSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"s3":    true,
}

// IsRemote reports whether locator must be resolved through a remote source.
func IsRemote(locator string) bool {
	u, err := url.Parse(locator)
	if err != nil {
		return false
	}
	return remoteSchemes[strings.ToLower(u.Scheme)] && u.Host != ""
}

// Scheme returns the lowercased URL scheme of a remote locator, or "".
func Scheme(locator string) string {
	if !IsRemote(locator) {
		return ""
	}
	u, _ := url.Parse(locator)
	return strings.ToLower(u.Scheme)
}

// LocalPath converts a file:// URL into a filesystem path and returns any
// other non-remote locator unchanged.
func LocalPath(locator string) string {
	if strings.HasPrefix(locator, "file://") {
		if u, err := url.Parse(locator); err == nil {
			return filepath.FromSlash(u.Path)
		}
	}
	return locator
}

// isURL reports whether p is written as a URL, whose path segments are
// percent-encoded.
func isURL(p string) bool {
	return strings.HasPrefix(p, "file://") || IsRemote(p)
}

// BuildChildPath constructs a child locator from parent + name. name is a
// raw, slash-separated relative path; under a URL parent each segment is
// percent-encoded so names holding '#', '?' or '%' stay in the path.
func BuildChildPath(parentPath, name string) string {
	if isURL(parentPath) {
		segs := strings.Split(name, "/")
		for i, seg := range segs {
			segs[i] = url.PathEscape(seg)
		}
		name = strings.Join(segs, "/")
	}
	return Join(parentPath, name)
}

// Join appends an already encoded relative path to a locator.
func Join(parentPath, rel string) string {
	if parentPath == "/" {
		return "/" + rel
	}
	return strings.TrimSuffix(parentPath, "/") + "/" + rel
}

// ParentPath strips the last segment of a locator.
func ParentPath(p string) string {
	p = strings.TrimSuffix(p, "/")
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	if i == 0 {
		return "/"
	}
	return p[:i]
}

// Base returns the last segment of a locator, decoded for URLs so it
// matches the index entry name.
func Base(p string) string {
	if p == "/" {
		return "/"
	}
	seg := RawBase(p)
	if isURL(p) {
		if name, err := url.PathUnescape(seg); err == nil {
			return name
		}
	}
	return seg
}

// RawBase returns the last segment of a locator as written.
func RawBase(p string) string {
	if p == "/" {
		return "/"
	}
	p = strings.TrimSuffix(p, "/")
	return p[strings.LastIndex(p, "/")+1:]
}

// Segments splits a locator on "/" the same way breadcrumbs do.
func Segments(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Depth counts the segments of a locator.
func Depth(p string) int {
	return len(Segments(strings.TrimSuffix(p, "/")))
}

// IndexLocator returns the index.json locator of a directory.
func IndexLocator(dir string) string {
	return BuildChildPath(dir, IndexFile)
}

// SearchPageLocator returns the locator of a 1-based search page under base.
func SearchPageLocator(base string, page int) string {
	return BuildChildPath(BuildChildPath(base, SearchDir), strconv.Itoa(page)+".json")
}

// CacheKey derives the relative cache path of a remote locator:
// "<host>/<clean decoded url path>" (for s3, "<bucket>/<key>"). Query
// strings and fragments are ignored. The result never escapes the cache
// root.
func CacheKey(locator string) (string, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("parse locator %q: %w", locator, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("locator %q has no host", locator)
	}
	p := path.Clean("/" + u.Path)
	if p == "/" {
		return "", fmt.Errorf("locator %q has no path", locator)
	}
	host := strings.ReplaceAll(u.Host, ":", "_")
	return host + p, nil
}

// Rel returns target relative to root with a leading "/", using forward
// slashes. It is the path form stored in index entries.
func Rel(root, target string) (string, error) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "/", nil
	}
	return "/" + filepath.ToSlash(rel), nil
}
