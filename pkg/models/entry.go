// Package models contains the data types shared by the index, cache,
// navigation and search components.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EntryType discriminates the Entry variants.
type EntryType string

const (
	TypeDirectory EntryType = "directory"
	TypeFile      EntryType = "file"
)

// Entry is one child of a directory index, or one row of a search page.
// Directory entries only carry Name and Dir; file entries carry the rest.
type Entry struct {
	Type     EntryType `json:"type"`
	Name     string    `json:"name,omitempty"`
	File     string    `json:"file,omitempty"`
	Format   string    `json:"format,omitempty"`
	Size     int64     `json:"size,omitempty"`
	Checksum string    `json:"checksum,omitempty"`
	Dir      string    `json:"dir,omitempty"`

	// BasePath is set on search results to the library root the entry came from.
	BasePath string `json:"basePath,omitempty"`
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool { return e.Type == TypeDirectory }

// IsFile reports whether the entry is a file.
func (e Entry) IsFile() bool { return e.Type == TypeFile }

// Validate checks that the entry claims exactly one known type.
func (e Entry) Validate() error {
	switch e.Type {
	case TypeDirectory, TypeFile:
		return nil
	case "":
		return fmt.Errorf("entry %q has no type", e.Name)
	default:
		return fmt.Errorf("entry %q has unknown type %q", e.Name, e.Type)
	}
}

// DirectoryEntry builds a directory entry.
func DirectoryEntry(name, dir string) Entry {
	return Entry{Type: TypeDirectory, Name: name, Dir: dir}
}

// DirectoryIndex is an ordered mapping from child name to Entry. The order
// is the order of the JSON document it was decoded from, or insertion order.
type DirectoryIndex struct {
	names   []string
	entries map[string]Entry
}

// NewDirectoryIndex returns an empty index.
func NewDirectoryIndex() *DirectoryIndex {
	return &DirectoryIndex{entries: make(map[string]Entry)}
}

// Set adds or replaces an entry. Replacing keeps the original position.
func (d *DirectoryIndex) Set(name string, e Entry) {
	if d.entries == nil {
		d.entries = make(map[string]Entry)
	}
	if _, ok := d.entries[name]; !ok {
		d.names = append(d.names, name)
	}
	d.entries[name] = e
}

// Get returns the entry stored under name.
func (d *DirectoryIndex) Get(name string) (Entry, bool) {
	if d == nil {
		return Entry{}, false
	}
	e, ok := d.entries[name]
	return e, ok
}

// Len returns the number of entries.
func (d *DirectoryIndex) Len() int {
	if d == nil {
		return 0
	}
	return len(d.names)
}

// Names returns the entry names in index order.
func (d *DirectoryIndex) Names() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Entries returns the entries in index order.
func (d *DirectoryIndex) Entries() []Entry {
	if d == nil {
		return nil
	}
	out := make([]Entry, 0, len(d.names))
	for _, name := range d.names {
		out = append(out, d.entries[name])
	}
	return out
}

// Clone returns a deep copy.
func (d *DirectoryIndex) Clone() *DirectoryIndex {
	c := NewDirectoryIndex()
	if d == nil {
		return c
	}
	for _, name := range d.names {
		c.Set(name, d.entries[name])
	}
	return c
}

// MarshalJSON writes the entries as a JSON object in index order.
func (d *DirectoryIndex) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if d != nil {
		for i, name := range d.names {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := marshalNoEscape(name)
			if err != nil {
				return nil, err
			}
			val, err := marshalNoEscape(d.entries[name])
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object of entries, keeping document order.
// Every entry must carry a known type.
func (d *DirectoryIndex) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("directory index must be a JSON object")
	}

	d.names = nil
	d.entries = make(map[string]Entry)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return fmt.Errorf("entry %q: %w", name, err)
		}
		if e.Name == "" {
			e.Name = name
		}
		if err := e.Validate(); err != nil {
			return err
		}
		if _, dup := d.entries[name]; dup {
			return fmt.Errorf("duplicate entry %q", name)
		}
		d.Set(name, e)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// IndexFile is the on-disk envelope of index.json.
type IndexFile struct {
	Content *DirectoryIndex `json:"content"`
}

// ParseIndex decodes an index.json payload. Both the {"content": {...}}
// envelope and a bare object of entries are accepted.
func ParseIndex(data []byte) (*DirectoryIndex, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, err
	}
	if raw, ok := top["content"]; ok && !looksLikeEntry(raw) {
		idx := NewDirectoryIndex()
		if err := json.Unmarshal(raw, idx); err != nil {
			return nil, err
		}
		return idx, nil
	}
	idx := NewDirectoryIndex()
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, err
	}
	return idx, nil
}

// looksLikeEntry reports whether raw is an entry object (a child literally
// named "content") rather than the envelope payload.
func looksLikeEntry(raw json.RawMessage) bool {
	var shape struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return false
	}
	return shape.Type != nil
}

// EncodeIndex renders the envelope with HTML escaping disabled so names
// like "Kick & Snare" stay readable.
func EncodeIndex(idx *DirectoryIndex) ([]byte, error) {
	if idx == nil {
		idx = NewDirectoryIndex()
	}
	return marshalIndent(IndexFile{Content: idx})
}

// SearchPage is one chunk of the flattened file listing under a root.
type SearchPage struct {
	Content    []Entry `json:"content"`
	Next       bool    `json:"next"`
	Total      int     `json:"total"`
	TotalCount int     `json:"totalCount,omitempty"`
}

// ParseSearchPage decodes a _search/N.json payload. Older libraries carry
// the page count as "totalPages" instead of "total"; both are accepted.
func ParseSearchPage(data []byte) (*SearchPage, error) {
	var raw struct {
		SearchPage
		TotalPages int `json:"totalPages"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	page := raw.SearchPage
	if page.Total == 0 {
		page.Total = raw.TotalPages
	}
	for _, e := range page.Content {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	return &page, nil
}

// EncodeSearchPage renders a search page.
func EncodeSearchPage(page *SearchPage) ([]byte, error) {
	if page.Content == nil {
		page.Content = []Entry{}
	}
	return marshalIndent(page)
}

// LibraryConfig is the persisted list of user-added local library roots.
type LibraryConfig struct {
	Directories []string `json:"directories"`
}

func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func marshalIndent(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CacheRecord describes one payload held by the local cache.
type CacheRecord struct {
	Key    string `json:"key"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}
