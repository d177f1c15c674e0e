package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testKey = "https://raw.githubusercontent.com/smaudd/909/master/index.json"

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCache_StoreAndResolve(t *testing.T) {
	c := newTestCache(t)

	content := []byte(`{"content":{}}`)
	if err := c.Store(testKey, content); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, res := c.Resolve(testKey)
	if res != Hit {
		t.Fatalf("Resolve result = %v, want hit", res)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content mismatch: got %q, want %q", got, content)
	}

	path, err := c.Path(testKey)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	want := filepath.Join(c.Dir(), "raw.githubusercontent.com", "smaudd", "909", "master", "index.json")
	if path != want {
		t.Errorf("Path = %q, want %q", path, want)
	}

	sidecar, err := os.ReadFile(path + HashSuffix)
	if err != nil {
		t.Fatalf("ReadFile sidecar: %v", err)
	}
	if string(sidecar) != Digest(content) {
		t.Errorf("sidecar = %q, want %q", sidecar, Digest(content))
	}
}

func TestCache_ResolveAbsent(t *testing.T) {
	c := newTestCache(t)

	if _, res := c.Resolve(testKey); res != Absent {
		t.Errorf("Resolve on empty cache = %v, want absent", res)
	}
	if _, res := c.Resolve("/not/a/url"); res != Absent {
		t.Errorf("Resolve on local path = %v, want absent", res)
	}
}

func TestCache_MissingSidecarIsAbsent(t *testing.T) {
	c := newTestCache(t)
	if err := c.Store(testKey, []byte("payload")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	path, _ := c.Path(testKey)
	if err := os.Remove(path + HashSuffix); err != nil {
		t.Fatalf("Remove sidecar: %v", err)
	}

	if _, res := c.Resolve(testKey); res != Absent {
		t.Errorf("Resolve without sidecar = %v, want absent", res)
	}
}

func TestCache_CorruptedSidecar(t *testing.T) {
	c := newTestCache(t)
	if err := c.Store(testKey, []byte("payload")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	path, _ := c.Path(testKey)

	sidecar, err := os.ReadFile(path + HashSuffix)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Alter one byte of the stored digest.
	if sidecar[0] == 'a' {
		sidecar[0] = 'b'
	} else {
		sidecar[0] = 'a'
	}
	if err := os.WriteFile(path+HashSuffix, sidecar, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, res := c.Resolve(testKey)
	if res != Mismatch {
		t.Errorf("Resolve = %v, want mismatch", res)
	}
	if got != nil {
		t.Error("Resolve returned a payload on mismatch")
	}
}

func TestCache_CorruptedPayload(t *testing.T) {
	c := newTestCache(t)
	if err := c.Store(testKey, []byte("payload")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	path, _ := c.Path(testKey)
	if err := os.WriteFile(path, []byte("tampered"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, res := c.Resolve(testKey); res != Mismatch {
		t.Errorf("Resolve = %v, want mismatch", res)
	}

	bad, err := c.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(bad) != 1 || bad[0].Path != path {
		t.Errorf("Verify = %+v, want one record for %s", bad, path)
	}
}

func TestCache_StoreOverwrites(t *testing.T) {
	c := newTestCache(t)
	c.Store(testKey, []byte("old"))
	if err := c.Store(testKey, []byte("new")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, res := c.Resolve(testKey)
	if res != Hit || string(got) != "new" {
		t.Errorf("Resolve = %q (%v), want new (hit)", got, res)
	}
}

func TestCache_AtomicWrite(t *testing.T) {
	c := newTestCache(t)
	if err := c.Store(testKey, []byte("atomic content")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	path, _ := c.Path(testKey)
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
	if len(entries) != 2 {
		t.Errorf("expected payload and sidecar, got %d files", len(entries))
	}
}

func TestCache_Evict(t *testing.T) {
	c := newTestCache(t)
	c.Store(testKey, []byte("evictme"))

	if err := c.Evict(testKey); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if _, res := c.Resolve(testKey); res != Absent {
		t.Errorf("Resolve after Evict = %v, want absent", res)
	}

	path, _ := c.Path(testKey)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("payload still exists on disk after evict")
	}

	// Evicting again is a no-op.
	if err := c.Evict(testKey); err != nil {
		t.Errorf("second Evict: %v", err)
	}
}

func TestCache_StatsAndClear(t *testing.T) {
	c := newTestCache(t)

	count, size, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if count != 0 || size != 0 {
		t.Errorf("initial stats wrong: count=%d, size=%d", count, size)
	}

	c.Store("https://host/a.wav", []byte("a"))
	c.Store("https://host/dir/b.wav", []byte("bb"))
	c.Store("s3://bucket/c.wav", []byte("ccc"))

	count, size, err = c.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if count != 3 || size != 6 {
		t.Errorf("stats after Store wrong: count=%d, size=%d", count, size)
	}

	records, err := c.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	keys := make(map[string]bool)
	for _, r := range records {
		keys[r.Key] = true
	}
	if !keys["host/dir/b.wav"] || !keys["bucket/c.wav"] {
		t.Errorf("List keys = %v", keys)
	}

	cleared, err := c.Clear()
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if cleared != 3 {
		t.Errorf("Clear returned %d, want 3", cleared)
	}
	if _, res := c.Resolve("https://host/a.wav"); res != Absent {
		t.Error("record survived Clear")
	}
	if _, err := os.Stat(c.Dir()); err != nil {
		t.Errorf("cache dir removed by Clear: %v", err)
	}
}

func TestCache_PathStaysInsideDir(t *testing.T) {
	c := newTestCache(t)
	path, err := c.Path("https://host/../../../etc/passwd")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if !strings.HasPrefix(path, c.Dir()+string(filepath.Separator)) {
		t.Errorf("Path %q escapes cache dir %q", path, c.Dir())
	}
}

func TestNew_CreatesDir(t *testing.T) {
	base := t.TempDir()
	cacheDir := filepath.Join(base, "subdir", "cache")

	c, err := New(cacheDir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Dir() != cacheDir {
		t.Errorf("Dir() = %q, want %q", c.Dir(), cacheDir)
	}
	if _, err := os.Stat(cacheDir); os.IsNotExist(err) {
		t.Error("cache directory was not created")
	}
}
