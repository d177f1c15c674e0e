package indexstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafcutter/leafcutter/pkg/cache"
	"github.com/leafcutter/leafcutter/pkg/client"
	"github.com/leafcutter/leafcutter/pkg/models"
)

const indexJSON = `{"content":{"kicks":{"type":"directory","name":"kicks","dir":"/kicks"},"808.wav":{"type":"file","name":"808.wav","file":"/808.wav","format":"wav","size":4,"checksum":"abc"}}}`

func newStore(t *testing.T, opts ...Option) (*Store, *cache.Cache) {
	t.Helper()
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)
	return New(c, opts...), c
}

// countingServer serves files from a map and counts requests per path.
type countingServer struct {
	files map[string]string
	hits  map[string]*atomic.Int32
}

func newCountingServer(files map[string]string) (*countingServer, *httptest.Server) {
	cs := &countingServer{files: files, hits: make(map[string]*atomic.Int32)}
	for p := range files {
		cs.hits[p] = &atomic.Int32{}
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := cs.files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		cs.hits[r.URL.Path].Add(1)
		w.Write([]byte(body))
	}))
	return cs, ts
}

func httpStore(t *testing.T) (*Store, *cache.Cache) {
	t.Helper()
	c := client.New(client.Config{})
	return newStore(t, WithSource("http", c), WithSource("https", c))
}

func TestGetIndex_Local(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.json"), []byte(indexJSON), 0644))

	s, _ := newStore(t)
	idx, err := s.GetIndex(context.Background(), filepath.Join(dir, "index.json"))
	require.NoError(t, err)

	assert.Equal(t, []string{"kicks", "808.wav"}, idx.Names())
	kick, ok := idx.Get("kicks")
	require.True(t, ok)
	assert.True(t, kick.IsDir())
	sample, _ := idx.Get("808.wav")
	assert.Equal(t, int64(4), sample.Size)
}

func TestGetIndex_LocalBareObject(t *testing.T) {
	dir := t.TempDir()
	bare := `{"snare.wav":{"type":"file","format":"wav","size":1,"checksum":"x"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.json"), []byte(bare), 0644))

	s, _ := newStore(t)
	idx, err := s.GetIndex(context.Background(), "file://"+filepath.ToSlash(filepath.Join(dir, "index.json")))
	require.NoError(t, err)
	e, ok := idx.Get("snare.wav")
	require.True(t, ok)
	assert.Equal(t, "snare.wav", e.Name)
}

func TestGetIndex_LocalErrors(t *testing.T) {
	dir := t.TempDir()
	s, _ := newStore(t)

	_, err := s.GetIndex(context.Background(), filepath.Join(dir, "missing", "index.json"))
	assert.True(t, models.IsNotFound(err), "got %v", err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.json"), []byte("{not json"), 0644))
	_, err = s.GetIndex(context.Background(), filepath.Join(dir, "index.json"))
	assert.True(t, models.IsMalformed(err), "got %v", err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.json"), []byte(`{"a":{"type":"symlink"}}`), 0644))
	_, err = s.GetIndex(context.Background(), filepath.Join(dir, "index.json"))
	assert.True(t, models.IsMalformed(err), "unknown type must be malformed, got %v", err)
}

func TestGetIndex_RemoteCachesAfterFirstFetch(t *testing.T) {
	cs, ts := newCountingServer(map[string]string{"/909/index.json": indexJSON})
	defer ts.Close()
	s, c := httpStore(t)
	locator := ts.URL + "/909/index.json"

	for i := 0; i < 3; i++ {
		idx, err := s.GetIndex(context.Background(), locator)
		require.NoError(t, err)
		assert.Equal(t, 2, idx.Len())
	}
	assert.Equal(t, int32(1), cs.hits["/909/index.json"].Load())

	payload, res := c.Resolve(locator)
	assert.Equal(t, cache.Hit, res)
	assert.JSONEq(t, indexJSON, string(payload))
}

func TestGetIndex_RemoteMismatchRefetches(t *testing.T) {
	cs, ts := newCountingServer(map[string]string{"/909/index.json": indexJSON})
	defer ts.Close()
	s, c := httpStore(t)
	locator := ts.URL + "/909/index.json"

	_, err := s.GetIndex(context.Background(), locator)
	require.NoError(t, err)

	p, err := c.Path(locator)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, []byte(`{"content":{}}`), 0644))

	idx, err := s.GetIndex(context.Background(), locator)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len(), "tampered cache must not be trusted")
	assert.Equal(t, int32(2), cs.hits["/909/index.json"].Load())

	_, res := c.Resolve(locator)
	assert.Equal(t, cache.Hit, res, "re-fetch must repair the record")
}

func TestGetIndex_RemoteMismatchAndFetchFails(t *testing.T) {
	fail := errors.New("connection refused")
	var calls int
	s, c := newStore(t, WithSource("https", FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		calls++
		return nil, fail
	})))
	locator := "https://samples.example.com/909/index.json"

	require.NoError(t, c.Store(locator, []byte(indexJSON)))
	p, _ := c.Path(locator)
	require.NoError(t, os.WriteFile(p+cache.HashSuffix, []byte("0000"), 0644))

	_, err := s.GetIndex(context.Background(), locator)
	require.Error(t, err)
	ie, ok := models.AsIntegrity(err)
	require.True(t, ok, "got %T: %v", err, err)
	assert.ErrorIs(t, ie, fail)
	assert.Equal(t, 1, calls, "exactly one re-fetch")
}

func TestGetIndex_RemoteAbsent(t *testing.T) {
	_, ts := newCountingServer(map[string]string{})
	defer ts.Close()
	s, _ := httpStore(t)

	_, err := s.GetIndex(context.Background(), ts.URL+"/nothing/index.json")
	assert.True(t, models.IsNotFound(err), "got %v", err)
	_, isIntegrity := models.AsIntegrity(err)
	assert.False(t, isIntegrity)
}

func TestGetIndex_RemoteMalformedNotCached(t *testing.T) {
	_, ts := newCountingServer(map[string]string{"/bad/index.json": "<html>oops</html>"})
	defer ts.Close()
	s, c := httpStore(t)
	locator := ts.URL + "/bad/index.json"

	_, err := s.GetIndex(context.Background(), locator)
	assert.True(t, models.IsMalformed(err), "got %v", err)

	_, res := c.Resolve(locator)
	assert.Equal(t, cache.Absent, res)
}

func TestGetFile_S3Source(t *testing.T) {
	s, c := newStore(t, WithSource("s3", FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		if locator == "s3://samples/kicks/808.wav" {
			return []byte("RIFF"), nil
		}
		return nil, &models.NotFoundError{Locator: locator}
	})))

	data, err := s.GetFile(context.Background(), "s3://samples/kicks/808.wav")
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data))

	p, err := c.Path("s3://samples/kicks/808.wav")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Dir(), "samples", "kicks", "808.wav"), p)

	_, err = s.GetFile(context.Background(), "s3://samples/none.wav")
	assert.True(t, models.IsNotFound(err))
}

func TestGetFile_UnknownScheme(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.GetFile(context.Background(), "https://host/a.wav")
	assert.Error(t, err)
}

func searchPage(entries []models.Entry, next bool, total, count int) string {
	data, _ := json.Marshal(models.SearchPage{Content: entries, Next: next, Total: total, TotalCount: count})
	return string(data)
}

func fileEntry(name string) models.Entry {
	return models.Entry{Type: models.TypeFile, Name: name, File: "/" + name, Format: "wav", Size: 1, Checksum: "x"}
}

func TestGetSearchPage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "_search"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_search", "1.json"),
		[]byte(searchPage([]models.Entry{fileEntry("a.wav")}, false, 1, 1)), 0644))

	s, _ := newStore(t)
	page, err := s.GetSearchPage(context.Background(), dir, 1)
	require.NoError(t, err)
	assert.False(t, page.Next)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Content, 1)

	_, err = s.GetSearchPage(context.Background(), dir, 0)
	assert.Error(t, err)

	_, err = s.GetSearchPage(context.Background(), dir, 2)
	assert.True(t, models.IsNotFound(err))
}

func TestCollectSearchEntries(t *testing.T) {
	files := map[string]string{}
	var want []string
	for p := 1; p <= 4; p++ {
		var entries []models.Entry
		for i := 0; i < 3; i++ {
			name := fmt.Sprintf("p%d-%d.wav", p, i)
			entries = append(entries, fileEntry(name))
			want = append(want, name)
		}
		files[fmt.Sprintf("/lib/_search/%d.json", p)] = searchPage(entries, p < 4, 4, 12)
	}
	files["/single/_search/1.json"] = searchPage([]models.Entry{fileEntry("only.wav")}, false, 1, 1)
	want = append(want, "only.wav")

	_, ts := newCountingServer(files)
	defer ts.Close()
	s, _ := httpStore(t)

	bases := []string{ts.URL + "/lib", ts.URL + "/single", ts.URL + "/never-indexed"}
	entries, err := s.CollectSearchEntries(context.Background(), bases)
	require.NoError(t, err)

	var got []string
	for _, e := range entries {
		got = append(got, e.Name)
	}
	assert.Equal(t, want, got, "pages must be joined in page order")

	assert.Equal(t, ts.URL+"/lib", entries[0].BasePath)
	assert.Equal(t, ts.URL+"/lib/p1-0.wav", entries[0].File)
	assert.Equal(t, ts.URL+"/single/only.wav", entries[len(entries)-1].File)
}

func TestFilter(t *testing.T) {
	entries := []models.Entry{fileEntry("Kick 01.wav"), fileEntry("snare.wav"), fileEntry("KICK-hard.flac")}

	assert.Nil(t, Filter(entries, ""))
	assert.Nil(t, Filter(entries, "   "))

	got := Filter(entries, "kick")
	require.Len(t, got, 2)
	assert.Equal(t, "Kick 01.wav", got[0].Name)
	assert.Equal(t, "KICK-hard.flac", got[1].Name)

	assert.Empty(t, Filter(entries, "hat"))
}

func TestFrame(t *testing.T) {
	var results []models.Entry
	for i := 0; i < 7; i++ {
		results = append(results, fileEntry(fmt.Sprintf("%d.wav", i)))
	}

	assert.Len(t, Frame(results, 0, 2), 2)
	assert.Len(t, Frame(results, 1, 2), 4)
	assert.Len(t, Frame(results, 5, 2), 7)
	assert.Nil(t, Frame(results, 1, 0))
}
