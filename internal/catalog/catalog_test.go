package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafcutter/leafcutter/internal/indexer"
	"github.com/leafcutter/leafcutter/pkg/models"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open("sqlite", filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Migrate(context.Background()))
	return c
}

func sample(dir, name string) models.Entry {
	return models.Entry{
		Type:     models.TypeFile,
		Name:     name,
		File:     dir + "/" + name,
		Dir:      dir,
		Format:   "wav",
		Size:     10,
		Checksum: "sum-" + name,
	}
}

func TestRecordAndSearch(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()

	res := &indexer.Result{
		Root:     "/samples/909",
		Checksum: "abc",
		Files: []models.Entry{
			sample("/kicks", "Kick_01.wav"),
			sample("/kicks", "kick_02.wav"),
			sample("/snares", "snare.wav"),
			sample("/fx", "100%_noise.wav"),
		},
	}
	require.NoError(t, c.Record(ctx, res))

	got, err := c.Search(ctx, "KICK", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/kicks/Kick_01.wav", got[0].File)
	assert.Equal(t, "/samples/909", got[0].Root)
	assert.Equal(t, int64(10), got[0].Size)

	got, err = c.Search(ctx, "%", 0)
	require.NoError(t, err)
	require.Len(t, got, 1, "wildcards are matched literally")
	assert.Equal(t, "100%_noise.wav", got[0].Name)

	got, err = c.Search(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = c.Search(ctx, "wav", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	libs, err := c.Libraries(ctx)
	require.NoError(t, err)
	require.Len(t, libs, 1)
	assert.Equal(t, 4, libs[0].Files)
	assert.Equal(t, "abc", libs[0].Checksum)
	assert.False(t, libs[0].IndexedAt.IsZero())
}

func TestSearchMatchesDecomposedNames(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()

	require.NoError(t, c.Record(ctx, &indexer.Result{
		Root:     "/samples/mac",
		Checksum: "def",
		Files:    []models.Entry{sample("/pads", "Cle\u0301.wav")},
	}))

	got, err := c.Search(ctx, "CLÉ", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Cle\u0301.wav", got[0].Name, "the stored name keeps its on-disk form")
}

func TestRecordReplacesRoot(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()

	require.NoError(t, c.Record(ctx, &indexer.Result{Root: "/a", Checksum: "1", Files: []models.Entry{sample("/", "old.wav")}}))
	require.NoError(t, c.Record(ctx, &indexer.Result{Root: "/b", Checksum: "1", Files: []models.Entry{sample("/", "other.wav")}}))
	require.NoError(t, c.Record(ctx, &indexer.Result{Root: "/a", Checksum: "2", Files: []models.Entry{sample("/", "new.wav")}}))

	got, err := c.Search(ctx, "old", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = c.Search(ctx, ".wav", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// A skipped build keeps the samples.
	require.NoError(t, c.Record(ctx, &indexer.Result{Root: "/a", Checksum: "2", Skipped: true}))
	got, err = c.Search(ctx, "new", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestForget(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	require.NoError(t, c.Record(ctx, &indexer.Result{Root: "/a", Checksum: "1", Files: []models.Entry{sample("/", "a.wav")}}))

	require.NoError(t, c.Forget(ctx, "/a"))
	libs, err := c.Libraries(ctx)
	require.NoError(t, err)
	assert.Empty(t, libs)
	got, err := c.Search(ctx, "a", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.NoError(t, c.Forget(ctx, "/never"))
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &Catalog{postgres: true}
	assert.Equal(t, "SELECT $1, $2", pg.rebind("SELECT ?, ?"))
	lite := &Catalog{}
	assert.Equal(t, "SELECT ?, ?", lite.rebind("SELECT ?, ?"))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\%\_off\\`, escapeLike(`50%_off\`))
}
