package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fliupa/cni-scrapy/internal/harvest"
)

func testSchema() harvest.Schema {
	return harvest.Schema{
		IndexColumn: "Índice",
		URLColumn:   "URL",
		Fields: []harvest.Field{
			{Key: harvest.FieldName, Column: "Nombre del Indicador"},
			{Key: "unit", Column: "Unidad de medida"},
		},
	}
}

func sampleRecords() []harvest.Record {
	c := harvest.NewRecord(3, "https://x/c")
	c.Set(harvest.FieldName, "Índice de precios")
	a := harvest.NewRecord(1, "https://x/a")
	a.Set(harvest.FieldName, "Población")
	a.Set("unit", "Personas")
	b := harvest.NewFailureRecord(2, "https://x/b", 3, assert.AnError)
	return []harvest.Record{c, a, b}
}

func TestFileStoreLoadMissingIsEmpty(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(filepath.Join(t.TempDir(), "none.csv"), testSchema(), nil)
	require.NoError(t, err)

	records, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestFileStoreSaveLoadClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "resultados", "progreso_parcial.csv")
	store, err := NewFileStore(path, testSchema(), nil)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, sampleRecords()))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{got[0].Index, got[1].Index, got[2].Index})
	assert.Equal(t, "Personas", got[0].Fields["unit"])
	assert.True(t, got[1].Failed())

	// Save is a full rewrite, not an append.
	require.NoError(t, store.Save(ctx, got[:1]))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, store.Clear(ctx))
	_, statErr := os.Stat(path)
	require.ErrorIs(t, statErr, os.ErrNotExist)
	require.NoError(t, store.Clear(ctx), "clearing twice is fine")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Empty(t, entries, "no temp files left behind")
}

func TestFileStoreCorruptCheckpoint(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "broken.csv")
	require.NoError(t, os.WriteFile(path, []byte("Índice,URL\nx,https://x/a\n"), 0o600))
	store, err := NewFileStore(path, testSchema(), nil)
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	require.Error(t, err)
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	t.Parallel()
	_, err := NewFileStore("  ", testSchema(), nil)
	require.Error(t, err)
}
