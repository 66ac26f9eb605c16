package views

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/akl/internal/log"
	"github.com/mattjoyce/akl/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "akl.db"))
	require.NoError(t, err)
	s := storage.New(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRebuildWritesIndexAndCollections(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Update(ctx, func(sess *storage.Session) error {
		if err := sess.Collections().Save(ctx, &storage.ROMCollection{ID: "c1", Name: "SNES", Platform: "Nintendo SNES"}); err != nil {
			return err
		}
		if err := sess.Collections().Save(ctx, &storage.ROMCollection{ID: "c2", Name: "Amiga"}); err != nil {
			return err
		}
		if err := sess.ROMs().Save(ctx, &storage.ROM{ID: "r1", Name: "Zelda", Year: "1991"}); err != nil {
			return err
		}
		return sess.Collections().AddROM(ctx, "c1", "r1")
	}))

	dir := filepath.Join(t.TempDir(), "views")
	w := NewWriter(s, dir)
	n, err := w.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var index Index
	require.NoError(t, Load(dir, IndexFile, &index))
	require.Len(t, index.Collections, 2)
	assert.Equal(t, Item{ID: "c2", Name: "Amiga", ROMCount: 0}, index.Collections[0])
	assert.Equal(t, Item{ID: "c1", Name: "SNES", Platform: "Nintendo SNES", ROMCount: 1}, index.Collections[1])

	var snes Collection
	require.NoError(t, Load(dir, CollectionFile("c1"), &snes))
	assert.Equal(t, "SNES", snes.Name)
	require.Len(t, snes.ROMs, 1)
	assert.Equal(t, "Zelda", snes.ROMs[0].Name)
	assert.Equal(t, "1991", snes.ROMs[0].Year)

	var amiga Collection
	require.NoError(t, Load(dir, CollectionFile("c2"), &amiga))
	assert.NotNil(t, amiga.ROMs)
	assert.Empty(t, amiga.ROMs)
}

func TestRebuildPrunesDeletedCollections(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Update(ctx, func(sess *storage.Session) error {
		return sess.Collections().Save(ctx, &storage.ROMCollection{ID: "c1", Name: "SNES"})
	}))

	dir := t.TempDir()
	unrelated := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("keep"), 0o644))

	w := NewWriter(s, dir)
	_, err := w.Rebuild(ctx)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, CollectionFile("c1")))

	require.NoError(t, s.Update(ctx, func(sess *storage.Session) error {
		return sess.Collections().Delete(ctx, "c1")
	}))
	n, err := w.Rebuild(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoFileExists(t, filepath.Join(dir, CollectionFile("c1")))
	assert.FileExists(t, unrelated)

	var index Index
	require.NoError(t, Load(dir, IndexFile, &index))
	assert.Empty(t, index.Collections)
}
