package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "akl.db"))
	require.NoError(t, err)
	s := New(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedCollection(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.Update(context.Background(), func(sess *Session) error {
		return sess.Collections().Save(context.Background(), &ROMCollection{ID: id, Name: "Collection " + id, Platform: "Nintendo SNES"})
	}))
}

func seedAddon(t *testing.T, s *Store, id, addonID string, kind AddonKind) {
	t.Helper()
	require.NoError(t, s.Update(context.Background(), func(sess *Session) error {
		return sess.Addons().Save(context.Background(), &Addon{
			ID: id, AddonID: addonID, Name: addonID, Version: "1.0.0", Kind: kind, Runtime: RuntimeProcess,
		})
	}))
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Update(ctx, func(sess *Session) error {
		if err := sess.Collections().Save(ctx, &ROMCollection{ID: "c1", Name: "SNES"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(ctx, func(sess *Session) error {
		_, err := sess.Collections().Get(ctx, "c1")
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEarlierCommitSurvivesLaterFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedCollection(t, s, "c1")
	_ = s.Update(ctx, func(sess *Session) error {
		c, err := sess.Collections().Get(ctx, "c1")
		if err != nil {
			return err
		}
		c.Name = "changed"
		if err := sess.Collections().Save(ctx, c); err != nil {
			return err
		}
		return errors.New("abort")
	})

	require.NoError(t, s.View(ctx, func(sess *Session) error {
		c, err := sess.Collections().Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "Collection c1", c.Name)
		return nil
	}))
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Open(ctx, true)
	require.NoError(t, err)
	require.NoError(t, sess.Collections().Save(ctx, &ROMCollection{ID: "c1", Name: "SNES"}))
	require.NoError(t, sess.Commit())
	assert.Error(t, sess.Commit())
	assert.NoError(t, sess.Rollback())
	assert.NoError(t, sess.Close())
	assert.NoError(t, sess.Close())

	// Lock released: another write session can open.
	done := make(chan struct{})
	go func() {
		defer close(done)
		s2, err := s.Open(ctx, true)
		if assert.NoError(t, err) {
			_ = s2.Close()
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("write lock not released by Close")
	}
}

func TestWriteSessionsAreSerialized(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCollection(t, s, "c1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Update(ctx, func(sess *Session) error {
				id := "r" + string(rune('a'+i))
				if err := sess.ROMs().Save(ctx, &ROM{ID: id, Name: id}); err != nil {
					return err
				}
				return sess.Collections().AddROM(ctx, "c1", id)
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.NoError(t, s.View(ctx, func(sess *Session) error {
		n, err := sess.Collections().CountROMs(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, 10, n)
		return nil
	}))
}

func TestROMRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCollection(t, s, "c1")

	in := &ROM{
		ID:          "r1",
		Name:        "Super Metroid",
		Year:        "1994",
		Genre:       "Action",
		Developer:   "Nintendo",
		NPlayers:    "1",
		ESRB:        "E",
		Rating:      "9",
		Plot:        "Samus returns.",
		Platform:    "Nintendo SNES",
		Tags:        []string{"favourite"},
		Assets:      map[string]string{"boxfront": "/art/sm.png"},
		AssetPaths:  map[string]string{"boxfront": "/art"},
		ScannedData: map[string]any{"file": "/roms/sm.sfc"},
		ScannedBy:   "scanner-1",
	}
	require.NoError(t, s.Update(ctx, func(sess *Session) error {
		if err := sess.ROMs().Save(ctx, in); err != nil {
			return err
		}
		return sess.Collections().AddROM(ctx, "c1", in.ID)
	}))

	require.NoError(t, s.View(ctx, func(sess *Session) error {
		got, err := sess.ROMs().Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, in.Name, got.Name)
		assert.Equal(t, in.Tags, got.Tags)
		assert.Equal(t, in.Assets, got.Assets)
		assert.Equal(t, in.ScannedData, got.ScannedData)
		assert.Equal(t, "scanner-1", got.ScannedBy)

		list, err := sess.ROMs().InCollection(ctx, "c1")
		require.NoError(t, err)
		assert.Len(t, list, 1)

		ok, err := sess.Collections().HasROM(ctx, "c1", "r1")
		require.NoError(t, err)
		assert.True(t, ok)

		ids, err := sess.Collections().CollectionsOf(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, []string{"c1"}, ids)
		return nil
	}))
}

func TestEmptyCollectionListsNoROMs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCollection(t, s, "c1")

	require.NoError(t, s.View(ctx, func(sess *Session) error {
		list, err := sess.ROMs().InCollection(ctx, "c1")
		require.NoError(t, err)
		assert.NotNil(t, list)
		assert.Empty(t, list)
		return nil
	}))
}

func TestAddonRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedAddon(t, s, "a1", "script.akl.dirscanner", KindScanner)
	seedAddon(t, s, "a2", "script.akl.steam", KindLauncher)

	require.NoError(t, s.Update(ctx, func(sess *Session) error {
		a, err := sess.Addons().GetByAddonID(ctx, "script.akl.dirscanner")
		require.NoError(t, err)
		a.Version = "1.1.0"
		a.Capabilities = Capabilities{SupportedAssets: []string{"boxfront"}}
		return sess.Addons().Save(ctx, a)
	}))

	require.NoError(t, s.View(ctx, func(sess *Session) error {
		a, err := sess.Addons().Get(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, "1.1.0", a.Version)
		assert.Equal(t, []string{"boxfront"}, a.Capabilities.SupportedAssets)

		all, err := sess.Addons().List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		launchers, err := sess.Addons().List(ctx, KindLauncher)
		require.NoError(t, err)
		require.Len(t, launchers, 1)
		assert.Equal(t, "a2", launchers[0].ID)
		return nil
	}))

	err := s.Update(ctx, func(sess *Session) error { return sess.Addons().Delete(ctx, "missing") })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBindingsCascadeWithAddon(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCollection(t, s, "c1")
	seedAddon(t, s, "a1", "script.akl.dirscanner", KindScanner)

	require.NoError(t, s.Update(ctx, func(sess *Session) error {
		return sess.Scanners().Save(ctx, &Binding{ID: "s1", TargetID: "c1", AddonID: "a1", Settings: json.RawMessage(`{"path":"/roms"}`)})
	}))
	require.NoError(t, s.Update(ctx, func(sess *Session) error { return sess.Addons().Delete(ctx, "a1") }))

	require.NoError(t, s.View(ctx, func(sess *Session) error {
		list, err := sess.Scanners().ForTarget(ctx, "c1")
		require.NoError(t, err)
		assert.Empty(t, list)
		return nil
	}))
}

func TestLauncherBindings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCollection(t, s, "c1")
	seedAddon(t, s, "a1", "script.akl.retroarch", KindLauncher)
	seedAddon(t, s, "a2", "script.akl.mame", KindLauncher)

	require.NoError(t, s.Update(ctx, func(sess *Session) error {
		repo := sess.Launchers(ScopeCollection)
		if err := repo.Save(ctx, &Binding{ID: "l1", TargetID: "c1", AddonID: "a1", Settings: json.RawMessage(`{"core":"snes9x"}`)}); err != nil {
			return err
		}
		if err := repo.Save(ctx, &Binding{ID: "l2", TargetID: "c1", AddonID: "a2"}); err != nil {
			return err
		}
		return repo.SetDefault(ctx, "c1", "l2")
	}))

	require.NoError(t, s.View(ctx, func(sess *Session) error {
		repo := sess.Launchers(ScopeCollection)
		list, err := repo.ForTarget(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, list, 2)

		b, err := repo.FindByAddon(ctx, "c1", "a1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"core":"snes9x"}`, string(b.Settings))
		assert.False(t, b.IsDefault)

		def, err := repo.Get(ctx, "l2")
		require.NoError(t, err)
		assert.True(t, def.IsDefault)
		assert.JSONEq(t, `{}`, string(def.Settings))

		_, err = sess.Launchers(ScopeROM).Get(ctx, "l1")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))

	err := s.Update(ctx, func(sess *Session) error { return sess.Scanners().SetDefault(ctx, "c1", "x") })
	assert.Error(t, err)
}
