package orchestration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/akl/internal/addon"
	"github.com/mattjoyce/akl/internal/command"
	"github.com/mattjoyce/akl/internal/orchestration"
	"github.com/mattjoyce/akl/internal/storage"
)

func candidate(id, version string, kind storage.AddonKind, enabled *bool) *addon.Candidate {
	return &addon.Candidate{
		Manifest: addon.Manifest{
			ID: id, Name: id, Version: version, Kind: kind,
			Runtime: storage.RuntimeProcess, Entrypoint: "run", Enabled: enabled,
		},
		Entrypoint:  "/opt/addons/" + id + "/run",
		Fingerprint: "blake3:" + id + version,
	}
}

func listAddons(t *testing.T, f *fixture) []storage.Addon {
	t.Helper()
	var out []storage.Addon
	require.NoError(t, f.store.View(f.ctx, func(sess *storage.Session) error {
		var err error
		out, err = sess.Addons().List(f.ctx, "")
		return err
	}))
	return out
}

func TestDiscoverAddonsSkipsDisabled(t *testing.T) {
	f := newFixture(t)
	off := false
	require.NoError(t, f.registry.Add(candidate("script.akl.scanner", "1.0.0", storage.KindScanner, nil)))
	require.NoError(t, f.registry.Add(candidate("script.akl.scraper", "1.0.0", storage.KindScraper, nil)))
	require.NoError(t, f.registry.Add(candidate("script.akl.broken", "1.0.0", storage.KindLauncher, &off)))

	res := f.bus.DispatchSync(f.ctx, command.DiscoverAddons, nil)
	assert.Equal(t, orchestration.DiscoverResult{Registered: 2, Disabled: 1}, res)

	addons := listAddons(t, f)
	require.Len(t, addons, 2)
	for _, a := range addons {
		assert.NotEqual(t, "script.akl.broken", a.AddonID)
		assert.NotEmpty(t, a.ID)
		assert.NotEqual(t, a.AddonID, a.ID)
	}
}

func TestDiscoverAddonsHonoursConfig(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Add(candidate("script.akl.a", "1.0.0", storage.KindScanner, nil)))
	require.NoError(t, f.registry.Add(candidate("script.akl.b", "1.0.0", storage.KindScanner, nil)))
	f.disabled["script.akl.b"] = true

	res, err := f.h.DiscoverAddons(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Registered)
	assert.Equal(t, 1, res.Disabled)
}

func TestDiscoverAddonsUpgradesInPlace(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Add(candidate("script.akl.a", "1.2.0", storage.KindScraper, nil)))
	_, err := f.h.DiscoverAddons(f.ctx)
	require.NoError(t, err)
	before := listAddons(t, f)
	require.Len(t, before, 1)

	// Older and equal versions leave the record alone.
	for _, v := range []string{"1.1.9", "1.2.0"} {
		f.registry = addon.NewRegistry()
		require.NoError(t, f.registry.Add(candidate("script.akl.a", v, storage.KindScraper, nil)))
		res, err := f.h.DiscoverAddons(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, orchestration.DiscoverResult{Unchanged: 1}, res, v)
	}

	f.registry = addon.NewRegistry()
	require.NoError(t, f.registry.Add(candidate("script.akl.a", "1.10.0", storage.KindScraper, nil)))
	res, err := f.h.DiscoverAddons(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, orchestration.DiscoverResult{Updated: 1}, res)

	after := listAddons(t, f)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, "1.10.0", after[0].Version)
	assert.Equal(t, "blake3:script.akl.a1.10.0", after[0].Fingerprint)
}

func TestDiscoverAddonsNeverDeletes(t *testing.T) {
	f := newFixture(t)
	f.addAddon("rec-old", "script.akl.gone", storage.KindScanner, storage.Capabilities{})

	res, err := f.h.DiscoverAddons(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, orchestration.DiscoverResult{}, res)
	assert.Len(t, listAddons(t, f), 1)
}

func TestRemoveAddonCascadesBindings(t *testing.T) {
	f := newFixture(t)
	f.addCollection("c1", "SNES")
	f.addAddon("rec-s", "script.akl.scanner", storage.KindScanner, storage.Capabilities{})
	f.addBinding("scanner", storage.Binding{ID: "s1", TargetID: "c1", AddonID: "rec-s"})

	f.bus.DispatchSync(f.ctx, command.RemoveAddon, command.Payload{"addon_id": "script.akl.scanner"})

	assert.Empty(t, listAddons(t, f))
	require.NoError(t, f.store.View(f.ctx, func(sess *storage.Session) error {
		bs, err := sess.Scanners().ForTarget(f.ctx, "c1")
		assert.Empty(t, bs)
		return err
	}))

	assert.ErrorIs(t, f.h.RemoveAddon(f.ctx, "rec-s", ""), storage.ErrNotFound)
	assert.Error(t, f.h.RemoveAddon(f.ctx, "", ""))
}
