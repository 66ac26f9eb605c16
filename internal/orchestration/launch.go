package orchestration

import (
	"context"
	"fmt"

	"github.com/mattjoyce/akl/internal/command"
	"github.com/mattjoyce/akl/internal/storage"
)

func (h *Handlers) handleExecuteROM(ctx context.Context, p command.Payload) (any, error) {
	id := p.String("rom_id")
	if id == "" {
		return nil, invalid("rom_id is required")
	}
	return nil, h.ExecuteROM(ctx, id, p.String("launcher_id"))
}

// ExecuteROM launches a ROM. Launchers on the ROM itself win over those of the
// collections it belongs to. Without launcherID the default launcher is used,
// or the user picks one.
func (h *Handlers) ExecuteROM(ctx context.Context, romID, launcherID string) error {
	var (
		name      string
		launchers []storage.Binding
		addons    = map[string]storage.Addon{}
	)
	err := h.store.View(ctx, func(sess *storage.Session) error {
		rom, err := sess.ROMs().Get(ctx, romID)
		if err != nil {
			return fmt.Errorf("rom %s: %w", romID, err)
		}
		name = rom.Name
		if launchers, err = romLaunchers(ctx, sess, romID); err != nil {
			return err
		}
		return loadAddons(ctx, sess, launchers, addons)
	})
	if err != nil {
		return err
	}

	var (
		b  storage.Binding
		ok bool
	)
	if launcherID != "" {
		for _, l := range launchers {
			if l.ID == launcherID {
				b, ok = l, true
			}
		}
		if !ok {
			return fmt.Errorf("launcher %s for rom %s: %w", launcherID, romID, storage.ErrNotFound)
		}
	} else if b, ok = defaultBinding(launchers); !ok {
		b, ok = h.chooseBinding(ctx, launchers, addons,
			fmt.Sprintf("Choose a launcher for %q", name),
			fmt.Sprintf("No launchers are configured for %q.", name))
		if !ok {
			return nil
		}
	}

	a := addons[b.AddonID]
	d, err := h.builder.BuildLaunch(a, romID, b.ID)
	if err != nil {
		return err
	}
	return h.invoke(ctx, a, d)
}

// romLaunchers returns the ROM's own launchers or, when it has none, the
// launchers of its collections.
func romLaunchers(ctx context.Context, sess *storage.Session, romID string) ([]storage.Binding, error) {
	own, err := sess.Launchers(storage.ScopeROM).ForTarget(ctx, romID)
	if err != nil || len(own) > 0 {
		return own, err
	}
	collections, err := sess.Collections().CollectionsOf(ctx, romID)
	if err != nil {
		return nil, err
	}
	var inherited []storage.Binding
	for _, cid := range collections {
		ls, err := sess.Launchers(storage.ScopeCollection).ForTarget(ctx, cid)
		if err != nil {
			return nil, err
		}
		inherited = append(inherited, ls...)
	}
	return inherited, nil
}

// defaultBinding returns the single default binding, if exactly one exists.
func defaultBinding(bindings []storage.Binding) (storage.Binding, bool) {
	var found []storage.Binding
	for _, b := range bindings {
		if b.IsDefault {
			found = append(found, b)
		}
	}
	if len(found) != 1 {
		return storage.Binding{}, false
	}
	return found[0], true
}
