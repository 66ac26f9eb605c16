package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mattjoyce/akl/internal/addon"
	"github.com/mattjoyce/akl/internal/command"
	"github.com/mattjoyce/akl/internal/rpc"
	"github.com/mattjoyce/akl/internal/storage"
)

func payloadTarget(p command.Payload) (addon.Target, error) {
	t := addon.Target{ROMCollectionID: p.String("romcollection_id"), ROMID: p.String("rom_id")}
	if (t.ROMCollectionID == "") == (t.ROMID == "") {
		return t, invalid("exactly one of romcollection_id and rom_id is required")
	}
	return t, nil
}

func scopeOf(t addon.Target) (storage.Scope, string) {
	if t.ROMID != "" {
		return storage.ScopeROM, t.ROMID
	}
	return storage.ScopeCollection, t.ROMCollectionID
}

// targetName loads the target and returns a display name for it.
func targetName(ctx context.Context, sess *storage.Session, t addon.Target) (string, error) {
	if t.ROMID != "" {
		rom, err := sess.ROMs().Get(ctx, t.ROMID)
		if err != nil {
			return "", fmt.Errorf("rom %s: %w", t.ROMID, err)
		}
		return rom.Name, nil
	}
	c, err := sess.Collections().Get(ctx, t.ROMCollectionID)
	if err != nil {
		return "", fmt.Errorf("collection %s: %w", t.ROMCollectionID, err)
	}
	return c.Name, nil
}

// decodePayload converts p into a request struct. A settings value holding a
// JSON string is passed through untouched.
func decodePayload(p command.Payload, out any, settings *json.RawMessage) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	var tmp map[string]json.RawMessage
	if err := json.Unmarshal(raw, &tmp); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	delete(tmp, "settings")
	if raw, err = json.Marshal(tmp); err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return invalid("decode payload: %v", err)
	}
	if *settings, err = p.Raw("settings"); err != nil {
		return invalid("%v", err)
	}
	return nil
}

// StoreLauncher saves launcher settings reported by a helper.
func (h *Handlers) StoreLauncher(ctx context.Context, req rpc.StoreLauncherRequest) error {
	_, err := h.ConfigureLauncher(ctx, req)
	return err
}

// ConfigureLauncher creates the launcher binding of req's addon on req's
// target, or updates the existing one in place. The first launcher of a
// target becomes its default.
func (h *Handlers) ConfigureLauncher(ctx context.Context, req rpc.StoreLauncherRequest) (storage.Binding, error) {
	t := addon.Target{ROMCollectionID: req.ROMCollectionID, ROMID: req.ROMID}
	if (t.ROMCollectionID == "") == (t.ROMID == "") {
		return storage.Binding{}, invalid("exactly one of romcollection_id and rom_id is required")
	}
	if len(req.Settings) > 0 && !json.Valid(req.Settings) {
		return storage.Binding{}, invalid("settings is not valid JSON")
	}
	scope, targetID := scopeOf(t)

	var saved storage.Binding
	err := h.store.Update(ctx, func(sess *storage.Session) error {
		a, err := h.bindingAddon(ctx, sess, req.AklAddonID, req.AddonID, storage.KindLauncher)
		if err != nil {
			return err
		}
		if _, err := targetName(ctx, sess, t); err != nil {
			return err
		}

		repo := sess.Launchers(scope)
		b, err := findBinding(ctx, repo, targetID, req.LauncherID, a.ID)
		if err != nil {
			return err
		}
		if b == nil {
			existing, err := repo.ForTarget(ctx, targetID)
			if err != nil {
				return err
			}
			b = &storage.Binding{
				ID:        uuid.NewString(),
				TargetID:  targetID,
				AddonID:   a.ID,
				IsDefault: len(existing) == 0,
			}
		}
		b.Settings = req.Settings
		if err := repo.Save(ctx, b); err != nil {
			return err
		}
		saved = *b
		return nil
	})
	if err != nil {
		return storage.Binding{}, fmt.Errorf("configure launcher: %w", err)
	}
	h.logger.Info("launcher configured", "launcher_id", saved.ID, "scope", string(scope), "target", targetID)
	return saved, nil
}

// StoreScanner saves scanner settings reported by a helper. The offer to scan
// right away is broadcast as SCANNER_CONFIGURED so that the prompt runs on the
// listener, not inside the helper's request.
func (h *Handlers) StoreScanner(ctx context.Context, req rpc.StoreScannerRequest) error {
	b, err := h.ConfigureScanner(ctx, req)
	if err != nil {
		return err
	}
	h.dispatchAsync(ctx, command.ScannerConfigured, command.Payload{
		"romcollection_id": req.ROMCollectionID,
		"scanner_id":       b.ID,
	})
	return nil
}

// handleScannerConfigured asks whether to scan the collection now and, on
// accept, runs SCAN_ROMS synchronously.
func (h *Handlers) handleScannerConfigured(ctx context.Context, p command.Payload) (any, error) {
	collectionID := p.String("romcollection_id")
	if collectionID == "" {
		return nil, invalid("romcollection_id is required")
	}
	var name string
	if err := h.store.View(ctx, func(sess *storage.Session) error {
		c, err := sess.Collections().Get(ctx, collectionID)
		if err != nil {
			return fmt.Errorf("collection %s: %w", collectionID, err)
		}
		name = c.Name
		return nil
	}); err != nil {
		return nil, err
	}
	if !h.ui.Confirm(ctx, fmt.Sprintf("Scan %q for ROMs now?", name)) || h.bus == nil {
		return nil, nil
	}
	h.bus.DispatchSync(ctx, command.ScanROMs, command.Payload{
		"romcollection_id": collectionID,
		"scanner_id":       p.String("scanner_id"),
	})
	return nil, nil
}

// ConfigureScanner creates or updates the scanner binding of req's addon on
// req's collection.
func (h *Handlers) ConfigureScanner(ctx context.Context, req rpc.StoreScannerRequest) (storage.Binding, error) {
	if req.ROMCollectionID == "" {
		return storage.Binding{}, invalid("romcollection_id is required")
	}
	if len(req.Settings) > 0 && !json.Valid(req.Settings) {
		return storage.Binding{}, invalid("settings is not valid JSON")
	}

	var saved storage.Binding
	err := h.store.Update(ctx, func(sess *storage.Session) error {
		a, err := h.bindingAddon(ctx, sess, req.AklAddonID, req.AddonID, storage.KindScanner)
		if err != nil {
			return err
		}
		if _, err = targetName(ctx, sess, addon.Target{ROMCollectionID: req.ROMCollectionID}); err != nil {
			return err
		}

		repo := sess.Scanners()
		b, err := findBinding(ctx, repo, req.ROMCollectionID, req.ScannerID, a.ID)
		if err != nil {
			return err
		}
		if b == nil {
			b = &storage.Binding{ID: uuid.NewString(), TargetID: req.ROMCollectionID, AddonID: a.ID}
		}
		b.Settings = req.Settings
		if err := repo.Save(ctx, b); err != nil {
			return err
		}
		saved = *b
		return nil
	})
	if err != nil {
		return storage.Binding{}, fmt.Errorf("configure scanner: %w", err)
	}
	h.logger.Info("scanner configured", "scanner_id", saved.ID, "romcollection_id", req.ROMCollectionID)
	return saved, nil
}

// bindingAddon loads the addon a store request names and checks its kind.
// addonID, when given, must agree with the record.
func (h *Handlers) bindingAddon(ctx context.Context, sess *storage.Session, recordID, addonID string, kind storage.AddonKind) (*storage.Addon, error) {
	if recordID == "" {
		return nil, invalid("akl_addon_id is required")
	}
	a, err := sess.Addons().Get(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("addon %s: %w", recordID, err)
	}
	if a.Kind != kind {
		return nil, invalid("addon %s is a %s, not a %s", a.AddonID, a.Kind, kind)
	}
	if addonID != "" && addonID != a.AddonID {
		return nil, invalid("addon_id %s does not match akl_addon_id %s", addonID, recordID)
	}
	return a, nil
}

// findBinding returns the binding to update: the one named by bindingID, or
// the addon's existing binding on targetID. It returns nil when a new binding
// is needed.
func findBinding(ctx context.Context, repo *storage.BindingRepository, targetID, bindingID, addonRecordID string) (*storage.Binding, error) {
	if bindingID != "" {
		b, err := repo.Get(ctx, bindingID)
		if err != nil {
			return nil, fmt.Errorf("binding %s: %w", bindingID, err)
		}
		if b.TargetID != targetID {
			return nil, invalid("binding %s belongs to %s, not %s", bindingID, b.TargetID, targetID)
		}
		if b.AddonID != addonRecordID {
			return nil, invalid("binding %s uses a different addon", bindingID)
		}
		return b, nil
	}
	b, err := repo.FindByAddon(ctx, targetID, addonRecordID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return b, err
}

func (h *Handlers) handleSetLauncherSettings(ctx context.Context, p command.Payload) (any, error) {
	var req rpc.StoreLauncherRequest
	if err := decodePayload(p, &req, &req.Settings); err != nil {
		return nil, err
	}
	b, err := h.ConfigureLauncher(ctx, req)
	if err != nil {
		return nil, err
	}
	return b.ID, nil
}

func (h *Handlers) handleSetScannerSettings(ctx context.Context, p command.Payload) (any, error) {
	var req rpc.StoreScannerRequest
	if err := decodePayload(p, &req, &req.Settings); err != nil {
		return nil, err
	}
	return nil, h.StoreScanner(ctx, req)
}

func (h *Handlers) handleAddLauncher(ctx context.Context, p command.Payload) (any, error) {
	t, err := payloadTarget(p)
	if err != nil {
		return nil, err
	}
	return nil, h.configureNew(ctx, p, t, storage.KindLauncher)
}

func (h *Handlers) handleAddScanner(ctx context.Context, p command.Payload) (any, error) {
	id := p.String("romcollection_id")
	if id == "" {
		return nil, invalid("romcollection_id is required")
	}
	return nil, h.configureNew(ctx, p, addon.Target{ROMCollectionID: id}, storage.KindScanner)
}

// configureNew asks a launcher or scanner addon to collect settings for a new
// binding on t. The addon reports back through the store endpoints.
func (h *Handlers) configureNew(ctx context.Context, p command.Payload, t addon.Target, kind storage.AddonKind) error {
	settings, err := p.Raw("settings")
	if err != nil {
		return invalid("%v", err)
	}
	var name string
	if err := h.store.View(ctx, func(sess *storage.Session) error {
		name, err = targetName(ctx, sess, t)
		return err
	}); err != nil {
		return err
	}

	a, ok, err := h.chooseAddon(ctx, p, kind, fmt.Sprintf("Choose a %s for %q", kindLabel(kind), name))
	if err != nil || !ok {
		return err
	}
	d, err := h.builder.BuildConfigure(a, t, "", settings)
	if err != nil {
		return err
	}
	return h.invoke(ctx, a, d)
}

func (h *Handlers) handleEditLauncher(ctx context.Context, p command.Payload) (any, error) {
	t, err := payloadTarget(p)
	if err != nil {
		return nil, err
	}
	override, err := p.Raw("settings")
	if err != nil {
		return nil, invalid("%v", err)
	}
	scope, targetID := scopeOf(t)

	var (
		bindings []storage.Binding
		addons   = map[string]storage.Addon{}
	)
	err = h.store.View(ctx, func(sess *storage.Session) error {
		if _, err := targetName(ctx, sess, t); err != nil {
			return err
		}
		repo := sess.Launchers(scope)
		if id := p.String("launcher_id"); id != "" {
			b, err := repo.Get(ctx, id)
			if err != nil {
				return fmt.Errorf("launcher %s: %w", id, err)
			}
			if b.TargetID != targetID {
				return invalid("launcher %s belongs to %s, not %s", id, b.TargetID, targetID)
			}
			bindings = []storage.Binding{*b}
		} else if bindings, err = repo.ForTarget(ctx, targetID); err != nil {
			return err
		}
		return loadAddons(ctx, sess, bindings, addons)
	})
	if err != nil {
		return nil, err
	}

	b, ok := h.chooseBinding(ctx, bindings, addons, "Choose the launcher to edit", "No launchers are configured.")
	if !ok {
		return nil, nil
	}
	settings := b.Settings
	if len(override) > 0 {
		settings = override
	}
	a := addons[b.AddonID]
	d, err := h.builder.BuildConfigure(a, t, b.ID, settings)
	if err != nil {
		return nil, err
	}
	return nil, h.invoke(ctx, a, d)
}

func loadAddons(ctx context.Context, sess *storage.Session, bindings []storage.Binding, into map[string]storage.Addon) error {
	for _, b := range bindings {
		if _, ok := into[b.AddonID]; ok {
			continue
		}
		a, err := sess.Addons().Get(ctx, b.AddonID)
		if err != nil {
			return fmt.Errorf("addon %s: %w", b.AddonID, err)
		}
		into[b.AddonID] = *a
	}
	return nil
}

// chooseBinding returns the only binding, the default one, or asks the user.
func (h *Handlers) chooseBinding(ctx context.Context, bindings []storage.Binding, addons map[string]storage.Addon, prompt, empty string) (storage.Binding, bool) {
	switch len(bindings) {
	case 0:
		h.ui.Warn(empty)
		return storage.Binding{}, false
	case 1:
		return bindings[0], true
	}
	options := make([]Option, 0, len(bindings))
	for _, b := range bindings {
		label := addons[b.AddonID].Name
		if b.IsDefault {
			label += " (default)"
		}
		options = append(options, Option{ID: b.ID, Label: label})
	}
	id, ok := h.ui.Select(ctx, prompt, options)
	if !ok {
		return storage.Binding{}, false
	}
	for _, b := range bindings {
		if b.ID == id {
			return b, true
		}
	}
	return storage.Binding{}, false
}

func kindLabel(k storage.AddonKind) string {
	switch k {
	case storage.KindLauncher:
		return "launcher"
	case storage.KindScanner:
		return "scanner"
	default:
		return "scraper"
	}
}
