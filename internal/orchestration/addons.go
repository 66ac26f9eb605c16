package orchestration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mattjoyce/akl/internal/addon"
	"github.com/mattjoyce/akl/internal/command"
	"github.com/mattjoyce/akl/internal/storage"
)

// DiscoverResult summarizes one discovery pass.
type DiscoverResult struct {
	Registered int `json:"registered"`
	Updated    int `json:"updated"`
	Unchanged  int `json:"unchanged"`
	Disabled   int `json:"disabled"`
}

func (h *Handlers) handleDiscoverAddons(ctx context.Context, _ command.Payload) (any, error) {
	return h.DiscoverAddons(ctx)
}

// DiscoverAddons registers newly installed addons and upgrades registered ones
// whose installed version is higher. Disabled addons are left alone; records
// are never deleted here.
func (h *Handlers) DiscoverAddons(ctx context.Context) (DiscoverResult, error) {
	var res DiscoverResult
	if h.discover == nil {
		return res, fmt.Errorf("addon discovery is not configured")
	}
	registry, err := h.discover(ctx)
	if err != nil {
		return res, fmt.Errorf("discover addons: %w", err)
	}

	err = h.store.Update(ctx, func(sess *storage.Session) error {
		res = DiscoverResult{}
		repo := sess.Addons()
		for _, c := range registry.List() {
			logger := h.logger.With("addon", c.ID, "version", c.Version)
			if !c.IsEnabled() || !h.enabled(c.ID) {
				logger.Info("addon disabled, skipping")
				res.Disabled++
				continue
			}

			existing, err := repo.GetByAddonID(ctx, c.ID)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				rec := recordFor(uuid.NewString(), c)
				if err := repo.Save(ctx, &rec); err != nil {
					return err
				}
				logger.Info("addon registered", "akl_addon_id", rec.ID)
				res.Registered++
			case err != nil:
				return err
			case addon.CompareVersions(c.Version, existing.Version) > 0:
				rec := recordFor(existing.ID, c)
				rec.CreatedAt = existing.CreatedAt
				if err := repo.Save(ctx, &rec); err != nil {
					return err
				}
				logger.Info("addon upgraded", "from", existing.Version)
				res.Updated++
			default:
				if existing.Fingerprint != c.Fingerprint && existing.Version == c.Version {
					logger.Warn("addon files changed without a version bump", "registered", existing.Fingerprint, "installed", c.Fingerprint)
				}
				res.Unchanged++
			}
		}
		return nil
	})
	if err != nil {
		return DiscoverResult{}, fmt.Errorf("register addons: %w", err)
	}
	h.logger.Info("addon discovery finished", "registered", res.Registered, "updated", res.Updated,
		"unchanged", res.Unchanged, "disabled", res.Disabled)
	return res, nil
}

func recordFor(id string, c *addon.Candidate) storage.Addon {
	return storage.Addon{
		ID:           id,
		AddonID:      c.ID,
		Name:         c.Name,
		Version:      c.Version,
		Kind:         c.Kind,
		Runtime:      c.Runtime,
		Entrypoint:   c.Entrypoint,
		Fingerprint:  c.Fingerprint,
		Capabilities: c.Capabilities(),
	}
}

func (h *Handlers) handleRemoveAddon(ctx context.Context, p command.Payload) (any, error) {
	return nil, h.RemoveAddon(ctx, p.String("akl_addon_id"), p.String("addon_id"))
}

// RemoveAddon deletes a registered addon by record id or addon id. Its
// launchers and scanners go with it.
func (h *Handlers) RemoveAddon(ctx context.Context, recordID, addonID string) error {
	if recordID == "" && addonID == "" {
		return invalid("akl_addon_id or addon_id is required")
	}
	return h.store.Update(ctx, func(sess *storage.Session) error {
		repo := sess.Addons()
		if recordID == "" {
			a, err := repo.GetByAddonID(ctx, addonID)
			if err != nil {
				return fmt.Errorf("addon %s: %w", addonID, err)
			}
			recordID = a.ID
		}
		if err := repo.Delete(ctx, recordID); err != nil {
			return fmt.Errorf("remove addon %s: %w", recordID, err)
		}
		h.logger.Info("addon removed", "akl_addon_id", recordID)
		return nil
	})
}
