package orchestration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mattjoyce/akl/internal/command"
	"github.com/mattjoyce/akl/internal/rpc"
	"github.com/mattjoyce/akl/internal/storage"
)

func (h *Handlers) handleScanROMs(ctx context.Context, p command.Payload) (any, error) {
	id := p.String("romcollection_id")
	if id == "" {
		return nil, invalid("romcollection_id is required")
	}
	return nil, h.TriggerScan(ctx, id, p.String("scanner_id"))
}

// TriggerScan starts the scanner of a collection. With no scanners it warns
// and stops; with several, scannerID picks one or the user is asked.
func (h *Handlers) TriggerScan(ctx context.Context, collectionID, scannerID string) error {
	var (
		name     string
		bindings []storage.Binding
		addons   = map[string]storage.Addon{}
	)
	err := h.store.View(ctx, func(sess *storage.Session) error {
		c, err := sess.Collections().Get(ctx, collectionID)
		if err != nil {
			return fmt.Errorf("collection %s: %w", collectionID, err)
		}
		name = c.Name
		if bindings, err = sess.Scanners().ForTarget(ctx, collectionID); err != nil {
			return err
		}
		return loadAddons(ctx, sess, bindings, addons)
	})
	if err != nil {
		return err
	}

	if scannerID != "" {
		var picked []storage.Binding
		for _, b := range bindings {
			if b.ID == scannerID {
				picked = append(picked, b)
			}
		}
		if len(picked) == 0 {
			return fmt.Errorf("scanner %s on collection %s: %w", scannerID, collectionID, storage.ErrNotFound)
		}
		bindings = picked
	}

	b, ok := h.chooseBinding(ctx, bindings, addons,
		fmt.Sprintf("Choose the scanner for %q", name),
		fmt.Sprintf("No scanners are configured for %q.", name))
	if !ok {
		return nil
	}
	a := addons[b.AddonID]
	d, err := h.builder.BuildScan(a, collectionID, b.ID, b.Settings)
	if err != nil {
		return err
	}
	return h.invoke(ctx, a, d)
}

// StoreROMs ingests a batch reported by a scanner or a scraper, told apart by
// the kind of the reporting addon.
func (h *Handlers) StoreROMs(ctx context.Context, req rpc.StoreROMsRequest) error {
	if req.AklAddonID == "" {
		return invalid("akl_addon_id is required")
	}
	var a *storage.Addon
	if err := h.store.View(ctx, func(sess *storage.Session) error {
		var err error
		a, err = sess.Addons().Get(ctx, req.AklAddonID)
		return err
	}); err != nil {
		return fmt.Errorf("addon %s: %w", req.AklAddonID, err)
	}

	switch a.Kind {
	case storage.KindScanner:
		_, err := h.StoreScannedROMs(ctx, req.ROMCollectionID, *a, req.ROMs)
		return err
	case storage.KindScraper:
		_, err := h.StoreScrapedROMs(ctx, req.ROMCollectionID, *a, req.ROMs, req.AppliedSettings)
		return err
	default:
		return invalid("%s addons do not report roms", a.Kind)
	}
}

func (h *Handlers) handleStoreScannedROMs(ctx context.Context, p command.Payload) (any, error) {
	var req rpc.StoreROMsRequest
	if err := p.Decode("roms", &req.ROMs); err != nil {
		return nil, invalid("%v", err)
	}
	var a *storage.Addon
	err := h.store.View(ctx, func(sess *storage.Session) error {
		var err error
		a, _, err = lookupAddon(ctx, sess, p, storage.KindScanner)
		return err
	})
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, invalid("akl_addon_id or addon_id is required")
	}
	return h.StoreScannedROMs(ctx, p.String("romcollection_id"), *a, req.ROMs)
}

// StoreScannedROMs creates or updates each scanned ROM, marks it as found by
// scanner and adds it to the collection. An empty batch changes nothing.
func (h *Handlers) StoreScannedROMs(ctx context.Context, collectionID string, scanner storage.Addon, roms []rpc.ROM) (int, error) {
	if collectionID == "" {
		return 0, invalid("romcollection_id is required")
	}
	stored := 0
	err := h.store.Update(ctx, func(sess *storage.Session) error {
		stored = 0
		if _, err := sess.Collections().Get(ctx, collectionID); err != nil {
			return fmt.Errorf("collection %s: %w", collectionID, err)
		}
		repo := sess.ROMs()
		for _, dto := range roms {
			if dto.ID == "" {
				dto.ID = uuid.NewString()
			}
			rom, err := repo.Get(ctx, dto.ID)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				rom = &storage.ROM{}
				dto.Apply(rom)
			case err != nil:
				return err
			default:
				mergeScanned(rom, dto)
			}
			rom.ScannedBy = scanner.ID
			if err := repo.Save(ctx, rom); err != nil {
				return err
			}
			if err := sess.Collections().AddROM(ctx, collectionID, rom.ID); err != nil {
				return err
			}
			stored++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store scanned roms: %w", err)
	}

	h.logger.Info("scanned roms stored", "romcollection_id", collectionID, "scanner", scanner.AddonID, "count", stored)
	if stored > 0 {
		h.dispatchAsync(ctx, command.ScanFinished, command.Payload{
			"romcollection_id": collectionID,
			"akl_addon_id":     scanner.ID,
			"count":            stored,
		})
	}
	return stored, nil
}

// mergeScanned updates a known ROM from a rescan. The scanner only fills
// fields that are still empty, so scraped or edited metadata survives; its
// own scanned data is replaced.
func mergeScanned(rom *storage.ROM, dto rpc.ROM) {
	for _, f := range metadataFields {
		if v := f.dto(&dto); v != "" && *f.rom(rom) == "" {
			*f.rom(rom) = v
		}
	}
	if len(rom.Tags) == 0 && len(dto.Tags) > 0 {
		rom.Tags = dto.Tags
	}
	rom.Assets = mergeStrings(rom.Assets, dto.Assets, nil, false)
	rom.AssetPaths = mergeStrings(rom.AssetPaths, dto.AssetPaths, nil, false)
	if len(dto.ScannedData) > 0 {
		rom.ScannedData = dto.ScannedData
	}
}
