package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattjoyce/akl/internal/addon"
	"github.com/mattjoyce/akl/internal/command"
	"github.com/mattjoyce/akl/internal/rpc"
	"github.com/mattjoyce/akl/internal/storage"
)

type metadataField struct {
	key string
	rom func(*storage.ROM) *string
	dto func(*rpc.ROM) string
}

// metadataFields are the scrapeable text fields, keyed by their DTO names.
var metadataFields = []metadataField{
	{"m_name", func(r *storage.ROM) *string { return &r.Name }, func(d *rpc.ROM) string { return d.Name }},
	{"m_year", func(r *storage.ROM) *string { return &r.Year }, func(d *rpc.ROM) string { return d.Year }},
	{"m_genre", func(r *storage.ROM) *string { return &r.Genre }, func(d *rpc.ROM) string { return d.Genre }},
	{"m_developer", func(r *storage.ROM) *string { return &r.Developer }, func(d *rpc.ROM) string { return d.Developer }},
	{"m_nplayers", func(r *storage.ROM) *string { return &r.NPlayers }, func(d *rpc.ROM) string { return d.NPlayers }},
	{"m_nplayers_online", func(r *storage.ROM) *string { return &r.NPlayersOnline }, func(d *rpc.ROM) string { return d.NPlayersOnline }},
	{"m_esrb", func(r *storage.ROM) *string { return &r.ESRB }, func(d *rpc.ROM) string { return d.ESRB }},
	{"m_rating", func(r *storage.ROM) *string { return &r.Rating }, func(d *rpc.ROM) string { return d.Rating }},
	{"m_plot", func(r *storage.ROM) *string { return &r.Plot }, func(d *rpc.ROM) string { return d.Plot }},
	{"platform", func(r *storage.ROM) *string { return &r.Platform }, func(d *rpc.ROM) string { return d.Platform }},
}

// tagsField is the metadata key for the tag list.
const tagsField = "tags"

// fieldFilter allows a key when both the request and the scraper's
// capabilities allow it. An empty list allows everything.
type fieldFilter struct {
	requested map[string]bool
	supported map[string]bool
}

func newFieldFilter(requested, supported []string) fieldFilter {
	return fieldFilter{requested: toSet(requested), supported: toSet(supported)}
}

func (f fieldFilter) allows(key string) bool {
	return (f.requested == nil || f.requested[key]) && (f.supported == nil || f.supported[key])
}

func toSet(keys []string) map[string]bool {
	if len(keys) == 0 {
		return nil
	}
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// normalizeSettings fills default policies and rejects unknown ones.
func normalizeSettings(s *rpc.ScraperSettings) (rpc.ScraperSettings, error) {
	out := rpc.ScraperSettings{MetadataPolicy: rpc.PolicyFill, AssetPolicy: rpc.PolicyFill}
	if s != nil {
		out.ScrapeMetadata = s.ScrapeMetadata
		out.ScrapeAssets = s.ScrapeAssets
		if s.MetadataPolicy != "" {
			out.MetadataPolicy = s.MetadataPolicy
		}
		if s.AssetPolicy != "" {
			out.AssetPolicy = s.AssetPolicy
		}
	}
	for _, p := range []string{out.MetadataPolicy, out.AssetPolicy} {
		if p != rpc.PolicyOverwrite && p != rpc.PolicyFill {
			return out, invalid("unknown merge policy %q", p)
		}
	}
	return out, nil
}

// mergeScraped applies scraped values to rom field by field. Overwrite
// replaces stored values; fill only sets fields that are empty. Empty scraped
// values never clear anything.
func mergeScraped(rom *storage.ROM, dto rpc.ROM, s rpc.ScraperSettings, meta, assets fieldFilter) {
	overwrite := s.MetadataPolicy == rpc.PolicyOverwrite
	for _, f := range metadataFields {
		if !meta.allows(f.key) {
			continue
		}
		v := f.dto(&dto)
		if v == "" {
			continue
		}
		if dst := f.rom(rom); overwrite || *dst == "" {
			*dst = v
		}
	}
	if meta.allows(tagsField) && len(dto.Tags) > 0 && (overwrite || len(rom.Tags) == 0) {
		rom.Tags = dto.Tags
	}

	overwriteAssets := s.AssetPolicy == rpc.PolicyOverwrite
	rom.Assets = mergeStrings(rom.Assets, dto.Assets, assets.allows, overwriteAssets)
	rom.AssetPaths = mergeStrings(rom.AssetPaths, dto.AssetPaths, assets.allows, overwriteAssets)
}

// mergeStrings merges src into a copy of dst. allow may be nil.
func mergeStrings(dst, src map[string]string, allow func(string) bool, overwrite bool) map[string]string {
	out := make(map[string]string, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if v == "" || (allow != nil && !allow(k)) {
			continue
		}
		if overwrite || out[k] == "" {
			out[k] = v
		}
	}
	return out
}

func (h *Handlers) handleStoreScrapedROMs(ctx context.Context, p command.Payload) (any, error) {
	var req rpc.StoreROMsRequest
	if err := p.Decode("roms", &req.ROMs); err != nil {
		return nil, invalid("%v", err)
	}
	if err := p.Decode("applied_settings", &req.AppliedSettings); err != nil {
		return nil, invalid("%v", err)
	}
	var a *storage.Addon
	err := h.store.View(ctx, func(sess *storage.Session) error {
		var err error
		a, _, err = lookupAddon(ctx, sess, p, storage.KindScraper)
		return err
	})
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, invalid("akl_addon_id or addon_id is required")
	}
	return h.StoreScrapedROMs(ctx, p.String("romcollection_id"), *a, req.ROMs, req.AppliedSettings)
}

// StoreScrapedROMs merges scraped data into known ROMs. ROMs that are not
// stored, or not in collectionID when one is given, are skipped and never
// created.
func (h *Handlers) StoreScrapedROMs(ctx context.Context, collectionID string, scraper storage.Addon, roms []rpc.ROM, applied *rpc.ScraperSettings) (int, error) {
	settings, err := normalizeSettings(applied)
	if err != nil {
		return 0, err
	}
	meta := newFieldFilter(settings.ScrapeMetadata, scraper.Capabilities.SupportedMetadata)
	assets := newFieldFilter(settings.ScrapeAssets, scraper.Capabilities.SupportedAssets)

	updated := 0
	err = h.store.Update(ctx, func(sess *storage.Session) error {
		updated = 0
		var members map[string]bool
		if collectionID != "" {
			if _, err := sess.Collections().Get(ctx, collectionID); err != nil {
				return fmt.Errorf("collection %s: %w", collectionID, err)
			}
			known, err := sess.ROMs().InCollection(ctx, collectionID)
			if err != nil {
				return err
			}
			members = make(map[string]bool, len(known))
			for _, r := range known {
				members[r.ID] = true
			}
		}

		repo := sess.ROMs()
		for _, dto := range roms {
			if members != nil && !members[dto.ID] {
				h.logger.Warn("scraped rom is not in the collection, skipping", "rom_id", dto.ID, "romcollection_id", collectionID)
				continue
			}
			rom, err := repo.Get(ctx, dto.ID)
			if errors.Is(err, storage.ErrNotFound) {
				h.logger.Warn("scraped rom is unknown, skipping", "rom_id", dto.ID)
				continue
			}
			if err != nil {
				return err
			}
			mergeScraped(rom, dto, settings, meta, assets)
			if err := repo.Save(ctx, rom); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store scraped roms: %w", err)
	}

	h.logger.Info("scraped roms stored", "romcollection_id", collectionID, "scraper", scraper.AddonID,
		"updated", updated, "skipped", len(roms)-updated)
	if updated > 0 {
		h.dispatchAsync(ctx, command.ScrapeFinished, command.Payload{
			"romcollection_id": collectionID,
			"akl_addon_id":     scraper.ID,
			"count":            updated,
		})
	}
	return updated, nil
}

func (h *Handlers) handleScrapeROM(ctx context.Context, p command.Payload) (any, error) {
	id := p.String("rom_id")
	if id == "" {
		return nil, invalid("rom_id is required")
	}
	return nil, h.scrape(ctx, p, addon.Target{ROMID: id})
}

func (h *Handlers) handleScrapeROMCollection(ctx context.Context, p command.Payload) (any, error) {
	id := p.String("romcollection_id")
	if id == "" {
		return nil, invalid("romcollection_id is required")
	}
	return nil, h.scrape(ctx, p, addon.Target{ROMCollectionID: id})
}

// scrape asks a scraper to scrape t. The scraper reports back through
// POST /store/roms/ with the settings it applied.
func (h *Handlers) scrape(ctx context.Context, p command.Payload, t addon.Target) error {
	raw, err := p.Raw("settings")
	if err != nil {
		return invalid("%v", err)
	}
	var requested *rpc.ScraperSettings
	if len(raw) > 0 {
		requested = &rpc.ScraperSettings{}
		if err := json.Unmarshal(raw, requested); err != nil {
			return invalid("decode scraper settings: %v", err)
		}
	}
	settings, err := normalizeSettings(requested)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode scraper settings: %w", err)
	}

	var name string
	if err := h.store.View(ctx, func(sess *storage.Session) error {
		name, err = targetName(ctx, sess, t)
		return err
	}); err != nil {
		return err
	}
	a, ok, err := h.chooseAddon(ctx, p, storage.KindScraper, fmt.Sprintf("Choose a scraper for %q", name))
	if err != nil || !ok {
		return err
	}
	d, err := h.builder.BuildScrape(a, t, encoded)
	if err != nil {
		return err
	}
	return h.invoke(ctx, a, d)
}
