package rpc

import (
	"encoding/json"

	"github.com/mattjoyce/akl/internal/storage"
)

// ROM is the flat ROM record exchanged with helpers.
type ROM struct {
	ID             string            `json:"id"`
	Name           string            `json:"m_name"`
	Year           string            `json:"m_year"`
	Genre          string            `json:"m_genre"`
	Developer      string            `json:"m_developer"`
	NPlayers       string            `json:"m_nplayers"`
	NPlayersOnline string            `json:"m_nplayers_online"`
	ESRB           string            `json:"m_esrb"`
	Rating         string            `json:"m_rating"`
	Plot           string            `json:"m_plot"`
	Platform       string            `json:"platform"`
	Tags           []string          `json:"tags"`
	Assets         map[string]string `json:"assets"`
	AssetPaths     map[string]string `json:"asset_paths"`
	ScannedData    map[string]any    `json:"scanned_data"`
}

// Collection is the flat ROM collection record exchanged with helpers.
type Collection struct {
	ID       string `json:"id"`
	Name     string `json:"m_name"`
	Platform string `json:"platform"`
	Plot     string `json:"m_plot"`
}

// StoreLauncherRequest is the body of POST /store/launcher/. Exactly one of
// ROMCollectionID and ROMID names the target.
type StoreLauncherRequest struct {
	ROMCollectionID string          `json:"romcollection_id,omitempty"`
	ROMID           string          `json:"rom_id,omitempty"`
	LauncherID      string          `json:"launcher_id,omitempty"`
	AklAddonID      string          `json:"akl_addon_id"`
	AddonID         string          `json:"addon_id,omitempty"`
	Settings        json.RawMessage `json:"settings,omitempty"`
}

// StoreScannerRequest is the body of POST /store/scanner/.
type StoreScannerRequest struct {
	ROMCollectionID string          `json:"romcollection_id"`
	ScannerID       string          `json:"scanner_id,omitempty"`
	AklAddonID      string          `json:"akl_addon_id"`
	AddonID         string          `json:"addon_id,omitempty"`
	Settings        json.RawMessage `json:"settings,omitempty"`
}

// Merge policies for scraped data.
const (
	PolicyOverwrite = "overwrite"
	PolicyFill      = "fill"
)

// ScraperSettings records how scraped fields were meant to be applied.
// Empty field lists mean every supported field.
type ScraperSettings struct {
	MetadataPolicy string   `json:"metadata_policy,omitempty"`
	AssetPolicy    string   `json:"asset_policy,omitempty"`
	ScrapeMetadata []string `json:"scrape_metadata,omitempty"`
	ScrapeAssets   []string `json:"scrape_assets,omitempty"`
}

// StoreROMsRequest is the body of POST /store/roms/. The kind of the addon
// named by AklAddonID decides whether the batch is a scan or a scrape result.
type StoreROMsRequest struct {
	ROMCollectionID string           `json:"romcollection_id,omitempty"`
	AklAddonID      string           `json:"akl_addon_id"`
	ROMs            []ROM            `json:"roms"`
	AppliedSettings *ScraperSettings `json:"applied_settings,omitempty"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ROMFromDomain flattens a stored ROM.
func ROMFromDomain(r storage.ROM) ROM {
	out := ROM{
		ID:             r.ID,
		Name:           r.Name,
		Year:           r.Year,
		Genre:          r.Genre,
		Developer:      r.Developer,
		NPlayers:       r.NPlayers,
		NPlayersOnline: r.NPlayersOnline,
		ESRB:           r.ESRB,
		Rating:         r.Rating,
		Plot:           r.Plot,
		Platform:       r.Platform,
		Tags:           r.Tags,
		Assets:         r.Assets,
		AssetPaths:     r.AssetPaths,
		ScannedData:    r.ScannedData,
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if out.Assets == nil {
		out.Assets = map[string]string{}
	}
	if out.AssetPaths == nil {
		out.AssetPaths = map[string]string{}
	}
	if out.ScannedData == nil {
		out.ScannedData = map[string]any{}
	}
	return out
}

// Apply copies every DTO field onto r. Bookkeeping fields are left alone.
func (d ROM) Apply(r *storage.ROM) {
	r.ID = d.ID
	r.Name = d.Name
	r.Year = d.Year
	r.Genre = d.Genre
	r.Developer = d.Developer
	r.NPlayers = d.NPlayers
	r.NPlayersOnline = d.NPlayersOnline
	r.ESRB = d.ESRB
	r.Rating = d.Rating
	r.Plot = d.Plot
	r.Platform = d.Platform
	r.Tags = d.Tags
	r.Assets = d.Assets
	r.AssetPaths = d.AssetPaths
	r.ScannedData = d.ScannedData
}

// CollectionFromDomain flattens a stored collection.
func CollectionFromDomain(c storage.ROMCollection) Collection {
	return Collection{ID: c.ID, Name: c.Name, Platform: c.Platform, Plot: c.Plot}
}
