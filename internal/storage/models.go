package storage

import (
	"encoding/json"
	"time"
)

// AddonKind is the capability an addon supplies.
type AddonKind string

const (
	KindLauncher AddonKind = "LAUNCHER"
	KindScanner  AddonKind = "SCANNER"
	KindScraper  AddonKind = "SCRAPER"
)

// Valid reports whether k is a known kind.
func (k AddonKind) Valid() bool {
	switch k {
	case KindLauncher, KindScanner, KindScraper:
		return true
	}
	return false
}

// AddonRuntime says how an addon is started.
type AddonRuntime string

const (
	// RuntimeProcess addons are separate executables.
	RuntimeProcess AddonRuntime = "process"
	// RuntimeBuiltin addons run inside the core.
	RuntimeBuiltin AddonRuntime = "builtin"
)

// Capabilities describes what a scraper can fill in.
type Capabilities struct {
	SupportedMetadata []string `json:"supported_metadata,omitempty"`
	SupportedAssets   []string `json:"supported_assets,omitempty"`
}

// Addon is a registered helper program.
type Addon struct {
	ID           string // record id, handed to helpers as akl_addon_id
	AddonID      string // manifest id, unique
	Name         string
	Version      string
	Kind         AddonKind
	Runtime      AddonRuntime
	Entrypoint   string
	Fingerprint  string
	Capabilities Capabilities
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ROMCollection groups ROMs and carries their launchers and scanners.
type ROMCollection struct {
	ID        string
	Name      string
	Platform  string
	Plot      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ROM is a single launchable title.
type ROM struct {
	ID             string
	Name           string
	Year           string
	Genre          string
	Developer      string
	NPlayers       string
	NPlayersOnline string
	ESRB           string
	Rating         string
	Plot           string
	Platform       string
	Tags           []string
	Assets         map[string]string
	AssetPaths     map[string]string
	ScannedData    map[string]any
	ScannedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Scope selects which entity a launcher binding hangs off.
type Scope string

const (
	ScopeCollection Scope = "romcollection"
	ScopeROM        Scope = "rom"
)

// Binding attaches a launcher or scanner addon, with its settings, to a
// collection or ROM.
type Binding struct {
	ID        string
	TargetID  string
	AddonID   string // addon record id
	Settings  json.RawMessage
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
