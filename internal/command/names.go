package command

import (
	"fmt"
	"sort"
	"strings"
)

// Name identifies a command on the bus.
type Name string

// Known commands.
const (
	DiscoverAddons      Name = "DISCOVER_ADDONS"
	RebuildViews        Name = "REBUILD_VIEWS"
	RemoveAddon         Name = "REMOVE_ADDON"
	AddLauncher         Name = "ADD_LAUNCHER"
	EditLauncher        Name = "EDIT_LAUNCHER"
	AddScanner          Name = "ADD_SCANNER"
	ScanROMs            Name = "SCAN_ROMS"
	ScrapeROM           Name = "SCRAPE_ROM"
	ScrapeROMCollection Name = "SCRAPE_ROMCOLLECTION"
	ExecuteROM          Name = "EXECUTE_ROM"
	SetLauncherSettings Name = "SET_LAUNCHER_SETTINGS"
	SetScannerSettings  Name = "SET_SCANNER_SETTINGS"
	StoreScannedROMs    Name = "STORE_SCANNED_ROMS"
	StoreScrapedROMs    Name = "STORE_SCRAPED_ROMS"
	ScanFinished        Name = "SCAN_FINISHED"
	ScrapeFinished      Name = "SCRAPE_FINISHED"
	ScannerConfigured   Name = "SCANNER_CONFIGURED"
)

// NotificationPrefix namespaces command notifications on the channel.
const NotificationPrefix = "Other."

var known = map[Name]struct{}{
	DiscoverAddons:      {},
	RebuildViews:        {},
	RemoveAddon:         {},
	AddLauncher:         {},
	EditLauncher:        {},
	AddScanner:          {},
	ScanROMs:            {},
	ScrapeROM:           {},
	ScrapeROMCollection: {},
	ExecuteROM:          {},
	SetLauncherSettings: {},
	SetScannerSettings:  {},
	StoreScannedROMs:    {},
	StoreScrapedROMs:    {},
	ScanFinished:        {},
	ScrapeFinished:      {},
	ScannerConfigured:   {},
}

// Valid reports whether n is one of the known commands.
func (n Name) Valid() bool {
	_, ok := known[n]
	return ok
}

func (n Name) String() string { return string(n) }

// Method is the notification method that carries n.
func (n Name) Method() string {
	return NotificationPrefix + strings.ToLower(string(n))
}

// Parse validates an externally supplied command name. Matching is
// case-insensitive.
func Parse(s string) (Name, bool) {
	n := Name(strings.ToUpper(strings.TrimSpace(s)))
	return n, n.Valid()
}

// FromMethod turns a notification method into a command name: the namespace
// prefix is stripped and the remainder upper-cased.
func FromMethod(method string) (Name, error) {
	rest, ok := strings.CutPrefix(method, NotificationPrefix)
	if !ok {
		return "", fmt.Errorf("method %q is outside namespace %q", method, NotificationPrefix)
	}
	n, ok := Parse(rest)
	if !ok {
		return "", fmt.Errorf("unknown command %q", n)
	}
	return n, nil
}

// Names returns all known commands, sorted.
func Names() []Name {
	out := make([]Name, 0, len(known))
	for n := range known {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
