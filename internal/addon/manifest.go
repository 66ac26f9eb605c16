// Package addon covers everything about helper programs: their addon.yaml
// manifests, discovery under the configured roots, the invocation descriptor
// handed to them, and the runners that start them.
package addon

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/akl/internal/storage"
)

// ManifestFilename is the file discovery looks for in each addon directory.
const ManifestFilename = "addon.yaml"

// ScraperCapabilities lists the fields a scraper can fill in.
type ScraperCapabilities struct {
	SupportedMetadata []string `yaml:"supported_metadata,omitempty"`
	SupportedAssets   []string `yaml:"supported_assets,omitempty"`
}

// Manifest is the parsed addon.yaml.
type Manifest struct {
	ID          string               `yaml:"id"`
	Name        string               `yaml:"name"`
	Version     string               `yaml:"version"`
	Kind        storage.AddonKind    `yaml:"kind"`
	Runtime     storage.AddonRuntime `yaml:"runtime,omitempty"`
	Entrypoint  string               `yaml:"entrypoint,omitempty"`
	Description string               `yaml:"description,omitempty"`
	Enabled     *bool                `yaml:"enabled,omitempty"`
	Scraper     *ScraperCapabilities `yaml:"scraper,omitempty"`
}

// IsEnabled reports whether the manifest leaves the addon enabled. Absent
// means enabled.
func (m *Manifest) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Capabilities converts the scraper section for storage.
func (m *Manifest) Capabilities() storage.Capabilities {
	if m.Scraper == nil {
		return storage.Capabilities{}
	}
	return storage.Capabilities{
		SupportedMetadata: m.Scraper.SupportedMetadata,
		SupportedAssets:   m.Scraper.SupportedAssets,
	}
}

// ParseManifest decodes and validates an addon.yaml document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	m.ID = strings.TrimSpace(m.ID)
	m.Kind = storage.AddonKind(strings.ToUpper(strings.TrimSpace(string(m.Kind))))
	if m.Runtime == "" {
		m.Runtime = storage.RuntimeProcess
	}
	if err := validateManifest(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

func validateManifest(m *Manifest) error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.ContainsAny(m.ID, " \t/\\") {
		return fmt.Errorf("id %q must not contain whitespace or path separators", m.ID)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !ValidVersion(m.Version) {
		return fmt.Errorf("version %q is not a semantic version", m.Version)
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("invalid kind %q (valid: LAUNCHER, SCANNER, SCRAPER)", m.Kind)
	}

	switch m.Runtime {
	case storage.RuntimeProcess:
		if m.Entrypoint == "" {
			return fmt.Errorf("entrypoint is required for process addons")
		}
		if strings.Contains(m.Entrypoint, "..") {
			return fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
		}
	case storage.RuntimeBuiltin:
		if m.Entrypoint != "" {
			return fmt.Errorf("builtin addons take no entrypoint")
		}
	default:
		return fmt.Errorf("invalid runtime %q (valid: process, builtin)", m.Runtime)
	}

	if m.Scraper != nil && m.Kind != storage.KindScraper {
		return fmt.Errorf("scraper section is only valid for SCRAPER addons")
	}
	return nil
}
