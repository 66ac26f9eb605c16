// Package inspect renders what the store knows about one ROM: metadata,
// collections and every launcher that could start it.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/akl/internal/rpc"
	"github.com/mattjoyce/akl/internal/storage"
)

// Report is the structured JSON representation of a ROM report.
type Report struct {
	ROM         rpc.ROM         `json:"rom"`
	ScannedBy   string          `json:"scanned_by,omitempty"`
	Collections []CollectionRef `json:"collections"`
	Launchers   []LauncherRef   `json:"launchers"`
}

// CollectionRef names a collection the ROM belongs to.
type CollectionRef struct {
	ID   string `json:"id"`
	Name string `json:"m_name"`
}

// LauncherRef is one launcher binding that applies to the ROM.
type LauncherRef struct {
	ID        string          `json:"launcher_id"`
	Scope     storage.Scope   `json:"scope"`
	TargetID  string          `json:"target_id"`
	AddonID   string          `json:"addon_id"`
	AddonName string          `json:"addon_name"`
	Default   bool            `json:"is_default"`
	Settings  json.RawMessage `json:"settings,omitempty"`
}

// BuildReport renders a terminal-friendly report for a ROM.
func BuildReport(ctx context.Context, st *storage.Store, romID string) (string, error) {
	report, err := gatherReportData(ctx, st, romID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	r := report.ROM
	fmt.Fprintf(&out, "ROM Report\n")
	fmt.Fprintf(&out, "ID          : %s\n", r.ID)
	fmt.Fprintf(&out, "Name        : %s\n", r.Name)
	fmt.Fprintf(&out, "Platform    : %s\n", renderUnset(r.Platform, "<unknown>"))
	fmt.Fprintf(&out, "Year        : %s\n", renderUnset(r.Year, "<unknown>"))
	fmt.Fprintf(&out, "Genre       : %s\n", renderUnset(r.Genre, "<unknown>"))
	fmt.Fprintf(&out, "Developer   : %s\n", renderUnset(r.Developer, "<unknown>"))
	if len(r.Tags) > 0 {
		fmt.Fprintf(&out, "Tags        : %s\n", strings.Join(r.Tags, ", "))
	}
	fmt.Fprintf(&out, "Scanned by  : %s\n", renderUnset(report.ScannedBy, "<none>"))
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Collections\n")
	if len(report.Collections) == 0 {
		fmt.Fprintf(&out, "  <none>\n")
	}
	for _, c := range report.Collections {
		fmt.Fprintf(&out, "  - %s (%s)\n", c.Name, c.ID)
	}
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Launchers\n")
	if len(report.Launchers) == 0 {
		fmt.Fprintf(&out, "  <none>\n")
	}
	for _, l := range report.Launchers {
		marker := ""
		if l.Default {
			marker = " [default]"
		}
		fmt.Fprintf(&out, "  - %s%s\n", l.AddonName, marker)
		fmt.Fprintf(&out, "    launcher_id : %s\n", l.ID)
		fmt.Fprintf(&out, "    from        : %s %s\n", l.Scope, l.TargetID)
		fmt.Fprintf(&out, "    addon       : %s\n", l.AddonID)
		if len(l.Settings) > 0 {
			fmt.Fprintf(&out, "    settings    :\n")
			for _, line := range strings.Split(strings.TrimSpace(prettyJSON(l.Settings)), "\n") {
				fmt.Fprintf(&out, "      %s\n", line)
			}
		}
	}

	if len(r.ScannedData) > 0 {
		fmt.Fprintf(&out, "\nScanned data\n")
		keys := make([]string, 0, len(r.ScannedData))
		for k := range r.ScannedData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&out, "  %s: %v\n", k, r.ScannedData[k])
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, st *storage.Store, romID string) (string, error) {
	report, err := gatherReportData(ctx, st, romID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, st *storage.Store, romID string) (*Report, error) {
	if strings.TrimSpace(romID) == "" {
		return nil, fmt.Errorf("rom_id is required")
	}

	report := &Report{Collections: []CollectionRef{}, Launchers: []LauncherRef{}}
	err := st.View(ctx, func(sess *storage.Session) error {
		rom, err := sess.ROMs().Get(ctx, romID)
		if err != nil {
			return fmt.Errorf("rom %s: %w", romID, err)
		}
		report.ROM = rpc.ROMFromDomain(*rom)
		if rom.ScannedBy != "" {
			report.ScannedBy = addonLabel(ctx, sess, rom.ScannedBy)
		}

		own, err := sess.Launchers(storage.ScopeROM).ForTarget(ctx, romID)
		if err != nil {
			return err
		}
		if err := appendLaunchers(ctx, sess, report, storage.ScopeROM, own); err != nil {
			return err
		}

		ids, err := sess.Collections().CollectionsOf(ctx, romID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			c, err := sess.Collections().Get(ctx, id)
			if err != nil {
				return fmt.Errorf("collection %s: %w", id, err)
			}
			report.Collections = append(report.Collections, CollectionRef{ID: c.ID, Name: c.Name})

			inherited, err := sess.Launchers(storage.ScopeCollection).ForTarget(ctx, id)
			if err != nil {
				return err
			}
			if err := appendLaunchers(ctx, sess, report, storage.ScopeCollection, inherited); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func appendLaunchers(ctx context.Context, sess *storage.Session, report *Report, scope storage.Scope, bindings []storage.Binding) error {
	for _, b := range bindings {
		a, err := sess.Addons().Get(ctx, b.AddonID)
		if err != nil {
			return fmt.Errorf("launcher %s addon %s: %w", b.ID, b.AddonID, err)
		}
		report.Launchers = append(report.Launchers, LauncherRef{
			ID:        b.ID,
			Scope:     scope,
			TargetID:  b.TargetID,
			AddonID:   a.AddonID,
			AddonName: a.Name,
			Default:   b.IsDefault,
			Settings:  b.Settings,
		})
	}
	return nil
}

// addonLabel names an addon record, falling back to the raw id once the
// addon has been removed.
func addonLabel(ctx context.Context, sess *storage.Session, recordID string) string {
	a, err := sess.Addons().Get(ctx, recordID)
	if err != nil {
		return recordID
	}
	return fmt.Sprintf("%s %s", a.AddonID, a.Version)
}

func renderUnset(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	data, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(data)
}
