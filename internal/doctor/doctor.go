// Package doctor checks an akl installation: configuration, addon roots and
// the addons the store still refers to.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mattjoyce/akl/internal/addon"
	"github.com/mattjoyce/akl/internal/config"
	"github.com/mattjoyce/akl/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against discovered and registered addons.
type Doctor struct {
	cfg        *config.Config
	registry   *addon.Registry
	registered []storage.Addon
}

// New creates a Doctor. registered may be nil when no store exists yet.
func New(cfg *config.Config, registry *addon.Registry, registered []storage.Addon) *Doctor {
	return &Doctor{cfg: cfg, registry: registry, registered: registered}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateAddresses(r)
	d.validateAddonRoots(r)
	d.validateAddonRefs(r)
	d.warnStaleRegistrations(r)
	d.warnNoScanner(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateAddresses checks the RPC server and the notify receiver do not
// collide.
func (d *Doctor) validateAddresses(r *Result) {
	host, port, err := net.SplitHostPort(d.cfg.Notify.Listen)
	if err != nil {
		d.addError(r, "service", "notify.listen", err.Error())
		return
	}
	if d.cfg.RPC.Port == 0 || port != strconv.Itoa(d.cfg.RPC.Port) {
		return
	}
	if host == d.cfg.RPC.Host || (isLocalhost(host) && isLocalhost(d.cfg.RPC.Host)) {
		d.addError(r, "service", "notify.listen",
			fmt.Sprintf("notify receiver and rpc server both use port %s", port))
	}
}

func isLocalhost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// validateAddonRoots checks every root exists and is a directory.
func (d *Doctor) validateAddonRoots(r *Result) {
	for i, root := range d.cfg.AddonRoots {
		field := fmt.Sprintf("addon_roots[%d]", i)
		info, err := os.Stat(root)
		switch {
		case os.IsNotExist(err):
			d.addWarning(r, "addon_roots", field, fmt.Sprintf("%s does not exist", root))
		case err != nil:
			d.addError(r, "addon_roots", field, err.Error())
		case !info.IsDir():
			d.addError(r, "addon_roots", field, fmt.Sprintf("%s is not a directory", root))
		case info.Mode().Perm()&0o002 != 0:
			d.addWarning(r, "addon_roots", field, fmt.Sprintf("%s is world-writable; its addons are skipped", root))
		}
	}

	if abs, err := filepath.Abs(d.cfg.Views.Dir); err == nil {
		for i, root := range d.cfg.AddonRoots {
			rootAbs, err := filepath.Abs(root)
			if err == nil && strings.HasPrefix(abs+string(filepath.Separator), rootAbs+string(filepath.Separator)) {
				d.addWarning(r, "views", "views.dir",
					fmt.Sprintf("views directory is inside addon_roots[%d]", i))
			}
		}
	}
}

// validateAddonRefs checks that addons named in config are discoverable.
func (d *Doctor) validateAddonRefs(r *Result) {
	for id, conf := range d.cfg.Addons {
		field := fmt.Sprintf("addons.%s", id)
		c, ok := d.registry.Get(id)
		if !ok {
			d.addWarning(r, "addon_refs", field,
				fmt.Sprintf("addon %q in config but not found under addon_roots", id))
			continue
		}
		if conf.Enabled != nil && !*conf.Enabled && c.Runtime == storage.RuntimeBuiltin {
			d.addWarning(r, "addon_refs", field+".enabled",
				fmt.Sprintf("builtin addon %q is disabled", id))
		}
	}
}

// warnStaleRegistrations reports stored addons that discovery no longer
// finds. Their launchers and scanners will fail until they come back.
func (d *Doctor) warnStaleRegistrations(r *Result) {
	for _, a := range d.registered {
		if _, ok := d.registry.Get(a.AddonID); ok {
			continue
		}
		d.addWarning(r, "registered", a.ID,
			fmt.Sprintf("registered %s %q (%s) is no longer installed", strings.ToLower(string(a.Kind)), a.AddonID, a.Version))
	}
}

// warnNoScanner warns when nothing could ever fill a collection.
func (d *Doctor) warnNoScanner(r *Result) {
	for _, c := range d.registry.List() {
		if c.Kind == storage.KindScanner && d.cfg.AddonEnabled(c.ID) && c.IsEnabled() {
			return
		}
	}
	d.addWarning(r, "addons", "", "no enabled scanner addon is installed")
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// warnMissingEnvVars warns about ${VAR} references left unexpanded.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	fields := map[string]string{
		"state.path": d.cfg.State.Path,
		"views.dir":  d.cfg.Views.Dir,
	}
	for field, value := range fields {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			if os.Getenv(m[1]) == "" {
				d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Installation valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Installation valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Installation invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
