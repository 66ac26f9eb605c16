package addon

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattjoyce/akl/internal/storage"
)

// Candidate is an addon found by discovery, not yet persisted.
type Candidate struct {
	Manifest
	Dir         string // absolute addon directory, empty for builtins
	Entrypoint  string // absolute entrypoint path, empty for builtins
	Fingerprint string
}

// Registry holds discovered candidates indexed by addon id.
type Registry struct {
	addons map[string]*Candidate
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{addons: make(map[string]*Candidate)}
}

// Get retrieves a candidate by addon id.
func (r *Registry) Get(id string) (*Candidate, bool) {
	c, ok := r.addons[id]
	return c, ok
}

// Add registers a candidate. The first candidate for an id wins.
func (r *Registry) Add(c *Candidate) error {
	if _, exists := r.addons[c.ID]; exists {
		return fmt.Errorf("addon %q already registered", c.ID)
	}
	r.addons[c.ID] = c
	return nil
}

// List returns the candidates sorted by id.
func (r *Registry) List() []*Candidate {
	out := make([]*Candidate, 0, len(r.addons))
	for _, c := range r.addons {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of candidates.
func (r *Registry) Len() int { return len(r.addons) }

// Discover walks roots for addon.yaml files and returns the valid addons,
// builtins first. Invalid and duplicate addons are logged and skipped; missing
// roots are logged and ignored.
func Discover(roots []string, logger *slog.Logger) (*Registry, error) {
	registry := NewRegistry()
	for _, b := range Builtins() {
		if err := registry.Add(b); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve addon root %q: %w", root, err)
		}
		if _, ok := seen[absRoot]; ok {
			continue
		}
		seen[absRoot] = struct{}{}

		info, err := os.Stat(absRoot)
		if os.IsNotExist(err) {
			logger.Warn("addon root does not exist", "root", absRoot)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat addon root %s: %w", absRoot, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("addon root is not a directory: %s", absRoot)
		}

		err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != ManifestFilename {
				return nil
			}

			c, err := loadCandidate(filepath.Dir(path), absRoot)
			if err != nil {
				logger.Warn("failed to load addon", "root", absRoot, "path", filepath.Dir(path), "error", err)
				return nil
			}
			if err := registry.Add(c); err != nil {
				existing, _ := registry.Get(c.ID)
				logger.Warn("duplicate addon ignored (keeping first discovered)",
					"addon", c.ID, "ignored_path", c.Dir, "kept_path", existing.Dir)
				return nil
			}

			logger.Info("found addon", "addon", c.ID, "kind", string(c.Kind), "version", c.Version, "path", c.Dir)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan addon root %s: %w", absRoot, err)
		}
	}
	return registry, nil
}

func loadCandidate(dir, root string) (*Candidate, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	if m.Runtime != storage.RuntimeProcess {
		return nil, fmt.Errorf("runtime %q cannot be installed from disk", m.Runtime)
	}

	entrypoint := filepath.Join(dir, m.Entrypoint)
	if err := validateTrust(entrypoint, dir, root); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}
	fp, err := Fingerprint(data, entrypoint)
	if err != nil {
		return nil, err
	}
	return &Candidate{Manifest: *m, Dir: dir, Entrypoint: entrypoint, Fingerprint: fp}, nil
}

// validateTrust requires the entrypoint to resolve inside both the addon
// directory and its root, to be executable, and the directory not to be
// world-writable.
func validateTrust(entrypoint, dir, root string) error {
	resolvedEntry, err := filepath.EvalSymlinks(entrypoint)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve addon path symlink: %w", err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("failed to resolve addon root symlink %s: %w", root, err)
	}

	sep := string(os.PathSeparator)
	if !strings.HasPrefix(resolvedEntry, resolvedRoot+sep) {
		return fmt.Errorf("entrypoint %s is not under addon root %s", resolvedEntry, resolvedRoot)
	}
	if !strings.HasPrefix(resolvedEntry, resolvedDir+sep) {
		return fmt.Errorf("entrypoint %s is not under addon directory %s", resolvedEntry, resolvedDir)
	}

	info, err := os.Stat(resolvedEntry)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.IsDir() || info.Mode()&0o111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntry)
	}

	dirInfo, err := os.Stat(resolvedDir)
	if err != nil {
		return fmt.Errorf("addon directory not found: %w", err)
	}
	if dirInfo.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("addon directory is world-writable: %s", resolvedDir)
	}
	return nil
}
