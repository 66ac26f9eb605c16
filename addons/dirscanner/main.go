// Command dirscanner is a SCANNER addon. It finds ROM files under a
// directory and reports them to the core over the local RPC server. Build it
// next to its addon.yaml:
//
//	go build -o addons/dirscanner/dirscanner ./addons/dirscanner
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/akl/internal/addon"
	"github.com/mattjoyce/akl/internal/rpc"
	"github.com/mattjoyce/akl/internal/storage"
)

const rpcTimeout = 10 * time.Second

// Settings is the scanner configuration stored on a collection.
type Settings struct {
	Path       string   `json:"path"`
	Extensions []string `json:"extensions,omitempty"`
	Recursive  bool     `json:"recursive"`
}

var defaultExtensions = []string{"zip", "7z"}

// normalize lower-cases extensions and drops leading dots.
func (s *Settings) normalize() error {
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("settings: path is required")
	}
	if len(s.Extensions) == 0 {
		s.Extensions = defaultExtensions
	}
	exts := make([]string, 0, len(s.Extensions))
	for _, e := range s.Extensions {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			exts = append(exts, e)
		}
	}
	s.Extensions = exts
	return nil
}

// Core is the part of rpc.Client the scanner talks to.
type Core interface {
	Collection(ctx context.Context, id string) (*rpc.Collection, error)
	CollectionROMs(ctx context.Context, id string) ([]rpc.ROM, error)
	CollectionScannerSettings(ctx context.Context, collectionID, scannerID string) (json.RawMessage, error)
	StoreScanner(ctx context.Context, req rpc.StoreScannerRequest) error
	StoreROMs(ctx context.Context, req rpc.StoreROMsRequest) error
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr, func(host string, port int) Core {
		return rpc.NewClient(host, port, rpcTimeout)
	}))
}

func run(args []string, stderr io.Writer, dial func(host string, port int) Core) int {
	d, err := addon.ParseArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "dirscanner: %v\n", err)
		return 2
	}
	if d.Kind != storage.KindScanner {
		fmt.Fprintf(stderr, "dirscanner: unsupported addon type %s\n", d.Kind)
		return 2
	}

	ctx := context.Background()
	core := dial(d.ServerHost, d.ServerPort)
	switch d.Verb {
	case addon.VerbConfigure:
		err = configure(ctx, core, d)
	case addon.VerbScan:
		var n int
		n, err = scan(ctx, core, d)
		if err == nil {
			fmt.Fprintf(stderr, "dirscanner: reported %d roms\n", n)
		}
	default:
		err = fmt.Errorf("unsupported --cmd %s", d.Verb)
	}
	if err != nil {
		fmt.Fprintf(stderr, "dirscanner: %v\n", err)
		return 1
	}
	return 0
}

// configure stores the descriptor's settings over whatever the binding
// already holds.
func configure(ctx context.Context, core Core, d addon.Descriptor) error {
	var s Settings
	if d.ScannerID != "" {
		current, err := core.CollectionScannerSettings(ctx, d.ROMCollectionID, d.ScannerID)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		if len(current) > 0 {
			if err := json.Unmarshal(current, &s); err != nil {
				return fmt.Errorf("decode stored settings: %w", err)
			}
		}
	}
	if len(d.Settings) > 0 {
		if err := json.Unmarshal(d.Settings, &s); err != nil {
			return fmt.Errorf("decode settings: %w", err)
		}
	}
	if err := s.normalize(); err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return core.StoreScanner(ctx, rpc.StoreScannerRequest{
		ROMCollectionID: d.ROMCollectionID,
		ScannerID:       d.ScannerID,
		AklAddonID:      d.AklAddonID,
		Settings:        raw,
	})
}

// scan walks the configured directory and reports every match. ROMs found
// before keep their ids so the core updates them in place.
func scan(ctx context.Context, core Core, d addon.Descriptor) (int, error) {
	raw := d.Settings
	if len(raw) == 0 {
		var err error
		raw, err = core.CollectionScannerSettings(ctx, d.ROMCollectionID, d.ScannerID)
		if err != nil {
			return 0, fmt.Errorf("load settings: %w", err)
		}
	}
	var s Settings
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("decode settings: %w", err)
		}
	}
	if err := s.normalize(); err != nil {
		return 0, err
	}

	collection, err := core.Collection(ctx, d.ROMCollectionID)
	if err != nil {
		return 0, fmt.Errorf("load collection: %w", err)
	}
	known, err := core.CollectionROMs(ctx, d.ROMCollectionID)
	if err != nil {
		return 0, fmt.Errorf("load roms: %w", err)
	}
	byFile := make(map[string]string, len(known))
	for _, r := range known {
		if f, ok := r.ScannedData["file"].(string); ok {
			byFile[f] = r.ID
		}
	}

	files, err := findFiles(s)
	if err != nil {
		return 0, err
	}
	roms := make([]rpc.ROM, 0, len(files))
	for _, f := range files {
		roms = append(roms, rpc.ROM{
			ID:       byFile[f.path],
			Name:     cleanName(filepath.Base(f.path)),
			Platform: collection.Platform,
			ScannedData: map[string]any{
				"file": f.path,
				"size": f.size,
			},
		})
	}
	if len(roms) == 0 {
		return 0, nil
	}
	err = core.StoreROMs(ctx, rpc.StoreROMsRequest{
		ROMCollectionID: d.ROMCollectionID,
		AklAddonID:      d.AklAddonID,
		ROMs:            roms,
	})
	if err != nil {
		return 0, fmt.Errorf("store roms: %w", err)
	}
	return len(roms), nil
}

type found struct {
	path string
	size int64
}

func findFiles(s Settings) ([]found, error) {
	root, err := filepath.Abs(s.Path)
	if err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(s.Extensions))
	for _, e := range s.Extensions {
		want[e] = struct{}{}
	}

	var out []found
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path != root && (!s.Recursive || strings.HasPrefix(entry.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if _, ok := want[ext]; !ok {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		out = append(out, found{path: path, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}

var (
	tagPattern   = regexp.MustCompile(`\s*[\(\[][^\)\]]*[\)\]]`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// cleanName turns "Super Mario World (USA) [!].sfc" into "Super Mario World".
func cleanName(file string) string {
	name := strings.TrimSuffix(file, filepath.Ext(file))
	name = tagPattern.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, "_", " ")
	name = spacePattern.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	if name == "" {
		return strings.TrimSuffix(file, filepath.Ext(file))
	}
	return name
}
