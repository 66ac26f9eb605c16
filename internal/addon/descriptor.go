package addon

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/mattjoyce/akl/internal/storage"
)

// Verb is the action a helper is asked to perform.
type Verb string

const (
	VerbConfigure Verb = "configure"
	VerbScan      Verb = "scan"
	VerbScrape    Verb = "scrape"
	VerbLaunch    Verb = "launch"
)

// Descriptor is everything a helper needs for one round trip. It is rendered
// as command-line arguments and never persisted.
type Descriptor struct {
	Verb            Verb
	Kind            storage.AddonKind
	ServerHost      string
	ServerPort      int
	AklAddonID      string
	ROMCollectionID string
	ROMID           string
	LauncherID      string
	ScannerID       string
	Settings        json.RawMessage
}

// Validate checks that the descriptor names a complete target for its verb.
func (d Descriptor) Validate() error {
	switch d.Verb {
	case VerbConfigure, VerbScan, VerbScrape, VerbLaunch:
	default:
		return fmt.Errorf("invalid --cmd %q", d.Verb)
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("invalid --type %q", d.Kind)
	}
	if d.ServerHost == "" || d.ServerPort <= 0 || d.ServerPort > 65535 {
		return fmt.Errorf("--server_host and --server_port are required")
	}
	if d.AklAddonID == "" {
		return fmt.Errorf("--akl_addon_id is required")
	}
	if (d.ROMCollectionID == "") == (d.ROMID == "") {
		return fmt.Errorf("exactly one of --romcollection_id and --rom_id is required")
	}
	switch d.Verb {
	case VerbScan:
		if d.ROMCollectionID == "" {
			return fmt.Errorf("scan requires --romcollection_id")
		}
	case VerbLaunch:
		if d.ROMID == "" {
			return fmt.Errorf("launch requires --rom_id")
		}
	}
	if len(d.Settings) > 0 && !json.Valid(d.Settings) {
		return fmt.Errorf("--settings is not valid JSON")
	}
	return nil
}

// Args renders the descriptor as helper command-line arguments.
func (d Descriptor) Args() []string {
	args := []string{
		"--cmd", string(d.Verb),
		"--type", string(d.Kind),
		"--server_host", d.ServerHost,
		"--server_port", strconv.Itoa(d.ServerPort),
		"--akl_addon_id", d.AklAddonID,
	}
	if d.ROMCollectionID != "" {
		args = append(args, "--romcollection_id", d.ROMCollectionID)
	}
	if d.ROMID != "" {
		args = append(args, "--rom_id", d.ROMID)
	}
	if d.LauncherID != "" {
		args = append(args, "--launcher_id", d.LauncherID)
	}
	if d.ScannerID != "" {
		args = append(args, "--scanner_id", d.ScannerID)
	}
	if len(d.Settings) > 0 {
		args = append(args, "--settings", string(d.Settings))
	}
	return args
}

// ParseArgs is the helper-side inverse of Args.
func ParseArgs(args []string) (Descriptor, error) {
	fs := flag.NewFlagSet("addon", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var d Descriptor
	var verb, kind, settings string
	fs.StringVar(&verb, "cmd", "", "configure | scan | scrape | launch")
	fs.StringVar(&kind, "type", "", "LAUNCHER | SCANNER | SCRAPER")
	fs.StringVar(&d.ServerHost, "server_host", "", "RPC server host")
	fs.IntVar(&d.ServerPort, "server_port", 0, "RPC server port")
	fs.StringVar(&d.AklAddonID, "akl_addon_id", "", "registered addon id")
	fs.StringVar(&d.ROMCollectionID, "romcollection_id", "", "target collection")
	fs.StringVar(&d.ROMID, "rom_id", "", "target ROM")
	fs.StringVar(&d.LauncherID, "launcher_id", "", "launcher binding")
	fs.StringVar(&d.ScannerID, "scanner_id", "", "scanner binding")
	fs.StringVar(&settings, "settings", "", "JSON settings")

	if err := fs.Parse(args); err != nil {
		return Descriptor{}, fmt.Errorf("parse descriptor: %w", err)
	}
	if fs.NArg() > 0 {
		return Descriptor{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	d.Verb = Verb(verb)
	d.Kind = storage.AddonKind(kind)
	if settings != "" {
		d.Settings = json.RawMessage(settings)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Target names the collection or ROM a descriptor acts on.
type Target struct {
	ROMCollectionID string
	ROMID           string
}

var errNoTarget = errors.New("exactly one of collection id and rom id is required")

func (t Target) validate() error {
	if (t.ROMCollectionID == "") == (t.ROMID == "") {
		return errNoTarget
	}
	return nil
}

// Builder creates descriptors pointing at one RPC server.
type Builder struct {
	host string
	port int
}

// NewBuilder binds descriptors to the RPC server's bound address.
func NewBuilder(host string, port int) *Builder {
	return &Builder{host: host, port: port}
}

func (b *Builder) base(verb Verb, a storage.Addon) Descriptor {
	return Descriptor{
		Verb:       verb,
		Kind:       a.Kind,
		ServerHost: b.host,
		ServerPort: b.port,
		AklAddonID: a.ID,
	}
}

// BuildConfigure asks a launcher or scanner to collect its settings for
// target. bindingID names an existing binding being edited and may be empty.
func (b *Builder) BuildConfigure(a storage.Addon, t Target, bindingID string, settings json.RawMessage) (Descriptor, error) {
	if err := t.validate(); err != nil {
		return Descriptor{}, err
	}
	d := b.base(VerbConfigure, a)
	d.ROMCollectionID, d.ROMID = t.ROMCollectionID, t.ROMID
	switch a.Kind {
	case storage.KindLauncher:
		d.LauncherID = bindingID
	case storage.KindScanner:
		if t.ROMCollectionID == "" {
			return Descriptor{}, fmt.Errorf("scanners are configured on collections")
		}
		d.ScannerID = bindingID
	default:
		return Descriptor{}, fmt.Errorf("%s addons are not configurable", a.Kind)
	}
	d.Settings = settings
	return d, nil
}

// BuildScan asks a scanner to scan a collection.
func (b *Builder) BuildScan(a storage.Addon, collectionID, scannerID string, settings json.RawMessage) (Descriptor, error) {
	if a.Kind != storage.KindScanner {
		return Descriptor{}, fmt.Errorf("addon %s is a %s, not a scanner", a.AddonID, a.Kind)
	}
	if collectionID == "" {
		return Descriptor{}, errNoTarget
	}
	d := b.base(VerbScan, a)
	d.ROMCollectionID = collectionID
	d.ScannerID = scannerID
	d.Settings = settings
	return d, nil
}

// BuildScrape asks a scraper to scrape one ROM or a whole collection.
func (b *Builder) BuildScrape(a storage.Addon, t Target, settings json.RawMessage) (Descriptor, error) {
	if a.Kind != storage.KindScraper {
		return Descriptor{}, fmt.Errorf("addon %s is a %s, not a scraper", a.AddonID, a.Kind)
	}
	if err := t.validate(); err != nil {
		return Descriptor{}, err
	}
	d := b.base(VerbScrape, a)
	d.ROMCollectionID, d.ROMID = t.ROMCollectionID, t.ROMID
	d.Settings = settings
	return d, nil
}

// BuildLaunch asks a launcher to start a ROM with a launcher binding.
func (b *Builder) BuildLaunch(a storage.Addon, romID, launcherID string) (Descriptor, error) {
	if a.Kind != storage.KindLauncher {
		return Descriptor{}, fmt.Errorf("addon %s is a %s, not a launcher", a.AddonID, a.Kind)
	}
	if romID == "" {
		return Descriptor{}, errNoTarget
	}
	d := b.base(VerbLaunch, a)
	d.ROMID = romID
	d.LauncherID = launcherID
	return d, nil
}
