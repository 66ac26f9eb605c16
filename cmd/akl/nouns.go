package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/akl/internal/command"
	"github.com/mattjoyce/akl/internal/config"
	"github.com/mattjoyce/akl/internal/inspect"
	"github.com/mattjoyce/akl/internal/notify"
	"github.com/mattjoyce/akl/internal/rpc"
	"github.com/mattjoyce/akl/internal/storage"
	"github.com/mattjoyce/akl/internal/tui/watch"
)

// --- addon ---

func runAddonNoun(args []string) int {
	if len(args) == 0 || isHelpToken(args[0]) {
		printNounHelp("addon", "list [--kind KIND] [--json]", "discover", "remove <addon-id> [--record]")
		return 0
	}
	switch args[0] {
	case "list":
		return runAddonList(args[1:])
	case "discover":
		return runRemote("addon discover", args[1:], 0, func([]string) (command.Name, command.Payload, error) {
			return command.DiscoverAddons, command.Payload{}, nil
		})
	case "remove":
		record := false
		return runRemoteWith("addon remove", args[1:], 1, func(fs *flag.FlagSet) {
			fs.BoolVar(&record, "record", false, "Treat the argument as an addon record id")
		}, func(pos []string) (command.Name, command.Payload, error) {
			key := "addon_id"
			if record {
				key = "akl_addon_id"
			}
			return command.RemoveAddon, command.Payload{key: pos[0]}, nil
		})
	default:
		return unknownAction("addon", args[0])
	}
}

type addonRow struct {
	ID      string `json:"akl_addon_id"`
	AddonID string `json:"addon_id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Kind    string `json:"kind"`
	Runtime string `json:"runtime"`
}

func runAddonList(args []string) int {
	fs := flag.NewFlagSet("addon list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	kind := fs.String("kind", "", "Only show LAUNCHER, SCANNER or SCRAPER addons")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if _, err := parseFlags(fs, args); err != nil {
		return 1
	}
	k := storage.AddonKind(strings.ToUpper(*kind))
	if k != "" && !k.Valid() {
		fmt.Fprintf(os.Stderr, "Unknown addon kind: %s\n", *kind)
		return 1
	}

	var rows []addonRow
	code := withStore(*configPath, func(ctx context.Context, sess *storage.Session) error {
		addons, err := sess.Addons().List(ctx, k)
		if err != nil {
			return err
		}
		for _, a := range addons {
			rows = append(rows, addonRow{a.ID, a.AddonID, a.Name, a.Version, string(a.Kind), string(a.Runtime)})
		}
		return nil
	})
	if code != 0 {
		return code
	}

	if *jsonOut {
		if rows == nil {
			rows = []addonRow{}
		}
		return printJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Println("No addons registered.")
		return 0
	}
	fmt.Printf("%-36s  %-28s  %-9s  %-8s  %s\n", "ID", "ADDON", "KIND", "VERSION", "NAME")
	for _, r := range rows {
		fmt.Printf("%-36s  %-28s  %-9s  %-8s  %s\n", r.ID, r.AddonID, r.Kind, r.Version, r.Name)
	}
	return 0
}

// --- collection ---

func runCollectionNoun(args []string) int {
	if len(args) == 0 || isHelpToken(args[0]) {
		printNounHelp("collection",
			"add --name NAME [--platform P] [--plot TEXT]",
			"list [--json]",
			"scan <id> [--scanner ID]",
			"scrape <id> [--scraper ADDON_ID]",
			"add-launcher <id> [--addon ADDON_ID]",
			"add-scanner <id> [--addon ADDON_ID]",
			"edit-launcher <id> [--launcher ID]",
		)
		return 0
	}
	switch args[0] {
	case "add":
		return runCollectionAdd(args[1:])
	case "list":
		return runCollectionList(args[1:])
	case "scan":
		return runTargetCommand("collection scan", args[1:], command.ScanROMs, "romcollection_id", "scanner", "scanner_id")
	case "scrape":
		return runTargetCommand("collection scrape", args[1:], command.ScrapeROMCollection, "romcollection_id", "scraper", "addon_id")
	case "add-launcher":
		return runTargetCommand("collection add-launcher", args[1:], command.AddLauncher, "romcollection_id", "addon", "addon_id")
	case "add-scanner":
		return runTargetCommand("collection add-scanner", args[1:], command.AddScanner, "romcollection_id", "addon", "addon_id")
	case "edit-launcher":
		return runTargetCommand("collection edit-launcher", args[1:], command.EditLauncher, "romcollection_id", "launcher", "launcher_id")
	default:
		return unknownAction("collection", args[0])
	}
}

func runCollectionAdd(args []string) int {
	fs := flag.NewFlagSet("collection add", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	name := fs.String("name", "", "Collection name")
	platform := fs.String("platform", "", "Platform name")
	plot := fs.String("plot", "", "Description")
	if _, err := parseFlags(fs, args); err != nil {
		return 1
	}
	if strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "Error: --name is required")
		return 1
	}

	c := storage.ROMCollection{ID: uuid.NewString(), Name: *name, Platform: *platform, Plot: *plot}
	code := withStoreUpdate(*configPath, func(ctx context.Context, sess *storage.Session) error {
		return sess.Collections().Save(ctx, &c)
	})
	if code != 0 {
		return code
	}
	fmt.Println(c.ID)

	// The core owns the listing views; a stopped core rebuilds them on start.
	if cfg, err := loadConfig(*configPath); err == nil {
		if err := sendCommand(context.Background(), cfg, command.RebuildViews, command.Payload{}); err != nil {
			fmt.Fprintf(os.Stderr, "Note: views not rebuilt, core unreachable: %v\n", err)
		}
	}
	return 0
}

type collectionRow struct {
	rpc.Collection
	ROMCount int `json:"rom_count"`
}

func runCollectionList(args []string) int {
	fs := flag.NewFlagSet("collection list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if _, err := parseFlags(fs, args); err != nil {
		return 1
	}

	rows := []collectionRow{}
	code := withStore(*configPath, func(ctx context.Context, sess *storage.Session) error {
		cols, err := sess.Collections().List(ctx)
		if err != nil {
			return err
		}
		for _, c := range cols {
			n, err := sess.Collections().CountROMs(ctx, c.ID)
			if err != nil {
				return err
			}
			rows = append(rows, collectionRow{Collection: rpc.CollectionFromDomain(c), ROMCount: n})
		}
		return nil
	})
	if code != 0 {
		return code
	}

	if *jsonOut {
		return printJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Println("No collections.")
		return 0
	}
	fmt.Printf("%-36s  %-24s  %-16s  %s\n", "ID", "NAME", "PLATFORM", "ROMS")
	for _, r := range rows {
		fmt.Printf("%-36s  %-24s  %-16s  %d\n", r.ID, r.Name, r.Platform, r.ROMCount)
	}
	return 0
}

// --- rom ---

func runROMNoun(args []string) int {
	if len(args) == 0 || isHelpToken(args[0]) {
		printNounHelp("rom",
			"list <collection-id> [--json]",
			"inspect <id> [--json]",
			"launch <id> [--launcher ID]",
			"scrape <id> [--scraper ADDON_ID]",
			"add-launcher <id> [--addon ADDON_ID]",
			"edit-launcher <id> [--launcher ID]",
		)
		return 0
	}
	switch args[0] {
	case "list":
		return runROMList(args[1:])
	case "inspect":
		return runROMInspect(args[1:])
	case "launch":
		return runTargetCommand("rom launch", args[1:], command.ExecuteROM, "rom_id", "launcher", "launcher_id")
	case "scrape":
		return runTargetCommand("rom scrape", args[1:], command.ScrapeROM, "rom_id", "scraper", "addon_id")
	case "add-launcher":
		return runTargetCommand("rom add-launcher", args[1:], command.AddLauncher, "rom_id", "addon", "addon_id")
	case "edit-launcher":
		return runTargetCommand("rom edit-launcher", args[1:], command.EditLauncher, "rom_id", "launcher", "launcher_id")
	default:
		return unknownAction("rom", args[0])
	}
}

func runROMInspect(args []string) int {
	fs := flag.NewFlagSet("rom inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return 1
	}
	if len(pos) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: akl rom inspect <id> [--json]")
		return 1
	}

	return openStoreAnd(*configPath, func(ctx context.Context, st *storage.Store) error {
		build := inspect.BuildReport
		if *jsonOut {
			build = inspect.BuildJSONReport
		}
		out, err := build(ctx, st, pos[0])
		if err != nil {
			return err
		}
		fmt.Println(strings.TrimRight(out, "\n"))
		return nil
	})
}

func runROMList(args []string) int {
	fs := flag.NewFlagSet("rom list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return 1
	}
	if len(pos) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: akl rom list <collection-id> [--json]")
		return 1
	}

	roms := []rpc.ROM{}
	code := withStore(*configPath, func(ctx context.Context, sess *storage.Session) error {
		if _, err := sess.Collections().Get(ctx, pos[0]); err != nil {
			return fmt.Errorf("collection %s: %w", pos[0], err)
		}
		list, err := sess.ROMs().InCollection(ctx, pos[0])
		if err != nil {
			return err
		}
		for _, r := range list {
			roms = append(roms, rpc.ROMFromDomain(r))
		}
		return nil
	})
	if code != 0 {
		return code
	}

	if *jsonOut {
		return printJSON(roms)
	}
	if len(roms) == 0 {
		fmt.Println("No ROMs in collection.")
		return 0
	}
	fmt.Printf("%-36s  %-32s  %-6s  %s\n", "ID", "NAME", "YEAR", "FILE")
	for _, r := range roms {
		fmt.Printf("%-36s  %-32s  %-6s  %s\n", r.ID, r.Name, r.Year, scannedFile(r))
	}
	return 0
}

func scannedFile(r rpc.ROM) string {
	if f, ok := r.ScannedData["file"].(string); ok {
		return f
	}
	return ""
}

// --- notify ---

func runNotifyNoun(args []string) int {
	if len(args) == 0 || isHelpToken(args[0]) {
		printNounHelp("notify", "send <COMMAND> [key=value ...]")
		fmt.Println("\nCommands:")
		for _, n := range command.Names() {
			fmt.Printf("  %s\n", n)
		}
		return 0
	}
	if args[0] != "send" {
		return unknownAction("notify", args[0])
	}
	return runRemote("notify send", args[1:], -1, func(pos []string) (command.Name, command.Payload, error) {
		if len(pos) == 0 {
			return "", nil, errors.New("a command name is required")
		}
		name, ok := command.Parse(pos[0])
		if !ok {
			return "", nil, fmt.Errorf("unknown command %q", pos[0])
		}
		payload, err := parsePayload(pos[1:])
		return name, payload, err
	})
}

// parsePayload turns key=value pairs into a payload. Values that parse as
// JSON keep their type; anything else is a string.
func parsePayload(pairs []string) (command.Payload, error) {
	payload := command.Payload{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			payload[key] = decoded
		} else {
			payload[key] = value
		}
	}
	return payload, nil
}

// --- watch ---

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	interval := fs.Duration("interval", time.Second, "Poll interval")
	if _, err := parseFlags(fs, args); err != nil {
		return 1
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	client := notify.NewClient(cfg.Notify.Listen, cfg.RPC.Timeout)
	if err := watch.Run(context.Background(), client, cfg.Notify.Listen, *interval); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// --- helpers ---

type payloadFunc func(positional []string) (command.Name, command.Payload, error)

// runRemote parses flags, builds a command with build and sends it to the
// running core. nargs is the exact positional count, or -1 for any.
func runRemote(use string, args []string, nargs int, build payloadFunc) int {
	return runRemoteWith(use, args, nargs, nil, build)
}

func runRemoteWith(use string, args []string, nargs int, extra func(*flag.FlagSet), build payloadFunc) int {
	fs := flag.NewFlagSet(use, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if extra != nil {
		extra(fs)
	}
	pos, err := parseFlags(fs, args)
	if err != nil {
		return 1
	}
	if nargs >= 0 && len(pos) != nargs {
		fmt.Fprintf(os.Stderr, "Usage: akl %s: expected %d argument(s), got %d\n", use, nargs, len(pos))
		return 1
	}
	name, payload, err := build(pos)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if err := sendCommand(context.Background(), cfg, name, payload); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reach core at %s: %v\n", cfg.Notify.Listen, err)
		return 1
	}
	fmt.Printf("Sent %s\n", name)
	return 0
}

// runTargetCommand sends name for one collection or ROM id, with an
// optional flag naming the addon or binding to use.
func runTargetCommand(use string, args []string, name command.Name, targetKey, flagName, flagKey string) int {
	var choice string
	return runRemoteWith(use, args, 1, func(fs *flag.FlagSet) {
		fs.StringVar(&choice, flagName, "", "Use this "+flagName+" instead of prompting")
	}, func(pos []string) (command.Name, command.Payload, error) {
		payload := command.Payload{targetKey: pos[0]}
		if choice != "" {
			payload[flagKey] = choice
		}
		return name, payload, nil
	})
}

// sendCommand delivers a command notification to the core's receiver.
func sendCommand(ctx context.Context, cfg *config.Config, name command.Name, payload command.Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	client := notify.NewClient(cfg.Notify.Listen, cfg.RPC.Timeout)
	return client.Broadcast(ctx, notify.Notification{
		Sender: cfg.Service.AppID,
		Method: name.Method(),
		Data:   data,
	})
}

func withStore(configPath string, fn func(ctx context.Context, sess *storage.Session) error) int {
	return openStoreAnd(configPath, func(ctx context.Context, st *storage.Store) error {
		return st.View(ctx, func(sess *storage.Session) error { return fn(ctx, sess) })
	})
}

func withStoreUpdate(configPath string, fn func(ctx context.Context, sess *storage.Session) error) int {
	return openStoreAnd(configPath, func(ctx context.Context, st *storage.Store) error {
		return st.Update(ctx, func(sess *storage.Session) error { return fn(ctx, sess) })
	})
}

func openStoreAnd(configPath string, fn func(ctx context.Context, st *storage.Store) error) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	ctx := context.Background()
	db, _, err := storage.EnsureStore(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		return 1
	}
	st := storage.New(db)
	defer func() { _ = st.Close() }()

	if err := fn(ctx, st); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Not found: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func printNounHelp(noun string, actions ...string) {
	fmt.Printf("Usage: akl %s <action> [flags]\n\nActions:\n", noun)
	for _, a := range actions {
		fmt.Printf("  %s %s\n", noun, a)
	}
}

func unknownAction(noun, action string) int {
	fmt.Fprintf(os.Stderr, "Unknown %s action: %s\n", noun, action)
	return 1
}
