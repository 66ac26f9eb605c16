package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/akl/internal/config"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "addon":
		return runAddonNoun(args)
	case "collection":
		return runCollectionNoun(args)
	case "rom":
		return runROMNoun(args)
	case "notify":
		return runNotifyNoun(args)

	// --- VERBS ---
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "doctor":
		return runDoctor(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `akl - ROM launcher core

Usage:
  akl <noun> <action> [flags]

Core:
  start                      Run the core in the foreground
  watch                      Live view of notification traffic
  doctor [--json]            Check configuration and installed addons

Addon Commands:
  addon list                 Show registered addons
  addon discover             Ask the core to rediscover addons
  addon remove <id>          Ask the core to remove an addon

Collection Commands:
  collection add --name N    Create a ROM collection
  collection list            Show collections
  collection scan <id>       Scan a collection for ROMs
  collection scrape <id>     Scrape metadata for every ROM in a collection
  collection add-launcher <id>
  collection add-scanner <id>
  collection edit-launcher <id>

ROM Commands:
  rom list <collection-id>   Show the ROMs in a collection
  rom inspect <id>           Show a ROM with its collections and launchers
  rom launch <id>            Launch a ROM
  rom scrape <id>            Scrape metadata for one ROM

Notify Commands:
  notify send <COMMAND> [key=value ...]
                             Send a raw command notification to the core

General:
  version [--json]           Show version information
  help                       Show this help message

Most commands take --config PATH. Without it the config is discovered from
$AKL_CONFIG, ~/.config/akl/config.yaml or ./config.yaml.
`)
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: akl version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		return printJSON(info)
	}

	fmt.Printf("akl %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// loadConfig loads configPath, or the discovered config when it is empty.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		configPath = config.DiscoverConfigPath()
	}
	return config.Load(configPath)
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

// parseFlags parses args allowing flags after positional arguments.
func parseFlags(fs *flag.FlagSet, args []string) ([]string, error) {
	fs.SetOutput(os.Stderr)
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}
