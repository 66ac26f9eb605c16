package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mattjoyce/akl/internal/addon"
	"github.com/mattjoyce/akl/internal/doctor"
	"github.com/mattjoyce/akl/internal/log"
	"github.com/mattjoyce/akl/internal/storage"
)

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if _, err := parseFlags(fs, args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}

	registry, err := addon.Discover(cfg.AddonRoots, log.WithComponent("discovery"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Addon discovery failed: %v\n", err)
		return 1
	}

	// A missing store is fine here; the core creates it on start.
	var registered []storage.Addon
	if _, err := os.Stat(cfg.State.Path); err == nil {
		ctx := context.Background()
		db, err := storage.OpenSQLite(ctx, cfg.State.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
			return 1
		}
		st := storage.New(db)
		err = st.View(ctx, func(sess *storage.Session) error {
			registered, err = sess.Addons().List(ctx, "")
			return err
		})
		_ = st.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read addons: %v\n", err)
			return 1
		}
	}

	result := doctor.New(cfg, registry, registered).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}
