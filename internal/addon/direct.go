package addon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/mattjoyce/akl/internal/log"
	"github.com/mattjoyce/akl/internal/rpc"
	"github.com/mattjoyce/akl/internal/storage"
)

// DirectLauncherID is the addon id of the builtin direct launcher.
const DirectLauncherID = "akl.launcher.direct"

// DirectSettings are the launcher settings the direct launcher understands.
// Args may reference ${file}, ${rom_id} and ${name}.
type DirectSettings struct {
	Application string   `json:"application"`
	Args        []string `json:"args,omitempty"`
	WorkingDir  string   `json:"working_dir,omitempty"`
}

// Validate checks the settings are usable.
func (s DirectSettings) Validate() error {
	if strings.TrimSpace(s.Application) == "" {
		return fmt.Errorf("application is required")
	}
	return nil
}

//go:generate mockgen -destination=mocks/mock_rpc_client.go -package=mocks github.com/mattjoyce/akl/internal/addon RPCClient

// RPCClient is the part of rpc.Client the direct launcher uses.
type RPCClient interface {
	ROM(ctx context.Context, id string) (*rpc.ROM, error)
	ROMLauncherSettings(ctx context.Context, romID, launcherID string) (json.RawMessage, error)
	StoreLauncher(ctx context.Context, req rpc.StoreLauncherRequest) error
}

// DirectLauncher is the builtin launcher. It configures and launches without a
// helper process, talking to the RPC server itself and starting the
// configured application directly.
type DirectLauncher struct {
	addon     storage.Addon
	newClient func(host string, port int) RPCClient
	start     func(cmd *exec.Cmd) error
	logger    *slog.Logger
}

// NewDirectLauncher creates the direct launcher for its addon record.
// Applications it starts belong to the user and are never waited on at
// shutdown.
func NewDirectLauncher(a storage.Addon) *DirectLauncher {
	return &DirectLauncher{
		addon: a,
		newClient: func(host string, port int) RPCClient {
			return rpc.NewClient(host, port, 5*time.Second)
		},
		start:  func(cmd *exec.Cmd) error { return cmd.Start() },
		logger: log.WithAddon(a.AddonID),
	}
}

// Kind returns LAUNCHER.
func (l *DirectLauncher) Kind() storage.AddonKind { return storage.KindLauncher }

// Invoke handles configure and launch.
func (l *DirectLauncher) Invoke(ctx context.Context, d Descriptor) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid descriptor: %w", err)
	}
	client := l.newClient(d.ServerHost, d.ServerPort)
	switch d.Verb {
	case VerbConfigure:
		return l.configure(ctx, client, d)
	case VerbLaunch:
		return l.launch(ctx, client, d)
	default:
		return fmt.Errorf("direct launcher does not support %q", d.Verb)
	}
}

func (l *DirectLauncher) configure(ctx context.Context, client RPCClient, d Descriptor) error {
	if len(d.Settings) == 0 {
		return fmt.Errorf("direct launcher needs settings with an application")
	}
	var s DirectSettings
	if err := json.Unmarshal(d.Settings, &s); err != nil {
		return fmt.Errorf("decode direct launcher settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	return client.StoreLauncher(ctx, rpc.StoreLauncherRequest{
		ROMCollectionID: d.ROMCollectionID,
		ROMID:           d.ROMID,
		LauncherID:      d.LauncherID,
		AklAddonID:      d.AklAddonID,
		AddonID:         l.addon.AddonID,
		Settings:        d.Settings,
	})
}

func (l *DirectLauncher) launch(ctx context.Context, client RPCClient, d Descriptor) error {
	raw, err := client.ROMLauncherSettings(ctx, d.ROMID, d.LauncherID)
	if err != nil {
		return fmt.Errorf("read launcher settings: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("rom %s has no launcher %s", d.ROMID, d.LauncherID)
	}
	var s DirectSettings
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("decode direct launcher settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return err
	}

	rom, err := client.ROM(ctx, d.ROMID)
	if err != nil {
		return fmt.Errorf("read rom: %w", err)
	}
	file, _ := rom.ScannedData["file"].(string)
	expand := strings.NewReplacer("${file}", file, "${rom_id}", rom.ID, "${name}", rom.Name)
	args := make([]string, 0, len(s.Args))
	for _, a := range s.Args {
		args = append(args, expand.Replace(a))
	}

	cmd := exec.Command(s.Application, args...)
	cmd.Dir = s.WorkingDir
	if err := l.start(cmd); err != nil {
		return fmt.Errorf("start %s: %w", s.Application, err)
	}
	l.logger.Info("application started", "rom", rom.ID, "application", s.Application)

	if cmd.Process != nil {
		go func() {
			err := cmd.Wait()
			var exitErr *exec.ExitError
			switch {
			case err == nil:
				l.logger.Info("application exited", "rom", rom.ID)
			case errors.As(err, &exitErr):
				l.logger.Warn("application exited with error", "rom", rom.ID, "exit_code", exitErr.ExitCode())
			default:
				l.logger.Error("application wait failed", "rom", rom.ID, "error", err)
			}
		}()
	}
	return nil
}
