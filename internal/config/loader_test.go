package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal config gets defaults",
			yaml: `
state:
  path: ./test.db
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "./test.db", cfg.State.Path)
				assert.Equal(t, "plugin.program.akl", cfg.Service.AppID)
				assert.Equal(t, 500*time.Millisecond, cfg.Service.PollInterval)
				assert.Equal(t, "127.0.0.1", cfg.RPC.Host)
				assert.Equal(t, 57366, cfg.RPC.Port)
				assert.Equal(t, []string{"./addons"}, cfg.AddonRoots)
			},
		},
		{
			name: "helper timeout",
			yaml: `
service:
  helper_timeout: 90s
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 90*time.Second, cfg.Service.HelperTimeout)
			},
		},
		{
			name: "negative helper timeout",
			yaml: `
service:
  helper_timeout: -1s
`,
			wantErr: "service.helper_timeout must not be negative",
		},
		{
			name: "env var interpolation",
			yaml: `
state:
  path: ${AKL_TEST_DB}
addon_roots:
  - ${AKL_TEST_ROOT}/addons
`,
			env: map[string]string{
				"AKL_TEST_DB":   "/tmp/akl.db",
				"AKL_TEST_ROOT": "/opt/akl",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/tmp/akl.db", cfg.State.Path)
				assert.Equal(t, []string{"/opt/akl/addons"}, cfg.AddonRoots)
			},
		},
		{
			name: "environment overrides file values",
			yaml: `
rpc:
  port: 6000
service:
  log_level: info
`,
			env: map[string]string{
				"AKL_RPC_PORT":  "7000",
				"AKL_LOG_LEVEL": "debug",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7000, cfg.RPC.Port)
				assert.Equal(t, "debug", cfg.Service.LogLevel)
			},
		},
		{
			name: "per-addon enable flags",
			yaml: `
addons:
  script.akl.retroarch:
    enabled: false
  script.akl.mame:
    enabled: true
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.AddonEnabled("script.akl.retroarch"))
				assert.True(t, cfg.AddonEnabled("script.akl.mame"))
				assert.True(t, cfg.AddonEnabled("script.akl.unlisted"))
			},
		},
		{
			name: "non-loopback rpc host rejected",
			yaml: `
rpc:
  host: 0.0.0.0
`,
			wantErr: "rpc.host must be a loopback address",
		},
		{
			name: "invalid log level rejected",
			yaml: `
service:
  log_level: chatty
`,
			wantErr: "service.log_level",
		},
		{
			name: "unresolved addon root rejected",
			yaml: `
addon_roots:
  - ${AKL_TEST_MISSING_ROOT}
`,
			wantErr: "AKL_TEST_MISSING_ROOT",
		},
		{
			name:    "malformed yaml",
			yaml:    "service: [unclosed",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(writeConfig(t, tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("AKL_RPC_HOST", "localhost")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.RPC.Host)
	assert.Equal(t, "localhost:57366", cfg.RPC.Address())
}

func TestLoadDirectoryLooksForConfigYAML(t *testing.T) {
	path := writeConfig(t, "views:\n  dir: /tmp/views\n")

	cfg, err := Load(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/views", cfg.Views.Dir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestDiscoverConfigPath(t *testing.T) {
	path := writeConfig(t, "")
	t.Setenv("AKL_CONFIG", path)
	assert.Equal(t, path, DiscoverConfigPath())
}
