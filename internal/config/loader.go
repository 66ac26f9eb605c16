package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configuration from configPath, applies defaults and AKL_*
// environment overrides, and validates the result. An empty configPath yields
// the defaults plus environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}

		info, err := os.Stat(absPath)
		if err != nil {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}
		if info.IsDir() {
			absPath = filepath.Join(absPath, "config.yaml")
		}

		fileCfg, err := loadConfigFile(absPath)
		if err != nil {
			return nil, err
		}
		cfg = applyConfigDefaults(fileCfg)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $AKL_CONFIG, ~/.config/akl/config.yaml, ./config.yaml.
// Returns "" when none exists; Load then falls back to defaults.
func DiscoverConfigPath() string {
	if p := os.Getenv("AKL_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(homeDir, ".config", "akl", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

// loadConfigFile loads and parses a single config file.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Apply environment variable interpolation
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.AppID == "" {
		cfg.Service.AppID = defaults.Service.AppID
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.PollInterval == 0 {
		cfg.Service.PollInterval = defaults.Service.PollInterval
	}
	if cfg.Service.QueueSize == 0 {
		cfg.Service.QueueSize = defaults.Service.QueueSize
	}

	if cfg.RPC.Host == "" {
		cfg.RPC.Host = defaults.RPC.Host
	}
	if cfg.RPC.Port == 0 {
		cfg.RPC.Port = defaults.RPC.Port
	}
	if cfg.RPC.Timeout == 0 {
		cfg.RPC.Timeout = defaults.RPC.Timeout
	}

	if cfg.Notify.Listen == "" {
		cfg.Notify.Listen = defaults.Notify.Listen
	}
	if cfg.Notify.MaxBodySize == 0 {
		cfg.Notify.MaxBodySize = defaults.Notify.MaxBodySize
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.Views.Dir == "" {
		cfg.Views.Dir = defaults.Views.Dir
	}
	if len(cfg.AddonRoots) == 0 {
		cfg.AddonRoots = defaults.AddonRoots
	}
	if cfg.Addons == nil {
		cfg.Addons = make(map[string]AddonConf)
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Service.AppID) == "" {
		return fmt.Errorf("service.app_id is required")
	}
	if cfg.Service.PollInterval <= 0 {
		return fmt.Errorf("service.poll_interval must be positive")
	}
	if cfg.Service.QueueSize <= 0 {
		return fmt.Errorf("service.queue_size must be positive")
	}
	if cfg.Service.HelperTimeout < 0 {
		return fmt.Errorf("service.helper_timeout must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	// The RPC boundary has no authentication, so it must never leave the host.
	if !isLoopback(cfg.RPC.Host) {
		return fmt.Errorf("rpc.host must be a loopback address (got %q)", cfg.RPC.Host)
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port out of range: %d", cfg.RPC.Port)
	}
	if cfg.RPC.Timeout <= 0 {
		return fmt.Errorf("rpc.timeout must be positive")
	}

	host, _, err := net.SplitHostPort(cfg.Notify.Listen)
	if err != nil {
		return fmt.Errorf("notify.listen: %w", err)
	}
	if !isLoopback(host) {
		return fmt.Errorf("notify.listen must be a loopback address (got %q)", cfg.Notify.Listen)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if len(cfg.AddonRoots) == 0 {
		return fmt.Errorf("addon_roots must list at least one directory")
	}
	for i, root := range cfg.AddonRoots {
		if envVarPattern.MatchString(root) {
			matches := envVarPattern.FindStringSubmatch(root)
			return fmt.Errorf("addon_roots[%d]: environment variable ${%s} is not set", i, matches[1])
		}
	}

	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
