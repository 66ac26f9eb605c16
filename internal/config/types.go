package config

import (
	"net"
	"strconv"
	"time"
)

// Config represents the complete akl core configuration.
type Config struct {
	Service    ServiceConfig        `yaml:"service"`
	RPC        RPCConfig            `yaml:"rpc"`
	Notify     NotifyConfig         `yaml:"notify"`
	State      StateConfig          `yaml:"state"`
	Views      ViewsConfig          `yaml:"views"`
	AddonRoots []string             `yaml:"addon_roots" env:"AKL_ADDON_ROOTS" envSeparator:","`
	Addons     map[string]AddonConf `yaml:"addons,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	// AppID is both the notification sender id the listener accepts and the
	// sender id used for asynchronous dispatch.
	AppID        string        `yaml:"app_id" env:"AKL_APP_ID"`
	LogLevel     string        `yaml:"log_level" env:"AKL_LOG_LEVEL"`
	PollInterval time.Duration `yaml:"poll_interval" env:"AKL_POLL_INTERVAL"`
	QueueSize    int           `yaml:"queue_size" env:"AKL_QUEUE_SIZE"`
	// HelperTimeout bounds one helper process run. Zero keeps the built-in
	// default.
	HelperTimeout time.Duration `yaml:"helper_timeout" env:"AKL_HELPER_TIMEOUT"`
	// Interactive enables terminal prompts. When false, prompts resolve to
	// their default answer and notifications go to the log only.
	Interactive bool `yaml:"interactive" env:"AKL_INTERACTIVE"`
}

// RPCConfig defines the loopback RPC server address used by helper processes.
type RPCConfig struct {
	Host    string        `yaml:"host" env:"AKL_RPC_HOST"`
	Port    int           `yaml:"port" env:"AKL_RPC_PORT"`
	Timeout time.Duration `yaml:"timeout" env:"AKL_RPC_TIMEOUT"`
}

// Address returns host:port for the RPC server.
func (r RPCConfig) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// NotifyConfig defines the loopback notification receiver.
type NotifyConfig struct {
	Listen      string `yaml:"listen" env:"AKL_NOTIFY_LISTEN"`
	MaxBodySize int64  `yaml:"max_body_size" env:"AKL_NOTIFY_MAX_BODY_SIZE"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path" env:"AKL_STATE_PATH"`
}

// ViewsConfig defines where rebuilt listing views are written.
type ViewsConfig struct {
	Dir string `yaml:"dir" env:"AKL_VIEWS_DIR"`
}

// AddonConf holds per-addon overrides keyed by addon id.
type AddonConf struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// AddonEnabled reports whether the operator has left addon id enabled.
// Addons without an entry are enabled.
func (c *Config) AddonEnabled(id string) bool {
	conf, ok := c.Addons[id]
	if !ok || conf.Enabled == nil {
		return true
	}
	return *conf.Enabled
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			AppID:        "plugin.program.akl",
			LogLevel:     "info",
			PollInterval: 500 * time.Millisecond,
			QueueSize:    256,
		},
		RPC: RPCConfig{
			Host:    "127.0.0.1",
			Port:    57366,
			Timeout: 5 * time.Second,
		},
		Notify: NotifyConfig{
			Listen:      "127.0.0.1:57367",
			MaxBodySize: 1 << 20,
		},
		State: StateConfig{
			Path: "./data/akl.db",
		},
		Views: ViewsConfig{
			Dir: "./data/views",
		},
		AddonRoots: []string{"./addons"},
		Addons:     make(map[string]AddonConf),
	}
}
