// Package config loads daemon configuration with viper. The daemon runs
// with zero configuration: a missing config file yields working defaults
// under ~/.config/nautilus.
package config

import (
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/ricardoborges/nautilus/internal/errors"
)

const (
	// ConfigDirName is the per-user state directory under ~/.config.
	ConfigDirName = "nautilus"
	// ConfigFileName is the config file inside the state directory.
	ConfigFileName = "config.yaml"
)

// Config is the daemon configuration.
type Config struct {
	// Listen is the HTTP listen address. Must resolve to loopback.
	Listen string `mapstructure:"listen"`

	// DataDir holds the connection registry and the vault.
	DataDir string `mapstructure:"data_dir"`

	// ConnectionsFile, VaultFile, and VaultKeyFile default to paths
	// inside DataDir when left empty.
	ConnectionsFile string `mapstructure:"connections_file"`
	VaultFile       string `mapstructure:"vault_file"`
	VaultKeyFile    string `mapstructure:"vault_key_file"`

	// StrictHostKey verifies SSH host keys against ~/.ssh/known_hosts.
	StrictHostKey bool `mapstructure:"strict_host_key"`

	// DialTimeout bounds SSH dials and handshakes.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// RDPClient is the local RDP client binary for rdp.launch.
	RDPClient string `mapstructure:"rdp_client"`

	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// MetricsConfig tunes the metrics poller.
type MetricsConfig struct {
	// Interval is the poll cadence.
	Interval time.Duration `mapstructure:"interval"`
	// Services lists systemd units reported with every sample.
	Services []string `mapstructure:"services"`
}

// LogConfig tunes daemon logging.
type LogConfig struct {
	// Level is a zerolog level name: debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Pretty switches from JSON to human-readable console output.
	Pretty bool `mapstructure:"pretty"`
}

// DefaultConfig returns the zero-configuration defaults.
func DefaultConfig() *Config {
	dataDir := filepath.Join(homeDir(), ".config", ConfigDirName)
	return &Config{
		Listen:        "127.0.0.1:9610",
		DataDir:       dataDir,
		StrictHostKey: true,
		DialTimeout:   10 * time.Second,
		RDPClient:     "xfreerdp",
		Metrics: MetricsConfig{
			Interval: 2 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(homeDir(), ".config", ConfigDirName, ConfigFileName)
}

// Load reads the config file at path, or the default location when path is
// empty. A missing file is not an error unless the path was explicit.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			if explicit {
				return nil, errors.WrapWithCode(err, errors.ErrConfig,
					"config file not found: "+path)
			}
			cfg := DefaultConfig()
			cfg.applyDerivedPaths()
			return cfg, cfg.validate()
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"cannot read config file "+path)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"invalid config format in "+path)
	}

	cfg.applyDerivedPaths()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("listen", def.Listen)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("strict_host_key", def.StrictHostKey)
	v.SetDefault("dial_timeout", def.DialTimeout.String())
	v.SetDefault("rdp_client", def.RDPClient)
	v.SetDefault("metrics.interval", def.Metrics.Interval.String())
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.pretty", def.Log.Pretty)
}

// applyDerivedPaths fills the storage paths from DataDir when unset.
func (c *Config) applyDerivedPaths() {
	if c.ConnectionsFile == "" {
		c.ConnectionsFile = filepath.Join(c.DataDir, "connections.yaml")
	}
	if c.VaultFile == "" {
		c.VaultFile = filepath.Join(c.DataDir, "vault.yaml")
	}
	if c.VaultKeyFile == "" {
		c.VaultKeyFile = filepath.Join(c.DataDir, "vault.key")
	}
}

func (c *Config) validate() error {
	host, _, err := net.SplitHostPort(c.Listen)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"listen address must be host:port")
	}
	if !isLoopbackHost(host) {
		return errors.NewWithSuggestion(errors.ErrConfig,
			"listen address must be a loopback interface",
			"Use 127.0.0.1, ::1, or localhost; the daemon is not meant to face the network")
	}
	if c.DialTimeout <= 0 {
		return errors.New(errors.ErrConfig, "dial_timeout must be positive")
	}
	if c.Metrics.Interval < 500*time.Millisecond {
		return errors.New(errors.ErrConfig, "metrics.interval must be at least 500ms")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.New(errors.ErrConfig,
			"log.level must be debug, info, warn, or error")
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
