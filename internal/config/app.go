package config

import (
	"fmt"
	"time"

	toml "github.com/pelletier/go-toml"
)

// AppConfig is the process-level TOML configuration: where the proxy
// listens, where its admin surface lives, and system-wide timeouts. It
// is independent of the cluster topology (topology.go) — app.host/port
// drive the wire listener, everything else is parsed and retained but
// not a behavioral input to the core packet/session machinery.
type AppConfig struct {
	App     AppSection     `toml:"app"`
	Control ControlSection `toml:"control"`
	System  SystemSection  `toml:"system"`
}

// AppSection holds the MySQL-facing listener address.
type AppSection struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// ControlSection holds the introspection/API listener address and its
// optional bearer-token guard.
type ControlSection struct {
	AdminHost string `toml:"admin_host"`
	AdminPort int    `toml:"admin_port"`
	APIKey    string `toml:"api_key"`
}

// SystemSection holds process-wide timing knobs.
type SystemSection struct {
	Timeout       time.Duration `toml:"timeout"`
	MaxConnection int           `toml:"max_connection"`
}

// LoadApp reads and parses a TOML app config file, applying defaults
// for anything left unset.
func LoadApp(path string) (*AppConfig, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading app config file: %w", err)
	}

	cfg := &AppConfig{}
	if err := tree.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing app config file: %w", err)
	}

	applyAppDefaults(cfg)
	return cfg, nil
}

func applyAppDefaults(cfg *AppConfig) {
	if cfg.App.Host == "" {
		cfg.App.Host = "0.0.0.0"
	}
	if cfg.App.Port == 0 {
		cfg.App.Port = 3307
	}
	if cfg.Control.AdminHost == "" {
		cfg.Control.AdminHost = "127.0.0.1"
	}
	if cfg.Control.AdminPort == 0 {
		cfg.Control.AdminPort = 8080
	}
	if cfg.System.Timeout == 0 {
		cfg.System.Timeout = 30 * time.Second
	}
	if cfg.System.MaxConnection == 0 {
		cfg.System.MaxConnection = 2000
	}
}

// Addr returns the "host:port" listen address for the MySQL-facing
// wire engine.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.App.Host, a.App.Port)
}

// AdminAddr returns the "host:port" listen address for the control
// API.
func (a AppConfig) AdminAddr() string {
	return fmt.Sprintf("%s:%d", a.Control.AdminHost, a.Control.AdminPort)
}
