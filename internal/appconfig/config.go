// Package appconfig loads the TOML configuration shared by every
// service/driver binary in this repository: log level, state
// directory, and metrics/tracing endpoints.
//
// Grounded on the TOML-based configuration katautils loads for the
// runtime (github.com/BurntSushi/toml), narrowed to the handful of
// settings a driver or service process actually needs.
package appconfig

import (
	"github.com/BurntSushi/toml"
)

// Config is the shape every daemon's config.toml is decoded into.
type Config struct {
	LogLevel     string `toml:"log_level"`
	StateDir     string `toml:"state_dir"`
	MetricsAddr  string `toml:"metrics_addr"`
	TracingAddr  string `toml:"tracing_addr"`
	DriverManagerPort uint32 `toml:"driver_manager_port"`
}

// Default returns the configuration used when no config file is
// supplied.
func Default() Config {
	return Config{
		LogLevel:          "info",
		StateDir:          "/run/scarlett",
		DriverManagerPort: 100,
	}
}

// Load decodes path into a Config seeded with Default's values, so a
// config file only needs to override what it cares about.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
