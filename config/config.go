/*
Package config provides server configuration and runtime settings.

PURPOSE:
  Two layers of configuration with different lifecycles:

  1. Server config (this file): port, database path, CORS origins,
     scheduler cadence. Read once at startup from flags and an
     optional TOML file.
  2. Runtime settings (settings.go): business knobs the admin can
     change while the server runs - coin expiry days, cancellation
     deadline hours, check-in reward size. Read through the Settings
     type backed by the settings table, with defaults.

FILE FORMAT:
  TOML, decoded over DefaultConfig() so a partial file only overrides
  what it mentions:

    [server]
    port = 8080
    db_path = "./data/forgefit.db"

    [scheduler]
    expansion_enabled = true
*/
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the startup configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

type ServerConfig struct {
	Port        int      `toml:"port"`
	DBPath      string   `toml:"db_path"`
	CORSOrigins []string `toml:"cors_origins"`
}

type SchedulerConfig struct {
	// ExpansionEnabled controls the background monthly expansion run.
	// Manual runs through the admin API work either way.
	ExpansionEnabled bool `toml:"expansion_enabled"`
	// CheckIntervalMinutes is how often the scheduler wakes to see if
	// work is due (monthly expansion, expiry sweep).
	CheckIntervalMinutes int `toml:"check_interval_minutes"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:        8080,
			DBPath:      "forgefit.db",
			CORSOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Scheduler: SchedulerConfig{
			ExpansionEnabled:     true,
			CheckIntervalMinutes: 60,
		},
	}
}

// Load reads a TOML file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, fmt.Errorf("config file %s does not exist", path)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}
