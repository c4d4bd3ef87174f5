package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

const appDirName = "deathcounter"

// Backend names accepted by Runtime.Backend.
const (
	BackendFile    = "file"
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
)

// Runtime holds process settings for the daemon, read from the environment
// and overridable on the command line.
type Runtime struct {
	Host           string   `env:"DEATHCOUNTER_HOST" envDefault:"127.0.0.1"`
	Port           int      `env:"DEATHCOUNTER_PORT" envDefault:"8090"`
	DataDir        string   `env:"DEATHCOUNTER_DATA_DIR"`
	ConfigFile     string   `env:"DEATHCOUNTER_CONFIG"`
	Backend        string   `env:"DEATHCOUNTER_BACKEND" envDefault:"file"`
	AuthToken      string   `env:"DEATHCOUNTER_TOKEN"`
	AllowedOrigins []string `env:"DEATHCOUNTER_ALLOWED_ORIGINS" envSeparator:","`
}

// LoadRuntime parses Runtime from environment variables and fills in the
// default paths.
func LoadRuntime() (*Runtime, error) {
	var r Runtime
	if err := env.Parse(&r); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	r.applyDefaults()
	return &r, nil
}

// Validate checks settings that have no safe fallback.
func (r *Runtime) Validate() error {
	switch r.Backend {
	case BackendFile, BackendMemory, BackendLevelDB:
	default:
		return fmt.Errorf("unknown backend %q (want %s, %s or %s)", r.Backend, BackendFile, BackendMemory, BackendLevelDB)
	}
	if r.Port <= 0 || r.Port > 65535 {
		return fmt.Errorf("invalid port %d", r.Port)
	}
	return nil
}

// ConfigPath returns the SyncConfig file location.
func (r *Runtime) ConfigPath() string {
	if r.ConfigFile != "" {
		return r.ConfigFile
	}
	return filepath.Join(r.DataDir, "config.yaml")
}

func (r *Runtime) applyDefaults() {
	if r.DataDir == "" {
		r.DataDir = defaultDataDir()
	}
}

// defaultDataDir returns ~/.local/state/deathcounter, respecting
// XDG_STATE_HOME if set.
func defaultDataDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
