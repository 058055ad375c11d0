package config

import (
	"os"
	"time"
)

// Config holds the runtime settings of the intake agent.
//
// Units: all intervals are time.Duration values.
type Config struct {
	// LocalDBPath is the sqlite file backing the embedded store.
	LocalDBPath string
	// RemoteDSN is the Postgres connection string of the hosted store.
	// Credentials travel inside the DSN.
	RemoteDSN string
	// Passphrase derives the field-encryption key. Left empty, the agent
	// prompts for it on startup. Read from MIA_PASSPHRASE only; it never
	// appears on the command line.
	Passphrase string

	AutosaveInterval  time.Duration
	AutosaveDebounce  time.Duration
	MinAutosaveFields int

	OnlineCheckInterval time.Duration
	SyncMaxAttempts     int
	SyncBaseDelay       time.Duration

	// BackupDir receives last-resort draft snapshots.
	BackupDir string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.LocalDBPath = "mia-forms.db"
	c.AutosaveInterval = 30 * time.Second
	c.AutosaveDebounce = 2 * time.Second
	c.MinAutosaveFields = 2
	c.OnlineCheckInterval = 3 * time.Second
	c.SyncMaxAttempts = 3
	c.SyncBaseDelay = 2 * time.Second
	c.BackupDir = "backups"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present), command-line flags and the environment. Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	parseEnv(cfg)
	return cfg
}

// parseEnv reads the secrets that must not travel via flags or JSON.
func parseEnv(cfg *Config) {
	if v, ok := os.LookupEnv("MIA_PASSPHRASE"); ok {
		cfg.Passphrase = v
	}
}
