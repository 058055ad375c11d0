package config

import (
	"flag"
	"os"
	"time"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   path of the local sqlite database file
//	-r string   Postgres DSN of the remote store
//	-i int      online check interval in seconds
//	-s int      autosave interval in seconds
//	-m int      minimum answered fields before autosave fires
//	-n int      sync attempts per record before giving up
//	-b string   directory for last-resort draft snapshots
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-r", "-i", "-s", "-m", "-n", "-b"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.LocalDBPath, "d", cfg.LocalDBPath, "path of the local database file")
	fs.StringVar(&cfg.RemoteDSN, "r", cfg.RemoteDSN, "Postgres DSN of the remote store")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	autosaveInterval := fs.Int("s", int(cfg.AutosaveInterval.Seconds()), "autosave interval (in seconds)")
	fs.IntVar(&cfg.MinAutosaveFields, "m", cfg.MinAutosaveFields, "minimum answered fields before autosave")
	fs.IntVar(&cfg.SyncMaxAttempts, "n", cfg.SyncMaxAttempts, "sync attempts per record")
	fs.StringVar(&cfg.BackupDir, "b", cfg.BackupDir, "directory for draft snapshots")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
	cfg.AutosaveInterval = time.Duration(*autosaveInterval) * time.Second
}
