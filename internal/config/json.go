package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/flagx"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "30s"
// or as integer nanoseconds. After parsing, set values are copied into the
// runtime Config.
type JsonConfig struct {
	LocalDBPath         string         `json:"local_db_path"`
	RemoteDSN           string         `json:"remote_dsn"`
	AutosaveInterval    timex.Duration `json:"autosave_interval"`
	AutosaveDebounce    timex.Duration `json:"autosave_debounce"`
	MinAutosaveFields   int            `json:"min_autosave_fields"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	SyncMaxAttempts     int            `json:"sync_max_attempts"`
	SyncBaseDelay       timex.Duration `json:"sync_base_delay"`
	BackupDir           string         `json:"backup_dir"`
}

// parseJson overlays Config with values loaded from a JSON file selected via
// the -c/-config flags. Only fields present in the JSON override the
// defaults. Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.LocalDBPath != "" {
		cfg.LocalDBPath = jc.LocalDBPath
	}
	if jc.RemoteDSN != "" {
		cfg.RemoteDSN = jc.RemoteDSN
	}
	if jc.AutosaveInterval.Duration != 0 {
		cfg.AutosaveInterval = time.Duration(jc.AutosaveInterval.Duration)
	}
	if jc.AutosaveDebounce.Duration != 0 {
		cfg.AutosaveDebounce = time.Duration(jc.AutosaveDebounce.Duration)
	}
	if jc.MinAutosaveFields != 0 {
		cfg.MinAutosaveFields = jc.MinAutosaveFields
	}
	if jc.OnlineCheckInterval.Duration != 0 {
		cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	}
	if jc.SyncMaxAttempts != 0 {
		cfg.SyncMaxAttempts = jc.SyncMaxAttempts
	}
	if jc.SyncBaseDelay.Duration != 0 {
		cfg.SyncBaseDelay = time.Duration(jc.SyncBaseDelay.Duration)
	}
	if jc.BackupDir != "" {
		cfg.BackupDir = jc.BackupDir
	}
}
