package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ivolkov/shelfsync/internal/flagx"
	"github.com/ivolkov/shelfsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "30s" or as integer nanoseconds. After parsing, values
// are copied into the runtime Config (which uses time.Duration).
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	AuthToken          string         `json:"auth_token"`
	DatabaseFile       string         `json:"database_file"`
	SyncInterval       timex.Duration `json:"sync_interval"`
	SyncTimeout        timex.Duration `json:"sync_timeout"`
	BatchSize          int            `json:"batch_size"`
	MaxRetries         int            `json:"max_retries"`
	RetentionDays      int            `json:"retention_days"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JsonConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Behavior:
//   - Reads and unmarshals the JSON into JsonConfig.
//   - Copies known fields into the provided Config.
//   - Panics on read or unmarshal errors (caller should recover if desired).
//
// Intended usage is: defaults -> parseJson -> parseFlags, where later stages
// override earlier ones.
func parseJson(cfg *Config) {
	// Resolve file path from flags.
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

	if jc.ServerEndpointAddr != "" {
		cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	}
	if jc.AuthToken != "" {
		cfg.AuthToken = jc.AuthToken
	}
	if jc.DatabaseFile != "" {
		cfg.DatabaseFile = jc.DatabaseFile
	}
	if jc.SyncInterval.Duration != 0 {
		cfg.SyncInterval = time.Duration(jc.SyncInterval.Duration)
	}
	if jc.SyncTimeout.Duration != 0 {
		cfg.SyncTimeout = time.Duration(jc.SyncTimeout.Duration)
	}
	if jc.BatchSize != 0 {
		cfg.BatchSize = jc.BatchSize
	}
	if jc.MaxRetries != 0 {
		cfg.MaxRetries = jc.MaxRetries
	}
	if jc.RetentionDays != 0 {
		cfg.RetentionDays = jc.RetentionDays
	}
}
