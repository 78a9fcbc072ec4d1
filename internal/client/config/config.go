package config

import "time"

// Config holds runtime settings for the sync client.
//
// Fields:
//   - ServerEndpointAddr: base URL of the sync API, e.g. http://127.0.0.1:8080.
//   - AuthToken: bearer token presented on every API call.
//   - DatabaseFile: path of the local sqlite database.
//   - SyncInterval: how often the background scheduler runs a cycle.
//   - SyncTimeout: upper bound for one cycle.
//   - BatchSize: queued events fetched per batch during push.
//   - MaxRetries: backoff retries per remote call.
//   - RetentionDays: age after which synced events, resolved conflicts and
//     unreferenced id mappings are cleaned up.
type Config struct {
	ServerEndpointAddr string
	AuthToken          string
	DatabaseFile       string
	SyncInterval       time.Duration
	SyncTimeout        time.Duration
	BatchSize          int
	MaxRetries         int
	RetentionDays      int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:8080"
	c.DatabaseFile = "shelfsync.db"
	c.SyncInterval = 30 * time.Second
	c.SyncTimeout = 2 * time.Minute
	c.BatchSize = 100
	c.MaxRetries = 3
	c.RetentionDays = 30
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
