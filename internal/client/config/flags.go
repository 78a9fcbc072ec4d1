package config

import (
	"flag"
	"os"
	"time"

	"github.com/ivolkov/shelfsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the sync API (default from Config)
//	-f string   local database file (default from Config)
//	-t string   bearer token for the sync API
//	-i int      background sync interval in seconds (default from Config)
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	// Filter args to include only those handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-f", "-t", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "base URL of the sync API")
	fs.StringVar(&cfg.DatabaseFile, "f", cfg.DatabaseFile, "local database file")
	fs.StringVar(&cfg.AuthToken, "t", cfg.AuthToken, "bearer token for the sync API")
	syncInterval := fs.Int("i", int(cfg.SyncInterval.Seconds()), "background sync interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.SyncInterval = time.Duration(*syncInterval) * time.Second
}
