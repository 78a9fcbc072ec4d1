// Package cli implements the command-line surface of the sync client: one-off
// sync cycles, queue inspection, conflict handling and basic inventory edits.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ivolkov/shelfsync/internal/client/config"
	"github.com/ivolkov/shelfsync/internal/client/models"
	"github.com/ivolkov/shelfsync/internal/client/netmon"
	"github.com/ivolkov/shelfsync/internal/client/remote"
	"github.com/ivolkov/shelfsync/internal/client/store"
	"github.com/ivolkov/shelfsync/internal/client/sync"
	"github.com/ivolkov/shelfsync/internal/filex"
	"github.com/ivolkov/shelfsync/internal/logging"
)

const usage = `usage: client <command> [args]

commands:
  sync                      run one sync cycle
  watch                     sync periodically until interrupted
  status                    show queue statistics
  conflicts                 list unresolved conflicts
  resolve <id> [local|remote]  resolve one conflict (automatic when no side given)
  resolve all               auto-resolve every pending conflict
  retry                     re-queue failed events
  cleanup                   remove old synced events, mappings and conflicts
  reset <reason>            drop the offline queue and watermarks (unsynced work is lost)
  add-item <name> [qty]     create an item
  move-item <id> <container>  move an item into a container
  attach-photo <id> <file>  attach a photo to an item
`

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	store   *store.Store
	service *sync.Service
	monitor *netmon.ManualMonitor
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	sl := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger := logging.NewSlogLogger(sl)

	// A bare filename goes into ./data; explicit paths are used as-is.
	dbPath := cfg.DatabaseFile
	if filepath.Dir(dbPath) == "." {
		dir, err := filex.EnsureSubDir("data")
		if err != nil {
			return nil, err
		}
		dbPath = filepath.Join(dir, dbPath)
	}

	db, err := store.InitDatabase(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rs := remote.NewHTTPClient(cfg.ServerEndpointAddr, cfg.AuthToken, cfg.SyncTimeout)

	// The CLI runs on demand; connectivity failures surface as transient
	// remote errors rather than through a platform reachability sensor.
	monitor := netmon.NewManualMonitor()
	monitor.Set(netmon.Status{IsOnline: true, IsInternetReachable: true, ConnectionType: "cli"})

	svc := sync.NewService(db, rs, monitor, logger, sync.Config{
		BatchSize:  cfg.BatchSize,
		MaxRetries: cfg.MaxRetries,
		Timeout:    cfg.SyncTimeout,
	})

	return &App{
		config:  cfg,
		logger:  logger,
		db:      db,
		store:   store.New(db, logger),
		service: svc,
		monitor: monitor,
	}, nil
}

func (app *App) Close() error {
	return app.db.Close()
}

// nonFlagArgs strips "-flag value" pairs so the subcommand and its positional
// arguments remain.
func nonFlagArgs(args []string) []string {
	var result []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			if !strings.Contains(args[i], "=") {
				i++ // skip the flag's value
			}
			continue
		}
		result = append(result, args[i])
	}
	return result
}

func (app *App) Run(ctx context.Context) error {
	args := nonFlagArgs(os.Args[1:])
	if len(args) == 0 {
		fmt.Print(usage)
		return nil
	}

	switch args[0] {
	case "sync":
		return app.runSync(ctx)
	case "watch":
		return app.runWatch(ctx)
	case "status":
		return app.runStatus(ctx)
	case "conflicts":
		return app.runConflicts(ctx)
	case "resolve":
		return app.runResolve(ctx, args[1:])
	case "retry":
		return app.runRetry(ctx)
	case "cleanup":
		return app.runCleanup(ctx)
	case "reset":
		return app.runReset(ctx, args[1:])
	case "add-item":
		return app.runAddItem(ctx, args[1:])
	case "move-item":
		return app.runMoveItem(ctx, args[1:])
	case "attach-photo":
		return app.runAttachPhoto(ctx, args[1:])
	default:
		fmt.Print(usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (app *App) runSync(ctx context.Context) error {
	result, err := app.service.Sync(ctx)
	if err != nil {
		return err
	}
	if result.Coalesced {
		fmt.Println("another sync was already running")
		return nil
	}

	fmt.Printf("pulled %d, pushed %d, failed %d, deferred %d\n",
		result.Pulled, result.SyncedEvents, result.FailedEvents, result.SkippedEvents)
	if result.ConflictsCreated > 0 || result.ConflictsResolved > 0 {
		fmt.Printf("conflicts: %d new, %d auto-resolved, %d need manual resolution\n",
			result.ConflictsCreated, result.ConflictsResolved, result.ConflictsManual)
	}
	if result.BlobsUploaded > 0 {
		fmt.Printf("uploaded %d photo(s)\n", result.BlobsUploaded)
	}
	return nil
}

func (app *App) runWatch(ctx context.Context) error {
	scheduler := sync.NewScheduler(app.service, app.monitor, app.config.SyncInterval, app.logger)
	scheduler.Run(ctx)
	return nil
}

func (app *App) runStatus(ctx context.Context) error {
	stats, err := app.service.QueueStats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("state: %s\n", app.service.State())
	for _, status := range []models.EventStatus{
		models.EventStatusPending, models.EventStatusSyncing, models.EventStatusSynced,
		models.EventStatusFailed, models.EventStatusConflicted,
	} {
		if n := stats[status]; n > 0 {
			fmt.Printf("  %-11s %d\n", status, n)
		}
	}
	return nil
}

func (app *App) runConflicts(ctx context.Context) error {
	pending, err := app.service.UnresolvedConflicts(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("no unresolved conflicts")
		return nil
	}
	for _, c := range pending {
		fmt.Printf("%s  %-13s %s/%s  local %s vs remote %s\n",
			c.ID, c.Type, c.EntityType, c.EntityID,
			c.LocalTimestamp.Format(time.RFC3339), c.RemoteTimestamp.Format(time.RFC3339))
	}
	return nil
}

func (app *App) runResolve(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: resolve <id> [local|remote] | resolve all")
	}

	if args[0] == "all" {
		resolved, manual, err := app.service.ResolveAllConflicts(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("resolved %d automatically, %d need manual resolution\n", resolved, manual)
		return nil
	}

	if len(args) > 1 {
		var choice models.Resolution
		switch args[1] {
		case "local":
			choice = models.ResolutionLocalWins
		case "remote":
			choice = models.ResolutionRemoteWins
		default:
			return fmt.Errorf("side must be local or remote, got %q", args[1])
		}
		if err := app.service.ApplyManualResolution(ctx, args[0], choice); err != nil {
			return err
		}
		fmt.Printf("conflict %s resolved: %s\n", args[0], choice)
		return nil
	}

	outcome, err := app.service.ResolveConflict(ctx, args[0])
	if err != nil {
		return err
	}
	if outcome.Manual {
		fmt.Printf("conflict %s needs manual resolution: resolve %s local|remote\n", args[0], args[0])
		return nil
	}
	fmt.Printf("conflict %s resolved: %s\n", args[0], outcome.Resolution)
	return nil
}

func (app *App) runRetry(ctx context.Context) error {
	n, err := app.service.RetryFailed(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("re-queued %d failed event(s)\n", n)
	return nil
}

func (app *App) runCleanup(ctx context.Context) error {
	retention := time.Duration(app.config.RetentionDays) * 24 * time.Hour
	stats, err := app.service.Cleanup(ctx, retention)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d events, %d mappings, %d conflicts\n", stats.Events, stats.Mappings, stats.Conflicts)
	return nil
}

func (app *App) runReset(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: reset <reason>")
	}
	if err := app.service.Reset(ctx, strings.Join(args, " ")); err != nil {
		return err
	}
	fmt.Println("offline queue and watermarks cleared; next sync re-pulls everything")
	return nil
}

func (app *App) runAddItem(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: add-item <name> [qty]")
	}
	quantity := 1
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid quantity %q", args[1])
		}
		quantity = n
	}

	item := &models.Item{Name: args[0], Quantity: quantity}
	if err := app.store.Create(ctx, item); err != nil {
		return err
	}
	fmt.Printf("created item %s (syncs on next cycle)\n", item.EntityID())
	return nil
}

func (app *App) runMoveItem(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: move-item <id> <container>")
	}
	err := app.store.Move(ctx, models.EntityTypeItem, args[0], models.MovePayload{ContainerID: args[1]})
	if err != nil {
		return err
	}
	fmt.Printf("moved item %s into %s\n", args[0], args[1])
	return nil
}

func (app *App) runAttachPhoto(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: attach-photo <id> <file>")
	}
	data, err := filex.ReadFile(args[1])
	if err != nil {
		return err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(args[1]))
	blobID, err := app.store.AttachPhoto(ctx, args[0], data, mimeType)
	if err != nil {
		return err
	}
	fmt.Printf("photo %s attached (uploads on next sync)\n", blobID)
	return nil
}
