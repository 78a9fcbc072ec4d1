package sync

import (
	"context"
	"database/sql"
	"time"

	"github.com/ivolkov/shelfsync/internal/client/conflict"
	"github.com/ivolkov/shelfsync/internal/client/idmap"
	"github.com/ivolkov/shelfsync/internal/client/models"
	"github.com/ivolkov/shelfsync/internal/client/netmon"
	"github.com/ivolkov/shelfsync/internal/client/remote"
	"github.com/ivolkov/shelfsync/internal/client/repositories/conflicts"
	"github.com/ivolkov/shelfsync/internal/client/repositories/events"
	"github.com/ivolkov/shelfsync/internal/client/repositories/metadata"
	"github.com/ivolkov/shelfsync/internal/dbx"
	"github.com/ivolkov/shelfsync/internal/logging"
)

// Service is the surface the embedding application talks to: run a cycle,
// inspect the queue, work through conflicts, house-keep old records.
type Service struct {
	db       *sql.DB
	orch     *Orchestrator
	resolver *conflict.Resolver
	idmap    *idmap.Manager
	logger   logging.Logger
	now      func() time.Time
}

// NewService wires the orchestrator and its collaborators over one database.
func NewService(db *sql.DB, rs remote.Store, monitor netmon.Monitor, logger logging.Logger, cfg Config) *Service {
	return &Service{
		db:       db,
		orch:     NewOrchestrator(db, rs, monitor, logger, cfg),
		resolver: conflict.NewResolver(db, logger),
		idmap:    idmap.New(db, logger),
		logger:   logger,
		now:      time.Now,
	}
}

// Sync runs one cycle; see Orchestrator.Sync.
func (s *Service) Sync(ctx context.Context) (Result, error) {
	return s.orch.Sync(ctx)
}

// State returns the orchestrator's current phase.
func (s *Service) State() State {
	return s.orch.State()
}

// QueueStats returns event counts per status.
func (s *Service) QueueStats(ctx context.Context) (map[models.EventStatus]int, error) {
	return events.NewSQLiteRepository(s.db).CountByStatus(ctx)
}

// UnresolvedConflicts returns pending conflict records, highest priority first.
func (s *Service) UnresolvedConflicts(ctx context.Context) ([]*models.ConflictRecord, error) {
	return conflicts.NewSQLiteRepository(s.db).ListPending(ctx)
}

// ResolveConflict applies the automatic strategy to one record.
func (s *Service) ResolveConflict(ctx context.Context, conflictID string) (conflict.Outcome, error) {
	return s.resolver.ResolveAutomatically(ctx, conflictID)
}

// ResolveAllConflicts applies the automatic strategies to every pending record.
func (s *Service) ResolveAllConflicts(ctx context.Context) (resolved, manual int, err error) {
	return s.resolver.ResolveAll(ctx)
}

// ApplyManualResolution settles one record with the user's side choice.
func (s *Service) ApplyManualResolution(ctx context.Context, conflictID string, choice models.Resolution) error {
	return s.resolver.ApplyManualResolution(ctx, conflictID, choice)
}

// RetryFailed puts failed events back in the queue.
func (s *Service) RetryFailed(ctx context.Context) (int64, error) {
	n, err := events.NewSQLiteRepository(s.db).RetryFailed(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info(ctx, "failed events re-queued", "count", n)
	}
	return n, nil
}

// Reset drops the whole offline queue and the pull watermarks in one
// transaction, so the next cycle re-pulls everything from scratch. Unsynced
// work is lost; reason goes to the log for the post-mortem.
func (s *Service) Reset(ctx context.Context, reason string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := events.NewSQLiteRepository(tx).Clear(ctx); err != nil {
			return err
		}
		return metadata.NewSQLiteRepository(tx).Clear(ctx)
	})
	if err != nil {
		return err
	}
	s.logger.Warn(ctx, "offline queue cleared", "reason", reason)
	return nil
}

// CleanupStats counts what Cleanup removed.
type CleanupStats struct {
	Events    int64
	Mappings  int64
	Conflicts int64
}

// Cleanup removes synced events, resolved conflicts and unreferenced id
// mappings older than the retention window. Unsynced events, pending
// conflicts and mappings still referenced by queued events always survive.
func (s *Service) Cleanup(ctx context.Context, retention time.Duration) (CleanupStats, error) {
	cutoff := s.now().UTC().Add(-retention)
	var stats CleanupStats
	var err error

	if stats.Events, err = events.NewSQLiteRepository(s.db).Cleanup(ctx, cutoff); err != nil {
		return stats, err
	}
	if stats.Mappings, err = s.idmap.CleanupOldMappings(ctx, cutoff); err != nil {
		return stats, err
	}
	if stats.Conflicts, err = conflicts.NewSQLiteRepository(s.db).Cleanup(ctx, cutoff); err != nil {
		return stats, err
	}

	s.logger.Info(ctx, "cleanup finished",
		"events", stats.Events, "mappings", stats.Mappings, "conflicts", stats.Conflicts)
	return stats, nil
}
