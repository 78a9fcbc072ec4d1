// Package sync drives the pull/push/reconcile cycle that converges the local
// database and the remote store of record.
package sync

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ivolkov/shelfsync/internal/client/blobsync"
	"github.com/ivolkov/shelfsync/internal/client/conflict"
	"github.com/ivolkov/shelfsync/internal/client/idmap"
	"github.com/ivolkov/shelfsync/internal/client/models"
	"github.com/ivolkov/shelfsync/internal/client/netmon"
	"github.com/ivolkov/shelfsync/internal/client/remote"
	"github.com/ivolkov/shelfsync/internal/client/repositories/conflicts"
	"github.com/ivolkov/shelfsync/internal/client/repositories/entities"
	"github.com/ivolkov/shelfsync/internal/client/repositories/events"
	"github.com/ivolkov/shelfsync/internal/client/repositories/metadata"
	"github.com/ivolkov/shelfsync/internal/dbx"
	"github.com/ivolkov/shelfsync/internal/logging"
	"github.com/ivolkov/shelfsync/internal/shared"
)

// State is the orchestrator's current phase.
type State string

const (
	StateIdle        State = "idle"
	StatePulling     State = "pulling"
	StatePushing     State = "pushing"
	StateReconciling State = "reconciling"
	// StateFailed is left behind by a cycle that returned an error; the next
	// cycle clears it.
	StateFailed State = "failed"
)

// Config tunes one sync cycle.
type Config struct {
	// BatchSize caps how many queued events are fetched at a time.
	BatchSize int
	// MaxRetries bounds backoff retries of one remote call.
	MaxRetries int
	// RetryBase is the initial backoff delay.
	RetryBase time.Duration
	// Timeout bounds the whole cycle; unpushed events stay pending.
	Timeout time.Duration
}

// DefaultConfig returns the tuning used when the caller has no opinion.
func DefaultConfig() Config {
	return Config{
		BatchSize:  100,
		MaxRetries: 3,
		RetryBase:  500 * time.Millisecond,
		Timeout:    2 * time.Minute,
	}
}

// Result summarizes one sync cycle.
type Result struct {
	Pulled            int
	SyncedEvents      int
	FailedEvents      int
	SkippedEvents     int
	ConflictsCreated  int
	ConflictsResolved int
	ConflictsManual   int
	BlobsUploaded     int

	// Coalesced is set when a cycle was already running and this call did
	// nothing.
	Coalesced bool
}

// Orchestrator runs the sync cycle: pull remote deltas into a staging area,
// push the offline queue, then reconcile staged state against local state.
// Only one cycle runs at a time; concurrent calls coalesce.
type Orchestrator struct {
	db      *sql.DB
	remote  remote.Store
	monitor netmon.Monitor
	logger  logging.Logger
	cfg     Config
	now     func() time.Time

	idmap    *idmap.Manager
	detector *conflict.Detector
	resolver *conflict.Resolver
	uploader *blobsync.Uploader

	running atomic.Bool
	state   atomic.Value
}

// NewOrchestrator wires an orchestrator over the given database and remote.
func NewOrchestrator(db *sql.DB, rs remote.Store, monitor netmon.Monitor, logger logging.Logger, cfg Config) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultConfig().RetryBase
	}
	o := &Orchestrator{
		db:       db,
		remote:   rs,
		monitor:  monitor,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		idmap:    idmap.New(db, logger),
		detector: conflict.NewDetector(db, logger),
		resolver: conflict.NewResolver(db, logger),
		uploader: blobsync.NewUploader(db, rs, logger),
	}
	o.state.Store(StateIdle)
	return o
}

// WithClock overrides the time source, for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// State returns the current phase.
func (o *Orchestrator) State() State {
	return o.state.Load().(State)
}

func (o *Orchestrator) setState(s State) { o.state.Store(s) }

// entityKey identifies one entity across the cycle's bookkeeping maps.
func entityKey(t models.EntityType, id string) string {
	return string(t) + "/" + id
}

func watermarkKey(t models.EntityType) string {
	return "pull_watermark:" + string(t)
}

// Sync runs one full cycle. When a cycle is already in flight the call
// returns immediately with Result.Coalesced set. When the monitor reports
// offline, shared.ErrorOffline is returned and nothing runs.
func (o *Orchestrator) Sync(ctx context.Context) (Result, error) {
	if !o.monitor.Status().IsOnline {
		return Result{}, shared.ErrorOffline
	}
	if !o.running.CompareAndSwap(false, true) {
		return Result{Coalesced: true}, nil
	}
	defer o.running.Store(false)

	result, err := o.cycle(ctx)
	if err != nil {
		o.setState(StateFailed)
		return result, err
	}
	o.setState(StateIdle)
	return result, nil
}

func (o *Orchestrator) cycle(ctx context.Context) (Result, error) {
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	started := o.now()
	o.logger.Info(ctx, "sync cycle started")

	if err := o.recoverInterrupted(ctx); err != nil {
		return Result{}, err
	}

	var result Result

	o.setState(StatePulling)
	staged, watermarks, highs, err := o.pull(ctx)
	if err != nil {
		return result, fmt.Errorf("pull: %w", err)
	}
	for _, list := range staged {
		result.Pulled += len(list)
	}

	o.setState(StatePushing)
	if err := o.push(ctx, staged, &result); err != nil {
		return result, fmt.Errorf("push: %w", err)
	}

	// Blobs ride at the tail of the pushing phase. A failed upload is retried
	// next cycle and never fails this one.
	uploaded, err := o.uploader.UploadPending(ctx)
	if err != nil {
		o.logger.Warn(ctx, "blob upload incomplete", "error", err.Error())
	}
	result.BlobsUploaded = uploaded

	o.setState(StateReconciling)
	if err := o.reconcile(ctx, staged, watermarks, highs, &result); err != nil {
		return result, fmt.Errorf("reconcile: %w", err)
	}

	o.logger.Info(ctx, "sync cycle finished",
		"duration", o.now().Sub(started).String(),
		"pulled", result.Pulled,
		"synced", result.SyncedEvents,
		"failed", result.FailedEvents,
		"skipped", result.SkippedEvents,
		"conflictsCreated", result.ConflictsCreated,
		"conflictsResolved", result.ConflictsResolved,
		"conflictsManual", result.ConflictsManual,
		"blobsUploaded", result.BlobsUploaded,
	)
	return result, nil
}

// recoverInterrupted re-queues events a crashed or timed-out cycle left in
// syncing.
func (o *Orchestrator) recoverInterrupted(ctx context.Context) error {
	eventRepo := events.NewSQLiteRepository(o.db)
	for {
		stuck, err := eventRepo.Peek(ctx, models.EventStatusSyncing, o.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(stuck) == 0 {
			return nil
		}
		for _, e := range stuck {
			if err := eventRepo.MarkStatus(ctx, e.ID, models.EventStatusPending); err != nil {
				return err
			}
		}
	}
}

// pull fetches remote deltas per entity type into an in-memory staging area.
// Nothing is written locally here; a failed pull leaves the database as it was.
func (o *Orchestrator) pull(ctx context.Context) (map[models.EntityType][]models.Entity, map[models.EntityType]time.Time, map[models.EntityType]time.Time, error) {
	staged := map[models.EntityType][]models.Entity{}
	watermarks := map[models.EntityType]time.Time{}
	highs := map[models.EntityType]time.Time{}

	metaRepo := metadata.NewSQLiteRepository(o.db)
	for _, t := range models.EntityTypes() {
		watermark, err := readWatermark(ctx, metaRepo, t)
		if err != nil {
			return nil, nil, nil, err
		}
		watermarks[t] = watermark

		var list []models.Entity
		err = o.withBackoff(ctx, func(ctx context.Context) error {
			var err error
			list, err = o.remote.List(ctx, t, watermark)
			return err
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("list %s: %w", t, err)
		}

		staged[t] = list
		high := watermark
		for _, e := range list {
			if e.Modified().After(high) {
				high = e.Modified()
			}
		}
		highs[t] = high
	}
	return staged, watermarks, highs, nil
}

// push drains the pending queue, one entity type at a time in dependency
// order, each type's events in append order. An event whose entity also has a
// staged remote change is deferred to reconciliation; an event blocked by an
// unresolved reference or an earlier failure of the same entity stays pending
// so per-entity order is never violated.
func (o *Orchestrator) push(ctx context.Context, staged map[models.EntityType][]models.Entity, result *Result) error {
	deferred := map[string]bool{}
	for t, list := range staged {
		for _, e := range list {
			deferred[entityKey(t, e.EntityID())] = true
		}
	}

	eventRepo := events.NewSQLiteRepository(o.db)
	blocked := map[string]bool{}

	for _, t := range models.EntityTypes() {
		for {
			batch, err := eventRepo.PeekByType(ctx, t, models.EventStatusPending, o.cfg.BatchSize)
			if err != nil {
				return err
			}

			acted := false
			for _, e := range batch {
				key := entityKey(e.EntityType, e.EntityID)
				if deferred[key] || blocked[key] {
					result.SkippedEvents++
					continue
				}
				outcome, err := o.pushOne(ctx, e, result)
				if err != nil {
					return err
				}
				switch outcome {
				case pushSynced:
					acted = true
				case pushFailed:
					// The event changed status, but later events of the
					// entity must wait for the retry.
					acted = true
					blocked[key] = true
				case pushBlocked:
					blocked[key] = true
					result.SkippedEvents++
				}
			}
			if !acted {
				break
			}
		}
	}
	return nil
}

type pushOutcome int

const (
	pushSynced pushOutcome = iota
	// pushBlocked: the event cannot go yet (unresolved reference, create of
	// the entity not through) and stays pending.
	pushBlocked
	// pushFailed: the remote rejected or kept failing; the event moved to
	// failed.
	pushFailed
)

// pushOne applies one event remotely.
func (o *Orchestrator) pushOne(ctx context.Context, e *models.OfflineEvent, result *Result) (pushOutcome, error) {
	eventRepo := events.NewSQLiteRepository(o.db)

	if err := eventRepo.MarkStatus(ctx, e.ID, models.EventStatusSyncing); err != nil {
		return pushBlocked, err
	}
	revert := func() error {
		return eventRepo.MarkStatus(ctx, e.ID, models.EventStatusPending)
	}

	current, err := entities.NewSQLiteRepository(o.db).Get(ctx, e.EntityType, e.EntityID)
	if err != nil {
		return pushBlocked, fmt.Errorf("load %s %s: %w", e.EntityType, e.EntityID, err)
	}

	var remoteErr error
	switch e.Kind {
	case models.EventKindCreate:
		doc := current.Clone()
		complete, err := o.idmap.RewriteReferences(ctx, doc)
		if err != nil {
			return pushBlocked, err
		}
		if !complete {
			return pushBlocked, revert()
		}
		var serverID string
		remoteErr = o.withBackoff(ctx, func(ctx context.Context) error {
			var err error
			serverID, err = o.remote.Create(ctx, doc)
			return err
		})
		if remoteErr == nil && models.IsTempID(e.EntityID) {
			if err := o.idmap.Register(ctx, e.EntityType, e.EntityID, serverID); err != nil {
				return pushBlocked, err
			}
		}

	case models.EventKindUpdate, models.EventKindMove:
		if models.IsTempID(e.EntityID) {
			// The create has not gone through yet.
			return pushBlocked, revert()
		}
		doc := current.Clone()
		complete, err := o.idmap.RewriteReferences(ctx, doc)
		if err != nil {
			return pushBlocked, err
		}
		if !complete {
			return pushBlocked, revert()
		}
		remoteErr = o.withBackoff(ctx, func(ctx context.Context) error {
			return o.remote.Update(ctx, doc)
		})

	case models.EventKindDelete:
		if models.IsTempID(e.EntityID) {
			return pushBlocked, revert()
		}
		remoteErr = o.withBackoff(ctx, func(ctx context.Context) error {
			return o.remote.SoftDelete(ctx, e.EntityType, e.EntityID)
		})

	default:
		remoteErr = fmt.Errorf("unknown event kind %q", e.Kind)
	}

	if remoteErr != nil {
		o.logger.Error(ctx, "event push failed",
			"eventId", e.ID, "kind", e.Kind, "entityType", e.EntityType, "entityId", e.EntityID, "error", remoteErr.Error())
		if err := eventRepo.IncrementRetry(ctx, e.ID, remoteErr.Error()); err != nil {
			return pushBlocked, err
		}
		if err := eventRepo.MarkStatus(ctx, e.ID, models.EventStatusFailed); err != nil {
			return pushBlocked, err
		}
		result.FailedEvents++
		return pushFailed, nil
	}

	if err := eventRepo.MarkStatus(ctx, e.ID, models.EventStatusSynced); err != nil {
		return pushBlocked, err
	}
	result.SyncedEvents++
	return pushSynced, nil
}

// reconcile detects and resolves conflicts against the staged pull, merges
// the remaining staged rows into the local database and advances the per-type
// watermarks. Each type merges in one transaction.
func (o *Orchestrator) reconcile(ctx context.Context, staged map[models.EntityType][]models.Entity, watermarks, highs map[models.EntityType]time.Time, result *Result) error {
	records, err := o.detector.DetectAll(ctx, staged, watermarks)
	if err != nil {
		return err
	}
	result.ConflictsCreated = len(records)

	resolved, manual, err := o.resolver.ResolveAll(ctx)
	if err != nil {
		return err
	}
	result.ConflictsResolved = resolved
	result.ConflictsManual = manual

	// Entities touched by a conflict this cycle are settled by the resolver
	// (or waiting on the user); the staged copy must not overwrite them.
	skip := map[string]bool{}
	for _, r := range records {
		skip[entityKey(r.EntityType, r.EntityID)] = true
	}
	open, err := conflicts.NewSQLiteRepository(o.db).ListPending(ctx)
	if err != nil {
		return err
	}
	for _, r := range open {
		skip[entityKey(r.EntityType, r.EntityID)] = true
	}

	for _, t := range models.EntityTypes() {
		err := dbx.WithTx(ctx, o.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			entityRepo := entities.NewSQLiteRepository(tx)
			for _, e := range staged[t] {
				if skip[entityKey(t, e.EntityID())] {
					continue
				}
				if err := entityRepo.Upsert(ctx, e); err != nil {
					return err
				}
			}
			if highs[t].After(watermarks[t]) {
				return writeWatermark(ctx, metadata.NewSQLiteRepository(tx), t, highs[t])
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("merge %s: %w", t, err)
		}
	}
	return nil
}

// withBackoff retries f with exponential backoff while it fails transiently.
func (o *Orchestrator) withBackoff(ctx context.Context, f func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(o.cfg.MaxRetries), retry.NewExponential(o.cfg.RetryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := f(ctx)
		if err != nil && remote.IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func readWatermark(ctx context.Context, repo metadata.Repository, t models.EntityType) (time.Time, error) {
	raw, err := repo.Get(ctx, watermarkKey(t))
	if err != nil {
		return time.Time{}, err
	}
	if raw == nil {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt watermark for %s: %w", t, err)
	}
	return dbx.FromMillis(ms), nil
}

func writeWatermark(ctx context.Context, repo metadata.Repository, t models.EntityType, at time.Time) error {
	return repo.Set(ctx, watermarkKey(t), []byte(strconv.FormatInt(dbx.Millis(at), 10)))
}
