// Package conflict detects divergence between local and staged remote entity
// state and resolves it with a bounded set of deterministic strategies,
// falling back to manual resolution where a user decision is required.
package conflict

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ivolkov/shelfsync/internal/client/models"
	"github.com/ivolkov/shelfsync/internal/client/repositories/conflicts"
	"github.com/ivolkov/shelfsync/internal/client/repositories/entities"
	"github.com/ivolkov/shelfsync/internal/client/repositories/events"
	"github.com/ivolkov/shelfsync/internal/logging"
	"github.com/ivolkov/shelfsync/internal/shared"
)

// Detector classifies staged-vs-local divergence into conflict records.
// Detection is idempotent: a pending record for the same entity and timestamp
// pair suppresses re-detection.
type Detector struct {
	db     *sql.DB
	logger logging.Logger
	now    func() time.Time
}

// NewDetector returns a Detector over the given database.
func NewDetector(db *sql.DB, logger logging.Logger) *Detector {
	return &Detector{db: db, logger: logger, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// unsyncedStatuses are the event statuses that represent local changes not
// yet applied remotely.
var unsyncedStatuses = []models.EventStatus{
	models.EventStatusPending,
	models.EventStatusSyncing,
	models.EventStatusFailed,
	models.EventStatusConflicted,
}

// DetectAll runs detection for every staged remote entity against local
// state. watermark is the last successful pull time for the entity's type;
// both sides must have changed after it for a conflict to exist.
func (d *Detector) DetectAll(ctx context.Context, staged map[models.EntityType][]models.Entity, watermarks map[models.EntityType]time.Time) ([]*models.ConflictRecord, error) {
	var created []*models.ConflictRecord

	for _, t := range models.EntityTypes() {
		for _, remote := range staged[t] {
			record, err := d.detectOne(ctx, t, remote, watermarks[t])
			if err != nil {
				return created, err
			}
			if record != nil {
				created = append(created, record)
			}
		}
	}
	return created, nil
}

func (d *Detector) detectOne(ctx context.Context, t models.EntityType, remote models.Entity, watermark time.Time) (*models.ConflictRecord, error) {
	entityRepo := entities.NewSQLiteRepository(d.db)
	eventRepo := events.NewSQLiteRepository(d.db)
	conflictRepo := conflicts.NewSQLiteRepository(d.db)

	local, err := entityRepo.Get(ctx, t, remote.EntityID())
	if errors.Is(err, shared.ErrorNotFound) {
		// Unknown id. The only divergence possible is two independent
		// offline creates colliding on a uniqueness constraint.
		return d.detectCreateCreate(ctx, t, remote)
	}
	if err != nil {
		return nil, err
	}

	// Both sides must have moved past the watermark.
	if !remote.Modified().After(watermark) || !local.Modified().After(watermark) {
		return nil, nil
	}

	pending, err := eventRepo.ListByEntity(ctx, t, local.EntityID(), unsyncedStatuses...)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		// Nothing unsynced locally; the remote change merges cleanly.
		return nil, nil
	}

	// Re-detection guard for an already-pending pair.
	if _, err := conflictRepo.FindPending(ctx, t, local.EntityID(), local.Modified(), remote.Modified()); err == nil {
		return nil, nil
	} else if !errors.Is(err, shared.ErrorNotFound) {
		return nil, err
	}

	conflictType := classify(local, remote, pending)
	record := &models.ConflictRecord{
		ID:              uuid.NewString(),
		Type:            conflictType,
		EntityType:      t,
		EntityID:        local.EntityID(),
		LocalTimestamp:  local.Modified(),
		RemoteTimestamp: remote.Modified(),
		LocalChanged:    localChangedFields(pending),
		CreatedAt:       d.now().UTC(),
	}
	if record.LocalSnapshot, err = models.EncodeEntity(local); err != nil {
		return nil, err
	}
	if record.RemoteSnapshot, err = models.EncodeEntity(remote); err != nil {
		return nil, err
	}

	if err := conflictRepo.Create(ctx, record); err != nil {
		return nil, err
	}
	if err := parkEvents(ctx, eventRepo, pending, record.ID); err != nil {
		return nil, err
	}

	d.logger.Info(ctx, "conflict detected",
		"type", record.Type, "entityType", t, "entityId", record.EntityID)
	return record, nil
}

// detectCreateCreate looks for a local offline-created entity colliding with
// the incoming remote one on the external-code uniqueness constraint.
func (d *Detector) detectCreateCreate(ctx context.Context, t models.EntityType, remote models.Entity) (*models.ConflictRecord, error) {
	code := remote.ExternalKey()
	if code == "" {
		return nil, nil
	}

	entityRepo := entities.NewSQLiteRepository(d.db)
	eventRepo := events.NewSQLiteRepository(d.db)
	conflictRepo := conflicts.NewSQLiteRepository(d.db)

	local, err := entityRepo.FindByExternalCode(ctx, t, code)
	if errors.Is(err, shared.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if local.EntityID() == remote.EntityID() {
		return nil, nil
	}

	// Only an entity the server does not know about yet can collide this way.
	if !models.IsTempID(local.EntityID()) {
		return nil, nil
	}

	if _, err := conflictRepo.FindPending(ctx, t, local.EntityID(), local.Modified(), remote.Modified()); err == nil {
		return nil, nil
	} else if !errors.Is(err, shared.ErrorNotFound) {
		return nil, err
	}

	record := &models.ConflictRecord{
		ID:              uuid.NewString(),
		Type:            models.ConflictCreateCreate,
		EntityType:      t,
		EntityID:        local.EntityID(),
		LocalTimestamp:  local.Modified(),
		RemoteTimestamp: remote.Modified(),
		CreatedAt:       d.now().UTC(),
	}
	if record.LocalSnapshot, err = models.EncodeEntity(local); err != nil {
		return nil, err
	}
	if record.RemoteSnapshot, err = models.EncodeEntity(remote); err != nil {
		return nil, err
	}
	if err := conflictRepo.Create(ctx, record); err != nil {
		return nil, err
	}

	// The queued create is parked until resolution de-collides the code.
	pending, err := eventRepo.ListByEntity(ctx, t, local.EntityID(), unsyncedStatuses...)
	if err != nil {
		return nil, err
	}
	if err := parkEvents(ctx, eventRepo, pending, record.ID); err != nil {
		return nil, err
	}

	d.logger.Info(ctx, "conflict detected",
		"type", record.Type, "entityType", t, "entityId", record.EntityID)
	return record, nil
}

// parkEvents links the entity's unsynced events to the record and moves them
// to conflicted, so the pusher leaves them alone until resolution.
func parkEvents(ctx context.Context, eventRepo events.Repository, pending []*models.OfflineEvent, conflictID string) error {
	for _, e := range pending {
		if e.Status == models.EventStatusSynced {
			continue
		}
		if err := eventRepo.SetConflict(ctx, e.ID, conflictID); err != nil {
			return err
		}
		if e.Status == models.EventStatusConflicted {
			continue
		}
		// pending/failed events pass through syncing on their way to
		// conflicted, per the transition table.
		if e.Status != models.EventStatusSyncing {
			if err := eventRepo.MarkStatus(ctx, e.ID, models.EventStatusSyncing); err != nil {
				if errors.Is(err, shared.ErrorIllegalTransition) {
					continue
				}
				return err
			}
		}
		if err := eventRepo.MarkStatus(ctx, e.ID, models.EventStatusConflicted); err != nil {
			return err
		}
	}
	return nil
}

// classify picks the conflict type. Destructive divergence (local delete vs
// remote update) is checked first; a pure placement divergence is MOVE_MOVE;
// everything else is UPDATE_UPDATE.
func classify(local, remote models.Entity, pending []*models.OfflineEvent) models.ConflictType {
	if local.IsDeleted() && !remote.IsDeleted() {
		return models.ConflictDeleteUpdate
	}

	var moves, others int
	for _, e := range pending {
		switch e.Kind {
		case models.EventKindMove:
			moves++
		case models.EventKindCreate:
			// creates do not diverge against an existing remote row
		default:
			others++
		}
	}
	if moves > 0 && others == 0 && placementDiffers(local, remote) {
		return models.ConflictMoveMove
	}
	return models.ConflictUpdateUpdate
}

// placementDiffers reports whether the two sides assign the entity to
// different structural targets.
func placementDiffers(local, remote models.Entity) bool {
	lp := local.PlacementRefs()
	rp := remote.PlacementRefs()
	if len(lp) != len(rp) {
		return false
	}
	for i := range lp {
		if *lp[i].ID != *rp[i].ID {
			return true
		}
	}
	return false
}

// localChangedFields unions the changed-field sets of unsynced update events.
func localChangedFields(pending []*models.OfflineEvent) []string {
	seen := map[string]struct{}{}
	var result []string
	for _, e := range pending {
		if e.Kind != models.EventKindUpdate {
			continue
		}
		var p models.UpdatePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			continue
		}
		for name := range p.Fields {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				result = append(result, name)
			}
		}
	}
	return result
}
