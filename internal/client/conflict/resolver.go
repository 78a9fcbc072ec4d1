package conflict

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ivolkov/shelfsync/internal/client/models"
	"github.com/ivolkov/shelfsync/internal/client/repositories/conflicts"
	"github.com/ivolkov/shelfsync/internal/client/repositories/entities"
	"github.com/ivolkov/shelfsync/internal/client/repositories/events"
	"github.com/ivolkov/shelfsync/internal/dbx"
	"github.com/ivolkov/shelfsync/internal/logging"
	"github.com/ivolkov/shelfsync/internal/shared"
)

// metaFields never participate in field-level merging.
var metaFields = map[string]struct{}{
	"id": {}, "deleted": {}, "createdAt": {}, "updatedAt": {},
}

// Outcome describes what a resolution attempt did.
type Outcome struct {
	Resolution models.Resolution

	// Manual is set when no automatic strategy applies and the record stays
	// pending for a user decision.
	Manual bool
}

// Resolver applies resolution strategies to conflict records. Each resolution
// runs in one transaction: the winning snapshot write, the event status
// changes and the write-once resolution mark commit together.
type Resolver struct {
	db     *sql.DB
	logger logging.Logger
	now    func() time.Time
}

// NewResolver returns a Resolver over the given database.
func NewResolver(db *sql.DB, logger logging.Logger) *Resolver {
	return &Resolver{db: db, logger: logger, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// ResolveAutomatically applies the per-type automatic strategy to one record.
// Records that require a user decision are left pending and reported via
// Outcome.Manual. Resolution is deterministic: the same record and queue state
// always produce the same outcome.
func (r *Resolver) ResolveAutomatically(ctx context.Context, conflictID string) (Outcome, error) {
	record, err := conflicts.NewSQLiteRepository(r.db).Get(ctx, conflictID)
	if err != nil {
		return Outcome{}, err
	}
	if !record.Pending() {
		return Outcome{}, shared.ErrorConflictResolved
	}

	var outcome Outcome
	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		switch record.Type {
		case models.ConflictUpdateUpdate:
			outcome, err = r.resolveUpdateUpdate(ctx, tx, record)
		case models.ConflictDeleteUpdate:
			outcome, err = r.resolveDeleteUpdate(ctx, tx, record)
		case models.ConflictCreateCreate:
			outcome, err = r.resolveCreateCreate(ctx, tx, record)
		case models.ConflictMoveMove:
			outcome, err = r.resolveMoveMove(ctx, tx, record)
		default:
			err = fmt.Errorf("unknown conflict type %q", record.Type)
		}
		return err
	})
	if err != nil {
		return Outcome{}, err
	}

	if outcome.Manual {
		r.logger.Info(ctx, "conflict requires manual resolution",
			"conflictId", record.ID, "type", record.Type, "entityId", record.EntityID)
	} else {
		r.logger.Info(ctx, "conflict resolved",
			"conflictId", record.ID, "type", record.Type, "resolution", outcome.Resolution)
	}
	return outcome, nil
}

// ResolveAll runs automatic resolution over every pending record in priority
// order. It returns how many resolved and how many still need a user.
func (r *Resolver) ResolveAll(ctx context.Context) (resolved, manual int, err error) {
	pending, err := conflicts.NewSQLiteRepository(r.db).ListPending(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, record := range pending {
		outcome, err := r.ResolveAutomatically(ctx, record.ID)
		if err != nil {
			return resolved, manual, err
		}
		if outcome.Manual {
			manual++
		} else {
			resolved++
		}
	}
	return resolved, manual, nil
}

// ApplyManualResolution settles a pending record with the user's choice of
// side. Only local_wins and remote_wins are valid choices.
func (r *Resolver) ApplyManualResolution(ctx context.Context, conflictID string, choice models.Resolution) error {
	if choice != models.ResolutionLocalWins && choice != models.ResolutionRemoteWins {
		return shared.ErrorUnknownResolution
	}

	record, err := conflicts.NewSQLiteRepository(r.db).Get(ctx, conflictID)
	if err != nil {
		return err
	}
	if !record.Pending() {
		return shared.ErrorConflictResolved
	}

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if choice == models.ResolutionRemoteWins {
			remote, err := models.DecodeEntity(record.EntityType, record.RemoteSnapshot)
			if err != nil {
				return err
			}
			if err := entities.NewSQLiteRepository(tx).Upsert(ctx, remote); err != nil {
				return err
			}
			if err := r.settleEvents(ctx, tx, record, models.EventStatusSynced); err != nil {
				return err
			}
		} else {
			// The local row already holds the user's state; the queued events
			// go back to pending and push it out.
			if err := r.settleEvents(ctx, tx, record, models.EventStatusPending); err != nil {
				return err
			}
		}
		return conflicts.NewSQLiteRepository(tx).Resolve(ctx, record.ID, choice, r.now().UTC())
	})
}

// resolveUpdateUpdate merges field by field. A field only one side changed
// takes that side's value; a field both sides changed forces manual
// resolution. Remote change is established against the prior values captured
// in the local update events.
func (r *Resolver) resolveUpdateUpdate(ctx context.Context, tx dbx.DBTX, c *models.ConflictRecord) (Outcome, error) {
	localMap, remoteMap, err := snapshotMaps(c)
	if err != nil {
		return Outcome{}, err
	}

	queued, err := r.conflictEvents(ctx, tx, c)
	if err != nil {
		return Outcome{}, err
	}
	prior := priorValues(queued)

	localChanged := map[string]struct{}{}
	for _, name := range c.LocalChanged {
		localChanged[name] = struct{}{}
	}

	var localWon, remoteWon []string
	for _, name := range differingFields(localMap, remoteMap) {
		if _, mine := localChanged[name]; !mine {
			remoteWon = append(remoteWon, name)
			continue
		}
		// The field is locally edited. If the remote value still equals the
		// pre-edit value, only this side changed it.
		base, known := prior[name]
		if known && bytes.Equal(normalizeJSON(base), normalizeJSON(remoteMap[name])) {
			localWon = append(localWon, name)
			continue
		}
		return Outcome{Manual: true}, nil
	}

	merged := make(map[string]json.RawMessage, len(localMap))
	for name, value := range localMap {
		merged[name] = value
	}
	for _, name := range remoteWon {
		merged[name] = remoteMap[name]
	}
	if err := setTime(merged, "updatedAt", maxTime(c.LocalTimestamp, c.RemoteTimestamp)); err != nil {
		return Outcome{}, err
	}

	resolution := models.ResolutionMerged
	switch {
	case len(remoteWon) == 0:
		resolution = models.ResolutionLocalWins
	case len(localWon) == 0:
		resolution = models.ResolutionRemoteWins
	}

	if err := upsertFromMap(ctx, tx, c.EntityType, merged); err != nil {
		return Outcome{}, err
	}

	// Absorbed events never push; surviving local edits push the merged row.
	settled := models.EventStatusPending
	if resolution == models.ResolutionRemoteWins {
		settled = models.EventStatusSynced
	}
	if err := r.settleEvents(ctx, tx, c, settled); err != nil {
		return Outcome{}, err
	}
	if err := conflicts.NewSQLiteRepository(tx).Resolve(ctx, c.ID, resolution, r.now().UTC()); err != nil {
		return Outcome{}, err
	}
	return Outcome{Resolution: resolution}, nil
}

// resolveDeleteUpdate lets a remote update win over an unconfirmed local
// delete. A confirmed delete is destructive and always goes to the user.
func (r *Resolver) resolveDeleteUpdate(ctx context.Context, tx dbx.DBTX, c *models.ConflictRecord) (Outcome, error) {
	queued, err := r.conflictEvents(ctx, tx, c)
	if err != nil {
		return Outcome{}, err
	}
	for _, e := range queued {
		if e.Kind != models.EventKindDelete {
			continue
		}
		var p models.DeletePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return Outcome{}, fmt.Errorf("decode delete payload: %w", err)
		}
		if p.Confirmed {
			return Outcome{Manual: true}, nil
		}
	}

	remote, err := models.DecodeEntity(c.EntityType, c.RemoteSnapshot)
	if err != nil {
		return Outcome{}, err
	}
	if err := entities.NewSQLiteRepository(tx).Upsert(ctx, remote); err != nil {
		return Outcome{}, err
	}
	if err := r.settleEvents(ctx, tx, c, models.EventStatusSynced); err != nil {
		return Outcome{}, err
	}
	if err := conflicts.NewSQLiteRepository(tx).Resolve(ctx, c.ID, models.ResolutionRemoteWins, r.now().UTC()); err != nil {
		return Outcome{}, err
	}
	return Outcome{Resolution: models.ResolutionRemoteWins}, nil
}

// resolveCreateCreate keeps both rows. The remote row merges in under its
// server id; the local row keeps its queued create, with its external code
// suffixed so the uniqueness constraint no longer rejects it.
func (r *Resolver) resolveCreateCreate(ctx context.Context, tx dbx.DBTX, c *models.ConflictRecord) (Outcome, error) {
	localMap, remoteMap, err := snapshotMaps(c)
	if err != nil {
		return Outcome{}, err
	}

	localCode := localMap["externalCode"]
	if len(localCode) > 0 && bytes.Equal(normalizeJSON(localCode), normalizeJSON(remoteMap["externalCode"])) {
		var code string
		if err := json.Unmarshal(localCode, &code); err != nil {
			return Outcome{}, err
		}
		suffix, err := shared.MakeRandHexString(2)
		if err != nil {
			return Outcome{}, err
		}
		decollided, err := json.Marshal(code + "-" + suffix)
		if err != nil {
			return Outcome{}, err
		}
		localMap["externalCode"] = decollided
		if err := upsertFromMap(ctx, tx, c.EntityType, localMap); err != nil {
			return Outcome{}, err
		}
	}

	if err := r.settleEvents(ctx, tx, c, models.EventStatusPending); err != nil {
		return Outcome{}, err
	}
	if err := conflicts.NewSQLiteRepository(tx).Resolve(ctx, c.ID, models.ResolutionKeepBoth, r.now().UTC()); err != nil {
		return Outcome{}, err
	}
	return Outcome{Resolution: models.ResolutionKeepBoth}, nil
}

// resolveMoveMove lets the later move win; on a timestamp tie the store of
// record wins.
func (r *Resolver) resolveMoveMove(ctx context.Context, tx dbx.DBTX, c *models.ConflictRecord) (Outcome, error) {
	if c.LocalTimestamp.After(c.RemoteTimestamp) {
		if err := r.settleEvents(ctx, tx, c, models.EventStatusPending); err != nil {
			return Outcome{}, err
		}
		if err := conflicts.NewSQLiteRepository(tx).Resolve(ctx, c.ID, models.ResolutionLocalWins, r.now().UTC()); err != nil {
			return Outcome{}, err
		}
		return Outcome{Resolution: models.ResolutionLocalWins}, nil
	}

	entityRepo := entities.NewSQLiteRepository(tx)
	current, err := entityRepo.Get(ctx, c.EntityType, c.EntityID)
	if err != nil {
		return Outcome{}, err
	}
	remote, err := models.DecodeEntity(c.EntityType, c.RemoteSnapshot)
	if err != nil {
		return Outcome{}, err
	}

	// Only placement moves over; other local fields stay untouched.
	cp := current.PlacementRefs()
	rp := remote.PlacementRefs()
	for i := range cp {
		*cp[i].ID = *rp[i].ID
	}
	current.Touch(c.RemoteTimestamp)
	if err := entityRepo.Upsert(ctx, current); err != nil {
		return Outcome{}, err
	}
	if err := r.settleEvents(ctx, tx, c, models.EventStatusSynced); err != nil {
		return Outcome{}, err
	}
	if err := conflicts.NewSQLiteRepository(tx).Resolve(ctx, c.ID, models.ResolutionRemoteWins, r.now().UTC()); err != nil {
		return Outcome{}, err
	}
	return Outcome{Resolution: models.ResolutionRemoteWins}, nil
}

// settleEvents moves the record's conflicted events to their final status:
// synced absorbs the losing side, pending re-queues the surviving side.
func (r *Resolver) settleEvents(ctx context.Context, tx dbx.DBTX, c *models.ConflictRecord, status models.EventStatus) error {
	queued, err := r.conflictEvents(ctx, tx, c)
	if err != nil {
		return err
	}
	eventRepo := events.NewSQLiteRepository(tx)
	for _, e := range queued {
		if err := eventRepo.MarkStatus(ctx, e.ID, status); err != nil {
			return err
		}
	}
	return nil
}

// conflictEvents returns the conflicted events linked to the record, in
// sequence order.
func (r *Resolver) conflictEvents(ctx context.Context, tx dbx.DBTX, c *models.ConflictRecord) ([]*models.OfflineEvent, error) {
	all, err := events.NewSQLiteRepository(tx).ListByEntity(ctx, c.EntityType, c.EntityID, models.EventStatusConflicted)
	if err != nil {
		return nil, err
	}
	linked := make([]*models.OfflineEvent, 0, len(all))
	for _, e := range all {
		if e.ConflictID == c.ID {
			linked = append(linked, e)
		}
	}
	return linked, nil
}

func snapshotMaps(c *models.ConflictRecord) (local, remote map[string]json.RawMessage, err error) {
	if err := json.Unmarshal(c.LocalSnapshot, &local); err != nil {
		return nil, nil, fmt.Errorf("decode local snapshot: %w", err)
	}
	if err := json.Unmarshal(c.RemoteSnapshot, &remote); err != nil {
		return nil, nil, fmt.Errorf("decode remote snapshot: %w", err)
	}
	return local, remote, nil
}

// priorValues collects the pre-edit value of each locally edited field. The
// earliest event's prior is the merge base when a field was edited repeatedly.
func priorValues(queued []*models.OfflineEvent) map[string]json.RawMessage {
	prior := map[string]json.RawMessage{}
	for _, e := range queued {
		if e.Kind != models.EventKindUpdate {
			continue
		}
		var p models.UpdatePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			continue
		}
		for name, value := range p.Prior {
			if _, ok := prior[name]; !ok {
				prior[name] = value
			}
		}
	}
	return prior
}

// differingFields returns sorted non-meta field names whose values differ
// between the two snapshots.
func differingFields(local, remote map[string]json.RawMessage) []string {
	names := map[string]struct{}{}
	for name := range local {
		names[name] = struct{}{}
	}
	for name := range remote {
		names[name] = struct{}{}
	}

	var differing []string
	for name := range names {
		if _, meta := metaFields[name]; meta {
			continue
		}
		if !bytes.Equal(normalizeJSON(local[name]), normalizeJSON(remote[name])) {
			differing = append(differing, name)
		}
	}
	sort.Strings(differing)
	return differing
}

// normalizeJSON maps an absent value to an explicit null so omitted and null
// fields compare equal.
func normalizeJSON(v json.RawMessage) []byte {
	if len(v) == 0 {
		return []byte("null")
	}
	return v
}

func upsertFromMap(ctx context.Context, tx dbx.DBTX, t models.EntityType, m map[string]json.RawMessage) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return err
	}
	e, err := models.DecodeEntity(t, doc)
	if err != nil {
		return err
	}
	return entities.NewSQLiteRepository(tx).Upsert(ctx, e)
}

func setTime(m map[string]json.RawMessage, name string, t time.Time) error {
	raw, err := json.Marshal(t.UTC())
	if err != nil {
		return err
	}
	m[name] = raw
	return nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
