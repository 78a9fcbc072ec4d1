package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ivolkov/shelfsync/internal/client/models"
	"github.com/ivolkov/shelfsync/internal/client/repositories/blobs"
	"github.com/ivolkov/shelfsync/internal/client/repositories/entities"
	"github.com/ivolkov/shelfsync/internal/client/repositories/events"
	"github.com/ivolkov/shelfsync/internal/dbx"
	"github.com/ivolkov/shelfsync/internal/logging"
)

// Store mediates all user-originated writes to the local database.
type Store struct {
	db     *sql.DB
	logger logging.Logger
	now    func() time.Time
}

// New returns a Store over the given database.
func New(db *sql.DB, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// DB exposes the underlying handle for components that manage their own
// transactions (the sync orchestrator).
func (s *Store) DB() *sql.DB { return s.db }

// Read returns the entity, including soft-deleted rows.
func (s *Store) Read(ctx context.Context, t models.EntityType, id string) (models.Entity, error) {
	return entities.NewSQLiteRepository(s.db).Get(ctx, t, id)
}

// ListChangedSince returns entities modified after the given time.
func (s *Store) ListChangedSince(ctx context.Context, t models.EntityType, since time.Time) ([]models.Entity, error) {
	return entities.NewSQLiteRepository(s.db).ListChangedSince(ctx, t, since)
}

// List returns all entities of the type.
func (s *Store) List(ctx context.Context, t models.EntityType) ([]models.Entity, error) {
	return entities.NewSQLiteRepository(s.db).ListAll(ctx, t)
}

func newEvent(kind models.EventKind, t models.EntityType, entityID string, payload json.RawMessage, at time.Time) *models.OfflineEvent {
	return &models.OfflineEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntityType: t,
		EntityID:   entityID,
		Payload:    payload,
		Status:     models.EventStatusPending,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

// Create stores a new entity and appends its CREATE event in one transaction.
// If the entity has no id yet, a temporary id is minted.
func (s *Store) Create(ctx context.Context, e models.Entity) error {
	now := s.now().UTC()
	if e.EntityID() == "" {
		e.SetEntityID(models.NewTempID())
	}
	if e.Created().IsZero() {
		if m, ok := metaOf(e); ok {
			m.CreatedAt = now
		}
	}
	e.Touch(now)

	doc, err := models.EncodeEntity(e)
	if err != nil {
		return err
	}
	payload, err := models.EncodePayload(&models.CreatePayload{Doc: doc})
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := entities.NewSQLiteRepository(tx).Upsert(ctx, e); err != nil {
			return err
		}
		return events.NewSQLiteRepository(tx).Append(ctx, newEvent(models.EventKindCreate, e.Type(), e.EntityID(), payload, now))
	})
}

// Update replaces the entity and appends an UPDATE event carrying the changed
// fields and their prior values, in one transaction.
func (s *Store) Update(ctx context.Context, updated models.Entity) error {
	now := s.now().UTC()

	current, err := s.Read(ctx, updated.Type(), updated.EntityID())
	if err != nil {
		return fmt.Errorf("update %s %s: %w", updated.Type(), updated.EntityID(), err)
	}

	updated.Touch(now)

	fields, prior, err := diffFields(current, updated)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	payload, err := models.EncodePayload(&models.UpdatePayload{Fields: fields, Prior: prior})
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := entities.NewSQLiteRepository(tx).Upsert(ctx, updated); err != nil {
			return err
		}
		return events.NewSQLiteRepository(tx).Append(ctx, newEvent(models.EventKindUpdate, updated.Type(), updated.EntityID(), payload, now))
	})
}

// Delete soft-deletes the entity and appends a DELETE event in one
// transaction. confirmed records an explicit user confirmation; confirmed
// deletes are never auto-overridden during conflict resolution.
func (s *Store) Delete(ctx context.Context, t models.EntityType, id string, confirmed bool) error {
	now := s.now().UTC()

	payload, err := models.EncodePayload(&models.DeletePayload{Confirmed: confirmed})
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := entities.NewSQLiteRepository(tx).SoftDelete(ctx, t, id, now); err != nil {
			return err
		}
		return events.NewSQLiteRepository(tx).Append(ctx, newEvent(models.EventKindDelete, t, id, payload, now))
	})
}

// Move reassigns the entity's structural placement and appends a MOVE event
// in one transaction.
func (s *Store) Move(ctx context.Context, t models.EntityType, id string, target models.MovePayload) error {
	now := s.now().UTC()
	target.MovedAt = now

	current, err := s.Read(ctx, t, id)
	if err != nil {
		return fmt.Errorf("move %s %s: %w", t, id, err)
	}

	switch e := current.(type) {
	case *models.Item:
		if target.ContainerID != "" {
			e.ContainerID = target.ContainerID
		}
		if target.LocationID != "" {
			e.LocationID = target.LocationID
		}
	case *models.Container:
		if target.ParentID != "" {
			e.ParentID = target.ParentID
		}
		if target.LocationID != "" {
			e.LocationID = target.LocationID
		}
	default:
		return fmt.Errorf("entity type %s has no placement to move", t)
	}
	current.Touch(now)

	payload, err := models.EncodePayload(&target)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := entities.NewSQLiteRepository(tx).Upsert(ctx, current); err != nil {
			return err
		}
		return events.NewSQLiteRepository(tx).Append(ctx, newEvent(models.EventKindMove, t, id, payload, now))
	})
}

// AttachPhoto stores the photo bytes and points the item at them, appending
// the item's UPDATE event in the same transaction.
func (s *Store) AttachPhoto(ctx context.Context, itemID string, data []byte, mime string) (string, error) {
	now := s.now().UTC()

	current, err := s.Read(ctx, models.EntityTypeItem, itemID)
	if err != nil {
		return "", err
	}
	item, ok := current.(*models.Item)
	if !ok {
		return "", fmt.Errorf("entity %s is not an item", itemID)
	}

	blob := &models.ImageBlob{
		ID:        uuid.NewString(),
		EntityID:  itemID,
		MIME:      mime,
		Data:      data,
		CreatedAt: now,
	}

	updated := item.Clone().(*models.Item)
	updated.PhotoID = blob.ID
	updated.Touch(now)

	fields, prior, err := diffFields(item, updated)
	if err != nil {
		return "", err
	}
	payload, err := models.EncodePayload(&models.UpdatePayload{Fields: fields, Prior: prior})
	if err != nil {
		return "", err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := blobs.NewSQLiteRepository(tx).Insert(ctx, blob); err != nil {
			return err
		}
		if err := entities.NewSQLiteRepository(tx).Upsert(ctx, updated); err != nil {
			return err
		}
		return events.NewSQLiteRepository(tx).Append(ctx, newEvent(models.EventKindUpdate, models.EntityTypeItem, itemID, payload, now))
	})
	if err != nil {
		return "", err
	}
	return blob.ID, nil
}

func metaOf(e models.Entity) (*models.Meta, bool) {
	switch v := e.(type) {
	case *models.Item:
		return &v.Meta, true
	case *models.Container:
		return &v.Meta, true
	case *models.Category:
		return &v.Meta, true
	case *models.Location:
		return &v.Meta, true
	}
	return nil, false
}

// metaFields never appear in update payloads; they are bookkeeping, not user
// edits.
var metaFields = map[string]struct{}{
	"id":        {},
	"deleted":   {},
	"createdAt": {},
	"updatedAt": {},
}

// diffFields returns the fields whose values differ between before and after,
// with the new values in fields and the pre-edit values in prior.
func diffFields(before, after models.Entity) (fields, prior map[string]json.RawMessage, err error) {
	beforeMap, err := models.ToFieldMap(before)
	if err != nil {
		return nil, nil, err
	}
	afterMap, err := models.ToFieldMap(after)
	if err != nil {
		return nil, nil, err
	}

	fields = make(map[string]json.RawMessage)
	prior = make(map[string]json.RawMessage)

	for name, afterVal := range afterMap {
		if _, skip := metaFields[name]; skip {
			continue
		}
		beforeVal, ok := beforeMap[name]
		if ok && string(beforeVal) == string(afterVal) {
			continue
		}
		fields[name] = afterVal
		if ok {
			prior[name] = beforeVal
		} else {
			prior[name] = json.RawMessage("null")
		}
	}
	// fields removed entirely (omitempty) count as changed to null
	for name, beforeVal := range beforeMap {
		if _, skip := metaFields[name]; skip {
			continue
		}
		if _, ok := afterMap[name]; !ok {
			fields[name] = json.RawMessage("null")
			prior[name] = beforeVal
		}
	}
	return fields, prior, nil
}
