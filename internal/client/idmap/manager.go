// Package idmap maintains the bijection between locally-minted temporary
// identifiers and server-assigned permanent identifiers, and rewrites
// references once a mapping resolves.
package idmap

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ivolkov/shelfsync/internal/client/models"
	"github.com/ivolkov/shelfsync/internal/client/repositories/entities"
	"github.com/ivolkov/shelfsync/internal/client/repositories/events"
	"github.com/ivolkov/shelfsync/internal/client/repositories/mappings"
	"github.com/ivolkov/shelfsync/internal/dbx"
	"github.com/ivolkov/shelfsync/internal/logging"
	"github.com/ivolkov/shelfsync/internal/shared"
)

// Manager owns the id_mappings table and the reference-rewrite machinery.
type Manager struct {
	db     *sql.DB
	logger logging.Logger
	now    func() time.Time
}

// New returns a Manager over the given database.
func New(db *sql.DB, logger logging.Logger) *Manager {
	return &Manager{db: db, logger: logger, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Register records localID -> serverID and, in the same transaction, re-keys
// the local entity row, rewrites every foreign key that pointed at the
// temporary id, and repoints queued events at the permanent id. After this
// returns, the temporary id survives only inside the mapping table.
func (m *Manager) Register(ctx context.Context, t models.EntityType, localID, serverID string) error {
	mapping := &models.IDMapping{
		LocalID:    localID,
		ServerID:   serverID,
		EntityType: t,
		CreatedAt:  m.now().UTC(),
	}

	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := mappings.NewSQLiteRepository(tx).Register(ctx, mapping); err != nil {
			return err
		}

		entityRepo := entities.NewSQLiteRepository(tx)
		if err := entityRepo.Rekey(ctx, t, localID, serverID); err != nil && !errors.Is(err, shared.ErrorNotFound) {
			return err
		}
		rewritten, err := entityRepo.RewriteForeignKeys(ctx, t, localID, serverID)
		if err != nil {
			return err
		}
		if rewritten > 0 {
			m.logger.Info(ctx, "rewrote foreign keys", "entityType", t, "localId", localID, "serverId", serverID, "rows", rewritten)
		}

		return events.NewSQLiteRepository(tx).UpdateEntityID(ctx, t, localID, serverID)
	})
}

// Resolve returns the permanent id for a temporary one. Permanent ids resolve
// to themselves.
func (m *Manager) Resolve(ctx context.Context, t models.EntityType, id string) (string, error) {
	if !models.IsTempID(id) {
		return id, nil
	}
	return mappings.NewSQLiteRepository(m.db).Resolve(ctx, t, id)
}

// RewriteReferences replaces every resolvable temporary reference on the
// entity with its permanent id, in place. It reports whether all references
// are now permanent; when false, the caller must keep the event pending.
// Applying it twice yields the same result as once.
func (m *Manager) RewriteReferences(ctx context.Context, e models.Entity) (bool, error) {
	complete := true
	for _, ref := range e.Refs() {
		id := *ref.ID
		if id == "" || !models.IsTempID(id) {
			continue
		}
		serverID, err := m.Resolve(ctx, ref.Type, id)
		if errors.Is(err, shared.ErrorMappingUnresolved) {
			complete = false
			continue
		}
		if err != nil {
			return false, err
		}
		*ref.ID = serverID
	}
	return complete, nil
}

// CleanupOldMappings removes mappings older than the cutoff that no unsynced
// event still depends on. Returns the count removed.
func (m *Manager) CleanupOldMappings(ctx context.Context, olderThan time.Time) (int64, error) {
	mappingRepo := mappings.NewSQLiteRepository(m.db)
	eventRepo := events.NewSQLiteRepository(m.db)

	old, err := mappingRepo.ListOlderThan(ctx, olderThan)
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, mapping := range old {
		// Events were repointed to the server id at registration time, but
		// check both sides to be safe.
		referenced := false
		for _, id := range []string{mapping.ServerID, mapping.LocalID} {
			busy, err := eventRepo.HasUnsynced(ctx, mapping.EntityType, id)
			if err != nil {
				return removed, err
			}
			if busy {
				referenced = true
				break
			}
		}
		if referenced {
			continue
		}
		if err := mappingRepo.Delete(ctx, mapping.EntityType, mapping.LocalID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
