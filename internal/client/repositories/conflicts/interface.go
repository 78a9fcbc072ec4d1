// Package conflicts persists conflict records for audit and resolution.
package conflicts

import (
	"context"
	"time"

	"github.com/ivolkov/shelfsync/internal/client/models"
)

// Repository stores conflict records. Resolution is write-once: Resolve
// refuses to change an already-resolved record.
type Repository interface {
	// Create stores a new, pending conflict record.
	Create(ctx context.Context, c *models.ConflictRecord) error

	// Get returns the record by id, or shared.ErrorNotFound.
	Get(ctx context.Context, id string) (*models.ConflictRecord, error)

	// FindPending returns the pending record for the entity/timestamp pair,
	// or shared.ErrorNotFound. Used by the detector for dedupe.
	FindPending(ctx context.Context, t models.EntityType, entityID string, localTS, remoteTS time.Time) (*models.ConflictRecord, error)

	// ListPending returns unresolved records ordered by conflict priority,
	// then by creation time.
	ListPending(ctx context.Context) ([]*models.ConflictRecord, error)

	// HasPendingForEntity reports whether the entity has an unresolved record.
	HasPendingForEntity(ctx context.Context, t models.EntityType, entityID string) (bool, error)

	// Resolve writes the resolution exactly once; a second attempt returns
	// shared.ErrorConflictResolved.
	Resolve(ctx context.Context, id string, res models.Resolution, at time.Time) error

	// Cleanup removes resolved records created before the cutoff.
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
}
