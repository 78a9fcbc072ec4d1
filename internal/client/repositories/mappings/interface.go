// Package mappings persists the local-to-server identifier mapping table.
package mappings

import (
	"context"
	"time"

	"github.com/ivolkov/shelfsync/internal/client/models"
)

// Repository stores identifier mappings. At most one mapping may exist per
// (entityType, localId) pair, and a recorded server id never changes.
type Repository interface {
	// Register records a new mapping. Registering the same pair twice with
	// the same server id is a no-op; a different server id returns
	// shared.ErrorMappingConflict.
	Register(ctx context.Context, m *models.IDMapping) error

	// Resolve returns the server id for a local id, or
	// shared.ErrorMappingUnresolved when no mapping exists.
	Resolve(ctx context.Context, t models.EntityType, localID string) (string, error)

	// List returns all mappings, oldest first.
	List(ctx context.Context) ([]*models.IDMapping, error)

	// ListOlderThan returns mappings created before the cutoff, oldest first.
	ListOlderThan(ctx context.Context, olderThan time.Time) ([]*models.IDMapping, error)

	// Delete removes one mapping.
	Delete(ctx context.Context, t models.EntityType, localID string) error
}
