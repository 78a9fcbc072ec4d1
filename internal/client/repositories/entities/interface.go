// Package entities persists the four domain entity types in the local
// sqlite database.
package entities

import (
	"context"
	"time"

	"github.com/ivolkov/shelfsync/internal/client/models"
)

// Repository is the entity-table access contract. Implementations must treat
// deletes as soft deletes; rows are only ever removed by a full local reset.
type Repository interface {
	// Get returns the entity with the given id, including soft-deleted rows.
	// Returns shared.ErrorNotFound when no row exists.
	Get(ctx context.Context, t models.EntityType, id string) (models.Entity, error)

	// Upsert inserts or fully replaces the entity row.
	Upsert(ctx context.Context, e models.Entity) error

	// SoftDelete marks the row deleted and bumps its updated_at.
	SoftDelete(ctx context.Context, t models.EntityType, id string, at time.Time) error

	// ListChangedSince returns rows with updated_at strictly after since,
	// soft-deleted rows included.
	ListChangedSince(ctx context.Context, t models.EntityType, since time.Time) ([]models.Entity, error)

	// ListAll returns every row of the type, soft-deleted rows included.
	ListAll(ctx context.Context, t models.EntityType) ([]models.Entity, error)

	// FindByExternalCode returns the non-deleted entity carrying the given
	// external code, or shared.ErrorNotFound.
	FindByExternalCode(ctx context.Context, t models.EntityType, code string) (models.Entity, error)

	// Rekey changes a row's primary key, used when a temporary id resolves
	// to its server-assigned permanent id.
	Rekey(ctx context.Context, t models.EntityType, oldID, newID string) error

	// RewriteForeignKeys replaces oldID with newID in every column that
	// references entities of refType, across all tables. Returns the number
	// of rows touched. Idempotent: once no column holds oldID it is a no-op.
	RewriteForeignKeys(ctx context.Context, refType models.EntityType, oldID, newID string) (int64, error)
}
