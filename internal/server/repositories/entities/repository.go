package entities

import (
	"context"
	"time"

	"github.com/ivolkov/shelfsync/internal/server/models"
)

// Repository is the server-side entity storage contract.
type Repository interface {
	Insert(ctx context.Context, row *models.EntityRow) error
	Update(ctx context.Context, row *models.EntityRow) error
	SoftDelete(ctx context.Context, entityType, id string, at time.Time) error
	Get(ctx context.Context, entityType, id string) (*models.EntityRow, error)
	ListChangedSince(ctx context.Context, entityType string, since time.Time) ([]*models.EntityRow, error)
}
