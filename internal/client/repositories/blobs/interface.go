// Package blobs persists photo blobs captured offline until they upload.
package blobs

import (
	"context"

	"github.com/ivolkov/shelfsync/internal/client/models"
)

type Repository interface {
	// Insert stores a new blob.
	Insert(ctx context.Context, b *models.ImageBlob) error

	// Get returns the blob by id, or shared.ErrorNotFound.
	Get(ctx context.Context, id string) (*models.ImageBlob, error)

	// ListPending returns blobs not yet uploaded, oldest first.
	ListPending(ctx context.Context) ([]*models.ImageBlob, error)

	// MarkUploaded records the remote key and drops the local bytes.
	MarkUploaded(ctx context.Context, id, remoteKey string) error
}
