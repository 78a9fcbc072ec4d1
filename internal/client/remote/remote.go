// Package remote defines the contract of the remote store of record and its
// HTTP implementation. The core consumes this contract; it never owns the
// remote data.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ivolkov/shelfsync/internal/client/models"
)

// Store is the remote store contract: one resource per entity type, each
// supporting delta listing, create, update and soft delete. All remote rows
// carry updatedAt and deleted.
type Store interface {
	// List returns entities changed strictly after changedSince.
	List(ctx context.Context, t models.EntityType, changedSince time.Time) ([]models.Entity, error)

	// Create stores a new entity and returns its server-assigned id. The
	// payload must not contain temporary identifiers.
	Create(ctx context.Context, e models.Entity) (string, error)

	// Update replaces the entity identified by its permanent id.
	Update(ctx context.Context, e models.Entity) error

	// SoftDelete marks the entity deleted.
	SoftDelete(ctx context.Context, t models.EntityType, id string) error

	// PresignBlobPut asks the server for a presigned upload slot for a photo
	// blob. It returns the storage key and the URL to PUT the bytes to.
	PresignBlobPut(ctx context.Context, blobID, mime string) (key, url string, err error)
}

// ErrorClass is the error taxonomy the pusher branches on.
type ErrorClass int

const (
	// ClassTransient: timeouts, connection failures, server 5xx. Retried
	// with backoff.
	ClassTransient ErrorClass = iota
	// ClassValidation: the remote rejected the payload. Not retried.
	ClassValidation
	// ClassFatal: the remote is unusable in a way retrying cannot fix.
	ClassFatal
)

// Error is a classified remote-store failure.
type Error struct {
	Class   ErrorClass
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote: %s (status %d)", e.Message, e.Status)
}

// IsTransient reports whether the error should be retried with backoff.
func IsTransient(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Class == ClassTransient
	}
	// Unclassified errors (network failures below HTTP) are transient.
	return err != nil
}

// IsValidation reports whether the remote rejected the payload.
func IsValidation(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Class == ClassValidation
}
