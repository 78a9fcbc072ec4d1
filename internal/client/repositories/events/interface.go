// Package events persists the append-only offline event queue.
package events

import (
	"context"
	"time"

	"github.com/ivolkov/shelfsync/internal/client/models"
)

// Repository is the event-log access contract. Ordering is always by the
// sequence number assigned at append time, never by wall-clock timestamps.
type Repository interface {
	// Append stores the event with status pending and fills in its Seq.
	Append(ctx context.Context, e *models.OfflineEvent) error

	// Get returns the event by id, or shared.ErrorNotFound.
	Get(ctx context.Context, id string) (*models.OfflineEvent, error)

	// Peek returns up to n events with the given status, oldest first.
	Peek(ctx context.Context, status models.EventStatus, n int) ([]*models.OfflineEvent, error)

	// PeekByType is Peek restricted to one entity type.
	PeekByType(ctx context.Context, t models.EntityType, status models.EventStatus, n int) ([]*models.OfflineEvent, error)

	// ListByEntity returns all events for one entity in sequence order,
	// optionally filtered to the given statuses.
	ListByEntity(ctx context.Context, t models.EntityType, entityID string, statuses ...models.EventStatus) ([]*models.OfflineEvent, error)

	// MarkStatus transitions the event, rejecting illegal transitions with
	// shared.ErrorIllegalTransition.
	MarkStatus(ctx context.Context, id string, status models.EventStatus) error

	// SetConflict links the event to a conflict record.
	SetConflict(ctx context.Context, id, conflictID string) error

	// IncrementRetry bumps the retry counter and records the last error.
	IncrementRetry(ctx context.Context, id, lastError string) error

	// RetryFailed resets failed events to pending. Returns the count.
	RetryFailed(ctx context.Context) (int64, error)

	// UpdateEntityID repoints events from a temporary entity id to the
	// permanent one, so later events address the entity the server knows.
	UpdateEntityID(ctx context.Context, t models.EntityType, oldID, newID string) error

	// HasUnsynced reports whether any event for the entity is not yet synced.
	HasUnsynced(ctx context.Context, t models.EntityType, entityID string) (bool, error)

	// CountByStatus returns queue statistics.
	CountByStatus(ctx context.Context) (map[models.EventStatus]int, error)

	// Cleanup removes synced events created before the cutoff; failed and
	// conflicted events are never removed here. Returns the count removed.
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)

	// Clear removes every event. Only a full local reset uses it.
	Clear(ctx context.Context) error
}
