// Package metadata is a small key/value table for process-wide sync state,
// most importantly the per-entity-type pull watermarks.
package metadata

import "context"

type Repository interface {
	// Get returns the value for key, or nil when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores or replaces the value for key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the key.
	Delete(ctx context.Context, key string) error

	// Clear removes everything. Only a full local reset uses it.
	Clear(ctx context.Context) error
}
