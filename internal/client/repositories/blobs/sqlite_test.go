package blobs_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivolkov/shelfsync/internal/client/models"
	"github.com/ivolkov/shelfsync/internal/client/repositories/blobs"
	"github.com/ivolkov/shelfsync/internal/client/store"
	"github.com/ivolkov/shelfsync/internal/shared"
)

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.InitDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestInsertListAndMarkUploaded(t *testing.T) {
	ctx := context.Background()
	repo := blobs.NewSQLiteRepository(setupDB(t))

	first := &models.ImageBlob{ID: "b-1", EntityID: "srv-1", MIME: "image/jpeg", Data: []byte("one"), CreatedAt: base}
	second := &models.ImageBlob{ID: "b-2", EntityID: "srv-2", MIME: "image/png", Data: []byte("two"), CreatedAt: base.Add(time.Minute)}
	require.NoError(t, repo.Insert(ctx, first))
	require.NoError(t, repo.Insert(ctx, second))

	pending, err := repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "b-1", pending[0].ID) // oldest first

	require.NoError(t, repo.MarkUploaded(ctx, "b-1", "blobs/b-1"))

	// Uploading drops the local bytes and keeps the remote key.
	got, err := repo.Get(ctx, "b-1")
	require.NoError(t, err)
	assert.True(t, got.Uploaded)
	assert.Equal(t, "blobs/b-1", got.RemoteKey)
	assert.Empty(t, got.Data)

	pending, err = repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b-2", pending[0].ID)

	assert.ErrorIs(t, repo.MarkUploaded(ctx, "missing", "k"), shared.ErrorNotFound)
	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrorNotFound)
}
