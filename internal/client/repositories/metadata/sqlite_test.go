package metadata

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivolkov/shelfsync/internal/client/store"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.InitDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestGetSetDeleteClear(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupDB(t))

	// Missing keys read as nil, not as an error.
	v, err := repo.Get(ctx, "pull_watermark:item")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, repo.Set(ctx, "pull_watermark:item", []byte("1767873600000")))
	v, err = repo.Get(ctx, "pull_watermark:item")
	require.NoError(t, err)
	assert.Equal(t, []byte("1767873600000"), v)

	// Set overwrites.
	require.NoError(t, repo.Set(ctx, "pull_watermark:item", []byte("1767873660000")))
	v, err = repo.Get(ctx, "pull_watermark:item")
	require.NoError(t, err)
	assert.Equal(t, []byte("1767873660000"), v)

	require.NoError(t, repo.Delete(ctx, "pull_watermark:item"))
	v, err = repo.Get(ctx, "pull_watermark:item")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, repo.Set(ctx, "a", []byte("1")))
	require.NoError(t, repo.Set(ctx, "b", []byte("2")))
	require.NoError(t, repo.Clear(ctx))
	v, err = repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, v)
}
