package entities_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivolkov/shelfsync/internal/client/models"
	"github.com/ivolkov/shelfsync/internal/client/repositories/entities"
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

func TestUpsertAndGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	repo := entities.NewSQLiteRepository(setupDB(t))

	item := &models.Item{
		Meta:         models.Meta{ID: "srv-1", CreatedAt: base, UpdatedAt: base},
		Name:         "drill",
		Description:  "18V",
		ExternalCode: "SKU-1",
		Quantity:     2,
		Price:        99.5,
		CategoryID:   "cat-1",
		ContainerID:  "box-1",
		LocationID:   "loc-1",
	}
	require.NoError(t, repo.Upsert(ctx, item))

	got, err := repo.Get(ctx, models.EntityTypeItem, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, item, got)

	// Replaces in place.
	item.Name = "hammer drill"
	item.UpdatedAt = base.Add(time.Minute)
	require.NoError(t, repo.Upsert(ctx, item))
	got, err = repo.Get(ctx, models.EntityTypeItem, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "hammer drill", got.(*models.Item).Name)
	assert.Equal(t, base.Add(time.Minute), got.Modified())

	_, err = repo.Get(ctx, models.EntityTypeItem, "missing")
	assert.ErrorIs(t, err, shared.ErrorNotFound)
}

func TestSoftDelete(t *testing.T) {
	ctx := context.Background()
	repo := entities.NewSQLiteRepository(setupDB(t))

	loc := &models.Location{Meta: models.Meta{ID: "loc-1", CreatedAt: base, UpdatedAt: base}, Name: "garage"}
	require.NoError(t, repo.Upsert(ctx, loc))

	require.NoError(t, repo.SoftDelete(ctx, models.EntityTypeLocation, "loc-1", base.Add(time.Minute)))

	// The row survives, flagged and bumped.
	got, err := repo.Get(ctx, models.EntityTypeLocation, "loc-1")
	require.NoError(t, err)
	assert.True(t, got.IsDeleted())
	assert.Equal(t, base.Add(time.Minute), got.Modified())

	// Deleting again, or deleting the unknown, reports not found.
	assert.ErrorIs(t, repo.SoftDelete(ctx, models.EntityTypeLocation, "loc-1", base), shared.ErrorNotFound)
	assert.ErrorIs(t, repo.SoftDelete(ctx, models.EntityTypeLocation, "nope", base), shared.ErrorNotFound)
}

func TestListChangedSinceIsStrict(t *testing.T) {
	ctx := context.Background()
	repo := entities.NewSQLiteRepository(setupDB(t))

	for i, id := range []string{"a", "b", "c"} {
		cat := &models.Category{
			Meta: models.Meta{ID: id, CreatedAt: base, UpdatedAt: base.Add(time.Duration(i) * time.Minute)},
			Name: id,
		}
		require.NoError(t, repo.Upsert(ctx, cat))
	}

	changed, err := repo.ListChangedSince(ctx, models.EntityTypeCategory, base)
	require.NoError(t, err)
	require.Len(t, changed, 2) // strictly after: a (== base) excluded
	assert.Equal(t, "b", changed[0].EntityID())
	assert.Equal(t, "c", changed[1].EntityID())

	all, err := repo.ListAll(ctx, models.EntityTypeCategory)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFindByExternalCode(t *testing.T) {
	ctx := context.Background()
	repo := entities.NewSQLiteRepository(setupDB(t))

	item := &models.Item{
		Meta:         models.Meta{ID: "srv-1", CreatedAt: base, UpdatedAt: base},
		Name:         "drill",
		ExternalCode: "SKU-1",
		Quantity:     1,
	}
	require.NoError(t, repo.Upsert(ctx, item))

	got, err := repo.FindByExternalCode(ctx, models.EntityTypeItem, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", got.EntityID())

	// Soft-deleted rows no longer occupy their code.
	require.NoError(t, repo.SoftDelete(ctx, models.EntityTypeItem, "srv-1", base.Add(time.Minute)))
	_, err = repo.FindByExternalCode(ctx, models.EntityTypeItem, "SKU-1")
	assert.ErrorIs(t, err, shared.ErrorNotFound)

	// Types without an external code never match.
	_, err = repo.FindByExternalCode(ctx, models.EntityTypeCategory, "SKU-1")
	assert.ErrorIs(t, err, shared.ErrorNotFound)
}

func TestRekeyAndRewriteForeignKeys(t *testing.T) {
	ctx := context.Background()
	repo := entities.NewSQLiteRepository(setupDB(t))

	temp := models.NewTempID()
	cat := &models.Category{Meta: models.Meta{ID: temp, CreatedAt: base, UpdatedAt: base}, Name: "tools"}
	require.NoError(t, repo.Upsert(ctx, cat))
	item := &models.Item{
		Meta:       models.Meta{ID: "srv-9", CreatedAt: base, UpdatedAt: base},
		Name:       "drill",
		Quantity:   1,
		CategoryID: temp,
	}
	require.NoError(t, repo.Upsert(ctx, item))

	require.NoError(t, repo.Rekey(ctx, models.EntityTypeCategory, temp, "srv-1"))
	rewritten, err := repo.RewriteForeignKeys(ctx, models.EntityTypeCategory, temp, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rewritten)

	got, err := repo.Get(ctx, models.EntityTypeItem, "srv-9")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", got.(*models.Item).CategoryID)

	// Idempotent once nothing references the old id.
	rewritten, err = repo.RewriteForeignKeys(ctx, models.EntityTypeCategory, temp, "srv-1")
	require.NoError(t, err)
	assert.Zero(t, rewritten)

	assert.ErrorIs(t, repo.Rekey(ctx, models.EntityTypeCategory, temp, "srv-1"), shared.ErrorNotFound)
}
