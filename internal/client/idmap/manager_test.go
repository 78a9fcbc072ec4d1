package idmap

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivolkov/shelfsync/internal/client/models"
	"github.com/ivolkov/shelfsync/internal/client/repositories/events"
	"github.com/ivolkov/shelfsync/internal/client/store"
	"github.com/ivolkov/shelfsync/internal/logging"
	"github.com/ivolkov/shelfsync/internal/shared"
)

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*sql.DB, *store.Store, *Manager) {
	t.Helper()
	db, err := store.InitDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	clock := func() time.Time { return base }
	s := store.New(db, logging.NewDiscardLogger()).WithClock(clock)
	m := New(db, logging.NewDiscardLogger()).WithClock(clock)
	return db, s, m
}

func drainQueue(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx := context.Background()
	repo := events.NewSQLiteRepository(db)
	pending, err := repo.Peek(ctx, models.EventStatusPending, 100)
	require.NoError(t, err)
	for _, e := range pending {
		require.NoError(t, repo.MarkStatus(ctx, e.ID, models.EventStatusSyncing))
		require.NoError(t, repo.MarkStatus(ctx, e.ID, models.EventStatusSynced))
	}
}

func TestRegisterRekeysEntityAndReferences(t *testing.T) {
	ctx := context.Background()
	db, s, m := setup(t)

	category := &models.Category{Name: "Tools"}
	require.NoError(t, s.Create(ctx, category))
	tempID := category.EntityID()

	item := &models.Item{Name: "Drill", CategoryID: tempID}
	require.NoError(t, s.Create(ctx, item))

	require.NoError(t, m.Register(ctx, models.EntityTypeCategory, tempID, "srv-cat"))

	// The category row now lives under its permanent id.
	_, err := s.Read(ctx, models.EntityTypeCategory, tempID)
	assert.ErrorIs(t, err, shared.ErrorNotFound)
	got, err := s.Read(ctx, models.EntityTypeCategory, "srv-cat")
	require.NoError(t, err)
	assert.Equal(t, "Tools", got.(*models.Category).Name)

	// The item's foreign key followed the rekey.
	reread, err := s.Read(ctx, models.EntityTypeItem, item.EntityID())
	require.NoError(t, err)
	assert.Equal(t, "srv-cat", reread.(*models.Item).CategoryID)

	// Queued events follow too.
	repointed, err := events.NewSQLiteRepository(db).ListByEntity(ctx, models.EntityTypeCategory, "srv-cat")
	require.NoError(t, err)
	assert.Len(t, repointed, 1)

	resolved, err := m.Resolve(ctx, models.EntityTypeCategory, tempID)
	require.NoError(t, err)
	assert.Equal(t, "srv-cat", resolved)
}

func TestRegisterRefusesRebinding(t *testing.T) {
	ctx := context.Background()
	_, s, m := setup(t)

	category := &models.Category{Name: "Tools"}
	require.NoError(t, s.Create(ctx, category))
	tempID := category.EntityID()

	require.NoError(t, m.Register(ctx, models.EntityTypeCategory, tempID, "srv-cat"))
	require.NoError(t, m.Register(ctx, models.EntityTypeCategory, tempID, "srv-cat"))

	err := m.Register(ctx, models.EntityTypeCategory, tempID, "srv-other")
	assert.ErrorIs(t, err, shared.ErrorMappingConflict)
}

func TestResolvePassesPermanentIDsThrough(t *testing.T) {
	ctx := context.Background()
	_, _, m := setup(t)

	id, err := m.Resolve(ctx, models.EntityTypeItem, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", id)

	_, err = m.Resolve(ctx, models.EntityTypeItem, models.NewTempID())
	assert.ErrorIs(t, err, shared.ErrorMappingUnresolved)
}

func TestRewriteReferencesReportsCompleteness(t *testing.T) {
	ctx := context.Background()
	_, s, m := setup(t)

	resolvable := models.NewTempID()
	unresolvable := models.NewTempID()
	category := &models.Category{Meta: models.Meta{ID: resolvable}, Name: "Tools"}
	require.NoError(t, s.Create(ctx, category))
	require.NoError(t, m.Register(ctx, models.EntityTypeCategory, resolvable, "srv-cat"))

	item := &models.Item{Name: "Drill", CategoryID: resolvable, ContainerID: unresolvable}
	complete, err := m.RewriteReferences(ctx, item)
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Equal(t, "srv-cat", item.CategoryID)
	assert.Equal(t, unresolvable, item.ContainerID)

	// Running it again changes nothing.
	complete, err = m.RewriteReferences(ctx, item)
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Equal(t, "srv-cat", item.CategoryID)
}

func TestCleanupOldMappingsKeepsReferencedOnes(t *testing.T) {
	ctx := context.Background()
	db, s, m := setup(t)

	done := &models.Category{Name: "Tools"}
	require.NoError(t, s.Create(ctx, done))
	require.NoError(t, m.Register(ctx, models.EntityTypeCategory, done.EntityID(), "srv-done"))
	drainQueue(t, db)

	busy := &models.Category{Name: "Garden"}
	require.NoError(t, s.Create(ctx, busy))
	require.NoError(t, m.Register(ctx, models.EntityTypeCategory, busy.EntityID(), "srv-busy"))

	removed, err := m.CleanupOldMappings(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// The drained mapping is gone, the one with a pending event survives.
	_, err = m.Resolve(ctx, models.EntityTypeCategory, done.EntityID())
	assert.ErrorIs(t, err, shared.ErrorMappingUnresolved)
	id, err := m.Resolve(ctx, models.EntityTypeCategory, busy.EntityID())
	require.NoError(t, err)
	assert.Equal(t, "srv-busy", id)
}
