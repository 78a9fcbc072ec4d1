package events_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivolkov/shelfsync/internal/client/models"
	"github.com/ivolkov/shelfsync/internal/client/repositories/events"
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

func makeEvent(id string, kind models.EventKind, entityID string) *models.OfflineEvent {
	return &models.OfflineEvent{
		ID:         id,
		Kind:       kind,
		EntityType: models.EntityTypeItem,
		EntityID:   entityID,
		Payload:    json.RawMessage(`{}`),
		Status:     models.EventStatusPending,
		CreatedAt:  base,
		UpdatedAt:  base,
	}
}

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	ctx := context.Background()
	repo := events.NewSQLiteRepository(setupDB(t))

	var last int64
	for i := 0; i < 5; i++ {
		e := makeEvent(fmt.Sprintf("ev-%d", i), models.EventKindUpdate, "srv-1")
		require.NoError(t, repo.Append(ctx, e))
		assert.Greater(t, e.Seq, last)
		last = e.Seq
	}

	// Peek returns append order regardless of timestamps.
	queue, err := repo.Peek(ctx, models.EventStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, queue, 5)
	for i, e := range queue {
		assert.Equal(t, fmt.Sprintf("ev-%d", i), e.ID)
	}
}

func TestMarkStatusEnforcesTransitions(t *testing.T) {
	ctx := context.Background()
	repo := events.NewSQLiteRepository(setupDB(t))

	e := makeEvent("ev-1", models.EventKindCreate, "srv-1")
	require.NoError(t, repo.Append(ctx, e))

	// pending cannot jump straight to synced.
	err := repo.MarkStatus(ctx, "ev-1", models.EventStatusSynced)
	assert.ErrorIs(t, err, shared.ErrorIllegalTransition)

	require.NoError(t, repo.MarkStatus(ctx, "ev-1", models.EventStatusSyncing))
	require.NoError(t, repo.MarkStatus(ctx, "ev-1", models.EventStatusSynced))

	// synced is terminal.
	err = repo.MarkStatus(ctx, "ev-1", models.EventStatusPending)
	assert.ErrorIs(t, err, shared.ErrorIllegalTransition)

	assert.ErrorIs(t, repo.MarkStatus(ctx, "missing", models.EventStatusSyncing), shared.ErrorNotFound)
}

func TestRetryFailedResetsQueue(t *testing.T) {
	ctx := context.Background()
	repo := events.NewSQLiteRepository(setupDB(t))

	e := makeEvent("ev-1", models.EventKindCreate, "srv-1")
	require.NoError(t, repo.Append(ctx, e))
	require.NoError(t, repo.MarkStatus(ctx, "ev-1", models.EventStatusSyncing))
	require.NoError(t, repo.IncrementRetry(ctx, "ev-1", "503 unavailable"))
	require.NoError(t, repo.MarkStatus(ctx, "ev-1", models.EventStatusFailed))

	n, err := repo.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.Get(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusPending, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Empty(t, got.LastError)
}

func TestUpdateEntityIDRepointsQueuedEvents(t *testing.T) {
	ctx := context.Background()
	repo := events.NewSQLiteRepository(setupDB(t))

	temp := models.NewTempID()
	require.NoError(t, repo.Append(ctx, makeEvent("ev-1", models.EventKindCreate, temp)))
	require.NoError(t, repo.Append(ctx, makeEvent("ev-2", models.EventKindUpdate, temp)))
	require.NoError(t, repo.Append(ctx, makeEvent("ev-3", models.EventKindUpdate, "other")))

	require.NoError(t, repo.UpdateEntityID(ctx, models.EntityTypeItem, temp, "srv-1"))

	repointed, err := repo.ListByEntity(ctx, models.EntityTypeItem, "srv-1")
	require.NoError(t, err)
	assert.Len(t, repointed, 2)
	untouched, err := repo.ListByEntity(ctx, models.EntityTypeItem, "other")
	require.NoError(t, err)
	assert.Len(t, untouched, 1)
}

func TestHasUnsyncedAndCounts(t *testing.T) {
	ctx := context.Background()
	repo := events.NewSQLiteRepository(setupDB(t))

	require.NoError(t, repo.Append(ctx, makeEvent("ev-1", models.EventKindCreate, "srv-1")))
	require.NoError(t, repo.MarkStatus(ctx, "ev-1", models.EventStatusSyncing))
	require.NoError(t, repo.MarkStatus(ctx, "ev-1", models.EventStatusSynced))
	require.NoError(t, repo.Append(ctx, makeEvent("ev-2", models.EventKindUpdate, "srv-1")))

	busy, err := repo.HasUnsynced(ctx, models.EntityTypeItem, "srv-1")
	require.NoError(t, err)
	assert.True(t, busy)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.EventStatusSynced])
	assert.Equal(t, 1, counts[models.EventStatusPending])
}

func TestCleanupOnlyRemovesOldSynced(t *testing.T) {
	ctx := context.Background()
	repo := events.NewSQLiteRepository(setupDB(t))

	require.NoError(t, repo.Append(ctx, makeEvent("old-synced", models.EventKindCreate, "srv-1")))
	require.NoError(t, repo.MarkStatus(ctx, "old-synced", models.EventStatusSyncing))
	require.NoError(t, repo.MarkStatus(ctx, "old-synced", models.EventStatusSynced))

	require.NoError(t, repo.Append(ctx, makeEvent("old-failed", models.EventKindUpdate, "srv-1")))
	require.NoError(t, repo.MarkStatus(ctx, "old-failed", models.EventStatusSyncing))
	require.NoError(t, repo.MarkStatus(ctx, "old-failed", models.EventStatusFailed))

	require.NoError(t, repo.Append(ctx, makeEvent("old-pending", models.EventKindUpdate, "srv-2")))

	n, err := repo.Cleanup(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Failed and pending events are never removed by cleanup.
	_, err = repo.Get(ctx, "old-failed")
	require.NoError(t, err)
	_, err = repo.Get(ctx, "old-pending")
	require.NoError(t, err)
	_, err = repo.Get(ctx, "old-synced")
	assert.ErrorIs(t, err, shared.ErrorNotFound)
}
