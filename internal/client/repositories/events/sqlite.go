package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ivolkov/shelfsync/internal/client/models"
	"github.com/ivolkov/shelfsync/internal/dbx"
	"github.com/ivolkov/shelfsync/internal/shared"
)

const columns = `seq, id, kind, entity_type, entity_id, payload, status, retry_count, conflict_id, last_error, created_at, updated_at`

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.OfflineEvent, error) {
	e := &models.OfflineEvent{}
	var payload string
	var createdAt, updatedAt int64
	err := row.Scan(&e.Seq, &e.ID, &e.Kind, &e.EntityType, &e.EntityID, &payload,
		&e.Status, &e.RetryCount, &e.ConflictID, &e.LastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.Payload = []byte(payload)
	e.CreatedAt = dbx.FromMillis(createdAt)
	e.UpdatedAt = dbx.FromMillis(updatedAt)
	return e, nil
}

// Append stores the event with status pending and fills in its Seq.
func (r *SQLiteRepository) Append(ctx context.Context, e *models.OfflineEvent) error {
	if e.Status == "" {
		e.Status = models.EventStatusPending
	}
	query := `INSERT INTO offline_events (id, kind, entity_type, entity_id, payload, status, retry_count, conflict_id, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		e.ID, e.Kind, e.EntityType, e.EntityID, string(e.Payload), e.Status,
		e.RetryCount, e.ConflictID, e.LastError, dbx.Millis(e.CreatedAt), dbx.Millis(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event seq: %w", err)
	}
	e.Seq = seq
	return nil
}

// Get returns the event by id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.OfflineEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM offline_events WHERE id = ?`, columns)
	e, err := scanEvent(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", id, err)
	}
	return e, nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]*models.OfflineEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select events: %w", err)
	}
	defer rows.Close()

	var result []*models.OfflineEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Peek returns up to n events with the given status, oldest first.
func (r *SQLiteRepository) Peek(ctx context.Context, status models.EventStatus, n int) ([]*models.OfflineEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM offline_events WHERE status = ? ORDER BY seq LIMIT ?`, columns)
	return r.query(ctx, query, status, n)
}

// PeekByType is Peek restricted to one entity type.
func (r *SQLiteRepository) PeekByType(ctx context.Context, t models.EntityType, status models.EventStatus, n int) ([]*models.OfflineEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM offline_events WHERE status = ? AND entity_type = ? ORDER BY seq LIMIT ?`, columns)
	return r.query(ctx, query, status, t, n)
}

// ListByEntity returns all events for one entity in sequence order.
func (r *SQLiteRepository) ListByEntity(ctx context.Context, t models.EntityType, entityID string, statuses ...models.EventStatus) ([]*models.OfflineEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM offline_events WHERE entity_type = ? AND entity_id = ?`, columns)
	args := []any{t, entityID}
	if len(statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
		query += fmt.Sprintf(` AND status IN (%s)`, placeholders)
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += ` ORDER BY seq`
	return r.query(ctx, query, args...)
}

// MarkStatus transitions the event, rejecting illegal transitions.
func (r *SQLiteRepository) MarkStatus(ctx context.Context, id string, status models.EventStatus) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if !current.Status.CanTransitionTo(status) {
		return fmt.Errorf("event %s: %s -> %s: %w", id, current.Status, status, shared.ErrorIllegalTransition)
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE offline_events SET status = ?, updated_at = ? WHERE id = ?`,
		status, dbx.Millis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark event %s: %w", id, err)
	}
	return nil
}

// SetConflict links the event to a conflict record.
func (r *SQLiteRepository) SetConflict(ctx context.Context, id, conflictID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE offline_events SET conflict_id = ?, updated_at = ? WHERE id = ?`,
		conflictID, dbx.Millis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to set conflict on event %s: %w", id, err)
	}
	return nil
}

// IncrementRetry bumps the retry counter and records the last error.
func (r *SQLiteRepository) IncrementRetry(ctx context.Context, id, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE offline_events SET retry_count = retry_count + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		lastError, dbx.Millis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to increment retry on event %s: %w", id, err)
	}
	return nil
}

// RetryFailed resets failed events to pending.
func (r *SQLiteRepository) RetryFailed(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE offline_events SET status = ?, retry_count = 0, last_error = '', updated_at = ? WHERE status = ?`,
		models.EventStatusPending, dbx.Millis(time.Now()), models.EventStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed events: %w", err)
	}
	return res.RowsAffected()
}

// UpdateEntityID repoints events from a temporary entity id to the permanent one.
func (r *SQLiteRepository) UpdateEntityID(ctx context.Context, t models.EntityType, oldID, newID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE offline_events SET entity_id = ? WHERE entity_type = ? AND entity_id = ?`,
		newID, t, oldID)
	if err != nil {
		return fmt.Errorf("failed to repoint events %s -> %s: %w", oldID, newID, err)
	}
	return nil
}

// HasUnsynced reports whether any event for the entity is not yet synced.
func (r *SQLiteRepository) HasUnsynced(ctx context.Context, t models.EntityType, entityID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM offline_events WHERE entity_type = ? AND entity_id = ? AND status != ?`,
		t, entityID, models.EventStatusSynced).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count unsynced events: %w", err)
	}
	return count > 0, nil
}

// CountByStatus returns queue statistics.
func (r *SQLiteRepository) CountByStatus(ctx context.Context) (map[models.EventStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM offline_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	result := make(map[models.EventStatus]int)
	for rows.Next() {
		var status models.EventStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		result[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Cleanup removes synced events created before the cutoff.
func (r *SQLiteRepository) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM offline_events WHERE status = ? AND created_at < ?`,
		models.EventStatusSynced, dbx.Millis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up events: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes every event.
func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM offline_events`); err != nil {
		return fmt.Errorf("failed to clear events: %w", err)
	}
	return nil
}
