package conflicts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ivolkov/shelfsync/internal/client/models"
	"github.com/ivolkov/shelfsync/internal/dbx"
	"github.com/ivolkov/shelfsync/internal/shared"
)

const columns = `id, type, entity_type, entity_id, local_ts, remote_ts, local_snapshot, remote_snapshot, local_changed, resolution, resolved_at, created_at`

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

func scanConflict(row rowScanner) (*models.ConflictRecord, error) {
	c := &models.ConflictRecord{}
	var localTS, remoteTS, createdAt int64
	var resolvedAt sql.NullInt64
	var localSnapshot, remoteSnapshot, localChanged string
	err := row.Scan(&c.ID, &c.Type, &c.EntityType, &c.EntityID, &localTS, &remoteTS,
		&localSnapshot, &remoteSnapshot, &localChanged, &c.Resolution, &resolvedAt, &createdAt)
	if err != nil {
		return nil, err
	}
	c.LocalTimestamp = dbx.FromMillis(localTS)
	c.RemoteTimestamp = dbx.FromMillis(remoteTS)
	c.LocalSnapshot = []byte(localSnapshot)
	c.RemoteSnapshot = []byte(remoteSnapshot)
	c.CreatedAt = dbx.FromMillis(createdAt)
	if resolvedAt.Valid {
		t := dbx.FromMillis(resolvedAt.Int64)
		c.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(localChanged), &c.LocalChanged); err != nil {
		return nil, fmt.Errorf("failed to decode local_changed: %w", err)
	}
	return c, nil
}

// Create stores a new, pending conflict record.
func (r *SQLiteRepository) Create(ctx context.Context, c *models.ConflictRecord) error {
	localChanged, err := json.Marshal(c.LocalChanged)
	if err != nil {
		return fmt.Errorf("failed to encode local_changed: %w", err)
	}
	if c.LocalChanged == nil {
		localChanged = []byte("[]")
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO conflicts (id, type, entity_type, entity_id, local_ts, remote_ts, local_snapshot, remote_snapshot, local_changed, resolution, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?)`,
		c.ID, c.Type, c.EntityType, c.EntityID,
		dbx.Millis(c.LocalTimestamp), dbx.Millis(c.RemoteTimestamp),
		string(c.LocalSnapshot), string(c.RemoteSnapshot), string(localChanged),
		dbx.Millis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create conflict record: %w", err)
	}
	return nil
}

// Get returns the record by id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.ConflictRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM conflicts WHERE id = ?`, columns)
	c, err := scanConflict(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict %s: %w", id, err)
	}
	return c, nil
}

// FindPending returns the pending record for the entity/timestamp pair.
func (r *SQLiteRepository) FindPending(ctx context.Context, t models.EntityType, entityID string, localTS, remoteTS time.Time) (*models.ConflictRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM conflicts WHERE entity_type = ? AND entity_id = ? AND local_ts = ? AND remote_ts = ? AND resolution = ''`,
		columns)
	c, err := scanConflict(r.db.QueryRowContext(ctx, query, t, entityID, dbx.Millis(localTS), dbx.Millis(remoteTS)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending conflict: %w", err)
	}
	return c, nil
}

// ListPending returns unresolved records ordered by conflict priority.
func (r *SQLiteRepository) ListPending(ctx context.Context) ([]*models.ConflictRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM conflicts WHERE resolution = '' ORDER BY created_at`, columns)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending conflicts: %w", err)
	}
	defer rows.Close()

	var result []*models.ConflictRecord
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Destructive divergence surfaces first; creation order breaks ties.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Type.Priority() < result[j].Type.Priority()
	})
	return result, nil
}

// HasPendingForEntity reports whether the entity has an unresolved record.
func (r *SQLiteRepository) HasPendingForEntity(ctx context.Context, t models.EntityType, entityID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM conflicts WHERE entity_type = ? AND entity_id = ? AND resolution = ''`,
		t, entityID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count pending conflicts: %w", err)
	}
	return count > 0, nil
}

// Resolve writes the resolution exactly once.
func (r *SQLiteRepository) Resolve(ctx context.Context, id string, res models.Resolution, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE conflicts SET resolution = ?, resolved_at = ? WHERE id = ? AND resolution = ''`,
		res, dbx.Millis(at), id)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict %s: %w", id, err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("conflict %s: %w", id, shared.ErrorConflictResolved)
	}
	return nil
}

// Cleanup removes resolved records created before the cutoff.
func (r *SQLiteRepository) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM conflicts WHERE resolution != '' AND created_at < ?`, dbx.Millis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up conflicts: %w", err)
	}
	return res.RowsAffected()
}
