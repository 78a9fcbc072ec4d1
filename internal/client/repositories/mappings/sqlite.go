package mappings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ivolkov/shelfsync/internal/client/models"
	"github.com/ivolkov/shelfsync/internal/dbx"
	"github.com/ivolkov/shelfsync/internal/shared"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Register records a new mapping, refusing to overwrite an existing one.
func (r *SQLiteRepository) Register(ctx context.Context, m *models.IDMapping) error {
	existing, err := r.Resolve(ctx, m.EntityType, m.LocalID)
	if err != nil && !errors.Is(err, shared.ErrorMappingUnresolved) {
		return err
	}
	if err == nil {
		if existing == m.ServerID {
			return nil
		}
		return fmt.Errorf("mapping %s/%s already bound to %s: %w",
			m.EntityType, m.LocalID, existing, shared.ErrorMappingConflict)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO id_mappings (entity_type, local_id, server_id, created_at) VALUES (?, ?, ?, ?)`,
		m.EntityType, m.LocalID, m.ServerID, dbx.Millis(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to register mapping %s/%s: %w", m.EntityType, m.LocalID, err)
	}
	return nil
}

// Resolve returns the server id for a local id.
func (r *SQLiteRepository) Resolve(ctx context.Context, t models.EntityType, localID string) (string, error) {
	var serverID string
	err := r.db.QueryRowContext(ctx,
		`SELECT server_id FROM id_mappings WHERE entity_type = ? AND local_id = ?`,
		t, localID).Scan(&serverID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no mapping for %s/%s: %w", t, localID, shared.ErrorMappingUnresolved)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve mapping %s/%s: %w", t, localID, err)
	}
	return serverID, nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]*models.IDMapping, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select mappings: %w", err)
	}
	defer rows.Close()

	var result []*models.IDMapping
	for rows.Next() {
		m := &models.IDMapping{}
		var createdAt int64
		if err := rows.Scan(&m.EntityType, &m.LocalID, &m.ServerID, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = dbx.FromMillis(createdAt)
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// List returns all mappings, oldest first.
func (r *SQLiteRepository) List(ctx context.Context) ([]*models.IDMapping, error) {
	return r.query(ctx, `SELECT entity_type, local_id, server_id, created_at FROM id_mappings ORDER BY created_at`)
}

// ListOlderThan returns mappings created before the cutoff, oldest first.
func (r *SQLiteRepository) ListOlderThan(ctx context.Context, olderThan time.Time) ([]*models.IDMapping, error) {
	return r.query(ctx,
		`SELECT entity_type, local_id, server_id, created_at FROM id_mappings WHERE created_at < ? ORDER BY created_at`,
		dbx.Millis(olderThan))
}

// Delete removes one mapping.
func (r *SQLiteRepository) Delete(ctx context.Context, t models.EntityType, localID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM id_mappings WHERE entity_type = ? AND local_id = ?`, t, localID)
	if err != nil {
		return fmt.Errorf("failed to delete mapping %s/%s: %w", t, localID, err)
	}
	return nil
}
