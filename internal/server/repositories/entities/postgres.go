// Package entities provides the PostgreSQL-backed repository for server-side
// entity persistence and sync queries.
package entities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ivolkov/shelfsync/internal/dbx"
	"github.com/ivolkov/shelfsync/internal/server/models"
	"github.com/ivolkov/shelfsync/internal/shared"
)

const uniqueViolation = "23505"

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Insert stores a new entity row. A duplicate external code within the same
// entity type returns ErrorAlreadyExists.
func (r *PostgresRepository) Insert(ctx context.Context, row *models.EntityRow) error {
	query := `
		INSERT INTO entities (id, entity_type, doc, external_code, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		row.ID, row.Type, string(row.Doc), row.ExternalCode, row.Deleted, row.CreatedAt, row.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("entity %s/%s external code %q: %w", row.Type, row.ID, row.ExternalCode, shared.ErrorAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert entity %s/%s: %w", row.Type, row.ID, err)
	}
	return nil
}

// Update replaces the stored document and columns for an existing row.
func (r *PostgresRepository) Update(ctx context.Context, row *models.EntityRow) error {
	query := `
		UPDATE entities SET doc = $1, external_code = $2, deleted = $3, updated_at = $4
		WHERE entity_type = $5 AND id = $6
	`
	res, err := r.db.ExecContext(ctx, query,
		string(row.Doc), row.ExternalCode, row.Deleted, row.UpdatedAt, row.Type, row.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("entity %s/%s external code %q: %w", row.Type, row.ID, row.ExternalCode, shared.ErrorAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to update entity %s/%s: %w", row.Type, row.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return shared.ErrorNotFound
	}
	return nil
}

// SoftDelete marks the row deleted in both the columns and the document.
func (r *PostgresRepository) SoftDelete(ctx context.Context, entityType, id string, at time.Time) error {
	query := `
		UPDATE entities
		SET deleted = TRUE,
		    updated_at = $1,
		    doc = jsonb_set(jsonb_set(doc, '{deleted}', 'true'), '{updatedAt}', to_jsonb($1::timestamptz))
		WHERE entity_type = $2 AND id = $3
	`
	res, err := r.db.ExecContext(ctx, query, at, entityType, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity %s/%s: %w", entityType, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return shared.ErrorNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(s rowScanner) (*models.EntityRow, error) {
	row := &models.EntityRow{}
	var doc string
	err := s.Scan(&row.ID, &row.Type, &doc, &row.ExternalCode, &row.Deleted, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return nil, err
	}
	row.Doc = []byte(doc)
	return row, nil
}

// Get returns the row by id, including soft-deleted ones.
func (r *PostgresRepository) Get(ctx context.Context, entityType, id string) (*models.EntityRow, error) {
	query := `
		SELECT id, entity_type, doc, external_code, deleted, created_at, updated_at
		FROM entities WHERE entity_type = $1 AND id = $2
	`
	row, err := scanRow(r.db.QueryRowContext(ctx, query, entityType, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s/%s: %w", entityType, id, err)
	}
	return row, nil
}

// ListChangedSince returns rows updated strictly after since, oldest first.
// Soft-deleted rows are included so clients learn about remote deletes.
func (r *PostgresRepository) ListChangedSince(ctx context.Context, entityType string, since time.Time) ([]*models.EntityRow, error) {
	query := `
		SELECT id, entity_type, doc, external_code, deleted, created_at, updated_at
		FROM entities WHERE entity_type = $1 AND updated_at > $2
		ORDER BY updated_at
	`
	rows, err := r.db.QueryContext(ctx, query, entityType, since)
	if err != nil {
		return nil, fmt.Errorf("failed to select entities: %w", err)
	}
	defer rows.Close()

	var result []*models.EntityRow
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
