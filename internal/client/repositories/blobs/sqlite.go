package blobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ivolkov/shelfsync/internal/client/models"
	"github.com/ivolkov/shelfsync/internal/dbx"
	"github.com/ivolkov/shelfsync/internal/shared"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, b *models.ImageBlob) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO image_blobs (id, entity_id, mime, data, uploaded, remote_key, created_at)
		 VALUES (?, ?, ?, ?, 0, '', ?)`,
		b.ID, b.EntityID, b.MIME, b.Data, dbx.Millis(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert blob %s: %w", b.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.ImageBlob, error) {
	b := &models.ImageBlob{}
	var uploaded int
	var createdAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, entity_id, mime, data, uploaded, remote_key, created_at FROM image_blobs WHERE id = ?`, id).
		Scan(&b.ID, &b.EntityID, &b.MIME, &b.Data, &uploaded, &b.RemoteKey, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s: %w", id, err)
	}
	b.Uploaded = uploaded == 1
	b.CreatedAt = dbx.FromMillis(createdAt)
	return b, nil
}

func (r *SQLiteRepository) ListPending(ctx context.Context) ([]*models.ImageBlob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entity_id, mime, data, uploaded, remote_key, created_at FROM image_blobs WHERE uploaded = 0 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending blobs: %w", err)
	}
	defer rows.Close()

	var result []*models.ImageBlob
	for rows.Next() {
		b := &models.ImageBlob{}
		var uploaded int
		var createdAt int64
		if err := rows.Scan(&b.ID, &b.EntityID, &b.MIME, &b.Data, &uploaded, &b.RemoteKey, &createdAt); err != nil {
			return nil, err
		}
		b.Uploaded = uploaded == 1
		b.CreatedAt = dbx.FromMillis(createdAt)
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkUploaded records the remote key and drops the local bytes, since the
// object store is now the source for the photo.
func (r *SQLiteRepository) MarkUploaded(ctx context.Context, id, remoteKey string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE image_blobs SET uploaded = 1, remote_key = ?, data = x'' WHERE id = ?`, remoteKey, id)
	if err != nil {
		return fmt.Errorf("failed to mark blob %s uploaded: %w", id, err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return shared.ErrorNotFound
	}
	return nil
}
