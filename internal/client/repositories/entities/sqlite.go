package entities

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

// fkColumns maps a referenced entity type to the (table, column) pairs that
// may point at it. Kept in sync with the migration schema.
var fkColumns = map[models.EntityType][]struct{ table, column string }{
	models.EntityTypeCategory: {
		{"items", "category_id"},
	},
	models.EntityTypeContainer: {
		{"items", "container_id"},
		{"containers", "parent_id"},
	},
	models.EntityTypeLocation: {
		{"items", "location_id"},
		{"containers", "location_id"},
	},
}

func tableFor(t models.EntityType) (string, error) {
	switch t {
	case models.EntityTypeItem:
		return "items", nil
	case models.EntityTypeContainer:
		return "containers", nil
	case models.EntityTypeCategory:
		return "categories", nil
	case models.EntityTypeLocation:
		return "locations", nil
	default:
		return "", fmt.Errorf("unknown entity type %q", t)
	}
}

func selectColumns(t models.EntityType) string {
	switch t {
	case models.EntityTypeItem:
		return "id, name, description, external_code, quantity, price, category_id, container_id, location_id, photo_id, deleted, created_at, updated_at"
	case models.EntityTypeContainer:
		return "id, name, description, external_code, parent_id, location_id, deleted, created_at, updated_at"
	case models.EntityTypeCategory:
		return "id, name, color, deleted, created_at, updated_at"
	case models.EntityTypeLocation:
		return "id, name, address, deleted, created_at, updated_at"
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(t models.EntityType, row rowScanner) (models.Entity, error) {
	var deleted int
	var createdAt, updatedAt int64

	switch t {
	case models.EntityTypeItem:
		e := &models.Item{}
		err := row.Scan(&e.ID, &e.Name, &e.Description, &e.ExternalCode, &e.Quantity, &e.Price,
			&e.CategoryID, &e.ContainerID, &e.LocationID, &e.PhotoID, &deleted, &createdAt, &updatedAt)
		if err != nil {
			return nil, err
		}
		e.Deleted = deleted == 1
		e.CreatedAt = dbx.FromMillis(createdAt)
		e.UpdatedAt = dbx.FromMillis(updatedAt)
		return e, nil
	case models.EntityTypeContainer:
		e := &models.Container{}
		err := row.Scan(&e.ID, &e.Name, &e.Description, &e.ExternalCode, &e.ParentID, &e.LocationID,
			&deleted, &createdAt, &updatedAt)
		if err != nil {
			return nil, err
		}
		e.Deleted = deleted == 1
		e.CreatedAt = dbx.FromMillis(createdAt)
		e.UpdatedAt = dbx.FromMillis(updatedAt)
		return e, nil
	case models.EntityTypeCategory:
		e := &models.Category{}
		err := row.Scan(&e.ID, &e.Name, &e.Color, &deleted, &createdAt, &updatedAt)
		if err != nil {
			return nil, err
		}
		e.Deleted = deleted == 1
		e.CreatedAt = dbx.FromMillis(createdAt)
		e.UpdatedAt = dbx.FromMillis(updatedAt)
		return e, nil
	case models.EntityTypeLocation:
		e := &models.Location{}
		err := row.Scan(&e.ID, &e.Name, &e.Address, &deleted, &createdAt, &updatedAt)
		if err != nil {
			return nil, err
		}
		e.Deleted = deleted == 1
		e.CreatedAt = dbx.FromMillis(createdAt)
		e.UpdatedAt = dbx.FromMillis(updatedAt)
		return e, nil
	}
	return nil, fmt.Errorf("unknown entity type %q", t)
}

// Get returns the entity with the given id, soft-deleted rows included.
func (r *SQLiteRepository) Get(ctx context.Context, t models.EntityType, id string) (models.Entity, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, selectColumns(t), table)
	e, err := scanEntity(t, r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", t, id, err)
	}
	return e, nil
}

// Upsert inserts or fully replaces the entity row.
func (r *SQLiteRepository) Upsert(ctx context.Context, e models.Entity) error {
	deleted := 0
	if e.IsDeleted() {
		deleted = 1
	}
	created := dbx.Millis(e.Created())
	updated := dbx.Millis(e.Modified())

	var query string
	var args []any

	switch v := e.(type) {
	case *models.Item:
		query = `INSERT INTO items (id, name, description, external_code, quantity, price, category_id, container_id, location_id, photo_id, deleted, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name,
				description = excluded.description,
				external_code = excluded.external_code,
				quantity = excluded.quantity,
				price = excluded.price,
				category_id = excluded.category_id,
				container_id = excluded.container_id,
				location_id = excluded.location_id,
				photo_id = excluded.photo_id,
				deleted = excluded.deleted,
				updated_at = excluded.updated_at`
		args = []any{v.ID, v.Name, v.Description, v.ExternalCode, v.Quantity, v.Price,
			v.CategoryID, v.ContainerID, v.LocationID, v.PhotoID, deleted, created, updated}
	case *models.Container:
		query = `INSERT INTO containers (id, name, description, external_code, parent_id, location_id, deleted, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name,
				description = excluded.description,
				external_code = excluded.external_code,
				parent_id = excluded.parent_id,
				location_id = excluded.location_id,
				deleted = excluded.deleted,
				updated_at = excluded.updated_at`
		args = []any{v.ID, v.Name, v.Description, v.ExternalCode, v.ParentID, v.LocationID, deleted, created, updated}
	case *models.Category:
		query = `INSERT INTO categories (id, name, color, deleted, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name,
				color = excluded.color,
				deleted = excluded.deleted,
				updated_at = excluded.updated_at`
		args = []any{v.ID, v.Name, v.Color, deleted, created, updated}
	case *models.Location:
		query = `INSERT INTO locations (id, name, address, deleted, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name,
				address = excluded.address,
				deleted = excluded.deleted,
				updated_at = excluded.updated_at`
		args = []any{v.ID, v.Name, v.Address, deleted, created, updated}
	default:
		return fmt.Errorf("unknown entity type %T", e)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", e.Type(), e.EntityID(), err)
	}
	return nil
}

// SoftDelete marks the row deleted and bumps its updated_at.
func (r *SQLiteRepository) SoftDelete(ctx context.Context, t models.EntityType, id string, at time.Time) error {
	table, err := tableFor(t)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET deleted = 1, updated_at = ? WHERE id = ? AND deleted = 0`, table)
	res, err := r.db.ExecContext(ctx, query, dbx.Millis(at), id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete %s %s: %w", t, id, err)
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

func (r *SQLiteRepository) list(ctx context.Context, t models.EntityType, query string, args ...any) ([]models.Entity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s rows: %w", t, err)
	}
	defer rows.Close()

	var result []models.Entity
	for rows.Next() {
		e, err := scanEntity(t, rows)
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

// ListChangedSince returns rows with updated_at strictly after since.
func (r *SQLiteRepository) ListChangedSince(ctx context.Context, t models.EntityType, since time.Time) ([]models.Entity, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE updated_at > ? ORDER BY updated_at`, selectColumns(t), table)
	return r.list(ctx, t, query, dbx.Millis(since))
}

// ListAll returns every row of the type.
func (r *SQLiteRepository) ListAll(ctx context.Context, t models.EntityType) ([]models.Entity, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at`, selectColumns(t), table)
	return r.list(ctx, t, query)
}

// FindByExternalCode returns the non-deleted entity carrying the given code.
func (r *SQLiteRepository) FindByExternalCode(ctx context.Context, t models.EntityType, code string) (models.Entity, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}
	if t != models.EntityTypeItem && t != models.EntityTypeContainer {
		return nil, shared.ErrorNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE external_code = ? AND deleted = 0`, selectColumns(t), table)
	e, err := scanEntity(t, r.db.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s by code %q: %w", t, code, err)
	}
	return e, nil
}

// Rekey changes a row's primary key in place.
func (r *SQLiteRepository) Rekey(ctx context.Context, t models.EntityType, oldID, newID string) error {
	table, err := tableFor(t)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET id = ? WHERE id = ?`, table), newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to rekey %s %s: %w", t, oldID, err)
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

// RewriteForeignKeys replaces oldID with newID in every referencing column.
func (r *SQLiteRepository) RewriteForeignKeys(ctx context.Context, refType models.EntityType, oldID, newID string) (int64, error) {
	var total int64
	for _, fk := range fkColumns[refType] {
		query := fmt.Sprintf(`UPDATE %s SET %s = ? WHERE %s = ?`, fk.table, fk.column, fk.column)
		res, err := r.db.ExecContext(ctx, query, newID, oldID)
		if err != nil {
			return total, fmt.Errorf("failed to rewrite %s.%s: %w", fk.table, fk.column, err)
		}
		ra, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += ra
	}
	return total, nil
}
