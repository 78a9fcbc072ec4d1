package dbx

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:dbx_tests?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS notes (id INTEGER PRIMARY KEY AUTOINCREMENT, body TEXT);`)
	require.NoError(t, err)
	_, err = db.Exec(`DELETE FROM notes`)
	require.NoError(t, err)
	return db
}

func noteCount(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM notes`).Scan(&n))
	return n
}

func TestWithTxCommitsWhenFnSucceeds(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO notes(body) VALUES ('a')`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO notes(body) VALUES ('b')`)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 2, noteCount(t, db))
}

func TestWithTxRollsBackWhenFnFails(t *testing.T) {
	db := setupDB(t)

	sentinel := errors.New("no good")
	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO notes(body) VALUES ('gone')`)
		require.NoError(t, e)
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 0, noteCount(t, db))
}

func TestWithTxRollsBackAndRepanics(t *testing.T) {
	db := setupDB(t)

	defer func() {
		require.NotNil(t, recover())
		require.Equal(t, 0, noteCount(t, db))
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO notes(body) VALUES ('gone')`)
		require.NoError(t, e)
		panic("boom")
	})
}

func TestWithTxReturnsBeginError(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Close())

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		return nil
	})
	require.Error(t, err)
}
