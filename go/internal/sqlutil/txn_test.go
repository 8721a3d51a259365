package sqlutil

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommitsOrRollsBack(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()

	database, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	// temp tables are per connection
	conn, err := database.Conn(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = conn.ExecContext(ctx, `CREATE TEMP TABLE txn_rows (n int)`)
	require.NoError(t, err)

	bind := func(tx *sql.Tx) *sql.Tx { return tx }
	insert := func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO txn_rows (n) VALUES (1)`)
		return err
	}

	require.NoError(t, Run(ctx, conn, nil, bind, insert))

	errAbort := errors.New("abort")
	err = Run(ctx, conn, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, bind, func(tx *sql.Tx) error {
		if err := insert(tx); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT count(*) FROM txn_rows`).Scan(&n))
	assert.Equal(t, 1, n)
}
