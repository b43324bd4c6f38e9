package database

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/earnyha-bot/pkg/config"
)

func openTestDB(t *testing.T) *Migrator {
	t.Helper()

	db, dialect, err := Open(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewMigrator(db, dialect, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := openTestDB(t)

	applied, err := m.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	applied, err = m.Migrate(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)

	for _, table := range []string{"users", "referrals", "withdrawals"} {
		var name string
		err := m.db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestApplyRollsBackFailedMigration(t *testing.T) {
	ctx := context.Background()
	m := openTestDB(t)

	fsys := fstest.MapFS{
		"m/0001_ok.up.sql":       {Data: []byte("CREATE TABLE a (id INTEGER PRIMARY KEY);")},
		"m/0002_broken.up.sql":   {Data: []byte("CREATE TABLE b (id INTEGER PRIMARY KEY); SELECT nope FROM missing;")},
		"m/0002_broken.down.sql": {Data: []byte("DROP TABLE b;")},
	}

	applied, err := m.Apply(ctx, fsys, "m")
	require.Error(t, err)
	assert.Equal(t, 1, applied)

	var count int
	require.NoError(t, m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestListMigrations(t *testing.T) {
	names, err := ListMigrations(Migrations(), SQLite.MigrationsDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_ledger.up.sql"}, names)

	names, err = ListMigrations(Migrations(), Postgres.MigrationsDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_ledger.up.sql"}, names)
}

func TestRebind(t *testing.T) {
	q := `UPDATE users SET balance = balance - ? WHERE id = ? AND balance >= ?`

	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t,
		`UPDATE users SET balance = balance - $1 WHERE id = $2 AND balance >= $3`,
		Postgres.Rebind(q),
	)
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	d, err = ParseDialect("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	_, err = ParseDialect("oracle")
	assert.Error(t, err)
}
