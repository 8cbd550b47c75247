package migrate

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/ApocalypseJiaWei/go_dblib/internal/testdb"
	"github.com/ApocalypseJiaWei/go_dblib/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrations() fstest.MapFS {
	return fstest.MapFS{
		"migrations/00001_create_players.sql": {Data: []byte(`-- +goose Up
CREATE TABLE players (
    uuid TEXT PRIMARY KEY,
    name TEXT NOT NULL
);

-- +goose Down
DROP TABLE players;
`)},
		"migrations/00002_add_balance.sql": {Data: []byte(`-- +goose Up
ALTER TABLE players ADD COLUMN balance INTEGER NOT NULL DEFAULT 0;

-- +goose Down
ALTER TABLE players DROP COLUMN balance;
`)},
	}
}

func TestDialect(t *testing.T) {
	tests := map[pool.Protocol]string{
		pool.ProtocolMySQL:      "mysql",
		pool.ProtocolMariaDB:    "mysql",
		pool.ProtocolPostgreSQL: "postgres",
		pool.ProtocolSQLite:     "sqlite3",
	}
	for protocol, want := range tests {
		got, err := Dialect(protocol)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := Dialect("oracle")
	assert.Error(t, err)
}

func TestUpAndVersion(t *testing.T) {
	ctx := context.Background()
	p := testdb.Open(t)

	require.NoError(t, Up(ctx, p, migrations(), "migrations"))
	v, err := Version(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = p.DB().ExecContext(ctx, "INSERT INTO players (uuid, name, balance) VALUES ('u1', 'steve', 5)")
	require.NoError(t, err)

	// applying again is a no-op
	require.NoError(t, Up(ctx, p, migrations(), "migrations"))
	v, err = Version(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestUp_BrokenMigration(t *testing.T) {
	ctx := context.Background()
	p := testdb.Open(t)
	fsys := fstest.MapFS{
		"migrations/00001_broken.sql": {Data: []byte("-- +goose Up\nCREATE TABL nope;\n")},
	}
	err := Up(ctx, p, fsys, "migrations")
	assert.ErrorContains(t, err, "migrate: apply migrations")
}
