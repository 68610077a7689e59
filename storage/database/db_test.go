package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azardenmark/dashboard-sub000/core"
)

func TestOpen_UnsupportedEngine(t *testing.T) {
	_, err := Open(context.Background(), core.DatabaseConfig{Engine: "mysql"})
	assert.EqualError(t, err, `opening database: unsupported database engine "mysql"`)
}

func TestMigrate_SQLite(t *testing.T) {
	ctx := context.Background()
	conf := core.DatabaseConfig{Engine: EngineSQLite, Name: filepath.Join(t.TempDir(), "accounts.db")}
	db, err := Open(ctx, conf)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, CreateIfNotExist(ctx, conf))
	require.NoError(t, Migrate(ctx, db, conf.Engine))
	// a second run finds nothing to apply
	require.NoError(t, Migrate(ctx, db, conf.Engine))

	var tables []string
	require.NoError(t, db.SelectContext(ctx, &tables, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name"))
	assert.Contains(t, tables, "accounts")

	require.NoError(t, Run(ctx, db, conf.Engine, "down"))
	tables = nil
	require.NoError(t, db.SelectContext(ctx, &tables, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'accounts'"))
	assert.NotEmpty(t, tables, "only the last migration is rolled back")

	assert.Error(t, Run(ctx, db, conf.Engine, "lol"))
}
