package main

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDataDir(t *testing.T) (dir, dbPath string) {
	t.Helper()
	dir = t.TempDir()
	dbPath = filepath.Join(dir, "game.db")
	poolFile := "protocol: sqlite\npassword: secret\ndatabase: " + dbPath + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sql_pool.yml"), []byte(poolFile), 0o600))
	return dir, dbPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := RootCmd()
	root.SetArgs(append(args, "--log-level", "disabled"))
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPingCommand(t *testing.T) {
	dir, dbPath := setupDataDir(t)
	out, err := run(t, "ping", "--data-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "ok: sqlite "+dbPath+"\n", out)
	assert.FileExists(t, filepath.Join(dir, "config.yml"))
}

func TestStatsCommand(t *testing.T) {
	dir, _ := setupDataDir(t)
	out, err := run(t, "stats", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "in_use: 0")
	assert.Contains(t, out, "max_open: 3")
	assert.Contains(t, out, "capacity: 4")
}

func TestConfigCommand_HidesPassword(t *testing.T) {
	dir, _ := setupDataDir(t)
	out, err := run(t, "config", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "protocol: sqlite")
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, "secret")
}

func TestRunScriptCommand(t *testing.T) {
	dir, dbPath := setupDataDir(t)
	scriptPath := filepath.Join(dir, "init.sql")
	require.NoError(t, os.WriteFile(scriptPath, []byte(
		"CREATE TABLE %PREFIX%homes (owner TEXT, name TEXT)|\n"+
			"INSERT INTO %PREFIX%homes VALUES ('steve', 'a|b')|\n"), 0o600))

	_, err := run(t, "run-script", scriptPath, "--data-dir", dir, "--set", "%PREFIX%=dl_", "--delimiter", "|", "--log-queries")
	require.NoError(t, err)

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()
	var name string
	require.NoError(t, db.QueryRow("SELECT name FROM dl_homes WHERE owner = 'steve'").Scan(&name))
	assert.Equal(t, "a|b", name)
}

func TestRunScriptCommand_InvalidFlags(t *testing.T) {
	dir, _ := setupDataDir(t)
	scriptPath := filepath.Join(dir, "init.sql")
	require.NoError(t, os.WriteFile(scriptPath, []byte("SELECT 1;"), 0o600))

	_, err := run(t, "run-script", scriptPath, "--data-dir", dir, "--set", "novalue")
	assert.ErrorContains(t, err, "expected key=value")
	_, err = run(t, "run-script", scriptPath, "--data-dir", dir, "--delimiter", "||")
	assert.ErrorContains(t, err, "single character")
	_, err = run(t, "run-script", scriptPath, "--data-dir", dir, "--delimiter", "'")
	assert.Error(t, err)
	_, err = run(t, "run-script", "--data-dir", dir)
	assert.Error(t, err)
}

func TestMigrateCommand(t *testing.T) {
	dir, _ := setupDataDir(t)
	migrations := filepath.Join(dir, "migrations")
	require.NoError(t, os.MkdirAll(migrations, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(migrations, "00001_init.sql"), []byte(
		"-- +goose Up\nCREATE TABLE players (uuid TEXT PRIMARY KEY);\n\n-- +goose Down\nDROP TABLE players;\n"), 0o600))

	out, err := run(t, "migrate", migrations, "--data-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "schema version: 1\n", out)
}

func TestDisabledPool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("enable_sql_pool: false\n"), 0o600))
	_, err := run(t, "ping", "--data-dir", dir)
	assert.ErrorContains(t, err, "disabled")
}
