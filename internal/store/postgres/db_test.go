package postgres

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStatementTimeout(t *testing.T) {
	d, err := Config{}.statementTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = Config{StatementTimeout: 45 * time.Second}.statementTimeout()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, d)

	d, err = Config{StatementTimeout: -1}.statementTimeout()
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = Config{StatementTimeout: 2 * time.Hour}.statementTimeout()
	assert.Error(t, err)
}

func TestWithStatementTimeout(t *testing.T) {
	assert.Equal(t,
		"postgres://u@h/db?options=-c+statement_timeout%3D5000",
		withStatementTimeout("postgres://u@h/db", 5*time.Second))
	assert.Equal(t,
		"postgres://u@h/db?sslmode=disable&options=-c+statement_timeout%3D5000",
		withStatementTimeout("postgres://u@h/db?sslmode=disable", 5*time.Second))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("wrapped: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("plain")))
}

func TestLoadMigrations_Embedded(t *testing.T) {
	migrations, err := loadMigrations("")
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "000001_create_rebalancings.up.sql", migrations[0].version)
	assert.Equal(t, "000002_rebalancings_trade_id_index.up.sql", migrations[1].version)
	assert.Contains(t, migrations[0].sql, "rebalancings")
}

func TestLoadMigrations_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002_b.up.sql"), []byte("SELECT 2;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.up.sql"), []byte("SELECT 1;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.down.sql"), []byte("SELECT 0;"), 0o600))

	migrations, err := loadMigrations(dir)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, migration{version: "001_a.up.sql", sql: "SELECT 1;"}, migrations[0])
	assert.Equal(t, "002_b.up.sql", migrations[1].version)
}
