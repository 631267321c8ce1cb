package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSplitSQLStatements(t *testing.T) {
	content := `
-- activities
CREATE TABLE IF NOT EXISTS a (
    x UInt64
) ENGINE = MergeTree ORDER BY x;

-- second
CREATE TABLE IF NOT EXISTS b (y String) ENGINE = Memory;
SELECT 1`

	stmts := splitSQLStatements(content)
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS a (\n    x UInt64\n) ENGINE = MergeTree ORDER BY x", stmts[0])
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS b (y String) ENGINE = Memory", stmts[1])
	assert.Equal(t, "SELECT 1", stmts[2])
}

func TestRunClickHouseMigrations(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002_b.up.sql"), []byte("SELECT 2;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.up.sql"), []byte("SELECT 1;\nSELECT 11;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.down.sql"), []byte("DROP TABLE a;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("docs"), 0o600))

	db := &fakeExecer{}
	require.NoError(t, RunClickHouseMigrations(testContext(t), db, dir, zap.NewNop()))
	assert.Equal(t, []string{"SELECT 1", "SELECT 11", "SELECT 2"}, db.statements)
}

func TestRunClickHouseMigrations_StopsOnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.sql"), []byte("SELECT 1;\nSELECT 2;\nSELECT 3;"), 0o600))

	db := &fakeExecer{failOn: 2}
	err := RunClickHouseMigrations(testContext(t), db, dir, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement 2 in 001_a.sql")
	assert.Len(t, db.statements, 2)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
