package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/starbuy/pkg/config"
)

func TestShippedMigrationsValidate(t *testing.T) {
	require.NoError(t, Validate(embedded, "migrations"))
	require.NoError(t, Validate(os.DirFS("migrations"), "."))
}

func TestEmbeddedMatchesSourceTree(t *testing.T) {
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	require.NoError(t, err)
	inBinary, err := fs.Glob(Embedded().FS, "migrations/*.sql")
	require.NoError(t, err)
	assert.Len(t, inBinary, len(onDisk))
}

func TestMigrationsCoverSchema(t *testing.T) {
	checks := map[string][]string{
		"*_create_accounts.sql": {
			"CREATE TABLE IF NOT EXISTS accounts",
			"CHECK (balance >= 0)",
		},
		"*_create_autobuy_policies.sql": {
			"CREATE TABLE IF NOT EXISTS autobuy_policies",
			"price_min <= price_max",
			"cycles BETWEEN 1 AND 100",
		},
		"*_create_items.sql": {
			"item_id           TEXT PRIMARY KEY",
			"is_new            BOOLEAN     NOT NULL DEFAULT TRUE",
		},
		"*_create_ledger_entries.sql": {
			"CREATE TYPE ledger_entry_status AS ENUM ('completed', 'refunded')",
			"ux_ledger_entries_deposit_charge",
		},
		"*_create_payment_intents.sql": {
			"CREATE TYPE payment_kind AS ENUM ('deposit', 'purchase')",
			"DROP TABLE IF EXISTS payment_intents",
		},
	}
	for pattern, wants := range checks {
		matches, err := filepath.Glob(filepath.Join("migrations", pattern))
		require.NoError(t, err)
		require.Len(t, matches, 1, pattern)
		data, err := os.ReadFile(matches[0])
		require.NoError(t, err)
		for _, want := range wants {
			assert.Contains(t, string(data), want, pattern)
		}
	}
}

func TestCreateMigration(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)

	path, err := createAt(dir, "Add Refund Index!", at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260504030201_add_refund_index.sql"), path)
	require.NoError(t, Validate(os.DirFS(dir), "."))

	_, err = createAt(dir, "add refund index", at)
	require.Error(t, err)
	_, err = createAt(dir, "!!!", at)
	require.Error(t, err)
}

func TestValidateRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad-name.sql"), []byte("-- +goose Up"), 0o644))
	require.Error(t, Validate(os.DirFS(dir), "."))

	dir = t.TempDir()
	body := "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260101000000_unbalanced.sql"), []byte(body), 0o644))
	err := Validate(os.DirFS(dir), ".")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "StatementBegin"))
}

func TestDialect(t *testing.T) {
	assert.Equal(t, "sqlite3", Dialect(config.DriverSQLite))
	assert.Equal(t, "postgres", Dialect(config.DriverPostgres))
	assert.Equal(t, "postgres", Dialect(""))
}
