package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/Anvoria/keyrelay/internal/config"
	"github.com/Anvoria/keyrelay/internal/domain/session"
	"github.com/Anvoria/keyrelay/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRunMigrations_InvalidConfig tests migration with invalid configuration
func TestRunMigrations_InvalidConfig(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		assert.Error(t, RunMigrations(nil, nil))
	})

	t.Run("unknown driver", func(t *testing.T) {
		err := RunMigrations(&config.DatabaseConfig{Driver: "mysql"}, nil)
		assert.ErrorContains(t, err, "unsupported database driver")
	})

	t.Run("unknown direction", func(t *testing.T) {
		err := Run(&config.DatabaseConfig{Driver: config.DriverMemory}, nil, "sideways")
		assert.ErrorContains(t, err, "direction must be up or down")
	})

	t.Run("sqlite without handle", func(t *testing.T) {
		err := RunMigrations(&config.DatabaseConfig{Driver: config.DriverSQLite}, nil)
		assert.Error(t, err)
	})

	t.Run("invalid postgres url", func(t *testing.T) {
		cfg := &config.DatabaseConfig{
			Driver:   config.DriverPostgres,
			Host:     "invalid-host-that-does-not-exist.invalid",
			Port:     5432,
			User:     "invalid",
			Password: "invalid",
			DBName:   "invalid",
			SSLMode:  "disable",
		}
		err := RunMigrations(cfg, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create migrate instance")
	})
}

func TestRunMigrations_MemoryIsNoop(t *testing.T) {
	assert.NoError(t, RunMigrations(&config.DatabaseConfig{Driver: config.DriverMemory}, nil))
}

func TestRunMigrations_SQLite(t *testing.T) {
	db := utils.SetupTestDB(t)
	cfg := &config.DatabaseConfig{Driver: config.DriverSQLite}

	require.NoError(t, RunMigrations(cfg, db))
	// idempotent
	require.NoError(t, RunMigrations(cfg, db))

	assert.True(t, db.Migrator().HasTable(&session.Session{}))
	assert.True(t, db.Migrator().HasTable(&session.ConsumedNonce{}))
	assert.True(t, db.Migrator().HasIndex(&session.ConsumedNonce{}, "idx_consumed_nonces_pair"))

	require.NoError(t, Run(cfg, db, Down))
	assert.False(t, db.Migrator().HasTable(&session.Session{}))
}

// TestMigrationFiles checks every up migration has a matching down migration
func TestMigrationFiles(t *testing.T) {
	entries, err := fs.ReadDir(files, "sql")
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = true
	}
	require.NotEmpty(t, names)

	for name := range names {
		assert.Regexp(t, `^\d{6}_[a-z_]+\.(up|down)\.sql$`, name)
		if base, ok := strings.CutSuffix(name, ".up.sql"); ok {
			assert.True(t, names[base+".down.sql"], "missing down migration for %s", base)
		}
	}
}

func TestMigrationSQL_SessionsTable(t *testing.T) {
	up, err := fs.ReadFile(files, "sql/000001_create_sessions.up.sql")
	require.NoError(t, err)

	for _, column := range []string{
		"session_public_key",
		"user_main_public_key",
		"expires_at",
		"is_revoked",
		"revoked_at",
		"created_at",
	} {
		assert.Contains(t, string(up), column)
	}
	assert.Contains(t, string(up), "idx_sessions_expiry")
}

func TestMigrationSQL_ConsumedNoncesTable(t *testing.T) {
	up, err := fs.ReadFile(files, "sql/000002_create_consumed_nonces.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "CREATE UNIQUE INDEX IF NOT EXISTS idx_consumed_nonces_pair")

	down, err := fs.ReadFile(files, "sql/000002_create_consumed_nonces.down.sql")
	require.NoError(t, err)
	assert.Contains(t, string(down), "DROP TABLE IF EXISTS consumed_nonces")
}

// TestDatabaseURL_Format tests that the database URL is properly formatted
func TestDatabaseURL_Format(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "keyrelay",
		SSLMode:  "disable",
	}

	url := cfg.URL()
	for _, check := range []string{"postgres://", "localhost:5432", "keyrelay", "sslmode=disable"} {
		assert.Contains(t, url, check)
	}
}
