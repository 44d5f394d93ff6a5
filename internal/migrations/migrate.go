package migrations

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Anvoria/keyrelay/internal/config"
	"github.com/Anvoria/keyrelay/internal/domain/session"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed sql/*.sql
var files embed.FS

// Direction selects which way migrations are applied
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// RunMigrations brings the schema up to date
func RunMigrations(cfg *config.DatabaseConfig, db *gorm.DB) error {
	return Run(cfg, db, Up)
}

// Run applies migrations in direction. Postgres uses the embedded SQL files,
// sqlite is migrated from the models and the memory driver has nothing to do.
// Being already at the target version is not an error.
func Run(cfg *config.DatabaseConfig, db *gorm.DB, direction Direction) error {
	if cfg == nil {
		return errors.New("database config is required")
	}
	if direction != Up && direction != Down {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}

	switch cfg.Driver {
	case config.DriverPostgres:
		return runSQL(cfg.URL(), direction)
	case config.DriverSQLite:
		return runModels(db, direction)
	case config.DriverMemory:
		return nil
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func runSQL(url string, direction Direction) error {
	source, err := iofs.New(files, "sql")
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, url)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("Database schema already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations %s: %w", direction, err)
	}

	version, dirty, _ := m.Version()
	slog.Info("Database migrations applied", "direction", direction, "version", version, "dirty", dirty)
	return nil
}

func runModels(db *gorm.DB, direction Direction) error {
	if db == nil {
		return errors.New("database handle is required for sqlite migrations")
	}

	models := []any{&session.Session{}, &session.ConsumedNonce{}}
	if direction == Down {
		if err := db.Migrator().DropTable(models...); err != nil {
			return fmt.Errorf("failed to drop tables: %w", err)
		}
		return nil
	}

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to make migrations: %w", err)
	}
	return nil
}
