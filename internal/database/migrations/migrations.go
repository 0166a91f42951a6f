package migrations

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/uptrace/bun"
)

type Options struct {
	// MigrationsDir is the directory containing migration files.
	MigrationsDir string
	// AutoMigrate determines whether to run migrations automatically on startup.
	AutoMigrate bool
}

func DefaultOptions() Options {
	return Options{
		MigrationsDir: "./migrations",
		AutoMigrate:   true,
	}
}

// Runner applies the SQL schema through golang-migrate over the bun
// connection.
type Runner struct {
	bunDB    *bun.DB
	options  Options
	migrator *migrate.Migrate
}

func NewRunner(bunDB *bun.DB, opts Options) *Runner {
	return &Runner{bunDB: bunDB, options: opts}
}

func (r *Runner) initialize() error {
	driver, err := postgres.WithInstance(r.bunDB.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	if _, err := os.Stat(r.options.MigrationsDir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", r.options.MigrationsDir)
	}

	migrator, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", r.options.MigrationsDir),
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	r.migrator = migrator
	return nil
}

// RunMigrations applies all pending migrations.
func (r *Runner) RunMigrations() error {
	if r.migrator == nil {
		if err := r.initialize(); err != nil {
			return err
		}
	}
	if err := r.migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
