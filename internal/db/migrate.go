package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"file-portal/internal/logging"
)

//go:embed migrations
var migrationsFS embed.FS

// RunMigrations applies every pending migration for the dialect to conn.
func RunMigrations(conn *sql.DB, d Dialect) error {
	source, err := iofs.New(migrationsFS, "migrations/"+string(d))
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	var driver database.Driver
	switch d {
	case Postgres:
		driver, err = pgxmigrate.WithInstance(conn, &pgxmigrate.Config{})
	case SQLite:
		driver, err = sqlitemigrate.WithInstance(conn, &sqlitemigrate.Config{})
	default:
		return fmt.Errorf("unknown dialect %q", d)
	}
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	// m.Close is not called: it would close conn, which the caller still owns.
	m, err := migrate.NewWithInstance("iofs", source, string(d), driver)
	if err != nil {
		return fmt.Errorf("migration init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up: %w", err)
	}

	version, dirty, _ := m.Version()
	logging.Info("migrations_complete", map[string]any{
		"dialect": string(d),
		"version": version,
		"dirty":   dirty,
	})
	return nil
}
