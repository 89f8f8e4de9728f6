// Package db opens the metadata database and applies its schema migrations.
//
// Two dialects are supported: SQLite (default, single-node self-hosting) and
// PostgreSQL (via the pgx stdlib driver).
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names the SQL flavour behind a *sql.DB.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect maps a configuration value to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return "", fmt.Errorf("unknown database driver %q", s)
}

// Open opens a connection pool for the given dialect and validates
// connectivity immediately.
func Open(d Dialect, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}

	var (
		conn *sql.DB
		err  error
	)
	switch d {
	case Postgres:
		conn, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, err
		}
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(10)
		conn.SetConnMaxLifetime(30 * time.Minute)
	case SQLite:
		conn, err = sql.Open("sqlite3", sqliteDSN(dsn))
		if err != nil {
			return nil, err
		}
		// One writer at a time; WAL keeps readers unblocked on disk.
		conn.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unknown dialect %q", d)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

// sqliteDSN turns a bare path into a DSN with the pragmas the store relies on:
// enforced foreign keys, WAL, a busy timeout and IMMEDIATE transactions.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") || strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	if dsn != ":memory:" {
		_ = os.MkdirAll(filepath.Dir(dsn), 0o755)
	}
	return "file:" + dsn + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
}
