// Package storage implements the durable append, indexed query, full-text
// search and rollup-statistics engine. It is the only component that
// touches the on-disk database file.
package storage

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	gosqlite3 "github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/prasad/loghub/internal/logging"
)

const SchemaVersion uint = 1

//go:embed migrations/sqlite3/*.sql
var migrationFiles embed.FS

var hooksRegistered bool

// Open creates (or reuses) the sqlite-backed store at path, running
// migrations and verifying the schema version. sqlite does not support
// concurrent writers, so the connection pool is capped at one
// connection; the ingest pipeline's single-writer model depends on this.
func Open(path string) (*sqlx.DB, error) {
	log := logging.For("storage")

	driverName := "sqlite3_loghub"
	if !hooksRegistered {
		sql.Register(driverName, sqlhooks.Wrap(&gosqlite3.SQLiteDriver{}, &queryTimingHook{}))
		hooksRegistered = true
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateSchema(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("storage opened")
	return db, nil
}

func migrateSchema(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("storage: migrate driver: %w", err)
	}

	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return fmt.Errorf("storage: migrate source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("storage: migrate init: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("storage: migrate up: %w", err)
	}

	version, _, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("storage: reading schema version: %w", err)
	}
	if version != SchemaVersion {
		return fmt.Errorf("storage: schema version mismatch: on-disk=%d expected=%d, refusing to start", version, SchemaVersion)
	}

	return nil
}
