// Package database sets up/opens the crawl database.
package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"

	// Package sqlite3 provides interface to SQLite3 databases.
	_ "github.com/mattn/go-sqlite3"
)

const dbDriver = "sqlite3"

// Database holds the database instance for Tubecrawl.
type Database struct {
	DB *sql.DB
}

// InitDB opens the database at path, creating tables and running migrations.
//
// When recreate is true, the backing file (and its WAL sidecars) is deleted
// before opening, giving a fresh run.
func InitDB(path string, recreate bool) (d *Database, err error) {
	if recreate {
		for _, p := range []string{path, path + "-wal", path + "-shm"} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to remove %q for fresh run: %w", p, err)
			}
		}
	}

	d = new(Database)
	d.DB, err = sql.Open(dbDriver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at path %q: %w", path, err)
	}

	// Enable foreign keys
	if _, err := d.DB.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Enable Write-Ahead Logging for concurrent access
	if _, err := d.DB.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Allow SQLite to wait for locks (in milliseconds)
	if _, err := d.DB.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}

	// Slightly reduce fsync frequency for faster writes
	if _, err := d.DB.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	if err := d.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate legacy schema: %w", err)
	}
	if err := d.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}
	return d, nil
}

// OpenReadOnly opens an existing database read-only, e.g. a reference store
// for incremental video crawls. No schema changes are made.
func OpenReadOnly(path string) (*Database, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("reference database %q: %w", path, err)
	}

	dsn := "file:" + url.PathEscape(path) + "?mode=ro"
	db, err := sql.Open(dbDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference database %q: %w", path, err)
	}
	return &Database{DB: db}, nil
}

// Close closes the underlying connection.
func (d *Database) Close() error {
	return d.DB.Close()
}
