// Package db mirrors the current vehicle list into SQLite so it survives
// consumer restarts and can be inspected with standard tooling.
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// schemaSQL is embedded from schema.sql
//
//go:embed schema.sql
var schemaSQL string

// DB wraps a SQLite database connection with write serialization
type DB struct {
	conn    *sql.DB
	logger  *slog.Logger
	writeMu sync.Mutex // serializes write transactions
}

// Connect opens a SQLite database with WAL mode enabled
func Connect(dbPath string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; one connection plus writeMu avoids
	// "cannot start a transaction within a transaction" under concurrent
	// processing and cleanup.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.Warn("DB: failed to set pragma", "pragma", pragma, "error", err)
		}
	}

	logger.Info("DB: connected", "path", dbPath)
	return &DB{conn: conn, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// EnsureSchema creates tables if they don't exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	// vehicle_current keyed by vehicle id is dropped; it is refilled by the next snapshot
	var legacy int
	if err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info('vehicle_current') WHERE name = 'vehicle_key'",
	).Scan(&legacy); err != nil {
		return fmt.Errorf("failed to inspect vehicle_current: %w", err)
	}
	if legacy > 0 {
		db.logger.Warn("DB: rebuilding vehicle_current with position keys")
		if _, err := db.conn.ExecContext(ctx, "DROP TABLE vehicle_current"); err != nil {
			return fmt.Errorf("failed to drop legacy vehicle_current: %w", err)
		}
	}

	if _, err := db.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
