// Package store implements the work-item storage core: a typed,
// vector-indexed, full-text-indexed table backed by SQLite, plus the
// ExecutionRecord and SyncState tables it hosts alongside it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQL connection to the storage core's data directory
// (§6.1 `data/<store-name>/`).
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates the SQLite database at dbPath, enables WAL mode
// and foreign keys, and runs pending migrations. enableFTS gates the
// FTS5 virtual table migration (§6.5 `enable_fts`): when false, the
// table is never created and keyword search runs the LIKE-scan
// fallback path unconditionally.
func Open(dbPath string, enableFTS bool) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	d := &DB{DB: sqlDB, path: dbPath}
	if err := d.migrate(enableFTS); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// OpenMemory opens an in-memory database, primarily for tests.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	d := &DB{DB: sqlDB, path: ":memory:"}
	if err := d.migrate(true); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func (d *DB) migrate(enableFTS bool) error {
	if _, err := d.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var version int
	if err := d.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration1WorkItems},
		{2, migration2FTS},
		{3, migration3Execution},
		{4, migration4SyncState},
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if m.version == 2 && !enableFTS {
			if _, err := d.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return fmt.Errorf("record migration %d: %w", m.version, err)
			}
			continue
		}
		if _, err := d.Exec(m.sql); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := d.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}

	return nil
}

const (
	retryAttempts     = 3
	retryInitialDelay = time.Second
)

// transientErr reports whether err looks like a temporarily-locked or
// busy back-end, the class of failure the propagation policy retries
// before surfacing as Internal.
func transientErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

// withBackoff runs op, retrying transient failures with exponential
// backoff and jitter: initial 1s, doubling, at most retryAttempts tries.
func withBackoff(ctx context.Context, op func() error) error {
	delay := retryInitialDelay
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = op(); !transientErr(err) {
			return err
		}
		jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return err
}

// ExecContext shadows the embedded connection's method with the retry
// policy. Statements inside an explicit transaction go through the
// transaction handle directly and are never retried mid-transaction.
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := withBackoff(ctx, func() error {
		var e error
		res, e = d.DB.ExecContext(ctx, query, args...)
		return e
	})
	return res, err
}

// QueryContext shadows the embedded connection's method with the retry
// policy.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := withBackoff(ctx, func() error {
		var e error
		rows, e = d.DB.QueryContext(ctx, query, args...)
		return e
	})
	return rows, err
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.DB.Close() }

// Path returns the database file path ("memory" databases report ":memory:").
func (d *DB) Path() string { return d.path }
