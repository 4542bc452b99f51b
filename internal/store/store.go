// Package store persists lists and items in SQLite and executes position
// batches atomically.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverMattn   = "sqlite3" // github.com/mattn/go-sqlite3, cgo
)

// ErrNotFound is returned when a list or item id does not resolve.
var ErrNotFound = errors.New("not found")

// Store wraps the board database connection.
type Store struct {
	conn   *sql.DB
	path   string
	driver string

	// writeMu serializes writers inside this process. Commit hooks run
	// while it is still held, so they observe commits in order.
	writeMu sync.Mutex
	lock    *instanceLock
}

// Open opens (creating if needed) the board database at dsn with the given
// driver and runs pending migrations. A file-backed database is guarded by an
// instance lock so that only one server process can use it.
func Open(driver, dsn string) (*Store, error) {
	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverMattn {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	path := dbFilePath(dsn)
	var lock *instanceLock
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		lock = newInstanceLock(path + ".lock")
		if err := lock.acquire(defaultLockTimeout); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open(driver, withTxLock(dsn))
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: SQLite has a single writer anyway, and an in-memory
	// database only lives as long as its connection.
	conn.SetMaxOpenConns(1)

	fail := func(format string, err error) (*Store, error) {
		conn.Close()
		lock.release()
		return nil, fmt.Errorf(format, err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fail("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fail("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")
	conn.Exec("PRAGMA foreign_keys=ON")

	if _, err := conn.Exec(schema); err != nil {
		return fail("create schema: %w", err)
	}

	s := &Store{conn: conn, path: path, driver: driver, lock: lock}
	if _, err := s.RunMigrations(); err != nil {
		return fail("run migrations: %w", err)
	}

	return s, nil
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string {
	return s.driver
}

// Close checkpoints the WAL, closes the connection and releases the
// instance lock.
func (s *Store) Close() error {
	s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := s.conn.Close()
	s.lock.release()
	return err
}

// RunMigrations runs any pending schema migrations.
func (s *Store) RunMigrations() (int, error) {
	currentVersion := s.getSchemaVersion()
	if currentVersion >= SchemaVersion {
		return 0, nil
	}

	migrationsRun := 0
	for _, m := range Migrations {
		if m.Version <= currentVersion {
			continue
		}
		if _, err := s.conn.Exec(m.SQL); err != nil {
			return migrationsRun, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if err := s.setSchemaVersion(m.Version); err != nil {
			return migrationsRun, fmt.Errorf("set version %d: %w", m.Version, err)
		}
		slog.Debug("migration applied", "version", m.Version, "desc", m.Description)
		migrationsRun++
	}

	if err := s.setSchemaVersion(SchemaVersion); err != nil {
		return migrationsRun, err
	}
	return migrationsRun, nil
}

func (s *Store) getSchemaVersion() int {
	var version string
	err := s.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&version)
	if err != nil {
		return 0
	}
	var v int
	fmt.Sscanf(version, "%d", &v)
	return v
}

func (s *Store) setSchemaVersion(version int) error {
	_, err := s.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		fmt.Sprintf("%d", version))
	return err
}

// dbFilePath extracts the filesystem path from a SQLite DSN, or "" for an
// in-memory database.
func dbFilePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	return p
}

// withTxLock makes every transaction BEGIN IMMEDIATE so a writer takes the
// database write lock up front instead of upgrading mid-transaction. Both
// drivers understand the _txlock parameter.
func withTxLock(dsn string) string {
	if strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_txlock=immediate"
	}
	return dsn + "?_txlock=immediate"
}
