// Package sqlite implements backend.Backend on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/kvsql/internal/backend"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on kv_keys.expires_at for expiry sweeps
const currentSchemaVersion = 1

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Backend stores keys in SQLite. Uses WAL mode and a single connection,
// so every statement is serialized and Increment is atomic.
type Backend struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger

	// mu serializes operations. Several of them span more than one
	// statement and must not interleave.
	mu sync.Mutex
	tx *sql.Tx // non-nil while a transaction is open
}

var _ backend.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// WithLogger sets the logger for transaction events.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement (hash fields and set members cascade)
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Backend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return NewFromDB(db, opts...), nil
}

// NewFromDB wraps an already-prepared database. No pragmas or schema are
// applied.
func NewFromDB(db *sql.DB, opts ...Option) *Backend {
	b := &Backend{db: db, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Close closes the database connection.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Backend methods when available.
func (b *Backend) DB() *sql.DB {
	return b.db
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes expiry so Keys and sweeps skip live keys quickly.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_kv_keys_expires
		ON kv_keys(expires_at) WHERE expires_at > 0
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (b *Backend) verifyPragma(name, expected string) error {
	var value string
	if err := b.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// q returns the open transaction, or the database. Caller must hold b.mu.
func (b *Backend) q() queryer {
	if b.tx != nil {
		return b.tx
	}
	return b.db
}

func (b *Backend) BeginTransaction(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx != nil {
		return backend.NewError(backend.CodeTx, "begin", "", backend.ErrTxActive)
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return backend.NewError(backend.CodeTx, "begin", "", err)
	}
	b.tx = tx
	b.logger.Debug("sqlite transaction begun")
	return nil
}

func (b *Backend) Commit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	tx := b.tx
	b.tx = nil
	if tx == nil {
		return backend.NewError(backend.CodeTx, "commit", "", backend.ErrNoTx)
	}
	if err := tx.Commit(); err != nil {
		return backend.NewError(backend.CodeTx, "commit", "", err)
	}
	b.logger.Debug("sqlite transaction committed")
	return nil
}

func (b *Backend) Rollback(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	tx := b.tx
	b.tx = nil
	if tx == nil {
		return backend.NewError(backend.CodeTx, "rollback", "", backend.ErrNoTx)
	}
	if err := tx.Rollback(); err != nil {
		return backend.NewError(backend.CodeTx, "rollback", "", err)
	}
	b.logger.Debug("sqlite transaction rolled back")
	return nil
}
