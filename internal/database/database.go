// Package database stores the shop ledger and status history in SQLite.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/watzon/cobble/internal/config"
	"github.com/watzon/cobble/internal/database/migrations"
)

var (
	// ErrClosed is returned by ledger writes after Close.
	ErrClosed = errors.New("database closed")
	// ErrSchemaIncomplete means a ledger table is missing after migration.
	ErrSchemaIncomplete = errors.New("ledger schema incomplete")
)

// ledgerTables must all exist before the shop or the status log may write.
var ledgerTables = []string{"shop_transitions", "shop_transactions", "status_records"}

// DB is the ledger database. Writes that go through Transaction fail with
// ErrClosed once Close has run, so late shop transitions during shutdown
// surface as errors rather than driver panics.
type DB struct {
	*sql.DB
	path string
	wal  bool

	mu     sync.RWMutex
	closed bool
}

// Open creates the database file if needed, applies pending migrations and
// verifies that the ledger tables are in place.
func Open(cfg *config.DatabaseConfig) (*DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", ledgerDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", cfg.Path, err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	db := &DB{DB: sqlDB, path: cfg.Path, wal: cfg.WALMode}
	ctx := context.Background()

	for _, p := range ledgerPragmas(cfg) {
		if _, err := sqlDB.ExecContext(ctx, p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("configuring ledger: %q: %w", p, err)
		}
	}

	if err := migrations.Run(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := db.Check(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	log.Debug().Str("path", cfg.Path).Bool("wal", cfg.WALMode).Msg("Ledger database opened")
	return db, nil
}

// ledgerDSN carries the per-connection pragmas so every pooled connection
// gets them, not only the first.
func ledgerDSN(cfg *config.DatabaseConfig) string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	if cfg.ForeignKeys {
		params.Add("_pragma", "foreign_keys(1)")
	}
	return "file:" + cfg.Path + "?" + params.Encode()
}

// ledgerPragmas are database-wide settings applied once at open. The ledger
// is append-heavy with small rows, so WAL with NORMAL sync is enough: a crash
// can lose the last transition but never corrupts earlier ones.
func ledgerPragmas(cfg *config.DatabaseConfig) []string {
	var out []string
	if cfg.WALMode {
		out = append(out, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	} else {
		out = append(out, "PRAGMA synchronous = FULL")
	}
	if cfg.CacheSize != 0 {
		out = append(out, fmt.Sprintf("PRAGMA cache_size = %d", cfg.CacheSize))
	}
	return append(out, "PRAGMA temp_store = MEMORY")
}

// Check pings the database and reports any ledger table that is missing.
func (db *DB) Check(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging ledger: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("listing tables: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing tables: %w", err)
	}

	var missing []string
	for _, t := range ledgerTables {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrSchemaIncomplete, strings.Join(missing, ", "))
	}
	return nil
}

// Close checkpoints the WAL into the main file and closes the pool. It is
// safe to call more than once.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	if db.wal {
		if _, err := db.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			log.Warn().Err(err).Str("path", db.path).Msg("WAL checkpoint failed")
		}
	}
	return db.DB.Close()
}

// Tx is a ledger write in progress.
type Tx struct {
	*sql.Tx
}

// Transaction runs fn inside a database transaction, committing when fn
// returns nil. Constraint failures on commit are classified like those
// from individual statements.
func (db *DB) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	tx := &Tx{Tx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", ClassifyError(err))
	}
	return nil
}

// Migrations lists the applied schema migrations.
func (db *DB) Migrations(ctx context.Context) ([]migrations.AppliedMigration, error) {
	return migrations.GetApplied(ctx, db.DB)
}
