package database

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/watzon/cobble/internal/config"
)

func testDB(t *testing.T) *DB {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	cfg := &config.DatabaseConfig{
		Path:         dbPath,
		WALMode:      true,
		ForeignKeys:  true,
		CacheSize:    -2000,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestOpenAndClose(t *testing.T) {
	db := testDB(t)

	if err := db.Check(context.Background()); err != nil {
		t.Errorf("check failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestTransactionAfterClose(t *testing.T) {
	db := testDB(t)
	if err := db.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	called := false
	err := db.Transaction(context.Background(), func(tx *Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if called {
		t.Error("transaction body ran on a closed database")
	}
}

func TestCheckReportsMissingLedgerTable(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "DROP TABLE status_records"); err != nil {
		t.Fatalf("drop failed: %v", err)
	}

	err := db.Check(ctx)
	if !errors.Is(err, ErrSchemaIncomplete) {
		t.Fatalf("expected ErrSchemaIncomplete, got %v", err)
	}
	if !strings.Contains(err.Error(), "status_records") {
		t.Errorf("expected missing table named in %q", err)
	}
}

func TestLedgerPragmas(t *testing.T) {
	wal := ledgerPragmas(&config.DatabaseConfig{WALMode: true, CacheSize: -2000})
	want := []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL", "PRAGMA cache_size = -2000", "PRAGMA temp_store = MEMORY"}
	if strings.Join(wal, "; ") != strings.Join(want, "; ") {
		t.Errorf("wal pragmas:\n%v\nwant:\n%v", wal, want)
	}

	rollback := ledgerPragmas(&config.DatabaseConfig{})
	if rollback[0] != "PRAGMA synchronous = FULL" {
		t.Errorf("expected full sync without WAL, got %v", rollback)
	}
}

func TestTransaction(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "CREATE TABLE scratch (id INTEGER PRIMARY KEY, name TEXT)")
	if err != nil {
		t.Fatalf("create table failed: %v", err)
	}

	err = db.Transaction(ctx, func(tx *Tx) error {
		_, err := tx.Exec("INSERT INTO scratch (id, name) VALUES (1, 'alice')")
		if err != nil {
			return err
		}
		_, err = tx.Exec("INSERT INTO scratch (id, name) VALUES (2, 'bob')")
		return err
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scratch").Scan(&count)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 rows, got %d", count)
	}
}

func TestTransactionRollback(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "CREATE TABLE scratch (id INTEGER PRIMARY KEY, name TEXT UNIQUE)")
	if err != nil {
		t.Fatalf("create table failed: %v", err)
	}

	err = db.Transaction(ctx, func(tx *Tx) error {
		_, err := tx.Exec("INSERT INTO scratch (id, name) VALUES (1, 'alice')")
		if err != nil {
			return err
		}
		_, err = tx.Exec("INSERT INTO scratch (id, name) VALUES (2, 'alice')")
		return err
	})
	if err == nil {
		t.Fatal("expected transaction to fail")
	}

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scratch").Scan(&count)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 rows after rollback, got %d", count)
	}
}

func TestQueryBuilder(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *QueryBuilder
		expected string
	}{
		{
			name: "simple select",
			build: func() *QueryBuilder {
				return NewQuery("status_records")
			},
			expected: "SELECT * FROM status_records",
		},
		{
			name: "select with columns",
			build: func() *QueryBuilder {
				return NewQuery("status_records").Select("id", "text")
			},
			expected: "SELECT id, text FROM status_records",
		},
		{
			name: "with filter",
			build: func() *QueryBuilder {
				return NewQuery("status_records").Where("session_id", "s1")
			},
			expected: "SELECT * FROM status_records WHERE session_id = ?",
		},
		{
			name: "with sort",
			build: func() *QueryBuilder {
				return NewQuery("status_records").OrderByDesc("timestamp")
			},
			expected: "SELECT * FROM status_records ORDER BY timestamp DESC",
		},
		{
			name: "with limit and offset",
			build: func() *QueryBuilder {
				return NewQuery("status_records").Limit(10).Offset(20)
			},
			expected: "SELECT * FROM status_records LIMIT 10 OFFSET 20",
		},
		{
			name: "offset without limit",
			build: func() *QueryBuilder {
				return NewQuery("status_records").Offset(5)
			},
			expected: "SELECT * FROM status_records LIMIT -1 OFFSET 5",
		},
		{
			name: "complex query",
			build: func() *QueryBuilder {
				return NewQuery("shop_transitions").
					Select("transaction_id", "state").
					Where("session_id", "s1").
					Filter("quantity", OpGte, 10).
					Filter("state", OpIn, []any{"quoted", "delivering"}).
					OrderBy("seq").
					Limit(10)
			},
			expected: "SELECT transaction_id, state FROM shop_transitions WHERE session_id = ? AND quantity >= ? AND state IN (?, ?) ORDER BY seq ASC LIMIT 10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, _ := tt.build().Build()
			if sql != tt.expected {
				t.Errorf("expected:\n%s\ngot:\n%s", tt.expected, sql)
			}
		})
	}
}

func TestInsertBuilder(t *testing.T) {
	sql, args := NewInsert("status_records").
		Set("id", "123").
		Set("session_id", "s1").
		Set("text", "Arrived.").
		Build()

	expected := "INSERT INTO status_records (id, session_id, text) VALUES (?, ?, ?)"
	if sql != expected {
		t.Errorf("expected:\n%s\ngot:\n%s", expected, sql)
	}

	if len(args) != 3 {
		t.Errorf("expected 3 args, got %d", len(args))
	}
}

func TestUpdateBuilder(t *testing.T) {
	sql, args := NewUpdate("shop_transactions").
		Set("state", "delivering").
		Set("received", 30).
		Where("id", "123").
		Build()

	expected := "UPDATE shop_transactions SET state = ?, received = ? WHERE id = ?"
	if sql != expected {
		t.Errorf("expected:\n%s\ngot:\n%s", expected, sql)
	}

	if len(args) != 3 {
		t.Errorf("expected 3 args, got %d", len(args))
	}
}

func TestDeleteBuilder(t *testing.T) {
	sql, args := NewDelete("status_records").
		Filter("timestamp", OpLt, "2026-01-01").
		Build()

	expected := "DELETE FROM status_records WHERE timestamp < ?"
	if sql != expected {
		t.Errorf("expected:\n%s\ngot:\n%s", expected, sql)
	}

	if len(args) != 1 {
		t.Errorf("expected 1 arg, got %d", len(args))
	}
}

func TestClassifyError(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	query, args := NewInsert("status_records").
		Set("id", "dup").
		Set("session_id", "s1").
		Set("timestamp", "2026-01-01T00:00:00Z").
		Set("text", "one").
		Build()
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	_, err := db.ExecContext(ctx, query, args...)
	if !IsUniqueError(ClassifyError(err)) {
		t.Fatalf("expected unique violation, got %v", err)
	}

	_, err = db.ExecContext(ctx, "INSERT INTO status_records (id, session_id, timestamp) VALUES ('x', 's1', 'now')")
	var ce *ConstraintError
	if !errors.As(ClassifyError(err), &ce) || ce.Column != "text" {
		t.Fatalf("expected not-null error on text, got %v", err)
	}
}

func TestMigrationsApplied(t *testing.T) {
	db := testDB(t)

	applied, err := db.Migrations(context.Background())
	if err != nil {
		t.Fatalf("listing migrations: %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("expected migrations to be applied on open")
	}
}
