package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/watzon/cobble/internal/shop"
)

// Transition is one recorded state change of a shop transaction.
type Transition struct {
	TransactionID string
	SessionID     string
	Buyer         string
	Item          string
	Quantity      int
	Expected      int
	Received      int
	State         shop.State
	Reason        string
	CreatedAt     time.Time
}

// TransitionStore is the SQLite shop ledger. It appends every transition and
// keeps the latest state of each transaction in shop_transactions.
type TransitionStore struct {
	db *DB
}

func NewTransitionStore(db *DB) *TransitionStore {
	return &TransitionStore{db: db}
}

// Record implements shop.Ledger.
func (s *TransitionStore) Record(ctx context.Context, sessionID string, tx shop.Transaction) error {
	at := tx.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	created := tx.CreatedAt
	if created.IsZero() {
		created = at
	}

	return s.db.Transaction(ctx, func(dbTx *Tx) error {
		query, args := NewInsert("shop_transitions").
			Set("transaction_id", tx.ID).
			Set("session_id", sessionID).
			Set("buyer", tx.Buyer).
			Set("item", tx.Item).
			Set("quantity", tx.Quantity).
			Set("expected", tx.Expected).
			Set("received", tx.Received).
			Set("state", string(tx.State)).
			Set("reason", tx.Reason).
			Set("created_at", formatTime(at)).
			Build()
		if _, err := dbTx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("recording transition: %w", ClassifyError(err))
		}

		query, args = NewUpdate("shop_transactions").
			Set("received", tx.Received).
			Set("state", string(tx.State)).
			Set("reason", tx.Reason).
			Set("updated_at", formatTime(at)).
			Where("id", tx.ID).
			Build()
		res, err := dbTx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("updating transaction: %w", ClassifyError(err))
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}

		query, args = NewInsert("shop_transactions").
			Set("id", tx.ID).
			Set("session_id", sessionID).
			Set("buyer", tx.Buyer).
			Set("item", tx.Item).
			Set("quantity", tx.Quantity).
			Set("expected", tx.Expected).
			Set("received", tx.Received).
			Set("state", string(tx.State)).
			Set("reason", tx.Reason).
			Set("created_at", formatTime(created)).
			Set("updated_at", formatTime(at)).
			Build()
		if _, err := dbTx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting transaction: %w", ClassifyError(err))
		}
		return nil
	})
}

// History returns the transitions of a session, oldest first. An empty buyer
// selects every buyer; a non-positive limit returns everything.
func (s *TransitionStore) History(ctx context.Context, sessionID, buyer string, limit int) ([]Transition, error) {
	q := NewQuery("shop_transitions").
		Select("transaction_id", "session_id", "buyer", "item", "quantity", "expected", "received", "state", "reason", "created_at").
		Where("session_id", sessionID).
		OrderBy("seq").
		Limit(limit)
	if buyer != "" {
		q = q.Where("buyer", buyer)
	}
	query, args := q.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var state, created string
		if err := rows.Scan(&t.TransactionID, &t.SessionID, &t.Buyer, &t.Item, &t.Quantity, &t.Expected, &t.Received, &state, &t.Reason, &created); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		t.State = shop.State(state)
		t.CreatedAt = parseTime(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Transactions returns the latest state of a session's transactions, most
// recently updated first.
func (s *TransitionStore) Transactions(ctx context.Context, sessionID string, limit int) ([]shop.Transaction, error) {
	query, args := NewQuery("shop_transactions").
		Select("id", "buyer", "item", "quantity", "expected", "received", "state", "reason", "created_at", "updated_at").
		Where("session_id", sessionID).
		OrderByDesc("updated_at").
		Limit(limit).
		Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var out []shop.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// Unfinished returns transactions whose latest state is not terminal, which
// happens when the process dies mid-escrow.
func (s *TransitionStore) Unfinished(ctx context.Context, sessionID string) ([]shop.Transaction, error) {
	open := []any{
		string(shop.StateQuoted),
		string(shop.StateAwaitingPayment),
		string(shop.StateDelivering),
		string(shop.StateRefunding),
	}
	query, args := NewQuery("shop_transactions").
		Select("id", "buyer", "item", "quantity", "expected", "received", "state", "reason", "created_at", "updated_at").
		Where("session_id", sessionID).
		Filter("state", OpIn, open).
		OrderBy("created_at").
		Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying unfinished transactions: %w", err)
	}
	defer rows.Close()

	var out []shop.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(rows *sql.Rows) (shop.Transaction, error) {
	var tx shop.Transaction
	var state, created, updated string
	if err := rows.Scan(&tx.ID, &tx.Buyer, &tx.Item, &tx.Quantity, &tx.Expected, &tx.Received, &state, &tx.Reason, &created, &updated); err != nil {
		return tx, fmt.Errorf("scanning transaction: %w", err)
	}
	tx.State = shop.State(state)
	tx.CreatedAt = parseTime(created)
	tx.UpdatedAt = parseTime(updated)
	return tx, nil
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
