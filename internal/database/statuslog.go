package database

import (
	"context"
	"fmt"
	"time"

	"github.com/watzon/cobble/internal/status"
)

// StatusStore persists status records for export and audit.
type StatusStore struct {
	db *DB
}

func NewStatusStore(db *DB) *StatusStore {
	return &StatusStore{db: db}
}

// Append implements status.Store. Re-appending a record with a known ID is a
// no-op.
func (s *StatusStore) Append(ctx context.Context, rec *status.Record) error {
	query, args := NewInsert("status_records").
		Set("id", rec.ID).
		Set("session_id", rec.SessionID).
		Set("timestamp", formatTime(rec.Timestamp)).
		Set("text", rec.Text).
		Build()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		err = ClassifyError(err)
		if IsUniqueError(err) {
			return nil
		}
		return fmt.Errorf("appending status record: %w", err)
	}
	return nil
}

// StatusQuery selects records of one session.
type StatusQuery struct {
	SessionID string
	Since     time.Time
	Limit     int
}

// List returns matching records, oldest first. With a limit, the newest
// records within it are returned.
func (s *StatusStore) List(ctx context.Context, q StatusQuery) ([]status.Record, error) {
	qb := NewQuery("status_records").
		Select("id", "session_id", "timestamp", "text").
		Where("session_id", q.SessionID).
		OrderByDesc("timestamp").
		Limit(q.Limit)
	if !q.Since.IsZero() {
		qb = qb.Filter("timestamp", OpGte, formatTime(q.Since))
	}
	query, args := qb.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying status records: %w", err)
	}
	defer rows.Close()

	var out []status.Record
	for rows.Next() {
		var rec status.Record
		var ts string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &ts, &rec.Text); err != nil {
			return nil, fmt.Errorf("scanning status record: %w", err)
		}
		rec.Timestamp = parseTime(ts)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Count returns how many records a session has.
func (s *StatusStore) Count(ctx context.Context, sessionID string) (int, error) {
	query, args := NewQuery("status_records").Where("session_id", sessionID).BuildCount()

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting status records: %w", err)
	}
	return n, nil
}

// Prune deletes records older than before and reports how many went.
func (s *StatusStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	query, args := NewDelete("status_records").
		Filter("timestamp", OpLt, formatTime(before)).
		Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("pruning status records: %w", err)
	}
	return res.RowsAffected()
}
