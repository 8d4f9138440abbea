// Package status records the human-readable status stream of an avatar
// session: navigation results, action outcomes and transaction transitions.
package status

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultCapacity is how many records a Log keeps in memory.
const DefaultCapacity = 1000

// Record is one status line.
type Record struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// Sink receives status text.
type Sink interface {
	Emit(text string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(text string)

func (f SinkFunc) Emit(text string) { f(text) }

// Emitf formats and emits a status line.
func Emitf(s Sink, format string, args ...any) {
	s.Emit(fmt.Sprintf(format, args...))
}

// Store persists records.
type Store interface {
	Append(ctx context.Context, rec *Record) error
}

// Log is the per-session status stream: a bounded in-memory history, live
// subscribers and an optional persistent store.
type Log struct {
	sessionID string
	capacity  int
	filter    *Filter
	store     Store

	mu      sync.RWMutex
	records []Record
	subs    map[int]chan Record
	nextSub int
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithCapacity bounds the in-memory history.
func WithCapacity(n int) LogOption {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithFilter drops records matching the filter.
func WithFilter(f *Filter) LogOption {
	return func(l *Log) { l.filter = f }
}

// WithStore persists every accepted record.
func WithStore(s Store) LogOption {
	return func(l *Log) { l.store = s }
}

// NewLog creates a status log for a session.
func NewLog(sessionID string, opts ...LogOption) *Log {
	l := &Log{
		sessionID: sessionID,
		capacity:  DefaultCapacity,
		subs:      make(map[int]chan Record),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Emit appends a record stamped with the current time.
func (l *Log) Emit(text string) {
	if l.filter != nil && l.filter.Blocked(text) {
		return
	}

	rec := Record{
		ID:        uuid.New().String(),
		SessionID: l.sessionID,
		Timestamp: time.Now().UTC(),
		Text:      text,
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	if over := len(l.records) - l.capacity; over > 0 {
		l.records = append([]Record(nil), l.records[over:]...)
	}
	for _, ch := range l.subs {
		select {
		case ch <- rec:
		default:
			log.Warn().Str("session", l.sessionID).Msg("Status subscriber buffer full, dropping record")
		}
	}
	l.mu.Unlock()

	log.Debug().Str("session", l.sessionID).Str("status", text).Msg("Status")

	if l.store != nil {
		if err := l.store.Append(context.Background(), &rec); err != nil {
			log.Error().Err(err).Str("session", l.sessionID).Msg("Failed to persist status record")
		}
	}
}

// Records returns a copy of the in-memory history, oldest first.
func (l *Log) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Record(nil), l.records...)
}

// Texts returns the text of every record, oldest first.
func (l *Log) Texts() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.records))
	for i, r := range l.records {
		out[i] = r.Text
	}
	return out
}

// Contains reports whether any record text contains substr.
func (l *Log) Contains(substr string) bool {
	for _, t := range l.Texts() {
		if strings.Contains(t, substr) {
			return true
		}
	}
	return false
}

// Subscribe returns a channel receiving new records and a cancel func.
func (l *Log) Subscribe(buffer int) (<-chan Record, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Record, buffer)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}

// Filter drops status text matching any blacklist pattern.
type Filter struct {
	patterns []glob.Glob
}

// NewFilter compiles blacklist patterns. A pattern without glob
// metacharacters matches anywhere in the text.
func NewFilter(patterns []string) (*Filter, error) {
	f := &Filter{}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if !strings.ContainsAny(p, "*?[{") {
			p = "*" + p + "*"
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling blacklist pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, g)
	}
	return f, nil
}

// Blocked reports whether text matches a pattern.
func (f *Filter) Blocked(text string) bool {
	for _, g := range f.patterns {
		if g.Match(text) {
			return true
		}
	}
	return false
}
