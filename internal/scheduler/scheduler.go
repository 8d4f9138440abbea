// Package scheduler publishes named events onto a session bus on cron or
// interval schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/cobble/internal/events"
	"github.com/watzon/cobble/internal/game"
)

var ErrSchedulerRunning = errors.New("scheduler already running")

// Publisher delivers events to subscribers. *events.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev game.Event) int
}

// Config holds configuration for Scheduler.
type Config struct {
	// PollInterval is how often to check for due schedules (default: 1 second).
	PollInterval time.Duration
}

// Scheduler fires the schedules of one session.
type Scheduler struct {
	sessionID string
	bus       Publisher
	now       func() time.Time

	mu      sync.Mutex
	entries []*entry
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New compiles schedules. Names must be unique and non-empty.
func New(sessionID string, bus Publisher, schedules []Schedule, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		sessionID: sessionID,
		bus:       bus,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	seen := make(map[string]bool, len(schedules))
	start := s.now()
	for _, sc := range schedules {
		if sc.Name == "" {
			return nil, fmt.Errorf("schedule name is required")
		}
		if seen[sc.Name] {
			return nil, fmt.Errorf("duplicate schedule %q", sc.Name)
		}
		seen[sc.Name] = true

		typ, next, err := Compile(sc.Expression, sc.Timezone)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", sc.Name, err)
		}
		s.entries = append(s.entries, &entry{
			Schedule: sc,
			typ:      typ,
			next:     next,
			nextRun:  next(start),
		})
	}
	return s, nil
}

// Start begins background processing until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context, config *Config) error {
	if config == nil {
		config = &Config{}
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrSchedulerRunning
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if len(s.entries) == 0 {
		return nil
	}

	s.wg.Add(1)
	go s.pollLoop(ctx, config.PollInterval)

	log.Info().
		Str("session", s.sessionID).
		Int("schedules", len(s.entries)).
		Dur("poll_interval", config.PollInterval).
		Msg("Scheduler started")
	return nil
}

// Stop halts the poll loop and waits for it. It may be called repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	log.Debug().Str("session", s.sessionID).Msg("Scheduler stopped")
}

func (s *Scheduler) pollLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ProcessDue(ctx)
		}
	}
}

// ProcessDue publishes an event for every schedule whose next run has
// passed and returns how many fired. Missed periods are not caught up: a
// schedule fires once and its next run is computed from now.
func (s *Scheduler) ProcessDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []game.Named
	for _, e := range s.entries {
		if e.nextRun.IsZero() || now.Before(e.nextRun) {
			continue
		}
		e.runs++
		e.lastRun = now
		e.nextRun = e.next(now)
		due = append(due, game.Named{
			EventName: events.ScheduleEvent(e.Name),
			Payload: map[string]any{
				"schedule": e.Name,
				"time":     now.UTC().Format(time.RFC3339),
				"runs":     e.runs,
			},
		})
	}
	s.mu.Unlock()

	for _, ev := range due {
		n := s.bus.Publish(ctx, ev)
		log.Debug().
			Str("session", s.sessionID).
			Str("event", ev.EventName).
			Int("handlers", n).
			Msg("Schedule fired")
	}
	return len(due)
}

// Status lists the schedules in declaration order.
func (s *Scheduler) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Status{
			Name:    e.Name,
			Type:    e.typ,
			NextRun: e.nextRun,
			LastRun: e.lastRun,
			Runs:    e.runs,
		})
	}
	return out
}
