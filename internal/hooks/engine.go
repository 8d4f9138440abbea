package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/cobble/internal/actions"
	"github.com/watzon/cobble/internal/events"
	"github.com/watzon/cobble/internal/game"
	"github.com/watzon/cobble/internal/metrics"
	"github.com/watzon/cobble/internal/rules"
	"github.com/watzon/cobble/internal/status"
)

// ErrEngineRunning is returned by Start on a running engine.
var ErrEngineRunning = errors.New("hook engine already running")

// Config wires an Engine to one session.
type Config struct {
	SessionID string
	Bus       *events.Bus
	Session   game.Session
	Library   *actions.Library
	Evaluator *rules.Evaluator
	Status    status.Sink
	Limits    Limits
}

// Engine holds the compiled plans of a session and their subscriptions.
type Engine struct {
	cfg   Config
	plans []*Plan

	mu      sync.Mutex
	running bool
	cancels []func()
	ctx     context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine validates and compiles defs. Warnings describe conditions that
// will never match.
func NewEngine(cfg Config, defs []Definition) (*Engine, []string, error) {
	if cfg.Evaluator == nil {
		cfg.Evaluator = &rules.Evaluator{}
	}
	if cfg.Library == nil {
		cfg.Library = actions.NewLibrary()
	}

	warnings, err := NewValidator(cfg.Library, cfg.Evaluator, cfg.Limits).Validate(defs)
	if err != nil {
		return nil, warnings, err
	}
	for _, w := range warnings {
		log.Warn().Str("session", cfg.SessionID).Msg("Hook configuration: " + w)
	}

	e := &Engine{cfg: cfg}
	for i := range defs {
		e.plans = append(e.plans, compile(&defs[i]))
	}
	return e, warnings, nil
}

// Plans returns the compiled plans.
func (e *Engine) Plans() []*Plan {
	return e.plans
}

// Start subscribes every plan to its event. On failure nothing stays
// subscribed.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrEngineRunning
	}

	e.ctx, e.stop = context.WithCancel(ctx)
	for _, p := range e.plans {
		cancel, err := e.cfg.Bus.Subscribe(p.Event, e.handler(p))
		if err != nil {
			for _, c := range e.cancels {
				c()
			}
			e.cancels = nil
			e.stop()
			return fmt.Errorf("subscribing hook %q: %w", p.Name, err)
		}
		e.cancels = append(e.cancels, cancel)
	}
	e.running = true

	log.Info().Str("session", e.cfg.SessionID).Int("hooks", len(e.plans)).Msg("Hook engine started")
	return nil
}

// Stop removes every subscription, cancels in-flight dispatches and waits
// for them to return.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	for _, c := range e.cancels {
		c()
	}
	e.cancels = nil
	e.stop()
	e.mu.Unlock()

	e.wg.Wait()
	log.Info().Str("session", e.cfg.SessionID).Msg("Hook engine stopped")
}

// Subscriptions returns the number of live subscriptions.
func (e *Engine) Subscriptions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cancels)
}

func (e *Engine) handler(p *Plan) events.Handler {
	return func(_ context.Context, ev game.Event) {
		e.mu.Lock()
		if !e.running {
			e.mu.Unlock()
			return
		}
		ctx := e.ctx
		e.wg.Add(1)
		e.mu.Unlock()

		go func() {
			defer e.wg.Done()
			e.Dispatch(ctx, p, ev)
		}()
	}
}

// NewContext builds the placeholder context for one event.
func NewContext(ev game.Event) rules.Context {
	c := rules.Context(ev.Fields())
	if u, ok := c["username"].(string); !ok || u == "" {
		c["username"] = "unknown"
	}
	c["event"] = ev.Name()
	return c
}

// Dispatch walks p for ev. Root actions run unconditionally and every other
// action only when its conditions match.
func (e *Engine) Dispatch(ctx context.Context, p *Plan, ev game.Event) {
	start := time.Now()
	rc := NewContext(ev)

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("session", e.cfg.SessionID).
				Str("hook", p.Name).
				Str("panic", fmt.Sprint(r)).
				Msg("Hook dispatch panicked")
		}
		metrics.RecordDispatch(e.cfg.SessionID, p.Event, time.Since(start))
	}()

	for _, s := range p.steps {
		if ctx.Err() != nil {
			log.Debug().Str("session", e.cfg.SessionID).Str("hook", p.Name).Msg("Hook dispatch cancelled")
			return
		}
		if s.gated && !e.cfg.Evaluator.Match(s.rule.Conditions, rc) {
			continue
		}
		e.cfg.Library.Execute(ctx, s.rule.Type, &actions.Request{
			Session: e.cfg.Session,
			Status:  e.cfg.Status,
			Params:  s.rule.Params,
			Context: rc,
		})
	}
}
