// Package session runs avatars: one Session per configured account, each
// with its own bus, hook engine, shop and scheduler.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/cobble/internal/actions"
	"github.com/watzon/cobble/internal/assistant"
	"github.com/watzon/cobble/internal/config"
	"github.com/watzon/cobble/internal/game"
	"github.com/watzon/cobble/internal/hooks"
	"github.com/watzon/cobble/internal/metrics"
	"github.com/watzon/cobble/internal/rules"
	"github.com/watzon/cobble/internal/shop"
	"github.com/watzon/cobble/internal/status"
)

var (
	// ErrFatal wraps the reason a connection ended on its own.
	ErrFatal = errors.New("session ended")
	// ErrAlreadyRunning is returned by Run on a running session.
	ErrAlreadyRunning = errors.New("session already running")
	// ErrStopped is returned by Run after Stop.
	ErrStopped = errors.New("session stopped by user")
)

// State is the lifecycle state of a session.
type State string

const (
	StateStopped    State = "stopped"
	StateConnecting State = "connecting"
	StateRunning    State = "running"
	StateErrored    State = "errored"
)

var allStates = []string{
	string(StateStopped),
	string(StateConnecting),
	string(StateRunning),
	string(StateErrored),
}

const quitTimeout = 5 * time.Second

// Ledger persists transaction transitions and reports transactions a
// previous process left open.
type Ledger interface {
	shop.Ledger
	Unfinished(ctx context.Context, sessionID string) ([]shop.Transaction, error)
}

// Deps are the collaborators shared by every session of a process.
type Deps struct {
	Dialer      game.Dialer
	Ledger      Ledger
	StatusStore status.Store
	Navigation  actions.NavConfig
	HookLimits  hooks.Limits
	// Completer replaces the OpenAI client of the gpt command.
	Completer assistant.Completer
	// SchedulePoll overrides the scheduler poll interval.
	SchedulePoll time.Duration
}

// Info is a point-in-time view of a session.
type Info struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	State    State  `json:"state"`
	Error    string `json:"error,omitempty"`
	Restarts int    `json:"restarts"`
}

// Session owns one avatar account and reconnects it when configured to.
type Session struct {
	cfg       config.SessionConfig
	deps      Deps
	log       *status.Log
	parser    shop.PaymentParser
	assistant *assistant.Assistant

	mu            sync.Mutex
	state         State
	lastErr       error
	restarts      int
	running       bool
	stoppedByUser bool
	cancel        context.CancelFunc
}

// New checks the session's hooks and builds its status log. Nothing
// connects until Run.
func New(cfg config.SessionConfig, deps Deps) (*Session, error) {
	if deps.Dialer == nil {
		return nil, errors.New("session needs a dialer")
	}
	if cfg.ID == "" {
		cfg.ID = cfg.Username
	}

	filter, err := status.NewFilter(cfg.Blacklist)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", cfg.ID, err)
	}
	opts := []status.LogOption{status.WithFilter(filter)}
	if deps.StatusStore != nil {
		opts = append(opts, status.WithStore(deps.StatusStore))
	}

	library := actions.NewLibrary(actions.WithNavigation(deps.Navigation))
	if _, err := hooks.NewValidator(library, &rules.Evaluator{}, deps.HookLimits).Validate(cfg.Modules.Hooks); err != nil {
		return nil, fmt.Errorf("session %s: %w", cfg.ID, err)
	}

	s := &Session{
		cfg:   cfg,
		deps:  deps,
		log:   status.NewLog(cfg.ID, opts...),
		state: StateStopped,
	}

	if shopCfg := cfg.Modules.Autoshop; shopCfg.Enabled {
		parser, err := shop.NewPatternParser(shopCfg.Payment)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", cfg.ID, err)
		}
		s.parser = parser
	}

	if gpt := cfg.Modules.ChatGPT; gpt.Enabled {
		completer := deps.Completer
		if completer == nil {
			completer = assistant.NewOpenAI(assistant.Config{
				APIKey:       gpt.APIKey,
				BaseURL:      gpt.BaseURL,
				SystemPrompt: gpt.Prompt,
				Model:        gpt.Model,
				MaxTokens:    gpt.MaxTokens,
			})
		}
		s.assistant = assistant.New(cfg.ID, completer)
	}

	metrics.SetSessionState(cfg.ID, string(StateStopped), allStates)
	return s, nil
}

func (s *Session) ID() string { return s.cfg.ID }

// Status returns the session's status log.
func (s *Session) Status() *status.Log { return s.log }

// Info reports the current state.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{ID: s.cfg.ID, Username: s.cfg.Username, State: s.state, Restarts: s.restarts}
	if s.lastErr != nil {
		info.Error = s.lastErr.Error()
	}
	return info
}

// Run connects and blocks until the session ends. With autorestart set, a
// connection that ends on its own is retried after the restart delay. Run
// returns nil when ctx is cancelled or Stop is called.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.stoppedByUser {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	for {
		err := s.connect(ctx)
		if ctx.Err() != nil {
			s.setState(StateStopped, nil)
			s.log.Emit("Session stopped.")
			return nil
		}
		s.setState(StateErrored, err)

		if !s.cfg.Autorestart || s.userStopped() {
			return err
		}

		delay := s.cfg.RestartDelay
		if delay <= 0 {
			delay = config.DefaultRestartDelay
		}
		status.Emitf(s.log, "Reconnecting in %s.", delay)
		select {
		case <-ctx.Done():
			s.setState(StateStopped, nil)
			return nil
		case <-time.After(delay):
		}

		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
		metrics.RecordRestart(s.cfg.ID)
	}
}

// Stop disconnects the session. It will not reconnect, and later calls to
// Run fail with ErrStopped.
func (s *Session) Stop() {
	s.mu.Lock()
	s.stoppedByUser = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *Session) userStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stoppedByUser
}

func (s *Session) setState(state State, err error) {
	s.mu.Lock()
	s.state = state
	s.lastErr = err
	s.mu.Unlock()

	metrics.SetSessionState(s.cfg.ID, string(state), allStates)
	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("session", s.cfg.ID).Str("state", string(state)).Msg("Session state changed")
}

// connect runs one connection to completion.
func (s *Session) connect(ctx context.Context) error {
	s.setState(StateConnecting, nil)
	status.Emitf(s.log, "Connecting to %s as %s.", s.cfg.Server.Address(), s.cfg.Username)

	gs, err := s.deps.Dialer.Dial(ctx, game.DialOptions{
		Username: s.cfg.Username,
		Auth:     s.cfg.Auth,
		Version:  s.cfg.Version,
		Host:     s.cfg.Server.Host,
		Port:     s.cfg.Server.Port,
		Proxies:  s.cfg.Proxies,
	})
	if err != nil {
		status.Emitf(s.log, "Connection failed: %v", err)
		return fmt.Errorf("connecting %s: %w", s.cfg.ID, err)
	}

	rt, err := s.assemble(ctx, gs)
	if err != nil {
		quitCtx, cancel := context.WithTimeout(context.Background(), quitTimeout)
		_ = gs.Quit(quitCtx)
		cancel()
		status.Emitf(s.log, "Session setup failed: %v", err)
		return err
	}
	defer rt.close()

	s.setState(StateRunning, nil)
	status.Emitf(s.log, "Connected as %s.", gs.Username())
	return rt.pump(ctx)
}
