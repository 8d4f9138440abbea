package session

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/watzon/cobble/internal/config"
)

// Manager runs many sessions in parallel. Sessions share nothing but the
// process-wide Deps.
type Manager struct {
	sessions []*Session
	byID     map[string]*Session
}

// NewManager builds a session for every configuration entry.
func NewManager(cfgs []config.SessionConfig, deps Deps) (*Manager, error) {
	m := &Manager{byID: make(map[string]*Session, len(cfgs))}
	for _, cfg := range cfgs {
		s, err := New(cfg, deps)
		if err != nil {
			return nil, err
		}
		if _, dup := m.byID[s.ID()]; dup {
			return nil, fmt.Errorf("duplicate session id %q", s.ID())
		}
		m.sessions = append(m.sessions, s)
		m.byID[s.ID()] = s
	}
	return m, nil
}

// Run runs every session until each one returns. One session failing does
// not stop the others; the first error is returned once all are done.
func (m *Manager) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, s := range m.sessions {
		g.Go(func() error {
			if err := s.Run(ctx); err != nil {
				return fmt.Errorf("session %s: %w", s.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Stop stops every session.
func (m *Manager) Stop() {
	for _, s := range m.sessions {
		s.Stop()
	}
}

// Session returns the session with the given ID.
func (m *Manager) Session(id string) (*Session, bool) {
	s, ok := m.byID[id]
	return s, ok
}

// Infos reports every session, sorted by ID.
func (m *Manager) Infos() []Info {
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
