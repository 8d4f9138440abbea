// Package events routes session events to subscribers keyed by bindable
// event name.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/watzon/cobble/internal/game"
)

// ErrBusClosed is returned when subscribing to a closed bus.
var ErrBusClosed = errors.New("event bus closed")

// Handler receives an event. Handlers run on the publishing goroutine and
// must not block; long work belongs on a goroutine of its own.
type Handler func(ctx context.Context, ev game.Event)

// Bus is one session's in-memory event router.
type Bus struct {
	sessionID string

	mu     sync.RWMutex
	subs   map[string]map[uint64]Handler
	nextID uint64
	closed bool
}

// NewBus creates an empty bus.
func NewBus(sessionID string) *Bus {
	return &Bus{
		sessionID: sessionID,
		subs:      make(map[string]map[uint64]Handler),
	}
}

// Subscribe registers h for the named event. The name must resolve through
// the catalog. The returned func removes the subscription and is idempotent.
func (b *Bus) Subscribe(name string, h Handler) (func(), error) {
	if _, err := Lookup(name); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	id := b.nextID
	b.nextID++
	if b.subs[name] == nil {
		b.subs[name] = make(map[uint64]Handler)
	}
	b.subs[name][id] = h

	log.Debug().Str("session", b.sessionID).Str("event", name).Msg("Handler subscribed")

	return func() { b.unsubscribe(name, id) }, nil
}

func (b *Bus) unsubscribe(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hs, ok := b.subs[name]; ok {
		delete(hs, id)
		if len(hs) == 0 {
			delete(b.subs, name)
		}
	}
}

// Publish delivers ev to a snapshot of the current subscribers and returns
// how many received it.
func (b *Bus) Publish(ctx context.Context, ev game.Event) int {
	key := KeyOf(ev)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0
	}
	handlers := make([]Handler, 0, len(b.subs[key]))
	for _, h := range b.subs[key] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(ctx, h, ev)
	}
	return len(handlers)
}

func (b *Bus) invoke(ctx context.Context, h Handler, ev game.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("session", b.sessionID).
				Str("event", ev.Name()).
				Str("panic", fmt.Sprint(r)).
				Msg("Event handler panicked")
		}
	}()
	h(ctx, ev)
}

// Pump publishes every event read from src until it is closed or ctx is done.
func (b *Bus) Pump(ctx context.Context, src <-chan game.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-src:
			if !ok {
				return
			}
			b.Publish(ctx, ev)
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, hs := range b.subs {
		n += len(hs)
	}
	return n
}

// Close drops every subscription at once. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[uint64]Handler)
}
