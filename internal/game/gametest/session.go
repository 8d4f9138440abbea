// Package gametest provides an in-memory game.Session for tests.
package gametest

import (
	"context"
	"fmt"
	"sync"

	"github.com/watzon/cobble/internal/game"
)

// Call records one capability invocation.
type Call struct {
	Op   string
	Args []any
}

type failure struct {
	err error
	nth int
	n   int
}

// Session is a scripted avatar. Movement is instantaneous unless Stuck is
// set, chests are keyed by position and inventory is a name→count map.
type Session struct {
	mu sync.Mutex

	name      string
	pos       game.Vec3
	blocks    map[game.Vec3]game.Block
	inventory map[string]int
	chests    map[game.Vec3]map[string]int
	entities  []game.Entity
	failures  map[string]*failure
	calls     []Call
	chats     []string
	whispers  []string
	tossed    map[string]int
	events    chan game.Event
	closed    bool

	// Stuck keeps the avatar in place after MoveTo.
	Stuck bool
	// OnChat and OnWhisper run after the message is recorded, outside the lock.
	OnChat    func(text string)
	OnWhisper func(user, text string)
}

var _ game.Session = (*Session)(nil)

// New creates a session for the named avatar.
func New(name string) *Session {
	return &Session{
		name:      name,
		blocks:    make(map[game.Vec3]game.Block),
		inventory: make(map[string]int),
		chests:    make(map[game.Vec3]map[string]int),
		failures:  make(map[string]*failure),
		tossed:    make(map[string]int),
		events:    make(chan game.Event, 64),
	}
}

// SetBlock places a block.
func (s *Session) SetBlock(name string, pos game.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[pos] = game.Block{Name: name, Position: pos}
}

// AddChest places a chest holding the given items.
func (s *Session) AddChest(pos game.Vec3, items map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[pos] = game.Block{Name: "chest", Position: pos}
	contents := make(map[string]int, len(items))
	for k, v := range items {
		contents[k] = v
	}
	s.chests[pos] = contents
}

// ChestCount returns how many of item the chest at pos holds.
func (s *Session) ChestCount(pos game.Vec3, item string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chests[pos][item]
}

// Give adds items to the inventory.
func (s *Session) Give(item string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory[item] += qty
}

// InventoryCount returns the held count of item.
func (s *Session) InventoryCount(item string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inventory[item]
}

// AddEntity makes an entity visible to NearestEntity.
func (s *Session) AddEntity(e game.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = append(s.entities, e)
}

// Fail makes the nth call (1-based) of op return err. nth 0 fails every call.
func (s *Session) Fail(op string, nth int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = &failure{err: err, nth: nth}
}

// Emit pushes an event to the Events channel.
func (s *Session) Emit(ev game.Event) {
	s.events <- ev
}

// Calls returns recorded calls of op, or all calls when op is empty.
func (s *Session) Calls(op string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Chats returns every public chat line sent.
func (s *Session) Chats() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.chats...)
}

// Whispers returns every whisper sent, formatted "user: text".
func (s *Session) Whispers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.whispers...)
}

// Tossed returns how many of item were dropped.
func (s *Session) Tossed(item string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tossed[item]
}

// record logs the call and returns any scripted failure. Callers hold s.mu.
func (s *Session) record(op string, args ...any) error {
	s.calls = append(s.calls, Call{Op: op, Args: args})
	if s.closed {
		return game.ErrSessionClosed
	}
	f, ok := s.failures[op]
	if !ok {
		return nil
	}
	f.n++
	if f.nth == 0 || f.n == f.nth {
		return f.err
	}
	return nil
}

func (s *Session) Username() string { return s.name }

func (s *Session) Chat(ctx context.Context, text string) error {
	s.mu.Lock()
	err := s.record("chat", text)
	if err == nil {
		s.chats = append(s.chats, text)
	}
	hook := s.OnChat
	s.mu.Unlock()
	if err == nil && hook != nil {
		hook(text)
	}
	return err
}

func (s *Session) Whisper(ctx context.Context, user, text string) error {
	s.mu.Lock()
	err := s.record("whisper", user, text)
	if err == nil {
		s.whispers = append(s.whispers, user+": "+text)
	}
	hook := s.OnWhisper
	s.mu.Unlock()
	if err == nil && hook != nil {
		hook(user, text)
	}
	return err
}

func (s *Session) MoveTo(ctx context.Context, goal game.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("moveTo", goal); err != nil {
		return err
	}
	if !s.Stuck {
		s.pos = goal.Position
	}
	return nil
}

func (s *Session) Position(ctx context.Context) (game.Vec3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, nil
}

func (s *Session) BlockAt(ctx context.Context, pos game.Vec3) (game.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[pos]
	return b, ok, nil
}

func (s *Session) Dig(ctx context.Context, block game.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("dig", block); err != nil {
		return err
	}
	delete(s.blocks, block.Position)
	return nil
}

func (s *Session) Place(ctx context.Context, ref game.Block, face game.Vec3, item game.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("place", ref, face, item)
}

func (s *Session) Equip(ctx context.Context, item game.Item, slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("equip", item, slot)
}

func (s *Session) Attack(ctx context.Context, target game.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("attack", target)
}

func (s *Session) UseItem(ctx context.Context, item game.Item, target game.UseTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("useItem", item, target)
}

func (s *Session) LookAt(ctx context.Context, pos game.Vec3) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("lookAt", pos)
}

func (s *Session) Jump(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("jump")
}

func (s *Session) SetPosture(ctx context.Context, posture game.Posture, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("setPosture", posture, on)
}

func (s *Session) OpenContainer(ctx context.Context, block game.Block) (game.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("openContainer", block); err != nil {
		return nil, err
	}
	if _, ok := s.chests[block.Position]; !ok {
		return nil, fmt.Errorf("block at %s is not a container", block.Position)
	}
	return &container{s: s, pos: block.Position}, nil
}

func (s *Session) FindInventoryItem(ctx context.Context, name string) (game.Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.inventory[name]
	if n <= 0 {
		return game.Item{}, false, nil
	}
	return game.Item{Name: name, Count: n}, true, nil
}

func (s *Session) NearestEntity(ctx context.Context, q game.EntityQuery) (game.Entity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entities {
		if q.Matches(e) {
			return e, true, nil
		}
	}
	return game.Entity{}, false, nil
}

func (s *Session) Toss(ctx context.Context, item string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("toss", item, qty); err != nil {
		return err
	}
	if s.inventory[item] < qty {
		return fmt.Errorf("%w: %s", game.ErrItemNotFound, item)
	}
	s.inventory[item] -= qty
	s.tossed[item] += qty
	return nil
}

func (s *Session) Events() <-chan game.Event { return s.events }

func (s *Session) Quit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.calls = append(s.calls, Call{Op: "quit"})
	s.closed = true
	close(s.events)
	return nil
}

type container struct {
	s      *Session
	pos    game.Vec3
	closed bool
}

func (c *container) Count(ctx context.Context, item string) (int, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.closed {
		return 0, game.ErrContainerClosed
	}
	return c.s.chests[c.pos][item], nil
}

func (c *container) Withdraw(ctx context.Context, item string, qty int) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.record("withdraw", item, qty); err != nil {
		return err
	}
	if c.closed {
		return game.ErrContainerClosed
	}
	if c.s.chests[c.pos][item] < qty {
		return fmt.Errorf("container holds %d %s, want %d", c.s.chests[c.pos][item], item, qty)
	}
	c.s.chests[c.pos][item] -= qty
	c.s.inventory[item] += qty
	return nil
}

func (c *container) Deposit(ctx context.Context, item string, qty int) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.record("deposit", item, qty); err != nil {
		return err
	}
	if c.closed {
		return game.ErrContainerClosed
	}
	if c.s.inventory[item] < qty {
		return fmt.Errorf("%w: %s", game.ErrItemNotFound, item)
	}
	c.s.inventory[item] -= qty
	c.s.chests[c.pos][item] += qty
	return nil
}

func (c *container) Close(ctx context.Context) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.closed = true
	return nil
}
