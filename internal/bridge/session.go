package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/watzon/cobble/internal/game"
)

const (
	writeTimeout    = 10 * time.Second
	pingInterval    = 30 * time.Second
	pongTimeout     = 60 * time.Second
	maxMessageSize  = 1024 * 1024
	eventBufferSize = 256
)

// Session is a game.Session backed by one bridge connection.
type Session struct {
	username       string
	conn           *websocket.Conn
	requestTimeout time.Duration

	nextID  atomic.Uint64
	mu      sync.Mutex
	pending map[string]chan *Message

	events   chan game.Event
	done     chan struct{}
	doneOnce sync.Once
	closing  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
}

var _ game.Session = (*Session)(nil)

func newSession(conn *websocket.Conn, requestTimeout time.Duration) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	conn.SetReadLimit(maxMessageSize)
	return &Session{
		conn:           conn,
		requestTimeout: requestTimeout,
		pending:        make(map[string]chan *Message),
		events:         make(chan game.Event, eventBufferSize),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (s *Session) run() {
	go s.pingPump()
	go s.readPump()
}

func (s *Session) Username() string { return s.username }

func (s *Session) Events() <-chan game.Event { return s.events }

// Done is closed once the connection is gone.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) readPump() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			reason := "connection closed"
			if status := websocket.CloseStatus(err); status != -1 && status != websocket.StatusNormalClosure {
				reason = fmt.Sprintf("bridge closed the connection: %s", status)
			} else if status == -1 && !s.closing.Load() {
				reason = err.Error()
			}
			s.markDone()
			s.cancel()
			s.emit(game.End{Reason: reason})
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("Invalid bridge frame")
			continue
		}

		switch msg.Type {
		case MessageTypeResult, MessageTypeError:
			s.resolve(&msg)
		case MessageTypeEvent:
			ev, err := decodeEvent(msg.Event, msg.Payload)
			if err != nil {
				log.Warn().Err(err).Msg("Invalid bridge event")
				continue
			}
			s.emit(ev)
		default:
			log.Warn().Str("type", string(msg.Type)).Msg("Unexpected bridge message")
		}
	}
}

// emit delivers an event, or drops it once nobody can read any more.
func (s *Session) emit(ev game.Event) {
	select {
	case s.events <- ev:
	case <-time.After(writeTimeout):
		log.Warn().Str("event", ev.Name()).Msg("Event consumer stalled, dropping event")
	}
}

func (s *Session) pingPump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, pongTimeout)
			err := s.conn.Ping(ctx)
			cancel()
			if err != nil {
				log.Debug().Err(err).Msg("Bridge ping failed")
				s.shutdown(websocket.StatusGoingAway, "ping timeout")
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) resolve(msg *Message) {
	s.mu.Lock()
	ch, ok := s.pending[msg.ID]
	delete(s.pending, msg.ID)
	s.mu.Unlock()

	if !ok {
		log.Debug().Str("id", msg.ID).Msg("Reply for unknown call")
		return
	}
	ch <- msg
}

// call sends one request and waits for its reply. out may be nil.
func (s *Session) call(ctx context.Context, op string, args, out any) error {
	return s.send(ctx, MessageTypeCall, op, args, out)
}

func (s *Session) send(ctx context.Context, typ MessageType, op string, args, out any) error {
	select {
	case <-s.done:
		return fmt.Errorf("%s: %w", op, game.ErrSessionClosed)
	default:
	}

	var payload json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", op, err)
		}
		payload = data
	}

	id := strconv.FormatUint(s.nextID.Add(1), 10)
	reply := make(chan *Message, 1)
	s.mu.Lock()
	s.pending[id] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if _, ok := ctx.Deadline(); !ok && s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	frame, err := json.Marshal(&Message{ID: id, Type: typ, Op: op, Payload: payload})
	if err != nil {
		return fmt.Errorf("encoding %s: %w", op, err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	err = s.conn.Write(writeCtx, websocket.MessageText, frame)
	cancel()
	if err != nil {
		return fmt.Errorf("sending %s: %w", op, err)
	}

	select {
	case msg := <-reply:
		if msg.Type == MessageTypeError {
			rerr := &RemoteError{Op: op, Code: ErrorCodeFailed, Message: "unknown error"}
			if msg.Error != nil {
				rerr.Code = msg.Error.Code
				rerr.Message = msg.Error.Message
			}
			return rerr
		}
		if out != nil && len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, out); err != nil {
				return fmt.Errorf("decoding %s result: %w", op, err)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case <-s.done:
		return fmt.Errorf("%s: %w", op, game.ErrSessionClosed)
	}
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// shutdown closes the connection; readPump then ends the event stream.
func (s *Session) shutdown(code websocket.StatusCode, reason string) {
	if s.closing.Swap(true) {
		return
	}
	s.markDone()
	_ = s.conn.Close(code, reason)
	s.cancel()
}

func (s *Session) Chat(ctx context.Context, text string) error {
	return s.call(ctx, opChat, textArgs{Text: text}, nil)
}

func (s *Session) Whisper(ctx context.Context, user, text string) error {
	return s.call(ctx, opWhisper, textArgs{User: user, Text: text}, nil)
}

func (s *Session) MoveTo(ctx context.Context, goal game.Goal) error {
	return s.call(ctx, opMoveTo, goal, nil)
}

func (s *Session) Position(ctx context.Context) (game.Vec3, error) {
	var pos game.Vec3
	err := s.call(ctx, opPosition, nil, &pos)
	return pos, err
}

func (s *Session) BlockAt(ctx context.Context, pos game.Vec3) (game.Block, bool, error) {
	var res blockResult
	if err := s.call(ctx, opBlockAt, pos, &res); err != nil {
		return game.Block{}, false, err
	}
	return res.Block, res.Found, nil
}

func (s *Session) Dig(ctx context.Context, block game.Block) error {
	return s.call(ctx, opDig, block, nil)
}

func (s *Session) Place(ctx context.Context, ref game.Block, face game.Vec3, item game.Item) error {
	return s.call(ctx, opPlace, placeArgs{Ref: ref, Face: face, Item: item}, nil)
}

func (s *Session) Equip(ctx context.Context, item game.Item, slot string) error {
	return s.call(ctx, opEquip, equipArgs{Item: item, Slot: slot}, nil)
}

func (s *Session) Attack(ctx context.Context, target game.Entity) error {
	return s.call(ctx, opAttack, target, nil)
}

func (s *Session) UseItem(ctx context.Context, item game.Item, target game.UseTarget) error {
	return s.call(ctx, opUseItem, useArgs{Item: item, Target: target}, nil)
}

func (s *Session) LookAt(ctx context.Context, pos game.Vec3) error {
	return s.call(ctx, opLookAt, pos, nil)
}

func (s *Session) Jump(ctx context.Context) error {
	return s.call(ctx, opJump, nil, nil)
}

func (s *Session) SetPosture(ctx context.Context, posture game.Posture, on bool) error {
	return s.call(ctx, opSetPosture, postureArgs{Posture: posture, On: on}, nil)
}

func (s *Session) OpenContainer(ctx context.Context, block game.Block) (game.Container, error) {
	var res handleResult
	if err := s.call(ctx, opOpenContainer, block, &res); err != nil {
		return nil, err
	}
	if res.Handle == "" {
		return nil, fmt.Errorf("%s: bridge returned no handle", opOpenContainer)
	}
	return &container{session: s, handle: res.Handle}, nil
}

func (s *Session) FindInventoryItem(ctx context.Context, name string) (game.Item, bool, error) {
	var res itemResult
	if err := s.call(ctx, opFindItem, map[string]string{"name": name}, &res); err != nil {
		return game.Item{}, false, err
	}
	return res.Item, res.Found, nil
}

func (s *Session) NearestEntity(ctx context.Context, q game.EntityQuery) (game.Entity, bool, error) {
	var res entityResult
	if err := s.call(ctx, opNearestEntity, q, &res); err != nil {
		return game.Entity{}, false, err
	}
	return res.Entity, res.Found, nil
}

func (s *Session) Toss(ctx context.Context, item string, qty int) error {
	return s.call(ctx, opToss, tossArgs{Item: item, Qty: qty}, nil)
}

// Quit asks the bridge to log out, then closes the connection. The event
// stream ends with game.End.
func (s *Session) Quit(ctx context.Context) error {
	err := s.call(ctx, opQuit, nil, nil)
	s.shutdown(websocket.StatusNormalClosure, "quit")
	if errors.Is(err, game.ErrSessionClosed) {
		return nil
	}
	return err
}

// container is an open window identified by a bridge handle.
type container struct {
	session *Session
	handle  string
	closed  atomic.Bool
}

func (c *container) Count(ctx context.Context, item string) (int, error) {
	if c.closed.Load() {
		return 0, game.ErrContainerClosed
	}
	var res countResult
	err := c.session.call(ctx, opContainerCount, containerArgs{Handle: c.handle, Item: item}, &res)
	return res.Count, err
}

func (c *container) Withdraw(ctx context.Context, item string, qty int) error {
	if c.closed.Load() {
		return game.ErrContainerClosed
	}
	return c.session.call(ctx, opContainerWithdraw, containerArgs{Handle: c.handle, Item: item, Qty: qty}, nil)
}

func (c *container) Deposit(ctx context.Context, item string, qty int) error {
	if c.closed.Load() {
		return game.ErrContainerClosed
	}
	return c.session.call(ctx, opContainerDeposit, containerArgs{Handle: c.handle, Item: item, Qty: qty}, nil)
}

func (c *container) Close(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.session.call(ctx, opContainerClose, containerArgs{Handle: c.handle}, nil)
}
