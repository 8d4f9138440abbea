// Package bridge implements game.Session over a websocket connection to an
// external protocol bridge. The bridge owns the game protocol; this side
// sends capability calls and receives session events as JSON messages.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/watzon/cobble/internal/game"
)

// MessageType represents the type of websocket message.
type MessageType string

const (
	// Client to bridge.
	MessageTypeConnect MessageType = "connect"
	MessageTypeCall    MessageType = "call"

	// Bridge to client.
	MessageTypeResult MessageType = "result"
	MessageTypeError  MessageType = "error"
	MessageTypeEvent  MessageType = "event"
)

// Message is the envelope of every frame.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Op      string          `json:"op,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

// ErrorCode classifies a failed call.
type ErrorCode string

const (
	ErrorCodeNoBlock         ErrorCode = "no_block"
	ErrorCodeItemNotFound    ErrorCode = "item_not_found"
	ErrorCodeEntityNotFound  ErrorCode = "entity_not_found"
	ErrorCodeContainerClosed ErrorCode = "container_closed"
	ErrorCodeSessionClosed   ErrorCode = "session_closed"
	ErrorCodeUnknownOp       ErrorCode = "unknown_op"
	ErrorCodeFailed          ErrorCode = "failed"
)

// ErrorPayload is the body of an error reply.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// RemoteError is a call the bridge rejected.
type RemoteError struct {
	Op      string
	Code    ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap maps well-known codes to the game sentinels.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case ErrorCodeNoBlock:
		return game.ErrNoBlock
	case ErrorCodeItemNotFound:
		return game.ErrItemNotFound
	case ErrorCodeEntityNotFound:
		return game.ErrEntityNotFound
	case ErrorCodeContainerClosed:
		return game.ErrContainerClosed
	case ErrorCodeSessionClosed:
		return game.ErrSessionClosed
	}
	return nil
}

var ErrHandshake = errors.New("bridge handshake failed")

// Operation names.
const (
	opChat          = "chat"
	opWhisper       = "whisper"
	opMoveTo        = "moveTo"
	opPosition      = "position"
	opBlockAt       = "blockAt"
	opDig           = "dig"
	opPlace         = "place"
	opEquip         = "equip"
	opAttack        = "attack"
	opUseItem       = "useItem"
	opLookAt        = "lookAt"
	opJump          = "jump"
	opSetPosture    = "setPosture"
	opOpenContainer = "openContainer"
	opFindItem      = "findInventoryItem"
	opNearestEntity = "nearestEntity"
	opToss          = "toss"
	opQuit          = "quit"

	opContainerCount    = "container.count"
	opContainerWithdraw = "container.withdraw"
	opContainerDeposit  = "container.deposit"
	opContainerClose    = "container.close"
)

// connectPayload asks the bridge to log an account in.
type connectPayload struct {
	Username string   `json:"username"`
	Auth     string   `json:"auth"`
	Version  string   `json:"version,omitempty"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Proxies  []string `json:"proxies,omitempty"`
}

type connectResult struct {
	Username string `json:"username"`
}

type textArgs struct {
	User string `json:"user,omitempty"`
	Text string `json:"text"`
}

type blockResult struct {
	Found bool       `json:"found"`
	Block game.Block `json:"block"`
}

type placeArgs struct {
	Ref  game.Block `json:"ref"`
	Face game.Vec3  `json:"face"`
	Item game.Item  `json:"item"`
}

type equipArgs struct {
	Item game.Item `json:"item"`
	Slot string    `json:"slot"`
}

type useArgs struct {
	Item   game.Item      `json:"item"`
	Target game.UseTarget `json:"target"`
}

type postureArgs struct {
	Posture game.Posture `json:"posture"`
	On      bool         `json:"on"`
}

type itemResult struct {
	Found bool      `json:"found"`
	Item  game.Item `json:"item"`
}

type entityResult struct {
	Found  bool        `json:"found"`
	Entity game.Entity `json:"entity"`
}

type tossArgs struct {
	Item string `json:"item"`
	Qty  int    `json:"qty"`
}

type containerArgs struct {
	Handle string `json:"handle"`
	Item   string `json:"item,omitempty"`
	Qty    int    `json:"qty,omitempty"`
}

type handleResult struct {
	Handle string `json:"handle"`
}

type countResult struct {
	Count int `json:"count"`
}

// decodeEvent turns an event frame into a session event. Unrecognized names
// become game.Named with the raw payload.
func decodeEvent(name string, payload json.RawMessage) (game.Event, error) {
	fields := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", name, err)
		}
	}
	str := func(key string) string {
		s, _ := fields[key].(string)
		return s
	}

	switch game.Kind(name) {
	case game.KindChat:
		return game.Chat{Username: str("username"), Message: str("message")}, nil
	case game.KindWhisper:
		return game.Whisper{Username: str("username"), Message: str("message")}, nil
	case game.KindMessage:
		return game.Message{Text: str("message")}, nil
	case game.KindSpawn:
		return game.Spawn{}, nil
	case game.KindKicked:
		return game.Kicked{Reason: str("reason")}, nil
	case game.KindError:
		return game.Error{Err: errors.New(str("error"))}, nil
	case game.KindEnd:
		return game.End{Reason: str("reason")}, nil
	}
	if name == "" {
		return nil, errors.New("event without name")
	}
	return game.Named{EventName: name, Payload: fields}, nil
}
