// Package actions executes hook actions against a game session. Every
// action validates its parameters, performs one capability call and reports
// the outcome as a status line; failures never reach the caller.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/cobble/internal/game"
	"github.com/watzon/cobble/internal/metrics"
	"github.com/watzon/cobble/internal/rules"
	"github.com/watzon/cobble/internal/status"
)

// Type names an action.
type Type string

const (
	TypeMessage     Type = "message"
	TypeWhisper     Type = "whisper"
	TypeMove        Type = "move"
	TypeWait        Type = "wait"
	TypeDig         Type = "dig"
	TypePlace       Type = "place"
	TypeEquip       Type = "equip"
	TypeAttack      Type = "attack"
	TypeUseItem     Type = "useItem"
	TypeSetWaypoint Type = "setWaypoint"
	TypeFollow      Type = "follow"
	TypeLookAt      Type = "lookAt"
	TypeJump        Type = "jump"
	TypeCrouch      Type = "crouch"
)

// ErrCapability wraps failures returned by the game session.
var ErrCapability = errors.New("capability failed")

// ValidationError reports a missing or malformed parameter. No capability
// was invoked.
type ValidationError struct {
	Action  Type
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(t Type, format string, args ...any) error {
	return &ValidationError{Action: t, Message: fmt.Sprintf(format, args...)}
}

// CapabilityError is a game session failure with the action's description.
type CapabilityError struct {
	Message string
	Err     error
}

func (e *CapabilityError) Error() string {
	return e.Message + ": " + e.Err.Error()
}

func (e *CapabilityError) Unwrap() []error {
	return []error{ErrCapability, e.Err}
}

func failed(err error, format string, args ...any) error {
	return &CapabilityError{Message: fmt.Sprintf(format, args...), Err: err}
}

// Params are an action's configured parameters.
type Params map[string]any

// Get returns the value for key. Config loaders may fold key case, so a
// case-insensitive match is accepted when there is no exact one.
func (p Params) Get(key string) (any, bool) {
	if v, ok := p[key]; ok {
		return v, true
	}
	for k, v := range p {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// Request carries everything one action invocation needs.
type Request struct {
	Session game.Session
	Status  status.Sink
	Params  Params
	Context rules.Context
}

func (r *Request) emit(format string, args ...any) {
	status.Emitf(r.Status, format, args...)
}

// String returns a non-empty string parameter with placeholders resolved.
func (r *Request) String(key string) (string, bool) {
	v, ok := r.Params.Get(key)
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = rules.Resolve(s, r.Context)
	return s, s != ""
}

// Number returns a numeric parameter. Strings are resolved and parsed.
func (r *Request) Number(key string) (float64, bool) {
	v, ok := r.Params.Get(key)
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(rules.Resolve(n, r.Context)), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Bool returns a boolean parameter; "true"/"false" strings are accepted.
func (r *Request) Bool(key string) (bool, bool) {
	v, ok := r.Params.Get(key)
	if !ok || v == nil {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(rules.Resolve(b, r.Context))
		return parsed, err == nil
	default:
		return false, false
	}
}

// Position reads x, y and z.
func (r *Request) Position() (game.Vec3, bool) {
	x, okX := r.Number("x")
	y, okY := r.Number("y")
	z, okZ := r.Number("z")
	if !okX || !okY || !okZ {
		return game.Vec3{}, false
	}
	return game.Vec3{X: x, Y: y, Z: z}, true
}

// Executor runs one action type.
type Executor func(ctx context.Context, l *Library, req *Request) error

// Library maps action types to executors.
type Library struct {
	executors      map[Type]Executor
	nav            NavConfig
	attackInterval time.Duration
}

// Option configures a Library.
type Option func(*Library)

// WithNavigation overrides navigation settings.
func WithNavigation(cfg NavConfig) Option {
	return func(l *Library) { l.nav = cfg.withDefaults() }
}

// WithAttackInterval sets the delay between repeated strikes.
func WithAttackInterval(d time.Duration) Option {
	return func(l *Library) { l.attackInterval = d }
}

// WithExecutor registers or replaces an executor.
func WithExecutor(t Type, fn Executor) Option {
	return func(l *Library) { l.executors[t] = fn }
}

// NewLibrary creates a library with every built-in action.
func NewLibrary(opts ...Option) *Library {
	l := &Library{
		executors: map[Type]Executor{
			TypeMessage:     message,
			TypeWhisper:     whisper,
			TypeMove:        move,
			TypeWait:        wait,
			TypeDig:         dig,
			TypePlace:       place,
			TypeEquip:       equip,
			TypeAttack:      attack,
			TypeUseItem:     useItem,
			TypeSetWaypoint: setWaypoint,
			TypeFollow:      follow,
			TypeLookAt:      lookAt,
			TypeJump:        jump,
			TypeCrouch:      crouch,
		},
		nav:            NavConfig{}.withDefaults(),
		attackInterval: DefaultAttackInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Has reports whether t is registered.
func (l *Library) Has(t Type) bool {
	_, ok := l.executors[t]
	return ok
}

// Types lists registered action types, sorted.
func (l *Library) Types() []Type {
	out := make([]Type, 0, len(l.executors))
	for t := range l.executors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Execute runs an action. Validation and capability failures are turned into
// a single status line; nothing is returned.
func (l *Library) Execute(ctx context.Context, t Type, req *Request) {
	fn, ok := l.executors[t]
	if !ok {
		log.Warn().Str("action", string(t)).Msg("No handler found for action type")
		req.emit("Unknown action type %q.", t)
		metrics.RecordAction(string(t), "unknown")
		return
	}

	err := fn(ctx, l, req)

	var verr *ValidationError
	switch {
	case err == nil:
		metrics.RecordAction(string(t), "ok")
	case errors.As(err, &verr):
		log.Debug().Str("action", string(t)).Str("reason", verr.Message).Msg("Action parameters invalid")
		req.emit("%s", verr.Message)
		metrics.RecordAction(string(t), "invalid")
	default:
		log.Debug().Err(err).Str("action", string(t)).Msg("Action failed")
		req.emit("%s", err.Error())
		metrics.RecordAction(string(t), "failed")
	}
}
