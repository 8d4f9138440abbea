// Package game describes the live connection of a controlled avatar: the
// capabilities it exposes and the events it emits.
package game

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrNoBlock         = errors.New("no block at position")
	ErrItemNotFound    = errors.New("item not in inventory")
	ErrEntityNotFound  = errors.New("entity not found")
	ErrContainerClosed = errors.New("container closed")
	ErrSessionClosed   = errors.New("session closed")
)

// Vec3 is a world position.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Offset returns v shifted by the given deltas.
func (v Vec3) Offset(dx, dy, dz float64) Vec3 {
	return Vec3{X: v.X + dx, Y: v.Y + dy, Z: v.Z + dz}
}

// DistanceTo returns the euclidean distance between two positions.
func (v Vec3) DistanceTo(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z)
}

// Face names one of the six block faces.
type Face string

const (
	FaceNorth Face = "north"
	FaceSouth Face = "south"
	FaceEast  Face = "east"
	FaceWest  Face = "west"
	FaceUp    Face = "up"
	FaceDown  Face = "down"
)

// ParseFace parses a direction name case-insensitively.
func ParseFace(s string) (Face, bool) {
	switch f := Face(strings.ToLower(s)); f {
	case FaceNorth, FaceSouth, FaceEast, FaceWest, FaceUp, FaceDown:
		return f, true
	default:
		return "", false
	}
}

// Vector returns the unit offset pointing out of the face.
func (f Face) Vector() Vec3 {
	switch f {
	case FaceNorth:
		return Vec3{Z: -1}
	case FaceSouth:
		return Vec3{Z: 1}
	case FaceEast:
		return Vec3{X: 1}
	case FaceWest:
		return Vec3{X: -1}
	case FaceUp:
		return Vec3{Y: 1}
	case FaceDown:
		return Vec3{Y: -1}
	}
	return Vec3{}
}

// Block is a placed block in the world.
type Block struct {
	Name     string `json:"name"`
	Position Vec3   `json:"position"`
}

// Item is a stack held in the avatar's inventory.
type Item struct {
	Name  string `json:"name"`
	Type  int    `json:"type"`
	Count int    `json:"count"`
}

// Entity is a player, mob or object near the avatar.
type Entity struct {
	ID       string  `json:"id"`
	Username string  `json:"username,omitempty"`
	Name     string  `json:"name,omitempty"`
	Position Vec3    `json:"position"`
	Height   float64 `json:"height"`
}

// EntityQuery selects the nearest entity whose username or ID equals Match.
type EntityQuery struct {
	Match string `json:"match"`
}

// Matches reports whether e satisfies the query.
func (q EntityQuery) Matches(e Entity) bool {
	return q.Match != "" && (e.Username == q.Match || e.ID == q.Match)
}

// GoalKind selects the movement goal type.
type GoalKind string

const (
	GoalBlock  GoalKind = "block"
	GoalFollow GoalKind = "follow"
)

// Goal is a movement target handed to the session's path finder.
type Goal struct {
	Kind     GoalKind `json:"kind"`
	Position Vec3     `json:"position"`
	EntityID string   `json:"entity_id,omitempty"`
	Range    float64  `json:"range,omitempty"`
	// Dynamic keeps re-planning while the target moves.
	Dynamic bool `json:"dynamic,omitempty"`
}

// Posture is a toggleable control state.
type Posture string

const (
	PostureSneak  Posture = "sneak"
	PostureSprint Posture = "sprint"
)

// UseTarget is what an item is used on. Exactly one of Entity or Block is set.
type UseTarget struct {
	Entity *Entity `json:"entity,omitempty"`
	Block  *Block  `json:"block,omitempty"`
}

// Container is an opened inventory window such as a chest.
type Container interface {
	// Count returns how many items named item the container holds.
	Count(ctx context.Context, item string) (int, error)
	Withdraw(ctx context.Context, item string, qty int) error
	Deposit(ctx context.Context, item string, qty int) error
	Close(ctx context.Context) error
}

// Session is the capability surface of one connected avatar.
//
// Implementations must be safe for concurrent use: hook dispatches and
// transactions for the same avatar run on separate goroutines.
type Session interface {
	Username() string

	Chat(ctx context.Context, text string) error
	Whisper(ctx context.Context, user, text string) error

	// MoveTo hands a goal to the path finder and returns once it is accepted.
	// Arrival is observed through Position.
	MoveTo(ctx context.Context, goal Goal) error
	Position(ctx context.Context) (Vec3, error)
	BlockAt(ctx context.Context, pos Vec3) (Block, bool, error)

	Dig(ctx context.Context, block Block) error
	Place(ctx context.Context, ref Block, face Vec3, item Item) error
	Equip(ctx context.Context, item Item, slot string) error
	Attack(ctx context.Context, target Entity) error
	UseItem(ctx context.Context, item Item, target UseTarget) error
	LookAt(ctx context.Context, pos Vec3) error
	Jump(ctx context.Context) error
	SetPosture(ctx context.Context, posture Posture, on bool) error

	OpenContainer(ctx context.Context, block Block) (Container, error)
	FindInventoryItem(ctx context.Context, name string) (Item, bool, error)
	NearestEntity(ctx context.Context, q EntityQuery) (Entity, bool, error)
	// Toss drops qty items named item in front of the avatar.
	Toss(ctx context.Context, item string, qty int) error

	// Events is closed when the connection ends.
	Events() <-chan Event
	Quit(ctx context.Context) error
}

// Dialer opens a new Session for an account.
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Session, error)
}

// DialOptions identifies the account and server to connect to.
type DialOptions struct {
	Username string
	Auth     string
	Version  string
	Host     string
	Port     int
	Proxies  []string
}
