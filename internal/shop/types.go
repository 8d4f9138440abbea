// Package shop sells chest stock for in-game currency through a per-buyer
// escrow: quote, await payment, deliver or compensate.
package shop

import (
	"errors"
	"math"
	"time"

	"github.com/watzon/cobble/internal/game"
)

var (
	ErrOngoing             = errors.New("ongoing transaction")
	ErrItemUnavailable     = errors.New("item not available")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrPriceOverflow       = errors.New("price out of range")
	ErrPaymentTimeout      = errors.New("payment timed out")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrOutOfStock          = errors.New("not enough stock")
	ErrBuyerAway           = errors.New("buyer not nearby")
	ErrCoordinatorClosed   = errors.New("shop closed")
)

// State is a transaction's position in the escrow.
type State string

const (
	StateQuoted          State = "quoted"
	StateAwaitingPayment State = "awaiting_payment"
	StateDelivering      State = "delivering"
	StateRefunding       State = "refunding"
	StateClosedDelivered State = "closed_delivered"
	StateClosedRefunded  State = "closed_refunded"
	StateClosedFailed    State = "closed_failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateClosedDelivered, StateClosedRefunded, StateClosedFailed:
		return true
	default:
		return false
	}
}

// DefaultStackSize is used when an item does not set one.
const DefaultStackSize = 64

// MaxQuantity caps one purchase at a full player inventory (36 slots of 64),
// the most the avatar can carry to the buyer in one delivery.
const MaxQuantity = 36 * 64

// ItemConfig prices one item sold from a chest.
type ItemConfig struct {
	Name          string `mapstructure:"name" yaml:"name" json:"name"`
	PricePerUnit  int    `mapstructure:"price_per_unit" yaml:"price_per_unit" json:"price_per_unit"`
	PricePerStack int    `mapstructure:"price_per_stack" yaml:"price_per_stack,omitempty" json:"price_per_stack,omitempty"`
	StackSize     int    `mapstructure:"stack_size" yaml:"stack_size,omitempty" json:"stack_size,omitempty"`
}

// Price returns the cost of qty items. Full stacks use the stack price when
// one is set; the remainder is charged per unit. A total that does not fit
// in an int returns ErrPriceOverflow.
func (i ItemConfig) Price(qty int) (int, error) {
	if qty <= 0 {
		return 0, nil
	}
	if i.PricePerStack <= 0 {
		return mulPrice(i.PricePerUnit, qty)
	}
	size := i.StackSize
	if size <= 0 {
		size = DefaultStackSize
	}
	stacks, err := mulPrice(qty/size, i.PricePerStack)
	if err != nil {
		return 0, err
	}
	rest, err := mulPrice(qty%size, i.PricePerUnit)
	if err != nil {
		return 0, err
	}
	if stacks > math.MaxInt-rest {
		return 0, ErrPriceOverflow
	}
	return stacks + rest, nil
}

func mulPrice(a, b int) (int, error) {
	if a < 0 || b < 0 {
		return 0, ErrPriceOverflow
	}
	if a != 0 && b > math.MaxInt/a {
		return 0, ErrPriceOverflow
	}
	return a * b, nil
}

// ChestConfig is a stock chest and the items it sells.
type ChestConfig struct {
	Plot  string       `mapstructure:"plot" yaml:"plot,omitempty" json:"plot,omitempty"`
	X     float64      `mapstructure:"x" yaml:"x" json:"x"`
	Y     float64      `mapstructure:"y" yaml:"y" json:"y"`
	Z     float64      `mapstructure:"z" yaml:"z" json:"z"`
	Items []ItemConfig `mapstructure:"items" yaml:"items" json:"items"`
}

// Position returns the chest's block position.
func (c ChestConfig) Position() game.Vec3 {
	return game.Vec3{X: c.X, Y: c.Y, Z: c.Z}
}

// Find returns the first chest selling item.
func Find(chests []ChestConfig, item string) (ChestConfig, ItemConfig, bool) {
	for _, ch := range chests {
		for _, it := range ch.Items {
			if it.Name == item {
				return ch, it, true
			}
		}
	}
	return ChestConfig{}, ItemConfig{}, false
}

// Transaction is one buyer's purchase.
type Transaction struct {
	ID        string
	Buyer     string
	Item      string
	Quantity  int
	Expected  int
	Received  int
	Withdrawn int
	Chest     ChestConfig
	State     State
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// owed is the amount returned when a paid transaction is unwound: the
// price, or everything received when the buyer paid more.
func (t Transaction) owed() int {
	return max(t.Expected, t.Received)
}
