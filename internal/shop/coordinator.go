package shop

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

const (
	DefaultEscrowTimeout       = 30 * time.Second
	DefaultCompensationTimeout = 2 * time.Minute
	DefaultRefundCommand       = "/pay {{username}} {{amount}}"
	DefaultPlotCommand         = "/p h {{plot}}"
)

// Buyer-facing messages.
const (
	MsgOngoing       = "You already have an ongoing transaction. Please wait a moment."
	MsgUnavailable   = "The item %q is not available."
	MsgQuote         = "This costs %d Gold. Please transfer the amount, and the item will be delivered to you."
	MsgInsufficient  = "Insufficient payment. Expected %d, received %d."
	MsgExpired       = "Payment window expired."
	MsgRefunded      = "Your money (%d Gold) has been refunded."
	MsgRefundFailed  = "Refund failed. Please contact support."
	MsgDelivered     = "%d %s delivered."
	MsgOutOfStock    = "Not enough %q in stock."
	MsgBuyerAway     = "You are not near me. Purchase cancelled, money refunded."
	MsgDeliveryError = "Delivery failed. Your payment is being refunded."
	MsgRestored      = "Items returned to storage."
)

// Config wires a Coordinator to one session.
type Config struct {
	SessionID string
	Session   game.Session
	Bus       *events.Bus
	Library   *actions.Library
	Status    status.Sink
	Chests    []ChestConfig

	Parser PaymentParser
	Store  Store
	Ledger Ledger

	EscrowTimeout       time.Duration
	CompensationTimeout time.Duration
	RefundCommand       string
	PlotCommand         string
}

// Coordinator runs one escrow per buyer.
type Coordinator struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	// deliverMu keeps the avatar on one delivery at a time.
	deliverMu sync.Mutex
}

// NewCoordinator fills defaults and returns a ready coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Session == nil || cfg.Bus == nil {
		return nil, errors.New("shop needs a session and an event bus")
	}
	if cfg.Parser == nil {
		p, err := NewPatternParser(DefaultPaymentConfig())
		if err != nil {
			return nil, err
		}
		cfg.Parser = p
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Ledger == nil {
		cfg.Ledger = nopLedger{}
	}
	if cfg.Library == nil {
		cfg.Library = actions.NewLibrary()
	}
	if cfg.Status == nil {
		cfg.Status = status.SinkFunc(func(string) {})
	}
	if cfg.EscrowTimeout <= 0 {
		cfg.EscrowTimeout = DefaultEscrowTimeout
	}
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = DefaultCompensationTimeout
	}
	if cfg.RefundCommand == "" {
		cfg.RefundCommand = DefaultRefundCommand
	}
	if cfg.PlotCommand == "" {
		cfg.PlotCommand = DefaultPlotCommand
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{cfg: cfg, ctx: ctx, cancel: cancel}, nil
}

// Store exposes the live transaction table.
func (c *Coordinator) Store() Store {
	return c.cfg.Store
}

// Buy quotes item to buyer and starts the escrow. It returns once the
// transaction awaits payment; the rest runs in the background.
func (c *Coordinator) Buy(ctx context.Context, buyer, item string, qty int) error {
	if qty < 1 || qty > MaxQuantity {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrCoordinatorClosed
	}

	chest, it, ok := Find(c.cfg.Chests, item)
	if !ok {
		log.Warn().Str("session", c.cfg.SessionID).Str("item", item).Msg("Item not available")
		c.whisper(ctx, buyer, fmt.Sprintf(MsgUnavailable, item))
		return fmt.Errorf("%w: %s", ErrItemUnavailable, item)
	}

	price, err := it.Price(qty)
	if err != nil || price <= 0 {
		log.Warn().Err(err).Str("session", c.cfg.SessionID).Str("item", item).Int("quantity", qty).Msg("Unpriceable purchase rejected")
		return fmt.Errorf("%w: cannot price %d %s", ErrInvalidQuantity, qty, item)
	}

	now := time.Now()
	tx := Transaction{
		ID:        newTransactionID(),
		Buyer:     buyer,
		Item:      item,
		Quantity:  qty,
		Expected:  price,
		Chest:     chest,
		State:     StateQuoted,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := c.cfg.Store.Reserve(tx); err != nil {
		c.whisper(ctx, buyer, MsgOngoing)
		return err
	}
	metrics.TransactionStarted(c.cfg.SessionID)
	c.record(ctx, tx)

	payments := make(chan Payment, 1)
	unsubscribe, err := c.cfg.Bus.Subscribe(string(game.KindMessage), c.watch(buyer, payments))
	if err != nil {
		c.finish(ctx, &tx, StateClosedFailed, err.Error())
		return fmt.Errorf("watching payments: %w", err)
	}

	c.whisper(ctx, buyer, fmt.Sprintf(MsgQuote, tx.Expected))
	c.transition(ctx, &tx, StateAwaitingPayment, "")

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsubscribe()
		c.finish(ctx, &tx, StateClosedFailed, "session stopped")
		return ErrCoordinatorClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.escrow(&tx, payments, unsubscribe)
	}()
	return nil
}

// watch forwards the first payment from buyer.
func (c *Coordinator) watch(buyer string, out chan<- Payment) events.Handler {
	return func(_ context.Context, ev game.Event) {
		msg, ok := ev.(game.Message)
		if !ok {
			return
		}
		p, ok, err := c.cfg.Parser.Parse(msg.Text)
		if err != nil {
			log.Warn().Err(err).Str("session", c.cfg.SessionID).Msg("Unreadable payment notification")
			status.Emitf(c.cfg.Status, "Unreadable payment notification: %v", err)
			return
		}
		if !ok || !strings.EqualFold(p.Sender, buyer) {
			return
		}
		select {
		case out <- p:
		default:
		}
	}
}

func (c *Coordinator) escrow(tx *Transaction, payments <-chan Payment, unsubscribe func()) {
	timer := time.NewTimer(c.cfg.EscrowTimeout)
	defer timer.Stop()

	select {
	case p := <-payments:
		unsubscribe()
		tx.Received = p.Amount
		if p.Amount < tx.Expected {
			c.underpaid(tx)
			return
		}
		if p.Amount > tx.Expected {
			log.Info().Str("buyer", tx.Buyer).Int("excess", p.Amount-tx.Expected).Msg("Overpayment accepted")
		}
		c.deliver(tx)

	case <-timer.C:
		unsubscribe()
		c.expire(tx)

	case <-c.ctx.Done():
		unsubscribe()
		c.finish(context.Background(), tx, StateClosedFailed, "session stopped")
	}
}

func (c *Coordinator) underpaid(tx *Transaction) {
	ctx, cancel := c.detached()
	defer cancel()

	c.whisper(ctx, tx.Buyer, fmt.Sprintf(MsgInsufficient, tx.Expected, tx.Received))
	c.refund(ctx, tx, tx.Received)
	c.finish(ctx, tx, StateClosedFailed, ErrInsufficientPayment.Error())
}

func (c *Coordinator) expire(tx *Transaction) {
	ctx, cancel := c.detached()
	defer cancel()

	c.whisper(ctx, tx.Buyer, MsgExpired)
	c.transition(ctx, tx, StateRefunding, ErrPaymentTimeout.Error())
	c.refund(ctx, tx, tx.owed())
	c.restore(ctx, tx)
	c.finish(ctx, tx, StateClosedRefunded, ErrPaymentTimeout.Error())
}

func (c *Coordinator) deliver(tx *Transaction) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.transition(c.ctx, tx, StateDelivering, "")

	err := c.runDelivery(c.ctx, tx)
	if err == nil {
		c.finish(c.ctx, tx, StateClosedDelivered, "")
		return
	}

	log.Error().Err(err).Str("session", c.cfg.SessionID).Str("buyer", tx.Buyer).Msg("Delivery failed")
	status.Emitf(c.cfg.Status, "Delivery to %s failed: %v", tx.Buyer, err)

	ctx, cancel := c.detached()
	defer cancel()

	switch {
	case errors.Is(err, ErrOutOfStock):
		c.whisper(ctx, tx.Buyer, fmt.Sprintf(MsgOutOfStock, tx.Item))
	case errors.Is(err, ErrBuyerAway):
		c.whisper(ctx, tx.Buyer, MsgBuyerAway)
	default:
		c.whisper(ctx, tx.Buyer, MsgDeliveryError)
	}
	c.refund(ctx, tx, tx.owed())
	c.restore(ctx, tx)
	c.finish(ctx, tx, StateClosedFailed, err.Error())
}

// refund pays amount back to the buyer. Failures are reported, never
// returned. Nothing owed is only noted in the status log.
func (c *Coordinator) refund(ctx context.Context, tx *Transaction, amount int) {
	if amount <= 0 {
		status.Emitf(c.cfg.Status, "Refund to %s skipped: nothing to refund.", tx.Buyer)
		return
	}

	cmd := rules.Resolve(c.cfg.RefundCommand, rules.Context{"username": tx.Buyer, "amount": amount})
	if err := c.cfg.Session.Chat(ctx, cmd); err != nil {
		log.Error().Err(err).Str("buyer", tx.Buyer).Int("amount", amount).Msg("Refund failed")
		status.Emitf(c.cfg.Status, "Refund of %d to %s failed: %v", amount, tx.Buyer, err)
		c.whisper(ctx, tx.Buyer, MsgRefundFailed)
		return
	}
	status.Emitf(c.cfg.Status, "Refunded %d to %s.", amount, tx.Buyer)
	c.whisper(ctx, tx.Buyer, fmt.Sprintf(MsgRefunded, amount))
}

// restore returns withdrawn stock still in the inventory to the chest.
func (c *Coordinator) restore(ctx context.Context, tx *Transaction) {
	if tx.Withdrawn <= 0 {
		return
	}

	held, err := actions.InventoryCount(ctx, c.cfg.Session, tx.Item)
	if err != nil {
		status.Emitf(c.cfg.Status, "Restoring %s failed: %v", tx.Item, err)
		return
	}
	qty := min(held, tx.Withdrawn)
	if qty <= 0 {
		status.Emitf(c.cfg.Status, "Nothing to restore for %s: %d %s missing.", tx.Buyer, tx.Withdrawn, tx.Item)
		return
	}

	pos := tx.Chest.Position()
	err = c.cfg.Library.Navigate(ctx, c.cfg.Session, c.cfg.Status, pos)
	if err == nil {
		err = actions.Deposit(ctx, c.cfg.Session, pos, tx.Item, qty)
	}
	if err != nil {
		log.Error().Err(err).Str("buyer", tx.Buyer).Msg("Restoring stock failed")
		status.Emitf(c.cfg.Status, "Restoring %d %s failed: %v", qty, tx.Item, err)
		return
	}
	tx.Withdrawn -= qty
	status.Emitf(c.cfg.Status, "Restored %d %s to %s.", qty, tx.Item, pos)
	c.whisper(ctx, tx.Buyer, MsgRestored)
}

// detached returns a bounded context that survives coordinator shutdown, so
// compensation still runs while the session stops.
func (c *Coordinator) detached() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.ctx), c.cfg.CompensationTimeout)
}

func (c *Coordinator) whisper(ctx context.Context, user, text string) {
	if err := c.cfg.Session.Whisper(ctx, user, text); err != nil {
		log.Warn().Err(err).Str("user", user).Msg("Whisper failed")
		status.Emitf(c.cfg.Status, "Whisper to %s failed: %v", user, err)
	}
}

func (c *Coordinator) transition(ctx context.Context, tx *Transaction, to State, reason string) {
	from := tx.State
	tx.State = to
	tx.Reason = reason
	tx.UpdatedAt = time.Now()
	c.cfg.Store.Save(*tx)
	c.record(ctx, *tx)

	if reason != "" {
		status.Emitf(c.cfg.Status, "Transaction %s (%s, %d %s): %s -> %s (%s)", tx.ID, tx.Buyer, tx.Quantity, tx.Item, from, to, reason)
	} else {
		status.Emitf(c.cfg.Status, "Transaction %s (%s, %d %s): %s -> %s", tx.ID, tx.Buyer, tx.Quantity, tx.Item, from, to)
	}
}

func (c *Coordinator) record(ctx context.Context, tx Transaction) {
	if err := c.cfg.Ledger.Record(context.WithoutCancel(ctx), c.cfg.SessionID, tx); err != nil {
		log.Error().Err(err).Str("tx_id", tx.ID).Msg("Failed to record transaction")
	}
}

// finish moves tx to a terminal state and frees the buyer slot.
func (c *Coordinator) finish(ctx context.Context, tx *Transaction, to State, reason string) {
	c.transition(ctx, tx, to, reason)
	c.cfg.Store.Remove(tx.Buyer)
	metrics.TransactionFinished(c.cfg.SessionID, string(to), time.Since(tx.CreatedAt))

	log.Info().
		Str("session", c.cfg.SessionID).
		Str("tx_id", tx.ID).
		Str("buyer", tx.Buyer).
		Str("state", string(to)).
		Msg("Transaction closed")
}

// Close stops accepting purchases, ends every escrow and waits for running
// deliveries and compensation to finish.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}
