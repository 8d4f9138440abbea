package shop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/cobble/internal/actions"
	"github.com/watzon/cobble/internal/events"
	"github.com/watzon/cobble/internal/game"
	"github.com/watzon/cobble/internal/game/gametest"
	"github.com/watzon/cobble/internal/status"
)

var chestPos = game.Vec3{X: 10, Y: 64, Z: 10}

type memLedger struct {
	mu      sync.Mutex
	entries []Transaction
}

func (l *memLedger) Record(_ context.Context, _ string, tx Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, tx)
	return nil
}

func (l *memLedger) states(buyer string) []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []State
	for _, e := range l.entries {
		if e.Buyer == buyer {
			out = append(out, e.State)
		}
	}
	return out
}

type fixture struct {
	session *gametest.Session
	bus     *events.Bus
	log     *status.Log
	ledger  *memLedger
	coord   *Coordinator
}

func newFixture(t *testing.T, escrow time.Duration) *fixture {
	t.Helper()

	f := &fixture{
		session: gametest.New("ShopBot"),
		bus:     events.NewBus("shop"),
		log:     status.NewLog("shop"),
		ledger:  &memLedger{},
	}
	f.session.AddChest(chestPos, map[string]int{"diamond": 10})
	f.session.AddEntity(game.Entity{ID: "7", Username: "Alice", Position: game.Vec3{X: 0, Y: 64, Z: 0}})
	f.session.AddEntity(game.Entity{ID: "8", Username: "Bob", Position: game.Vec3{X: 3, Y: 64, Z: 0}})

	var err error
	f.coord, err = NewCoordinator(Config{
		SessionID: "shop",
		Session:   f.session,
		Bus:       f.bus,
		Library: actions.NewLibrary(actions.WithNavigation(actions.NavConfig{
			PollInterval: time.Millisecond,
			Timeout:      50 * time.Millisecond,
		})),
		Status: f.log,
		Chests: []ChestConfig{{
			Plot: "shop1",
			X:    chestPos.X, Y: chestPos.Y, Z: chestPos.Z,
			Items: []ItemConfig{{Name: "diamond", PricePerUnit: 10}},
		}},
		Ledger:        f.ledger,
		EscrowTimeout: escrow,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.coord.Close() })
	return f
}

func (f *fixture) pay(user string, amount int) {
	text := fmt.Sprintf("» You have received %d Gold from VIP ● %s.", amount, user)
	f.bus.Publish(context.Background(), game.Message{Text: text})
}

func (f *fixture) waitClosed(t *testing.T, buyer string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, live := f.coord.Store().Get(buyer)
		return !live
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBuy_HappyPath(t *testing.T) {
	f := newFixture(t, time.Second)
	f.session.Give("diamond", 2)

	require.NoError(t, f.coord.Buy(context.Background(), "Alice", "diamond", 3))
	assert.Contains(t, f.session.Whispers(), "Alice: This costs 30 Gold. Please transfer the amount, and the item will be delivered to you.")

	tx, live := f.coord.Store().Get("Alice")
	require.True(t, live)
	assert.Equal(t, StateAwaitingPayment, tx.State)
	assert.Equal(t, 30, tx.Expected)

	f.pay("Alice", 30)
	f.waitClosed(t, "Alice")

	assert.Equal(t, 3, f.session.Tossed("diamond"))
	assert.Equal(t, 9, f.session.ChestCount(chestPos, "diamond"), "withdrawn 3, excess 2 returned")
	assert.Zero(t, f.session.InventoryCount("diamond"))
	assert.Contains(t, f.session.Chats(), "/p h shop1")
	assert.Contains(t, f.session.Whispers(), "Alice: 3 diamond delivered.")
	assert.Equal(t, []State{StateQuoted, StateAwaitingPayment, StateDelivering, StateClosedDelivered}, f.ledger.states("Alice"))
}

func TestBuy_DuplicateRejected(t *testing.T) {
	f := newFixture(t, time.Second)

	require.NoError(t, f.coord.Buy(context.Background(), "Alice", "diamond", 3))
	before, _ := f.coord.Store().Get("Alice")

	err := f.coord.Buy(context.Background(), "Alice", "diamond", 1)
	require.ErrorIs(t, err, ErrOngoing)
	assert.Contains(t, f.session.Whispers(), "Alice: "+MsgOngoing)

	after, live := f.coord.Store().Get("Alice")
	require.True(t, live)
	assert.Equal(t, before, after)
	assert.Equal(t, 3, after.Quantity)
}

func TestBuy_DuplicateRejectedAcrossNameCase(t *testing.T) {
	f := newFixture(t, time.Second)

	require.NoError(t, f.coord.Buy(context.Background(), "Alice", "diamond", 3))
	require.ErrorIs(t, f.coord.Buy(context.Background(), "alice", "diamond", 1), ErrOngoing)

	require.Len(t, f.coord.Store().List(), 1)
	tx, live := f.coord.Store().Get("ALICE")
	require.True(t, live)
	assert.Equal(t, 3, tx.Quantity)
}

func TestBuy_ConcurrentAdmission(t *testing.T) {
	f := newFixture(t, time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.coord.Buy(context.Background(), "Alice", "diamond", 1) == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, admitted)
}

func TestBuy_Timeout(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)

	require.NoError(t, f.coord.Buy(context.Background(), "Alice", "diamond", 3))
	f.waitClosed(t, "Alice")

	assert.Equal(t, []State{StateQuoted, StateAwaitingPayment, StateRefunding, StateClosedRefunded}, f.ledger.states("Alice"))
	assert.Contains(t, f.session.Whispers(), "Alice: "+MsgExpired)
	assert.Contains(t, f.session.Chats(), "/pay Alice 30")
	assert.Equal(t, 10, f.session.ChestCount(chestPos, "diamond"))

	require.NoError(t, f.coord.Buy(context.Background(), "Alice", "diamond", 1), "slot must be free again")
}

func TestBuy_LatePaymentAfterTimeoutIgnored(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)

	require.NoError(t, f.coord.Buy(context.Background(), "Alice", "diamond", 3))
	f.waitClosed(t, "Alice")
	f.pay("Alice", 30)
	time.Sleep(20 * time.Millisecond)

	assert.Zero(t, f.session.Tossed("diamond"))
	assert.Len(t, f.ledger.states("Alice"), 4)
}

func TestBuy_Underpayment(t *testing.T) {
	f := newFixture(t, time.Second)

	require.NoError(t, f.coord.Buy(context.Background(), "Alice", "diamond", 3))
	f.pay("Alice", 20)
	f.waitClosed(t, "Alice")

	assert.Equal(t, []State{StateQuoted, StateAwaitingPayment, StateClosedFailed}, f.ledger.states("Alice"))
	assert.Contains(t, f.session.Chats(), "/pay Alice 20")
	assert.NotContains(t, f.session.Chats(), "/pay Alice 30")
	assert.Contains(t, f.session.Whispers(), "Alice: Insufficient payment. Expected 30, received 20.")
	assert.Zero(t, f.session.Tossed("diamond"))
}

func TestBuy_PaymentFromOtherSenderIgnored(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)

	require.NoError(t, f.coord.Buy(context.Background(), "Alice", "diamond", 1))
	f.pay("Bob", 10)
	f.waitClosed(t, "Alice")

	assert.Equal(t, StateClosedRefunded, f.ledger.states("Alice")[3])
	assert.Zero(t, f.session.Tossed("diamond"))
}

func TestBuy_DeliveryFailureCompensates(t *testing.T) {
	f := newFixture(t, time.Second)
	f.session.Give("diamond", 2)
	// The second container open returns the excess; failing it aborts
	// delivery after the withdrawal.
	f.session.Fail("openContainer", 2, errors.New("window desync"))

	require.NoError(t, f.coord.Buy(context.Background(), "Alice", "diamond", 3))
	f.pay("Alice", 30)
	f.waitClosed(t, "Alice")

	assert.Equal(t, []State{StateQuoted, StateAwaitingPayment, StateDelivering, StateClosedFailed}, f.ledger.states("Alice"))
	assert.Contains(t, f.session.Chats(), "/pay Alice 30")
	assert.Equal(t, 10, f.session.ChestCount(chestPos, "diamond"), "withdrawn stock restored")
	assert.Equal(t, 2, f.session.InventoryCount("diamond"))
	assert.Zero(t, f.session.Tossed("diamond"))
	assert.True(t, f.log.Contains("Restored 3 diamond"))
}

func TestBuy_TransferFailureCompensates(t *testing.T) {
	f := newFixture(t, time.Second)
	f.session.Fail("toss", 0, errors.New("inventory locked"))

	require.NoError(t, f.coord.Buy(context.Background(), "Alice", "diamond", 4))
	f.pay("Alice", 40)
	f.waitClosed(t, "Alice")

	assert.Equal(t, StateClosedFailed, f.ledger.states("Alice")[3])
	assert.Equal(t, 10, f.session.ChestCount(chestPos, "diamond"))
	assert.Contains(t, f.session.Whispers(), "Alice: "+MsgDeliveryError)
}

func TestBuy_OutOfStock(t *testing.T) {
	f := newFixture(t, time.Second)

	require.NoError(t, f.coord.Buy(context.Background(), "Alice", "diamond", 11))
	f.pay("Alice", 110)
	f.waitClosed(t, "Alice")

	assert.Contains(t, f.session.Whispers(), `Alice: Not enough "diamond" in stock.`)
	assert.Contains(t, f.session.Chats(), "/pay Alice 110")
	assert.Equal(t, 10, f.session.ChestCount(chestPos, "diamond"))
}

func TestBuy_BuyerAway(t *testing.T) {
	f := newFixture(t, time.Second)

	require.NoError(t, f.coord.Buy(context.Background(), "Carol", "diamond", 2))
	f.pay("Carol", 20)
	f.waitClosed(t, "Carol")

	assert.Contains(t, f.session.Whispers(), "Carol: "+MsgBuyerAway)
	assert.Equal(t, 10, f.session.ChestCount(chestPos, "diamond"))
	assert.Zero(t, f.session.InventoryCount("diamond"))
}

func TestBuy_UnknownItem(t *testing.T) {
	f := newFixture(t, time.Second)

	err := f.coord.Buy(context.Background(), "Alice", "emerald", 1)
	require.ErrorIs(t, err, ErrItemUnavailable)
	assert.Contains(t, f.session.Whispers(), `Alice: The item "emerald" is not available.`)
	assert.Empty(t, f.coord.Store().List())
}

func TestBuy_InvalidQuantity(t *testing.T) {
	f := newFixture(t, time.Second)
	assert.ErrorIs(t, f.coord.Buy(context.Background(), "Alice", "diamond", 0), ErrInvalidQuantity)
}

func TestBuy_QuantityOutOfRange(t *testing.T) {
	f := newFixture(t, time.Second)

	for _, qty := range []int{math.MaxInt64, MaxQuantity + 1} {
		err := f.coord.Buy(context.Background(), "Alice", "diamond", qty)
		require.ErrorIs(t, err, ErrInvalidQuantity, qty)
	}
	assert.Empty(t, f.coord.Store().List())
	assert.Empty(t, f.session.Whispers(), "no quote for an unpriceable amount")
	assert.Empty(t, f.ledger.states("Alice"))

	require.NoError(t, f.coord.Buy(context.Background(), "Alice", "diamond", MaxQuantity))
	tx, _ := f.coord.Store().Get("Alice")
	assert.Equal(t, MaxQuantity*10, tx.Expected)
}

func TestBuy_FailedDeliveryRefundsOverpayment(t *testing.T) {
	f := newFixture(t, time.Second)

	require.NoError(t, f.coord.Buy(context.Background(), "Alice", "diamond", 11))
	f.pay("Alice", 150)
	f.waitClosed(t, "Alice")

	assert.Contains(t, f.session.Chats(), "/pay Alice 150")
	assert.NotContains(t, f.session.Chats(), "/pay Alice 110")
	assert.Contains(t, f.session.Whispers(), "Alice: Your money (150 Gold) has been refunded.")
}

func TestBuy_ZeroPaymentNeedsNoRefund(t *testing.T) {
	f := newFixture(t, time.Second)

	require.NoError(t, f.coord.Buy(context.Background(), "Alice", "diamond", 3))
	f.pay("Alice", 0)
	f.waitClosed(t, "Alice")

	assert.Equal(t, []State{StateQuoted, StateAwaitingPayment, StateClosedFailed}, f.ledger.states("Alice"))
	assert.NotContains(t, f.session.Whispers(), "Alice: "+MsgRefundFailed)
	assert.True(t, f.log.Contains("nothing to refund"))
	for _, c := range f.session.Chats() {
		assert.NotContains(t, c, "/pay")
	}
}

func TestClose_EndsAwaitingTransactions(t *testing.T) {
	f := newFixture(t, time.Minute)

	require.NoError(t, f.coord.Buy(context.Background(), "Alice", "diamond", 1))
	require.NoError(t, f.coord.Close())

	assert.Empty(t, f.coord.Store().List())
	states := f.ledger.states("Alice")
	assert.Equal(t, StateClosedFailed, states[len(states)-1])
	assert.NotContains(t, f.session.Chats(), "/pay Alice 10")
	assert.Zero(t, f.bus.Len(), "payment watcher removed")

	assert.ErrorIs(t, f.coord.Buy(context.Background(), "Bob", "diamond", 1), ErrCoordinatorClosed)
}
