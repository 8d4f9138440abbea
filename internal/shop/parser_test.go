package shop

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternParser_Default(t *testing.T) {
	p, err := NewPatternParser(PaymentConfig{})
	require.NoError(t, err)

	tests := []struct {
		name    string
		text    string
		want    Payment
		ok      bool
		wantErr bool
	}{
		{"plain", "» You have received 30 Gold from VIP ● Alice.", Payment{Sender: "Alice", Amount: 30}, true, false},
		{"thousands", "» You have received 1.250 Gold from Premium ● Bob.", Payment{Sender: "Bob", Amount: 1250}, true, false},
		{"millions", "» You have received 1.000.000 Gold from VIP ● Bob.", Payment{Sender: "Bob", Amount: 1000000}, true, false},
		{"decimal truncated", "» You have received 12,75 Gold from VIP ● Carol.", Payment{Sender: "Carol", Amount: 12}, true, false},
		{"case insensitive", "» you have received 5 gold from VIP ● dave.", Payment{Sender: "dave", Amount: 5}, true, false},
		{"no trailing dot", "» You have received 5 Gold from VIP ● Eve", Payment{Sender: "Eve", Amount: 5}, true, false},
		{"unrelated", "<Alice> I have received 30 Gold", Payment{}, false, false},
		{"whisper", "[VIP ● Alice --> dir] buy diamond 3", Payment{}, false, false},
		{"two decimals", "» You have received 1,2,3 Gold from VIP ● Eve.", Payment{}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := p.Parse(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedPayment))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPatternParser_CustomSchema(t *testing.T) {
	p, err := NewPatternParser(PaymentConfig{
		Pattern:      `^\$(?P<amount>[\d,]+(\.\d+)?) received from (?P<sender>\w+)$`,
		ThousandsSep: ",",
		DecimalSep:   ".",
	})
	require.NoError(t, err)

	got, ok, err := p.Parse("$1,500.99 received from Steve")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Payment{Sender: "Steve", Amount: 1500}, got)
}

func TestNewPatternParser_Errors(t *testing.T) {
	_, err := NewPatternParser(PaymentConfig{Pattern: `received (\d+) from (\w+)`})
	assert.ErrorContains(t, err, "named groups")

	_, err = NewPatternParser(PaymentConfig{Pattern: `(?P<amount>[`})
	assert.ErrorContains(t, err, "compiling payment pattern")

	_, err = NewPatternParser(PaymentConfig{ThousandsSep: ".", DecimalSep: "."})
	assert.ErrorContains(t, err, "must differ")
}

func TestItemConfig_Price(t *testing.T) {
	tests := []struct {
		name string
		item ItemConfig
		qty  int
		want int
	}{
		{"unit only", ItemConfig{PricePerUnit: 10}, 3, 30},
		{"zero quantity", ItemConfig{PricePerUnit: 10}, 0, 0},
		{"stack discount", ItemConfig{PricePerUnit: 10, PricePerStack: 500}, 64, 500},
		{"stack plus remainder", ItemConfig{PricePerUnit: 10, PricePerStack: 500}, 70, 560},
		{"custom stack size", ItemConfig{PricePerUnit: 2, PricePerStack: 25, StackSize: 16}, 33, 52},
		{"below one stack", ItemConfig{PricePerUnit: 10, PricePerStack: 500}, 63, 630},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.item.Price(tt.qty)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestItemConfig_PriceOverflow(t *testing.T) {
	tests := []struct {
		name string
		item ItemConfig
		qty  int
	}{
		{"unit", ItemConfig{PricePerUnit: 10}, math.MaxInt64},
		{"stacks", ItemConfig{PricePerUnit: 10, PricePerStack: 500}, math.MaxInt64},
		{"stacks plus remainder", ItemConfig{PricePerUnit: math.MaxInt/2 + 2, PricePerStack: math.MaxInt / 2, StackSize: 2}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.item.Price(tt.qty)
			assert.ErrorIs(t, err, ErrPriceOverflow)
		})
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.Reserve(Transaction{ID: "a", Buyer: "Alice", State: StateQuoted}))
	require.ErrorIs(t, s.Reserve(Transaction{ID: "b", Buyer: "Alice"}), ErrOngoing)

	assert.True(t, s.Save(Transaction{ID: "a", Buyer: "Alice", State: StateAwaitingPayment}))
	assert.False(t, s.Save(Transaction{ID: "b", Buyer: "Alice", State: StateDelivering}), "stale id")
	assert.False(t, s.Save(Transaction{ID: "c", Buyer: "Bob"}), "not reserved")

	tx, ok := s.Get("Alice")
	require.True(t, ok)
	assert.Equal(t, StateAwaitingPayment, tx.State)

	s.Remove("Alice")
	_, ok = s.Get("Alice")
	assert.False(t, ok)
	require.NoError(t, s.Reserve(Transaction{ID: "d", Buyer: "Alice"}))
}

func TestMemoryStore_BuyerCaseInsensitive(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.Reserve(Transaction{ID: "a", Buyer: "Alice", State: StateQuoted}))
	require.ErrorIs(t, s.Reserve(Transaction{ID: "b", Buyer: "alice"}), ErrOngoing)

	tx, ok := s.Get("ALICE")
	require.True(t, ok)
	assert.Equal(t, "a", tx.ID)
	assert.Equal(t, "Alice", tx.Buyer)

	assert.True(t, s.Save(Transaction{ID: "a", Buyer: "aLiCe", State: StateAwaitingPayment}))
	require.Len(t, s.List(), 1)

	s.Remove("alice")
	assert.Empty(t, s.List())
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateClosedDelivered, StateClosedRefunded, StateClosedFailed} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateQuoted, StateAwaitingPayment, StateDelivering, StateRefunding} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestNewTransactionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := newTransactionID()
		require.Len(t, id, txIDLength)
		require.Regexp(t, `^[a-z2-9]+$`, id)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
