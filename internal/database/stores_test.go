package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/cobble/internal/shop"
	"github.com/watzon/cobble/internal/status"
)

func TestTransitionStore_RecordAndHistory(t *testing.T) {
	store := NewTransitionStore(testDB(t))
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tx := shop.Transaction{ID: "tx1", Buyer: "Alice", Item: "diamond", Quantity: 3, Expected: 30, CreatedAt: start}
	for i, st := range []shop.State{shop.StateQuoted, shop.StateAwaitingPayment, shop.StateDelivering, shop.StateClosedDelivered} {
		tx.State = st
		tx.UpdatedAt = start.Add(time.Duration(i) * time.Second)
		if st == shop.StateDelivering {
			tx.Received = 30
		}
		require.NoError(t, store.Record(ctx, "s1", tx))
	}
	other := shop.Transaction{ID: "tx2", Buyer: "Bob", Item: "dirt", Quantity: 1, Expected: 1, State: shop.StateQuoted, CreatedAt: start, UpdatedAt: start}
	require.NoError(t, store.Record(ctx, "s1", other))
	require.NoError(t, store.Record(ctx, "s2", shop.Transaction{ID: "tx3", Buyer: "Alice", State: shop.StateQuoted}))

	history, err := store.History(ctx, "s1", "Alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, shop.StateQuoted, history[0].State)
	assert.Equal(t, shop.StateClosedDelivered, history[3].State)
	assert.Equal(t, 30, history[3].Received)
	assert.Equal(t, start.Add(3*time.Second), history[3].CreatedAt)

	all, err := store.History(ctx, "s1", "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	limited, err := store.History(ctx, "s1", "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	txs, err := store.Transactions(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "tx1", txs[0].ID, "most recently updated first")
	assert.Equal(t, shop.StateClosedDelivered, txs[0].State)
	assert.Equal(t, start, txs[0].CreatedAt)

	open, err := store.Unfinished(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "tx2", open[0].ID)
}

func TestTransitionStore_SatisfiesLedger(t *testing.T) {
	var _ shop.Ledger = NewTransitionStore(testDB(t))
}

func TestStatusStore(t *testing.T) {
	store := NewStatusStore(testDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, text := range []string{"Connected.", "Arrived at (1, 2, 3).", "Said \"hi\"."} {
		rec := &status.Record{ID: string(rune('a' + i)), SessionID: "s1", Timestamp: base.Add(time.Duration(i) * time.Minute), Text: text}
		require.NoError(t, store.Append(ctx, rec))
	}
	require.NoError(t, store.Append(ctx, &status.Record{ID: "a", SessionID: "s1", Timestamp: base, Text: "Connected."}), "duplicate ignored")
	require.NoError(t, store.Append(ctx, &status.Record{ID: "z", SessionID: "s2", Timestamp: base, Text: "other"}))

	n, err := store.Count(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	recs, err := store.List(ctx, StatusQuery{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "Connected.", recs[0].Text, "oldest first")
	assert.Equal(t, base, recs[0].Timestamp)

	recent, err := store.List(ctx, StatusQuery{SessionID: "s1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "Arrived at (1, 2, 3).", recent[0].Text)

	since, err := store.List(ctx, StatusQuery{SessionID: "s1", Since: base.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, since, 1)

	pruned, err := store.Prune(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned, "one per session")

	n, err = store.Count(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStatusStore_BackedLog(t *testing.T) {
	store := NewStatusStore(testDB(t))

	log := status.NewLog("s1", status.WithStore(store))
	log.Emit("Connected.")

	require.Eventually(t, func() bool {
		n, err := store.Count(context.Background(), "s1")
		return err == nil && n == 1
	}, time.Second, 10*time.Millisecond)
}
