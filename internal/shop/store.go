package shop

import (
	"sort"
	"strings"
	"sync"
)

// Store holds live transactions keyed by buyer. Reserve is the only way in
// and must admit at most one transaction per buyer. Buyer names compare
// case-insensitively, matching how the game treats usernames.
type Store interface {
	Reserve(tx Transaction) error
	Get(buyer string) (Transaction, bool)
	// Save replaces the snapshot of a reserved transaction.
	Save(tx Transaction) bool
	Remove(buyer string)
	List() []Transaction
}

// MemoryStore is a mutex-guarded Store.
type MemoryStore struct {
	mu   sync.Mutex
	live map[string]Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{live: make(map[string]Transaction)}
}

func buyerKey(name string) string { return strings.ToLower(name) }

func (s *MemoryStore) Reserve(tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := buyerKey(tx.Buyer)
	if _, ok := s.live[key]; ok {
		return ErrOngoing
	}
	s.live[key] = tx
	return nil
}

func (s *MemoryStore) Get(buyer string) (Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.live[buyerKey(buyer)]
	return tx, ok
}

func (s *MemoryStore) Save(tx Transaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := buyerKey(tx.Buyer)
	cur, ok := s.live[key]
	if !ok || cur.ID != tx.ID {
		return false
	}
	s.live[key] = tx
	return true
}

func (s *MemoryStore) Remove(buyer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, buyerKey(buyer))
}

// List returns live transactions ordered by creation time.
func (s *MemoryStore) List() []Transaction {
	s.mu.Lock()
	out := make([]Transaction, 0, len(s.live))
	for _, tx := range s.live {
		out = append(out, tx)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
