package memory

import (
	"context"
	"sync"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage"
)

// IntentStore is an in-memory implementation of storage.IntentStore.
// Loan and order stores append into it while holding their own locks; the
// append path takes only this store's lock, so lock order is always
// record store -> intent store.
type IntentStore struct {
	mu    sync.RWMutex
	data  map[string]*domain.SettlementIntent
	order []string
}

// NewIntentStore creates a new in-memory intent store.
func NewIntentStore() *IntentStore {
	return &IntentStore{data: make(map[string]*domain.SettlementIntent)}
}

// Compile-time interface check.
var _ storage.IntentStore = (*IntentStore)(nil)

// append stores an intent. Deterministic ids plus the callers' ACTIVE-state
// guard make duplicates unreachable; a repeat id is kept first-write-wins.
func (s *IntentStore) append(intent *domain.SettlementIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[intent.ID]; exists {
		return
	}
	intentCopy := *intent
	s.data[intent.ID] = &intentCopy
	s.order = append(s.order, intent.ID)
}

// Get retrieves an intent by id.
func (s *IntentStore) Get(_ context.Context, id string) (*domain.SettlementIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intent, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	intentCopy := *intent
	return &intentCopy, nil
}

// List returns up to limit intents in creation order.
func (s *IntentStore) List(_ context.Context, limit int) ([]*domain.SettlementIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return nil, nil
	}
	n := len(s.order)
	if limit < n {
		n = limit
	}
	out := make([]*domain.SettlementIntent, 0, n)
	for _, id := range s.order[:n] {
		intentCopy := *s.data[id]
		out = append(out, &intentCopy)
	}
	return out, nil
}
