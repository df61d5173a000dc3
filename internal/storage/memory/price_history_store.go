package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage"
)

// PriceHistoryStore is an in-memory implementation of
// storage.PriceHistoryStore. Samples are kept ascending by timestamp.
type PriceHistoryStore struct {
	mu   sync.RWMutex
	data map[string][]domain.PriceQuote
}

// NewPriceHistoryStore creates a new in-memory price history store.
func NewPriceHistoryStore() *PriceHistoryStore {
	return &PriceHistoryStore{data: make(map[string][]domain.PriceQuote)}
}

// Compile-time interface check.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

// Append adds a quote sample for an asset key.
func (s *PriceHistoryStore) Append(_ context.Context, assetKey string, quote domain.PriceQuote) error {
	if assetKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	quotes := append(s.data[assetKey], quote)
	// Feeds deliver mostly in order; re-sort only on out-of-order arrival.
	if n := len(quotes); n > 1 && quotes[n-1].Timestamp < quotes[n-2].Timestamp {
		sort.Slice(quotes, func(i, j int) bool { return quotes[i].Timestamp < quotes[j].Timestamp })
	}
	s.data[assetKey] = quotes
	return nil
}

// Latest returns the most recent quote for an asset key.
func (s *PriceHistoryStore) Latest(_ context.Context, assetKey string) (*domain.PriceQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quotes := s.data[assetKey]
	if len(quotes) == 0 {
		return nil, storage.ErrNotFound
	}
	quoteCopy := quotes[len(quotes)-1]
	return &quoteCopy, nil
}

// LastN returns the n most recent quotes ascending by timestamp.
func (s *PriceHistoryStore) LastN(_ context.Context, assetKey string, n uint32) ([]domain.PriceQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quotes := s.data[assetKey]
	start := 0
	if int(n) < len(quotes) {
		start = len(quotes) - int(n)
	}
	out := make([]domain.PriceQuote, len(quotes)-start)
	copy(out, quotes[start:])
	return out, nil
}
