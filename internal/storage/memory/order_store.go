package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage"
)

// DefaultMaxOrdersPerUser caps simultaneously held orders per account.
const DefaultMaxOrdersPerUser = 100

type orderRecord struct {
	order      domain.StopOrder
	leaseUntil int64
}

// OrderStore is an in-memory implementation of storage.OrderStore.
type OrderStore struct {
	mu         sync.RWMutex
	now        func() int64
	intents    *IntentStore
	maxPerUser int

	counter uint64
	orders  map[uint64]*orderRecord
	byOwner map[string][]uint64
}

// NewOrderStore creates a new in-memory order store. maxPerUser <= 0 uses
// DefaultMaxOrdersPerUser; a nil now uses wall-clock time.
func NewOrderStore(intents *IntentStore, maxPerUser int, now func() int64) *OrderStore {
	if maxPerUser <= 0 {
		maxPerUser = DefaultMaxOrdersPerUser
	}
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	return &OrderStore{
		now:        now,
		intents:    intents,
		maxPerUser: maxPerUser,
		orders:     make(map[uint64]*orderRecord),
		byOwner:    make(map[string][]uint64),
	}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

// Create assigns the next id and stores the order, enforcing the per-user
// cap at insertion time.
func (s *OrderStore) Create(_ context.Context, order *domain.StopOrder) (uint64, error) {
	if order == nil || order.Owner == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The cap counts live orders only; terminal ones free their slot.
	live := 0
	for _, id := range s.byOwner[order.Owner] {
		if rec, ok := s.orders[id]; ok && rec.order.Status == domain.OrderStatusActive {
			live++
		}
	}
	if live >= s.maxPerUser {
		return 0, storage.ErrUserCap
	}

	s.counter++
	id := s.counter

	stored := *order
	stored.ID = id
	s.orders[id] = &orderRecord{order: stored, leaseUntil: s.now() + storage.MaxLeaseSeconds}
	s.byOwner[order.Owner] = append(s.byOwner[order.Owner], id)

	return id, nil
}

// Get retrieves an order by id.
func (s *OrderStore) Get(_ context.Context, id uint64) (*domain.StopOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if s.now() > rec.leaseUntil {
		return nil, storage.ErrLeaseExpired
	}
	orderCopy := rec.order
	return &orderCopy, nil
}

// Update rewrites an order whose stored record is still ACTIVE.
func (s *OrderStore) Update(_ context.Context, order *domain.StopOrder) error {
	if order == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.orders[order.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if s.now() > rec.leaseUntil {
		return storage.ErrLeaseExpired
	}
	if rec.order.Status != domain.OrderStatusActive {
		return storage.ErrNotActive
	}

	rec.order = *order
	rec.leaseUntil = s.now() + storage.MaxLeaseSeconds
	return nil
}

// MarkExecuted transitions ACTIVE -> EXECUTED and appends the settlement
// intent under one lock.
func (s *OrderStore) MarkExecuted(_ context.Context, id uint64, exec *domain.Execution, intent *domain.SettlementIntent) error {
	if exec == nil || intent == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.orders[id]
	if !ok {
		return storage.ErrNotFound
	}
	if s.now() > rec.leaseUntil {
		return storage.ErrLeaseExpired
	}
	if rec.order.Status != domain.OrderStatusActive {
		return storage.ErrNotActive
	}

	execCopy := *exec
	rec.order.Status = domain.OrderStatusExecuted
	rec.order.Execution = &execCopy
	rec.leaseUntil = s.now() + storage.MaxLeaseSeconds

	s.intents.append(intent)
	return nil
}

// MarkCancelled transitions ACTIVE -> CANCELLED.
func (s *OrderStore) MarkCancelled(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.orders[id]
	if !ok {
		return storage.ErrNotFound
	}
	if s.now() > rec.leaseUntil {
		return storage.ErrLeaseExpired
	}
	if rec.order.Status != domain.OrderStatusActive {
		return storage.ErrNotActive
	}

	rec.order.Status = domain.OrderStatusCancelled
	rec.leaseUntil = s.now() + storage.MaxLeaseSeconds
	return nil
}

// IDsByOwner returns the owner's order ids in creation order.
func (s *OrderStore) IDsByOwner(_ context.Context, owner string) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byOwner[owner]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out, nil
}

// ActiveIDs returns ids of all ACTIVE orders with a live lease, ascending.
func (s *OrderStore) ActiveIDs(_ context.Context) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var ids []uint64
	for id, rec := range s.orders {
		if rec.order.Status == domain.OrderStatusActive && now <= rec.leaseUntil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
