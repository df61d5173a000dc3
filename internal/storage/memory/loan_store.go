package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage"
)

type loanRecord struct {
	loan       domain.Loan
	leaseUntil int64
}

// LoanStore is an in-memory implementation of storage.LoanStore.
type LoanStore struct {
	mu      sync.RWMutex
	now     func() int64
	intents *IntentStore

	counter uint64
	loans   map[uint64]*loanRecord
	byOwner map[string][]uint64
	rewards map[string]decimal.Decimal
}

// NewLoanStore creates a new in-memory loan store. Settlement intents from
// liquidations are appended to intents. A nil now uses wall-clock time.
func NewLoanStore(intents *IntentStore, now func() int64) *LoanStore {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	return &LoanStore{
		now:     now,
		intents: intents,
		loans:   make(map[uint64]*loanRecord),
		byOwner: make(map[string][]uint64),
		rewards: make(map[string]decimal.Decimal),
	}
}

// Compile-time interface check.
var _ storage.LoanStore = (*LoanStore)(nil)

// Create assigns the next id and stores the loan.
func (s *LoanStore) Create(_ context.Context, loan *domain.Loan) (uint64, error) {
	if loan == nil || loan.Owner == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id := s.counter

	stored := *loan
	stored.ID = id
	s.loans[id] = &loanRecord{loan: stored, leaseUntil: s.now() + storage.MaxLeaseSeconds}
	s.byOwner[loan.Owner] = append(s.byOwner[loan.Owner], id)

	return id, nil
}

// Get retrieves a loan by id.
func (s *LoanStore) Get(_ context.Context, id uint64) (*domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.loans[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if s.now() > rec.leaseUntil {
		return nil, storage.ErrLeaseExpired
	}
	loanCopy := rec.loan
	return &loanCopy, nil
}

// Update rewrites a loan whose stored record is still ACTIVE.
func (s *LoanStore) Update(_ context.Context, loan *domain.Loan) error {
	if loan == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.loans[loan.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if s.now() > rec.leaseUntil {
		return storage.ErrLeaseExpired
	}
	if rec.loan.Status != domain.LoanStatusActive {
		return storage.ErrNotActive
	}

	rec.loan = *loan
	rec.leaseUntil = s.now() + storage.MaxLeaseSeconds
	return nil
}

// ApplyLiquidation transitions ACTIVE -> LIQUIDATED, credits the liquidator
// and appends the settlement intent, all under one lock.
func (s *LoanStore) ApplyLiquidation(_ context.Context, id uint64, liquidator string, reward decimal.Decimal, intent *domain.SettlementIntent) error {
	if liquidator == "" || intent == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.loans[id]
	if !ok {
		return storage.ErrNotFound
	}
	if s.now() > rec.leaseUntil {
		return storage.ErrLeaseExpired
	}
	if rec.loan.Status != domain.LoanStatusActive {
		return storage.ErrNotActive
	}

	rec.loan.Status = domain.LoanStatusLiquidated
	rec.leaseUntil = s.now() + storage.MaxLeaseSeconds

	current, ok := s.rewards[liquidator]
	if !ok {
		current = decimal.Zero
	}
	s.rewards[liquidator] = current.Add(reward)

	s.intents.append(intent)
	return nil
}

// IDsByOwner returns the owner's loan ids in creation order.
func (s *LoanStore) IDsByOwner(_ context.Context, owner string) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byOwner[owner]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out, nil
}

// ActiveIDs returns ids of all ACTIVE loans with a live lease, ascending.
func (s *LoanStore) ActiveIDs(_ context.Context) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var ids []uint64
	for id, rec := range s.loans {
		if rec.loan.Status == domain.LoanStatusActive && now <= rec.leaseUntil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// LiquidatorReward returns the cumulative reward for an account.
func (s *LoanStore) LiquidatorReward(_ context.Context, liquidator string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reward, ok := s.rewards[liquidator]
	if !ok {
		return decimal.Zero, nil
	}
	return reward, nil
}
