package memory

import (
	"context"
	"sync"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage"
)

// ConfigStore is an in-memory implementation of storage.ConfigStore.
type ConfigStore struct {
	mu  sync.RWMutex
	cfg *domain.GuardConfig
}

// NewConfigStore creates a new in-memory config store.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{}
}

// Compile-time interface check.
var _ storage.ConfigStore = (*ConfigStore)(nil)

// Init stores the configuration exactly once.
func (s *ConfigStore) Init(_ context.Context, cfg *domain.GuardConfig) error {
	if cfg == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg != nil {
		return storage.ErrAlreadyInitialized
	}
	cfgCopy := *cfg
	s.cfg = &cfgCopy
	return nil
}

// Get returns the stored configuration.
func (s *ConfigStore) Get(_ context.Context) (*domain.GuardConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cfg == nil {
		return nil, storage.ErrNotFound
	}
	cfgCopy := *s.cfg
	return &cfgCopy, nil
}
