package postgres

import (
	"context"
	"fmt"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage"
)

// ConfigStore implements storage.ConfigStore using PostgreSQL. The singleton
// row is enforced by the primary key; a second Init hits the constraint.
type ConfigStore struct {
	pool *Pool
}

// NewConfigStore creates a new ConfigStore.
func NewConfigStore(pool *Pool) *ConfigStore {
	return &ConfigStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ConfigStore = (*ConfigStore)(nil)

// Init stores the configuration exactly once.
func (s *ConfigStore) Init(ctx context.Context, cfg *domain.GuardConfig) error {
	if cfg == nil {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO guard_config (id, admin_address, fee_recipient, network)
		VALUES (1, $1, $2, $3)
	`, cfg.Admin, cfg.FeeRecipient, cfg.Network)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrAlreadyInitialized
		}
		return fmt.Errorf("init guard config: %w", err)
	}
	return nil
}

// Get returns the stored configuration.
func (s *ConfigStore) Get(ctx context.Context) (*domain.GuardConfig, error) {
	var cfg domain.GuardConfig
	err := s.pool.QueryRow(ctx, `
		SELECT admin_address, fee_recipient, network FROM guard_config WHERE id = 1
	`).Scan(&cfg.Admin, &cfg.FeeRecipient, &cfg.Network)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get guard config: %w", err)
	}
	return &cfg, nil
}
