package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage"
)

// IntentStore implements storage.IntentStore using PostgreSQL. Writes happen
// only through insertIntent, inside the loan and order stores' transactions.
type IntentStore struct {
	pool *Pool
}

// NewIntentStore creates a new IntentStore.
func NewIntentStore(pool *Pool) *IntentStore {
	return &IntentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.IntentStore = (*IntentStore)(nil)

// Get retrieves an intent by its deterministic id.
func (s *IntentStore) Get(ctx context.Context, id string) (*domain.SettlementIntent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, kind, account, asset, amount, net_amount,
		       price, fee_amount, fee_recipient, created_at
		FROM settlement_intents
		WHERE id = $1
	`, id)

	intent, err := scanIntent(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get settlement intent: %w", err)
	}
	return intent, nil
}

// List returns up to limit intents in creation order.
func (s *IntentStore) List(ctx context.Context, limit int) ([]*domain.SettlementIntent, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, account, asset, amount, net_amount,
		       price, fee_amount, fee_recipient, created_at
		FROM settlement_intents
		ORDER BY seq ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list settlement intents: %w", err)
	}
	defer rows.Close()

	var intents []*domain.SettlementIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settlement intent row: %w", err)
		}
		intents = append(intents, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlement intent rows: %w", err)
	}
	return intents, nil
}

// insertIntent appends an intent inside a store transaction. Intent ids are
// deterministic per source record; a conflicting insert is the same
// settlement recorded twice, so the first write wins.
func insertIntent(ctx context.Context, tx pgx.Tx, intent *domain.SettlementIntent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO settlement_intents (
			id, kind, account, asset, amount, net_amount,
			price, fee_amount, fee_recipient, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`,
		intent.ID, string(intent.Kind), intent.Account, intent.Asset.Key(),
		intent.Amount, intent.NetAmount, intent.Price, intent.FeeAmount,
		intent.FeeRecipient, intent.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert settlement intent: %w", err)
	}
	return nil
}

// scanIntent scans a single intent row.
func scanIntent(row pgx.Row) (*domain.SettlementIntent, error) {
	var intent domain.SettlementIntent
	var kind, assetKey string
	err := row.Scan(
		&intent.ID, &kind, &intent.Account, &assetKey,
		&intent.Amount, &intent.NetAmount, &intent.Price,
		&intent.FeeAmount, &intent.FeeRecipient, &intent.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	intent.Kind = domain.IntentKind(kind)
	if intent.Asset, err = domain.ParseAssetKey(assetKey); err != nil {
		return nil, fmt.Errorf("parse intent asset: %w", err)
	}
	return &intent, nil
}
