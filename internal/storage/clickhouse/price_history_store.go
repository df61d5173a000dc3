package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage"
)

// PriceHistoryStore implements storage.PriceHistoryStore using ClickHouse.
// The table is a ReplacingMergeTree keyed on (asset_key, timestamp), so a
// feed replaying the same tick collapses into one row instead of skewing
// TWAP windows.
type PriceHistoryStore struct {
	conn *Conn
}

// NewPriceHistoryStore creates a new PriceHistoryStore.
func NewPriceHistoryStore(conn *Conn) *PriceHistoryStore {
	return &PriceHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

// Append adds a quote sample for an asset key.
func (s *PriceHistoryStore) Append(ctx context.Context, assetKey string, quote domain.PriceQuote) error {
	if assetKey == "" || quote.Timestamp <= 0 {
		return storage.ErrInvalidInput
	}

	err := s.conn.Exec(ctx, `
		INSERT INTO price_history (asset_key, price, timestamp) VALUES (?, ?, ?)
	`, assetKey, quote.Price, quote.Timestamp)
	if err != nil {
		return fmt.Errorf("insert price quote: %w", err)
	}
	return nil
}

// Latest returns the most recent quote for an asset key.
func (s *PriceHistoryStore) Latest(ctx context.Context, assetKey string) (*domain.PriceQuote, error) {
	var price decimal.Decimal
	var timestamp int64
	err := s.conn.QueryRow(ctx, `
		SELECT price, timestamp FROM price_history
		WHERE asset_key = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`, assetKey).Scan(&price, &timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query latest quote: %w", err)
	}
	return &domain.PriceQuote{Price: price, Timestamp: timestamp}, nil
}

// LastN returns the n most recent quotes ascending by timestamp.
func (s *PriceHistoryStore) LastN(ctx context.Context, assetKey string, n uint32) ([]domain.PriceQuote, error) {
	if n == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, `
		SELECT price, timestamp FROM price_history
		WHERE asset_key = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, assetKey, n)
	if err != nil {
		return nil, fmt.Errorf("query last quotes: %w", err)
	}
	defer rows.Close()

	var quotes []domain.PriceQuote
	for rows.Next() {
		var q domain.PriceQuote
		if err := rows.Scan(&q.Price, &q.Timestamp); err != nil {
			return nil, fmt.Errorf("scan quote row: %w", err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quote rows: %w", err)
	}

	// Rows come newest first; callers expect ascending timestamps.
	for i, j := 0, len(quotes)-1; i < j; i, j = i+1, j-1 {
		quotes[i], quotes[j] = quotes[j], quotes[i]
	}
	return quotes, nil
}
