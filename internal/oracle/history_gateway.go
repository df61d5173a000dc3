package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage"
)

// HistoryGateway serves the Gateway interface from an append-only price
// history store (filled by the quote feed). Spot is the latest sample, TWAP
// the integer mean of the last N, Cross the fixed-point ratio of two spots.
type HistoryGateway struct {
	history storage.PriceHistoryStore
}

// NewHistoryGateway creates a gateway over a price history store.
func NewHistoryGateway(history storage.PriceHistoryStore) *HistoryGateway {
	return &HistoryGateway{history: history}
}

// Compile-time interface check.
var _ Gateway = (*HistoryGateway)(nil)

// Spot returns the most recent quote for the asset.
func (g *HistoryGateway) Spot(ctx context.Context, asset domain.AssetRef) (*domain.PriceQuote, error) {
	quote, err := g.history.Latest(ctx, asset.Key())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnavailable
		}
		return nil, fmt.Errorf("read latest quote: %w", err)
	}
	return quote, nil
}

// TWAP returns the integer mean of the last periods samples. A history
// shorter than periods is unavailable, not a partial average.
func (g *HistoryGateway) TWAP(ctx context.Context, asset domain.AssetRef, periods uint32) (decimal.Decimal, error) {
	quotes, err := g.history.LastN(ctx, asset.Key(), periods)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read quote window: %w", err)
	}
	if uint32(len(quotes)) < periods {
		return decimal.Zero, ErrUnavailable
	}

	sum := decimal.Zero
	for _, q := range quotes {
		sum = sum.Add(q.Price)
	}
	mean, _ := sum.QuoRem(decimal.NewFromInt(int64(len(quotes))), 0)
	return mean, nil
}

// Cross returns base priced in quote: floor(base_spot * scale / quote_spot)
// at the engine's fixed-point scale. The quote timestamp is the older of the
// two legs, so staleness checks see the weakest link.
func (g *HistoryGateway) Cross(ctx context.Context, base, quote domain.AssetRef) (*domain.PriceQuote, error) {
	baseQuote, err := g.Spot(ctx, base)
	if err != nil {
		return nil, err
	}
	quoteQuote, err := g.Spot(ctx, quote)
	if err != nil {
		return nil, err
	}
	if quoteQuote.Price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive quote leg price", domain.ErrArithmetic)
	}

	price, _ := baseQuote.Price.Mul(domain.PriceScale()).QuoRem(quoteQuote.Price, 0)
	ts := baseQuote.Timestamp
	if quoteQuote.Timestamp < ts {
		ts = quoteQuote.Timestamp
	}
	return &domain.PriceQuote{Price: price, Timestamp: ts}, nil
}

// History returns the last periods quotes ascending by timestamp.
func (g *HistoryGateway) History(ctx context.Context, asset domain.AssetRef, periods uint32) ([]domain.PriceQuote, error) {
	quotes, err := g.history.LastN(ctx, asset.Key(), periods)
	if err != nil {
		return nil, fmt.Errorf("read quote window: %w", err)
	}
	if len(quotes) == 0 {
		return nil, ErrUnavailable
	}
	return quotes, nil
}
