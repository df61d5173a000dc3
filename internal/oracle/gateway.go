// Package oracle is the narrow read interface to price data. Gateways never
// check freshness themselves; callers needing it validate quote timestamps
// through CurrentPrice against their configured maximum age.
package oracle

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
)

// DefaultMaxQuoteAge is the staleness window used by the orders service:
// quotes older than 600 seconds are rejected.
const DefaultMaxQuoteAge int64 = 600

// TWAP period bounds the callers must validate before asking for a TWAP.
const (
	MinTWAPPeriods uint32 = 3
	MaxTWAPPeriods uint32 = 20
)

// Gateway read failures. All wrap domain.ErrOracle so callers can classify
// them as retryable in one errors.Is check.
var (
	// ErrUnavailable means the underlying feed has no data for the asset.
	// Distinct from a zero price; the caller decides whether it is fatal.
	ErrUnavailable = fmt.Errorf("%w: price unavailable", domain.ErrOracle)

	// ErrStale means the freshest quote is older than the allowed window.
	ErrStale = fmt.Errorf("%w: price data is stale", domain.ErrOracle)

	// ErrNotConfigured means no gateway is registered for the asset class.
	ErrNotConfigured = fmt.Errorf("%w: no oracle configured for asset class", domain.ErrOracle)
)

// Gateway is the read-only price interface. Implementations have no side
// effects and return ErrUnavailable rather than failing when the feed lacks
// data.
type Gateway interface {
	// Spot returns the most recent price quote for an asset.
	Spot(ctx context.Context, asset domain.AssetRef) (*domain.PriceQuote, error)

	// TWAP returns the average over periods historical samples. Callers
	// validate periods against [MinTWAPPeriods, MaxTWAPPeriods] first.
	TWAP(ctx context.Context, asset domain.AssetRef, periods uint32) (decimal.Decimal, error)

	// Cross returns the price of base expressed in quote.
	Cross(ctx context.Context, base, quote domain.AssetRef) (*domain.PriceQuote, error)

	// History returns the last periods quotes ascending by timestamp,
	// for volatility computation.
	History(ctx context.Context, asset domain.AssetRef, periods uint32) ([]domain.PriceQuote, error)
}

// ValidateTWAPPeriods rejects a period count outside the allowed range.
func ValidateTWAPPeriods(periods uint32) error {
	if periods < MinTWAPPeriods || periods > MaxTWAPPeriods {
		return fmt.Errorf("%w: twap periods must be between %d and %d",
			domain.ErrValidation, MinTWAPPeriods, MaxTWAPPeriods)
	}
	return nil
}

// CurrentPrice fetches the spot price and rejects it when older than maxAge
// seconds relative to now. This is the freshness-checked lookup the orders
// engine uses for every trigger decision.
func CurrentPrice(ctx context.Context, g Gateway, asset domain.AssetRef, now, maxAge int64) (decimal.Decimal, error) {
	quote, err := g.Spot(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	if now-quote.Timestamp > maxAge {
		return decimal.Zero, fmt.Errorf("%w: quote at %d, now %d", ErrStale, quote.Timestamp, now)
	}
	return quote.Price, nil
}
