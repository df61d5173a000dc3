// Package storage defines the Position Registry: keyed stores for loans,
// orders, settlement intents and price history, all subject to an explicit
// lease policy. Every write renews the touched records' lease to the bounded
// maximum; implementations surface a lapsed lease as ErrLeaseExpired.
package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
)

// MaxLeaseSeconds is the lease horizon renewed on every write (one year).
const MaxLeaseSeconds int64 = 31536000

// LoanStore owns loan records, the per-owner index, the id counter and the
// per-liquidator reward ledger. Ids start at 1 and are never reused.
type LoanStore interface {
	// Create assigns the next id, stores the loan and indexes it under its
	// owner. The passed loan's ID field is ignored.
	Create(ctx context.Context, loan *domain.Loan) (uint64, error)

	// Get retrieves a loan by id. Returns ErrNotFound for unknown ids and
	// ErrLeaseExpired for lapsed records.
	Get(ctx context.Context, id uint64) (*domain.Loan, error)

	// Update rewrites a loan's mutable fields. The stored record must still
	// be ACTIVE, otherwise ErrNotActive; the check and the write are one
	// atomic step. The update may itself set a terminal status (repay to
	// zero closes the loan).
	Update(ctx context.Context, loan *domain.Loan) error

	// ApplyLiquidation atomically transitions ACTIVE -> LIQUIDATED, credits
	// the liquidator's cumulative reward and appends the settlement intent.
	// Returns ErrNotActive if the loan already left ACTIVE, making a
	// duplicate call a clean no-op failure.
	ApplyLiquidation(ctx context.Context, id uint64, liquidator string, reward decimal.Decimal, intent *domain.SettlementIntent) error

	// IDsByOwner returns the ids of all loans ever created by owner,
	// in creation order.
	IDsByOwner(ctx context.Context, owner string) ([]uint64, error)

	// ActiveIDs returns the ids of all loans currently ACTIVE, ascending.
	ActiveIDs(ctx context.Context) ([]uint64, error)

	// LiquidatorReward returns the cumulative reward credited to an account.
	// Unknown accounts have a zero balance, not an error.
	LiquidatorReward(ctx context.Context, liquidator string) (decimal.Decimal, error)
}

// OrderStore owns stop-order records, the per-owner index and the id counter.
type OrderStore interface {
	// Create assigns the next id, stores the order and indexes it under its
	// owner. Returns ErrUserCap when the owner is at capacity.
	Create(ctx context.Context, order *domain.StopOrder) (uint64, error)

	// Get retrieves an order by id. ErrNotFound / ErrLeaseExpired as above.
	Get(ctx context.Context, id uint64) (*domain.StopOrder, error)

	// Update rewrites an order's mutable fields (the trailing ratchet
	// persists watermark and stop price through this). The stored record
	// must still be ACTIVE, otherwise ErrNotActive.
	Update(ctx context.Context, order *domain.StopOrder) error

	// MarkExecuted atomically transitions ACTIVE -> EXECUTED, records the
	// execution outcome and appends the settlement intent. ErrNotActive on
	// a duplicate call.
	MarkExecuted(ctx context.Context, id uint64, exec *domain.Execution, intent *domain.SettlementIntent) error

	// MarkCancelled atomically transitions ACTIVE -> CANCELLED.
	MarkCancelled(ctx context.Context, id uint64) error

	// IDsByOwner returns the ids of all orders ever created by owner,
	// in creation order.
	IDsByOwner(ctx context.Context, owner string) ([]uint64, error)

	// ActiveIDs returns the ids of all orders currently ACTIVE, ascending.
	ActiveIDs(ctx context.Context) ([]uint64, error)
}

// IntentStore provides read access to settlement intents for the external
// settlement consumer. Intents are appended by LoanStore.ApplyLiquidation
// and OrderStore.MarkExecuted inside the same atomic unit as the status
// transition, never directly by services.
type IntentStore interface {
	// Get retrieves an intent by its deterministic id.
	Get(ctx context.Context, id string) (*domain.SettlementIntent, error)

	// List returns up to limit intents in creation order. A non-positive
	// limit returns nothing.
	List(ctx context.Context, limit int) ([]*domain.SettlementIntent, error)
}

// PriceHistoryStore is the append-only quote archive behind the oracle
// gateway. Quotes are keyed by domain.AssetRef.Key().
type PriceHistoryStore interface {
	// Append adds a quote sample for an asset key.
	Append(ctx context.Context, assetKey string, quote domain.PriceQuote) error

	// Latest returns the most recent quote for an asset key.
	// Returns ErrNotFound when no sample exists.
	Latest(ctx context.Context, assetKey string) (*domain.PriceQuote, error)

	// LastN returns the n most recent quotes ascending by timestamp.
	// Returns fewer than n when the history is shorter.
	LastN(ctx context.Context, assetKey string, n uint32) ([]domain.PriceQuote, error)
}

// ConfigStore holds the engine configuration singleton.
type ConfigStore interface {
	// Init stores the configuration exactly once.
	// Returns ErrAlreadyInitialized on a second call.
	Init(ctx context.Context, cfg *domain.GuardConfig) error

	// Get returns the stored configuration, ErrNotFound before Init.
	Get(ctx context.Context) (*domain.GuardConfig, error)
}
