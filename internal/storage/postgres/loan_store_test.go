package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage"
)

func testLoan(owner string) *domain.Loan {
	return &domain.Loan{
		Owner:                   owner,
		CollateralAsset:         domain.CryptoAsset("BTC"),
		CollateralAmount:        decimal.NewFromInt(10_000_000),
		BorrowedAsset:           domain.StablecoinAsset("USDC"),
		BorrowedAmount:          decimal.NewFromInt(15_000_000_000),
		LiquidationThresholdBPS: 12000,
		CreatedAt:               1000,
		Status:                  domain.LoanStatusActive,
	}
}

func testLiquidationIntent(loanID uint64, liquidator string) *domain.SettlementIntent {
	return &domain.SettlementIntent{
		ID:           domain.LiquidationIntentID(loanID),
		Kind:         domain.IntentKindLiquidation,
		Account:      "owner",
		Asset:        domain.CryptoAsset("BTC"),
		Amount:       decimal.NewFromInt(10_000_000),
		NetAmount:    decimal.NewFromInt(9_500_000),
		Price:        decimal.NewFromInt(1700),
		FeeAmount:    decimal.NewFromInt(500_000),
		FeeRecipient: liquidator,
		CreatedAt:    1000,
	}
}

func TestLoanStore_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLoanStore(pool, nil)

	loan := testLoan("alice")
	id, err := store.Create(ctx, loan)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Owner)
	require.Equal(t, domain.CryptoAsset("BTC"), got.CollateralAsset)
	require.Equal(t, domain.StablecoinAsset("USDC"), got.BorrowedAsset)
	require.True(t, got.CollateralAmount.Equal(decimal.NewFromInt(10_000_000)))
	require.True(t, got.BorrowedAmount.Equal(decimal.NewFromInt(15_000_000_000)))
	require.Equal(t, int64(12000), got.LiquidationThresholdBPS)
	require.Equal(t, domain.LoanStatusActive, got.Status)

	_, err = store.Get(ctx, 99)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLoanStore_Update(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLoanStore(pool, nil)

	id, err := store.Create(ctx, testLoan("alice"))
	require.NoError(t, err)

	loan, err := store.Get(ctx, id)
	require.NoError(t, err)
	loan.CollateralAmount = decimal.NewFromInt(20_000_000)
	require.NoError(t, store.Update(ctx, loan))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, got.CollateralAmount.Equal(decimal.NewFromInt(20_000_000)))
}

func TestLoanStore_ApplyLiquidation(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLoanStore(pool, nil)
	intents := NewIntentStore(pool)

	id, err := store.Create(ctx, testLoan("alice"))
	require.NoError(t, err)

	reward := decimal.NewFromInt(500_000)
	err = store.ApplyLiquidation(ctx, id, "keeper", reward, testLiquidationIntent(id, "keeper"))
	require.NoError(t, err)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.LoanStatusLiquidated, got.Status)

	// All three effects are one transaction: status, reward, intent.
	total, err := store.LiquidatorReward(ctx, "keeper")
	require.NoError(t, err)
	require.True(t, total.Equal(reward))

	intent, err := intents.Get(ctx, domain.LiquidationIntentID(id))
	require.NoError(t, err)
	require.Equal(t, domain.IntentKindLiquidation, intent.Kind)
	require.Equal(t, "keeper", intent.FeeRecipient)
	require.True(t, intent.NetAmount.Equal(decimal.NewFromInt(9_500_000)))

	// The conditional update loses on the second attempt.
	err = store.ApplyLiquidation(ctx, id, "other", reward, testLiquidationIntent(id, "other"))
	require.ErrorIs(t, err, storage.ErrNotActive)

	total, err = store.LiquidatorReward(ctx, "keeper")
	require.NoError(t, err)
	require.True(t, total.Equal(reward), "reward paid twice")
}

func TestLoanStore_RewardAccumulates(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLoanStore(pool, nil)

	id1, err := store.Create(ctx, testLoan("alice"))
	require.NoError(t, err)
	id2, err := store.Create(ctx, testLoan("bob"))
	require.NoError(t, err)

	require.NoError(t, store.ApplyLiquidation(ctx, id1, "keeper", decimal.NewFromInt(3), testLiquidationIntent(id1, "keeper")))
	require.NoError(t, store.ApplyLiquidation(ctx, id2, "keeper", decimal.NewFromInt(4), testLiquidationIntent(id2, "keeper")))

	total, err := store.LiquidatorReward(ctx, "keeper")
	require.NoError(t, err)
	require.True(t, total.Equal(decimal.NewFromInt(7)))

	none, err := store.LiquidatorReward(ctx, "stranger")
	require.NoError(t, err)
	require.True(t, none.IsZero())
}

func TestLoanStore_LeaseExpiry(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	clock := int64(1000)
	store := NewLoanStore(pool, func() int64 { return clock })

	id, err := store.Create(ctx, testLoan("alice"))
	require.NoError(t, err)

	clock = 1000 + storage.MaxLeaseSeconds
	_, err = store.Get(ctx, id)
	require.NoError(t, err, "record must stay readable at the lease boundary")

	clock++
	_, err = store.Get(ctx, id)
	require.ErrorIs(t, err, storage.ErrLeaseExpired)

	err = store.ApplyLiquidation(ctx, id, "keeper", decimal.NewFromInt(1), testLiquidationIntent(id, "keeper"))
	require.ErrorIs(t, err, storage.ErrLeaseExpired)
}

func TestLoanStore_IDListings(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLoanStore(pool, nil)

	id1, err := store.Create(ctx, testLoan("alice"))
	require.NoError(t, err)
	id2, err := store.Create(ctx, testLoan("bob"))
	require.NoError(t, err)
	id3, err := store.Create(ctx, testLoan("alice"))
	require.NoError(t, err)

	require.NoError(t, store.ApplyLiquidation(ctx, id2, "keeper", decimal.NewFromInt(1), testLiquidationIntent(id2, "keeper")))

	byOwner, err := store.IDsByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []uint64{id1, id3}, byOwner)

	active, err := store.ActiveIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{id1, id3}, active)
}
