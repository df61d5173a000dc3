package lending

import (
	"context"
	"crypto/ed25519"
	"errors"
	"io"
	"log"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard/internal/auth"
	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/oracle"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage/memory"
)

var (
	btc  = domain.CryptoAsset("BTC")
	usdc = domain.StablecoinAsset("USDC")
)

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func testKey(t *testing.T, seed byte) ed25519.PrivateKey {
	t.Helper()
	raw := make([]byte, ed25519.SeedSize)
	raw[0] = seed
	return ed25519.NewKeyFromSeed(raw)
}

type lendingEnv struct {
	service *Service
	history *memory.PriceHistoryStore
	intents *memory.IntentStore
	clock   *int64
}

func newLendingEnv(t *testing.T) *lendingEnv {
	t.Helper()
	clock := int64(2000)
	history := memory.NewPriceHistoryStore()
	intents := memory.NewIntentStore()
	loans := memory.NewLoanStore(intents, func() int64 { return clock })

	router := oracle.NewRouter()
	gw := oracle.NewHistoryGateway(history)
	router.Register(domain.AssetClassCrypto, gw)
	router.Register(domain.AssetClassStablecoin, gw)

	service := NewService(Options{
		Loans:   loans,
		Gateway: router,
		Logger:  log.New(io.Discard, "", 0),
		Now:     func() int64 { return clock },
	})
	return &lendingEnv{service: service, history: history, intents: intents, clock: &clock}
}

func (e *lendingEnv) setPrice(t *testing.T, asset domain.AssetRef, price int64) {
	t.Helper()
	err := e.history.Append(context.Background(), asset.Key(),
		domain.PriceQuote{Price: d(price), Timestamp: *e.clock})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	*e.clock++
}

func createLoanProof(key ed25519.PrivateKey, p CreateLoanParams) auth.Proof {
	return auth.Sign(key, OpCreateLoan,
		p.CollateralAsset.Key(), p.CollateralAmount.String(),
		p.BorrowedAsset.Key(), p.BorrowedAmount.String(),
		strconv.FormatInt(p.ThresholdBPS, 10))
}

// Amounts are 7-decimal fixed-point units: 10_000_000 is one whole token.
func healthyLoanParams() CreateLoanParams {
	return CreateLoanParams{
		CollateralAsset:  btc,
		CollateralAmount: d(10_000_000),
		BorrowedAsset:    usdc,
		BorrowedAmount:   d(15_000_000_000),
		ThresholdBPS:     12000,
	}
}

func TestLiquidationFlow(t *testing.T) {
	ctx := context.Background()
	env := newLendingEnv(t)
	owner := testKey(t, 1)
	keeper := testKey(t, 2)

	// Collateral value 2e10, borrowed value 1.5e10: ratio 13333 bps.
	env.setPrice(t, btc, 2000)
	env.setPrice(t, usdc, 1)

	params := healthyLoanParams()
	id, err := env.service.CreateLoan(ctx, createLoanProof(owner, params), params)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	if id != 1 {
		t.Errorf("expected loan id 1, got %d", id)
	}

	eligible, err := env.service.CheckLiquidation(ctx, id)
	if err != nil {
		t.Fatalf("CheckLiquidation: %v", err)
	}
	if eligible {
		t.Fatal("healthy loan reported eligible")
	}

	// Not yet eligible, liquidation must refuse.
	proof := auth.Sign(keeper, OpLiquidate, strconv.FormatUint(id, 10))
	if _, err := env.service.LiquidatePosition(ctx, proof, id); !errors.Is(err, domain.ErrState) {
		t.Fatalf("liquidation of healthy loan: expected ErrState, got %v", err)
	}

	// Collateral drops: ratio 11333 bps, below the 12000 threshold.
	env.setPrice(t, btc, 1700)

	eligible, err = env.service.CheckLiquidation(ctx, id)
	if err != nil {
		t.Fatalf("CheckLiquidation: %v", err)
	}
	if !eligible {
		t.Fatal("underwater loan not reported eligible")
	}

	reward, err := env.service.LiquidatePosition(ctx, proof, id)
	if err != nil {
		t.Fatalf("LiquidatePosition: %v", err)
	}
	// floor(10_000_000 * 500 / 10000)
	if !reward.Equal(d(500_000)) {
		t.Errorf("expected reward 500000, got %s", reward)
	}

	total, err := env.service.LiquidatorReward(ctx, proof.Account)
	if err != nil {
		t.Fatalf("LiquidatorReward: %v", err)
	}
	if !total.Equal(reward) {
		t.Errorf("expected credited reward %s, got %s", reward, total)
	}

	intent, err := env.intents.Get(ctx, domain.LiquidationIntentID(id))
	if err != nil {
		t.Fatalf("intents.Get: %v", err)
	}
	if !intent.NetAmount.Equal(d(9_500_000)) || intent.FeeRecipient != proof.Account {
		t.Errorf("unexpected intent: net=%s recipient=%s", intent.NetAmount, intent.FeeRecipient)
	}

	// Replayed liquidation fails as a state error, no second payout.
	if _, err := env.service.LiquidatePosition(ctx, proof, id); !errors.Is(err, domain.ErrState) {
		t.Errorf("duplicate liquidation: expected ErrState, got %v", err)
	}

	eligible, err = env.service.CheckLiquidation(ctx, id)
	if err != nil || eligible {
		t.Errorf("liquidated loan: expected (false, nil), got (%v, %v)", eligible, err)
	}
}

func TestCreateLoan_RejectsUndercollateralized(t *testing.T) {
	ctx := context.Background()
	env := newLendingEnv(t)
	owner := testKey(t, 1)

	// Ratio 11333 bps, below the requested 12000 threshold.
	env.setPrice(t, btc, 1700)
	env.setPrice(t, usdc, 1)

	params := healthyLoanParams()
	_, err := env.service.CreateLoan(ctx, createLoanProof(owner, params), params)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestCreateLoan_Validation(t *testing.T) {
	ctx := context.Background()
	env := newLendingEnv(t)
	owner := testKey(t, 1)
	env.setPrice(t, btc, 2000)
	env.setPrice(t, usdc, 1)

	cases := []struct {
		name   string
		mutate func(*CreateLoanParams)
	}{
		{"threshold at denominator", func(p *CreateLoanParams) { p.ThresholdBPS = 10000 }},
		{"zero collateral", func(p *CreateLoanParams) { p.CollateralAmount = decimal.Zero }},
		{"negative borrowed", func(p *CreateLoanParams) { p.BorrowedAmount = d(-1) }},
		{"empty asset symbol", func(p *CreateLoanParams) { p.CollateralAsset = domain.CryptoAsset("") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := healthyLoanParams()
			tc.mutate(&params)
			_, err := env.service.CreateLoan(ctx, createLoanProof(owner, params), params)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCreateLoan_RejectsTamperedProof(t *testing.T) {
	ctx := context.Background()
	env := newLendingEnv(t)
	owner := testKey(t, 1)
	env.setPrice(t, btc, 2000)
	env.setPrice(t, usdc, 1)

	params := healthyLoanParams()
	proof := createLoanProof(owner, params)
	params.BorrowedAmount = d(1) // signed args no longer match

	if _, err := env.service.CreateLoan(ctx, proof, params); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCheckLiquidation_UnknownLoan(t *testing.T) {
	env := newLendingEnv(t)

	if _, err := env.service.CheckLiquidation(context.Background(), 42); !errors.Is(err, domain.ErrState) {
		t.Errorf("expected ErrState, got %v", err)
	}
}

func TestCheckLiquidation_OracleOutage(t *testing.T) {
	ctx := context.Background()
	env := newLendingEnv(t)
	owner := testKey(t, 1)
	env.setPrice(t, btc, 2000)
	env.setPrice(t, usdc, 1)

	params := healthyLoanParams()
	id, err := env.service.CreateLoan(ctx, createLoanProof(owner, params), params)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}

	// Swap in a gateway with no data: the check degrades to "not eligible"
	// instead of failing the sweep.
	env.service.gateway = oracle.NewHistoryGateway(memory.NewPriceHistoryStore())

	eligible, err := env.service.CheckLiquidation(ctx, id)
	if err != nil {
		t.Fatalf("CheckLiquidation during outage: %v", err)
	}
	if eligible {
		t.Error("outage must not report eligible")
	}
}

func TestAddCollateral(t *testing.T) {
	ctx := context.Background()
	env := newLendingEnv(t)
	owner := testKey(t, 1)
	stranger := testKey(t, 2)
	env.setPrice(t, btc, 2000)
	env.setPrice(t, usdc, 1)

	params := healthyLoanParams()
	id, err := env.service.CreateLoan(ctx, createLoanProof(owner, params), params)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}

	args := []string{strconv.FormatUint(id, 10), d(5_000_000).String()}
	err = env.service.AddCollateral(ctx, auth.Sign(stranger, OpAddCollateral, args...), id, d(5_000_000))
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-owner AddCollateral: expected ErrUnauthorized, got %v", err)
	}

	// Price drops to eligibility, then topping up restores health:
	// (1700 * 15_000_000) * 10000 / 1.5e10 = 17000 bps.
	env.setPrice(t, btc, 1700)
	err = env.service.AddCollateral(ctx, auth.Sign(owner, OpAddCollateral, args...), id, d(5_000_000))
	if err != nil {
		t.Fatalf("AddCollateral: %v", err)
	}

	eligible, err := env.service.CheckLiquidation(ctx, id)
	if err != nil {
		t.Fatalf("CheckLiquidation: %v", err)
	}
	if eligible {
		t.Error("topped-up loan still eligible for liquidation")
	}
}

func TestRepayLoan_ClosesAtZero(t *testing.T) {
	ctx := context.Background()
	env := newLendingEnv(t)
	owner := testKey(t, 1)
	env.setPrice(t, btc, 2000)
	env.setPrice(t, usdc, 1)

	params := healthyLoanParams()
	id, err := env.service.CreateLoan(ctx, createLoanProof(owner, params), params)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}

	repay := func(amount decimal.Decimal) error {
		return env.service.RepayLoan(ctx,
			auth.Sign(owner, OpRepayLoan, strconv.FormatUint(id, 10), amount.String()), id, amount)
	}

	if err := repay(d(5_000_000_000)); err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	// Overpaying clamps to zero and closes.
	if err := repay(d(11_000_000_000)); err != nil {
		t.Fatalf("final repay: %v", err)
	}

	if err := repay(d(1)); !errors.Is(err, domain.ErrState) {
		t.Errorf("repay on closed loan: expected ErrState, got %v", err)
	}

	ids, err := env.service.ActiveLoanIDs(ctx)
	if err != nil {
		t.Fatalf("ActiveLoanIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("closed loan still active: %v", ids)
	}
}

func TestHealthFactorTWAP(t *testing.T) {
	ctx := context.Background()
	env := newLendingEnv(t)
	owner := testKey(t, 1)

	for _, p := range []int64{1900, 2000, 2100} {
		env.setPrice(t, btc, p)
	}
	for i := 0; i < 3; i++ {
		env.setPrice(t, usdc, 1)
	}

	params := healthyLoanParams()
	id, err := env.service.CreateLoan(ctx, createLoanProof(owner, params), params)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}

	// Collateral TWAP 2000, borrowed TWAP 1. The denominator is the
	// threshold-scaled borrowed value: 1.5e10 * 12000 / 10000 = 1.8e10,
	// so the health factor is floor(2e10 * 10000 / 1.8e10) = 11111.
	hf, err := env.service.HealthFactorTWAP(ctx, id, 3)
	if err != nil {
		t.Fatalf("HealthFactorTWAP: %v", err)
	}
	if !hf.Equal(d(11111)) {
		t.Errorf("expected health factor 11111, got %s", hf)
	}

	if _, err := env.service.HealthFactorTWAP(ctx, id, 2); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for out-of-range periods, got %v", err)
	}
}
