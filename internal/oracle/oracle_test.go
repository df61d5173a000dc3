package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage/memory"
)

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func seedQuotes(t *testing.T, store *memory.PriceHistoryStore, key string, prices ...int64) {
	t.Helper()
	ctx := context.Background()
	for i, p := range prices {
		err := store.Append(ctx, key, domain.PriceQuote{Price: d(p), Timestamp: int64(1000 + i)})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
}

func TestHistoryGateway_Spot(t *testing.T) {
	store := memory.NewPriceHistoryStore()
	g := NewHistoryGateway(store)
	asset := domain.CryptoAsset("BTC")
	seedQuotes(t, store, asset.Key(), 100, 110, 120)

	quote, err := g.Spot(context.Background(), asset)
	if err != nil {
		t.Fatalf("Spot failed: %v", err)
	}
	if !quote.Price.Equal(d(120)) {
		t.Errorf("Spot price: got %s, want 120", quote.Price)
	}
	if quote.Timestamp != 1002 {
		t.Errorf("Spot timestamp: got %d, want 1002", quote.Timestamp)
	}
}

func TestHistoryGateway_SpotUnavailable(t *testing.T) {
	g := NewHistoryGateway(memory.NewPriceHistoryStore())

	_, err := g.Spot(context.Background(), domain.CryptoAsset("XRP"))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
	if !errors.Is(err, domain.ErrOracle) {
		t.Error("ErrUnavailable must wrap the oracle error kind")
	}
}

func TestHistoryGateway_TWAP(t *testing.T) {
	store := memory.NewPriceHistoryStore()
	g := NewHistoryGateway(store)
	asset := domain.CryptoAsset("ETH")
	seedQuotes(t, store, asset.Key(), 50, 100, 110, 120)

	// Last 3 samples: (100+110+120)/3 = 110
	twap, err := g.TWAP(context.Background(), asset, 3)
	if err != nil {
		t.Fatalf("TWAP failed: %v", err)
	}
	if !twap.Equal(d(110)) {
		t.Errorf("TWAP: got %s, want 110", twap)
	}
}

func TestHistoryGateway_TWAPShortHistory(t *testing.T) {
	store := memory.NewPriceHistoryStore()
	g := NewHistoryGateway(store)
	asset := domain.CryptoAsset("ETH")
	seedQuotes(t, store, asset.Key(), 100, 110)

	_, err := g.TWAP(context.Background(), asset, 3)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable for short history, got %v", err)
	}
}

func TestHistoryGateway_Cross(t *testing.T) {
	store := memory.NewPriceHistoryStore()
	g := NewHistoryGateway(store)
	base := domain.CryptoAsset("BTC")
	quote := domain.CryptoAsset("ETH")
	seedQuotes(t, store, base.Key(), 60000)
	seedQuotes(t, store, quote.Key(), 3000)

	cross, err := g.Cross(context.Background(), base, quote)
	if err != nil {
		t.Fatalf("Cross failed: %v", err)
	}
	// 60000 * 10^7 / 3000 = 20 * 10^7
	want := d(20).Mul(domain.PriceScale())
	if !cross.Price.Equal(want) {
		t.Errorf("Cross price: got %s, want %s", cross.Price, want)
	}
}

func TestValidateTWAPPeriods(t *testing.T) {
	for _, periods := range []uint32{3, 10, 20} {
		if err := ValidateTWAPPeriods(periods); err != nil {
			t.Errorf("ValidateTWAPPeriods(%d) failed: %v", periods, err)
		}
	}
	for _, periods := range []uint32{0, 2, 21} {
		if err := ValidateTWAPPeriods(periods); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("ValidateTWAPPeriods(%d): expected ErrValidation, got %v", periods, err)
		}
	}
}

func TestCurrentPrice_Staleness(t *testing.T) {
	store := memory.NewPriceHistoryStore()
	g := NewHistoryGateway(store)
	asset := domain.CryptoAsset("BTC")
	seedQuotes(t, store, asset.Key(), 100) // timestamp 1000

	// Fresh within the window.
	price, err := CurrentPrice(context.Background(), g, asset, 1000+DefaultMaxQuoteAge, DefaultMaxQuoteAge)
	if err != nil {
		t.Fatalf("CurrentPrice failed on fresh quote: %v", err)
	}
	if !price.Equal(d(100)) {
		t.Errorf("Price: got %s, want 100", price)
	}

	// One second past the window is stale.
	_, err = CurrentPrice(context.Background(), g, asset, 1001+DefaultMaxQuoteAge, DefaultMaxQuoteAge)
	if !errors.Is(err, ErrStale) {
		t.Errorf("Expected ErrStale, got %v", err)
	}
}

func TestRouter_NotConfigured(t *testing.T) {
	r := NewRouter()
	r.Register(domain.AssetClassCrypto, NewHistoryGateway(memory.NewPriceHistoryStore()))

	_, err := r.Spot(context.Background(), domain.ForexAsset("EUR"))
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
	if !errors.Is(err, domain.ErrOracle) {
		t.Error("ErrNotConfigured must wrap the oracle error kind")
	}
}

func TestRouter_RoutesByClass(t *testing.T) {
	cryptoStore := memory.NewPriceHistoryStore()
	stellarStore := memory.NewPriceHistoryStore()

	r := NewRouter()
	r.Register(domain.AssetClassCrypto, NewHistoryGateway(cryptoStore))
	r.Register(domain.AssetClassStellar, NewHistoryGateway(stellarStore))

	btc := domain.CryptoAsset("BTC")
	native := domain.StellarAsset("GAXLYH")
	seedQuotes(t, cryptoStore, btc.Key(), 60000)
	seedQuotes(t, stellarStore, native.Key(), 12)

	quote, err := r.Spot(context.Background(), btc)
	if err != nil {
		t.Fatalf("Spot crypto failed: %v", err)
	}
	if !quote.Price.Equal(d(60000)) {
		t.Errorf("Crypto spot: got %s, want 60000", quote.Price)
	}

	quote, err = r.Spot(context.Background(), native)
	if err != nil {
		t.Fatalf("Spot stellar failed: %v", err)
	}
	if !quote.Price.Equal(d(12)) {
		t.Errorf("Stellar spot: got %s, want 12", quote.Price)
	}
}

func TestRouter_CheckPegDeviation(t *testing.T) {
	cryptoStore := memory.NewPriceHistoryStore()
	forexStore := memory.NewPriceHistoryStore()

	r := NewRouter()
	r.Register(domain.AssetClassCrypto, NewHistoryGateway(cryptoStore))
	r.Register(domain.AssetClassForex, NewHistoryGateway(forexStore))

	usdc := domain.CryptoAsset("USDC")
	usd := domain.ForexAsset("USD")
	seedQuotes(t, forexStore, usd.Key(), 10000)
	seedQuotes(t, cryptoStore, usdc.Key(), 9900) // 1% under peg

	deviation, err := r.CheckPegDeviation(context.Background(), usdc)
	if err != nil {
		t.Fatalf("CheckPegDeviation failed: %v", err)
	}
	if !deviation.Equal(d(-100)) {
		t.Errorf("Deviation: got %s bps, want -100", deviation)
	}
}

func TestRouter_CompareGateways(t *testing.T) {
	cryptoStore := memory.NewPriceHistoryStore()
	stellarStore := memory.NewPriceHistoryStore()

	r := NewRouter()
	r.Register(domain.AssetClassCrypto, NewHistoryGateway(cryptoStore))
	r.Register(domain.AssetClassStellar, NewHistoryGateway(stellarStore))

	seedQuotes(t, cryptoStore, domain.CryptoAsset("XLM").Key(), 10000)
	seedQuotes(t, stellarStore, domain.StellarAsset("XLM").Key(), 9950)

	// (10000 - 9950) * 10000 / 10000 = 50 bps spread.
	spread, err := r.CompareGateways(context.Background(), "XLM")
	if err != nil {
		t.Fatalf("CompareGateways failed: %v", err)
	}
	if !spread.Equal(d(50)) {
		t.Errorf("Spread: got %s bps, want 50", spread)
	}

	// Without a stellar gateway the comparison is not configurable.
	lone := NewRouter()
	lone.Register(domain.AssetClassCrypto, NewHistoryGateway(cryptoStore))
	if _, err := lone.CompareGateways(context.Background(), "XLM"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}
