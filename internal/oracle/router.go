package oracle

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
)

// Router selects the gateway instance serving an asset class: external
// feeds for crypto, the ledger's own oracle for stellar-native assets, the
// forex oracle for stablecoins and fiat. A class without a registered
// gateway is an explicit ErrNotConfigured, never a silent fallback.
//
// Router itself satisfies Gateway, so services route transparently.
type Router struct {
	gateways map[domain.AssetClass]Gateway
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{gateways: make(map[domain.AssetClass]Gateway)}
}

// Compile-time interface check.
var _ Gateway = (*Router)(nil)

// Register binds a gateway to an asset class, replacing any previous one.
func (r *Router) Register(class domain.AssetClass, g Gateway) {
	r.gateways[class] = g
}

// ForClass returns the gateway registered for a class.
func (r *Router) ForClass(class domain.AssetClass) (Gateway, error) {
	g, ok := r.gateways[class]
	if !ok {
		return nil, fmt.Errorf("%s: %w", class, ErrNotConfigured)
	}
	return g, nil
}

// crossGateway picks the gateway for a cross read: a stellar-only pair stays
// on the stellar oracle, any mixed pair uses the external crypto oracle.
func (r *Router) crossGateway(base, quote domain.AssetRef) (Gateway, error) {
	if base.Class == domain.AssetClassStellar && quote.Class == domain.AssetClassStellar {
		return r.ForClass(domain.AssetClassStellar)
	}
	return r.ForClass(domain.AssetClassCrypto)
}

// Spot routes a spot read by asset class.
func (r *Router) Spot(ctx context.Context, asset domain.AssetRef) (*domain.PriceQuote, error) {
	g, err := r.ForClass(asset.Class)
	if err != nil {
		return nil, err
	}
	return g.Spot(ctx, asset)
}

// TWAP routes a TWAP read by asset class.
func (r *Router) TWAP(ctx context.Context, asset domain.AssetRef, periods uint32) (decimal.Decimal, error) {
	g, err := r.ForClass(asset.Class)
	if err != nil {
		return decimal.Zero, err
	}
	return g.TWAP(ctx, asset, periods)
}

// Cross routes a cross read through the pair's gateway.
func (r *Router) Cross(ctx context.Context, base, quote domain.AssetRef) (*domain.PriceQuote, error) {
	g, err := r.crossGateway(base, quote)
	if err != nil {
		return nil, err
	}
	return g.Cross(ctx, base, quote)
}

// History routes a history read by asset class.
func (r *Router) History(ctx context.Context, asset domain.AssetRef, periods uint32) ([]domain.PriceQuote, error) {
	g, err := r.ForClass(asset.Class)
	if err != nil {
		return nil, err
	}
	return g.History(ctx, asset, periods)
}

// CheckPegDeviation returns a stablecoin's deviation from the USD peg in
// basis points: (stable - usd) * 10000 / usd. Advisory read.
func (r *Router) CheckPegDeviation(ctx context.Context, stablecoin domain.AssetRef) (decimal.Decimal, error) {
	forexGW, err := r.ForClass(domain.AssetClassForex)
	if err != nil {
		return decimal.Zero, err
	}
	cryptoGW, err := r.ForClass(domain.AssetClassCrypto)
	if err != nil {
		return decimal.Zero, err
	}

	usd, err := forexGW.Spot(ctx, domain.ForexAsset("USD"))
	if err != nil {
		return decimal.Zero, err
	}
	stable, err := cryptoGW.Spot(ctx, stablecoin)
	if err != nil {
		return decimal.Zero, err
	}
	if usd.Price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: non-positive USD reference price", domain.ErrArithmetic)
	}

	deviation, _ := stable.Price.Sub(usd.Price).Mul(decimal.NewFromInt(10000)).QuoRem(usd.Price, 0)
	return deviation, nil
}

// CompareGateways returns the spread, in basis points relative to the
// external price, between the external and stellar gateways' quotes for the
// same symbol. Advisory read for detecting gateway divergence.
func (r *Router) CompareGateways(ctx context.Context, symbol string) (decimal.Decimal, error) {
	cryptoGW, err := r.ForClass(domain.AssetClassCrypto)
	if err != nil {
		return decimal.Zero, err
	}
	stellarGW, err := r.ForClass(domain.AssetClassStellar)
	if err != nil {
		return decimal.Zero, err
	}

	external, err := cryptoGW.Spot(ctx, domain.CryptoAsset(symbol))
	if err != nil {
		return decimal.Zero, err
	}
	stellar, err := stellarGW.Spot(ctx, domain.AssetRef{Class: domain.AssetClassStellar, Address: symbol})
	if err != nil {
		return decimal.Zero, err
	}
	if external.Price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: non-positive external price", domain.ErrArithmetic)
	}

	spread, _ := external.Price.Sub(stellar.Price).Mul(decimal.NewFromInt(10000)).QuoRem(external.Price, 0)
	return spread, nil
}
