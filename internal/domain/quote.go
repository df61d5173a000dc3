package domain

import "github.com/shopspring/decimal"

// PriceDecimals is the fixed-point scale of all oracle prices: a quote of
// 10_000_000 denotes 1.0. Matches the 7-decimal token convention of the
// source ledger.
const PriceDecimals = 7

// PriceQuote is a single oracle price sample. Price is a signed fixed-point
// integer at PriceDecimals scale. Absence of a quote is expressed by the
// gateway's unavailable error, never by a zero price.
type PriceQuote struct {
	Price     decimal.Decimal
	Timestamp int64 // unix seconds
}

// PriceScale returns the fixed-point unit (10^PriceDecimals) as a decimal.
func PriceScale() decimal.Decimal {
	return decimal.New(1, PriceDecimals)
}
