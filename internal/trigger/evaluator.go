// Package trigger holds the pure decision logic of the guard engine: ratio
// arithmetic, liquidation checks, the trailing-stop ratchet and stop/take-
// profit trigger evaluation. Functions here never touch storage or oracles;
// they operate on values the services pass in.
package trigger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
)

// BPSDenom is the basis-point denominator: 10000 bps = 100%.
const BPSDenom = 10000

var (
	bpsDenom = decimal.NewFromInt(BPSDenom)
	hundred  = decimal.NewFromInt(100)
)

// divFloor returns the integer quotient of n/d truncated toward zero, the
// division semantics of the ledger's i128 arithmetic. Callers validate d > 0;
// for the non-negative numerators of the ratio paths this is floor division.
func divFloor(n, d decimal.Decimal) decimal.Decimal {
	q, _ := n.QuoRem(d, 0)
	return q
}

// Value returns price * amount for one position leg.
func Value(price, amount decimal.Decimal) decimal.Decimal {
	return price.Mul(amount)
}

// CollateralRatioBPS returns floor(collateralValue * 10000 / borrowedValue).
// A non-positive borrowed value is an arithmetic error, never a panic.
func CollateralRatioBPS(collateralValue, borrowedValue decimal.Decimal) (decimal.Decimal, error) {
	if borrowedValue.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: zero borrowed value", domain.ErrArithmetic)
	}
	return divFloor(collateralValue.Mul(bpsDenom), borrowedValue), nil
}

// ShouldLiquidate is the canonical liquidation trigger: true iff the current
// collateralization ratio is at or below the loan's threshold.
func ShouldLiquidate(loan *domain.Loan, collateralPrice, borrowedPrice decimal.Decimal) (bool, error) {
	ratio, err := CollateralRatioBPS(
		Value(collateralPrice, loan.CollateralAmount),
		Value(borrowedPrice, loan.BorrowedAmount),
	)
	if err != nil {
		return false, err
	}
	return ratio.LessThanOrEqual(decimal.NewFromInt(loan.LiquidationThresholdBPS)), nil
}

// HealthFactorTWAP returns the TWAP-smoothed health factor
// collateral_value * 10000 / (borrowed_value * threshold / 10000).
// Informational only; ShouldLiquidate is the trigger.
func HealthFactorTWAP(loan *domain.Loan, collateralTWAP, borrowedTWAP decimal.Decimal) (decimal.Decimal, error) {
	collateralValue := Value(collateralTWAP, loan.CollateralAmount)
	borrowedValue := Value(borrowedTWAP, loan.BorrowedAmount)
	if borrowedValue.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: zero borrowed value", domain.ErrArithmetic)
	}
	scaled := divFloor(borrowedValue.Mul(decimal.NewFromInt(loan.LiquidationThresholdBPS)), bpsDenom)
	if scaled.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: zero threshold-scaled denominator", domain.ErrArithmetic)
	}
	return divFloor(collateralValue.Mul(bpsDenom), scaled), nil
}

// TrailingStopPrice returns price * (100 - trailingPercent) / 100, floored.
// Used both at trailing order creation and inside the ratchet.
func TrailingStopPrice(price decimal.Decimal, trailingPercent int64) decimal.Decimal {
	return divFloor(price.Mul(hundred.Sub(decimal.NewFromInt(trailingPercent))), hundred)
}

// Ratchet applies the trailing-stop watermark update in place and reports
// whether the order changed and must be persisted. The watermark never moves
// down and the stop price never moves down; only a rising price can change
// either. Non-trailing orders are left untouched.
func Ratchet(order *domain.StopOrder, currentPrice decimal.Decimal) bool {
	if !order.Trailing() {
		return false
	}
	if currentPrice.LessThanOrEqual(order.HighestPrice) {
		return false
	}
	order.HighestPrice = currentPrice
	changed := true
	candidate := TrailingStopPrice(order.HighestPrice, *order.TrailingPercent)
	if candidate.GreaterThan(order.StopPrice) {
		order.StopPrice = candidate
	}
	return changed
}

// Signal is the outcome of one trigger evaluation. For an OCO order both
// conditions can hold in the same evaluation under a price gap; the order
// still fires exactly once, Signal records which side(s) were true.
type Signal struct {
	Fire          bool
	StopHit       bool
	TakeProfitHit bool
}

// Reason returns the trigger reason code for an executed order.
func (s Signal) Reason() string {
	switch {
	case s.StopHit && s.TakeProfitHit:
		return domain.TriggerReasonBoth
	case s.TakeProfitHit:
		return domain.TriggerReasonTakeProfit
	default:
		return domain.TriggerReasonStopLoss
	}
}

// Evaluate checks the stop and take-profit conditions against currentPrice.
// The stop condition holds iff currentPrice <= stop price; the take-profit
// condition (when configured) holds iff currentPrice >= take-profit price.
// Either alone is sufficient to fire.
func Evaluate(order *domain.StopOrder, currentPrice decimal.Decimal) Signal {
	var sig Signal
	if currentPrice.LessThanOrEqual(order.StopPrice) {
		sig.StopHit = true
	}
	if order.TakeProfitPrice != nil && currentPrice.GreaterThanOrEqual(*order.TakeProfitPrice) {
		sig.TakeProfitHit = true
	}
	sig.Fire = sig.StopHit || sig.TakeProfitHit
	return sig
}
