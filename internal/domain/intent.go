package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// IntentKind classifies a settlement intent.
type IntentKind string

const (
	IntentKindLiquidation    IntentKind = "LIQUIDATION"
	IntentKindOrderExecution IntentKind = "ORDER_EXECUTION"
)

// SettlementIntent is the hand-off record written in the same atomic unit as
// a terminal state transition. A settlement service consumes intents and
// performs the actual asset transfer; this engine only computes the numbers.
// Intent ids are deterministic per source record, so a consumer can
// de-duplicate on id.
type SettlementIntent struct {
	ID           string
	Kind         IntentKind
	Account      string // position owner credited/debited at settlement
	Asset        AssetRef
	Amount       decimal.Decimal // gross amount leaving the position
	NetAmount    decimal.Decimal // amount after fee/reward deduction
	Price        decimal.Decimal // execution or liquidation price reference
	FeeAmount    decimal.Decimal // protocol fee or liquidator reward
	FeeRecipient string          // fee recipient or liquidator account
	CreatedAt    int64
}

// LiquidationIntentID returns the deterministic intent id for a loan.
func LiquidationIntentID(loanID uint64) string {
	return fmt.Sprintf("liquidation-%d", loanID)
}

// OrderIntentID returns the deterministic intent id for an order.
func OrderIntentID(orderID uint64) string {
	return fmt.Sprintf("order-%d", orderID)
}
