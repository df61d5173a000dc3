package domain

import "github.com/shopspring/decimal"

// OrderStatus is the lifecycle state of a stop order. Terminal once it
// leaves ACTIVE.
type OrderStatus string

const (
	OrderStatusActive    OrderStatus = "ACTIVE"
	OrderStatusExecuted  OrderStatus = "EXECUTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// OrderType selects the trigger evaluation mode for an order.
type OrderType string

const (
	OrderTypeStopLoss     OrderType = "STOP_LOSS"
	OrderTypeTrailingStop OrderType = "TRAILING_STOP"
	OrderTypeOCO          OrderType = "OCO"
	OrderTypeTWAPStop     OrderType = "TWAP_STOP"
	OrderTypeCrossAsset   OrderType = "CROSS_ASSET"
)

// Trigger reason codes recorded on execution.
const (
	TriggerReasonStopLoss   = "STOP_LOSS"
	TriggerReasonTakeProfit = "TAKE_PROFIT"
	// TriggerReasonBoth marks an OCO evaluation where a price gap satisfied
	// both levels at once; the order still executes exactly once.
	TriggerReasonBoth = "STOP_LOSS+TAKE_PROFIT"
)

// Execution records the terminal outcome of an executed order. No asset
// moves here; settlement is handed off through a SettlementIntent.
type Execution struct {
	Price      decimal.Decimal
	FeeAmount  decimal.Decimal
	NetAmount  decimal.Decimal
	Reason     string
	ExecutedAt int64
}

// StopOrder is a conditional exit order. For trailing orders HighestPrice is
// the ratchet watermark and is non-decreasing while the order is ACTIVE; the
// stop price only ever moves up, via the ratchet or at creation.
type StopOrder struct {
	ID              uint64
	Owner           string // base58 account address
	Type            OrderType
	Asset           AssetRef
	TriggerAsset    *AssetRef // cross-asset orders: the watched asset
	Amount          decimal.Decimal
	StopPrice       decimal.Decimal
	TrailingPercent *int64 // nil unless trailing; valid range (0, 50]
	HighestPrice    decimal.Decimal
	TakeProfitPrice *decimal.Decimal // nil unless OCO
	CreatedAt       int64
	Status          OrderStatus
	Execution       *Execution // set when Status == EXECUTED
}

// Terminal reports whether the order has left the ACTIVE state.
func (o *StopOrder) Terminal() bool {
	return o.Status != OrderStatusActive
}

// Trailing reports whether the order carries a trailing ratchet.
func (o *StopOrder) Trailing() bool {
	return o.TrailingPercent != nil
}
