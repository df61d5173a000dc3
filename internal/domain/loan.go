package domain

import "github.com/shopspring/decimal"

// LoanStatus is the lifecycle state of a loan. Once a loan leaves ACTIVE the
// status is terminal; no operation moves it back.
type LoanStatus string

const (
	LoanStatusActive     LoanStatus = "ACTIVE"
	LoanStatusLiquidated LoanStatus = "LIQUIDATED"
	LoanStatusClosed     LoanStatus = "CLOSED"
)

// Loan is a collateralized borrow position. Ids are assigned by the registry
// counter starting at 1 and never reused; records are never deleted, they
// persist in terminal status subject to the storage lease policy.
type Loan struct {
	ID                      uint64
	Owner                   string // base58 account address
	CollateralAsset         AssetRef
	CollateralAmount        decimal.Decimal
	BorrowedAsset           AssetRef
	BorrowedAmount          decimal.Decimal
	LiquidationThresholdBPS int64 // basis points, always > 10000
	CreatedAt               int64 // unix seconds
	Status                  LoanStatus
}

// Terminal reports whether the loan has left the ACTIVE state.
func (l *Loan) Terminal() bool {
	return l.Status != LoanStatusActive
}
