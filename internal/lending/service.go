// Package lending is the execution engine for collateralized loan
// positions: creation, liquidation checks, liquidation, collateral and
// repayment mutations. All mutations are whole-call atomic; preconditions
// are re-validated at the start of every call so duplicate trigger attempts
// fail cleanly instead of double-applying.
package lending

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard/internal/auth"
	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/observability"
	"github.com/Blockchain-Oracle/stellar-guard/internal/oracle"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage"
	"github.com/Blockchain-Oracle/stellar-guard/internal/trigger"
)

// LiquidationBonusBPS is the liquidator reward: 5% of the collateral.
const LiquidationBonusBPS = 500

// Proof operation names. The signature of an owner or liquidator proof must
// cover the operation it authorizes.
const (
	OpCreateLoan    = "create_loan"
	OpLiquidate     = "liquidate_position"
	OpAddCollateral = "add_collateral"
	OpRepayLoan     = "repay_loan"
)

// Service wires the loan registry, the oracle gateway and the verifier.
type Service struct {
	loans    storage.LoanStore
	gateway  oracle.Gateway
	verifier auth.Verifier
	metrics  *observability.Metrics
	logger   *log.Logger
	now      func() int64
}

// Options configures a Service. Metrics may be nil; a nil Logger uses a
// default prefixed logger and a nil Now uses wall-clock time.
type Options struct {
	Loans   storage.LoanStore
	Gateway oracle.Gateway
	Metrics *observability.Metrics
	Logger  *log.Logger
	Now     func() int64
}

// NewService creates a lending service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	return &Service{
		loans:    opts.Loans,
		gateway:  opts.Gateway,
		verifier: auth.NewVerifier(),
		metrics:  opts.Metrics,
		logger:   logger,
		now:      now,
	}
}

// CreateLoanParams are the inputs to CreateLoan. The owner is the proven
// account of the accompanying proof.
type CreateLoanParams struct {
	CollateralAsset  domain.AssetRef
	CollateralAmount decimal.Decimal
	BorrowedAsset    domain.AssetRef
	BorrowedAmount   decimal.Decimal
	ThresholdBPS     int64
}

// CreateLoan opens a collateralized position. The computed collateral ratio
// at creation must be at or above the liquidation threshold; under-
// collateralized loans are unreachable through this path.
func (s *Service) CreateLoan(ctx context.Context, proof auth.Proof, p CreateLoanParams) (uint64, error) {
	if err := s.verifier.Verify(proof, OpCreateLoan,
		p.CollateralAsset.Key(), p.CollateralAmount.String(),
		p.BorrowedAsset.Key(), p.BorrowedAmount.String(),
		strconv.FormatInt(p.ThresholdBPS, 10),
	); err != nil {
		return 0, err
	}

	if err := p.CollateralAsset.Validate(); err != nil {
		return 0, err
	}
	if err := p.BorrowedAsset.Validate(); err != nil {
		return 0, err
	}
	if p.ThresholdBPS <= trigger.BPSDenom {
		return 0, fmt.Errorf("%w: liquidation threshold must exceed %d bps", domain.ErrValidation, trigger.BPSDenom)
	}
	if p.CollateralAmount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: collateral amount must be positive", domain.ErrValidation)
	}
	if p.BorrowedAmount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: borrowed amount must be positive", domain.ErrValidation)
	}

	collateralPrice, err := s.gateway.Spot(ctx, p.CollateralAsset)
	if err != nil {
		return 0, err
	}
	borrowedPrice, err := s.gateway.Spot(ctx, p.BorrowedAsset)
	if err != nil {
		return 0, err
	}

	ratio, err := trigger.CollateralRatioBPS(
		trigger.Value(collateralPrice.Price, p.CollateralAmount),
		trigger.Value(borrowedPrice.Price, p.BorrowedAmount),
	)
	if err != nil {
		return 0, err
	}
	if ratio.LessThan(decimal.NewFromInt(p.ThresholdBPS)) {
		return 0, fmt.Errorf("%w: initial collateral insufficient: ratio %s bps below threshold %d bps",
			domain.ErrValidation, ratio, p.ThresholdBPS)
	}

	loan := &domain.Loan{
		Owner:                   proof.Account,
		CollateralAsset:         p.CollateralAsset,
		CollateralAmount:        p.CollateralAmount,
		BorrowedAsset:           p.BorrowedAsset,
		BorrowedAmount:          p.BorrowedAmount,
		LiquidationThresholdBPS: p.ThresholdBPS,
		CreatedAt:               s.now(),
		Status:                  domain.LoanStatusActive,
	}
	id, err := s.loans.Create(ctx, loan)
	if err != nil {
		return 0, err
	}

	if s.metrics != nil {
		s.metrics.LoansCreated.Inc()
	}
	s.logger.Printf("loan created: id=%d owner=%s ratio=%sbps threshold=%dbps",
		id, loan.Owner, ratio, p.ThresholdBPS)
	return id, nil
}

// CheckLiquidation reports whether a loan is eligible for liquidation.
// Inactive loans and unavailable prices yield false without error; only an
// unknown id fails.
func (s *Service) CheckLiquidation(ctx context.Context, loanID uint64) (bool, error) {
	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return false, loanStateErr(err, loanID)
	}
	if loan.Terminal() {
		return false, nil
	}

	collateralPrice, borrowedPrice, err := s.legPrices(ctx, loan)
	if err != nil {
		if errors.Is(err, domain.ErrOracle) {
			s.countOracleError(err)
			s.logger.Printf("price data unavailable for loan %d: %v", loanID, err)
			return false, nil
		}
		return false, err
	}

	eligible, err := trigger.ShouldLiquidate(loan, collateralPrice, borrowedPrice)
	if err != nil {
		return false, err
	}
	s.countTrigger("liquidation", eligible)
	return eligible, nil
}

// LiquidatePosition executes a liquidation. Callable by anyone who proves
// their own identity; the position owner's authorization is never required.
// Returns the liquidator reward. Re-validates eligibility and the ACTIVE
// status, so a duplicate call fails with a state error, never a double
// payout.
func (s *Service) LiquidatePosition(ctx context.Context, proof auth.Proof, loanID uint64) (decimal.Decimal, error) {
	if err := s.verifier.Verify(proof, OpLiquidate, strconv.FormatUint(loanID, 10)); err != nil {
		return decimal.Zero, err
	}

	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return decimal.Zero, loanStateErr(err, loanID)
	}
	if loan.Terminal() {
		return decimal.Zero, fmt.Errorf("%w: loan %d is not active", domain.ErrState, loanID)
	}

	collateralPrice, borrowedPrice, err := s.legPrices(ctx, loan)
	if err != nil {
		return decimal.Zero, err
	}
	eligible, err := trigger.ShouldLiquidate(loan, collateralPrice, borrowedPrice)
	if err != nil {
		return decimal.Zero, err
	}
	if !eligible {
		return decimal.Zero, fmt.Errorf("%w: loan %d not eligible for liquidation", domain.ErrState, loanID)
	}

	reward := liquidationReward(loan.CollateralAmount)
	intent := &domain.SettlementIntent{
		ID:           domain.LiquidationIntentID(loanID),
		Kind:         domain.IntentKindLiquidation,
		Account:      loan.Owner,
		Asset:        loan.CollateralAsset,
		Amount:       loan.CollateralAmount,
		NetAmount:    loan.CollateralAmount.Sub(reward),
		Price:        collateralPrice,
		FeeAmount:    reward,
		FeeRecipient: proof.Account,
		CreatedAt:    s.now(),
	}
	if err := s.loans.ApplyLiquidation(ctx, loanID, proof.Account, reward, intent); err != nil {
		return decimal.Zero, loanStateErr(err, loanID)
	}

	if s.metrics != nil {
		s.metrics.LiquidationsExecuted.Inc()
	}
	s.logger.Printf("loan %d liquidated by %s, reward=%s", loanID, proof.Account, reward)
	return reward, nil
}

// AddCollateral increases a loan's collateral. Owner only. Does not run a
// liquidation check; the improved ratio becomes visible to the next
// CheckLiquidation call.
func (s *Service) AddCollateral(ctx context.Context, proof auth.Proof, loanID uint64, amount decimal.Decimal) error {
	if err := s.verifier.Verify(proof, OpAddCollateral,
		strconv.FormatUint(loanID, 10), amount.String()); err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: collateral amount must be positive", domain.ErrValidation)
	}

	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return loanStateErr(err, loanID)
	}
	if proof.Account != loan.Owner {
		return fmt.Errorf("%w: caller %s is not the loan owner", domain.ErrUnauthorized, proof.Account)
	}
	if loan.Terminal() {
		return fmt.Errorf("%w: loan %d is not active", domain.ErrState, loanID)
	}

	loan.CollateralAmount = loan.CollateralAmount.Add(amount)
	if err := s.loans.Update(ctx, loan); err != nil {
		return loanStateErr(err, loanID)
	}
	s.logger.Printf("added %s collateral to loan %d", amount, loanID)
	return nil
}

// RepayLoan reduces the borrowed amount and closes the loan once it reaches
// zero. Owner only.
func (s *Service) RepayLoan(ctx context.Context, proof auth.Proof, loanID uint64, amount decimal.Decimal) error {
	if err := s.verifier.Verify(proof, OpRepayLoan,
		strconv.FormatUint(loanID, 10), amount.String()); err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: repay amount must be positive", domain.ErrValidation)
	}

	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return loanStateErr(err, loanID)
	}
	if proof.Account != loan.Owner {
		return fmt.Errorf("%w: caller %s is not the loan owner", domain.ErrUnauthorized, proof.Account)
	}
	if loan.Terminal() {
		return fmt.Errorf("%w: loan %d is not active", domain.ErrState, loanID)
	}

	loan.BorrowedAmount = loan.BorrowedAmount.Sub(amount)
	if loan.BorrowedAmount.Sign() <= 0 {
		loan.BorrowedAmount = decimal.Zero
		loan.Status = domain.LoanStatusClosed
	}
	if err := s.loans.Update(ctx, loan); err != nil {
		return loanStateErr(err, loanID)
	}
	s.logger.Printf("repaid %s on loan %d, status=%s", amount, loanID, loan.Status)
	return nil
}

// HealthFactorTWAP returns the TWAP-smoothed health factor for an active
// loan. Informational; CheckLiquidation is the canonical trigger.
func (s *Service) HealthFactorTWAP(ctx context.Context, loanID uint64, periods uint32) (decimal.Decimal, error) {
	if err := oracle.ValidateTWAPPeriods(periods); err != nil {
		return decimal.Zero, err
	}

	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return decimal.Zero, loanStateErr(err, loanID)
	}
	if loan.Terminal() {
		return decimal.Zero, fmt.Errorf("%w: loan %d is not active", domain.ErrState, loanID)
	}

	collateralTWAP, err := s.gateway.TWAP(ctx, loan.CollateralAsset, periods)
	if err != nil {
		return decimal.Zero, err
	}
	borrowedTWAP, err := s.gateway.TWAP(ctx, loan.BorrowedAsset, periods)
	if err != nil {
		return decimal.Zero, err
	}
	return trigger.HealthFactorTWAP(loan, collateralTWAP, borrowedTWAP)
}

// UserLoans returns the ids of all loans ever created by owner.
func (s *Service) UserLoans(ctx context.Context, owner string) ([]uint64, error) {
	return s.loans.IDsByOwner(ctx, owner)
}

// LiquidatorReward returns the cumulative reward credited to an account.
func (s *Service) LiquidatorReward(ctx context.Context, liquidator string) (decimal.Decimal, error) {
	return s.loans.LiquidatorReward(ctx, liquidator)
}

// ActiveLoanIDs exposes the live loan set for keeper sweeps.
func (s *Service) ActiveLoanIDs(ctx context.Context) ([]uint64, error) {
	return s.loans.ActiveIDs(ctx)
}

// legPrices fetches the spot prices of both loan legs.
func (s *Service) legPrices(ctx context.Context, loan *domain.Loan) (collateral, borrowed decimal.Decimal, err error) {
	collateralQuote, err := s.gateway.Spot(ctx, loan.CollateralAsset)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	borrowedQuote, err := s.gateway.Spot(ctx, loan.BorrowedAsset)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return collateralQuote.Price, borrowedQuote.Price, nil
}

func (s *Service) countTrigger(kind string, fired bool) {
	if s.metrics == nil {
		return
	}
	result := "no_trigger"
	if fired {
		result = "triggered"
	}
	s.metrics.TriggerChecks.WithLabelValues(kind, result).Inc()
}

func (s *Service) countOracleError(err error) {
	if s.metrics == nil {
		return
	}
	kind := "unavailable"
	if errors.Is(err, oracle.ErrStale) {
		kind = "stale"
	} else if errors.Is(err, oracle.ErrNotConfigured) {
		kind = "not_configured"
	}
	s.metrics.OracleErrors.WithLabelValues(kind).Inc()
}

// liquidationReward returns collateral * 500 / 10000, floored.
func liquidationReward(collateralAmount decimal.Decimal) decimal.Decimal {
	q, _ := collateralAmount.Mul(decimal.NewFromInt(LiquidationBonusBPS)).
		QuoRem(decimal.NewFromInt(trigger.BPSDenom), 0)
	return q
}

// loanStateErr maps registry lookup failures onto the state-error kind.
func loanStateErr(err error, id uint64) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: unknown loan %d", domain.ErrState, id)
	case errors.Is(err, storage.ErrNotActive):
		return fmt.Errorf("%w: loan %d is not active", domain.ErrState, id)
	case errors.Is(err, storage.ErrLeaseExpired):
		return fmt.Errorf("%w: loan %d lease lapsed, re-materialization required", domain.ErrState, id)
	}
	return err
}
