package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage"
)

// LoanStore implements storage.LoanStore using PostgreSQL. Terminal
// transitions are guarded by a conditional UPDATE on the ACTIVE status, so
// concurrent keepers race safely; the loser sees ErrNotActive.
type LoanStore struct {
	pool *Pool
	now  func() int64
}

// NewLoanStore creates a new LoanStore. A nil now uses wall-clock time.
func NewLoanStore(pool *Pool, now func() int64) *LoanStore {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	return &LoanStore{pool: pool, now: now}
}

// Compile-time interface check.
var _ storage.LoanStore = (*LoanStore)(nil)

// Create assigns the next id and stores the loan.
func (s *LoanStore) Create(ctx context.Context, loan *domain.Loan) (uint64, error) {
	if loan == nil || loan.Owner == "" {
		return 0, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO loans (
			owner_address, collateral_asset, collateral_amount,
			borrowed_asset, borrowed_amount, liquidation_threshold_bps,
			created_at, status, lease_expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	var id uint64
	err := s.pool.QueryRow(ctx, query,
		loan.Owner, loan.CollateralAsset.Key(), loan.CollateralAmount,
		loan.BorrowedAsset.Key(), loan.BorrowedAmount, loan.LiquidationThresholdBPS,
		loan.CreatedAt, string(loan.Status), s.now()+storage.MaxLeaseSeconds,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert loan: %w", err)
	}
	return id, nil
}

// Get retrieves a loan by id.
func (s *LoanStore) Get(ctx context.Context, id uint64) (*domain.Loan, error) {
	query := `
		SELECT id, owner_address, collateral_asset, collateral_amount,
		       borrowed_asset, borrowed_amount, liquidation_threshold_bps,
		       created_at, status, lease_expires_at
		FROM loans
		WHERE id = $1
	`

	row := s.pool.QueryRow(ctx, query, id)

	var loan domain.Loan
	var collateralKey, borrowedKey, status string
	var leaseExpiresAt int64
	err := row.Scan(
		&loan.ID, &loan.Owner, &collateralKey, &loan.CollateralAmount,
		&borrowedKey, &loan.BorrowedAmount, &loan.LiquidationThresholdBPS,
		&loan.CreatedAt, &status, &leaseExpiresAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get loan: %w", err)
	}
	if s.now() > leaseExpiresAt {
		return nil, storage.ErrLeaseExpired
	}

	if loan.CollateralAsset, err = domain.ParseAssetKey(collateralKey); err != nil {
		return nil, fmt.Errorf("parse collateral asset: %w", err)
	}
	if loan.BorrowedAsset, err = domain.ParseAssetKey(borrowedKey); err != nil {
		return nil, fmt.Errorf("parse borrowed asset: %w", err)
	}
	loan.Status = domain.LoanStatus(status)
	return &loan, nil
}

// Update rewrites a loan whose stored record is still ACTIVE. The update may
// itself set a terminal status (repay to zero closes the loan).
func (s *LoanStore) Update(ctx context.Context, loan *domain.Loan) error {
	if loan == nil {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE loans
		SET collateral_amount = $2, borrowed_amount = $3,
		    liquidation_threshold_bps = $4, status = $5, lease_expires_at = $6
		WHERE id = $1 AND status = 'ACTIVE' AND lease_expires_at >= $7
	`

	now := s.now()
	tag, err := s.pool.Exec(ctx, query,
		loan.ID, loan.CollateralAmount, loan.BorrowedAmount,
		loan.LiquidationThresholdBPS, string(loan.Status),
		now+storage.MaxLeaseSeconds, now,
	)
	if err != nil {
		return fmt.Errorf("update loan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, loan.ID)
	}
	return nil
}

// ApplyLiquidation transitions ACTIVE -> LIQUIDATED, credits the liquidator
// and appends the settlement intent in one transaction.
func (s *LoanStore) ApplyLiquidation(ctx context.Context, id uint64, liquidator string, reward decimal.Decimal, intent *domain.SettlementIntent) error {
	if liquidator == "" || intent == nil {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now()
	tag, err := tx.Exec(ctx, `
		UPDATE loans
		SET status = 'LIQUIDATED', lease_expires_at = $2
		WHERE id = $1 AND status = 'ACTIVE' AND lease_expires_at >= $3
	`, id, now+storage.MaxLeaseSeconds, now)
	if err != nil {
		return fmt.Errorf("mark loan liquidated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, id)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO liquidator_rewards (account, total_reward)
		VALUES ($1, $2)
		ON CONFLICT (account)
		DO UPDATE SET total_reward = liquidator_rewards.total_reward + EXCLUDED.total_reward
	`, liquidator, reward)
	if err != nil {
		return fmt.Errorf("credit liquidator reward: %w", err)
	}

	if err := insertIntent(ctx, tx, intent); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// IDsByOwner returns the owner's loan ids in creation order.
func (s *LoanStore) IDsByOwner(ctx context.Context, owner string) ([]uint64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM loans WHERE owner_address = $1 ORDER BY id ASC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("get loan ids by owner: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// ActiveIDs returns ids of all ACTIVE loans with a live lease, ascending.
func (s *LoanStore) ActiveIDs(ctx context.Context) ([]uint64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM loans
		WHERE status = 'ACTIVE' AND lease_expires_at >= $1
		ORDER BY id ASC
	`, s.now())
	if err != nil {
		return nil, fmt.Errorf("get active loan ids: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// LiquidatorReward returns the cumulative reward for an account.
func (s *LoanStore) LiquidatorReward(ctx context.Context, liquidator string) (decimal.Decimal, error) {
	var reward decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT total_reward FROM liquidator_rewards WHERE account = $1
	`, liquidator).Scan(&reward)
	if err != nil {
		if isNotFoundError(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get liquidator reward: %w", err)
	}
	return reward, nil
}

// classifyMiss explains a zero-row conditional update: the loan is missing,
// its lease lapsed, or it already left ACTIVE.
func (s *LoanStore) classifyMiss(ctx context.Context, id uint64) error {
	var status string
	var leaseExpiresAt int64
	err := s.pool.QueryRow(ctx, `
		SELECT status, lease_expires_at FROM loans WHERE id = $1
	`, id).Scan(&status, &leaseExpiresAt)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("classify loan update miss: %w", err)
	}
	if s.now() > leaseExpiresAt {
		return storage.ErrLeaseExpired
	}
	return storage.ErrNotActive
}
