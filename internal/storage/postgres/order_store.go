package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage"
)

// DefaultMaxOrdersPerUser caps live orders per owner.
const DefaultMaxOrdersPerUser = 100

// OrderStore implements storage.OrderStore using PostgreSQL.
type OrderStore struct {
	pool       *Pool
	now        func() int64
	maxPerUser int
}

// NewOrderStore creates a new OrderStore. A nil now uses wall-clock time;
// a non-positive maxPerUser uses the default cap.
func NewOrderStore(pool *Pool, now func() int64, maxPerUser int) *OrderStore {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	if maxPerUser <= 0 {
		maxPerUser = DefaultMaxOrdersPerUser
	}
	return &OrderStore{pool: pool, now: now, maxPerUser: maxPerUser}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

// Create assigns the next id and stores the order. The per-owner cap counts
// live orders only; an advisory lock on the owner serializes concurrent
// creates so the cap holds under contention.
func (s *OrderStore) Create(ctx context.Context, order *domain.StopOrder) (uint64, error) {
	if order == nil || order.Owner == "" {
		return 0, storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "orders:"+order.Owner); err != nil {
		return 0, fmt.Errorf("lock owner: %w", err)
	}

	var live int
	err = tx.QueryRow(ctx, `
		SELECT count(*) FROM orders WHERE owner_address = $1 AND status = 'ACTIVE'
	`, order.Owner).Scan(&live)
	if err != nil {
		return 0, fmt.Errorf("count live orders: %w", err)
	}
	if live >= s.maxPerUser {
		return 0, storage.ErrUserCap
	}

	var triggerKey *string
	if order.TriggerAsset != nil {
		key := order.TriggerAsset.Key()
		triggerKey = &key
	}

	var id uint64
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (
			owner_address, order_type, asset, trigger_asset,
			amount, stop_price, trailing_percent, highest_price, take_profit_price,
			created_at, status, lease_expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`,
		order.Owner, string(order.Type), order.Asset.Key(), triggerKey,
		order.Amount, order.StopPrice, order.TrailingPercent,
		order.HighestPrice, nullDecimal(order.TakeProfitPrice),
		order.CreatedAt, string(order.Status), s.now()+storage.MaxLeaseSeconds,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return id, nil
}

// Get retrieves an order by id.
func (s *OrderStore) Get(ctx context.Context, id uint64) (*domain.StopOrder, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_address, order_type, asset, trigger_asset,
		       amount, stop_price, trailing_percent, highest_price, take_profit_price,
		       created_at, status, lease_expires_at,
		       exec_price, exec_fee, exec_net, exec_reason, executed_at
		FROM orders
		WHERE id = $1
	`, id)

	var order domain.StopOrder
	var assetKey, status string
	var triggerKey, execReason *string
	var takeProfit, execPrice, execFee, execNet decimal.NullDecimal
	var leaseExpiresAt int64
	var executedAt *int64

	err := row.Scan(
		&order.ID, &order.Owner, (*string)(&order.Type), &assetKey, &triggerKey,
		&order.Amount, &order.StopPrice, &order.TrailingPercent,
		&order.HighestPrice, &takeProfit,
		&order.CreatedAt, &status, &leaseExpiresAt,
		&execPrice, &execFee, &execNet, &execReason, &executedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if s.now() > leaseExpiresAt {
		return nil, storage.ErrLeaseExpired
	}

	if order.Asset, err = domain.ParseAssetKey(assetKey); err != nil {
		return nil, fmt.Errorf("parse order asset: %w", err)
	}
	if triggerKey != nil {
		ta, err := domain.ParseAssetKey(*triggerKey)
		if err != nil {
			return nil, fmt.Errorf("parse trigger asset: %w", err)
		}
		order.TriggerAsset = &ta
	}
	if takeProfit.Valid {
		order.TakeProfitPrice = &takeProfit.Decimal
	}
	order.Status = domain.OrderStatus(status)
	if order.Status == domain.OrderStatusExecuted && execReason != nil && executedAt != nil {
		order.Execution = &domain.Execution{
			Price:      execPrice.Decimal,
			FeeAmount:  execFee.Decimal,
			NetAmount:  execNet.Decimal,
			Reason:     *execReason,
			ExecutedAt: *executedAt,
		}
	}
	return &order, nil
}

// Update rewrites an order's mutable fields while it is still ACTIVE. The
// trailing ratchet persists watermark and stop price through this.
func (s *OrderStore) Update(ctx context.Context, order *domain.StopOrder) error {
	if order == nil {
		return storage.ErrInvalidInput
	}

	now := s.now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET amount = $2, stop_price = $3, highest_price = $4,
		    take_profit_price = $5, lease_expires_at = $6
		WHERE id = $1 AND status = 'ACTIVE' AND lease_expires_at >= $7
	`,
		order.ID, order.Amount, order.StopPrice, order.HighestPrice,
		nullDecimal(order.TakeProfitPrice), now+storage.MaxLeaseSeconds, now,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, order.ID)
	}
	return nil
}

// MarkExecuted transitions ACTIVE -> EXECUTED, records the outcome and
// appends the settlement intent in one transaction.
func (s *OrderStore) MarkExecuted(ctx context.Context, id uint64, exec *domain.Execution, intent *domain.SettlementIntent) error {
	if exec == nil || intent == nil {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now()
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'EXECUTED', exec_price = $2, exec_fee = $3, exec_net = $4,
		    exec_reason = $5, executed_at = $6, lease_expires_at = $7
		WHERE id = $1 AND status = 'ACTIVE' AND lease_expires_at >= $8
	`,
		id, exec.Price, exec.FeeAmount, exec.NetAmount,
		exec.Reason, exec.ExecutedAt, now+storage.MaxLeaseSeconds, now,
	)
	if err != nil {
		return fmt.Errorf("mark order executed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, id)
	}

	if err := insertIntent(ctx, tx, intent); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MarkCancelled transitions ACTIVE -> CANCELLED.
func (s *OrderStore) MarkCancelled(ctx context.Context, id uint64) error {
	now := s.now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = 'CANCELLED', lease_expires_at = $2
		WHERE id = $1 AND status = 'ACTIVE' AND lease_expires_at >= $3
	`, id, now+storage.MaxLeaseSeconds, now)
	if err != nil {
		return fmt.Errorf("mark order cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, id)
	}
	return nil
}

// IDsByOwner returns the owner's order ids in creation order.
func (s *OrderStore) IDsByOwner(ctx context.Context, owner string) ([]uint64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM orders WHERE owner_address = $1 ORDER BY id ASC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("get order ids by owner: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// ActiveIDs returns ids of all ACTIVE orders with a live lease, ascending.
func (s *OrderStore) ActiveIDs(ctx context.Context) ([]uint64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM orders
		WHERE status = 'ACTIVE' AND lease_expires_at >= $1
		ORDER BY id ASC
	`, s.now())
	if err != nil {
		return nil, fmt.Errorf("get active order ids: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

func (s *OrderStore) classifyMiss(ctx context.Context, id uint64) error {
	var status string
	var leaseExpiresAt int64
	err := s.pool.QueryRow(ctx, `
		SELECT status, lease_expires_at FROM orders WHERE id = $1
	`, id).Scan(&status, &leaseExpiresAt)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("classify order update miss: %w", err)
	}
	if s.now() > leaseExpiresAt {
		return storage.ErrLeaseExpired
	}
	return storage.ErrNotActive
}

// nullDecimal adapts an optional decimal for a nullable NUMERIC column.
func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
