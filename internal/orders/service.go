// Package orders is the execution engine for conditional exit orders:
// stop-loss, trailing stop, OCO, TWAP stop and cross-asset stop. Order
// checks are safe to call concurrently and repeatedly; the registry's
// ACTIVE-guarded transitions guarantee at most one successful execution
// per order.
package orders

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

const (
	// ExecutionFeeBPS is the protocol fee on execution: 0.1% of the amount.
	ExecutionFeeBPS = 10

	// MaxTrailingPercent bounds the trailing distance at 50%.
	MaxTrailingPercent = 50
)

// MinOrderAmount is the smallest accepted order size in 7-decimal units.
var MinOrderAmount = decimal.NewFromInt(1_000_000)

// Proof operation names.
const (
	OpCreateStopLoss       = "create_stop_loss"
	OpCreateTrailingStop   = "create_trailing_stop"
	OpCreateOCO            = "create_oco_order"
	OpCreateTWAPStop       = "create_twap_stop"
	OpCreateCrossAssetStop = "create_cross_asset_stop"
	OpCancelOrder          = "cancel_order"
)

// Service wires the order registry, the oracle gateway and the verifier.
type Service struct {
	orders   storage.OrderStore
	gateway  oracle.Gateway
	verifier auth.Verifier
	metrics  *observability.Metrics
	logger   *log.Logger
	now      func() int64
	maxAge   int64
}

// Options configures a Service. Metrics may be nil; a zero MaxQuoteAge uses
// the oracle default.
type Options struct {
	Orders      storage.OrderStore
	Gateway     oracle.Gateway
	Metrics     *observability.Metrics
	Logger      *log.Logger
	Now         func() int64
	MaxQuoteAge int64
}

// NewService creates an order service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	maxAge := opts.MaxQuoteAge
	if maxAge <= 0 {
		maxAge = oracle.DefaultMaxQuoteAge
	}
	return &Service{
		orders:   opts.Orders,
		gateway:  opts.Gateway,
		verifier: auth.NewVerifier(),
		metrics:  opts.Metrics,
		logger:   logger,
		now:      now,
		maxAge:   maxAge,
	}
}

// CreateStopLoss places a plain stop order: fires once the asset's price
// falls to or below stopPrice.
func (s *Service) CreateStopLoss(ctx context.Context, proof auth.Proof, asset domain.AssetRef, amount, stopPrice decimal.Decimal) (uint64, error) {
	if err := s.verifier.Verify(proof, OpCreateStopLoss,
		asset.Key(), amount.String(), stopPrice.String()); err != nil {
		return 0, err
	}
	if err := validateAmount(amount); err != nil {
		return 0, err
	}
	if stopPrice.Sign() <= 0 {
		return 0, fmt.Errorf("%w: stop price must be positive", domain.ErrValidation)
	}
	current, err := s.currentPrice(ctx, asset)
	if err != nil {
		return 0, err
	}
	if stopPrice.GreaterThanOrEqual(current) {
		return 0, fmt.Errorf("%w: stop price %s must be below current price %s",
			domain.ErrValidation, stopPrice, current)
	}
	return s.place(ctx, &domain.StopOrder{
		Owner:     proof.Account,
		Type:      domain.OrderTypeStopLoss,
		Asset:     asset,
		Amount:    amount,
		StopPrice: stopPrice,
	})
}

// CreateTrailingStop places a trailing order. The initial stop is derived
// from the current price and trailingPercent; the ratchet raises it as the
// price makes new highs.
func (s *Service) CreateTrailingStop(ctx context.Context, proof auth.Proof, asset domain.AssetRef, amount decimal.Decimal, trailingPercent int64) (uint64, error) {
	if err := s.verifier.Verify(proof, OpCreateTrailingStop,
		asset.Key(), amount.String(), strconv.FormatInt(trailingPercent, 10)); err != nil {
		return 0, err
	}
	if err := validateAmount(amount); err != nil {
		return 0, err
	}
	if trailingPercent <= 0 || trailingPercent > MaxTrailingPercent {
		return 0, fmt.Errorf("%w: trailing percent %d outside (0, %d]",
			domain.ErrValidation, trailingPercent, MaxTrailingPercent)
	}
	current, err := s.currentPrice(ctx, asset)
	if err != nil {
		return 0, err
	}
	pct := trailingPercent
	return s.place(ctx, &domain.StopOrder{
		Owner:           proof.Account,
		Type:            domain.OrderTypeTrailingStop,
		Asset:           asset,
		Amount:          amount,
		StopPrice:       trigger.TrailingStopPrice(current, trailingPercent),
		TrailingPercent: &pct,
		HighestPrice:    current,
	})
}

// CreateOCOOrder places a one-cancels-other order with a stop below and a
// take-profit above the current price. Whichever level is reached first
// executes the whole order.
func (s *Service) CreateOCOOrder(ctx context.Context, proof auth.Proof, asset domain.AssetRef, amount, stopPrice, takeProfitPrice decimal.Decimal) (uint64, error) {
	if err := s.verifier.Verify(proof, OpCreateOCO,
		asset.Key(), amount.String(), stopPrice.String(), takeProfitPrice.String()); err != nil {
		return 0, err
	}
	if err := validateAmount(amount); err != nil {
		return 0, err
	}
	if stopPrice.Sign() <= 0 || takeProfitPrice.Sign() <= 0 {
		return 0, fmt.Errorf("%w: prices must be positive", domain.ErrValidation)
	}
	current, err := s.currentPrice(ctx, asset)
	if err != nil {
		return 0, err
	}
	if !stopPrice.LessThan(current) || !takeProfitPrice.GreaterThan(current) {
		return 0, fmt.Errorf("%w: need stop %s < current %s < take-profit %s",
			domain.ErrValidation, stopPrice, current, takeProfitPrice)
	}
	tp := takeProfitPrice
	return s.place(ctx, &domain.StopOrder{
		Owner:           proof.Account,
		Type:            domain.OrderTypeOCO,
		Asset:           asset,
		Amount:          amount,
		StopPrice:       stopPrice,
		TakeProfitPrice: &tp,
	})
}

// CreateTWAPStop places a stop order evaluated against the TWAP price
// instead of the spot price, via CheckAndExecuteTWAP.
func (s *Service) CreateTWAPStop(ctx context.Context, proof auth.Proof, asset domain.AssetRef, amount, stopPrice decimal.Decimal) (uint64, error) {
	if err := s.verifier.Verify(proof, OpCreateTWAPStop,
		asset.Key(), amount.String(), stopPrice.String()); err != nil {
		return 0, err
	}
	if err := validateAmount(amount); err != nil {
		return 0, err
	}
	if stopPrice.Sign() <= 0 {
		return 0, fmt.Errorf("%w: stop price must be positive", domain.ErrValidation)
	}
	return s.place(ctx, &domain.StopOrder{
		Owner:     proof.Account,
		Type:      domain.OrderTypeTWAPStop,
		Asset:     asset,
		Amount:    amount,
		StopPrice: stopPrice,
	})
}

// CreateCrossAssetStop places an order on asset whose trigger watches a
// different asset's price: it fires when triggerAsset's price falls to or
// below stopPrice.
func (s *Service) CreateCrossAssetStop(ctx context.Context, proof auth.Proof, asset, triggerAsset domain.AssetRef, amount, stopPrice decimal.Decimal) (uint64, error) {
	if err := s.verifier.Verify(proof, OpCreateCrossAssetStop,
		asset.Key(), triggerAsset.Key(), amount.String(), stopPrice.String()); err != nil {
		return 0, err
	}
	if err := validateAmount(amount); err != nil {
		return 0, err
	}
	if err := triggerAsset.Validate(); err != nil {
		return 0, err
	}
	if asset.Key() == triggerAsset.Key() {
		return 0, fmt.Errorf("%w: trigger asset must differ from the order asset", domain.ErrValidation)
	}
	if stopPrice.Sign() <= 0 {
		return 0, fmt.Errorf("%w: stop price must be positive", domain.ErrValidation)
	}
	current, err := s.currentPrice(ctx, triggerAsset)
	if err != nil {
		return 0, err
	}
	if stopPrice.GreaterThanOrEqual(current) {
		return 0, fmt.Errorf("%w: stop price %s must be below current trigger price %s",
			domain.ErrValidation, stopPrice, current)
	}
	ta := triggerAsset
	return s.place(ctx, &domain.StopOrder{
		Owner:        proof.Account,
		Type:         domain.OrderTypeCrossAsset,
		Asset:        asset,
		TriggerAsset: &ta,
		Amount:       amount,
		StopPrice:    stopPrice,
	})
}

// CheckAndExecute evaluates an order against the fresh spot price of its
// watched asset and executes it when the trigger fires. Returns whether the
// order executed in this call. The trailing ratchet is persisted before the
// trigger decision, so a crash between the two never loses watermark
// progress.
func (s *Service) CheckAndExecute(ctx context.Context, orderID uint64) (bool, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return false, orderStateErr(err, orderID)
	}
	if order.Terminal() {
		return false, fmt.Errorf("%w: order %d is not active", domain.ErrState, orderID)
	}
	if order.Type == domain.OrderTypeTWAPStop {
		return false, fmt.Errorf("%w: order %d is TWAP-evaluated", domain.ErrState, orderID)
	}

	watched := order.Asset
	if order.TriggerAsset != nil {
		watched = *order.TriggerAsset
	}
	price, err := s.currentPrice(ctx, watched)
	if err != nil {
		return false, err
	}

	if trigger.Ratchet(order, price) {
		if err := s.orders.Update(ctx, order); err != nil {
			return false, orderStateErr(err, orderID)
		}
		if s.metrics != nil {
			s.metrics.RatchetUpdates.Inc()
		}
	}

	sig := trigger.Evaluate(order, price)
	s.countTrigger("order", sig.Fire)
	if !sig.Fire {
		return false, nil
	}
	return true, s.execute(ctx, order, price, sig.Reason())
}

// CheckAndExecuteTWAP evaluates a TWAP stop order against the averaged
// price over the given number of periods. TWAP prices carry no single
// timestamp, so no staleness check applies here; short history surfaces as
// an oracle error instead.
func (s *Service) CheckAndExecuteTWAP(ctx context.Context, orderID uint64, periods uint32) (bool, error) {
	if err := oracle.ValidateTWAPPeriods(periods); err != nil {
		return false, err
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return false, orderStateErr(err, orderID)
	}
	if order.Terminal() {
		return false, fmt.Errorf("%w: order %d is not active", domain.ErrState, orderID)
	}
	if order.Type != domain.OrderTypeTWAPStop {
		return false, fmt.Errorf("%w: order %d is not TWAP-evaluated", domain.ErrState, orderID)
	}

	price, err := s.gateway.TWAP(ctx, order.Asset, periods)
	if err != nil {
		return false, err
	}

	if trigger.Ratchet(order, price) {
		if err := s.orders.Update(ctx, order); err != nil {
			return false, orderStateErr(err, orderID)
		}
		if s.metrics != nil {
			s.metrics.RatchetUpdates.Inc()
		}
	}

	sig := trigger.Evaluate(order, price)
	s.countTrigger("twap_order", sig.Fire)
	if !sig.Fire {
		return false, nil
	}
	return true, s.execute(ctx, order, price, sig.Reason())
}

// CancelOrder cancels an active order. Owner only.
func (s *Service) CancelOrder(ctx context.Context, proof auth.Proof, orderID uint64) error {
	if err := s.verifier.Verify(proof, OpCancelOrder, strconv.FormatUint(orderID, 10)); err != nil {
		return err
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return orderStateErr(err, orderID)
	}
	if proof.Account != order.Owner {
		return fmt.Errorf("%w: caller %s is not the order owner", domain.ErrUnauthorized, proof.Account)
	}
	if err := s.orders.MarkCancelled(ctx, orderID); err != nil {
		return orderStateErr(err, orderID)
	}
	if s.metrics != nil {
		s.metrics.OrdersCancelled.Inc()
	}
	s.logger.Printf("order %d cancelled by %s", orderID, proof.Account)
	return nil
}

// GetOrderDetails returns the full order record.
func (s *Service) GetOrderDetails(ctx context.Context, orderID uint64) (*domain.StopOrder, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, orderStateErr(err, orderID)
	}
	return order, nil
}

// GetUserOrders returns the ids of all orders ever created by owner.
func (s *Service) GetUserOrders(ctx context.Context, owner string) ([]uint64, error) {
	return s.orders.IDsByOwner(ctx, owner)
}

// ActiveOrderIDs exposes the live order set for keeper sweeps.
func (s *Service) ActiveOrderIDs(ctx context.Context) ([]uint64, error) {
	return s.orders.ActiveIDs(ctx)
}

// PriceVolatility returns the integer variance of an asset's recent quotes.
func (s *Service) PriceVolatility(ctx context.Context, asset domain.AssetRef, periods uint32) (decimal.Decimal, error) {
	if err := oracle.ValidateTWAPPeriods(periods); err != nil {
		return decimal.Zero, err
	}
	quotes, err := s.gateway.History(ctx, asset, periods)
	if err != nil {
		return decimal.Zero, err
	}
	return trigger.Variance(quotes)
}

// execute finalizes a fired order: computes the fee, records the execution
// and appends the settlement intent in one atomic registry step.
func (s *Service) execute(ctx context.Context, order *domain.StopOrder, price decimal.Decimal, reason string) error {
	fee := executionFee(order.Amount)
	exec := &domain.Execution{
		Price:      price,
		FeeAmount:  fee,
		NetAmount:  order.Amount.Sub(fee),
		Reason:     reason,
		ExecutedAt: s.now(),
	}
	intent := &domain.SettlementIntent{
		ID:        domain.OrderIntentID(order.ID),
		Kind:      domain.IntentKindOrderExecution,
		Account:   order.Owner,
		Asset:     order.Asset,
		Amount:    order.Amount,
		NetAmount: exec.NetAmount,
		Price:     price,
		FeeAmount: fee,
		CreatedAt: exec.ExecutedAt,
	}
	if err := s.orders.MarkExecuted(ctx, order.ID, exec, intent); err != nil {
		return orderStateErr(err, order.ID)
	}
	if s.metrics != nil {
		s.metrics.OrdersExecuted.WithLabelValues(reason).Inc()
	}
	s.logger.Printf("order %d executed: price=%s fee=%s net=%s reason=%s",
		order.ID, price, fee, exec.NetAmount, reason)
	return nil
}

// place stores a validated order and counts it.
func (s *Service) place(ctx context.Context, order *domain.StopOrder) (uint64, error) {
	order.CreatedAt = s.now()
	order.Status = domain.OrderStatusActive
	if err := order.Asset.Validate(); err != nil {
		return 0, err
	}
	id, err := s.orders.Create(ctx, order)
	if err != nil {
		if errors.Is(err, storage.ErrUserCap) {
			return 0, fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.OrdersCreated.WithLabelValues(string(order.Type)).Inc()
	}
	s.logger.Printf("order created: id=%d owner=%s type=%s stop=%s",
		id, order.Owner, order.Type, order.StopPrice)
	return id, nil
}

// currentPrice fetches a staleness-checked spot price.
func (s *Service) currentPrice(ctx context.Context, asset domain.AssetRef) (decimal.Decimal, error) {
	price, err := oracle.CurrentPrice(ctx, s.gateway, asset, s.now(), s.maxAge)
	if err != nil {
		s.countOracleError(err)
		return decimal.Zero, err
	}
	return price, nil
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

func validateAmount(amount decimal.Decimal) error {
	if amount.LessThan(MinOrderAmount) {
		return fmt.Errorf("%w: amount %s below minimum %s", domain.ErrValidation, amount, MinOrderAmount)
	}
	return nil
}

// executionFee returns amount * 10 / 10000, floored.
func executionFee(amount decimal.Decimal) decimal.Decimal {
	q, _ := amount.Mul(decimal.NewFromInt(ExecutionFeeBPS)).
		QuoRem(decimal.NewFromInt(trigger.BPSDenom), 0)
	return q
}

// orderStateErr maps registry lookup failures onto the state-error kind.
func orderStateErr(err error, id uint64) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: unknown order %d", domain.ErrState, id)
	case errors.Is(err, storage.ErrNotActive):
		return fmt.Errorf("%w: order %d is not active", domain.ErrState, id)
	case errors.Is(err, storage.ErrLeaseExpired):
		return fmt.Errorf("%w: order %d lease lapsed, re-materialization required", domain.ErrState, id)
	}
	return err
}
