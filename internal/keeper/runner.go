// Package keeper drives the engine: it periodically sweeps all active loans
// and orders, fires eligible liquidations and order executions, and signs
// its liquidation calls with its own key. Sweeps are crash-safe by
// construction; every action re-validates its preconditions, so a keeper
// restart or a concurrent keeper never double-fires.
package keeper

import (
	"context"
	"crypto/ed25519"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/Blockchain-Oracle/stellar-guard/internal/auth"
	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/lending"
	"github.com/Blockchain-Oracle/stellar-guard/internal/observability"
	"github.com/Blockchain-Oracle/stellar-guard/internal/orders"
)

// DefaultSweepInterval is how often the keeper walks the active sets.
const DefaultSweepInterval = 10 * time.Second

// DefaultTWAPPeriods is the averaging window used for TWAP stop orders.
const DefaultTWAPPeriods uint32 = 5

// Runner orchestrates the periodic trigger sweep.
type Runner struct {
	lending       *lending.Service
	orders        *orders.Service
	key           ed25519.PrivateKey
	sweepInterval time.Duration
	twapPeriods   uint32
	metrics       *observability.Metrics
	logger        *log.Logger
}

// RunnerOptions contains configuration for creating a Runner. Key is the
// keeper's signing key; its derived address collects liquidator rewards.
type RunnerOptions struct {
	Lending       *lending.Service
	Orders        *orders.Service
	Key           ed25519.PrivateKey
	SweepInterval time.Duration
	TWAPPeriods   uint32
	Metrics       *observability.Metrics
	Logger        *log.Logger
}

// NewRunner creates a keeper runner.
func NewRunner(opts RunnerOptions) *Runner {
	sweepInterval := opts.SweepInterval
	if sweepInterval == 0 {
		sweepInterval = DefaultSweepInterval
	}
	twapPeriods := opts.TWAPPeriods
	if twapPeriods == 0 {
		twapPeriods = DefaultTWAPPeriods
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		lending:       opts.Lending,
		orders:        opts.Orders,
		key:           opts.Key,
		sweepInterval: sweepInterval,
		twapPeriods:   twapPeriods,
		metrics:       opts.Metrics,
		logger:        logger,
	}
}

// Run starts the sweep loop. It blocks until context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Printf("Keeper started, sweep interval: %v", r.sweepInterval)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Println("Keeper stopping...")
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over all active loans and orders. Exported so
// operators can trigger an immediate pass.
func (r *Runner) Sweep(ctx context.Context) {
	start := time.Now()
	r.sweepLoans(ctx)
	r.sweepOrders(ctx)
	if r.metrics != nil {
		r.metrics.KeeperSweeps.Inc()
		r.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
}

func (r *Runner) sweepLoans(ctx context.Context) {
	ids, err := r.lending.ActiveLoanIDs(ctx)
	if err != nil {
		r.sweepError("listing active loans", err)
		return
	}
	if r.metrics != nil {
		r.metrics.LoansActive.Set(float64(len(ids)))
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		eligible, err := r.lending.CheckLiquidation(ctx, id)
		if err != nil {
			r.sweepError("checking loan", err)
			continue
		}
		if !eligible {
			continue
		}
		proof := auth.Sign(r.key, lending.OpLiquidate, strconv.FormatUint(id, 10))
		reward, err := r.lending.LiquidatePosition(ctx, proof, id)
		if err != nil {
			// A state error means another keeper won the race; benign.
			if errors.Is(err, domain.ErrState) {
				continue
			}
			r.sweepError("liquidating loan", err)
			continue
		}
		r.logger.Printf("keeper liquidated loan %d, reward=%s", id, reward)
	}
}

func (r *Runner) sweepOrders(ctx context.Context) {
	ids, err := r.orders.ActiveOrderIDs(ctx)
	if err != nil {
		r.sweepError("listing active orders", err)
		return
	}
	if r.metrics != nil {
		r.metrics.OrdersActive.Set(float64(len(ids)))
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		order, err := r.orders.GetOrderDetails(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrState) {
				continue
			}
			r.sweepError("loading order", err)
			continue
		}
		if order.Terminal() {
			continue
		}

		var executed bool
		if order.Type == domain.OrderTypeTWAPStop {
			executed, err = r.orders.CheckAndExecuteTWAP(ctx, id, r.twapPeriods)
		} else {
			executed, err = r.orders.CheckAndExecute(ctx, id)
		}
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrState):
				// Lost the race to another keeper or a cancel; benign.
			case errors.Is(err, domain.ErrOracle):
				// No usable price this pass; the next sweep retries.
			default:
				r.sweepError("checking order", err)
			}
			continue
		}
		if executed {
			r.logger.Printf("keeper executed order %d", id)
		}
	}
}

func (r *Runner) sweepError(what string, err error) {
	if r.metrics != nil {
		r.metrics.SweepErrors.Inc()
	}
	r.logger.Printf("Error %s: %v", what, err)
}
