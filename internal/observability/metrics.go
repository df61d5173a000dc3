// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the guard engine.
type Metrics struct {
	// Position metrics
	LoansCreated  prometheus.Counter
	OrdersCreated *prometheus.CounterVec // by order type
	LoansActive   prometheus.Gauge
	OrdersActive  prometheus.Gauge

	// Trigger metrics
	TriggerChecks        *prometheus.CounterVec // by kind, result
	LiquidationsExecuted prometheus.Counter
	OrdersExecuted       *prometheus.CounterVec // by trigger reason
	OrdersCancelled      prometheus.Counter
	RatchetUpdates       prometheus.Counter

	// Oracle metrics
	OracleErrors *prometheus.CounterVec // by kind
	QuotesStored prometheus.Counter

	// Keeper metrics
	KeeperSweeps  prometheus.Counter
	SweepDuration prometheus.Histogram
	SweepErrors   prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "stellar_guard"
	}

	return &Metrics{
		LoansCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loans_created_total",
			Help:      "Total loans created",
		}),
		OrdersCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Total stop orders created by type",
		}, []string{"type"}),
		LoansActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loans_active",
			Help:      "Currently active loans",
		}),
		OrdersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orders_active",
			Help:      "Currently active stop orders",
		}),
		TriggerChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_checks_total",
			Help:      "Trigger evaluations by kind and result",
		}, []string{"kind", "result"}),
		LiquidationsExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_executed_total",
			Help:      "Total liquidations executed",
		}),
		OrdersExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_executed_total",
			Help:      "Total orders executed by trigger reason",
		}, []string{"reason"}),
		OrdersCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_cancelled_total",
			Help:      "Total orders cancelled",
		}),
		RatchetUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratchet_updates_total",
			Help:      "Trailing stop ratchet raises persisted",
		}),
		OracleErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_errors_total",
			Help:      "Oracle read failures by kind",
		}, []string{"kind"}),
		QuotesStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_stored_total",
			Help:      "Price quotes appended to the history store",
		}),
		KeeperSweeps: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keeper_sweeps_total",
			Help:      "Keeper sweep iterations",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "keeper_sweep_duration_seconds",
			Help:      "Duration of one keeper sweep",
			Buckets:   prometheus.DefBuckets,
		}),
		SweepErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keeper_sweep_errors_total",
			Help:      "Errors encountered during keeper sweeps",
		}),
	}
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
