// Package metrics provides Prometheus instrumentation for the broker core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "exbroker"

// Order lifecycle.
var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_total",
		Help:      "Orders submitted, by symbol, side and outcome.",
	}, []string{"symbol", "side", "status"})

	CancelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cancels_total",
		Help:      "Cancel requests by outcome (canceled, already_closed, declined, error).",
	}, []string{"symbol", "outcome"})

	OpenOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_orders",
		Help:      "Orders currently held in the open-order table.",
	})
)

// Fill reconciliation.
var (
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fills_total",
		Help:      "Execution reports applied to the position ledger.",
	}, []string{"symbol", "side", "status"})

	ReportsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reports_discarded_total",
		Help:      "Execution reports ignored, by reason.",
	}, []string{"reason"})

	PositionSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "position_size",
		Help:      "Signed net position per symbol.",
	}, []string{"symbol"})

	RealizedPnL = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realized_pnl_events_total",
		Help:      "Fills that realized profit or loss, by outcome.",
	}, []string{"symbol", "outcome"})
)

// Account.
var (
	Cash = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cash",
		Help:      "Last refreshed free balance in the account currency.",
	})

	Value = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "value",
		Help:      "Last refreshed total balance in the account currency.",
	})

	BalanceRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "balance_refreshes_total",
		Help:      "Balance queries issued to the exchange.",
	})
)

// Connectivity.
var (
	ExchangeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "exchange_request_seconds",
		Help:      "Exchange request latency by operation.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"op"})

	ExchangeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "exchange_errors_total",
		Help:      "Failed exchange requests by operation.",
	}, []string{"op"})

	StreamConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_connected",
		Help:      "1 when the execution-report stream is connected.",
	})

	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_reconnects_total",
		Help:      "Execution-report stream reconnect attempts.",
	})

	NotificationsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "notifications_queued",
		Help:      "Notifications waiting to be pulled by the caller.",
	})
)

// System.
var (
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Non-fatal errors by type.",
	}, []string{"type"})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information.",
	}, []string{"version", "commit", "build_time"})
)

// SetBuildInfo publishes the build labels.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
