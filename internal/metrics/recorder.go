package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordOrder records an order submission outcome.
func (r *Recorder) RecordOrder(symbol, side, status string) {
	OrdersTotal.WithLabelValues(symbol, side, status).Inc()
}

// RecordCancel records a cancel outcome.
func (r *Recorder) RecordCancel(symbol, outcome string) {
	CancelsTotal.WithLabelValues(symbol, outcome).Inc()
}

// RecordOpenOrders records the size of the open-order table.
func (r *Recorder) RecordOpenOrders(n int) {
	OpenOrders.Set(float64(n))
}

// RecordFill records an applied fill and the resulting position.
func (r *Recorder) RecordFill(symbol, side, status string, position, pnl decimal.Decimal) {
	FillsTotal.WithLabelValues(symbol, side, status).Inc()
	PositionSize.WithLabelValues(symbol).Set(position.InexactFloat64())

	switch pnl.Sign() {
	case 1:
		RealizedPnL.WithLabelValues(symbol, "win").Inc()
	case -1:
		RealizedPnL.WithLabelValues(symbol, "loss").Inc()
	}
}

// RecordDiscarded records an ignored execution report.
func (r *Recorder) RecordDiscarded(reason string) {
	ReportsDiscarded.WithLabelValues(reason).Inc()
}

// RecordBalance records a refreshed balance.
func (r *Recorder) RecordBalance(cash, value decimal.Decimal) {
	BalanceRefreshes.Inc()
	Cash.Set(cash.InexactFloat64())
	Value.Set(value.InexactFloat64())
}

// RecordExchangeCall records the latency and outcome of an exchange request.
func (r *Recorder) RecordExchangeCall(op string, duration time.Duration, err error) {
	ExchangeLatency.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		ExchangeErrors.WithLabelValues(op).Inc()
	}
}

// RecordStreamStatus records stream connection status.
func (r *Recorder) RecordStreamStatus(connected bool) {
	if connected {
		StreamConnected.Set(1)
	} else {
		StreamConnected.Set(0)
	}
}

// RecordStreamReconnect records a reconnect attempt.
func (r *Recorder) RecordStreamReconnect() {
	StreamReconnects.Inc()
}

// RecordQueueDepth records the notification backlog.
func (r *Recorder) RecordQueueDepth(n int) {
	NotificationsQueued.Set(float64(n))
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveExchange observes the elapsed time as latency of op.
func (t *Timer) ObserveExchange(op string, err error) {
	NewRecorder().RecordExchangeCall(op, t.Elapsed(), err)
}
