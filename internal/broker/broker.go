// Package broker reconciles a local view of orders and positions against the
// authoritative order and fill state of an exchange.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exbroker/internal/metrics"
	"github.com/tathienbao/exbroker/internal/types"
)

// Journal persists order state. Failures are logged and never abort the
// operation that triggered the write.
type Journal interface {
	SaveOrder(ctx context.Context, o *Order) error
	SaveExecution(ctx context.Context, orderID string, e Execution) error
	SaveBalance(ctx context.Context, currency string, cash, value decimal.Decimal) error
	LiveOrders(ctx context.Context) ([]*Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status types.OrderStatus) error

	// Positions returns the position left by the latest journaled
	// execution in each symbol.
	Positions(ctx context.Context) (map[string]Position, error)
}

// Options configures a Broker.
type Options struct {
	// Currency selects the balance entry reported as cash and value.
	Currency string

	// Mapping overrides the default order-type and status vocabulary.
	Mapping Mapping

	// Reports, when set, is consumed between Start and Stop.
	Reports ReportSource

	Journal  Journal
	Recorder *metrics.Recorder
	Logger   *slog.Logger

	// Clock stamps executions whose report carries no trade time.
	Clock func() time.Time
}

// Broker tracks orders placed on an exchange and applies the fills the
// exchange reports for them.
type Broker struct {
	ex       Exchange
	mapping  Mapping
	currency string
	reports  ReportSource
	journal  Journal
	rec      *metrics.Recorder
	logger   *slog.Logger
	clock    func() time.Time

	// mu is the order-state lock. It serializes submit, cancel, report
	// application, balance refresh and recovery.
	mu        sync.Mutex
	orders    *orderTable
	positions map[string]*Position
	comm      map[string]CommissionInfo

	balMu      sync.RWMutex
	cash       decimal.Decimal
	value      decimal.Decimal
	startCash  decimal.Decimal
	startValue decimal.Decimal

	notifs notificationQueue

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a broker driving ex.
func New(ex Exchange, opts Options) *Broker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NewRecorder()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	mapping := DefaultMapping()
	if opts.Mapping.OrderTypes != nil || opts.Mapping.Closed.Key != "" || opts.Mapping.Canceled.Key != "" {
		mapping = mapping.With(opts.Mapping)
	}

	return &Broker{
		ex:        ex,
		mapping:   mapping,
		currency:  opts.Currency,
		reports:   opts.Reports,
		journal:   opts.Journal,
		rec:       opts.Recorder,
		logger:    opts.Logger,
		clock:     opts.Clock,
		orders:    newOrderTable(),
		positions: make(map[string]*Position),
		comm:      make(map[string]CommissionInfo),
	}
}

// Start refreshes the balance, records it as the starting balance and begins
// consuming execution reports. The consumer runs until Stop or ctx is done.
func (b *Broker) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if b.running {
		return types.ErrAlreadyStarted
	}

	if err := b.RefreshBalance(ctx); err != nil {
		return fmt.Errorf("initial balance: %w", err)
	}

	b.balMu.Lock()
	b.startCash, b.startValue = b.cash, b.value
	b.balMu.Unlock()

	done := make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)

	if b.reports != nil {
		ch, err := b.reports.Reports(runCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("subscribe reports: %w", err)
		}
		go b.consume(runCtx, ch, done)
	} else {
		close(done)
	}

	b.running = true
	b.cancel = cancel
	b.done = done

	b.logger.Info("broker started",
		"currency", b.currency,
		"cash", b.Cash(),
		"value", b.Value(),
	)
	return nil
}

// Stop halts report consumption, waits for the consumer to finish the report
// in hand and refreshes the balance one last time.
func (b *Broker) Stop(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if !b.running {
		return types.ErrNotStarted
	}

	b.cancel()
	select {
	case <-b.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.running = false

	if err := b.RefreshBalance(ctx); err != nil {
		return fmt.Errorf("final balance: %w", err)
	}

	b.logger.Info("broker stopped",
		"cash", b.Cash(),
		"value", b.Value(),
		"open_orders", len(b.LiveOrders()),
	)
	return nil
}

// Running reports whether the broker is between Start and Stop.
func (b *Broker) Running() bool {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.running
}

func (b *Broker) consume(ctx context.Context, ch <-chan ExecutionReport, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case rep, ok := <-ch:
			if !ok {
				b.logger.Warn("report source closed")
				return
			}
			b.OnExecutionReport(ctx, rep)
		}
	}
}

// Position returns a copy of the position held in symbol.
func (b *Broker) Position(symbol string) Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.positions[symbol]; ok {
		return *p
	}
	return Position{}
}

// LiveOrders returns snapshots of the orders awaiting a terminal status.
func (b *Broker) LiveOrders() []*Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orders.snapshot()
}

// OpenOrders queries the exchange for its open orders.
func (b *Broker) OpenOrders(ctx context.Context) ([]RawOrder, error) {
	orders, err := b.ex.FetchOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch open orders: %w", err)
	}
	return orders, nil
}

// SetCommissionInfo sets the commission scheme applied to fills in symbol.
func (b *Broker) SetCommissionInfo(symbol string, info CommissionInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.comm[symbol] = info
}

// PullNotification returns the oldest pending notification without blocking.
// It reports false when nothing is queued. A nil order with true is the
// iteration marker deposited by Next.
func (b *Broker) PullNotification() (*Order, bool) {
	o, ok := b.notifs.pop()
	b.rec.RecordQueueDepth(b.notifs.len())
	return o, ok
}

// Next marks an iteration boundary in the notification stream.
func (b *Broker) Next() {
	b.notifs.push(nil)
}

// notify enqueues a snapshot of o.
func (b *Broker) notify(o *Order) {
	b.notifs.push(o.Clone())
	b.rec.RecordQueueDepth(b.notifs.len())
}

// position returns the ledger entry for symbol, creating it when absent.
func (b *Broker) position(symbol string) *Position {
	p, ok := b.positions[symbol]
	if !ok {
		p = &Position{}
		b.positions[symbol] = p
	}
	return p
}

func (b *Broker) saveOrder(ctx context.Context, o *Order) {
	if b.journal == nil {
		return
	}
	if err := b.journal.SaveOrder(ctx, o); err != nil {
		b.logger.Error("failed to journal order", "order_id", o.ID, "err", err)
		b.rec.RecordError("journal")
	}
}
