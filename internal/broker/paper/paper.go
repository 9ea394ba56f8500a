// Package paper provides a simulated exchange for paper trading.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/exbroker/internal/broker"
	"github.com/tathienbao/exbroker/internal/types"
)

// Config holds paper trading configuration.
type Config struct {
	Currency       string
	InitialCash    decimal.Decimal
	CommissionRate decimal.Decimal // fraction of notional
	FillChunks     int
	FillDelay      time.Duration
}

// DefaultConfig returns default paper trading config.
func DefaultConfig() Config {
	return Config{
		Currency:       "USDT",
		InitialCash:    decimal.NewFromInt(10000),
		CommissionRate: decimal.RequireFromString("0.0004"), // binance futures taker
		FillChunks:     1,
		FillDelay:      50 * time.Millisecond,
	}
}

// Exchange simulates an exchange. Every order fills in FillChunks equal parts,
// one every FillDelay, at the last price set for its symbol or at its own
// price when no market price is known.
type Exchange struct {
	cfg    Config
	logger *slog.Logger

	state atomic.Int32

	// Account
	accountMu sync.RWMutex
	cash      decimal.Decimal
	positions map[string]*broker.Position

	// Orders
	ordersMu sync.RWMutex
	orders   map[string]*broker.RawOrder
	trades   []broker.RawTrade

	pricesMu sync.RWMutex
	prices   map[string]decimal.Decimal

	subsMu sync.RWMutex
	subs   map[*subscriber]struct{}

	// Shutdown
	done chan struct{}
	wg   sync.WaitGroup
}

type subscriber struct {
	ctx context.Context
	ch  chan broker.ExecutionReport
}

// New creates a new paper exchange.
func New(cfg Config, logger *slog.Logger) *Exchange {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FillChunks < 1 {
		cfg.FillChunks = 1
	}

	e := &Exchange{
		cfg:       cfg,
		logger:    logger,
		cash:      cfg.InitialCash,
		positions: make(map[string]*broker.Position),
		orders:    make(map[string]*broker.RawOrder),
		prices:    make(map[string]decimal.Decimal),
		subs:      make(map[*subscriber]struct{}),
		done:      make(chan struct{}),
	}
	e.state.Store(int32(broker.StateDisconnected))
	return e
}

// Connect simulates connecting to the exchange.
func (e *Exchange) Connect(ctx context.Context) error {
	e.state.Store(int32(broker.StateConnected))
	e.logger.Info("paper exchange connected",
		"cash", e.cfg.InitialCash,
		"currency", e.cfg.Currency,
	)
	return nil
}

// Disconnect stops pending fills and closes every report subscription.
func (e *Exchange) Disconnect() error {
	if broker.ConnectionState(e.state.Swap(int32(broker.StateDisconnected))) == broker.StateDisconnected {
		return nil
	}
	close(e.done)
	e.wg.Wait()
	e.logger.Info("paper exchange disconnected")
	return nil
}

// State returns connection state.
func (e *Exchange) State() broker.ConnectionState {
	return broker.ConnectionState(e.state.Load())
}

// IsConnected returns true if connected.
func (e *Exchange) IsConnected() bool {
	return e.State() == broker.StateConnected
}

// SetPrice sets the market price used for fills in symbol.
func (e *Exchange) SetPrice(symbol string, price decimal.Decimal) {
	e.pricesMu.Lock()
	e.prices[symbol] = price
	e.pricesMu.Unlock()
}

func (e *Exchange) price(symbol string, fallback decimal.Decimal) decimal.Decimal {
	e.pricesMu.RLock()
	defer e.pricesMu.RUnlock()
	if p, ok := e.prices[symbol]; ok {
		return p
	}
	return fallback
}

// CreateOrder accepts an order and schedules its fills.
func (e *Exchange) CreateOrder(ctx context.Context, symbol, orderType string, side types.Side, amount, price decimal.Decimal, params broker.Params) (*broker.RawOrder, error) {
	if !e.IsConnected() {
		return nil, broker.ErrNotConnected
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidOrderSize, amount)
	}

	now := time.Now()
	created := now
	if ms, ok := params["created"].(int64); ok {
		created = time.UnixMilli(ms)
	}
	clientID, _ := params["clientOrderId"].(string)
	if clientID == "" {
		clientID = uuid.NewString()
	}

	if orderType == "market" || price.IsZero() {
		price = e.price(symbol, price)
	}

	o := &broker.RawOrder{
		ID:            uuid.NewString(),
		ClientOrderID: clientID,
		Symbol:        symbol,
		Type:          orderType,
		Side:          side.String(),
		Amount:        amount,
		Price:         price,
		Remaining:     amount,
		Status:        "open",
		Timestamp:     created,
		Info:          map[string]any{"updateTime": now.UnixMilli()},
	}

	e.ordersMu.Lock()
	e.orders[o.ID] = o
	out := o.Clone()
	e.ordersMu.Unlock()

	e.logger.Info("paper order placed",
		"order_id", o.ID,
		"symbol", symbol,
		"side", side,
		"type", orderType,
		"amount", amount,
		"price", price,
	)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.simulateFills(o.ID)
	}()

	return &out, nil
}

// simulateFills fills the order in equal chunks until it is closed or
// canceled.
func (e *Exchange) simulateFills(id string) {
	for i := 0; i < e.cfg.FillChunks; i++ {
		select {
		case <-e.done:
			return
		case <-time.After(e.cfg.FillDelay):
		}

		rep, ok := e.fillChunk(id, i == e.cfg.FillChunks-1)
		if !ok {
			return
		}
		e.emit(rep)
	}
}

// fillChunk executes the next chunk of an open order. It reports false when
// the order is no longer open.
func (e *Exchange) fillChunk(id string, last bool) (broker.ExecutionReport, bool) {
	e.ordersMu.Lock()
	defer e.ordersMu.Unlock()

	o, ok := e.orders[id]
	if !ok || o.Status != "open" {
		return broker.ExecutionReport{}, false
	}

	qty := o.Amount.Div(decimal.NewFromInt(int64(e.cfg.FillChunks))).Truncate(8)
	if last || qty.GreaterThan(o.Remaining) {
		qty = o.Remaining
	}
	price := o.Price
	if o.Type == "market" {
		price = e.price(o.Symbol, o.Price)
	}

	side, _ := types.ParseSide(o.Side)
	fee := qty.Mul(price).Mul(e.cfg.CommissionRate)
	pnl := e.settle(o.Symbol, side.Signed(qty), price, fee)

	filled := o.Filled.Add(qty)
	o.Average = o.Average.Mul(o.Filled).Add(price.Mul(qty)).Div(filled)
	o.Filled = filled
	o.Remaining = o.Amount.Sub(filled)

	status := broker.StatusPartiallyFilled
	if o.Remaining.IsZero() {
		o.Status = "closed"
		status = broker.StatusFilled
	}

	now := time.Now()
	trade := broker.RawTrade{
		ID:        uuid.NewString(),
		Order:     o.ID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Amount:    qty,
		Price:     price,
		Fee:       broker.Fee{Cost: fee, Currency: e.cfg.Currency},
		Timestamp: now,
	}
	e.trades = append(e.trades, trade)
	o.Trades = append(o.Trades, trade)

	e.logger.Info("paper order filled",
		"order_id", o.ID,
		"symbol", o.Symbol,
		"side", o.Side,
		"qty", qty,
		"price", price,
		"commission", fee,
		"status", status,
	)

	reportSide := broker.ReportSideBuy
	if side == types.SideSell {
		reportSide = broker.ReportSideSell
	}
	return broker.ExecutionReport{
		Symbol:          o.Symbol,
		OrderID:         o.ID,
		ClientOrderID:   o.ClientOrderID,
		ExecType:        broker.ExecTypeTrade,
		Status:          status,
		Side:            reportSide,
		LastQty:         qty,
		LastPrice:       price,
		RealizedPnL:     pnl,
		Commission:      &fee,
		CommissionAsset: e.cfg.Currency,
		TradeTime:       now,
	}, true
}

// settle books a signed fill against the account and returns the realized
// P&L of its closing part.
func (e *Exchange) settle(symbol string, size, price, fee decimal.Decimal) decimal.Decimal {
	e.accountMu.Lock()
	defer e.accountMu.Unlock()

	pos, ok := e.positions[symbol]
	if !ok {
		pos = &broker.Position{}
		e.positions[symbol] = pos
	}

	old := *pos
	upd := pos.Update(size, price)

	pnl := decimal.Zero
	if !upd.Closed.IsZero() {
		pnl = price.Sub(old.Price).Mul(upd.Closed).Mul(decimal.NewFromInt(int64(old.Size.Sign())))
	}

	e.cash = e.cash.Sub(size.Mul(price)).Sub(fee)
	return pnl
}

// CancelOrder cancels an open order.
func (e *Exchange) CancelOrder(ctx context.Context, id, symbol string) (*broker.RawOrder, error) {
	if !e.IsConnected() {
		return nil, broker.ErrNotConnected
	}

	e.ordersMu.Lock()
	o, ok := e.orders[id]
	if !ok {
		e.ordersMu.Unlock()
		return nil, fmt.Errorf("order %s: %w", id, types.ErrOrderNotFound)
	}
	canceled := o.Status == "open"
	if canceled {
		o.Status = "canceled"
	}
	out := o.Clone()
	e.ordersMu.Unlock()

	if canceled {
		e.logger.Info("paper order canceled", "order_id", id)
		rep := broker.ExecutionReport{
			Symbol:        out.Symbol,
			OrderID:       id,
			ClientOrderID: out.ClientOrderID,
			ExecType:      broker.ExecTypeCanceled,
			Status:        broker.StatusCanceled,
			TradeTime:     time.Now(),
		}

		// The caller may hold a lock the report consumer is waiting on.
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.emit(rep)
		}()
	}
	return &out, nil
}

// FetchOrder returns the current state of an order.
func (e *Exchange) FetchOrder(ctx context.Context, id, symbol string) (*broker.RawOrder, error) {
	e.ordersMu.RLock()
	defer e.ordersMu.RUnlock()

	o, ok := e.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, types.ErrOrderNotFound)
	}
	out := o.Clone()
	return &out, nil
}

// FetchOpenOrders returns open orders.
func (e *Exchange) FetchOpenOrders(ctx context.Context) ([]broker.RawOrder, error) {
	e.ordersMu.RLock()
	defer e.ordersMu.RUnlock()

	var orders []broker.RawOrder
	for _, o := range e.orders {
		if o.Status == "open" {
			orders = append(orders, o.Clone())
		}
	}
	return orders, nil
}

// FetchMyTrades returns the account's trades in symbol.
func (e *Exchange) FetchMyTrades(ctx context.Context, symbol string) ([]broker.RawTrade, error) {
	e.ordersMu.RLock()
	defer e.ordersMu.RUnlock()

	var trades []broker.RawTrade
	for _, t := range e.trades {
		if t.Symbol == symbol {
			trades = append(trades, t)
		}
	}
	return trades, nil
}

// FetchBalance returns cash as the free balance and cash plus marked
// positions as the total.
func (e *Exchange) FetchBalance(ctx context.Context) (*broker.Balance, error) {
	e.accountMu.RLock()
	defer e.accountMu.RUnlock()

	total := e.cash
	for symbol, pos := range e.positions {
		total = total.Add(pos.Size.Mul(e.price(symbol, pos.Price)))
	}

	return &broker.Balance{
		Free:  map[string]decimal.Decimal{e.cfg.Currency: e.cash},
		Total: map[string]decimal.Decimal{e.cfg.Currency: total},
	}, nil
}

// CallPrivate serves the few raw endpoints a paper account has.
func (e *Exchange) CallPrivate(ctx context.Context, method string, params broker.Params) (map[string]any, error) {
	switch method {
	case "private_getbalance":
		bal, _ := e.FetchBalance(ctx)
		return map[string]any{
			"free":  bal.Free[e.cfg.Currency].String(),
			"total": bal.Total[e.cfg.Currency].String(),
		}, nil
	case "private_getopenorders":
		open, _ := e.FetchOpenOrders(ctx)
		ids := make([]string, 0, len(open))
		for _, o := range open {
			ids = append(ids, o.ID)
		}
		return map[string]any{"orders": ids}, nil
	default:
		return nil, fmt.Errorf("%s: %w", method, types.ErrUnsupported)
	}
}

// Reports subscribes to execution reports. The channel is closed when ctx is
// done or the exchange disconnects.
func (e *Exchange) Reports(ctx context.Context) (<-chan broker.ExecutionReport, error) {
	if !e.IsConnected() {
		return nil, broker.ErrNotConnected
	}

	sub := &subscriber{ctx: ctx, ch: make(chan broker.ExecutionReport, 256)}
	e.subsMu.Lock()
	e.subs[sub] = struct{}{}
	e.subsMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-e.done:
		}
		e.subsMu.Lock()
		delete(e.subs, sub)
		close(sub.ch)
		e.subsMu.Unlock()
	}()

	return sub.ch, nil
}

// Inject delivers rep to every subscriber as if the exchange had sent it.
// Useful for replaying duplicate or foreign reports.
func (e *Exchange) Inject(rep broker.ExecutionReport) {
	e.emit(rep)
}

func (e *Exchange) emit(rep broker.ExecutionReport) {
	e.subsMu.RLock()
	defer e.subsMu.RUnlock()

	for sub := range e.subs {
		select {
		case sub.ch <- rep:
		case <-sub.ctx.Done():
		case <-e.done:
		}
	}
}

var (
	_ broker.Exchange      = (*Exchange)(nil)
	_ broker.ReportSource  = (*Exchange)(nil)
	_ broker.PrivateCaller = (*Exchange)(nil)
)
