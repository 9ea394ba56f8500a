package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exbroker/internal/broker"
	"github.com/tathienbao/exbroker/internal/metrics"
	"github.com/tathienbao/exbroker/internal/types"
)

// Observed records the latency and outcome of every exchange call.
type Observed struct {
	next broker.Exchange
	rec  *metrics.Recorder
}

// NewObserved wraps next. A nil recorder uses the default collectors.
func NewObserved(next broker.Exchange, rec *metrics.Recorder) *Observed {
	if rec == nil {
		rec = metrics.NewRecorder()
	}
	return &Observed{next: next, rec: rec}
}

func (o *Observed) observe(op string, start time.Time, err error) {
	o.rec.RecordExchangeCall(op, time.Since(start), err)
}

func (o *Observed) CreateOrder(ctx context.Context, symbol, orderType string, side types.Side, amount, price decimal.Decimal, params broker.Params) (*broker.RawOrder, error) {
	start := time.Now()
	raw, err := o.next.CreateOrder(ctx, symbol, orderType, side, amount, price, params)
	o.observe("create_order", start, err)
	return raw, err
}

func (o *Observed) FetchOrder(ctx context.Context, id, symbol string) (*broker.RawOrder, error) {
	start := time.Now()
	raw, err := o.next.FetchOrder(ctx, id, symbol)
	o.observe("fetch_order", start, err)
	return raw, err
}

func (o *Observed) CancelOrder(ctx context.Context, id, symbol string) (*broker.RawOrder, error) {
	start := time.Now()
	raw, err := o.next.CancelOrder(ctx, id, symbol)
	o.observe("cancel_order", start, err)
	return raw, err
}

func (o *Observed) FetchOpenOrders(ctx context.Context) ([]broker.RawOrder, error) {
	start := time.Now()
	orders, err := o.next.FetchOpenOrders(ctx)
	o.observe("fetch_open_orders", start, err)
	return orders, err
}

func (o *Observed) FetchMyTrades(ctx context.Context, symbol string) ([]broker.RawTrade, error) {
	start := time.Now()
	trades, err := o.next.FetchMyTrades(ctx, symbol)
	o.observe("fetch_my_trades", start, err)
	return trades, err
}

func (o *Observed) FetchBalance(ctx context.Context) (*broker.Balance, error) {
	start := time.Now()
	bal, err := o.next.FetchBalance(ctx)
	o.observe("fetch_balance", start, err)
	return bal, err
}

// CallPrivate forwards to the wrapped exchange when it exposes raw endpoints.
func (o *Observed) CallPrivate(ctx context.Context, method string, params broker.Params) (map[string]any, error) {
	pc, ok := o.next.(broker.PrivateCaller)
	if !ok {
		return nil, types.ErrUnsupported
	}
	start := time.Now()
	resp, err := pc.CallPrivate(ctx, method, params)
	o.observe("call_private", start, err)
	return resp, err
}

var (
	_ broker.Exchange      = (*Observed)(nil)
	_ broker.PrivateCaller = (*Observed)(nil)
)
