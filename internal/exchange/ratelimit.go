// Package exchange provides decorators around a broker.Exchange: request
// rate limiting and per-call latency and error metrics.
package exchange

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exbroker/internal/broker"
	"github.com/tathienbao/exbroker/internal/types"
	"golang.org/x/time/rate"
)

// RateLimited spaces out requests to an exchange. Calls wait for a token
// instead of failing; a canceled context ends the wait with ErrRateLimited.
type RateLimited struct {
	next    broker.Exchange
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond requests per second with an equal burst.
func NewRateLimited(next broker.Exchange, perSecond int) *RateLimited {
	if perSecond < 1 {
		perSecond = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
}

func (r *RateLimited) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", broker.ErrRateLimited, err)
	}
	return nil
}

func (r *RateLimited) CreateOrder(ctx context.Context, symbol, orderType string, side types.Side, amount, price decimal.Decimal, params broker.Params) (*broker.RawOrder, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.CreateOrder(ctx, symbol, orderType, side, amount, price, params)
}

func (r *RateLimited) FetchOrder(ctx context.Context, id, symbol string) (*broker.RawOrder, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.FetchOrder(ctx, id, symbol)
}

func (r *RateLimited) CancelOrder(ctx context.Context, id, symbol string) (*broker.RawOrder, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.CancelOrder(ctx, id, symbol)
}

func (r *RateLimited) FetchOpenOrders(ctx context.Context) ([]broker.RawOrder, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.FetchOpenOrders(ctx)
}

func (r *RateLimited) FetchMyTrades(ctx context.Context, symbol string) ([]broker.RawTrade, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.FetchMyTrades(ctx, symbol)
}

func (r *RateLimited) FetchBalance(ctx context.Context) (*broker.Balance, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.FetchBalance(ctx)
}

// CallPrivate forwards to the wrapped exchange when it exposes raw endpoints.
func (r *RateLimited) CallPrivate(ctx context.Context, method string, params broker.Params) (map[string]any, error) {
	pc, ok := r.next.(broker.PrivateCaller)
	if !ok {
		return nil, types.ErrUnsupported
	}
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return pc.CallPrivate(ctx, method, params)
}

var (
	_ broker.Exchange      = (*RateLimited)(nil)
	_ broker.PrivateCaller = (*RateLimited)(nil)
)
