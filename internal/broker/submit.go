package broker

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exbroker/internal/types"
)

// Request describes an order to place.
type Request struct {
	Owner      string
	Instrument Instrument
	Side       types.Side
	Size       decimal.Decimal
	Price      decimal.Decimal
	Type       types.OrderType
	Params     Params
}

func (r Request) validate() error {
	if r.Instrument == nil || r.Instrument.Symbol() == "" {
		return types.ErrInvalidSymbol
	}
	if !r.Size.IsPositive() {
		return fmt.Errorf("%w: %s", types.ErrInvalidOrderSize, r.Size)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: %d", types.ErrInvalidOrderType, r.Type)
	}
	if !r.Side.Valid() {
		return fmt.Errorf("%w: %d", types.ErrInvalidSide, r.Side)
	}
	return nil
}

// orderParams builds the parameters sent with a new order. Parameters nested
// under "params" replace the outer map. The caller's map is never modified.
func orderParams(extra Params, createdMillis int64) Params {
	src := map[string]any(extra)
	switch nested := extra["params"].(type) {
	case Params:
		src = nested
	case map[string]any:
		src = nested
	}

	out := make(Params, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	out["created"] = createdMillis
	return out
}

// Submit places an order, re-fetches it for authoritative fields and starts
// tracking it. Exchange errors are returned before any local state changes.
func (b *Broker) Submit(ctx context.Context, req Request) (*Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	orderType, err := b.mapping.ExchangeType(req.Type)
	if err != nil {
		return nil, err
	}

	symbol := req.Instrument.Symbol()
	created := req.Instrument.Now()
	params := orderParams(req.Params, created.UnixMilli())

	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := b.ex.CreateOrder(ctx, symbol, orderType, req.Side, req.Size, req.Price, params)
	if err != nil {
		b.rec.RecordOrder(symbol, req.Side.String(), "error")
		return nil, fmt.Errorf("create order: %w", err)
	}

	fetched, err := b.ex.FetchOrder(ctx, raw.ID, symbol)
	if err != nil {
		b.rec.RecordOrder(symbol, req.Side.String(), "error")
		return nil, fmt.Errorf("fetch order %s: %w", raw.ID, err)
	}

	price := req.Price
	if !raw.Price.IsZero() {
		price = raw.Price
	}
	if !fetched.Price.IsZero() {
		price = fetched.Price
	}

	o := &Order{
		ID:         raw.ID,
		Owner:      req.Owner,
		Instrument: req.Instrument,
		Symbol:     symbol,
		Side:       req.Side,
		Type:       req.Type.Resolve(),
		Size:       req.Size,
		Price:      price,
		Status:     types.OrderStatusSubmitted,
		Created:    created,
		Raw:        fetched.Clone(),
		Comm:       b.comm[symbol],
		Executed:   Executed{Remaining: req.Size},
	}

	b.orders.put(o)
	b.notify(o)
	b.saveOrder(ctx, o)

	b.rec.RecordOrder(symbol, req.Side.String(), "submitted")
	b.rec.RecordOpenOrders(b.orders.len())

	b.logger.Info("order submitted",
		"order_id", o.ID,
		"symbol", symbol,
		"side", req.Side,
		"type", orderType,
		"size", req.Size,
		"price", price,
	)

	return o.Clone(), nil
}

// Buy submits a buy order.
func (b *Broker) Buy(ctx context.Context, owner string, inst Instrument, size, price decimal.Decimal, orderType types.OrderType, params Params) (*Order, error) {
	return b.Submit(ctx, Request{
		Owner:      owner,
		Instrument: inst,
		Side:       types.SideBuy,
		Size:       size,
		Price:      price,
		Type:       orderType,
		Params:     params,
	})
}

// Sell submits a sell order.
func (b *Broker) Sell(ctx context.Context, owner string, inst Instrument, size, price decimal.Decimal, orderType types.OrderType, params Params) (*Order, error) {
	return b.Submit(ctx, Request{
		Owner:      owner,
		Instrument: inst,
		Side:       types.SideSell,
		Size:       size,
		Price:      price,
		Type:       orderType,
		Params:     params,
	})
}
