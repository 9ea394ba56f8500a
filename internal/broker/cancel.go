package broker

import (
	"context"
	"fmt"
)

// Cancel cancels o on the exchange. An order the exchange already reports
// closed is returned unchanged without a cancel request. When the exchange
// declines the cancel the order stays tracked and is returned unchanged.
func (b *Broker) Cancel(ctx context.Context, o *Order) (*Order, error) {
	if o == nil {
		return nil, fmt.Errorf("cancel: nil order")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.ex.FetchOrder(ctx, o.ID, o.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", o.ID, err)
	}
	if b.mapping.Closed.Match(current) {
		b.rec.RecordCancel(o.Symbol, "already_closed")
		b.logger.Debug("cancel skipped, order already closed", "order_id", o.ID)
		return o, nil
	}

	resp, err := b.ex.CancelOrder(ctx, o.ID, o.Symbol)
	if err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", o.ID, err)
	}
	if !b.mapping.Canceled.Match(resp) {
		b.rec.RecordCancel(o.Symbol, "declined")
		b.logger.Warn("cancel declined by exchange",
			"order_id", o.ID,
			"status", resp.Status,
		)
		return o, nil
	}

	target, ok := b.orders.get(o.ID)
	if !ok {
		target = o.Clone()
	}
	b.orders.remove(o.ID)
	target.markCanceled()
	target.Raw = resp.Clone()

	b.notify(target)
	b.saveOrder(ctx, target)

	b.rec.RecordCancel(o.Symbol, "canceled")
	b.rec.RecordOpenOrders(b.orders.len())
	b.logger.Info("order canceled", "order_id", o.ID, "symbol", o.Symbol)

	return target.Clone(), nil
}
