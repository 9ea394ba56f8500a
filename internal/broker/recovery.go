package broker

import (
	"context"
	"fmt"

	"github.com/tathienbao/exbroker/internal/types"
)

// Recover restores the position ledger from the journal and re-adopts orders
// the journal still lists as live. Symbols the ledger already tracks keep
// their in-memory position. Each live order is re-fetched; orders the
// exchange reports neither closed nor canceled are put back in the open-order
// table without a notification, the rest are marked terminal in the journal.
// It returns the number of orders re-adopted.
func (b *Broker) Recover(ctx context.Context) (int, error) {
	if b.journal == nil {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	positions, err := b.journal.Positions(ctx)
	if err != nil {
		return 0, fmt.Errorf("load positions: %w", err)
	}
	for symbol, p := range positions {
		if _, ok := b.positions[symbol]; ok {
			continue
		}
		pos := p
		b.positions[symbol] = &pos
		b.logger.Info("position restored",
			"symbol", symbol,
			"size", pos.Size,
			"price", pos.Price,
		)
	}

	saved, err := b.journal.LiveOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("load live orders: %w", err)
	}

	adopted := 0
	for _, o := range saved {
		if _, ok := b.orders.get(o.ID); ok {
			continue
		}

		raw, err := b.ex.FetchOrder(ctx, o.ID, o.Symbol)
		if err != nil {
			return adopted, fmt.Errorf("fetch order %s: %w", o.ID, err)
		}

		var final types.OrderStatus
		switch {
		case b.mapping.Canceled.Match(raw):
			final = types.OrderStatusCanceled
		case b.mapping.Closed.Match(raw):
			final = types.OrderStatusFilled
		}
		if final != types.OrderStatusCreated {
			if err := b.journal.UpdateOrderStatus(ctx, o.ID, final); err != nil {
				b.logger.Error("failed to journal order status", "order_id", o.ID, "err", err)
				b.rec.RecordError("journal")
			}
			b.logger.Info("journaled order closed while offline",
				"order_id", o.ID,
				"status", final,
			)
			continue
		}

		if o.Instrument == nil {
			o.Instrument = NewInstrument(o.Symbol, b.clock)
		}
		o.Raw = raw.Clone()
		b.orders.put(o)
		adopted++

		b.logger.Info("order recovered",
			"order_id", o.ID,
			"symbol", o.Symbol,
			"status", o.Status,
		)
	}

	b.rec.RecordOpenOrders(b.orders.len())
	return adopted, nil
}
