package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OnExecutionReport applies one execution report. Reports for orders not in
// the open-order table, non-trade executions and statuses other than
// partially filled or filled are discarded, which makes redelivery harmless.
func (b *Broker) OnExecutionReport(ctx context.Context, rep ExecutionReport) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders.get(rep.OrderID)
	if !ok {
		b.discard(rep, "unknown_order")
		return
	}
	if rep.ExecType != ExecTypeTrade {
		b.discard(rep, "non_trade")
		return
	}
	if rep.Status != StatusPartiallyFilled && rep.Status != StatusFilled {
		b.discard(rep, "non_fill_status")
		return
	}

	size := rep.LastQty.Abs()
	if rep.Side != ReportSideBuy {
		size = size.Neg()
	}
	price := rep.LastPrice

	pos := b.position(o.Symbol)
	upd := pos.Update(size, price)

	comm := decimal.Zero
	if rep.Commission != nil {
		comm = *rep.Commission
	}
	closedComm, openedComm := splitCommission(comm, upd.Closed, upd.Opened)

	if rep.Status == StatusFilled {
		o.markFilled()
		b.orders.remove(o.ID)
	} else {
		o.markPartial()
	}

	trades, err := b.orderTrades(ctx, o.ID, o.Symbol)
	if err != nil {
		b.logger.Warn("failed to refetch order trades", "order_id", o.ID, "err", err)
		b.rec.RecordError("trade_refetch")
	} else {
		o.Trades = trades
	}

	ci := b.comm[o.Symbol]
	o.Comm = ci
	margin := decimal.Zero
	if ci.IsMargin() {
		margin = ci.Margin
	}

	e := Execution{
		Time:          b.executionTime(rep, o),
		Size:          upd.Opened.Add(upd.Closed),
		Price:         price,
		Closed:        upd.Closed,
		ClosedValue:   price.Mul(upd.Closed),
		ClosedComm:    closedComm,
		Opened:        upd.Opened,
		OpenedValue:   price.Mul(upd.Opened),
		OpenedComm:    openedComm,
		Margin:        margin,
		PnL:           rep.RealizedPnL,
		PositionSize:  upd.Size,
		PositionPrice: upd.Price,
	}
	o.execute(e)

	b.notify(o)

	b.rec.RecordFill(o.Symbol, o.Side.String(), rep.Status, upd.Size, rep.RealizedPnL)
	b.rec.RecordOpenOrders(b.orders.len())
	b.logger.Info("fill applied",
		"order_id", o.ID,
		"symbol", o.Symbol,
		"status", rep.Status,
		"qty", size,
		"price", price,
		"position", upd.Size,
		"avg_price", upd.Price,
	)

	if b.journal != nil {
		if err := b.journal.SaveExecution(ctx, o.ID, e); err != nil {
			b.logger.Error("failed to journal execution", "order_id", o.ID, "err", err)
			b.rec.RecordError("journal")
		}
	}
	b.saveOrder(ctx, o)

	if err := b.refreshBalanceLocked(ctx); err != nil {
		b.logger.Warn("balance refresh after fill failed", "order_id", o.ID, "err", err)
		b.rec.RecordError("balance_refresh")
	}
}

func (b *Broker) discard(rep ExecutionReport, reason string) {
	b.rec.RecordDiscarded(reason)
	b.logger.Debug("execution report discarded",
		"order_id", rep.OrderID,
		"exec_type", rep.ExecType,
		"status", rep.Status,
		"reason", reason,
	)
}

// splitCommission attributes comm to the closed and opened parts of a fill in
// proportion to their quantities.
func splitCommission(comm, closed, opened decimal.Decimal) (closedComm, openedComm decimal.Decimal) {
	switch {
	case opened.IsZero() && closed.IsZero():
		return decimal.Zero, decimal.Zero
	case opened.IsZero():
		return comm, decimal.Zero
	case closed.IsZero():
		return decimal.Zero, comm
	}
	closedComm = comm.Mul(closed).Div(closed.Add(opened))
	return closedComm, comm.Sub(closedComm)
}

// orderTrades returns the account trades in symbol that belong to order id.
func (b *Broker) orderTrades(ctx context.Context, id, symbol string) ([]RawTrade, error) {
	all, err := b.ex.FetchMyTrades(ctx, symbol)
	if err != nil {
		return nil, err
	}
	var out []RawTrade
	for _, t := range all {
		if t.Order == id {
			out = append(out, t)
		}
	}
	return out, nil
}

func (b *Broker) executionTime(rep ExecutionReport, o *Order) time.Time {
	if !rep.TradeTime.IsZero() {
		return rep.TradeTime
	}
	if !o.Raw.Timestamp.IsZero() {
		return o.Raw.Timestamp
	}
	return b.clock()
}
