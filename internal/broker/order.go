package broker

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exbroker/internal/types"
)

// Instrument is what an order trades, together with the clock that stamps
// its creation time. In a backtest replay the clock is the bar time.
type Instrument interface {
	Symbol() string
	Now() time.Time
}

type instrument struct {
	symbol string
	clock  func() time.Time
}

// NewInstrument returns an Instrument for symbol. A nil clock uses wall time.
func NewInstrument(symbol string, clock func() time.Time) Instrument {
	if clock == nil {
		clock = time.Now
	}
	return &instrument{symbol: symbol, clock: clock}
}

func (i *instrument) Symbol() string { return i.symbol }
func (i *instrument) Now() time.Time { return i.clock() }

// CommissionInfo describes how an instrument is charged. A non-zero margin
// marks a margin-based scheme.
type CommissionInfo struct {
	Margin     decimal.Decimal
	Multiplier decimal.Decimal
}

// IsMargin reports whether the scheme is margin based.
func (c CommissionInfo) IsMargin() bool {
	return !c.Margin.IsZero()
}

// Execution is the audit record of one applied fill.
type Execution struct {
	Time  time.Time
	Size  decimal.Decimal // opened + closed
	Price decimal.Decimal

	Closed      decimal.Decimal
	ClosedValue decimal.Decimal
	ClosedComm  decimal.Decimal

	Opened      decimal.Decimal
	OpenedValue decimal.Decimal
	OpenedComm  decimal.Decimal

	Margin decimal.Decimal
	PnL    decimal.Decimal

	PositionSize  decimal.Decimal
	PositionPrice decimal.Decimal
}

// Executed accumulates all executions of an order.
type Executed struct {
	Size      decimal.Decimal
	Price     decimal.Decimal // size-weighted average
	Value     decimal.Decimal
	Comm      decimal.Decimal
	PnL       decimal.Decimal
	Margin    decimal.Decimal
	Remaining decimal.Decimal
}

// Order is the locally tracked record of an exchange order.
type Order struct {
	ID         string
	Owner      string
	Instrument Instrument
	Symbol     string
	Side       types.Side
	Type       types.OrderType
	Size       decimal.Decimal
	Price      decimal.Decimal
	Status     types.OrderStatus
	Created    time.Time

	Raw        RawOrder
	Trades     []RawTrade
	Executions []Execution
	Executed   Executed
	Comm       CommissionInfo
}

// Alive reports whether the order can still receive fills.
func (o *Order) Alive() bool {
	return !o.Status.IsFinal()
}

func (o *Order) markPartial() {
	if o.Alive() {
		o.Status = types.OrderStatusPartialFill
	}
}

func (o *Order) markFilled() {
	if o.Alive() {
		o.Status = types.OrderStatusFilled
	}
}

func (o *Order) markCanceled() {
	if o.Alive() {
		o.Status = types.OrderStatusCanceled
	}
}

// execute records e and folds it into the running totals.
func (o *Order) execute(e Execution) {
	o.Executions = append(o.Executions, e)

	ex := &o.Executed
	newSize := ex.Size.Add(e.Size)
	if !newSize.IsZero() {
		ex.Price = ex.Price.Mul(ex.Size).Add(e.Price.Mul(e.Size)).Div(newSize)
	}
	ex.Size = newSize
	ex.Value = ex.Value.Add(e.ClosedValue).Add(e.OpenedValue)
	ex.Comm = ex.Comm.Add(e.ClosedComm).Add(e.OpenedComm)
	ex.PnL = ex.PnL.Add(e.PnL)
	ex.Margin = e.Margin

	ex.Remaining = o.Size.Sub(newSize)
	if ex.Remaining.IsNegative() {
		ex.Remaining = decimal.Zero
	}
}

// Clone returns a deep copy of o.
func (o *Order) Clone() *Order {
	c := *o
	c.Raw = o.Raw.Clone()
	if o.Trades != nil {
		c.Trades = append([]RawTrade(nil), o.Trades...)
	}
	if o.Executions != nil {
		c.Executions = append([]Execution(nil), o.Executions...)
	}
	return &c
}
