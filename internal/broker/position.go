package broker

import (
	"github.com/shopspring/decimal"
)

// Position is the running net position in one instrument.
type Position struct {
	Size  decimal.Decimal // signed: positive long, negative short
	Price decimal.Decimal // average entry price, zero when flat
}

// PositionUpdate is the outcome of applying one fill to a position. Opened
// and Closed are unsigned quantities; their sum is the fill size.
type PositionUpdate struct {
	Size   decimal.Decimal
	Price  decimal.Decimal
	Opened decimal.Decimal
	Closed decimal.Decimal
}

// Update applies a signed fill of size at price and reports how much of it
// increased exposure (opened) and how much reduced it (closed).
func (p *Position) Update(size, price decimal.Decimal) PositionUpdate {
	old := p.Size
	p.Size = old.Add(size)

	var opened, closed decimal.Decimal
	switch {
	case p.Size.IsZero():
		closed = size.Abs()
		p.Price = decimal.Zero
	case old.IsZero():
		opened = size.Abs()
		p.Price = price
	case old.Sign() == size.Sign():
		opened = size.Abs()
		p.Price = p.Price.Mul(old).Add(price.Mul(size)).Div(p.Size)
	case old.Sign() == p.Size.Sign():
		// reduced, average entry unchanged
		closed = size.Abs()
	default:
		// crossed zero: the old exposure is closed and the remainder opens
		// a new position at the fill price
		opened = p.Size.Abs()
		closed = old.Abs()
		p.Price = price
	}

	return PositionUpdate{
		Size:   p.Size,
		Price:  p.Price,
		Opened: opened,
		Closed: closed,
	}
}

// IsFlat reports whether the position holds nothing.
func (p Position) IsFlat() bool {
	return p.Size.IsZero()
}
