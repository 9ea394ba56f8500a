package broker

import (
	"fmt"
	"strings"

	"github.com/tathienbao/exbroker/internal/types"
)

// Predicate tests one field of a raw order against an expected value.
type Predicate struct {
	Key   string
	Value any
}

// Match reports whether o carries Key with a value equal to Value. Values are
// compared by their printed form so 1 matches "1".
func (p Predicate) Match(o *RawOrder) bool {
	v, ok := o.Field(p.Key)
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == fmt.Sprint(p.Value)
}

// Mapping translates abstract order types and status predicates into an
// exchange's vocabulary.
type Mapping struct {
	OrderTypes map[types.OrderType]string
	Closed     Predicate
	Canceled   Predicate
}

// DefaultMapping returns the unified vocabulary most exchanges accept.
func DefaultMapping() Mapping {
	return Mapping{
		OrderTypes: map[types.OrderType]string{
			types.OrderTypeMarket:    "market",
			types.OrderTypeLimit:     "limit",
			types.OrderTypeStop:      "stop",
			types.OrderTypeStopLimit: "stop limit",
		},
		Closed:   Predicate{Key: "status", Value: "closed"},
		Canceled: Predicate{Key: "status", Value: "canceled"},
	}
}

// PresetMapping returns the mapping for a named exchange.
func PresetMapping(name string) (Mapping, error) {
	m := DefaultMapping()
	switch strings.ToLower(name) {
	case "", "default":
	case "binance":
		m.OrderTypes[types.OrderTypeStop] = "stop_market"
		m.OrderTypes[types.OrderTypeStopLimit] = "stop"
	case "kraken":
		m.OrderTypes[types.OrderTypeStop] = "stop-loss"
		m.OrderTypes[types.OrderTypeStopLimit] = "stop-loss-limit"
		m.Canceled = Predicate{Key: "result", Value: 1}
	case "bitmex":
		m.OrderTypes[types.OrderTypeStop] = "stop"
		m.OrderTypes[types.OrderTypeStopLimit] = "stoplimit"
	default:
		return Mapping{}, fmt.Errorf("%w: unknown mapping preset %q", types.ErrInvalidConfig, name)
	}
	return m, nil
}

// ExchangeType resolves t (unset means market) to the exchange's name for it.
func (m Mapping) ExchangeType(t types.OrderType) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("%w: %d", types.ErrInvalidOrderType, t)
	}
	name, ok := m.OrderTypes[t.Resolve()]
	if !ok || name == "" {
		return "", fmt.Errorf("%w: %s not mapped", types.ErrInvalidOrderType, t.Resolve())
	}
	return name, nil
}

// With returns a copy of m with every non-empty field of o applied on top.
func (m Mapping) With(o Mapping) Mapping {
	out := Mapping{
		OrderTypes: make(map[types.OrderType]string, len(m.OrderTypes)),
		Closed:     m.Closed,
		Canceled:   m.Canceled,
	}
	for k, v := range m.OrderTypes {
		out.OrderTypes[k] = v
	}
	for k, v := range o.OrderTypes {
		if v != "" {
			out.OrderTypes[k] = v
		}
	}
	if o.Closed.Key != "" {
		out.Closed = o.Closed
	}
	if o.Canceled.Key != "" {
		out.Canceled = o.Canceled
	}
	return out
}
