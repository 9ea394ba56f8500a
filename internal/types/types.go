// Package types defines shared types used across the broker core.
package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order or fill.
type Side int

const (
	SideNone Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "none"
	}
}

// Valid reports whether s is buy or sell.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Signed returns qty with the sign of the side: positive for buys,
// negative for sells.
func (s Side) Signed(qty decimal.Decimal) decimal.Decimal {
	if s == SideSell {
		return qty.Abs().Neg()
	}
	return qty.Abs()
}

// ParseSide parses "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	default:
		return SideNone, fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// OrderType is the abstract execution type of an order. The zero value
// means unset and resolves to market.
type OrderType int

const (
	OrderTypeUnset OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	OrderTypeStop
	OrderTypeStopLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "market"
	case OrderTypeLimit:
		return "limit"
	case OrderTypeStop:
		return "stop"
	case OrderTypeStopLimit:
		return "stop-limit"
	case OrderTypeUnset:
		return "unset"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the supported types or unset.
func (t OrderType) Valid() bool {
	return t >= OrderTypeUnset && t <= OrderTypeStopLimit
}

// Resolve returns market for the unset type and t otherwise.
func (t OrderType) Resolve() OrderType {
	if t == OrderTypeUnset {
		return OrderTypeMarket
	}
	return t
}

// ParseOrderType parses an abstract order type name.
func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unset":
		return OrderTypeUnset, nil
	case "market":
		return OrderTypeMarket, nil
	case "limit":
		return OrderTypeLimit, nil
	case "stop":
		return OrderTypeStop, nil
	case "stop-limit", "stop_limit", "stoplimit":
		return OrderTypeStopLimit, nil
	default:
		return OrderTypeUnset, fmt.Errorf("%w: %q", ErrInvalidOrderType, s)
	}
}

// OrderStatus represents the local state of an order.
type OrderStatus int

const (
	OrderStatusCreated OrderStatus = iota
	OrderStatusSubmitted
	OrderStatusPartialFill
	OrderStatusFilled
	OrderStatusCanceled
	OrderStatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusCreated:
		return "CREATED"
	case OrderStatusSubmitted:
		return "SUBMITTED"
	case OrderStatusPartialFill:
		return "PARTIAL_FILL"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCanceled:
		return "CANCELED"
	case OrderStatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// IsFinal returns true if the order is in a terminal state.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}
