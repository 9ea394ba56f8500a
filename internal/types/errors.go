package types

import "errors"

// Sentinel errors for the broker core.
var (
	// Order validation errors
	ErrInvalidOrderSize = errors.New("invalid order size")
	ErrInvalidOrderType = errors.New("invalid order type")
	ErrInvalidSide      = errors.New("invalid order side")
	ErrInvalidSymbol    = errors.New("invalid symbol")

	// State errors
	ErrOrderNotFound  = errors.New("order not found")
	ErrNotStarted     = errors.New("broker not started")
	ErrAlreadyStarted = errors.New("broker already started")

	// Capability errors
	ErrUnsupported = errors.New("operation not supported by exchange")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
)
