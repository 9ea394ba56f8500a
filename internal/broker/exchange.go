package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exbroker/internal/types"
)

// Connectivity errors.
var (
	ErrNotConnected = errors.New("exchange not connected")
	ErrRateLimited  = errors.New("rate limited by exchange")
)

// ConnectionState represents the connection state of an exchange or report
// stream.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Exchange is the connectivity collaborator the broker drives. Implementations
// own transport, signing, retries and rate limits; the broker calls each
// method once per pipeline step and propagates any error unchanged.
type Exchange interface {
	CreateOrder(ctx context.Context, symbol, orderType string, side types.Side, amount, price decimal.Decimal, params Params) (*RawOrder, error)
	FetchOrder(ctx context.Context, id, symbol string) (*RawOrder, error)
	CancelOrder(ctx context.Context, id, symbol string) (*RawOrder, error)
	FetchOpenOrders(ctx context.Context) ([]RawOrder, error)
	FetchMyTrades(ctx context.Context, symbol string) ([]RawTrade, error)
	FetchBalance(ctx context.Context) (*Balance, error)
}

// ReportSource delivers execution reports from an exchange stream. The
// returned channel is closed when ctx is done or the source gives up.
type ReportSource interface {
	Reports(ctx context.Context) (<-chan ExecutionReport, error)
}

// PrivateCaller is implemented by exchanges that expose raw, non-unified
// private endpoints.
type PrivateCaller interface {
	CallPrivate(ctx context.Context, method string, params Params) (map[string]any, error)
}

// Params carries opaque exchange-specific order parameters.
type Params map[string]any

// RawOrder is the exchange-side view of an order.
type RawOrder struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Type          string
	Side          string
	Amount        decimal.Decimal
	Price         decimal.Decimal
	Average       decimal.Decimal
	Filled        decimal.Decimal
	Remaining     decimal.Decimal
	Status        string
	Timestamp     time.Time
	Trades        []RawTrade
	Info          map[string]any
}

// Field looks up a field by its unified name, falling back to the raw
// exchange payload in Info.
func (o *RawOrder) Field(key string) (any, bool) {
	if o == nil {
		return nil, false
	}
	switch key {
	case "id":
		return o.ID, true
	case "clientOrderId":
		return o.ClientOrderID, true
	case "symbol":
		return o.Symbol, true
	case "type":
		return o.Type, true
	case "side":
		return o.Side, true
	case "status":
		return o.Status, true
	}
	v, ok := o.Info[key]
	return v, ok
}

// Clone returns a copy that shares no slices or maps with o.
func (o RawOrder) Clone() RawOrder {
	if o.Trades != nil {
		o.Trades = append([]RawTrade(nil), o.Trades...)
	}
	if o.Info != nil {
		info := make(map[string]any, len(o.Info))
		for k, v := range o.Info {
			info[k] = v
		}
		o.Info = info
	}
	return o
}

// Fee is a trade commission.
type Fee struct {
	Cost     decimal.Decimal
	Currency string
}

// RawTrade is a single exchange trade belonging to an order.
type RawTrade struct {
	ID        string
	Order     string
	Symbol    string
	Side      string
	Amount    decimal.Decimal
	Price     decimal.Decimal
	Fee       Fee
	Timestamp time.Time
}

// Balance is an account balance per currency.
type Balance struct {
	Free  map[string]decimal.Decimal
	Total map[string]decimal.Decimal
}

// Execution-report vocabulary (Binance futures ORDER_TRADE_UPDATE).
const (
	ExecTypeNew      = "NEW"
	ExecTypeTrade    = "TRADE"
	ExecTypeCanceled = "CANCELED"

	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCanceled        = "CANCELED"

	ReportSideBuy  = "BUY"
	ReportSideSell = "SELL"
)

// ExecutionReport is an inbound order update from the exchange stream. It may
// be duplicated, arrive late or refer to orders this broker never placed.
type ExecutionReport struct {
	Symbol          string
	OrderID         string
	ClientOrderID   string
	ExecType        string
	Status          string
	Side            string
	LastQty         decimal.Decimal
	LastPrice       decimal.Decimal
	RealizedPnL     decimal.Decimal
	Commission      *decimal.Decimal
	CommissionAsset string
	TradeTime       time.Time
}
