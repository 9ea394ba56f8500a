package stream

import (
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/exbroker/internal/broker"
)

// Binance frames use keys that differ only by case ("x"/"X", "t"/"T").
var json = jsoniter.Config{CaseSensitive: true}.Froze()

// EventOrderTradeUpdate is the user-data event carrying execution reports.
const EventOrderTradeUpdate = "ORDER_TRADE_UPDATE"

type envelope struct {
	Event string              `json:"e"`
	Time  int64               `json:"E"`
	Order jsoniter.RawMessage `json:"o"`
}

type orderUpdate struct {
	Symbol          string           `json:"s"`
	ClientOrderID   string           `json:"c"`
	Side            string           `json:"S"`
	ExecType        string           `json:"x"`
	Status          string           `json:"X"`
	OrderID         int64            `json:"i"`
	LastQty         decimal.Decimal  `json:"l"`
	LastPrice       decimal.Decimal  `json:"L"`
	Commission      *decimal.Decimal `json:"n"`
	CommissionAsset string           `json:"N"`
	TradeTime       int64            `json:"T"`
	RealizedPnL     decimal.Decimal  `json:"rp"`
}

// Decode parses one stream frame. It reports false for frames that are not
// order updates.
func Decode(frame []byte) (broker.ExecutionReport, bool, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return broker.ExecutionReport{}, false, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event != EventOrderTradeUpdate {
		return broker.ExecutionReport{}, false, nil
	}

	var o orderUpdate
	if err := json.Unmarshal(env.Order, &o); err != nil {
		return broker.ExecutionReport{}, false, fmt.Errorf("decode order update: %w", err)
	}

	rep := broker.ExecutionReport{
		Symbol:          o.Symbol,
		OrderID:         strconv.FormatInt(o.OrderID, 10),
		ClientOrderID:   o.ClientOrderID,
		ExecType:        o.ExecType,
		Status:          o.Status,
		Side:            o.Side,
		LastQty:         o.LastQty,
		LastPrice:       o.LastPrice,
		RealizedPnL:     o.RealizedPnL,
		Commission:      o.Commission,
		CommissionAsset: o.CommissionAsset,
	}
	if o.TradeTime > 0 {
		rep.TradeTime = time.UnixMilli(o.TradeTime)
	}
	return rep, true, nil
}
