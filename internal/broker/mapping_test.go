package broker

import (
	"errors"
	"testing"

	"github.com/tathienbao/exbroker/internal/types"
)

func TestPredicate_Match(t *testing.T) {
	o := &RawOrder{Status: "closed", Info: map[string]any{"result": 1, "ok": true}}

	tests := []struct {
		name string
		p    Predicate
		want bool
	}{
		{"unified field", Predicate{Key: "status", Value: "closed"}, true},
		{"unified mismatch", Predicate{Key: "status", Value: "canceled"}, false},
		{"info int", Predicate{Key: "result", Value: 1}, true},
		{"info int as string", Predicate{Key: "result", Value: "1"}, true},
		{"info bool", Predicate{Key: "ok", Value: true}, true},
		{"missing key", Predicate{Key: "state", Value: "done"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Match(o); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}

	if (Predicate{Key: "status", Value: "closed"}).Match(nil) {
		t.Error("Match(nil) should be false")
	}
}

func TestPresetMapping(t *testing.T) {
	tests := []struct {
		preset   string
		stop     string
		canceled Predicate
	}{
		{"", "stop", Predicate{Key: "status", Value: "canceled"}},
		{"default", "stop", Predicate{Key: "status", Value: "canceled"}},
		{"Binance", "stop_market", Predicate{Key: "status", Value: "canceled"}},
		{"kraken", "stop-loss", Predicate{Key: "result", Value: 1}},
		{"bitmex", "stop", Predicate{Key: "status", Value: "canceled"}},
	}

	for _, tt := range tests {
		t.Run(tt.preset, func(t *testing.T) {
			m, err := PresetMapping(tt.preset)
			if err != nil {
				t.Fatalf("PresetMapping() error = %v", err)
			}
			if got := m.OrderTypes[types.OrderTypeStop]; got != tt.stop {
				t.Errorf("stop = %s, want %s", got, tt.stop)
			}
			if m.Canceled != tt.canceled {
				t.Errorf("Canceled = %v, want %v", m.Canceled, tt.canceled)
			}
		})
	}

	if _, err := PresetMapping("nasdaq"); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("unknown preset error = %v, want ErrInvalidConfig", err)
	}
}

func TestMapping_ExchangeType(t *testing.T) {
	m := DefaultMapping()

	tests := []struct {
		in      types.OrderType
		want    string
		wantErr bool
	}{
		{types.OrderTypeUnset, "market", false},
		{types.OrderTypeMarket, "market", false},
		{types.OrderTypeLimit, "limit", false},
		{types.OrderTypeStopLimit, "stop limit", false},
		{types.OrderType(9), "", true},
	}

	for _, tt := range tests {
		got, err := m.ExchangeType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ExchangeType(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ExchangeType(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}

	delete(m.OrderTypes, types.OrderTypeStop)
	if _, err := m.ExchangeType(types.OrderTypeStop); !errors.Is(err, types.ErrInvalidOrderType) {
		t.Errorf("unmapped type error = %v, want ErrInvalidOrderType", err)
	}
}

func TestMapping_With(t *testing.T) {
	base := DefaultMapping()
	out := base.With(Mapping{
		OrderTypes: map[types.OrderType]string{types.OrderTypeLimit: "LIMIT"},
		Closed:     Predicate{Key: "state", Value: "done"},
	})

	if out.OrderTypes[types.OrderTypeLimit] != "LIMIT" {
		t.Errorf("limit = %s, want LIMIT", out.OrderTypes[types.OrderTypeLimit])
	}
	if out.OrderTypes[types.OrderTypeMarket] != "market" {
		t.Error("unrelated types should be kept")
	}
	if out.Closed.Key != "state" {
		t.Errorf("Closed = %v, want override", out.Closed)
	}
	if out.Canceled != base.Canceled {
		t.Errorf("Canceled = %v, want base", out.Canceled)
	}
	if base.OrderTypes[types.OrderTypeLimit] != "limit" {
		t.Error("With should not modify the receiver")
	}
}
