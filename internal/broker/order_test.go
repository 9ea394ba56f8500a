package broker

import (
	"testing"
	"time"

	"github.com/tathienbao/exbroker/internal/types"
)

func TestOrder_Transitions(t *testing.T) {
	o := &Order{Status: types.OrderStatusSubmitted}

	o.markPartial()
	if o.Status != types.OrderStatusPartialFill {
		t.Errorf("after markPartial Status = %v", o.Status)
	}
	o.markPartial()
	if o.Status != types.OrderStatusPartialFill {
		t.Errorf("partial fills may recur, Status = %v", o.Status)
	}

	o.markFilled()
	if o.Status != types.OrderStatusFilled || o.Alive() {
		t.Errorf("after markFilled Status = %v alive = %v", o.Status, o.Alive())
	}

	o.markCanceled()
	o.markPartial()
	if o.Status != types.OrderStatusFilled {
		t.Errorf("terminal order changed to %v", o.Status)
	}
}

func TestOrder_Execute(t *testing.T) {
	o := &Order{Size: d("3")}

	o.execute(Execution{Size: d("1"), Price: d("100"), OpenedValue: d("100"), OpenedComm: d("0.1"), PnL: d("0")})
	o.execute(Execution{Size: d("2"), Price: d("103"), ClosedValue: d("206"), ClosedComm: d("0.2"), PnL: d("5")})

	ex := o.Executed
	if !ex.Size.Equal(d("3")) {
		t.Errorf("Size = %s, want 3", ex.Size)
	}
	if !ex.Price.Equal(d("102")) {
		t.Errorf("Price = %s, want 102", ex.Price)
	}
	if !ex.Value.Equal(d("306")) {
		t.Errorf("Value = %s, want 306", ex.Value)
	}
	if !ex.Comm.Equal(d("0.3")) {
		t.Errorf("Comm = %s, want 0.3", ex.Comm)
	}
	if !ex.PnL.Equal(d("5")) {
		t.Errorf("PnL = %s, want 5", ex.PnL)
	}
	if !ex.Remaining.IsZero() {
		t.Errorf("Remaining = %s, want 0", ex.Remaining)
	}
	if len(o.Executions) != 2 {
		t.Errorf("Executions = %d, want 2", len(o.Executions))
	}
}

func TestOrder_Clone(t *testing.T) {
	o := &Order{
		ID:         "1",
		Raw:        RawOrder{Info: map[string]any{"k": "v"}},
		Trades:     []RawTrade{{ID: "t1"}},
		Executions: []Execution{{Size: d("1")}},
	}

	c := o.Clone()
	c.Raw.Info["k"] = "changed"
	c.Trades[0].ID = "changed"
	c.Executions[0].Size = d("9")
	c.Status = types.OrderStatusCanceled

	if o.Raw.Info["k"] != "v" || o.Trades[0].ID != "t1" || !o.Executions[0].Size.Equal(d("1")) {
		t.Error("clone shares memory with the original")
	}
	if o.Status == types.OrderStatusCanceled {
		t.Error("clone status leaked")
	}
}

func TestOrderTable_Snapshot(t *testing.T) {
	tbl := newOrderTable()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tbl.put(&Order{ID: "b", Created: base.Add(time.Second)})
	tbl.put(&Order{ID: "c", Created: base})
	tbl.put(&Order{ID: "a", Created: base})

	snap := tbl.snapshot()
	want := []string{"a", "c", "b"}
	for i, id := range want {
		if snap[i].ID != id {
			t.Errorf("snapshot[%d] = %s, want %s", i, snap[i].ID, id)
		}
	}

	snap[0].Status = types.OrderStatusCanceled
	if o, _ := tbl.get("a"); o.Status == types.OrderStatusCanceled {
		t.Error("snapshot should hold clones")
	}

	tbl.remove("a")
	tbl.remove("missing")
	if tbl.len() != 2 {
		t.Errorf("len = %d, want 2", tbl.len())
	}
}

func TestNotificationQueue_FIFO(t *testing.T) {
	var q notificationQueue

	q.push(&Order{ID: "1"})
	q.push(nil)
	q.push(&Order{ID: "2"})

	if q.len() != 3 {
		t.Fatalf("len = %d, want 3", q.len())
	}

	o, ok := q.pop()
	if !ok || o.ID != "1" {
		t.Errorf("first pop = %v, %v", o, ok)
	}
	o, ok = q.pop()
	if !ok || o != nil {
		t.Errorf("second pop = %v, %v, want sentinel", o, ok)
	}
	o, ok = q.pop()
	if !ok || o.ID != "2" {
		t.Errorf("third pop = %v, %v", o, ok)
	}
	if _, ok := q.pop(); ok {
		t.Error("queue should be empty")
	}
}

func TestSplitCommission(t *testing.T) {
	tests := []struct {
		name, comm, closed, opened string
		wantClosed, wantOpened     string
	}{
		{"open only", "1", "0", "2", "0", "1"},
		{"close only", "1", "2", "0", "1", "0"},
		{"cross", "0.9", "1", "2", "0.3", "0.6"},
		{"nothing", "1", "0", "0", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, o := splitCommission(d(tt.comm), d(tt.closed), d(tt.opened))
			if !c.Equal(d(tt.wantClosed)) || !o.Equal(d(tt.wantOpened)) {
				t.Errorf("splitCommission() = %s/%s, want %s/%s", c, o, tt.wantClosed, tt.wantOpened)
			}
		})
	}
}
