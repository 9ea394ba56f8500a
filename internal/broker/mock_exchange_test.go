package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exbroker/internal/types"
)

// mockExchange is an in-memory Exchange that records every call.
type mockExchange struct {
	mu sync.Mutex

	calls  []string
	nextID int
	orders map[string]*RawOrder
	trades []RawTrade

	balance    *Balance
	lastParams Params

	// fetchPrice, when set, is reported by FetchOrder instead of the
	// create price.
	fetchPrice decimal.Decimal
	cancelResp *RawOrder

	// onCreate, when set, runs inside CreateOrder before it returns.
	onCreate func(o RawOrder)

	createErr  error
	fetchErr   error
	cancelErr  error
	tradesErr  error
	balanceErr error
}

func newMockExchange() *mockExchange {
	return &mockExchange{
		orders: make(map[string]*RawOrder),
		balance: &Balance{
			Free:  map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1000)},
			Total: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1500)},
		},
	}
}

func (m *mockExchange) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *mockExchange) count(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (m *mockExchange) setStatus(id, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id].Status = status
}

func (m *mockExchange) setBalance(free, total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = &Balance{
		Free:  map[string]decimal.Decimal{"USDT": decimal.NewFromInt(free)},
		Total: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(total)},
	}
}

func (m *mockExchange) addTrade(t RawTrade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
}

func (m *mockExchange) CreateOrder(ctx context.Context, symbol, orderType string, side types.Side, amount, price decimal.Decimal, params Params) (*RawOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("create_order")
	m.lastParams = params
	if m.createErr != nil {
		return nil, m.createErr
	}

	m.nextID++
	o := &RawOrder{
		ID:     fmt.Sprintf("ord-%d", m.nextID),
		Symbol: symbol,
		Type:   orderType,
		Side:   side.String(),
		Amount: amount,
		Price:  price,
		Status: "open",
	}
	m.orders[o.ID] = o
	if m.onCreate != nil {
		m.onCreate(o.Clone())
	}
	out := o.Clone()
	return &out, nil
}

func (m *mockExchange) FetchOrder(ctx context.Context, id, symbol string) (*RawOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("fetch_order")
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, types.ErrOrderNotFound)
	}
	out := o.Clone()
	if !m.fetchPrice.IsZero() {
		out.Price = m.fetchPrice
	}
	return &out, nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, id, symbol string) (*RawOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("cancel_order")
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	if m.cancelResp != nil {
		out := m.cancelResp.Clone()
		return &out, nil
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, types.ErrOrderNotFound)
	}
	o.Status = "canceled"
	out := o.Clone()
	return &out, nil
}

func (m *mockExchange) FetchOpenOrders(ctx context.Context) ([]RawOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("fetch_open_orders")
	var out []RawOrder
	for _, o := range m.orders {
		if o.Status == "open" {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (m *mockExchange) FetchMyTrades(ctx context.Context, symbol string) ([]RawTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("fetch_my_trades")
	if m.tradesErr != nil {
		return nil, m.tradesErr
	}
	var out []RawTrade
	for _, t := range m.trades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockExchange) FetchBalance(ctx context.Context) (*Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("fetch_balance")
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return m.balance, nil
}

// privateExchange adds raw endpoint access to mockExchange.
type privateExchange struct {
	*mockExchange
	method string
	params Params
}

func (p *privateExchange) CallPrivate(ctx context.Context, method string, params Params) (map[string]any, error) {
	p.method = method
	p.params = params
	return map[string]any{"ok": true}, nil
}

// mockJournal keeps journal writes in memory.
type mockJournal struct {
	mu         sync.Mutex
	orders     map[string]*Order
	executions map[string][]Execution
	balances   int
	statuses   map[string]types.OrderStatus
	positions  map[string]Position
	saveErr    error
}

func newMockJournal() *mockJournal {
	return &mockJournal{
		orders:     make(map[string]*Order),
		executions: make(map[string][]Execution),
		statuses:   make(map[string]types.OrderStatus),
		positions:  make(map[string]Position),
	}
}

func (j *mockJournal) SaveOrder(ctx context.Context, o *Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.saveErr != nil {
		return j.saveErr
	}
	j.orders[o.ID] = o.Clone()
	return nil
}

func (j *mockJournal) SaveExecution(ctx context.Context, orderID string, e Execution) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.executions[orderID] = append(j.executions[orderID], e)
	if o, ok := j.orders[orderID]; ok {
		j.positions[o.Symbol] = Position{Size: e.PositionSize, Price: e.PositionPrice}
	}
	return nil
}

func (j *mockJournal) SaveBalance(ctx context.Context, currency string, cash, value decimal.Decimal) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.balances++
	return nil
}

func (j *mockJournal) LiveOrders(ctx context.Context) ([]*Order, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []*Order
	for _, o := range j.orders {
		if o.Alive() {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (j *mockJournal) UpdateOrderStatus(ctx context.Context, id string, status types.OrderStatus) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.statuses[id] = status
	if o, ok := j.orders[id]; ok {
		o.Status = status
	}
	return nil
}

func (j *mockJournal) Positions(ctx context.Context) (map[string]Position, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make(map[string]Position, len(j.positions))
	for k, v := range j.positions {
		out[k] = v
	}
	return out, nil
}

// chanSource is a ReportSource fed by the test.
type chanSource struct {
	ch chan ExecutionReport
}

func (s *chanSource) Reports(ctx context.Context) (<-chan ExecutionReport, error) {
	return s.ch, nil
}
