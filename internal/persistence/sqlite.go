package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exbroker/internal/broker"
	"github.com/tathienbao/exbroker/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db, now: time.Now}

	// Run migrations
	if err := repo.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			client_order_id TEXT,
			owner TEXT,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			type INTEGER NOT NULL,
			size TEXT NOT NULL,
			price TEXT NOT NULL,
			status INTEGER NOT NULL,
			exchange_status TEXT,
			executed_size TEXT NOT NULL DEFAULT '0',
			executed_price TEXT NOT NULL DEFAULT '0',
			executed_value TEXT NOT NULL DEFAULT '0',
			executed_comm TEXT NOT NULL DEFAULT '0',
			executed_pnl TEXT NOT NULL DEFAULT '0',
			remaining TEXT NOT NULL DEFAULT '0',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol)`,

		`CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			time DATETIME NOT NULL,
			size TEXT NOT NULL,
			price TEXT NOT NULL,
			closed TEXT NOT NULL,
			closed_value TEXT NOT NULL,
			closed_comm TEXT NOT NULL,
			opened TEXT NOT NULL,
			opened_value TEXT NOT NULL,
			opened_comm TEXT NOT NULL,
			margin TEXT NOT NULL,
			pnl TEXT NOT NULL,
			position_size TEXT NOT NULL,
			position_price TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_order_id ON executions(order_id)`,

		`CREATE TABLE IF NOT EXISTS balance_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			currency TEXT NOT NULL,
			cash TEXT NOT NULL,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_balance_currency_timestamp ON balance_snapshots(currency, timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveOrder inserts or updates an order.
func (r *SQLiteRepository) SaveOrder(ctx context.Context, o *broker.Order) error {
	query := `INSERT INTO orders
		(id, client_order_id, owner, symbol, side, type, size, price, status, exchange_status,
		 executed_size, executed_price, executed_value, executed_comm, executed_pnl, remaining,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			price = excluded.price,
			status = excluded.status,
			exchange_status = excluded.exchange_status,
			executed_size = excluded.executed_size,
			executed_price = excluded.executed_price,
			executed_value = excluded.executed_value,
			executed_comm = excluded.executed_comm,
			executed_pnl = excluded.executed_pnl,
			remaining = excluded.remaining,
			updated_at = excluded.updated_at`

	ex := o.Executed
	_, err := r.db.ExecContext(ctx, query,
		o.ID,
		o.Raw.ClientOrderID,
		o.Owner,
		o.Symbol,
		o.Side,
		o.Type,
		o.Size.String(),
		o.Price.String(),
		o.Status,
		o.Raw.Status,
		ex.Size.String(),
		ex.Price.String(),
		ex.Value.String(),
		ex.Comm.String(),
		ex.PnL.String(),
		ex.Remaining.String(),
		o.Created.UTC(),
		r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}

	return nil
}

const orderColumns = `id, client_order_id, owner, symbol, side, type, size, price, status, exchange_status,
	executed_size, executed_price, executed_value, executed_comm, executed_pnl, remaining, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*broker.Order, error) {
	var o broker.Order
	var clientID, owner, exchangeStatus sql.NullString
	var size, price, exSize, exPrice, exValue, exComm, exPnL, remaining string

	if err := row.Scan(&o.ID, &clientID, &owner, &o.Symbol, &o.Side, &o.Type, &size, &price, &o.Status,
		&exchangeStatus, &exSize, &exPrice, &exValue, &exComm, &exPnL, &remaining, &o.Created); err != nil {
		return nil, err
	}

	o.Owner = owner.String
	o.Raw = broker.RawOrder{ID: o.ID, ClientOrderID: clientID.String, Symbol: o.Symbol, Status: exchangeStatus.String}
	o.Size, _ = decimal.NewFromString(size)
	o.Price, _ = decimal.NewFromString(price)
	o.Executed.Size, _ = decimal.NewFromString(exSize)
	o.Executed.Price, _ = decimal.NewFromString(exPrice)
	o.Executed.Value, _ = decimal.NewFromString(exValue)
	o.Executed.Comm, _ = decimal.NewFromString(exComm)
	o.Executed.PnL, _ = decimal.NewFromString(exPnL)
	o.Executed.Remaining, _ = decimal.NewFromString(remaining)

	return &o, nil
}

// GetOrder returns an order with its executions, or nil if unknown.
func (r *SQLiteRepository) GetOrder(ctx context.Context, id string) (*broker.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`

	o, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	if o.Executions, err = r.GetExecutions(ctx, id); err != nil {
		return nil, err
	}
	return o, nil
}

// LiveOrders returns orders with non-final status, oldest first.
func (r *SQLiteRepository) LiveOrders(ctx context.Context) ([]*broker.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status < ? ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, types.OrderStatusFilled)
	if err != nil {
		return nil, fmt.Errorf("query live orders: %w", err)
	}

	var orders []*broker.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, o := range orders {
		if o.Executions, err = r.GetExecutions(ctx, o.ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// UpdateOrderStatus updates an order's status.
func (r *SQLiteRepository) UpdateOrderStatus(ctx context.Context, id string, status types.OrderStatus) error {
	query := `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query, status, r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update order %s: %w", id, types.ErrOrderNotFound)
	}

	return nil
}

// SaveExecution appends an execution to an order's audit trail.
func (r *SQLiteRepository) SaveExecution(ctx context.Context, orderID string, e broker.Execution) error {
	query := `INSERT INTO executions
		(order_id, time, size, price, closed, closed_value, closed_comm, opened, opened_value, opened_comm,
		 margin, pnl, position_size, position_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		orderID,
		e.Time.UTC(),
		e.Size.String(),
		e.Price.String(),
		e.Closed.String(),
		e.ClosedValue.String(),
		e.ClosedComm.String(),
		e.Opened.String(),
		e.OpenedValue.String(),
		e.OpenedComm.String(),
		e.Margin.String(),
		e.PnL.String(),
		e.PositionSize.String(),
		e.PositionPrice.String(),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	return nil
}

// GetExecutions returns an order's executions in the order they were applied.
func (r *SQLiteRepository) GetExecutions(ctx context.Context, orderID string) ([]broker.Execution, error) {
	query := `SELECT time, size, price, closed, closed_value, closed_comm, opened, opened_value, opened_comm,
		margin, pnl, position_size, position_price
		FROM executions WHERE order_id = ? ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []broker.Execution
	for rows.Next() {
		var e broker.Execution
		var fields [12]string

		if err := rows.Scan(&e.Time, &fields[0], &fields[1], &fields[2], &fields[3], &fields[4], &fields[5],
			&fields[6], &fields[7], &fields[8], &fields[9], &fields[10], &fields[11]); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		targets := []*decimal.Decimal{
			&e.Size, &e.Price,
			&e.Closed, &e.ClosedValue, &e.ClosedComm,
			&e.Opened, &e.OpenedValue, &e.OpenedComm,
			&e.Margin, &e.PnL,
			&e.PositionSize, &e.PositionPrice,
		}
		for i, dst := range targets {
			*dst, _ = decimal.NewFromString(fields[i])
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

// Positions returns, per symbol, the position recorded by its most recent
// execution.
func (r *SQLiteRepository) Positions(ctx context.Context) (map[string]broker.Position, error) {
	query := `SELECT o.symbol, e.position_size, e.position_price
		FROM executions e JOIN orders o ON o.id = e.order_id
		WHERE e.id = (
			SELECT MAX(e2.id) FROM executions e2 JOIN orders o2 ON o2.id = e2.order_id
			WHERE o2.symbol = o.symbol
		)`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	positions := make(map[string]broker.Position)
	for rows.Next() {
		var symbol, size, price string
		if err := rows.Scan(&symbol, &size, &price); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var p broker.Position
		p.Size, _ = decimal.NewFromString(size)
		p.Price, _ = decimal.NewFromString(price)
		positions[symbol] = p
	}

	return positions, rows.Err()
}

// SaveBalance records a balance refresh.
func (r *SQLiteRepository) SaveBalance(ctx context.Context, currency string, cash, value decimal.Decimal) error {
	query := `INSERT INTO balance_snapshots (timestamp, currency, cash, value) VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, r.now().UTC(), currency, cash.String(), value.String())
	if err != nil {
		return fmt.Errorf("insert balance snapshot: %w", err)
	}

	return nil
}

// GetLatestBalance returns the most recent balance snapshot for currency.
func (r *SQLiteRepository) GetLatestBalance(ctx context.Context, currency string) (*BalanceSnapshot, error) {
	query := `SELECT id, timestamp, currency, cash, value
		FROM balance_snapshots WHERE currency = ? ORDER BY timestamp DESC, id DESC LIMIT 1`

	var s BalanceSnapshot
	var cash, value string

	err := r.db.QueryRowContext(ctx, query, currency).Scan(&s.ID, &s.Timestamp, &s.Currency, &cash, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query balance snapshot: %w", err)
	}

	s.Cash, _ = decimal.NewFromString(cash)
	s.Value, _ = decimal.NewFromString(value)

	return &s, nil
}

// GetBalanceHistory returns balance snapshots in a time range.
func (r *SQLiteRepository) GetBalanceHistory(ctx context.Context, currency string, from, to time.Time) ([]BalanceSnapshot, error) {
	query := `SELECT id, timestamp, currency, cash, value
		FROM balance_snapshots WHERE currency = ? AND timestamp BETWEEN ? AND ? ORDER BY timestamp, id`

	rows, err := r.db.QueryContext(ctx, query, currency, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query balance history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshots []BalanceSnapshot
	for rows.Next() {
		var s BalanceSnapshot
		var cash, value string
		if err := rows.Scan(&s.ID, &s.Timestamp, &s.Currency, &cash, &value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		s.Cash, _ = decimal.NewFromString(cash)
		s.Value, _ = decimal.NewFromString(value)
		snapshots = append(snapshots, s)
	}

	return snapshots, rows.Err()
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

var _ Repository = (*SQLiteRepository)(nil)
