// Package persistence journals broker state so live orders survive a restart.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exbroker/internal/broker"
)

// Repository defines the interface for state persistence.
type Repository interface {
	broker.Journal

	// Order operations
	GetOrder(ctx context.Context, id string) (*broker.Order, error)
	GetExecutions(ctx context.Context, orderID string) ([]broker.Execution, error)

	// Balance operations
	GetLatestBalance(ctx context.Context, currency string) (*BalanceSnapshot, error)
	GetBalanceHistory(ctx context.Context, currency string, from, to time.Time) ([]BalanceSnapshot, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// BalanceSnapshot represents a persisted balance refresh.
type BalanceSnapshot struct {
	ID        int64
	Timestamp time.Time
	Currency  string
	Cash      decimal.Decimal
	Value     decimal.Decimal
}
