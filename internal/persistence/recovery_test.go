package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exbroker/internal/broker"
	"github.com/tathienbao/exbroker/internal/broker/paper"
	"github.com/tathienbao/exbroker/internal/types"
)

func newPaper(t *testing.T) *paper.Exchange {
	t.Helper()

	cfg := paper.DefaultConfig()
	cfg.FillDelay = time.Hour // keep orders open
	ex := paper.New(cfg, nil)
	if err := ex.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = ex.Disconnect() })
	return ex
}

// TestRecovery_LiveOrdersReadopted submits through a journaled broker,
// restarts with a fresh broker and repository, and recovers.
func TestRecovery_LiveOrdersReadopted(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "recovery_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")
	ctx := context.Background()
	ex := newPaper(t)

	repo1, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	b1 := broker.New(ex, broker.Options{Currency: "USDT", Journal: repo1})
	inst := broker.NewInstrument("BTC/USDT", nil)

	kept, err := b1.Buy(ctx, "s1", inst, decimal.NewFromInt(2), decimal.NewFromInt(100), types.OrderTypeLimit, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	gone, err := b1.Sell(ctx, "s1", inst, decimal.NewFromInt(1), decimal.NewFromInt(120), types.OrderTypeLimit, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Half of the kept order fills before the restart
	half := decimal.NewFromInt(1)
	b1.OnExecutionReport(ctx, broker.ExecutionReport{
		Symbol:    "BTC/USDT",
		OrderID:   kept.ID,
		ExecType:  broker.ExecTypeTrade,
		Status:    broker.StatusPartiallyFilled,
		Side:      broker.ReportSideBuy,
		LastQty:   half,
		LastPrice: decimal.NewFromInt(100),
	})

	// Canceled behind the broker's back while it is down
	if _, err := ex.CancelOrder(ctx, gone.ID, gone.Symbol); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	repo1.Close()

	// Create second repository (simulating restart)
	repo2, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create second repository: %v", err)
	}
	defer repo2.Close()

	b2 := broker.New(ex, broker.Options{Currency: "USDT", Journal: repo2})

	n, err := b2.Recover(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 order recovered, got %d", n)
	}

	live := b2.LiveOrders()
	if len(live) != 1 || live[0].ID != kept.ID {
		t.Fatalf("expected %s to be live, got %+v", kept.ID, live)
	}
	if live[0].Instrument == nil || live[0].Instrument.Symbol() != "BTC/USDT" {
		t.Error("recovered order should get an instrument")
	}
	if _, ok := b2.PullNotification(); ok {
		t.Error("recovery should not notify")
	}

	if pos := b2.Position("BTC/USDT"); !pos.Size.Equal(half) {
		t.Errorf("position after recover = %s, want 1", pos.Size)
	}
	if !live[0].Executed.Size.Equal(half) {
		t.Errorf("recovered executed size = %s, want 1", live[0].Executed.Size)
	}

	b2.OnExecutionReport(ctx, broker.ExecutionReport{
		Symbol:    "BTC/USDT",
		OrderID:   kept.ID,
		ExecType:  broker.ExecTypeTrade,
		Status:    broker.StatusFilled,
		Side:      broker.ReportSideBuy,
		LastQty:   half,
		LastPrice: decimal.NewFromInt(102),
	})
	pos := b2.Position("BTC/USDT")
	if !pos.Size.Equal(decimal.NewFromInt(2)) || !pos.Price.Equal(decimal.NewFromInt(101)) {
		t.Errorf("position after final fill = %s @ %s, want 2 @ 101", pos.Size, pos.Price)
	}

	canceled, err := repo2.GetOrder(ctx, gone.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if canceled.Status != types.OrderStatusCanceled {
		t.Errorf("status = %v, want CANCELED", canceled.Status)
	}

	// Recovering again adopts nothing new
	n, err = b2.Recover(ctx)
	if err != nil {
		t.Fatalf("second recover: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 on second recover, got %d", n)
	}
}

// TestRecovery_WALMode tests that WAL journal mode is enabled.
func TestRecovery_WALMode(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	var mode string
	if err := repo.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to query journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal mode = %q, want wal", mode)
	}
}
