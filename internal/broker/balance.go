package broker

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Cash returns the free balance in the broker currency as of the last refresh.
func (b *Broker) Cash() decimal.Decimal {
	b.balMu.RLock()
	defer b.balMu.RUnlock()
	return b.cash
}

// Value returns the total balance in the broker currency as of the last
// refresh.
func (b *Broker) Value() decimal.Decimal {
	b.balMu.RLock()
	defer b.balMu.RUnlock()
	return b.value
}

// StartingCash returns the cash recorded by Start.
func (b *Broker) StartingCash() decimal.Decimal {
	b.balMu.RLock()
	defer b.balMu.RUnlock()
	return b.startCash
}

// StartingValue returns the value recorded by Start.
func (b *Broker) StartingValue() decimal.Decimal {
	b.balMu.RLock()
	defer b.balMu.RUnlock()
	return b.startValue
}

// RefreshBalance queries the exchange and updates cash and value.
func (b *Broker) RefreshBalance(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshBalanceLocked(ctx)
}

func (b *Broker) refreshBalanceLocked(ctx context.Context) error {
	cash, value, err := b.fetchBalance(ctx, b.currency)
	if err != nil {
		return err
	}

	b.balMu.Lock()
	b.cash, b.value = cash, value
	b.balMu.Unlock()

	b.rec.RecordBalance(cash, value)
	if b.journal != nil {
		if err := b.journal.SaveBalance(ctx, b.currency, cash, value); err != nil {
			b.logger.Error("failed to journal balance", "err", err)
			b.rec.RecordError("journal")
		}
	}
	return nil
}

// WalletBalance queries the free and total balance of any currency. It does
// not touch the cached cash and value.
func (b *Broker) WalletBalance(ctx context.Context, currency string) (free, total decimal.Decimal, err error) {
	return b.fetchBalance(ctx, currency)
}

func (b *Broker) fetchBalance(ctx context.Context, currency string) (free, total decimal.Decimal, err error) {
	bal, err := b.ex.FetchBalance(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("fetch balance: %w", err)
	}
	if bal == nil {
		return decimal.Zero, decimal.Zero, nil
	}
	return bal.Free[currency], bal.Total[currency], nil
}
