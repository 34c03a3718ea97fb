package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lilas/backoffice/internal/shared"
)

type mapProducts struct {
	items map[string]Product
	locks int
	saves int
}

func (m *mapProducts) LockProduct(_ context.Context, id string) (*Product, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	m.locks++
	return &p, nil
}

func (m *mapProducts) SaveProduct(_ context.Context, p *Product) error {
	m.items[p.ID] = *p
	m.saves++
	return nil
}

func TestLedgerLocksOncePerProduct(t *testing.T) {
	store := &mapProducts{items: map[string]Product{"SP1": *stocked(5, 0)}}
	ledger := NewLedger(store)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := ledger.Apply(ctx, "SP1", func(p *Product) error { return p.Reserve(BranchTerra, 2) })
		require.NoError(t, err)
	}
	require.NoError(t, ledger.Flush(ctx))
	require.Equal(t, 1, store.locks)
	require.Equal(t, 1, store.saves)
	require.Equal(t, 1, store.items["SP1"].Levels[BranchTerra].CanSell)
}

func TestLedgerFlushRejectsNegativeCounters(t *testing.T) {
	store := &mapProducts{items: map[string]Product{"SP1": *stocked(1, 0)}}
	ledger := NewLedger(store)
	ctx := context.Background()

	p, err := ledger.Product(ctx, "SP1")
	require.NoError(t, err)
	p.Levels[BranchTerra].OutForDelivery = -1

	require.ErrorIs(t, ledger.Flush(ctx), shared.ErrInsufficientStock)
	require.Equal(t, 0, store.saves)
}

func TestLedgerSellable(t *testing.T) {
	off := *stocked(1, 0)
	off.ID = "SP2"
	off.DryStock = false
	store := &mapProducts{items: map[string]Product{"SP2": off}}
	_, err := NewLedger(store).Sellable(context.Background(), "SP2")
	require.ErrorIs(t, err, ErrProductStopSelling)
}
