package inventory

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lilas/backoffice/internal/shared"
)

func stocked(terra, thonhuom int) *Product {
	p := &Product{ID: "SP1", Name: "Son môi", Active: true, DryStock: true}
	p.Levels[BranchTerra] = StockLevel{Stock: terra, CanSell: terra}
	p.Levels[BranchThoNhuom] = StockLevel{Stock: thonhuom, CanSell: thonhuom}
	return p
}

func requireSettled(t *testing.T, p *Product) {
	t.Helper()
	require.NoError(t, p.CheckSettled())
	for _, b := range Branches {
		require.LessOrEqual(t, p.Levels[b].CanSell, p.Levels[b].Stock, "branch %s", b)
	}
}

func TestReserveAndRelease(t *testing.T) {
	p := stocked(5, 0)

	require.NoError(t, p.Reserve(BranchTerra, 3))
	require.Equal(t, 2, p.Level(BranchTerra).CanSell)

	err := p.Reserve(BranchTerra, 3)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, 2, p.Level(BranchTerra).CanSell)

	require.NoError(t, p.Release(BranchTerra, 3))
	require.Equal(t, 5, p.Level(BranchTerra).CanSell)
	requireSettled(t, p)
}

func TestFulfillChecksPhysicalStock(t *testing.T) {
	p := stocked(2, 0)
	require.NoError(t, p.Reserve(BranchTerra, 2))
	require.NoError(t, p.Fulfill(BranchTerra, 2))
	require.Equal(t, StockLevel{}, p.Level(BranchTerra))

	err := p.Fulfill(BranchTerra, 1)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, "NOT_ENOUGH_STOCK", shared.CodeOf(err))

	require.NoError(t, p.ReturnSale(BranchTerra, 2))
	require.Equal(t, StockLevel{Stock: 2, CanSell: 2}, p.Level(BranchTerra))
}

func TestInvalidBranchFails(t *testing.T) {
	p := stocked(1, 1)
	require.ErrorIs(t, p.Reserve(Branch(7), 1), shared.ErrBranchNotFound)
	require.ErrorIs(t, p.CompleteTransfer(BranchTerra, Branch(-1), 1), shared.ErrBranchNotFound)
	require.Equal(t, StockLevel{Stock: 1, CanSell: 1}, p.Level(BranchTerra))
}

func TestArrivalLifecycle(t *testing.T) {
	p := stocked(0, 0)
	require.NoError(t, p.ExpectArrival(BranchThoNhuom, 10))
	require.Equal(t, 10, p.Level(BranchThoNhuom).PendingArrival)

	require.NoError(t, p.Receive(BranchThoNhuom, 8))
	require.Equal(t, StockLevel{Stock: 8, CanSell: 8, PendingArrival: 2}, p.Level(BranchThoNhuom))

	require.NoError(t, p.CancelArrival(BranchThoNhuom, 5))
	require.Equal(t, 0, p.Level(BranchThoNhuom).PendingArrival)
	requireSettled(t, p)
}

func TestReturnToSupplierClamps(t *testing.T) {
	p := stocked(10, 0)
	require.NoError(t, p.Reserve(BranchTerra, 6))
	require.NoError(t, p.ReturnToSupplier(BranchTerra, 5))
	require.Equal(t, StockLevel{Stock: 5, CanSell: 0}, p.Level(BranchTerra))
	requireSettled(t, p)
}

func TestDispatchLifecycle(t *testing.T) {
	p := stocked(4, 0)
	require.NoError(t, p.Reserve(BranchTerra, 3))
	require.NoError(t, p.Dispatch(BranchTerra, 3))
	require.Equal(t, StockLevel{Stock: 4, CanSell: 1, OutForDelivery: 3}, p.Level(BranchTerra))

	delivered := *p
	require.NoError(t, delivered.DeliverDispatched(BranchTerra, 3))
	require.Equal(t, StockLevel{Stock: 1, CanSell: 1}, delivered.Level(BranchTerra))

	require.NoError(t, p.RecallDispatch(BranchTerra, 3))
	require.Equal(t, StockLevel{Stock: 4, CanSell: 4}, p.Level(BranchTerra))
}

func TestTransferLifecycle(t *testing.T) {
	p := stocked(6, 1)
	require.NoError(t, p.StartTransfer(BranchTerra, 4))
	require.Equal(t, StockLevel{Stock: 6, CanSell: 2, OutForDelivery: 4}, p.Level(BranchTerra))
	require.ErrorIs(t, p.StartTransfer(BranchTerra, 3), shared.ErrInsufficientStock)

	require.NoError(t, p.CompleteTransfer(BranchTerra, BranchThoNhuom, 4))
	require.Equal(t, StockLevel{Stock: 2, CanSell: 2}, p.Level(BranchTerra))
	require.Equal(t, StockLevel{Stock: 5, CanSell: 5}, p.Level(BranchThoNhuom))
	requireSettled(t, p)
}

func TestCostUpdates(t *testing.T) {
	p := stocked(0, 0)
	p.ApplyInboundCost(10, decimal.NewFromInt(100))
	require.True(t, p.PriceImport.Equal(decimal.NewFromInt(100)))
	require.NoError(t, p.Receive(BranchTerra, 10))

	p.ApplyInboundCost(10, decimal.NewFromInt(200))
	require.True(t, p.PriceImport.Equal(decimal.NewFromInt(150)))
	require.NoError(t, p.Receive(BranchTerra, 10))

	p.ApplyOutboundCost(20, decimal.NewFromInt(90))
	require.True(t, p.PriceImport.Equal(decimal.NewFromInt(90)))
}

func TestCheckSellable(t *testing.T) {
	p := stocked(1, 1)
	require.NoError(t, p.CheckSellable())
	p.DryStock = false
	require.Equal(t, "PRODUCT_STOP_SELLING", shared.CodeOf(p.CheckSellable()))
	p.Active = false
	require.Equal(t, "PRODUCT_NOT_FOUND", shared.CodeOf(p.CheckSellable()))
}

func TestProductJSONFlattensLevels(t *testing.T) {
	p := stocked(3, 4)
	p.Levels[BranchThoNhuom].OutForDelivery = 1
	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	require.EqualValues(t, 3, out["terra_stock"])
	require.EqualValues(t, 4, out["thonhuom_can_sell"])
	require.EqualValues(t, 1, out["thonhuom_out_for_delivery"])
	require.Equal(t, "Son môi", out["name"])
	require.NotContains(t, out, "Levels")
}
