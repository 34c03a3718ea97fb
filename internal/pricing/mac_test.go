package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMovingAverageInFromEmptyStock(t *testing.T) {
	price := MovingAverageIn(0, decimal.Zero, 10, d(100))
	require.True(t, d(100).Equal(price), price.String())
}

func TestMovingAverageInWeighted(t *testing.T) {
	price := MovingAverageIn(10, d(100000), 5, d(120000))
	require.Equal(t, "106666.67", price.StringFixed(2))
}

func TestMovingAverageInNoStockLeavesPrice(t *testing.T) {
	price := MovingAverageIn(0, d(55), 0, d(100))
	require.True(t, d(55).Equal(price))
}

func TestMovingAverageOut(t *testing.T) {
	require.True(t, d(110).Equal(MovingAverageOut(10, d(100), 5, d(90))))
	require.True(t, d(90).Equal(MovingAverageOut(5, d(100), 5, d(90))))
}

func TestAllocateImportCosts(t *testing.T) {
	lines := []PercentLine{
		{Price: d(100), Quantity: 10},
		{Price: d(300), Quantity: 10},
	}
	// bill 4000, 10% bill discount, fee 400: line A gets 1000-100+100, line B 3000-300+300
	costs := AllocateImportCosts(lines, d(10), d(400))
	require.Len(t, costs, 2)
	require.True(t, d(100).Equal(costs[0]), costs[0].String())
	require.True(t, d(300).Equal(costs[1]), costs[1].String())

	costs = AllocateImportCosts(lines, decimal.Zero, d(400))
	require.True(t, d(110).Equal(costs[0]), costs[0].String())
	require.True(t, d(330).Equal(costs[1]), costs[1].String())
}

func TestAllocateReturnCostsIgnoresDiscount(t *testing.T) {
	lines := []PercentLine{{Price: d(200), Quantity: 2, DiscountPct: d(50)}}
	costs := AllocateReturnCosts(lines, d(40))
	require.True(t, d(220).Equal(costs[0]), costs[0].String())
}
