package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestDiscountApply(t *testing.T) {
	require.True(t, d(90).Equal(Discount{Value: d(10), Type: DiscountPercent}.Apply(d(100))))
	require.True(t, d(70).Equal(Discount{Value: d(30), Type: DiscountValue}.Apply(d(100))))
	require.True(t, decimal.Zero.Equal(Discount{Value: d(300), Type: DiscountValue}.Apply(d(100))))
}

func TestInvoiceTotal(t *testing.T) {
	items := []Line{
		{Price: d(100000), Quantity: 2, Discount: Discount{Value: d(10), Type: DiscountPercent}},
		{Price: d(50000), Quantity: 1, Discount: Discount{Value: d(5000), Type: DiscountValue}},
	}
	services := []Line{{Price: d(20000), Quantity: 1}}
	total := InvoiceTotal(items, services, Discount{Value: d(15000), Type: DiscountValue})
	// 180000 + 45000 + 20000 - 15000
	require.True(t, d(230000).Equal(total), total.String())

	again := InvoiceTotal(items, services, Discount{Value: d(15000), Type: DiscountValue})
	require.True(t, total.Equal(again))
}

func TestBillTotal(t *testing.T) {
	lines := []PercentLine{
		{Price: d(100), Quantity: 10, DiscountPct: d(10)},
		{Price: d(50), Quantity: 2},
	}
	// (900 + 100) * 0.95 + 30
	total := BillTotal(lines, d(5), d(30))
	require.True(t, d(980).Equal(total), total.String())
}

func TestSettle(t *testing.T) {
	require.Equal(t, Unpaid, Settle(decimal.Zero, d(200)))
	require.Equal(t, PartiallyPaid, Settle(d(50), d(200)))
	require.Equal(t, FullyPaid, Settle(d(200), d(200)))
	require.Equal(t, FullyPaid, Settle(d(250), d(200)))
	require.Equal(t, Unpaid, Settle(decimal.Zero, decimal.Zero))
}
