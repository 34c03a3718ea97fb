package sales

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lilas/backoffice/internal/pricing"
)

func TestPaymentStatusOf(t *testing.T) {
	d := decimal.NewFromInt
	require.Equal(t, PaymentUnpaid, paymentStatusOf(d(0), d(100)))
	require.Equal(t, PaymentPartial, paymentStatusOf(d(40), d(100)))
	require.Equal(t, PaymentPaid, paymentStatusOf(d(100), d(100)))
	require.Equal(t, PaymentPaid, paymentStatusOf(d(120), d(100)))
	require.Equal(t, PaymentUnpaid, paymentStatusOf(d(0), d(0)))
}

func TestHeldDeposit(t *testing.T) {
	d := decimal.NewFromInt
	counter := Invoice{Deposit: d(100), PaymentStatus: PaymentPaid}
	require.True(t, counter.heldDeposit().IsZero())

	partial := Invoice{Deposit: d(40), PaymentStatus: PaymentPartial}
	require.True(t, partial.heldDeposit().Equal(d(40)))

	shipped := Invoice{Deposit: d(100), PaymentStatus: PaymentPaid, IsDelivery: true}
	require.True(t, shipped.heldDeposit().Equal(d(100)))
}

func TestInvoiceFlowTerminalStates(t *testing.T) {
	for _, s := range []InvoiceStatus{InvoiceCancel, InvoiceReturned, InvoiceReturnAtCounter} {
		require.True(t, InvoiceFlow.Terminal(s), s)
	}
	require.True(t, InvoiceFlow.Can(InvoiceReadyToPick, InvoicePicking))
	require.False(t, InvoiceFlow.Can(InvoiceDelivered, InvoiceCancel))
	require.False(t, InvoiceFlow.Can(InvoiceCancel, InvoiceReadyToPick))
}

func TestRecalculateIsIdempotent(t *testing.T) {
	inv := Invoice{
		Items: []InvoiceItem{
			{ProductID: "SP1", Quantity: 2, Price: decimal.NewFromInt(150), Discount: pricing.Discount{Value: decimal.NewFromInt(10), Type: pricing.DiscountPercent}},
		},
		ServiceItems: []ServiceItem{
			{Name: "Gói quà", Quantity: 1, Price: decimal.NewFromInt(20), Discount: pricing.Discount{Type: pricing.DiscountValue}},
		},
		Discount: pricing.Discount{Value: decimal.NewFromInt(30), Type: pricing.DiscountValue},
	}
	inv.Recalculate()
	first := inv.TotalValue
	inv.Recalculate()
	require.True(t, first.Equal(inv.TotalValue))
	require.True(t, first.Equal(decimal.NewFromInt(260)))
}

func TestInvoiceJSONCarriesDiscount(t *testing.T) {
	inv := Invoice{ID: "DH7", Discount: pricing.Discount{Value: decimal.NewFromInt(5), Type: pricing.DiscountPercent}}
	raw, err := json.Marshal(inv)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, "DH7", got["id"])
	require.Equal(t, "5", got["discount"])
	require.Equal(t, "%", got["discount_type"])
}
