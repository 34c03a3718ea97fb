package delivery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lilas/backoffice/internal/delivery"
	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/sales"
	"github.com/lilas/backoffice/internal/shared"
)

type outcomes map[string]int

func (o outcomes) SyncOutcome(outcome string, count int) { o[outcome] += count }

func (f *fixture) syncer() *delivery.SyncService {
	return delivery.NewSyncService(f.store, f.carrier, nil, time.Minute, f.logger).WithNotifier(f)
}

func TestSyncDeliveredSettlesOnce(t *testing.T) {
	f := newFixture(t)
	inv, d := f.ship(t)
	f.carrier.SetStatus(d.OrderCode, "delivered")
	rec := outcomes{}
	sweep := f.syncer().WithRecorder(rec)

	report, err := sweep.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, delivery.SyncReport{Checked: 1, Updated: 1}, report)

	stored := f.invoices.Invoice(inv.ID)
	require.Equal(t, sales.InvoiceDelivered, stored.Status)
	require.Equal(t, sales.PaymentPaid, stored.PaymentStatus)
	require.Equal(t, inventory.StockLevel{Stock: 3, CanSell: 3}, f.products.Level("SP1", inventory.BranchTerra))
	got := f.store.Delivery(d.OrderCode)
	require.Equal(t, "delivered", got.Status)
	require.Equal(t, string(sales.PaymentPaid), got.PaymentStatus)

	report, err = sweep.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, delivery.SyncReport{Checked: 1, Unchanged: 1}, report)
	require.Equal(t, inventory.StockLevel{Stock: 3, CanSell: 3}, f.products.Level("SP1", inventory.BranchTerra))
	require.Equal(t, outcomes{delivery.OutcomeUpdated: 1, delivery.OutcomeUnchanged: 1, delivery.OutcomeFailed: 0}, rec)
}

func TestSyncReturnedRestocksAndStopsPolling(t *testing.T) {
	f := newFixture(t)
	inv, d := f.ship(t)
	sweep := f.syncer()
	ctx := context.Background()

	f.carrier.SetStatus(d.OrderCode, "storing")
	_, err := sweep.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, sales.InvoiceDelivering, f.invoices.Invoice(inv.ID).Status)

	f.carrier.SetStatus(d.OrderCode, "delivery_fail")
	_, err = sweep.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, sales.InvoiceReturning, f.invoices.Invoice(inv.ID).Status)

	f.carrier.SetStatus(d.OrderCode, "returned")
	report, err := sweep.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Updated)
	stored := f.invoices.Invoice(inv.ID)
	require.Equal(t, sales.InvoiceReturned, stored.Status)
	require.False(t, stored.Active)
	require.Equal(t, inventory.StockLevel{Stock: 5, CanSell: 5}, f.products.Level("SP1", inventory.BranchTerra))
	require.Equal(t, 1, f.invoices.Customer("KH10").TotalReturnOrders)

	report, err = sweep.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Checked)
}

func TestSyncCancelRefundsDepositAndRecallsStock(t *testing.T) {
	f := newFixture(t)
	inv, d := f.shipWithDeposit(t, 50)
	require.Equal(t, 2, f.products.Level("SP1", inventory.BranchTerra).OutForDelivery)
	f.carrier.SetStatus(d.OrderCode, delivery.StatusCancel)

	report, err := f.syncer().Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Updated)

	stored := f.invoices.Invoice(inv.ID)
	require.Equal(t, sales.InvoiceCancel, stored.Status)
	require.Equal(t, sales.PaymentUnpaid, stored.PaymentStatus)
	require.False(t, stored.Active)
	require.True(t, stored.Deposit.IsZero())

	cust := f.invoices.Customer("KH10")
	require.True(t, cust.Debt.IsZero())
	require.Equal(t, 1, cust.TotalOrder)
	for _, tx := range f.invoices.Transactions("KH10") {
		require.False(t, tx.Active)
	}

	require.Equal(t, inventory.StockLevel{Stock: 5, CanSell: 5}, f.products.Level("SP1", inventory.BranchTerra))
	require.Equal(t, inventory.StockLevel{Stock: 10, CanSell: 10}, f.products.Level("SP2", inventory.BranchTerra))
	require.Equal(t, delivery.StatusCancel, f.store.Delivery(d.OrderCode).Status)
}

func TestSyncSkipsFailingDeliveries(t *testing.T) {
	f := newFixture(t)
	_, first := f.ship(t)
	second, err := f.sales.CreateInvoice(context.Background(), sales.CreateInvoiceInput{
		CustomerID: "KH10",
		UserID:     "NV1",
		Branch:     "Terra",
		IsDelivery: true,
		Items:      []sales.ItemInput{{ProductID: "SP2", Quantity: 2}},
	})
	require.NoError(t, err)
	d2, err := f.svc.Create(context.Background(), second.ID, shopID, delivery.CreateInput{})
	require.NoError(t, err)

	f.carrier.FailDetail(first.OrderCode, errors.New("gateway timeout"))
	f.carrier.SetStatus(d2.OrderCode, "picked")

	report, err := f.syncer().Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, delivery.SyncReport{Checked: 2, Updated: 1, Failed: 1}, report)
	require.Equal(t, sales.InvoiceDelivering, f.invoices.Invoice(second.ID).Status)
	require.Equal(t, delivery.StatusReadyToPick, f.store.Delivery(first.OrderCode).Status)
}

func TestSyncRollsBackWhenStockRuleFails(t *testing.T) {
	f := newFixture(t)
	inv, d := f.ship(t)
	p := f.products.Get("SP1")
	p.Levels[inventory.BranchTerra] = inventory.StockLevel{Stock: 1, CanSell: 1, OutForDelivery: 2}
	f.products.Add(p)
	f.carrier.SetStatus(d.OrderCode, "delivered")

	report, err := f.syncer().Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, delivery.StatusReadyToPick, f.store.Delivery(d.OrderCode).Status)
	require.Equal(t, sales.InvoicePicking, f.invoices.Invoice(inv.ID).Status)
	require.Equal(t, 1, f.products.Level("SP1", inventory.BranchTerra).Stock)
}

func TestSyncUnknownStatusOnlyTouchesDelivery(t *testing.T) {
	f := newFixture(t)
	inv, d := f.ship(t)
	f.carrier.SetStatus(d.OrderCode, "waiting_for_magic")

	report, err := f.syncer().Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Updated)
	require.Equal(t, "waiting_for_magic", f.store.Delivery(d.OrderCode).Status)
	require.Equal(t, sales.InvoicePicking, f.invoices.Invoice(inv.ID).Status)
}

func TestSyncHonoursDistributedLock(t *testing.T) {
	f := newFixture(t)
	f.ship(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := redislock.New(client)
	ctx := context.Background()

	held, err := locker.Obtain(ctx, shared.DeliverySyncLockKey, time.Minute, nil)
	require.NoError(t, err)

	sweep := delivery.NewSyncService(f.store, f.carrier, locker, time.Minute, f.logger)
	_, err = sweep.Sweep(ctx)
	require.ErrorIs(t, err, delivery.ErrSyncInProgress)

	require.NoError(t, held.Release(ctx))
	report, err := sweep.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Checked)
	require.False(t, mr.Exists(shared.DeliverySyncLockKey))
}

func TestStatusMapping(t *testing.T) {
	cases := map[string]sales.InvoiceStatus{
		"ready_to_pick":         sales.InvoicePicking,
		"money_collect_picking": sales.InvoiceDelivering,
		"delivered":             sales.InvoiceDelivered,
		"lost":                  sales.InvoiceReturning,
		"returned":              sales.InvoiceReturned,
		"cancel":                sales.InvoiceCancel,
	}
	for carrier, want := range cases {
		got, ok := delivery.InvoiceStatusFor(carrier)
		require.True(t, ok, carrier)
		require.Equal(t, want, got, carrier)
	}
	_, ok := delivery.InvoiceStatusFor("teleported")
	require.False(t, ok)
	require.True(t, delivery.Terminal("returned"))
	require.False(t, delivery.Terminal("delivered"))
	require.True(t, delivery.Cancellable("money_collect_picking"))
	require.False(t, delivery.Cancellable("picked"))
}
