package delivery_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lilas/backoffice/internal/delivery"
	"github.com/lilas/backoffice/internal/delivery/deliverytest"
	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/inventory/inventorytest"
	"github.com/lilas/backoffice/internal/sales"
	"github.com/lilas/backoffice/internal/sales/salestest"
	"github.com/lilas/backoffice/internal/shared"
	"github.com/lilas/backoffice/internal/users/userstest"
)

const shopID = 885

type fixture struct {
	svc      *delivery.Service
	sales    *sales.Service
	store    *deliverytest.Store
	invoices *salestest.Store
	products *inventorytest.Products
	carrier  *deliverytest.Carrier
	logger   *slog.Logger
	notified int
}

func (f *fixture) InvoicesChanged(context.Context) { f.notified++ }

type memIdempotency struct {
	keys    map[string]bool
	deleted []string
}

func (m *memIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memIdempotency) Delete(_ context.Context, key string) error {
	delete(m.keys, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	lipstick := inventorytest.Sellable("SP1", "Son môi", 200, 5, 0)
	lipstick.Length, lipstick.Width, lipstick.Height = 10, 5, 3
	sunscreen := inventorytest.Sellable("SP2", "Kem chống nắng", 100, 10, 0)
	sunscreen.Weight, sunscreen.Length, sunscreen.Width, sunscreen.Height = 100, 12, 4, 4

	f := &fixture{
		products: inventorytest.NewProducts(lipstick, sunscreen),
		carrier:  deliverytest.NewCarrier(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	f.invoices = salestest.NewStore(f.products, userstest.NewStaff(userstest.Active("NV1", "Lan")))
	c := f.invoices.Seed("KH10", "Nguyễn Văn An", salestest.RetailGroupID)
	c.Phone = "0912345678"
	c.Address = "12 Lê Lợi"
	c.Province = "Hồ Chí Minh"
	c.DistrictName = "Quận 1"
	c.WardName = "Phường Bến Nghé"
	f.invoices.AddCustomer(c)
	f.invoices.Seed("KH11", "Trần Thị Bình", salestest.RetailGroupID)

	f.sales = sales.NewService(f.invoices, nil)
	f.store = deliverytest.NewStore(f.invoices.Invoices)
	f.store.AddShop(delivery.Shop{ShopID: shopID, Name: "Lilas Terra", Address: "1 Nguyễn Huệ", Phone: "0987654321", DistrictID: 1442, WardCode: "20101"})
	f.svc = delivery.NewService(f.store, f.carrier, nil, f.logger).WithNotifier(f)
	return f
}

func (f *fixture) invoice(t *testing.T, customerID string) sales.Invoice {
	t.Helper()
	inv, err := f.sales.CreateInvoice(context.Background(), sales.CreateInvoiceInput{
		CustomerID: customerID,
		UserID:     "NV1",
		Branch:     "Terra",
		IsDelivery: true,
		Items: []sales.ItemInput{
			{ProductID: "SP1", Quantity: 2},
			{ProductID: "SP2", Quantity: 1},
		},
	})
	require.NoError(t, err)
	return inv
}

func (f *fixture) ship(t *testing.T) (sales.Invoice, delivery.Delivery) {
	t.Helper()
	inv := f.invoice(t, "KH10")
	d, err := f.svc.Create(context.Background(), inv.ID, shopID, delivery.CreateInput{})
	require.NoError(t, err)
	return inv, d
}

// shipWithDeposit ships an invoice that collected a deposit up front.
func (f *fixture) shipWithDeposit(t *testing.T, deposit int64) (sales.Invoice, delivery.Delivery) {
	t.Helper()
	inv, err := f.sales.CreateInvoice(context.Background(), sales.CreateInvoiceInput{
		CustomerID: "KH10",
		UserID:     "NV1",
		Branch:     "Terra",
		IsDelivery: true,
		Deposit:    decimal.NewFromInt(deposit),
		Items: []sales.ItemInput{
			{ProductID: "SP1", Quantity: 2},
			{ProductID: "SP2", Quantity: 1},
		},
	})
	require.NoError(t, err)
	d, err := f.svc.Create(context.Background(), inv.ID, shopID, delivery.CreateInput{})
	require.NoError(t, err)
	return inv, d
}

func TestCreateRegistersOrderAndDispatchesInvoice(t *testing.T) {
	f := newFixture(t)
	idem := &memIdempotency{keys: map[string]bool{}}
	f.svc.WithIdempotency(idem)

	inv, d := f.ship(t)
	require.Equal(t, "GHN1", d.OrderCode)
	require.Equal(t, delivery.StatusReadyToPick, d.Status)
	require.Equal(t, "Son môi [SL: 2], Kem chống nắng [SL: 1]", d.Content)
	require.Equal(t, int64(500), d.InsuranceValue)
	require.Equal(t, delivery.DefaultRequiredNote, d.RequiredNote)
	require.Equal(t, delivery.DefaultNote, d.Note)
	require.Equal(t, delivery.DefaultServiceTypeID, d.ServiceTypeID)
	require.Equal(t, 500, d.Weight)
	require.Equal(t, 12, d.Length)
	require.Equal(t, 5, d.Width)
	require.Equal(t, 10, d.Height)
	require.Equal(t, "Phường Bến Nghé", d.ToWardName)
	require.True(t, idem.keys["delivery:create:"+inv.ID])
	require.Equal(t, 1, f.notified)

	require.Len(t, f.carrier.Orders, 1)
	require.Equal(t, "Son môi_SP1", f.carrier.Orders[0].Items[0].Code)
	require.Equal(t, int64(200), f.carrier.Orders[0].Items[0].Price)

	stored := f.invoices.Invoice(inv.ID)
	require.Equal(t, sales.InvoicePicking, stored.Status)
	require.True(t, stored.IsDelivery)
	require.Equal(t, inventory.StockLevel{Stock: 5, CanSell: 3, OutForDelivery: 2}, f.products.Level("SP1", inventory.BranchTerra))

	_, err := f.svc.Create(context.Background(), inv.ID, shopID, delivery.CreateInput{})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	f.svc.WithIdempotency(nil)
	_, err = f.svc.Create(context.Background(), inv.ID, shopID, delivery.CreateInput{})
	require.ErrorIs(t, err, sales.ErrInvoiceNotReadyToPick)
	require.Len(t, f.carrier.Orders, 1)
}

func TestCreateKeepsExplicitPackageOptions(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, "KH10")
	shift := 2
	d, err := f.svc.Create(context.Background(), inv.ID, shopID, delivery.CreateInput{
		Note:      "Gọi trước khi giao",
		Weight:    1200,
		CODAmount: 500,
		PickShift: &shift,
	})
	require.NoError(t, err)
	require.Equal(t, 1200, d.Weight)
	require.Equal(t, "Gọi trước khi giao", d.Note)
	require.Equal(t, int64(500), f.carrier.Orders[0].CODAmount)
	require.Equal(t, 2, *f.carrier.Orders[0].PickShift)
}

func TestCreateRequiresRecipientAddress(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, "KH11")

	_, err := f.svc.Create(context.Background(), inv.ID, shopID, delivery.CreateInput{})
	require.ErrorIs(t, err, delivery.ErrPhoneRequired)
	require.ErrorIs(t, err, shared.ErrValidation)

	c := f.invoices.Customer("KH11")
	c.Phone = "0901234567"
	f.invoices.AddCustomer(c)
	_, err = f.svc.Create(context.Background(), inv.ID, shopID, delivery.CreateInput{})
	require.ErrorIs(t, err, delivery.ErrAddressRequired)

	c.Address = "5 Hai Bà Trưng"
	c.Province = "Hà Nội"
	f.invoices.AddCustomer(c)
	_, err = f.svc.Create(context.Background(), inv.ID, shopID, delivery.CreateInput{})
	require.ErrorIs(t, err, delivery.ErrDistrictRequired)

	require.Empty(t, f.carrier.Orders)
	require.Zero(t, f.store.Count())
	require.Equal(t, sales.InvoiceReadyToPick, f.invoices.Invoice(inv.ID).Status)
}

func TestCreateRejectsUnknownShop(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, "KH10")
	_, err := f.svc.Create(context.Background(), inv.ID, 1, delivery.CreateInput{})
	require.ErrorIs(t, err, delivery.ErrShopNotFound)
}

func TestCarrierRejectionLeavesNoLocalState(t *testing.T) {
	f := newFixture(t)
	idem := &memIdempotency{keys: map[string]bool{}}
	f.svc.WithIdempotency(idem)
	f.carrier.CreateErr = delivery.ErrCarrierRejected.WithMessage("Số điện thoại người nhận không hợp lệ")
	inv := f.invoice(t, "KH10")

	_, err := f.svc.Create(context.Background(), inv.ID, shopID, delivery.CreateInput{})
	require.ErrorIs(t, err, shared.ErrCarrier)
	require.Contains(t, err.Error(), "Số điện thoại người nhận không hợp lệ")

	require.Zero(t, f.store.Count())
	require.Equal(t, sales.InvoiceReadyToPick, f.invoices.Invoice(inv.ID).Status)
	require.Equal(t, inventory.StockLevel{Stock: 5, CanSell: 3}, f.products.Level("SP1", inventory.BranchTerra))
	require.Equal(t, []string{"delivery:create:" + inv.ID}, idem.deleted)
	require.Zero(t, f.notified)
}

func TestCancelRecallsGoodsAndCancelsInvoice(t *testing.T) {
	f := newFixture(t)
	inv, d := f.ship(t)

	canceled, err := f.svc.Cancel(context.Background(), d.OrderCode)
	require.NoError(t, err)
	require.Equal(t, delivery.StatusCancel, canceled.Status)
	require.Equal(t, []string{"GHN1"}, f.carrier.Canceled)

	stored := f.invoices.Invoice(inv.ID)
	require.Equal(t, sales.InvoiceCancel, stored.Status)
	require.False(t, stored.Active)
	require.Equal(t, inventory.StockLevel{Stock: 5, CanSell: 5}, f.products.Level("SP1", inventory.BranchTerra))

	_, err = f.svc.Cancel(context.Background(), d.OrderCode)
	require.ErrorIs(t, err, delivery.ErrAlreadyCanceled)
}

func TestCancelSettlesLikeCounterCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv, d := f.shipWithDeposit(t, 50)
	require.True(t, f.invoices.Customer("KH10").Debt.Equal(decimal.NewFromInt(50)))

	_, err := f.svc.Cancel(ctx, d.OrderCode)
	require.NoError(t, err)

	cust := f.invoices.Customer("KH10")
	require.Zero(t, cust.TotalOrder)
	require.True(t, cust.Debt.IsZero())
	stored := f.invoices.Invoice(inv.ID)
	require.Equal(t, sales.InvoiceCancel, stored.Status)
	require.Equal(t, sales.PaymentUnpaid, stored.PaymentStatus)
	require.True(t, stored.Deposit.IsZero())
	require.Equal(t, inventory.StockLevel{Stock: 5, CanSell: 5}, f.products.Level("SP1", inventory.BranchTerra))

	twin, err := f.sales.CreateInvoice(ctx, sales.CreateInvoiceInput{
		CustomerID: "KH10",
		UserID:     "NV1",
		Branch:     "Terra",
		IsDelivery: true,
		Deposit:    decimal.NewFromInt(50),
		Items:      []sales.ItemInput{{ProductID: "SP1", Quantity: 2}},
	})
	require.NoError(t, err)
	_, err = f.sales.CancelInvoice(ctx, twin.ID)
	require.NoError(t, err)
	require.Equal(t, cust.TotalOrder, f.invoices.Customer("KH10").TotalOrder)
	require.True(t, f.invoices.Customer("KH10").Debt.IsZero())
}

func TestCancelAcceptsMoneyCollectPicking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv, d := f.shipWithDeposit(t, 50)
	f.carrier.SetStatus(d.OrderCode, delivery.StatusMoneyCollectPicking)
	_, err := f.syncer().Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, sales.InvoiceDelivering, f.invoices.Invoice(inv.ID).Status)

	canceled, err := f.svc.Cancel(ctx, d.OrderCode)
	require.NoError(t, err)
	require.Equal(t, delivery.StatusCancel, canceled.Status)
	require.Equal(t, sales.InvoiceCancel, f.invoices.Invoice(inv.ID).Status)
	require.Zero(t, f.invoices.Customer("KH10").TotalOrder)
	require.True(t, f.invoices.Customer("KH10").Debt.IsZero())
	require.Equal(t, inventory.StockLevel{Stock: 5, CanSell: 5}, f.products.Level("SP1", inventory.BranchTerra))
}

func TestCancelRequiresEarlyCarrierStatus(t *testing.T) {
	f := newFixture(t)
	_, d := f.ship(t)
	f.carrier.SetStatus(d.OrderCode, "picked")
	sync := delivery.NewSyncService(f.store, f.carrier, nil, 0, f.logger)
	_, err := sync.Sweep(context.Background())
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), d.OrderCode)
	require.ErrorIs(t, err, delivery.ErrCannotCancel)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Empty(t, f.carrier.Canceled)
}

func TestCancelRollsBackWhenCarrierRefuses(t *testing.T) {
	f := newFixture(t)
	inv, d := f.ship(t)
	f.carrier.CancelErr = delivery.ErrCarrierRejected.WithMessage("Đơn hàng đã được lấy")

	_, err := f.svc.Cancel(context.Background(), d.OrderCode)
	require.ErrorIs(t, err, delivery.ErrCarrierRejected)
	require.Equal(t, delivery.StatusReadyToPick, f.store.Delivery(d.OrderCode).Status)
	require.Equal(t, sales.InvoicePicking, f.invoices.Invoice(inv.ID).Status)
	require.Equal(t, 2, f.products.Level("SP1", inventory.BranchTerra).OutForDelivery)
}

func TestGetRefreshesTracking(t *testing.T) {
	f := newFixture(t)
	_, d := f.ship(t)
	pickup := time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)
	f.carrier.SetTracking(d.OrderCode, decimal.NewFromInt(25500), pickup)

	got, err := f.svc.Get(context.Background(), d.OrderCode)
	require.NoError(t, err)
	require.True(t, got.ServiceFee.Equal(decimal.NewFromInt(25500)))
	require.NotNil(t, got.PickupTime)
	require.True(t, got.PickupTime.Equal(pickup))
	require.NotNil(t, got.Shop)
	require.Equal(t, "Lilas Terra", got.Shop.Name)

	stored := f.store.Delivery(d.OrderCode)
	require.True(t, stored.ServiceFee.Equal(decimal.NewFromInt(25500)))

	_, err = f.svc.Get(context.Background(), "NOPE")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPrintReturnsCarrierLabel(t *testing.T) {
	f := newFixture(t)
	_, d := f.ship(t)
	page, err := f.svc.Print(context.Background(), d.OrderCode)
	require.NoError(t, err)
	require.Equal(t, "<html>token-GHN1</html>", string(page))
}

func TestShopsAndListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shop, err := f.svc.CreateShop(ctx, delivery.ShopInput{
		Name:       " Lilas Thợ Nhuộm ",
		Address:    "20 Thợ Nhuộm",
		Phone:      "0912345678",
		DistrictID: 1488,
		WardCode:   "1A0807",
	})
	require.NoError(t, err)
	require.Equal(t, 1001, shop.ShopID)
	require.Equal(t, "Lilas Thợ Nhuộm", shop.Name)

	_, err = f.svc.CreateShop(ctx, delivery.ShopInput{Address: "x", Phone: "0912345678", DistrictID: 1, WardCode: "1"})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, f.carrier.Shops, 1)

	shops, total, err := f.svc.ListShops(ctx, delivery.ShopFilter{Search: "tho nhuom"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, 1001, shops[0].ShopID)

	f.ship(t)
	items, total, err := f.svc.List(ctx, delivery.Filter{Search: "son moi"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "GHN1", items[0].OrderCode)

	_, total, err = f.svc.List(ctx, delivery.Filter{Status: delivery.StatusCancel})
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestReferenceDataPassesThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	districts, err := f.svc.Districts(ctx, 202)
	require.NoError(t, err)
	require.Equal(t, 202, districts[0].ProvinceID)
	wards, err := f.svc.Wards(ctx, 1442)
	require.NoError(t, err)
	require.Equal(t, "20101", wards[0].WardCode)
	shifts, err := f.svc.PickShifts(ctx)
	require.NoError(t, err)
	require.Len(t, shifts, 1)
}
