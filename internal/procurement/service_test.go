package procurement_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/inventory/inventorytest"
	"github.com/lilas/backoffice/internal/procurement"
	"github.com/lilas/backoffice/internal/procurement/procurementtest"
	"github.com/lilas/backoffice/internal/shared"
	"github.com/lilas/backoffice/internal/users/userstest"
)

type fixture struct {
	svc      *procurement.Service
	store    *procurementtest.Store
	products *inventorytest.Products
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	returned := inventorytest.Sellable("SP2", "Kem chống nắng", 100, 10, 0)
	returned.PriceImport = decimal.NewFromInt(50)
	f := &fixture{
		products: inventorytest.NewProducts(
			inventorytest.Sellable("SP1", "Son môi", 200, 0, 0),
			returned,
		),
	}
	staff := userstest.NewStaff(userstest.Active("NV1", "Lan"))
	f.store = procurementtest.NewStore(f.products, staff)
	f.store.Seed("Công ty Hoa Sen")
	f.svc = procurement.NewService(f.store, nil)
	return f
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func (f *fixture) importBill(t *testing.T, qty int, price, paid int64) procurement.ImportBill {
	t.Helper()
	bill, err := f.svc.CreateImportBill(context.Background(), procurement.ImportBillInput{
		SupplierID: "NCC1",
		UserID:     "NV1",
		Branch:     "Terra",
		PaidAmount: dec(paid),
		Items:      []procurement.BillItemInput{{ProductID: "SP1", Quantity: qty, Price: dec(price)}},
	})
	require.NoError(t, err)
	return bill
}

func TestSupplierLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sup, err := f.svc.CreateSupplier(ctx, procurement.SupplierInput{ContactName: " Mỹ phẩm An Nhiên ", Phone: "0912345678"})
	require.NoError(t, err)
	require.Equal(t, "NCC2", sup.ID)
	require.Equal(t, "Mỹ phẩm An Nhiên", sup.ContactName)

	_, err = f.svc.CreateSupplier(ctx, procurement.SupplierInput{ContactName: "mỹ phẩm an nhiên"})
	require.ErrorIs(t, err, procurement.ErrContactNameExists)

	_, err = f.svc.PaySupplier(ctx, "NCC1", decimal.Zero)
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	tx, err := f.svc.PaySupplier(ctx, "NCC1", dec(500))
	require.NoError(t, err)
	require.Equal(t, "Thanh toán tự do 500", tx.Note)
	require.True(t, f.store.Supplier("NCC1").Debt.Equal(dec(-500)))

	require.NoError(t, f.svc.DeactivateSupplier(ctx, "NCC1"))
	_, err = f.svc.CreateImportBill(ctx, procurement.ImportBillInput{
		SupplierID: "NCC1",
		UserID:     "NV1",
		Branch:     "Terra",
		Items:      []procurement.BillItemInput{{ProductID: "SP1", Quantity: 1, Price: dec(10)}},
	})
	require.ErrorIs(t, err, procurement.ErrSupplierNotFound)
}

func TestImportCostAppliesOnConfirmAndStockOnInspection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bill := f.importBill(t, 10, 100, 0)
	require.Equal(t, "PN1", bill.ID)
	require.Equal(t, procurement.ImportPending, bill.Status)
	require.True(t, bill.TotalValue.Equal(dec(1000)))
	require.Equal(t, inventory.StockLevel{PendingArrival: 10}, f.products.Level("SP1", inventory.BranchTerra))

	bill, err := f.svc.ConfirmImportBill(ctx, bill.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.ImportReceivedUnpaid, bill.Status)
	require.True(t, f.products.Get("SP1").PriceImport.Equal(dec(100)))
	require.Equal(t, 0, f.products.Level("SP1", inventory.BranchTerra).Stock)

	sup := f.store.Supplier("NCC1")
	require.True(t, sup.Debt.Equal(dec(1000)))
	require.Equal(t, 1, sup.TotalImportOrders)

	_, err = f.svc.ConfirmImportBill(ctx, bill.ID)
	require.ErrorIs(t, err, procurement.ErrOnlyPendingImport)

	report, err := f.svc.CreateInspection(ctx, procurement.InspectionInput{
		ImportBillID: bill.ID,
		UserID:       "NV1",
		Items:        []procurement.InspectionItemInput{{ProductID: "SP1", ActualQuantity: 8, Reason: "vỡ"}},
	})
	require.NoError(t, err)
	require.Equal(t, inventory.BranchTerra, report.Branch)
	require.Equal(t, 10, report.Items[0].Quantity)

	report, err = f.svc.CompleteInspection(ctx, report.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.InspectionChecked, report.Status)
	require.NotNil(t, report.CompleteAt)
	require.Equal(t, inventory.StockLevel{Stock: 8, CanSell: 8, PendingArrival: 2}, f.products.Level("SP1", inventory.BranchTerra))

	_, err = f.svc.CompleteInspection(ctx, report.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestImportPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateImportBill(ctx, procurement.ImportBillInput{
		SupplierID: "NCC1",
		UserID:     "NV1",
		Branch:     "Terra",
		PaidAmount: dec(2000),
		Items:      []procurement.BillItemInput{{ProductID: "SP1", Quantity: 10, Price: dec(100)}},
	})
	require.ErrorIs(t, err, procurement.ErrPaidExceedsTotal)
	require.Equal(t, 0, f.products.Level("SP1", inventory.BranchTerra).PendingArrival)

	bill := f.importBill(t, 10, 100, 300)
	require.True(t, f.store.Supplier("NCC1").Debt.Equal(dec(-300)))
	txs := f.store.Transactions("NCC1")
	require.Len(t, txs, 1)
	require.Equal(t, bill.ID, txs[0].ImportBillID)

	bill, err = f.svc.ConfirmImportBill(ctx, bill.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.ImportReceivedUnpaid, bill.Status)
	require.True(t, f.store.Supplier("NCC1").Debt.Equal(dec(700)))

	_, err = f.svc.PayImportBill(ctx, bill.ID, dec(800))
	require.ErrorIs(t, err, procurement.ErrAmountExceedsTotal)

	bill, err = f.svc.PayImportBill(ctx, bill.ID, dec(700))
	require.NoError(t, err)
	require.Equal(t, procurement.ImportReceivedPaid, bill.Status)
	require.True(t, bill.PaidAmount.Equal(dec(1000)))
	require.True(t, f.store.Supplier("NCC1").Debt.IsZero())
	require.Len(t, f.store.Transactions("NCC1"), 2)
}

func TestPaidOnCreateConfirmsAsPaid(t *testing.T) {
	f := newFixture(t)

	bill := f.importBill(t, 2, 100, 200)
	bill, err := f.svc.ConfirmImportBill(context.Background(), bill.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.ImportReceivedPaid, bill.Status)
}

func TestUpdateAndCancelImportMovePendingArrival(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := f.importBill(t, 10, 100, 0)

	other := "Thợ Nhuộm"
	bill, err := f.svc.UpdateImportBill(ctx, bill.ID, procurement.UpdateImportBillInput{
		Branch: &other,
		Items:  []procurement.BillItemInput{{ProductID: "SP1", Quantity: 4, Price: dec(100)}},
	})
	require.NoError(t, err)
	require.Equal(t, inventory.BranchThoNhuom, bill.Branch)
	require.Equal(t, 0, f.products.Level("SP1", inventory.BranchTerra).PendingArrival)
	require.Equal(t, 4, f.products.Level("SP1", inventory.BranchThoNhuom).PendingArrival)

	_, err = f.svc.UpdateImportBill(ctx, bill.ID, procurement.UpdateImportBillInput{
		Items: []procurement.BillItemInput{
			{ProductID: "SP1", Quantity: 1, Price: dec(1)},
			{ProductID: "SP1", Quantity: 2, Price: dec(1)},
		},
	})
	require.ErrorIs(t, err, procurement.ErrDuplicateProductInBill)

	bill, err = f.svc.CancelImportBill(ctx, bill.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.ImportCanceled, bill.Status)
	require.Equal(t, 0, f.products.Level("SP1", inventory.BranchThoNhuom).PendingArrival)

	_, err = f.svc.CancelImportBill(ctx, bill.ID)
	require.ErrorIs(t, err, procurement.ErrOnlyPendingCancel)
	_, err = f.svc.PayImportBill(ctx, bill.ID, dec(1))
	require.ErrorIs(t, err, procurement.ErrImportBillNotReceived)
}

func TestInspectionRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := f.importBill(t, 10, 100, 0)

	in := procurement.InspectionInput{
		ImportBillID: bill.ID,
		UserID:       "NV1",
		Items:        []procurement.InspectionItemInput{{ProductID: "SP1", ActualQuantity: 10}},
	}
	_, err := f.svc.CreateInspection(ctx, in)
	require.ErrorIs(t, err, procurement.ErrBillNotReceived)

	_, err = f.svc.ConfirmImportBill(ctx, bill.ID)
	require.NoError(t, err)

	_, err = f.svc.CreateInspection(ctx, procurement.InspectionInput{
		ImportBillID: bill.ID,
		UserID:       "NV1",
		Items:        []procurement.InspectionItemInput{{ProductID: "SP2", ActualQuantity: 1}},
	})
	require.ErrorIs(t, err, procurement.ErrProductNotInBill)

	report, err := f.svc.CreateInspection(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.CreateInspection(ctx, in)
	require.ErrorIs(t, err, procurement.ErrInspectionExists)

	eight := 8
	_, err = f.svc.UpdateInspection(ctx, report.ID, procurement.UpdateInspectionInput{
		Items: []procurement.InspectionItemUpdate{{ProductID: "SP1", ActualQuantity: &eight, Reason: "móp", Note: "hộp móp"}},
	})
	require.NoError(t, err)
	_, err = f.svc.UpdateInspection(ctx, report.ID, procurement.UpdateInspectionInput{})
	require.NoError(t, err)

	history, err := f.svc.InspectionHistory(ctx, report.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "SP SP1: SL 10 -> 8, note='hộp móp'", history[0].Note)
	require.Equal(t, "móp", history[0].Reason)
	require.Equal(t, "NV1", history[0].UserID)
	require.Equal(t, "Không có thay đổi.", history[1].Note)

	_, err = f.svc.CompleteInspection(ctx, report.ID)
	require.NoError(t, err)
	require.Equal(t, 8, f.products.Level("SP1", inventory.BranchTerra).Stock)

	_, err = f.svc.UpdateInspection(ctx, report.ID, procurement.UpdateInspectionInput{})
	require.ErrorIs(t, err, procurement.ErrInspectionLocked)
}

func TestReturnBillConfirmMovesStockCostAndDebt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateReturnBill(ctx, procurement.ReturnBillInput{
		SupplierID: "NCC1",
		UserID:     "NV1",
		Branch:     "Terra",
		Items:      []procurement.BillItemInput{{ProductID: "SP2", Quantity: 11, Price: dec(50)}},
	})
	require.ErrorIs(t, err, procurement.ErrReturnStockNotEnough)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	bill, err := f.svc.CreateReturnBill(ctx, procurement.ReturnBillInput{
		SupplierID: "NCC1",
		UserID:     "NV1",
		Branch:     "Terra",
		ExtraFee:   dec(40),
		Items:      []procurement.BillItemInput{{ProductID: "SP2", Quantity: 4, Price: dec(50)}},
	})
	require.NoError(t, err)
	require.Equal(t, "TH1", bill.ID)
	require.Equal(t, procurement.ReturnReturning, bill.Status)
	require.True(t, bill.TotalValue.Equal(dec(240)))
	require.Equal(t, 10, f.products.Level("SP2", inventory.BranchTerra).Stock)

	bill, err = f.svc.ConfirmReturnBill(ctx, bill.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.ReturnReturned, bill.Status)
	require.Equal(t, inventory.StockLevel{Stock: 6, CanSell: 6}, f.products.Level("SP2", inventory.BranchTerra))
	// (10*50 - 4*60) / 6
	require.Equal(t, "43.33", f.products.Get("SP2").PriceImport.StringFixed(2))

	sup := f.store.Supplier("NCC1")
	require.True(t, sup.Debt.Equal(dec(-240)))
	require.Equal(t, 1, sup.TotalReturnOrders)
	require.True(t, sup.TotalReturnValue.Equal(dec(240)))

	_, err = f.svc.CancelReturnBill(ctx, bill.ID)
	require.ErrorIs(t, err, procurement.ErrOnlyReturningCancel)
	_, err = f.svc.UpdateReturnBill(ctx, bill.ID, procurement.UpdateReturnBillInput{})
	require.ErrorIs(t, err, procurement.ErrReturnBillCompleted)
}

func TestCancelReturnBillDeactivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill, err := f.svc.CreateReturnBill(ctx, procurement.ReturnBillInput{
		SupplierID: "NCC1",
		UserID:     "NV1",
		Branch:     "Terra",
		Items:      []procurement.BillItemInput{{ProductID: "SP2", Quantity: 1, Price: dec(50)}},
	})
	require.NoError(t, err)

	bill, err = f.svc.CancelReturnBill(ctx, bill.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.ReturnCanceled, bill.Status)
	require.False(t, bill.Active)
	_, err = f.svc.ConfirmReturnBill(ctx, bill.ID)
	require.ErrorIs(t, err, procurement.ErrOnlyReturningConfirm)
	require.Equal(t, 10, f.products.Level("SP2", inventory.BranchTerra).Stock)
}
