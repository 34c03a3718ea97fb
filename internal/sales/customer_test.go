package sales_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lilas/backoffice/internal/sales"
	"github.com/lilas/backoffice/internal/sales/salestest"
	"github.com/lilas/backoffice/internal/shared"
)

func TestCreateCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.CreateCustomer(ctx, sales.CustomerInput{FullName: "  Trần Thị Bích ", Phone: "0912345678", Email: "bich@example.com"})
	require.NoError(t, err)
	require.Equal(t, "KH2", c.ID)
	require.Equal(t, "Trần Thị Bích", c.FullName)
	require.Equal(t, sales.DefaultGroupName, c.GroupName)
	require.Equal(t, salestest.RetailGroupID, c.GroupID)
	require.True(t, c.Active)

	_, err = f.svc.CreateCustomer(ctx, sales.CustomerInput{FullName: "Bích 2", Phone: "0912345678"})
	require.ErrorIs(t, err, sales.ErrPhoneExists)
	_, err = f.svc.CreateCustomer(ctx, sales.CustomerInput{FullName: "Bích 3", Email: "BICH@example.com"})
	require.ErrorIs(t, err, sales.ErrEmailExists)
	_, err = f.svc.CreateCustomer(ctx, sales.CustomerInput{FullName: "Bích 4", Phone: "12"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.CreateCustomer(ctx, sales.CustomerInput{FullName: "Bích 5", GroupID: 99})
	require.ErrorIs(t, err, sales.ErrGroupNotFound)
}

func TestWalkInPairing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCustomer(ctx, sales.CustomerInput{FullName: sales.WalkInName})
	require.ErrorIs(t, err, sales.ErrWalkInGroupRequired)
	_, err = f.svc.CreateCustomer(ctx, sales.CustomerInput{FullName: "Lê Minh", GroupID: salestest.WalkInGroupID})
	require.ErrorIs(t, err, sales.ErrWalkInGroupOnly)

	_, err = f.svc.UpdateCustomer(ctx, salestest.WalkInID, sales.CustomerInput{FullName: "Khách mới"})
	require.ErrorIs(t, err, sales.ErrWalkInCustomerLocked)
	require.ErrorIs(t, f.svc.DeactivateCustomer(ctx, salestest.WalkInID), sales.ErrWalkInCustomerLocked)

	listed, total, err := f.svc.ListCustomers(ctx, sales.CustomerFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "KH10", listed[0].ID)
}

func TestSingleWalkInCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCustomer(ctx, sales.CustomerInput{FullName: sales.WalkInName, GroupID: salestest.WalkInGroupID})
	require.ErrorIs(t, err, sales.ErrWalkInCustomerExists)
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.svc.UpdateCustomer(ctx, "KH10", sales.CustomerInput{FullName: sales.WalkInName, GroupID: salestest.WalkInGroupID})
	require.ErrorIs(t, err, sales.ErrWalkInCustomerExists)
	_, err = f.svc.UpdateCustomer(ctx, "KH10", sales.CustomerInput{FullName: "Nguyễn Văn An", GroupID: salestest.WalkInGroupID})
	require.ErrorIs(t, err, sales.ErrWalkInGroupOnly)
	require.NotEqual(t, sales.WalkInName, f.store.Customer("KH10").FullName)

	walkIns := 0
	for _, id := range []string{salestest.WalkInID, "KH10"} {
		if f.store.Customer(id).GroupID == salestest.WalkInGroupID {
			walkIns++
		}
	}
	require.Equal(t, 1, walkIns)
}

func TestUpdateCustomerKeepsTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, sales.CreateInvoiceInput{CustomerID: "KH10", Deposit: dec(200), Items: []sales.ItemInput{{ProductID: "SP1", Quantity: 1}}})

	c, err := f.svc.UpdateCustomer(ctx, "KH10", sales.CustomerInput{FullName: "Nguyễn Văn Ân", GroupID: salestest.WholesaleGroupID})
	require.NoError(t, err)
	require.Equal(t, sales.TierWholesale, c.PriceTier)
	require.True(t, c.TotalSpending.Equal(dec(200)))
	require.Equal(t, 1, c.TotalOrder)

	require.NoError(t, f.svc.DeactivateCustomer(ctx, "KH10"))
	_, err = f.svc.CreateInvoice(ctx, sales.CreateInvoiceInput{
		CustomerID: "KH10", UserID: "NV1", Branch: "Terra",
		Items: []sales.ItemInput{{ProductID: "SP2", Quantity: 1}},
	})
	require.ErrorIs(t, err, sales.ErrCustomerNotFound)
}

func TestPayAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, sales.CreateInvoiceInput{CustomerID: "KH10", IsDelivery: true, Deposit: dec(80), Items: []sales.ItemInput{{ProductID: "SP1", Quantity: 1}}})

	_, err := f.svc.PayAmount(ctx, "KH10", dec(-5))
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
	_, err = f.svc.PayAmount(ctx, "KH10", dec(81))
	require.ErrorIs(t, err, shared.ErrAmountGreaterThanDebt)

	tx, err := f.svc.PayAmount(ctx, "KH10", dec(30))
	require.NoError(t, err)
	require.Equal(t, sales.TxPayment, tx.Type)
	require.False(t, tx.Active)
	require.True(t, f.store.Customer("KH10").Debt.Equal(dec(50)))

	active, total, err := f.svc.ListTransactions(ctx, sales.TransactionFilter{CustomerID: "KH10", ActiveOnly: true})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, sales.TxDebtIncrease, active[0].Type)
}

func TestTopCustomers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Seed("KH11", "Phạm Thu", salestest.RetailGroupID)
	f.create(t, sales.CreateInvoiceInput{CustomerID: "KH10", Deposit: dec(100), Items: []sales.ItemInput{{ProductID: "SP2", Quantity: 1}}})
	f.create(t, sales.CreateInvoiceInput{CustomerID: "KH11", Deposit: dec(200), Items: []sales.ItemInput{{ProductID: "SP2", Quantity: 2}}})

	top, err := f.svc.TopCustomers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, "KH11", top[0].ID)

	top, err = f.svc.TopCustomers(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
}

func TestCustomerGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, err := f.svc.CreateGroup(ctx, sales.GroupInput{Name: "Khách VIP", PriceTier: sales.TierWholesale})
	require.NoError(t, err)
	require.NotZero(t, g.ID)
	require.Equal(t, "percent", g.DiscountType)

	_, err = f.svc.CreateGroup(ctx, sales.GroupInput{Name: "khách vip"})
	require.ErrorIs(t, err, sales.ErrGroupExists)
	_, err = f.svc.CreateGroup(ctx, sales.GroupInput{Name: "Đại lý", PriceTier: "vip"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.UpdateGroup(ctx, salestest.WalkInGroupID, sales.GroupInput{Name: "Khác"})
	require.ErrorIs(t, err, sales.ErrWalkInGroupLocked)
	_, err = f.svc.UpdateGroup(ctx, g.ID, sales.GroupInput{Name: "Khách Sỉ"})
	require.ErrorIs(t, err, sales.ErrGroupExists)

	require.ErrorIs(t, f.svc.DeleteGroup(ctx, salestest.RetailGroupID), sales.ErrDefaultGroup)
	require.ErrorIs(t, f.svc.DeleteGroup(ctx, salestest.WalkInGroupID), sales.ErrWalkInGroupLocked)

	c, err := f.svc.CreateCustomer(ctx, sales.CustomerInput{FullName: "Đỗ Hạnh", GroupID: g.ID})
	require.NoError(t, err)
	require.Equal(t, sales.TierWholesale, c.PriceTier)

	require.NoError(t, f.svc.DeleteGroup(ctx, g.ID))
	moved := f.store.Customer(c.ID)
	require.Equal(t, salestest.RetailGroupID, moved.GroupID)
	require.Equal(t, sales.TierRetail, moved.PriceTier)

	retail, err := f.svc.GetGroup(ctx, salestest.RetailGroupID)
	require.NoError(t, err)
	require.Equal(t, 2, retail.TotalCustomer)
}

func TestDefaultGroupKeepsName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpdateGroup(ctx, salestest.RetailGroupID, sales.GroupInput{Name: "VIP"})
	require.ErrorIs(t, err, sales.ErrDefaultGroup)

	g, err := f.svc.UpdateGroup(ctx, salestest.RetailGroupID, sales.GroupInput{Name: sales.DefaultGroupName, Description: "Khách mua lẻ"})
	require.NoError(t, err)
	require.Equal(t, sales.DefaultGroupName, g.Name)

	c, err := f.svc.CreateCustomer(ctx, sales.CustomerInput{FullName: "Lê Minh"})
	require.NoError(t, err)
	require.Equal(t, salestest.RetailGroupID, c.GroupID)
}
