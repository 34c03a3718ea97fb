package procurement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/pricing"
	"github.com/lilas/backoffice/internal/shared"
	"github.com/lilas/backoffice/internal/users"
)

// CreateImportBill records an order to a supplier. Ordered quantities are
// booked as pending arrival at the bill's branch and an upfront payment
// reduces the supplier debt right away.
func (s *Service) CreateImportBill(ctx context.Context, input ImportBillInput) (ImportBill, error) {
	if err := shared.Validate(input); err != nil {
		return ImportBill{}, err
	}
	branch, err := inventory.ParseBranch(input.Branch)
	if err != nil {
		return ImportBill{}, err
	}
	if err := checkItems(input.Items); err != nil {
		return ImportBill{}, err
	}
	if input.UserID == "" {
		input.UserID = shared.ActorFromContext(ctx)
	}
	bill := ImportBill{
		SupplierID:   input.SupplierID,
		UserID:       input.UserID,
		Branch:       branch,
		Note:         input.Note,
		Discount:     input.Discount,
		ExtraFee:     input.ExtraFee,
		PaidAmount:   input.PaidAmount,
		Status:       ImportPending,
		DeliveryDate: input.DeliveryDate,
		Active:       true,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sup, err := requireSupplier(ctx, tx, input.SupplierID)
		if err != nil {
			return err
		}
		if _, err := users.RequireActive(ctx, tx, bill.UserID); err != nil {
			return err
		}
		ledger := inventory.NewLedger(tx)
		if bill.Items, err = expectArrival(ctx, ledger, branch, input.Items); err != nil {
			return err
		}
		bill.Recalculate()
		if bill.PaidAmount.GreaterThan(bill.TotalValue) {
			return ErrPaidExceedsTotal
		}
		if err := ledger.Flush(ctx); err != nil {
			return err
		}
		if bill.ID, err = tx.NextCode(ctx, shared.PrefixImportBill); err != nil {
			return err
		}
		bill.SupplierName = sup.ContactName
		if err := tx.InsertImportBill(ctx, bill); err != nil {
			return err
		}
		if !bill.PaidAmount.IsPositive() {
			return nil
		}
		sup.Debt = sup.Debt.Sub(bill.PaidAmount)
		if err := tx.InsertSupplierTransaction(ctx, SupplierTransaction{
			ID:           uuid.NewString(),
			SupplierID:   sup.ID,
			ImportBillID: bill.ID,
			Amount:       bill.PaidAmount,
			Note:         fmt.Sprintf("Thanh toán tạo phiếu nhập %s", bill.ID),
		}); err != nil {
			return err
		}
		return tx.SaveSupplier(ctx, sup)
	})
	if err != nil {
		return ImportBill{}, err
	}
	s.recordAudit(ctx, "import_bill:create", "import_bill", bill.ID, map[string]any{"total": bill.TotalValue.String()})
	return bill, nil
}

// checkItems rejects empty bills, non-positive quantities and repeated products.
func checkItems(items []BillItemInput) error {
	if len(items) == 0 {
		return shared.ErrItemsRequired
	}
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.Quantity < 1 {
			return shared.ErrInvalidQuantity.WithMessage("product %s: quantity must be at least 1", it.ProductID)
		}
		if _, dup := seen[it.ProductID]; dup {
			return ErrDuplicateProductInBill.WithMessage("product %s appears twice", it.ProductID)
		}
		seen[it.ProductID] = struct{}{}
	}
	return nil
}

func expectArrival(ctx context.Context, ledger *inventory.Ledger, branch inventory.Branch, inputs []BillItemInput) ([]BillItem, error) {
	items := make([]BillItem, 0, len(inputs))
	for _, in := range inputs {
		p, err := ledger.Sellable(ctx, in.ProductID)
		if err != nil {
			return nil, err
		}
		if err := p.ExpectArrival(branch, in.Quantity); err != nil {
			return nil, err
		}
		items = append(items, BillItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    in.Quantity,
			Price:       in.Price,
			Discount:    in.Discount,
		})
	}
	return items, nil
}

func cancelArrival(ctx context.Context, ledger *inventory.Ledger, branch inventory.Branch, items []BillItem) error {
	for _, it := range items {
		qty := it.Quantity
		if err := ledger.Apply(ctx, it.ProductID, func(p *inventory.Product) error {
			return p.CancelArrival(branch, qty)
		}); err != nil {
			return err
		}
	}
	return nil
}

func itemInputs(items []BillItem) []BillItemInput {
	out := make([]BillItemInput, len(items))
	for i, it := range items {
		out[i] = BillItemInput{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price, Discount: it.Discount}
	}
	return out
}

// lockActiveImportBill loads an import bill and hides deactivated ones.
func lockActiveImportBill(ctx context.Context, tx TxRepository, id string) (*ImportBill, error) {
	bill, err := tx.LockImportBill(ctx, id)
	if err != nil {
		return nil, err
	}
	if !bill.Active {
		return nil, ErrImportBillNotFound.WithMessage("import bill %s is inactive", id)
	}
	return bill, nil
}

// UpdateImportBill edits a pending bill. Changing the lines or the branch
// moves the pending arrival with them.
func (s *Service) UpdateImportBill(ctx context.Context, id string, input UpdateImportBillInput) (ImportBill, error) {
	if err := shared.Validate(input); err != nil {
		return ImportBill{}, err
	}
	if input.Items != nil {
		if err := checkItems(input.Items); err != nil {
			return ImportBill{}, err
		}
	}
	var updated ImportBill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := lockActiveImportBill(ctx, tx, id)
		if err != nil {
			return err
		}
		if bill.Status != ImportPending {
			return ErrImportBillLocked
		}
		branch := bill.Branch
		if input.Branch != nil {
			if branch, err = inventory.ParseBranch(*input.Branch); err != nil {
				return err
			}
		}
		ledger := inventory.NewLedger(tx)
		if input.Items != nil || branch != bill.Branch {
			inputs := input.Items
			if inputs == nil {
				inputs = itemInputs(bill.Items)
			}
			if err := cancelArrival(ctx, ledger, bill.Branch, bill.Items); err != nil {
				return err
			}
			if bill.Items, err = expectArrival(ctx, ledger, branch, inputs); err != nil {
				return err
			}
			bill.Branch = branch
		}
		if input.Note != nil {
			bill.Note = *input.Note
		}
		if input.Discount != nil {
			bill.Discount = *input.Discount
		}
		if input.ExtraFee != nil {
			bill.ExtraFee = *input.ExtraFee
		}
		if input.DeliveryDate != nil {
			bill.DeliveryDate = input.DeliveryDate
		}
		bill.Recalculate()
		if bill.PaidAmount.GreaterThan(bill.TotalValue) {
			return ErrPaidExceedsTotal
		}
		if err := ledger.Flush(ctx); err != nil {
			return err
		}
		updated = *bill
		return tx.SaveImportBill(ctx, bill)
	})
	if err != nil {
		return ImportBill{}, err
	}
	s.recordAudit(ctx, "import_bill:update", "import_bill", id, map[string]any{"total": updated.TotalValue.String()})
	return updated, nil
}

// ConfirmImportBill marks a pending bill as received. The total becomes
// supplier debt and every line folds its landed cost into the product's
// moving-average import price. Stock itself arrives with the inspection.
func (s *Service) ConfirmImportBill(ctx context.Context, id string) (ImportBill, error) {
	var confirmed ImportBill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := lockActiveImportBill(ctx, tx, id)
		if err != nil {
			return err
		}
		if bill.Status != ImportPending {
			return ErrOnlyPendingImport
		}
		if len(bill.Items) == 0 {
			return shared.ErrItemsRequired
		}
		next := bill.receivedStatus()
		if err := ImportFlow.Transition(bill.Status, next); err != nil {
			return err
		}
		sup, err := tx.LockSupplier(ctx, bill.SupplierID)
		if err != nil {
			return err
		}
		sup.Debt = sup.Debt.Add(bill.TotalValue)
		sup.TotalImportOrders++
		sup.TotalImportValue = sup.TotalImportValue.Add(bill.TotalValue)

		ledger := inventory.NewLedger(tx)
		costs := pricing.AllocateImportCosts(percentLines(bill.Items), bill.Discount, bill.ExtraFee)
		for i, it := range bill.Items {
			qty, cost := it.Quantity, costs[i]
			if err := ledger.Apply(ctx, it.ProductID, func(p *inventory.Product) error {
				p.ApplyInboundCost(qty, cost)
				return nil
			}); err != nil {
				return err
			}
		}
		if err := ledger.Flush(ctx); err != nil {
			return err
		}
		bill.Status = next
		if err := tx.SaveSupplier(ctx, sup); err != nil {
			return err
		}
		confirmed = *bill
		return tx.SaveImportBill(ctx, bill)
	})
	if err != nil {
		return ImportBill{}, err
	}
	s.recordAudit(ctx, "import_bill:confirm", "import_bill", id, map[string]any{"status": string(confirmed.Status)})
	return confirmed, nil
}

// PayImportBill pays part of a bill. Payments never exceed the bill total and
// a received bill turns paid once covered.
func (s *Service) PayImportBill(ctx context.Context, id string, amount decimal.Decimal) (ImportBill, error) {
	if !amount.IsPositive() {
		return ImportBill{}, shared.ErrInvalidAmount
	}
	var paid ImportBill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := lockActiveImportBill(ctx, tx, id)
		if err != nil {
			return err
		}
		if bill.Status == ImportCanceled {
			return ErrImportBillNotReceived
		}
		if bill.PaidAmount.Add(amount).GreaterThan(bill.TotalValue) {
			return ErrAmountExceedsTotal
		}
		sup, err := tx.LockSupplier(ctx, bill.SupplierID)
		if err != nil {
			return err
		}
		sup.Debt = sup.Debt.Sub(amount)
		if err := tx.InsertSupplierTransaction(ctx, SupplierTransaction{
			ID:           uuid.NewString(),
			SupplierID:   sup.ID,
			ImportBillID: bill.ID,
			Amount:       amount,
			Note:         fmt.Sprintf("Thanh toán qua phiếu nhập %s: %s", bill.ID, amount.String()),
		}); err != nil {
			return err
		}
		bill.PaidAmount = bill.PaidAmount.Add(amount)
		if bill.Status == ImportReceivedUnpaid && bill.receivedStatus() == ImportReceivedPaid {
			bill.Status = ImportReceivedPaid
		}
		if err := tx.SaveSupplier(ctx, sup); err != nil {
			return err
		}
		paid = *bill
		return tx.SaveImportBill(ctx, bill)
	})
	if err != nil {
		return ImportBill{}, err
	}
	s.recordAudit(ctx, "import_bill:pay", "import_bill", id, map[string]any{"amount": amount.String()})
	return paid, nil
}

// CancelImportBill drops a pending bill and its pending arrival.
func (s *Service) CancelImportBill(ctx context.Context, id string) (ImportBill, error) {
	var canceled ImportBill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := tx.LockImportBill(ctx, id)
		if err != nil {
			return err
		}
		if bill.Status != ImportPending {
			return ErrOnlyPendingCancel
		}
		ledger := inventory.NewLedger(tx)
		if err := cancelArrival(ctx, ledger, bill.Branch, bill.Items); err != nil {
			return err
		}
		if err := ledger.Flush(ctx); err != nil {
			return err
		}
		bill.Status = ImportCanceled
		canceled = *bill
		return tx.SaveImportBill(ctx, bill)
	})
	if err != nil {
		return ImportBill{}, err
	}
	s.recordAudit(ctx, "import_bill:cancel", "import_bill", id, nil)
	return canceled, nil
}

// DeactivateImportBill hides a bill from listings and payments.
func (s *Service) DeactivateImportBill(ctx context.Context, id string) (ImportBill, error) {
	return s.setImportBillActive(ctx, id, false)
}

// ReactivateImportBill brings a deactivated bill back.
func (s *Service) ReactivateImportBill(ctx context.Context, id string) (ImportBill, error) {
	return s.setImportBillActive(ctx, id, true)
}

func (s *Service) setImportBillActive(ctx context.Context, id string, active bool) (ImportBill, error) {
	var out ImportBill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := tx.LockImportBill(ctx, id)
		if err != nil {
			return err
		}
		bill.Active = active
		out = *bill
		return tx.SaveImportBill(ctx, bill)
	})
	if err != nil {
		return ImportBill{}, err
	}
	s.recordAudit(ctx, "import_bill:set_active", "import_bill", id, map[string]any{"active": active})
	return out, nil
}

// GetImportBill returns one import bill with its lines.
func (s *Service) GetImportBill(ctx context.Context, id string) (ImportBill, error) {
	return s.repo.GetImportBill(ctx, id)
}

// ListImportBills returns a page of active import bills, newest first.
func (s *Service) ListImportBills(ctx context.Context, filter BillFilter) ([]ImportBill, int, error) {
	return s.repo.ListImportBills(ctx, filter)
}
