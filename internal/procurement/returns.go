package procurement

import (
	"context"

	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/pricing"
	"github.com/lilas/backoffice/internal/shared"
	"github.com/lilas/backoffice/internal/users"
)

// CreateReturnBill drafts goods going back to a supplier. Stock only moves
// on confirmation but every line must already be physically on hand.
func (s *Service) CreateReturnBill(ctx context.Context, input ReturnBillInput) (ReturnBill, error) {
	if err := shared.Validate(input); err != nil {
		return ReturnBill{}, err
	}
	branch, err := inventory.ParseBranch(input.Branch)
	if err != nil {
		return ReturnBill{}, err
	}
	if err := checkItems(input.Items); err != nil {
		return ReturnBill{}, err
	}
	if input.UserID == "" {
		input.UserID = shared.ActorFromContext(ctx)
	}
	bill := ReturnBill{
		SupplierID: input.SupplierID,
		UserID:     input.UserID,
		Branch:     branch,
		Note:       input.Note,
		Discount:   input.Discount,
		ExtraFee:   input.ExtraFee,
		PaidAmount: input.PaidAmount,
		Status:     ReturnReturning,
		Active:     true,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sup, err := requireSupplier(ctx, tx, input.SupplierID)
		if err != nil {
			return err
		}
		if _, err := users.RequireActive(ctx, tx, bill.UserID); err != nil {
			return err
		}
		if bill.Items, err = returnableItems(ctx, inventory.NewLedger(tx), branch, input.Items); err != nil {
			return err
		}
		bill.Recalculate()
		if bill.ID, err = tx.NextCode(ctx, shared.PrefixReturnBill); err != nil {
			return err
		}
		bill.SupplierName = sup.ContactName
		return tx.InsertReturnBill(ctx, bill)
	})
	if err != nil {
		return ReturnBill{}, err
	}
	s.recordAudit(ctx, "return_bill:create", "return_bill", bill.ID, map[string]any{"total": bill.TotalValue.String()})
	return bill, nil
}

func returnableItems(ctx context.Context, ledger *inventory.Ledger, branch inventory.Branch, inputs []BillItemInput) ([]BillItem, error) {
	items := make([]BillItem, 0, len(inputs))
	for _, in := range inputs {
		p, err := ledger.Sellable(ctx, in.ProductID)
		if err != nil {
			return nil, err
		}
		if err := checkOnHand(p, branch, in.Quantity); err != nil {
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

func checkOnHand(p *inventory.Product, branch inventory.Branch, qty int) error {
	if !branch.Valid() {
		return inventory.ErrBranchNotFound
	}
	if have := p.Level(branch).Stock; have < qty {
		return ErrReturnStockNotEnough.WithMessage("product %s has %d in %s, %d requested", p.ID, have, branch, qty)
	}
	return nil
}

func lockReturningBill(ctx context.Context, tx TxRepository, id string, notReturning error) (*ReturnBill, error) {
	bill, err := tx.LockReturnBill(ctx, id)
	if err != nil {
		return nil, err
	}
	if bill.Status != ReturnReturning {
		return nil, notReturning
	}
	return bill, nil
}

// UpdateReturnBill edits a bill still being returned. Replacement lines are
// checked against physical stock again.
func (s *Service) UpdateReturnBill(ctx context.Context, id string, input UpdateReturnBillInput) (ReturnBill, error) {
	if err := shared.Validate(input); err != nil {
		return ReturnBill{}, err
	}
	if input.Items != nil {
		if err := checkItems(input.Items); err != nil {
			return ReturnBill{}, err
		}
	}
	var updated ReturnBill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := lockReturningBill(ctx, tx, id, ErrReturnBillCompleted)
		if err != nil {
			return err
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
		if input.PaidAmount != nil {
			bill.PaidAmount = *input.PaidAmount
		}
		if input.Items != nil {
			if bill.Items, err = returnableItems(ctx, inventory.NewLedger(tx), bill.Branch, input.Items); err != nil {
				return err
			}
		}
		bill.Recalculate()
		updated = *bill
		return tx.SaveReturnBill(ctx, bill)
	})
	if err != nil {
		return ReturnBill{}, err
	}
	s.recordAudit(ctx, "return_bill:update", "return_bill", id, map[string]any{"total": updated.TotalValue.String()})
	return updated, nil
}

// ConfirmReturnBill ships the goods back. Each line takes its share of the
// extra fee out of the moving-average cost before leaving stock, and the
// bill total is taken off the supplier debt.
func (s *Service) ConfirmReturnBill(ctx context.Context, id string) (ReturnBill, error) {
	var confirmed ReturnBill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := lockReturningBill(ctx, tx, id, ErrOnlyReturningConfirm)
		if err != nil {
			return err
		}
		bill.Recalculate()
		ledger := inventory.NewLedger(tx)
		for _, it := range bill.Items {
			p, err := ledger.Product(ctx, it.ProductID)
			if err != nil {
				return err
			}
			if err := checkOnHand(p, bill.Branch, it.Quantity); err != nil {
				return err
			}
		}
		costs := pricing.AllocateReturnCosts(percentLines(bill.Items), bill.ExtraFee)
		for i, it := range bill.Items {
			qty, cost := it.Quantity, costs[i]
			if err := ledger.Apply(ctx, it.ProductID, func(p *inventory.Product) error {
				p.ApplyOutboundCost(qty, cost)
				return p.ReturnToSupplier(bill.Branch, qty)
			}); err != nil {
				return err
			}
		}
		if err := ledger.Flush(ctx); err != nil {
			return err
		}
		sup, err := tx.LockSupplier(ctx, bill.SupplierID)
		if err != nil {
			return err
		}
		sup.Debt = sup.Debt.Sub(bill.TotalValue)
		sup.TotalReturnOrders++
		sup.TotalReturnValue = sup.TotalReturnValue.Add(bill.TotalValue)
		if err := tx.SaveSupplier(ctx, sup); err != nil {
			return err
		}
		if err := ReturnFlow.Transition(bill.Status, ReturnReturned); err != nil {
			return err
		}
		bill.Status = ReturnReturned
		confirmed = *bill
		return tx.SaveReturnBill(ctx, bill)
	})
	if err != nil {
		return ReturnBill{}, err
	}
	s.recordAudit(ctx, "return_bill:confirm", "return_bill", id, map[string]any{"total": confirmed.TotalValue.String()})
	return confirmed, nil
}

// CancelReturnBill abandons a bill still being returned.
func (s *Service) CancelReturnBill(ctx context.Context, id string) (ReturnBill, error) {
	var canceled ReturnBill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := lockReturningBill(ctx, tx, id, ErrOnlyReturningCancel)
		if err != nil {
			return err
		}
		bill.Status = ReturnCanceled
		bill.Active = false
		canceled = *bill
		return tx.SaveReturnBill(ctx, bill)
	})
	if err != nil {
		return ReturnBill{}, err
	}
	s.recordAudit(ctx, "return_bill:cancel", "return_bill", id, nil)
	return canceled, nil
}

// GetReturnBill returns one return bill with its lines.
func (s *Service) GetReturnBill(ctx context.Context, id string) (ReturnBill, error) {
	return s.repo.GetReturnBill(ctx, id)
}

// ListReturnBills returns a page of return bills, newest first.
func (s *Service) ListReturnBills(ctx context.Context, filter BillFilter) ([]ReturnBill, int, error) {
	return s.repo.ListReturnBills(ctx, filter)
}
