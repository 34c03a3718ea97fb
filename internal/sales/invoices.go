package sales

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/pricing"
	"github.com/lilas/backoffice/internal/shared"
	"github.com/lilas/backoffice/internal/users"
)

// CreateInvoice records a sale. Every line reserves sellable stock at the
// invoice branch. A counter sale paid in full is fulfilled on the spot.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (Invoice, error) {
	if err := shared.Validate(input); err != nil {
		return Invoice{}, err
	}
	branch, err := inventory.ParseBranch(input.Branch)
	if err != nil {
		return Invoice{}, err
	}
	if len(input.Items) == 0 {
		return Invoice{}, shared.ErrItemsRequired
	}
	for _, it := range input.Items {
		if it.Quantity < 1 {
			return Invoice{}, shared.ErrInvalidQuantity
		}
	}

	var created Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := users.RequireActive(ctx, tx, input.UserID); err != nil {
			return err
		}
		cust, err := lockBuyer(ctx, tx, input.CustomerID)
		if err != nil {
			return err
		}
		inv := Invoice{
			CustomerID:       cust.ID,
			CustomerName:     cust.FullName,
			CustomerPhone:    cust.Phone,
			UserID:           input.UserID,
			Branch:           branch,
			IsDelivery:       input.IsDelivery,
			Status:           InvoiceReadyToPick,
			Deposit:          input.Deposit,
			DepositMethod:    input.DepositMethod,
			Discount:         discountOf(input.Discount, input.DiscountType),
			ExtraCost:        input.ExtraCost,
			Note:             input.Note,
			ExpectedDelivery: input.ExpectedDelivery,
			Active:           true,
			ServiceItems:     serviceLines(input.ServiceItems),
		}

		ledger := inventory.NewLedger(tx)
		for _, in := range input.Items {
			p, err := ledger.Sellable(ctx, in.ProductID)
			if err != nil {
				return err
			}
			if err := p.Reserve(branch, in.Quantity); err != nil {
				return err
			}
			inv.Items = append(inv.Items, InvoiceItem{
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    in.Quantity,
				Price:       linePrice(p, cust.PriceTier),
				Discount:    discountOf(in.Discount, in.DiscountType),
			})
		}
		inv.Recalculate()
		inv.PaymentStatus = paymentStatusOf(inv.Deposit, inv.TotalValue)

		if inv.PaymentStatus == PaymentPaid && !inv.IsDelivery {
			if err := applyLines(ctx, ledger, &inv, (*inventory.Product).Fulfill); err != nil {
				return err
			}
			inv.Status = InvoiceDelivered
			inv.StockDeducted = true
			cust.RecordPurchase(inv.TotalValue)
			if err := recordStaffSale(ctx, tx, inv.UserID, inv.TotalValue, false); err != nil {
				return err
			}
		}
		if err := ledger.Flush(ctx); err != nil {
			return err
		}

		id, err := tx.NextCode(ctx, shared.PrefixInvoice)
		if err != nil {
			return err
		}
		inv.ID = id
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		if err := reconcileHeldDeposit(ctx, tx, &inv, cust); err != nil {
			return err
		}
		created = inv
		return tx.SaveCustomer(ctx, cust)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, "invoice:create", "invoice", created.ID, map[string]any{
		"total_value": created.TotalValue.String(),
		"branch":      created.Branch.String(),
	})
	s.invoicesChanged(ctx)
	return created, nil
}

// lockBuyer resolves the invoice customer, falling back to the walk-in
// customer when none is given.
func lockBuyer(ctx context.Context, tx TxRepository, id string) (*Customer, error) {
	var (
		c   *Customer
		err error
	)
	if id == "" {
		c, err = tx.LockWalkIn(ctx)
	} else {
		c, err = tx.LockCustomer(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, ErrCustomerNotFound.WithMessage("customer %s is inactive", c.ID)
	}
	return c, nil
}

// ConfirmInvoice checks out a ready invoice at the counter: the goods leave
// physical stock and the sale counts towards the customer and employee.
func (s *Service) ConfirmInvoice(ctx context.Context, id string) (Invoice, error) {
	var confirmed Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := LockOpenInvoice(ctx, tx, id)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceReadyToPick {
			return ErrOnlyReadyToPickConfirm.WithMessage("invoice %s is %s", inv.ID, inv.Status)
		}
		cust, err := tx.LockCustomer(ctx, inv.CustomerID)
		if err != nil {
			return err
		}
		ledger := inventory.NewLedger(tx)
		if err := applyLines(ctx, ledger, inv, (*inventory.Product).Fulfill); err != nil {
			return err
		}
		if err := ledger.Flush(ctx); err != nil {
			return err
		}
		if !inv.IsDelivery {
			cust.RecordPurchase(inv.TotalValue)
			if err := recordStaffSale(ctx, tx, inv.UserID, inv.TotalValue, false); err != nil {
				return err
			}
		}
		inv.Status = InvoiceDelivered
		inv.PaymentStatus = PaymentPaid
		inv.StockDeducted = true
		if err := tx.SaveCustomer(ctx, cust); err != nil {
			return err
		}
		confirmed = *inv
		return tx.SaveInvoice(ctx, inv)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, "invoice:confirm", "invoice", id, nil)
	s.invoicesChanged(ctx)
	return confirmed, nil
}

// UpdateInvoice edits an open invoice. Line and money changes re-run the
// reservations and the deposit booking; once the invoice has left the
// mutable states only the note and the expected delivery date may change.
func (s *Service) UpdateInvoice(ctx context.Context, id string, input UpdateInvoiceInput) (Invoice, error) {
	if err := shared.Validate(input); err != nil {
		return Invoice{}, err
	}
	if input.Items != nil && len(input.Items) == 0 {
		return Invoice{}, ErrInvoiceNoProduct
	}
	for _, it := range input.Items {
		if it.Quantity < 1 {
			return Invoice{}, shared.ErrInvalidQuantity
		}
	}

	var updated Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if input.touchesMoney() && !inv.Mutable() {
			return ErrInvoiceLocked.WithMessage("invoice %s is %s", inv.ID, inv.Status)
		}
		if input.Note != nil {
			inv.Note = *input.Note
		}
		if input.ExpectedDelivery != nil {
			inv.ExpectedDelivery = input.ExpectedDelivery
		}
		if input.DepositMethod != nil {
			inv.DepositMethod = *input.DepositMethod
		}
		if !input.touchesMoney() {
			updated = *inv
			return tx.SaveInvoice(ctx, inv)
		}

		cust, err := tx.LockCustomer(ctx, inv.CustomerID)
		if err != nil {
			return err
		}
		if input.Deposit != nil {
			inv.Deposit = *input.Deposit
		}
		if input.Discount != nil || input.DiscountType != nil {
			next := inv.Discount
			if input.Discount != nil {
				next.Value = *input.Discount
			}
			if input.DiscountType != nil {
				next.Type = *input.DiscountType
			}
			inv.Discount = discountOf(next.Value, next.Type)
		}
		if input.ServiceItems != nil {
			inv.ServiceItems = serviceLines(input.ServiceItems)
		}
		if input.ExtraCost != nil {
			inv.ExtraCost = *input.ExtraCost
		}

		ledger := inventory.NewLedger(tx)
		if input.Items != nil {
			if err := releaseLines(ctx, ledger, inv); err != nil {
				return err
			}
			items, err := replacementLines(ctx, ledger, inv, cust.PriceTier, input.Items)
			if err != nil {
				return err
			}
			inv.Items = items
			if err := reserveLines(ctx, ledger, inv); err != nil {
				return err
			}
		}
		if err := ledger.Flush(ctx); err != nil {
			return err
		}

		inv.Recalculate()
		inv.PaymentStatus = paymentStatusOf(inv.Deposit, inv.TotalValue)
		if err := reconcileHeldDeposit(ctx, tx, inv, cust); err != nil {
			return err
		}
		if err := tx.ReplaceInvoiceLines(ctx, *inv); err != nil {
			return err
		}
		if err := tx.SaveCustomer(ctx, cust); err != nil {
			return err
		}
		updated = *inv
		return tx.SaveInvoice(ctx, inv)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, "invoice:update", "invoice", id, map[string]any{"total_value": updated.TotalValue.String()})
	s.invoicesChanged(ctx)
	return updated, nil
}

// replacementLines builds the new product lines of an invoice. Products
// already on the invoice keep the price captured when they were added.
func replacementLines(ctx context.Context, ledger *inventory.Ledger, inv *Invoice, tier PriceTier, in []ItemInput) ([]InvoiceItem, error) {
	captured := make(map[string]decimal.Decimal, len(inv.Items))
	for _, it := range inv.Items {
		captured[it.ProductID] = it.Price
	}
	items := make([]InvoiceItem, 0, len(in))
	for _, line := range in {
		var (
			p   *inventory.Product
			err error
		)
		price, known := captured[line.ProductID]
		if known {
			p, err = ledger.Product(ctx, line.ProductID)
		} else {
			p, err = ledger.Sellable(ctx, line.ProductID)
		}
		if err != nil {
			return nil, err
		}
		if !known {
			price = linePrice(p, tier)
		}
		items = append(items, InvoiceItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    line.Quantity,
			Price:       price,
			Discount:    discountOf(line.Discount, line.DiscountType),
		})
	}
	return items, nil
}

// CancelInvoice cancels an invoice that is not yet with the carrier.
func (s *Service) CancelInvoice(ctx context.Context, id string) (Invoice, error) {
	var canceled Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := LockOpenInvoice(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := CancelOpenInvoice(ctx, tx, inv); err != nil {
			return err
		}
		canceled = *inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, "invoice:cancel", "invoice", id, nil)
	s.invoicesChanged(ctx)
	return canceled, nil
}

// ReturnInvoice takes a counter sale back. Delivered goods go back on the
// shelf and the sale is removed from the customer and employee totals.
func (s *Service) ReturnInvoice(ctx context.Context, id string) (Invoice, error) {
	var returned Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.IsDelivery || !InvoiceFlow.Can(inv.Status, InvoiceReturnAtCounter) {
			return ErrInvoiceNotReturnable.WithMessage("invoice %s is %s", inv.ID, inv.Status)
		}
		cust, err := tx.LockCustomer(ctx, inv.CustomerID)
		if err != nil {
			return err
		}
		ledger := inventory.NewLedger(tx)
		verb := (*inventory.Product).Release
		if inv.StockDeducted {
			verb = (*inventory.Product).ReturnSale
		}
		if err := applyLines(ctx, ledger, inv, verb); err != nil {
			return err
		}
		if err := ledger.Flush(ctx); err != nil {
			return err
		}
		if inv.Status == InvoiceDelivered {
			cust.ReversePurchase(inv.TotalValue)
			if err := recordStaffSale(ctx, tx, inv.UserID, inv.TotalValue, true); err != nil {
				return err
			}
		}
		if err := refundHeldDeposit(ctx, tx, inv, cust); err != nil {
			return err
		}
		inv.Status = InvoiceReturnAtCounter
		inv.StockDeducted = false
		inv.Active = false
		if err := tx.SaveCustomer(ctx, cust); err != nil {
			return err
		}
		returned = *inv
		return tx.SaveInvoice(ctx, inv)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, "invoice:return", "invoice", id, nil)
	s.invoicesChanged(ctx)
	return returned, nil
}

// PayInvoice settles the open debt transaction of an invoice.
func (s *Service) PayInvoice(ctx context.Context, id string, amount decimal.Decimal) (Transaction, error) {
	var settled Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		open, err := tx.ActiveInvoiceTransaction(ctx, inv.ID)
		if err != nil {
			return err
		}
		if open == nil {
			return ErrTransactionNotFoundPaid
		}
		if !amount.IsPositive() {
			return shared.ErrInvalidAmount
		}
		cust, err := tx.LockCustomer(ctx, inv.CustomerID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(cust.Debt) {
			return shared.ErrAmountGreaterThanDebt
		}
		cust.Debt = cust.Debt.Sub(amount)
		open.Active = false
		open.Note = fmt.Sprintf("Paid %s for invoice %s", amount.String(), inv.ID)
		if err := tx.UpdateTransaction(ctx, *open); err != nil {
			return err
		}
		inv.Deposit = decimal.Zero
		if err := tx.SaveCustomer(ctx, cust); err != nil {
			return err
		}
		settled = *open
		return tx.SaveInvoice(ctx, inv)
	})
	if err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, "invoice:pay", "invoice", id, map[string]any{"amount": amount.String()})
	s.invoicesChanged(ctx)
	return settled, nil
}

// GetInvoice returns one invoice with its lines.
func (s *Service) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices returns a filtered page of invoices.
func (s *Service) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error) {
	return s.repo.ListInvoices(ctx, filter)
}

func linePrice(p *inventory.Product, tier PriceTier) decimal.Decimal {
	if tier == TierWholesale {
		return p.PriceWholesale
	}
	return p.PriceRetail
}

func discountOf(v decimal.Decimal, t pricing.DiscountType) pricing.Discount {
	if t == "" {
		t = pricing.DiscountValue
	}
	return pricing.Discount{Value: v, Type: t}
}

func serviceLines(in []ServiceItemInput) []ServiceItem {
	out := make([]ServiceItem, 0, len(in))
	for _, it := range in {
		out = append(out, ServiceItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			Price:     it.Price,
			Discount:  discountOf(it.Discount, it.DiscountType),
		})
	}
	return out
}
