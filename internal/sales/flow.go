package sales

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/users"
)

// The functions in this file move a locked invoice between states inside the
// caller's transaction. The delivery module drives them from carrier events.

// LockOpenInvoice loads an active invoice for update.
func LockOpenInvoice(ctx context.Context, tx InvoiceTx, id string) (*Invoice, error) {
	inv, err := tx.LockInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inv.Active {
		return nil, ErrInvoiceNotFound.WithMessage("invoice %s is closed", id)
	}
	return inv, nil
}

// DispatchInvoice hands a ready invoice to the carrier: the goods are
// counted out for delivery and the invoice becomes a picking delivery.
func DispatchInvoice(ctx context.Context, tx InvoiceTx, inv *Invoice) error {
	if inv.Status != InvoiceReadyToPick {
		return ErrInvoiceNotReadyToPick.WithMessage("invoice %s is %s", inv.ID, inv.Status)
	}
	cust, err := tx.LockCustomer(ctx, inv.CustomerID)
	if err != nil {
		return err
	}
	inv.IsDelivery = true
	inv.Status = InvoicePicking
	if err := reconcileHeldDeposit(ctx, tx, inv, cust); err != nil {
		return err
	}
	ledger := inventory.NewLedger(tx)
	if err := applyLines(ctx, ledger, inv, (*inventory.Product).Dispatch); err != nil {
		return err
	}
	if err := ledger.Flush(ctx); err != nil {
		return err
	}
	if err := tx.SaveCustomer(ctx, cust); err != nil {
		return err
	}
	return tx.SaveInvoice(ctx, inv)
}

// CancelOpenInvoice cancels an invoice that has not left with the carrier.
// Reservations go back to sellable stock and any held deposit is refunded
// from the customer's debt.
func CancelOpenInvoice(ctx context.Context, tx InvoiceTx, inv *Invoice) error {
	if !inv.Mutable() {
		return ErrInShippingNoCancel.WithMessage("invoice %s is %s", inv.ID, inv.Status)
	}
	return cancelInvoice(ctx, tx, inv)
}

// WithdrawInvoice cancels the invoice of a shipment withdrawn from the
// carrier before pickup. It settles like CancelOpenInvoice and also accepts
// an invoice the carrier already reports as delivering. Order counters are
// left alone.
func WithdrawInvoice(ctx context.Context, tx InvoiceTx, inv *Invoice) error {
	if !inv.Mutable() && inv.Status != InvoiceDelivering {
		return ErrInShippingNoCancel.WithMessage("invoice %s is %s", inv.ID, inv.Status)
	}
	return cancelInvoice(ctx, tx, inv)
}

func cancelInvoice(ctx context.Context, tx InvoiceTx, inv *Invoice) error {
	cust, err := tx.LockCustomer(ctx, inv.CustomerID)
	if err != nil {
		return err
	}
	ledger := inventory.NewLedger(tx)
	if err := releaseLines(ctx, ledger, inv); err != nil {
		return err
	}
	if err := ledger.Flush(ctx); err != nil {
		return err
	}
	if err := refundHeldDeposit(ctx, tx, inv, cust); err != nil {
		return err
	}
	inv.Status = InvoiceCancel
	inv.PaymentStatus = PaymentUnpaid
	inv.Active = false
	inv.Deposit = decimal.Zero
	if err := tx.SaveCustomer(ctx, cust); err != nil {
		return err
	}
	return tx.SaveInvoice(ctx, inv)
}

// ApplyCarrierStatus mirrors a carrier status onto inv. It reports false
// when inv already has that status. Disallowed moves fail with
// ErrInvoiceStatusTransition and change nothing.
func ApplyCarrierStatus(ctx context.Context, tx InvoiceTx, inv *Invoice, to InvoiceStatus) (bool, error) {
	if inv.Status == to {
		return false, nil
	}
	if !InvoiceFlow.Can(inv.Status, to) || to == InvoiceReturnAtCounter {
		return false, ErrInvoiceStatusTransition.WithMessage("invoice %s: %s -> %s", inv.ID, inv.Status, to)
	}
	wasDispatched := inv.dispatched()
	switch to {
	case InvoiceDelivered:
		if err := settleDelivered(ctx, tx, inv, wasDispatched); err != nil {
			return false, err
		}
	case InvoiceCancel, InvoiceReturned:
		if err := settleRecalled(ctx, tx, inv, to, wasDispatched); err != nil {
			return false, err
		}
	default:
		inv.Status = to
	}
	return true, tx.SaveInvoice(ctx, inv)
}

func settleDelivered(ctx context.Context, tx InvoiceTx, inv *Invoice, wasDispatched bool) error {
	cust, err := tx.LockCustomer(ctx, inv.CustomerID)
	if err != nil {
		return err
	}
	ledger := inventory.NewLedger(tx)
	verb := (*inventory.Product).Fulfill
	if wasDispatched {
		verb = (*inventory.Product).DeliverDispatched
	}
	if err := applyLines(ctx, ledger, inv, verb); err != nil {
		return err
	}
	if err := ledger.Flush(ctx); err != nil {
		return err
	}
	settled, err := tx.ActiveInvoiceTransaction(ctx, inv.ID)
	if err != nil {
		return err
	}
	if settled != nil {
		settled.Type = TxPayment
		settled.Active = false
		settled.Note = fmt.Sprintf("Settled on delivery of invoice %s", inv.ID)
		cust.Debt = cust.Debt.Sub(settled.Amount)
		if err := tx.UpdateTransaction(ctx, *settled); err != nil {
			return err
		}
	} else {
		err := tx.InsertTransaction(ctx, Transaction{
			ID:         uuid.NewString(),
			CustomerID: cust.ID,
			InvoiceID:  inv.ID,
			Type:       TxPayment,
			Amount:     inv.TotalValue,
			Note:       fmt.Sprintf("Collected on delivery of invoice %s", inv.ID),
		})
		if err != nil {
			return err
		}
	}
	cust.RecordPurchase(inv.TotalValue)
	if err := recordStaffSale(ctx, tx, inv.UserID, inv.TotalValue, false); err != nil {
		return err
	}
	inv.Status = InvoiceDelivered
	inv.PaymentStatus = PaymentPaid
	inv.StockDeducted = true
	inv.Active = false
	return tx.SaveCustomer(ctx, cust)
}

func settleRecalled(ctx context.Context, tx InvoiceTx, inv *Invoice, to InvoiceStatus, wasDispatched bool) error {
	cust, err := tx.LockCustomer(ctx, inv.CustomerID)
	if err != nil {
		return err
	}
	ledger := inventory.NewLedger(tx)
	verb := (*inventory.Product).Release
	if wasDispatched {
		verb = (*inventory.Product).RecallDispatch
	}
	if err := applyLines(ctx, ledger, inv, verb); err != nil {
		return err
	}
	if err := ledger.Flush(ctx); err != nil {
		return err
	}
	if err := refundHeldDeposit(ctx, tx, inv, cust); err != nil {
		return err
	}
	if to == InvoiceCancel {
		cust.TotalOrder++
		inv.Deposit = decimal.Zero
	} else {
		cust.RecordReturn(inv.TotalValue)
	}
	inv.Status = to
	inv.PaymentStatus = PaymentUnpaid
	inv.Active = false
	return tx.SaveCustomer(ctx, cust)
}

type lineVerb func(p *inventory.Product, b inventory.Branch, qty int) error

func applyLines(ctx context.Context, ledger *inventory.Ledger, inv *Invoice, verb lineVerb) error {
	for _, it := range inv.Items {
		err := ledger.Apply(ctx, it.ProductID, func(p *inventory.Product) error {
			return verb(p, inv.Branch, it.Quantity)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// releaseLines gives back the reservations of an invoice whose stock was not
// yet deducted.
func releaseLines(ctx context.Context, ledger *inventory.Ledger, inv *Invoice) error {
	if inv.dispatched() {
		return applyLines(ctx, ledger, inv, (*inventory.Product).RecallDispatch)
	}
	return applyLines(ctx, ledger, inv, (*inventory.Product).Release)
}

// reserveLines reserves every line, counting it out for delivery when the
// invoice is already with the carrier.
func reserveLines(ctx context.Context, ledger *inventory.Ledger, inv *Invoice) error {
	if err := applyLines(ctx, ledger, inv, (*inventory.Product).Reserve); err != nil {
		return err
	}
	if inv.dispatched() {
		return applyLines(ctx, ledger, inv, (*inventory.Product).Dispatch)
	}
	return nil
}

// reconcileHeldDeposit brings the invoice's debt transaction and the
// customer's debt in line with the current held deposit.
func reconcileHeldDeposit(ctx context.Context, tx InvoiceTx, inv *Invoice, cust *Customer) error {
	held := inv.heldDeposit()
	current, err := tx.ActiveInvoiceTransaction(ctx, inv.ID)
	if err != nil {
		return err
	}
	if current == nil {
		if !held.IsPositive() {
			return nil
		}
		cust.Debt = cust.Debt.Add(held)
		return tx.InsertTransaction(ctx, Transaction{
			ID:         uuid.NewString(),
			CustomerID: cust.ID,
			InvoiceID:  inv.ID,
			Type:       TxDebtIncrease,
			Amount:     held,
			Note:       fmt.Sprintf("Transaction created for invoice %s", inv.ID),
			Active:     true,
		})
	}
	cust.Debt = cust.Debt.Sub(current.Amount).Add(held)
	current.Amount = held
	current.Active = held.IsPositive()
	current.Note = fmt.Sprintf("Updated transaction for invoice %s", inv.ID)
	return tx.UpdateTransaction(ctx, *current)
}

// refundHeldDeposit closes the invoice's open debt transaction and takes its
// amount off the customer's debt.
func refundHeldDeposit(ctx context.Context, tx InvoiceTx, inv *Invoice, cust *Customer) error {
	open, err := tx.ActiveInvoiceTransaction(ctx, inv.ID)
	if err != nil || open == nil {
		return err
	}
	open.Active = false
	open.Note = fmt.Sprintf("Refunded with invoice %s", inv.ID)
	cust.Debt = cust.Debt.Sub(open.Amount)
	return tx.UpdateTransaction(ctx, *open)
}

// recordStaffSale adds (or with reverse, removes) a sale on the employee's
// totals. Invoices without a user are skipped.
func recordStaffSale(ctx context.Context, tx users.StaffTx, userID string, total decimal.Decimal, reverse bool) error {
	if userID == "" {
		return nil
	}
	u, err := tx.LockUser(ctx, userID)
	if err != nil {
		return err
	}
	if reverse {
		u.ReverseSale(total)
	} else {
		u.RecordSale(total)
	}
	return tx.SaveUserStats(ctx, u)
}
