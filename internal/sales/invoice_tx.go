package sales

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/users"
)

// InvoiceTx is the transactional invoice, customer ledger and stock access
// shared with the delivery module.
type InvoiceTx interface {
	inventory.ProductTx
	users.StaffTx
	// LockInvoice loads an invoice with its lines for update.
	LockInvoice(ctx context.Context, id string) (*Invoice, error)
	// SaveInvoice persists header fields. Lines are left untouched.
	SaveInvoice(ctx context.Context, inv *Invoice) error
	LockCustomer(ctx context.Context, id string) (*Customer, error)
	// SaveCustomer persists debt and purchase counters.
	SaveCustomer(ctx context.Context, c *Customer) error
	// ActiveInvoiceTransaction returns the open debt row of an invoice, or
	// nil when there is none.
	ActiveInvoiceTransaction(ctx context.Context, invoiceID string) (*Transaction, error)
	InsertTransaction(ctx context.Context, t Transaction) error
	UpdateTransaction(ctx context.Context, t Transaction) error
}

type pgInvoices struct {
	inventory.ProductTx
	users.StaffTx
	tx pgx.Tx
}

// NewInvoiceTx binds InvoiceTx to a pgx transaction.
func NewInvoiceTx(tx pgx.Tx) InvoiceTx {
	return &pgInvoices{
		ProductTx: inventory.NewProductTx(tx),
		StaffTx:   users.NewStaffTx(tx),
		tx:        tx,
	}
}

func (r *pgInvoices) LockInvoice(ctx context.Context, id string) (*Invoice, error) {
	inv, err := loadInvoice(ctx, r.tx, id, true)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *pgInvoices) SaveInvoice(ctx context.Context, inv *Invoice) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE invoices SET customer_id = $2, user_id = $3, branch = $4, is_delivery = $5, status = $6,
			payment_status = $7, deposit = $8, deposit_method = $9, discount = $10, discount_type = $11,
			extra_cost = $12, total_value = $13, note = $14, expected_delivery = $15, active = $16,
			stock_deducted = $17, search_text = $18, updated_at = NOW()
		WHERE id = $1`,
		inv.ID, inv.CustomerID, nullable(inv.UserID), inv.Branch.String(), inv.IsDelivery, string(inv.Status),
		string(inv.PaymentStatus), inv.Deposit, inv.DepositMethod, inv.Discount.Value, string(inv.Discount.Type),
		inv.ExtraCost, inv.TotalValue, inv.Note, inv.ExpectedDelivery, inv.Active,
		inv.StockDeducted, invoiceSearchText(*inv))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *pgInvoices) LockCustomer(ctx context.Context, id string) (*Customer, error) {
	c, err := scanCustomer(r.tx.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers c JOIN customer_groups g ON g.id = c.group_id
		WHERE c.id = $1 FOR UPDATE OF c`, id))
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *pgInvoices) SaveCustomer(ctx context.Context, c *Customer) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE customers SET debt = $2, total_spending = $3, total_order = $4,
			total_return_spending = $5, total_return_orders = $6
		WHERE id = $1`,
		c.ID, c.Debt, c.TotalSpending, c.TotalOrder, c.TotalReturnSpending, c.TotalReturnOrders)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

func (r *pgInvoices) ActiveInvoiceTransaction(ctx context.Context, invoiceID string) (*Transaction, error) {
	t, err := scanTransaction(r.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE invoice_id = $1 AND active ORDER BY created_at LIMIT 1 FOR UPDATE`, invoiceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *pgInvoices) InsertTransaction(ctx context.Context, t Transaction) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO transactions (id, customer_id, invoice_id, transaction_type, amount, note, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.CustomerID, nullable(t.InvoiceID), string(t.Type), t.Amount, t.Note, t.Active)
	return err
}

func (r *pgInvoices) UpdateTransaction(ctx context.Context, t Transaction) error {
	_, err := r.tx.Exec(ctx, `UPDATE transactions SET transaction_type = $2, amount = $3, note = $4, active = $5 WHERE id = $1`,
		t.ID, string(t.Type), t.Amount, t.Note, t.Active)
	return err
}

const transactionColumns = `id, customer_id, COALESCE(invoice_id, ''), transaction_type, amount, COALESCE(note, ''), active, created_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.CustomerID, &t.InvoiceID, &t.Type, &t.Amount, &t.Note, &t.Active, &t.CreatedAt)
	return t, err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
