package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/platform/db"
	"github.com/lilas/backoffice/internal/shared"
)

// Repository persists customers, their ledger and invoices in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	InvoiceTx
	shared.Sequencer
	LockWalkIn(ctx context.Context) (*Customer, error)
	CustomerConflict(ctx context.Context, phone, email, excludeID string) error
	InsertCustomer(ctx context.Context, c Customer) error
	UpdateCustomer(ctx context.Context, c Customer) error
	LockGroup(ctx context.Context, id int64) (*Group, error)
	GroupByName(ctx context.Context, name string) (*Group, error)
	InsertGroup(ctx context.Context, g *Group) error
	UpdateGroup(ctx context.Context, g Group) error
	DeleteGroup(ctx context.Context, id, fallbackID int64) error
	InsertInvoice(ctx context.Context, inv Invoice) error
	ReplaceInvoiceLines(ctx context.Context, inv Invoice) error
}

type txRepo struct {
	InvoiceTx
	*shared.PGSequencer
	tx pgx.Tx
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			InvoiceTx:   NewInvoiceTx(tx),
			PGSequencer: shared.NewPGSequencer(tx),
			tx:          tx,
		})
	})
}

const customerColumns = `c.id, c.full_name, c.phone, c.email, c.address, c.date_of_birth, c.province, c.district_id,
	c.district_name, c.ward_code, c.ward_name, c.group_id, g.name, g.price_tier, c.debt, c.total_spending,
	c.total_order, c.total_return_spending, c.total_return_orders, c.active, c.created_at`

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.FullName, &c.Phone, &c.Email, &c.Address, &c.DateOfBirth, &c.Province, &c.DistrictID,
		&c.DistrictName, &c.WardCode, &c.WardName, &c.GroupID, &c.GroupName, &c.PriceTier, &c.Debt, &c.TotalSpending,
		&c.TotalOrder, &c.TotalReturnSpending, &c.TotalReturnOrders, &c.Active, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrCustomerNotFound
	}
	return c, err
}

func customerSearchText(c Customer) string {
	return shared.NormalizeSearch(strings.Join([]string{c.ID, c.FullName, c.Phone, c.Email}, " "))
}

func collectCustomers(rows pgx.Rows, err error) ([]Customer, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCustomer loads one customer.
func (r *Repository) GetCustomer(ctx context.Context, id string) (Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers c JOIN customer_groups g ON g.id = c.group_id
		WHERE c.id = $1`, id))
}

// ListCustomers returns a page of customers, the walk-in customer excluded.
func (r *Repository) ListCustomers(ctx context.Context, filter CustomerFilter) ([]Customer, int, error) {
	where := []string{"c.full_name <> $1"}
	args := []any{WalkInName}
	if filter.ActiveOnly {
		where = append(where, "c.active")
	}
	if filter.GroupID > 0 {
		args = append(args, filter.GroupID)
		where = append(where, fmt.Sprintf("c.group_id = $%d", len(args)))
	}
	if q := shared.NormalizeSearch(filter.Search); q != "" {
		args = append(args, "%"+q+"%")
		where = append(where, fmt.Sprintf("(c.search_text LIKE $%[1]d OR lower(g.name) LIKE $%[1]d)", len(args)))
	}
	cond := strings.Join(where, " AND ")
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers c JOIN customer_groups g ON g.id = c.group_id WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	out, err := collectCustomers(r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM customers c JOIN customer_groups g ON g.id = c.group_id
		WHERE %s ORDER BY c.created_at DESC LIMIT $%d OFFSET $%d`, customerColumns, cond, len(args)-1, len(args)), args...))
	return out, total, err
}

// TopCustomers returns active customers with the highest spending.
func (r *Repository) TopCustomers(ctx context.Context, limit int) ([]Customer, error) {
	return collectCustomers(r.pool.Query(ctx, `SELECT `+customerColumns+` FROM customers c JOIN customer_groups g ON g.id = c.group_id
		WHERE c.active AND c.total_spending > 0 ORDER BY c.total_spending DESC LIMIT $1`, limit))
}

const groupColumns = `g.id, g.name, g.description, g.price_tier, g.discount_type, g.discount, g.created_at, g.updated_at,
	COUNT(c.id), COALESCE(SUM(c.total_order), 0), COALESCE(SUM(c.total_spending), 0)`

func scanGroup(row pgx.Row) (Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.PriceTier, &g.DiscountType, &g.Discount, &g.CreatedAt, &g.UpdatedAt,
		&g.TotalCustomer, &g.TotalOrder, &g.TotalSpending)
	if errors.Is(err, pgx.ErrNoRows) {
		return Group{}, ErrGroupNotFound
	}
	return g, err
}

// ListGroups returns every customer group with its member aggregates.
func (r *Repository) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+groupColumns+` FROM customer_groups g LEFT JOIN customers c ON c.group_id = g.id
		GROUP BY g.id ORDER BY g.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetGroup loads one customer group with its member aggregates.
func (r *Repository) GetGroup(ctx context.Context, id int64) (Group, error) {
	return scanGroup(r.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM customer_groups g LEFT JOIN customers c ON c.group_id = g.id
		WHERE g.id = $1 GROUP BY g.id`, id))
}

// ListTransactions returns a page of customer ledger rows, newest first.
func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.ActiveOnly {
		where = append(where, "active")
	}
	cond := strings.Join(where, " AND ")
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM transactions WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// GetInvoice loads one invoice with its lines.
func (r *Repository) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	return loadInvoice(ctx, r.pool, id, false)
}

// ListInvoices returns a page of invoices, newest first.
func (r *Repository) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	add := func(expr string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(expr, len(args)))
	}
	if filter.Status != "" {
		add("i.status = $%d", string(filter.Status))
	}
	if filter.PaymentStatus != "" {
		add("i.payment_status = $%d", string(filter.PaymentStatus))
	}
	if filter.Branch != nil {
		add("i.branch = $%d", filter.Branch.String())
	}
	if filter.IsDelivery != nil {
		add("i.is_delivery = $%d", *filter.IsDelivery)
	}
	if filter.From != nil {
		add("i.created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("i.created_at < $%d", *filter.To)
	}
	if filter.WithActiveTx {
		where = append(where, "EXISTS (SELECT 1 FROM transactions t WHERE t.invoice_id = i.id AND t.active)")
	}
	if q := shared.NormalizeSearch(filter.Search); q != "" {
		add("(i.search_text LIKE $%[1]d OR COALESCE(c.search_text, '') LIKE $%[1]d)", "%"+q+"%")
	}
	cond := strings.Join(where, " AND ")
	from := `FROM invoices i LEFT JOIN customers c ON c.id = i.customer_id WHERE ` + cond
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) `+from, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT i.id %s ORDER BY i.created_at DESC LIMIT $%d OFFSET $%d`, from, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, 0, err
	}
	out := make([]Invoice, 0, len(ids))
	for _, id := range ids {
		inv, err := loadInvoice(ctx, r.pool, id, false)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, nil
}

const invoiceColumns = `i.id, i.customer_id, COALESCE(c.full_name, ''), COALESCE(c.phone, ''), COALESCE(i.user_id, ''), i.branch,
	i.is_delivery, i.status, i.payment_status, i.deposit, i.deposit_method, i.discount, i.discount_type, i.extra_cost,
	i.total_value, i.note, i.expected_delivery, i.active, i.stock_deducted, i.created_at, i.updated_at`

func loadInvoice(ctx context.Context, q queryer, id string, lock bool) (Invoice, error) {
	sql := `SELECT ` + invoiceColumns + ` FROM invoices i LEFT JOIN customers c ON c.id = i.customer_id WHERE i.id = $1`
	if lock {
		sql += ` FOR UPDATE OF i`
	}
	var (
		inv    Invoice
		branch string
	)
	err := q.QueryRow(ctx, sql, id).Scan(&inv.ID, &inv.CustomerID, &inv.CustomerName, &inv.CustomerPhone, &inv.UserID, &branch,
		&inv.IsDelivery, &inv.Status, &inv.PaymentStatus, &inv.Deposit, &inv.DepositMethod, &inv.Discount.Value, &inv.Discount.Type,
		&inv.ExtraCost, &inv.TotalValue, &inv.Note, &inv.ExpectedDelivery, &inv.Active, &inv.StockDeducted, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, err
	}
	if inv.Branch, err = inventory.ParseBranch(branch); err != nil {
		return Invoice{}, err
	}
	rows, err := q.Query(ctx, `
		SELECT ii.product_id, COALESCE(p.name, ''), ii.quantity, ii.price, ii.discount, ii.discount_type
		FROM invoice_items ii LEFT JOIN products p ON p.id = ii.product_id
		WHERE ii.invoice_id = $1 ORDER BY ii.id`, id)
	if err != nil {
		return Invoice{}, err
	}
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Quantity, &it.Price, &it.Discount.Value, &it.Discount.Type); err != nil {
			rows.Close()
			return Invoice{}, err
		}
		inv.Items = append(inv.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Invoice{}, err
	}
	rows, err = q.Query(ctx, `
		SELECT COALESCE(product_id, ''), name, quantity, price, discount, discount_type
		FROM invoice_service_items WHERE invoice_id = $1 ORDER BY id`, id)
	if err != nil {
		return Invoice{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it ServiceItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Quantity, &it.Price, &it.Discount.Value, &it.Discount.Type); err != nil {
			return Invoice{}, err
		}
		inv.ServiceItems = append(inv.ServiceItems, it)
	}
	return inv, rows.Err()
}

func invoiceSearchText(inv Invoice) string {
	return shared.NormalizeSearch(strings.Join([]string{inv.ID, inv.Branch.String(), string(inv.Status), string(inv.PaymentStatus), inv.Note}, " "))
}

func (t *txRepo) LockWalkIn(ctx context.Context) (*Customer, error) {
	var id string
	err := t.tx.QueryRow(ctx, `SELECT id FROM customers WHERE full_name = $1 ORDER BY created_at LIMIT 1`, WalkInName).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCustomerNotFound.WithMessage("walk-in customer missing")
	}
	if err != nil {
		return nil, err
	}
	return t.LockCustomer(ctx, id)
}

func (t *txRepo) CustomerConflict(ctx context.Context, phone, email, excludeID string) error {
	if phone != "" {
		var exists bool
		if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE phone = $1 AND id <> $2)`, phone, excludeID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrPhoneExists
		}
	}
	if email != "" {
		var exists bool
		if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE lower(email) = lower($1) AND id <> $2)`, email, excludeID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrEmailExists
		}
	}
	return nil
}

func (t *txRepo) InsertCustomer(ctx context.Context, c Customer) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO customers (id, full_name, phone, email, address, date_of_birth, province, district_id, district_name,
			ward_code, ward_name, group_id, debt, total_spending, total_order, total_return_spending, total_return_orders,
			active, search_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, 0, 0, 0, 0, $13, $14)`,
		c.ID, c.FullName, c.Phone, c.Email, c.Address, c.DateOfBirth, c.Province, c.DistrictID, c.DistrictName,
		c.WardCode, c.WardName, c.GroupID, c.Active, customerSearchText(c))
	if shared.IsUniqueViolation(err) {
		return ErrPhoneExists
	}
	return err
}

func (t *txRepo) UpdateCustomer(ctx context.Context, c Customer) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE customers SET full_name = $2, phone = $3, email = $4, address = $5, date_of_birth = $6, province = $7,
			district_id = $8, district_name = $9, ward_code = $10, ward_name = $11, group_id = $12, active = $13,
			search_text = $14
		WHERE id = $1`,
		c.ID, c.FullName, c.Phone, c.Email, c.Address, c.DateOfBirth, c.Province,
		c.DistrictID, c.DistrictName, c.WardCode, c.WardName, c.GroupID, c.Active, customerSearchText(c))
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return ErrPhoneExists
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

const plainGroupColumns = `id, name, description, price_tier, discount_type, discount, created_at, updated_at`

func scanPlainGroup(row pgx.Row) (*Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.PriceTier, &g.DiscountType, &g.Discount, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (t *txRepo) LockGroup(ctx context.Context, id int64) (*Group, error) {
	return scanPlainGroup(t.tx.QueryRow(ctx, `SELECT `+plainGroupColumns+` FROM customer_groups WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) GroupByName(ctx context.Context, name string) (*Group, error) {
	g, err := scanPlainGroup(t.tx.QueryRow(ctx, `SELECT `+plainGroupColumns+` FROM customer_groups WHERE lower(name) = lower($1)`, name))
	if errors.Is(err, ErrGroupNotFound) {
		return nil, nil
	}
	return g, err
}

func (t *txRepo) InsertGroup(ctx context.Context, g *Group) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO customer_groups (name, description, price_tier, discount_type, discount)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at, updated_at`,
		g.Name, g.Description, string(g.PriceTier), g.DiscountType, g.Discount).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	if shared.IsUniqueViolation(err) {
		return ErrGroupExists
	}
	return err
}

func (t *txRepo) UpdateGroup(ctx context.Context, g Group) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE customer_groups SET name = $2, description = $3, price_tier = $4, discount_type = $5, discount = $6, updated_at = NOW()
		WHERE id = $1`, g.ID, g.Name, g.Description, string(g.PriceTier), g.DiscountType, g.Discount)
	if shared.IsUniqueViolation(err) {
		return ErrGroupExists
	}
	return err
}

func (t *txRepo) DeleteGroup(ctx context.Context, id, fallbackID int64) error {
	if _, err := t.tx.Exec(ctx, `UPDATE customers SET group_id = $2 WHERE group_id = $1`, id, fallbackID); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM customer_groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGroupNotFound
	}
	return nil
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO invoices (id, customer_id, user_id, branch, is_delivery, status, payment_status, deposit, deposit_method,
			discount, discount_type, extra_cost, total_value, note, expected_delivery, active, stock_deducted, search_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		inv.ID, inv.CustomerID, nullable(inv.UserID), inv.Branch.String(), inv.IsDelivery, string(inv.Status),
		string(inv.PaymentStatus), inv.Deposit, inv.DepositMethod, inv.Discount.Value, string(inv.Discount.Type),
		inv.ExtraCost, inv.TotalValue, inv.Note, inv.ExpectedDelivery, inv.Active, inv.StockDeducted, invoiceSearchText(inv))
	if err != nil {
		return err
	}
	return t.insertLines(ctx, inv)
}

func (t *txRepo) ReplaceInvoiceLines(ctx context.Context, inv Invoice) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, inv.ID); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM invoice_service_items WHERE invoice_id = $1`, inv.ID); err != nil {
		return err
	}
	return t.insertLines(ctx, inv)
}

func (t *txRepo) insertLines(ctx context.Context, inv Invoice) error {
	batch := &pgx.Batch{}
	for _, it := range inv.Items {
		batch.Queue(`INSERT INTO invoice_items (invoice_id, product_id, quantity, price, discount, discount_type) VALUES ($1, $2, $3, $4, $5, $6)`,
			inv.ID, it.ProductID, it.Quantity, it.Price, it.Discount.Value, string(it.Discount.Type))
	}
	for _, it := range inv.ServiceItems {
		batch.Queue(`INSERT INTO invoice_service_items (invoice_id, product_id, name, quantity, price, discount, discount_type) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			inv.ID, nullable(it.ProductID), it.Name, it.Quantity, it.Price, it.Discount.Value, string(it.Discount.Type))
	}
	return t.tx.SendBatch(ctx, batch).Close()
}
