package procurement

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
	"github.com/lilas/backoffice/internal/users"
)

// Repository persists procurement aggregates in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	inventory.ProductTx
	users.StaffTx
	shared.Sequencer
	LockSupplier(ctx context.Context, id string) (*Supplier, error)
	// SupplierConflict fails when another supplier already uses the contact
	// name, phone or email of sup.
	SupplierConflict(ctx context.Context, sup Supplier, excludeID string) error
	InsertSupplier(ctx context.Context, sup Supplier) error
	SaveSupplier(ctx context.Context, sup *Supplier) error
	InsertSupplierTransaction(ctx context.Context, t SupplierTransaction) error
	LockImportBill(ctx context.Context, id string) (*ImportBill, error)
	InsertImportBill(ctx context.Context, b ImportBill) error
	// SaveImportBill persists the header and replaces the lines.
	SaveImportBill(ctx context.Context, b *ImportBill) error
	InspectionExists(ctx context.Context, importBillID string) (bool, error)
	LockInspection(ctx context.Context, id string) (*InspectionReport, error)
	InsertInspection(ctx context.Context, r InspectionReport) error
	SaveInspection(ctx context.Context, r *InspectionReport) error
	InsertInspectionHistory(ctx context.Context, h InspectionHistory) error
	LockReturnBill(ctx context.Context, id string) (*ReturnBill, error)
	InsertReturnBill(ctx context.Context, b ReturnBill) error
	SaveReturnBill(ctx context.Context, b *ReturnBill) error
}

type txRepo struct {
	inventory.ProductTx
	users.StaffTx
	*shared.PGSequencer
	tx pgx.Tx
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			ProductTx:   inventory.NewProductTx(tx),
			StaffTx:     users.NewStaffTx(tx),
			PGSequencer: shared.NewPGSequencer(tx),
			tx:          tx,
		})
	})
}

// GetSupplier loads one supplier.
func (r *Repository) GetSupplier(ctx context.Context, id string) (Supplier, error) {
	return scanSupplier(r.pool.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id))
}

// ListSuppliers returns a page of suppliers, newest first.
func (r *Repository) ListSuppliers(ctx context.Context, filter SupplierFilter) ([]Supplier, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	if filter.ActiveOnly {
		where = append(where, "active")
	}
	if q := shared.NormalizeSearch(filter.Search); q != "" {
		args = append(args, "%"+q+"%")
		where = append(where, fmt.Sprintf("search_text LIKE $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM suppliers WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM suppliers WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		supplierColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Supplier
	for rows.Next() {
		sup, err := scanSupplier(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sup)
	}
	return out, total, rows.Err()
}

// ListSupplierTransactions returns a page of payments to a supplier.
func (r *Repository) ListSupplierTransactions(ctx context.Context, supplierID string, page shared.PageRequest) ([]SupplierTransaction, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM supplier_transactions WHERE supplier_id = $1`, supplierID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, supplier_id, COALESCE(import_bill_id, ''), amount, note, created_at
		FROM supplier_transactions WHERE supplier_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, supplierID, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []SupplierTransaction
	for rows.Next() {
		var t SupplierTransaction
		if err := rows.Scan(&t.ID, &t.SupplierID, &t.ImportBillID, &t.Amount, &t.Note, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// GetImportBill loads one import bill with its lines.
func (r *Repository) GetImportBill(ctx context.Context, id string) (ImportBill, error) {
	return loadImportBill(ctx, r.pool, id, false)
}

// ListImportBills returns a page of active import bills, newest first.
func (r *Repository) ListImportBills(ctx context.Context, filter BillFilter) ([]ImportBill, int, error) {
	cond, args := billWhere("b", filter, "b.active")
	ids, total, err := r.pageIDs(ctx, `FROM import_bills b LEFT JOIN suppliers s ON s.id = b.supplier_id WHERE `+cond, "b", args, filter.Page)
	if err != nil {
		return nil, 0, err
	}
	out := make([]ImportBill, 0, len(ids))
	for _, id := range ids {
		b, err := loadImportBill(ctx, r.pool, id, false)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, nil
}

// GetInspection loads one inspection report with its lines.
func (r *Repository) GetInspection(ctx context.Context, id string) (InspectionReport, error) {
	return loadInspection(ctx, r.pool, id, false)
}

// ListInspections returns a page of active inspection reports, newest first.
func (r *Repository) ListInspections(ctx context.Context, filter BillFilter) ([]InspectionReport, int, error) {
	cond, args := billWhere("b", filter, "b.active")
	ids, total, err := r.pageIDs(ctx, `FROM inspection_reports b JOIN import_bills ib ON ib.id = b.import_bill_id
		LEFT JOIN suppliers s ON s.id = ib.supplier_id WHERE `+cond, "b", args, filter.Page)
	if err != nil {
		return nil, 0, err
	}
	out := make([]InspectionReport, 0, len(ids))
	for _, id := range ids {
		rep, err := loadInspection(ctx, r.pool, id, false)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rep)
	}
	return out, total, nil
}

// InspectionHistory returns the edit log of a report, oldest first.
func (r *Repository) InspectionHistory(ctx context.Context, reportID string) ([]InspectionHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, inspection_report_id, COALESCE(user_id, ''), reason, note, created_at
		FROM inspection_report_histories WHERE inspection_report_id = $1 ORDER BY created_at, id`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []InspectionHistory{}
	for rows.Next() {
		var h InspectionHistory
		if err := rows.Scan(&h.ID, &h.InspectionReportID, &h.UserID, &h.Reason, &h.Note, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// GetReturnBill loads one return bill with its lines.
func (r *Repository) GetReturnBill(ctx context.Context, id string) (ReturnBill, error) {
	return loadReturnBill(ctx, r.pool, id, false)
}

// ListReturnBills returns a page of return bills, newest first.
func (r *Repository) ListReturnBills(ctx context.Context, filter BillFilter) ([]ReturnBill, int, error) {
	cond, args := billWhere("b", filter, "TRUE")
	ids, total, err := r.pageIDs(ctx, `FROM return_bills b LEFT JOIN suppliers s ON s.id = b.supplier_id WHERE `+cond, "b", args, filter.Page)
	if err != nil {
		return nil, 0, err
	}
	out := make([]ReturnBill, 0, len(ids))
	for _, id := range ids {
		b, err := loadReturnBill(ctx, r.pool, id, false)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, nil
}

// billWhere builds the shared bill filter over alias a joined with suppliers s.
func billWhere(a string, filter BillFilter, base string) (string, []any) {
	where := []string{base}
	args := []any{}
	add := func(expr string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(expr, len(args)))
	}
	if filter.Status != "" {
		add(a+".status = $%d", filter.Status)
	}
	if filter.Branch != nil {
		add(a+".branch = $%d", filter.Branch.String())
	}
	if filter.SupplierID != "" {
		add("s.id = $%d", filter.SupplierID)
	}
	if q := shared.NormalizeSearch(filter.Search); q != "" {
		add("("+a+".search_text LIKE $%[1]d OR COALESCE(s.search_text, '') LIKE $%[1]d)", "%"+q+"%")
	}
	return strings.Join(where, " AND "), args
}

func (r *Repository) pageIDs(ctx context.Context, from, alias string, args []any, page shared.PageRequest) ([]string, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) `+from, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, page.Limit(), page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %[1]s.id %[2]s ORDER BY %[1]s.created_at DESC LIMIT $%[3]d OFFSET $%[4]d`,
		alias, from, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, total, err
}

const supplierColumns = `id, contact_name, address, email, phone, debt, total_import_orders, total_import_value,
	total_return_orders, total_return_value, active, created_at, updated_at`

func scanSupplier(row pgx.Row) (Supplier, error) {
	var s Supplier
	err := row.Scan(&s.ID, &s.ContactName, &s.Address, &s.Email, &s.Phone, &s.Debt, &s.TotalImportOrders, &s.TotalImportValue,
		&s.TotalReturnOrders, &s.TotalReturnValue, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, ErrSupplierNotFound
	}
	return s, err
}

func supplierSearchText(s Supplier) string {
	return shared.NormalizeSearch(strings.Join([]string{s.ID, s.ContactName, s.Phone, s.Email, s.Address}, " "))
}

func billSearchText(id string, branch inventory.Branch, status, note string, items []BillItem) string {
	parts := []string{id, branch.String(), status, note}
	for _, it := range items {
		parts = append(parts, it.ProductID)
	}
	return shared.NormalizeSearch(strings.Join(parts, " "))
}
