package procurement

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/shared"
)

func (t *txRepo) LockSupplier(ctx context.Context, id string) (*Supplier, error) {
	s, err := scanSupplier(t.tx.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *txRepo) SupplierConflict(ctx context.Context, sup Supplier, excludeID string) error {
	checks := []struct {
		sql   string
		value string
		err   error
	}{
		{`SELECT EXISTS (SELECT 1 FROM suppliers WHERE lower(contact_name) = lower($1) AND id <> $2)`, sup.ContactName, ErrContactNameExists},
		{`SELECT EXISTS (SELECT 1 FROM suppliers WHERE phone = $1 AND id <> $2)`, sup.Phone, ErrSupplierPhoneExists},
		{`SELECT EXISTS (SELECT 1 FROM suppliers WHERE lower(email) = lower($1) AND id <> $2)`, sup.Email, ErrSupplierEmailExists},
	}
	for _, c := range checks {
		if c.value == "" {
			continue
		}
		var exists bool
		if err := t.tx.QueryRow(ctx, c.sql, c.value, excludeID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return c.err
		}
	}
	return nil
}

func (t *txRepo) InsertSupplier(ctx context.Context, s Supplier) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO suppliers (id, contact_name, address, email, phone, debt, total_import_orders, total_import_value,
			total_return_orders, total_return_value, active, search_text)
		VALUES ($1, $2, $3, $4, $5, 0, 0, 0, 0, 0, $6, $7)`,
		s.ID, s.ContactName, s.Address, s.Email, s.Phone, s.Active, supplierSearchText(s))
	if shared.IsUniqueViolation(err) {
		return ErrContactNameExists
	}
	return err
}

func (t *txRepo) SaveSupplier(ctx context.Context, s *Supplier) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE suppliers SET contact_name = $2, address = $3, email = $4, phone = $5, debt = $6,
			total_import_orders = $7, total_import_value = $8, total_return_orders = $9, total_return_value = $10,
			active = $11, search_text = $12, updated_at = NOW()
		WHERE id = $1`,
		s.ID, s.ContactName, s.Address, s.Email, s.Phone, s.Debt, s.TotalImportOrders, s.TotalImportValue,
		s.TotalReturnOrders, s.TotalReturnValue, s.Active, supplierSearchText(*s))
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return ErrContactNameExists
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSupplierNotFound
	}
	return nil
}

func (t *txRepo) InsertSupplierTransaction(ctx context.Context, st SupplierTransaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO supplier_transactions (id, supplier_id, import_bill_id, amount, note)
		VALUES ($1, $2, $3, $4, $5)`,
		st.ID, st.SupplierID, nullable(st.ImportBillID), st.Amount, st.Note)
	return err
}

const importBillColumns = `b.id, b.supplier_id, COALESCE(s.contact_name, ''), COALESCE(b.user_id, ''), b.branch, b.note,
	b.discount, b.extra_fee, b.total_value, b.paid_amount, b.status, b.delivery_date, b.active, b.created_at, b.updated_at`

func loadImportBill(ctx context.Context, q queryer, id string, lock bool) (ImportBill, error) {
	sql := `SELECT ` + importBillColumns + ` FROM import_bills b LEFT JOIN suppliers s ON s.id = b.supplier_id WHERE b.id = $1`
	if lock {
		sql += ` FOR UPDATE OF b`
	}
	var (
		b      ImportBill
		branch string
	)
	err := q.QueryRow(ctx, sql, id).Scan(&b.ID, &b.SupplierID, &b.SupplierName, &b.UserID, &branch, &b.Note,
		&b.Discount, &b.ExtraFee, &b.TotalValue, &b.PaidAmount, &b.Status, &b.DeliveryDate, &b.Active, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ImportBill{}, ErrImportBillNotFound.WithMessage("import bill %s not found", id)
	}
	if err != nil {
		return ImportBill{}, err
	}
	if b.Branch, err = inventory.ParseBranch(branch); err != nil {
		return ImportBill{}, err
	}
	b.Items, err = loadBillItems(ctx, q, "import_bill_items", "import_bill_id", id)
	return b, err
}

// loadBillItems reads the lines of an import or return bill.
func loadBillItems(ctx context.Context, q queryer, table, fk, id string) ([]BillItem, error) {
	rows, err := q.Query(ctx, `
		SELECT it.product_id, COALESCE(p.name, ''), it.quantity, it.price, it.discount, it.total_line
		FROM `+table+` it LEFT JOIN products p ON p.id = it.product_id
		WHERE it.`+fk+` = $1 ORDER BY it.id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BillItem
	for rows.Next() {
		var it BillItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Quantity, &it.Price, &it.Discount, &it.TotalLine); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *txRepo) replaceBillItems(ctx context.Context, table, fk, id string, items []BillItem) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM `+table+` WHERE `+fk+` = $1`, id); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`INSERT INTO `+table+` (`+fk+`, product_id, quantity, price, discount, total_line) VALUES ($1, $2, $3, $4, $5, $6)`,
			id, it.ProductID, it.Quantity, it.Price, it.Discount, it.TotalLine)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) LockImportBill(ctx context.Context, id string) (*ImportBill, error) {
	b, err := loadImportBill(ctx, t.tx, id, true)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *txRepo) InsertImportBill(ctx context.Context, b ImportBill) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO import_bills (id, supplier_id, user_id, branch, note, discount, extra_fee, total_value, paid_amount,
			status, delivery_date, active, search_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		b.ID, b.SupplierID, nullable(b.UserID), b.Branch.String(), b.Note, b.Discount, b.ExtraFee, b.TotalValue, b.PaidAmount,
		string(b.Status), b.DeliveryDate, b.Active, billSearchText(b.ID, b.Branch, string(b.Status), b.Note, b.Items))
	if err != nil {
		return err
	}
	return t.replaceBillItems(ctx, "import_bill_items", "import_bill_id", b.ID, b.Items)
}

func (t *txRepo) SaveImportBill(ctx context.Context, b *ImportBill) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE import_bills SET branch = $2, note = $3, discount = $4, extra_fee = $5, total_value = $6, paid_amount = $7,
			status = $8, delivery_date = $9, active = $10, search_text = $11, updated_at = NOW()
		WHERE id = $1`,
		b.ID, b.Branch.String(), b.Note, b.Discount, b.ExtraFee, b.TotalValue, b.PaidAmount,
		string(b.Status), b.DeliveryDate, b.Active, billSearchText(b.ID, b.Branch, string(b.Status), b.Note, b.Items))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrImportBillNotFound
	}
	return t.replaceBillItems(ctx, "import_bill_items", "import_bill_id", b.ID, b.Items)
}

const inspectionColumns = `id, import_bill_id, COALESCE(user_id, ''), branch, note, status, active, complete_at, created_at, updated_at`

func loadInspection(ctx context.Context, q queryer, id string, lock bool) (InspectionReport, error) {
	sql := `SELECT ` + inspectionColumns + ` FROM inspection_reports WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var (
		r      InspectionReport
		branch string
	)
	err := q.QueryRow(ctx, sql, id).Scan(&r.ID, &r.ImportBillID, &r.UserID, &branch, &r.Note, &r.Status, &r.Active,
		&r.CompleteAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return InspectionReport{}, ErrInspectionNotFound.WithMessage("inspection report %s not found", id)
	}
	if err != nil {
		return InspectionReport{}, err
	}
	if r.Branch, err = inventory.ParseBranch(branch); err != nil {
		return InspectionReport{}, err
	}
	rows, err := q.Query(ctx, `
		SELECT it.product_id, COALESCE(p.name, ''), it.quantity, it.actual_quantity, it.reason, it.note
		FROM inspection_report_items it LEFT JOIN products p ON p.id = it.product_id
		WHERE it.inspection_report_id = $1 ORDER BY it.id`, id)
	if err != nil {
		return InspectionReport{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it InspectionItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Quantity, &it.ActualQuantity, &it.Reason, &it.Note); err != nil {
			return InspectionReport{}, err
		}
		r.Items = append(r.Items, it)
	}
	return r, rows.Err()
}

func (t *txRepo) InspectionExists(ctx context.Context, importBillID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inspection_reports WHERE import_bill_id = $1)`, importBillID).Scan(&exists)
	return exists, err
}

func (t *txRepo) LockInspection(ctx context.Context, id string) (*InspectionReport, error) {
	r, err := loadInspection(ctx, t.tx, id, true)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func inspectionSearchText(r InspectionReport) string {
	return shared.NormalizeSearch(r.ID + " " + r.ImportBillID + " " + r.Branch.String() + " " + string(r.Status) + " " + r.Note)
}

func (t *txRepo) InsertInspection(ctx context.Context, r InspectionReport) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO inspection_reports (id, import_bill_id, user_id, branch, note, status, active, complete_at, search_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.ImportBillID, nullable(r.UserID), r.Branch.String(), r.Note, string(r.Status), r.Active, r.CompleteAt,
		inspectionSearchText(r))
	if shared.IsUniqueViolation(err) {
		return ErrInspectionExists
	}
	if err != nil {
		return err
	}
	return t.replaceInspectionItems(ctx, r)
}

func (t *txRepo) SaveInspection(ctx context.Context, r *InspectionReport) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE inspection_reports SET note = $2, status = $3, active = $4, complete_at = $5, search_text = $6, updated_at = NOW()
		WHERE id = $1`,
		r.ID, r.Note, string(r.Status), r.Active, r.CompleteAt, inspectionSearchText(*r))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInspectionNotFound
	}
	return t.replaceInspectionItems(ctx, *r)
}

func (t *txRepo) replaceInspectionItems(ctx context.Context, r InspectionReport) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM inspection_report_items WHERE inspection_report_id = $1`, r.ID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, it := range r.Items {
		batch.Queue(`
			INSERT INTO inspection_report_items (inspection_report_id, product_id, quantity, actual_quantity, reason, note)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, it.ProductID, it.Quantity, it.ActualQuantity, it.Reason, it.Note)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) InsertInspectionHistory(ctx context.Context, h InspectionHistory) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO inspection_report_histories (id, inspection_report_id, user_id, reason, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		h.ID, h.InspectionReportID, nullable(h.UserID), h.Reason, h.Note, h.CreatedAt)
	return err
}

const returnBillColumns = `b.id, b.supplier_id, COALESCE(s.contact_name, ''), COALESCE(b.user_id, ''), b.branch, b.note,
	b.discount, b.extra_fee, b.total_value, b.paid_amount, b.status, b.active, b.created_at, b.updated_at`

func loadReturnBill(ctx context.Context, q queryer, id string, lock bool) (ReturnBill, error) {
	sql := `SELECT ` + returnBillColumns + ` FROM return_bills b LEFT JOIN suppliers s ON s.id = b.supplier_id WHERE b.id = $1`
	if lock {
		sql += ` FOR UPDATE OF b`
	}
	var (
		b      ReturnBill
		branch string
	)
	err := q.QueryRow(ctx, sql, id).Scan(&b.ID, &b.SupplierID, &b.SupplierName, &b.UserID, &branch, &b.Note,
		&b.Discount, &b.ExtraFee, &b.TotalValue, &b.PaidAmount, &b.Status, &b.Active, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ReturnBill{}, ErrReturnBillNotFound.WithMessage("return bill %s not found", id)
	}
	if err != nil {
		return ReturnBill{}, err
	}
	if b.Branch, err = inventory.ParseBranch(branch); err != nil {
		return ReturnBill{}, err
	}
	b.Items, err = loadBillItems(ctx, q, "return_bill_items", "return_bill_id", id)
	return b, err
}

func (t *txRepo) LockReturnBill(ctx context.Context, id string) (*ReturnBill, error) {
	b, err := loadReturnBill(ctx, t.tx, id, true)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *txRepo) InsertReturnBill(ctx context.Context, b ReturnBill) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO return_bills (id, supplier_id, user_id, branch, note, discount, extra_fee, total_value, paid_amount,
			status, active, search_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		b.ID, b.SupplierID, nullable(b.UserID), b.Branch.String(), b.Note, b.Discount, b.ExtraFee, b.TotalValue, b.PaidAmount,
		string(b.Status), b.Active, billSearchText(b.ID, b.Branch, string(b.Status), b.Note, b.Items))
	if err != nil {
		return err
	}
	return t.replaceBillItems(ctx, "return_bill_items", "return_bill_id", b.ID, b.Items)
}

func (t *txRepo) SaveReturnBill(ctx context.Context, b *ReturnBill) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE return_bills SET note = $2, discount = $3, extra_fee = $4, total_value = $5, paid_amount = $6,
			status = $7, active = $8, search_text = $9, updated_at = NOW()
		WHERE id = $1`,
		b.ID, b.Note, b.Discount, b.ExtraFee, b.TotalValue, b.PaidAmount,
		string(b.Status), b.Active, billSearchText(b.ID, b.Branch, string(b.Status), b.Note, b.Items))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReturnBillNotFound
	}
	return t.replaceBillItems(ctx, "return_bill_items", "return_bill_id", b.ID, b.Items)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
