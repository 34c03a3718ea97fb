package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lilas/backoffice/internal/platform/db"
	"github.com/lilas/backoffice/internal/shared"
	"github.com/lilas/backoffice/internal/users"
)

// Repository persists products, groups and transfers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	ProductTx
	users.StaffTx
	shared.Sequencer
	InsertProduct(ctx context.Context, p Product) error
	UpdateProductInfo(ctx context.Context, p Product) error
	ProductNameExists(ctx context.Context, name, excludeID string) (bool, error)
	GroupExists(ctx context.Context, name string) (bool, error)
	InsertGroup(ctx context.Context, g Group) error
	DeleteGroup(ctx context.Context, name, fallback string) error
	LockTransfer(ctx context.Context, id string) (Transfer, error)
	InsertTransfer(ctx context.Context, t Transfer) error
	UpdateTransfer(ctx context.Context, t Transfer) error
}

type txRepo struct {
	ProductTx
	users.StaffTx
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
			ProductTx:   NewProductTx(tx),
			StaffTx:     users.NewStaffTx(tx),
			PGSequencer: shared.NewPGSequencer(tx),
			tx:          tx,
		})
	})
}

const productBaseColumns = `id, name, description, brand, barcode, COALESCE(group_name, ''), weight, length, width, height,
	price_import, price_retail, price_wholesale, dry_stock, active, created_at, updated_at`

var productColumns = func() string {
	cols := []string{productBaseColumns}
	var probe StockLevel
	for _, b := range Branches {
		for _, c := range levelColumns(b, &probe) {
			cols = append(cols, c.name)
		}
	}
	return strings.Join(cols, ", ")
}()

type levelColumn struct {
	name  string
	value *int
}

func levelColumns(b Branch, l *StockLevel) []levelColumn {
	return []levelColumn{
		{b.Column("stock"), &l.Stock},
		{b.Column("can_sell"), &l.CanSell},
		{b.Column("pending_arrival"), &l.PendingArrival},
		{b.Column("out_for_delivery"), &l.OutForDelivery},
	}
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	dest := []any{&p.ID, &p.Name, &p.Description, &p.Brand, &p.Barcode, &p.GroupName, &p.Weight, &p.Length, &p.Width, &p.Height,
		&p.PriceImport, &p.PriceRetail, &p.PriceWholesale, &p.DryStock, &p.Active, &p.CreatedAt, &p.UpdatedAt}
	for _, b := range Branches {
		for _, c := range levelColumns(b, &p.Levels[b]) {
			dest = append(dest, c.value)
		}
	}
	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func productSearchText(p Product) string {
	return shared.NormalizeSearch(strings.Join([]string{p.ID, p.Name, p.Barcode, p.Brand}, " "))
}

// GetProduct loads one product.
func (r *Repository) GetProduct(ctx context.Context, id string) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

// ListProducts returns a page of products and the total count.
func (r *Repository) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	if filter.ActiveOnly {
		where = append(where, "active")
	}
	if filter.SellableOnly {
		where = append(where, "active AND dry_stock")
	}
	if filter.GroupName != "" {
		args = append(args, filter.GroupName)
		where = append(where, fmt.Sprintf("group_name = $%d", len(args)))
	}
	if q := shared.NormalizeSearch(filter.Search); q != "" {
		args = append(args, "%"+q+"%")
		where = append(where, fmt.Sprintf("search_text LIKE $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM products WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		productColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// ListGroups returns every product group.
func (r *Repository) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, description, created_at FROM product_groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.Name, &g.Description, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// InventoryValue values stock at moving-average cost for one branch or all.
func (r *Repository) InventoryValue(ctx context.Context, branch *Branch) (InventoryValue, error) {
	stockExpr := make([]string, 0, BranchCount)
	for _, b := range Branches {
		stockExpr = append(stockExpr, b.Column("stock"))
	}
	out := InventoryValue{Warehouse: "all"}
	if branch != nil {
		stockExpr = []string{branch.Column("stock")}
		out.Warehouse = branch.String()
	}
	expr := "(" + strings.Join(stockExpr, " + ") + ")"
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(`+expr+`), 0), COALESCE(SUM(`+expr+` * price_import), 0) FROM products`).
		Scan(&out.TotalProducts, &out.TotalStock, &out.TotalStockValue)
	return out, err
}

// GetTransfer loads one transfer with its items.
func (r *Repository) GetTransfer(ctx context.Context, id string) (Transfer, error) {
	return loadTransfer(ctx, r.pool, id, false)
}

// ListTransfers returns a page of transfers, newest first.
func (r *Repository) ListTransfers(ctx context.Context, filter TransferFilter) ([]Transfer, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if q := shared.NormalizeSearch(filter.Search); q != "" {
		args = append(args, "%"+q+"%")
		where = append(where, fmt.Sprintf("search_text LIKE $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfers WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT id FROM transfers WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, 0, err
	}
	out := make([]Transfer, 0, len(ids))
	for _, id := range ids {
		t, err := loadTransfer(ctx, r.pool, id, false)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, nil
}

const transferColumns = `id, from_warehouse, to_warehouse, user_id, quantity, extra_fee, status, note, active, created_at, updated_at`

func loadTransfer(ctx context.Context, q queryer, id string, lock bool) (Transfer, error) {
	sql := `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var (
		t        Transfer
		from, to string
	)
	err := q.QueryRow(ctx, sql, id).Scan(&t.ID, &from, &to, &t.UserID, &t.Quantity, &t.ExtraFee, &t.Status, &t.Note, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, ErrTransferNotFound
	}
	if err != nil {
		return Transfer{}, err
	}
	if t.From, err = ParseBranch(from); err != nil {
		return Transfer{}, err
	}
	if t.To, err = ParseBranch(to); err != nil {
		return Transfer{}, err
	}
	rows, err := q.Query(ctx, `
		SELECT ti.product_id, COALESCE(p.name, ''), ti.quantity
		FROM transfer_items ti LEFT JOIN products p ON p.id = ti.product_id
		WHERE ti.transfer_id = $1 ORDER BY ti.id`, id)
	if err != nil {
		return Transfer{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it TransferItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Quantity); err != nil {
			return Transfer{}, err
		}
		t.Items = append(t.Items, it)
	}
	return t, rows.Err()
}

func (t *txRepo) InsertProduct(ctx context.Context, p Product) error {
	cols := []string{"id", "name", "description", "brand", "barcode", "group_name", "weight", "length", "width", "height",
		"price_import", "price_retail", "price_wholesale", "dry_stock", "active", "search_text"}
	args := []any{p.ID, p.Name, p.Description, p.Brand, p.Barcode, nullable(p.GroupName), p.Weight, p.Length, p.Width, p.Height,
		p.PriceImport, p.PriceRetail, p.PriceWholesale, p.DryStock, p.Active, productSearchText(p)}
	for _, b := range Branches {
		for _, c := range levelColumns(b, &p.Levels[b]) {
			cols = append(cols, c.name)
			args = append(args, *c.value)
		}
	}
	marks := make([]string, len(args))
	for i := range marks {
		marks[i] = fmt.Sprintf("$%d", i+1)
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO products (`+strings.Join(cols, ", ")+`) VALUES (`+strings.Join(marks, ", ")+`)`, args...)
	if shared.IsUniqueViolation(err) {
		return ErrProductNameExists
	}
	return err
}

func (t *txRepo) UpdateProductInfo(ctx context.Context, p Product) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE products SET name = $2, description = $3, brand = $4, barcode = $5, group_name = $6,
			weight = $7, length = $8, width = $9, height = $10, price_retail = $11, price_wholesale = $12,
			dry_stock = $13, active = $14, search_text = $15, updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.Description, p.Brand, p.Barcode, nullable(p.GroupName), p.Weight, p.Length, p.Width, p.Height,
		p.PriceRetail, p.PriceWholesale, p.DryStock, p.Active, productSearchText(p))
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return ErrProductNameExists
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (t *txRepo) ProductNameExists(ctx context.Context, name, excludeID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE name = $1 AND id <> $2)`, name, excludeID).Scan(&exists)
	return exists, err
}

func (t *txRepo) GroupExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM product_groups WHERE lower(name) = lower($1))`, name).Scan(&exists)
	return exists, err
}

func (t *txRepo) InsertGroup(ctx context.Context, g Group) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO product_groups (name, description) VALUES ($1, $2)`, g.Name, g.Description)
	if shared.IsUniqueViolation(err) {
		return ErrGroupExists
	}
	return err
}

// DeleteGroup moves the group's products to fallback, creating it when
// missing, then removes the group.
func (t *txRepo) DeleteGroup(ctx context.Context, name, fallback string) error {
	if _, err := t.tx.Exec(ctx, `INSERT INTO product_groups (name, description) VALUES ($1, '') ON CONFLICT (name) DO NOTHING`, fallback); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `UPDATE products SET group_name = $2 WHERE lower(group_name) = lower($1)`, name, fallback); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM product_groups WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGroupNotFound
	}
	return nil
}

func (t *txRepo) LockTransfer(ctx context.Context, id string) (Transfer, error) {
	return loadTransfer(ctx, t.tx, id, true)
}

func transferSearchText(tr Transfer) string {
	return shared.NormalizeSearch(strings.Join([]string{tr.ID, tr.From.String(), tr.To.String(), tr.UserID, tr.Note}, " "))
}

func (t *txRepo) InsertTransfer(ctx context.Context, tr Transfer) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transfers (id, from_warehouse, to_warehouse, user_id, quantity, extra_fee, status, note, active, search_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tr.ID, tr.From.String(), tr.To.String(), tr.UserID, tr.Quantity, tr.ExtraFee, string(tr.Status), tr.Note, tr.Active, transferSearchText(tr))
	if err != nil {
		return err
	}
	return t.insertTransferItems(ctx, tr)
}

func (t *txRepo) UpdateTransfer(ctx context.Context, tr Transfer) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE transfers SET from_warehouse = $2, to_warehouse = $3, user_id = $4, quantity = $5, extra_fee = $6,
			status = $7, note = $8, active = $9, search_text = $10, updated_at = NOW()
		WHERE id = $1`,
		tr.ID, tr.From.String(), tr.To.String(), tr.UserID, tr.Quantity, tr.ExtraFee, string(tr.Status), tr.Note, tr.Active, transferSearchText(tr))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransferNotFound
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM transfer_items WHERE transfer_id = $1`, tr.ID); err != nil {
		return err
	}
	return t.insertTransferItems(ctx, tr)
}

func (t *txRepo) insertTransferItems(ctx context.Context, tr Transfer) error {
	batch := &pgx.Batch{}
	for _, it := range tr.Items {
		batch.Queue(`INSERT INTO transfer_items (transfer_id, product_id, quantity) VALUES ($1, $2, $3)`, tr.ID, it.ProductID, it.Quantity)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
