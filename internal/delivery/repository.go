package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/platform/db"
	"github.com/lilas/backoffice/internal/sales"
	"github.com/lilas/backoffice/internal/shared"
)

// Repository persists deliveries and shops in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository is the transactional view used by create, cancel and sync.
// It carries the invoice, customer and stock access of the sales module.
type TxRepository interface {
	sales.InvoiceTx
	Shop(ctx context.Context, shopID int) (*Shop, error)
	// InsertDelivery stores d with its items and sets d.ID.
	InsertDelivery(ctx context.Context, d *Delivery) error
	LockDelivery(ctx context.Context, orderCode string) (*Delivery, error)
	// SaveDelivery persists status, payment status and tracking fields.
	SaveDelivery(ctx context.Context, d *Delivery) error
}

type txRepo struct {
	sales.InvoiceTx
	tx pgx.Tx
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{InvoiceTx: sales.NewInvoiceTx(tx), tx: tx})
	})
}

const deliveryColumns = `id, invoice_id, shop_id, order_code, status, payment_status, payment_type_id,
	to_name, to_phone, to_address, to_ward_name, to_district_name, to_province_name,
	return_phone, return_address, return_ward_name, return_district_name,
	cod_amount, cod_failed_amount, content, weight, length, width, height,
	service_type_id, pick_station_id, pick_shift, insurance_value, coupon, note, required_note,
	message, service_fee, pickup_time, created_at, updated_at`

func scanDelivery(row pgx.Row) (Delivery, error) {
	var d Delivery
	err := row.Scan(&d.ID, &d.InvoiceID, &d.ShopID, &d.OrderCode, &d.Status, &d.PaymentStatus, &d.PaymentTypeID,
		&d.ToName, &d.ToPhone, &d.ToAddress, &d.ToWardName, &d.ToDistrictName, &d.ToProvinceName,
		&d.ReturnPhone, &d.ReturnAddress, &d.ReturnWardName, &d.ReturnDistrictName,
		&d.CODAmount, &d.CODFailedAmount, &d.Content, &d.Weight, &d.Length, &d.Width, &d.Height,
		&d.ServiceTypeID, &d.PickStationID, &d.PickShift, &d.InsuranceValue, &d.Coupon, &d.Note, &d.RequiredNote,
		&d.Message, &d.ServiceFee, &d.PickupTime, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, ErrDeliveryNotFound
	}
	return d, err
}

func loadDelivery(ctx context.Context, q queryer, orderCode string, lock bool) (Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE order_code = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	d, err := scanDelivery(q.QueryRow(ctx, query, orderCode))
	if errors.Is(err, ErrDeliveryNotFound) {
		return Delivery{}, ErrDeliveryNotFound.WithMessage("order %s not found", orderCode)
	}
	if err != nil {
		return Delivery{}, err
	}
	d.Items, err = loadItems(ctx, q, d.ID)
	return d, err
}

func loadItems(ctx context.Context, q queryer, deliveryID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `
		SELECT COALESCE(product_id, ''), name, code, quantity, price, length, width, height, weight
		FROM delivery_items WHERE delivery_id = $1 ORDER BY id`, deliveryID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var it Item
		err := row.Scan(&it.ProductID, &it.Name, &it.Code, &it.Quantity, &it.Price, &it.Length, &it.Width, &it.Height, &it.Weight)
		return it, err
	})
}

// GetDelivery loads a delivery by carrier order code.
func (r *Repository) GetDelivery(ctx context.Context, orderCode string) (Delivery, error) {
	return loadDelivery(ctx, r.pool, orderCode, false)
}

// ListDeliveries returns a page of deliveries, newest first. Items are not
// loaded.
func (r *Repository) ListDeliveries(ctx context.Context, filter Filter) ([]Delivery, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if q := shared.NormalizeSearch(filter.Search); q != "" {
		args = append(args, "%"+q+"%")
		where = append(where, fmt.Sprintf("search_text LIKE $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM deliveries WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM deliveries WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		deliveryColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// PendingDeliveries lists the deliveries the sync sweep still polls.
func (r *Repository) PendingDeliveries(ctx context.Context) ([]Delivery, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+deliveryColumns+` FROM deliveries
		WHERE status NOT IN ($1, $2) ORDER BY created_at`, StatusCancel, StatusReturned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveTracking stores the fee and pickup time read back from the carrier.
func (r *Repository) SaveTracking(ctx context.Context, orderCode string, fee decimal.Decimal, pickup *time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deliveries SET service_fee = $2, pickup_time = COALESCE($3, pickup_time), updated_at = NOW()
		WHERE order_code = $1`, orderCode, fee, pickup)
	return err
}

const shopColumns = `shop_id, name, address, phone, district_id, ward_code, created_at`

func scanShop(row pgx.Row) (Shop, error) {
	var s Shop
	err := row.Scan(&s.ShopID, &s.Name, &s.Address, &s.Phone, &s.DistrictID, &s.WardCode, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Shop{}, ErrShopNotFound
	}
	return s, err
}

// GetShop loads a registered shop.
func (r *Repository) GetShop(ctx context.Context, shopID int) (Shop, error) {
	return scanShop(r.pool.QueryRow(ctx, `SELECT `+shopColumns+` FROM shops WHERE shop_id = $1`, shopID))
}

// InsertShop stores a shop the carrier accepted.
func (r *Repository) InsertShop(ctx context.Context, s Shop) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO shops (shop_id, name, address, phone, district_id, ward_code, search_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		s.ShopID, s.Name, s.Address, s.Phone, s.DistrictID, s.WardCode, shopSearchText(s))
	if shared.IsUniqueViolation(err) {
		return ErrShopExists.WithMessage("shop %d already registered", s.ShopID)
	}
	return err
}

// ListShops returns a page of shops, newest first.
func (r *Repository) ListShops(ctx context.Context, filter ShopFilter) ([]Shop, int, error) {
	cond := "TRUE"
	args := []any{}
	if q := shared.NormalizeSearch(filter.Search); q != "" {
		args = append(args, "%"+q+"%")
		cond = "search_text LIKE $1"
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM shops WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM shops WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		shopColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	shops, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Shop, error) {
		return scanShop(row)
	})
	return shops, total, err
}

func shopSearchText(s Shop) string {
	return shared.NormalizeSearch(strings.Join([]string{s.Name, s.Address, s.Phone}, " "))
}

func deliverySearchText(d Delivery) string {
	parts := []string{d.InvoiceID, d.OrderCode, d.ToName, d.ToPhone, d.ToAddress, d.Status, d.PaymentStatus, d.Content}
	for _, it := range d.Items {
		parts = append(parts, it.ProductID)
	}
	return shared.NormalizeSearch(strings.Join(parts, " "))
}

func (t *txRepo) Shop(ctx context.Context, shopID int) (*Shop, error) {
	s, err := scanShop(t.tx.QueryRow(ctx, `SELECT `+shopColumns+` FROM shops WHERE shop_id = $1`, shopID))
	if errors.Is(err, ErrShopNotFound) {
		return nil, ErrShopNotFound.WithMessage("shop %d not found", shopID)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *txRepo) InsertDelivery(ctx context.Context, d *Delivery) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO deliveries (invoice_id, shop_id, order_code, status, payment_status, payment_type_id,
			to_name, to_phone, to_address, to_ward_name, to_district_name, to_province_name,
			return_phone, return_address, return_ward_name, return_district_name,
			cod_amount, cod_failed_amount, content, weight, length, width, height,
			service_type_id, pick_station_id, pick_shift, insurance_value, coupon, note, required_note,
			message, service_fee, search_text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		d.InvoiceID, d.ShopID, d.OrderCode, d.Status, d.PaymentStatus, d.PaymentTypeID,
		d.ToName, d.ToPhone, d.ToAddress, d.ToWardName, d.ToDistrictName, d.ToProvinceName,
		d.ReturnPhone, d.ReturnAddress, d.ReturnWardName, d.ReturnDistrictName,
		d.CODAmount, d.CODFailedAmount, d.Content, d.Weight, d.Length, d.Width, d.Height,
		d.ServiceTypeID, d.PickStationID, d.PickShift, d.InsuranceValue, d.Coupon, d.Note, d.RequiredNote,
		d.Message, d.ServiceFee, deliverySearchText(*d),
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if shared.IsUniqueViolation(err) {
		return ErrDeliveryExists.WithMessage("invoice %s already shipped", d.InvoiceID)
	}
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, it := range d.Items {
		batch.Queue(`
			INSERT INTO delivery_items (delivery_id, product_id, name, code, quantity, price, length, width, height, weight)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)`,
			d.ID, it.ProductID, it.Name, it.Code, it.Quantity, it.Price, it.Length, it.Width, it.Height, it.Weight)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) LockDelivery(ctx context.Context, orderCode string) (*Delivery, error) {
	d, err := loadDelivery(ctx, t.tx, orderCode, true)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *txRepo) SaveDelivery(ctx context.Context, d *Delivery) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE deliveries SET status = $2, payment_status = $3, service_fee = $4, pickup_time = $5,
			search_text = $6, updated_at = NOW()
		WHERE id = $1`, d.ID, d.Status, d.PaymentStatus, d.ServiceFee, d.PickupTime, deliverySearchText(*d))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliveryNotFound.WithMessage("order %s not found", d.OrderCode)
	}
	return nil
}
