package reporting

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository aggregates invoices in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

var _ Repository = (*PgRepository)(nil)

// Totals implements Repository.
func (r *PgRepository) Totals(ctx context.Context, w Window) (Totals, error) {
	var t Totals
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_value) FILTER (WHERE payment_status = 'paid'), 0),
		       COALESCE(SUM(total_value) FILTER (WHERE payment_status = 'unpaid' AND status <> 'cancel'), 0),
		       COUNT(DISTINCT customer_id), COUNT(*), MIN(created_at), MAX(created_at)
		FROM invoices
		WHERE $1::timestamptz IS NULL OR created_at >= $1`, w.Since).
		Scan(&t.Paid, &t.Waiting, &t.Customers, &t.Invoices, &t.First, &t.Last)
	return t, err
}

// BranchRevenue implements Repository.
func (r *PgRepository) BranchRevenue(ctx context.Context, w Window) ([]BranchAmount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT branch, SUM(total_value)
		FROM invoices
		WHERE payment_status = 'paid' AND ($1::timestamptz IS NULL OR created_at >= $1)
		GROUP BY branch ORDER BY branch`, w.Since)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (BranchAmount, error) {
		var b BranchAmount
		err := row.Scan(&b.Branch, &b.Amount)
		return b, err
	})
}

// Periods implements Repository. Revenue and cost only count paid
// invoices; cost uses the current moving-average import price.
func (r *PgRepository) Periods(ctx context.Context, w Window) ([]PeriodRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT date_trunc($2, i.created_at AT TIME ZONE $3) AS period,
		       COALESCE(SUM(i.total_value) FILTER (WHERE i.payment_status = 'paid'), 0),
		       COALESCE(SUM(c.cost) FILTER (WHERE i.payment_status = 'paid'), 0),
		       COUNT(*) FILTER (WHERE i.is_delivery AND i.status <> 'cancel')
		FROM invoices i
		LEFT JOIN LATERAL (
			SELECT COALESCE(SUM(ii.quantity * p.price_import), 0) AS cost
			FROM invoice_items ii JOIN products p ON p.id = ii.product_id
			WHERE ii.invoice_id = i.id
		) c ON TRUE
		WHERE $1::timestamptz IS NULL OR i.created_at >= $1
		GROUP BY 1 ORDER BY 1`, w.Since, w.Unit, w.Loc.String())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (PeriodRow, error) {
		var p PeriodRow
		err := row.Scan(&p.Period, &p.Revenue, &p.Cost, &p.Deliveries)
		return p, err
	})
}

// TopProducts implements Repository.
func (r *PgRepository) TopProducts(ctx context.Context, w Window, limit int) ([]ProductQuantity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ii.product_id, COALESCE(p.name, ii.product_id), SUM(ii.quantity) AS qty
		FROM invoice_items ii
		JOIN invoices i ON i.id = ii.invoice_id
		LEFT JOIN products p ON p.id = ii.product_id
		WHERE i.status <> 'cancel' AND ($1::timestamptz IS NULL OR i.created_at >= $1)
		GROUP BY ii.product_id, p.name
		ORDER BY qty DESC, ii.product_id
		LIMIT $2`, w.Since, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ProductQuantity, error) {
		var q ProductQuantity
		err := row.Scan(&q.ProductID, &q.Product, &q.Quantity)
		return q, err
	})
}
