package inventory

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
)

// ProductTx is the transactional product access other modules embed in
// their own transaction repositories.
type ProductTx interface {
	// LockProduct loads the product row for update.
	LockProduct(ctx context.Context, id string) (*Product, error)
	// SaveProduct persists counters and moving-average cost.
	SaveProduct(ctx context.Context, p *Product) error
}

// Ledger applies stock verbs within one transaction. Each product is locked
// once and saved by Flush after all of its counters are back to >= 0.
type Ledger struct {
	tx       ProductTx
	products map[string]*Product
	order    []string
}

// NewLedger binds a ledger to tx.
func NewLedger(tx ProductTx) *Ledger {
	return &Ledger{tx: tx, products: make(map[string]*Product)}
}

// Product returns the locked product, loading it on first use.
func (l *Ledger) Product(ctx context.Context, id string) (*Product, error) {
	if p, ok := l.products[id]; ok {
		return p, nil
	}
	p, err := l.tx.LockProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	l.products[id] = p
	l.order = append(l.order, id)
	return p, nil
}

// Sellable loads id and fails unless it is active and for sale.
func (l *Ledger) Sellable(ctx context.Context, id string) (*Product, error) {
	p, err := l.Product(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.CheckSellable(); err != nil {
		return nil, err
	}
	return p, nil
}

// Apply runs fn against the locked product id.
func (l *Ledger) Apply(ctx context.Context, id string, fn func(*Product) error) error {
	p, err := l.Product(ctx, id)
	if err != nil {
		return err
	}
	return fn(p)
}

// Flush checks and saves every touched product in lock order.
func (l *Ledger) Flush(ctx context.Context) error {
	for _, id := range l.order {
		if err := l.products[id].CheckSettled(); err != nil {
			return err
		}
	}
	for _, id := range l.order {
		if err := l.tx.SaveProduct(ctx, l.products[id]); err != nil {
			return err
		}
	}
	return nil
}

type pgProducts struct {
	tx pgx.Tx
}

// NewProductTx binds ProductTx to a pgx transaction.
func NewProductTx(tx pgx.Tx) ProductTx {
	return &pgProducts{tx: tx}
}

func (r *pgProducts) LockProduct(ctx context.Context, id string) (*Product, error) {
	p, err := scanProduct(r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound.WithMessage("product %s not found", id)
		}
		return nil, err
	}
	return &p, nil
}

func (r *pgProducts) SaveProduct(ctx context.Context, p *Product) error {
	args := []any{p.ID, p.PriceImport}
	set := "price_import = $2, updated_at = NOW()"
	for _, b := range Branches {
		for _, c := range levelColumns(b, &p.Levels[b]) {
			args = append(args, *c.value)
			set += ", " + c.name + " = $" + strconv.Itoa(len(args))
		}
	}
	tag, err := r.tx.Exec(ctx, `UPDATE products SET `+set+` WHERE id = $1`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}
