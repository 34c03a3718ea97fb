package inventory

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/pricing"
	"github.com/lilas/backoffice/internal/shared"
)

// StockLevel holds the counters of one product at one branch.
type StockLevel struct {
	Stock          int
	CanSell        int
	PendingArrival int
	OutForDelivery int
}

// Product is the stock aggregate. Counters change only through its verbs so
// every workflow applies the same ledger rules.
type Product struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Brand          string          `json:"brand,omitempty"`
	Barcode        string          `json:"barcode,omitempty"`
	GroupName      string          `json:"group_name,omitempty"`
	Weight         int             `json:"weight"`
	Length         int             `json:"length"`
	Width          int             `json:"width"`
	Height         int             `json:"height"`
	PriceImport    decimal.Decimal `json:"price_import"`
	PriceRetail    decimal.Decimal `json:"price_retail"`
	PriceWholesale decimal.Decimal `json:"price_wholesale"`
	DryStock       bool            `json:"dry_stock"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// Levels is indexed by Branch.
	Levels [BranchCount]StockLevel `json:"-"`
}

// Product errors.
var (
	ErrProductNotFound      = shared.NewError(shared.ErrNotFound, "PRODUCT_NOT_FOUND", "product not found")
	ErrProductStopSelling   = shared.NewError(shared.ErrInvalidState, "PRODUCT_STOP_SELLING", "product is not for sale")
	ErrProductNameExists    = shared.NewError(shared.ErrConflict, "PRODUCT_NAME_ALREADY_EXISTS", "product name already exists")
	ErrInsufficientSellable = shared.NewError(shared.ErrInsufficientStock, "NOT_ENOUGH_CAN_SELL", "not enough sellable stock")
	ErrInsufficientPhysical = shared.NewError(shared.ErrInsufficientStock, "NOT_ENOUGH_STOCK", "not enough physical stock")
	ErrNegativeCounter      = shared.NewError(shared.ErrInsufficientStock, "NEGATIVE_STOCK", "stock counter would end negative")
)

// MarshalJSON flattens the per-branch counters into terra_stock style keys.
func (p Product) MarshalJSON() ([]byte, error) {
	type view Product
	raw, err := json.Marshal(view(p))
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for _, b := range Branches {
		lvl := p.Levels[b]
		for name, v := range map[string]int{
			"stock":            lvl.Stock,
			"can_sell":         lvl.CanSell,
			"pending_arrival":  lvl.PendingArrival,
			"out_for_delivery": lvl.OutForDelivery,
		} {
			fields[b.Column(name)] = json.RawMessage(itoa(v))
		}
	}
	return json.Marshal(fields)
}

func itoa(v int) []byte {
	out, _ := json.Marshal(v)
	return out
}

// Level returns the counters of branch b.
func (p *Product) Level(b Branch) StockLevel {
	return p.Levels[b]
}

// TotalStock sums physical stock across branches.
func (p *Product) TotalStock() int {
	total := 0
	for _, l := range p.Levels {
		total += l.Stock
	}
	return total
}

// CheckSellable fails for inactive products and products flagged not for sale.
func (p *Product) CheckSellable() error {
	if !p.Active {
		return ErrProductNotFound.WithMessage("product %s not found", p.ID)
	}
	if !p.DryStock {
		return ErrProductStopSelling.WithMessage("product %s is not for sale", p.Name)
	}
	return nil
}

// CheckSettled verifies no counter ended negative.
func (p *Product) CheckSettled() error {
	for _, b := range Branches {
		l := p.Levels[b]
		if l.Stock < 0 || l.CanSell < 0 || l.PendingArrival < 0 || l.OutForDelivery < 0 {
			return ErrNegativeCounter.WithMessage("product %s has a negative counter in %s", p.Name, b)
		}
	}
	return nil
}

func (p *Product) level(b Branch) (*StockLevel, error) {
	if !b.Valid() {
		return nil, ErrBranchNotFound
	}
	return &p.Levels[b], nil
}

// Reserve takes qty from sellable stock for a pending sale.
func (p *Product) Reserve(b Branch, qty int) error {
	l, err := p.level(b)
	if err != nil {
		return err
	}
	if l.CanSell < qty {
		return ErrInsufficientSellable.WithMessage("%s: %d sellable in %s, %d requested", p.Name, l.CanSell, b, qty)
	}
	l.CanSell -= qty
	return nil
}

// Release gives back a reservation.
func (p *Product) Release(b Branch, qty int) error {
	l, err := p.level(b)
	if err != nil {
		return err
	}
	l.CanSell += qty
	return nil
}

// Fulfill removes sold goods from physical stock.
func (p *Product) Fulfill(b Branch, qty int) error {
	l, err := p.level(b)
	if err != nil {
		return err
	}
	if l.Stock < qty {
		return ErrInsufficientPhysical.WithMessage("%s: %d in stock in %s, %d requested", p.Name, l.Stock, b, qty)
	}
	l.Stock -= qty
	return nil
}

// ReturnSale puts fulfilled goods back on the shelf.
func (p *Product) ReturnSale(b Branch, qty int) error {
	l, err := p.level(b)
	if err != nil {
		return err
	}
	l.Stock += qty
	l.CanSell += qty
	return nil
}

// ExpectArrival records goods ordered from a supplier.
func (p *Product) ExpectArrival(b Branch, qty int) error {
	l, err := p.level(b)
	if err != nil {
		return err
	}
	l.PendingArrival += qty
	return nil
}

// CancelArrival withdraws an expected arrival.
func (p *Product) CancelArrival(b Branch, qty int) error {
	l, err := p.level(b)
	if err != nil {
		return err
	}
	l.PendingArrival = max(l.PendingArrival-qty, 0)
	return nil
}

// Receive books inspected goods into stock.
func (p *Product) Receive(b Branch, qty int) error {
	l, err := p.level(b)
	if err != nil {
		return err
	}
	l.Stock += qty
	l.CanSell += qty
	l.PendingArrival = max(l.PendingArrival-qty, 0)
	return nil
}

// ReturnToSupplier removes returned goods. Both counters clamp at zero.
func (p *Product) ReturnToSupplier(b Branch, qty int) error {
	l, err := p.level(b)
	if err != nil {
		return err
	}
	l.Stock = max(l.Stock-qty, 0)
	l.CanSell = max(l.CanSell-qty, 0)
	return nil
}

// Dispatch hands reserved goods to the carrier.
func (p *Product) Dispatch(b Branch, qty int) error {
	l, err := p.level(b)
	if err != nil {
		return err
	}
	l.OutForDelivery += qty
	return nil
}

// RecallDispatch undoes a dispatch whose shipment was cancelled or returned.
func (p *Product) RecallDispatch(b Branch, qty int) error {
	l, err := p.level(b)
	if err != nil {
		return err
	}
	l.CanSell += qty
	l.OutForDelivery = max(l.OutForDelivery-qty, 0)
	return nil
}

// DeliverDispatched fulfils a shipment the carrier delivered.
func (p *Product) DeliverDispatched(b Branch, qty int) error {
	if err := p.Fulfill(b, qty); err != nil {
		return err
	}
	l := &p.Levels[b]
	l.OutForDelivery = max(l.OutForDelivery-qty, 0)
	return nil
}

// StartTransfer reserves goods leaving b for another branch.
func (p *Product) StartTransfer(b Branch, qty int) error {
	if err := p.Reserve(b, qty); err != nil {
		return err
	}
	p.Levels[b].OutForDelivery += qty
	return nil
}

// RevertTransfer undoes StartTransfer.
func (p *Product) RevertTransfer(b Branch, qty int) error {
	return p.RecallDispatch(b, qty)
}

// CompleteTransfer moves qty from the source to the destination branch.
func (p *Product) CompleteTransfer(from, to Branch, qty int) error {
	if _, err := p.level(to); err != nil {
		return err
	}
	if err := p.Fulfill(from, qty); err != nil {
		return err
	}
	src := &p.Levels[from]
	src.OutForDelivery = max(src.OutForDelivery-qty, 0)
	dst := &p.Levels[to]
	dst.Stock += qty
	dst.CanSell += qty
	return nil
}

// ApplyInboundCost folds qty units at unitCost into the moving-average cost.
// Call it before the stock verbs of the same arrival.
func (p *Product) ApplyInboundCost(qty int, unitCost decimal.Decimal) {
	p.PriceImport = pricing.MovingAverageIn(p.TotalStock(), p.PriceImport, qty, unitCost)
}

// ApplyOutboundCost removes qty units at unitCost from the moving-average cost.
func (p *Product) ApplyOutboundCost(qty int, unitCost decimal.Decimal) {
	p.PriceImport = pricing.MovingAverageOut(p.TotalStock(), p.PriceImport, qty, unitCost)
}
