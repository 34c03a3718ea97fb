package sales

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/pricing"
	"github.com/lilas/backoffice/internal/shared"
	"github.com/lilas/backoffice/internal/workflow"
)

// InvoiceStatus enumerates invoice lifecycle states. Delivering, returning
// and returned are only reached through carrier sync.
type InvoiceStatus string

const (
	InvoiceReadyToPick     InvoiceStatus = "ready_to_pick"
	InvoicePicking         InvoiceStatus = "picking"
	InvoiceDelivering      InvoiceStatus = "delivering"
	InvoiceDelivered       InvoiceStatus = "delivered"
	InvoiceReturning       InvoiceStatus = "returning"
	InvoiceReturned        InvoiceStatus = "returned"
	InvoiceCancel          InvoiceStatus = "cancel"
	InvoiceReturnAtCounter InvoiceStatus = "return_at_counter"
)

// InvoiceFlow is the invoice transition table shared by the counter
// operations and carrier sync.
var InvoiceFlow = workflow.New("invoice", map[InvoiceStatus][]InvoiceStatus{
	InvoiceReadyToPick: {InvoicePicking, InvoiceDelivered, InvoiceCancel, InvoiceReturnAtCounter},
	InvoicePicking:     {InvoiceDelivering, InvoiceDelivered, InvoiceReturning, InvoiceReturned, InvoiceCancel, InvoiceReturnAtCounter},
	InvoiceDelivering:  {InvoiceDelivered, InvoiceReturning, InvoiceReturned, InvoiceCancel},
	InvoiceReturning:   {InvoiceReturned, InvoiceDelivering, InvoiceDelivered, InvoiceCancel},
	InvoiceDelivered:   {InvoiceReturnAtCounter},
})

// PaymentStatus tracks how much of an invoice the customer has paid.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial_payment"
	PaymentPaid    PaymentStatus = "paid"
)

func paymentStatusOf(deposit, total decimal.Decimal) PaymentStatus {
	switch pricing.Settle(deposit, total) {
	case pricing.FullyPaid:
		return PaymentPaid
	case pricing.PartiallyPaid:
		return PaymentPartial
	}
	return PaymentUnpaid
}

// Invoice is a sale made at one branch, optionally shipped by the carrier.
type Invoice struct {
	ID               string           `json:"id"`
	CustomerID       string           `json:"customer_id"`
	CustomerName     string           `json:"customer_name,omitempty"`
	CustomerPhone    string           `json:"customer_phone,omitempty"`
	UserID           string           `json:"user_id"`
	Branch           inventory.Branch `json:"branch"`
	IsDelivery       bool             `json:"is_delivery"`
	Status           InvoiceStatus    `json:"status"`
	PaymentStatus    PaymentStatus    `json:"payment_status"`
	Deposit          decimal.Decimal  `json:"deposit"`
	DepositMethod    string           `json:"deposit_method,omitempty"`
	Discount         pricing.Discount `json:"-"`
	ExtraCost        decimal.Decimal  `json:"extra_cost"`
	TotalValue       decimal.Decimal  `json:"total_value"`
	Note             string           `json:"note,omitempty"`
	ExpectedDelivery *time.Time       `json:"expected_delivery,omitempty"`
	Active           bool             `json:"active"`
	StockDeducted    bool             `json:"stock_deducted"`
	Items            []InvoiceItem    `json:"items"`
	ServiceItems     []ServiceItem    `json:"service_items"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// InvoiceItem is a stocked product line. Price is captured when the line is
// first added.
type InvoiceItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	pricing.Discount
}

// ServiceItem is a line that does not touch stock.
type ServiceItem struct {
	ProductID string          `json:"product_id,omitempty"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	pricing.Discount
}

// Recalculate refreshes TotalValue from the lines and the invoice discount.
func (inv *Invoice) Recalculate() {
	items := make([]pricing.Line, 0, len(inv.Items))
	for _, it := range inv.Items {
		items = append(items, pricing.Line{Price: it.Price, Quantity: it.Quantity, Discount: it.Discount})
	}
	services := make([]pricing.Line, 0, len(inv.ServiceItems))
	for _, it := range inv.ServiceItems {
		services = append(services, pricing.Line{Price: it.Price, Quantity: it.Quantity, Discount: it.Discount})
	}
	inv.TotalValue = pricing.InvoiceTotal(items, services, inv.Discount)
}

// Mutable reports whether lines may still change.
func (inv *Invoice) Mutable() bool {
	return workflow.In(inv.Status, InvoiceReadyToPick, InvoicePicking)
}

// dispatched reports whether the goods are with the carrier and counted as
// out for delivery.
func (inv *Invoice) dispatched() bool {
	return inv.IsDelivery && workflow.In(inv.Status, InvoicePicking, InvoiceDelivering, InvoiceReturning)
}

// heldDeposit is the part of the deposit booked as customer debt: a partial
// payment, or anything collected ahead of a carrier delivery.
func (inv *Invoice) heldDeposit() decimal.Decimal {
	if inv.PaymentStatus == PaymentPartial || inv.IsDelivery {
		return inv.Deposit
	}
	return decimal.Zero
}

// MarshalJSON adds the invoice discount fields.
func (inv Invoice) MarshalJSON() ([]byte, error) {
	type plain Invoice
	return json.Marshal(struct {
		plain
		DiscountValue decimal.Decimal      `json:"discount"`
		DiscountType  pricing.DiscountType `json:"discount_type"`
	}{plain(inv), inv.Discount.Value, inv.Discount.Type})
}

// ItemInput is one requested product line.
type ItemInput struct {
	ProductID    string               `json:"product_id" validate:"required"`
	Quantity     int                  `json:"quantity"`
	Discount     decimal.Decimal      `json:"discount" validate:"gte=0"`
	DiscountType pricing.DiscountType `json:"discount_type" validate:"omitempty,oneof=% value"`
}

// ServiceItemInput is one requested service line.
type ServiceItemInput struct {
	ProductID    string               `json:"product_id"`
	Name         string               `json:"name" validate:"required"`
	Quantity     int                  `json:"quantity" validate:"gte=1"`
	Price        decimal.Decimal      `json:"price" validate:"gte=0"`
	Discount     decimal.Decimal      `json:"discount" validate:"gte=0"`
	DiscountType pricing.DiscountType `json:"discount_type" validate:"omitempty,oneof=% value"`
}

// CreateInvoiceInput carries a new sale.
type CreateInvoiceInput struct {
	CustomerID       string               `json:"customer_id"`
	UserID           string               `json:"user_id" validate:"required"`
	Branch           string               `json:"branch" validate:"required"`
	IsDelivery       bool                 `json:"is_delivery"`
	Deposit          decimal.Decimal      `json:"deposit" validate:"gte=0"`
	DepositMethod    string               `json:"deposit_method"`
	Discount         decimal.Decimal      `json:"discount" validate:"gte=0"`
	DiscountType     pricing.DiscountType `json:"discount_type" validate:"omitempty,oneof=% value"`
	ExtraCost        decimal.Decimal      `json:"extra_cost" validate:"gte=0"`
	Note             string               `json:"note"`
	ExpectedDelivery *time.Time           `json:"expected_delivery"`
	Items            []ItemInput          `json:"items" validate:"dive"`
	ServiceItems     []ServiceItemInput   `json:"service_items" validate:"dive"`
}

// UpdateInvoiceInput carries optional invoice changes. Lines and money
// fields may only change while the invoice is ready to pick or picking.
type UpdateInvoiceInput struct {
	Deposit          *decimal.Decimal      `json:"deposit" validate:"omitempty,gte=0"`
	DepositMethod    *string               `json:"deposit_method"`
	Discount         *decimal.Decimal      `json:"discount" validate:"omitempty,gte=0"`
	DiscountType     *pricing.DiscountType `json:"discount_type" validate:"omitempty,oneof=% value"`
	ExtraCost        *decimal.Decimal      `json:"extra_cost" validate:"omitempty,gte=0"`
	Note             *string               `json:"note"`
	ExpectedDelivery *time.Time            `json:"expected_delivery"`
	Items            []ItemInput           `json:"items" validate:"omitempty,dive"`
	ServiceItems     []ServiceItemInput    `json:"service_items" validate:"omitempty,dive"`
}

func (in UpdateInvoiceInput) touchesMoney() bool {
	return in.Items != nil || in.ServiceItems != nil || in.Deposit != nil || in.Discount != nil || in.DiscountType != nil ||
		in.ExtraCost != nil
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	Search        string
	Status        InvoiceStatus
	PaymentStatus PaymentStatus
	Branch        *inventory.Branch
	IsDelivery    *bool
	From, To      *time.Time
	WithActiveTx  bool
	Page          shared.PageRequest
}

// Invoice errors.
var (
	ErrInvoiceNotFound         = shared.NewError(shared.ErrNotFound, "NOT_FOUND_INVOICE", "invoice not found")
	ErrOnlyReadyToPickConfirm  = shared.NewError(shared.ErrInvalidState, "ONLY_READY_TO_PICK_INVOICE_CAN_BE_CONFIRMED", "only invoices ready to pick can be confirmed")
	ErrInShippingNoCancel      = shared.NewError(shared.ErrInvalidState, "IN_SHIPPING_NO_CANCELLATION", "invoice is already with the carrier")
	ErrInvoiceLocked           = shared.NewError(shared.ErrInvalidState, "CAN_NOT_UPDATE_WHEN_INVOICE_STATUS_IS_NOT_ready_to_pick", "lines and amounts are frozen")
	ErrInvoiceNoProduct        = shared.NewError(shared.ErrValidation, "INVOICE_NO_PRODUCT", "invoice needs at least one product line")
	ErrInvoiceNotReturnable    = shared.NewError(shared.ErrInvalidState, "INVOICE_CAN_NOT_BE_RETURNED", "invoice cannot be returned at the counter")
	ErrInvoiceNotReadyToPick   = shared.NewError(shared.ErrInvalidState, "INVOICE_NOT_READY_TO_PICK", "invoice is not waiting for pickup")
	ErrInvoiceStatusTransition = shared.NewError(shared.ErrInvalidState, "INVALID_INVOICE_STATUS", "invoice cannot move to the requested status")
)
