package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/shared"
)

// Reserved customer group and customer names.
const (
	// WalkInName names both the walk-in group and its single customer.
	WalkInName = "Khách Trắng"
	// DefaultGroupName receives customers created without a group and the
	// members of a deleted group.
	DefaultGroupName = "Khách Lẻ"
)

// PriceTier selects which product price an invoice line captures.
type PriceTier string

const (
	TierRetail    PriceTier = "retail"
	TierWholesale PriceTier = "wholesale"
)

// Group classifies customers.
type Group struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	PriceTier     PriceTier       `json:"price_tier"`
	DiscountType  string          `json:"discount_type"`
	Discount      decimal.Decimal `json:"discount"`
	TotalCustomer int             `json:"total_customers"`
	TotalOrder    int             `json:"total_order"`
	TotalSpending decimal.Decimal `json:"total_spending"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Customer is a buyer with running purchase totals and outstanding debt.
type Customer struct {
	ID                  string          `json:"id"`
	FullName            string          `json:"full_name"`
	Phone               string          `json:"phone"`
	Email               string          `json:"email,omitempty"`
	Address             string          `json:"address,omitempty"`
	DateOfBirth         *time.Time      `json:"date_of_birth,omitempty"`
	Province            string          `json:"province,omitempty"`
	DistrictID          int             `json:"district_id,omitempty"`
	DistrictName        string          `json:"district_name,omitempty"`
	WardCode            string          `json:"ward_code,omitempty"`
	WardName            string          `json:"ward_name,omitempty"`
	GroupID             int64           `json:"group_id"`
	GroupName           string          `json:"group_name,omitempty"`
	PriceTier           PriceTier       `json:"-"`
	Debt                decimal.Decimal `json:"debt"`
	TotalSpending       decimal.Decimal `json:"total_spending"`
	TotalOrder          int             `json:"total_order"`
	TotalReturnSpending decimal.Decimal `json:"total_return_spending"`
	TotalReturnOrders   int             `json:"total_return_orders"`
	Active              bool            `json:"active"`
	CreatedAt           time.Time       `json:"created_at"`
}

// WalkIn reports whether c is the walk-in customer.
func (c *Customer) WalkIn() bool {
	return c.FullName == WalkInName
}

// RecordPurchase adds a completed order.
func (c *Customer) RecordPurchase(total decimal.Decimal) {
	c.TotalSpending = c.TotalSpending.Add(total)
	c.TotalOrder++
}

// ReversePurchase removes a completed order.
func (c *Customer) ReversePurchase(total decimal.Decimal) {
	c.TotalSpending = c.TotalSpending.Sub(total)
	c.TotalOrder--
}

// RecordReturn counts an order the carrier brought back.
func (c *Customer) RecordReturn(total decimal.Decimal) {
	c.TotalReturnSpending = c.TotalReturnSpending.Add(total)
	c.TotalReturnOrders++
}

// TransactionType classifies customer ledger rows.
type TransactionType string

const (
	TxDebtIncrease TransactionType = "debt_increase"
	TxPayment      TransactionType = "payment"
)

// Transaction is one row of the customer ledger. Active rows are debt still
// to be settled.
type Transaction struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id"`
	InvoiceID  string          `json:"invoice_id,omitempty"`
	Type       TransactionType `json:"transaction_type"`
	Amount     decimal.Decimal `json:"amount"`
	Note       string          `json:"note,omitempty"`
	Active     bool            `json:"active"`
	CreatedAt  time.Time       `json:"created_at"`
}

// CustomerInput creates or replaces a customer.
type CustomerInput struct {
	FullName     string     `json:"full_name" validate:"required,max=255"`
	Phone        string     `json:"phone" validate:"omitempty,vnphone"`
	Email        string     `json:"email" validate:"omitempty,email"`
	Address      string     `json:"address"`
	DateOfBirth  *time.Time `json:"date_of_birth"`
	Province     string     `json:"province"`
	DistrictID   int        `json:"district_id" validate:"gte=0"`
	DistrictName string     `json:"district_name"`
	WardCode     string     `json:"ward_code"`
	WardName     string     `json:"ward_name"`
	GroupID      int64      `json:"group_id" validate:"gte=0"`
}

// GroupInput creates or replaces a customer group.
type GroupInput struct {
	Name         string          `json:"name" validate:"required,max=255"`
	Description  string          `json:"description"`
	PriceTier    PriceTier       `json:"price_tier" validate:"omitempty,oneof=retail wholesale"`
	DiscountType string          `json:"discount_type" validate:"omitempty,oneof=percent value"`
	Discount     decimal.Decimal `json:"discount" validate:"gte=0"`
}

// CustomerFilter narrows customer listings. The walk-in customer is never listed.
type CustomerFilter struct {
	Search     string
	GroupID    int64
	ActiveOnly bool
	Page       shared.PageRequest
}

// TransactionFilter narrows customer ledger listings.
type TransactionFilter struct {
	CustomerID string
	ActiveOnly bool
	Page       shared.PageRequest
}

// Customer errors.
var (
	ErrCustomerNotFound        = shared.NewError(shared.ErrNotFound, "NOT_FOUND_CUSTOMER", "customer not found or inactive")
	ErrPhoneExists             = shared.NewError(shared.ErrConflict, "PHONE_NUMBER_ALREADY_EXISTS", "phone number already registered")
	ErrEmailExists             = shared.NewError(shared.ErrConflict, "EMAIL_EXISTED", "email already registered")
	ErrWalkInGroupOnly         = shared.NewError(shared.ErrValidation, "ONLY_ALLOW_CREATE_CUSTOMER_NAME_KHACH_TRANG_IN_GROUP_KHACH_TRANG", "the walk-in group only holds the walk-in customer")
	ErrWalkInGroupRequired     = shared.NewError(shared.ErrValidation, "CUSTOMER_KHACH_TRANG_GROUP_REQUIRED", "the walk-in customer belongs to the walk-in group")
	ErrWalkInCustomerExists    = shared.NewError(shared.ErrConflict, "KHACH_TRANG_CUSTOMER_ALREADY_EXISTS", "the walk-in customer already exists")
	ErrWalkInCustomerLocked    = shared.NewError(shared.ErrInvalidState, "CANNOT_UPDATE_KHACH_TRANG_CUSTOMER", "the walk-in customer cannot be changed")
	ErrWalkInGroupLocked       = shared.NewError(shared.ErrInvalidState, "CANNOT_UPDATE_KHACH_TRANG_GROUP", "the walk-in group cannot be changed")
	ErrGroupNotFound           = shared.NewError(shared.ErrNotFound, "CUSTOMER_GROUP_NOT_FOUND", "customer group not found")
	ErrGroupExists             = shared.NewError(shared.ErrConflict, "CUSTOMER_GROUP_ALREADY_EXISTS", "customer group already exists")
	ErrDefaultGroup            = shared.NewError(shared.ErrInvalidState, "CANNOT_DELETE_DEFAULT_GROUP_KHACH_LE", "the default group cannot be deleted")
	ErrTransactionNotFoundPaid = shared.NewError(shared.ErrNotFound, "TRANSACTION_NOT_FOUND_OR_PAID", "no outstanding transaction for this invoice")
)
