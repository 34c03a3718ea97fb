package procurement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/pricing"
	"github.com/lilas/backoffice/internal/shared"
	"github.com/lilas/backoffice/internal/workflow"
)

// Supplier is a vendor the shop imports from. Debt is what the shop still
// owes; it may go negative after prepayments.
type Supplier struct {
	ID                string          `json:"id"`
	ContactName       string          `json:"contact_name"`
	Address           string          `json:"address,omitempty"`
	Email             string          `json:"email,omitempty"`
	Phone             string          `json:"phone,omitempty"`
	Debt              decimal.Decimal `json:"debt"`
	TotalImportOrders int             `json:"total_import_orders"`
	TotalImportValue  decimal.Decimal `json:"total_import_value"`
	TotalReturnOrders int             `json:"total_return_orders"`
	TotalReturnValue  decimal.Decimal `json:"total_return_value"`
	Active            bool            `json:"active"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// SupplierTransaction records a payment made to a supplier.
type SupplierTransaction struct {
	ID           string          `json:"id"`
	SupplierID   string          `json:"supplier_id"`
	ImportBillID string          `json:"import_bill_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Note         string          `json:"note"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ImportStatus enumerates import bill states.
type ImportStatus string

const (
	ImportPending        ImportStatus = "pending"
	ImportReceivedUnpaid ImportStatus = "received_unpaid"
	ImportReceivedPaid   ImportStatus = "received_paid"
	ImportCanceled       ImportStatus = "canceled"
)

// ImportFlow is the import bill transition table.
var ImportFlow = workflow.New("import_bill", map[ImportStatus][]ImportStatus{
	ImportPending:        {ImportReceivedUnpaid, ImportReceivedPaid, ImportCanceled},
	ImportReceivedUnpaid: {ImportReceivedPaid},
})

// ImportBill orders goods from a supplier into one branch.
type ImportBill struct {
	ID           string           `json:"id"`
	SupplierID   string           `json:"supplier_id"`
	SupplierName string           `json:"supplier_name,omitempty"`
	UserID       string           `json:"user_id"`
	Branch       inventory.Branch `json:"branch"`
	Note         string           `json:"note,omitempty"`
	Discount     decimal.Decimal  `json:"discount"`
	ExtraFee     decimal.Decimal  `json:"extra_fee"`
	TotalValue   decimal.Decimal  `json:"total_value"`
	PaidAmount   decimal.Decimal  `json:"paid_amount"`
	Status       ImportStatus     `json:"status"`
	DeliveryDate *time.Time       `json:"delivery_date,omitempty"`
	Active       bool             `json:"active"`
	Items        []BillItem       `json:"items"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// BillItem is an import or return line. Discount is a percentage.
type BillItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Discount    decimal.Decimal `json:"discount"`
	TotalLine   decimal.Decimal `json:"total_line"`
}

func (it BillItem) line() pricing.PercentLine {
	return pricing.PercentLine{Price: it.Price, Quantity: it.Quantity, DiscountPct: it.Discount}
}

func percentLines(items []BillItem) []pricing.PercentLine {
	out := make([]pricing.PercentLine, len(items))
	for i, it := range items {
		out[i] = it.line()
	}
	return out
}

// recalculate refreshes every line total and returns the bill total.
func recalculate(items []BillItem, discount, extraFee decimal.Decimal) decimal.Decimal {
	for i := range items {
		items[i].TotalLine = items[i].line().Total()
	}
	return pricing.BillTotal(percentLines(items), discount, extraFee)
}

// Recalculate refreshes line totals and TotalValue.
func (b *ImportBill) Recalculate() {
	b.TotalValue = recalculate(b.Items, b.Discount, b.ExtraFee)
}

// Item returns the line of productID.
func (b *ImportBill) Item(productID string) (BillItem, bool) {
	for _, it := range b.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return BillItem{}, false
}

// receivedStatus is the status of a received bill given what was paid.
func (b *ImportBill) receivedStatus() ImportStatus {
	if b.PaidAmount.GreaterThanOrEqual(b.TotalValue) {
		return ImportReceivedPaid
	}
	return ImportReceivedUnpaid
}

// InspectionStatus enumerates inspection report states.
type InspectionStatus string

const (
	InspectionChecking InspectionStatus = "checking"
	InspectionChecked  InspectionStatus = "checked"
)

// InspectionFlow is the inspection report transition table.
var InspectionFlow = workflow.New("inspection_report", map[InspectionStatus][]InspectionStatus{
	InspectionChecking: {InspectionChecked},
})

// InspectionReport counts what actually arrived for an import bill.
type InspectionReport struct {
	ID           string           `json:"id"`
	ImportBillID string           `json:"import_bill_id"`
	UserID       string           `json:"user_id"`
	Branch       inventory.Branch `json:"branch"`
	Note         string           `json:"note,omitempty"`
	Status       InspectionStatus `json:"status"`
	Active       bool             `json:"active"`
	Items        []InspectionItem `json:"items"`
	CompleteAt   *time.Time       `json:"complete_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// InspectionItem compares the ordered quantity with the counted one.
type InspectionItem struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name,omitempty"`
	Quantity       int    `json:"quantity"`
	ActualQuantity int    `json:"actual_quantity"`
	Reason         string `json:"reason,omitempty"`
	Note           string `json:"note,omitempty"`
}

// InspectionHistory is one append-only edit record of a report.
type InspectionHistory struct {
	ID                 string    `json:"id"`
	InspectionReportID string    `json:"inspection_report_id"`
	UserID             string    `json:"user_id"`
	Reason             string    `json:"reason,omitempty"`
	Note               string    `json:"note"`
	CreatedAt          time.Time `json:"created_at"`
}

// ReturnStatus enumerates return bill states.
type ReturnStatus string

const (
	ReturnReturning ReturnStatus = "returning"
	ReturnReturned  ReturnStatus = "returned"
	ReturnCanceled  ReturnStatus = "canceled"
)

// ReturnFlow is the return bill transition table.
var ReturnFlow = workflow.New("return_bill", map[ReturnStatus][]ReturnStatus{
	ReturnReturning: {ReturnReturned, ReturnCanceled},
})

// ReturnBill sends goods back to a supplier from one branch.
type ReturnBill struct {
	ID           string           `json:"id"`
	SupplierID   string           `json:"supplier_id"`
	SupplierName string           `json:"supplier_name,omitempty"`
	UserID       string           `json:"user_id"`
	Branch       inventory.Branch `json:"branch"`
	Note         string           `json:"note,omitempty"`
	Discount     decimal.Decimal  `json:"discount"`
	ExtraFee     decimal.Decimal  `json:"extra_fee"`
	TotalValue   decimal.Decimal  `json:"total_value"`
	PaidAmount   decimal.Decimal  `json:"paid_amount"`
	Status       ReturnStatus     `json:"status"`
	Active       bool             `json:"active"`
	Items        []BillItem       `json:"items"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Recalculate refreshes line totals and TotalValue.
func (b *ReturnBill) Recalculate() {
	b.TotalValue = recalculate(b.Items, b.Discount, b.ExtraFee)
}

// SupplierInput creates or replaces a supplier.
type SupplierInput struct {
	ContactName string `json:"contact_name" validate:"required,max=255"`
	Address     string `json:"address"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone" validate:"omitempty,vnphone"`
}

// BillItemInput is one requested import or return line.
type BillItemInput struct {
	ProductID string          `json:"product_id" validate:"required"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price" validate:"gte=0"`
	Discount  decimal.Decimal `json:"discount" validate:"gte=0,lte=100"`
}

// ImportBillInput creates an import bill.
type ImportBillInput struct {
	SupplierID   string          `json:"supplier_id" validate:"required"`
	UserID       string          `json:"user_id"`
	Branch       string          `json:"branch" validate:"required"`
	Note         string          `json:"note"`
	Discount     decimal.Decimal `json:"discount" validate:"gte=0,lte=100"`
	ExtraFee     decimal.Decimal `json:"extra_fee" validate:"gte=0"`
	PaidAmount   decimal.Decimal `json:"paid_amount" validate:"gte=0"`
	DeliveryDate *time.Time      `json:"delivery_date"`
	Items        []BillItemInput `json:"items" validate:"dive"`
}

// UpdateImportBillInput edits a pending import bill. Nil fields are kept.
type UpdateImportBillInput struct {
	Branch       *string          `json:"branch"`
	Note         *string          `json:"note"`
	Discount     *decimal.Decimal `json:"discount" validate:"omitempty,gte=0,lte=100"`
	ExtraFee     *decimal.Decimal `json:"extra_fee" validate:"omitempty,gte=0"`
	DeliveryDate *time.Time       `json:"delivery_date"`
	Items        []BillItemInput  `json:"items" validate:"omitempty,dive"`
}

// InspectionItemInput counts one bill line.
type InspectionItemInput struct {
	ProductID      string `json:"product_id" validate:"required"`
	ActualQuantity int    `json:"actual_quantity" validate:"gte=0"`
	Reason         string `json:"reason"`
	Note           string `json:"note"`
}

// InspectionInput opens the inspection of a received import bill.
type InspectionInput struct {
	ImportBillID string                `json:"import_bill_id" validate:"required"`
	UserID       string                `json:"user_id"`
	Note         string                `json:"note"`
	Items        []InspectionItemInput `json:"items" validate:"dive"`
}

// InspectionItemUpdate edits or adds a counted line. Empty text keeps the
// previous value.
type InspectionItemUpdate struct {
	ProductID      string `json:"product_id" validate:"required"`
	ActualQuantity *int   `json:"actual_quantity" validate:"omitempty,gte=0"`
	Reason         string `json:"reason"`
	Note           string `json:"note"`
}

// UpdateInspectionInput edits a report still being checked.
type UpdateInspectionInput struct {
	Note   *string                `json:"note"`
	Reason string                 `json:"reason"`
	Items  []InspectionItemUpdate `json:"items" validate:"dive"`
}

// ReturnBillInput creates a return bill.
type ReturnBillInput struct {
	SupplierID string          `json:"supplier_id" validate:"required"`
	UserID     string          `json:"user_id"`
	Branch     string          `json:"branch" validate:"required"`
	Note       string          `json:"note"`
	Discount   decimal.Decimal `json:"discount" validate:"gte=0,lte=100"`
	ExtraFee   decimal.Decimal `json:"extra_fee" validate:"gte=0"`
	PaidAmount decimal.Decimal `json:"paid_amount" validate:"gte=0"`
	Items      []BillItemInput `json:"items" validate:"dive"`
}

// UpdateReturnBillInput edits a return bill still being returned.
type UpdateReturnBillInput struct {
	Note       *string          `json:"note"`
	Discount   *decimal.Decimal `json:"discount" validate:"omitempty,gte=0,lte=100"`
	ExtraFee   *decimal.Decimal `json:"extra_fee" validate:"omitempty,gte=0"`
	PaidAmount *decimal.Decimal `json:"paid_amount" validate:"omitempty,gte=0"`
	Items      []BillItemInput  `json:"items" validate:"omitempty,dive"`
}

// SupplierFilter narrows supplier listings.
type SupplierFilter struct {
	Search     string
	ActiveOnly bool
	Page       shared.PageRequest
}

// BillFilter narrows import bill, inspection and return bill listings.
type BillFilter struct {
	Search     string
	SupplierID string
	Status     string
	Branch     *inventory.Branch
	Page       shared.PageRequest
}

// Procurement errors.
var (
	ErrSupplierNotFound       = shared.NewError(shared.ErrNotFound, "NOT_FOUND_SUPPLIER", "supplier not found or inactive")
	ErrContactNameExists      = shared.NewError(shared.ErrConflict, "CONTACT_NAME_ALREADY_USED", "contact name already used")
	ErrSupplierPhoneExists    = shared.NewError(shared.ErrConflict, "PHONE_NUMBER_ALREADY_USED", "phone number already used")
	ErrSupplierEmailExists    = shared.NewError(shared.ErrConflict, "EMAIL_ALREADY_USED", "email already used")
	ErrImportBillNotFound     = shared.NewError(shared.ErrNotFound, "IMPORT_BILL_NOT_FOUND", "import bill not found")
	ErrImportBillLocked       = shared.NewError(shared.ErrInvalidState, "CAN_NOT_UPDATE_ITEMS_WHEN_IMPORT_BILL_COMPLETED", "only pending import bills can be edited")
	ErrOnlyPendingImport      = shared.NewError(shared.ErrInvalidState, "ONLY_PENDING_BILLS_CAN_BE_IMPORTED", "only pending import bills can be confirmed")
	ErrOnlyPendingCancel      = shared.NewError(shared.ErrInvalidState, "ONLY_PENDING_BILLS_CAN_BE_CANCELED", "only pending import bills can be canceled")
	ErrImportBillNotReceived  = shared.NewError(shared.ErrInvalidState, "IMPORT_BILL_NOT_YET_RECEIVED", "import bill is canceled")
	ErrPaidExceedsTotal       = shared.NewError(shared.ErrValidation, "PAID_AMOUNT_CANNOT_EXCEED_TOTAL_VALUE", "paid amount exceeds the bill total")
	ErrAmountExceedsTotal     = shared.NewError(shared.ErrValidation, "AMOUNT_EXCEEDS_TOTAL_VALUE", "payments would exceed the bill total")
	ErrInspectionNotFound     = shared.NewError(shared.ErrNotFound, "INSPECTION_REPORT_NOT_FOUND", "inspection report not found")
	ErrInspectionExists       = shared.NewError(shared.ErrConflict, "INSPECTION_REPORT_ALREADY_EXISTS", "import bill already has an inspection report")
	ErrBillNotReceived        = shared.NewError(shared.ErrInvalidState, "ONLY_RECEIVED_BILLS_CAN_BE_INSPECTED", "import bill has not been received")
	ErrImportBillCanceled     = shared.NewError(shared.ErrInvalidState, "IMPORT_BILL_CANCELED", "import bill is canceled")
	ErrProductNotInBill       = shared.NewError(shared.ErrNotFound, "NOT_FOUND_PRODUCT_IN_IMPORT_BILL", "product is not on the import bill")
	ErrInspectionLocked       = shared.NewError(shared.ErrInvalidState, "CAN_NOT_UPDATE_INSPECTION_REPORT_WHEN_STATUS_IS_NOT_CHECKING", "inspection report is already checked")
	ErrReturnBillNotFound     = shared.NewError(shared.ErrNotFound, "RETURN_BILL_NOT_FOUND", "return bill not found")
	ErrReturnBillCompleted    = shared.NewError(shared.ErrInvalidState, "BILL_COMPLETED", "return bill is no longer returning")
	ErrOnlyReturningConfirm   = shared.NewError(shared.ErrInvalidState, "ONLY_RETURNING_BILL_CAN_BE_CONFIRMED", "only returning bills can be confirmed")
	ErrOnlyReturningCancel    = shared.NewError(shared.ErrInvalidState, "ONLY_RETURNING_BILL_CAN_BE_CANCELED", "only returning bills can be canceled")
	ErrReturnStockNotEnough   = shared.NewError(shared.ErrInsufficientStock, "STOCK_NOT_ENOUGH_FOR_PRODUCT", "not enough physical stock to return")
	ErrDuplicateProductInBill = shared.NewError(shared.ErrValidation, "DUPLICATE_PRODUCT_IN_BILL", "a product appears on more than one line")
)
