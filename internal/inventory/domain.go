package inventory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/shared"
	"github.com/lilas/backoffice/internal/workflow"
)

// DefaultGroupName receives the products of a deleted group.
const DefaultGroupName = "Mỹ phẩm"

// Group classifies products.
type Group struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TransferStatus enumerates stock transfer lifecycle states.
type TransferStatus string

const (
	TransferReadyToPick TransferStatus = "ready_to_pick"
	TransferDelivering  TransferStatus = "delivering"
	TransferDelivered   TransferStatus = "delivered"
	TransferCancelled   TransferStatus = "cancelled"
)

// TransferFlow is the stock transfer transition table.
var TransferFlow = workflow.New("transfer", map[TransferStatus][]TransferStatus{
	TransferReadyToPick: {TransferDelivering, TransferCancelled},
	TransferDelivering:  {TransferDelivered},
})

// Transfer moves goods between the two branches.
type Transfer struct {
	ID        string          `json:"id"`
	From      Branch          `json:"from_warehouse"`
	To        Branch          `json:"to_warehouse"`
	UserID    string          `json:"user_id"`
	Quantity  int             `json:"quantity"`
	ExtraFee  decimal.Decimal `json:"extra_fee"`
	Status    TransferStatus  `json:"status"`
	Note      string          `json:"note,omitempty"`
	Active    bool            `json:"active"`
	Items     []TransferItem  `json:"items"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TransferItem is one product line of a transfer.
type TransferItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int    `json:"quantity"`
}

// BranchQuantity seeds stock at one branch.
type BranchQuantity struct {
	Branch   string `json:"branch" validate:"required"`
	Quantity int    `json:"quantity" validate:"gte=0"`
}

// CreateProductInput carries a new product.
type CreateProductInput struct {
	Name           string           `json:"name" validate:"required,max=255"`
	Description    string           `json:"description"`
	Brand          string           `json:"brand"`
	Barcode        string           `json:"barcode"`
	GroupName      string           `json:"group_name"`
	Weight         int              `json:"weight" validate:"gte=0"`
	Length         int              `json:"length" validate:"gte=0"`
	Width          int              `json:"width" validate:"gte=0"`
	Height         int              `json:"height" validate:"gte=0"`
	PriceImport    decimal.Decimal  `json:"price_import" validate:"gte=0"`
	PriceRetail    decimal.Decimal  `json:"price_retail" validate:"gt=0"`
	PriceWholesale decimal.Decimal  `json:"price_wholesale" validate:"gt=0"`
	DryStock       *bool            `json:"dry_stock"`
	Stock          []BranchQuantity `json:"stock" validate:"dive"`
}

// UpdateProductInput changes descriptive fields and prices. Stock counters
// are owned by the ledger verbs and cannot be edited here.
type UpdateProductInput struct {
	Name           *string          `json:"name" validate:"omitempty,min=1,max=255"`
	Description    *string          `json:"description"`
	Brand          *string          `json:"brand"`
	Barcode        *string          `json:"barcode"`
	GroupName      *string          `json:"group_name"`
	Weight         *int             `json:"weight" validate:"omitempty,gte=0"`
	Length         *int             `json:"length" validate:"omitempty,gte=0"`
	Width          *int             `json:"width" validate:"omitempty,gte=0"`
	Height         *int             `json:"height" validate:"omitempty,gte=0"`
	PriceRetail    *decimal.Decimal `json:"price_retail" validate:"omitempty,gt=0"`
	PriceWholesale *decimal.Decimal `json:"price_wholesale" validate:"omitempty,gt=0"`
	DryStock       *bool            `json:"dry_stock"`
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	Search       string
	GroupName    string
	ActiveOnly   bool
	SellableOnly bool
	Page         shared.PageRequest
}

// GroupInput creates a product group.
type GroupInput struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description"`
}

// TransferInput creates or replaces a transfer.
type TransferInput struct {
	From     string              `json:"from_warehouse" validate:"required"`
	To       string              `json:"to_warehouse" validate:"required"`
	UserID   string              `json:"user_id" validate:"required"`
	ExtraFee decimal.Decimal     `json:"extra_fee"`
	Note     string              `json:"note"`
	Items    []TransferItemInput `json:"items" validate:"required,min=1,dive"`
}

// TransferItemInput is one requested transfer line.
type TransferItemInput struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity"`
}

// TransferFilter narrows transfer listings.
type TransferFilter struct {
	Status TransferStatus
	Search string
	Page   shared.PageRequest
}

// InventoryValue is the stock valuation at moving-average cost.
type InventoryValue struct {
	Warehouse       string          `json:"warehouse"`
	TotalProducts   int             `json:"total_products"`
	TotalStock      int             `json:"total_stock"`
	TotalStockValue decimal.Decimal `json:"total_stock_value"`
}

// Inventory errors.
var (
	ErrGroupNotFound      = shared.NewError(shared.ErrNotFound, "GROUP_NAME_NOT_FOUND", "product group not found")
	ErrGroupExists        = shared.NewError(shared.ErrConflict, "GROUP_NAME_ALREADY_EXISTS", "product group already exists")
	ErrDefaultGroup       = shared.NewError(shared.ErrInvalidState, "CAN_NOT_DELETE_DEFAULT_GROUP", "the default group cannot be deleted")
	ErrTransferNotFound   = shared.NewError(shared.ErrNotFound, "TRANSACTION_NOT_FOUND", "transfer not found")
	ErrTransferDelivering = shared.NewError(shared.ErrInvalidState, "TRANSACTION_DELIVERING", "transfer is already on its way")
	ErrSameWarehouse      = shared.NewError(shared.ErrValidation, "SAME_WAREHOUSE", "source and destination must differ")
	ErrInvalidExtraFee    = shared.NewError(shared.ErrValidation, "INVALID_EXTRA_FEE", "extra fee must not be negative")
)
