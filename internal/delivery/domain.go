package delivery

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/sales"
	"github.com/lilas/backoffice/internal/shared"
)

// Order payload defaults.
const (
	DefaultPaymentTypeID = 2
	DefaultServiceTypeID = 2
	DefaultRequiredNote  = "KHONGCHOXEMHANG"
	DefaultNote          = "Giao hàng nhanh"
)

// InsuranceCeiling caps the declared value of a parcel. Invoices at or above
// InsuranceThreshold are insured for the ceiling only.
var (
	InsuranceThreshold = decimal.NewFromInt(500000)
	InsuranceCeiling   = decimal.NewFromInt(499000)
)

// Carrier statuses referenced by local rules.
const (
	StatusReadyToPick         = "ready_to_pick"
	StatusPicking             = "picking"
	StatusMoneyCollectPicking = "money_collect_picking"
	StatusCancel              = "cancel"
	StatusReturned            = "returned"
)

// statusMapping collapses carrier statuses into invoice statuses.
var statusMapping = map[string]sales.InvoiceStatus{
	"ready_to_pick":            sales.InvoicePicking,
	"picking":                  sales.InvoicePicking,
	"cancel":                   sales.InvoiceCancel,
	"money_collect_picking":    sales.InvoiceDelivering,
	"picked":                   sales.InvoiceDelivering,
	"storing":                  sales.InvoiceDelivering,
	"transporting":             sales.InvoiceDelivering,
	"sorting":                  sales.InvoiceDelivering,
	"delivering":               sales.InvoiceDelivering,
	"money_collect_delivering": sales.InvoiceDelivering,
	"delivered":                sales.InvoiceDelivered,
	"delivery_fail":            sales.InvoiceReturning,
	"waiting_to_return":        sales.InvoiceReturning,
	"return":                   sales.InvoiceReturning,
	"return_transporting":      sales.InvoiceReturning,
	"return_sorting":           sales.InvoiceReturning,
	"returning":                sales.InvoiceReturning,
	"return_fail":              sales.InvoiceReturning,
	"returned":                 sales.InvoiceReturned,
	"exception":                sales.InvoiceReturning,
	"damage":                   sales.InvoiceReturning,
	"lost":                     sales.InvoiceReturning,
}

// InvoiceStatusFor maps a carrier status. ok is false for unknown statuses.
func InvoiceStatusFor(carrierStatus string) (sales.InvoiceStatus, bool) {
	st, ok := statusMapping[carrierStatus]
	return st, ok
}

// Terminal reports whether the sweep no longer polls a delivery in status.
func Terminal(status string) bool {
	return status == StatusCancel || status == StatusReturned
}

// Cancellable reports whether the carrier still accepts a cancellation.
func Cancellable(status string) bool {
	switch status {
	case StatusReadyToPick, StatusPicking, StatusMoneyCollectPicking:
		return true
	}
	return false
}

// Delivery is a carrier shipment for one invoice.
type Delivery struct {
	ID                 int64           `json:"id"`
	InvoiceID          string          `json:"invoice_id"`
	ShopID             int             `json:"shop_id"`
	OrderCode          string          `json:"order_code"`
	Status             string          `json:"status"`
	PaymentStatus      string          `json:"payment_status"`
	PaymentTypeID      int             `json:"payment_type_id"`
	ToName             string          `json:"to_name"`
	ToPhone            string          `json:"to_phone"`
	ToAddress          string          `json:"to_address"`
	ToWardName         string          `json:"to_ward_name"`
	ToDistrictName     string          `json:"to_district_name"`
	ToProvinceName     string          `json:"to_province_name"`
	ReturnPhone        string          `json:"return_phone,omitempty"`
	ReturnAddress      string          `json:"return_address,omitempty"`
	ReturnWardName     string          `json:"return_ward_name,omitempty"`
	ReturnDistrictName string          `json:"return_district_name,omitempty"`
	CODAmount          int64           `json:"cod_amount"`
	CODFailedAmount    int64           `json:"cod_failed_amount"`
	Content            string          `json:"content"`
	Weight             int             `json:"weight"`
	Length             int             `json:"length"`
	Width              int             `json:"width"`
	Height             int             `json:"height"`
	ServiceTypeID      int             `json:"service_type_id"`
	PickStationID      *int            `json:"pick_station_id,omitempty"`
	PickShift          *int            `json:"pick_shift,omitempty"`
	InsuranceValue     int64           `json:"insurance_value"`
	Coupon             string          `json:"coupon,omitempty"`
	Note               string          `json:"note"`
	RequiredNote       string          `json:"required_note"`
	Message            string          `json:"message,omitempty"`
	ServiceFee         decimal.Decimal `json:"service_fee"`
	PickupTime         *time.Time      `json:"pickup_time,omitempty"`
	Items              []Item          `json:"items"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Item is one parcel line declared to the carrier.
type Item struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
	Length    int    `json:"length"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Weight    int    `json:"weight"`
}

// Shop is a pickup location registered with the carrier.
type Shop struct {
	ShopID     int       `json:"shop_id"`
	Name       string    `json:"name"`
	Address    string    `json:"address"`
	Phone      string    `json:"phone"`
	DistrictID int       `json:"district_id"`
	WardCode   string    `json:"ward_code"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateInput carries the shipment options chosen at the counter. Zero
// package dimensions are derived from the products.
type CreateInput struct {
	PaymentTypeID      int    `json:"payment_type_id"`
	Note               string `json:"note"`
	RequiredNote       string `json:"required_note"`
	CODAmount          int64  `json:"cod_amount" validate:"gte=0"`
	CODFailedAmount    int64  `json:"cod_failed_amount" validate:"gte=0"`
	Weight             int    `json:"weight" validate:"gte=0"`
	Length             int    `json:"length" validate:"gte=0"`
	Width              int    `json:"width" validate:"gte=0"`
	Height             int    `json:"height" validate:"gte=0"`
	ServiceTypeID      int    `json:"service_type_id"`
	PickStationID      *int   `json:"pick_station_id"`
	PickShift          *int   `json:"pick_shift"`
	Coupon             string `json:"coupon"`
	ReturnPhone        string `json:"return_phone"`
	ReturnAddress      string `json:"return_address"`
	ReturnWardName     string `json:"return_ward_name"`
	ReturnDistrictName string `json:"return_district_name"`
}

// ShopInput registers a pickup location.
type ShopInput struct {
	Name       string `json:"name" validate:"required"`
	Address    string `json:"address" validate:"required"`
	Phone      string `json:"phone" validate:"required,vnphone"`
	DistrictID int    `json:"district_id" validate:"required,gt=0"`
	WardCode   string `json:"ward_code" validate:"required"`
}

// Filter narrows delivery listings.
type Filter struct {
	Search string
	Status string
	Page   shared.PageRequest
}

// ShopFilter narrows shop listings.
type ShopFilter struct {
	Search string
	Page   shared.PageRequest
}

// Order is the shipment request sent to the carrier.
type Order struct {
	PaymentTypeID      int
	Note               string
	RequiredNote       string
	ToName             string
	ToPhone            string
	ToAddress          string
	ToWardName         string
	ToDistrictName     string
	ToProvinceName     string
	CODAmount          int64
	CODFailedAmount    int64
	Weight             int
	Length             int
	Width              int
	Height             int
	ServiceTypeID      int
	PickStationID      *int
	PickShift          *int
	InsuranceValue     int64
	Content            string
	Coupon             string
	ReturnPhone        string
	ReturnAddress      string
	ReturnWardName     string
	ReturnDistrictName string
	Items              []Item
}

// CreatedOrder is the carrier's answer to an accepted Order.
type CreatedOrder struct {
	OrderCode string
	Message   string
	TotalFee  decimal.Decimal
}

// OrderDetail is the carrier's view of a shipment.
type OrderDetail struct {
	Status     string
	PickupTime *time.Time
}

// Province, District, Ward and PickShift are carrier reference data.
type Province struct {
	ProvinceID   int    `json:"ProvinceID"`
	ProvinceName string `json:"ProvinceName"`
}

type District struct {
	DistrictID   int    `json:"DistrictID"`
	ProvinceID   int    `json:"ProvinceID"`
	DistrictName string `json:"DistrictName"`
}

type Ward struct {
	WardCode   string `json:"WardCode"`
	DistrictID int    `json:"DistrictID"`
	WardName   string `json:"WardName"`
}

type PickShift struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	FromTime int64  `json:"from_time"`
	ToTime   int64  `json:"to_time"`
}

// Carrier is the shipping provider port.
type Carrier interface {
	CreateOrder(ctx context.Context, shopID int, order Order) (CreatedOrder, error)
	OrderDetail(ctx context.Context, shopID int, orderCode string) (OrderDetail, error)
	// OrderFee returns the main service fee charged for a shipment.
	OrderFee(ctx context.Context, shopID int, orderCode string) (decimal.Decimal, error)
	CancelOrder(ctx context.Context, shopID int, orderCodes []string) error
	PrintToken(ctx context.Context, shopID int, orderCodes []string) (string, error)
	// PrintLabel returns the label page for token as HTML.
	PrintLabel(ctx context.Context, token string) ([]byte, error)
	CreateShop(ctx context.Context, input ShopInput) (int, error)
	Provinces(ctx context.Context) ([]Province, error)
	Districts(ctx context.Context, provinceID int) ([]District, error)
	Wards(ctx context.Context, districtID int) ([]Ward, error)
	PickShifts(ctx context.Context) ([]PickShift, error)
}

// Delivery errors.
var (
	ErrDeliveryNotFound = shared.NewError(shared.ErrNotFound, "DELIVERY_NOT_FOUND", "delivery not found")
	ErrShopNotFound     = shared.NewError(shared.ErrNotFound, "NOT_FOUND_SHOP", "shop not found")
	ErrShopExists       = shared.NewError(shared.ErrConflict, "SHOP_ALREADY_EXISTS", "shop already registered")
	ErrDeliveryExists   = shared.NewError(shared.ErrConflict, "DELIVERY_ALREADY_EXISTS", "invoice already has a delivery")
	ErrAlreadyCanceled  = shared.NewError(shared.ErrInvalidState, "DELIVERY_ALREADY_CANCELED", "delivery already canceled")
	ErrCannotCancel     = shared.NewError(shared.ErrInvalidState, "CAN_NOT_CANCEL_WHEN_DELIVERY_STATUS_IS_NOT_ready_to_pick_OR_picking_OR_money_collect_picking", "carrier no longer accepts cancellation")
	ErrPhoneRequired    = shared.NewError(shared.ErrValidation, "PHONE_NUMBER_IS_REQUIRED", "customer phone is required")
	ErrAddressRequired  = shared.NewError(shared.ErrValidation, "ADDRESS_IS_REQUIRED", "customer address is required")
	ErrProvinceRequired = shared.NewError(shared.ErrValidation, "PROVINCE_IS_REQUIRED", "customer province is required")
	ErrDistrictRequired = shared.NewError(shared.ErrValidation, "DISTRICT_IS_REQUIRED", "customer district is required")
	ErrWardRequired     = shared.NewError(shared.ErrValidation, "WARD_IS_REQUIRED", "customer ward is required")
	ErrCarrierRejected  = shared.NewError(shared.ErrCarrier, "CARRIER_ERROR", "carrier rejected the request")
	ErrCarrierMalformed = shared.NewError(shared.ErrCarrier, "CARRIER_BAD_RESPONSE", "carrier answered with an unexpected payload")
)

// checkRecipient reports the first missing address field of c.
func checkRecipient(c *sales.Customer) error {
	switch {
	case c.Phone == "":
		return ErrPhoneRequired
	case c.Address == "":
		return ErrAddressRequired
	case c.Province == "":
		return ErrProvinceRequired
	case c.DistrictName == "":
		return ErrDistrictRequired
	case c.WardName == "":
		return ErrWardRequired
	}
	return nil
}

// insuranceFor declares the invoice total, capped at the ceiling.
func insuranceFor(total decimal.Decimal) int64 {
	if total.GreaterThanOrEqual(InsuranceThreshold) {
		return InsuranceCeiling.IntPart()
	}
	return total.Round(0).IntPart()
}
