package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/sales"
	"github.com/lilas/backoffice/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDelivery(ctx context.Context, orderCode string) (Delivery, error)
	ListDeliveries(ctx context.Context, filter Filter) ([]Delivery, int, error)
	PendingDeliveries(ctx context.Context) ([]Delivery, error)
	SaveTracking(ctx context.Context, orderCode string, fee decimal.Decimal, pickup *time.Time) error
	GetShop(ctx context.Context, shopID int) (Shop, error)
	InsertShop(ctx context.Context, s Shop) error
	ListShops(ctx context.Context, filter ShopFilter) ([]Shop, int, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards carrier order creation against double submits.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

const idempotencyModule = "delivery"

// Service registers shipments with the carrier and mirrors their state.
type Service struct {
	repo     RepositoryPort
	carrier  Carrier
	audit    AuditPort
	idem     IdempotencyPort
	notifier sales.ChangeNotifier
	logger   *slog.Logger
}

// NewService constructs the delivery service.
func NewService(repo RepositoryPort, carrier Carrier, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, carrier: carrier, audit: audit, logger: logger}
}

// WithIdempotency enables the per-invoice create guard.
func (s *Service) WithIdempotency(idem IdempotencyPort) *Service {
	s.idem = idem
	return s
}

// WithNotifier registers a listener for invoice changes.
func (s *Service) WithNotifier(n sales.ChangeNotifier) *Service {
	s.notifier = n
	return s
}

// Detail is a delivery with its pickup shop.
type Detail struct {
	Delivery
	Shop *Shop `json:"shop,omitempty"`
}

// Create ships a ready invoice. The carrier call runs inside the invoice
// transaction: a rejected order leaves no local trace.
func (s *Service) Create(ctx context.Context, invoiceID string, shopID int, input CreateInput) (Delivery, error) {
	if err := shared.Validate(input); err != nil {
		return Delivery{}, err
	}
	key := "delivery:create:" + invoiceID
	if s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			return Delivery{}, err
		}
	}
	var d Delivery
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := sales.LockOpenInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != sales.InvoiceReadyToPick {
			return sales.ErrInvoiceNotReadyToPick.WithMessage("invoice %s is %s", inv.ID, inv.Status)
		}
		shop, err := tx.Shop(ctx, shopID)
		if err != nil {
			return err
		}
		cust, err := tx.LockCustomer(ctx, inv.CustomerID)
		if err != nil {
			return err
		}
		if err := checkRecipient(cust); err != nil {
			return err
		}
		items, err := parcelItems(ctx, tx, inv)
		if err != nil {
			return err
		}
		d = newDelivery(inv, cust, shop.ShopID, input, items)
		if err := sales.DispatchInvoice(ctx, tx, inv); err != nil {
			return err
		}
		created, err := s.carrier.CreateOrder(ctx, shop.ShopID, d.order())
		if err != nil {
			return err
		}
		d.OrderCode = created.OrderCode
		d.Message = created.Message
		d.ServiceFee = created.TotalFee
		return tx.InsertDelivery(ctx, &d)
	})
	if err != nil {
		if s.idem != nil {
			_ = s.idem.Delete(ctx, key)
		}
		return Delivery{}, err
	}
	s.logger.InfoContext(ctx, "delivery created", slog.String("invoice_id", invoiceID), slog.String("order_code", d.OrderCode))
	s.recordAudit(ctx, "delivery:create", "delivery", d.OrderCode, map[string]any{"invoice_id": invoiceID, "shop_id": shopID})
	s.invoicesChanged(ctx)
	return d, nil
}

func newDelivery(inv *sales.Invoice, cust *sales.Customer, shopID int, in CreateInput, items []Item) Delivery {
	d := Delivery{
		InvoiceID:          inv.ID,
		ShopID:             shopID,
		Status:             StatusReadyToPick,
		PaymentStatus:      string(sales.PaymentUnpaid),
		PaymentTypeID:      in.PaymentTypeID,
		ToName:             cust.FullName,
		ToPhone:            cust.Phone,
		ToAddress:          cust.Address,
		ToWardName:         cust.WardName,
		ToDistrictName:     cust.DistrictName,
		ToProvinceName:     cust.Province,
		ReturnPhone:        in.ReturnPhone,
		ReturnAddress:      in.ReturnAddress,
		ReturnWardName:     in.ReturnWardName,
		ReturnDistrictName: in.ReturnDistrictName,
		CODAmount:          in.CODAmount,
		CODFailedAmount:    in.CODFailedAmount,
		Content:            parcelContent(items),
		ServiceTypeID:      in.ServiceTypeID,
		PickStationID:      in.PickStationID,
		PickShift:          in.PickShift,
		InsuranceValue:     insuranceFor(inv.TotalValue),
		Coupon:             in.Coupon,
		Note:               firstNonEmpty(in.Note, inv.Note, DefaultNote),
		RequiredNote:       firstNonEmpty(in.RequiredNote, DefaultRequiredNote),
		ServiceFee:         decimal.Zero,
		Items:              items,
	}
	if d.PaymentTypeID == 0 {
		d.PaymentTypeID = DefaultPaymentTypeID
	}
	if d.ServiceTypeID == 0 {
		d.ServiceTypeID = DefaultServiceTypeID
	}
	d.Weight, d.Length, d.Width, d.Height = parcelSize(items)
	if in.Weight > 0 {
		d.Weight = in.Weight
	}
	if in.Length > 0 {
		d.Length = in.Length
	}
	if in.Width > 0 {
		d.Width = in.Width
	}
	if in.Height > 0 {
		d.Height = in.Height
	}
	return d
}

func (d Delivery) order() Order {
	return Order{
		PaymentTypeID:      d.PaymentTypeID,
		Note:               d.Note,
		RequiredNote:       d.RequiredNote,
		ToName:             d.ToName,
		ToPhone:            d.ToPhone,
		ToAddress:          d.ToAddress,
		ToWardName:         d.ToWardName,
		ToDistrictName:     d.ToDistrictName,
		ToProvinceName:     d.ToProvinceName,
		CODAmount:          d.CODAmount,
		CODFailedAmount:    d.CODFailedAmount,
		Weight:             d.Weight,
		Length:             d.Length,
		Width:              d.Width,
		Height:             d.Height,
		ServiceTypeID:      d.ServiceTypeID,
		PickStationID:      d.PickStationID,
		PickShift:          d.PickShift,
		InsuranceValue:     d.InsuranceValue,
		Content:            d.Content,
		Coupon:             d.Coupon,
		ReturnPhone:        d.ReturnPhone,
		ReturnAddress:      d.ReturnAddress,
		ReturnWardName:     d.ReturnWardName,
		ReturnDistrictName: d.ReturnDistrictName,
		Items:              d.Items,
	}
}

// parcelItems declares every invoice line with the product's name and size.
func parcelItems(ctx context.Context, tx TxRepository, inv *sales.Invoice) ([]Item, error) {
	items := make([]Item, 0, len(inv.Items))
	for _, line := range inv.Items {
		p, err := tx.LockProduct(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		items = append(items, Item{
			ProductID: p.ID,
			Name:      p.Name,
			Code:      fmt.Sprintf("%s_%s", p.Name, p.ID),
			Quantity:  line.Quantity,
			Price:     line.Price.Round(0).IntPart(),
			Length:    max(p.Length, 1),
			Width:     max(p.Width, 1),
			Height:    max(p.Height, 1),
			Weight:    max(p.Weight, 1),
		})
	}
	return items, nil
}

func parcelContent(items []Item) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%s [SL: %d]", it.Name, it.Quantity))
	}
	return strings.Join(parts, ", ")
}

// parcelSize stacks the items: weights and heights add up, the footprint is
// the largest item's.
func parcelSize(items []Item) (weight, length, width, height int) {
	for _, it := range items {
		weight += it.Weight * it.Quantity
		height += it.Height * it.Quantity
		length = max(length, it.Length)
		width = max(width, it.Width)
	}
	return max(weight, 1), max(length, 1), max(width, 1), max(height, 1)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Get loads a delivery and refreshes its service fee and pickup time from
// the carrier. A failed pickup lookup keeps the stored value.
func (s *Service) Get(ctx context.Context, orderCode string) (Detail, error) {
	d, err := s.repo.GetDelivery(ctx, orderCode)
	if err != nil {
		return Detail{}, err
	}
	fee, err := s.carrier.OrderFee(ctx, d.ShopID, d.OrderCode)
	if err != nil {
		return Detail{}, fmt.Errorf("order fee %s: %w", orderCode, err)
	}
	pickup := d.PickupTime
	detail, err := s.carrier.OrderDetail(ctx, d.ShopID, d.OrderCode)
	if err != nil {
		s.logger.WarnContext(ctx, "pickup time lookup failed", slog.String("order_code", orderCode), slog.Any("error", err))
	} else if detail.PickupTime != nil {
		pickup = detail.PickupTime
	}
	if !fee.Equal(d.ServiceFee) || !sameTime(pickup, d.PickupTime) {
		if err := s.repo.SaveTracking(ctx, d.OrderCode, fee, pickup); err != nil {
			return Detail{}, err
		}
		d.ServiceFee, d.PickupTime = fee, pickup
	}
	out := Detail{Delivery: d}
	if shop, err := s.repo.GetShop(ctx, d.ShopID); err == nil {
		out.Shop = &shop
	}
	return out, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// List returns a page of deliveries.
func (s *Service) List(ctx context.Context, filter Filter) ([]Delivery, int, error) {
	return s.repo.ListDeliveries(ctx, filter)
}

// Print returns the carrier's label page for a delivery.
func (s *Service) Print(ctx context.Context, orderCode string) ([]byte, error) {
	d, err := s.repo.GetDelivery(ctx, orderCode)
	if err != nil {
		return nil, err
	}
	token, err := s.carrier.PrintToken(ctx, d.ShopID, []string{d.OrderCode})
	if err != nil {
		return nil, err
	}
	return s.carrier.PrintLabel(ctx, token)
}

// Cancel withdraws a shipment the carrier has not picked up yet and cancels
// its invoice. The carrier call comes last; a rejection rolls back the
// local changes.
func (s *Service) Cancel(ctx context.Context, orderCode string) (Delivery, error) {
	var d *Delivery
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		d, err = tx.LockDelivery(ctx, orderCode)
		if err != nil {
			return err
		}
		if d.Status == StatusCancel {
			return ErrAlreadyCanceled.WithMessage("order %s already canceled", orderCode)
		}
		if !Cancellable(d.Status) {
			return ErrCannotCancel.WithMessage("order %s is %s", orderCode, d.Status)
		}
		inv, err := tx.LockInvoice(ctx, d.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Active {
			if err := sales.WithdrawInvoice(ctx, tx, inv); err != nil {
				return err
			}
		}
		d.Status = StatusCancel
		if err := tx.SaveDelivery(ctx, d); err != nil {
			return err
		}
		return s.carrier.CancelOrder(ctx, d.ShopID, []string{d.OrderCode})
	})
	if err != nil {
		return Delivery{}, err
	}
	s.recordAudit(ctx, "delivery:cancel", "delivery", orderCode, map[string]any{"invoice_id": d.InvoiceID})
	s.invoicesChanged(ctx)
	return *d, nil
}

// CreateShop registers a pickup location with the carrier and keeps a local
// copy.
func (s *Service) CreateShop(ctx context.Context, input ShopInput) (Shop, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Address = strings.TrimSpace(input.Address)
	input.Phone = strings.TrimSpace(input.Phone)
	if err := shared.Validate(input); err != nil {
		return Shop{}, err
	}
	id, err := s.carrier.CreateShop(ctx, input)
	if err != nil {
		return Shop{}, err
	}
	shop := Shop{
		ShopID:     id,
		Name:       input.Name,
		Address:    input.Address,
		Phone:      input.Phone,
		DistrictID: input.DistrictID,
		WardCode:   input.WardCode,
	}
	if err := s.repo.InsertShop(ctx, shop); err != nil {
		return Shop{}, err
	}
	s.recordAudit(ctx, "shop:create", "shop", fmt.Sprint(id), map[string]any{"name": shop.Name})
	return s.repo.GetShop(ctx, id)
}

// ListShops returns a page of local shops.
func (s *Service) ListShops(ctx context.Context, filter ShopFilter) ([]Shop, int, error) {
	return s.repo.ListShops(ctx, filter)
}

// Provinces lists carrier provinces.
func (s *Service) Provinces(ctx context.Context) ([]Province, error) {
	return s.carrier.Provinces(ctx)
}

// Districts lists carrier districts of a province.
func (s *Service) Districts(ctx context.Context, provinceID int) ([]District, error) {
	return s.carrier.Districts(ctx, provinceID)
}

// Wards lists carrier wards of a district.
func (s *Service) Wards(ctx context.Context, districtID int) ([]Ward, error) {
	return s.carrier.Wards(ctx, districtID)
}

// PickShifts lists the carrier's pickup windows.
func (s *Service) PickShifts(ctx context.Context) ([]PickShift, error) {
	return s.carrier.PickShifts(ctx)
}

func (s *Service) recordAudit(ctx context.Context, action, entity, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: id,
		Meta:     meta,
	})
}

func (s *Service) invoicesChanged(ctx context.Context) {
	if s.notifier != nil {
		s.notifier.InvoicesChanged(ctx)
	}
}
