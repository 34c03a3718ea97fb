// Package deliverytest provides in-memory delivery doubles for tests.
package deliverytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/delivery"
	"github.com/lilas/backoffice/internal/sales/salestest"
	"github.com/lilas/backoffice/internal/shared"
)

// Store implements delivery.RepositoryPort and delivery.TxRepository over the
// sales invoice double.
type Store struct {
	*salestest.Invoices

	mu         sync.Mutex
	deliveries map[string]delivery.Delivery
	shops      map[int]delivery.Shop
	nextID     int64
	clock      time.Time
}

// NewStore builds an empty store over invoices.
func NewStore(invoices *salestest.Invoices) *Store {
	return &Store{
		Invoices:   invoices,
		deliveries: make(map[string]delivery.Delivery),
		shops:      make(map[int]delivery.Shop),
		clock:      time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (s *Store) tick() time.Time {
	s.clock = s.clock.Add(time.Minute)
	return s.clock
}

// AddShop registers a shop directly.
func (s *Store) AddShop(shop delivery.Shop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if shop.CreatedAt.IsZero() {
		shop.CreatedAt = s.tick()
	}
	s.shops[shop.ShopID] = shop
}

// Delivery returns the stored delivery, zero value when absent.
func (s *Store) Delivery(orderCode string) delivery.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveries[orderCode]
}

// Count reports how many deliveries are stored.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deliveries)
}

// WithTx runs fn and restores every map when it fails.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, delivery.TxRepository) error) error {
	rollback := s.Invoices.Begin()
	s.mu.Lock()
	deliveries := cloneMap(s.deliveries)
	shops := cloneMap(s.shops)
	nextID := s.nextID
	s.mu.Unlock()
	if err := fn(ctx, s); err != nil {
		rollback()
		s.mu.Lock()
		s.deliveries, s.shops, s.nextID = deliveries, shops, nextID
		s.mu.Unlock()
		return err
	}
	return nil
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GetDelivery implements delivery.RepositoryPort.
func (s *Store) GetDelivery(_ context.Context, orderCode string) (delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[orderCode]
	if !ok {
		return delivery.Delivery{}, delivery.ErrDeliveryNotFound
	}
	return d, nil
}

func (s *Store) sorted() []delivery.Delivery {
	out := make([]delivery.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// ListDeliveries implements delivery.RepositoryPort.
func (s *Store) ListDeliveries(_ context.Context, f delivery.Filter) ([]delivery.Delivery, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []delivery.Delivery
	for _, d := range s.sorted() {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if !shared.MatchesSearch(f.Search, d.InvoiceID, d.OrderCode, d.ToName, d.ToPhone, d.ToAddress, d.Status, d.Content) {
			continue
		}
		matched = append(matched, d)
	}
	return paginate(matched, f.Page), len(matched), nil
}

func paginate[T any](items []T, page shared.PageRequest) []T {
	start := min(page.Offset(), len(items))
	end := min(start+page.Limit(), len(items))
	return items[start:end]
}

// PendingDeliveries implements delivery.RepositoryPort, oldest first.
func (s *Store) PendingDeliveries(context.Context) ([]delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []delivery.Delivery
	for _, d := range s.sorted() {
		if !delivery.Terminal(d.Status) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveTracking implements delivery.RepositoryPort.
func (s *Store) SaveTracking(_ context.Context, orderCode string, fee decimal.Decimal, pickup *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[orderCode]
	if !ok {
		return delivery.ErrDeliveryNotFound
	}
	d.ServiceFee = fee
	if pickup != nil {
		d.PickupTime = pickup
	}
	s.deliveries[orderCode] = d
	return nil
}

// GetShop implements delivery.RepositoryPort.
func (s *Store) GetShop(_ context.Context, shopID int) (delivery.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shop, ok := s.shops[shopID]
	if !ok {
		return delivery.Shop{}, delivery.ErrShopNotFound
	}
	return shop, nil
}

// InsertShop implements delivery.RepositoryPort.
func (s *Store) InsertShop(_ context.Context, shop delivery.Shop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shops[shop.ShopID]; ok {
		return delivery.ErrShopExists
	}
	shop.CreatedAt = s.tick()
	s.shops[shop.ShopID] = shop
	return nil
}

// ListShops implements delivery.RepositoryPort.
func (s *Store) ListShops(_ context.Context, f delivery.ShopFilter) ([]delivery.Shop, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []delivery.Shop
	for _, shop := range s.shops {
		if shared.MatchesSearch(f.Search, shop.Name, shop.Address, shop.Phone) {
			matched = append(matched, shop)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return paginate(matched, f.Page), len(matched), nil
}

// Shop implements delivery.TxRepository.
func (s *Store) Shop(ctx context.Context, shopID int) (*delivery.Shop, error) {
	shop, err := s.GetShop(ctx, shopID)
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

// InsertDelivery implements delivery.TxRepository.
func (s *Store) InsertDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.deliveries {
		if existing.InvoiceID == d.InvoiceID {
			return delivery.ErrDeliveryExists
		}
	}
	s.nextID++
	d.ID = s.nextID
	d.CreatedAt = s.tick()
	d.UpdatedAt = d.CreatedAt
	stored := *d
	stored.Items = append([]delivery.Item(nil), d.Items...)
	s.deliveries[d.OrderCode] = stored
	return nil
}

// LockDelivery implements delivery.TxRepository.
func (s *Store) LockDelivery(ctx context.Context, orderCode string) (*delivery.Delivery, error) {
	d, err := s.GetDelivery(ctx, orderCode)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// SaveDelivery implements delivery.TxRepository.
func (s *Store) SaveDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.OrderCode]; !ok {
		return delivery.ErrDeliveryNotFound
	}
	d.UpdatedAt = s.tick()
	s.deliveries[d.OrderCode] = *d
	return nil
}

// Carrier is a scripted delivery.Carrier. Orders get codes GHN1, GHN2, ...
type Carrier struct {
	mu sync.Mutex

	Orders    []delivery.Order
	Canceled  []string
	Shops     []delivery.ShopInput
	statuses  map[string]string
	fees      map[string]decimal.Decimal
	pickups   map[string]time.Time
	failures  map[string]error
	CreateErr error
	CancelErr error
}

// NewCarrier builds a carrier that accepts every request.
func NewCarrier() *Carrier {
	return &Carrier{
		statuses: make(map[string]string),
		fees:     make(map[string]decimal.Decimal),
		pickups:  make(map[string]time.Time),
		failures: make(map[string]error),
	}
}

// SetStatus scripts the status reported for an order.
func (c *Carrier) SetStatus(orderCode, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[orderCode] = status
}

// SetTracking scripts the fee and pickup time reported for an order.
func (c *Carrier) SetTracking(orderCode string, fee decimal.Decimal, pickup time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fees[orderCode] = fee
	c.pickups[orderCode] = pickup
}

// FailDetail makes detail lookups for orderCode fail with err.
func (c *Carrier) FailDetail(orderCode string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[orderCode] = err
}

func (c *Carrier) CreateOrder(_ context.Context, _ int, order delivery.Order) (delivery.CreatedOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CreateErr != nil {
		return delivery.CreatedOrder{}, c.CreateErr
	}
	c.Orders = append(c.Orders, order)
	code := fmt.Sprintf("GHN%d", len(c.Orders))
	c.statuses[code] = delivery.StatusReadyToPick
	return delivery.CreatedOrder{OrderCode: code, Message: "Success", TotalFee: decimal.NewFromInt(22000)}, nil
}

func (c *Carrier) OrderDetail(_ context.Context, _ int, orderCode string) (delivery.OrderDetail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failures[orderCode]; err != nil {
		return delivery.OrderDetail{}, err
	}
	out := delivery.OrderDetail{Status: c.statuses[orderCode]}
	if at, ok := c.pickups[orderCode]; ok {
		out.PickupTime = &at
	}
	return out, nil
}

func (c *Carrier) OrderFee(_ context.Context, _ int, orderCode string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fees[orderCode], nil
}

func (c *Carrier) CancelOrder(_ context.Context, _ int, orderCodes []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CancelErr != nil {
		return c.CancelErr
	}
	for _, code := range orderCodes {
		c.statuses[code] = delivery.StatusCancel
	}
	c.Canceled = append(c.Canceled, orderCodes...)
	return nil
}

func (c *Carrier) PrintToken(_ context.Context, _ int, orderCodes []string) (string, error) {
	return "token-" + orderCodes[0], nil
}

func (c *Carrier) PrintLabel(_ context.Context, token string) ([]byte, error) {
	return []byte("<html>" + token + "</html>"), nil
}

func (c *Carrier) CreateShop(_ context.Context, input delivery.ShopInput) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Shops = append(c.Shops, input)
	return 1000 + len(c.Shops), nil
}

func (c *Carrier) Provinces(context.Context) ([]delivery.Province, error) {
	return []delivery.Province{{ProvinceID: 202, ProvinceName: "Hồ Chí Minh"}}, nil
}

func (c *Carrier) Districts(_ context.Context, provinceID int) ([]delivery.District, error) {
	return []delivery.District{{DistrictID: 1442, ProvinceID: provinceID, DistrictName: "Quận 1"}}, nil
}

func (c *Carrier) Wards(_ context.Context, districtID int) ([]delivery.Ward, error) {
	return []delivery.Ward{{WardCode: "20101", DistrictID: districtID, WardName: "Phường Bến Nghé"}}, nil
}

func (c *Carrier) PickShifts(context.Context) ([]delivery.PickShift, error) {
	return []delivery.PickShift{{ID: 2, Title: "Ca lấy 12-03-2024 (12h00 - 18h00)"}}, nil
}
