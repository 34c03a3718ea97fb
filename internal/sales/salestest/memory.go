// Package salestest provides in-memory sales stores for tests.
package salestest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/inventory/inventorytest"
	"github.com/lilas/backoffice/internal/sales"
	"github.com/lilas/backoffice/internal/shared"
	"github.com/lilas/backoffice/internal/users/userstest"
)

// Seeded customer groups.
const (
	RetailGroupID    int64 = 1
	WalkInGroupID    int64 = 2
	WholesaleGroupID int64 = 3
)

// WalkInID is the code of the seeded walk-in customer.
const WalkInID = "KH1"

// Invoices is an in-memory sales.InvoiceTx. It embeds the product and staff
// doubles so stock and employee totals move with the invoice.
type Invoices struct {
	*inventorytest.Products
	*userstest.Staff

	mu           sync.Mutex
	customers    map[string]sales.Customer
	invoices     map[string]sales.Invoice
	transactions []sales.Transaction
	clock        time.Time
}

// NewInvoices builds an empty invoice store over products and staff.
func NewInvoices(products *inventorytest.Products, staff *userstest.Staff) *Invoices {
	return &Invoices{
		Products:  products,
		Staff:     staff,
		customers: make(map[string]sales.Customer),
		invoices:  make(map[string]sales.Invoice),
		clock:     time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (s *Invoices) tick() time.Time {
	s.clock = s.clock.Add(time.Minute)
	return s.clock
}

// AddCustomer inserts or replaces a customer.
func (s *Invoices) AddCustomer(c sales.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.tick()
	}
	s.customers[c.ID] = c
}

// Customer returns the stored customer, zero value when absent.
func (s *Invoices) Customer(id string) sales.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customers[id]
}

// Invoice returns the stored invoice, zero value when absent.
func (s *Invoices) Invoice(id string) sales.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneInvoice(s.invoices[id])
}

// PutInvoice stores inv as is, lines included.
func (s *Invoices) PutInvoice(inv sales.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = s.tick()
	}
	s.invoices[inv.ID] = cloneInvoice(inv)
}

// Transactions returns the ledger rows of a customer in insertion order.
func (s *Invoices) Transactions(customerID string) []sales.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sales.Transaction
	for _, t := range s.transactions {
		if customerID == "" || t.CustomerID == customerID {
			out = append(out, t)
		}
	}
	return out
}

func cloneInvoice(inv sales.Invoice) sales.Invoice {
	inv.Items = append([]sales.InvoiceItem(nil), inv.Items...)
	inv.ServiceItems = append([]sales.ServiceItem(nil), inv.ServiceItems...)
	return inv
}

// Begin snapshots every map, products and staff included, and returns a
// rollback function.
func (s *Invoices) Begin() func() {
	rollbackProducts := s.Products.Begin()
	rollbackStaff := s.Staff.Begin()
	s.mu.Lock()
	customers := cloneMap(s.customers)
	invoices := cloneMap(s.invoices)
	transactions := append([]sales.Transaction(nil), s.transactions...)
	s.mu.Unlock()
	return func() {
		rollbackProducts()
		rollbackStaff()
		s.mu.Lock()
		s.customers, s.invoices, s.transactions = customers, invoices, transactions
		s.mu.Unlock()
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// LockInvoice implements sales.InvoiceTx.
func (s *Invoices) LockInvoice(_ context.Context, id string) (*sales.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, sales.ErrInvoiceNotFound
	}
	inv = cloneInvoice(inv)
	if c, ok := s.customers[inv.CustomerID]; ok {
		inv.CustomerName, inv.CustomerPhone = c.FullName, c.Phone
	}
	return &inv, nil
}

// SaveInvoice implements sales.InvoiceTx.
func (s *Invoices) SaveInvoice(_ context.Context, inv *sales.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.invoices[inv.ID]
	if !ok {
		return sales.ErrInvoiceNotFound
	}
	next := *inv
	next.Items, next.ServiceItems = cur.Items, cur.ServiceItems
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = s.tick()
	s.invoices[inv.ID] = next
	return nil
}

// LockCustomer implements sales.InvoiceTx.
func (s *Invoices) LockCustomer(_ context.Context, id string) (*sales.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, sales.ErrCustomerNotFound
	}
	return &c, nil
}

// SaveCustomer implements sales.InvoiceTx.
func (s *Invoices) SaveCustomer(_ context.Context, c *sales.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.customers[c.ID]
	if !ok {
		return sales.ErrCustomerNotFound
	}
	cur.Debt = c.Debt
	cur.TotalSpending = c.TotalSpending
	cur.TotalOrder = c.TotalOrder
	cur.TotalReturnSpending = c.TotalReturnSpending
	cur.TotalReturnOrders = c.TotalReturnOrders
	s.customers[c.ID] = cur
	return nil
}

// ActiveInvoiceTransaction implements sales.InvoiceTx.
func (s *Invoices) ActiveInvoiceTransaction(_ context.Context, invoiceID string) (*sales.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transactions {
		if t.InvoiceID == invoiceID && t.Active {
			return &t, nil
		}
	}
	return nil, nil
}

// InsertTransaction implements sales.InvoiceTx.
func (s *Invoices) InsertTransaction(_ context.Context, t sales.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.CreatedAt = s.tick()
	s.transactions = append(s.transactions, t)
	return nil
}

// UpdateTransaction implements sales.InvoiceTx.
func (s *Invoices) UpdateTransaction(_ context.Context, t sales.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.transactions {
		if s.transactions[i].ID == t.ID {
			t.CreatedAt = s.transactions[i].CreatedAt
			s.transactions[i] = t
			return nil
		}
	}
	return sales.ErrTransactionNotFoundPaid
}

// Store implements sales.RepositoryPort and sales.TxRepository in memory.
type Store struct {
	*Invoices
	*shared.MemorySequencer

	groups      map[int64]sales.Group
	nextGroupID int64
}

// NewStore builds a store seeded with the default, walk-in and wholesale
// groups and the walk-in customer.
func NewStore(products *inventorytest.Products, staff *userstest.Staff) *Store {
	s := &Store{
		Invoices:        NewInvoices(products, staff),
		MemorySequencer: shared.NewMemorySequencer(),
		groups: map[int64]sales.Group{
			RetailGroupID:    {ID: RetailGroupID, Name: sales.DefaultGroupName, PriceTier: sales.TierRetail, DiscountType: "percent"},
			WalkInGroupID:    {ID: WalkInGroupID, Name: sales.WalkInName, PriceTier: sales.TierRetail, DiscountType: "percent"},
			WholesaleGroupID: {ID: WholesaleGroupID, Name: "Khách Sỉ", PriceTier: sales.TierWholesale, DiscountType: "percent"},
		},
		nextGroupID: WholesaleGroupID,
	}
	walkIn, _ := s.NextCode(context.Background(), shared.PrefixCustomer)
	s.AddCustomer(sales.Customer{
		ID:        walkIn,
		FullName:  sales.WalkInName,
		GroupID:   WalkInGroupID,
		GroupName: sales.WalkInName,
		PriceTier: sales.TierRetail,
		Active:    true,
	})
	return s
}

// Seed adds a customer in group with zero totals.
func (s *Store) Seed(id, name string, group int64) sales.Customer {
	g := s.groups[group]
	c := sales.Customer{
		ID:                  id,
		FullName:            name,
		GroupID:             g.ID,
		GroupName:           g.Name,
		PriceTier:           g.PriceTier,
		Debt:                decimal.Zero,
		TotalSpending:       decimal.Zero,
		TotalReturnSpending: decimal.Zero,
		Active:              true,
	}
	s.AddCustomer(c)
	return c
}

// WithTx runs fn and restores every map when it fails.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, sales.TxRepository) error) error {
	rollback := s.Invoices.Begin()
	groups := cloneMap(s.groups)
	nextGroupID := s.nextGroupID
	if err := fn(ctx, s); err != nil {
		rollback()
		s.groups, s.nextGroupID = groups, nextGroupID
		return err
	}
	return nil
}

// GetCustomer implements sales.RepositoryPort.
func (s *Store) GetCustomer(ctx context.Context, id string) (sales.Customer, error) {
	c, err := s.LockCustomer(ctx, id)
	if err != nil {
		return sales.Customer{}, err
	}
	return *c, nil
}

func (s *Store) allCustomers() []sales.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sales.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ListCustomers implements sales.RepositoryPort.
func (s *Store) ListCustomers(_ context.Context, f sales.CustomerFilter) ([]sales.Customer, int, error) {
	var out []sales.Customer
	for _, c := range s.allCustomers() {
		if c.WalkIn() {
			continue
		}
		if f.ActiveOnly && !c.Active {
			continue
		}
		if f.GroupID > 0 && c.GroupID != f.GroupID {
			continue
		}
		if !shared.MatchesSearch(f.Search, c.ID, c.FullName, c.Phone, c.Email, c.GroupName) {
			continue
		}
		out = append(out, c)
	}
	return out, len(out), nil
}

// TopCustomers implements sales.RepositoryPort.
func (s *Store) TopCustomers(_ context.Context, limit int) ([]sales.Customer, error) {
	var out []sales.Customer
	for _, c := range s.allCustomers() {
		if c.Active && c.TotalSpending.IsPositive() {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalSpending.GreaterThan(out[j].TotalSpending) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) groupWithTotals(g sales.Group) sales.Group {
	g.TotalSpending = decimal.Zero
	for _, c := range s.allCustomers() {
		if c.GroupID != g.ID {
			continue
		}
		g.TotalCustomer++
		g.TotalOrder += c.TotalOrder
		g.TotalSpending = g.TotalSpending.Add(c.TotalSpending)
	}
	return g
}

// ListGroups implements sales.RepositoryPort.
func (s *Store) ListGroups(context.Context) ([]sales.Group, error) {
	out := make([]sales.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, s.groupWithTotals(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetGroup implements sales.RepositoryPort.
func (s *Store) GetGroup(_ context.Context, id int64) (sales.Group, error) {
	g, ok := s.groups[id]
	if !ok {
		return sales.Group{}, sales.ErrGroupNotFound
	}
	return s.groupWithTotals(g), nil
}

// ListTransactions implements sales.RepositoryPort.
func (s *Store) ListTransactions(_ context.Context, f sales.TransactionFilter) ([]sales.Transaction, int, error) {
	var out []sales.Transaction
	for _, t := range s.Transactions(f.CustomerID) {
		if f.ActiveOnly && !t.Active {
			continue
		}
		out = append(out, t)
	}
	return out, len(out), nil
}

// GetInvoice implements sales.RepositoryPort.
func (s *Store) GetInvoice(ctx context.Context, id string) (sales.Invoice, error) {
	inv, err := s.LockInvoice(ctx, id)
	if err != nil {
		return sales.Invoice{}, err
	}
	return *inv, nil
}

// ListInvoices implements sales.RepositoryPort.
func (s *Store) ListInvoices(ctx context.Context, f sales.InvoiceFilter) ([]sales.Invoice, int, error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.invoices))
	for id := range s.invoices {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	var out []sales.Invoice
	for _, id := range ids {
		inv, err := s.GetInvoice(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if !invoiceMatches(inv, f) {
			continue
		}
		if f.WithActiveTx {
			open, _ := s.ActiveInvoiceTransaction(ctx, inv.ID)
			if open == nil {
				continue
			}
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

func invoiceMatches(inv sales.Invoice, f sales.InvoiceFilter) bool {
	switch {
	case f.Status != "" && inv.Status != f.Status:
		return false
	case f.PaymentStatus != "" && inv.PaymentStatus != f.PaymentStatus:
		return false
	case f.Branch != nil && inv.Branch != *f.Branch:
		return false
	case f.IsDelivery != nil && inv.IsDelivery != *f.IsDelivery:
		return false
	case f.From != nil && inv.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && !inv.CreatedAt.Before(*f.To):
		return false
	}
	return shared.MatchesSearch(f.Search, inv.ID, inv.CustomerName, inv.CustomerPhone, string(inv.Status))
}

// LockWalkIn implements sales.TxRepository.
func (s *Store) LockWalkIn(ctx context.Context) (*sales.Customer, error) {
	for _, c := range s.allCustomers() {
		if c.WalkIn() {
			return s.LockCustomer(ctx, c.ID)
		}
	}
	return nil, sales.ErrCustomerNotFound
}

// CustomerConflict implements sales.TxRepository.
func (s *Store) CustomerConflict(_ context.Context, phone, email, excludeID string) error {
	for _, c := range s.allCustomers() {
		if c.ID == excludeID {
			continue
		}
		if phone != "" && c.Phone == phone {
			return sales.ErrPhoneExists
		}
		if email != "" && strings.EqualFold(c.Email, email) {
			return sales.ErrEmailExists
		}
	}
	return nil
}

// InsertCustomer implements sales.TxRepository.
func (s *Store) InsertCustomer(_ context.Context, c sales.Customer) error {
	s.AddCustomer(c)
	return nil
}

// UpdateCustomer implements sales.TxRepository.
func (s *Store) UpdateCustomer(_ context.Context, c sales.Customer) error {
	cur := s.Customer(c.ID)
	if cur.ID == "" {
		return sales.ErrCustomerNotFound
	}
	c.CreatedAt = cur.CreatedAt
	s.AddCustomer(c)
	return nil
}

// LockGroup implements sales.TxRepository.
func (s *Store) LockGroup(_ context.Context, id int64) (*sales.Group, error) {
	g, ok := s.groups[id]
	if !ok {
		return nil, sales.ErrGroupNotFound
	}
	return &g, nil
}

// GroupByName implements sales.TxRepository.
func (s *Store) GroupByName(_ context.Context, name string) (*sales.Group, error) {
	for _, g := range s.groups {
		if strings.EqualFold(g.Name, name) {
			return &g, nil
		}
	}
	return nil, nil
}

// InsertGroup implements sales.TxRepository.
func (s *Store) InsertGroup(_ context.Context, g *sales.Group) error {
	s.nextGroupID++
	g.ID = s.nextGroupID
	s.groups[g.ID] = *g
	return nil
}

// UpdateGroup implements sales.TxRepository.
func (s *Store) UpdateGroup(_ context.Context, g sales.Group) error {
	if _, ok := s.groups[g.ID]; !ok {
		return sales.ErrGroupNotFound
	}
	s.groups[g.ID] = g
	s.regroup(g.ID, g)
	return nil
}

// DeleteGroup implements sales.TxRepository.
func (s *Store) DeleteGroup(_ context.Context, id, fallbackID int64) error {
	if _, ok := s.groups[id]; !ok {
		return sales.ErrGroupNotFound
	}
	s.regroup(id, s.groups[fallbackID])
	delete(s.groups, id)
	return nil
}

// regroup points every member of group id at g.
func (s *Store) regroup(id int64, g sales.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.customers {
		if c.GroupID == id {
			c.GroupID, c.GroupName, c.PriceTier = g.ID, g.Name, g.PriceTier
			s.customers[k] = c
		}
	}
}

// InsertInvoice implements sales.TxRepository.
func (s *Store) InsertInvoice(_ context.Context, inv sales.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[inv.ID]; ok {
		return shared.NewError(shared.ErrConflict, "INVOICE_EXISTS", "invoice already exists")
	}
	inv.CreatedAt = s.tick()
	inv.UpdatedAt = inv.CreatedAt
	s.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

// ReplaceInvoiceLines implements sales.TxRepository.
func (s *Store) ReplaceInvoiceLines(_ context.Context, inv sales.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.invoices[inv.ID]
	if !ok {
		return sales.ErrInvoiceNotFound
	}
	fresh := cloneInvoice(inv)
	cur.Items, cur.ServiceItems = fresh.Items, fresh.ServiceItems
	s.invoices[inv.ID] = cur
	return nil
}
