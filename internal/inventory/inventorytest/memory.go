// Package inventorytest provides in-memory inventory stores for tests.
package inventorytest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/shared"
	"github.com/lilas/backoffice/internal/users/userstest"
)

// Products is an in-memory inventory.ProductTx.
type Products struct {
	mu    sync.Mutex
	items map[string]inventory.Product
}

// NewProducts seeds the store.
func NewProducts(seed ...inventory.Product) *Products {
	p := &Products{items: make(map[string]inventory.Product)}
	for _, prod := range seed {
		p.Add(prod)
	}
	return p
}

// Sellable builds an active product for sale with equal physical and
// sellable stock per branch.
func Sellable(id, name string, retail int64, terra, thonhuom int) inventory.Product {
	p := inventory.Product{
		ID:             id,
		Name:           name,
		PriceRetail:    decimal.NewFromInt(retail),
		PriceWholesale: decimal.NewFromInt(retail),
		PriceImport:    decimal.Zero,
		DryStock:       true,
		Active:         true,
		Weight:         200,
	}
	p.Levels[inventory.BranchTerra] = inventory.StockLevel{Stock: terra, CanSell: terra}
	p.Levels[inventory.BranchThoNhuom] = inventory.StockLevel{Stock: thonhuom, CanSell: thonhuom}
	return p
}

// Add inserts or replaces a product.
func (p *Products) Add(prod inventory.Product) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[prod.ID] = prod
}

// Get returns the stored product, zero value when absent.
func (p *Products) Get(id string) inventory.Product {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.items[id]
}

// Level returns the stored counters of id at b.
func (p *Products) Level(id string, b inventory.Branch) inventory.StockLevel {
	prod := p.Get(id)
	return prod.Level(b)
}

// LockProduct implements inventory.ProductTx.
func (p *Products) LockProduct(_ context.Context, id string) (*inventory.Product, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prod, ok := p.items[id]
	if !ok {
		return nil, inventory.ErrProductNotFound.WithMessage("product %s not found", id)
	}
	return &prod, nil
}

// SaveProduct implements inventory.ProductTx.
func (p *Products) SaveProduct(_ context.Context, prod *inventory.Product) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.items[prod.ID]
	if !ok {
		return inventory.ErrProductNotFound
	}
	cur.Levels = prod.Levels
	cur.PriceImport = prod.PriceImport
	p.items[prod.ID] = cur
	return nil
}

// Begin snapshots the store and returns a rollback function.
func (p *Products) Begin() func() {
	p.mu.Lock()
	snap := make(map[string]inventory.Product, len(p.items))
	for k, v := range p.items {
		snap[k] = v
	}
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.items = snap
		p.mu.Unlock()
	}
}

func (p *Products) all() []inventory.Product {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]inventory.Product, 0, len(p.items))
	for _, prod := range p.items {
		out = append(out, prod)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Store implements inventory.RepositoryPort and inventory.TxRepository in memory.
type Store struct {
	*Products
	*userstest.Staff
	*shared.MemorySequencer

	groups    map[string]inventory.Group
	transfers map[string]inventory.Transfer
}

// NewStore builds an empty store backed by staff.
func NewStore(staff *userstest.Staff) *Store {
	return &Store{
		Products:        NewProducts(),
		Staff:           staff,
		MemorySequencer: shared.NewMemorySequencer(),
		groups:          make(map[string]inventory.Group),
		transfers:       make(map[string]inventory.Transfer),
	}
}

// WithTx runs fn and restores every map when it fails.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	rollbackProducts := s.Products.Begin()
	rollbackStaff := s.Staff.Begin()
	groups := cloneMap(s.groups)
	transfers := cloneMap(s.transfers)
	if err := fn(ctx, s); err != nil {
		rollbackProducts()
		rollbackStaff()
		s.groups, s.transfers = groups, transfers
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

// GetProduct implements inventory.RepositoryPort.
func (s *Store) GetProduct(ctx context.Context, id string) (inventory.Product, error) {
	p, err := s.LockProduct(ctx, id)
	if err != nil {
		return inventory.Product{}, err
	}
	return *p, nil
}

// ListProducts implements inventory.RepositoryPort.
func (s *Store) ListProducts(_ context.Context, f inventory.ProductFilter) ([]inventory.Product, int, error) {
	var out []inventory.Product
	for _, p := range s.all() {
		if f.ActiveOnly && !p.Active {
			continue
		}
		if f.SellableOnly && !(p.Active && p.DryStock) {
			continue
		}
		if f.GroupName != "" && p.GroupName != f.GroupName {
			continue
		}
		if !shared.MatchesSearch(f.Search, p.ID, p.Name, p.Barcode, p.Brand) {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

// ListGroups implements inventory.RepositoryPort.
func (s *Store) ListGroups(context.Context) ([]inventory.Group, error) {
	out := make([]inventory.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetTransfer implements inventory.RepositoryPort.
func (s *Store) GetTransfer(_ context.Context, id string) (inventory.Transfer, error) {
	t, ok := s.transfers[id]
	if !ok {
		return inventory.Transfer{}, inventory.ErrTransferNotFound
	}
	return t, nil
}

// ListTransfers implements inventory.RepositoryPort.
func (s *Store) ListTransfers(_ context.Context, f inventory.TransferFilter) ([]inventory.Transfer, int, error) {
	var out []inventory.Transfer
	for _, t := range s.transfers {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if !shared.MatchesSearch(f.Search, t.ID, t.UserID, t.Note) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

// InventoryValue implements inventory.RepositoryPort.
func (s *Store) InventoryValue(_ context.Context, branch *inventory.Branch) (inventory.InventoryValue, error) {
	out := inventory.InventoryValue{Warehouse: "all", TotalStockValue: decimal.Zero}
	if branch != nil {
		out.Warehouse = branch.String()
	}
	for _, p := range s.all() {
		stock := p.TotalStock()
		if branch != nil {
			stock = p.Level(*branch).Stock
		}
		out.TotalProducts++
		out.TotalStock += stock
		out.TotalStockValue = out.TotalStockValue.Add(p.PriceImport.Mul(decimal.NewFromInt(int64(stock))))
	}
	return out, nil
}

// InsertProduct implements inventory.TxRepository.
func (s *Store) InsertProduct(_ context.Context, p inventory.Product) error {
	s.Products.Add(p)
	return nil
}

// UpdateProductInfo implements inventory.TxRepository.
func (s *Store) UpdateProductInfo(_ context.Context, p inventory.Product) error {
	cur := s.Products.Get(p.ID)
	if cur.ID == "" {
		return inventory.ErrProductNotFound
	}
	p.Levels = cur.Levels
	p.PriceImport = cur.PriceImport
	s.Products.Add(p)
	return nil
}

// ProductNameExists implements inventory.TxRepository.
func (s *Store) ProductNameExists(_ context.Context, name, excludeID string) (bool, error) {
	for _, p := range s.all() {
		if p.ID != excludeID && p.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// GroupExists implements inventory.TxRepository.
func (s *Store) GroupExists(_ context.Context, name string) (bool, error) {
	for n := range s.groups {
		if strings.EqualFold(n, name) {
			return true, nil
		}
	}
	return false, nil
}

// InsertGroup implements inventory.TxRepository.
func (s *Store) InsertGroup(_ context.Context, g inventory.Group) error {
	if _, ok := s.groups[g.Name]; ok {
		return inventory.ErrGroupExists
	}
	s.groups[g.Name] = g
	return nil
}

// DeleteGroup implements inventory.TxRepository.
func (s *Store) DeleteGroup(_ context.Context, name, fallback string) error {
	if _, ok := s.groups[name]; !ok {
		return inventory.ErrGroupNotFound
	}
	if _, ok := s.groups[fallback]; !ok {
		s.groups[fallback] = inventory.Group{Name: fallback}
	}
	for _, p := range s.all() {
		if strings.EqualFold(p.GroupName, name) {
			p.GroupName = fallback
			s.Products.Add(p)
		}
	}
	delete(s.groups, name)
	return nil
}

// LockTransfer implements inventory.TxRepository.
func (s *Store) LockTransfer(ctx context.Context, id string) (inventory.Transfer, error) {
	return s.GetTransfer(ctx, id)
}

// InsertTransfer implements inventory.TxRepository.
func (s *Store) InsertTransfer(_ context.Context, t inventory.Transfer) error {
	s.transfers[t.ID] = t
	return nil
}

// UpdateTransfer implements inventory.TxRepository.
func (s *Store) UpdateTransfer(_ context.Context, t inventory.Transfer) error {
	if _, ok := s.transfers[t.ID]; !ok {
		return inventory.ErrTransferNotFound
	}
	s.transfers[t.ID] = t
	return nil
}
