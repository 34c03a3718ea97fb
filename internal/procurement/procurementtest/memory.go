// Package procurementtest provides an in-memory procurement store for tests.
package procurementtest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/inventory/inventorytest"
	"github.com/lilas/backoffice/internal/procurement"
	"github.com/lilas/backoffice/internal/shared"
	"github.com/lilas/backoffice/internal/users/userstest"
)

// Store implements procurement.RepositoryPort and procurement.TxRepository
// in memory. Product and staff doubles are embedded so stock moves with the
// bills.
type Store struct {
	*inventorytest.Products
	*userstest.Staff
	*shared.MemorySequencer

	mu           sync.Mutex
	suppliers    map[string]procurement.Supplier
	transactions []procurement.SupplierTransaction
	imports      map[string]procurement.ImportBill
	inspections  map[string]procurement.InspectionReport
	history      []procurement.InspectionHistory
	returns      map[string]procurement.ReturnBill
	clock        time.Time
}

// NewStore builds an empty store over products and staff.
func NewStore(products *inventorytest.Products, staff *userstest.Staff) *Store {
	return &Store{
		Products:        products,
		Staff:           staff,
		MemorySequencer: shared.NewMemorySequencer(),
		suppliers:       make(map[string]procurement.Supplier),
		imports:         make(map[string]procurement.ImportBill),
		inspections:     make(map[string]procurement.InspectionReport),
		returns:         make(map[string]procurement.ReturnBill),
		clock:           time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (s *Store) tick() time.Time {
	s.clock = s.clock.Add(time.Minute)
	return s.clock
}

// Seed adds an active supplier with zero totals under the next NCC code.
func (s *Store) Seed(name string) procurement.Supplier {
	id, _ := s.NextCode(context.Background(), shared.PrefixSupplier)
	sup := procurement.Supplier{
		ID:               id,
		ContactName:      name,
		Debt:             decimal.Zero,
		TotalImportValue: decimal.Zero,
		TotalReturnValue: decimal.Zero,
		Active:           true,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sup.CreatedAt = s.tick()
	s.suppliers[id] = sup
	return sup
}

// Supplier returns the stored supplier, zero value when absent.
func (s *Store) Supplier(id string) procurement.Supplier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppliers[id]
}

// Transactions returns the payments to a supplier in insertion order.
func (s *Store) Transactions(supplierID string) []procurement.SupplierTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []procurement.SupplierTransaction
	for _, t := range s.transactions {
		if t.SupplierID == supplierID {
			out = append(out, t)
		}
	}
	return out
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneImport(b procurement.ImportBill) procurement.ImportBill {
	b.Items = append([]procurement.BillItem(nil), b.Items...)
	return b
}

func cloneReturn(b procurement.ReturnBill) procurement.ReturnBill {
	b.Items = append([]procurement.BillItem(nil), b.Items...)
	return b
}

func cloneInspection(r procurement.InspectionReport) procurement.InspectionReport {
	r.Items = append([]procurement.InspectionItem(nil), r.Items...)
	return r
}

// WithTx runs fn and restores every map, products and staff included, when
// it fails.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, procurement.TxRepository) error) error {
	rollbackProducts := s.Products.Begin()
	rollbackStaff := s.Staff.Begin()
	s.mu.Lock()
	suppliers := cloneMap(s.suppliers)
	transactions := append([]procurement.SupplierTransaction(nil), s.transactions...)
	imports := cloneMap(s.imports)
	inspections := cloneMap(s.inspections)
	history := append([]procurement.InspectionHistory(nil), s.history...)
	returns := cloneMap(s.returns)
	s.mu.Unlock()
	if err := fn(ctx, s); err != nil {
		rollbackProducts()
		rollbackStaff()
		s.mu.Lock()
		s.suppliers, s.transactions, s.imports = suppliers, transactions, imports
		s.inspections, s.history, s.returns = inspections, history, returns
		s.mu.Unlock()
		return err
	}
	return nil
}

// GetSupplier implements procurement.RepositoryPort.
func (s *Store) GetSupplier(_ context.Context, id string) (procurement.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sup, ok := s.suppliers[id]
	if !ok {
		return procurement.Supplier{}, procurement.ErrSupplierNotFound
	}
	return sup, nil
}

// ListSuppliers implements procurement.RepositoryPort.
func (s *Store) ListSuppliers(_ context.Context, f procurement.SupplierFilter) ([]procurement.Supplier, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []procurement.Supplier
	for _, sup := range s.suppliers {
		if f.ActiveOnly && !sup.Active {
			continue
		}
		if !shared.MatchesSearch(f.Search, sup.ID, sup.ContactName, sup.Phone, sup.Email, sup.Address) {
			continue
		}
		out = append(out, sup)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

// ListSupplierTransactions implements procurement.RepositoryPort.
func (s *Store) ListSupplierTransactions(_ context.Context, supplierID string, _ shared.PageRequest) ([]procurement.SupplierTransaction, int, error) {
	out := s.Transactions(supplierID)
	return out, len(out), nil
}

// GetImportBill implements procurement.RepositoryPort.
func (s *Store) GetImportBill(ctx context.Context, id string) (procurement.ImportBill, error) {
	b, err := s.LockImportBill(ctx, id)
	if err != nil {
		return procurement.ImportBill{}, err
	}
	return *b, nil
}

func billMatches(f procurement.BillFilter, supplierID, status string, branch inventory.Branch, search ...string) bool {
	switch {
	case f.SupplierID != "" && supplierID != f.SupplierID:
		return false
	case f.Status != "" && status != f.Status:
		return false
	case f.Branch != nil && branch != *f.Branch:
		return false
	}
	return shared.MatchesSearch(f.Search, search...)
}

// ListImportBills implements procurement.RepositoryPort.
func (s *Store) ListImportBills(_ context.Context, f procurement.BillFilter) ([]procurement.ImportBill, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []procurement.ImportBill
	for _, b := range s.imports {
		if !b.Active || !billMatches(f, b.SupplierID, string(b.Status), b.Branch, b.ID, b.SupplierName, b.Note) {
			continue
		}
		out = append(out, cloneImport(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

// GetInspection implements procurement.RepositoryPort.
func (s *Store) GetInspection(ctx context.Context, id string) (procurement.InspectionReport, error) {
	r, err := s.LockInspection(ctx, id)
	if err != nil {
		return procurement.InspectionReport{}, err
	}
	return *r, nil
}

// ListInspections implements procurement.RepositoryPort.
func (s *Store) ListInspections(_ context.Context, f procurement.BillFilter) ([]procurement.InspectionReport, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []procurement.InspectionReport
	for _, r := range s.inspections {
		bill := s.imports[r.ImportBillID]
		if !r.Active || !billMatches(f, bill.SupplierID, string(r.Status), r.Branch, r.ID, r.ImportBillID, r.Note) {
			continue
		}
		out = append(out, cloneInspection(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

// InspectionHistory implements procurement.RepositoryPort.
func (s *Store) InspectionHistory(_ context.Context, reportID string) ([]procurement.InspectionHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []procurement.InspectionHistory{}
	for _, h := range s.history {
		if h.InspectionReportID == reportID {
			out = append(out, h)
		}
	}
	return out, nil
}

// GetReturnBill implements procurement.RepositoryPort.
func (s *Store) GetReturnBill(ctx context.Context, id string) (procurement.ReturnBill, error) {
	b, err := s.LockReturnBill(ctx, id)
	if err != nil {
		return procurement.ReturnBill{}, err
	}
	return *b, nil
}

// ListReturnBills implements procurement.RepositoryPort.
func (s *Store) ListReturnBills(_ context.Context, f procurement.BillFilter) ([]procurement.ReturnBill, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []procurement.ReturnBill
	for _, b := range s.returns {
		if !billMatches(f, b.SupplierID, string(b.Status), b.Branch, b.ID, b.SupplierName, b.Note) {
			continue
		}
		out = append(out, cloneReturn(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

// LockSupplier implements procurement.TxRepository.
func (s *Store) LockSupplier(ctx context.Context, id string) (*procurement.Supplier, error) {
	sup, err := s.GetSupplier(ctx, id)
	if err != nil {
		return nil, err
	}
	return &sup, nil
}

// SupplierConflict implements procurement.TxRepository.
func (s *Store) SupplierConflict(_ context.Context, sup procurement.Supplier, excludeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.suppliers {
		if other.ID == excludeID {
			continue
		}
		switch {
		case strings.EqualFold(other.ContactName, sup.ContactName):
			return procurement.ErrContactNameExists
		case sup.Phone != "" && other.Phone == sup.Phone:
			return procurement.ErrSupplierPhoneExists
		case sup.Email != "" && strings.EqualFold(other.Email, sup.Email):
			return procurement.ErrSupplierEmailExists
		}
	}
	return nil
}

// InsertSupplier implements procurement.TxRepository.
func (s *Store) InsertSupplier(_ context.Context, sup procurement.Supplier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sup.CreatedAt = s.tick()
	sup.UpdatedAt = sup.CreatedAt
	s.suppliers[sup.ID] = sup
	return nil
}

// SaveSupplier implements procurement.TxRepository.
func (s *Store) SaveSupplier(_ context.Context, sup *procurement.Supplier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.suppliers[sup.ID]
	if !ok {
		return procurement.ErrSupplierNotFound
	}
	next := *sup
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = s.tick()
	s.suppliers[sup.ID] = next
	return nil
}

// InsertSupplierTransaction implements procurement.TxRepository.
func (s *Store) InsertSupplierTransaction(_ context.Context, t procurement.SupplierTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.CreatedAt = s.tick()
	s.transactions = append(s.transactions, t)
	return nil
}

// LockImportBill implements procurement.TxRepository.
func (s *Store) LockImportBill(_ context.Context, id string) (*procurement.ImportBill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.imports[id]
	if !ok {
		return nil, procurement.ErrImportBillNotFound
	}
	b = cloneImport(b)
	b.SupplierName = s.suppliers[b.SupplierID].ContactName
	return &b, nil
}

// InsertImportBill implements procurement.TxRepository.
func (s *Store) InsertImportBill(_ context.Context, b procurement.ImportBill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.CreatedAt = s.tick()
	b.UpdatedAt = b.CreatedAt
	s.imports[b.ID] = cloneImport(b)
	return nil
}

// SaveImportBill implements procurement.TxRepository.
func (s *Store) SaveImportBill(_ context.Context, b *procurement.ImportBill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.imports[b.ID]
	if !ok {
		return procurement.ErrImportBillNotFound
	}
	next := cloneImport(*b)
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = s.tick()
	s.imports[b.ID] = next
	return nil
}

// InspectionExists implements procurement.TxRepository.
func (s *Store) InspectionExists(_ context.Context, importBillID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.inspections {
		if r.ImportBillID == importBillID {
			return true, nil
		}
	}
	return false, nil
}

// LockInspection implements procurement.TxRepository.
func (s *Store) LockInspection(_ context.Context, id string) (*procurement.InspectionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.inspections[id]
	if !ok {
		return nil, procurement.ErrInspectionNotFound
	}
	r = cloneInspection(r)
	return &r, nil
}

// InsertInspection implements procurement.TxRepository.
func (s *Store) InsertInspection(_ context.Context, r procurement.InspectionReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.inspections {
		if other.ImportBillID == r.ImportBillID {
			return procurement.ErrInspectionExists
		}
	}
	r.CreatedAt = s.tick()
	r.UpdatedAt = r.CreatedAt
	s.inspections[r.ID] = cloneInspection(r)
	return nil
}

// SaveInspection implements procurement.TxRepository.
func (s *Store) SaveInspection(_ context.Context, r *procurement.InspectionReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.inspections[r.ID]
	if !ok {
		return procurement.ErrInspectionNotFound
	}
	next := cloneInspection(*r)
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = s.tick()
	s.inspections[r.ID] = next
	return nil
}

// InsertInspectionHistory implements procurement.TxRepository.
func (s *Store) InsertInspectionHistory(_ context.Context, h procurement.InspectionHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, h)
	return nil
}

// LockReturnBill implements procurement.TxRepository.
func (s *Store) LockReturnBill(_ context.Context, id string) (*procurement.ReturnBill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.returns[id]
	if !ok {
		return nil, procurement.ErrReturnBillNotFound
	}
	b = cloneReturn(b)
	b.SupplierName = s.suppliers[b.SupplierID].ContactName
	return &b, nil
}

// InsertReturnBill implements procurement.TxRepository.
func (s *Store) InsertReturnBill(_ context.Context, b procurement.ReturnBill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.CreatedAt = s.tick()
	b.UpdatedAt = b.CreatedAt
	s.returns[b.ID] = cloneReturn(b)
	return nil
}

// SaveReturnBill implements procurement.TxRepository.
func (s *Store) SaveReturnBill(_ context.Context, b *procurement.ReturnBill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.returns[b.ID]
	if !ok {
		return procurement.ErrReturnBillNotFound
	}
	next := cloneReturn(*b)
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = s.tick()
	s.returns[b.ID] = next
	return nil
}
