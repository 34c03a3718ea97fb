package sales

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCustomer(ctx context.Context, id string) (Customer, error)
	ListCustomers(ctx context.Context, filter CustomerFilter) ([]Customer, int, error)
	TopCustomers(ctx context.Context, limit int) ([]Customer, error)
	ListGroups(ctx context.Context) ([]Group, error)
	GetGroup(ctx context.Context, id int64) (Group, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error)
	GetInvoice(ctx context.Context, id string) (Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ChangeNotifier is told when invoice money or status changed, so cached
// reports can be invalidated.
type ChangeNotifier interface {
	InvoicesChanged(ctx context.Context)
}

// Service coordinates customers, their ledger and invoices.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	notifier ChangeNotifier
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// WithNotifier registers a listener for invoice changes.
func (s *Service) WithNotifier(n ChangeNotifier) *Service {
	s.notifier = n
	return s
}

// CreateCustomer registers a customer under the next KH code.
func (s *Service) CreateCustomer(ctx context.Context, input CustomerInput) (Customer, error) {
	input.FullName = strings.TrimSpace(input.FullName)
	if err := shared.Validate(input); err != nil {
		return Customer{}, err
	}
	var created Customer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		group, err := resolveCustomerGroup(ctx, tx, input)
		if err != nil {
			return err
		}
		if err := tx.CustomerConflict(ctx, input.Phone, input.Email, ""); err != nil {
			return err
		}
		id, err := tx.NextCode(ctx, shared.PrefixCustomer)
		if err != nil {
			return err
		}
		created = customerFromInput(input)
		created.ID = id
		created.GroupID = group.ID
		created.GroupName = group.Name
		created.PriceTier = group.PriceTier
		created.Active = true
		return tx.InsertCustomer(ctx, created)
	})
	if err != nil {
		return Customer{}, err
	}
	s.recordAudit(ctx, "customer:create", "customer", created.ID, map[string]any{"full_name": created.FullName})
	return created, nil
}

// resolveCustomerGroup picks the group of a new or edited customer and keeps
// the walk-in name and the walk-in group paired. The seeded walk-in customer
// is the only member of its group, so no other customer may take the name.
func resolveCustomerGroup(ctx context.Context, tx TxRepository, input CustomerInput) (*Group, error) {
	var (
		group *Group
		err   error
	)
	if input.GroupID > 0 {
		group, err = tx.LockGroup(ctx, input.GroupID)
	} else {
		group, err = tx.GroupByName(ctx, DefaultGroupName)
		if err == nil && group == nil {
			err = ErrGroupNotFound.WithMessage("default group %q missing", DefaultGroupName)
		}
	}
	if err != nil {
		return nil, err
	}
	walkInGroup := group.Name == WalkInName
	walkInName := input.FullName == WalkInName
	switch {
	case walkInGroup && !walkInName:
		return nil, ErrWalkInGroupOnly
	case walkInName && !walkInGroup:
		return nil, ErrWalkInGroupRequired
	case walkInName:
		return nil, ErrWalkInCustomerExists
	}
	return group, nil
}

func customerFromInput(in CustomerInput) Customer {
	return Customer{
		FullName:            in.FullName,
		Phone:               strings.TrimSpace(in.Phone),
		Email:               strings.TrimSpace(in.Email),
		Address:             in.Address,
		DateOfBirth:         in.DateOfBirth,
		Province:            in.Province,
		DistrictID:          in.DistrictID,
		DistrictName:        in.DistrictName,
		WardCode:            in.WardCode,
		WardName:            in.WardName,
		Debt:                decimal.Zero,
		TotalSpending:       decimal.Zero,
		TotalReturnSpending: decimal.Zero,
	}
}

// UpdateCustomer replaces a customer's contact details and group. The
// walk-in customer cannot change.
func (s *Service) UpdateCustomer(ctx context.Context, id string, input CustomerInput) (Customer, error) {
	input.FullName = strings.TrimSpace(input.FullName)
	if err := shared.Validate(input); err != nil {
		return Customer{}, err
	}
	var updated Customer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.LockCustomer(ctx, id)
		if err != nil {
			return err
		}
		if cur.WalkIn() {
			return ErrWalkInCustomerLocked
		}
		if input.GroupID == 0 {
			input.GroupID = cur.GroupID
		}
		group, err := resolveCustomerGroup(ctx, tx, input)
		if err != nil {
			return err
		}
		if err := tx.CustomerConflict(ctx, input.Phone, input.Email, id); err != nil {
			return err
		}
		next := customerFromInput(input)
		next.ID = cur.ID
		next.GroupID = group.ID
		next.GroupName = group.Name
		next.PriceTier = group.PriceTier
		next.Active = cur.Active
		next.Debt = cur.Debt
		next.TotalSpending = cur.TotalSpending
		next.TotalOrder = cur.TotalOrder
		next.TotalReturnSpending = cur.TotalReturnSpending
		next.TotalReturnOrders = cur.TotalReturnOrders
		next.CreatedAt = cur.CreatedAt
		updated = next
		return tx.UpdateCustomer(ctx, next)
	})
	if err != nil {
		return Customer{}, err
	}
	s.recordAudit(ctx, "customer:update", "customer", id, nil)
	return updated, nil
}

// DeactivateCustomer hides a customer from new sales.
func (s *Service) DeactivateCustomer(ctx context.Context, id string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.LockCustomer(ctx, id)
		if err != nil {
			return err
		}
		if c.WalkIn() {
			return ErrWalkInCustomerLocked
		}
		c.Active = false
		return tx.UpdateCustomer(ctx, *c)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "customer:deactivate", "customer", id, nil)
	return nil
}

// GetCustomer returns one customer.
func (s *Service) GetCustomer(ctx context.Context, id string) (Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// ListCustomers returns a filtered page of customers.
func (s *Service) ListCustomers(ctx context.Context, filter CustomerFilter) ([]Customer, int, error) {
	return s.repo.ListCustomers(ctx, filter)
}

// TopCustomers returns the biggest spenders, ten by default.
func (s *Service) TopCustomers(ctx context.Context, limit int) ([]Customer, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.repo.TopCustomers(ctx, limit)
}

// PayAmount settles part of a customer's debt outside any invoice.
func (s *Service) PayAmount(ctx context.Context, customerID string, amount decimal.Decimal) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, shared.ErrInvalidAmount
	}
	var paid Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.LockCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(c.Debt) {
			return shared.ErrAmountGreaterThanDebt
		}
		c.Debt = c.Debt.Sub(amount)
		paid = Transaction{
			ID:         uuid.NewString(),
			CustomerID: c.ID,
			Type:       TxPayment,
			Amount:     amount,
			Note:       fmt.Sprintf("Thanh toán tự do %s cho khách hàng %s", amount.String(), c.FullName),
		}
		if err := tx.InsertTransaction(ctx, paid); err != nil {
			return err
		}
		return tx.SaveCustomer(ctx, c)
	})
	if err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, "customer:pay_amount", "customer", customerID, map[string]any{"amount": amount.String()})
	return paid, nil
}

// ListTransactions returns a page of customer ledger rows.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error) {
	return s.repo.ListTransactions(ctx, filter)
}

// CreateGroup adds a customer group with a case-insensitively unique name.
func (s *Service) CreateGroup(ctx context.Context, input GroupInput) (Group, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := shared.Validate(input); err != nil {
		return Group{}, err
	}
	g := groupFromInput(input)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GroupByName(ctx, g.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrGroupExists
		}
		return tx.InsertGroup(ctx, &g)
	})
	if err != nil {
		return Group{}, err
	}
	return g, nil
}

func groupFromInput(in GroupInput) Group {
	g := Group{
		Name:          in.Name,
		Description:   in.Description,
		PriceTier:     in.PriceTier,
		DiscountType:  in.DiscountType,
		Discount:      in.Discount,
		TotalSpending: decimal.Zero,
	}
	if g.PriceTier == "" {
		g.PriceTier = TierRetail
	}
	if g.DiscountType == "" {
		g.DiscountType = "percent"
	}
	return g
}

// UpdateGroup replaces a group's settings. The walk-in group cannot change
// and the default group cannot be renamed.
func (s *Service) UpdateGroup(ctx context.Context, id int64, input GroupInput) (Group, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := shared.Validate(input); err != nil {
		return Group{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.LockGroup(ctx, id)
		if err != nil {
			return err
		}
		if cur.Name == WalkInName {
			return ErrWalkInGroupLocked
		}
		if cur.Name == DefaultGroupName && input.Name != DefaultGroupName {
			return ErrDefaultGroup.WithMessage("group %q keeps its name", DefaultGroupName)
		}
		same, err := tx.GroupByName(ctx, input.Name)
		if err != nil {
			return err
		}
		if same != nil && same.ID != id {
			return ErrGroupExists
		}
		next := groupFromInput(input)
		next.ID = id
		return tx.UpdateGroup(ctx, next)
	})
	if err != nil {
		return Group{}, err
	}
	return s.repo.GetGroup(ctx, id)
}

// DeleteGroup removes a group and moves its customers to the default group.
func (s *Service) DeleteGroup(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		fallback, err := tx.GroupByName(ctx, DefaultGroupName)
		if err != nil {
			return err
		}
		if fallback == nil {
			return ErrGroupNotFound.WithMessage("default group %q missing", DefaultGroupName)
		}
		if fallback.ID == id {
			return ErrDefaultGroup
		}
		g, err := tx.LockGroup(ctx, id)
		if err != nil {
			return err
		}
		if g.Name == WalkInName {
			return ErrWalkInGroupLocked
		}
		return tx.DeleteGroup(ctx, id, fallback.ID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "customer_group:delete", "customer_group", fmt.Sprint(id), nil)
	return nil
}

// ListGroups returns every customer group.
func (s *Service) ListGroups(ctx context.Context) ([]Group, error) {
	return s.repo.ListGroups(ctx)
}

// GetGroup returns one customer group.
func (s *Service) GetGroup(ctx context.Context, id int64) (Group, error) {
	return s.repo.GetGroup(ctx, id)
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
