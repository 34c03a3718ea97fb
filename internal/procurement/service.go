package procurement

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSupplier(ctx context.Context, id string) (Supplier, error)
	ListSuppliers(ctx context.Context, filter SupplierFilter) ([]Supplier, int, error)
	ListSupplierTransactions(ctx context.Context, supplierID string, page shared.PageRequest) ([]SupplierTransaction, int, error)
	GetImportBill(ctx context.Context, id string) (ImportBill, error)
	ListImportBills(ctx context.Context, filter BillFilter) ([]ImportBill, int, error)
	GetInspection(ctx context.Context, id string) (InspectionReport, error)
	ListInspections(ctx context.Context, filter BillFilter) ([]InspectionReport, int, error)
	InspectionHistory(ctx context.Context, reportID string) ([]InspectionHistory, error)
	GetReturnBill(ctx context.Context, id string) (ReturnBill, error)
	ListReturnBills(ctx context.Context, filter BillFilter) ([]ReturnBill, int, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates suppliers, import bills, inspections and returns.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreateSupplier registers a supplier under the next NCC code.
func (s *Service) CreateSupplier(ctx context.Context, input SupplierInput) (Supplier, error) {
	input = trimSupplier(input)
	if err := shared.Validate(input); err != nil {
		return Supplier{}, err
	}
	sup := Supplier{
		ContactName:      input.ContactName,
		Address:          input.Address,
		Email:            input.Email,
		Phone:            input.Phone,
		Debt:             decimal.Zero,
		TotalImportValue: decimal.Zero,
		TotalReturnValue: decimal.Zero,
		Active:           true,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SupplierConflict(ctx, sup, ""); err != nil {
			return err
		}
		id, err := tx.NextCode(ctx, shared.PrefixSupplier)
		if err != nil {
			return err
		}
		sup.ID = id
		return tx.InsertSupplier(ctx, sup)
	})
	if err != nil {
		return Supplier{}, err
	}
	s.recordAudit(ctx, "supplier:create", "supplier", sup.ID, map[string]any{"contact_name": sup.ContactName})
	return sup, nil
}

func trimSupplier(in SupplierInput) SupplierInput {
	in.ContactName = strings.TrimSpace(in.ContactName)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	return in
}

// UpdateSupplier replaces contact details. Balances are kept.
func (s *Service) UpdateSupplier(ctx context.Context, id string, input SupplierInput) (Supplier, error) {
	input = trimSupplier(input)
	if err := shared.Validate(input); err != nil {
		return Supplier{}, err
	}
	var updated Supplier
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sup, err := tx.LockSupplier(ctx, id)
		if err != nil {
			return err
		}
		sup.ContactName = input.ContactName
		sup.Address = input.Address
		sup.Email = input.Email
		sup.Phone = input.Phone
		if err := tx.SupplierConflict(ctx, *sup, id); err != nil {
			return err
		}
		updated = *sup
		return tx.SaveSupplier(ctx, sup)
	})
	if err != nil {
		return Supplier{}, err
	}
	s.recordAudit(ctx, "supplier:update", "supplier", id, nil)
	return updated, nil
}

// DeactivateSupplier hides a supplier from new bills.
func (s *Service) DeactivateSupplier(ctx context.Context, id string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sup, err := tx.LockSupplier(ctx, id)
		if err != nil {
			return err
		}
		sup.Active = false
		return tx.SaveSupplier(ctx, sup)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "supplier:deactivate", "supplier", id, nil)
	return nil
}

// GetSupplier returns one supplier.
func (s *Service) GetSupplier(ctx context.Context, id string) (Supplier, error) {
	return s.repo.GetSupplier(ctx, id)
}

// ListSuppliers returns a filtered page of suppliers.
func (s *Service) ListSuppliers(ctx context.Context, filter SupplierFilter) ([]Supplier, int, error) {
	return s.repo.ListSuppliers(ctx, filter)
}

// PaySupplier records a payment to a supplier outside any import bill.
func (s *Service) PaySupplier(ctx context.Context, id string, amount decimal.Decimal) (SupplierTransaction, error) {
	if !amount.IsPositive() {
		return SupplierTransaction{}, shared.ErrInvalidAmount
	}
	var paid SupplierTransaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sup, err := tx.LockSupplier(ctx, id)
		if err != nil {
			return err
		}
		sup.Debt = sup.Debt.Sub(amount)
		paid = SupplierTransaction{
			ID:         uuid.NewString(),
			SupplierID: sup.ID,
			Amount:     amount,
			Note:       fmt.Sprintf("Thanh toán tự do %s", amount.String()),
		}
		if err := tx.InsertSupplierTransaction(ctx, paid); err != nil {
			return err
		}
		return tx.SaveSupplier(ctx, sup)
	})
	if err != nil {
		return SupplierTransaction{}, err
	}
	s.recordAudit(ctx, "supplier:pay_amount", "supplier", id, map[string]any{"amount": amount.String()})
	return paid, nil
}

// ListSupplierTransactions returns a page of payments to one supplier.
func (s *Service) ListSupplierTransactions(ctx context.Context, supplierID string, page shared.PageRequest) ([]SupplierTransaction, int, error) {
	return s.repo.ListSupplierTransactions(ctx, supplierID, page)
}

// requireSupplier locks id and fails unless it is active.
func requireSupplier(ctx context.Context, tx TxRepository, id string) (*Supplier, error) {
	sup, err := tx.LockSupplier(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sup.Active {
		return nil, ErrSupplierNotFound.WithMessage("supplier %s is inactive", id)
	}
	return sup, nil
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
