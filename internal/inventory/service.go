package inventory

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/shared"
	"github.com/lilas/backoffice/internal/users"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id string) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error)
	ListGroups(ctx context.Context) ([]Group, error)
	GetTransfer(ctx context.Context, id string) (Transfer, error)
	ListTransfers(ctx context.Context, filter TransferFilter) ([]Transfer, int, error)
	InventoryValue(ctx context.Context, branch *Branch) (InventoryValue, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates the product master and inter-branch transfers.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreateProduct registers a product under the next SP code. Initial stock is
// both physical and sellable.
func (s *Service) CreateProduct(ctx context.Context, input CreateProductInput) (Product, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := shared.Validate(input); err != nil {
		return Product{}, err
	}
	p := Product{
		Name:           input.Name,
		Description:    input.Description,
		Brand:          input.Brand,
		Barcode:        input.Barcode,
		GroupName:      strings.TrimSpace(input.GroupName),
		Weight:         input.Weight,
		Length:         input.Length,
		Width:          input.Width,
		Height:         input.Height,
		PriceImport:    input.PriceImport,
		PriceRetail:    input.PriceRetail,
		PriceWholesale: input.PriceWholesale,
		DryStock:       input.DryStock == nil || *input.DryStock,
		Active:         true,
	}
	for _, seed := range input.Stock {
		b, err := ParseBranch(seed.Branch)
		if err != nil {
			return Product{}, err
		}
		p.Levels[b].Stock += seed.Quantity
		p.Levels[b].CanSell += seed.Quantity
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := checkProduct(ctx, tx, p); err != nil {
			return err
		}
		id, err := tx.NextCode(ctx, shared.PrefixProduct)
		if err != nil {
			return err
		}
		p.ID = id
		return tx.InsertProduct(ctx, p)
	})
	if err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, "product:create", "product", p.ID, map[string]any{"name": p.Name})
	return p, nil
}

// UpdateProduct applies descriptive and price changes.
func (s *Service) UpdateProduct(ctx context.Context, id string, input UpdateProductInput) (Product, error) {
	if err := shared.Validate(input); err != nil {
		return Product{}, err
	}
	var updated Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		if !p.Active {
			return ErrProductNotFound.WithMessage("product %s is inactive", id)
		}
		applyProductUpdate(p, input)
		if err := checkProduct(ctx, tx, *p); err != nil {
			return err
		}
		updated = *p
		return tx.UpdateProductInfo(ctx, updated)
	})
	if err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, "product:update", "product", id, nil)
	return updated, nil
}

func applyProductUpdate(p *Product, in UpdateProductInput) {
	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Brand != nil {
		p.Brand = *in.Brand
	}
	if in.Barcode != nil {
		p.Barcode = *in.Barcode
	}
	if in.GroupName != nil {
		p.GroupName = strings.TrimSpace(*in.GroupName)
	}
	if in.Weight != nil {
		p.Weight = *in.Weight
	}
	if in.Length != nil {
		p.Length = *in.Length
	}
	if in.Width != nil {
		p.Width = *in.Width
	}
	if in.Height != nil {
		p.Height = *in.Height
	}
	if in.PriceRetail != nil {
		p.PriceRetail = *in.PriceRetail
	}
	if in.PriceWholesale != nil {
		p.PriceWholesale = *in.PriceWholesale
	}
	if in.DryStock != nil {
		p.DryStock = *in.DryStock
	}
}

func checkProduct(ctx context.Context, tx TxRepository, p Product) error {
	exists, err := tx.ProductNameExists(ctx, p.Name, p.ID)
	if err != nil {
		return err
	}
	if exists {
		return ErrProductNameExists
	}
	if p.GroupName == "" {
		return nil
	}
	ok, err := tx.GroupExists(ctx, p.GroupName)
	if err != nil {
		return err
	}
	if !ok {
		return ErrGroupNotFound.WithMessage("product group %q not found", p.GroupName)
	}
	return nil
}

// SetProductActive deactivates or reactivates a product.
func (s *Service) SetProductActive(ctx context.Context, id string, active bool) (Product, error) {
	var updated Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		p.Active = active
		updated = *p
		return tx.UpdateProductInfo(ctx, updated)
	})
	if err != nil {
		return Product{}, err
	}
	action := "product:deactivate"
	if active {
		action = "product:activate"
	}
	s.recordAudit(ctx, action, "product", id, nil)
	return updated, nil
}

// GetProduct returns one product.
func (s *Service) GetProduct(ctx context.Context, id string) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListProducts returns a filtered page of products.
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error) {
	return s.repo.ListProducts(ctx, filter)
}

// CreateGroup adds a product group with a case-insensitively unique name.
func (s *Service) CreateGroup(ctx context.Context, input GroupInput) (Group, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := shared.Validate(input); err != nil {
		return Group{}, err
	}
	g := Group{Name: input.Name, Description: input.Description}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.GroupExists(ctx, g.Name)
		if err != nil {
			return err
		}
		if exists {
			return ErrGroupExists
		}
		return tx.InsertGroup(ctx, g)
	})
	if err != nil {
		return Group{}, err
	}
	return g, nil
}

// ListGroups returns every product group.
func (s *Service) ListGroups(ctx context.Context) ([]Group, error) {
	return s.repo.ListGroups(ctx)
}

// DeleteGroup removes a group and moves its products to the default group.
func (s *Service) DeleteGroup(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, DefaultGroupName) {
		return ErrDefaultGroup
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteGroup(ctx, name, DefaultGroupName)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "product_group:delete", "product_group", name, nil)
	return nil
}

// InventoryValue values stock for the branch named by warehouse, or all
// branches when it is empty.
func (s *Service) InventoryValue(ctx context.Context, warehouse string) (InventoryValue, error) {
	if warehouse == "" {
		return s.repo.InventoryValue(ctx, nil)
	}
	b, err := ParseBranch(warehouse)
	if err != nil {
		return InventoryValue{}, err
	}
	return s.repo.InventoryValue(ctx, &b)
}

type transferPlan struct {
	from, to Branch
	extraFee decimal.Decimal
	items    []TransferItem
	quantity int
}

func planTransfer(input TransferInput) (transferPlan, error) {
	if err := shared.Validate(input); err != nil {
		return transferPlan{}, err
	}
	from, err := ParseBranch(input.From)
	if err != nil {
		return transferPlan{}, err
	}
	to, err := ParseBranch(input.To)
	if err != nil {
		return transferPlan{}, err
	}
	if from == to {
		return transferPlan{}, ErrSameWarehouse
	}
	if input.ExtraFee.IsNegative() {
		return transferPlan{}, ErrInvalidExtraFee
	}
	plan := transferPlan{from: from, to: to, extraFee: input.ExtraFee}
	for _, it := range input.Items {
		if it.Quantity <= 0 {
			return transferPlan{}, shared.ErrInvalidQuantity
		}
		plan.items = append(plan.items, TransferItem{ProductID: it.ProductID, Quantity: it.Quantity})
		plan.quantity += it.Quantity
	}
	return plan, nil
}

// startItems reserves every line at the source branch and fills product names.
func startItems(ctx context.Context, ledger *Ledger, from Branch, items []TransferItem) error {
	for i := range items {
		p, err := ledger.Product(ctx, items[i].ProductID)
		if err != nil {
			return err
		}
		if err := p.StartTransfer(from, items[i].Quantity); err != nil {
			return err
		}
		items[i].ProductName = p.Name
	}
	return nil
}

func revertItems(ctx context.Context, ledger *Ledger, from Branch, items []TransferItem) error {
	for _, it := range items {
		err := ledger.Apply(ctx, it.ProductID, func(p *Product) error {
			return p.RevertTransfer(from, it.Quantity)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// CreateTransfer opens a transfer and reserves the goods at the source branch.
func (s *Service) CreateTransfer(ctx context.Context, input TransferInput) (Transfer, error) {
	plan, err := planTransfer(input)
	if err != nil {
		return Transfer{}, err
	}
	var created Transfer
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := users.RequireActive(ctx, tx, input.UserID); err != nil {
			return err
		}
		ledger := NewLedger(tx)
		if err := startItems(ctx, ledger, plan.from, plan.items); err != nil {
			return err
		}
		if err := ledger.Flush(ctx); err != nil {
			return err
		}
		id, err := tx.NextCode(ctx, shared.PrefixTransfer)
		if err != nil {
			return err
		}
		created = Transfer{
			ID:       id,
			From:     plan.from,
			To:       plan.to,
			UserID:   input.UserID,
			Quantity: plan.quantity,
			ExtraFee: plan.extraFee,
			Status:   TransferReadyToPick,
			Note:     input.Note,
			Active:   true,
			Items:    plan.items,
		}
		return tx.InsertTransfer(ctx, created)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, "transfer:create", "transfer", created.ID, map[string]any{"quantity": created.Quantity})
	return created, nil
}

// UpdateTransfer reverts the old reservation and applies the new lines. Only
// transfers still waiting for pickup can change.
func (s *Service) UpdateTransfer(ctx context.Context, id string, input TransferInput) (Transfer, error) {
	plan, err := planTransfer(input)
	if err != nil {
		return Transfer{}, err
	}
	var updated Transfer
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := lockActiveTransfer(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Status != TransferReadyToPick {
			return ErrTransferDelivering.WithMessage("transfer %s is %s", id, t.Status)
		}
		if _, err := users.RequireActive(ctx, tx, input.UserID); err != nil {
			return err
		}
		ledger := NewLedger(tx)
		if err := revertItems(ctx, ledger, t.From, t.Items); err != nil {
			return err
		}
		if err := startItems(ctx, ledger, plan.from, plan.items); err != nil {
			return err
		}
		if err := ledger.Flush(ctx); err != nil {
			return err
		}
		t.From, t.To = plan.from, plan.to
		t.UserID = input.UserID
		t.ExtraFee = plan.extraFee
		t.Note = input.Note
		t.Items = plan.items
		t.Quantity = plan.quantity
		updated = t
		return tx.UpdateTransfer(ctx, t)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, "transfer:update", "transfer", id, nil)
	return updated, nil
}

// DispatchTransfer marks a transfer as on its way.
func (s *Service) DispatchTransfer(ctx context.Context, id string) (Transfer, error) {
	return s.moveTransfer(ctx, id, TransferDelivering, nil)
}

// CompleteTransfer books the goods into the destination branch.
func (s *Service) CompleteTransfer(ctx context.Context, id string) (Transfer, error) {
	return s.moveTransfer(ctx, id, TransferDelivered, func(ctx context.Context, ledger *Ledger, t Transfer) error {
		for _, it := range t.Items {
			err := ledger.Apply(ctx, it.ProductID, func(p *Product) error {
				return p.CompleteTransfer(t.From, t.To, it.Quantity)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// CancelTransfer releases the reservation of a transfer not yet dispatched.
func (s *Service) CancelTransfer(ctx context.Context, id string) (Transfer, error) {
	return s.moveTransfer(ctx, id, TransferCancelled, func(ctx context.Context, ledger *Ledger, t Transfer) error {
		return revertItems(ctx, ledger, t.From, t.Items)
	})
}

func (s *Service) moveTransfer(ctx context.Context, id string, to TransferStatus, effect func(context.Context, *Ledger, Transfer) error) (Transfer, error) {
	var moved Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := lockActiveTransfer(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Status == TransferDelivering && to == TransferCancelled {
			return ErrTransferDelivering
		}
		if err := TransferFlow.Transition(t.Status, to); err != nil {
			return err
		}
		if effect != nil {
			ledger := NewLedger(tx)
			if err := effect(ctx, ledger, t); err != nil {
				return err
			}
			if err := ledger.Flush(ctx); err != nil {
				return err
			}
		}
		t.Status = to
		if to == TransferCancelled {
			t.Active = false
		}
		moved = t
		return tx.UpdateTransfer(ctx, t)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, "transfer:"+string(to), "transfer", id, nil)
	return moved, nil
}

func lockActiveTransfer(ctx context.Context, tx TxRepository, id string) (Transfer, error) {
	t, err := tx.LockTransfer(ctx, id)
	if err != nil {
		return Transfer{}, err
	}
	if !t.Active {
		return Transfer{}, ErrTransferNotFound
	}
	return t, nil
}

// GetTransfer returns one transfer.
func (s *Service) GetTransfer(ctx context.Context, id string) (Transfer, error) {
	return s.repo.GetTransfer(ctx, id)
}

// ListTransfers returns a filtered page of transfers.
func (s *Service) ListTransfers(ctx context.Context, filter TransferFilter) ([]Transfer, int, error) {
	return s.repo.ListTransfers(ctx, filter)
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
