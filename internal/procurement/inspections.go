package procurement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/shared"
	"github.com/lilas/backoffice/internal/users"
)

const noChanges = "Không có thay đổi."

// CreateInspection opens the single inspection report of a received bill.
// Ordered quantities are copied from the bill lines.
func (s *Service) CreateInspection(ctx context.Context, input InspectionInput) (InspectionReport, error) {
	if err := shared.Validate(input); err != nil {
		return InspectionReport{}, err
	}
	if len(input.Items) == 0 {
		return InspectionReport{}, shared.ErrItemsRequired
	}
	if input.UserID == "" {
		input.UserID = shared.ActorFromContext(ctx)
	}
	var report InspectionReport
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := tx.LockImportBill(ctx, input.ImportBillID)
		if err != nil {
			return err
		}
		switch bill.Status {
		case ImportPending:
			return ErrBillNotReceived
		case ImportCanceled:
			return ErrImportBillCanceled
		}
		if _, err := users.RequireActive(ctx, tx, input.UserID); err != nil {
			return err
		}
		exists, err := tx.InspectionExists(ctx, bill.ID)
		if err != nil {
			return err
		}
		if exists {
			return ErrInspectionExists
		}
		report = InspectionReport{
			ImportBillID: bill.ID,
			UserID:       input.UserID,
			Branch:       bill.Branch,
			Note:         input.Note,
			Status:       InspectionChecking,
			Active:       true,
		}
		seen := make(map[string]struct{}, len(input.Items))
		for _, in := range input.Items {
			if _, dup := seen[in.ProductID]; dup {
				return ErrDuplicateProductInBill.WithMessage("product %s appears twice", in.ProductID)
			}
			seen[in.ProductID] = struct{}{}
			line, ok := bill.Item(in.ProductID)
			if !ok {
				return ErrProductNotInBill.WithMessage("product %s is not on import bill %s", in.ProductID, bill.ID)
			}
			report.Items = append(report.Items, InspectionItem{
				ProductID:      line.ProductID,
				ProductName:    line.ProductName,
				Quantity:       line.Quantity,
				ActualQuantity: in.ActualQuantity,
				Reason:         in.Reason,
				Note:           in.Note,
			})
		}
		if report.ID, err = tx.NextCode(ctx, shared.PrefixInspection); err != nil {
			return err
		}
		return tx.InsertInspection(ctx, report)
	})
	if err != nil {
		return InspectionReport{}, err
	}
	s.recordAudit(ctx, "inspection:create", "inspection_report", report.ID, map[string]any{"import_bill_id": report.ImportBillID})
	return report, nil
}

func (r *InspectionReport) itemIndex(productID string) int {
	for i, it := range r.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

// UpdateInspection edits or adds counted lines of a report still being
// checked and appends one history entry summarising the changes.
func (s *Service) UpdateInspection(ctx context.Context, id string, input UpdateInspectionInput) (InspectionReport, error) {
	if err := shared.Validate(input); err != nil {
		return InspectionReport{}, err
	}
	var updated InspectionReport
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		r, err := lockActiveInspection(ctx, tx, id)
		if err != nil {
			return err
		}
		if r.Status != InspectionChecking {
			return ErrInspectionLocked
		}
		if input.Note != nil {
			r.Note = *input.Note
		}
		var (
			changes []string
			bill    *ImportBill
			reason  = input.Reason
		)
		for _, upd := range input.Items {
			if upd.Reason != "" && input.Reason == "" {
				reason = upd.Reason
			}
			if i := r.itemIndex(upd.ProductID); i >= 0 {
				old := r.Items[i]
				next := old
				if upd.ActualQuantity != nil {
					next.ActualQuantity = *upd.ActualQuantity
				}
				if upd.Reason != "" {
					next.Reason = upd.Reason
				}
				if upd.Note != "" {
					next.Note = upd.Note
				}
				if next != old {
					r.Items[i] = next
					changes = append(changes, fmt.Sprintf("SP %s: SL %d -> %d, note='%s'",
						next.ProductID, old.ActualQuantity, next.ActualQuantity, next.Note))
				}
				continue
			}
			if bill == nil {
				if bill, err = tx.LockImportBill(ctx, r.ImportBillID); err != nil {
					return err
				}
			}
			line, ok := bill.Item(upd.ProductID)
			if !ok {
				return ErrProductNotInBill.WithMessage("product %s is not on import bill %s", upd.ProductID, bill.ID)
			}
			added := InspectionItem{
				ProductID:      line.ProductID,
				ProductName:    line.ProductName,
				Quantity:       line.Quantity,
				ActualQuantity: line.Quantity,
				Reason:         upd.Reason,
				Note:           upd.Note,
			}
			if upd.ActualQuantity != nil {
				added.ActualQuantity = *upd.ActualQuantity
			}
			r.Items = append(r.Items, added)
			changes = append(changes, fmt.Sprintf("Thêm SP %s: SL %d, note='%s'", added.ProductID, added.ActualQuantity, added.Note))
		}
		summary := noChanges
		if len(changes) > 0 {
			summary = strings.Join(changes, "\n")
		}
		author := shared.ActorFromContext(ctx)
		if author == "" {
			author = r.UserID
		}
		if err := tx.SaveInspection(ctx, r); err != nil {
			return err
		}
		updated = *r
		return tx.InsertInspectionHistory(ctx, InspectionHistory{
			ID:                 uuid.NewString(),
			InspectionReportID: r.ID,
			UserID:             author,
			Reason:             reason,
			Note:               summary,
			CreatedAt:          time.Now().UTC(),
		})
	})
	if err != nil {
		return InspectionReport{}, err
	}
	s.recordAudit(ctx, "inspection:update", "inspection_report", id, nil)
	return updated, nil
}

func lockActiveInspection(ctx context.Context, tx TxRepository, id string) (*InspectionReport, error) {
	r, err := tx.LockInspection(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.Active {
		return nil, ErrInspectionNotFound.WithMessage("inspection report %s is inactive", id)
	}
	return r, nil
}

// CompleteInspection receives the counted quantities into stock at the
// report branch and settles the bill status against what was paid.
func (s *Service) CompleteInspection(ctx context.Context, id string) (InspectionReport, error) {
	var completed InspectionReport
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		r, err := lockActiveInspection(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := InspectionFlow.Transition(r.Status, InspectionChecked); err != nil {
			return err
		}
		ledger := inventory.NewLedger(tx)
		for _, it := range r.Items {
			qty := it.ActualQuantity
			if err := ledger.Apply(ctx, it.ProductID, func(p *inventory.Product) error {
				return p.Receive(r.Branch, qty)
			}); err != nil {
				return err
			}
		}
		if err := ledger.Flush(ctx); err != nil {
			return err
		}
		bill, err := tx.LockImportBill(ctx, r.ImportBillID)
		if err != nil {
			return err
		}
		if next := bill.receivedStatus(); ImportFlow.Can(bill.Status, next) {
			bill.Status = next
			if err := tx.SaveImportBill(ctx, bill); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		r.Status = InspectionChecked
		r.CompleteAt = &now
		completed = *r
		return tx.SaveInspection(ctx, r)
	})
	if err != nil {
		return InspectionReport{}, err
	}
	s.recordAudit(ctx, "inspection:complete", "inspection_report", id, nil)
	return completed, nil
}

// GetInspection returns one inspection report with its lines.
func (s *Service) GetInspection(ctx context.Context, id string) (InspectionReport, error) {
	return s.repo.GetInspection(ctx, id)
}

// ListInspections returns a page of active inspection reports, newest first.
func (s *Service) ListInspections(ctx context.Context, filter BillFilter) ([]InspectionReport, int, error) {
	return s.repo.ListInspections(ctx, filter)
}

// InspectionHistory returns the edit log of a report, oldest first.
func (s *Service) InspectionHistory(ctx context.Context, id string) ([]InspectionHistory, error) {
	return s.repo.InspectionHistory(ctx, id)
}
