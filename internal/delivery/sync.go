package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"

	"github.com/lilas/backoffice/internal/sales"
	"github.com/lilas/backoffice/internal/shared"
)

// Sync outcomes reported per delivery.
const (
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
)

// ErrSyncInProgress is returned when another worker holds the sweep lock.
var ErrSyncInProgress = shared.NewError(shared.ErrConflict, "SYNC_IN_PROGRESS", "delivery sync already running")

// SyncRecorder receives per-delivery outcomes.
type SyncRecorder interface {
	SyncOutcome(outcome string, count int)
}

// SyncReport summarises one sweep.
type SyncReport struct {
	Checked   int `json:"checked"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// SyncService polls the carrier for every open delivery and mirrors the
// result onto the delivery and its invoice.
type SyncService struct {
	repo     RepositoryPort
	carrier  Carrier
	locker   *redislock.Client
	lockTTL  time.Duration
	logger   *slog.Logger
	recorder SyncRecorder
	notifier sales.ChangeNotifier
}

// NewSyncService builds the sweep. A nil locker runs without the
// distributed guard.
func NewSyncService(repo RepositoryPort, carrier Carrier, locker *redislock.Client, lockTTL time.Duration, logger *slog.Logger) *SyncService {
	if logger == nil {
		logger = slog.Default()
	}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &SyncService{repo: repo, carrier: carrier, locker: locker, lockTTL: lockTTL, logger: logger}
}

// WithRecorder registers an outcome sink.
func (s *SyncService) WithRecorder(r SyncRecorder) *SyncService {
	s.recorder = r
	return s
}

// WithNotifier registers a listener for invoice changes.
func (s *SyncService) WithNotifier(n sales.ChangeNotifier) *SyncService {
	s.notifier = n
	return s
}

// Sweep reconciles every delivery that is not cancelled or returned. A
// failing delivery is logged and skipped; only listing and locking errors
// abort the sweep.
func (s *SyncService) Sweep(ctx context.Context) (SyncReport, error) {
	var report SyncReport
	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, shared.DeliverySyncLockKey, s.lockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return report, ErrSyncInProgress
		}
		if err != nil {
			return report, err
		}
		defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()
	}

	pending, err := s.repo.PendingDeliveries(ctx)
	if err != nil {
		return report, err
	}
	for _, d := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		changed, err := s.syncOne(ctx, d)
		switch {
		case err != nil:
			report.Failed++
			s.logger.ErrorContext(ctx, "delivery sync failed",
				slog.String("order_code", d.OrderCode),
				slog.String("invoice_id", d.InvoiceID),
				slog.Any("error", err))
		case changed:
			report.Updated++
		default:
			report.Unchanged++
		}
	}
	s.record(report)
	if report.Updated > 0 && s.notifier != nil {
		s.notifier.InvoicesChanged(ctx)
	}
	s.logger.InfoContext(ctx, "delivery sync finished",
		slog.Int("checked", report.Checked),
		slog.Int("updated", report.Updated),
		slog.Int("failed", report.Failed))
	return report, nil
}

func (s *SyncService) syncOne(ctx context.Context, pending Delivery) (bool, error) {
	detail, err := s.carrier.OrderDetail(ctx, pending.ShopID, pending.OrderCode)
	if err != nil {
		return false, err
	}
	if detail.Status == "" {
		return false, ErrCarrierMalformed.WithMessage("no status for order %s", pending.OrderCode)
	}
	changed := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		changed = false
		d, err := tx.LockDelivery(ctx, pending.OrderCode)
		if err != nil {
			return err
		}
		if d.Status != detail.Status {
			d.Status = detail.Status
			changed = true
		}
		moved, err := s.applyToInvoice(ctx, tx, d)
		if err != nil {
			return err
		}
		if moved {
			changed = true
		}
		if !changed {
			return nil
		}
		return tx.SaveDelivery(ctx, d)
	})
	return changed, err
}

// applyToInvoice moves the open invoice behind d to the mapped status.
// Unknown carrier statuses and moves the invoice flow forbids leave the
// invoice alone.
func (s *SyncService) applyToInvoice(ctx context.Context, tx TxRepository, d *Delivery) (bool, error) {
	to, known := InvoiceStatusFor(d.Status)
	if !known {
		s.logger.WarnContext(ctx, "unknown carrier status", slog.String("order_code", d.OrderCode), slog.String("status", d.Status))
		return false, nil
	}
	inv, err := tx.LockInvoice(ctx, d.InvoiceID)
	if err != nil {
		return false, err
	}
	if !inv.Active {
		return false, nil
	}
	moved, err := sales.ApplyCarrierStatus(ctx, tx, inv, to)
	if errors.Is(err, sales.ErrInvoiceStatusTransition) {
		s.logger.WarnContext(ctx, "carrier status ignored", slog.String("order_code", d.OrderCode), slog.Any("error", err))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if moved && to == sales.InvoiceDelivered {
		d.PaymentStatus = string(sales.PaymentPaid)
	}
	return moved, nil
}

func (s *SyncService) record(r SyncReport) {
	if s.recorder == nil {
		return
	}
	s.recorder.SyncOutcome(OutcomeUpdated, r.Updated)
	s.recorder.SyncOutcome(OutcomeUnchanged, r.Unchanged)
	s.recorder.SyncOutcome(OutcomeFailed, r.Failed)
}
