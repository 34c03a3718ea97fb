package reporting

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/lilas/backoffice/internal/inventory"
)

// Service assembles dashboards from aggregate rows and caches them.
type Service struct {
	repo   Repository
	stock  StockValuer
	cache  *Cache
	loc    *time.Location
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewService wires the reporting service. cache may be nil.
func NewService(repo Repository, stock StockValuer, cache *Cache, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stock: stock, cache: cache, loc: loc, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RevenueSummary reports paid and outstanding revenue for days.
func (s *Service) RevenueSummary(ctx context.Context, days int) (RevenueSummary, error) {
	w, err := NewWindow(days, s.now(), s.loc)
	if err != nil {
		return RevenueSummary{}, err
	}
	var out RevenueSummary
	err = s.cached(ctx, "revenue", w, &out, func(ctx context.Context) (any, error) {
		return s.buildRevenueSummary(ctx, w)
	})
	return out, err
}

func (s *Service) buildRevenueSummary(ctx context.Context, w Window) (RevenueSummary, error) {
	totals, err := s.repo.Totals(ctx, w)
	if err != nil {
		return RevenueSummary{}, err
	}
	branches, err := s.repo.BranchRevenue(ctx, w)
	if err != nil {
		return RevenueSummary{}, err
	}
	periods, err := s.repo.Periods(ctx, w)
	if err != nil {
		return RevenueSummary{}, err
	}

	out := RevenueSummary{
		Days:              w.Days,
		DateRange:         w.Describe(),
		TotalPayment:      totals.Paid,
		BranchRevenue:     make(map[string]decimal.Decimal, len(branches)),
		BranchPercentage:  make(map[string]decimal.Decimal, len(branches)),
		WaitForPayment:    totals.Waiting,
		WaitingPercentage: percentage(totals.Waiting, totals.Paid.Add(totals.Waiting)),
		TotalCustomers:    totals.Customers,
		TotalInvoices:     totals.Invoices,
		GeneratedAt:       s.now().UTC(),
	}
	branchTotal := decimal.Zero
	for _, b := range branches {
		branchTotal = branchTotal.Add(b.Amount)
	}
	for _, b := range branches {
		out.BranchRevenue[b.Branch] = b.Amount
		out.BranchPercentage[b.Branch] = percentage(b.Amount, branchTotal)
	}

	byLabel := make(map[string]decimal.Decimal, len(periods))
	for _, p := range periods {
		byLabel[w.Label(p.Period)] = p.Revenue
	}
	labels := w.Labels(totals.First, totals.Last)
	out.RevenueBreakdown = make([]PeriodAmount, 0, len(labels))
	for _, label := range labels {
		amount, ok := byLabel[label]
		if !ok {
			amount = decimal.Zero
		}
		out.RevenueBreakdown = append(out.RevenueBreakdown, PeriodAmount{Label: label, Amount: amount})
	}
	return out, nil
}

// TopRevenue reports revenue, deliveries and profit per period plus the
// best sellers of the window.
func (s *Service) TopRevenue(ctx context.Context, days int) (TopRevenue, error) {
	w, err := NewWindow(days, s.now(), s.loc)
	if err != nil {
		return TopRevenue{}, err
	}
	var out TopRevenue
	err = s.cached(ctx, "top", w, &out, func(ctx context.Context) (any, error) {
		return s.buildTopRevenue(ctx, w)
	})
	return out, err
}

func (s *Service) buildTopRevenue(ctx context.Context, w Window) (TopRevenue, error) {
	periods, err := s.repo.Periods(ctx, w)
	if err != nil {
		return TopRevenue{}, err
	}
	top, err := s.repo.TopProducts(ctx, w, TopProductLimit)
	if err != nil {
		return TopRevenue{}, err
	}

	var first, last *time.Time
	byLabel := make(map[string]PeriodRow, len(periods))
	for i, p := range periods {
		byLabel[w.Label(p.Period)] = p
		if i == 0 {
			first = &periods[i].Period
		}
		last = &periods[i].Period
	}
	if w.Unit == UnitYear && first != nil {
		// Periods are wall-clock values already in w.Loc.
		f := time.Date(first.Year(), 1, 1, 0, 0, 0, 0, w.Loc)
		l := time.Date(last.Year(), 1, 1, 0, 0, 0, 0, w.Loc)
		first, last = &f, &l
	}

	labels := w.Labels(first, last)
	out := TopRevenue{
		Days:        w.Days,
		DateRange:   w.Describe(),
		Periods:     make([]PeriodPerformance, 0, len(labels)),
		TopProducts: top,
		GeneratedAt: s.now().UTC(),
	}
	if out.TopProducts == nil {
		out.TopProducts = []ProductQuantity{}
	}
	for _, label := range labels {
		p, ok := byLabel[label]
		if !ok {
			out.Periods = append(out.Periods, PeriodPerformance{Label: label, Revenue: decimal.Zero, Profit: decimal.Zero})
			continue
		}
		out.Periods = append(out.Periods, PeriodPerformance{
			Label:      label,
			Revenue:    p.Revenue,
			Deliveries: p.Deliveries,
			Profit:     p.Revenue.Sub(p.Cost),
		})
	}
	return out, nil
}

// InventoryValue values the stock of one warehouse, or all when empty.
func (s *Service) InventoryValue(ctx context.Context, warehouse string) (inventory.InventoryValue, error) {
	return s.stock.InventoryValue(ctx, warehouse)
}

// Warm builds every standard window into the cache and returns how many
// reports were built.
func (s *Service) Warm(ctx context.Context) (int, error) {
	built := 0
	for _, days := range StandardDays {
		if _, err := s.RevenueSummary(ctx, days); err != nil {
			return built, err
		}
		if _, err := s.TopRevenue(ctx, days); err != nil {
			return built, err
		}
		built += 2
	}
	s.logger.InfoContext(ctx, "report cache warmed", slog.Int("reports", built))
	return built, nil
}

// cached serves dest from the cache, collapsing concurrent builds of the
// same key into one.
func (s *Service) cached(ctx context.Context, kind string, w Window, dest any, build func(context.Context) (any, error)) error {
	key, err := s.cache.BuildKey(ctx, "reports", kind, strconv.Itoa(w.Days), w.Day())
	if err != nil {
		return err
	}
	ch := s.group.DoChan(key, func() (any, error) {
		var raw json.RawMessage
		err := s.cache.FetchJSON(context.WithoutCancel(ctx), key, &raw, build)
		return raw, err
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.(json.RawMessage), dest)
	}
}
