package reporting_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/reporting"
	"github.com/lilas/backoffice/internal/shared"
)

var ict = time.FixedZone("ICT", 7*3600)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func day(y int, m time.Month, dd int) time.Time { return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC) }

type fakeRepo struct {
	mu       sync.Mutex
	totals   reporting.Totals
	branches []reporting.BranchAmount
	periods  []reporting.PeriodRow
	top      []reporting.ProductQuantity
	calls    int
	windows  []reporting.Window
}

func (f *fakeRepo) record(w reporting.Window) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.windows = append(f.windows, w)
}

func (f *fakeRepo) Totals(_ context.Context, w reporting.Window) (reporting.Totals, error) {
	f.record(w)
	return f.totals, nil
}

func (f *fakeRepo) BranchRevenue(context.Context, reporting.Window) ([]reporting.BranchAmount, error) {
	return f.branches, nil
}

func (f *fakeRepo) Periods(context.Context, reporting.Window) ([]reporting.PeriodRow, error) {
	return f.periods, nil
}

func (f *fakeRepo) TopProducts(_ context.Context, _ reporting.Window, limit int) ([]reporting.ProductQuantity, error) {
	if len(f.top) > limit {
		return f.top[:limit], nil
	}
	return f.top, nil
}

type fakeStock struct{ asked string }

func (s *fakeStock) InventoryValue(_ context.Context, warehouse string) (inventory.InventoryValue, error) {
	s.asked = warehouse
	if warehouse != "" && warehouse != "Terra" {
		return inventory.InventoryValue{}, inventory.ErrBranchNotFound
	}
	return inventory.InventoryValue{Warehouse: "Terra", TotalProducts: 2, TotalStock: 15, TotalStockValue: d(1500000)}, nil
}

func clock() time.Time { return time.Date(2024, 5, 19, 10, 30, 0, 0, ict) }

func newService(repo *fakeRepo, cache *reporting.Cache) *reporting.Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return reporting.NewService(repo, &fakeStock{}, cache, ict, logger).WithClock(clock)
}

func salesRepo() *fakeRepo {
	first, last := time.Date(2022, 3, 1, 2, 0, 0, 0, time.UTC), time.Date(2024, 5, 19, 1, 0, 0, 0, time.UTC)
	return &fakeRepo{
		totals: reporting.Totals{Paid: d(900000), Waiting: d(100000), Customers: 3, Invoices: 5, First: &first, Last: &last},
		branches: []reporting.BranchAmount{
			{Branch: "Terra", Amount: d(600000)},
			{Branch: "Thợ Nhuộm", Amount: d(300000)},
		},
		periods: []reporting.PeriodRow{
			{Period: day(2024, 5, 15), Revenue: d(400000), Cost: d(250000), Deliveries: 1},
			{Period: day(2024, 5, 19), Revenue: d(500000), Cost: d(300000), Deliveries: 2},
		},
		top: []reporting.ProductQuantity{
			{ProductID: "SP1", Product: "Son môi", Quantity: 9},
			{ProductID: "SP2", Product: "Kem chống nắng", Quantity: 4},
		},
	}
}

func TestWindows(t *testing.T) {
	now := clock()

	w, err := reporting.NewWindow(7, now, ict)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 5, 13, 0, 0, 0, 0, ict), *w.Since)
	require.Equal(t, reporting.UnitDay, w.Unit)
	labels := w.Labels(nil, nil)
	require.Len(t, labels, 7)
	require.Equal(t, "2024-05-13", labels[0])
	require.Equal(t, "2024-05-19", labels[6])

	w, err = reporting.NewWindow(1, now, ict)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 5, 19, 0, 0, 0, 0, ict), *w.Since)
	labels = w.Labels(nil, nil)
	require.Len(t, labels, 24)
	require.Equal(t, "00:00", labels[0])
	require.Equal(t, "23:00", labels[23])
	require.Equal(t, "10:00", w.Label(time.Date(2024, 5, 19, 10, 0, 0, 0, time.UTC)))

	w, err = reporting.NewWindow(365, now, ict)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, ict), *w.Since)
	labels = w.Labels(nil, nil)
	require.Equal(t, "2024-01", labels[0])
	require.Equal(t, "2024-12", labels[11])

	w, err = reporting.NewWindow(0, now, ict)
	require.NoError(t, err)
	require.Nil(t, w.Since)
	require.Nil(t, w.Labels(nil, nil))
	first, last := time.Date(2022, 6, 1, 0, 0, 0, 0, ict), now
	require.Equal(t, []string{"2022", "2023", "2024"}, w.Labels(&first, &last))

	_, err = reporting.NewWindow(3, now, ict)
	require.ErrorIs(t, err, reporting.ErrInvalidWindow)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRevenueSummaryFillsEveryDay(t *testing.T) {
	svc := newService(salesRepo(), nil)

	got, err := svc.RevenueSummary(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, "Last 7 days", got.DateRange)
	require.Equal(t, "900000", got.TotalPayment.String())
	require.Equal(t, "100000", got.WaitForPayment.String())
	require.Equal(t, "10", got.WaitingPercentage.String())
	require.Equal(t, "66.67", got.BranchPercentage["Terra"].String())
	require.Equal(t, "33.33", got.BranchPercentage["Thợ Nhuộm"].String())
	require.Equal(t, 3, got.TotalCustomers)
	require.Equal(t, 5, got.TotalInvoices)

	require.Len(t, got.RevenueBreakdown, 7)
	amounts := map[string]string{}
	for _, p := range got.RevenueBreakdown {
		amounts[p.Label] = p.Amount.String()
	}
	require.Equal(t, "400000", amounts["2024-05-15"])
	require.Equal(t, "500000", amounts["2024-05-19"])
	require.Equal(t, "0", amounts["2024-05-16"])
}

func TestRevenueSummaryAllTimeSpansYears(t *testing.T) {
	repo := salesRepo()
	repo.periods = []reporting.PeriodRow{
		{Period: day(2022, 1, 1), Revenue: d(100)},
		{Period: day(2024, 1, 1), Revenue: d(800)},
	}
	got, err := newService(repo, nil).RevenueSummary(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, "All time (by year)", got.DateRange)
	var flat []string
	for _, p := range got.RevenueBreakdown {
		flat = append(flat, p.Label+"="+p.Amount.String())
	}
	require.Equal(t, []string{"2022=100", "2023=0", "2024=800"}, flat)
}

func TestRevenueSummaryWithoutSales(t *testing.T) {
	got, err := newService(&fakeRepo{totals: reporting.Totals{Paid: decimal.Zero, Waiting: decimal.Zero}}, nil).
		RevenueSummary(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, got.WaitingPercentage.IsZero())
	require.Empty(t, got.BranchPercentage)
	require.Len(t, got.RevenueBreakdown, 24)
}

func TestTopRevenueComputesProfit(t *testing.T) {
	got, err := newService(salesRepo(), nil).TopRevenue(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, got.Periods, 30)
	last := got.Periods[29]
	require.Equal(t, "2024-05-19", last.Label)
	require.Equal(t, "500000", last.Revenue.String())
	require.Equal(t, "200000", last.Profit.String())
	require.Equal(t, 2, last.Deliveries)
	require.True(t, got.Periods[0].Profit.IsZero())
	require.Equal(t, "Son môi", got.TopProducts[0].Product)
	require.Equal(t, 9, got.TopProducts[0].Quantity)
}

func TestTopRevenueAllTimeUsesPeriodYears(t *testing.T) {
	repo := salesRepo()
	repo.periods = []reporting.PeriodRow{
		{Period: day(2023, 1, 1), Revenue: d(1000), Cost: d(600)},
		{Period: day(2024, 1, 1), Revenue: d(2000), Cost: d(500), Deliveries: 3},
	}
	repo.top = nil
	got, err := newService(repo, nil).TopRevenue(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got.Periods, 2)
	require.Equal(t, "2023", got.Periods[0].Label)
	require.Equal(t, "400", got.Periods[0].Profit.String())
	require.Equal(t, "1500", got.Periods[1].Profit.String())
	require.NotNil(t, got.TopProducts)
	require.Empty(t, got.TopProducts)
}

func newCache(t *testing.T) (*reporting.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return reporting.NewCache(client, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func TestCachedSummaryInvalidatedByInvoiceChange(t *testing.T) {
	cache, mr := newCache(t)
	repo := salesRepo()
	svc := newService(repo, cache)
	ctx := context.Background()

	first, err := svc.RevenueSummary(ctx, 7)
	require.NoError(t, err)
	second, err := svc.RevenueSummary(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 1, repo.calls)
	require.Equal(t, first.TotalPayment.String(), second.TotalPayment.String())
	require.True(t, mr.Exists("reports:revenue:7:2024-05-19:v1"))

	repo.totals.Paid = d(1000000)
	cache.InvoicesChanged(ctx)
	third, err := svc.RevenueSummary(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)
	require.Equal(t, "1000000", third.TotalPayment.String())
	require.True(t, mr.Exists("reports:revenue:7:2024-05-19:v2"))

	mr.FastForward(2 * time.Hour)
	require.False(t, mr.Exists("reports:revenue:7:2024-05-19:v2"))
}

func TestWarmBuildsEveryWindow(t *testing.T) {
	cache, _ := newCache(t)
	repo := salesRepo()
	svc := newService(repo, cache)

	built, err := svc.Warm(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2*len(reporting.StandardDays), built)
	require.Equal(t, len(reporting.StandardDays), repo.calls)

	for _, days := range reporting.StandardDays {
		_, err := svc.RevenueSummary(context.Background(), days)
		require.NoError(t, err)
	}
	require.Equal(t, len(reporting.StandardDays), repo.calls)
}

func TestRevenueWorkbook(t *testing.T) {
	summary, err := newService(salesRepo(), nil).RevenueSummary(context.Background(), 7)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, reporting.WriteRevenueXLSX(&buf, summary))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	cell := func(ref string) string {
		v, err := f.GetCellValue("Revenue", ref)
		require.NoError(t, err)
		return v
	}
	require.Equal(t, "Last 7 days", cell("B1"))
	require.Equal(t, "900000", cell("B2"))
	require.Equal(t, "Branch Terra", cell("A7"))
	require.Equal(t, "Period", cell("A10"))
	require.Equal(t, "2024-05-13", cell("A11"))
	require.Equal(t, "2024-05-19", cell("A17"))
	require.Equal(t, "500000", cell("B17"))
}

func TestHandlerRoutes(t *testing.T) {
	svc := newService(salesRepo(), nil)
	r := chi.NewRouter()
	reporting.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/revenue-summary?days=30", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var summary reporting.RevenueSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Len(t, summary.RevenueBreakdown, 30)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/top-revenue?days=abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_DAYS")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inventory-value?warehouse=Terra", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total_stock":15`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inventory-value?warehouse=Kho", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/revenue-summary.xlsx?days=7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Disposition"), "revenue-7.xlsx")
	require.NotZero(t, rec.Body.Len())
}
