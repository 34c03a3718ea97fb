// Package reporting builds the revenue dashboards and the stock valuation.
package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/shared"
)

// StandardDays are the windows the dashboards offer: 1 is today by hour,
// 7 and 30 are trailing days, 365 is the current year by month and 0 is all
// time by year.
var StandardDays = []int{0, 1, 7, 30, 365}

// TopProductLimit caps the best-seller list.
const TopProductLimit = 5

// ErrInvalidWindow rejects a days value outside StandardDays.
var ErrInvalidWindow = shared.NewError(shared.ErrValidation, "INVALID_DAYS", "days must be one of 0, 1, 7, 30, 365")

// Truncation units understood by date_trunc.
const (
	UnitHour  = "hour"
	UnitDay   = "day"
	UnitMonth = "month"
	UnitYear  = "year"
)

// Window is a reporting range anchored at a point in time.
type Window struct {
	Days  int
	Since *time.Time
	Unit  string
	Loc   *time.Location
	now   time.Time
}

// NewWindow resolves days against now in loc.
func NewWindow(days int, now time.Time, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	w := Window{Days: days, Loc: loc, now: now}
	switch days {
	case 0:
		w.Unit = UnitYear
	case 1:
		w.Unit = UnitHour
		w.Since = &midnight
	case 7, 30:
		start := midnight.AddDate(0, 0, -(days - 1))
		w.Unit = UnitDay
		w.Since = &start
	case 365:
		start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc)
		w.Unit = UnitMonth
		w.Since = &start
	default:
		return Window{}, ErrInvalidWindow.WithMessage("days=%d", days)
	}
	return w, nil
}

// Day is the calendar date the window is anchored on.
func (w Window) Day() string {
	return w.now.Format(time.DateOnly)
}

func (w Window) layout() string {
	switch w.Unit {
	case UnitHour:
		return "15:00"
	case UnitDay:
		return time.DateOnly
	case UnitMonth:
		return "2006-01"
	default:
		return "2006"
	}
}

// Label renders a truncated period. Periods come back from the database as
// wall-clock times in w.Loc, so only the wall fields are used.
func (w Window) Label(period time.Time) string {
	return period.Format(w.layout())
}

// Labels lists every bucket of the window in order. The all-time window
// spans the years between first and last.
func (w Window) Labels(first, last *time.Time) []string {
	var out []string
	switch w.Unit {
	case UnitHour:
		for h := 0; h < 24; h++ {
			out = append(out, fmt.Sprintf("%02d:00", h))
		}
	case UnitDay:
		for i := 0; i < w.Days; i++ {
			out = append(out, w.Since.AddDate(0, 0, i).Format(time.DateOnly))
		}
	case UnitMonth:
		for m := time.January; m <= time.December; m++ {
			out = append(out, time.Date(w.now.Year(), m, 1, 0, 0, 0, 0, w.Loc).Format("2006-01"))
		}
	default:
		if first == nil || last == nil {
			return nil
		}
		for y := first.In(w.Loc).Year(); y <= last.In(w.Loc).Year(); y++ {
			out = append(out, fmt.Sprintf("%d", y))
		}
	}
	return out
}

// Describe is the human caption of the window.
func (w Window) Describe() string {
	switch w.Days {
	case 1:
		return "Today by hour - " + w.Day()
	case 7, 30:
		return fmt.Sprintf("Last %d days", w.Days)
	case 365:
		return "This year (monthly)"
	default:
		return "All time (by year)"
	}
}

// Totals aggregates every invoice created inside a window.
type Totals struct {
	Paid      decimal.Decimal
	Waiting   decimal.Decimal
	Customers int
	Invoices  int
	First     *time.Time
	Last      *time.Time
}

// BranchAmount is the paid revenue of one branch.
type BranchAmount struct {
	Branch string
	Amount decimal.Decimal
}

// PeriodRow aggregates one truncated period.
type PeriodRow struct {
	Period     time.Time
	Revenue    decimal.Decimal
	Cost       decimal.Decimal
	Deliveries int
}

// ProductQuantity is one best-seller entry.
type ProductQuantity struct {
	ProductID string `json:"product_id"`
	Product   string `json:"product"`
	Quantity  int    `json:"quantity"`
}

// PeriodAmount is one bucket of the revenue chart.
type PeriodAmount struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// RevenueSummary is the revenue dashboard for a window.
type RevenueSummary struct {
	Days              int                        `json:"days"`
	DateRange         string                     `json:"date_range"`
	TotalPayment      decimal.Decimal            `json:"total_payment"`
	BranchRevenue     map[string]decimal.Decimal `json:"branch_revenue"`
	BranchPercentage  map[string]decimal.Decimal `json:"branch_percentage"`
	RevenueBreakdown  []PeriodAmount             `json:"revenue_breakdown"`
	WaitForPayment    decimal.Decimal            `json:"wait_for_payment"`
	WaitingPercentage decimal.Decimal            `json:"waiting_percentage"`
	TotalCustomers    int                        `json:"total_customers"`
	TotalInvoices     int                        `json:"total_invoices"`
	GeneratedAt       time.Time                  `json:"generated_at"`
}

// PeriodPerformance is one bucket of the top revenue chart.
type PeriodPerformance struct {
	Label      string          `json:"label"`
	Revenue    decimal.Decimal `json:"revenue"`
	Deliveries int             `json:"deliveries"`
	Profit     decimal.Decimal `json:"profit"`
}

// TopRevenue pairs revenue, deliveries and profit per period with the best
// sellers of the window.
type TopRevenue struct {
	Days        int                 `json:"days"`
	DateRange   string              `json:"date_range"`
	Periods     []PeriodPerformance `json:"periods"`
	TopProducts []ProductQuantity   `json:"top_products"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// Repository runs the aggregate queries.
type Repository interface {
	Totals(ctx context.Context, w Window) (Totals, error)
	BranchRevenue(ctx context.Context, w Window) ([]BranchAmount, error)
	Periods(ctx context.Context, w Window) ([]PeriodRow, error)
	TopProducts(ctx context.Context, w Window, limit int) ([]ProductQuantity, error)
}

// StockValuer values the stock on hand.
type StockValuer interface {
	InventoryValue(ctx context.Context, warehouse string) (inventory.InventoryValue, error)
}

func percentage(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Mul(decimal.NewFromInt(100)).Div(whole).Round(2)
}
