// Package pricing computes line and bill totals and moving-average import cost.
package pricing

import "github.com/shopspring/decimal"

// DiscountType selects how a discount value is interpreted.
type DiscountType string

const (
	// DiscountPercent treats the discount as a percentage of the amount.
	DiscountPercent DiscountType = "%"
	// DiscountValue subtracts the discount as an absolute amount.
	DiscountValue DiscountType = "value"
)

var hundred = decimal.NewFromInt(100)

// Discount is a discount amount with its interpretation.
type Discount struct {
	Value decimal.Decimal `json:"discount"`
	Type  DiscountType    `json:"discount_type"`
}

// Apply reduces amount by the discount, clamped at zero.
func (d Discount) Apply(amount decimal.Decimal) decimal.Decimal {
	var out decimal.Decimal
	if d.Type == DiscountPercent {
		out = amount.Mul(decimal.NewFromInt(1).Sub(d.Value.Div(hundred)))
	} else {
		out = amount.Sub(d.Value)
	}
	return NonNegative(out)
}

// NonNegative clamps v at zero.
func NonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// Line is a priced quantity with an optional discount.
type Line struct {
	Price    decimal.Decimal
	Quantity int
	Discount Discount
}

// Gross is price times quantity before any discount.
func (l Line) Gross() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Total is the discounted line amount, never negative.
func (l Line) Total() decimal.Decimal {
	return l.Discount.Apply(l.Gross())
}

// InvoiceTotal sums product and service lines and applies the invoice discount.
func InvoiceTotal(items, services []Line, discount Discount) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range items {
		sum = sum.Add(l.Total())
	}
	for _, l := range services {
		sum = sum.Add(l.Total())
	}
	return discount.Apply(sum)
}

// PercentLine is a purchase line whose discount is always a percentage.
type PercentLine struct {
	Price       decimal.Decimal
	Quantity    int
	DiscountPct decimal.Decimal
}

// Gross is price times quantity.
func (l PercentLine) Gross() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Total applies the line percentage discount.
func (l PercentLine) Total() decimal.Decimal {
	return Discount{Value: l.DiscountPct, Type: DiscountPercent}.Apply(l.Gross())
}

// BillTotal sums percentage-discounted lines, applies the bill percentage
// discount, then adds the extra fee. Used by import and return bills.
func BillTotal(lines []PercentLine, billDiscountPct, extraFee decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Total())
	}
	discounted := sum.Mul(decimal.NewFromInt(1).Sub(billDiscountPct.Div(hundred)))
	return NonNegative(discounted.Add(extraFee))
}

// Settlement classifies an amount paid against a total.
type Settlement int

const (
	Unpaid Settlement = iota
	PartiallyPaid
	FullyPaid
)

// Settle reports whether paid covers nothing, part or all of total.
func Settle(paid, total decimal.Decimal) Settlement {
	switch {
	case paid.GreaterThanOrEqual(total) && total.IsPositive():
		return FullyPaid
	case paid.IsPositive() && paid.LessThan(total):
		return PartiallyPaid
	case paid.IsPositive():
		return FullyPaid
	}
	return Unpaid
}
