package pricing

import "github.com/shopspring/decimal"

// CostPrecision is the number of decimal places kept on a moving-average cost.
const CostPrecision = 2

// MovingAverageIn recomputes the average cost after qty units arrive at unitCost.
// A non-positive resulting stock leaves the price unchanged.
func MovingAverageIn(oldStock int, oldPrice decimal.Decimal, qty int, unitCost decimal.Decimal) decimal.Decimal {
	if oldStock < 0 {
		oldStock = 0
	}
	newStock := oldStock + qty
	if newStock <= 0 {
		return oldPrice
	}
	value := decimal.NewFromInt(int64(oldStock)).Mul(oldPrice).Add(decimal.NewFromInt(int64(qty)).Mul(unitCost))
	return value.Div(decimal.NewFromInt(int64(newStock))).Round(CostPrecision)
}

// MovingAverageOut recomputes the average cost after qty units leave at unitCost.
// When nothing would remain the outgoing unit cost becomes the price.
func MovingAverageOut(oldStock int, oldPrice decimal.Decimal, qty int, unitCost decimal.Decimal) decimal.Decimal {
	if oldStock < 0 {
		oldStock = 0
	}
	remaining := oldStock - qty
	if remaining <= 0 {
		return unitCost.Round(CostPrecision)
	}
	value := decimal.NewFromInt(int64(oldStock)).Mul(oldPrice).Sub(decimal.NewFromInt(int64(qty)).Mul(unitCost))
	return value.Div(decimal.NewFromInt(int64(remaining))).Round(CostPrecision)
}

// AllocateImportCosts spreads the bill discount and extra fee over lines by
// their share of the bill value and returns the landed unit cost per line.
// The bill-wide line value sum is taken once before any line is processed.
func AllocateImportCosts(lines []PercentLine, billDiscountPct, extraFee decimal.Decimal) []decimal.Decimal {
	total := decimal.Zero
	values := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		values[i] = l.Total()
		total = total.Add(values[i])
	}
	out := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		if l.Quantity <= 0 {
			out[i] = decimal.Zero
			continue
		}
		if total.IsZero() {
			out[i] = l.Price
			continue
		}
		ratio := values[i].Div(total)
		cost := values[i].
			Sub(total.Mul(billDiscountPct.Div(hundred)).Mul(ratio)).
			Add(extraFee.Mul(ratio))
		out[i] = cost.Div(decimal.NewFromInt(int64(l.Quantity)))
	}
	return out
}

// AllocateReturnCosts spreads only the extra fee over undiscounted line values
// and returns the outgoing unit cost per line.
func AllocateReturnCosts(lines []PercentLine, extraFee decimal.Decimal) []decimal.Decimal {
	total := decimal.Zero
	values := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		values[i] = l.Gross()
		total = total.Add(values[i])
	}
	out := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		if l.Quantity <= 0 {
			out[i] = decimal.Zero
			continue
		}
		if total.IsZero() {
			out[i] = l.Price
			continue
		}
		ratio := values[i].Div(total)
		out[i] = values[i].Add(extraFee.Mul(ratio)).Div(decimal.NewFromInt(int64(l.Quantity)))
	}
	return out
}
