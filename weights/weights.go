// Package weights splits 100% evenly across active performance categories.
package weights

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Category is a performance category whose weight is a percentage.
type Category struct {
	ID     string          `json:"id" validate:"required"`
	Name   string          `json:"name"`
	Active bool            `json:"active"`
	Weight decimal.Decimal `json:"weight"`
}

// Redistribute returns a copy of categories with weights reassigned.
// Each active category gets round(100/N, 2); the last active one absorbs
// the rounding remainder so active weights total exactly 100.00.
// Inactive categories get 0.
func Redistribute(categories []Category) []Category {
	out := make([]Category, len(categories))
	copy(out, categories)

	last := -1
	n := 0
	for i, c := range out {
		out[i].Weight = decimal.Zero
		if c.Active {
			last = i
			n++
		}
	}
	if n == 0 {
		return out
	}

	share := hundred.Div(decimal.NewFromInt(int64(n))).Round(2)
	assigned := decimal.Zero
	for i := range out {
		if !out[i].Active || i == last {
			continue
		}
		out[i].Weight = share
		assigned = assigned.Add(share)
	}
	out[last].Weight = hundred.Sub(assigned)
	return out
}

// Total sums the weights of active categories.
func Total(categories []Category) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range categories {
		if c.Active {
			sum = sum.Add(c.Weight)
		}
	}
	return sum
}
