package weights_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/sanction-engine/weights"
)

func categories(active ...bool) []weights.Category {
	out := make([]weights.Category, len(active))
	for i, a := range active {
		out[i] = weights.Category{ID: string(rune('a' + i)), Active: a, Weight: decimal.NewFromInt(7)}
	}
	return out
}

func TestRedistribute_TotalsExactlyHundred(t *testing.T) {
	for n := 1; n <= 12; n++ {
		active := make([]bool, n)
		for i := range active {
			active[i] = true
		}
		got := weights.Redistribute(categories(active...))
		assert.True(t, weights.Total(got).Equal(decimal.NewFromInt(100)), "n=%d total=%s", n, weights.Total(got))
	}
}

func TestRedistribute_Thirds(t *testing.T) {
	// GIVEN: Three active categories
	// WHEN: Weights are redistributed
	// THEN: 33.33, 33.33 and the remainder 33.34

	got := weights.Redistribute(categories(true, true, true))

	assert.Equal(t, "33.33", got[0].Weight.StringFixed(2))
	assert.Equal(t, "33.33", got[1].Weight.StringFixed(2))
	assert.Equal(t, "33.34", got[2].Weight.StringFixed(2))
}

func TestRedistribute_InactiveGetZero(t *testing.T) {
	in := categories(true, false, true, false)
	got := weights.Redistribute(in)

	assert.Equal(t, "50.00", got[0].Weight.StringFixed(2))
	assert.True(t, got[1].Weight.IsZero())
	assert.Equal(t, "50.00", got[2].Weight.StringFixed(2))
	assert.True(t, got[3].Weight.IsZero(), "trailing inactive category does not take the remainder")

	assert.True(t, in[0].Weight.Equal(decimal.NewFromInt(7)), "input is not modified")
}

func TestRedistribute_NoneActive(t *testing.T) {
	got := weights.Redistribute(categories(false, false))
	for _, c := range got {
		assert.True(t, c.Weight.IsZero())
	}
	assert.Empty(t, weights.Redistribute(nil))
}
