package matcher

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestIsCorrect(t *testing.T) {
	cases := []struct {
		expected, actual string
		want             bool
	}{
		{"0.00500000", "0.00500001", true},
		{"0.00500000", "0.00520000", false},
		{"0.01", "0.0099999", true},
		{"0.01", "0.02", false},
		{"0.01", "0.0101", true},
		{"0.01", "0.0098", false},
		{"1", "0.995", true},
		{"1", "0.98", false},
		{"0.0005", "0.000502", true},
		{"0.0005", "0.000504", false},
		{"0.000002", "0.000003", true},
		{"0.01", "0", false},
		{"0", "0.01", false},
		{"0.01", "-0.01", false},
	}
	for _, tc := range cases {
		t.Run(tc.expected+"_vs_"+tc.actual, func(t *testing.T) {
			assert.Equal(t, tc.want, IsCorrect(d(tc.expected), d(tc.actual)))
		})
	}
}

func TestCheckCriterion(t *testing.T) {
	assert.Equal(t, CriterionExact, Check(d("0.01"), d("0.0099999")).Criterion)
	assert.Equal(t, CriterionPercentage, Check(d("0.01"), d("0.0101")).Criterion)
	assert.Equal(t, CriterionAbsolute, Check(d("0.000002"), d("0.000003")).Criterion)

	res := Check(d("0.01"), d("0.02"))
	assert.False(t, res.Correct)
	assert.Equal(t, CriterionNone, res.Criterion)
	assert.True(t, res.Difference.Equal(d("0.01")))
}

func TestExpectedBelowPrecisionNeverMatches(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.False(t, IsCorrect(d("0.0000004"), d("0.5")))
		assert.False(t, IsCorrect(d("0.0000004"), d("0.0000004")))
	})
	assert.False(t, Payable(d("0.0000004")))
	assert.True(t, Payable(d("0.0000005")))
	assert.True(t, Payable(d("0.000001")))
}

func TestOverpaymentBeyondToleranceIsWrong(t *testing.T) {
	assert.False(t, IsCorrect(d("0.5"), d("0.51")))
	assert.True(t, IsCorrect(d("0.5"), d("0.505")))
}
