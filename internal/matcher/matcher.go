// Package matcher decides whether a received amount settles an expected one.
package matcher

import (
	"github.com/shopspring/decimal"
)

// Precision is the number of decimals amounts are compared at.
const Precision = 6

// Criterion names the rule that accepted a payment.
type Criterion string

const (
	CriterionNone       Criterion = ""
	CriterionExact      Criterion = "exact"
	CriterionPercentage Criterion = "percentage"
	CriterionAbsolute   Criterion = "absolute"
	CriterionOffByOne   Criterion = "off_by_one"
)

var (
	smallAmount      = decimal.New(1, -3) // 0.001
	smallTolerance   = decimal.New(5, -3) // 0.5%
	defaultTolerance = decimal.New(1, -2) // 1%
	absoluteEpsilon  = decimal.New(1, -Precision)
	lastDecimalUnit  = decimal.New(1, -Precision)
)

// Result explains a comparison.
type Result struct {
	Correct    bool
	Criterion  Criterion
	Difference decimal.Decimal
}

// IsCorrect reports whether actual settles expected.
func IsCorrect(expected, actual decimal.Decimal) bool {
	return Check(expected, actual).Correct
}

// Check compares expected and actual under each tolerance rule in turn and accepts
// the first that matches. Non-positive amounts never match, nor does an expected
// amount that rounds to zero at Precision.
func Check(expected, actual decimal.Decimal) Result {
	if !expected.IsPositive() || !actual.IsPositive() {
		return Result{Difference: actual.Sub(expected)}
	}

	e := expected.Round(Precision)
	a := actual.Round(Precision)
	if !e.IsPositive() {
		return Result{Difference: actual.Sub(expected)}
	}
	diff := a.Sub(e).Abs()
	res := Result{Difference: actual.Sub(expected)}

	switch {
	case e.Equal(a):
		res.Criterion = CriterionExact
	case diff.Div(e).LessThanOrEqual(tolerance(expected)):
		res.Criterion = CriterionPercentage
	case actual.Sub(expected).Abs().LessThanOrEqual(absoluteEpsilon):
		res.Criterion = CriterionAbsolute
	case diff.LessThanOrEqual(lastDecimalUnit):
		res.Criterion = CriterionOffByOne
	default:
		return res
	}
	res.Correct = true
	return res
}

// Payable reports whether amount is still positive once rounded to Precision.
func Payable(amount decimal.Decimal) bool {
	return amount.Round(Precision).IsPositive()
}

// tolerance is tighter for amounts below 0.001.
func tolerance(expected decimal.Decimal) decimal.Decimal {
	if expected.LessThan(smallAmount) {
		return smallTolerance
	}
	return defaultTolerance
}
