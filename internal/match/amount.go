package match

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// amountResult carries the amount axis contribution to the composite score.
type amountResult struct {
	Reason      string
	Score       float64
	PercentDiff float64
	Cap         float64 // 0 means no cap
	AbsDiff     float64
}

// conversionDiscount scales the amount contribution when the comparison only
// holds after a currency conversion, reflecting the extra uncertainty of the
// conversion step.
const conversionDiscount = 0.85

// conversionCap bounds the composite score of any cross-currency match.
const conversionCap = 85

// farAmountCap bounds the composite score when amounts differ by more than
// ten percent.
const farAmountCap = 60

// percentDiff computes the symmetric percentage difference of two amounts
// using exact decimal arithmetic on their absolute values.
func percentDiff(a, b float64) float64 {
	da := decimal.NewFromFloat(a).Abs()
	db := decimal.NewFromFloat(b).Abs()

	if da.IsZero() && db.IsZero() {
		return 0
	}
	if da.IsZero() || db.IsZero() {
		return 100
	}

	diff := da.Sub(db).Abs()
	avg := da.Add(db).Div(decimal.NewFromInt(2))
	pct, _ := diff.Div(avg).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// amountsEqual compares two amounts exactly at cent precision.
func amountsEqual(a, b float64) bool {
	return decimal.NewFromFloat(a).Round(2).Equal(decimal.NewFromFloat(b).Round(2))
}

// compareAmounts scores the closeness of two amounts in the same currency.
// Exact match earns the full weight; the score steps down with the
// percentage difference, and a >10% gap caps the composite score instead of
// contributing.
func compareAmounts(source, target, weight float64) amountResult {
	diff, _ := decimal.NewFromFloat(source).Abs().
		Sub(decimal.NewFromFloat(target).Abs()).Abs().Float64()
	pct := percentDiff(source, target)

	result := amountResult{PercentDiff: pct, AbsDiff: diff}

	switch {
	case amountsEqual(source, target):
		result.Score = weight
		result.Reason = "amounts match exactly"
	case pct <= 2:
		result.Score = weight * 0.875
		result.Reason = fmt.Sprintf("amounts within %.1f%%", pct)
	case pct <= 5:
		result.Score = weight * 0.625
		result.Reason = fmt.Sprintf("amounts within %.1f%%", pct)
	case pct <= 10:
		result.Score = weight * 0.375
		result.Reason = fmt.Sprintf("amounts within %.1f%%", pct)
	default:
		result.Score = 0
		result.Cap = farAmountCap
		result.Reason = fmt.Sprintf("amounts differ by %.1f%%", pct)
	}
	return result
}

// compareConvertedAmounts scores amounts that match only after applying an
// exchange rate. The contribution is discounted and the composite capped.
func compareConvertedAmounts(source, rate, target, weight float64) amountResult {
	converted, _ := decimal.NewFromFloat(source).
		Mul(decimal.NewFromFloat(rate)).Round(2).Float64()

	result := compareAmounts(converted, target, weight)
	result.Score *= conversionDiscount
	if result.Cap == 0 || result.Cap > conversionCap {
		result.Cap = conversionCap
	}
	result.Reason = fmt.Sprintf("%s after currency conversion", result.Reason)
	return result
}
