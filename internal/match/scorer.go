package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/model"
)

// scoreResult is the composite outcome of scoring one candidate pair.
type scoreResult struct {
	Reasons       []string
	Score         float64
	AmountDiff    float64
	CrossCurrency bool
}

// score computes the composite confidence for an extraction against one
// ledger transaction. Same-currency amounts contribute full weight;
// cross-currency comparisons go through the rate table at a discount, and a
// missing rate disqualifies only that comparison path. The result is clamped
// to [0, 100].
func (e *Engine) score(ctx context.Context, extraction *model.Extraction, txn *model.Transaction) (scoreResult, error) {
	w := e.cfg.Weights

	var amount amountResult
	crossCurrency := extraction.Currency != txn.Currency
	if crossCurrency {
		rate, err := e.rates.GetRate(ctx, extraction.TransactionDate, extraction.Currency, txn.Currency)
		switch {
		case errors.Is(err, common.ErrRateNotFound):
			amount = amountResult{
				Reason: fmt.Sprintf("no %s/%s rate for %s; conversion path skipped",
					extraction.Currency, txn.Currency,
					extraction.TransactionDate.Format("2006-01-02")),
			}
		case err != nil:
			return scoreResult{}, fmt.Errorf("failed to look up exchange rate: %w", err)
		default:
			amount = compareConvertedAmounts(extraction.Amount, rate, txn.Amount, w.Amount)
		}
	} else {
		amount = compareAmounts(extraction.Amount, txn.Amount, w.Amount)
	}

	date := compareDates(extraction.TransactionDate, txn.Date, e.cfg.DateToleranceDays, w.Date)
	vendor := compareVendors(extraction.VendorName, txn.VendorName, w.Vendor)

	total := amount.Score + date.Score + vendor.Score
	if amount.Cap > 0 && total > amount.Cap {
		total = amount.Cap
	}
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}

	return scoreResult{
		Score:         total,
		AmountDiff:    amount.AbsDiff,
		CrossCurrency: crossCurrency,
		Reasons:       []string{amount.Reason, date.Reason, vendor.Reason},
	}, nil
}
