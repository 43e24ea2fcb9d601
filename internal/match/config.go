// Package match implements the matching engine: it scores candidate pairs of
// extracted source items and ledger transactions, and applies the auto-match
// policy with a no-close-runner-up ambiguity rule.
package match

// Weights distributes the composite score across the three comparison axes.
// The split is tunable configuration, not a constant of the algorithm.
type Weights struct {
	Amount float64
	Date   float64
	Vendor float64
}

// Config holds the matching engine tunables.
type Config struct {
	Weights Weights
	// DateToleranceDays bounds the candidate window around the extracted
	// transaction date.
	DateToleranceDays int
	// MinScore is the floor below which a candidate is not worth suggesting.
	MinScore float64
	// AutoApproveThreshold is the score a match must exceed to be approved
	// without review.
	AutoApproveThreshold float64
	// AmbiguityThreshold defines a "close runner-up": if a second candidate
	// scores at or above it, nothing is auto-approved for that item.
	AmbiguityThreshold float64
}

// DefaultConfig returns the default matching configuration.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Amount: 40,
			Date:   30,
			Vendor: 30,
		},
		DateToleranceDays:    3,
		MinScore:             55,
		AutoApproveThreshold: 90,
		AmbiguityThreshold:   70,
	}
}
