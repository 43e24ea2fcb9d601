package model

import "time"

// ExchangeRate is one row of the externally-maintained rate lookup table.
// This core consumes rates; it never computes or fetches them.
type ExchangeRate struct {
	Date         time.Time
	FromCurrency string
	ToCurrency   string
	Rate         float64
}
