package match

import (
	"fmt"
	"time"
)

// dateResult carries the date axis contribution to the composite score.
type dateResult struct {
	Reason   string
	Score    float64
	DaysDiff int
}

// daysBetween returns the absolute whole-day difference, ignoring time of
// day.
func daysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	diff := da.Sub(db)
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}

// compareDates scores date closeness. The score decays linearly from the
// full weight at an exact date match to zero at the edge of the tolerance
// window.
func compareDates(source, target time.Time, toleranceDays int, weight float64) dateResult {
	diff := daysBetween(source, target)
	result := dateResult{DaysDiff: diff}

	if toleranceDays <= 0 || diff >= toleranceDays {
		if diff == 0 {
			result.Score = weight
			result.Reason = "same day"
			return result
		}
		result.Score = 0
		result.Reason = fmt.Sprintf("dates %d days apart", diff)
		return result
	}

	result.Score = weight * (1 - float64(diff)/float64(toleranceDays))
	if diff == 0 {
		result.Reason = "same day"
	} else {
		result.Reason = fmt.Sprintf("dates %d days apart", diff)
	}
	return result
}
