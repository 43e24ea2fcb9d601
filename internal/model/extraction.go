package model

import "time"

// Extraction holds the structured fields an external model derived from a
// SourceItem. One-to-one with its SourceItem; written once, never mutated.
// Corrections happen by revising the match, not the extraction.
type Extraction struct {
	TransactionDate time.Time
	ExtractedAt     time.Time
	ID              string
	SourceItemID    string
	VendorName      string
	Currency        string
	Amount          float64
	Confidence      int // model-reported, 0-100
}
