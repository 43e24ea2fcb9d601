package model

import "time"

// MatchState tracks a match through the reconciliation workflow.
type MatchState string

// Match state constants.
const (
	MatchStateSuggested MatchState = "suggested"
	MatchStateApproved  MatchState = "approved"
	MatchStateRejected  MatchState = "rejected"
)

// MatchType indicates how a match reached its current state.
type MatchType string

const (
	// MatchTypeAuto indicates the engine's top suggestion, whether approved
	// by the engine itself or confirmed as-is by a reviewer.
	MatchTypeAuto MatchType = "auto"
	// MatchTypeManual indicates a human overrode the engine's suggestion.
	MatchTypeManual MatchType = "manual"
)

// Match is a scored candidate link between a SourceItem and a ledger
// Transaction. Invariant: at most one approved match per transaction and per
// source item at any time.
type Match struct {
	CreatedAt       time.Time
	ApprovedAt      *time.Time
	ID              string
	SourceItemID    string
	TransactionID   string
	ApprovedBy      string
	RejectReason    string
	State           MatchState
	Type            MatchType
	Reasons         []string
	ConfidenceScore float64 // 0-100
}

// Approved reports whether the match is currently approved.
func (m *Match) Approved() bool {
	return m.State == MatchStateApproved
}
