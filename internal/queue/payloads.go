package queue

import (
	"encoding/json"
	"fmt"
)

// Job payloads form a tagged union keyed by the job type: one strongly-typed
// schema per type, decoded by the matching handler.

// SyncMode selects incremental or full folder scans.
type SyncMode string

// Sync modes.
const (
	SyncModeIncremental SyncMode = "incremental"
	SyncModeFull        SyncMode = "full"
)

// SyncPayload triggers one folder sync run. UserID is the account owner and
// is stamped on every item the run indexes.
type SyncPayload struct {
	UserID    string   `json:"user_id"`
	AccountID string   `json:"account_id"`
	Folder    string   `json:"folder"`
	Mode      SyncMode `json:"mode"`
}

// ExtractPayload triggers extraction for one source item.
type ExtractPayload struct {
	SourceItemID string `json:"source_item_id"`
}

// MatchPayload triggers candidate generation for one source item.
type MatchPayload struct {
	SourceItemID string `json:"source_item_id"`
}

// DecodePayload unmarshals a job payload into its typed schema.
func DecodePayload[T any](data []byte) (T, error) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("failed to decode job payload: %w", err)
	}
	return payload, nil
}
