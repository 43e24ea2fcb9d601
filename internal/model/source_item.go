// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// SourceItemStatus indicates the indexing outcome for an inbound item.
type SourceItemStatus string

// Source item status constants.
const (
	SourceStatusIndexed SourceItemStatus = "indexed"
	SourceStatusSkipped SourceItemStatus = "skipped"
	SourceStatusError   SourceItemStatus = "error"
)

// SourceItem is one inbound unit awaiting reconciliation: a forwarded
// receipt email or one entry from an uploaded statement document.
// Immutable once indexed except for Status and ReviewNotes.
type SourceItem struct {
	ReceivedAt     time.Time
	CreatedAt      time.Time
	ID             string
	UserID         string
	AccountID      string
	Folder         string
	RawRef         string // pointer to the stored raw blob
	Subject        string
	Sender         string
	LastError      string
	ReviewNotes    string
	Status         SourceItemStatus
	ExternalUID    int64 // provider-assigned, monotonic within a folder
	DetectionScore int   // receipt-likelihood heuristic, 0-100
}

// GenerateHash creates a unique hash for duplicate detection across
// re-deliveries of the same provider item.
func (s *SourceItem) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%d", s.AccountID, s.Folder, s.ExternalUID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
