package model

import "time"

// SyncStatus tracks the lifecycle of one folder's sync run.
type SyncStatus string

// Sync cursor status constants.
const (
	SyncStatusIdle      SyncStatus = "idle"
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncCursor is the persisted high-water-mark for incremental sync of one
// (account, folder) pair. At most one cursor per pair may be running at a
// time; the claim is an atomic conditional write on Status.
type SyncCursor struct {
	LastSyncAt  time.Time
	StartedAt   time.Time
	AccountID   string
	Folder      string
	LastError   string
	Status      SyncStatus
	LastUIDSeen int64
}
