// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/dsil-design/joot-reconcile/internal/model"
)

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Source item operations
	UpsertSourceItems(ctx context.Context, items []model.SourceItem) (inserted int, err error)
	GetSourceItem(ctx context.Context, id string) (*model.SourceItem, error)
	GetSourceItemByUID(ctx context.Context, accountID, folder string, uid int64) (*model.SourceItem, error)
	SetSourceItemStatus(ctx context.Context, id string, status model.SourceItemStatus, notes string) error
	DeleteSourceItem(ctx context.Context, id string) error
	ListUnmatchedSourceItems(ctx context.Context, userID string) ([]model.SourceItem, error)

	// Sync cursor operations
	GetSyncCursor(ctx context.Context, accountID, folder string) (*model.SyncCursor, error)
	ClaimSyncCursor(ctx context.Context, accountID, folder string) error
	AdvanceSyncCursor(ctx context.Context, accountID, folder string, uid int64) error
	ReleaseSyncCursor(ctx context.Context, accountID, folder string, status model.SyncStatus, lastError string) error
	SweepStuckCursors(ctx context.Context, olderThan time.Duration) (int, error)

	// Job operations
	EnqueueJob(ctx context.Context, job *model.Job) error
	ClaimNextJob(ctx context.Context) (*model.Job, error)
	CompleteJob(ctx context.Context, id string) error
	RetryJob(ctx context.Context, id string, availableAt time.Time, lastError string) error
	FailJob(ctx context.Context, id string, lastError string) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	GetQueueStats(ctx context.Context) (*QueueStats, error)
	SweepStaleJobs(ctx context.Context, olderThan time.Duration) (int, error)

	// Extraction operations
	SaveExtraction(ctx context.Context, extraction *model.Extraction) error
	GetExtractionBySourceItem(ctx context.Context, sourceItemID string) (*model.Extraction, error)

	// Transaction (ledger) operations
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)
	GetCandidateTransactions(ctx context.Context, userID string, from, to time.Time) ([]model.Transaction, error)

	// Match operations
	ReplaceUnapprovedMatches(ctx context.Context, sourceItemID string, matches []model.Match) error
	GetMatch(ctx context.Context, id string) (*model.Match, error)
	GetMatchesForSourceItem(ctx context.Context, sourceItemID string) ([]model.Match, error)
	ApproveMatch(ctx context.Context, id, actor string, matchType model.MatchType) error
	RejectMatch(ctx context.Context, id, actor, reason string) error
	UnmatchMatch(ctx context.Context, id string) error
	ListSuggestedMatches(ctx context.Context, userID string) ([]model.Match, error)

	// Exchange rate lookups (table is consumed, not computed)
	GetExchangeRate(ctx context.Context, date time.Time, from, to string) (float64, error)
	SaveExchangeRates(ctx context.Context, rates []model.ExchangeRate) error

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// MailItem is one message fetched from the external mail provider. A fetch
// never aborts on a single bad message; instead ParseError is set and the
// sync engine records the item with status=error.
type MailItem struct {
	ReceivedAt time.Time
	Subject    string
	Sender     string
	RawRef     string
	Body       string
	ParseError string
	UID        int64
}

// MailSource defines the contract for the external mail provider.
type MailSource interface {
	// FetchSince returns folder items with UID > sinceUID in ascending UID
	// order. sinceUID of 0 fetches the entire folder.
	FetchSince(ctx context.Context, accountID, folder string, sinceUID int64) ([]MailItem, error)
}

// Extractor defines the contract for the external extraction model.
// Any non-success response is a handler failure eligible for retry.
type Extractor interface {
	Extract(ctx context.Context, item *model.SourceItem) (*model.Extraction, error)
}

// RateSource resolves an exchange rate for a date and currency pair.
// A missing rate is reported via common.ErrRateNotFound and must not abort
// matching; it only disqualifies the converted comparison for that candidate.
type RateSource interface {
	GetRate(ctx context.Context, date time.Time, from, to string) (float64, error)
}

// SyncResult summarizes one folder sync run. Errors carries per-item parse
// failures and other non-fatal problems; Errored counts the unparseable items
// recorded with status=error, separately from the cleanly indexed ones.
type SyncResult struct {
	AccountID string
	Folder    string
	Errors    []string
	Indexed   int
	Errored   int
	Skipped   int
}

// MultiFolderSyncResult aggregates independent per-folder runs; one folder's
// failure never blocks the others.
type MultiFolderSyncResult struct {
	Folders      []SyncResult
	Errors       []string
	TotalIndexed int
	TotalErrored int
	TotalSkipped int
}

// QueueStats is a queue-wide snapshot by job state.
type QueueStats struct {
	Pending   int
	Active    int
	Completed int
	Failed    int
}

// AutoMatchResult summarizes an auto-match pass.
type AutoMatchResult struct {
	Matched int
	Skipped int
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
