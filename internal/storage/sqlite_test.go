package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/model"
)

// createTestStorage creates a migrated temp-file store for one test.
func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func testSourceItem(id string, uid int64) model.SourceItem {
	return model.SourceItem{
		ID:          id,
		UserID:      "user-1",
		AccountID:   "acct-1",
		Folder:      "INBOX",
		ExternalUID: uid,
		ReceivedAt:  time.Now().UTC(),
		RawRef:      fmt.Sprintf("raw/%s", id),
		Subject:     "Your receipt",
		Sender:      "receipts@example.com",
		Status:      model.SourceStatusIndexed,
	}
}

func testTransaction(id string, amount float64, date time.Time) model.Transaction {
	txn := model.Transaction{
		ID:         id,
		UserID:     "user-1",
		VendorName: "Kohl's",
		Amount:     amount,
		Currency:   "USD",
		Date:       date,
	}
	txn.Hash = txn.GenerateHash()
	return txn
}

func seedPair(t *testing.T, store *SQLiteStorage, itemID, txnID string) {
	t.Helper()
	ctx := context.Background()

	_, err := store.UpsertSourceItems(ctx, []model.SourceItem{testSourceItem(itemID, time.Now().UnixNano())})
	require.NoError(t, err)
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		testTransaction(txnID, 45.99, time.Now().UTC()),
	}))
}

func seedSuggestedMatch(t *testing.T, store *SQLiteStorage, id, itemID, txnID string, score float64) {
	t.Helper()
	require.NoError(t, store.ReplaceUnapprovedMatches(context.Background(), itemID, []model.Match{{
		ID:              id,
		SourceItemID:    itemID,
		TransactionID:   txnID,
		ConfidenceScore: score,
		Type:            model.MatchTypeAuto,
		State:           model.MatchStateSuggested,
		Reasons:         []string{"amounts match exactly"},
	}}))
}

func TestUpsertSourceItems_RedeliveryIsNoOp(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	items := []model.SourceItem{testSourceItem("item-1", 100), testSourceItem("item-2", 101)}
	inserted, err := store.UpsertSourceItems(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Re-delivery of the same provider items under fresh row ids.
	redelivered := []model.SourceItem{testSourceItem("item-3", 100), testSourceItem("item-4", 102)}
	inserted, err = store.UpsertSourceItems(ctx, redelivered)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted, "only the genuinely new uid should insert")

	// The original row survives under its original id.
	got, err := store.GetSourceItemByUID(ctx, "acct-1", "INBOX", 100)
	require.NoError(t, err)
	assert.Equal(t, "item-1", got.ID)
}

func TestSetSourceItemStatus(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	_, err := store.UpsertSourceItems(ctx, []model.SourceItem{testSourceItem("item-1", 1)})
	require.NoError(t, err)

	require.NoError(t, store.SetSourceItemStatus(ctx, "item-1", model.SourceStatusSkipped, "personal purchase"))

	got, err := store.GetSourceItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceStatusSkipped, got.Status)
	assert.Equal(t, "personal purchase", got.ReviewNotes)

	err = store.SetSourceItemStatus(ctx, "missing", model.SourceStatusSkipped, "")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDeleteSourceItem_BlockedByApprovedMatch(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	seedPair(t, store, "item-1", "txn-1")
	seedSuggestedMatch(t, store, "match-1", "item-1", "txn-1", 95)
	require.NoError(t, store.ApproveMatch(ctx, "match-1", "user-1", model.MatchTypeManual))

	err := store.DeleteSourceItem(ctx, "item-1")
	assert.ErrorIs(t, err, common.ErrApprovedMatchExists)

	// After unmatching, deletion cascades the extraction and matches.
	require.NoError(t, store.UnmatchMatch(ctx, "match-1"))
	require.NoError(t, store.SaveExtraction(ctx, &model.Extraction{
		ID:              "ext-1",
		SourceItemID:    "item-1",
		VendorName:      "Kohl's",
		Amount:          45.99,
		Currency:        "USD",
		TransactionDate: time.Now().UTC(),
	}))
	require.NoError(t, store.DeleteSourceItem(ctx, "item-1"))

	_, err = store.GetSourceItem(ctx, "item-1")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = store.GetExtractionBySourceItem(ctx, "item-1")
	assert.ErrorIs(t, err, common.ErrNoExtraction)
	_, err = store.GetMatch(ctx, "match-1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestClaimSyncCursor_MutualExclusion(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.ClaimSyncCursor(ctx, "acct-1", "INBOX"))

	// A concurrent claim on the same pair fails fast.
	err := store.ClaimSyncCursor(ctx, "acct-1", "INBOX")
	assert.ErrorIs(t, err, common.ErrSyncAlreadyRunning)

	// A different folder is independent.
	require.NoError(t, store.ClaimSyncCursor(ctx, "acct-1", "Receipts"))

	// Releasing frees the pair for the next claim.
	require.NoError(t, store.ReleaseSyncCursor(ctx, "acct-1", "INBOX", model.SyncStatusCompleted, ""))
	require.NoError(t, store.ClaimSyncCursor(ctx, "acct-1", "INBOX"))
}

func TestAdvanceSyncCursor_Monotonic(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.ClaimSyncCursor(ctx, "acct-1", "INBOX"))
	require.NoError(t, store.AdvanceSyncCursor(ctx, "acct-1", "INBOX", 50))

	// Attempting to move backwards is a no-op, not an error.
	require.NoError(t, store.AdvanceSyncCursor(ctx, "acct-1", "INBOX", 10))

	cursor, err := store.GetSyncCursor(ctx, "acct-1", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, int64(50), cursor.LastUIDSeen)

	require.NoError(t, store.AdvanceSyncCursor(ctx, "acct-1", "INBOX", 80))
	cursor, err = store.GetSyncCursor(ctx, "acct-1", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, int64(80), cursor.LastUIDSeen)
}

func TestSweepStuckCursors(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.ClaimSyncCursor(ctx, "acct-1", "INBOX"))

	// A fresh run is not stuck.
	swept, err := store.SweepStuckCursors(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, swept)

	// Backdate the run start past the stuck timeout.
	_, err = store.db.ExecContext(ctx, `UPDATE sync_cursors SET started_at = ?`,
		time.Now().UTC().Add(-2*time.Hour))
	require.NoError(t, err)

	swept, err = store.SweepStuckCursors(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	cursor, err := store.GetSyncCursor(ctx, "acct-1", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusFailed, cursor.Status)
	assert.Contains(t, cursor.LastError, "marked failed by cleanup")

	// Sweeping again finds nothing, and the folder is claimable again.
	swept, err = store.SweepStuckCursors(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, swept)
	require.NoError(t, store.ClaimSyncCursor(ctx, "acct-1", "INBOX"))
}

func TestJobLifecycle(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	job := &model.Job{ID: "job-1", Type: model.JobTypeSync, Payload: []byte(`{}`)}
	require.NoError(t, store.EnqueueJob(ctx, job))
	assert.Equal(t, 3, job.MaxRetries, "default retry limit")

	claimed, err := store.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "job-1", claimed.ID)
	assert.Equal(t, model.JobStateActive, claimed.State)

	// Nothing else is claimable while the job is active.
	second, err := store.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, store.CompleteJob(ctx, "job-1"))
	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, got.State)

	// Completing twice is a conflict, not silent success.
	assert.Error(t, store.CompleteJob(ctx, "job-1"))
}

func TestRetryJob_BackoffDelaysEligibility(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.EnqueueJob(ctx, &model.Job{ID: "job-1", Type: model.JobTypeExtract}))

	claimed, err := store.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, store.RetryJob(ctx, "job-1", time.Now().UTC().Add(time.Hour), "network timeout"))

	// Not eligible until the backoff elapses.
	reclaimed, err := store.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, reclaimed)

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateRetrying, got.State)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "network timeout", got.LastError)

	// Backdate the availability; the job becomes claimable again.
	_, err = store.db.ExecContext(ctx, `UPDATE jobs SET available_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Minute), "job-1")
	require.NoError(t, err)

	reclaimed, err = store.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, "job-1", reclaimed.ID)
}

func TestGetQueueStats(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.EnqueueJob(ctx, &model.Job{
			ID:   fmt.Sprintf("job-%d", i),
			Type: model.JobTypeMatch,
		}))
	}
	claimed, err := store.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, store.FailJob(ctx, claimed.ID, "boom"))

	claimed, err = store.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	stats, err := store.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Completed)
}

func TestSweepStaleJobs(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.EnqueueJob(ctx, &model.Job{ID: "job-1", Type: model.JobTypeSync}))
	claimed, err := store.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	_, err = store.db.ExecContext(ctx, `UPDATE jobs SET started_at = ?`,
		time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)

	swept, err := store.SweepStaleJobs(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, got.State)
	assert.Contains(t, got.LastError, "marked failed by cleanup")
}

func TestApproveMatch_OneApprovedPerSide(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	// Two source items both matched against the same transaction.
	_, err := store.UpsertSourceItems(ctx, []model.SourceItem{
		testSourceItem("item-1", 1),
		testSourceItem("item-2", 2),
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		testTransaction("txn-1", 45.99, time.Now().UTC()),
	}))
	seedSuggestedMatch(t, store, "match-1", "item-1", "txn-1", 95)
	seedSuggestedMatch(t, store, "match-2", "item-2", "txn-1", 88)

	require.NoError(t, store.ApproveMatch(ctx, "match-1", "user-1", model.MatchTypeManual))

	// The transaction is taken; the second approval must fail.
	err = store.ApproveMatch(ctx, "match-2", "user-1", model.MatchTypeManual)
	assert.ErrorIs(t, err, common.ErrApprovedMatchExists)

	txn, err := store.GetTransactionByID(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, "item-1", txn.MatchedSourceItemID)

	// Approving an already-approved match is rejected as not-suggested.
	err = store.ApproveMatch(ctx, "match-1", "user-1", model.MatchTypeManual)
	assert.ErrorIs(t, err, common.ErrMatchNotSuggested)
}

func TestUnmatchMatch_ReleasesBothSides(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	seedPair(t, store, "item-1", "txn-1")
	seedSuggestedMatch(t, store, "match-1", "item-1", "txn-1", 95)

	// Unmatching a suggested match is an error.
	err := store.UnmatchMatch(ctx, "match-1")
	assert.ErrorIs(t, err, common.ErrMatchNotApproved)

	require.NoError(t, store.ApproveMatch(ctx, "match-1", "user-1", model.MatchTypeManual))
	require.NoError(t, store.UnmatchMatch(ctx, "match-1"))

	got, err := store.GetMatch(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, model.MatchStateSuggested, got.State)
	assert.Nil(t, got.ApprovedAt)

	txn, err := store.GetTransactionByID(ctx, "txn-1")
	require.NoError(t, err)
	assert.Empty(t, txn.MatchedSourceItemID)

	// Both sides are free for a new approval.
	require.NoError(t, store.ApproveMatch(ctx, "match-1", "user-1", model.MatchTypeManual))
}

func TestReplaceUnapprovedMatches_PreservesApproved(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	_, err := store.UpsertSourceItems(ctx, []model.SourceItem{testSourceItem("item-1", 1)})
	require.NoError(t, err)
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		testTransaction("txn-1", 45.99, time.Now().UTC()),
		testTransaction("txn-2", 46.50, time.Now().UTC().Add(time.Hour)),
	}))

	require.NoError(t, store.ReplaceUnapprovedMatches(ctx, "item-1", []model.Match{
		{ID: "match-1", SourceItemID: "item-1", TransactionID: "txn-1", ConfidenceScore: 95, Type: model.MatchTypeAuto, State: model.MatchStateSuggested},
		{ID: "match-2", SourceItemID: "item-1", TransactionID: "txn-2", ConfidenceScore: 70, Type: model.MatchTypeAuto, State: model.MatchStateSuggested},
	}))
	require.NoError(t, store.ApproveMatch(ctx, "match-1", "user-1", model.MatchTypeManual))

	// Regeneration replaces the unapproved candidate but keeps the approval.
	require.NoError(t, store.ReplaceUnapprovedMatches(ctx, "item-1", []model.Match{
		{ID: "match-3", SourceItemID: "item-1", TransactionID: "txn-2", ConfidenceScore: 72, Type: model.MatchTypeAuto, State: model.MatchStateSuggested},
	}))

	matches, err := store.GetMatchesForSourceItem(ctx, "item-1")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "match-1", matches[0].ID)
	assert.Equal(t, model.MatchStateApproved, matches[0].State)
	assert.Equal(t, "match-3", matches[1].ID)
}

func TestRejectMatch(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	seedPair(t, store, "item-1", "txn-1")
	seedSuggestedMatch(t, store, "match-1", "item-1", "txn-1", 80)

	require.NoError(t, store.RejectMatch(ctx, "match-1", "user-1", "wrong vendor"))

	got, err := store.GetMatch(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, model.MatchStateRejected, got.State)
	assert.Equal(t, "wrong vendor", got.RejectReason)

	// Rejection is terminal for this record.
	err = store.RejectMatch(ctx, "match-1", "user-1", "again")
	assert.ErrorIs(t, err, common.ErrMatchNotSuggested)
}

func TestSaveExtraction_WriteOnce(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	_, err := store.UpsertSourceItems(ctx, []model.SourceItem{testSourceItem("item-1", 1)})
	require.NoError(t, err)

	first := &model.Extraction{
		ID: "ext-1", SourceItemID: "item-1", VendorName: "Kohl's",
		Amount: 45.99, Currency: "USD", TransactionDate: time.Now().UTC(),
	}
	require.NoError(t, store.SaveExtraction(ctx, first))

	// A second write for the same item changes nothing.
	second := &model.Extraction{
		ID: "ext-2", SourceItemID: "item-1", VendorName: "Different",
		Amount: 1.00, Currency: "USD", TransactionDate: time.Now().UTC(),
	}
	require.NoError(t, store.SaveExtraction(ctx, second))

	got, err := store.GetExtractionBySourceItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, "ext-1", got.ID)
	assert.Equal(t, "Kohl's", got.VendorName)
}

func TestGetExchangeRate(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveExchangeRates(ctx, []model.ExchangeRate{
		{Date: day, FromCurrency: "USD", ToCurrency: "THB", Rate: 36.5},
	}))

	rate, err := store.GetExchangeRate(ctx, day.Add(10*time.Hour), "USD", "THB")
	require.NoError(t, err)
	assert.InDelta(t, 36.5, rate, 0.001)

	// The inverse pair resolves through the same row.
	rate, err = store.GetExchangeRate(ctx, day, "THB", "USD")
	require.NoError(t, err)
	assert.InDelta(t, 1/36.5, rate, 0.0001)

	// Same currency is always 1.
	rate, err = store.GetExchangeRate(ctx, day, "USD", "USD")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)

	_, err = store.GetExchangeRate(ctx, day, "USD", "EUR")
	assert.ErrorIs(t, err, common.ErrRateNotFound)
}

func TestListUnmatchedSourceItems(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	_, err := store.UpsertSourceItems(ctx, []model.SourceItem{
		testSourceItem("item-extracted", 1),
		testSourceItem("item-no-extraction", 2),
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveExtraction(ctx, &model.Extraction{
		ID: "ext-1", SourceItemID: "item-extracted", VendorName: "Kohl's",
		Amount: 45.99, Currency: "USD", TransactionDate: time.Now().UTC(),
	}))

	items, err := store.ListUnmatchedSourceItems(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "item-extracted", items[0].ID)

	// An approved match removes the item from the work set.
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		testTransaction("txn-1", 45.99, time.Now().UTC()),
	}))
	seedSuggestedMatch(t, store, "match-1", "item-extracted", "txn-1", 95)
	require.NoError(t, store.ApproveMatch(ctx, "match-1", "user-1", model.MatchTypeManual))

	items, err = store.ListUnmatchedSourceItems(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, items)
}
