package match

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsil-design/joot-reconcile/internal/model"
	"github.com/dsil-design/joot-reconcile/internal/storage"
)

func createTestEngine(t *testing.T) (*Engine, *storage.SQLiteStorage) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := storage.NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	return New(store, NewStorageRateSource(store)), store
}

func seedReceipt(t *testing.T, store *storage.SQLiteStorage, itemID, vendor string, amount float64, date time.Time) {
	t.Helper()
	ctx := context.Background()

	_, err := store.UpsertSourceItems(ctx, []model.SourceItem{{
		ID:          itemID,
		UserID:      "user-1",
		AccountID:   "acct-1",
		Folder:      "INBOX",
		ExternalUID: time.Now().UnixNano(),
		ReceivedAt:  date,
		Status:      model.SourceStatusIndexed,
	}})
	require.NoError(t, err)

	require.NoError(t, store.SaveExtraction(ctx, &model.Extraction{
		ID:              itemID + "-ext",
		SourceItemID:    itemID,
		VendorName:      vendor,
		Amount:          amount,
		Currency:        "USD",
		TransactionDate: date,
	}))
}

func seedLedger(t *testing.T, store *storage.SQLiteStorage, txns ...model.Transaction) {
	t.Helper()
	for i := range txns {
		if txns[i].UserID == "" {
			txns[i].UserID = "user-1"
		}
		if txns[i].Currency == "" {
			txns[i].Currency = "USD"
		}
		txns[i].Hash = txns[i].GenerateHash()
	}
	require.NoError(t, store.SaveTransactions(context.Background(), txns))
}

func TestAutoMatchItem_ApprovesConfidentUniqueMatch(t *testing.T) {
	engine, store := createTestEngine(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	seedReceipt(t, store, "item-1", "Kohl's", 45.99, day)
	seedLedger(t, store,
		model.Transaction{ID: "txn-kohls", VendorName: "Kohl's", Amount: 45.99, Date: day},
		model.Transaction{ID: "txn-other", VendorName: "Target", Amount: 120.00, Date: day},
	)

	matched, err := engine.AutoMatchItem(ctx, "item-1")
	require.NoError(t, err)
	assert.True(t, matched)

	matches, err := store.GetMatchesForSourceItem(ctx, "item-1")
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	top := matches[0]
	assert.Equal(t, "txn-kohls", top.TransactionID)
	assert.Equal(t, model.MatchStateApproved, top.State)
	assert.Equal(t, model.MatchTypeAuto, top.Type)
	assert.InDelta(t, 100, top.ConfidenceScore, 0.01)

	txn, err := store.GetTransactionByID(ctx, "txn-kohls")
	require.NoError(t, err)
	assert.Equal(t, "item-1", txn.MatchedSourceItemID)
}

func TestAutoMatchItem_AmbiguousRunnerUpBlocksApproval(t *testing.T) {
	engine, store := createTestEngine(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	// Two transactions that both look right: same amount and vendor, one a
	// day apart. Scores land at 100 and 90.
	seedReceipt(t, store, "item-1", "Kohl's", 45.99, day)
	seedLedger(t, store,
		model.Transaction{ID: "txn-a", VendorName: "Kohl's", Amount: 45.99, Date: day},
		model.Transaction{ID: "txn-b", VendorName: "KOHL'S", Amount: 45.99, Date: day.AddDate(0, 0, 1)},
	)

	matched, err := engine.AutoMatchItem(ctx, "item-1")
	require.NoError(t, err)
	assert.False(t, matched, "two plausible candidates must not auto-approve")

	// Both remain suggested for human review.
	matches, err := store.GetMatchesForSourceItem(ctx, "item-1")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Equal(t, model.MatchStateSuggested, m.State)
	}
}

func TestGenerateCandidates_IdempotentRegeneration(t *testing.T) {
	engine, store := createTestEngine(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	seedReceipt(t, store, "item-1", "Kohl's", 45.99, day)
	seedLedger(t, store,
		model.Transaction{ID: "txn-a", VendorName: "Kohl's", Amount: 45.99, Date: day},
		model.Transaction{ID: "txn-b", VendorName: "Kohl's", Amount: 46.50, Date: day.AddDate(0, 0, 1)},
	)

	first, err := engine.GenerateCandidates(ctx, "item-1")
	require.NoError(t, err)
	second, err := engine.GenerateCandidates(ctx, "item-1")
	require.NoError(t, err)

	assert.Len(t, second, len(first))

	stored, err := store.GetMatchesForSourceItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Len(t, stored, len(first), "regeneration must not duplicate pairs")

	// Ranked by score, best first.
	for i := 1; i < len(stored); i++ {
		assert.GreaterOrEqual(t, stored[i-1].ConfidenceScore, stored[i].ConfidenceScore)
	}
}

func TestGenerateCandidates_ScoresStayInBounds(t *testing.T) {
	engine, store := createTestEngine(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	seedReceipt(t, store, "item-1", "Kohl's", 45.99, day)
	seedLedger(t, store,
		model.Transaction{ID: "txn-a", VendorName: "Kohl's", Amount: 45.99, Date: day},
		model.Transaction{ID: "txn-b", VendorName: "Kohl's", Amount: 300.00, Date: day},
	)

	candidates, err := engine.GenerateCandidates(ctx, "item-1")
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	for _, c := range candidates {
		assert.GreaterOrEqual(t, c.ConfidenceScore, 0.0)
		assert.LessOrEqual(t, c.ConfidenceScore, 100.0)
	}

	// The far-amount candidate is capped at 60 even with perfect date and
	// vendor contributions.
	for _, c := range candidates {
		if c.TransactionID == "txn-b" {
			assert.LessOrEqual(t, c.ConfidenceScore, 60.0)
		}
	}
}

func TestGenerateCandidates_MissingRateSkipsConversionOnly(t *testing.T) {
	engine, store := createTestEngine(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	// Receipt in THB, ledger in USD, no rate on file: the amount axis is
	// disqualified but date and vendor still score.
	_, err := store.UpsertSourceItems(ctx, []model.SourceItem{{
		ID: "item-1", UserID: "user-1", AccountID: "acct-1", Folder: "INBOX",
		ExternalUID: 1, ReceivedAt: day, Status: model.SourceStatusIndexed,
	}})
	require.NoError(t, err)
	require.NoError(t, store.SaveExtraction(ctx, &model.Extraction{
		ID: "ext-1", SourceItemID: "item-1", VendorName: "Kohl's",
		Amount: 1650.00, Currency: "THB", TransactionDate: day,
	}))
	seedLedger(t, store,
		model.Transaction{ID: "txn-a", VendorName: "Kohl's", Amount: 45.99, Date: day, Currency: "USD"},
	)

	candidates, err := engine.GenerateCandidates(ctx, "item-1")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.InDelta(t, 60, candidates[0].ConfidenceScore, 0.01, "date + vendor only")

	foundReason := false
	for _, reason := range candidates[0].Reasons {
		if strings.Contains(reason, "rate") {
			foundReason = true
		}
	}
	assert.True(t, foundReason, "reasons should mention the skipped conversion path")
}

func TestAutoMatch_SweepsUserWorkSet(t *testing.T) {
	engine, store := createTestEngine(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	seedReceipt(t, store, "item-confident", "Kohl's", 45.99, day)
	seedReceipt(t, store, "item-weak", "Unknown Vendor", 7.77, day)
	seedLedger(t, store,
		model.Transaction{ID: "txn-kohls", VendorName: "Kohl's", Amount: 45.99, Date: day},
	)

	result, err := engine.AutoMatch(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, 1, result.Skipped)

	// The approved item leaves the work set; a second pass matches nothing.
	result, err = engine.AutoMatch(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, result.Matched)
}
