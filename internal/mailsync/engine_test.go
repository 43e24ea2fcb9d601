package mailsync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/model"
	"github.com/dsil-design/joot-reconcile/internal/queue"
	"github.com/dsil-design/joot-reconcile/internal/service"
	"github.com/dsil-design/joot-reconcile/internal/storage"
)

// mailSourceFunc adapts a function to the MailSource interface.
type mailSourceFunc func(ctx context.Context, accountID, folder string, sinceUID int64) ([]service.MailItem, error)

func (f mailSourceFunc) FetchSince(ctx context.Context, accountID, folder string, sinceUID int64) ([]service.MailItem, error) {
	return f(ctx, accountID, folder, sinceUID)
}

func createTestSync(t *testing.T, mail service.MailSource) (*Engine, *storage.SQLiteStorage, *queue.Queue) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := storage.NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	jobs := queue.New(store, queue.DefaultConfig())
	return New(store, mail, jobs, DefaultConfig()), store, jobs
}

func receiptItem(uid int64) service.MailItem {
	return service.MailItem{
		UID:        uid,
		ReceivedAt: time.Now().UTC(),
		Subject:    "Your receipt from Starbucks",
		Sender:     "receipts@starbucks.com",
		RawRef:     "raw/starbucks",
		Body:       "Total: $4.50, thank you for your purchase",
	}
}

func TestSyncFolder_IndexesAndClassifiesItems(t *testing.T) {
	items := []service.MailItem{
		receiptItem(101),
		{
			UID: 102, ReceivedAt: time.Now().UTC(),
			Subject: "Hello", Sender: "friend@example.com", Body: "see you tomorrow",
		},
		{
			UID: 103, ReceivedAt: time.Now().UTC(),
			Subject: "broken", Sender: "x@example.com", ParseError: "malformed MIME part",
		},
	}
	engine, store, jobs := createTestSync(t, mailSourceFunc(
		func(_ context.Context, _, _ string, _ int64) ([]service.MailItem, error) {
			return items, nil
		}))
	ctx := context.Background()

	result, err := engine.SyncFolder(ctx, "user-1", "acct-1", "INBOX", queue.SyncModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Indexed)
	assert.Equal(t, 1, result.Errored)
	assert.Zero(t, result.Skipped)

	// The parse failure is surfaced in the run result, not just on the row.
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "malformed MIME part")
	assert.Contains(t, result.Errors[0], "103")

	// Receipt candidate is indexed and queued for extraction.
	receipt, err := store.GetSourceItemByUID(ctx, "acct-1", "INBOX", 101)
	require.NoError(t, err)
	assert.Equal(t, model.SourceStatusIndexed, receipt.Status)
	assert.GreaterOrEqual(t, receipt.DetectionScore, 40)

	// Non-receipt is kept but not an extraction candidate.
	other, err := store.GetSourceItemByUID(ctx, "acct-1", "INBOX", 102)
	require.NoError(t, err)
	assert.Equal(t, model.SourceStatusSkipped, other.Status)

	// A per-item parse failure is recorded, not fatal.
	broken, err := store.GetSourceItemByUID(ctx, "acct-1", "INBOX", 103)
	require.NoError(t, err)
	assert.Equal(t, model.SourceStatusError, broken.Status)
	assert.Equal(t, "malformed MIME part", broken.LastError)

	// Exactly one extract job, for the receipt candidate.
	stats, err := jobs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)

	// The cursor advanced past everything durably recorded.
	cursor, err := store.GetSyncCursor(ctx, "acct-1", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, int64(103), cursor.LastUIDSeen)
	assert.Equal(t, model.SyncStatusCompleted, cursor.Status)
}

func TestSyncFolder_IncrementalPassesHighWaterMark(t *testing.T) {
	var gotSince int64 = -1
	engine, _, _ := createTestSync(t, mailSourceFunc(
		func(_ context.Context, _, _ string, sinceUID int64) ([]service.MailItem, error) {
			gotSince = sinceUID
			if sinceUID >= 101 {
				return nil, nil
			}
			return []service.MailItem{receiptItem(101)}, nil
		}))
	ctx := context.Background()

	_, err := engine.SyncFolder(ctx, "user-1", "acct-1", "INBOX", queue.SyncModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gotSince)

	result, err := engine.SyncFolder(ctx, "user-1", "acct-1", "INBOX", queue.SyncModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, int64(101), gotSince)
	assert.Zero(t, result.Indexed)

	// A full sync ignores the cursor but re-delivery is still a no-op.
	result, err = engine.SyncFolder(ctx, "user-1", "acct-1", "INBOX", queue.SyncModeFull)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gotSince)
	assert.Zero(t, result.Indexed)
	assert.Equal(t, 1, result.Skipped)
}

func TestSyncFolder_MutualExclusion(t *testing.T) {
	engine, store, _ := createTestSync(t, mailSourceFunc(
		func(context.Context, string, string, int64) ([]service.MailItem, error) {
			return nil, nil
		}))
	ctx := context.Background()

	// Simulate an in-flight run holding the cursor.
	require.NoError(t, store.ClaimSyncCursor(ctx, "acct-1", "INBOX"))

	_, err := engine.SyncFolder(ctx, "user-1", "acct-1", "INBOX", queue.SyncModeIncremental)
	assert.ErrorIs(t, err, common.ErrSyncAlreadyRunning)
}

func TestSyncFolder_FetchFailureReleasesCursor(t *testing.T) {
	engine, store, _ := createTestSync(t, mailSourceFunc(
		func(context.Context, string, string, int64) ([]service.MailItem, error) {
			return nil, errors.New("provider unavailable")
		}))
	ctx := context.Background()

	_, err := engine.SyncFolder(ctx, "user-1", "acct-1", "INBOX", queue.SyncModeIncremental)
	require.Error(t, err)

	cursor, err := store.GetSyncCursor(ctx, "acct-1", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusFailed, cursor.Status)
	assert.Contains(t, cursor.LastError, "provider unavailable")

	// The folder is immediately claimable again.
	require.NoError(t, store.ClaimSyncCursor(ctx, "acct-1", "INBOX"))
}

func TestSyncFolders_IsolatesFolderFailures(t *testing.T) {
	engine, _, _ := createTestSync(t, mailSourceFunc(
		func(_ context.Context, _, folder string, _ int64) ([]service.MailItem, error) {
			if folder == "Broken" {
				return nil, errors.New("folder gone")
			}
			return []service.MailItem{receiptItem(201)}, nil
		}))
	ctx := context.Background()

	result, err := engine.SyncFolders(ctx, "user-1", "acct-1",
		[]string{"INBOX", "Broken", "Receipts"}, queue.SyncModeIncremental)
	require.NoError(t, err)

	assert.Len(t, result.Folders, 3)
	assert.Equal(t, 2, result.TotalIndexed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Broken")
}

func TestDetectionScore(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		sender  string
		body    string
		want    func(t *testing.T, score int)
	}{
		{
			name:    "obvious receipt",
			subject: "Your receipt from Starbucks",
			sender:  "receipts@starbucks.com",
			body:    "Order total: $4.50, thank you for your purchase",
			want: func(t *testing.T, score int) {
				t.Helper()
				assert.GreaterOrEqual(t, score, 40)
			},
		},
		{
			name:    "personal mail",
			subject: "Lunch tomorrow?",
			sender:  "friend@example.com",
			body:    "Want to grab lunch at noon?",
			want: func(t *testing.T, score int) {
				t.Helper()
				assert.Less(t, score, 40)
			},
		},
		{
			name:    "score is clamped",
			subject: "receipt invoice order confirmation payment received purchase transaction billing",
			sender:  "receipt-invoice-billing-payment@paypal.com",
			body:    "total subtotal amount paid order total payment method $",
			want: func(t *testing.T, score int) {
				t.Helper()
				assert.Equal(t, 100, score)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.want(t, DetectionScore(tt.subject, tt.sender, tt.body))
		})
	}
}
