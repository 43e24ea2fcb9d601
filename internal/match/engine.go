package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/model"
	"github.com/dsil-design/joot-reconcile/internal/service"
)

// Engine scores candidate pairs and applies the auto-match policy.
type Engine struct {
	storage service.Storage
	rates   service.RateSource
	cfg     Config
}

// New creates a matching engine with the default configuration.
func New(storage service.Storage, rates service.RateSource) *Engine {
	return NewWithConfig(storage, rates, DefaultConfig())
}

// NewWithConfig creates a matching engine with custom configuration.
func NewWithConfig(storage service.Storage, rates service.RateSource, cfg Config) *Engine {
	return &Engine{
		storage: storage,
		rates:   rates,
		cfg:     cfg,
	}
}

// GenerateCandidates scores a source item's extraction against the owner's
// ledger transactions inside the date tolerance window and persists the
// resulting suggestions. Regeneration is idempotent: unapproved matches are
// replaced, approved matches are left untouched, and no duplicate pairs are
// created. A source item that already holds an approved match generates
// nothing new.
func (e *Engine) GenerateCandidates(ctx context.Context, sourceItemID string) ([]model.Match, error) {
	existing, err := e.storage.GetMatchesForSourceItem(ctx, sourceItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing matches: %w", err)
	}
	for _, m := range existing {
		if m.Approved() {
			slog.Debug("Source item already has an approved match, skipping generation",
				"source_item_id", sourceItemID)
			return existing, nil
		}
	}

	candidates, err := e.scoreCandidates(ctx, sourceItemID, false)
	if err != nil {
		return nil, err
	}

	if err := e.storage.ReplaceUnapprovedMatches(ctx, sourceItemID, candidates); err != nil {
		return nil, fmt.Errorf("failed to persist candidates: %w", err)
	}

	slog.Info("Generated match candidates",
		"source_item_id", sourceItemID,
		"candidates", len(candidates))
	return candidates, nil
}

// FindSuggestions computes candidates without persisting anything: a
// read-only preview. Transactions that already hold an approved match are
// included but clearly marked.
func (e *Engine) FindSuggestions(ctx context.Context, sourceItemID string) ([]model.Match, error) {
	return e.scoreCandidates(ctx, sourceItemID, true)
}

// scoreCandidates builds the ranked candidate list for one source item.
// includeMatched keeps already-matched transactions in the list (marked) for
// manual review; the auto path excludes them.
func (e *Engine) scoreCandidates(ctx context.Context, sourceItemID string, includeMatched bool) ([]model.Match, error) {
	item, err := e.storage.GetSourceItem(ctx, sourceItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source item: %w", err)
	}

	extraction, err := e.storage.GetExtractionBySourceItem(ctx, sourceItemID)
	if err != nil {
		if errors.Is(err, common.ErrNoExtraction) {
			return nil, common.ErrNoExtraction
		}
		return nil, fmt.Errorf("failed to load extraction: %w", err)
	}

	tolerance := time.Duration(e.cfg.DateToleranceDays) * 24 * time.Hour
	from := extraction.TransactionDate.Add(-tolerance)
	to := extraction.TransactionDate.Add(tolerance)

	transactions, err := e.storage.GetCandidateTransactions(ctx, item.UserID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate transactions: %w", err)
	}

	type scored struct {
		txn    model.Transaction
		result scoreResult
	}
	var results []scored
	for _, txn := range transactions {
		alreadyMatched := txn.MatchedSourceItemID != ""
		if alreadyMatched && !includeMatched {
			continue
		}

		result, err := e.score(ctx, extraction, &txn)
		if err != nil {
			return nil, err
		}
		if result.Score < e.cfg.MinScore {
			continue
		}
		if alreadyMatched {
			result.Reasons = append(result.Reasons, "transaction already matched to another source item")
		}
		results = append(results, scored{txn: txn, result: result})
	}

	// Rank by score; break ties by smallest absolute amount difference,
	// then by most recent transaction.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].result.Score != results[j].result.Score {
			return results[i].result.Score > results[j].result.Score
		}
		if results[i].result.AmountDiff != results[j].result.AmountDiff {
			return results[i].result.AmountDiff < results[j].result.AmountDiff
		}
		return results[i].txn.Date.After(results[j].txn.Date)
	})

	matches := make([]model.Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, model.Match{
			ID:              uuid.NewString(),
			SourceItemID:    sourceItemID,
			TransactionID:   r.txn.ID,
			ConfidenceScore: r.result.Score,
			Type:            model.MatchTypeAuto,
			State:           model.MatchStateSuggested,
			Reasons:         r.result.Reasons,
			CreatedAt:       time.Now().UTC(),
		})
	}
	return matches, nil
}

// AutoMatchItem generates candidates for one source item and approves the
// top one only if it clears the auto-approve threshold and has no close
// runner-up. Returns whether a match was auto-approved.
func (e *Engine) AutoMatchItem(ctx context.Context, sourceItemID string) (bool, error) {
	candidates, err := e.GenerateCandidates(ctx, sourceItemID)
	if err != nil {
		return false, err
	}
	if len(candidates) == 0 {
		return false, nil
	}

	top := candidates[0]
	if top.Approved() {
		// Generation short-circuited on an existing approval.
		return false, nil
	}
	if top.ConfidenceScore < e.cfg.AutoApproveThreshold {
		return false, nil
	}

	// The tie-ambiguity rule: a close runner-up means two plausible
	// transactions, and the engine must not silently pick between them.
	for _, other := range candidates[1:] {
		if other.ConfidenceScore >= e.cfg.AmbiguityThreshold {
			slog.Info("Auto-match skipped due to ambiguous runner-up",
				"source_item_id", sourceItemID,
				"top_score", top.ConfidenceScore,
				"runner_up_score", other.ConfidenceScore)
			return false, nil
		}
	}

	err = e.storage.ApproveMatch(ctx, top.ID, "auto-match", model.MatchTypeAuto)
	if err != nil {
		if common.IsConflict(err) {
			// Another approval landed first; leave for review.
			return false, nil
		}
		return false, fmt.Errorf("failed to auto-approve match: %w", err)
	}

	slog.Info("Auto-approved match",
		"source_item_id", sourceItemID,
		"transaction_id", top.TransactionID,
		"score", top.ConfidenceScore)
	return true, nil
}

// AutoMatch runs the auto-match policy over all of a user's unmatched source
// items.
func (e *Engine) AutoMatch(ctx context.Context, userID string) (*service.AutoMatchResult, error) {
	items, err := e.storage.ListUnmatchedSourceItems(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmatched source items: %w", err)
	}

	result := &service.AutoMatchResult{}
	for _, item := range items {
		matched, err := e.AutoMatchItem(ctx, item.ID)
		if err != nil {
			if errors.Is(err, common.ErrNoExtraction) {
				result.Skipped++
				continue
			}
			return nil, err
		}
		if matched {
			result.Matched++
		} else {
			result.Skipped++
		}
	}
	return result, nil
}
