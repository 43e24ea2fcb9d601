// Package reconcile implements the human review workflow over suggested
// matches: approve, reject, skip, and unmatch. Every mutation enforces
// ownership of the underlying rows and the one-approved-match-per-side
// invariant.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/model"
	"github.com/dsil-design/joot-reconcile/internal/service"
)

// Service coordinates reconciliation decisions.
type Service struct {
	storage service.Storage
}

// New creates a reconciliation service.
func New(storage service.Storage) *Service {
	return &Service{storage: storage}
}

// Approve confirms a suggested match on behalf of the item's owner. The
// approval is conditional: it fails with common.ErrApprovedMatchExists if
// either side already carries an approved match, and with
// common.ErrMatchNotSuggested if the match is not in the suggested state.
// Confirming the engine's top-ranked suggestion keeps its auto attribution;
// picking any other candidate records a manual override.
func (s *Service) Approve(ctx context.Context, userID, matchID string) error {
	m, err := s.ownedMatch(ctx, userID, matchID)
	if err != nil {
		return err
	}

	matchType, err := s.approvalType(ctx, m)
	if err != nil {
		return err
	}

	if err := s.storage.ApproveMatch(ctx, matchID, userID, matchType); err != nil {
		return err
	}

	slog.Info("Match approved", "match_id", matchID, "user_id", userID, "match_type", matchType)
	return nil
}

// approvalType resolves the type to record on approval: auto when the match
// is the best-scored suggestion for its source item, manual otherwise.
func (s *Service) approvalType(ctx context.Context, m *model.Match) (model.MatchType, error) {
	if m.Type != model.MatchTypeAuto {
		return model.MatchTypeManual, nil
	}

	matches, err := s.storage.GetMatchesForSourceItem(ctx, m.SourceItemID)
	if err != nil {
		return "", fmt.Errorf("failed to load matches for source item: %w", err)
	}
	for _, cand := range matches {
		if cand.State != model.MatchStateSuggested {
			continue
		}
		if cand.ID == m.ID {
			return model.MatchTypeAuto, nil
		}
		return model.MatchTypeManual, nil
	}
	return model.MatchTypeManual, nil
}

// Reject marks a suggested match as wrong. Rejection is terminal for the
// match record, but a later candidate regeneration may suggest the same pair
// again.
func (s *Service) Reject(ctx context.Context, userID, matchID, reason string) error {
	if _, err := s.ownedMatch(ctx, userID, matchID); err != nil {
		return err
	}

	if err := s.storage.RejectMatch(ctx, matchID, userID, reason); err != nil {
		return err
	}

	slog.Info("Match rejected", "match_id", matchID, "user_id", userID)
	return nil
}

// Unmatch reverses an approved match: the match returns to suggested and the
// transaction's back-reference is cleared, freeing both sides for new
// approvals.
func (s *Service) Unmatch(ctx context.Context, userID, matchID string) error {
	if _, err := s.ownedMatch(ctx, userID, matchID); err != nil {
		return err
	}

	if err := s.storage.UnmatchMatch(ctx, matchID); err != nil {
		return err
	}

	slog.Info("Match unmatched", "match_id", matchID, "user_id", userID)
	return nil
}

// Skip marks a source item as not reconcilable. The item keeps its data and
// any rejected match history but leaves the matching work set.
func (s *Service) Skip(ctx context.Context, userID, sourceItemID, notes string) error {
	item, err := s.storage.GetSourceItem(ctx, sourceItemID)
	if err != nil {
		return err
	}
	if item.UserID != userID {
		return common.ErrNotOwner
	}

	matches, err := s.storage.GetMatchesForSourceItem(ctx, sourceItemID)
	if err != nil {
		return fmt.Errorf("failed to load matches for source item: %w", err)
	}
	for _, m := range matches {
		if m.Approved() {
			return common.ErrApprovedMatchExists
		}
	}

	if err := s.storage.SetSourceItemStatus(ctx, sourceItemID, model.SourceStatusSkipped, notes); err != nil {
		return fmt.Errorf("failed to skip source item: %w", err)
	}

	slog.Info("Source item skipped", "source_item_id", sourceItemID, "user_id", userID)
	return nil
}

// Suggestions lists the user's pending suggested matches for review, best
// score first per source item.
func (s *Service) Suggestions(ctx context.Context, userID string) ([]model.Match, error) {
	return s.storage.ListSuggestedMatches(ctx, userID)
}

// ownedMatch loads a match and verifies the caller owns its source item.
func (s *Service) ownedMatch(ctx context.Context, userID, matchID string) (*model.Match, error) {
	m, err := s.storage.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	item, err := s.storage.GetSourceItem(ctx, m.SourceItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source item for match: %w", err)
	}
	if item.UserID != userID {
		return nil, common.ErrNotOwner
	}
	return m, nil
}
