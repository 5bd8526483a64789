// Package categorization suggests categories for bank descriptions from
// learned regex patterns and learns those patterns from categorized history.
package categorization

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/repository"
	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
)

// Enqueuer accepts learning tasks without blocking.
type Enqueuer interface {
	Enqueue(task LearnTask) bool
}

// Service is the categorization entry point for import and manual edits.
type Service struct {
	patterns   PatternStore
	categories CategoryStore
	txs        repository.TransactionStore
	cache      *RegexCache
	learning   Enqueuer
	logger     *slog.Logger
}

// NewService creates a categorization service. learning may be nil, in which
// case manual categorizations are not learned from.
func NewService(patterns PatternStore, categories CategoryStore, txs repository.TransactionStore, cache *RegexCache, learning Enqueuer, logger *slog.Logger) *Service {
	return &Service{
		patterns:   patterns,
		categories: categories,
		txs:        txs,
		cache:      cache,
		learning:   learning,
		logger:     logger,
	}
}

// Engine builds a matching engine over the user's current patterns.
func (s *Service) Engine(ctx context.Context, userID uuid.UUID) (*Engine, error) {
	patterns, err := s.patterns.ListPatterns(ctx, userID)
	if err != nil {
		return nil, err
	}
	e := NewEngine(patterns, s.cache)
	if n := e.Skipped(); n > 0 {
		s.logger.WarnContext(ctx, "skipped invalid patterns",
			slog.String("user_id", userID.String()),
			slog.Int("count", n))
	}
	return e, nil
}

// Suggest returns every category suggestion for a description.
func (s *Service) Suggest(ctx context.Context, userID uuid.UUID, description string) ([]Suggestion, error) {
	e, err := s.Engine(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.Match(description), nil
}

// SuggestBatch returns the best suggestion per description, nil where nothing
// matches. Patterns that produced a suggestion get their last_matched stamped.
func (s *Service) SuggestBatch(ctx context.Context, userID uuid.UUID, descriptions []string) ([]*Suggestion, error) {
	e, err := s.Engine(ctx, userID)
	if err != nil {
		return nil, err
	}

	results := make([]*Suggestion, len(descriptions))
	if e.IsEmpty() {
		return results, nil
	}

	used := make(map[uuid.UUID]struct{})
	for i, desc := range descriptions {
		results[i] = e.Best(desc)
		if results[i] != nil {
			used[results[i].PatternID] = struct{}{}
		}
	}

	ids := make([]uuid.UUID, 0, len(used))
	for id := range used {
		ids = append(ids, id)
	}
	if err := s.patterns.TouchPatterns(ctx, ids); err != nil {
		s.logger.WarnContext(ctx, "failed to stamp matched patterns", slog.Any("error", err))
	}
	return results, nil
}

// CategorizeTransaction sets or clears a canonical transaction's category. A
// new category is queued for background learning; learning failures never
// reach the caller.
func (s *Service) CategorizeTransaction(ctx context.Context, userID, transactionID uuid.UUID, categoryID *uuid.UUID) (*repository.Transaction, error) {
	tx, err := s.txs.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID {
		return nil, apperror.NewNotFound("transaction", transactionID)
	}
	if categoryID != nil {
		if _, err := s.categories.GetCategory(ctx, userID, *categoryID); err != nil {
			return nil, err
		}
	}

	updated, err := s.txs.UpdateTransactionCategory(ctx, transactionID, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to categorize transaction: %w", err)
	}

	if categoryID != nil && s.learning != nil {
		if !s.learning.Enqueue(LearnTask{Owner: userID, Description: updated.Description, CategoryID: *categoryID}) {
			s.logger.WarnContext(ctx, "learning task dropped",
				slog.String("transaction_id", transactionID.String()))
		}
	}
	return updated, nil
}

// RegisterPattern binds a user-supplied pattern to a category. Registering an
// existing pattern for the same category reinforces it.
func (s *Service) RegisterPattern(ctx context.Context, userID uuid.UUID, pattern string, categoryID uuid.UUID) (*Pattern, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, apperror.NewValidation("pattern", "", "must not be empty")
	}
	if _, err := s.cache.Compile(pattern); err != nil {
		return nil, err
	}
	if _, err := s.categories.GetCategory(ctx, userID, categoryID); err != nil {
		return nil, err
	}

	p, created, err := s.patterns.UpsertPattern(ctx, userID, pattern, categoryID, 1)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "pattern registered",
		slog.String("pattern", pattern),
		slog.Bool("created", created),
		slog.Int("confidence", p.ConfidenceScore))
	return p, nil
}

// ListPatterns returns the user's patterns, highest confidence first.
func (s *Service) ListPatterns(ctx context.Context, userID uuid.UUID) ([]Pattern, error) {
	return s.patterns.ListPatterns(ctx, userID)
}
