package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/lock"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/repository"
	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
	"github.com/FACorreiaa/bank-reconciler/pkg/metrics"
)

// casAttempts bounds retries when a row changes between read and write.
const casAttempts = 3

// Outcome is the result of one id in a bulk action.
type Outcome struct {
	ID        uuid.UUID              `json:"id"`
	Attempted bool                   `json:"attempted"`
	Status    repository.MatchStatus `json:"status,omitempty"`
	Err       error                  `json:"-"`
}

// BulkResult reports per-id outcomes in request order.
type BulkResult struct {
	Outcomes     []Outcome `json:"outcomes"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	NotAttempted int       `json:"notAttempted"`
}

// Service applies review actions. Each write is a compare-and-set on the
// row's current status taken under the account's shared lock.
type Service struct {
	store   repository.Store
	locks   *lock.Accounts
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService creates a review service. m may be nil.
func NewService(store repository.Store, locks *lock.Accounts, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{store: store, locks: locks, metrics: m, logger: logger}
}

// Pending lists the account's rows that still need a decision.
func (s *Service) Pending(ctx context.Context, accountID uuid.UUID) ([]repository.ImportedTransaction, error) {
	rows, err := s.store.ListImported(ctx, accountID, repository.ImportedFilter{
		Statuses: []repository.MatchStatus{repository.StatusPotential, repository.StatusMatched},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending rows: %w", err)
	}
	return rows, nil
}

// Accept confirms a proposed match.
func (s *Service) Accept(ctx context.Context, id uuid.UUID) (*repository.ImportedTransaction, error) {
	return s.apply(ctx, ActionAccept, id)
}

// Reject marks a proposed match as wrong.
func (s *Service) Reject(ctx context.Context, id uuid.UUID) (*repository.ImportedTransaction, error) {
	return s.apply(ctx, ActionReject, id)
}

// Verify confirms a match so that commit keeps the manual row's curated
// description, category and notes.
func (s *Service) Verify(ctx context.Context, id uuid.UUID) (*repository.ImportedTransaction, error) {
	return s.apply(ctx, ActionVerify, id)
}

func (s *Service) BulkAccept(ctx context.Context, ids []uuid.UUID) (*BulkResult, error) {
	return s.bulk(ctx, ActionAccept, ids)
}

func (s *Service) BulkReject(ctx context.Context, ids []uuid.UUID) (*BulkResult, error) {
	return s.bulk(ctx, ActionReject, ids)
}

func (s *Service) BulkVerify(ctx context.Context, ids []uuid.UUID) (*BulkResult, error) {
	return s.bulk(ctx, ActionVerify, ids)
}

func (s *Service) apply(ctx context.Context, action Action, id uuid.UUID) (*repository.ImportedTransaction, error) {
	row, err := s.transition(ctx, action, id)
	s.metrics.ObserveReview(string(action), err)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "review action applied",
		slog.String("action", string(action)),
		slog.String("imported_id", id.String()),
		slog.String("status", string(row.MatchStatus)))
	return row, nil
}

func (s *Service) transition(ctx context.Context, action Action, id uuid.UUID) (*repository.ImportedTransaction, error) {
	row, err := s.store.GetImported(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.RLock(row.AccountID)
	defer unlock()

	for range casAttempts {
		// Re-read under the lock: a commit may have removed the row.
		row, err = s.store.GetImported(ctx, id)
		if err != nil {
			return nil, err
		}
		to, err := Next(action, row.MatchStatus)
		if err != nil {
			return nil, err
		}
		ok, err := s.store.UpdateImportedStatus(ctx, id, row.MatchStatus, to)
		if err != nil {
			return nil, fmt.Errorf("failed to %s row %s: %w", action, id, err)
		}
		if ok {
			row.MatchStatus = to
			return row, nil
		}
	}
	return nil, &apperror.StateError{Action: string(action), From: string(row.MatchStatus), Reason: "row changed concurrently"}
}

func (s *Service) bulk(ctx context.Context, action Action, ids []uuid.UUID) (*BulkResult, error) {
	result := &BulkResult{Outcomes: make([]Outcome, len(ids))}
	for i, id := range ids {
		result.Outcomes[i].ID = id
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			result.NotAttempted = len(ids) - i
			s.logger.WarnContext(ctx, "bulk review cancelled",
				slog.String("action", string(action)),
				slog.Int("not_attempted", result.NotAttempted))
			return result, err
		}

		out := &result.Outcomes[i]
		out.Attempted = true
		row, err := s.apply(ctx, action, id)
		if err != nil {
			out.Err = err
			result.Failed++
			if !errors.Is(err, apperror.ErrState) && !errors.Is(err, apperror.ErrNotFound) {
				s.logger.ErrorContext(ctx, "bulk review failed",
					slog.String("action", string(action)),
					slog.String("imported_id", id.String()),
					slog.Any("error", err))
			}
			continue
		}
		out.Status = row.MatchStatus
		result.Succeeded++
	}
	return result, nil
}
