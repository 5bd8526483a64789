// Package commit replaces an account's canonical transactions with its staged
// bank rows in a single store transaction.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/lock"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/repository"
	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
	"github.com/FACorreiaa/bank-reconciler/pkg/metrics"
)

const tracerName = "github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/commit"

// CommitPreview describes what a commit would do.
type CommitPreview struct {
	ManualTransactionsToDelete int `json:"manualTransactionsToDelete"`
	TotalImportedTransactions  int `json:"totalImportedTransactions"`
	VerifiedTransactions       int `json:"verifiedTransactions"`
	UnmatchedTransactions      int `json:"unmatchedTransactions"`
	RejectedTransactions       int `json:"rejectedTransactions"`
	MatchedTransactions        int `json:"matchedTransactions"`
	PendingTransactions        int `json:"pendingTransactions"`
}

// Result reports a successful commit.
type Result struct {
	Preview             CommitPreview `json:"preview"`
	TransactionsDeleted int64         `json:"transactionsDeleted"`
	TransactionsCreated int           `json:"transactionsCreated"`
	StagedRowsCleared   int64         `json:"stagedRowsCleared"`
}

// Options configures the orchestrator.
type Options struct {
	// AllowPending lets a commit proceed while rows are still POTENTIAL.
	AllowPending bool
}

// Orchestrator runs previews and commits.
type Orchestrator struct {
	store   repository.Store
	locks   *lock.Accounts
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	opts    Options
}

// New creates an Orchestrator. m may be nil.
func New(store repository.Store, locks *lock.Accounts, m *metrics.Metrics, logger *slog.Logger, opts Options) *Orchestrator {
	return &Orchestrator{
		store:   store,
		locks:   locks,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		opts:    opts,
	}
}

// Preview counts the account's canonical transactions and staged rows by status.
func (o *Orchestrator) Preview(ctx context.Context, accountID uuid.UUID) (*CommitPreview, error) {
	unlock := o.locks.RLock(accountID)
	defer unlock()
	return preview(ctx, o.store, accountID)
}

func preview(ctx context.Context, store repository.Store, accountID uuid.UUID) (*CommitPreview, error) {
	manual, err := store.CountTransactions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}
	counts, err := store.CountImportedByStatus(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count staged rows: %w", err)
	}

	p := &CommitPreview{
		ManualTransactionsToDelete: manual,
		VerifiedTransactions:       counts[repository.StatusVerified],
		UnmatchedTransactions:      counts[repository.StatusUnmatched],
		RejectedTransactions:       counts[repository.StatusReviewed],
		MatchedTransactions:        counts[repository.StatusMatched],
		PendingTransactions:        counts[repository.StatusPotential],
	}
	for _, n := range counts {
		p.TotalImportedTransactions += n
	}
	return p, nil
}

// Commit deletes every canonical transaction of the account and writes one
// canonical transaction per staged row, then clears the staged rows. VERIFIED
// rows keep the matched transaction's description, category and notes.
//
// It holds the account's exclusive lock. Any failure after the store
// transaction starts rolls everything back and is returned as an
// *apperror.AtomicityError; the commit can be retried as a whole.
func (o *Orchestrator) Commit(ctx context.Context, accountID uuid.UUID) (result *Result, err error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "commit.Commit", trace.WithAttributes(
		attribute.String("account_id", accountID.String()),
	))
	defer func() {
		o.metrics.ObserveCommit(start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	unlock := o.locks.Lock(accountID)
	defer unlock()

	result = &Result{}
	txErr := o.store.WithTx(ctx, func(tx repository.Store) error {
		return o.commit(ctx, tx, accountID, result)
	})
	if txErr != nil {
		var serr *apperror.StateError
		if errors.As(txErr, &serr) {
			return nil, txErr
		}
		o.logger.ErrorContext(ctx, "commit rolled back",
			slog.String("account_id", accountID.String()),
			slog.Any("error", txErr))
		return nil, &apperror.AtomicityError{Op: "commit", Err: txErr}
	}

	span.SetAttributes(
		attribute.Int64("transactions_deleted", result.TransactionsDeleted),
		attribute.Int("transactions_created", result.TransactionsCreated),
	)
	o.logger.InfoContext(ctx, "commit completed",
		slog.String("account_id", accountID.String()),
		slog.Int64("deleted", result.TransactionsDeleted),
		slog.Int("created", result.TransactionsCreated),
		slog.Int("verified", result.Preview.VerifiedTransactions),
		slog.Duration("duration", time.Since(start)))
	return result, nil
}

func (o *Orchestrator) commit(ctx context.Context, tx repository.Store, accountID uuid.UUID, result *Result) error {
	p, err := preview(ctx, tx, accountID)
	if err != nil {
		return err
	}
	result.Preview = *p

	if p.TotalImportedTransactions == 0 {
		return &apperror.StateError{Action: "commit", Reason: "no staged rows"}
	}
	if p.PendingTransactions > 0 && !o.opts.AllowPending {
		return &apperror.StateError{
			Action: "commit",
			Reason: fmt.Sprintf("%d rows are still pending review", p.PendingTransactions),
		}
	}

	rows, err := tx.ListImported(ctx, accountID, repository.ImportedFilter{})
	if err != nil {
		return fmt.Errorf("failed to load staged rows: %w", err)
	}

	var verifiedIDs []uuid.UUID
	for _, row := range rows {
		if row.MatchStatus == repository.StatusVerified && row.MatchedExistingID != nil {
			verifiedIDs = append(verifiedIDs, *row.MatchedExistingID)
		}
	}
	curated, err := tx.GetTransactions(ctx, verifiedIDs)
	if err != nil {
		return fmt.Errorf("failed to load verified matches: %w", err)
	}

	if result.TransactionsDeleted, err = tx.DeleteAllTransactions(ctx, accountID); err != nil {
		return fmt.Errorf("failed to delete transactions: %w", err)
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		canonical := fromStaged(row)
		if row.MatchStatus == repository.StatusVerified && row.MatchedExistingID != nil {
			if old, ok := curated[*row.MatchedExistingID]; ok {
				canonical.Description = old.Description
				canonical.CategoryID = old.CategoryID
				canonical.Notes = old.Notes
			} else {
				o.logger.WarnContext(ctx, "verified match no longer exists, keeping bank data",
					slog.String("imported_id", row.ID.String()),
					slog.String("matched_id", row.MatchedExistingID.String()))
			}
		}
		if err := tx.InsertTransaction(ctx, canonical); err != nil {
			return fmt.Errorf("failed to write transaction for line %d: %w", row.Line, err)
		}
		result.TransactionsCreated++
	}

	if result.StagedRowsCleared, err = tx.DeleteAllImported(ctx, accountID); err != nil {
		return fmt.Errorf("failed to clear staged rows: %w", err)
	}
	return nil
}

func fromStaged(row repository.ImportedTransaction) *repository.Transaction {
	return &repository.Transaction{
		ID:           uuid.New(),
		UserID:       row.UserID,
		AccountID:    row.AccountID,
		Date:         row.Date,
		AmountMinor:  row.AmountMinor,
		CurrencyCode: row.CurrencyCode,
		Description:  row.RawDescription,
		CategoryID:   row.SuggestedCategoryID,
		Source:       repository.SourceBank,
	}
}

// Discard drops the account's staged rows without touching canonical data.
func (o *Orchestrator) Discard(ctx context.Context, accountID uuid.UUID) (int64, error) {
	unlock := o.locks.Lock(accountID)
	defer unlock()

	n, err := o.store.DeleteAllImported(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to discard staged rows: %w", err)
	}
	o.logger.InfoContext(ctx, "staged rows discarded",
		slog.String("account_id", accountID.String()),
		slog.Int64("rows", n))
	return n, nil
}
