// Package service stages bank statements: it parses and normalizes the file,
// applies the duplicate strategy against rows already staged, suggests
// categories and runs the initial match against canonical transactions.
package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/categorization"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/import/normalizer"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/import/parser"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/import/sniffer"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/lock"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/matcher"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/repository"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/review"
	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
	"github.com/FACorreiaa/bank-reconciler/pkg/metrics"
)

const tracerName = "github.com/FACorreiaa/bank-reconciler/internal/domain/import/service"

// Format is the statement file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatOFX  Format = "ofx"
)

// CategorizationService suggests categories for staged rows.
type CategorizationService interface {
	SuggestBatch(ctx context.Context, userID uuid.UUID, descriptions []string) ([]*categorization.Suggestion, error)
}

// ImportRequest is one statement upload.
type ImportRequest struct {
	UserID    uuid.UUID
	AccountID uuid.UUID
	Data      []byte
	Format    Format
	Mapping   parser.ColumnMapping
	// Strategy overrides the configured duplicate strategy when set.
	Strategy normalizer.Strategy
	// Currency is used when the statement has no currency column.
	Currency string
}

// ImportResult reports what an import staged.
type ImportResult struct {
	Staged   int                              `json:"staged"`
	Skipped  int                              `json:"skipped"`
	Replaced int                              `json:"replaced"`
	Failed   int                              `json:"failed"`
	Failures []normalizer.RowFailure          `json:"failures"`
	Matching matcher.MatchingResult           `json:"matching"`
	Rows     []repository.ImportedTransaction `json:"-"`
}

// FailuresCSV renders the rejected rows as CSV with a line,reason header.
func (r *ImportResult) FailuresCSV() (string, error) {
	return gocsv.MarshalString(r.Failures)
}

// Options configures an ImportService.
type Options struct {
	Strategy       normalizer.Strategy
	Currency       string
	AutoAcceptHigh bool
}

// ImportService orchestrates statement imports for staged review.
type ImportService struct {
	store      repository.Store
	locks      *lock.Accounts
	imports    *lock.Accounts // serializes imports per account
	matcher    *matcher.Matcher
	catService CategorizationService // nil when categorization is not wired
	metrics    *metrics.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
	opts       Options
}

// NewImportService creates an import service. m may be nil.
func NewImportService(store repository.Store, locks *lock.Accounts, mt *matcher.Matcher, m *metrics.Metrics, logger *slog.Logger, opts Options) *ImportService {
	if opts.Strategy == "" {
		opts.Strategy = normalizer.StrategySkip
	}
	return &ImportService{
		store:   store,
		locks:   locks,
		imports: lock.New(),
		matcher: mt,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		opts:    opts,
	}
}

// WithCategorizationService adds category suggestions to staged rows.
func (s *ImportService) WithCategorizationService(catService CategorizationService) *ImportService {
	s.catService = catService
	return s
}

// SuggestMapping inspects a CSV statement and proposes a column mapping.
func (s *ImportService) SuggestMapping(data []byte) (*sniffer.Suggestion, error) {
	return sniffer.Suggest(data)
}

func (s *ImportService) source(req ImportRequest) (parser.Source, error) {
	switch Format(strings.ToLower(string(req.Format))) {
	case FormatCSV, "":
		return parser.NewCSVSource(req.Data, req.Mapping)
	case FormatXLSX:
		return parser.NewExcelSource(req.Data, req.Mapping)
	case FormatOFX, "qfx":
		return parser.NewOFXSource(req.Data)
	default:
		return nil, apperror.NewValidation("format", string(req.Format), "must be csv, xlsx or ofx")
	}
}

// ImportStatement parses, normalizes and stages a statement. Rejected rows are
// reported in the result and never abort the import. Staging writes for one
// statement are applied in a single store transaction.
func (s *ImportService) ImportStatement(ctx context.Context, req ImportRequest) (result *ImportResult, err error) {
	ctx, span := s.tracer.Start(ctx, "import.ImportStatement", trace.WithAttributes(
		attribute.String("account_id", req.AccountID.String()),
		attribute.String("format", string(req.Format)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if req.UserID == uuid.Nil || req.AccountID == uuid.Nil {
		return nil, apperror.NewValidation("request", "", "user and account are required")
	}
	strategy := s.opts.Strategy
	if req.Strategy != "" {
		if strategy, err = normalizer.ParseStrategy(string(req.Strategy)); err != nil {
			return nil, err
		}
	}

	src, err := s.source(req)
	if err != nil {
		return nil, err
	}
	candidates, failures, err := normalizer.Normalize(src, normalizer.ConfigFor(src, cmp.Or(req.Currency, s.opts.Currency))).Collect()
	if err != nil {
		return nil, fmt.Errorf("failed to read statement: %w", err)
	}

	unlockImport := s.imports.Lock(req.AccountID)
	defer unlockImport()
	unlock := s.locks.RLock(req.AccountID)
	defer unlock()

	staged, err := s.store.ImportedFingerprints(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load staged fingerprints: %w", err)
	}

	result = &ImportResult{Failed: len(failures), Failures: failures}
	if result.Failures == nil {
		result.Failures = []normalizer.RowFailure{}
	}

	deduper := normalizer.NewDeduper(strategy, staged)
	var rows []*repository.ImportedTransaction
	var replace []uuid.UUID
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		action, old := deduper.Decide(c.Fingerprint)
		switch action {
		case normalizer.ActionSkip:
			result.Skipped++
			continue
		case normalizer.ActionReplace:
			replace = append(replace, old)
		}
		rows = append(rows, stagedRow(req, c))
	}

	s.suggest(ctx, req.UserID, rows)

	matching, err := s.match(ctx, req.AccountID, rows)
	if err != nil {
		return nil, err
	}
	result.Matching = matching

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		for _, id := range replace {
			if err := tx.DeleteImported(ctx, id); err != nil {
				return fmt.Errorf("failed to replace staged row: %w", err)
			}
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.InsertImported(ctx, rows)
	})
	if err != nil {
		return nil, err
	}

	result.Staged = len(rows)
	result.Replaced = len(replace)
	result.Rows = make([]repository.ImportedTransaction, len(rows))
	for i, r := range rows {
		result.Rows[i] = *r
	}

	s.metrics.AddImportRows("staged", result.Staged)
	s.metrics.AddImportRows("skipped", result.Skipped)
	s.metrics.AddImportRows("replaced", result.Replaced)
	s.metrics.AddImportRows("failed", result.Failed)
	span.SetAttributes(
		attribute.Int("staged", result.Staged),
		attribute.Int("skipped", result.Skipped),
		attribute.Int("failed", result.Failed),
	)
	s.logger.InfoContext(ctx, "statement staged",
		slog.String("account_id", req.AccountID.String()),
		slog.String("strategy", string(strategy)),
		slog.Int("staged", result.Staged),
		slog.Int("skipped", result.Skipped),
		slog.Int("replaced", result.Replaced),
		slog.Int("failed", result.Failed),
		slog.Int("high", matching.HighConfidenceMatches),
		slog.Int("unmatched", matching.Unmatched))
	return result, nil
}

func stagedRow(req ImportRequest, c normalizer.Candidate) *repository.ImportedTransaction {
	return &repository.ImportedTransaction{
		UserID:                req.UserID,
		AccountID:             req.AccountID,
		Line:                  c.Line,
		Date:                  c.Date,
		AmountMinor:           c.AmountMinor,
		CurrencyCode:          c.CurrencyCode,
		RawDescription:        c.RawDescription,
		NormalizedDescription: c.NormalizedDescription,
		Fingerprint:           c.Fingerprint,
		Type:                  c.Type,
		BalanceMinor:          c.BalanceMinor,
		MatchStatus:           repository.StatusUnmatched,
		MatchConfidence:       repository.ConfidenceNone,
		MatchReasons:          []repository.Reason{},
	}
}

// suggest fills SuggestedCategoryID. Categorization failures are logged and
// the rows are staged without suggestions.
func (s *ImportService) suggest(ctx context.Context, userID uuid.UUID, rows []*repository.ImportedTransaction) {
	if s.catService == nil || len(rows) == 0 {
		return
	}
	descriptions := make([]string, len(rows))
	for i, r := range rows {
		descriptions[i] = r.RawDescription
	}
	suggestions, err := s.catService.SuggestBatch(ctx, userID, descriptions)
	if err != nil {
		s.logger.WarnContext(ctx, "category suggestions unavailable", slog.Any("error", err))
		return
	}
	for i, sg := range suggestions {
		if sg != nil && i < len(rows) {
			id := sg.CategoryID
			rows[i].SuggestedCategoryID = &id
		}
	}
}

// match scores rows against the account's canonical transactions in the
// rows' date window and writes the outcome into each row.
func (s *ImportService) match(ctx context.Context, accountID uuid.UUID, rows []*repository.ImportedTransaction) (matcher.MatchingResult, error) {
	if len(rows) == 0 {
		return matcher.MatchingResult{}, nil
	}
	from, to := s.matcher.Window(rows)
	existing, err := s.store.ListTransactions(ctx, repository.TransactionFilter{AccountID: accountID, From: from, To: to})
	if err != nil {
		return matcher.MatchingResult{}, fmt.Errorf("failed to load transactions to match: %w", err)
	}

	matches, result, err := s.matcher.MatchAll(ctx, rows, pointers(existing))
	if err != nil {
		return matcher.MatchingResult{}, err
	}
	for i, m := range matches {
		apply(rows[i], m.Update(review.InitialStatus(m.Confidence, s.opts.AutoAcceptHigh)))
		s.metrics.ObserveMatch(string(m.Confidence))
	}
	return result, nil
}

func apply(row *repository.ImportedTransaction, u repository.MatchUpdate) {
	row.MatchStatus = u.Status
	row.MatchConfidence = u.Confidence
	row.MatchScore = u.Score
	row.MatchedExistingID = u.ExistingID
	row.MatchReasons = u.Reasons
}

// Rematch recomputes matches for the account's UNMATCHED and POTENTIAL rows,
// for example after manual transactions were added. Rows a reviewer decided
// on are left alone. It holds the account's exclusive lock so no review
// decision can land between scoring and writing.
func (s *ImportService) Rematch(ctx context.Context, accountID uuid.UUID) (*matcher.MatchingResult, error) {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	staged, err := s.store.ListImported(ctx, accountID, repository.ImportedFilter{
		Statuses: []repository.MatchStatus{repository.StatusUnmatched, repository.StatusPotential},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list rows to rematch: %w", err)
	}

	rows := make([]*repository.ImportedTransaction, 0, len(staged))
	for i := range staged {
		if review.Rematchable(staged[i].MatchStatus) {
			rows = append(rows, &staged[i])
		}
	}

	result, err := s.match(ctx, accountID, rows)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		for _, r := range rows {
			err := tx.UpdateImportedMatch(ctx, r.ID, repository.MatchUpdate{
				Status:     r.MatchStatus,
				Confidence: r.MatchConfidence,
				Score:      r.MatchScore,
				ExistingID: r.MatchedExistingID,
				Reasons:    r.MatchReasons,
			})
			if err != nil {
				return fmt.Errorf("failed to update match for row %d: %w", r.Line, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account rematched",
		slog.String("account_id", accountID.String()),
		slog.Int("rows", result.TotalImported),
		slog.Int("high", result.HighConfidenceMatches),
		slog.Int("unmatched", result.Unmatched))
	return &result, nil
}

// Summary counts the account's staged rows by status.
func (s *ImportService) Summary(ctx context.Context, accountID uuid.UUID) (map[repository.MatchStatus]int, error) {
	counts, err := s.store.CountImportedByStatus(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count staged rows: %w", err)
	}
	return counts, nil
}

func pointers(txs []repository.Transaction) []*repository.Transaction {
	out := make([]*repository.Transaction, len(txs))
	for i := range txs {
		out[i] = &txs[i]
	}
	return out
}
