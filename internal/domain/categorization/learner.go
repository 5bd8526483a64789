package categorization

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/import/normalizer"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/lock"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/repository"
	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
	"github.com/FACorreiaa/bank-reconciler/pkg/metrics"
)

const tracerName = "github.com/FACorreiaa/bank-reconciler/internal/domain/categorization"

// TransactionSource is the part of the record store the learner reads.
type TransactionSource interface {
	ListTransactions(ctx context.Context, filter repository.TransactionFilter) ([]repository.Transaction, error)
	ListAccountIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// LearnerConfig bounds what the learner considers.
type LearnerConfig struct {
	MinDescriptionLength int
	MinGroupSize         int
	TopPatterns          int
}

// DefaultLearnerConfig returns the thresholds used when nothing is configured.
func DefaultLearnerConfig() LearnerConfig {
	return LearnerConfig{MinDescriptionLength: 4, MinGroupSize: 2, TopPatterns: 10}
}

// Learner derives patterns from categorized canonical transactions.
type Learner struct {
	txs      TransactionSource
	patterns PatternStore
	cache    *RegexCache
	locks    *lock.Accounts
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	cfg      LearnerConfig
}

// NewLearner creates a Learner. m may be nil.
func NewLearner(txs TransactionSource, patterns PatternStore, cache *RegexCache, locks *lock.Accounts, m *metrics.Metrics, logger *slog.Logger, cfg LearnerConfig) *Learner {
	if cfg.MinGroupSize < 1 {
		cfg.MinGroupSize = 1
	}
	if cfg.TopPatterns <= 0 {
		cfg.TopPatterns = DefaultLearnerConfig().TopPatterns
	}
	return &Learner{
		txs:      txs,
		patterns: patterns,
		cache:    cache,
		locks:    locks,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		cfg:      cfg,
	}
}

type group struct {
	description string
	categoryID  uuid.UUID
	count       int
}

// LearnFromHistory runs a learning pass over the owner's categorized
// transactions. Groups are processed largest first, then by description, so
// when two categories compete for a pattern the same one always wins.
//
// Cancellation is observed between groups; patterns written before it stay
// written and the partial result is returned with ctx's error.
func (l *Learner) LearnFromHistory(ctx context.Context, owner uuid.UUID) (result *LearningResult, err error) {
	ctx, span := l.tracer.Start(ctx, "categorization.LearnFromHistory", trace.WithAttributes(
		attribute.String("user_id", owner.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	accounts, err := l.txs.ListAccountIDs(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	unlock := l.locks.RLockAll(accounts)
	defer unlock()

	txs, err := l.txs.ListTransactions(ctx, repository.TransactionFilter{
		UserID:               owner,
		CategorizedOnly:      true,
		MinDescriptionLength: l.cfg.MinDescriptionLength,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list categorized transactions: %w", err)
	}

	result = &LearningResult{TotalTransactions: len(txs), TopPatterns: []PatternSummary{}}
	touched := make(map[string]PatternSummary)

	for _, g := range l.group(txs) {
		if err := ctx.Err(); err != nil {
			result.TopPatterns = top(touched, l.cfg.TopPatterns)
			return result, err
		}
		for _, p := range ExtractPatterns(g.description) {
			pattern, created, err := l.upsert(ctx, owner, p, g.categoryID, g.count)
			switch {
			case apperror.IsRowLevel(err):
				result.PatternsSkipped++
				continue
			case err != nil:
				return result, err
			case created:
				result.PatternsCreated++
			default:
				result.PatternsUpdated++
			}
			touched[pattern.Pattern] = PatternSummary{
				Pattern:         pattern.Pattern,
				CategoryID:      pattern.CategoryID,
				ConfidenceScore: pattern.ConfidenceScore,
				MatchCount:      pattern.MatchCount,
			}
		}
	}

	result.TopPatterns = top(touched, l.cfg.TopPatterns)
	span.SetAttributes(
		attribute.Int("patterns_created", result.PatternsCreated),
		attribute.Int("patterns_updated", result.PatternsUpdated),
		attribute.Int("patterns_skipped", result.PatternsSkipped),
	)
	l.logger.InfoContext(ctx, "learning pass completed",
		slog.String("user_id", owner.String()),
		slog.Int("transactions", result.TotalTransactions),
		slog.Int("created", result.PatternsCreated),
		slog.Int("updated", result.PatternsUpdated),
		slog.Int("skipped", result.PatternsSkipped))
	return result, nil
}

func (l *Learner) group(txs []repository.Transaction) []group {
	type key struct {
		description string
		categoryID  uuid.UUID
	}
	counts := make(map[key]int)
	for _, tx := range txs {
		if tx.CategoryID == nil {
			continue
		}
		desc := normalizer.NormalizeDescription(tx.Description)
		if utf8.RuneCountInString(desc) < l.cfg.MinDescriptionLength {
			continue
		}
		counts[key{desc, *tx.CategoryID}]++
	}

	groups := make([]group, 0, len(counts))
	for k, n := range counts {
		if n >= l.cfg.MinGroupSize {
			groups = append(groups, group{description: k.description, categoryID: k.categoryID, count: n})
		}
	}
	slices.SortFunc(groups, func(a, b group) int {
		return cmp.Or(
			cmp.Compare(b.count, a.count),
			cmp.Compare(a.description, b.description),
			cmp.Compare(a.categoryID.String(), b.categoryID.String()),
		)
	})
	return groups
}

// upsert validates then writes one pattern, recording the outcome.
func (l *Learner) upsert(ctx context.Context, owner uuid.UUID, pattern string, categoryID uuid.UUID, count int) (*Pattern, bool, error) {
	if _, err := l.cache.Compile(pattern); err != nil {
		l.metrics.ObservePattern("invalid")
		return nil, false, err
	}

	p, created, err := l.patterns.UpsertPattern(ctx, owner, pattern, categoryID, count)
	switch {
	case errors.Is(err, apperror.ErrConflict):
		l.metrics.ObservePattern("conflict")
		l.logger.DebugContext(ctx, "pattern bound to another category",
			slog.String("pattern", pattern), slog.Any("error", err))
	case err != nil:
		return nil, false, err
	case created:
		l.metrics.ObservePattern("created")
	default:
		l.metrics.ObservePattern("reinforced")
	}
	return p, created, err
}

// LearnTask asks for patterns to be learned from one categorized description.
type LearnTask struct {
	Owner       uuid.UUID
	Description string
	CategoryID  uuid.UUID
}

// LearnOne learns from a single manual categorization. Conflicting and
// invalid patterns are skipped; only store failures are returned.
func (l *Learner) LearnOne(ctx context.Context, task LearnTask) error {
	desc := normalizer.NormalizeDescription(task.Description)
	if utf8.RuneCountInString(desc) < l.cfg.MinDescriptionLength {
		return nil
	}
	for _, p := range ExtractPatterns(desc) {
		if _, _, err := l.upsert(ctx, task.Owner, p, task.CategoryID, 1); err != nil && !apperror.IsRowLevel(err) {
			return fmt.Errorf("failed to learn %q: %w", p, err)
		}
	}
	return nil
}

func top(touched map[string]PatternSummary, n int) []PatternSummary {
	out := make([]PatternSummary, 0, len(touched))
	for _, s := range touched {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b PatternSummary) int {
		return cmp.Or(
			cmp.Compare(b.ConfidenceScore, a.ConfidenceScore),
			cmp.Compare(b.MatchCount, a.MatchCount),
			cmp.Compare(a.Pattern, b.Pattern),
		)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
