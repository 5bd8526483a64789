// Package cron runs the scheduled pattern learning pass using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/categorization"
)

const runTimeout = 30 * time.Minute

// OwnerLister lists every owner with transactions.
type OwnerLister interface {
	ListOwners(ctx context.Context) ([]uuid.UUID, error)
}

// HistoryLearner mines an owner's categorized history for patterns.
type HistoryLearner interface {
	LearnFromHistory(ctx context.Context, owner uuid.UUID) (*categorization.LearningResult, error)
}

// Summary reports one learning pass.
type Summary struct {
	Owners  int
	Failed  int
	Created int
	Updated int
}

// Scheduler runs LearnFromHistory for every owner on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	owners   OwnerLister
	learner  HistoryLearner
	logger   *slog.Logger
}

// NewScheduler creates a scheduler for the given 5-field cron expression.
func NewScheduler(schedule string, owners OwnerLister, learner HistoryLearner, logger *slog.Logger) *Scheduler {
	c := cron.New(
		cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{
		cron:     c,
		schedule: schedule,
		owners:   owners,
		learner:  learner,
		logger:   logger,
	}
}

// Start registers the learning job and starts the cron loop. An invalid
// schedule is returned as an error.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		s.Run(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.String("schedule", s.schedule),
		slog.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop stops the schedule. The returned context is done once a running pass
// has finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow triggers a pass outside the schedule.
func (s *Scheduler) RunNow() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		s.Run(ctx)
	}()
}

// Run learns for every owner. A failing owner is logged and the pass moves on.
func (s *Scheduler) Run(ctx context.Context) Summary {
	var sum Summary
	s.logger.InfoContext(ctx, "starting pattern learning pass")

	owners, err := s.owners.ListOwners(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list owners", slog.Any("error", err))
		return sum
	}

	for _, owner := range owners {
		if ctx.Err() != nil {
			s.logger.WarnContext(ctx, "pattern learning pass interrupted", slog.Any("error", ctx.Err()))
			break
		}
		sum.Owners++
		result, err := s.learner.LearnFromHistory(ctx, owner)
		if err != nil {
			s.logger.WarnContext(ctx, "pattern learning failed",
				slog.String("owner", owner.String()),
				slog.Any("error", err),
			)
			sum.Failed++
			continue
		}
		sum.Created += result.PatternsCreated
		sum.Updated += result.PatternsUpdated
	}

	s.logger.InfoContext(ctx, "pattern learning pass completed",
		slog.Int("owners", sum.Owners),
		slog.Int("failed", sum.Failed),
		slog.Int("created", sum.Created),
		slog.Int("updated", sum.Updated),
	)
	return sum
}
