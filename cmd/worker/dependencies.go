package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/categorization"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/import/normalizer"
	importservice "github.com/FACorreiaa/bank-reconciler/internal/domain/import/service"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/commit"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/lock"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/matcher"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/repository"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/review"
	"github.com/FACorreiaa/bank-reconciler/pkg/config"
	"github.com/FACorreiaa/bank-reconciler/pkg/cron"
	"github.com/FACorreiaa/bank-reconciler/pkg/db"
	"github.com/FACorreiaa/bank-reconciler/pkg/metrics"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config   *config.Config
	DB       *db.DB
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// Repositories
	Store              *repository.PostgresStore
	CategorizationRepo *categorization.Repository

	// Services
	Locks                 *lock.Accounts
	RegexCache            *categorization.RegexCache
	Learner               *categorization.Learner
	BackgroundLearner     *categorization.BackgroundLearner
	CategorizationService *categorization.Service
	ImportService         *importservice.ImportService
	ReviewService         *review.Service
	Commit                *commit.Orchestrator
	Scheduler             *cron.Scheduler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initServices(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the pool and runs migrations
func (d *Dependencies) initDatabase(ctx context.Context) error {
	database, err := db.New(ctx, db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        int32(d.Config.Database.MaxConns),
		MinConns:        2,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}
	d.DB = database

	if err := d.DB.RunMigrations(ctx); err != nil {
		d.DB.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

func (d *Dependencies) initRepositories() {
	d.Store = repository.NewPostgresStore(d.DB.Pool)
	d.CategorizationRepo = categorization.NewRepository(d.DB.Pool)
	d.Logger.Info("repositories initialized")
}

func (d *Dependencies) initServices() error {
	d.Registry = prometheus.NewRegistry()
	d.Metrics = metrics.New(d.Registry)
	d.Locks = lock.New()
	d.RegexCache = categorization.NewRegexCache()

	lc := d.Config.Learning
	d.Learner = categorization.NewLearner(d.Store, d.CategorizationRepo, d.RegexCache, d.Locks, d.Metrics, d.Logger,
		categorization.LearnerConfig{
			MinDescriptionLength: lc.MinDescriptionLength,
			MinGroupSize:         lc.MinGroupSize,
		})
	d.BackgroundLearner = categorization.NewBackgroundLearner(d.Learner, categorization.BackgroundConfig{
		QueueSize:     lc.QueueSize,
		RatePerSecond: lc.RatePerSecond,
		Burst:         lc.Burst,
	}, d.Metrics, d.Logger)

	d.CategorizationService = categorization.NewService(d.CategorizationRepo, d.CategorizationRepo, d.Store,
		d.RegexCache, d.BackgroundLearner, d.Logger)

	rc := d.Config.Reconcile
	strategy, err := normalizer.ParseStrategy(rc.DuplicateStrategy)
	if err != nil {
		return err
	}
	d.ImportService = importservice.NewImportService(d.Store, d.Locks, matcher.New(matcher.ConfigFrom(rc)), d.Metrics, d.Logger,
		importservice.Options{
			Strategy:       strategy,
			Currency:       rc.DefaultCurrency,
			AutoAcceptHigh: rc.AutoAcceptHigh,
		})
	d.ImportService.WithCategorizationService(d.CategorizationService)

	d.ReviewService = review.NewService(d.Store, d.Locks, d.Metrics, d.Logger)
	d.Commit = commit.New(d.Store, d.Locks, d.Metrics, d.Logger, commit.Options{AllowPending: rc.AllowPendingCommit})

	d.Scheduler = cron.NewScheduler(lc.Schedule, d.Store, d.Learner, d.Logger)

	d.Logger.Info("services initialized")
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
