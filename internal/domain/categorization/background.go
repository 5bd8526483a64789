package categorization

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/FACorreiaa/bank-reconciler/pkg/metrics"
)

// ErrQueueFull is recorded when a task is dropped because the queue is full.
var ErrQueueFull = errors.New("learning queue full")

// LearnFailure is a background task that did not complete.
type LearnFailure struct {
	Task LearnTask
	Err  error
	At   time.Time
}

// BackgroundConfig sizes the background learner.
type BackgroundConfig struct {
	QueueSize     int
	RatePerSecond float64
	Burst         int
	MaxFailures   int
}

// TaskLearner processes one learning task.
type TaskLearner interface {
	LearnOne(ctx context.Context, task LearnTask) error
}

// BackgroundLearner runs learning tasks off the caller's path. Callers never
// see task errors; they are kept in a bounded failure log.
type BackgroundLearner struct {
	learner TaskLearner
	queue   chan LearnTask
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu          sync.Mutex
	failures    []LearnFailure
	maxFailures int
	closed      bool

	wg sync.WaitGroup
}

// NewBackgroundLearner creates a stopped learner. Call Start to begin work.
func NewBackgroundLearner(learner TaskLearner, cfg BackgroundConfig, m *metrics.Metrics, logger *slog.Logger) *BackgroundLearner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 100
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &BackgroundLearner{
		learner:     learner,
		queue:       make(chan LearnTask, cfg.QueueSize),
		limiter:     rate.NewLimiter(limit, max(cfg.Burst, 1)),
		metrics:     m,
		logger:      logger,
		maxFailures: cfg.MaxFailures,
	}
}

// Start runs the worker until ctx is cancelled or Stop is called.
func (b *BackgroundLearner) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.logger.Info("background learner started")
		for {
			select {
			case <-ctx.Done():
				b.logger.Info("background learner stopped", slog.Any("reason", ctx.Err()))
				return
			case task, ok := <-b.queue:
				if !ok {
					b.logger.Info("background learner drained")
					return
				}
				b.run(ctx, task)
			}
		}
	}()
}

func (b *BackgroundLearner) run(ctx context.Context, task LearnTask) {
	if err := b.limiter.Wait(ctx); err != nil {
		b.fail(task, err)
		return
	}
	if err := b.learner.LearnOne(ctx, task); err != nil {
		b.fail(task, err)
	}
}

// Enqueue schedules a task without blocking. It reports false when the task
// was dropped.
func (b *BackgroundLearner) Enqueue(task LearnTask) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	select {
	case b.queue <- task:
		return true
	default:
		b.metrics.ObserveLearnDropped()
		b.recordLocked(task, ErrQueueFull)
		return false
	}
}

// Stop stops accepting tasks and waits for queued ones to finish.
func (b *BackgroundLearner) Stop() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// Failures returns a copy of the failure log, oldest first.
func (b *BackgroundLearner) Failures() []LearnFailure {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LearnFailure, len(b.failures))
	copy(out, b.failures)
	return out
}

func (b *BackgroundLearner) fail(task LearnTask, err error) {
	b.metrics.ObserveLearnFailure()
	b.logger.Warn("background learning failed",
		slog.String("user_id", task.Owner.String()),
		slog.Any("error", err))
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordLocked(task, err)
}

func (b *BackgroundLearner) recordLocked(task LearnTask, err error) {
	b.failures = append(b.failures, LearnFailure{Task: task, Err: err, At: time.Now()})
	if over := len(b.failures) - b.maxFailures; over > 0 {
		b.failures = b.failures[over:]
	}
}
