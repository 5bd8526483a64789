package categorization

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/bank-reconciler/pkg/logger"
)

type recordingLearner struct {
	mu      sync.Mutex
	tasks   []LearnTask
	err     error
	block   chan struct{}
	started chan struct{}
}

func (r *recordingLearner) LearnOne(ctx context.Context, task LearnTask) error {
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return r.err
}

func (r *recordingLearner) seen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func TestBackgroundLearner_ProcessesQueuedTasks(t *testing.T) {
	rec := &recordingLearner{}
	b := NewBackgroundLearner(rec, BackgroundConfig{QueueSize: 8}, nil, logger.Discard())
	b.Start(context.Background())

	for range 5 {
		require.True(t, b.Enqueue(LearnTask{Owner: uuid.New(), Description: "tesco", CategoryID: uuid.New()}))
	}
	b.Stop()

	assert.Equal(t, 5, rec.seen())
	assert.Empty(t, b.Failures())
	assert.False(t, b.Enqueue(LearnTask{}), "stopped learner accepts nothing")
}

func TestBackgroundLearner_RecordsFailures(t *testing.T) {
	boom := errors.New("database unavailable")
	rec := &recordingLearner{err: boom}
	b := NewBackgroundLearner(rec, BackgroundConfig{QueueSize: 4, MaxFailures: 2}, nil, logger.Discard())
	b.Start(context.Background())

	for range 3 {
		b.Enqueue(LearnTask{Description: "tesco"})
	}
	b.Stop()

	failures := b.Failures()
	require.Len(t, failures, 2)
	assert.ErrorIs(t, failures[0].Err, boom)
}

func TestBackgroundLearner_DropsWhenFull(t *testing.T) {
	rec := &recordingLearner{block: make(chan struct{})}
	b := NewBackgroundLearner(rec, BackgroundConfig{QueueSize: 1}, nil, logger.Discard())

	// Not started: the single slot fills and the next task is dropped.
	require.True(t, b.Enqueue(LearnTask{Description: "first"}))
	assert.False(t, b.Enqueue(LearnTask{Description: "second"}))

	failures := b.Failures()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0].Err, ErrQueueFull)
	assert.Equal(t, "second", failures[0].Task.Description)

	close(rec.block)
	b.Start(context.Background())
	b.Stop()
	assert.Equal(t, 1, rec.seen())
}

func TestBackgroundLearner_RateLimited(t *testing.T) {
	rec := &recordingLearner{}
	b := NewBackgroundLearner(rec, BackgroundConfig{QueueSize: 4, RatePerSecond: 20, Burst: 1}, nil, logger.Discard())
	b.Start(context.Background())

	start := time.Now()
	for range 3 {
		b.Enqueue(LearnTask{})
	}
	b.Stop()

	assert.Equal(t, 3, rec.seen())
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestBackgroundLearner_CancelStopsWorker(t *testing.T) {
	rec := &recordingLearner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	b := NewBackgroundLearner(rec, BackgroundConfig{QueueSize: 4}, nil, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)

	b.Enqueue(LearnTask{Description: "stuck"})
	<-rec.started
	cancel()
	b.Stop()

	assert.Zero(t, rec.seen())
	failures := b.Failures()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0].Err, context.Canceled)
}
