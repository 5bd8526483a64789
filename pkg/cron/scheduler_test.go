package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/categorization"
	"github.com/FACorreiaa/bank-reconciler/pkg/logger"
)

type owners struct {
	ids []uuid.UUID
	err error
}

func (o owners) ListOwners(context.Context) ([]uuid.UUID, error) { return o.ids, o.err }

type learner struct {
	mu     sync.Mutex
	seen   []uuid.UUID
	failOn uuid.UUID
	done   chan struct{}
}

func (l *learner) LearnFromHistory(ctx context.Context, owner uuid.UUID) (*categorization.LearningResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, owner)
	if l.done != nil {
		defer close(l.done)
	}
	if owner == l.failOn {
		return nil, errors.New("store unavailable")
	}
	return &categorization.LearningResult{PatternsCreated: 2, PatternsUpdated: 1}, nil
}

func TestScheduler_Run(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	l := &learner{failOn: b}
	s := NewScheduler("0 3 * * *", owners{ids: []uuid.UUID{a, b, c}}, l, logger.Discard())

	sum := s.Run(context.Background())

	assert.Equal(t, []uuid.UUID{a, b, c}, l.seen, "a failing owner does not stop the pass")
	assert.Equal(t, Summary{Owners: 3, Failed: 1, Created: 4, Updated: 2}, sum)
}

func TestScheduler_Run_ListFails(t *testing.T) {
	l := &learner{}
	s := NewScheduler("0 3 * * *", owners{err: errors.New("timeout")}, l, logger.Discard())

	assert.Equal(t, Summary{}, s.Run(context.Background()))
	assert.Empty(t, l.seen)
}

func TestScheduler_Run_Cancelled(t *testing.T) {
	l := &learner{}
	s := NewScheduler("0 3 * * *", owners{ids: []uuid.UUID{uuid.New()}}, l, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, 0, s.Run(ctx).Owners)
	assert.Empty(t, l.seen)
}

func TestScheduler_Start(t *testing.T) {
	s := NewScheduler("not a schedule", owners{}, &learner{}, logger.Discard())
	assert.Error(t, s.Start())

	s = NewScheduler("@every 1h", owners{}, &learner{}, logger.Discard())
	require.NoError(t, s.Start())
	<-s.Stop().Done()
}

func TestScheduler_RunNow(t *testing.T) {
	owner := uuid.New()
	l := &learner{done: make(chan struct{})}
	s := NewScheduler("0 3 * * *", owners{ids: []uuid.UUID{owner}}, l, logger.Discard())

	s.RunNow()
	select {
	case <-l.done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunNow did not run the pass")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, []uuid.UUID{owner}, l.seen)
}
