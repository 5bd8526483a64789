package categorization

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/repository"
	"github.com/FACorreiaa/bank-reconciler/internal/testutil"
	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
	"github.com/FACorreiaa/bank-reconciler/pkg/logger"
)

type queue struct {
	tasks  []LearnTask
	reject bool
}

func (q *queue) Enqueue(task LearnTask) bool {
	if q.reject {
		return false
	}
	q.tasks = append(q.tasks, task)
	return true
}

type serviceFixture struct {
	store    *testutil.MemoryStore
	patterns *memoryPatterns
	queue    *queue
	svc      *Service
	user     uuid.UUID
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store:    testutil.NewMemoryStore(),
		patterns: newMemoryPatterns(),
		queue:    &queue{},
		user:     uuid.New(),
	}
	f.svc = NewService(f.patterns, f.patterns, f.store, NewRegexCache(), f.queue, logger.Discard())
	return f
}

func TestService_SuggestBatch(t *testing.T) {
	f := newServiceFixture(t)
	groceries := f.patterns.addCategory(f.user, "Groceries")
	f.patterns.seed(Pattern{UserID: f.user, Pattern: "tesco", CategoryID: groceries, ConfidenceScore: 70, MatchCount: 2})

	got, err := f.svc.SuggestBatch(context.Background(), f.user, []string{"TESCO STORES 3297", "PRET A MANGER"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0])
	assert.Equal(t, groceries, got[0].CategoryID)
	assert.Nil(t, got[1])

	assert.Equal(t, []uuid.UUID{got[0].PatternID}, f.patterns.touched)
}

func TestService_SuggestBatch_NoPatterns(t *testing.T) {
	f := newServiceFixture(t)

	got, err := f.svc.SuggestBatch(context.Background(), f.user, []string{"tesco"})
	require.NoError(t, err)
	assert.Equal(t, []*Suggestion{nil}, got)
	assert.Empty(t, f.patterns.touched)
}

func TestService_SuggestBatch_StoreFailure(t *testing.T) {
	f := newServiceFixture(t)
	boom := errors.New("timeout")
	f.patterns.failWith = boom

	_, err := f.svc.SuggestBatch(context.Background(), f.user, []string{"tesco"})
	assert.ErrorIs(t, err, boom)
}

func TestService_Suggest_OnlyOwnPatterns(t *testing.T) {
	f := newServiceFixture(t)
	other := uuid.New()
	f.patterns.seed(Pattern{UserID: other, Pattern: "tesco", CategoryID: uuid.New(), ConfidenceScore: 70})

	got, err := f.svc.Suggest(context.Background(), f.user, "tesco")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func (f *serviceFixture) transaction(desc string) repository.Transaction {
	tx := repository.Transaction{
		ID: uuid.New(), UserID: f.user, AccountID: uuid.New(),
		Date:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		AmountMinor: -1250, CurrencyCode: "GBP", Description: desc, Source: repository.SourceBank,
	}
	f.store.Seed(tx)
	return tx
}

func TestService_CategorizeTransaction(t *testing.T) {
	f := newServiceFixture(t)
	groceries := f.patterns.addCategory(f.user, "Groceries")
	tx := f.transaction("TESCO STORES 3297")

	updated, err := f.svc.CategorizeTransaction(context.Background(), f.user, tx.ID, &groceries)
	require.NoError(t, err)
	require.NotNil(t, updated.CategoryID)
	assert.Equal(t, groceries, *updated.CategoryID)

	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, LearnTask{Owner: f.user, Description: "TESCO STORES 3297", CategoryID: groceries}, f.queue.tasks[0])
}

func TestService_CategorizeTransaction_ClearDoesNotLearn(t *testing.T) {
	f := newServiceFixture(t)
	tx := f.transaction("TESCO STORES 3297")

	updated, err := f.svc.CategorizeTransaction(context.Background(), f.user, tx.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, updated.CategoryID)
	assert.Empty(t, f.queue.tasks)
}

func TestService_CategorizeTransaction_DroppedTaskStillSucceeds(t *testing.T) {
	f := newServiceFixture(t)
	f.queue.reject = true
	groceries := f.patterns.addCategory(f.user, "Groceries")
	tx := f.transaction("TESCO STORES 3297")

	_, err := f.svc.CategorizeTransaction(context.Background(), f.user, tx.ID, &groceries)
	assert.NoError(t, err)
}

func TestService_CategorizeTransaction_Errors(t *testing.T) {
	f := newServiceFixture(t)
	mine := f.patterns.addCategory(f.user, "Groceries")
	theirs := f.patterns.addCategory(uuid.New(), "Groceries")
	tx := f.transaction("TESCO")

	_, err := f.svc.CategorizeTransaction(context.Background(), f.user, tx.ID, &theirs)
	assert.ErrorIs(t, err, apperror.ErrNotFound, "category of another user")

	_, err = f.svc.CategorizeTransaction(context.Background(), uuid.New(), tx.ID, &mine)
	assert.ErrorIs(t, err, apperror.ErrNotFound, "transaction of another user")

	_, err = f.svc.CategorizeTransaction(context.Background(), f.user, uuid.New(), &mine)
	assert.ErrorIs(t, err, apperror.ErrNotFound, "missing transaction")

	assert.Empty(t, f.queue.tasks)
}

func TestService_RegisterPattern(t *testing.T) {
	f := newServiceFixture(t)
	groceries := f.patterns.addCategory(f.user, "Groceries")
	household := f.patterns.addCategory(f.user, "Household")
	ctx := context.Background()

	p, err := f.svc.RegisterPattern(ctx, f.user, `  sainsbury'?s  `, groceries)
	require.NoError(t, err)
	assert.Equal(t, `sainsbury'?s`, p.Pattern)
	assert.Equal(t, 60, p.ConfidenceScore)

	p, err = f.svc.RegisterPattern(ctx, f.user, `sainsbury'?s`, groceries)
	require.NoError(t, err)
	assert.Equal(t, 70, p.ConfidenceScore)
	assert.Equal(t, 2, p.MatchCount)

	_, err = f.svc.RegisterPattern(ctx, f.user, `sainsbury'?s`, household)
	assert.ErrorIs(t, err, apperror.ErrConflict)

	_, err = f.svc.RegisterPattern(ctx, f.user, "(", groceries)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.svc.RegisterPattern(ctx, f.user, "   ", groceries)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.svc.RegisterPattern(ctx, f.user, "lidl", uuid.New())
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	patterns, err := f.svc.ListPatterns(ctx, f.user)
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	got, err := f.svc.Suggest(ctx, f.user, "SAINSBURYS LOCAL")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, groceries, got[0].CategoryID)
}
