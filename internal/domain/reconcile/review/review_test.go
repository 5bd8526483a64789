package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/lock"
	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/repository"
	"github.com/FACorreiaa/bank-reconciler/internal/testutil"
	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
	"github.com/FACorreiaa/bank-reconciler/pkg/logger"
)

func TestNext(t *testing.T) {
	actions := []Action{ActionAccept, ActionReject, ActionVerify}
	allowed := map[Action]map[repository.MatchStatus]repository.MatchStatus{
		ActionAccept: {repository.StatusPotential: repository.StatusMatched},
		ActionReject: {repository.StatusPotential: repository.StatusReviewed, repository.StatusMatched: repository.StatusReviewed},
		ActionVerify: {repository.StatusPotential: repository.StatusVerified, repository.StatusMatched: repository.StatusVerified},
	}

	for _, action := range actions {
		for _, from := range repository.Statuses {
			t.Run(string(action)+"/"+string(from), func(t *testing.T) {
				to, err := Next(action, from)
				want, ok := allowed[action][from]
				if ok {
					require.NoError(t, err)
					assert.Equal(t, want, to)
					return
				}
				var serr *apperror.StateError
				require.ErrorAs(t, err, &serr)
				assert.Equal(t, string(action), serr.Action)
				assert.Equal(t, string(from), serr.From)
			})
		}
	}
}

func TestNext_VerifiedIsTerminal(t *testing.T) {
	for _, action := range []Action{ActionAccept, ActionReject, ActionVerify} {
		_, err := Next(action, repository.StatusVerified)
		assert.ErrorIs(t, err, apperror.ErrState)
	}
}

func TestNext_UnknownAction(t *testing.T) {
	_, err := Next("undo", repository.StatusPotential)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestInitialStatus(t *testing.T) {
	tests := []struct {
		confidence repository.Confidence
		autoAccept bool
		want       repository.MatchStatus
	}{
		{repository.ConfidenceNone, false, repository.StatusUnmatched},
		{repository.ConfidenceNone, true, repository.StatusUnmatched},
		{repository.ConfidenceLow, false, repository.StatusPotential},
		{repository.ConfidenceMedium, true, repository.StatusPotential},
		{repository.ConfidenceHigh, false, repository.StatusPotential},
		{repository.ConfidenceHigh, true, repository.StatusMatched},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InitialStatus(tt.confidence, tt.autoAccept), "%s auto=%v", tt.confidence, tt.autoAccept)
	}
}

type fixture struct {
	store   *testutil.MemoryStore
	service *Service
	account uuid.UUID
}

func newFixture(t *testing.T, statuses ...repository.MatchStatus) (*fixture, []uuid.UUID) {
	t.Helper()
	f := &fixture{store: testutil.NewMemoryStore(), account: uuid.New()}
	f.service = NewService(f.store, lock.New(), nil, logger.Discard())

	ids := make([]uuid.UUID, len(statuses))
	for i, status := range statuses {
		ids[i] = uuid.New()
		f.store.SeedImported(repository.ImportedTransaction{
			ID:          ids[i],
			AccountID:   f.account,
			Line:        i + 2,
			Date:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			AmountMinor: -100,
			MatchStatus: status,
		})
	}
	return f, ids
}

func (f *fixture) status(t *testing.T, id uuid.UUID) repository.MatchStatus {
	t.Helper()
	row, err := f.store.GetImported(context.Background(), id)
	require.NoError(t, err)
	return row.MatchStatus
}

func TestService_SingleActions(t *testing.T) {
	ctx := context.Background()
	f, ids := newFixture(t, repository.StatusPotential, repository.StatusPotential, repository.StatusMatched, repository.StatusUnmatched)

	row, err := f.service.Accept(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, repository.StatusMatched, row.MatchStatus)

	row, err = f.service.Reject(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, repository.StatusReviewed, row.MatchStatus)

	row, err = f.service.Verify(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, repository.StatusVerified, row.MatchStatus)

	_, err = f.service.Accept(ctx, ids[3])
	assert.ErrorIs(t, err, apperror.ErrState)
	assert.Equal(t, repository.StatusUnmatched, f.status(t, ids[3]))

	_, err = f.service.Reject(ctx, ids[2])
	assert.ErrorIs(t, err, apperror.ErrState, "verified rows cannot be rejected")
	assert.Equal(t, repository.StatusVerified, f.status(t, ids[2]))

	_, err = f.service.Accept(ctx, uuid.New())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestService_Pending(t *testing.T) {
	f, ids := newFixture(t, repository.StatusPotential, repository.StatusUnmatched, repository.StatusMatched, repository.StatusVerified)

	rows, err := f.service.Pending(context.Background(), f.account)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ids[0], rows[0].ID)
	assert.Equal(t, ids[2], rows[1].ID)
}

func TestService_Bulk(t *testing.T) {
	ctx := context.Background()
	f, ids := newFixture(t, repository.StatusPotential, repository.StatusVerified, repository.StatusMatched)
	missing := uuid.New()

	result, err := f.service.BulkVerify(ctx, append(ids, missing))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	assert.Zero(t, result.NotAttempted)

	assert.Equal(t, repository.StatusVerified, result.Outcomes[0].Status)
	assert.ErrorIs(t, result.Outcomes[1].Err, apperror.ErrState)
	assert.Equal(t, repository.StatusVerified, result.Outcomes[2].Status)
	assert.ErrorIs(t, result.Outcomes[3].Err, apperror.ErrNotFound)
	for _, out := range result.Outcomes {
		assert.True(t, out.Attempted)
	}
}

func TestService_BulkCancelled(t *testing.T) {
	f, ids := newFixture(t, repository.StatusPotential, repository.StatusPotential, repository.StatusPotential)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.service.BulkAccept(ctx, ids)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, result.NotAttempted)
	for i, out := range result.Outcomes {
		assert.Equal(t, ids[i], out.ID)
		assert.False(t, out.Attempted)
		assert.Equal(t, repository.StatusPotential, f.status(t, ids[i]))
	}
}

func TestService_StoreFailure(t *testing.T) {
	f, ids := newFixture(t, repository.StatusPotential)
	boom := errors.New("connection reset")
	f.store.FailOn("UpdateImportedStatus", 0, boom)

	_, err := f.service.Accept(context.Background(), ids[0])
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, repository.StatusPotential, f.status(t, ids[0]))
}

// contendedStore reports every status update as lost to a concurrent writer.
type contendedStore struct {
	*testutil.MemoryStore
}

func (s contendedStore) UpdateImportedStatus(ctx context.Context, id uuid.UUID, from, to repository.MatchStatus) (bool, error) {
	return false, nil
}

func TestService_RetriesExhausted(t *testing.T) {
	f, ids := newFixture(t, repository.StatusPotential)
	svc := NewService(contendedStore{f.store}, lock.New(), nil, logger.Discard())

	_, err := svc.Verify(context.Background(), ids[0])
	require.ErrorIs(t, err, apperror.ErrState)

	var stateErr *apperror.StateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, string(repository.StatusPotential), stateErr.From)
	assert.Equal(t, repository.StatusPotential, f.status(t, ids[0]))
}

func TestService_ConcurrentDecisions(t *testing.T) {
	f, ids := newFixture(t, repository.StatusPotential)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Go(func() { _, errs[0] = f.service.Verify(ctx, ids[0]) })
	wg.Go(func() { _, errs[1] = f.service.Reject(ctx, ids[0]) })
	wg.Wait()

	// One decision wins. The loser sees a terminal or reviewed row.
	final := f.status(t, ids[0])
	assert.Contains(t, []repository.MatchStatus{repository.StatusVerified, repository.StatusReviewed}, final)
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.GreaterOrEqual(t, succeeded, 1)
}
