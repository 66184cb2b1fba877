package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nudgelabs/nudged/internal/data"
	"github.com/nudgelabs/nudged/internal/domain/model"
)

var reaperNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newReaperFixture(t *testing.T, batchSize int) (*ReaperService, *mockMaintenanceStore) {
	t.Helper()
	store := &mockMaintenanceStore{}
	svc := MustNewReaperService(ReaperServiceOptions{
		Jobs:            store,
		BatchSize:       batchSize,
		CompletedMaxAge: 7 * 24 * time.Hour,
		FailedMaxAge:    30 * 24 * time.Hour,
		TimeProvider:    data.NewFixedTimeProvider(reaperNow),
	})
	return svc, store
}

func TestNewReaperServiceRequiresStore(t *testing.T) {
	assert.Panics(t, func() {
		MustNewReaperService(ReaperServiceOptions{})
	})
}

func TestRunOnceSweepsAllSteps(t *testing.T) {
	svc, store := newReaperFixture(t, 500)

	completedCutoff := reaperNow.Add(-7 * 24 * time.Hour)
	failedCutoff := reaperNow.Add(-30 * 24 * time.Hour)

	store.On("ClearExpiredLeases", mock.Anything, reaperNow, 500).Return(int64(3), nil)
	store.On("DeleteTerminalJobs", mock.Anything, model.JobStatusCompleted, completedCutoff, 500).
		Return(int64(12), nil)
	store.On("DeleteTerminalJobs", mock.Anything, model.JobStatusFailed, failedCutoff, 500).
		Return(int64(1), nil)

	require.NoError(t, svc.RunOnce(context.Background()))
	store.AssertExpectations(t)
}

func TestRunOnceDrainsFullBatches(t *testing.T) {
	svc, store := newReaperFixture(t, 2)

	// First two lease batches come back full; the reaper must keep going
	// until a short batch signals the end.
	store.On("ClearExpiredLeases", mock.Anything, reaperNow, 2).Return(int64(2), nil).Twice()
	store.On("ClearExpiredLeases", mock.Anything, reaperNow, 2).Return(int64(1), nil).Once()
	store.On("DeleteTerminalJobs", mock.Anything, model.JobStatusCompleted, mock.Anything, 2).
		Return(int64(0), nil)
	store.On("DeleteTerminalJobs", mock.Anything, model.JobStatusFailed, mock.Anything, 2).
		Return(int64(0), nil)

	require.NoError(t, svc.RunOnce(context.Background()))
	store.AssertNumberOfCalls(t, "ClearExpiredLeases", 3)
}

func TestRunOnceContinuesPastStepErrors(t *testing.T) {
	svc, store := newReaperFixture(t, 500)
	stepErr := errors.New("deadlock detected")

	store.On("ClearExpiredLeases", mock.Anything, reaperNow, 500).Return(int64(0), stepErr)
	store.On("DeleteTerminalJobs", mock.Anything, model.JobStatusCompleted, mock.Anything, 500).
		Return(int64(4), nil)
	store.On("DeleteTerminalJobs", mock.Anything, model.JobStatusFailed, mock.Anything, 500).
		Return(int64(0), nil)

	err := svc.RunOnce(context.Background())

	// The first error is reported, but the remaining steps still ran.
	assert.ErrorIs(t, err, stepErr)
	store.AssertExpectations(t)
}

func TestRunOnceStopsOnContextCancellation(t *testing.T) {
	svc, store := newReaperFixture(t, 500)

	store.On("ClearExpiredLeases", mock.Anything, reaperNow, 500).
		Return(int64(0), context.Canceled)

	err := svc.RunOnce(context.Background())

	assert.ErrorIs(t, err, context.Canceled)
	store.AssertNotCalled(t, "DeleteTerminalJobs", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStartReturnsCleanlyWhenCancelled(t *testing.T) {
	svc, _ := newReaperFixture(t, 500)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, svc.Start(ctx))
}
