package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nudgelabs/nudged/internal/core"
	"github.com/nudgelabs/nudged/internal/domain/model"
)

func TestNewSchedulerServiceRequiresDependencies(t *testing.T) {
	assert.Panics(t, func() {
		MustNewSchedulerService(SchedulerServiceOptions{})
	})
	assert.Panics(t, func() {
		MustNewSchedulerService(SchedulerServiceOptions{Jobs: &mockJobStore{}})
	})
}

func TestTickClaimsAndRunsEveryJob(t *testing.T) {
	jobs := &mockJobStore{}
	runner := &mockJobRunner{}
	svc := MustNewSchedulerService(SchedulerServiceOptions{
		Jobs:      jobs,
		Runner:    runner,
		BatchSize: 10,
		Lease:     45 * time.Second,
	})

	claimed := []*model.Job{
		pushMessageJob(t, "job-1"),
		pushMessageJob(t, "job-2"),
		pushMessageJob(t, "job-3"),
	}
	jobs.On("ClaimPending", mock.Anything, core.ClaimParams{Limit: 10, LeaseSeconds: 45}).
		Return(claimed, nil)
	for _, job := range claimed {
		runner.On("Run", mock.Anything, job).Return()
	}

	count, err := svc.Tick(context.Background(), time.Now())

	require.NoError(t, err)
	assert.Equal(t, 3, count)
	jobs.AssertExpectations(t)
	runner.AssertExpectations(t)
}

func TestTickEmptyQueueIsNotAnError(t *testing.T) {
	jobs := &mockJobStore{}
	runner := &mockJobRunner{}
	svc := MustNewSchedulerService(SchedulerServiceOptions{Jobs: jobs, Runner: runner})

	jobs.On("ClaimPending", mock.Anything, mock.Anything).
		Return(nil, model.ErrNoJobsAvailable)

	count, err := svc.Tick(context.Background(), time.Now())

	require.NoError(t, err)
	assert.Zero(t, count)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestTickPropagatesClaimErrors(t *testing.T) {
	jobs := &mockJobStore{}
	runner := &mockJobRunner{}
	svc := MustNewSchedulerService(SchedulerServiceOptions{Jobs: jobs, Runner: runner})

	claimErr := errors.New("connection refused")
	jobs.On("ClaimPending", mock.Anything, mock.Anything).Return(nil, claimErr)

	count, err := svc.Tick(context.Background(), time.Now())

	assert.Zero(t, count)
	assert.ErrorIs(t, err, claimErr)
}

func TestTickBoundsConcurrency(t *testing.T) {
	jobs := &mockJobStore{}
	svc := MustNewSchedulerService(SchedulerServiceOptions{
		Jobs:        jobs,
		Runner:      &countingRunner{limit: 2, t: t},
		BatchSize:   8,
		Concurrency: 2,
	})

	claimed := make([]*model.Job, 8)
	for i := range claimed {
		claimed[i] = pushMessageJob(t, "job-"+string(rune('a'+i)))
	}
	jobs.On("ClaimPending", mock.Anything, mock.Anything).Return(claimed, nil)

	count, err := svc.Tick(context.Background(), time.Now())

	require.NoError(t, err)
	assert.Equal(t, 8, count)
}

// countingRunner fails the test if more than limit Runs overlap.
type countingRunner struct {
	mu      sync.Mutex
	current int
	limit   int
	t       *testing.T
}

func (r *countingRunner) Run(_ context.Context, _ *model.Job) {
	r.mu.Lock()
	r.current++
	if r.current > r.limit {
		r.t.Errorf("observed %d concurrent runs, limit is %d", r.current, r.limit)
	}
	r.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	r.mu.Lock()
	r.current--
	r.mu.Unlock()
}

func TestTickLeaseClampedToPolicyFloor(t *testing.T) {
	jobs := &mockJobStore{}
	runner := &mockJobRunner{}
	svc := MustNewSchedulerService(SchedulerServiceOptions{
		Jobs:   jobs,
		Runner: runner,
		Lease:  10 * time.Millisecond,
	})

	jobs.On("ClaimPending", mock.Anything, mock.MatchedBy(func(p core.ClaimParams) bool {
		return p.LeaseSeconds >= 1
	})).Return(nil, model.ErrNoJobsAvailable)

	_, err := svc.Tick(context.Background(), time.Now())

	require.NoError(t, err)
	jobs.AssertExpectations(t)
}
