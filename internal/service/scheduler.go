package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nudgelabs/nudged/internal/core"
	"github.com/nudgelabs/nudged/internal/domain/job"
	"github.com/nudgelabs/nudged/internal/domain/model"
)

// SchedulerServiceOptions configures a SchedulerService.
type SchedulerServiceOptions struct {
	Jobs        core.JobStore
	Runner      core.JobRunner
	BatchSize   int
	Concurrency int
	LeasePolicy *job.LeasePolicy
	Lease       time.Duration
	Logger      *slog.Logger
}

const (
	defaultBatchSize   = 25
	defaultConcurrency = 4
	defaultLease       = 30 * time.Second
)

// SchedulerService drains due jobs. Each Tick claims one batch of pending
// jobs and runs them on a bounded worker group, returning once every
// claimed job has been handed to the runner and finished.
type SchedulerService struct {
	jobs        core.JobStore
	runner      core.JobRunner
	batchSize   int
	concurrency int
	leasePolicy *job.LeasePolicy
	lease       time.Duration
	logger      *slog.Logger
}

// NewSchedulerService creates a SchedulerService from options.
func NewSchedulerService(opts SchedulerServiceOptions) (*SchedulerService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("scheduler service: job store is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("scheduler service: runner is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Lease <= 0 {
		opts.Lease = defaultLease
	}
	if opts.LeasePolicy == nil {
		policy, err := job.NewLeasePolicy(defaultLease)
		if err != nil {
			return nil, err
		}
		opts.LeasePolicy = policy
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &SchedulerService{
		jobs:        opts.Jobs,
		runner:      opts.Runner,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		leasePolicy: opts.LeasePolicy,
		lease:       opts.Lease,
		logger:      opts.Logger.With("component", "scheduler"),
	}, nil
}

// MustNewSchedulerService creates a SchedulerService and panics on invalid options.
func MustNewSchedulerService(opts SchedulerServiceOptions) *SchedulerService {
	svc, err := NewSchedulerService(opts)
	if err != nil {
		panic(err)
	}
	return svc
}

// Tick claims one batch of due jobs and runs them, returning the number of
// jobs processed. An empty queue is not an error.
func (s *SchedulerService) Tick(ctx context.Context, now time.Time) (int, error) {
	decision := s.leasePolicy.Resolve(s.lease)
	if decision.Clamped() {
		s.logger.DebugContext(ctx, "lease duration clamped",
			"requested", decision.Requested,
			"seconds", decision.Seconds,
		)
	}

	claimed, err := s.jobs.ClaimPending(ctx, core.ClaimParams{
		Limit:        s.batchSize,
		LeaseSeconds: decision.Seconds,
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return 0, nil
		}
		return 0, err
	}

	s.logger.DebugContext(ctx, "claimed jobs", "count", len(claimed), "tick_at", now)

	g, runCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, claimedJob := range claimed {
		claimedJob := claimedJob
		g.Go(func() error {
			s.runner.Run(runCtx, claimedJob)
			return nil
		})
	}
	// Run never returns an error; Wait only observes ctx cancellation.
	if waitErr := g.Wait(); waitErr != nil {
		return len(claimed), waitErr
	}
	return len(claimed), nil
}
