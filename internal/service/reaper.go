package service

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/nudgelabs/nudged/internal/core"
	"github.com/nudgelabs/nudged/internal/data"
	"github.com/nudgelabs/nudged/internal/domain/model"
	"github.com/nudgelabs/nudged/internal/observability/statsd"
)

// ReaperServiceOptions configures a ReaperService.
type ReaperServiceOptions struct {
	Jobs            core.JobMaintenanceStore
	Interval        time.Duration
	BatchSize       int
	CompletedMaxAge time.Duration
	FailedMaxAge    time.Duration
	TimeProvider    data.TimeProvider
	Metrics         statsd.Sink
	Logger          *slog.Logger
}

const (
	defaultReaperInterval  = 15 * time.Minute
	defaultReaperBatchSize = 500
	defaultCompletedMaxAge = 7 * 24 * time.Hour
	defaultFailedMaxAge    = 30 * 24 * time.Hour
)

// ReaperService periodically clears stale leases and prunes old terminal
// jobs so the queue table stays small enough for claim scans.
type ReaperService struct {
	jobs            core.JobMaintenanceStore
	interval        time.Duration
	batchSize       int
	completedMaxAge time.Duration
	failedMaxAge    time.Duration
	timeProvider    data.TimeProvider
	metrics         statsd.Sink
	logger          *slog.Logger
}

// NewReaperService creates a ReaperService from options.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("reaper service: job maintenance store is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultReaperInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultReaperBatchSize
	}
	if opts.CompletedMaxAge <= 0 {
		opts.CompletedMaxAge = defaultCompletedMaxAge
	}
	if opts.FailedMaxAge <= 0 {
		opts.FailedMaxAge = defaultFailedMaxAge
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ReaperService{
		jobs:            opts.Jobs,
		interval:        opts.Interval,
		batchSize:       opts.BatchSize,
		completedMaxAge: opts.CompletedMaxAge,
		failedMaxAge:    opts.FailedMaxAge,
		timeProvider:    opts.TimeProvider,
		metrics:         opts.Metrics,
		logger:          opts.Logger.With("component", "reaper"),
	}, nil
}

// MustNewReaperService creates a ReaperService and panics on invalid options.
func MustNewReaperService(opts ReaperServiceOptions) *ReaperService {
	svc, err := NewReaperService(opts)
	if err != nil {
		panic(err)
	}
	return svc
}

// Start runs cleanup passes until ctx is cancelled.
func (s *ReaperService) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "reaper starting", "interval", s.interval)
	for {
		if err := s.waitWithJitter(ctx); err != nil {
			return suppressContextCancellation(err)
		}
		if err := s.RunOnce(ctx); err != nil {
			if isContextCancellation(err) {
				return nil
			}
			s.logger.ErrorContext(ctx, "cleanup pass failed", "error", err)
		}
	}
}

// waitWithJitter sleeps one interval plus up to 10% random jitter so
// multiple replicas do not sweep in lockstep.
func (s *ReaperService) waitWithJitter(ctx context.Context) error {
	wait := s.interval
	if jitterRange := int64(s.interval / 10); jitterRange > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(jitterRange)); err == nil {
			wait += time.Duration(n.Int64())
		}
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RunOnce executes a single cleanup pass over all steps.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	now := s.timeProvider.Now().UTC()

	var (
		leasesCleared    int64
		completedDeleted int64
		failedDeleted    int64
	)
	steps := []struct {
		name  string
		count *int64
		run   func(ctx context.Context) (int64, error)
	}{
		{
			name:  "clear_expired_leases",
			count: &leasesCleared,
			run: func(ctx context.Context) (int64, error) {
				return s.jobs.ClearExpiredLeases(ctx, now, s.batchSize)
			},
		},
		{
			name:  "delete_old_completed",
			count: &completedDeleted,
			run: func(ctx context.Context) (int64, error) {
				return s.jobs.DeleteTerminalJobs(ctx, model.JobStatusCompleted, now.Add(-s.completedMaxAge), s.batchSize)
			},
		},
		{
			name:  "delete_old_failed",
			count: &failedDeleted,
			run: func(ctx context.Context) (int64, error) {
				return s.jobs.DeleteTerminalJobs(ctx, model.JobStatusFailed, now.Add(-s.failedMaxAge), s.batchSize)
			},
		},
	}

	var firstErr error
	for _, step := range steps {
		count, err := s.runStepBatches(ctx, step.run)
		*step.count += count
		s.emitStepMetric(step.name, count, err)
		if err != nil {
			s.logger.ErrorContext(ctx, "cleanup step failed", "step", step.name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			if isContextCancellation(err) {
				return firstErr
			}
		}
	}

	if leasesCleared+completedDeleted+failedDeleted > 0 {
		s.logger.InfoContext(ctx, "cleanup pass finished",
			"leases_cleared", leasesCleared,
			"completed_deleted", completedDeleted,
			"failed_deleted", failedDeleted,
		)
	}
	return firstErr
}

// runStepBatches drains one step in bounded batches until it reports no
// more work.
func (s *ReaperService) runStepBatches(ctx context.Context, run func(ctx context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		count, err := run(ctx)
		total += count
		if err != nil {
			return total, err
		}
		if count < int64(s.batchSize) {
			return total, nil
		}
	}
}

func (s *ReaperService) emitStepMetric(step string, count int64, err error) {
	if s.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	tags := map[string]string{"step": step, "result": result}
	s.metrics.Count("reaper.rows", count, tags)
	s.metrics.Count("reaper.step", 1, tags)
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
