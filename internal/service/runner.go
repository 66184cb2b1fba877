package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nudgelabs/nudged/internal/core"
	"github.com/nudgelabs/nudged/internal/domain/model"
	"github.com/nudgelabs/nudged/internal/observability/metrics"
	"github.com/nudgelabs/nudged/internal/observability/statsd"
	"github.com/nudgelabs/nudged/internal/service/failurenotifier"
)

// RecurrencePolicy records the outcome of one execution attempt on the job
// record. Implementations differ per job kind; they own the status
// transition and any successor row.
type RecurrencePolicy interface {
	Finalize(ctx context.Context, jobs core.JobStore, job *model.Job, execErr error) error
}

// RunnerServiceOptions configures a RunnerService.
type RunnerServiceOptions struct {
	Jobs       core.JobStore
	Executor   core.JobExecutor
	Guard      core.DeliveryGuard
	Notifier   *failurenotifier.Notifier
	Metrics    statsd.Sink
	JobTimeout time.Duration
	GuardTTL   time.Duration
	Policies   map[model.JobKind]RecurrencePolicy
	Logger     *slog.Logger
}

// RunnerService executes one claimed job end to end: guard, execute with a
// per-job deadline, then hand the outcome to the kind's recurrence policy.
// Nothing escapes Run; execution and bookkeeping errors land in the job
// record and the logs.
type RunnerService struct {
	jobs       core.JobStore
	executor   core.JobExecutor
	guard      core.DeliveryGuard
	notifier   *failurenotifier.Notifier
	metrics    statsd.Sink
	jobTimeout time.Duration
	guardTTL   time.Duration
	policies   map[model.JobKind]RecurrencePolicy
	logger     *slog.Logger
}

const (
	defaultJobTimeout = 30 * time.Second
	defaultGuardTTL   = 30 * time.Second
)

// NewRunnerService creates a RunnerService from options.
func NewRunnerService(opts RunnerServiceOptions) (*RunnerService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("runner service: job store is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("runner service: executor is required")
	}
	if opts.Guard == nil {
		return nil, errors.New("runner service: delivery guard is required")
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}
	if opts.GuardTTL <= 0 {
		opts.GuardTTL = defaultGuardTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	policies := opts.Policies
	if policies == nil {
		policies = DefaultRecurrencePolicies()
	}
	for _, kind := range []model.JobKind{model.JobKindRecurring, model.JobKindOneTime} {
		if policies[kind] == nil {
			return nil, fmt.Errorf("runner service: no recurrence policy for kind %q", kind)
		}
	}
	return &RunnerService{
		jobs:       opts.Jobs,
		executor:   opts.Executor,
		guard:      opts.Guard,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		jobTimeout: opts.JobTimeout,
		guardTTL:   opts.GuardTTL,
		policies:   policies,
		logger:     opts.Logger.With("component", "runner"),
	}, nil
}

// MustNewRunnerService creates a RunnerService and panics on invalid options.
func MustNewRunnerService(opts RunnerServiceOptions) *RunnerService {
	svc, err := NewRunnerService(opts)
	if err != nil {
		panic(err)
	}
	return svc
}

// DefaultRecurrencePolicies returns the built-in policy per job kind.
func DefaultRecurrencePolicies() map[model.JobKind]RecurrencePolicy {
	return map[model.JobKind]RecurrencePolicy{
		model.JobKindRecurring: recurringPolicy{},
		model.JobKindOneTime:   oneTimePolicy{},
	}
}

// Run executes one claimed job. The delivery guard skips jobs another
// runner already holds; everything else flows into the recurrence policy.
func (s *RunnerService) Run(ctx context.Context, job *model.Job) {
	if job == nil {
		return
	}
	logger := s.logger.With("job_id", job.ID, "job_kind", string(job.Kind))

	acquired, err := s.guard.TryAcquire(ctx, job.ID, s.guardTTL)
	if err != nil {
		logger.ErrorContext(ctx, "delivery guard unavailable, skipping job", "error", err)
		return
	}
	if !acquired {
		logger.WarnContext(ctx, "job already held by another runner, skipping")
		return
	}
	defer func() {
		if releaseErr := s.guard.Release(ctx, job.ID); releaseErr != nil {
			logger.WarnContext(ctx, "releasing delivery guard failed", "error", releaseErr)
		}
	}()

	start := time.Now()
	execErr := s.execute(ctx, job)
	s.emitJobMetric(job, execErr, time.Since(start))

	if execErr != nil {
		logger.ErrorContext(ctx, "job execution failed", "error", execErr)
		if s.notifier.Enabled() {
			s.notifier.NotifyJobFailure(ctx, job, execErr)
		}
	}

	policy := s.policies[job.Kind]
	if policy == nil {
		// The claim query only returns valid kinds; a miss here means the
		// row was corrupted out of band.
		logger.ErrorContext(ctx, "no recurrence policy for job kind, leaving job leased")
		return
	}
	if err := policy.Finalize(ctx, s.jobs, job, execErr); err != nil {
		logger.ErrorContext(ctx, "recording job outcome failed", "error", err)
	}
}

func (s *RunnerService) execute(ctx context.Context, job *model.Job) error {
	execCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()
	return s.executor.Execute(execCtx, job)
}

func (s *RunnerService) emitJobMetric(job *model.Job, execErr error, duration time.Duration) {
	result := metrics.ResultSuccess
	if execErr != nil {
		result = metrics.ResultError
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType:    job.ParamsType(),
		Transition: "run",
		Result:     result,
		Duration:   duration,
		Err:        execErr,
	})
}

// recurringPolicy finishes the executed row terminally and unconditionally
// spawns a fresh pending duplicate so the cadence survives any outcome.
type recurringPolicy struct{}

func (recurringPolicy) Finalize(ctx context.Context, jobs core.JobStore, job *model.Job, execErr error) error {
	var outcomeErr error
	if execErr == nil {
		outcomeErr = jobs.Complete(ctx, job.ID)
	} else {
		outcomeErr = jobs.Fail(ctx, job.ID, execErr.Error())
	}

	_, spawnErr := jobs.Create(ctx, &model.CreateJobRequest{
		Kind:   job.Kind,
		Params: job.Params,
	})
	if spawnErr != nil {
		spawnErr = fmt.Errorf("spawn successor for job %s: %w", job.ID, spawnErr)
	}
	return errors.Join(outcomeErr, spawnErr)
}

// oneTimePolicy completes on success; on failure it releases the lease and
// records the error, leaving the row pending for a later claim pass.
type oneTimePolicy struct{}

func (oneTimePolicy) Finalize(ctx context.Context, jobs core.JobStore, job *model.Job, execErr error) error {
	if execErr == nil {
		return jobs.Complete(ctx, job.ID)
	}
	return jobs.Release(ctx, job.ID, execErr.Error())
}
