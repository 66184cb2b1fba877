// Package scheduler runs the polling loop that drives the job scheduler.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nudgelabs/nudged/internal/core"
	"github.com/nudgelabs/nudged/internal/observability/statsd"
)

const defaultInterval = 5 * time.Minute

// RunnerOptions configures the scheduler loop.
type RunnerOptions struct {
	Scheduler core.JobScheduler
	Interval  time.Duration
	Logger    *slog.Logger
	Metrics   statsd.Sink
}

// Runner drives the scheduler on a fixed ticker. Ticks are serialized:
// a tick that overruns the interval simply delays the next one, so two
// claim passes never overlap within one process.
type Runner struct {
	scheduler core.JobScheduler
	interval  time.Duration
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewRunner creates a Runner from options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}
	return &Runner{
		scheduler: opts.Scheduler,
		interval:  opts.Interval,
		logger:    opts.Logger.With("component", "scheduler_runner"),
		metrics:   opts.Metrics,
	}, nil
}

// MustNewRunner creates a Runner and panics on invalid options.
func MustNewRunner(opts RunnerOptions) *Runner {
	runner, err := NewRunner(opts)
	if err != nil {
		panic(err)
	}
	return runner
}

func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.Scheduler == nil {
		return errors.New("scheduler runner: scheduler is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// Start ticks until ctx is cancelled. The first tick fires immediately so
// a restart does not wait one full interval before draining the queue.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.InfoContext(ctx, "scheduler loop starting", "interval", r.interval)

	r.tick(ctx, time.Now())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "scheduler loop stopping")
			return nil
		case now := <-ticker.C:
			r.tick(ctx, now)
		}
	}
}

func (r *Runner) tick(ctx context.Context, now time.Time) {
	start := time.Now()
	processed, err := r.scheduler.Tick(ctx, now)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		r.logger.ErrorContext(ctx, "tick failed", "error", err, "duration", duration)
	} else if processed > 0 {
		r.logger.InfoContext(ctx, "tick processed jobs", "count", processed, "duration", duration)
	}

	r.emitTickMetrics(processed, duration, err)
}

func (r *Runner) emitTickMetrics(processed int, duration time.Duration, err error) {
	if r.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	tags := map[string]string{"result": result}
	r.metrics.Count("scheduler.tick", 1, tags)
	r.metrics.Count("scheduler.jobs_processed", int64(processed), tags)
	r.metrics.Timing("scheduler.tick_duration", duration, tags)
	if err == nil {
		r.metrics.Gauge("scheduler.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}
