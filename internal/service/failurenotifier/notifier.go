// Package failurenotifier fans job failure events out to configured
// notification sinks.
package failurenotifier

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nudgelabs/nudged/internal/domain/model"
	obserrors "github.com/nudgelabs/nudged/internal/observability/errors"
	"github.com/nudgelabs/nudged/internal/observability/notify"
)

const sendTimeout = 10 * time.Second

// SinkRegistration pairs a sink with the name used in logs.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures a Notifier.
type Options struct {
	Sinks  []SinkRegistration
	Logger *slog.Logger
}

// Notifier delivers failure notifications to every registered sink.
// Sink errors are logged, never propagated; a flaky webhook must not
// affect job outcome recording.
type Notifier struct {
	sinks  []SinkRegistration
	logger *slog.Logger
}

// New builds a Notifier from options.
func New(opts Options) *Notifier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sinks := make([]SinkRegistration, 0, len(opts.Sinks))
	for _, reg := range opts.Sinks {
		if reg.Sink == nil {
			continue
		}
		sinks = append(sinks, reg)
	}
	return &Notifier{
		sinks:  sinks,
		logger: logger.With("component", "failure_notifier"),
	}
}

// Enabled reports whether any sink is registered.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.sinks) > 0
}

// NotifyJobFailure builds the canonical payload for a failed job and sends
// it to every sink concurrently, waiting for all sends to finish.
func (n *Notifier) NotifyJobFailure(ctx context.Context, job *model.Job, jobErr error) {
	if !n.Enabled() || job == nil || jobErr == nil {
		return
	}

	payload := notify.JobFailurePayload{
		JobID:      job.ID,
		JobKind:    string(job.Kind),
		ParamsType: job.ParamsType(),
		Error:      jobErr.Error(),
		ErrorClass: obserrors.Classify(jobErr),
		Severity:   severityFor(job.Kind),
		OccurredAt: time.Now().UTC(),
	}
	var params model.PushMessageParams
	if err := decodeParams(job, &params); err == nil {
		payload.UserID = params.UserID
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, reg := range n.sinks {
		wg.Add(1)
		go func(reg SinkRegistration) {
			defer wg.Done()
			if err := reg.Sink.SendJobFailure(sendCtx, payload); err != nil {
				n.logger.ErrorContext(sendCtx, "failure notification not delivered",
					"sink", reg.Name,
					"job_id", payload.JobID,
					"error", err,
				)
			}
		}(reg)
	}
	wg.Wait()
}

// severityFor grades failures by kind: a failed one-time job stays pending
// and retries, a recurring failure already spawned its successor.
func severityFor(kind model.JobKind) string {
	if kind == model.JobKindOneTime {
		return notify.SeverityCritical
	}
	return notify.SeverityWarning
}

func decodeParams(job *model.Job, out *model.PushMessageParams) error {
	if job.ParamsType() != model.ParamsTypePushMessage {
		return errNotPushMessage
	}
	return json.Unmarshal(job.Params, out)
}

var errNotPushMessage = errors.New("params are not push-message")
