package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nudgelabs/nudged/internal/domain/model"
)

// HandlerFunc executes one job whose params matched the registered type.
type HandlerFunc func(ctx context.Context, job *model.Job) error

// UnknownJobTypeError reports a job whose params name a type with no
// registered handler. The classification is deterministic: retrying the
// same job yields the same error.
type UnknownJobTypeError struct {
	Type string
}

// Error implements the error interface.
func (e *UnknownJobTypeError) Error() string {
	if e.Type == "" {
		return "job params carry no type tag"
	}
	return fmt.Sprintf("no handler registered for job type %q", e.Type)
}

// ExecutorServiceOptions configures an ExecutorService.
type ExecutorServiceOptions struct {
	Handlers map[string]HandlerFunc
	Logger   *slog.Logger
}

// ExecutorService dispatches jobs to typed handlers keyed by the params
// type tag. Handler errors pass through untouched so callers can classify
// them; only dispatch itself adds error types.
type ExecutorService struct {
	handlers map[string]HandlerFunc
	logger   *slog.Logger
}

// NewExecutorService creates an ExecutorService from options.
func NewExecutorService(opts ExecutorServiceOptions) (*ExecutorService, error) {
	if len(opts.Handlers) == 0 {
		return nil, errors.New("executor service: at least one handler is required")
	}
	for typ, handler := range opts.Handlers {
		if typ == "" {
			return nil, errors.New("executor service: handler type must not be empty")
		}
		if handler == nil {
			return nil, fmt.Errorf("executor service: handler for %q is nil", typ)
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	handlers := make(map[string]HandlerFunc, len(opts.Handlers))
	for typ, handler := range opts.Handlers {
		handlers[typ] = handler
	}
	return &ExecutorService{
		handlers: handlers,
		logger:   opts.Logger.With("component", "executor"),
	}, nil
}

// MustNewExecutorService creates an ExecutorService and panics on invalid options.
func MustNewExecutorService(opts ExecutorServiceOptions) *ExecutorService {
	svc, err := NewExecutorService(opts)
	if err != nil {
		panic(err)
	}
	return svc
}

// Execute dispatches the job to the handler registered for its params type.
func (s *ExecutorService) Execute(ctx context.Context, job *model.Job) error {
	if job == nil {
		return errors.New("job is required")
	}

	typ := job.ParamsType()
	handler, ok := s.handlers[typ]
	if !ok {
		return &UnknownJobTypeError{Type: typ}
	}

	s.logger.DebugContext(ctx, "executing job", "job_id", job.ID, "job_type", typ)
	return handler(ctx, job)
}

// NewPushMessageHandler adapts a PushService into the handler for
// push-message jobs.
func NewPushMessageHandler(pusher *PushService) HandlerFunc {
	return func(ctx context.Context, job *model.Job) error {
		var params model.PushMessageParams
		if err := json.Unmarshal(job.Params, &params); err != nil {
			return fmt.Errorf("decode push-message params: %w", err)
		}
		if err := params.Validate(); err != nil {
			return fmt.Errorf("invalid push-message params: %w", err)
		}
		return pusher.Push(ctx, params.UserID, params.Message)
	}
}
