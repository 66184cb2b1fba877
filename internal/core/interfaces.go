// Package core defines the service contracts shared by the scheduler,
// runner, and delivery layers.
package core

import (
	"context"
	"time"

	"github.com/nudgelabs/nudged/internal/domain/model"
)

// ClaimParams bounds a single claim pass over the pending queue.
type ClaimParams struct {
	// Limit caps the number of jobs claimed in one pass.
	Limit int
	// LeaseSeconds is how long claimed rows stay invisible to other claimers.
	LeaseSeconds int
}

// ListJobsParams filters and pages job listings.
type ListJobsParams struct {
	Status model.JobStatus
	Kind   model.JobKind
	Limit  int
	Offset int
}

// JobStore persists jobs and mediates claim-based handoff to runners.
//
// ClaimPending returns pending jobs whose lease is absent or expired,
// stamping a fresh lease on each; rows stay pending while leased. Complete,
// Fail, and Release record outcomes and only touch rows still pending.
type JobStore interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	UpdateByID(ctx context.Context, id string, update *model.JobUpdate) (*model.Job, error)
	List(ctx context.Context, params ListJobsParams) ([]*model.Job, error)
	ClaimPending(ctx context.Context, params ClaimParams) ([]*model.Job, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, lastError string) error
	Release(ctx context.Context, id string, lastError string) error
	Stats(ctx context.Context) (*model.JobStats, error)
}

// JobMaintenanceStore is the reaper's slice of the job store.
type JobMaintenanceStore interface {
	ClearExpiredLeases(ctx context.Context, before time.Time, limit int) (int64, error)
	DeleteTerminalJobs(ctx context.Context, status model.JobStatus, olderThan time.Time, limit int) (int64, error)
}

// UserStore persists registered users.
type UserStore interface {
	Create(ctx context.Context, req *model.CreateUserRequest) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	List(ctx context.Context, limit, offset int) ([]*model.User, error)
}

// ConversationLog is the append-only record of messages exchanged with a user.
type ConversationLog interface {
	Append(ctx context.Context, req *model.AppendMessageRequest) (*model.Message, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Message, error)
}

// DeliveryGateway sends outbound text to a user's messaging handle via the
// configured provider.
type DeliveryGateway interface {
	SendText(ctx context.Context, handle, text string) (*model.DeliveryReceipt, error)
}

// DeliveryGuard is a short-lived mutual-exclusion lock keyed per delivery,
// guarding against double sends when a lease expires mid-run.
type DeliveryGuard interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// JobExecutor dispatches a job to the handler registered for its params type.
type JobExecutor interface {
	Execute(ctx context.Context, job *model.Job) error
}

// JobRunner executes one claimed job and records its outcome. Run never
// propagates execution failures; they are absorbed into the job record.
type JobRunner interface {
	Run(ctx context.Context, job *model.Job)
}

// JobScheduler drains one batch of due jobs per tick.
type JobScheduler interface {
	Tick(ctx context.Context, now time.Time) (int, error)
}
