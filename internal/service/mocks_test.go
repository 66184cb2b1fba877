package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/nudgelabs/nudged/internal/core"
	"github.com/nudgelabs/nudged/internal/domain/model"
)

// Mock implementations for testing.

type mockJobStore struct {
	mock.Mock
}

func (m *mockJobStore) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

func (m *mockJobStore) GetByID(ctx context.Context, id string) (*model.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

func (m *mockJobStore) UpdateByID(ctx context.Context, id string, update *model.JobUpdate) (*model.Job, error) {
	args := m.Called(ctx, id, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

func (m *mockJobStore) List(ctx context.Context, params core.ListJobsParams) ([]*model.Job, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Job), args.Error(1)
}

func (m *mockJobStore) ClaimPending(ctx context.Context, params core.ClaimParams) ([]*model.Job, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Job), args.Error(1)
}

func (m *mockJobStore) Complete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockJobStore) Fail(ctx context.Context, id string, lastError string) error {
	args := m.Called(ctx, id, lastError)
	return args.Error(0)
}

func (m *mockJobStore) Release(ctx context.Context, id string, lastError string) error {
	args := m.Called(ctx, id, lastError)
	return args.Error(0)
}

func (m *mockJobStore) Stats(ctx context.Context) (*model.JobStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.JobStats), args.Error(1)
}

type mockUserStore struct {
	mock.Mock
}

func (m *mockUserStore) Create(ctx context.Context, req *model.CreateUserRequest) (*model.User, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserStore) List(ctx context.Context, limit, offset int) ([]*model.User, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.User), args.Error(1)
}

type mockConversationLog struct {
	mock.Mock
}

func (m *mockConversationLog) Append(ctx context.Context, req *model.AppendMessageRequest) (*model.Message, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *mockConversationLog) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Message, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Message), args.Error(1)
}

type mockDeliveryGateway struct {
	mock.Mock
}

func (m *mockDeliveryGateway) SendText(ctx context.Context, handle, text string) (*model.DeliveryReceipt, error) {
	args := m.Called(ctx, handle, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeliveryReceipt), args.Error(1)
}

type mockDeliveryGuard struct {
	mock.Mock
}

func (m *mockDeliveryGuard) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockDeliveryGuard) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type mockJobExecutor struct {
	mock.Mock
}

func (m *mockJobExecutor) Execute(ctx context.Context, job *model.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

type mockJobRunner struct {
	mock.Mock
}

func (m *mockJobRunner) Run(ctx context.Context, job *model.Job) {
	m.Called(ctx, job)
}

type mockMaintenanceStore struct {
	mock.Mock
}

func (m *mockMaintenanceStore) ClearExpiredLeases(ctx context.Context, before time.Time, limit int) (int64, error) {
	args := m.Called(ctx, before, limit)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockMaintenanceStore) DeleteTerminalJobs(
	ctx context.Context,
	status model.JobStatus,
	olderThan time.Time,
	limit int,
) (int64, error) {
	args := m.Called(ctx, status, olderThan, limit)
	return args.Get(0).(int64), args.Error(1)
}
