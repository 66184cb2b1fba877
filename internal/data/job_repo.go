// Package data provides PostgreSQL-backed repositories for jobs, users,
// and conversation messages.
package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nudgelabs/nudged/internal/core"
	"github.com/nudgelabs/nudged/internal/data/pgxutil"
	"github.com/nudgelabs/nudged/internal/domain/model"
	apperrors "github.com/nudgelabs/nudged/internal/errors"
)

// jobColumns is the canonical column list returned by every job query.
const jobColumns = `id, kind, status, params, last_error, lease_expires_at, created_at, updated_at`

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// claimPendingSQL stamps a lease on the oldest claimable pending rows.
// FOR UPDATE SKIP LOCKED keeps concurrent claimers from blocking on each
// other; rows stay pending while leased and become claimable again once
// the lease passes.
const claimPendingSQL = `
	WITH cte AS (
		SELECT id
		FROM jobs
		WHERE status = 'pending'
		  AND (lease_expires_at IS NULL OR lease_expires_at <= $1)
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	)
	UPDATE jobs j
	SET lease_expires_at = $3,
	    updated_at = $1
	FROM cte
	WHERE j.id = cte.id
	RETURNING j.id, j.kind, j.status, j.params, j.last_error, j.lease_expires_at, j.created_at, j.updated_at`

// JobRepoOptions configures a JobRepo.
type JobRepoOptions struct {
	DB           *sql.DB
	TimeProvider TimeProvider
	Logger       *slog.Logger
}

// JobRepo persists jobs in PostgreSQL.
type JobRepo struct {
	db           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a JobRepo from options, applying defaults for
// optional collaborators.
func NewJobRepo(opts JobRepoOptions) (*JobRepo, error) {
	if opts.DB == nil {
		return nil, errors.New("job repo: db is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &JobRepo{
		db:           opts.DB,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger,
	}, nil
}

// MustNewJobRepo creates a JobRepo and panics on invalid options.
func MustNewJobRepo(opts JobRepoOptions) *JobRepo {
	repo, err := NewJobRepo(opts)
	if err != nil {
		panic(err)
	}
	return repo
}

// Create inserts a new job. Status defaults to pending unless the request
// overrides it.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid create job request")
	}

	status := req.Status
	if status == "" {
		status = model.JobStatusPending
	}
	now := r.timeProvider.Now().UTC()

	query := `
		INSERT INTO jobs (kind, status, params, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING ` + jobColumns

	row := r.db.QueryRowContext(ctx, query, string(req.Kind), string(status), []byte(req.Params), now)
	job, err := scanJobFromRow(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// GetByID fetches one job by id.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJobFromRow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// UpdateByID applies a partial update and returns the updated row.
// Returns ErrJobNotFound when no row matches the id.
func (r *JobRepo) UpdateByID(ctx context.Context, id string, update *model.JobUpdate) (*model.Job, error) {
	if update == nil {
		return nil, apperrors.Validation("job update is required")
	}
	if err := update.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job update")
	}

	setClauses := []string{"updated_at = $1"}
	args := []any{r.timeProvider.Now().UTC()}

	if update.Status != nil {
		args = append(args, string(*update.Status))
		setClauses = append(setClauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if update.LastError != nil {
		args = append(args, nullableString(*update.LastError))
		setClauses = append(setClauses, fmt.Sprintf("last_error = $%d", len(args)))
	}

	args = append(args, id)
	query := fmt.Sprintf(
		`UPDATE jobs SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(setClauses, ", "), len(args), jobColumns,
	)

	job, err := scanJobFromRow(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// List returns jobs filtered by the given params, newest first.
func (r *JobRepo) List(ctx context.Context, params core.ListJobsParams) ([]*model.Job, error) {
	var (
		where []string
		args  []any
	)
	if params.Status != "" {
		args = append(args, string(params.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if params.Kind != "" {
		args = append(args, string(params.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := clampLimit(params.Limit)
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	if params.Offset > 0 {
		args = append(args, params.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows, r.logger)

	return collectJobs(rows)
}

// ClaimPending leases up to params.Limit claimable pending jobs and returns
// them. Rows remain pending; the lease keeps other claimers away until
// LeaseSeconds pass. Returns model.ErrNoJobsAvailable when nothing is due.
func (r *JobRepo) ClaimPending(ctx context.Context, params core.ClaimParams) ([]*model.Job, error) {
	if params.Limit <= 0 {
		return nil, apperrors.Validation("claim limit must be positive")
	}
	if params.LeaseSeconds <= 0 {
		return nil, apperrors.Validation("claim lease must be positive")
	}

	now := r.timeProvider.Now().UTC()
	leaseUntil := now.Add(time.Duration(params.LeaseSeconds) * time.Second)

	var claimed []*model.Job
	err := pgxutil.WithPgxTx(ctx, r.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, claimPendingSQL, now, params.Limit, leaseUntil)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			job, err := scanJobFromPgxRow(rows)
			if err != nil {
				return err
			}
			claimed = append(claimed, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	if len(claimed) == 0 {
		return nil, model.ErrNoJobsAvailable
	}
	return claimed, nil
}

// Complete marks a still-pending job completed and clears its lease.
func (r *JobRepo) Complete(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET status = 'completed', lease_expires_at = NULL, last_error = NULL, updated_at = $1
		WHERE id = $2 AND status = 'pending'`
	return r.execOutcome(ctx, query, r.timeProvider.Now().UTC(), id)
}

// Fail marks a still-pending job failed, recording the final error.
func (r *JobRepo) Fail(ctx context.Context, id string, lastError string) error {
	query := `
		UPDATE jobs
		SET status = 'failed', lease_expires_at = NULL, last_error = $1, updated_at = $2
		WHERE id = $3 AND status = 'pending'`
	return r.execOutcome(ctx, query, nullableString(lastError), r.timeProvider.Now().UTC(), id)
}

// Release clears the lease on a still-pending job and records the attempt
// error, leaving the row claimable on a later pass.
func (r *JobRepo) Release(ctx context.Context, id string, lastError string) error {
	query := `
		UPDATE jobs
		SET lease_expires_at = NULL, last_error = $1, updated_at = $2
		WHERE id = $3 AND status = 'pending'`
	return r.execOutcome(ctx, query, nullableString(lastError), r.timeProvider.Now().UTC(), id)
}

func (r *JobRepo) execOutcome(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.MapDBError(err)
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Stats returns job counts per status.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	query := `
		SELECT
			count(*) FILTER (WHERE status = 'pending')   AS pending,
			count(*) FILTER (WHERE status = 'completed') AS completed,
			count(*) FILTER (WHERE status = 'failed')    AS failed
		FROM jobs`

	var stats model.JobStats
	err := r.db.QueryRowContext(ctx, query).Scan(&stats.Pending, &stats.Completed, &stats.Failed)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &stats, nil
}

// ClearExpiredLeases drops stale leases on pending rows so the next claim
// pass can pick them up immediately.
func (r *JobRepo) ClearExpiredLeases(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, apperrors.Validation("limit must be positive")
	}
	query := `
		UPDATE jobs
		SET lease_expires_at = NULL, updated_at = $1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND lease_expires_at IS NOT NULL
			  AND lease_expires_at <= $2
			LIMIT $3
		)`
	result, err := r.db.ExecContext(ctx, query, r.timeProvider.Now().UTC(), before.UTC(), limit)
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	return affected, nil
}

// DeleteTerminalJobs removes old completed or failed rows in bounded batches.
func (r *JobRepo) DeleteTerminalJobs(ctx context.Context, status model.JobStatus, olderThan time.Time, limit int) (int64, error) {
	if !status.Terminal() {
		return 0, apperrors.Validationf("status %q is not terminal", status)
	}
	if limit <= 0 {
		return 0, apperrors.Validation("limit must be positive")
	}
	query := `
		DELETE FROM jobs
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = $1 AND updated_at < $2
			LIMIT $3
		)`
	result, err := r.db.ExecContext(ctx, query, string(status), olderThan.UTC(), limit)
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	return affected, nil
}

// jobRowData collects nullable scan targets for one job row.
type jobRowData struct {
	id             string
	kind           string
	status         string
	params         []byte
	lastError      sql.NullString
	leaseExpiresAt sql.NullTime
	createdAt      time.Time
	updatedAt      time.Time
}

func (d *jobRowData) toJob() *model.Job {
	job := &model.Job{
		ID:        d.id,
		Kind:      model.JobKind(d.kind),
		Status:    model.JobStatus(d.status),
		Params:    json.RawMessage(d.params),
		CreatedAt: d.createdAt,
		UpdatedAt: d.updatedAt,
	}
	if d.lastError.Valid {
		v := d.lastError.String
		job.LastError = &v
	}
	if d.leaseExpiresAt.Valid {
		v := d.leaseExpiresAt.Time
		job.LeaseExpiresAt = &v
	}
	return job
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobFromRow(row rowScanner) (*model.Job, error) {
	var d jobRowData
	err := row.Scan(&d.id, &d.kind, &d.status, &d.params, &d.lastError, &d.leaseExpiresAt, &d.createdAt, &d.updatedAt)
	if err != nil {
		return nil, err
	}
	return d.toJob(), nil
}

func scanJobFromPgxRow(row pgx.Row) (*model.Job, error) {
	var d jobRowData
	err := row.Scan(&d.id, &d.kind, &d.status, &d.params, &d.lastError, &d.leaseExpiresAt, &d.createdAt, &d.updatedAt)
	if err != nil {
		return nil, err
	}
	return d.toJob(), nil
}

func collectJobs(rows *sql.Rows) ([]*model.Job, error) {
	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJobFromRow(rows)
		if err != nil {
			return nil, apperrors.MapDBError(err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return jobs, nil
}

func closeRows(rows *sql.Rows, logger *slog.Logger) {
	if err := rows.Close(); err != nil {
		logger.Warn("closing rows failed", "error", err)
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
