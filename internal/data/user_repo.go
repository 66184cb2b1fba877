package data

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/nudgelabs/nudged/internal/domain/model"
	apperrors "github.com/nudgelabs/nudged/internal/errors"
)

const userColumns = `id, display_name, messaging_handle, created_at, updated_at`

// UserRepoOptions configures a UserRepo.
type UserRepoOptions struct {
	DB           *sql.DB
	TimeProvider TimeProvider
	Logger       *slog.Logger
}

// UserRepo persists users in PostgreSQL.
type UserRepo struct {
	db           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewUserRepo creates a UserRepo from options.
func NewUserRepo(opts UserRepoOptions) (*UserRepo, error) {
	if opts.DB == nil {
		return nil, errors.New("user repo: db is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &UserRepo{
		db:           opts.DB,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger,
	}, nil
}

// MustNewUserRepo creates a UserRepo and panics on invalid options.
func MustNewUserRepo(opts UserRepoOptions) *UserRepo {
	repo, err := NewUserRepo(opts)
	if err != nil {
		panic(err)
	}
	return repo
}

// Create registers a new user.
func (r *UserRepo) Create(ctx context.Context, req *model.CreateUserRequest) (*model.User, error) {
	if req == nil {
		return nil, apperrors.Validation("create user request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid create user request")
	}

	now := r.timeProvider.Now().UTC()
	var handle sql.NullString
	if req.MessagingHandle != nil && *req.MessagingHandle != "" {
		handle = sql.NullString{String: *req.MessagingHandle, Valid: true}
	}

	query := `
		INSERT INTO users (display_name, messaging_handle, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING ` + userColumns

	user, err := scanUserFromRow(r.db.QueryRowContext(ctx, query, req.DisplayName, handle, now))
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return user, nil
}

// GetByID fetches one user by id. Returns ErrUserNotFound when no row matches.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUserFromRow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return user, nil
}

// List returns users ordered by registration time, newest first.
func (r *UserRepo) List(ctx context.Context, limit, offset int) ([]*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, clampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows, r.logger)

	var users []*model.User
	for rows.Next() {
		user, err := scanUserFromRow(rows)
		if err != nil {
			return nil, apperrors.MapDBError(err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return users, nil
}

func scanUserFromRow(row rowScanner) (*model.User, error) {
	var (
		user   model.User
		handle sql.NullString
	)
	err := row.Scan(&user.ID, &user.DisplayName, &handle, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if handle.Valid {
		v := handle.String
		user.MessagingHandle = &v
	}
	return &user, nil
}
