package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nudgelabs/nudged/internal/domain/model"
	apperrors "github.com/nudgelabs/nudged/internal/errors"
)

const messageColumns = `id, user_id, role, content, created_at`

// MessageRepoOptions configures a MessageRepo.
type MessageRepoOptions struct {
	DB           *sql.DB
	TimeProvider TimeProvider
	Logger       *slog.Logger
}

// MessageRepo is the PostgreSQL-backed conversation log. Messages are
// append-only; nothing updates or deletes them.
type MessageRepo struct {
	db           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewMessageRepo creates a MessageRepo from options.
func NewMessageRepo(opts MessageRepoOptions) (*MessageRepo, error) {
	if opts.DB == nil {
		return nil, errors.New("message repo: db is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &MessageRepo{
		db:           opts.DB,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger,
	}, nil
}

// MustNewMessageRepo creates a MessageRepo and panics on invalid options.
func MustNewMessageRepo(opts MessageRepoOptions) *MessageRepo {
	repo, err := NewMessageRepo(opts)
	if err != nil {
		panic(err)
	}
	return repo
}

// Append adds one entry to a user's conversation log.
func (r *MessageRepo) Append(ctx context.Context, req *model.AppendMessageRequest) (*model.Message, error) {
	if req == nil {
		return nil, apperrors.Validation("append message request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid append message request")
	}

	content, err := json.Marshal(req.Content)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "encode message content")
	}

	query := `
		INSERT INTO messages (user_id, role, content, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + messageColumns

	now := r.timeProvider.Now().UTC()
	msg, err := scanMessageFromRow(r.db.QueryRowContext(ctx, query, req.UserID, string(req.Role), content, now))
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return msg, nil
}

// ListByUser returns a user's messages in chronological order.
func (r *MessageRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Message, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE user_id = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, userID, clampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows, r.logger)

	var messages []*model.Message
	for rows.Next() {
		msg, err := scanMessageFromRow(rows)
		if err != nil {
			return nil, apperrors.MapDBError(err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return messages, nil
}

func scanMessageFromRow(row rowScanner) (*model.Message, error) {
	var (
		msg     model.Message
		role    string
		content []byte
	)
	err := row.Scan(&msg.ID, &msg.UserID, &role, &content, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	msg.Role = model.MessageRole(role)
	if err := json.Unmarshal(content, &msg.Content); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode message content")
	}
	return &msg, nil
}
