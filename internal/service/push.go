// Package service implements the scheduling, execution, and delivery
// services behind nudged.
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
)

// ErrNoDeliveryHandle indicates the target user has no messaging handle
// and therefore cannot receive pushed messages.
var ErrNoDeliveryHandle = errors.New("user has no delivery handle")

// PushServiceOptions configures a PushService.
type PushServiceOptions struct {
	Users   core.UserStore
	Gateway core.DeliveryGateway
	Log     core.ConversationLog
	Metrics statsd.Sink
	Logger  *slog.Logger
}

// PushService sends a message to a user through the delivery provider and
// records it in the user's conversation log.
type PushService struct {
	users   core.UserStore
	gateway core.DeliveryGateway
	log     core.ConversationLog
	metrics statsd.Sink
	logger  *slog.Logger
}

// NewPushService creates a PushService from options.
func NewPushService(opts PushServiceOptions) (*PushService, error) {
	if opts.Users == nil {
		return nil, errors.New("push service: user store is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("push service: delivery gateway is required")
	}
	if opts.Log == nil {
		return nil, errors.New("push service: conversation log is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &PushService{
		users:   opts.Users,
		gateway: opts.Gateway,
		log:     opts.Log,
		metrics: opts.Metrics,
		logger:  opts.Logger.With("component", "push_service"),
	}, nil
}

// MustNewPushService creates a PushService and panics on invalid options.
func MustNewPushService(opts PushServiceOptions) *PushService {
	svc, err := NewPushService(opts)
	if err != nil {
		panic(err)
	}
	return svc
}

// Push loads the user, delivers the message text to their handle, and
// appends the delivered message to the conversation log as an assistant
// entry. A log append failure fails the push even though the provider
// already accepted the message; the caller sees that in the error text.
func (s *PushService) Push(ctx context.Context, userID, message string) error {
	start := time.Now()
	err := s.push(ctx, userID, message)
	s.emitPushMetric(err, time.Since(start))
	return err
}

func (s *PushService) push(ctx context.Context, userID, message string) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	if message == "" {
		return errors.New("message is required")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user %s: %w", userID, err)
	}
	if !user.HasDeliveryHandle() {
		return fmt.Errorf("push to user %s: %w", userID, ErrNoDeliveryHandle)
	}

	receipt, err := s.gateway.SendText(ctx, *user.MessagingHandle, message)
	if err != nil {
		return fmt.Errorf("deliver message to user %s: %w", userID, err)
	}
	s.logger.DebugContext(ctx, "message delivered",
		"user_id", userID,
		"provider_message_id", receipt.ProviderMessageID,
	)

	_, err = s.log.Append(ctx, &model.AppendMessageRequest{
		UserID:  userID,
		Role:    model.MessageRoleAssistant,
		Content: model.TextContent(message),
	})
	if err != nil {
		// The provider already accepted the message; surface the gap
		// between delivery and the log explicitly.
		return fmt.Errorf("message delivered but conversation log append failed for user %s: %w", userID, err)
	}
	return nil
}

func (s *PushService) emitPushMetric(err error, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	tags := map[string]string{"result": result}
	s.metrics.Count("push.send", 1, tags)
	s.metrics.Timing("push.duration", duration, metrics.CloneTags(tags))
}
