// Package webhook delivers job failure notifications to a chat-style
// incoming webhook.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nudgelabs/nudged/internal/observability/notify"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultRetryLimit = 2
	backoffStep       = 200 * time.Millisecond
	maxErrorBodyBytes = 2048
)

// Config controls webhook delivery behaviour.
type Config struct {
	WebhookURL string
	Username   string
	Channel    string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	Logger     *slog.Logger
}

// Client posts job failure summaries to the configured webhook.
type Client struct {
	webhookURL string
	username   string
	channel    string
	retryLimit int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates the config and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return nil, errors.New("webhook: url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retryLimit := cfg.RetryLimit
	if retryLimit < 0 {
		retryLimit = defaultRetryLimit
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		webhookURL: cfg.WebhookURL,
		username:   cfg.Username,
		channel:    cfg.Channel,
		retryLimit: retryLimit,
		httpClient: httpClient,
		logger:     logger.With("component", "webhook_notifier"),
	}, nil
}

type webhookMessage struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

// SendJobFailure posts a formatted failure summary, retrying transient
// errors with linear backoff.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	msg := webhookMessage{
		Text:     formatFailureText(payload),
		Username: c.username,
		Channel:  c.channel,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode webhook message: %w", err)
	}

	attempts := c.retryLimit + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * backoffStep
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = c.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		c.logger.WarnContext(ctx, "webhook delivery attempt failed",
			"attempt", attempt+1,
			"attempts", attempts,
			"error", lastErr,
		)
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		drainErr := drainAndClose(resp.Body)
		if drainErr != nil {
			c.logger.Warn("closing webhook response failed", "error", drainErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp)
	}
	return nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return fmt.Errorf("webhook %s: read error body: %w", resp.Status, err)
	}
	return fmt.Errorf("webhook %s: %s", resp.Status, strings.TrimSpace(string(body)))
}

func drainAndClose(body io.ReadCloser) error {
	_, drainErr := io.Copy(io.Discard, io.LimitReader(body, maxErrorBodyBytes))
	closeErr := body.Close()
	return errors.Join(drainErr, closeErr)
}

func formatFailureText(payload notify.JobFailurePayload) string {
	var sb strings.Builder
	sb.WriteString(":rotating_light: Job failed\n")
	writeField(&sb, "Job", payload.JobID)
	writeField(&sb, "Kind", payload.JobKind)
	writeField(&sb, "Params type", payload.ParamsType)
	writeField(&sb, "User", payload.UserID)
	writeField(&sb, "Error", payload.Error)
	writeField(&sb, "Class", payload.ErrorClass)
	writeField(&sb, "Severity", payload.Severity)
	if !payload.OccurredAt.IsZero() {
		writeField(&sb, "At", payload.OccurredAt.UTC().Format(time.RFC3339))
	}
	if len(payload.Metadata) > 0 {
		keys := make([]string, 0, len(payload.Metadata))
		for k := range payload.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeField(&sb, k, payload.Metadata[k])
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func writeField(sb *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(sb, "*%s:* %s\n", label, value)
}
