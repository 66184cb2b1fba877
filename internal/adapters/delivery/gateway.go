// Package delivery implements the HTTP client for the outbound messaging
// provider.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nudgelabs/nudged/internal/domain/model"
)

const (
	defaultTimeout       = 10 * time.Second
	sendMessagesPath     = "/v1/messages"
	maxResponseBodyBytes = 64 * 1024
)

// DeliveryError reports a non-2xx response from the provider. StatusCode
// and Status let callers distinguish retryable provider trouble from
// permanent rejections.
type DeliveryError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("delivery failed: %s", e.Status)
	}
	return fmt.Sprintf("delivery failed: %s: %s", e.Status, e.Body)
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

// Gateway sends outbound text through the provider's HTTP API.
type Gateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGateway validates the options and builds a Gateway.
func NewGateway(opts GatewayOptions) (*Gateway, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("delivery gateway: base url is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		httpClient: httpClient,
		logger:     logger.With("component", "delivery_gateway"),
	}, nil
}

// MustNewGateway creates a Gateway and panics on invalid options.
func MustNewGateway(opts GatewayOptions) *Gateway {
	gw, err := NewGateway(opts)
	if err != nil {
		panic(err)
	}
	return gw
}

type sendRequest struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}

type sendResponse struct {
	MessageID   string    `json:"message_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// SendText posts the text to the provider for the given handle. A non-2xx
// response becomes a *DeliveryError.
func (g *Gateway) SendText(ctx context.Context, handle, text string) (*model.DeliveryReceipt, error) {
	if handle == "" {
		return nil, errors.New("delivery gateway: handle is required")
	}
	if text == "" {
		return nil, errors.New("delivery gateway: text is required")
	}

	payload, err := json.Marshal(sendRequest{Recipient: handle, Text: text})
	if err != nil {
		return nil, fmt.Errorf("encode delivery request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+sendMessagesPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post delivery request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			g.logger.Warn("closing delivery response failed", "error", closeErr)
		}
	}()

	body, truncated, err := readResponseBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read delivery response: %w", err)
	}
	if truncated {
		g.logger.Warn("delivery response body truncated", "limit_bytes", maxResponseBodyBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &DeliveryError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var decoded sendResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode delivery response: %w", err)
	}
	deliveredAt := decoded.DeliveredAt
	if deliveredAt.IsZero() {
		deliveredAt = time.Now().UTC()
	}
	return &model.DeliveryReceipt{
		ProviderMessageID: decoded.MessageID,
		DeliveredAt:       deliveredAt,
	}, nil
}

// readResponseBody reads at most maxResponseBodyBytes and reports whether
// the body was larger.
func readResponseBody(body io.Reader) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxResponseBodyBytes+1))
	if err != nil {
		return nil, false, err
	}
	if len(data) > maxResponseBodyBytes {
		return data[:maxResponseBodyBytes], true, nil
	}
	return data, false, nil
}
