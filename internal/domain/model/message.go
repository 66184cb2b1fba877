package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageRole identifies the author side of a conversation entry.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type MessageRole string

const (
	// MessageRoleUser marks an entry authored by the user.
	MessageRoleUser MessageRole = "user"
	// MessageRoleAssistant marks an entry authored by the system on the
	// assistant side, including pushed nudges.
	MessageRoleAssistant MessageRole = "assistant"
)

// UnmarshalText implements encoding.TextUnmarshaler for MessageRole.
func (r *MessageRole) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	mr := MessageRole(v)
	if mr.Valid() {
		*r = mr
		return nil
	}
	return fmt.Errorf("invalid MessageRole: %q", v)
}

// Valid returns true if the MessageRole is valid.
func (r MessageRole) Valid() bool {
	return r == MessageRoleUser || r == MessageRoleAssistant
}

// ContentBlockTypeText is the only content block type currently emitted.
const ContentBlockTypeText = "text"

// ContentBlock is one typed segment of a message body.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextContent wraps plain text in a single-block content list.
func TextContent(text string) []ContentBlock {
	return []ContentBlock{{Type: ContentBlockTypeText, Text: text}}
}

// Message is one entry in a user's conversation log.
type Message struct {
	ID        string         `json:"id"         db:"id"`
	UserID    string         `json:"user_id"    db:"user_id"`
	Role      MessageRole    `json:"role"       db:"role"`
	Content   []ContentBlock `json:"content"    db:"content"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// PlainText flattens the content blocks to a single string for logging
// and notifications.
func (m *Message) PlainText() string {
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == ContentBlockTypeText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// AppendMessageRequest represents a request to append an entry to a
// user's conversation log.
type AppendMessageRequest struct {
	UserID  string         `json:"user_id"`
	Role    MessageRole    `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Validate validates the AppendMessageRequest fields.
func (r *AppendMessageRequest) Validate() error {
	if r.UserID == "" {
		return errors.New("user_id is required")
	}
	if !r.Role.Valid() {
		return errors.New("invalid message role")
	}
	if len(r.Content) == 0 {
		return errors.New("content is required")
	}
	for _, block := range r.Content {
		if block.Type == "" {
			return errors.New("content block type is required")
		}
	}
	return nil
}

// DeliveryReceipt is the provider's acknowledgement of a delivered message.
type DeliveryReceipt struct {
	ProviderMessageID string    `json:"provider_message_id"`
	DeliveredAt       time.Time `json:"delivered_at"`
}
