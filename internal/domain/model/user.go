package model

import (
	"errors"
	"time"
)

// User is a registered recipient of nudges. MessagingHandle is the opaque
// address the delivery provider accepts; users without one cannot be pushed to.
type User struct {
	ID              string    `json:"id"                         db:"id"`
	DisplayName     string    `json:"display_name"               db:"display_name"`
	MessagingHandle *string   `json:"messaging_handle,omitempty" db:"messaging_handle"`
	CreatedAt       time.Time `json:"created_at"                 db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"                 db:"updated_at"`
}

// HasDeliveryHandle reports whether the user can receive pushed messages.
func (u *User) HasDeliveryHandle() bool {
	return u.MessagingHandle != nil && *u.MessagingHandle != ""
}

// CreateUserRequest represents a request to register a new user.
type CreateUserRequest struct {
	DisplayName     string  `json:"display_name"`
	MessagingHandle *string `json:"messaging_handle,omitempty"`
}

// Validate validates the CreateUserRequest fields.
func (r *CreateUserRequest) Validate() error {
	if r.DisplayName == "" {
		return errors.New("display_name is required")
	}
	return nil
}
