package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// User repository sentinels.
	ErrUserNotFound = errors.New("user not found")

	// Message repository sentinels.
	ErrMessageNotFound = errors.New("message not found")
	ErrUserIDRequired  = errors.New("user_id is required")

	// Job repository sentinels.
	ErrJobNotFound = errors.New("job not found")
)
