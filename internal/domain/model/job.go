// Package model defines the core data types and structures used throughout the nudged job system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobKind describes the recurrence class of a job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobKind string

// JobStatus represents the current status of a job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobStatus string

const (
	// JobKindRecurring marks a job that spawns a fresh pending successor
	// after every run, regardless of outcome.
	JobKindRecurring JobKind = "recurring"
	// JobKindOneTime marks a job executed to a terminal completed state at
	// most once; failed attempts leave it pending for another try.
	JobKindOneTime JobKind = "one-time"

	// JobStatusPending indicates a job is waiting to be executed.
	JobStatusPending JobStatus = "pending"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job has failed.
	JobStatusFailed JobStatus = "failed"
)

// UnmarshalText implements encoding.TextUnmarshaler for JobKind to allow env parsing.
func (k *JobKind) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jk := JobKind(v)
	if jk.Valid() {
		*k = jk
		return nil
	}
	return fmt.Errorf("invalid JobKind: %q", v)
}

// UnmarshalText implements encoding.TextUnmarshaler for JobStatus to allow env parsing.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	js := JobStatus(v)
	if js.Valid() {
		*s = js
		return nil
	}
	return fmt.Errorf("invalid JobStatus: %q", v)
}

// ErrNoJobsAvailable is returned when no pending jobs are eligible for claiming.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Valid returns true if the JobKind is valid.
func (k JobKind) Valid() bool {
	return k == JobKindRecurring || k == JobKindOneTime
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusCompleted || s == JobStatusFailed
}

// Terminal returns true if the status permits no further execution of this record.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ParamsTypePushMessage is the params discriminator for outbound message delivery jobs.
const ParamsTypePushMessage = "push-message"

// Job represents a unit of scheduled work with its status and typed parameter payload.
//
// Execution itself is never persisted: a claimed job stays pending with a
// lease until the runner records its outcome.
type Job struct {
	ID             string          `json:"id"                         db:"id"`
	Kind           JobKind         `json:"kind"                       db:"kind"`
	Status         JobStatus       `json:"status"                     db:"status"`
	Params         json.RawMessage `json:"params"                     db:"params"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// ParamsType extracts the discriminator tag from the params payload.
// Returns an empty string when the payload has no type field or is malformed.
func (j *Job) ParamsType() string {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(j.Params, &envelope); err != nil {
		return ""
	}
	return envelope.Type
}

// PushMessageParams is the payload carried by push-message jobs.
type PushMessageParams struct {
	Type    string `json:"type"`
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// Validate validates the PushMessageParams fields.
func (p *PushMessageParams) Validate() error {
	if p.Type != ParamsTypePushMessage {
		return fmt.Errorf("unexpected params type: %q", p.Type)
	}
	if p.UserID == "" {
		return errors.New("user_id is required")
	}
	if p.Message == "" {
		return errors.New("message is required")
	}
	return nil
}

// NewPushMessageParams builds an encoded push-message params payload.
func NewPushMessageParams(userID, message string) (json.RawMessage, error) {
	params := PushMessageParams{
		Type:    ParamsTypePushMessage,
		UserID:  userID,
		Message: message,
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode push-message params: %w", err)
	}
	return raw, nil
}

// CreateJobRequest represents a request to create a new job.
type CreateJobRequest struct {
	Kind   JobKind         `json:"kind"`
	Params json.RawMessage `json:"params"`
	// Status overrides the default pending status. Leave empty for pending.
	Status JobStatus `json:"status,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if !r.Kind.Valid() {
		return errors.New("invalid job kind")
	}
	if len(r.Params) == 0 {
		return errors.New("params is required")
	}
	if !json.Valid(r.Params) {
		return errors.New("params must be valid JSON")
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(r.Params, &envelope); err != nil || envelope.Type == "" {
		return errors.New("params must carry a type tag")
	}
	if r.Status != "" && !r.Status.Valid() {
		return errors.New("invalid job status")
	}
	return nil
}

// JobUpdate describes a partial update to a job record.
type JobUpdate struct {
	Status    *JobStatus `json:"status,omitempty"`
	LastError *string    `json:"last_error,omitempty"`
}

// Validate validates the JobUpdate fields.
func (u *JobUpdate) Validate() error {
	if u.Status == nil && u.LastError == nil {
		return errors.New("update must change at least one field")
	}
	if u.Status != nil && !u.Status.Valid() {
		return errors.New("invalid job status")
	}
	return nil
}

// JobStats represents counts of jobs in each status.
type JobStats struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
