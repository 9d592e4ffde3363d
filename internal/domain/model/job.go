// Package model defines the core data types and structures used throughout the monitoring job system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType represents the type of job to be executed.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobTypeRunRule represents a single-rule fetch-evaluate-alert run.
	JobTypeRunRule JobType = "rules_run"
	// JobTypeAlertDispatch represents a fan-out of a fired alert to its channels.
	JobTypeAlertDispatch JobType = "alerts_dispatch"

	// JobStatusPending indicates a job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job has failed to complete.
	JobStatusFailed JobStatus = "failed"
)

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// ErrNoJobsAvailable is returned when no jobs are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	return t == JobTypeRunRule || t == JobTypeAlertDispatch
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// Job represents a job in the system with all its metadata and status information.
type Job struct {
	ID             string          `json:"id"                         db:"id"`
	Type           JobType         `json:"type"                       db:"type"`
	Status         JobStatus       `json:"status"                     db:"status"`
	Priority       int             `json:"priority"                   db:"priority"`
	Payload        json.RawMessage `json:"payload"                    db:"payload"`
	Metadata       json.RawMessage `json:"metadata"                   db:"metadata"`
	ScheduledAt    time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	RetryCount     int             `json:"retry_count"                db:"retry_count"`
	MaxRetries     int             `json:"max_retries"                db:"max_retries"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// RunJobPayload is the Payload shape for a JobTypeRunRule job.
type RunJobPayload struct {
	RuleID      string    `json:"ruleId"`
	Trigger     string    `json:"trigger"` // "schedule" or "manual"
	ScheduledAt time.Time `json:"scheduledAt"`
}

// AlertDispatchJobPayload is the Payload shape for a JobTypeAlertDispatch job.
type AlertDispatchJobPayload struct {
	AlertID   string   `json:"alertId"`
	Channels  []string `json:"channels"`
	DedupeKey string   `json:"dedupeKey"`
}

// CreateJobRequest represents a request to create a new job.
type CreateJobRequest struct {
	// ID, when set, is used as the job's primary key instead of letting the
	// database generate a random one. Used by alert dispatch enqueueing to
	// derive a dedupe-bucket-scoped id so repeat enqueues within the same
	// window collapse onto one row instead of creating duplicates.
	ID          string          `json:"id,omitempty"`
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Priority    int             `json:"priority,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	MaxRetries  int             `json:"max_retries"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	if r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	return nil
}

// JobStats represents statistics about jobs in different states.
type JobStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// JobStatusResponse represents the status information for a specific job.
type JobStatusResponse struct {
	Status      JobStatus  `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
}
