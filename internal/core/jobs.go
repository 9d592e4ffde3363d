// Package core provides the business logic and service layer for the worker system.
package core

import (
	"github.com/target/mmk-ui-api/internal/domain/model"
)

// JobType represents the type of job to be executed (re-exported from the model package).
type JobType = model.JobType

// CreateJobRequest represents a request to create a new job (re-exported from the model package).
type CreateJobRequest = model.CreateJobRequest
