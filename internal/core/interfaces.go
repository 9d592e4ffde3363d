package core

import (
	"context"
	"database/sql"
	"time"

	"github.com/target/mmk-ui-api/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the domain packages and the data layer.
// Domain implementations should depend on these interfaces, not concrete implementations.

// JobRepository defines the interface for job data operations.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	ReserveNext(ctx context.Context, jobType model.JobType, leaseSeconds int) (*model.Job, error)
	WaitForNotification(ctx context.Context, jobType model.JobType) error
	Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error)
	Complete(ctx context.Context, id string) (bool, error)
	Fail(ctx context.Context, id, errMsg string) (bool, error)
	Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error)
	Delete(ctx context.Context, id string) error
	DeleteByPayloadField(ctx context.Context, params DeleteByPayloadFieldParams) (int, error)
}

// DeleteByPayloadFieldParams groups parameters for JobRepository.DeleteByPayloadField.
type DeleteByPayloadFieldParams struct {
	JobType    model.JobType
	FieldName  string
	FieldValue string
}

// JobRepositoryTx defines optional transactional job creation support.
type JobRepositoryTx interface {
	CreateInTx(ctx context.Context, tx *sql.Tx, req *model.CreateJobRequest) (*model.Job, error)
}

// RuleRepository defines the read-only interface for rule data. Rules are
// owned by the (out-of-scope) tenant/workspace CRUD layer; the core never
// writes to this table.
type RuleRepository interface {
	GetByID(ctx context.Context, id string) (*model.Rule, error)
	// GetHealth returns the rule's health read model, or nil if none exists yet.
	GetHealth(ctx context.Context, ruleID string) (*model.RuleHealth, error)
	// UpsertHealth records a run outcome against the rule's health metric.
	UpsertHealth(ctx context.Context, health *model.RuleHealth) error
}

// ObservationRepository defines the interface for the per-rule last-stable-value record.
type ObservationRepository interface {
	GetByRuleID(ctx context.Context, ruleID string) (*model.Observation, error)
	// Upsert advances the rule's stored observation. Callers must only call
	// this after a successful fetch + extraction (see model.Observation).
	Upsert(ctx context.Context, obs *model.Observation) error
}

// FetchAttemptRepository defines the interface for the append-only attempt ledger.
type FetchAttemptRepository interface {
	// Create writes one FetchAttempt row. Called synchronously from the
	// Attempt Logger so the record exists before the orchestrator moves on.
	Create(ctx context.Context, attempt *model.FetchAttempt) error
	ListByRule(ctx context.Context, ruleID string, limit int) ([]*model.FetchAttempt, error)
}

// DomainStatsRepository defines the interface for the rolling per-day domain aggregate.
type DomainStatsRepository interface {
	// Upsert merges one attempt's contribution into the (workspace, hostname, day) row.
	Upsert(ctx context.Context, attempt *model.FetchAttempt) error
	Get(ctx context.Context, workspaceID, hostname string, day time.Time) (*model.DomainStats, error)
	// SumCostUSD returns the total cost recorded for (workspace, hostname[, ruleID])
	// within the given UTC window, for the Budget Guard's cap checks.
	SumCostUSD(ctx context.Context, params SumCostUSDParams) (float64, error)
}

// SumCostUSDParams groups parameters for DomainStatsRepository.SumCostUSD.
type SumCostUSDParams struct {
	WorkspaceID string
	Hostname    string
	RuleID      string // optional, empty means workspace/hostname scope only
	Since       time.Time
}

// AlertRepository defines the interface for alert persistence and dedupe lookups.
type AlertRepository interface {
	Create(ctx context.Context, alert *model.Alert) error
	GetByID(ctx context.Context, id string) (*model.Alert, error)
	// GetByDedupeKey returns the existing alert with this key, or nil if none exists.
	GetByDedupeKey(ctx context.Context, dedupeKey string) (*model.Alert, error)
	// LatestForRuleSince returns the most recent alert triggered for ruleID at
	// or after since, or nil if none. Used for the rule-cooldown check.
	LatestForRuleSince(ctx context.Context, ruleID string, since time.Time) (*model.Alert, error)
	List(ctx context.Context, opts *model.AlertListOptions) ([]*model.Alert, error)
}

// CircuitStateRepository defines the atomic shared-cache-backed circuit breaker store.
type CircuitStateRepository interface {
	Get(ctx context.Context, workspaceID, hostname, provider string) (*model.CircuitState, error)
	// CompareAndSwap stores next only if the stored value still matches prev
	// (nil prev means "key must not exist yet"). Returns false on conflict.
	CompareAndSwap(ctx context.Context, workspaceID, hostname, provider string, prev, next *model.CircuitState) (bool, error)
}

// TokenBucketRepository defines the atomic shared-cache-backed rate limiter store.
type TokenBucketRepository interface {
	// Consume atomically refills and attempts to subtract one token, returning
	// the post-operation bucket state and whether the request is allowed.
	Consume(ctx context.Context, provider, hostname string, cfg model.RateLimitConfig, nowMs int64) (bucket model.TokenBucket, allowed bool, err error)
	// Peek reads the bucket without consuming (read-only check).
	Peek(ctx context.Context, provider, hostname string) (*model.TokenBucket, error)
	// Config returns a per-hostname override if one is configured.
	Config(ctx context.Context, hostname string) (*model.RateLimitConfig, error)
}

// LeaseRepository defines the atomic shared-cache-backed concurrency semaphore store.
type LeaseRepository interface {
	// Acquire atomically evicts expired members, and if cardinality is below
	// max, adds a new member scored by now+ttl. Returns the lease id on
	// success and the current cardinality either way.
	Acquire(ctx context.Context, key string, ttl time.Duration, max int, nowMs int64) (leaseID string, acquired bool, currentCount int, oldestExpiryMs int64, err error)
	// Release removes a held lease member from the set.
	Release(ctx context.Context, key, leaseID string) error
}

// ReaperRepository defines the interface for job cleanup operations.
type ReaperRepository interface {
	// FailStalePendingJobs marks pending jobs older than maxAge as failed.
	// Processes up to batchSize jobs per call to prevent long locks.
	// Returns the number of jobs marked as failed.
	FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)

	// DeleteOldJobs deletes jobs with the given status older than maxAge.
	// Processes up to batchSize jobs per call to prevent long locks.
	// Returns the number of jobs deleted.
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)

	// RequeueExpiredLeases requeues jobs of the given type whose lease expired
	// without completion back to pending.
	RequeueExpiredLeases(ctx context.Context, jobType model.JobType) (int64, error)
}

// DeleteOldJobsParams groups parameters for DeleteOldJobs to keep param count ≤3.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}
