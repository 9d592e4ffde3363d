package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents a dequeue loop the worker binary can run.
type ServiceMode string

const (
	// ServiceModeRunHandler dequeues rules:run jobs and drives the fetch/evaluate pipeline (C11).
	ServiceModeRunHandler ServiceMode = "run-handler"
	// ServiceModeDispatchHandler dequeues alerts:dispatch jobs and delivers notifications (C12).
	ServiceModeDispatchHandler ServiceMode = "dispatch-handler"
	// ServiceModeReaper runs the lease reaper that requeues expired jobs.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeRunHandler,
		ServiceModeDispatchHandler,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeRunHandler,
			ServiceModeDispatchHandler,
			ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: run-handler, dispatch-handler, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains cmd/merrymaker dequeue-loop concurrency configuration.
type WorkerConfig struct {
	// ConcurrencyRules is the number of goroutines dequeuing rules:run jobs.
	ConcurrencyRules int `env:"WORKER_CONCURRENCY_RULES" envDefault:"5"`

	// ConcurrencyAlerts is the number of goroutines dequeuing alerts:dispatch jobs.
	ConcurrencyAlerts int `env:"WORKER_CONCURRENCY_ALERTS" envDefault:"10"`

	// RunLease is the lease duration reserved per rules:run job.
	RunLease time.Duration `env:"WORKER_RUN_LEASE" envDefault:"60s"`

	// DispatchLease is the lease duration reserved per alerts:dispatch job.
	DispatchLease time.Duration `env:"WORKER_DISPATCH_LEASE" envDefault:"30s"`

	// ShutdownGracePeriod bounds how long in-flight jobs are given to drain on SIGINT/SIGTERM.
	ShutdownGracePeriod time.Duration `env:"WORKER_SHUTDOWN_GRACE_PERIOD" envDefault:"30s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.ConcurrencyRules < 1 {
		w.ConcurrencyRules = 1
	}
	if w.ConcurrencyAlerts < 1 {
		w.ConcurrencyAlerts = 1
	}
	if w.RunLease < 5*time.Second {
		w.RunLease = 5 * time.Second
	}
	if w.DispatchLease < 5*time.Second {
		w.DispatchLease = 5 * time.Second
	}
	if w.ShutdownGracePeriod < 1*time.Second {
		w.ShutdownGracePeriod = 1 * time.Second
	}
}

// TierPolicyConfig gates the Budget Guard's stricter per-rule accounting path
// during rollout. When Enabled is false, or the workspace is not in the
// canary list (and the list is non-empty), the guard only evaluates
// workspace/hostname caps.
type TierPolicyConfig struct {
	Enabled            bool     `env:"TIER_POLICY_ENABLED"    envDefault:"false"`
	CanaryWorkspaceIDs []string `env:"CANARY_WORKSPACE_IDS"   envSeparator:","`
}

// AppliesTo reports whether the per-rule budget accounting path is active for workspaceID.
func (t *TierPolicyConfig) AppliesTo(workspaceID string) bool {
	if !t.Enabled {
		return false
	}
	if len(t.CanaryWorkspaceIDs) == 0 {
		return true
	}
	for _, id := range t.CanaryWorkspaceIDs {
		if id == workspaceID {
			return true
		}
	}
	return false
}

// BudgetConfig contains the Budget Guard's (C6) default per-scope cost caps.
// The same caps apply to every rule; rules carry no budget override of their own.
type BudgetConfig struct {
	// WorkspaceDailyCapUSD is the default 24h spend cap per workspace.
	WorkspaceDailyCapUSD float64 `env:"BUDGET_WORKSPACE_DAILY_CAP_USD" envDefault:"50"`

	// HostnameDailyCapUSD is the default 24h spend cap per (workspace, hostname).
	HostnameDailyCapUSD float64 `env:"BUDGET_HOSTNAME_DAILY_CAP_USD" envDefault:"10"`

	// RuleDailyCapUSD is the stricter per-rule cap applied when TierPolicyConfig
	// selects the canary accounting path for a workspace.
	RuleDailyCapUSD float64 `env:"BUDGET_RULE_DAILY_CAP_USD" envDefault:"1"`
}

// Sanitize applies guardrails to budget configuration values.
func (b *BudgetConfig) Sanitize() {
	if b.WorkspaceDailyCapUSD < 0 {
		b.WorkspaceDailyCapUSD = 0
	}
	if b.HostnameDailyCapUSD < 0 {
		b.HostnameDailyCapUSD = 0
	}
	if b.RuleDailyCapUSD < 0 {
		b.RuleDailyCapUSD = 0
	}
}

// ProvidersConfig contains credentials and connection settings for the fetch
// orchestrator's (C8) provider pool. Provider selection policy is core; these
// values only configure how the `internal/ports.Provider` adapters reach
// their backends.
type ProvidersConfig struct {
	// HTTPTimeout bounds the plain net/http provider's request timeout.
	HTTPTimeout time.Duration `env:"PROVIDER_HTTP_TIMEOUT" envDefault:"30s"`

	// FlareSolverrURL is the base URL of the FlareSolverr proxy, if configured.
	FlareSolverrURL string `env:"PROVIDER_FLARESOLVERR_URL"`

	// BrightDataAPIKey authenticates the BrightData provider.
	BrightDataAPIKey string `env:"PROVIDER_BRIGHTDATA_API_KEY"`

	// TwoCaptchaAPIKey authenticates the 2captcha-backed proxy provider.
	TwoCaptchaAPIKey string `env:"PROVIDER_2CAPTCHA_API_KEY"`
}

// Sanitize applies guardrails to provider configuration values.
func (p *ProvidersConfig) Sanitize() {
	if p.HTTPTimeout < time.Second {
		p.HTTPTimeout = time.Second
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// PendingMaxAge is the maximum age for pending jobs before they are marked as failed.
	// Jobs stuck in pending status longer than this will be failed.
	PendingMaxAge time.Duration `env:"REAPER_PENDING_MAX_AGE" envDefault:"1h"`

	// CompletedMaxAge is the maximum age for completed jobs before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"168h"` // 7 days

	// FailedMaxAge is the maximum age for failed jobs before deletion.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"168h"` // 7 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.PendingMaxAge < 5*time.Minute {
		r.PendingMaxAge = 5 * time.Minute
	}
	if r.CompletedMaxAge < 1*time.Hour {
		r.CompletedMaxAge = 1 * time.Hour
	}
	if r.FailedMaxAge < 1*time.Hour {
		r.FailedMaxAge = 1 * time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
