// Package runhandler implements the Run Handler (C11): the top-level
// rules:run job handler that drives one rule through the fetch
// orchestrator, the change detector, the condition evaluator, and — when
// warranted — the dedupe gate and alert generator.
package runhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"github.com/target/mmk-ui-api/internal/core"
	"github.com/target/mmk-ui-api/internal/domain/alert"
	"github.com/target/mmk-ui-api/internal/domain/change"
	"github.com/target/mmk-ui-api/internal/domain/conditions"
	"github.com/target/mmk-ui-api/internal/domain/fetch"
	"github.com/target/mmk-ui-api/internal/domain/model"
	"github.com/target/mmk-ui-api/internal/ports"
)

// ErrRuleNotFound indicates the job's ruleId no longer resolves to a rule.
var ErrRuleNotFound = errors.New("rule not found")

// minRateLimitedRequeueDelay and maxRateLimitedRequeueDelay bound the
// deferred re-run delay derived from the orchestrator's suggested wait (rate
// limiter token refill ETA or semaphore lease expiry). The floor only guards
// against a zero/negative wait thrashing the queue; real token-bucket waits
// routinely land well under the old fixed 90s delay (e.g. a near-empty
// bucket with a fast refill rate yields a few seconds).
const (
	minRateLimitedRequeueDelay = 1 * time.Second
	maxRateLimitedRequeueDelay = 5 * time.Minute
)

// boundRequeueDelay clamps a suggested wait (milliseconds) into
// [minRateLimitedRequeueDelay, maxRateLimitedRequeueDelay].
func boundRequeueDelay(waitMs int64) time.Duration {
	d := time.Duration(waitMs) * time.Millisecond
	if d < minRateLimitedRequeueDelay {
		return minRateLimitedRequeueDelay
	}
	if d > maxRateLimitedRequeueDelay {
		return maxRateLimitedRequeueDelay
	}
	return d
}

// FetchPolicy is the per-run fetch policy the Run Handler resolves before
// calling the orchestrator: tier defaults folded with any per-workspace or
// per-rule overrides.
type FetchPolicy struct {
	AllowPaid         bool
	MaxAttemptsPerRun int
	TimeoutMs         int
	BudgetPolicy      fetch.BudgetPolicy
}

// PolicyResolver resolves a rule's effective fetch policy. Implementations
// typically fold static tier/budget configuration with per-workspace canary
// overrides; kept as an interface here so the domain layer never imports
// the outer config package directly.
type PolicyResolver interface {
	Resolve(ctx context.Context, rule *model.Rule) (FetchPolicy, error)
}

// Handler is the Run Handler (C11).
type Handler struct {
	rules        core.RuleRepository
	observations core.ObservationRepository
	alerts       core.AlertRepository
	jobs         core.JobRepository
	orchestrator *fetch.Orchestrator
	extractor    ports.Extractor
	policy       PolicyResolver
	dedupeGate   *alert.DedupeGate
	generator    *alert.Generator
	now          func() time.Time
	logger       *slog.Logger
}

// Options groups Handler's dependencies.
type Options struct {
	Rules        core.RuleRepository
	Observations core.ObservationRepository
	Alerts       core.AlertRepository
	Jobs         core.JobRepository
	Orchestrator *fetch.Orchestrator
	Extractor    ports.Extractor
	Policy       PolicyResolver
	DedupeGate   *alert.DedupeGate
	Generator    *alert.Generator
	Now          func() time.Time
	Logger       *slog.Logger
}

// New builds a Handler.
func New(opts Options) *Handler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		rules:        opts.Rules,
		observations: opts.Observations,
		alerts:       opts.Alerts,
		jobs:         opts.Jobs,
		orchestrator: opts.Orchestrator,
		extractor:    opts.Extractor,
		policy:       opts.Policy,
		dedupeGate:   opts.DedupeGate,
		generator:    opts.Generator,
		now:          now,
		logger:       logger.With("component", "run_handler"),
	}
}

// Outcome summarizes what HandleRunJob did, mainly for logging/tests.
type Outcome string

const (
	OutcomeDeferred           Outcome = "deferred"
	OutcomeFetchFailed        Outcome = "fetch_failed"
	OutcomeExtractionFailed   Outcome = "extraction_failed"
	OutcomeNoChange           Outcome = "no_change"
	OutcomeObservationUpdated Outcome = "observation_updated"
	OutcomeSuppressedByDedupe Outcome = "suppressed_by_dedupe"
	OutcomeAlertGenerated     Outcome = "alert_generated"
)

// HandleRunJob runs one RunJob to completion per the rules:run flow.
func (h *Handler) HandleRunJob(ctx context.Context, payload model.RunJobPayload) (Outcome, error) {
	rule, err := h.rules.GetByID(ctx, payload.RuleID)
	if err != nil {
		return "", fmt.Errorf("load rule: %w", err)
	}
	if rule == nil {
		return "", ErrRuleNotFound
	}

	priorObs, err := h.observations.GetByRuleID(ctx, rule.ID)
	if err != nil {
		return "", fmt.Errorf("load observation: %w", err)
	}
	var oldValue *model.NormalizedValue
	if priorObs != nil {
		oldValue = &priorObs.Value
	}

	fetchPolicy, err := h.policy.Resolve(ctx, rule)
	if err != nil {
		return "", fmt.Errorf("resolve fetch policy: %w", err)
	}

	req := h.buildFetchRequest(rule, fetchPolicy)
	result := h.orchestrator.Run(ctx, req, fetch.Config{
		MaxAttemptsPerRun: fetchPolicy.MaxAttemptsPerRun,
		AllowPaid:         fetchPolicy.AllowPaid,
		BudgetPolicy:      fetchPolicy.BudgetPolicy,
	})

	if result.Final.Outcome == model.OutcomeRateLimited {
		if err := h.deferRerun(ctx, payload, result.SuggestedWaitMs); err != nil {
			return "", fmt.Errorf("defer rate-limited rerun: %w", err)
		}
		return OutcomeDeferred, nil
	}

	if result.Final.Outcome != model.OutcomeOK {
		if err := h.recordFailure(ctx, rule.ID, string(result.Final.Outcome), ""); err != nil {
			h.logger.ErrorContext(ctx, "failed to record rule health", "ruleId", rule.ID, "error", err)
		}
		return OutcomeFetchFailed, nil
	}

	extractResult, err := h.extractor.Extract(ctx, ports.ExtractRequest{
		HTML:           result.Body,
		ExtractionSpec: rule.Extraction,
		Country:        rule.FetchProfile.GeoCountry,
	})
	if err != nil {
		if recErr := h.recordFailure(ctx, rule.ID, "extraction_error", err.Error()); recErr != nil {
			h.logger.ErrorContext(ctx, "failed to record rule health", "ruleId", rule.ID, "error", recErr)
		}
		return OutcomeExtractionFailed, nil
	}
	if extractResult.ExtractionError != "" || extractResult.NormalizedValue == nil {
		if recErr := h.recordFailure(ctx, rule.ID, "extraction_error", extractResult.ExtractionError); recErr != nil {
			h.logger.ErrorContext(ctx, "failed to record rule health", "ruleId", rule.ID, "error", recErr)
		}
		return OutcomeExtractionFailed, nil
	}
	newValue := extractResult.NormalizedValue

	changeResult := change.Detect(oldValue, newValue, rule.RuleType)
	fired := conditions.Evaluate(rule, newValue, oldValue)

	if len(fired) == 0 && changeResult.ChangeKind == "" {
		if err := h.updateObservation(ctx, rule.ID, newValue); err != nil {
			return "", fmt.Errorf("update observation: %w", err)
		}
		if err := h.recordSuccess(ctx, rule.ID); err != nil {
			h.logger.ErrorContext(ctx, "failed to record rule health", "ruleId", rule.ID, "error", err)
		}
		return OutcomeNoChange, nil
	}

	if len(fired) > 0 {
		dedupeKey, err := alert.DedupeKey(rule.ID, fired, newValue, h.now())
		if err != nil {
			return "", fmt.Errorf("compute dedupe key: %w", err)
		}

		decision, err := h.dedupeGate.Allow(ctx, rule.ID, dedupeKey, rule.CooldownSeconds)
		if err != nil {
			return "", fmt.Errorf("dedupe gate: %w", err)
		}
		if !decision.Allowed {
			h.logger.InfoContext(ctx, "alert suppressed by dedupe gate", "ruleId", rule.ID, "reason", decision.Reason)
			if err := h.updateObservation(ctx, rule.ID, newValue); err != nil {
				return "", fmt.Errorf("update observation: %w", err)
			}
			if err := h.recordSuccess(ctx, rule.ID); err != nil {
				h.logger.ErrorContext(ctx, "failed to record rule health", "ruleId", rule.ID, "error", err)
			}
			return OutcomeSuppressedByDedupe, nil
		}

		generated, err := h.generator.Generate(alert.Input{
			Rule:        rule,
			Fired:       fired,
			NewValue:    newValue,
			OldValue:    oldValue,
			ChangeKind:  changeResult.ChangeKind,
			DiffSummary: changeResult.DiffSummary,
			DedupeKey:   dedupeKey,
			Channels:    rule.Channels,
		})
		if err != nil {
			return "", fmt.Errorf("generate alert: %w", err)
		}
		generated.ID = uuid.NewString()

		if err := h.alerts.Create(ctx, generated); err != nil {
			return "", fmt.Errorf("persist alert: %w", err)
		}

		if err := h.updateObservation(ctx, rule.ID, newValue); err != nil {
			return "", fmt.Errorf("update observation: %w", err)
		}
		if err := h.recordSuccess(ctx, rule.ID); err != nil {
			h.logger.ErrorContext(ctx, "failed to record rule health", "ruleId", rule.ID, "error", err)
		}

		if err := h.enqueueDispatch(ctx, generated); err != nil {
			return "", fmt.Errorf("enqueue alert dispatch: %w", err)
		}
		return OutcomeAlertGenerated, nil
	}

	// changeResult.ChangeKind is set but nothing fired: a real change
	// happened, it just did not cross any configured threshold.
	if err := h.updateObservation(ctx, rule.ID, newValue); err != nil {
		return "", fmt.Errorf("update observation: %w", err)
	}
	if err := h.recordSuccess(ctx, rule.ID); err != nil {
		h.logger.ErrorContext(ctx, "failed to record rule health", "ruleId", rule.ID, "error", err)
	}
	return OutcomeObservationUpdated, nil
}

func (h *Handler) buildFetchRequest(rule *model.Rule, policy FetchPolicy) fetch.Request {
	hostname := rule.SourceURL
	if parsed, err := url.Parse(rule.SourceURL); err == nil && parsed.Hostname() != "" {
		hostname = parsed.Hostname()
		if registrable, err := publicsuffix.EffectiveTLDPlusOne(hostname); err == nil {
			hostname = registrable
		}
	}

	disabled := make(map[fetch.ProviderID]bool, len(rule.FetchProfile.DisabledProviders))
	for _, p := range rule.FetchProfile.DisabledProviders {
		disabled[fetch.ProviderID(p)] = true
	}

	return fetch.Request{
		WorkspaceID:               rule.WorkspaceID,
		RuleID:                    rule.ID,
		URL:                       rule.SourceURL,
		Hostname:                  hostname,
		Headers:                   rule.FetchProfile.Headers,
		UserAgent:                 rule.FetchProfile.UserAgent,
		TimeoutMs:                 firstPositive(rule.FetchProfile.TimeoutMs, policy.TimeoutMs),
		RenderWaitMs:              rule.FetchProfile.RenderWaitMs,
		PreferredProvider:         fetch.ProviderID(rule.FetchProfile.PreferredProvider),
		DisabledProviders:         disabled,
		StopAfterPreferredFailure: rule.FetchProfile.StopAfterPreferredFailure,
		GeoCountry:                rule.FetchProfile.GeoCountry,
	}
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func (h *Handler) deferRerun(ctx context.Context, payload model.RunJobPayload, suggestedWaitMs int64) error {
	next := payload
	next.Trigger = "deferred_retry"
	next.ScheduledAt = h.now().Add(boundRequeueDelay(suggestedWaitMs))

	body, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal deferred run payload: %w", err)
	}
	scheduledAt := next.ScheduledAt
	_, err = h.jobs.Create(ctx, &model.CreateJobRequest{
		Type:        model.JobTypeRunRule,
		Payload:     body,
		ScheduledAt: &scheduledAt,
		MaxRetries:  3,
	})
	return err
}

func (h *Handler) recordFailure(ctx context.Context, ruleID, outcome, errClass string) error {
	health, err := h.rules.GetHealth(ctx, ruleID)
	if err != nil {
		return err
	}
	if health == nil {
		health = &model.RuleHealth{RuleID: ruleID}
	}
	health.ConsecutiveFailures++
	health.LastFailureOutcome = outcome
	health.LastErrorClass = errClass
	health.UpdatedAt = h.now()
	return h.rules.UpsertHealth(ctx, health)
}

func (h *Handler) recordSuccess(ctx context.Context, ruleID string) error {
	health, err := h.rules.GetHealth(ctx, ruleID)
	if err != nil {
		return err
	}
	if health == nil {
		health = &model.RuleHealth{RuleID: ruleID}
	}
	now := h.now()
	health.ConsecutiveFailures = 0
	health.LastFailureOutcome = ""
	health.LastErrorClass = ""
	health.LastSuccessAt = &now
	health.UpdatedAt = now
	return h.rules.UpsertHealth(ctx, health)
}

func (h *Handler) updateObservation(ctx context.Context, ruleID string, value *model.NormalizedValue) error {
	return h.observations.Upsert(ctx, &model.Observation{
		RuleID:    ruleID,
		Value:     *value,
		UpdatedAt: h.now(),
	})
}

// dispatchJobIDNamespace seeds the name-based UUID derived for alert
// dispatch job ids; any fixed namespace works since only determinism across
// calls with the same name matters here.
var dispatchJobIDNamespace = uuid.MustParse("6f6e0e0a-6a3a-4f8a-9c7c-2a2e7a9d9b3b")

// dispatchJobID derives a deterministic job id from the alert's dedupe key
// and the current 5-minute bucket, so repeat dispatch enqueues for the same
// alert within one window collapse onto a single job row instead of
// duplicating (spec §6's alerts:dispatch job id rule).
func dispatchJobID(dedupeKey string, now time.Time) string {
	bucket := now.Unix() / 300
	name := fmt.Sprintf("%s-%d", dedupeKey, bucket)
	return uuid.NewSHA1(dispatchJobIDNamespace, []byte(name)).String()
}

func (h *Handler) enqueueDispatch(ctx context.Context, generated *model.Alert) error {
	payload := model.AlertDispatchJobPayload{
		AlertID:   generated.ID,
		Channels:  generated.Channels,
		DedupeKey: generated.DedupeKey,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal dispatch payload: %w", err)
	}
	_, err = h.jobs.Create(ctx, &model.CreateJobRequest{
		ID:         dispatchJobID(generated.DedupeKey, h.now()),
		Type:       model.JobTypeAlertDispatch,
		Payload:    body,
		MaxRetries: 5,
	})
	return err
}
