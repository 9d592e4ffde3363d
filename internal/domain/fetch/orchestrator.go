package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/target/mmk-ui-api/internal/domain/model"
	"github.com/target/mmk-ui-api/internal/ports"
)

// Request is the orchestrator's input for one rule run.
type Request struct {
	WorkspaceID             string
	RuleID                  string
	URL                     string
	Hostname                string
	Headers                 map[string]string
	UserAgent               string
	TimeoutMs               int
	RenderWaitMs            int
	FlareSolverrWaitSeconds int
	PreferredProvider       ProviderID
	DisabledProviders       map[ProviderID]bool
	StopAfterPreferredFailure bool
	GeoCountry              string
}

// Config is the orchestrator's per-run policy input.
type Config struct {
	MaxAttemptsPerRun int
	AllowPaid         bool
	BudgetPolicy      BudgetPolicy
}

// Result is the orchestrator's output: the full attempt ledger for the run
// plus a pointer to whichever attempt is the final, decision-making one.
type Result struct {
	Attempts []model.FetchAttempt
	Final    model.FetchAttempt
	// Body is the raw response body of the final attempt when it was ok.
	// It is not persisted on FetchAttempt (the ledger only keeps a
	// truncated RawSample for problem outcomes); the Run Handler consumes
	// it directly to hand off to the extractor.
	Body string
	// SuggestedWaitMs is the rate limiter's or semaphore's suggested wait,
	// populated only when Final.Outcome is rate_limited. The Run Handler
	// uses it (bounded) as the deferred rerun delay instead of a fixed
	// constant.
	SuggestedWaitMs int64
}

// Orchestrator is the Fetch Orchestrator (C8): it walks the provider
// candidate list in policy order, running each candidate through the
// circuit breaker, rate limiter, budget guard, and concurrency semaphore
// before invoking it, classifying the raw result, and feeding the outcome
// back into the circuit breaker.
type Orchestrator struct {
	providers     map[ProviderID]ports.Provider
	breaker       *CircuitBreaker
	rateLimiter   *RateLimiter
	semaphore     *Semaphore
	budgetGuard   *BudgetGuard
	attemptLogger *AttemptLogger
	now           func() time.Time
	logger        *slog.Logger
}

// NewOrchestrator wires the pipeline components together. providers maps
// provider id to its implementation; a candidate whose id is absent from the
// map is never invoked and instead yields a provider_error attempt ("provider
// not configured") that is logged, counts toward MaxAttemptsPerRun, and is
// reported to the circuit breaker as a failure.
func NewOrchestrator(
	providers map[ProviderID]ports.Provider,
	breaker *CircuitBreaker,
	rateLimiter *RateLimiter,
	semaphore *Semaphore,
	budgetGuard *BudgetGuard,
	attemptLogger *AttemptLogger,
	now func() time.Time,
	logger *slog.Logger,
) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		providers:     providers,
		breaker:       breaker,
		rateLimiter:   rateLimiter,
		semaphore:     semaphore,
		budgetGuard:   budgetGuard,
		attemptLogger: attemptLogger,
		now:           now,
		logger:        logger.With("component", "fetch_orchestrator"),
	}
}

// Run executes one rule's fetch attempt sequence and returns the full
// ledger plus the decision-making final attempt.
func (o *Orchestrator) Run(ctx context.Context, req Request, cfg Config) Result {
	candidates := candidateOrder(req, cfg)

	if req.StopAfterPreferredFailure && req.PreferredProvider != "" && !containsProvider(candidates, req.PreferredProvider) {
		attempt := o.newAttempt(req, "", model.OutcomePreferredUnavailable)
		o.attemptLogger.LogAttempt(ctx, &attempt)
		return Result{Attempts: []model.FetchAttempt{attempt}, Final: attempt}
	}

	var attempts []model.FetchAttempt
	var skipReasons []string
	var rawSampleStored bool
	var finalBody string
	var suggestedWaitMs int64

	for _, provider := range candidates {
		if len(attempts) >= cfg.MaxAttemptsPerRun {
			break
		}

		attempt, body, skipReason, waitMs, stop := o.attemptCandidate(ctx, req, cfg, provider, &rawSampleStored)
		if skipReason != "" {
			skipReasons = append(skipReasons, skipReason)
			if waitMs > suggestedWaitMs {
				suggestedWaitMs = waitMs
			}
			continue
		}
		attempts = append(attempts, attempt)
		if stop {
			finalBody = body
			break
		}
	}

	if len(attempts) > 0 {
		return Result{Attempts: attempts, Final: attempts[len(attempts)-1], Body: finalBody}
	}

	final := o.synthesizeNoProviderResult(req, skipReasons)
	o.attemptLogger.LogAttempt(ctx, &final)
	result := Result{Attempts: []model.FetchAttempt{final}, Final: final}
	if final.Outcome == model.OutcomeRateLimited {
		result.SuggestedWaitMs = suggestedWaitMs
	}
	return result
}

// attemptCandidate runs the per-candidate policy checks (breaker, rate
// limiter, budget, semaphore) and, if all pass, invokes the provider. It
// returns a non-empty skipReason when a policy check denied the attempt
// before invocation, in which case no attempt was logged and the caller
// should continue to the next candidate. waitMs carries the rate
// limiter's/semaphore's suggested wait when the skip reason is rate_limit or
// concurrency; it is zero otherwise.
func (o *Orchestrator) attemptCandidate(ctx context.Context, req Request, cfg Config, provider ProviderID, rawSampleStored *bool) (model.FetchAttempt, string, string, int64, bool) {
	allowed, _, err := o.breaker.CanExecute(ctx, req.WorkspaceID, req.Hostname, string(provider))
	if err == nil && !allowed {
		return model.FetchAttempt{}, "", "circuit_breaker", 0, false
	}

	consumeResult, err := o.rateLimiter.Consume(ctx, provider, req.Hostname)
	if err == nil && !consumeResult.Allowed {
		return model.FetchAttempt{}, "", "rate_limit", consumeResult.WaitMs, false
	}

	if provider.IsPaid() {
		decision, err := o.budgetGuard.CanSpend(ctx, req.WorkspaceID, req.Hostname, req.RuleID, cfg.BudgetPolicy)
		if err == nil && !decision.CanSpendPaid {
			return model.FetchAttempt{}, "", "budget", 0, false
		}
	}

	var lease *Lease
	if provider.IsPaid() {
		var acquireResult AcquireResult
		lease, acquireResult, err = o.semaphore.TryAcquire(ctx, provider, req.Hostname)
		if err == nil && !acquireResult.Acquired {
			return model.FetchAttempt{}, "", "concurrency", acquireResult.WaitMs, false
		}
	}
	defer o.semaphore.Release(ctx, lease)

	attempt, body := o.invokeAndClassify(ctx, req, provider, rawSampleStored)

	failed := attempt.Outcome.IsFailureForCircuitBreaker()
	_ = o.breaker.RecordResult(ctx, req.WorkspaceID, req.Hostname, string(provider), failed)

	o.attemptLogger.LogAttempt(ctx, &attempt)

	if attempt.Outcome == model.OutcomeOK && attempt.BodyBytes > 0 {
		return attempt, body, "", 0, true
	}

	stop := req.StopAfterPreferredFailure && provider == req.PreferredProvider
	return attempt, "", "", 0, stop
}

func (o *Orchestrator) invokeAndClassify(ctx context.Context, req Request, providerID ProviderID, rawSampleStored *bool) (model.FetchAttempt, string) {
	provider, configured := o.providers[providerID]
	start := o.now()

	var raw ports.FetchResult
	var invokeErr error
	if !configured {
		invokeErr = errProviderNotConfigured(providerID)
	} else {
		raw, invokeErr = provider.Fetch(ctx, ports.FetchRequest{
			URL:                     req.URL,
			Hostname:                req.Hostname,
			Headers:                 req.Headers,
			UserAgent:               req.UserAgent,
			TimeoutMs:               req.TimeoutMs,
			RenderWaitMs:            req.RenderWaitMs,
			FlareSolverrWaitSeconds: req.FlareSolverrWaitSeconds,
			GeoCountry:              req.GeoCountry,
		})
	}
	latency := o.now().Sub(start)

	if invokeErr != nil {
		o.logger.WarnContext(ctx, "provider invocation failed", "provider", providerID, "error", invokeErr)
		attempt := o.newAttempt(req, providerID, model.OutcomeProviderError)
		attempt.LatencyMs = latency.Milliseconds()
		attempt.ErrorDetail = invokeErr.Error()
		return attempt, ""
	}

	classified := Classify(ClassifyInput{
		HTTPStatus:  raw.HTTPStatus,
		Body:        raw.Body,
		ContentType: raw.ContentType,
		ErrorDetail: raw.ErrorDetail,
	})

	attempt := o.newAttempt(req, providerID, classified.Outcome)
	attempt.BlockKind = classified.BlockKind
	attempt.HTTPStatus = raw.HTTPStatus
	attempt.FinalURL = raw.FinalURL
	attempt.BodyBytes = len(raw.Body)
	attempt.ContentType = raw.ContentType
	attempt.LatencyMs = latency.Milliseconds()
	attempt.Signals = classified.Signals
	attempt.ErrorDetail = raw.ErrorDetail
	attempt.CostUSD = raw.CostUSD
	attempt.CostUnits = raw.CostUnits
	if classified.Outcome != model.OutcomeOK && len(raw.Body) > 0 && !*rawSampleStored {
		attempt.RawSample = truncateSample([]byte(raw.Body))
		*rawSampleStored = true
	}
	return attempt, raw.Body
}

func truncateSample(body []byte) []byte {
	if len(body) <= model.MaxRawSampleBytes {
		return body
	}
	return body[:model.MaxRawSampleBytes]
}

func (o *Orchestrator) newAttempt(req Request, provider ProviderID, outcome model.Outcome) model.FetchAttempt {
	return model.FetchAttempt{
		WorkspaceID: req.WorkspaceID,
		RuleID:      req.RuleID,
		URL:         req.URL,
		Hostname:    req.Hostname,
		Provider:    string(provider),
		Outcome:     outcome,
		CreatedAt:   o.now(),
	}
}

func (o *Orchestrator) synthesizeNoProviderResult(req Request, skipReasons []string) model.FetchAttempt {
	outcome := model.OutcomeNetworkError
	var signals []string
	switch {
	case containsAny(skipReasons, "rate_limit", "concurrency"):
		outcome = model.OutcomeRateLimited
	case containsAny(skipReasons, "budget"):
		signals = []string{"budget_exceeded"}
	case containsAny(skipReasons, "circuit_breaker"):
		signals = []string{"circuit_breaker_open"}
	default:
		signals = []string{"no_providers_available"}
	}
	attempt := o.newAttempt(req, "", outcome)
	attempt.Signals = signals
	return attempt
}

func containsAny(haystack []string, needles ...string) bool {
	set := make(map[string]bool, len(needles))
	for _, n := range needles {
		set[n] = true
	}
	for _, h := range haystack {
		if set[h] {
			return true
		}
	}
	return false
}

// candidateOrder builds the filtered, ordered candidate list: free providers
// first in fixed order, then (if allowed) paid providers in
// cost-effectiveness order, with disabled providers removed. If a preferred
// provider is set and paid candidates are allowed, it is moved to the front
// (paid-first override).
func candidateOrder(req Request, cfg Config) []ProviderID {
	var candidates []ProviderID
	for _, p := range FreeProviders {
		if !req.DisabledProviders[p] {
			candidates = append(candidates, p)
		}
	}
	if cfg.AllowPaid {
		for _, p := range PaidProviders {
			if !req.DisabledProviders[p] {
				candidates = append(candidates, p)
			}
		}
	}

	if cfg.AllowPaid && req.PreferredProvider != "" {
		candidates = moveToFront(candidates, req.PreferredProvider)
	}

	return candidates
}

func moveToFront(candidates []ProviderID, preferred ProviderID) []ProviderID {
	idx := -1
	for i, c := range candidates {
		if c == preferred {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return candidates
	}
	reordered := make([]ProviderID, 0, len(candidates))
	reordered = append(reordered, preferred)
	reordered = append(reordered, candidates[:idx]...)
	reordered = append(reordered, candidates[idx+1:]...)
	return reordered
}

func containsProvider(list []ProviderID, p ProviderID) bool {
	for _, c := range list {
		if c == p {
			return true
		}
	}
	return false
}

type providerNotConfiguredError struct{ provider ProviderID }

func (e providerNotConfiguredError) Error() string {
	return "provider not configured: " + string(e.provider)
}

func errProviderNotConfigured(provider ProviderID) error {
	return providerNotConfiguredError{provider: provider}
}
