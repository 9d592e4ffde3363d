package fetch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-ui-api/internal/core"
	"github.com/target/mmk-ui-api/internal/domain/model"
	"github.com/target/mmk-ui-api/internal/ports"
)

func allowAllCircuitRepo() *fakeCircuitRepo {
	return &fakeCircuitRepo{}
}

func allowAllTokenBucketRepo() *fakeTokenBucketRepo {
	return &fakeTokenBucketRepo{
		consumeFn: func(ctx context.Context, provider, hostname string, cfg model.RateLimitConfig, nowMs int64) (model.TokenBucket, bool, error) {
			return model.TokenBucket{Tokens: float64(cfg.Burst), LastRefill: nowMs}, true, nil
		},
	}
}

func allowAllLeaseRepo() *fakeLeaseRepo {
	return &fakeLeaseRepo{
		acquireFn: func(ctx context.Context, key string, ttl time.Duration, max int, nowMs int64) (string, bool, int, int64, error) {
			return "lease-" + key, true, 1, 0, nil
		},
	}
}

func allowAllStatsRepo() *fakeDomainStatsRepo {
	return &fakeDomainStatsRepo{
		sumFn: func(ctx context.Context, params core.SumCostUSDParams) (float64, error) {
			return 0, nil
		},
	}
}

type harness struct {
	orch     *Orchestrator
	circuit  *fakeCircuitRepo
	buckets  *fakeTokenBucketRepo
	leases   *fakeLeaseRepo
	stats    *fakeDomainStatsRepo
	attempts *fakeFetchAttemptRepo
}

func newHarness(providers map[ProviderID]ports.Provider) *harness {
	h := &harness{
		circuit:  allowAllCircuitRepo(),
		buckets:  allowAllTokenBucketRepo(),
		leases:   allowAllLeaseRepo(),
		stats:    allowAllStatsRepo(),
		attempts: &fakeFetchAttemptRepo{},
	}
	now := func() time.Time { return time.Unix(1_700_000_000, 0).UTC() }
	breaker := NewCircuitBreaker(h.circuit, now)
	rateLimiter := NewRateLimiter(h.buckets, now)
	semaphore := NewSemaphore(h.leases, now)
	budgetGuard := NewBudgetGuard(h.stats, now)
	attemptLogger := NewAttemptLogger(h.attempts, h.stats, nil)
	h.orch = NewOrchestrator(providers, breaker, rateLimiter, semaphore, budgetGuard, attemptLogger, now, nil)
	return h
}

func baseRequest() Request {
	return Request{
		WorkspaceID: "ws1",
		RuleID:      "rule1",
		URL:         "https://example.com/product",
		Hostname:    "example.com",
	}
}

// okResult pads body past the classifier's 2000-byte empty-body floor so the
// result classifies as ok rather than empty.
func okResult(body string) ports.FetchResult {
	padded := body + strings.Repeat(" filler", 300)
	return ports.FetchResult{HTTPStatus: 200, Body: padded, ContentType: "text/html"}
}

func TestOrchestrator_FirstProviderSucceeds(t *testing.T) {
	providers := map[ProviderID]ports.Provider{
		ProviderHTTP: ports.NewStaticProvider("http", okResult("<html><body>plenty of real content here to pass</body></html>")),
	}
	h := newHarness(providers)

	result := h.orch.Run(context.Background(), baseRequest(), Config{MaxAttemptsPerRun: 5})

	require.Len(t, result.Attempts, 1)
	assert.Equal(t, model.OutcomeOK, result.Final.Outcome)
	assert.Equal(t, "http", result.Final.Provider)
	assert.Len(t, h.attempts.created, 1)
}

func TestOrchestrator_FallsThroughToNextProviderOnBlock(t *testing.T) {
	providers := map[ProviderID]ports.Provider{
		ProviderHTTP:         ports.NewStaticProvider("http", ports.FetchResult{HTTPStatus: 403, Body: "please verify you are human - captcha challenge", ContentType: "text/html"}),
		ProviderFlareSolverr: ports.NewStaticProvider("flaresolverr", okResult("<html><body>plenty of real content here to pass gate</body></html>")),
	}
	h := newHarness(providers)

	result := h.orch.Run(context.Background(), baseRequest(), Config{MaxAttemptsPerRun: 5})

	require.Len(t, result.Attempts, 2)
	assert.NotEqual(t, model.OutcomeOK, result.Attempts[0].Outcome)
	assert.Equal(t, model.OutcomeOK, result.Final.Outcome)
	assert.Equal(t, "flaresolverr", result.Final.Provider)
}

func TestOrchestrator_RawSampleStoredOnlyOnce(t *testing.T) {
	blockedBody := "please verify you are human - captcha challenge page content padding padding"
	providers := map[ProviderID]ports.Provider{
		ProviderHTTP:         ports.NewStaticProvider("http", ports.FetchResult{HTTPStatus: 403, Body: blockedBody, ContentType: "text/html"}),
		ProviderFlareSolverr: ports.NewStaticProvider("flaresolverr", ports.FetchResult{HTTPStatus: 403, Body: blockedBody, ContentType: "text/html"}),
	}
	h := newHarness(providers)

	result := h.orch.Run(context.Background(), baseRequest(), Config{MaxAttemptsPerRun: 5})

	require.Len(t, result.Attempts, 2)
	assert.NotEmpty(t, result.Attempts[0].RawSample)
	assert.Empty(t, result.Attempts[1].RawSample)
}

func TestOrchestrator_CircuitBreakerOpenSkipsProvider(t *testing.T) {
	providers := map[ProviderID]ports.Provider{
		ProviderHTTP: ports.NewStaticProvider("http", okResult("<html><body>plenty of real content here to pass</body></html>")),
	}
	h := newHarness(providers)
	h.circuit.state = &model.CircuitState{
		State:         model.CircuitOpen,
		Failures:      3,
		LastFailureAt: time.Unix(1_700_000_000, 0).UTC().UnixMilli(),
		OpenCount:     1,
	}

	result := h.orch.Run(context.Background(), baseRequest(), Config{MaxAttemptsPerRun: 5})

	require.Len(t, result.Attempts, 1)
	assert.Equal(t, model.OutcomeNetworkError, result.Final.Outcome)
	assert.Contains(t, result.Final.Signals, "circuit_breaker_open")
}

func TestOrchestrator_RateLimitDeniedSynthesizesRateLimited(t *testing.T) {
	providers := map[ProviderID]ports.Provider{
		ProviderHTTP: ports.NewStaticProvider("http", okResult("<html><body>plenty of real content here to pass</body></html>")),
	}
	h := newHarness(providers)
	h.buckets.consumeFn = func(ctx context.Context, provider, hostname string, cfg model.RateLimitConfig, nowMs int64) (model.TokenBucket, bool, error) {
		return model.TokenBucket{Tokens: 0, LastRefill: nowMs}, false, nil
	}

	result := h.orch.Run(context.Background(), baseRequest(), Config{MaxAttemptsPerRun: 5})

	require.Len(t, result.Attempts, 1)
	assert.Equal(t, model.OutcomeRateLimited, result.Final.Outcome)
}

func TestOrchestrator_BudgetDeniedSkipsPaidProvider(t *testing.T) {
	providers := map[ProviderID]ports.Provider{
		ProviderBrightData: ports.NewStaticProvider("brightdata", okResult("<html><body>plenty of real content here to pass</body></html>")),
	}
	h := newHarness(providers)
	h.stats.sumFn = func(ctx context.Context, params core.SumCostUSDParams) (float64, error) {
		return 1000, nil
	}
	req := baseRequest()
	req.DisabledProviders = map[ProviderID]bool{
		ProviderHTTP: true, ProviderFlareSolverr: true, ProviderHeadless: true,
	}

	result := h.orch.Run(context.Background(), req, Config{
		MaxAttemptsPerRun: 5, AllowPaid: true,
		BudgetPolicy: BudgetPolicy{WorkspaceDailyCapUSD: 10},
	})

	require.Len(t, result.Attempts, 1)
	assert.Contains(t, result.Final.Signals, "budget_exceeded")
}

func TestOrchestrator_ConcurrencyDeniedSkipsPaidProvider(t *testing.T) {
	providers := map[ProviderID]ports.Provider{
		ProviderBrightData: ports.NewStaticProvider("brightdata", okResult("<html><body>plenty of real content here to pass</body></html>")),
	}
	h := newHarness(providers)
	h.leases.acquireFn = func(ctx context.Context, key string, ttl time.Duration, max int, nowMs int64) (string, bool, int, int64, error) {
		return "", false, max, 5000, nil
	}
	req := baseRequest()
	req.DisabledProviders = map[ProviderID]bool{
		ProviderHTTP: true, ProviderFlareSolverr: true, ProviderHeadless: true,
	}

	result := h.orch.Run(context.Background(), req, Config{MaxAttemptsPerRun: 5, AllowPaid: true})

	require.Len(t, result.Attempts, 1)
	assert.Equal(t, model.OutcomeRateLimited, result.Final.Outcome)
}

func TestOrchestrator_PreferredProviderUnavailableStopsEarly(t *testing.T) {
	providers := map[ProviderID]ports.Provider{
		ProviderHTTP: ports.NewStaticProvider("http", okResult("<html><body>plenty of real content here to pass</body></html>")),
	}
	h := newHarness(providers)
	req := baseRequest()
	req.PreferredProvider = ProviderBrightData
	req.StopAfterPreferredFailure = true

	result := h.orch.Run(context.Background(), req, Config{MaxAttemptsPerRun: 5, AllowPaid: false})

	require.Len(t, result.Attempts, 1)
	assert.Equal(t, model.OutcomePreferredUnavailable, result.Final.Outcome)
}

func TestOrchestrator_PreferredProviderMovedToFront(t *testing.T) {
	providers := map[ProviderID]ports.Provider{
		ProviderHTTP:       ports.NewStaticProvider("http", okResult("<html><body>plenty of real content here to pass</body></html>")),
		ProviderBrightData: ports.NewStaticProvider("brightdata", okResult("<html><body>plenty of real content from brightdata</body></html>")),
	}
	h := newHarness(providers)
	req := baseRequest()
	req.PreferredProvider = ProviderBrightData

	result := h.orch.Run(context.Background(), req, Config{MaxAttemptsPerRun: 5, AllowPaid: true})

	require.Len(t, result.Attempts, 1)
	assert.Equal(t, "brightdata", result.Final.Provider)
}

func TestOrchestrator_NoProvidersAvailableWhenAllDisabled(t *testing.T) {
	h := newHarness(map[ProviderID]ports.Provider{})
	req := baseRequest()
	req.DisabledProviders = map[ProviderID]bool{
		ProviderHTTP: true, ProviderFlareSolverr: true, ProviderHeadless: true,
	}

	result := h.orch.Run(context.Background(), req, Config{MaxAttemptsPerRun: 5})

	require.Len(t, result.Attempts, 1)
	assert.Contains(t, result.Final.Signals, "no_providers_available")
}

func TestOrchestrator_MaxAttemptsPerRunCapsLoop(t *testing.T) {
	blockedBody := "please verify you are human - captcha challenge page content padding padding"
	providers := map[ProviderID]ports.Provider{
		ProviderHTTP:         ports.NewStaticProvider("http", ports.FetchResult{HTTPStatus: 403, Body: blockedBody}),
		ProviderFlareSolverr: ports.NewStaticProvider("flaresolverr", ports.FetchResult{HTTPStatus: 403, Body: blockedBody}),
		ProviderHeadless:     ports.NewStaticProvider("headless", ports.FetchResult{HTTPStatus: 403, Body: blockedBody}),
	}
	h := newHarness(providers)

	result := h.orch.Run(context.Background(), baseRequest(), Config{MaxAttemptsPerRun: 1})

	assert.Len(t, result.Attempts, 1)
}

func TestOrchestrator_ProviderNotConfiguredRecordsProviderError(t *testing.T) {
	h := newHarness(map[ProviderID]ports.Provider{})
	req := baseRequest()
	req.DisabledProviders = map[ProviderID]bool{ProviderFlareSolverr: true, ProviderHeadless: true}

	result := h.orch.Run(context.Background(), req, Config{MaxAttemptsPerRun: 1})

	require.Len(t, result.Attempts, 1)
	assert.Equal(t, model.OutcomeProviderError, result.Final.Outcome)
	assert.Contains(t, result.Final.ErrorDetail, "not configured")
}
