package fetch

import (
	"context"
	"time"

	"github.com/target/mmk-ui-api/internal/core"
	"github.com/target/mmk-ui-api/internal/domain/model"
)

// defaultRateLimitConfigs holds the per-provider-class token bucket defaults.
// Refill is expressed per second; Burst is the bucket ceiling.
var defaultRateLimitConfigs = map[RateLimitClass]model.RateLimitConfig{
	RateLimitClassHTTP:     {RefillPerSecond: 12.0 / 60.0, Burst: 3},
	RateLimitClassHeadless: {RefillPerSecond: 4.0 / 60.0, Burst: 3},
	RateLimitClassPaid:     {RefillPerSecond: 2.0 / 60.0, Burst: 1},
}

// ConsumeResult is the decision the Rate Limiter (C3) returns for one token request.
type ConsumeResult struct {
	Allowed   bool
	Remaining float64
	WaitMs    int64
}

// RateLimiter enforces the per-(provider, hostname) token bucket policy
// described in the fetch orchestrator's candidate loop. State lives in a
// shared cache (core.TokenBucketRepository) so it is consistent across
// worker replicas; the repository implementation is responsible for atomic
// consume-with-refill.
type RateLimiter struct {
	repo core.TokenBucketRepository
	now  func() time.Time
}

// NewRateLimiter builds a RateLimiter backed by repo. now defaults to time.Now.
func NewRateLimiter(repo core.TokenBucketRepository, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{repo: repo, now: now}
}

// Consume attempts to take one token for (provider, hostname). On repository
// failure it fails open for free providers and fails closed (60s retry) for
// paid ones, matching the cost-containment policy in the spec.
func (l *RateLimiter) Consume(ctx context.Context, provider ProviderID, hostname string) (ConsumeResult, error) {
	cfg, err := l.resolveConfig(ctx, provider, hostname)
	if err != nil {
		return l.onFailure(provider), nil
	}

	bucket, allowed, err := l.repo.Consume(ctx, string(provider), hostname, cfg, l.now().UnixMilli())
	if err != nil {
		return l.onFailure(provider), nil
	}

	if allowed {
		return ConsumeResult{Allowed: true, Remaining: bucket.Tokens}, nil
	}

	waitMs := int64(0)
	if cfg.RefillPerSecond > 0 {
		waitMs = int64((1 - bucket.Tokens) / cfg.RefillPerSecond * 1000)
	}
	return ConsumeResult{Allowed: false, Remaining: bucket.Tokens, WaitMs: waitMs}, nil
}

func (l *RateLimiter) onFailure(provider ProviderID) ConsumeResult {
	if provider.IsPaid() {
		return ConsumeResult{Allowed: false, WaitMs: 60_000}
	}
	return ConsumeResult{Allowed: true}
}

func (l *RateLimiter) resolveConfig(ctx context.Context, provider ProviderID, hostname string) (model.RateLimitConfig, error) {
	override, err := l.repo.Config(ctx, hostname)
	if err != nil {
		return model.RateLimitConfig{}, err
	}
	if override != nil {
		return *override, nil
	}
	return defaultRateLimitConfigs[provider.Class()], nil
}
