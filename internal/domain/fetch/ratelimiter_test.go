package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-ui-api/internal/domain/model"
)

type fakeTokenBucketRepo struct {
	consumeFn func(ctx context.Context, provider, hostname string, cfg model.RateLimitConfig, nowMs int64) (model.TokenBucket, bool, error)
	configFn  func(ctx context.Context, hostname string) (*model.RateLimitConfig, error)
}

func (f *fakeTokenBucketRepo) Consume(ctx context.Context, provider, hostname string, cfg model.RateLimitConfig, nowMs int64) (model.TokenBucket, bool, error) {
	return f.consumeFn(ctx, provider, hostname, cfg, nowMs)
}

func (f *fakeTokenBucketRepo) Peek(ctx context.Context, provider, hostname string) (*model.TokenBucket, error) {
	return nil, nil
}

func (f *fakeTokenBucketRepo) Config(ctx context.Context, hostname string) (*model.RateLimitConfig, error) {
	if f.configFn != nil {
		return f.configFn(ctx, hostname)
	}
	return nil, nil
}

func TestRateLimiter_Allowed(t *testing.T) {
	repo := &fakeTokenBucketRepo{
		consumeFn: func(ctx context.Context, provider, hostname string, cfg model.RateLimitConfig, nowMs int64) (model.TokenBucket, bool, error) {
			assert.Equal(t, "http", provider)
			assert.Equal(t, "example.com", hostname)
			assert.Equal(t, defaultRateLimitConfigs[RateLimitClassHTTP], cfg)
			return model.TokenBucket{Tokens: 2, LastRefill: nowMs}, true, nil
		},
	}
	rl := NewRateLimiter(repo, nil)
	res, err := rl.Consume(context.Background(), ProviderHTTP, "example.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2.0, res.Remaining)
}

func TestRateLimiter_Denied(t *testing.T) {
	repo := &fakeTokenBucketRepo{
		consumeFn: func(ctx context.Context, provider, hostname string, cfg model.RateLimitConfig, nowMs int64) (model.TokenBucket, bool, error) {
			return model.TokenBucket{Tokens: 0.5, LastRefill: nowMs}, false, nil
		},
	}
	rl := NewRateLimiter(repo, nil)
	res, err := rl.Consume(context.Background(), ProviderBrightData, "example.com")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.WaitMs, int64(0))
}

func TestRateLimiter_FailOpenForFreeProvider(t *testing.T) {
	repo := &fakeTokenBucketRepo{
		consumeFn: func(ctx context.Context, provider, hostname string, cfg model.RateLimitConfig, nowMs int64) (model.TokenBucket, bool, error) {
			return model.TokenBucket{}, false, assert.AnError
		},
	}
	rl := NewRateLimiter(repo, nil)
	res, err := rl.Consume(context.Background(), ProviderHTTP, "example.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRateLimiter_FailClosedForPaidProvider(t *testing.T) {
	repo := &fakeTokenBucketRepo{
		consumeFn: func(ctx context.Context, provider, hostname string, cfg model.RateLimitConfig, nowMs int64) (model.TokenBucket, bool, error) {
			return model.TokenBucket{}, false, assert.AnError
		},
	}
	rl := NewRateLimiter(repo, nil)
	res, err := rl.Consume(context.Background(), ProviderBrightData, "example.com")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(60_000), res.WaitMs)
}

func TestRateLimiter_HostnameOverride(t *testing.T) {
	override := model.RateLimitConfig{RefillPerSecond: 1, Burst: 10}
	repo := &fakeTokenBucketRepo{
		configFn: func(ctx context.Context, hostname string) (*model.RateLimitConfig, error) {
			return &override, nil
		},
		consumeFn: func(ctx context.Context, provider, hostname string, cfg model.RateLimitConfig, nowMs int64) (model.TokenBucket, bool, error) {
			assert.Equal(t, override, cfg)
			return model.TokenBucket{Tokens: 9}, true, nil
		},
	}
	rl := NewRateLimiter(repo, func() time.Time { return time.Unix(0, 0) })
	res, err := rl.Consume(context.Background(), ProviderHTTP, "special.example.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
