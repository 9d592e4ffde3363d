package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/mmk-ui-api/internal/core"
	"github.com/target/mmk-ui-api/internal/domain/model"
)

const (
	tokenBucketTTL       = time.Hour
	rateLimitConfigTTL   = time.Hour
	rateLimitConfigKeyFmt = "ratelimit:config:%s"
	tokenBucketKeyFmt     = "ratelimit:%s:%s"
)

// TokenBucketRepo implements core.TokenBucketRepository against Redis. Like
// CircuitStateRepo, the atomic refill-then-consume step uses a WATCH/MULTI
// transaction rather than a Lua script.
type TokenBucketRepo struct {
	client redis.UniversalClient
}

// NewTokenBucketRepo builds a TokenBucketRepo.
func NewTokenBucketRepo(client redis.UniversalClient) *TokenBucketRepo {
	return &TokenBucketRepo{client: client}
}

var _ core.TokenBucketRepository = (*TokenBucketRepo)(nil)

func tokenBucketKey(provider, hostname string) string {
	return fmt.Sprintf(tokenBucketKeyFmt, provider, hostname)
}

// Consume atomically refills the bucket for elapsed time and attempts to
// subtract one token.
func (r *TokenBucketRepo) Consume(
	ctx context.Context,
	provider, hostname string,
	cfg model.RateLimitConfig,
	nowMs int64,
) (model.TokenBucket, bool, error) {
	key := tokenBucketKey(provider, hostname)

	var result model.TokenBucket
	allowed := false

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		var bucket model.TokenBucket
		switch {
		case errors.Is(err, redis.Nil):
			bucket = model.TokenBucket{Tokens: cfg.Burst, LastRefill: nowMs}
		case err != nil:
			return err
		default:
			if unmarshalErr := json.Unmarshal(raw, &bucket); unmarshalErr != nil {
				return unmarshalErr
			}
		}

		elapsedSeconds := float64(nowMs-bucket.LastRefill) / 1000
		if elapsedSeconds > 0 {
			bucket.Tokens += elapsedSeconds * cfg.RefillPerSecond
			if bucket.Tokens > cfg.Burst {
				bucket.Tokens = cfg.Burst
			}
		}
		bucket.LastRefill = nowMs

		if bucket.Tokens >= 1 {
			bucket.Tokens--
			allowed = true
		} else {
			allowed = false
		}
		result = bucket

		nextRaw, marshalErr := json.Marshal(bucket)
		if marshalErr != nil {
			return marshalErr
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, nextRaw, tokenBucketTTL)
			return nil
		})
		return err
	}

	if err := r.client.Watch(ctx, txf, key); err != nil {
		return model.TokenBucket{}, false, fmt.Errorf("consume token bucket: %w", err)
	}
	return result, allowed, nil
}

// Peek reads the bucket without consuming.
func (r *TokenBucketRepo) Peek(ctx context.Context, provider, hostname string) (*model.TokenBucket, error) {
	raw, err := r.client.Get(ctx, tokenBucketKey(provider, hostname)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peek token bucket: %w", err)
	}
	var bucket model.TokenBucket
	if err := json.Unmarshal(raw, &bucket); err != nil {
		return nil, fmt.Errorf("unmarshal token bucket: %w", err)
	}
	return &bucket, nil
}

// Config returns a per-hostname rate limit override if one is configured.
func (r *TokenBucketRepo) Config(ctx context.Context, hostname string) (*model.RateLimitConfig, error) {
	raw, err := r.client.Get(ctx, fmt.Sprintf(rateLimitConfigKeyFmt, hostname)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rate limit config: %w", err)
	}
	var cfg model.RateLimitConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal rate limit config: %w", err)
	}
	return &cfg, nil
}
