package data

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/target/mmk-ui-api/internal/core"
)

// LeaseRepo implements core.LeaseRepository against a Redis sorted set, used
// as a sliding-window concurrency semaphore: members are lease ids scored by
// their expiry (ms epoch), evicted lazily on every Acquire call.
type LeaseRepo struct {
	client redis.UniversalClient
}

// NewLeaseRepo builds a LeaseRepo.
func NewLeaseRepo(client redis.UniversalClient) *LeaseRepo {
	return &LeaseRepo{client: client}
}

var _ core.LeaseRepository = (*LeaseRepo)(nil)

// Acquire evicts expired members, then adds a new member if cardinality is
// below max. The eviction, cardinality check, and add happen inside one
// WATCH/MULTI transaction so concurrent acquirers never both succeed past max.
func (r *LeaseRepo) Acquire(
	ctx context.Context,
	key string,
	ttl time.Duration,
	max int,
	nowMs int64,
) (string, bool, int, int64, error) {
	leaseID := uuid.NewString()
	expiryMs := nowMs + ttl.Milliseconds()

	var acquired bool
	var currentCount int
	var oldestExpiryMs int64

	txf := func(tx *redis.Tx) error {
		if err := tx.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", nowMs)).Err(); err != nil {
			return err
		}

		count, err := tx.ZCard(ctx, key).Result()
		if err != nil {
			return err
		}
		currentCount = int(count)

		if oldest, err := tx.ZRangeWithScores(ctx, key, 0, 0).Result(); err == nil && len(oldest) > 0 {
			oldestExpiryMs = int64(oldest[0].Score)
		}

		if currentCount >= max {
			acquired = false
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiryMs), Member: leaseID})
			return nil
		})
		if err != nil {
			return err
		}
		acquired = true
		currentCount++
		return nil
	}

	if err := r.client.Watch(ctx, txf, key); err != nil {
		return "", false, 0, 0, fmt.Errorf("acquire lease: %w", err)
	}
	return leaseID, acquired, currentCount, oldestExpiryMs, nil
}

// Release removes a held lease member from the set.
func (r *LeaseRepo) Release(ctx context.Context, key, leaseID string) error {
	if err := r.client.ZRem(ctx, key, leaseID).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
