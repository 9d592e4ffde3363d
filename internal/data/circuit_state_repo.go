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

const circuitStateTTL = 24 * time.Hour

// CircuitStateRepo implements core.CircuitStateRepository against Redis,
// storing each (workspace, hostname, provider) state as a JSON value at
// cb:{workspaceId}:{hostname}:{providerId}. CompareAndSwap uses go-redis's
// WATCH/MULTI optimistic-transaction primitive rather than a Lua script,
// the same approach TokenBucketRepo and LeaseRepo take.
type CircuitStateRepo struct {
	client redis.UniversalClient
}

// NewCircuitStateRepo builds a CircuitStateRepo.
func NewCircuitStateRepo(client redis.UniversalClient) *CircuitStateRepo {
	return &CircuitStateRepo{client: client}
}

var _ core.CircuitStateRepository = (*CircuitStateRepo)(nil)

func circuitStateKey(workspaceID, hostname, provider string) string {
	return fmt.Sprintf("cb:%s:%s:%s", workspaceID, hostname, provider)
}

// Get returns the current circuit state, or nil if no key exists yet.
func (r *CircuitStateRepo) Get(ctx context.Context, workspaceID, hostname, provider string) (*model.CircuitState, error) {
	raw, err := r.client.Get(ctx, circuitStateKey(workspaceID, hostname, provider)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get circuit state: %w", err)
	}
	var state model.CircuitState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("unmarshal circuit state: %w", err)
	}
	return &state, nil
}

// CompareAndSwap stores next only if the stored value still matches prev.
func (r *CircuitStateRepo) CompareAndSwap(
	ctx context.Context,
	workspaceID, hostname, provider string,
	prev, next *model.CircuitState,
) (bool, error) {
	key := circuitStateKey(workspaceID, hostname, provider)
	nextRaw, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("marshal circuit state: %w", err)
	}

	swapped := false
	txf := func(tx *redis.Tx) error {
		current, getErr := tx.Get(ctx, key).Bytes()
		if errors.Is(getErr, redis.Nil) {
			current = nil
		} else if getErr != nil {
			return getErr
		}

		if !sameCircuitState(current, prev) {
			return nil
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, nextRaw, circuitStateTTL)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}

	err = r.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compare-and-swap circuit state: %w", err)
	}
	return swapped, nil
}

func sameCircuitState(currentRaw []byte, prev *model.CircuitState) bool {
	if len(currentRaw) == 0 {
		return prev == nil
	}
	if prev == nil {
		return false
	}
	var current model.CircuitState
	if err := json.Unmarshal(currentRaw, &current); err != nil {
		return false
	}
	return current == *prev
}
