package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/target/mmk-ui-api/internal/core"
	"github.com/target/mmk-ui-api/internal/domain/model"
)

const (
	failureThreshold  = 3
	failureWindow     = 10 * time.Minute
	casMaxAttempts    = 5
)

// CircuitBreaker implements the per-(workspace, hostname, provider) failure
// gate (C5). State transitions are driven by compare-and-swap against the
// shared cache so concurrent workers agree on a single winner when a probe
// opportunity opens up.
type CircuitBreaker struct {
	repo core.CircuitStateRepository
	now  func() time.Time
}

// NewCircuitBreaker builds a CircuitBreaker backed by repo. now defaults to time.Now.
func NewCircuitBreaker(repo core.CircuitStateRepository, now func() time.Time) *CircuitBreaker {
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{repo: repo, now: now}
}

// CanExecute reports whether a fetch attempt may proceed for this key. When
// the circuit is open past its cooldown it transitions exactly one caller to
// half-open and lets that caller through as the probe; concurrent losers of
// that race, and anyone calling while still within cooldown, are denied.
func (b *CircuitBreaker) CanExecute(ctx context.Context, workspaceID, hostname, provider string) (allowed bool, retryAfter time.Duration, err error) {
	state, err := b.repo.Get(ctx, workspaceID, hostname, provider)
	if err != nil {
		return true, 0, nil // fail open: availability over strictness when the cache is down
	}
	if state == nil {
		return true, 0, nil
	}

	switch state.State {
	case model.CircuitClosed:
		return true, 0, nil
	case model.CircuitHalfOpen:
		return false, 0, nil
	case model.CircuitOpen:
		cooldown := cooldownFor(state.OpenCount)
		elapsed := b.now().Sub(time.UnixMilli(state.LastFailureAt))
		if elapsed < cooldown {
			return false, cooldown - elapsed, nil
		}
		probe := &model.CircuitState{
			State:         model.CircuitHalfOpen,
			Failures:      state.Failures,
			LastFailureAt: state.LastFailureAt,
			OpenCount:     state.OpenCount,
		}
		ok, err := b.repo.CompareAndSwap(ctx, workspaceID, hostname, provider, state, probe)
		if err != nil {
			return true, 0, nil
		}
		return ok, 0, nil
	default:
		return true, 0, nil
	}
}

// RecordResult feeds a completed attempt's pass/fail outcome into the
// breaker, advancing its state machine. Retries the compare-and-swap a
// bounded number of times against concurrent writers.
func (b *CircuitBreaker) RecordResult(ctx context.Context, workspaceID, hostname, provider string, failed bool) error {
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		prev, err := b.repo.Get(ctx, workspaceID, hostname, provider)
		if err != nil {
			return nil // fail open; the breaker is best-effort protection, not correctness-critical
		}
		next := b.nextState(prev, failed)
		ok, err := b.repo.CompareAndSwap(ctx, workspaceID, hostname, provider, prev, next)
		if err != nil {
			return nil
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("circuit breaker: exceeded %d compare-and-swap retries for %s/%s/%s", casMaxAttempts, workspaceID, hostname, provider)
}

func (b *CircuitBreaker) nextState(prev *model.CircuitState, failed bool) *model.CircuitState {
	now := b.now()
	nowMs := now.UnixMilli()

	if prev == nil {
		if !failed {
			return &model.CircuitState{State: model.CircuitClosed}
		}
		return &model.CircuitState{State: model.CircuitClosed, Failures: 1, LastFailureAt: nowMs}
	}

	switch prev.State {
	case model.CircuitHalfOpen:
		if !failed {
			return &model.CircuitState{State: model.CircuitClosed, OpenCount: prev.OpenCount}
		}
		return &model.CircuitState{
			State:         model.CircuitOpen,
			Failures:      prev.Failures,
			LastFailureAt: nowMs,
			OpenCount:     prev.OpenCount + 1,
		}
	case model.CircuitClosed:
		if !failed {
			if prev.Failures == 0 {
				return prev
			}
			return &model.CircuitState{State: model.CircuitClosed, OpenCount: prev.OpenCount}
		}
		withinWindow := prev.Failures > 0 && now.Sub(time.UnixMilli(prev.LastFailureAt)) < failureWindow
		failures := 1
		if withinWindow {
			failures = prev.Failures + 1
		}
		if failures >= failureThreshold {
			return &model.CircuitState{
				State:         model.CircuitOpen,
				Failures:      failures,
				LastFailureAt: nowMs,
				OpenCount:     prev.OpenCount + 1,
			}
		}
		return &model.CircuitState{
			State:         model.CircuitClosed,
			Failures:      failures,
			LastFailureAt: nowMs,
			OpenCount:     prev.OpenCount,
		}
	default: // open: no execution should have happened to report a result for
		return prev
	}
}

// cooldownFor returns the open-state cooldown tier for openCount. A
// chronically hostile hostname settles at 6h because the counter never
// rolls over.
func cooldownFor(openCount int) time.Duration {
	switch {
	case openCount <= 1:
		return 15 * time.Minute
	case openCount == 2:
		return 60 * time.Minute
	default:
		return 6 * time.Hour
	}
}
