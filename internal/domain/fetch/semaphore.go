package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/target/mmk-ui-api/internal/core"
)

const globalHostnameKey = "__global__"

// AcquireResult is the decision the Concurrency Semaphore (C4) returns for
// one lease request.
type AcquireResult struct {
	Acquired     bool
	LeaseID      string
	CurrentCount int
	WaitMs       int64
}

// Lease is a held concurrency slot that must be released exactly once,
// typically from a defer in the orchestrator's per-candidate loop.
type Lease struct {
	provider     ProviderID
	hostname     string
	globalLeaseID string
	hostLeaseID   string
}

// Semaphore enforces the paid-provider in-flight concurrency ceilings: a
// global cap across all hostnames and a per-(provider, hostname) cap.
// Backed by a shared sorted-set cache (core.LeaseRepository) so leases are
// visible and evictable across worker replicas.
type Semaphore struct {
	repo core.LeaseRepository
	now  func() time.Time
}

// NewSemaphore builds a Semaphore backed by repo. now defaults to time.Now.
func NewSemaphore(repo core.LeaseRepository, now func() time.Time) *Semaphore {
	if now == nil {
		now = time.Now
	}
	return &Semaphore{repo: repo, now: now}
}

// TryAcquire attempts to reserve one in-flight slot for provider on hostname.
// Providers with no configured concurrency ceiling always succeed. On cache
// failure it fails open: availability is prioritized, the budget guard
// remains the cost backstop.
func (s *Semaphore) TryAcquire(ctx context.Context, provider ProviderID, hostname string) (*Lease, AcquireResult, error) {
	ttlSeconds, hasLimit := provider.SemaphoreTTL()
	if !hasLimit {
		return nil, AcquireResult{Acquired: true}, nil
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	nowMs := s.now().UnixMilli()

	globalMax := provider.GlobalConcurrencyLimit()
	globalID, globalAcquired, globalCount, globalOldest, err := s.repo.Acquire(ctx, globalKey(provider), ttl, globalMax, nowMs)
	if err != nil {
		return nil, AcquireResult{Acquired: true}, nil
	}
	if !globalAcquired {
		return nil, AcquireResult{
			Acquired:     false,
			CurrentCount: globalCount,
			WaitMs:       waitMs(globalOldest, nowMs),
		}, nil
	}

	hostMax := provider.PerHostnameConcurrencyLimit()
	hostID, hostAcquired, hostCount, hostOldest, err := s.repo.Acquire(ctx, hostKey(provider, hostname), ttl, hostMax, nowMs)
	if err != nil {
		return &Lease{provider: provider, hostname: hostname, globalLeaseID: globalID}, AcquireResult{Acquired: true}, nil
	}
	if !hostAcquired {
		// Global slot was reserved speculatively; release it since the
		// per-hostname cap is what actually denied this attempt.
		_ = s.repo.Release(ctx, globalKey(provider), globalID)
		return nil, AcquireResult{
			Acquired:     false,
			CurrentCount: hostCount,
			WaitMs:       waitMs(hostOldest, nowMs),
		}, nil
	}

	lease := &Lease{provider: provider, hostname: hostname, globalLeaseID: globalID, hostLeaseID: hostID}
	return lease, AcquireResult{Acquired: true, LeaseID: hostID}, nil
}

// Release gives back a held lease. Safe to call on a nil lease (no-op), so
// callers can defer it unconditionally after TryAcquire.
func (s *Semaphore) Release(ctx context.Context, lease *Lease) {
	if lease == nil {
		return
	}
	if lease.globalLeaseID != "" {
		_ = s.repo.Release(ctx, globalKey(lease.provider), lease.globalLeaseID)
	}
	if lease.hostLeaseID != "" {
		_ = s.repo.Release(ctx, hostKey(lease.provider, lease.hostname), lease.hostLeaseID)
	}
}

func globalKey(provider ProviderID) string {
	return fmt.Sprintf("concurrency:%s:%s", provider, globalHostnameKey)
}

func hostKey(provider ProviderID, hostname string) string {
	return fmt.Sprintf("concurrency:%s:%s", provider, hostname)
}

func waitMs(oldestExpiryMs, nowMs int64) int64 {
	d := oldestExpiryMs - nowMs
	if d < 0 {
		return 0
	}
	return d
}
