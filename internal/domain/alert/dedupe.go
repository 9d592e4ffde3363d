// Package alert implements the dedupe gate (C9) and alert generator (C10):
// the two components that decide whether a triggered condition set produces
// a persisted Alert, and what that Alert contains.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/target/mmk-ui-api/internal/core"
)

// Decision is the Dedupe Gate's verdict for one candidate alert.
type Decision struct {
	Allowed bool
	Reason  string
}

// DedupeGate implements C9: two short-circuiting checks, key uniqueness then
// rule cooldown, run against the Alert repository.
type DedupeGate struct {
	alerts core.AlertRepository
	now    func() time.Time
}

// NewDedupeGate builds a DedupeGate backed by alerts. now defaults to time.Now.
func NewDedupeGate(alerts core.AlertRepository, now func() time.Time) *DedupeGate {
	if now == nil {
		now = time.Now
	}
	return &DedupeGate{alerts: alerts, now: now}
}

// Allow checks dedupeKey uniqueness, then (if cooldownSeconds > 0) the
// rule's cooldown window, denying on the first check that fires.
func (g *DedupeGate) Allow(ctx context.Context, ruleID, dedupeKey string, cooldownSeconds int) (Decision, error) {
	existing, err := g.alerts.GetByDedupeKey(ctx, dedupeKey)
	if err != nil {
		return Decision{}, fmt.Errorf("lookup dedupe key: %w", err)
	}
	if existing != nil {
		age := g.now().Sub(existing.TriggeredAt)
		return Decision{Allowed: false, Reason: fmt.Sprintf("duplicate (age: %ds)", int(age.Seconds()))}, nil
	}

	if cooldownSeconds > 0 {
		since := g.now().Add(-time.Duration(cooldownSeconds) * time.Second)
		latest, err := g.alerts.LatestForRuleSince(ctx, ruleID, since)
		if err != nil {
			return Decision{}, fmt.Errorf("lookup rule cooldown: %w", err)
		}
		if latest != nil {
			elapsed := g.now().Sub(latest.TriggeredAt)
			remaining := time.Duration(cooldownSeconds)*time.Second - elapsed
			if remaining < 0 {
				remaining = 0
			}
			return Decision{Allowed: false, Reason: fmt.Sprintf("cooldown active (%ds remaining)", int(remaining.Seconds()))}, nil
		}
	}

	return Decision{Allowed: true}, nil
}
