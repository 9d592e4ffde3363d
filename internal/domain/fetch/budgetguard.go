package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/target/mmk-ui-api/internal/core"
)

// BudgetPolicy is the set of advisory spend caps the guard checks. A zero
// cap is treated as "no cap configured" for that scope.
type BudgetPolicy struct {
	WorkspaceDailyCapUSD float64
	HostnameDailyCapUSD  float64
	RuleDailyCapUSD      float64
	// CheckRuleCap gates the per-rule accounting path; it mirrors
	// config.TierPolicyConfig.AppliesTo(workspaceID) but the guard stays
	// agnostic of config so it can be unit tested without it.
	CheckRuleCap bool
}

// SpendDecision is the Budget Guard's (C6) verdict for one candidate paid attempt.
type SpendDecision struct {
	CanSpendPaid bool
	Reason       string
}

// BudgetGuard gates paid-provider attempts against rolling daily spend caps
// read through the DomainStats repository: workspace and hostname spend come
// from the DomainStats rollup, while the per-rule cap is summed from the
// FetchAttempt ledger, since DomainStats has no per-rule breakdown. The read
// path is one SumCostUSD query per checked scope per candidate.
type BudgetGuard struct {
	stats core.DomainStatsRepository
	now   func() time.Time
}

// NewBudgetGuard builds a BudgetGuard backed by stats. now defaults to time.Now.
func NewBudgetGuard(stats core.DomainStatsRepository, now func() time.Time) *BudgetGuard {
	if now == nil {
		now = time.Now
	}
	return &BudgetGuard{stats: stats, now: now}
}

// CanSpend checks the workspace, hostname, and (if policy.CheckRuleCap) rule
// caps in that order, denying on the first exceeded cap.
func (g *BudgetGuard) CanSpend(ctx context.Context, workspaceID, hostname, ruleID string, policy BudgetPolicy) (SpendDecision, error) {
	since := g.now().Add(-24 * time.Hour)

	if policy.WorkspaceDailyCapUSD > 0 {
		spent, err := g.stats.SumCostUSD(ctx, core.SumCostUSDParams{WorkspaceID: workspaceID, Since: since})
		if err != nil {
			return SpendDecision{}, fmt.Errorf("sum workspace cost: %w", err)
		}
		if spent >= policy.WorkspaceDailyCapUSD {
			return SpendDecision{CanSpendPaid: false, Reason: fmt.Sprintf("workspace daily cap of $%.2f reached (spent $%.2f)", policy.WorkspaceDailyCapUSD, spent)}, nil
		}
	}

	if policy.HostnameDailyCapUSD > 0 {
		spent, err := g.stats.SumCostUSD(ctx, core.SumCostUSDParams{WorkspaceID: workspaceID, Hostname: hostname, Since: since})
		if err != nil {
			return SpendDecision{}, fmt.Errorf("sum hostname cost: %w", err)
		}
		if spent >= policy.HostnameDailyCapUSD {
			return SpendDecision{CanSpendPaid: false, Reason: fmt.Sprintf("hostname daily cap of $%.2f reached (spent $%.2f)", policy.HostnameDailyCapUSD, spent)}, nil
		}
	}

	if policy.CheckRuleCap && policy.RuleDailyCapUSD > 0 {
		spent, err := g.stats.SumCostUSD(ctx, core.SumCostUSDParams{WorkspaceID: workspaceID, Hostname: hostname, RuleID: ruleID, Since: since})
		if err != nil {
			return SpendDecision{}, fmt.Errorf("sum rule cost: %w", err)
		}
		if spent >= policy.RuleDailyCapUSD {
			return SpendDecision{CanSpendPaid: false, Reason: fmt.Sprintf("rule daily cap of $%.2f reached (spent $%.2f)", policy.RuleDailyCapUSD, spent)}, nil
		}
	}

	return SpendDecision{CanSpendPaid: true}, nil
}
