//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import "time"

// DomainStats is the per (workspace, hostname, calendar day UTC) rolling
// aggregate upserted by the Attempt Logger. AvgLatencyMs is derived on read
// from a running (sum, count) pair rather than an increment-only counter,
// per the design note calling out the source's incorrect running average.
type DomainStats struct {
	WorkspaceID  string    `json:"workspaceId"  db:"workspace_id"`
	Hostname     string    `json:"hostname"      db:"hostname"`
	Day          time.Time `json:"day"           db:"day"` // truncated to UTC calendar day
	Attempts     int64     `json:"attempts"      db:"attempts"`
	OKCount      int64     `json:"okCount"       db:"ok_count"`
	BlockedCount int64     `json:"blockedCount"  db:"blocked_count"`
	EmptyCount   int64     `json:"emptyCount"    db:"empty_count"`
	TimeoutCount int64     `json:"timeoutCount"  db:"timeout_count"`
	CostUSD      float64   `json:"costUsd"       db:"cost_usd"`
	LatencySumMs int64     `json:"latencySumMs"  db:"latency_sum_ms"`
}

// AvgLatencyMs computes the average attempt latency from the running sum/count.
func (d DomainStats) AvgLatencyMs() float64 {
	if d.Attempts == 0 {
		return 0
	}
	return float64(d.LatencySumMs) / float64(d.Attempts)
}
