//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

// TokenBucket is the per (provider, hostname) rate-limiter state, idle-TTL'd
// at 1 hour. Invariant: Tokens is always within [0, maxTokens] for the
// bucket's configured burst.
type TokenBucket struct {
	Tokens     float64 `json:"tokens"`
	LastRefill int64   `json:"lastRefill"` // ms epoch
}

// RateLimitConfig is the per-provider-class (or per-hostname override) bucket policy.
type RateLimitConfig struct {
	RefillPerSecond float64
	Burst           float64
}
