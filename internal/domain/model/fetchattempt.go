//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import "time"

// Outcome is the terminal classification of a fetch attempt.
type Outcome string

const (
	OutcomeOK                   Outcome = "ok"
	OutcomeEmpty                Outcome = "empty"
	OutcomeBlocked              Outcome = "blocked"
	OutcomeCaptchaRequired      Outcome = "captcha_required"
	OutcomeRateLimited          Outcome = "rate_limited"
	OutcomeTimeout              Outcome = "timeout"
	OutcomeNetworkError         Outcome = "network_error"
	OutcomeProviderError        Outcome = "provider_error"
	OutcomePreferredUnavailable Outcome = "preferred_unavailable"
	OutcomeInterstitialGeo      Outcome = "interstitial_geo"
)

// BlockKind is the sub-classification of a blocked or captcha_required outcome.
type BlockKind string

const (
	BlockKindDataDome     BlockKind = "datadome"
	BlockKindCloudflare   BlockKind = "cloudflare"
	BlockKindPerimeterX   BlockKind = "perimeterx"
	BlockKindCaptcha      BlockKind = "captcha"
	BlockKindRateLimit    BlockKind = "rate_limit"
	BlockKindUnknown      BlockKind = "unknown"
)

// FetchAttempt is the append-only ledger row written by the Attempt Logger
// for every provider invocation, including synthesized skipped attempts.
// Invariant: exactly one row per executed provider attempt per run.
type FetchAttempt struct {
	ID            string    `json:"id"            db:"id"`
	WorkspaceID   string    `json:"workspaceId"   db:"workspace_id"`
	RuleID        string    `json:"ruleId"        db:"rule_id"`
	URL           string    `json:"url"           db:"url"`
	Hostname      string    `json:"hostname"      db:"hostname"`
	Provider      string    `json:"provider"      db:"provider"`
	Outcome       Outcome   `json:"outcome"       db:"outcome"`
	BlockKind     BlockKind `json:"blockKind,omitempty" db:"block_kind"`
	HTTPStatus    int       `json:"httpStatus,omitempty" db:"http_status"`
	FinalURL      string    `json:"finalUrl,omitempty"   db:"final_url"`
	BodyBytes     int       `json:"bodyBytes"            db:"body_bytes"`
	ContentType   string    `json:"contentType,omitempty" db:"content_type"`
	LatencyMs     int64     `json:"latencyMs"            db:"latency_ms"`
	Signals       []string  `json:"signals,omitempty"     db:"signals"`
	ErrorDetail   string    `json:"errorDetail,omitempty" db:"error_detail"`
	CostUSD       float64   `json:"costUsd"               db:"cost_usd"`
	CostUnits     float64   `json:"costUnits,omitempty"   db:"cost_units"`
	RawSample     []byte    `json:"rawSample,omitempty"   db:"raw_sample"`
	CreatedAt     time.Time `json:"createdAt"             db:"created_at"`
}

// MaxRawSampleBytes is the cap on the debugging raw-sample stored for problem outcomes.
const MaxRawSampleBytes = 50 * 1024

// IsFailureForCircuitBreaker reports whether this outcome counts as a circuit
// breaker failure. ok, rate_limited, preferred_unavailable, and
// interstitial_geo never count; unknown outcomes are treated as non-failures.
func (o Outcome) IsFailureForCircuitBreaker() bool {
	switch o {
	case OutcomeBlocked, OutcomeCaptchaRequired, OutcomeEmpty, OutcomeTimeout,
		OutcomeProviderError, OutcomeNetworkError:
		return true
	default:
		return false
	}
}
