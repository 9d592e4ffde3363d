//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"time"
)

// RuleType is the kind of value a rule monitors.
type RuleType string

const (
	RuleTypePrice        RuleType = "price"
	RuleTypeAvailability RuleType = "availability"
	RuleTypeNumber       RuleType = "number"
	RuleTypeText         RuleType = "text"
	RuleTypeJSONField    RuleType = "json_field"
)

// Valid returns true if the rule type is one of the supported monitor kinds.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypePrice, RuleTypeAvailability, RuleTypeNumber, RuleTypeText, RuleTypeJSONField:
		return true
	default:
		return false
	}
}

// ConditionType enumerates the built-in alert condition kinds a rule can bind.
type ConditionType string

const (
	ConditionPriceBelow         ConditionType = "price_below"
	ConditionPriceAbove         ConditionType = "price_above"
	ConditionPriceDropPercent   ConditionType = "price_drop_percent"
	ConditionPriceRisePercent   ConditionType = "price_rise_percent"
	ConditionAvailabilityEquals ConditionType = "availability_equals"
	ConditionNumberBelow        ConditionType = "number_below"
	ConditionNumberAbove        ConditionType = "number_above"
	ConditionNumberDeltaPercent ConditionType = "number_delta_percent"
	ConditionTextContains       ConditionType = "text_contains"
	ConditionTextChanged        ConditionType = "text_changed"
	ConditionJSONFieldEquals    ConditionType = "json_field_equals"
	ConditionJSONFieldMatches   ConditionType = "json_field_matches"
)

// Severity is an alert severity. The total order is critical > warning > info.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// HigherSeverity returns whichever of a, b ranks higher in critical > warning > info.
func HigherSeverity(a, b Severity) Severity {
	if a.rank() >= b.rank() {
		return a
	}
	return b
}

// AlertCondition is a single user-defined trigger bound to a rule.
type AlertCondition struct {
	ID       string        `json:"id"`
	Type     ConditionType `json:"type"`
	Value    any           `json:"value"`
	Severity Severity      `json:"severity"`
}

// FetchProfile carries the per-rule fetch policy consumed by the orchestrator.
type FetchProfile struct {
	PreferredProvider         string            `json:"preferredProvider,omitempty"`
	DisabledProviders         []string          `json:"disabledProviders,omitempty"`
	StopAfterPreferredFailure bool              `json:"stopAfterPreferredFailure"`
	GeoCountry                string            `json:"geoCountry,omitempty"`
	TimeoutMs                int               `json:"timeoutMs"`
	Headers                   map[string]string `json:"headers,omitempty"`
	UserAgent                 string            `json:"userAgent,omitempty"`
	RenderWaitMs              int               `json:"renderWaitMs,omitempty"`
}

// ExtractionSpec is opaque to the core: it is handed verbatim to the extractor boundary.
type ExtractionSpec struct {
	Selector          string   `json:"selector"`
	Attribute         string   `json:"attribute,omitempty"`
	FallbackSelectors []string `json:"fallbackSelectors,omitempty"`
	Fingerprint       string   `json:"fingerprint,omitempty"`
}

// Rule is a tenant-defined monitor: URL + extraction spec + conditions + schedule.
// Rules are created externally; the core only reads them.
type Rule struct {
	ID              string           `json:"id"              db:"id"`
	WorkspaceID     string           `json:"workspaceId"     db:"workspace_id"`
	Name            string           `json:"name"            db:"name"`
	RuleType        RuleType         `json:"ruleType"        db:"rule_type"`
	SourceURL       string           `json:"sourceUrl"       db:"source_url"`
	Extraction      ExtractionSpec   `json:"extraction"      db:"extraction"`
	FetchProfile    FetchProfile     `json:"fetchProfile"    db:"fetch_profile"`
	Conditions      []AlertCondition `json:"conditions"      db:"conditions"`
	CooldownSeconds int              `json:"cooldownSeconds" db:"cooldown_seconds"`
	Channels        []string         `json:"channels"        db:"channels"`
	Tier            string           `json:"tier,omitempty"  db:"tier"`
	Enabled         bool             `json:"enabled"         db:"enabled"`
	CreatedAt       time.Time        `json:"createdAt"       db:"created_at"`
	UpdatedAt       time.Time        `json:"updatedAt"       db:"updated_at"`
}

// RuleHealth is a read model tracking the recent fetch/extraction health of a rule.
// Upserted by the Run Handler alongside Observation writes.
type RuleHealth struct {
	RuleID              string     `json:"ruleId"              db:"rule_id"`
	ConsecutiveFailures int        `json:"consecutiveFailures" db:"consecutive_failures"`
	LastFailureOutcome  string     `json:"lastFailureOutcome,omitempty" db:"last_failure_outcome"`
	LastErrorClass      string     `json:"lastErrorClass,omitempty"     db:"last_error_class"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"      db:"last_success_at"`
	UpdatedAt           time.Time  `json:"updatedAt"                    db:"updated_at"`
}
