//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"time"
)

// ChangeKind classifies how a normalized value changed between two observations.
type ChangeKind string

const (
	ChangeKindNewValue         ChangeKind = "new_value"
	ChangeKindValueDisappeared ChangeKind = "value_disappeared"
	ChangeKindValueChanged     ChangeKind = "value_changed"
	ChangeKindFormatChanged    ChangeKind = "format_changed"
)

// Alert is written by the Run Handler when the Dedupe Gate allows it.
// Invariant: DedupeKey is unique across all Alerts.
type Alert struct {
	ID            string      `json:"id"            db:"id"`
	DedupeKey     string      `json:"dedupeKey"     db:"dedupe_key"`
	RuleID        string      `json:"ruleId"        db:"rule_id"`
	WorkspaceID   string      `json:"workspaceId"   db:"workspace_id"`
	Severity      Severity    `json:"severity"      db:"severity"`
	Title         string      `json:"title"         db:"title"`
	Body          string      `json:"body"          db:"body"`
	TriggeredAt   time.Time   `json:"triggeredAt"   db:"triggered_at"`
	CurrentValue  []byte      `json:"currentValue"  db:"current_value"`
	PreviousValue []byte      `json:"previousValue,omitempty" db:"previous_value"`
	ChangeKind    ChangeKind  `json:"changeKind,omitempty"    db:"change_kind"`
	DiffSummary   string      `json:"diffSummary,omitempty"   db:"diff_summary"`
	Channels      []string    `json:"channels"      db:"channels"`
	CreatedAt     time.Time   `json:"createdAt"     db:"created_at"`
}

// Validate performs minimal sanity checks before persistence.
func (a *Alert) Validate() error {
	if a.DedupeKey == "" {
		return errors.New("dedupe_key is required")
	}
	if a.RuleID == "" {
		return errors.New("rule_id is required")
	}
	if a.WorkspaceID == "" {
		return errors.New("workspace_id is required")
	}
	if a.Title == "" {
		return errors.New("title is required")
	}
	return nil
}

// AlertListOptions filters an Alert listing.
type AlertListOptions struct {
	WorkspaceID *string
	RuleID      *string
	Severity    *Severity
	Limit       int
	Offset      int
}
