package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/target/mmk-ui-api/internal/domain/model"
)

// FiredCondition is one condition the evaluator determined fired for a run.
type FiredCondition struct {
	ID       string
	Type     model.ConditionType
	Severity model.Severity
}

// dedupeKeyHexLen is the truncation length of the canonical dedupe key.
const dedupeKeyHexLen = 16

// DedupeKey computes the canonical dedupe key:
// sha256(ruleId | sortedConditionTypes | stableJSON(normalizedValue) | floor(now/300s)),
// truncated to 16 hex characters. The 5-minute bucket collapses repeats
// within a window while keeping alerts in distinct windows distinct.
func DedupeKey(ruleID string, fired []FiredCondition, value *model.NormalizedValue, now time.Time) (string, error) {
	types := make([]string, 0, len(fired))
	for _, f := range fired {
		types = append(types, string(f.Type))
	}
	sort.Strings(types)

	stableValue, err := stableJSON(value)
	if err != nil {
		return "", fmt.Errorf("marshal normalized value for dedupe key: %w", err)
	}

	bucket := now.Unix() / 300
	raw := fmt.Sprintf("%s|%s|%s|%d", ruleID, strings.Join(types, ","), stableValue, bucket)

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:dedupeKeyHexLen], nil
}

// stableJSON marshals v with map keys (there are none in NormalizedValue, but
// json.RawMessage fields may themselves contain unordered objects) using the
// stdlib's deterministic struct-field-order encoding. For the JSONValue case
// (a raw object from the extractor) we round-trip through a generic map so
// object keys come out sorted, matching encoding/json's own map key
// ordering guarantee.
func stableJSON(v *model.NormalizedValue) (string, error) {
	if v == nil || v.Kind == "" {
		return "null", nil
	}
	normalized := *v
	if len(normalized.JSONValue) > 0 {
		var generic any
		if err := json.Unmarshal(normalized.JSONValue, &generic); err != nil {
			return "", err
		}
		canonical, err := json.Marshal(generic)
		if err != nil {
			return "", err
		}
		normalized.JSONValue = canonical
	}
	b, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Generator composes the Alert record (C10): title, body, severity rollup.
type Generator struct {
	now func() time.Time
}

// NewGenerator builds a Generator. now defaults to time.Now.
func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

// Input bundles everything the generator needs to compose one Alert.
type Input struct {
	Rule        *model.Rule
	Fired       []FiredCondition
	NewValue    *model.NormalizedValue
	OldValue    *model.NormalizedValue
	ChangeKind  model.ChangeKind
	DiffSummary string
	DedupeKey   string
	Channels    []string
}

// Generate builds the Alert ready for persistence. Callers are expected to
// have already computed DedupeKey and consulted the Dedupe Gate.
func (g *Generator) Generate(in Input) (*model.Alert, error) {
	severity := rollupSeverity(in.Fired)
	title := titleFor(in.Rule, in.Fired)
	body, err := bodyFor(in, severity, g.now())
	if err != nil {
		return nil, err
	}

	currentValue, err := json.Marshal(in.NewValue)
	if err != nil {
		return nil, fmt.Errorf("marshal current value: %w", err)
	}
	var previousValue []byte
	if in.OldValue != nil {
		previousValue, err = json.Marshal(in.OldValue)
		if err != nil {
			return nil, fmt.Errorf("marshal previous value: %w", err)
		}
	}

	return &model.Alert{
		DedupeKey:     in.DedupeKey,
		RuleID:        in.Rule.ID,
		WorkspaceID:   in.Rule.WorkspaceID,
		Severity:      severity,
		Title:         title,
		Body:          body,
		TriggeredAt:   g.now(),
		CurrentValue:  currentValue,
		PreviousValue: previousValue,
		ChangeKind:    in.ChangeKind,
		DiffSummary:   in.DiffSummary,
		Channels:      in.Channels,
	}, nil
}

func rollupSeverity(fired []FiredCondition) model.Severity {
	severity := model.SeverityInfo
	for _, f := range fired {
		severity = model.HigherSeverity(severity, f.Severity)
	}
	return severity
}

// titleFor picks a short phrase keyed on the primary (first-fired) condition type.
func titleFor(rule *model.Rule, fired []FiredCondition) string {
	if len(fired) == 0 {
		return fmt.Sprintf("%s changed", rule.Name)
	}
	switch fired[0].Type {
	case model.ConditionPriceBelow:
		return fmt.Sprintf("%s price dropped below threshold", rule.Name)
	case model.ConditionPriceAbove:
		return fmt.Sprintf("%s price rose above threshold", rule.Name)
	case model.ConditionPriceDropPercent:
		return fmt.Sprintf("%s price dropped", rule.Name)
	case model.ConditionPriceRisePercent:
		return fmt.Sprintf("%s price increased", rule.Name)
	case model.ConditionAvailabilityEquals:
		return fmt.Sprintf("%s availability changed", rule.Name)
	case model.ConditionNumberBelow, model.ConditionNumberAbove, model.ConditionNumberDeltaPercent:
		return fmt.Sprintf("%s value threshold crossed", rule.Name)
	case model.ConditionTextContains, model.ConditionTextChanged:
		return fmt.Sprintf("%s text changed", rule.Name)
	case model.ConditionJSONFieldEquals, model.ConditionJSONFieldMatches:
		return fmt.Sprintf("%s field matched", rule.Name)
	default:
		return fmt.Sprintf("%s changed", rule.Name)
	}
}

func bodyFor(in Input, severity model.Severity, now time.Time) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Rule: %s\n", in.Rule.Name)
	fmt.Fprintf(&b, "URL: %s\n", in.Rule.SourceURL)
	if in.DiffSummary != "" {
		fmt.Fprintf(&b, "Change: %s\n", in.DiffSummary)
	}
	currentFormatted, err := FormatValue(in.NewValue)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "Current value: %s\n", currentFormatted)
	b.WriteString("Conditions triggered:\n")
	for _, f := range in.Fired {
		fmt.Fprintf(&b, "  - %s (%s)\n", f.Type, f.Severity)
	}
	fmt.Fprintf(&b, "Severity: %s\n", severity)
	fmt.Fprintf(&b, "Timestamp: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Rule ID: %s\n", in.Rule.ID)
	return b.String(), nil
}

// FormatValue renders a NormalizedValue as a short human-readable string for
// alert bodies and logs.
func FormatValue(v *model.NormalizedValue) (string, error) {
	if v == nil || v.Kind == "" {
		return "(none)", nil
	}
	switch v.Kind {
	case model.ValueKindPrice:
		if v.PriceValue == nil {
			return "(none)", nil
		}
		if v.PriceValue.ValueHigh != nil {
			return fmt.Sprintf("%.2f-%.2f %s", v.PriceValue.ValueLow, *v.PriceValue.ValueHigh, v.PriceValue.Currency), nil
		}
		return fmt.Sprintf("%.2f %s", v.PriceValue.ValueLow, v.PriceValue.Currency), nil
	case model.ValueKindAvailability:
		if v.Availability == nil {
			return "(none)", nil
		}
		if v.Availability.LeadTimeDays != nil {
			return fmt.Sprintf("%s (lead time: %dd)", v.Availability.Status, *v.Availability.LeadTimeDays), nil
		}
		return v.Availability.Status, nil
	case model.ValueKindNumber:
		if v.NumberValue == nil {
			return "(none)", nil
		}
		return fmt.Sprintf("%g", *v.NumberValue), nil
	case model.ValueKindText:
		if v.TextValue == nil {
			return "(none)", nil
		}
		return v.TextValue.Snippet, nil
	case model.ValueKindJSON:
		return string(v.JSONValue), nil
	default:
		return "(none)", nil
	}
}
