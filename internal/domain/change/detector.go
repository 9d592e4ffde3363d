// Package change implements the Change Detector (C2): given the previous and
// new normalized values for a rule, it decides whether anything alert-worthy
// happened and produces a human-readable diff summary.
package change

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/target/mmk-ui-api/internal/domain/model"
)

// Result is what the Run Handler persists onto the Observation and uses to
// decide whether the condition evaluator should run at all.
type Result struct {
	ChangeKind  model.ChangeKind
	DiffSummary string
}

// Detect compares oldValue to newValue for a rule of the given type and
// returns the change classification. oldValue is nil on the first observation
// for a rule.
func Detect(oldValue, newValue *model.NormalizedValue, ruleType model.RuleType) Result {
	if oldValue.IsNull() {
		return Result{ChangeKind: model.ChangeKindNewValue, DiffSummary: "initial value recorded"}
	}
	if newValue.IsNull() {
		return Result{ChangeKind: model.ChangeKindValueDisappeared, DiffSummary: "value no longer present"}
	}

	switch ruleType {
	case model.RuleTypePrice:
		return detectPrice(oldValue.PriceValue, newValue.PriceValue)
	case model.RuleTypeAvailability:
		return detectAvailability(oldValue.Availability, newValue.Availability)
	case model.RuleTypeNumber:
		return detectNumber(oldValue.NumberValue, newValue.NumberValue)
	case model.RuleTypeText:
		return detectText(oldValue.TextValue, newValue.TextValue)
	case model.RuleTypeJSONField:
		return detectJSONField(oldValue.JSONValue, newValue.JSONValue)
	default:
		return Result{}
	}
}

func priceLow(p *model.PriceValue) (float64, bool) {
	if p == nil {
		return 0, false
	}
	if p.ValueLow != 0 {
		return p.ValueLow, true
	}
	if p.Value != nil {
		return *p.Value, true
	}
	return p.ValueLow, true
}

func detectPrice(oldP, newP *model.PriceValue) Result {
	if oldP == nil || newP == nil {
		return Result{ChangeKind: model.ChangeKindFormatChanged, DiffSummary: "price value missing on one side"}
	}

	// (a) currency flip is always alert-worthy regardless of magnitude.
	if oldP.Currency != "" && newP.Currency != "" && oldP.Currency != newP.Currency {
		return Result{
			ChangeKind:  model.ChangeKindFormatChanged,
			DiffSummary: fmt.Sprintf("currency changed from %s to %s", oldP.Currency, newP.Currency),
		}
	}

	oldLow, oldOK := priceLow(oldP)
	newLow, newOK := priceLow(newP)
	if !oldOK || !newOK || math.IsNaN(oldLow) || math.IsNaN(newLow) {
		return Result{ChangeKind: model.ChangeKindFormatChanged, DiffSummary: "price value is not numeric"}
	}

	highDiffers := priceHighDiffers(oldP.ValueHigh, newP.ValueHigh)

	if newLow != oldLow {
		direction := "increased"
		if newLow < oldLow {
			direction = "decreased"
		}
		var percent float64
		if oldLow != 0 {
			percent = math.Abs(newLow-oldLow) / math.Abs(oldLow) * 100
		}
		summary := fmt.Sprintf("price %s from %.2f to %.2f (%.1f%%)", direction, oldLow, newLow, percent)
		if highDiffers {
			summary += " [range also changed]"
		}
		return Result{ChangeKind: model.ChangeKindValueChanged, DiffSummary: summary}
	}

	if highDiffers {
		return Result{ChangeKind: "", DiffSummary: "price range upper bound changed, low unchanged"}
	}

	return Result{}
}

func priceHighDiffers(oldHigh, newHigh *float64) bool {
	if oldHigh == nil && newHigh == nil {
		return false
	}
	if oldHigh == nil || newHigh == nil {
		return true
	}
	return *oldHigh != *newHigh
}

func detectAvailability(oldA, newA *model.AvailabilityValue) Result {
	if oldA == nil || newA == nil {
		return Result{ChangeKind: model.ChangeKindFormatChanged, DiffSummary: "availability value missing on one side"}
	}
	statusChanged := oldA.Status != newA.Status
	leadChanged := leadTimeDiffers(oldA.LeadTimeDays, newA.LeadTimeDays)
	if !statusChanged && !leadChanged {
		return Result{}
	}
	summary := fmt.Sprintf("availability changed from %q to %q", oldA.Status, newA.Status)
	if leadChanged {
		summary += fmt.Sprintf(", lead time %s to %s", formatLeadTime(oldA.LeadTimeDays), formatLeadTime(newA.LeadTimeDays))
	}
	return Result{ChangeKind: model.ChangeKindValueChanged, DiffSummary: summary}
}

func leadTimeDiffers(a, b *int) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil || b == nil {
		return true
	}
	return *a != *b
}

func formatLeadTime(d *int) string {
	if d == nil {
		return "unknown"
	}
	return fmt.Sprintf("%dd", *d)
}

func detectNumber(oldN, newN *float64) Result {
	if oldN == nil || newN == nil || math.IsNaN(*oldN) || math.IsNaN(*newN) {
		return Result{ChangeKind: model.ChangeKindFormatChanged, DiffSummary: "number value is not numeric"}
	}
	delta := *newN - *oldN
	if delta == 0 {
		return Result{}
	}
	var percent float64
	if *oldN != 0 {
		percent = math.Abs(delta) / math.Abs(*oldN) * 100
	}
	return Result{
		ChangeKind:  model.ChangeKindValueChanged,
		DiffSummary: fmt.Sprintf("number changed from %v to %v (%.1f%%)", *oldN, *newN, percent),
	}
}

func detectText(oldT, newT *model.TextValue) Result {
	if oldT == nil || newT == nil {
		return Result{ChangeKind: model.ChangeKindFormatChanged, DiffSummary: "text value missing on one side"}
	}
	if oldT.Snippet == newT.Snippet {
		return Result{}
	}
	delta := wordCount(newT.Snippet) - wordCount(oldT.Snippet)
	return Result{
		ChangeKind:  model.ChangeKindValueChanged,
		DiffSummary: fmt.Sprintf("text changed (%+d words): %s", delta, preview(newT.Snippet, 50)),
	}
}

func wordCount(s string) int {
	count := 0
	inWord := false
	for _, r := range s {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		if !isSpace && !inWord {
			count++
			inWord = true
		} else if isSpace {
			inWord = false
		}
	}
	return count
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func detectJSONField(oldJSON, newJSON json.RawMessage) Result {
	oldStr := string(oldJSON)
	newStr := string(newJSON)
	if oldStr == newStr {
		return Result{}
	}
	return Result{
		ChangeKind:  model.ChangeKindValueChanged,
		DiffSummary: fmt.Sprintf("json field changed: %s -> %s", preview(oldStr, 80), preview(newStr, 80)),
	}
}
