// Package conditions implements the condition evaluator: given a rule's
// configured alert conditions and a fresh (and, where needed, prior)
// normalized value, it decides which conditions fired.
package conditions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmespath-community/go-jmespath/pkg/api"

	"github.com/target/mmk-ui-api/internal/domain/alert"
	"github.com/target/mmk-ui-api/internal/domain/model"
)

// Evaluate returns the subset of rule.Conditions that fired for newValue,
// consulting oldValue for diff-relative condition types. Diff-relative
// conditions (price_drop_percent, price_rise_percent, number_delta_percent,
// text_changed) never fire when oldValue is nil: there is nothing to diff
// against on a rule's first observation.
func Evaluate(rule *model.Rule, newValue *model.NormalizedValue, oldValue *model.NormalizedValue) []alert.FiredCondition {
	var fired []alert.FiredCondition
	for _, cond := range rule.Conditions {
		ok, err := evaluateOne(cond, newValue, oldValue)
		if err != nil {
			continue // a malformed condition value never fires; it is not a fetch failure
		}
		if ok {
			fired = append(fired, alert.FiredCondition{ID: cond.ID, Type: cond.Type, Severity: cond.Severity})
		}
	}
	return fired
}

func evaluateOne(cond model.AlertCondition, newValue, oldValue *model.NormalizedValue) (bool, error) {
	switch cond.Type {
	case model.ConditionPriceBelow:
		return priceCompare(newValue, cond.Value, func(v, threshold float64) bool { return v < threshold })
	case model.ConditionPriceAbove:
		return priceCompare(newValue, cond.Value, func(v, threshold float64) bool { return v > threshold })
	case model.ConditionPriceDropPercent:
		return pricePercentChange(newValue, oldValue, cond.Value, func(pct, threshold float64) bool { return pct <= -threshold })
	case model.ConditionPriceRisePercent:
		return pricePercentChange(newValue, oldValue, cond.Value, func(pct, threshold float64) bool { return pct >= threshold })
	case model.ConditionAvailabilityEquals:
		return availabilityEquals(newValue, cond.Value)
	case model.ConditionNumberBelow:
		return numberCompare(newValue, cond.Value, func(v, threshold float64) bool { return v < threshold })
	case model.ConditionNumberAbove:
		return numberCompare(newValue, cond.Value, func(v, threshold float64) bool { return v > threshold })
	case model.ConditionNumberDeltaPercent:
		return numberPercentChange(newValue, oldValue, cond.Value)
	case model.ConditionTextContains:
		return textContains(newValue, cond.Value)
	case model.ConditionTextChanged:
		return textChanged(newValue, oldValue)
	case model.ConditionJSONFieldEquals:
		return jsonFieldEquals(newValue, cond.Value)
	case model.ConditionJSONFieldMatches:
		return jsonFieldMatches(newValue, cond.Value)
	default:
		return false, fmt.Errorf("unknown condition type %q", cond.Type)
	}
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func priceLow(v *model.NormalizedValue) (float64, bool) {
	if v == nil || v.Kind != model.ValueKindPrice || v.PriceValue == nil {
		return 0, false
	}
	if v.PriceValue.Value != nil {
		return *v.PriceValue.Value, true
	}
	return v.PriceValue.ValueLow, true
}

func priceCompare(newValue *model.NormalizedValue, rawThreshold any, cmp func(v, threshold float64) bool) (bool, error) {
	threshold, ok := asFloat64(rawThreshold)
	if !ok {
		return false, fmt.Errorf("condition value is not numeric: %v", rawThreshold)
	}
	v, ok := priceLow(newValue)
	if !ok {
		return false, nil
	}
	return cmp(v, threshold), nil
}

func pricePercentChange(newValue, oldValue *model.NormalizedValue, rawThreshold any, cmp func(pct, threshold float64) bool) (bool, error) {
	if oldValue == nil {
		return false, nil
	}
	threshold, ok := asFloat64(rawThreshold)
	if !ok {
		return false, fmt.Errorf("condition value is not numeric: %v", rawThreshold)
	}
	oldV, ok := priceLow(oldValue)
	if !ok || oldV == 0 {
		return false, nil
	}
	newV, ok := priceLow(newValue)
	if !ok {
		return false, nil
	}
	pct := (newV - oldV) / oldV * 100
	return cmp(pct, threshold), nil
}

func availabilityEquals(newValue *model.NormalizedValue, rawExpected any) (bool, error) {
	expected, ok := rawExpected.(string)
	if !ok {
		return false, fmt.Errorf("condition value is not a string: %v", rawExpected)
	}
	if newValue == nil || newValue.Kind != model.ValueKindAvailability || newValue.Availability == nil {
		return false, nil
	}
	return strings.EqualFold(newValue.Availability.Status, expected), nil
}

func numberCompare(newValue *model.NormalizedValue, rawThreshold any, cmp func(v, threshold float64) bool) (bool, error) {
	threshold, ok := asFloat64(rawThreshold)
	if !ok {
		return false, fmt.Errorf("condition value is not numeric: %v", rawThreshold)
	}
	if newValue == nil || newValue.Kind != model.ValueKindNumber || newValue.NumberValue == nil {
		return false, nil
	}
	return cmp(*newValue.NumberValue, threshold), nil
}

func numberPercentChange(newValue, oldValue *model.NormalizedValue, rawThreshold any) (bool, error) {
	if oldValue == nil {
		return false, nil
	}
	threshold, ok := asFloat64(rawThreshold)
	if !ok {
		return false, fmt.Errorf("condition value is not numeric: %v", rawThreshold)
	}
	if oldValue.Kind != model.ValueKindNumber || oldValue.NumberValue == nil ||
		newValue == nil || newValue.Kind != model.ValueKindNumber || newValue.NumberValue == nil {
		return false, nil
	}
	oldV := *oldValue.NumberValue
	if oldV == 0 {
		return false, nil
	}
	pct := (*newValue.NumberValue - oldV) / oldV * 100
	return pct <= -threshold || pct >= threshold, nil
}

func textContains(newValue *model.NormalizedValue, rawSubstring any) (bool, error) {
	substring, ok := rawSubstring.(string)
	if !ok {
		return false, fmt.Errorf("condition value is not a string: %v", rawSubstring)
	}
	if newValue == nil || newValue.Kind != model.ValueKindText || newValue.TextValue == nil {
		return false, nil
	}
	return strings.Contains(strings.ToLower(newValue.TextValue.Snippet), strings.ToLower(substring)), nil
}

func textChanged(newValue, oldValue *model.NormalizedValue) (bool, error) {
	if oldValue == nil || newValue == nil {
		return false, nil
	}
	if oldValue.Kind != model.ValueKindText || oldValue.TextValue == nil ||
		newValue.Kind != model.ValueKindText || newValue.TextValue == nil {
		return false, nil
	}
	return oldValue.TextValue.Snippet != newValue.TextValue.Snippet, nil
}

// jsonFieldEquals expects cond.Value shaped as {"path": "<jmespath expr>", "value": <expected>}.
func jsonFieldEquals(newValue *model.NormalizedValue, rawSpec any) (bool, error) {
	spec, ok := rawSpec.(map[string]any)
	if !ok {
		return false, fmt.Errorf("condition value is not an object: %v", rawSpec)
	}
	path, _ := spec["path"].(string)
	if path == "" {
		return false, fmt.Errorf("condition value missing string %q field", "path")
	}
	if newValue == nil || newValue.Kind != model.ValueKindJSON || len(newValue.JSONValue) == 0 {
		return false, nil
	}
	result, err := queryJSON(newValue.JSONValue, path)
	if err != nil {
		return false, err
	}
	return jsonEqual(result, spec["value"]), nil
}

// jsonFieldMatches treats cond.Value as a JMESPath boolean expression,
// evaluated against the normalized JSON value; it fires when the expression
// evaluates to a truthy (non-nil, non-false) result.
func jsonFieldMatches(newValue *model.NormalizedValue, rawExpr any) (bool, error) {
	expr, ok := rawExpr.(string)
	if !ok {
		return false, fmt.Errorf("condition value is not a string: %v", rawExpr)
	}
	if newValue == nil || newValue.Kind != model.ValueKindJSON || len(newValue.JSONValue) == 0 {
		return false, nil
	}
	result, err := queryJSON(newValue.JSONValue, expr)
	if err != nil {
		return false, err
	}
	return isTruthy(result), nil
}

func queryJSON(raw json.RawMessage, expr string) (any, error) {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode normalized json value: %w", err)
	}
	result, err := api.Search(expr, data)
	if err != nil {
		return nil, fmt.Errorf("evaluate jmespath expression %q: %w", expr, err)
	}
	return result, nil
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func jsonEqual(a, b any) bool {
	af, aok := asFloat64(a)
	bf, bok := asFloat64(b)
	if aok && bok {
		return af == bf
	}
	aj, err1 := json.Marshal(a)
	bj, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(aj) == string(bj)
}
