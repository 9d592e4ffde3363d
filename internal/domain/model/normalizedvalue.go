//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import "encoding/json"

// NormalizedValueKind tags the NormalizedValue variant.
type NormalizedValueKind string

const (
	ValueKindPrice        NormalizedValueKind = "price"
	ValueKindAvailability NormalizedValueKind = "availability"
	ValueKindNumber       NormalizedValueKind = "number"
	ValueKindText         NormalizedValueKind = "text"
	ValueKindJSON         NormalizedValueKind = "json"
)

// NormalizedValue is the typed tagged union the extractor boundary produces
// and the change detector dispatches on. Exactly one of the *Value fields is
// populated, matching Kind.
type NormalizedValue struct {
	Kind         NormalizedValueKind `json:"kind"`
	PriceValue   *PriceValue         `json:"price,omitempty"`
	Availability *AvailabilityValue  `json:"availability,omitempty"`
	NumberValue  *float64            `json:"number,omitempty"`
	TextValue    *TextValue          `json:"text,omitempty"`
	JSONValue    json.RawMessage     `json:"json,omitempty"`
}

// PriceValue mirrors the source's duck-typed price shape: value?.valueLow ?? value?.value ?? value.
type PriceValue struct {
	ValueLow  float64  `json:"valueLow"`
	ValueHigh *float64 `json:"valueHigh,omitempty"`
	Currency  string   `json:"currency"`
	Value     *float64 `json:"value,omitempty"`
}

// AvailabilityValue carries in-stock/out-of-stock plus an optional lead time.
type AvailabilityValue struct {
	Status        string `json:"status"`
	LeadTimeDays  *int   `json:"leadTimeDays,omitempty"`
}

// TextValue carries a free-text snippet extracted from the page.
type TextValue struct {
	Snippet string `json:"snippet"`
}

// IsNull reports whether this is the zero value, i.e. extraction yielded nothing.
func (v *NormalizedValue) IsNull() bool {
	return v == nil || v.Kind == ""
}

// StableJSON serializes the value with encoding/json for use in the dedupe key
// hash. Struct fields are emitted in declaration order; a JSONValue payload is
// emitted as stored, so its object keys are not re-sorted.
func (v *NormalizedValue) StableJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}
