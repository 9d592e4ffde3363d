package ports

import (
	"context"

	"github.com/target/mmk-ui-api/internal/domain/model"
)

// ExtractRequest is the extractor boundary's input per spec.md §6.
type ExtractRequest struct {
	HTML           string
	ExtractionSpec model.ExtractionSpec
	// Country is the geo-context the provider actually used (propagated
	// from the successful fetch attempt), needed for currency-stable price
	// normalization.
	Country string
}

// ExtractResult is the extractor boundary's output. ExtractionError set
// means NormalizedValue must be nil; the Run Handler treats either a
// non-nil error or a nil value as "extraction failed", never updating the
// observation.
type ExtractResult struct {
	NormalizedValue *model.NormalizedValue
	ExtractionError string
}

// Extractor turns raw HTML into a rule-type-specific normalized value. Real
// HTML/selector/headless-browser extraction is out of scope for this
// module; only the interface and a test double are provided.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (ExtractResult, error)
}

// NullExtractor always reports an extraction error. It stands in for the
// out-of-scope real extractor in tests and default wiring.
type NullExtractor struct {
	Reason string
}

// NewNullExtractor builds a NullExtractor with the given reason, defaulting
// to a generic "not implemented" message.
func NewNullExtractor(reason string) *NullExtractor {
	if reason == "" {
		reason = "extractor not implemented"
	}
	return &NullExtractor{Reason: reason}
}

func (e *NullExtractor) Extract(ctx context.Context, req ExtractRequest) (ExtractResult, error) {
	return ExtractResult{ExtractionError: e.Reason}, nil
}
