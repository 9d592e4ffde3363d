// Package ports holds the interfaces the core pipeline calls through but
// does not implement: provider fetch backends, HTML/value extraction, and
// outbound notification delivery. Each interface carries exactly the
// external contract named in spec.md §6; only the adapters the spec
// describes in enough wire-level detail to be real (the plain HTTP
// provider, the email and webhook notification adapters) have concrete
// implementations here. Everything else (headless browsers, BrightData,
// 2captcha, real HTML extraction) is out of scope and left to the caller to
// wire in.
package ports

import "context"

// FetchRequest is what the Fetch Orchestrator (C8) hands to a Provider for
// one candidate attempt.
type FetchRequest struct {
	URL                     string
	Hostname                string
	Headers                 map[string]string
	UserAgent               string
	TimeoutMs               int
	RenderWaitMs            int
	FlareSolverrWaitSeconds int
	GeoCountry              string
}

// FetchResult is the raw material a Provider hands back for classification
// by C1. ErrorDetail set (non-empty) represents a transport-level failure;
// otherwise HTTPStatus/Body/ContentType describe a completed round trip.
type FetchResult struct {
	HTTPStatus  int
	Body        string
	ContentType string
	FinalURL    string
	ErrorDetail string
	// Country is the geo-context actually used to serve the request (set by
	// geo-aware providers like BrightData); propagated to the extractor for
	// currency-stable normalization.
	Country   string
	CostUSD   float64
	CostUnits float64
}

// Provider is the seam the orchestrator calls through for each candidate in
// its ordering. Implementations may return a non-nil error for unexpected
// invocation failures (panics recovered, client construction errors, ...);
// the orchestrator maps that to outcome provider_error rather than
// propagating it.
type Provider interface {
	ID() string
	Fetch(ctx context.Context, req FetchRequest) (FetchResult, error)
}
