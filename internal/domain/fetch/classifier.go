// Package fetch implements the provider-selection and response-evaluation
// pipeline that sits between a rule run and the raw HTML a provider returns:
// response classification, rate limiting, concurrency leasing, circuit
// breaking, budget enforcement, attempt logging, and the orchestrator that
// strings them together.
package fetch

import (
	"strconv"
	"strings"

	"github.com/target/mmk-ui-api/internal/domain/model"
)

// ClassifyInput is the raw material the Response Classifier evaluates.
// Exactly one of ErrorDetail or Body is normally populated: a transport-level
// failure never has a body, and a completed HTTP round trip never has an
// error detail.
type ClassifyInput struct {
	HTTPStatus  int
	Body        string
	ContentType string
	ErrorDetail string
}

// ClassifyResult is the outcome of a single response classification.
type ClassifyResult struct {
	Outcome   model.Outcome
	BlockKind model.BlockKind
	Signals   []string
}

const (
	tier2SizeGateBytes = 50 * 1024
	emptyBodyBytes     = 2000
	loadingBodyBytes   = 5000
	accessDeniedBytes  = 10 * 1024
)

// Classify evaluates a single fetch response and returns the outcome the
// rest of the pipeline (circuit breaker, attempt logger, orchestrator) acts
// on. It is a pure function: no I/O, no clock, no randomness.
func Classify(in ClassifyInput) ClassifyResult {
	if in.ErrorDetail != "" {
		return classifyErrorDetail(in.ErrorDetail)
	}

	if in.HTTPStatus >= 400 {
		return classifyHTTPError(in)
	}

	if kind, signals, blocked := classifyBody(in.Body); blocked {
		return blockResultFromKind(kind, signals)
	}

	if isEmptyBody(in.Body, in.ContentType) {
		return ClassifyResult{Outcome: model.OutcomeEmpty}
	}

	return ClassifyResult{Outcome: model.OutcomeOK}
}

func classifyErrorDetail(detail string) ClassifyResult {
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(detail, "ETIMEDOUT"):
		return ClassifyResult{Outcome: model.OutcomeTimeout, Signals: []string{"error:" + detail}}
	case strings.Contains(detail, "ECONNREFUSED") || strings.Contains(detail, "ENOTFOUND"):
		return ClassifyResult{Outcome: model.OutcomeNetworkError, Signals: []string{"error:" + detail}}
	default:
		return ClassifyResult{Outcome: model.OutcomeProviderError, Signals: []string{"error:" + detail}}
	}
}

// classifyHTTPError handles status >= 400. Only 403/429 run block
// classification on the body; any other 4xx/5xx is an unknown-kind block.
func classifyHTTPError(in ClassifyInput) ClassifyResult {
	signals := []string{"http_status:" + strconv.Itoa(in.HTTPStatus)}
	if in.HTTPStatus == 403 || in.HTTPStatus == 429 {
		if kind, bodySignals, blocked := classifyBody(in.Body); blocked {
			return blockResultFromKind(kind, append(signals, bodySignals...))
		}
	}
	return ClassifyResult{Outcome: model.OutcomeBlocked, BlockKind: model.BlockKindUnknown, Signals: signals}
}

func blockResultFromKind(kind model.BlockKind, signals []string) ClassifyResult {
	if kind == model.BlockKindCaptcha {
		return ClassifyResult{Outcome: model.OutcomeCaptchaRequired, BlockKind: kind, Signals: signals}
	}
	return ClassifyResult{Outcome: model.OutcomeBlocked, BlockKind: kind, Signals: signals}
}

// tier1Signatures are precise, always-fire block signatures. Confidence is
// high enough (observed >=0.95) that they run regardless of body size.
var tier1Signatures = []struct {
	kind   model.BlockKind
	needle string
}{
	{model.BlockKindDataDome, "geo.captcha-delivery.com"},
	{model.BlockKindDataDome, "captcha-delivery.com/captcha"},
	{model.BlockKindDataDome, "press & hold"},
	{model.BlockKindDataDome, "slide to complete the puzzle"},
	{model.BlockKindDataDome, "posunutím doprava zložte puzzle"},
	{model.BlockKindCloudflare, "cf-browser-verification"},
	{model.BlockKindPerimeterX, "px-captcha"},
	{model.BlockKindCaptcha, "hcaptcha"},
}

var rateLimitPhrases = []string{
	"rate limit exceeded",
	"too many requests",
	"please slow down",
}

var cloudflarePerimeterXHeuristics = []struct {
	kind   model.BlockKind
	needle string
}{
	{model.BlockKindCloudflare, "checking your browser before accessing"},
	{model.BlockKindCloudflare, "cloudflare"},
	{model.BlockKindPerimeterX, "perimeterx"},
}

var genericCaptchaPhrases = []string{
	"i am not a robot",
	"verify you are human",
	"complete this security check",
}

var accessDeniedPhrases = []string{
	"access denied",
	"forbidden",
}

// classifyBody runs the two-tier block classification from the spec. It
// returns blocked=false when neither tier fires.
func classifyBody(body string) (model.BlockKind, []string, bool) {
	if body == "" {
		return "", nil, false
	}
	lower := strings.ToLower(body)

	for _, sig := range tier1Signatures {
		if strings.Contains(lower, strings.ToLower(sig.needle)) {
			return sig.kind, []string{"tier1:" + sig.needle}, true
		}
	}

	bodyBytes := len(body)
	productSchema := isProductJSONLD(lower)
	if bodyBytes > tier2SizeGateBytes && productSchema {
		return "", nil, false
	}

	for _, phrase := range rateLimitPhrases {
		if strings.Contains(lower, phrase) {
			return model.BlockKindRateLimit, []string{"phrase:" + phrase}, true
		}
	}

	if bodyBytes < tier2SizeGateBytes || !productSchema {
		for _, sig := range cloudflarePerimeterXHeuristics {
			if strings.Contains(lower, sig.needle) {
				return sig.kind, []string{"heuristic:" + sig.needle}, true
			}
		}
		for _, phrase := range genericCaptchaPhrases {
			if strings.Contains(lower, phrase) {
				return model.BlockKindCaptcha, []string{"phrase:" + phrase}, true
			}
		}
	}

	if bodyBytes < accessDeniedBytes {
		for _, phrase := range accessDeniedPhrases {
			if strings.Contains(lower, phrase) {
				return model.BlockKindUnknown, []string{"phrase:" + phrase}, true
			}
		}
	}

	return "", nil, false
}

// isProductJSONLD reports whether a (lowercased) body contains a schema.org
// Product JSON-LD block. This is the guardrail against false-positive
// heuristic matches on legitimate, JS-heavy product pages.
func isProductJSONLD(lowerBody string) bool {
	if !strings.Contains(lowerBody, "application/ld+json") {
		return false
	}
	return strings.Contains(lowerBody, `"@type": "product"`) ||
		strings.Contains(lowerBody, `"@type":"product"`) ||
		strings.Contains(lowerBody, `'@type': 'product'`)
}

func isEmptyBody(body, contentType string) bool {
	if len(body) < emptyBodyBytes {
		return true
	}
	isHTML := strings.Contains(strings.ToLower(contentType), "text/html")
	if isHTML {
		trimmed := strings.TrimSpace(body)
		if strings.HasPrefix(trimmed, "{") && strings.Contains(trimmed, `"error"`) {
			return true
		}
		lower := strings.ToLower(body)
		if !strings.Contains(lower, "<html") && !strings.Contains(lower, "<body") && !strings.Contains(lower, "<!doctype") {
			return true
		}
	}
	if len(body) < loadingBodyBytes && strings.Contains(strings.ToLower(body), "loading...") {
		return true
	}
	return false
}
