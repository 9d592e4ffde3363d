package ports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// HTTPProvider is the `http` free provider: a plain net/http GET. It is the
// one provider simple enough (no browser automation, no third-party API) to
// implement for real rather than leave as an interface.
type HTTPProvider struct {
	client *http.Client
}

// NewHTTPProvider builds an HTTPProvider. timeout bounds every request;
// Fetch additionally applies FetchRequest.TimeoutMs, when set, as a
// per-request deadline.
func NewHTTPProvider(timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProvider) ID() string { return "http" }

func (p *HTTPProvider) Fetch(ctx context.Context, req FetchRequest) (FetchResult, error) {
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return FetchResult{ErrorDetail: err.Error()}, nil
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.UserAgent != "" {
		httpReq.Header.Set("User-Agent", req.UserAgent)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return FetchResult{ErrorDetail: classifyTransportError(err)}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{ErrorDetail: err.Error()}, nil
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return FetchResult{
		HTTPStatus:  resp.StatusCode,
		Body:        string(body),
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    finalURL,
	}, nil
}

// classifyTransportError surfaces enough of net/http's wrapped error text
// for C1's ErrorDetail substring matching (timeout/ECONNREFUSED/ENOTFOUND)
// to work without this package depending on the classifier.
func classifyTransportError(err error) string {
	if err == nil {
		return ""
	}
	if urlErr, ok := err.(interface{ Timeout() bool }); ok && urlErr.Timeout() {
		return fmt.Sprintf("timeout: %s", err.Error())
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Sprintf("ECONNREFUSED: %s", err.Error())
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return fmt.Sprintf("ENOTFOUND: %s", err.Error())
	}
	return err.Error()
}
