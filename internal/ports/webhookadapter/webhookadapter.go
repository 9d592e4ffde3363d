// Package webhookadapter delivers alerts by POSTing a signed JSON payload to
// a configured URL. Grounded on the "build request, post, classify
// response" shape of the teacher's notify/slack and notify/pagerduty
// clients.
package webhookadapter

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/target/mmk-ui-api/internal/ports"
)

// Config configures the outbound HTTP client used to deliver webhook alerts.
type Config struct {
	Timeout time.Duration
	Client  *http.Client
}

// Adapter implements ports.NotificationAdapter for the "webhook" channel.
type Adapter struct {
	client *http.Client
}

// New builds a webhook Adapter from cfg.
func New(cfg Config) *Adapter {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Adapter{client: client}
}

func (a *Adapter) Channel() string { return "webhook" }

type webhookPayload struct {
	AlertID     string `json:"alertId"`
	RuleID      string `json:"ruleId"`
	WorkspaceID string `json:"workspaceId"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	DedupeKey   string `json:"dedupeKey"`
}

// Deliver POSTs the alert as JSON to cfg.WebhookURL. If cfg.WebhookSecret is
// set, the payload is signed with HMAC-SHA256 and the signature sent in the
// X-Webhook-Signature header as a hex-encoded digest.
func (a *Adapter) Deliver(ctx context.Context, cfg ports.ChannelConfig, alert ports.AlertData) (ports.DeliveryResult, error) {
	url := strings.TrimSpace(cfg.WebhookURL)
	if url == "" {
		return ports.DeliveryResult{Success: false, Error: "webhook channel config missing WebhookURL"}, nil
	}

	body, err := json.Marshal(webhookPayload{
		AlertID:     alert.AlertID,
		RuleID:      alert.RuleID,
		WorkspaceID: alert.WorkspaceID,
		Severity:    string(alert.Severity),
		Title:       alert.Title,
		Body:        alert.Body,
		DedupeKey:   alert.DedupeKey,
	})
	if err != nil {
		return ports.DeliveryResult{}, fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ports.DeliveryResult{}, fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.WebhookSecret != "" {
		req.Header.Set("X-Webhook-Signature", sign(cfg.WebhookSecret, body))
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return ports.DeliveryResult{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ports.DeliveryResult{
			Success: false,
			Error:   fmt.Sprintf("webhook %s: %s", resp.Status, strings.TrimSpace(string(respBody))),
		}, nil
	}

	return ports.DeliveryResult{Success: true, MessageID: uuid.NewString()}, nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
