// Package dispatch implements the Alert Dispatch Handler (C12): the
// alerts:dispatch job handler that fans a persisted Alert out to every
// channel configured on its rule, invoking one notification adapter per
// channel and tracking per-channel success/failure.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/mmk-ui-api/internal/core"
	"github.com/target/mmk-ui-api/internal/domain/model"
	"github.com/target/mmk-ui-api/internal/ports"
)

// ErrAlertNotFound is returned when the payload's alertId has no matching Alert.
var ErrAlertNotFound = errors.New("alert not found")

// ChannelConfigResolver resolves the per-channel delivery configuration
// (an email address, a webhook URL and secret, …) for one alert's workspace.
// Channel configuration is owned by the (out-of-scope) tenant/workspace CRUD
// layer; the handler only needs something that answers this question, so the
// interface lives here rather than pulling in the outer configuration package.
type ChannelConfigResolver interface {
	Resolve(ctx context.Context, workspaceID, channel string) (ports.ChannelConfig, error)
}

// ChannelResult is the per-channel outcome of one dispatch attempt.
type ChannelResult struct {
	Channel string
	Success bool
	Error   string
}

// Outcome is the dispatch handler's summary result for one job invocation.
type Outcome struct {
	Results   []ChannelResult
	AllOK     bool
	Delivered int
}

// Handler is the Alert Dispatch Handler (C12).
type Handler struct {
	alerts   core.AlertRepository
	adapters map[string]ports.NotificationAdapter
	configs  ChannelConfigResolver
	logger   *slog.Logger
}

// Options configures a Handler.
type Options struct {
	Alerts   core.AlertRepository
	Adapters []ports.NotificationAdapter
	Configs  ChannelConfigResolver
	Logger   *slog.Logger
}

// New builds a Handler, indexing adapters by their Channel() name.
func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "dispatch_handler")
	}

	adapters := make(map[string]ports.NotificationAdapter, len(opts.Adapters))
	for _, a := range opts.Adapters {
		if a == nil {
			continue
		}
		adapters[a.Channel()] = a
	}

	return &Handler{
		alerts:   opts.Alerts,
		adapters: adapters,
		configs:  opts.Configs,
		logger:   logger,
	}
}

// HandleDispatchJob delivers the alert named by payload.AlertID to every
// channel in payload.Channels. A channel with no registered adapter or no
// resolvable config counts as a per-channel failure, not a fatal error — the
// remaining channels still get their own attempt. The returned error is
// non-nil whenever at least one channel failed, which the caller (the job
// runner) uses to drive the queue's retry policy; a retried job re-attempts
// every channel, not just the ones that failed, since delivery is treated as
// idempotent at the adapter boundary (duplicate emails/webhooks are
// preferable to silently dropping a channel).
func (h *Handler) HandleDispatchJob(ctx context.Context, payload model.AlertDispatchJobPayload) (Outcome, error) {
	alert, err := h.alerts.GetByID(ctx, payload.AlertID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load alert %s: %w", payload.AlertID, err)
	}
	if alert == nil {
		return Outcome{}, ErrAlertNotFound
	}

	data := ports.AlertData{
		AlertID:     alert.ID,
		RuleID:      alert.RuleID,
		WorkspaceID: alert.WorkspaceID,
		Severity:    alert.Severity,
		Title:       alert.Title,
		Body:        alert.Body,
		DedupeKey:   alert.DedupeKey,
	}

	channels := payload.Channels
	if len(channels) == 0 {
		channels = alert.Channels
	}

	results := make([]ChannelResult, 0, len(channels))
	delivered := 0
	for _, channel := range channels {
		result := h.deliverOne(ctx, alert.WorkspaceID, channel, data)
		results = append(results, result)
		if result.Success {
			delivered++
		} else {
			h.logger.WarnContext(ctx, "channel delivery failed",
				"alert_id", alert.ID, "channel", channel, "error", result.Error)
		}
	}

	outcome := Outcome{Results: results, AllOK: delivered == len(channels), Delivered: delivered}
	if !outcome.AllOK {
		return outcome, fmt.Errorf("dispatch: %d/%d channels failed for alert %s",
			len(channels)-delivered, len(channels), alert.ID)
	}
	return outcome, nil
}

func (h *Handler) deliverOne(ctx context.Context, workspaceID, channel string, data ports.AlertData) ChannelResult {
	adapter, ok := h.adapters[channel]
	if !ok {
		return ChannelResult{Channel: channel, Success: false, Error: "no adapter registered for channel"}
	}

	cfg, err := h.configs.Resolve(ctx, workspaceID, channel)
	if err != nil {
		return ChannelResult{Channel: channel, Success: false, Error: fmt.Sprintf("resolve channel config: %v", err)}
	}

	delivery, err := adapter.Deliver(ctx, cfg, data)
	if err != nil {
		return ChannelResult{Channel: channel, Success: false, Error: err.Error()}
	}
	if !delivery.Success {
		return ChannelResult{Channel: channel, Success: false, Error: delivery.Error}
	}
	return ChannelResult{Channel: channel, Success: true}
}
