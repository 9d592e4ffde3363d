package dispatch

import (
	"context"
	"fmt"

	"github.com/target/mmk-ui-api/internal/ports"
)

// StaticChannelConfigResolver resolves channel configuration from a fixed
// table keyed on workspace id, falling back to a workspace-agnostic default
// per channel when no workspace-specific entry exists. The real
// tenant-config-backed resolver is process-bootstrap wiring, same split as
// runhandler.StaticPolicyResolver.
type StaticChannelConfigResolver struct {
	Defaults  map[string]ports.ChannelConfig
	Workspace map[string]map[string]ports.ChannelConfig
}

// NewStaticChannelConfigResolver builds a resolver around default configs
// (keyed by channel) and optional per-workspace overrides (keyed by
// workspace id, then channel).
func NewStaticChannelConfigResolver(
	defaults map[string]ports.ChannelConfig,
	workspace map[string]map[string]ports.ChannelConfig,
) *StaticChannelConfigResolver {
	return &StaticChannelConfigResolver{Defaults: defaults, Workspace: workspace}
}

// Resolve implements ChannelConfigResolver.
func (r *StaticChannelConfigResolver) Resolve(_ context.Context, workspaceID, channel string) (ports.ChannelConfig, error) {
	if byChannel, ok := r.Workspace[workspaceID]; ok {
		if cfg, ok := byChannel[channel]; ok {
			return cfg, nil
		}
	}
	if cfg, ok := r.Defaults[channel]; ok {
		return cfg, nil
	}
	return ports.ChannelConfig{}, fmt.Errorf("no channel config for %q", channel)
}

var _ ChannelConfigResolver = (*StaticChannelConfigResolver)(nil)
