package runhandler

import (
	"context"

	"github.com/target/mmk-ui-api/internal/domain/model"
)

// StaticPolicyResolver resolves FetchPolicy from a fixed default plus an
// optional per-tier override table, keyed on model.Rule.Tier. It has no
// dependency on the outer configuration package; the wiring that builds one
// from config.AppConfig lives with the rest of the process bootstrap.
type StaticPolicyResolver struct {
	Default     FetchPolicy
	TierDefault map[string]FetchPolicy
}

// NewStaticPolicyResolver builds a resolver around a default policy, with an
// optional set of per-tier overrides.
func NewStaticPolicyResolver(def FetchPolicy, tiers map[string]FetchPolicy) *StaticPolicyResolver {
	return &StaticPolicyResolver{Default: def, TierDefault: tiers}
}

// Resolve implements PolicyResolver.
func (r *StaticPolicyResolver) Resolve(_ context.Context, rule *model.Rule) (FetchPolicy, error) {
	if rule.Tier != "" {
		if override, ok := r.TierDefault[rule.Tier]; ok {
			return override, nil
		}
	}
	return r.Default, nil
}

var _ PolicyResolver = (*StaticPolicyResolver)(nil)
