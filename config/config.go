package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and cache configuration
//   - services.go: Service mode, worker, budget, tier-policy and provider configuration
//   - observability.go: Metrics and failure notification configuration
type AppConfig struct {
	// IsDev controls development mode behavior (hot reloading, caching, etc.)
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`
	Cache    CacheConfig

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"run-handler,dispatch-handler,reaper"`

	// Worker dequeue-loop configuration
	Worker WorkerConfig

	// TierPolicy configuration
	TierPolicy TierPolicyConfig

	// Budget configuration
	Budget BudgetConfig

	// Providers configuration
	Providers ProvidersConfig

	// Reaper configuration
	Reaper ReaperConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Worker.Sanitize()
	c.Budget.Sanitize()
	c.Providers.Sanitize()
	c.Reaper.Sanitize()
	c.Observability.Sanitize()

	// Check NODE_ENV for dev mode
	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// This is called by Sanitize() to ensure IsDev is set correctly.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsRunHandlerEnabled returns true if the run handler dequeue loop is enabled.
func (c *AppConfig) IsRunHandlerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeRunHandler]
}

// IsDispatchHandlerEnabled returns true if the dispatch handler dequeue loop is enabled.
func (c *AppConfig) IsDispatchHandlerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeDispatchHandler]
}

// IsReaperEnabled returns true if the reaper loop is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReaper]
}
