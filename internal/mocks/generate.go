// Package mocks provides mock implementations for testing the worker system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our repository interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

// Generate mock for JobRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_repository_mock.go github.com/target/mmk-ui-api/internal/core JobRepository

// Generate mock for RuleRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=rule_repository_mock.go github.com/target/mmk-ui-api/internal/core RuleRepository

// Generate mock for ObservationRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=observation_repository_mock.go github.com/target/mmk-ui-api/internal/core ObservationRepository

// Generate mock for FetchAttemptRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=fetch_attempt_repository_mock.go github.com/target/mmk-ui-api/internal/core FetchAttemptRepository

// Generate mock for DomainStatsRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=domain_stats_repository_mock.go github.com/target/mmk-ui-api/internal/core DomainStatsRepository

// Generate mock for AlertRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=alert_repository_mock.go github.com/target/mmk-ui-api/internal/core AlertRepository

// Generate mock for CircuitStateRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=circuit_state_repository_mock.go github.com/target/mmk-ui-api/internal/core CircuitStateRepository

// Generate mock for TokenBucketRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=token_bucket_repository_mock.go github.com/target/mmk-ui-api/internal/core TokenBucketRepository

// Generate mock for LeaseRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=lease_repository_mock.go github.com/target/mmk-ui-api/internal/core LeaseRepository
