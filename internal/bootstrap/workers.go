package bootstrap

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/target/mmk-ui-api/config"
	"github.com/target/mmk-ui-api/internal/core"
	"github.com/target/mmk-ui-api/internal/data"
	"github.com/target/mmk-ui-api/internal/domain/alert"
	"github.com/target/mmk-ui-api/internal/domain/dispatch"
	"github.com/target/mmk-ui-api/internal/domain/fetch"
	"github.com/target/mmk-ui-api/internal/domain/model"
	"github.com/target/mmk-ui-api/internal/domain/runhandler"
	"github.com/target/mmk-ui-api/internal/ports"
	"github.com/target/mmk-ui-api/internal/ports/emailadapter"
	"github.com/target/mmk-ui-api/internal/ports/webhookadapter"
)

// ServiceDeps groups dependencies for building the worker container.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// WorkerContainer holds everything RunWorkersWithShutdown needs to drive
// its dequeue loops.
type WorkerContainer struct {
	Jobs   *data.JobRepo
	RunH   *runhandler.Handler
	Dispat *dispatch.Handler
	Worker config.WorkerConfig
	Reaper config.ReaperConfig
	Logger *slog.Logger
}

// canaryPolicyResolver sets BudgetPolicy.CheckRuleCap per rule from
// TierPolicyConfig.AppliesTo(rule.WorkspaceID).
type canaryPolicyResolver struct {
	runhandler.PolicyResolver
	tier config.TierPolicyConfig
}

func (r canaryPolicyResolver) Resolve(ctx context.Context, rule *model.Rule) (runhandler.FetchPolicy, error) {
	p, err := r.PolicyResolver.Resolve(ctx, rule)
	p.BudgetPolicy.CheckRuleCap = err == nil && r.tier.AppliesTo(rule.WorkspaceID)
	return p, err
}

// NewWorkers wires the full set of repositories and domain handlers behind
// the worker container. The domain layer never imports config directly, so
// this is the one place config.TierPolicyConfig/BudgetConfig/ProvidersConfig
// get folded into the runhandler.PolicyResolver/dispatch.ChannelConfigResolver
// seams those packages expose.
func NewWorkers(deps *ServiceDeps) *WorkerContainer {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	jobs := data.NewJobRepo(deps.DB, data.RepoConfig{})
	rules := data.NewRuleRepo(deps.DB)
	observations := data.NewObservationRepo(deps.DB)
	alerts := data.NewAlertRepo(deps.DB)
	fetchAttempts := data.NewFetchAttemptRepo(deps.DB)
	domainStats := data.NewDomainStatsRepo(deps.DB)
	circuitStates := data.NewCircuitStateRepo(deps.RedisClient)
	tokenBuckets := data.NewTokenBucketRepo(deps.RedisClient)
	leases := data.NewLeaseRepo(deps.RedisClient)

	providers := map[fetch.ProviderID]ports.Provider{
		fetch.ProviderHTTP: ports.NewHTTPProvider(cfg.Providers.HTTPTimeout),
	}

	orchestrator := fetch.NewOrchestrator(
		providers,
		fetch.NewCircuitBreaker(circuitStates, time.Now),
		fetch.NewRateLimiter(tokenBuckets, time.Now),
		fetch.NewSemaphore(leases, time.Now),
		fetch.NewBudgetGuard(domainStats, time.Now),
		fetch.NewAttemptLogger(fetchAttempts, domainStats, logger),
		time.Now,
		logger,
	)

	policy := runhandler.NewStaticPolicyResolver(
		runhandler.FetchPolicy{
			AllowPaid:         false,
			MaxAttemptsPerRun: 3,
			TimeoutMs:         int(cfg.Providers.HTTPTimeout.Milliseconds()),
			BudgetPolicy: fetch.BudgetPolicy{
				WorkspaceDailyCapUSD: cfg.Budget.WorkspaceDailyCapUSD,
				HostnameDailyCapUSD:  cfg.Budget.HostnameDailyCapUSD,
				RuleDailyCapUSD:      cfg.Budget.RuleDailyCapUSD,
				CheckRuleCap:         cfg.TierPolicy.Enabled,
			},
		},
		nil,
	)

	runH := runhandler.New(runhandler.Options{
		Rules:        rules,
		Observations: observations,
		Alerts:       alerts,
		Jobs:         jobs,
		Orchestrator: orchestrator,
		Extractor:    ports.NewNullExtractor(""),
		Policy:       canaryPolicyResolver{PolicyResolver: policy, tier: cfg.TierPolicy},
		DedupeGate:   alert.NewDedupeGate(alerts, time.Now),
		Generator:    alert.NewGenerator(time.Now),
		Now:          time.Now,
		Logger:       logger,
	})

	channelConfigs := dispatch.NewStaticChannelConfigResolver(map[string]ports.ChannelConfig{
		"email":   {Channel: "email", EmailTo: os.Getenv("ALERTS_DEFAULT_EMAIL")},
		"webhook": {Channel: "webhook", WebhookURL: os.Getenv("ALERTS_DEFAULT_WEBHOOK_URL"), WebhookSecret: os.Getenv("ALERTS_DEFAULT_WEBHOOK_SECRET")},
	}, nil)

	dispatchH := dispatch.New(dispatch.Options{
		Alerts: alerts,
		Adapters: []ports.NotificationAdapter{
			emailadapter.New(emailadapter.Config{
				SMTPHost: os.Getenv("SMTP_HOST"),
				From:     os.Getenv("ALERTS_FROM_ADDRESS"),
				Timeout:  10 * time.Second,
			}),
			webhookadapter.New(webhookadapter.Config{Timeout: 10 * time.Second}),
		},
		Configs: channelConfigs,
		Logger:  logger,
	})

	return &WorkerContainer{
		Jobs:   jobs,
		RunH:   runH,
		Dispat: dispatchH,
		Worker: cfg.Worker,
		Reaper: cfg.Reaper,
		Logger: logger,
	}
}

// ServiceOrchestrationConfig groups dependencies for RunWorkersWithShutdown.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    *WorkerContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// RunWorkersWithShutdown starts every enabled dequeue loop and blocks until
// SIGINT/SIGTERM or a fatal loop error, then waits for in-flight jobs to
// finish within WorkerConfig.ShutdownGracePeriod.
func RunWorkersWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Services == nil {
		return errors.New("worker orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if enabled[config.ServiceModeRunHandler] {
		g.Go(func() error {
			return runDequeueLoop(gctx, dequeueLoopConfig{
				name:        "run-handler",
				jobType:     model.JobTypeRunRule,
				lease:       cfg.Services.Worker.RunLease,
				concurrency: cfg.Services.Worker.ConcurrencyRules,
				jobs:        cfg.Services.Jobs,
				logger:      logger,
				handle: func(ctx context.Context, job *model.Job) error {
					var payload model.RunJobPayload
					if err := json.Unmarshal(job.Payload, &payload); err != nil {
						return fmt.Errorf("unmarshal run job payload: %w", err)
					}
					_, err := cfg.Services.RunH.HandleRunJob(ctx, payload)
					return err
				},
			})
		})
	}

	if enabled[config.ServiceModeDispatchHandler] {
		g.Go(func() error {
			return runDequeueLoop(gctx, dequeueLoopConfig{
				name:        "dispatch-handler",
				jobType:     model.JobTypeAlertDispatch,
				lease:       cfg.Services.Worker.DispatchLease,
				concurrency: cfg.Services.Worker.ConcurrencyAlerts,
				jobs:        cfg.Services.Jobs,
				logger:      logger,
				handle: func(ctx context.Context, job *model.Job) error {
					var payload model.AlertDispatchJobPayload
					if err := json.Unmarshal(job.Payload, &payload); err != nil {
						return fmt.Errorf("unmarshal dispatch job payload: %w", err)
					}
					_, err := cfg.Services.Dispat.HandleDispatchJob(ctx, payload)
					return err
				},
			})
		})
	}

	if enabled[config.ServiceModeReaper] {
		g.Go(func() error {
			runReaperLoop(gctx, cfg.Services.Jobs, cfg.Services.Reaper, logger)
			return nil
		})
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case <-quit:
		logger.Info("shutting down workers...")
		cancel()
	case loopErr := <-done:
		logger.Error("worker loop error", "error", loopErr)
		cancel()
		waitForGroup(done, cfg.Services.Worker.ShutdownGracePeriod, logger)
		return loopErr
	}

	waitForGroup(done, cfg.Services.Worker.ShutdownGracePeriod, logger)
	return nil
}

// waitForGroup blocks until the errgroup's Wait result is delivered on done
// (which may already have happened) or the shutdown grace period elapses.
func waitForGroup(done <-chan error, timeout time.Duration, logger *slog.Logger) {
	select {
	case <-done:
		logger.Info("workers stopped")
	case <-time.After(timeout):
		logger.Warn("timeout waiting for workers to stop")
	}
}

type dequeueLoopConfig struct {
	name        string
	jobType     model.JobType
	lease       time.Duration
	concurrency int
	jobs        *data.JobRepo
	logger      *slog.Logger
	handle      func(ctx context.Context, job *model.Job) error
}

// runDequeueLoop fans out cfg.concurrency worker goroutines that each poll
// ReserveNext in a loop, heartbeat the lease while handling, and
// Complete/Fail the job based on the outcome. The workers share an
// errgroup.WithContext derived from ctx, so cancelling ctx stops all of
// them; no worker returns an error, and runDequeueLoop returns nil once
// every worker has exited. Errors from the job handler are recorded on the
// job via Fail (which schedules its own retry per §6), and a ReserveNext
// failure is logged and retried after a one-second pause.
func runDequeueLoop(ctx context.Context, cfg dequeueLoopConfig) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.concurrency; i++ {
		g.Go(func() error {
			dequeueWorker(gctx, cfg)
			return nil
		})
	}
	return g.Wait()
}

func dequeueWorker(ctx context.Context, cfg dequeueLoopConfig) {
	leaseSeconds := int(cfg.lease.Seconds())
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := cfg.jobs.ReserveNext(ctx, cfg.jobType, leaseSeconds)
		if errors.Is(err, model.ErrNoJobsAvailable) {
			if waitErr := cfg.jobs.WaitForNotification(ctx, cfg.jobType); waitErr != nil && ctx.Err() == nil {
				time.Sleep(time.Second)
			}
			continue
		}
		if err != nil {
			cfg.logger.ErrorContext(ctx, "reserve job failed", "loop", cfg.name, "error", err)
			time.Sleep(time.Second)
			continue
		}

		processJob(ctx, cfg, job)
	}
}

func processJob(ctx context.Context, cfg dequeueLoopConfig, job *model.Job) {
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go heartbeatJob(heartbeatCtx, cfg, job.ID)

	err := cfg.handle(ctx, job)
	stopHeartbeat()

	if err != nil {
		cfg.logger.ErrorContext(ctx, "job failed", "loop", cfg.name, "job_id", job.ID, "error", err)
		if _, failErr := cfg.jobs.Fail(ctx, job.ID, err.Error()); failErr != nil {
			cfg.logger.ErrorContext(ctx, "mark job failed error", "loop", cfg.name, "job_id", job.ID, "error", failErr)
		}
		return
	}
	if _, completeErr := cfg.jobs.Complete(ctx, job.ID); completeErr != nil {
		cfg.logger.ErrorContext(ctx, "mark job complete error", "loop", cfg.name, "job_id", job.ID, "error", completeErr)
	}
}

func heartbeatJob(ctx context.Context, cfg dequeueLoopConfig, jobID string) {
	interval := cfg.lease / 2
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := cfg.jobs.Heartbeat(ctx, jobID, int(cfg.lease.Seconds())); err != nil {
				cfg.logger.WarnContext(ctx, "heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func runReaperLoop(ctx context.Context, jobs *data.JobRepo, cfg config.ReaperConfig, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reapOnce(ctx, jobs, cfg, logger)
		}
	}
}

func reapOnce(ctx context.Context, jobs *data.JobRepo, cfg config.ReaperConfig, logger *slog.Logger) {
	if failed, err := jobs.FailStalePendingJobs(ctx, cfg.PendingMaxAge, cfg.BatchSize); err != nil {
		logger.ErrorContext(ctx, "fail stale pending jobs", "error", err)
	} else if failed > 0 {
		logger.InfoContext(ctx, "failed stale pending jobs", "count", failed)
	}

	for _, jobType := range []model.JobType{model.JobTypeRunRule, model.JobTypeAlertDispatch} {
		if requeued, err := jobs.RequeueExpiredLeases(ctx, jobType); err != nil {
			logger.ErrorContext(ctx, "requeue expired leases", "job_type", jobType, "error", err)
		} else if requeued > 0 {
			logger.InfoContext(ctx, "requeued expired leases", "job_type", jobType, "count", requeued)
		}
	}

	for _, status := range []model.JobStatus{model.JobStatusCompleted, model.JobStatusFailed} {
		maxAge := cfg.CompletedMaxAge
		if status == model.JobStatusFailed {
			maxAge = cfg.FailedMaxAge
		}
		if deleted, err := jobs.DeleteOldJobs(ctx, core.DeleteOldJobsParams{Status: status, MaxAge: maxAge, BatchSize: cfg.BatchSize}); err != nil {
			logger.ErrorContext(ctx, "delete old jobs", "status", status, "error", err)
		} else if deleted > 0 {
			logger.InfoContext(ctx, "deleted old jobs", "status", status, "count", deleted)
		}
	}
}
