package fetch

import (
	"context"
	"log/slog"

	"github.com/target/mmk-ui-api/internal/core"
	"github.com/target/mmk-ui-api/internal/domain/model"
)

// AttemptLogger writes the append-only FetchAttempt ledger row synchronously
// and folds the attempt into the DomainStats rolling aggregate
// asynchronously. It never returns an error to the orchestrator: logging a
// fetch attempt must not itself become a reason a run fails.
type AttemptLogger struct {
	attempts core.FetchAttemptRepository
	stats    core.DomainStatsRepository
	logger   *slog.Logger
}

// NewAttemptLogger builds an AttemptLogger. logger defaults to slog.Default.
func NewAttemptLogger(attempts core.FetchAttemptRepository, stats core.DomainStatsRepository, logger *slog.Logger) *AttemptLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttemptLogger{attempts: attempts, stats: stats, logger: logger.With("component", "attempt_logger")}
}

// LogAttempt persists attempt synchronously and kicks off the DomainStats
// upsert in a detached goroutine. Errors from either path are logged, never
// propagated.
func (l *AttemptLogger) LogAttempt(ctx context.Context, attempt *model.FetchAttempt) {
	if err := l.attempts.Create(ctx, attempt); err != nil {
		l.logger.Error("failed to write fetch attempt",
			"error", err, "workspaceId", attempt.WorkspaceID, "ruleId", attempt.RuleID, "provider", attempt.Provider)
	}

	go func() {
		// Detached from the caller's context on purpose: the attempt write
		// above already completed, so a caller-cancelled ctx must not drop
		// this fire-and-forget stats update.
		statsCtx := context.WithoutCancel(ctx)
		if err := l.stats.Upsert(statsCtx, attempt); err != nil {
			l.logger.Error("failed to upsert domain stats",
				"error", err, "workspaceId", attempt.WorkspaceID, "hostname", attempt.Hostname)
		}
	}()
}
