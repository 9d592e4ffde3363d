package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/mmk-ui-api/internal/core"
	"github.com/target/mmk-ui-api/internal/data/pgxutil"
	"github.com/target/mmk-ui-api/internal/domain/model"
)

// DomainStatsRepo implements core.DomainStatsRepository against Postgres,
// maintaining the per (workspace, hostname, day) rolling aggregate the
// Attempt Logger upserts into alongside every fetch_attempts row (C7).
type DomainStatsRepo struct {
	DB *sql.DB
}

// NewDomainStatsRepo builds a DomainStatsRepo.
func NewDomainStatsRepo(db *sql.DB) *DomainStatsRepo {
	return &DomainStatsRepo{DB: db}
}

var _ core.DomainStatsRepository = (*DomainStatsRepo)(nil)

func truncateToUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Upsert folds a fetch attempt's outcome into its day's rolling aggregate.
func (r *DomainStatsRepo) Upsert(ctx context.Context, attempt *model.FetchAttempt) error {
	if attempt == nil {
		return errors.New("fetch attempt is required")
	}

	day := truncateToUTCDay(attempt.CreatedAt)

	var okDelta, blockedDelta, emptyDelta, timeoutDelta int64
	switch attempt.Outcome {
	case model.OutcomeOK:
		okDelta = 1
	case model.OutcomeBlocked, model.OutcomeCaptchaRequired:
		blockedDelta = 1
	case model.OutcomeEmpty:
		emptyDelta = 1
	case model.OutcomeTimeout:
		timeoutDelta = 1
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO domain_stats (
			workspace_id, hostname, day, attempts, ok_count, blocked_count,
			empty_count, timeout_count, cost_usd, latency_sum_ms
		)
		VALUES ($1, $2, $3, 1, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (workspace_id, hostname, day) DO UPDATE SET
			attempts       = domain_stats.attempts + 1,
			ok_count       = domain_stats.ok_count + EXCLUDED.ok_count,
			blocked_count  = domain_stats.blocked_count + EXCLUDED.blocked_count,
			empty_count    = domain_stats.empty_count + EXCLUDED.empty_count,
			timeout_count  = domain_stats.timeout_count + EXCLUDED.timeout_count,
			cost_usd       = domain_stats.cost_usd + EXCLUDED.cost_usd,
			latency_sum_ms = domain_stats.latency_sum_ms + EXCLUDED.latency_sum_ms`,
		attempt.WorkspaceID, attempt.Hostname, day, okDelta, blockedDelta, emptyDelta, timeoutDelta,
		attempt.CostUSD, attempt.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("upsert domain stats: %w", err)
	}
	return nil
}

// Get returns the aggregate for a (workspace, hostname, day), or nil if none
// has been recorded yet.
func (r *DomainStatsRepo) Get(ctx context.Context, workspaceID, hostname string, day time.Time) (*model.DomainStats, error) {
	var stats model.DomainStats
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT workspace_id, hostname, day, attempts, ok_count, blocked_count,
				empty_count, timeout_count, cost_usd, latency_sum_ms
			FROM domain_stats
			WHERE workspace_id = $1 AND hostname = $2 AND day = $3`,
			workspaceID, hostname, truncateToUTCDay(day))
		if err != nil {
			return err
		}
		defer rows.Close()
		stats, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.DomainStats])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get domain stats: %w", err)
	}
	return &stats, nil
}

// SumCostUSD totals recorded cost since params.Since. The domain_stats
// aggregate has no per-rule breakdown, so a non-empty params.RuleID sums
// straight from the fetch_attempts ledger instead; otherwise it sums the
// cheaper domain_stats rollup scoped to workspace and (optionally) hostname.
func (r *DomainStatsRepo) SumCostUSD(ctx context.Context, params core.SumCostUSDParams) (float64, error) {
	if params.RuleID != "" {
		return r.sumCostFromAttempts(ctx, params)
	}

	query := `SELECT COALESCE(SUM(cost_usd), 0) FROM domain_stats WHERE workspace_id = $1 AND day >= $2`
	args := []any{params.WorkspaceID, truncateToUTCDay(params.Since)}
	if params.Hostname != "" {
		args = append(args, params.Hostname)
		query += fmt.Sprintf(" AND hostname = $%d", len(args))
	}

	var total float64
	row := r.DB.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("sum domain cost: %w", err)
	}
	return total, nil
}

func (r *DomainStatsRepo) sumCostFromAttempts(ctx context.Context, params core.SumCostUSDParams) (float64, error) {
	query := `SELECT COALESCE(SUM(cost_usd), 0) FROM fetch_attempts WHERE workspace_id = $1 AND rule_id = $2 AND created_at >= $3`
	args := []any{params.WorkspaceID, params.RuleID, params.Since}
	if params.Hostname != "" {
		args = append(args, params.Hostname)
		query += fmt.Sprintf(" AND hostname = $%d", len(args))
	}

	var total float64
	row := r.DB.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("sum rule cost: %w", err)
	}
	return total, nil
}
