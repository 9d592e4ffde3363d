package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/target/mmk-ui-api/internal/core"
	"github.com/target/mmk-ui-api/internal/data/pgxutil"
	"github.com/target/mmk-ui-api/internal/domain/model"
)

// RuleRepo implements core.RuleRepository against Postgres. Rules themselves
// are owned by the out-of-scope tenant/workspace CRUD layer — this repo only
// reads the rules table and owns the rule_health read model it writes.
type RuleRepo struct {
	DB *sql.DB
}

// NewRuleRepo builds a RuleRepo.
func NewRuleRepo(db *sql.DB) *RuleRepo {
	return &RuleRepo{DB: db}
}

var _ core.RuleRepository = (*RuleRepo)(nil)

const ruleColumns = `
	id, workspace_id, name, rule_type, source_url, extraction, fetch_profile,
	conditions, cooldown_seconds, channels, tier, enabled, created_at, updated_at
`

// GetByID returns the rule, or nil if it does not exist or is disabled.
func (r *RuleRepo) GetByID(ctx context.Context, id string) (*model.Rule, error) {
	var rule model.Rule
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = $1 AND enabled`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		rule, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Rule])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return &rule, nil
}

const ruleHealthColumns = `
	rule_id, consecutive_failures, last_failure_outcome, last_error_class, last_success_at, updated_at
`

// GetHealth returns the rule's health read model, or nil if none exists yet.
func (r *RuleRepo) GetHealth(ctx context.Context, ruleID string) (*model.RuleHealth, error) {
	var health model.RuleHealth
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+ruleHealthColumns+` FROM rule_health WHERE rule_id = $1`, ruleID)
		if err != nil {
			return err
		}
		defer rows.Close()
		health, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.RuleHealth])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule health: %w", err)
	}
	return &health, nil
}

// UpsertHealth records a run outcome against the rule's health metric.
func (r *RuleRepo) UpsertHealth(ctx context.Context, health *model.RuleHealth) error {
	if health == nil {
		return errors.New("rule health is required")
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO rule_health (rule_id, consecutive_failures, last_failure_outcome, last_error_class, last_success_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (rule_id) DO UPDATE SET
			consecutive_failures = EXCLUDED.consecutive_failures,
			last_failure_outcome = EXCLUDED.last_failure_outcome,
			last_error_class = EXCLUDED.last_error_class,
			last_success_at = EXCLUDED.last_success_at,
			updated_at = EXCLUDED.updated_at`,
		health.RuleID, health.ConsecutiveFailures, health.LastFailureOutcome, health.LastErrorClass,
		health.LastSuccessAt, health.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert rule health: %w", err)
	}
	return nil
}
