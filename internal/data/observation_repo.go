package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/target/mmk-ui-api/internal/core"
	"github.com/target/mmk-ui-api/internal/data/pgxutil"
	"github.com/target/mmk-ui-api/internal/domain/model"
)

// ObservationRepo implements core.ObservationRepository against Postgres.
type ObservationRepo struct {
	DB *sql.DB
}

// NewObservationRepo builds an ObservationRepo.
func NewObservationRepo(db *sql.DB) *ObservationRepo {
	return &ObservationRepo{DB: db}
}

var _ core.ObservationRepository = (*ObservationRepo)(nil)

// GetByRuleID returns the rule's stored observation, or nil if none exists yet.
func (r *ObservationRepo) GetByRuleID(ctx context.Context, ruleID string) (*model.Observation, error) {
	var obs model.Observation
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT rule_id, value, updated_at FROM observations WHERE rule_id = $1`, ruleID)
		if err != nil {
			return err
		}
		defer rows.Close()
		obs, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Observation])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get observation: %w", err)
	}
	return &obs, nil
}

// Upsert advances the rule's stored observation.
func (r *ObservationRepo) Upsert(ctx context.Context, obs *model.Observation) error {
	if obs == nil {
		return errors.New("observation is required")
	}
	valueRaw, err := json.Marshal(obs.Value)
	if err != nil {
		return fmt.Errorf("marshal observation value: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO observations (rule_id, value, updated_at)
		VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (rule_id) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`,
		obs.RuleID, valueRaw, obs.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert observation: %w", err)
	}
	return nil
}
