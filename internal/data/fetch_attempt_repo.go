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

// FetchAttemptRepo implements core.FetchAttemptRepository against Postgres,
// appending to the fetch_attempts ledger the Attempt Logger writes one row
// to per fetch (C7).
type FetchAttemptRepo struct {
	DB *sql.DB
}

// NewFetchAttemptRepo builds a FetchAttemptRepo.
func NewFetchAttemptRepo(db *sql.DB) *FetchAttemptRepo {
	return &FetchAttemptRepo{DB: db}
}

var _ core.FetchAttemptRepository = (*FetchAttemptRepo)(nil)

const fetchAttemptColumns = `
	id, workspace_id, rule_id, url, hostname, provider, outcome, block_kind,
	http_status, final_url, body_bytes, content_type, latency_ms, signals,
	error_detail, cost_usd, cost_units, raw_sample, created_at
`

// Create appends a fetch attempt to the ledger.
func (r *FetchAttemptRepo) Create(ctx context.Context, attempt *model.FetchAttempt) error {
	if attempt == nil {
		return errors.New("fetch attempt is required")
	}

	query := `
		INSERT INTO fetch_attempts (
			workspace_id, rule_id, url, hostname, provider, outcome, block_kind,
			http_status, final_url, body_bytes, content_type, latency_ms, signals,
			error_detail, cost_usd, cost_units, raw_sample, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING ` + fetchAttemptColumns

	return pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query,
			attempt.WorkspaceID, attempt.RuleID, attempt.URL, attempt.Hostname, attempt.Provider,
			attempt.Outcome, attempt.BlockKind, attempt.HTTPStatus, attempt.FinalURL, attempt.BodyBytes,
			attempt.ContentType, attempt.LatencyMs, attempt.Signals, attempt.ErrorDetail,
			attempt.CostUSD, attempt.CostUnits, attempt.RawSample, attempt.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("create fetch attempt: %w", err)
		}
		defer rows.Close()

		created, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.FetchAttempt])
		if err != nil {
			return fmt.Errorf("create fetch attempt: %w", err)
		}
		*attempt = created
		return nil
	})
}

// ListByRule returns the most recent attempts for a rule, newest first.
func (r *FetchAttemptRepo) ListByRule(ctx context.Context, ruleID string, limit int) ([]*model.FetchAttempt, error) {
	if limit <= 0 {
		limit = 50
	}

	var attempts []*model.FetchAttempt
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+fetchAttemptColumns+`
			FROM fetch_attempts
			WHERE rule_id = $1
			ORDER BY created_at DESC
			LIMIT $2`, ruleID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.FetchAttempt])
		if err != nil {
			return err
		}
		attempts = make([]*model.FetchAttempt, 0, len(collected))
		for i := range collected {
			attempts = append(attempts, &collected[i])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list fetch attempts: %w", err)
	}
	return attempts, nil
}
