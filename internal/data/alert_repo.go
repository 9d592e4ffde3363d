package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/target/mmk-ui-api/internal/core"
	"github.com/target/mmk-ui-api/internal/data/pgxutil"
	"github.com/target/mmk-ui-api/internal/domain/model"
)

// ErrAlertNotFound is returned when an alert is not found.
var ErrAlertNotFound = errors.New("alert not found")

// AlertRepo implements core.AlertRepository against Postgres.
type AlertRepo struct {
	DB *sql.DB
}

// NewAlertRepo creates a new AlertRepo instance with the given database connection.
func NewAlertRepo(db *sql.DB) *AlertRepo {
	return &AlertRepo{DB: db}
}

var _ core.AlertRepository = (*AlertRepo)(nil)

const alertColumns = `
	id, dedupe_key, rule_id, workspace_id, severity, title, body,
	triggered_at, current_value, previous_value, change_kind, diff_summary,
	channels, created_at
`

// Create persists a new Alert. The dedupe_key column carries a unique
// constraint, so a racing duplicate insert surfaces as a distinct error the
// Dedupe Gate's caller can recognize rather than a generic failure.
func (r *AlertRepo) Create(ctx context.Context, alert *model.Alert) error {
	if alert == nil {
		return errors.New("alert is required")
	}
	if err := alert.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO alerts (dedupe_key, rule_id, workspace_id, severity, title, body,
			triggered_at, current_value, previous_value, change_kind, diff_summary, channels, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + alertColumns

	return pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query,
			alert.DedupeKey, alert.RuleID, alert.WorkspaceID, alert.Severity, alert.Title, alert.Body,
			alert.TriggeredAt, alert.CurrentValue, alert.PreviousValue, alert.ChangeKind, alert.DiffSummary,
			alert.Channels, alert.CreatedAt,
		)
		if err != nil {
			return r.handleCreateError(err)
		}
		defer rows.Close()

		created, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Alert])
		if err != nil {
			return err
		}
		*alert = created
		return nil
	})
}

func (r *AlertRepo) handleCreateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("create alert: duplicate dedupe key: %w", err)
	}
	return fmt.Errorf("create alert: %w", err)
}

// GetByID retrieves an alert by its ID, or nil if none exists.
func (r *AlertRepo) GetByID(ctx context.Context, id string) (*model.Alert, error) {
	return r.queryOne(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
}

// GetByDedupeKey returns the existing alert with this key, or nil if none exists.
func (r *AlertRepo) GetByDedupeKey(ctx context.Context, dedupeKey string) (*model.Alert, error) {
	return r.queryOne(ctx, `SELECT `+alertColumns+` FROM alerts WHERE dedupe_key = $1`, dedupeKey)
}

// LatestForRuleSince returns the most recent alert triggered for ruleID at
// or after since, or nil if none.
func (r *AlertRepo) LatestForRuleSince(ctx context.Context, ruleID string, since time.Time) (*model.Alert, error) {
	return r.queryOne(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE rule_id = $1 AND triggered_at >= $2
		ORDER BY triggered_at DESC
		LIMIT 1`, ruleID, since)
}

func (r *AlertRepo) queryOne(ctx context.Context, query string, args ...any) (*model.Alert, error) {
	var alert model.Alert
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		alert, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Alert])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query alert: %w", err)
	}
	return &alert, nil
}

// List returns alerts matching opts, most recent first.
func (r *AlertRepo) List(ctx context.Context, opts *model.AlertListOptions) ([]*model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	var args []any

	if opts != nil {
		if opts.WorkspaceID != nil {
			args = append(args, *opts.WorkspaceID)
			query += fmt.Sprintf(" AND workspace_id = $%d", len(args))
		}
		if opts.RuleID != nil {
			args = append(args, *opts.RuleID)
			query += fmt.Sprintf(" AND rule_id = $%d", len(args))
		}
		if opts.Severity != nil {
			args = append(args, *opts.Severity)
			query += fmt.Sprintf(" AND severity = $%d", len(args))
		}
	}

	query += " ORDER BY triggered_at DESC"

	limit := 50
	offset := 0
	if opts != nil {
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		offset = opts.Offset
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	var alerts []*model.Alert
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.Alert])
		if err != nil {
			return err
		}
		alerts = make([]*model.Alert, 0, len(collected))
		for i := range collected {
			alerts = append(alerts, &collected[i])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}
