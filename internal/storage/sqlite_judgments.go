package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/driftwatch/internal/models"
)

type sqliteJudgmentRepo struct {
	db *sql.DB
}

const judgmentColumns = `id, tenant, alert_event_id, operator, verdict,
	recovered_cents, recovered_at, notes, created_at, updated_at`

// Upsert inserts the judgment, or overwrites the existing row for the
// (alert_event, operator) pair. Concurrent submitters converge
// last-writer-wins; the original created_at survives.
func (r *sqliteJudgmentRepo) Upsert(ctx context.Context, j *models.OperatorJudgment) error {
	query := fmt.Sprintf(`
		INSERT INTO operator_judgments (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (alert_event_id, operator) DO UPDATE SET
			verdict = excluded.verdict,
			recovered_cents = excluded.recovered_cents,
			recovered_at = excluded.recovered_at,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`, judgmentColumns)
	_, err := r.db.ExecContext(ctx, query,
		j.ID, j.Tenant, j.AlertEventID, j.Operator, string(j.Verdict),
		j.RecoveredCents, j.RecoveredAt, nullString(j.Notes),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert judgment: %w", err)
	}
	return nil
}

func (r *sqliteJudgmentRepo) GetByEventAndOperator(ctx context.Context, eventID, operator string) (*models.OperatorJudgment, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM operator_judgments
		WHERE alert_event_id = ? AND operator = ?
	`, judgmentColumns), eventID, operator)
	j, err := scanJudgment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get judgment: %w", err)
	}
	return j, nil
}

func (r *sqliteJudgmentRepo) ListByEvent(ctx context.Context, eventID string) ([]*models.OperatorJudgment, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM operator_judgments
		WHERE alert_event_id = ? ORDER BY created_at
	`, judgmentColumns), eventID)
	if err != nil {
		return nil, fmt.Errorf("query judgments: %w", err)
	}
	defer rows.Close()

	var judgments []*models.OperatorJudgment
	for rows.Next() {
		j, err := scanJudgment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan judgment: %w", err)
		}
		judgments = append(judgments, j)
	}
	return judgments, rows.Err()
}

// CountNoiseForTriple tallies distinct alert events sharing the identity
// triple that carry a noise verdict created at or after the cutoff.
// Real and needs_followup verdicts never count. The tenant predicate is
// applied on both tables so a judgment can never leak across tenants.
func (r *sqliteJudgmentRepo) CountNoiseForTriple(ctx context.Context, tenant, category, signalType, entityLabel string, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT e.id)
		FROM operator_judgments j
		JOIN alert_events e ON e.id = j.alert_event_id
		WHERE j.tenant = ? AND e.tenant = ?
			AND e.category = ? AND e.signal_type = ? AND e.entity_label = ?
			AND j.verdict = 'noise' AND j.created_at >= ?
	`, tenant, tenant, category, signalType, entityLabel, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count noise judgments: %w", err)
	}
	return count, nil
}

func (r *sqliteJudgmentRepo) LatestForTriple(ctx context.Context, tenant, category, signalType, entityLabel string) (*models.OperatorJudgment, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM operator_judgments
		WHERE id = (
			SELECT j.id
			FROM operator_judgments j
			JOIN alert_events e ON e.id = j.alert_event_id
			WHERE j.tenant = ? AND e.tenant = ?
				AND e.category = ? AND e.signal_type = ? AND e.entity_label = ?
			ORDER BY j.created_at DESC
			LIMIT 1
		)
	`, judgmentColumns), tenant, tenant, category, signalType, entityLabel)
	j, err := scanJudgment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest judgment for triple: %w", err)
	}
	return j, nil
}

func scanJudgment(row scanner) (*models.OperatorJudgment, error) {
	j := &models.OperatorJudgment{}
	var verdictStr string
	var notes sql.NullString
	var recoveredAt sql.NullTime

	err := row.Scan(
		&j.ID, &j.Tenant, &j.AlertEventID, &j.Operator, &verdictStr,
		&j.RecoveredCents, &recoveredAt, &notes, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Verdict = models.Verdict(verdictStr)
	j.Notes = notes.String
	if recoveredAt.Valid {
		t := recoveredAt.Time
		j.RecoveredAt = &t
	}
	return j, nil
}
