package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/driftwatch/internal/models"
)

type sqliteEventRepo struct {
	db *sql.DB
}

const eventColumns = `id, tenant, rule_id, signal_id, status, category,
	signal_type, entity_label, payload, suppressed, triggered_at,
	notification_sent_at, error_message, created_at, updated_at`

// CreateOrGet inserts the event. A UNIQUE violation on (signal_id,
// rule_id) is not an error: a concurrent evaluator got there first, so
// the existing row is fetched and returned.
func (r *sqliteEventRepo) CreateOrGet(ctx context.Context, event *models.AlertEvent) (*models.AlertEvent, bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO alert_events (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventColumns)
	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.Tenant, event.RuleID, nullString(event.SignalID),
		string(event.Status), event.Category, event.SignalType, event.EntityLabel,
		event.Payload, boolToInt(event.Suppressed), event.TriggeredAt,
		event.NotificationSentAt, nullString(event.ErrorMessage),
		event.CreatedAt, event.UpdatedAt,
	)
	if err == nil {
		return event, true, nil
	}
	if !isUniqueViolation(err) {
		return nil, false, fmt.Errorf("insert alert event: %w", err)
	}

	existing, err := r.getBySignalAndRule(ctx, event.SignalID, event.RuleID)
	if err != nil {
		return nil, false, fmt.Errorf("fetch existing alert event: %w", err)
	}
	return existing, false, nil
}

func (r *sqliteEventRepo) getBySignalAndRule(ctx context.Context, signalID, ruleID string) (*models.AlertEvent, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM alert_events WHERE signal_id = ? AND rule_id = ?", eventColumns),
		nullString(signalID), ruleID)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return event, err
}

func (r *sqliteEventRepo) GetByID(ctx context.Context, id string) (*models.AlertEvent, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM alert_events WHERE id = ?", eventColumns), id)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert event: %w", err)
	}
	return event, nil
}

func (r *sqliteEventRepo) ListPending(ctx context.Context, tenant string) ([]*models.AlertEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM alert_events
		WHERE tenant = ? AND status = 'pending'
		ORDER BY triggered_at
	`, eventColumns)
	rows, err := r.db.QueryContext(ctx, query, tenant)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	defer rows.Close()

	var events []*models.AlertEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *sqliteEventRepo) MarkSent(ctx context.Context, id string, at time.Time, suppressed bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE alert_events
		SET status = 'sent', suppressed = ?, notification_sent_at = ?,
			error_message = NULL, updated_at = ?
		WHERE id = ?
	`, boolToInt(suppressed), at, time.Now(), id)
	if err != nil {
		return fmt.Errorf("mark event sent: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert event %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *sqliteEventRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE alert_events
		SET status = 'failed', error_message = ?, updated_at = ?
		WHERE id = ?
	`, errMsg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert event %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *sqliteEventRepo) SetStatus(ctx context.Context, id string, status models.EventStatus) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alert_events SET status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now(), id)
	if err != nil {
		return fmt.Errorf("set event status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert event %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountSentSince counts events for the triple whose notification went out
// at or after the cutoff. Suppressed sends are excluded so a silenced
// event does not extend its own cooldown.
func (r *sqliteEventRepo) CountSentSince(ctx context.Context, tenant, category, signalType, entityLabel string, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alert_events
		WHERE tenant = ? AND category = ? AND signal_type = ? AND entity_label = ?
			AND suppressed = 0
			AND notification_sent_at IS NOT NULL AND notification_sent_at >= ?
	`, tenant, category, signalType, entityLabel, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sent events: %w", err)
	}
	return count, nil
}

func scanEvent(row scanner) (*models.AlertEvent, error) {
	event := &models.AlertEvent{}
	var signalID, errMsg sql.NullString
	var sentAt sql.NullTime
	var statusStr string
	var suppressed int

	err := row.Scan(
		&event.ID, &event.Tenant, &event.RuleID, &signalID, &statusStr,
		&event.Category, &event.SignalType, &event.EntityLabel, &event.Payload,
		&suppressed, &event.TriggeredAt, &sentAt, &errMsg,
		&event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.SignalID = signalID.String
	event.Status = models.EventStatus(statusStr)
	event.Suppressed = suppressed != 0
	event.ErrorMessage = errMsg.String
	if sentAt.Valid {
		t := sentAt.Time
		event.NotificationSentAt = &t
	}
	return event, nil
}
