package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/good-yellow-bee/driftwatch/internal/models"
)

type sqliteRuleRepo struct {
	db *sql.DB
}

const ruleColumns = `id, tenant, name, metric, threshold_type, threshold_value,
	enabled, severity, scope_json, channels_json, priority, created_at, updated_at`

func (r *sqliteRuleRepo) Create(ctx context.Context, rule *models.AlertRule) error {
	scopeJSON, err := json.Marshal(rule.Scope)
	if err != nil {
		return fmt.Errorf("marshal scope: %w", err)
	}
	channelsJSON, err := json.Marshal(rule.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO alert_rules (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ruleColumns)
	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.Tenant, rule.Name, string(rule.Metric),
		string(rule.ThresholdType), rule.ThresholdValue,
		boolToInt(rule.Enabled), string(rule.Severity),
		string(scopeJSON), string(channelsJSON), rule.Priority,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("rule %q: %w", rule.Name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (r *sqliteRuleRepo) GetByID(ctx context.Context, id string) (*models.AlertRule, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM alert_rules WHERE id = ?", ruleColumns), id)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

func (r *sqliteRuleRepo) Update(ctx context.Context, rule *models.AlertRule) error {
	scopeJSON, err := json.Marshal(rule.Scope)
	if err != nil {
		return fmt.Errorf("marshal scope: %w", err)
	}
	channelsJSON, err := json.Marshal(rule.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	query := `
		UPDATE alert_rules SET name = ?, metric = ?, threshold_type = ?,
			threshold_value = ?, enabled = ?, severity = ?, scope_json = ?,
			channels_json = ?, priority = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		rule.Name, string(rule.Metric), string(rule.ThresholdType),
		rule.ThresholdValue, boolToInt(rule.Enabled), string(rule.Severity),
		string(scopeJSON), string(channelsJSON), rule.Priority, rule.UpdatedAt,
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrNotFound)
	}
	return nil
}

func (r *sqliteRuleRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *sqliteRuleRepo) List(ctx context.Context, tenant string) ([]*models.AlertRule, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM alert_rules WHERE tenant = ? ORDER BY priority DESC, name
	`, ruleColumns)
	return r.queryRules(ctx, query, tenant)
}

func (r *sqliteRuleRepo) ListEnabled(ctx context.Context, tenant string) ([]*models.AlertRule, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM alert_rules WHERE tenant = ? AND enabled = 1
		ORDER BY priority DESC, name
	`, ruleColumns)
	return r.queryRules(ctx, query, tenant)
}

func (r *sqliteRuleRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alert_rules SET enabled = ?, updated_at = ? WHERE id = ?",
		boolToInt(enabled), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("set rule enabled: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *sqliteRuleRepo) queryRules(ctx context.Context, query string, args ...interface{}) ([]*models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanRule(row scanner) (*models.AlertRule, error) {
	rule := &models.AlertRule{}
	var metricStr, thresholdStr, severityStr, scopeJSON, channelsJSON string
	var enabled int

	err := row.Scan(
		&rule.ID, &rule.Tenant, &rule.Name, &metricStr, &thresholdStr,
		&rule.ThresholdValue, &enabled, &severityStr, &scopeJSON,
		&channelsJSON, &rule.Priority, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Metric = models.RuleMetric(metricStr)
	rule.ThresholdType = models.ThresholdType(thresholdStr)
	rule.Severity = models.SeverityLabel(severityStr)
	rule.Enabled = enabled != 0

	if err := json.Unmarshal([]byte(scopeJSON), &rule.Scope); err != nil {
		return nil, fmt.Errorf("unmarshal scope: %w", err)
	}
	if err := json.Unmarshal([]byte(channelsJSON), &rule.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal channels: %w", err)
	}
	return rule, nil
}
