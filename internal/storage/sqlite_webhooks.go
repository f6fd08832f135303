package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/good-yellow-bee/driftwatch/internal/models"
)

type sqliteWebhookRepo struct {
	db *sql.DB
}

const endpointColumns = `id, tenant, url, secret, event_types_json, active, created_at, updated_at`

const deliveryColumns = `id, endpoint_id, event_type, payload, status, attempts,
	max_attempts, last_attempt_at, next_attempt_at, last_error, response_code,
	created_at, updated_at`

// generateSecret returns 32 random bytes hex-encoded, the per-endpoint
// HMAC signing key.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (r *sqliteWebhookRepo) CreateEndpoint(ctx context.Context, e *models.WebhookEndpoint) error {
	if e.Secret == "" {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		e.Secret = secret
	}

	eventTypesJSON, err := json.Marshal(e.EventTypes)
	if err != nil {
		return fmt.Errorf("marshal event types: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO webhook_endpoints (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, endpointColumns)
	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.Tenant, e.URL, e.Secret, string(eventTypesJSON),
		boolToInt(e.Active), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook endpoint: %w", err)
	}
	return nil
}

func (r *sqliteWebhookRepo) GetEndpoint(ctx context.Context, id string) (*models.WebhookEndpoint, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM webhook_endpoints WHERE id = ?", endpointColumns), id)
	e, err := scanEndpoint(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook endpoint: %w", err)
	}
	return e, nil
}

// UpdateEndpoint updates everything except the secret, which is written
// once at creation and never rotated through this path.
func (r *sqliteWebhookRepo) UpdateEndpoint(ctx context.Context, e *models.WebhookEndpoint) error {
	eventTypesJSON, err := json.Marshal(e.EventTypes)
	if err != nil {
		return fmt.Errorf("marshal event types: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE webhook_endpoints
		SET url = ?, event_types_json = ?, active = ?, updated_at = ?
		WHERE id = ?
	`, e.URL, string(eventTypesJSON), boolToInt(e.Active), e.UpdatedAt, e.ID)
	if err != nil {
		return fmt.Errorf("update webhook endpoint: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("webhook endpoint %s: %w", e.ID, ErrNotFound)
	}
	return nil
}

func (r *sqliteWebhookRepo) ListActiveEndpoints(ctx context.Context, tenant string) ([]*models.WebhookEndpoint, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM webhook_endpoints
		WHERE tenant = ? AND active = 1 ORDER BY created_at
	`, endpointColumns)
	rows, err := r.db.QueryContext(ctx, query, tenant)
	if err != nil {
		return nil, fmt.Errorf("query webhook endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*models.WebhookEndpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook endpoint: %w", err)
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

func (r *sqliteWebhookRepo) CreateDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	query := fmt.Sprintf(`
		INSERT INTO webhook_deliveries (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, deliveryColumns)
	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.EndpointID, d.EventType, d.Payload, string(d.Status),
		d.Attempts, d.MaxAttempts, d.LastAttemptAt, d.NextAttemptAt,
		nullString(d.LastError), d.ResponseCode, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

func (r *sqliteWebhookRepo) GetDelivery(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM webhook_deliveries WHERE id = ?", deliveryColumns), id)
	d, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook delivery: %w", err)
	}
	return d, nil
}

func (r *sqliteWebhookRepo) UpdateDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = ?, attempts = ?, last_attempt_at = ?, next_attempt_at = ?,
			last_error = ?, response_code = ?, updated_at = ?
		WHERE id = ?
	`, string(d.Status), d.Attempts, d.LastAttemptAt, d.NextAttemptAt,
		nullString(d.LastError), d.ResponseCode, d.UpdatedAt, d.ID)
	if err != nil {
		return fmt.Errorf("update webhook delivery: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("webhook delivery %s: %w", d.ID, ErrNotFound)
	}
	return nil
}

func (r *sqliteWebhookRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.WebhookDelivery, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM webhook_deliveries
		WHERE status IN ('pending', 'retrying')
			AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY created_at
		LIMIT ?
	`, deliveryColumns)
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*models.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func scanEndpoint(row scanner) (*models.WebhookEndpoint, error) {
	e := &models.WebhookEndpoint{}
	var eventTypesJSON string
	var active int

	err := row.Scan(&e.ID, &e.Tenant, &e.URL, &e.Secret, &eventTypesJSON,
		&active, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.Active = active != 0
	if err := json.Unmarshal([]byte(eventTypesJSON), &e.EventTypes); err != nil {
		return nil, fmt.Errorf("unmarshal event types: %w", err)
	}
	return e, nil
}

func scanDelivery(row scanner) (*models.WebhookDelivery, error) {
	d := &models.WebhookDelivery{}
	var statusStr string
	var lastError sql.NullString
	var lastAttempt, nextAttempt sql.NullTime

	err := row.Scan(&d.ID, &d.EndpointID, &d.EventType, &d.Payload, &statusStr,
		&d.Attempts, &d.MaxAttempts, &lastAttempt, &nextAttempt,
		&lastError, &d.ResponseCode, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	d.Status = models.DeliveryStatus(statusStr)
	d.LastError = lastError.String
	if lastAttempt.Valid {
		t := lastAttempt.Time
		d.LastAttemptAt = &t
	}
	if nextAttempt.Valid {
		t := nextAttempt.Time
		d.NextAttemptAt = &t
	}
	return d, nil
}
