package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/good-yellow-bee/driftwatch/internal/models"
)

type sqliteChannelRepo struct {
	db *sql.DB
}

const channelColumns = `id, tenant, name, type, config_json, enabled, created_at, updated_at`

func (r *sqliteChannelRepo) Create(ctx context.Context, ch *models.NotificationChannel) error {
	query := fmt.Sprintf(`
		INSERT INTO notification_channels (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, channelColumns)
	_, err := r.db.ExecContext(ctx, query,
		ch.ID, ch.Tenant, ch.Name, string(ch.Type), ch.Config,
		boolToInt(ch.Enabled), ch.CreatedAt, ch.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("channel %q: %w", ch.Name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

func (r *sqliteChannelRepo) GetByID(ctx context.Context, id string) (*models.NotificationChannel, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM notification_channels WHERE id = ?", channelColumns), id)
	ch, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return ch, nil
}

func (r *sqliteChannelRepo) Update(ctx context.Context, ch *models.NotificationChannel) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notification_channels
		SET name = ?, type = ?, config_json = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`, ch.Name, string(ch.Type), ch.Config, boolToInt(ch.Enabled), ch.UpdatedAt, ch.ID)
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("channel %s: %w", ch.ID, ErrNotFound)
	}
	return nil
}

func (r *sqliteChannelRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM notification_channels WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *sqliteChannelRepo) ListEnabled(ctx context.Context, tenant string) ([]*models.NotificationChannel, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM notification_channels
		WHERE tenant = ? AND enabled = 1 ORDER BY name
	`, channelColumns)
	return r.queryChannels(ctx, query, tenant)
}

func (r *sqliteChannelRepo) ListEnabledByNames(ctx context.Context, tenant string, names []string) ([]*models.NotificationChannel, error) {
	if len(names) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	query := fmt.Sprintf(`
		SELECT %s FROM notification_channels
		WHERE tenant = ? AND enabled = 1 AND name IN (%s) ORDER BY name
	`, channelColumns, placeholders)

	args := make([]interface{}, 0, len(names)+1)
	args = append(args, tenant)
	for _, n := range names {
		args = append(args, n)
	}
	return r.queryChannels(ctx, query, args...)
}

func (r *sqliteChannelRepo) queryChannels(ctx context.Context, query string, args ...interface{}) ([]*models.NotificationChannel, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var channels []*models.NotificationChannel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

func scanChannel(row scanner) (*models.NotificationChannel, error) {
	ch := &models.NotificationChannel{}
	var typeStr string
	var enabled int

	err := row.Scan(&ch.ID, &ch.Tenant, &ch.Name, &typeStr, &ch.Config,
		&enabled, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return nil, err
	}

	ch.Type = models.ChannelType(typeStr)
	ch.Enabled = enabled != 0
	return ch, nil
}
