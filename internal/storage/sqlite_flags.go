package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/good-yellow-bee/driftwatch/internal/models"
)

type sqliteFlagRepo struct {
	db *sql.DB
}

const flagColumns = `id, name, enabled, rollout_percentage, enabled_dev,
	enabled_staging, enabled_prod, created_at, updated_at`

func (r *sqliteFlagRepo) UpsertFlag(ctx context.Context, f *models.FeatureFlag) error {
	query := fmt.Sprintf(`
		INSERT INTO feature_flags (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			enabled = excluded.enabled,
			rollout_percentage = excluded.rollout_percentage,
			enabled_dev = excluded.enabled_dev,
			enabled_staging = excluded.enabled_staging,
			enabled_prod = excluded.enabled_prod,
			updated_at = excluded.updated_at
	`, flagColumns)
	_, err := r.db.ExecContext(ctx, query,
		f.ID, f.Name, boolToInt(f.Enabled), f.RolloutPercentage,
		boolToInt(f.EnabledDev), boolToInt(f.EnabledStaging), boolToInt(f.EnabledProd),
		f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert flag: %w", err)
	}
	return nil
}

func (r *sqliteFlagRepo) GetFlag(ctx context.Context, name string) (*models.FeatureFlag, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM feature_flags WHERE name = ?", flagColumns), name)

	f := &models.FeatureFlag{}
	var enabled, dev, staging, prod int
	err := row.Scan(&f.ID, &f.Name, &enabled, &f.RolloutPercentage,
		&dev, &staging, &prod, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flag: %w", err)
	}

	f.Enabled = enabled != 0
	f.EnabledDev = dev != 0
	f.EnabledStaging = staging != 0
	f.EnabledProd = prod != 0
	return f, nil
}

func (r *sqliteFlagRepo) SetOverride(ctx context.Context, o *models.FeatureFlagOverride) error {
	query := `
		INSERT INTO feature_flag_overrides (id, flag_id, tenant, user_id, value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (flag_id, tenant, user_id) DO UPDATE SET
			value = excluded.value
	`
	_, err := r.db.ExecContext(ctx, query,
		o.ID, o.FlagID, o.Tenant, o.UserID, string(o.Value), o.CreatedAt)
	if err != nil {
		return fmt.Errorf("set flag override: %w", err)
	}
	return nil
}

func (r *sqliteFlagRepo) GetTenantOverride(ctx context.Context, flagID, tenant string) (*models.FeatureFlagOverride, error) {
	return r.getOverride(ctx,
		"SELECT id, flag_id, tenant, user_id, value, created_at FROM feature_flag_overrides WHERE flag_id = ? AND tenant = ? AND user_id = ''",
		flagID, tenant)
}

func (r *sqliteFlagRepo) GetUserOverride(ctx context.Context, flagID, userID string) (*models.FeatureFlagOverride, error) {
	return r.getOverride(ctx,
		"SELECT id, flag_id, tenant, user_id, value, created_at FROM feature_flag_overrides WHERE flag_id = ? AND user_id = ? AND tenant = ''",
		flagID, userID)
}

func (r *sqliteFlagRepo) getOverride(ctx context.Context, query string, args ...interface{}) (*models.FeatureFlagOverride, error) {
	o := &models.FeatureFlagOverride{}
	var valueStr string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&o.ID, &o.FlagID, &o.Tenant, &o.UserID, &valueStr, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flag override: %w", err)
	}
	o.Value = models.OverrideValue(valueStr)
	return o, nil
}
