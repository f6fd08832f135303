package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/driftwatch/internal/models"
)

type sqliteAggregateRepo struct {
	db *sql.DB
}

// ReplaceWindow deletes aggregates strictly within [start, end) and
// inserts the replacements inside one transaction, so concurrent readers
// never observe a partially replaced window and re-runs are idempotent.
func (r *sqliteAggregateRepo) ReplaceWindow(ctx context.Context, tenant string, metric models.Metric, start, end time.Time, aggs []*models.Aggregate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace window: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"DELETE FROM aggregates WHERE tenant = ? AND metric = ? AND day >= ? AND day < ?",
		tenant, string(metric), start.UTC(), end.UTC(),
	)
	if err != nil {
		return fmt.Errorf("delete window aggregates: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO aggregates (id, tenant, metric, entity_key, day,
			total_count, flagged_count, amount_sum, rate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert aggregates: %w", err)
	}
	defer stmt.Close()

	for _, a := range aggs {
		_, err := stmt.ExecContext(ctx,
			a.ID, a.Tenant, string(a.Metric), a.EntityKey, a.Day.UTC(),
			a.TotalCount, a.FlaggedCount, a.AmountSum, a.Rate, a.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert aggregate %s/%s: %w", a.EntityKey, a.Day.Format("2006-01-02"), err)
		}
	}

	return tx.Commit()
}

func (r *sqliteAggregateRepo) SumWindow(ctx context.Context, tenant string, metric models.Metric, start, end time.Time) ([]models.WindowSum, error) {
	query := `
		SELECT entity_key, SUM(total_count), SUM(flagged_count), SUM(amount_sum)
		FROM aggregates
		WHERE tenant = ? AND metric = ? AND day >= ? AND day < ?
		GROUP BY entity_key
		ORDER BY entity_key
	`
	rows, err := r.db.QueryContext(ctx, query, tenant, string(metric), start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("sum window: %w", err)
	}
	defer rows.Close()

	var sums []models.WindowSum
	for rows.Next() {
		var s models.WindowSum
		if err := rows.Scan(&s.EntityKey, &s.TotalCount, &s.FlaggedCount, &s.AmountSum); err != nil {
			return nil, fmt.Errorf("scan window sum: %w", err)
		}
		sums = append(sums, s)
	}
	return sums, rows.Err()
}

func (r *sqliteAggregateRepo) ListWindow(ctx context.Context, tenant string, metric models.Metric, start, end time.Time) ([]*models.Aggregate, error) {
	query := `
		SELECT id, tenant, metric, entity_key, day, total_count, flagged_count,
			amount_sum, rate, created_at
		FROM aggregates
		WHERE tenant = ? AND metric = ? AND day >= ? AND day < ?
		ORDER BY entity_key, day
	`
	rows, err := r.db.QueryContext(ctx, query, tenant, string(metric), start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []*models.Aggregate
	for rows.Next() {
		a := &models.Aggregate{}
		var metricStr string
		err := rows.Scan(&a.ID, &a.Tenant, &metricStr, &a.EntityKey, &a.Day,
			&a.TotalCount, &a.FlaggedCount, &a.AmountSum, &a.Rate, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		a.Metric = models.Metric(metricStr)
		aggs = append(aggs, a)
	}
	return aggs, rows.Err()
}
