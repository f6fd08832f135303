package storage

import (
	"context"
	"database/sql"
	"fmt"

	"time"

	"github.com/good-yellow-bee/driftwatch/internal/models"
)

type sqliteRecordRepo struct {
	db *sql.DB
}

func (r *sqliteRecordRepo) Insert(ctx context.Context, records []*models.RawRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert records: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO raw_records (id, tenant, metric, entity_key, day, flagged, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert records: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.ID, rec.Tenant, string(rec.Metric), rec.EntityKey,
			rec.Day.UTC(), boolToInt(rec.Flagged), rec.Amount, rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert record %s: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

func (r *sqliteRecordRepo) ListWindow(ctx context.Context, tenant string, metric models.Metric, start, end time.Time) ([]*models.RawRecord, error) {
	query := `
		SELECT id, tenant, metric, entity_key, day, flagged, amount, created_at
		FROM raw_records
		WHERE tenant = ? AND metric = ? AND day >= ? AND day < ?
		ORDER BY day, entity_key
	`
	rows, err := r.db.QueryContext(ctx, query, tenant, string(metric), start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []*models.RawRecord
	for rows.Next() {
		rec := &models.RawRecord{}
		var metricStr string
		var flagged int
		err := rows.Scan(&rec.ID, &rec.Tenant, &metricStr, &rec.EntityKey,
			&rec.Day, &flagged, &rec.Amount, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Metric = models.Metric(metricStr)
		rec.Flagged = flagged != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}
