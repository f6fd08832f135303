package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/driftwatch/internal/models"
)

type sqliteSignalRepo struct {
	db *sql.DB
}

const signalColumns = `id, tenant, metric, kind, entity_key,
	baseline_start, baseline_end, recent_start, recent_end,
	baseline_value, recent_value, delta, relative_delta, has_relative_delta,
	severity, confidence, summary, created_at`

// ReplaceWindow deletes signals whose recent window starts in [start, end)
// and inserts the replacements in the same transaction, mirroring the
// aggregate repo so detector re-runs are idempotent.
func (r *sqliteSignalRepo) ReplaceWindow(ctx context.Context, tenant string, metric models.Metric, start, end time.Time, signals []*models.Signal) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace signals: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"DELETE FROM signals WHERE tenant = ? AND metric = ? AND recent_start >= ? AND recent_start < ?",
		tenant, string(metric), start.UTC(), end.UTC(),
	)
	if err != nil {
		return fmt.Errorf("delete window signals: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO signals (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, signalColumns))
	if err != nil {
		return fmt.Errorf("prepare insert signals: %w", err)
	}
	defer stmt.Close()

	for _, s := range signals {
		_, err := stmt.ExecContext(ctx,
			s.ID, s.Tenant, string(s.Metric), string(s.Kind), s.EntityKey,
			s.BaselineStart.UTC(), s.BaselineEnd.UTC(), s.RecentStart.UTC(), s.RecentEnd.UTC(),
			s.BaselineValue, s.RecentValue, s.Delta, s.RelativeDelta, boolToInt(s.HasRelativeDelta),
			s.Severity, s.Confidence, s.Summary, s.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert signal %s: %w", s.ID, err)
		}
	}

	return tx.Commit()
}

func (r *sqliteSignalRepo) GetByID(ctx context.Context, id string) (*models.Signal, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM signals WHERE id = ?", signalColumns), id)
	s, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get signal: %w", err)
	}
	return s, nil
}

func (r *sqliteSignalRepo) ListByTenant(ctx context.Context, tenant string, limit, offset int) ([]*models.Signal, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM signals
		WHERE tenant = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, signalColumns)
	rows, err := r.db.QueryContext(ctx, query, tenant, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var signals []*models.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSignal(row scanner) (*models.Signal, error) {
	s := &models.Signal{}
	var metricStr, kindStr string
	var hasRel int
	err := row.Scan(
		&s.ID, &s.Tenant, &metricStr, &kindStr, &s.EntityKey,
		&s.BaselineStart, &s.BaselineEnd, &s.RecentStart, &s.RecentEnd,
		&s.BaselineValue, &s.RecentValue, &s.Delta, &s.RelativeDelta, &hasRel,
		&s.Severity, &s.Confidence, &s.Summary, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Metric = models.Metric(metricStr)
	s.Kind = models.SignalKind(kindStr)
	s.HasRelativeDelta = hasRel != 0
	return s, nil
}
