package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/good-yellow-bee/driftwatch/internal/models"
)

type sqliteAuditRepo struct {
	db *sql.DB
}

func (r *sqliteAuditRepo) Create(ctx context.Context, rec *models.AuditRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_records (id, tenant, action, ref_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Tenant, string(rec.Action), rec.RefID, nullString(rec.Detail), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (r *sqliteAuditRepo) ListByRef(ctx context.Context, refID string, limit int) ([]*models.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant, action, ref_id, detail, created_at
		FROM audit_records WHERE ref_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, refID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		rec := &models.AuditRecord{}
		var actionStr string
		var detail sql.NullString
		err := rows.Scan(&rec.ID, &rec.Tenant, &actionStr, &rec.RefID, &detail, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Action = models.AuditAction(actionStr)
		rec.Detail = detail.String
		records = append(records, rec)
	}
	return records, rows.Err()
}
