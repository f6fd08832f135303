package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Raw operational records, the aggregator's input
			CREATE TABLE IF NOT EXISTS raw_records (
				id TEXT PRIMARY KEY,
				tenant TEXT NOT NULL,
				metric TEXT NOT NULL,
				entity_key TEXT NOT NULL,
				day DATETIME NOT NULL,
				flagged INTEGER NOT NULL DEFAULT 0,
				amount REAL NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL
			);

			-- Per-entity per-day rollups
			CREATE TABLE IF NOT EXISTS aggregates (
				id TEXT PRIMARY KEY,
				tenant TEXT NOT NULL,
				metric TEXT NOT NULL,
				entity_key TEXT NOT NULL,
				day DATETIME NOT NULL,
				total_count INTEGER NOT NULL,
				flagged_count INTEGER NOT NULL,
				amount_sum REAL NOT NULL,
				rate REAL NOT NULL,
				created_at DATETIME NOT NULL,
				UNIQUE (tenant, metric, entity_key, day)
			);

			-- Immutable detection signals
			CREATE TABLE IF NOT EXISTS signals (
				id TEXT PRIMARY KEY,
				tenant TEXT NOT NULL,
				metric TEXT NOT NULL,
				kind TEXT NOT NULL,
				entity_key TEXT NOT NULL,
				baseline_start DATETIME NOT NULL,
				baseline_end DATETIME NOT NULL,
				recent_start DATETIME NOT NULL,
				recent_end DATETIME NOT NULL,
				baseline_value REAL NOT NULL,
				recent_value REAL NOT NULL,
				delta REAL NOT NULL,
				relative_delta REAL NOT NULL,
				has_relative_delta INTEGER NOT NULL,
				severity REAL NOT NULL,
				confidence REAL NOT NULL,
				summary TEXT NOT NULL,
				created_at DATETIME NOT NULL
			);

			-- Tenant alert rules
			CREATE TABLE IF NOT EXISTS alert_rules (
				id TEXT PRIMARY KEY,
				tenant TEXT NOT NULL,
				name TEXT NOT NULL,
				metric TEXT NOT NULL,
				threshold_type TEXT NOT NULL,
				threshold_value REAL NOT NULL,
				enabled INTEGER NOT NULL DEFAULT 1,
				severity TEXT NOT NULL,
				scope_json TEXT NOT NULL,
				channels_json TEXT NOT NULL,
				priority INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				UNIQUE (tenant, name)
			);

			-- Alert events; one per (signal, rule) enforced here
			CREATE TABLE IF NOT EXISTS alert_events (
				id TEXT PRIMARY KEY,
				tenant TEXT NOT NULL,
				rule_id TEXT NOT NULL,
				signal_id TEXT,
				status TEXT NOT NULL DEFAULT 'pending',
				category TEXT NOT NULL,
				signal_type TEXT NOT NULL,
				entity_label TEXT NOT NULL,
				payload TEXT NOT NULL,
				suppressed INTEGER NOT NULL DEFAULT 0,
				triggered_at DATETIME NOT NULL,
				notification_sent_at DATETIME,
				error_message TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				UNIQUE (signal_id, rule_id),
				FOREIGN KEY (rule_id) REFERENCES alert_rules(id) ON DELETE CASCADE
			);

			-- Operator feedback; one per (alert_event, operator)
			CREATE TABLE IF NOT EXISTS operator_judgments (
				id TEXT PRIMARY KEY,
				tenant TEXT NOT NULL,
				alert_event_id TEXT NOT NULL,
				operator TEXT NOT NULL,
				verdict TEXT NOT NULL,
				recovered_cents INTEGER NOT NULL DEFAULT 0,
				recovered_at DATETIME,
				notes TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				UNIQUE (alert_event_id, operator),
				FOREIGN KEY (alert_event_id) REFERENCES alert_events(id) ON DELETE CASCADE
			);

			-- Notification channels
			CREATE TABLE IF NOT EXISTS notification_channels (
				id TEXT PRIMARY KEY,
				tenant TEXT NOT NULL,
				name TEXT NOT NULL,
				type TEXT NOT NULL,
				config_json TEXT NOT NULL,
				enabled INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				UNIQUE (tenant, name)
			);

			-- Webhook endpoints
			CREATE TABLE IF NOT EXISTS webhook_endpoints (
				id TEXT PRIMARY KEY,
				tenant TEXT NOT NULL,
				url TEXT NOT NULL,
				secret TEXT NOT NULL,
				event_types_json TEXT NOT NULL,
				active INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Webhook deliveries
			CREATE TABLE IF NOT EXISTS webhook_deliveries (
				id TEXT PRIMARY KEY,
				endpoint_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				payload TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				attempts INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 5,
				last_attempt_at DATETIME,
				next_attempt_at DATETIME,
				last_error TEXT,
				response_code INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY (endpoint_id) REFERENCES webhook_endpoints(id) ON DELETE CASCADE
			);

			-- Feature flags and overrides
			CREATE TABLE IF NOT EXISTS feature_flags (
				id TEXT PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				enabled INTEGER NOT NULL DEFAULT 0,
				rollout_percentage INTEGER NOT NULL DEFAULT 0,
				enabled_dev INTEGER NOT NULL DEFAULT 1,
				enabled_staging INTEGER NOT NULL DEFAULT 1,
				enabled_prod INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			CREATE TABLE IF NOT EXISTS feature_flag_overrides (
				id TEXT PRIMARY KEY,
				flag_id TEXT NOT NULL,
				tenant TEXT NOT NULL DEFAULT '',
				user_id TEXT NOT NULL DEFAULT '',
				value TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				UNIQUE (flag_id, tenant, user_id),
				FOREIGN KEY (flag_id) REFERENCES feature_flags(id) ON DELETE CASCADE
			);

			-- Append-only audit trail
			CREATE TABLE IF NOT EXISTS audit_records (
				id TEXT PRIMARY KEY,
				tenant TEXT NOT NULL,
				action TEXT NOT NULL,
				ref_id TEXT NOT NULL,
				detail TEXT,
				created_at DATETIME NOT NULL
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_raw_records_window ON raw_records(tenant, metric, day);
			CREATE INDEX IF NOT EXISTS idx_aggregates_window ON aggregates(tenant, metric, day);
			CREATE INDEX IF NOT EXISTS idx_signals_window ON signals(tenant, metric, recent_start);
			CREATE INDEX IF NOT EXISTS idx_rules_tenant ON alert_rules(tenant, enabled);
			CREATE INDEX IF NOT EXISTS idx_events_triple ON alert_events(tenant, category, signal_type, entity_label);
			CREATE INDEX IF NOT EXISTS idx_events_status ON alert_events(tenant, status);
			CREATE INDEX IF NOT EXISTS idx_judgments_event ON operator_judgments(alert_event_id);
			CREATE INDEX IF NOT EXISTS idx_channels_tenant ON notification_channels(tenant, enabled);
			CREATE INDEX IF NOT EXISTS idx_endpoints_tenant ON webhook_endpoints(tenant, active);
			CREATE INDEX IF NOT EXISTS idx_deliveries_due ON webhook_deliveries(status, next_attempt_at);
			CREATE INDEX IF NOT EXISTS idx_audit_ref ON audit_records(ref_id);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
