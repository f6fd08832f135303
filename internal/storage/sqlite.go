package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Pure-Go SQLite driver.
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path string
	db   *sql.DB

	records    *sqliteRecordRepo
	aggregates *sqliteAggregateRepo
	signals    *sqliteSignalRepo
	rules      *sqliteRuleRepo
	events     *sqliteEventRepo
	judgments  *sqliteJudgmentRepo
	channels   *sqliteChannelRepo
	webhooks   *sqliteWebhookRepo
	flags      *sqliteFlagRepo
	audit      *sqliteAuditRepo
}

// NewSQLiteStorage creates a new SQLite storage.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", s.path))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s.db = db

	s.records = &sqliteRecordRepo{db: db}
	s.aggregates = &sqliteAggregateRepo{db: db}
	s.signals = &sqliteSignalRepo{db: db}
	s.rules = &sqliteRuleRepo{db: db}
	s.events = &sqliteEventRepo{db: db}
	s.judgments = &sqliteJudgmentRepo{db: db}
	s.channels = &sqliteChannelRepo{db: db}
	s.webhooks = &sqliteWebhookRepo{db: db}
	s.flags = &sqliteFlagRepo{db: db}
	s.audit = &sqliteAuditRepo{db: db}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db)
}

// Records returns the raw record repository.
func (s *SQLiteStorage) Records() RecordRepository { return s.records }

// Aggregates returns the aggregate repository.
func (s *SQLiteStorage) Aggregates() AggregateRepository { return s.aggregates }

// Signals returns the signal repository.
func (s *SQLiteStorage) Signals() SignalRepository { return s.signals }

// Rules returns the alert rule repository.
func (s *SQLiteStorage) Rules() RuleRepository { return s.rules }

// Events returns the alert event repository.
func (s *SQLiteStorage) Events() EventRepository { return s.events }

// Judgments returns the operator judgment repository.
func (s *SQLiteStorage) Judgments() JudgmentRepository { return s.judgments }

// Channels returns the notification channel repository.
func (s *SQLiteStorage) Channels() ChannelRepository { return s.channels }

// Webhooks returns the webhook repository.
func (s *SQLiteStorage) Webhooks() WebhookRepository { return s.webhooks }

// Flags returns the feature flag repository.
func (s *SQLiteStorage) Flags() FlagRepository { return s.flags }

// Audit returns the audit repository.
func (s *SQLiteStorage) Audit() AuditRepository { return s.audit }

// Helper functions shared by the sqlite repos.

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// isUniqueViolation reports whether the error is a UNIQUE constraint
// failure. Matched on message text so it holds across SQLite drivers.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
