// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/driftwatch/internal/models"
)

// ErrNotFound signals that a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate signals that a uniqueness constraint rejected a create.
var ErrDuplicate = errors.New("already exists")

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Records() RecordRepository
	Aggregates() AggregateRepository
	Signals() SignalRepository
	Rules() RuleRepository
	Events() EventRepository
	Judgments() JudgmentRepository
	Channels() ChannelRepository
	Webhooks() WebhookRepository
	Flags() FlagRepository
	Audit() AuditRepository
}

// RecordRepository stores raw operational records, the aggregator's input.
type RecordRepository interface {
	Insert(ctx context.Context, records []*models.RawRecord) error
	// ListWindow returns records for the tenant and metric with
	// Day in [start, end).
	ListWindow(ctx context.Context, tenant string, metric models.Metric, start, end time.Time) ([]*models.RawRecord, error)
}

// AggregateRepository stores per-entity per-day rollups.
type AggregateRepository interface {
	// ReplaceWindow atomically deletes all aggregates for the tenant and
	// metric with Day in [start, end) and inserts the given rows in the
	// same transaction. Re-running over the same window is idempotent.
	ReplaceWindow(ctx context.Context, tenant string, metric models.Metric, start, end time.Time, aggs []*models.Aggregate) error
	// SumWindow sums aggregates by entity key with Day in [start, end).
	SumWindow(ctx context.Context, tenant string, metric models.Metric, start, end time.Time) ([]models.WindowSum, error)
	// ListWindow returns the raw aggregate rows in [start, end).
	ListWindow(ctx context.Context, tenant string, metric models.Metric, start, end time.Time) ([]*models.Aggregate, error)
}

// SignalRepository stores immutable signals.
type SignalRepository interface {
	// ReplaceWindow atomically deletes existing signals for the tenant and
	// metric whose recent window starts in [start, end) and inserts the
	// given ones, so detector re-runs never duplicate.
	ReplaceWindow(ctx context.Context, tenant string, metric models.Metric, start, end time.Time, signals []*models.Signal) error
	GetByID(ctx context.Context, id string) (*models.Signal, error)
	ListByTenant(ctx context.Context, tenant string, limit, offset int) ([]*models.Signal, error)
}

// RuleRepository stores tenant alert rules.
type RuleRepository interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	GetByID(ctx context.Context, id string) (*models.AlertRule, error)
	Update(ctx context.Context, rule *models.AlertRule) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, tenant string) ([]*models.AlertRule, error)
	ListEnabled(ctx context.Context, tenant string) ([]*models.AlertRule, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
}

// EventRepository stores alert events and enforces the one-event-per-
// (signal, rule) invariant at the schema level.
type EventRepository interface {
	// CreateOrGet inserts the event, or returns the existing row when the
	// (signal, rule) pair already has one. The second return value is
	// true when a new row was created.
	CreateOrGet(ctx context.Context, event *models.AlertEvent) (*models.AlertEvent, bool, error)
	GetByID(ctx context.Context, id string) (*models.AlertEvent, error)
	ListPending(ctx context.Context, tenant string) ([]*models.AlertEvent, error)
	// MarkSent transitions the event to sent, stamping the send time and
	// the suppressed marker, and clears any prior error.
	MarkSent(ctx context.Context, id string, at time.Time, suppressed bool) error
	// MarkFailed transitions the event to failed with the error message.
	MarkFailed(ctx context.Context, id string, errMsg string) error
	// SetStatus sets a lifecycle status (acknowledged, resolved).
	SetStatus(ctx context.Context, id string, status models.EventStatus) error
	// CountSentSince counts non-suppressed events for the identity triple
	// whose notification was sent at or after the cutoff. Cooldown input.
	CountSentSince(ctx context.Context, tenant, category, signalType, entityLabel string, cutoff time.Time) (int64, error)
}

// JudgmentRepository stores operator feedback with upsert semantics.
type JudgmentRepository interface {
	// Upsert inserts the judgment or, when the (alert_event, operator)
	// pair exists, overwrites it last-writer-wins.
	Upsert(ctx context.Context, j *models.OperatorJudgment) error
	GetByEventAndOperator(ctx context.Context, eventID, operator string) (*models.OperatorJudgment, error)
	ListByEvent(ctx context.Context, eventID string) ([]*models.OperatorJudgment, error)
	// CountNoiseForTriple counts distinct alert events sharing the triple
	// that carry a noise judgment created at or after the cutoff.
	CountNoiseForTriple(ctx context.Context, tenant, category, signalType, entityLabel string, cutoff time.Time) (int64, error)
	// LatestForTriple returns the most recent judgment of any verdict on
	// an event sharing the triple, or ErrNotFound.
	LatestForTriple(ctx context.Context, tenant, category, signalType, entityLabel string) (*models.OperatorJudgment, error)
}

// ChannelRepository stores notification channels.
type ChannelRepository interface {
	Create(ctx context.Context, ch *models.NotificationChannel) error
	GetByID(ctx context.Context, id string) (*models.NotificationChannel, error)
	Update(ctx context.Context, ch *models.NotificationChannel) error
	Delete(ctx context.Context, id string) error
	// ListEnabled returns the tenant's enabled channels.
	ListEnabled(ctx context.Context, tenant string) ([]*models.NotificationChannel, error)
	// ListEnabledByNames filters the tenant's enabled channels to the
	// given names, preserving only matches.
	ListEnabledByNames(ctx context.Context, tenant string, names []string) ([]*models.NotificationChannel, error)
}

// WebhookRepository stores webhook endpoints and deliveries.
type WebhookRepository interface {
	// CreateEndpoint saves the endpoint, generating its signing secret on
	// first save.
	CreateEndpoint(ctx context.Context, e *models.WebhookEndpoint) error
	GetEndpoint(ctx context.Context, id string) (*models.WebhookEndpoint, error)
	UpdateEndpoint(ctx context.Context, e *models.WebhookEndpoint) error
	// ListActiveEndpoints returns the tenant's active endpoints.
	ListActiveEndpoints(ctx context.Context, tenant string) ([]*models.WebhookEndpoint, error)

	CreateDelivery(ctx context.Context, d *models.WebhookDelivery) error
	GetDelivery(ctx context.Context, id string) (*models.WebhookDelivery, error)
	UpdateDelivery(ctx context.Context, d *models.WebhookDelivery) error
	// ListDue returns deliveries in pending or retrying whose
	// next_attempt_at is null or at/before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.WebhookDelivery, error)
}

// FlagRepository stores feature flags and overrides.
type FlagRepository interface {
	UpsertFlag(ctx context.Context, f *models.FeatureFlag) error
	GetFlag(ctx context.Context, name string) (*models.FeatureFlag, error)
	SetOverride(ctx context.Context, o *models.FeatureFlagOverride) error
	// GetTenantOverride returns the tenant override or ErrNotFound.
	GetTenantOverride(ctx context.Context, flagID, tenant string) (*models.FeatureFlagOverride, error)
	// GetUserOverride returns the user override or ErrNotFound.
	GetUserOverride(ctx context.Context, flagID, userID string) (*models.FeatureFlagOverride, error)
}

// AuditRepository stores the append-only audit trail.
type AuditRepository interface {
	Create(ctx context.Context, rec *models.AuditRecord) error
	ListByRef(ctx context.Context, refID string, limit int) ([]*models.AuditRecord, error)
}
