// Package evaluate runs tenant alert rules against detected signals and
// records one alert event per (signal, rule) firing.
package evaluate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/driftwatch/internal/logger"
	"github.com/good-yellow-bee/driftwatch/internal/metrics"
	"github.com/good-yellow-bee/driftwatch/internal/models"
	"github.com/good-yellow-bee/driftwatch/internal/storage"
)

// Result reports the outcome of evaluating one signal.
type Result struct {
	SignalID string `json:"signal_id"`
	// Matched counts rules whose scope admitted the signal.
	Matched int `json:"matched"`
	// Fired counts rules whose threshold test passed.
	Fired int `json:"fired"`
	// Created counts new alert events; re-evaluations that hit the
	// (signal, rule) uniqueness constraint count under Deduped instead.
	Created int `json:"created"`
	Deduped int `json:"deduped"`
	// Events holds the created or existing events for fired rules.
	Events []*models.AlertEvent `json:"events,omitempty"`
}

// Evaluator matches enabled rules against signals.
type Evaluator struct {
	store storage.Storage
	log   zerolog.Logger
}

// New creates an Evaluator.
func New(store storage.Storage) *Evaluator {
	return &Evaluator{
		store: store,
		log:   logger.WithComponent("evaluate"),
	}
}

// EvaluateSignal runs every enabled rule for the signal's tenant against
// the signal. Rules are read fresh each call so mid-stream enable or
// threshold changes take effect on the next evaluation. Firing is
// idempotent per (signal, rule): the first call creates the event with a
// frozen signal snapshot, later calls return the existing row untouched.
func (e *Evaluator) EvaluateSignal(ctx context.Context, signalID string) (*Result, error) {
	sig, err := e.store.Signals().GetByID(ctx, signalID)
	if err != nil {
		return nil, fmt.Errorf("loading signal %s: %w", signalID, err)
	}

	rules, err := e.store.Rules().ListEnabled(ctx, sig.Tenant)
	if err != nil {
		return nil, fmt.Errorf("listing rules for tenant %s: %w", sig.Tenant, err)
	}

	res := &Result{SignalID: sig.ID}
	for _, rule := range rules {
		if !rule.Scope.Matches(sig) {
			continue
		}
		res.Matched++

		value := rule.ValueFor(sig)
		if !rule.Compare(value) {
			continue
		}
		res.Fired++

		event, created, err := e.recordFiring(ctx, sig, rule, value)
		if err != nil {
			return nil, err
		}
		if created {
			res.Created++
		} else {
			res.Deduped++
		}
		res.Events = append(res.Events, event)
	}

	e.log.Debug().
		Str("signal_id", sig.ID).
		Str("tenant", sig.Tenant).
		Int("rules", len(rules)).
		Int("matched", res.Matched).
		Int("fired", res.Fired).
		Int("created", res.Created).
		Msg("signal evaluated")

	return res, nil
}

// EvaluateTenant evaluates the tenant's most recent signals, newest
// first. Returns the per-signal results in evaluation order.
func (e *Evaluator) EvaluateTenant(ctx context.Context, tenant string, limit int) ([]*Result, error) {
	if limit <= 0 {
		limit = 100
	}
	signals, err := e.store.Signals().ListByTenant(ctx, tenant, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("listing signals for tenant %s: %w", tenant, err)
	}

	results := make([]*Result, 0, len(signals))
	for _, sig := range signals {
		res, err := e.EvaluateSignal(ctx, sig.ID)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Evaluator) recordFiring(ctx context.Context, sig *models.Signal, rule *models.AlertRule, value float64) (*models.AlertEvent, bool, error) {
	payload, err := models.SnapshotPayload(sig, rule)
	if err != nil {
		return nil, false, fmt.Errorf("snapshotting signal %s: %w", sig.ID, err)
	}

	now := time.Now().UTC()
	event := &models.AlertEvent{
		ID:          uuid.New().String(),
		Tenant:      sig.Tenant,
		RuleID:      rule.ID,
		SignalID:    sig.ID,
		Status:      models.EventPending,
		Category:    sig.Metric.Category(),
		SignalType:  sig.Type(),
		EntityLabel: sig.EntityKey,
		Payload:     payload,
		TriggeredAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	stored, created, err := e.store.Events().CreateOrGet(ctx, event)
	if err != nil {
		return nil, false, fmt.Errorf("recording event for rule %s: %w", rule.Name, err)
	}

	if created {
		metrics.AlertEventsCreatedTotal.WithLabelValues(sig.Tenant).Inc()
		e.audit(ctx, stored, rule, value)
		e.log.Info().
			Str("event_id", stored.ID).
			Str("tenant", sig.Tenant).
			Str("rule", rule.Name).
			Str("entity", sig.EntityKey).
			Float64("value", value).
			Float64("threshold", rule.ThresholdValue).
			Msg("alert event created")
	} else {
		metrics.AlertEventsDedupedTotal.WithLabelValues(sig.Tenant).Inc()
	}

	return stored, created, nil
}

func (e *Evaluator) audit(ctx context.Context, event *models.AlertEvent, rule *models.AlertRule, value float64) {
	rec := &models.AuditRecord{
		ID:     uuid.New().String(),
		Tenant: event.Tenant,
		Action: models.AuditEventCreated,
		RefID:  event.ID,
		Detail: fmt.Sprintf("rule %s fired: %s %s %.4f (value %.4f)",
			rule.Name, rule.Metric, rule.ThresholdType, rule.ThresholdValue, value),
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.Audit().Create(ctx, rec); err != nil {
		e.log.Warn().Err(err).Str("event_id", event.ID).Msg("failed to write audit record")
	}
}
