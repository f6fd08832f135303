// Package feedback records operator judgments on alert events and applies
// the resulting event status transitions.
package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/driftwatch/internal/logger"
	"github.com/good-yellow-bee/driftwatch/internal/models"
	"github.com/good-yellow-bee/driftwatch/internal/storage"
)

// Submission is a judgment as received from an operator.
type Submission struct {
	EventID        string     `json:"event_id"`
	Operator       string     `json:"operator"`
	Verdict        string     `json:"verdict"`
	RecoveredCents int64      `json:"recovered_cents,omitempty"`
	RecoveredAt    *time.Time `json:"recovered_at,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

// Service stores judgments and moves events through their lifecycle.
type Service struct {
	store storage.Storage
	log   zerolog.Logger
}

// New creates a feedback Service.
func New(store storage.Storage) *Service {
	return &Service{
		store: store,
		log:   logger.WithComponent("feedback"),
	}
}

// Submit records the judgment. A repeat submission by the same operator
// on the same event overwrites the earlier one, last writer wins, while
// the original creation time survives. The verdict drives the event
// status: noise resolves the event, a confirmed real finding with a
// recovery acknowledges it, and needs_followup leaves it untouched.
func (s *Service) Submit(ctx context.Context, sub Submission) (*models.OperatorJudgment, error) {
	if sub.EventID == "" {
		return nil, fmt.Errorf("event id is required")
	}
	if sub.Operator == "" {
		return nil, fmt.Errorf("operator is required")
	}

	event, err := s.store.Events().GetByID(ctx, sub.EventID)
	if err != nil {
		return nil, fmt.Errorf("loading event %s: %w", sub.EventID, err)
	}

	now := time.Now().UTC()
	j := &models.OperatorJudgment{
		ID:             uuid.New().String(),
		Tenant:         event.Tenant,
		AlertEventID:   event.ID,
		Operator:       sub.Operator,
		Verdict:        models.ParseVerdict(sub.Verdict),
		RecoveredCents: sub.RecoveredCents,
		RecoveredAt:    sub.RecoveredAt,
		Notes:          sub.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.Judgments().Upsert(ctx, j); err != nil {
		return nil, fmt.Errorf("storing judgment: %w", err)
	}

	if next, ok := nextStatus(j); ok && event.Status != next {
		if err := s.store.Events().SetStatus(ctx, event.ID, next); err != nil {
			return nil, fmt.Errorf("updating event status: %w", err)
		}
	}

	s.audit(ctx, event, j)
	s.log.Info().
		Str("event_id", event.ID).
		Str("tenant", event.Tenant).
		Str("operator", j.Operator).
		Str("verdict", string(j.Verdict)).
		Msg("judgment recorded")

	return j, nil
}

// nextStatus maps a verdict to the event status it implies, if any.
func nextStatus(j *models.OperatorJudgment) (models.EventStatus, bool) {
	switch j.Verdict {
	case models.VerdictNoise:
		return models.EventResolved, true
	case models.VerdictReal:
		if j.RecoveredCents > 0 || j.RecoveredAt != nil {
			return models.EventAcknowledged, true
		}
	}
	return "", false
}

func (s *Service) audit(ctx context.Context, event *models.AlertEvent, j *models.OperatorJudgment) {
	rec := &models.AuditRecord{
		ID:        uuid.New().String(),
		Tenant:    event.Tenant,
		Action:    models.AuditJudgmentRecorded,
		RefID:     event.ID,
		Detail:    fmt.Sprintf("operator %s: %s", j.Operator, j.Verdict),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Audit().Create(ctx, rec); err != nil {
		s.log.Warn().Err(err).Str("event_id", event.ID).Msg("failed to write audit record")
	}
}
