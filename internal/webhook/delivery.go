package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/driftwatch/internal/config"
	"github.com/good-yellow-bee/driftwatch/internal/logger"
	"github.com/good-yellow-bee/driftwatch/internal/metrics"
	"github.com/good-yellow-bee/driftwatch/internal/models"
	"github.com/good-yellow-bee/driftwatch/internal/storage"
)

// maxErrorLen bounds the error text persisted on a delivery.
const maxErrorLen = 512

// sweepBatchSize caps deliveries picked up per sweep pass.
const sweepBatchSize = 100

// SweepResult tallies one retry sweep pass.
type SweepResult struct {
	Selected  int `json:"selected"`
	Succeeded int `json:"succeeded"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
}

// Service owns webhook delivery: enqueueing, signing, attempting, and
// the periodic retry sweep.
type Service struct {
	store      storage.Storage
	cfg        config.WebhookConfig
	httpClient *http.Client
	sweepLimit *rate.Limiter
	log        zerolog.Logger
	now        func() time.Time
}

// NewService creates a webhook delivery Service.
func NewService(store storage.Storage, cfg config.WebhookConfig) *Service {
	var limiter *rate.Limiter
	if cfg.SweepRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SweepRatePerSecond), cfg.SweepRatePerSecond)
	}
	return &Service{
		store:      store,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		sweepLimit: limiter,
		log:        logger.WithComponent("webhook"),
		now:        time.Now,
	}
}

// Enqueue creates a pending delivery for one endpoint and attempts it
// immediately. The attempt outcome is recorded on the delivery; Enqueue
// itself only fails when the delivery cannot be persisted.
func (s *Service) Enqueue(ctx context.Context, endpointID, eventType string, payload map[string]interface{}) (*models.WebhookDelivery, error) {
	endpoint, err := s.store.Webhooks().GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, fmt.Errorf("loading endpoint %s: %w", endpointID, err)
	}

	delivery, err := s.createDelivery(ctx, endpoint, eventType, payload)
	if err != nil {
		return nil, err
	}

	s.attempt(ctx, delivery, endpoint)
	return delivery, nil
}

// Fanout creates one delivery per active tenant endpoint whose allowlist
// admits the event type, attempting each immediately. Per-endpoint
// failures are isolated.
func (s *Service) Fanout(ctx context.Context, tenant, eventType string, payload map[string]interface{}) ([]*models.WebhookDelivery, error) {
	endpoints, err := s.store.Webhooks().ListActiveEndpoints(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("listing endpoints for tenant %s: %w", tenant, err)
	}

	var deliveries []*models.WebhookDelivery
	for _, endpoint := range endpoints {
		if !endpoint.AcceptsEvent(eventType) {
			continue
		}
		delivery, err := s.createDelivery(ctx, endpoint, eventType, payload)
		if err != nil {
			s.log.Error().Err(err).Str("endpoint_id", endpoint.ID).Msg("failed to create delivery")
			continue
		}
		s.attempt(ctx, delivery, endpoint)
		deliveries = append(deliveries, delivery)
	}
	return deliveries, nil
}

// Retry attempts one existing delivery. Terminal deliveries are left
// untouched.
func (s *Service) Retry(ctx context.Context, deliveryID string) (*models.WebhookDelivery, error) {
	delivery, err := s.store.Webhooks().GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("loading delivery %s: %w", deliveryID, err)
	}
	if delivery.Status == models.DeliverySuccess || delivery.Status == models.DeliveryFailed {
		return delivery, nil
	}

	endpoint, err := s.store.Webhooks().GetEndpoint(ctx, delivery.EndpointID)
	if err != nil {
		return nil, fmt.Errorf("loading endpoint %s: %w", delivery.EndpointID, err)
	}
	s.attempt(ctx, delivery, endpoint)
	return delivery, nil
}

// Sweep retries every due delivery once. One delivery's failure never
// aborts the pass.
func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	due, err := s.store.Webhooks().ListDue(ctx, s.now().UTC(), sweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("listing due deliveries: %w", err)
	}

	res := &SweepResult{Selected: len(due)}
	for _, delivery := range due {
		if s.sweepLimit != nil {
			if err := s.sweepLimit.Wait(ctx); err != nil {
				return res, err
			}
		}

		updated, err := s.Retry(ctx, delivery.ID)
		if err != nil {
			res.Failed++
			s.log.Error().Err(err).Str("delivery_id", delivery.ID).Msg("sweep item failed")
			continue
		}
		switch updated.Status {
		case models.DeliverySuccess:
			res.Succeeded++
		case models.DeliveryFailed:
			res.Failed++
		default:
			res.Retrying++
		}
	}

	if res.Selected > 0 {
		s.log.Info().
			Int("selected", res.Selected).
			Int("succeeded", res.Succeeded).
			Int("retrying", res.Retrying).
			Int("failed", res.Failed).
			Msg("webhook retry sweep completed")
	}
	return res, nil
}

// Run executes the retry sweep on its configured interval until the
// context is canceled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("webhook sweep pass failed")
			}
		}
	}
}

func (s *Service) createDelivery(ctx context.Context, endpoint *models.WebhookEndpoint, eventType string, payload map[string]interface{}) (*models.WebhookDelivery, error) {
	body, err := CanonicalJSON(payload)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	delivery := &models.WebhookDelivery{
		ID:          uuid.New().String(),
		EndpointID:  endpoint.ID,
		EventType:   eventType,
		Payload:     string(body),
		Status:      models.DeliveryPending,
		MaxAttempts: s.cfg.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Webhooks().CreateDelivery(ctx, delivery); err != nil {
		return nil, fmt.Errorf("creating delivery: %w", err)
	}
	return delivery, nil
}

// attempt makes one delivery attempt and persists the outcome. The
// attempt counter and timestamp are recorded before the call so a crash
// mid-flight still burns the attempt.
func (s *Service) attempt(ctx context.Context, delivery *models.WebhookDelivery, endpoint *models.WebhookEndpoint) {
	now := s.now().UTC()
	delivery.Attempts++
	delivery.LastAttemptAt = &now
	delivery.NextAttemptAt = nil
	delivery.UpdatedAt = now
	if err := s.store.Webhooks().UpdateDelivery(ctx, delivery); err != nil {
		s.log.Error().Err(err).Str("delivery_id", delivery.ID).Msg("failed to record attempt start")
		return
	}

	code, err := s.post(ctx, delivery, endpoint)
	done := s.now().UTC()
	metrics.WebhookAttemptDuration.Observe(done.Sub(now).Seconds())

	if err != nil {
		delivery.LastError = truncateError(err.Error())
		delivery.ResponseCode = code
		s.scheduleNextAttempt(delivery, done)
	} else {
		delivery.Status = models.DeliverySuccess
		delivery.ResponseCode = code
		delivery.LastError = ""
		delivery.NextAttemptAt = nil
	}
	delivery.UpdatedAt = done

	if err := s.store.Webhooks().UpdateDelivery(ctx, delivery); err != nil {
		s.log.Error().Err(err).Str("delivery_id", delivery.ID).Msg("failed to record attempt outcome")
		return
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues(string(delivery.Status)).Inc()
	evt := s.log.Info()
	if delivery.Status != models.DeliverySuccess {
		evt = s.log.Warn()
	}
	evt.Str("delivery_id", delivery.ID).
		Str("endpoint_id", endpoint.ID).
		Str("status", string(delivery.Status)).
		Int("attempts", delivery.Attempts).
		Int("response_code", delivery.ResponseCode).
		Msg("webhook delivery attempted")
}

// post sends the signed payload. A 2xx response succeeds; anything else,
// including transport errors, returns an error with whatever status code
// was observed.
func (s *Service) post(ctx context.Context, delivery *models.WebhookDelivery, endpoint *models.WebhookEndpoint) (int, error) {
	body := []byte(delivery.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, Sign(body, endpoint.Secret))
	req.Header.Set(HeaderEvent, delivery.EventType)
	req.Header.Set(HeaderDeliveryID, delivery.ID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}
	return resp.StatusCode, nil
}

// scheduleNextAttempt applies the backoff policy: exhausted attempts go
// terminal failed, otherwise the delivery retries after 2^attempts
// minutes.
func (s *Service) scheduleNextAttempt(delivery *models.WebhookDelivery, now time.Time) {
	if delivery.Attempts >= delivery.MaxAttempts {
		delivery.Status = models.DeliveryFailed
		delivery.NextAttemptAt = nil
		return
	}
	delay := time.Duration(math.Pow(2, float64(delivery.Attempts))) * time.Minute
	next := now.Add(delay)
	delivery.Status = models.DeliveryRetrying
	delivery.NextAttemptAt = &next
}

func truncateError(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	return msg[:maxErrorLen]
}
