// Package notify routes unsuppressed alert events to their tenant's
// notification channels. Email and chat sends happen synchronously with
// a bounded timeout; generic webhooks are handed to the independent
// webhook delivery queue.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/driftwatch/internal/config"
	"github.com/good-yellow-bee/driftwatch/internal/logger"
	"github.com/good-yellow-bee/driftwatch/internal/metrics"
	"github.com/good-yellow-bee/driftwatch/internal/models"
	"github.com/good-yellow-bee/driftwatch/internal/storage"
	"github.com/good-yellow-bee/driftwatch/internal/suppress"
)

// batchWorkers bounds concurrent event dispatches in a batch run.
const batchWorkers = 4

// EventTypeAlertTriggered is the webhook event type emitted for alert
// notifications routed through generic webhook channels.
const EventTypeAlertTriggered = "alert_event.triggered"

// Notification is the rendered payload handed to channel senders.
type Notification struct {
	Event *models.AlertEvent
	Data  *TemplateData
}

// Enqueuer hands a payload to the webhook delivery queue. Implemented by
// the webhook subsystem; generic webhook channels are never sent
// synchronously.
type Enqueuer interface {
	Enqueue(ctx context.Context, endpointID, eventType string, payload map[string]interface{}) (*models.WebhookDelivery, error)
}

// ChannelResult is the outcome of one channel attempt.
type ChannelResult struct {
	Channel   string `json:"channel"`
	Type      string `json:"type"`
	Delivered bool   `json:"delivered"`
}

// Result reports the outcome of dispatching one event.
type Result struct {
	EventID    string          `json:"event_id"`
	Status     string          `json:"status"`
	Suppressed bool            `json:"suppressed"`
	Reason     string          `json:"reason,omitempty"`
	Channels   []ChannelResult `json:"channels,omitempty"`
}

// BatchResult tallies a batch dispatch run.
type BatchResult struct {
	Processed  int `json:"processed"`
	Sent       int `json:"sent"`
	Suppressed int `json:"suppressed"`
	Failed     int `json:"failed"`
}

// Dispatcher routes alert events to notification channels.
type Dispatcher struct {
	store      storage.Storage
	suppressor *suppress.Engine
	email      *EmailSender
	chat       *ChatSender
	enqueuer   Enqueuer
	cfg        config.NotifyConfig
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// NewDispatcher creates a Dispatcher. A nil enqueuer makes generic
// webhook channels report delivered=false.
func NewDispatcher(store storage.Storage, suppressor *suppress.Engine, cfg config.NotifyConfig, artifacts ArtifactProvider, enqueuer Enqueuer) (*Dispatcher, error) {
	templates, err := LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("loading notification templates: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.RatePerMinute)
	}

	return &Dispatcher{
		store:      store,
		suppressor: suppressor,
		email:      NewEmailSender(cfg.SMTP, templates, artifacts),
		chat:       NewChatSender(cfg.DispatchTimeout()),
		enqueuer:   enqueuer,
		cfg:        cfg,
		limiter:    limiter,
		log:        logger.WithComponent("notify"),
	}, nil
}

// Dispatch notifies for the event. Terminal states short-circuit: an
// already-sent event is a no-op success, a failed one a no-op failure
// that waits for an explicit re-trigger. A suppression verdict marks the
// event sent with the suppressed marker so it can never go out later.
// After any real attempt the event ends in sent or failed, never pending.
func (d *Dispatcher) Dispatch(ctx context.Context, eventID string) (*Result, error) {
	event, err := d.store.Events().GetByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("loading event %s: %w", eventID, err)
	}

	switch event.Status {
	case models.EventSent, models.EventAcknowledged, models.EventResolved:
		return &Result{EventID: event.ID, Status: string(event.Status), Suppressed: event.Suppressed}, nil
	case models.EventFailed:
		d.log.Warn().Str("event_id", event.ID).Msg("event previously failed, re-trigger required")
		return &Result{EventID: event.ID, Status: string(models.EventFailed), Reason: "previous failure, explicit re-trigger required"}, nil
	}

	decision, err := d.suppressor.Check(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("suppression check for event %s: %w", event.ID, err)
	}
	if decision.Suppress {
		now := time.Now().UTC()
		if err := d.store.Events().MarkSent(ctx, event.ID, now, true); err != nil {
			return nil, fmt.Errorf("marking event %s suppressed: %w", event.ID, err)
		}
		d.audit(ctx, event, models.AuditEventSuppressed, decision.Reason)
		return &Result{EventID: event.ID, Status: string(models.EventSent), Suppressed: true, Reason: decision.Reason}, nil
	}

	notification, err := d.buildNotification(ctx, event)
	if err != nil {
		return d.fail(ctx, event, err)
	}

	channels, err := d.selectChannels(ctx, event)
	if err != nil {
		return d.fail(ctx, event, err)
	}
	if len(channels) == 0 {
		return d.fail(ctx, event, fmt.Errorf("no notification channels available for tenant %s", event.Tenant))
	}

	results := make([]ChannelResult, 0, len(channels))
	delivered := 0
	for _, ch := range channels {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return d.fail(ctx, event, fmt.Errorf("rate limiter: %w", err))
			}
		}

		ok, err := d.sendToChannel(ctx, notification, ch)
		if err != nil {
			metrics.NotificationsTotal.WithLabelValues(event.Tenant, string(ch.Type), "error").Inc()
			return d.fail(ctx, event, fmt.Errorf("channel %s: %w", ch.Name, err))
		}
		status := "skipped"
		if ok {
			status = "sent"
			delivered++
		}
		metrics.NotificationsTotal.WithLabelValues(event.Tenant, string(ch.Type), status).Inc()
		results = append(results, ChannelResult{Channel: ch.Name, Type: string(ch.Type), Delivered: ok})
	}

	if delivered < len(channels) {
		return d.fail(ctx, event, fmt.Errorf("%d of %d channels failed to deliver", len(channels)-delivered, len(channels)))
	}

	now := time.Now().UTC()
	if err := d.store.Events().MarkSent(ctx, event.ID, now, false); err != nil {
		return nil, fmt.Errorf("marking event %s sent: %w", event.ID, err)
	}
	d.audit(ctx, event, models.AuditEventSent, fmt.Sprintf("%d channel(s)", len(channels)))
	d.log.Info().
		Str("event_id", event.ID).
		Str("tenant", event.Tenant).
		Int("channels", len(channels)).
		Msg("alert event notified")

	return &Result{EventID: event.ID, Status: string(models.EventSent), Channels: results}, nil
}

// DispatchPending processes every pending event for the tenant. Items
// are isolated: one failure is tallied and the rest still run.
func (d *Dispatcher) DispatchPending(ctx context.Context, tenant string) (*BatchResult, error) {
	events, err := d.store.Events().ListPending(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("listing pending events for tenant %s: %w", tenant, err)
	}

	var mu sync.Mutex
	batch := &BatchResult{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchWorkers)
	for _, event := range events {
		g.Go(func() error {
			res, err := d.Dispatch(gctx, event.ID)

			mu.Lock()
			defer mu.Unlock()
			batch.Processed++
			switch {
			case err != nil:
				batch.Failed++
				d.log.Error().Err(err).Str("event_id", event.ID).Msg("batch dispatch item failed")
			case res.Suppressed:
				batch.Suppressed++
			case res.Status == string(models.EventSent):
				batch.Sent++
			default:
				batch.Failed++
			}
			// Item errors are swallowed so siblings keep running.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return batch, err
	}
	return batch, nil
}

func (d *Dispatcher) buildNotification(ctx context.Context, event *models.AlertEvent) (*Notification, error) {
	payload, err := event.DecodePayload()
	if err != nil {
		return nil, fmt.Errorf("decoding event payload: %w", err)
	}

	// Evidence rows are advisory display data; a read failure downgrades
	// to a body without the table.
	var evidence []*models.Aggregate
	rows, err := d.store.Aggregates().ListWindow(ctx, event.Tenant, payload.Metric, payload.RecentStart, payload.RecentEnd)
	if err != nil {
		d.log.Warn().Err(err).Str("event_id", event.ID).Msg("failed to load evidence rows")
	} else {
		for _, row := range rows {
			if row.EntityKey == payload.EntityKey {
				evidence = append(evidence, row)
			}
		}
	}

	return &Notification{
		Event: event,
		Data:  BuildTemplateData(event, payload, d.cfg.DeepLinkBaseURL, evidence),
	}, nil
}

// selectChannels picks delivery targets: the rule's explicit subset
// filtered to enabled channels, else all enabled tenant channels, else a
// default email channel built from tenant-level configuration.
func (d *Dispatcher) selectChannels(ctx context.Context, event *models.AlertEvent) ([]*models.NotificationChannel, error) {
	rule, err := d.store.Rules().GetByID(ctx, event.RuleID)
	if err != nil && err != storage.ErrNotFound {
		return nil, fmt.Errorf("loading rule %s: %w", event.RuleID, err)
	}

	if rule != nil && len(rule.Channels) > 0 {
		channels, err := d.store.Channels().ListEnabledByNames(ctx, event.Tenant, rule.Channels)
		if err != nil {
			return nil, fmt.Errorf("listing routed channels: %w", err)
		}
		if len(channels) > 0 {
			return channels, nil
		}
		// The whole subset is disabled or gone; fall through to the
		// tenant's enabled channels rather than dropping the alert.
	}

	channels, err := d.store.Channels().ListEnabled(ctx, event.Tenant)
	if err != nil {
		return nil, fmt.Errorf("listing enabled channels: %w", err)
	}
	if len(channels) > 0 {
		return channels, nil
	}

	if d.cfg.DefaultRecipient == "" {
		return nil, nil
	}
	fallback := &models.NotificationChannel{
		Tenant:  event.Tenant,
		Name:    "default-email",
		Type:    models.ChannelEmail,
		Enabled: true,
	}
	if err := fallback.SetConfig(models.EmailChannelConfig{
		Recipients: []string{d.cfg.DefaultRecipient},
		AttachPDF:  d.cfg.AttachPDF,
	}); err != nil {
		return nil, err
	}
	return []*models.NotificationChannel{fallback}, nil
}

func (d *Dispatcher) sendToChannel(ctx context.Context, n *Notification, ch *models.NotificationChannel) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.DispatchTimeout())
	defer cancel()

	switch ch.Type {
	case models.ChannelEmail:
		var cfg models.EmailChannelConfig
		if err := ch.GetConfig(&cfg); err != nil {
			d.log.Warn().Err(err).Str("channel", ch.Name).Msg("invalid email channel config, skipping")
			return false, nil
		}
		return d.email.Send(callCtx, n, cfg.Recipients, cfg.AttachPDF)

	case models.ChannelChatWebhook:
		var cfg models.ChatWebhookChannelConfig
		if err := ch.GetConfig(&cfg); err != nil {
			d.log.Warn().Err(err).Str("channel", ch.Name).Msg("invalid chat channel config, skipping")
			return false, nil
		}
		return d.chat.Send(callCtx, n, cfg.WebhookURL), nil

	case models.ChannelGenericWebhook:
		if d.enqueuer == nil {
			d.log.Warn().Str("channel", ch.Name).Msg("webhook queue not configured, skipping")
			return false, nil
		}
		var cfg models.GenericWebhookChannelConfig
		if err := ch.GetConfig(&cfg); err != nil {
			d.log.Warn().Err(err).Str("channel", ch.Name).Msg("invalid webhook channel config, skipping")
			return false, nil
		}
		payload := webhookPayload(n)
		if _, err := d.enqueuer.Enqueue(ctx, cfg.EndpointID, EventTypeAlertTriggered, payload); err != nil {
			return false, fmt.Errorf("enqueueing webhook delivery: %w", err)
		}
		return true, nil

	default:
		d.log.Warn().Str("channel", ch.Name).Str("type", string(ch.Type)).Msg("unknown channel type, skipping")
		return false, nil
	}
}

// webhookPayload flattens the notification into the generic webhook body.
func webhookPayload(n *Notification) map[string]interface{} {
	return map[string]interface{}{
		"event_id":     n.Event.ID,
		"tenant":       n.Event.Tenant,
		"rule":         n.Data.RuleName,
		"signal_type":  n.Event.SignalType,
		"entity":       n.Event.EntityLabel,
		"severity":     n.Data.Severity,
		"delta":        n.Data.Delta,
		"summary":      n.Data.Summary,
		"triggered_at": n.Event.TriggeredAt.UTC().Format(time.RFC3339),
	}
}

func (d *Dispatcher) fail(ctx context.Context, event *models.AlertEvent, cause error) (*Result, error) {
	if err := d.store.Events().MarkFailed(ctx, event.ID, cause.Error()); err != nil {
		return nil, fmt.Errorf("marking event %s failed: %w", event.ID, err)
	}
	d.audit(ctx, event, models.AuditEventFailed, cause.Error())
	d.log.Error().Err(cause).Str("event_id", event.ID).Str("tenant", event.Tenant).Msg("alert event dispatch failed")
	return &Result{EventID: event.ID, Status: string(models.EventFailed), Reason: cause.Error()}, nil
}

func (d *Dispatcher) audit(ctx context.Context, event *models.AlertEvent, action models.AuditAction, detail string) {
	rec := &models.AuditRecord{
		ID:        uuid.New().String(),
		Tenant:    event.Tenant,
		Action:    action,
		RefID:     event.ID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.store.Audit().Create(ctx, rec); err != nil {
		d.log.Warn().Err(err).Str("event_id", event.ID).Msg("failed to write audit record")
	}
}
