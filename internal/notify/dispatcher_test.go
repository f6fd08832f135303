package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/driftwatch/internal/config"
	"github.com/good-yellow-bee/driftwatch/internal/models"
	"github.com/good-yellow-bee/driftwatch/internal/storage"
	"github.com/good-yellow-bee/driftwatch/internal/suppress"
)

func setupTestDB(t *testing.T) (storage.Storage, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "driftwatch-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	store := storage.NewSQLiteStorage(filepath.Join(tmpDir, "test.db"))
	if err := store.Open(); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("open database: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("migrate database: %v", err)
	}
	return store, func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
}

func testNotifyConfig() config.NotifyConfig {
	return config.NotifyConfig{DispatchTimeoutSeconds: 5}
}

func newTestDispatcher(t *testing.T, store storage.Storage, cfg config.NotifyConfig, enqueuer Enqueuer) *Dispatcher {
	t.Helper()
	suppressor := suppress.New(store, nil, config.SuppressionConfig{
		CooldownHours:          4,
		NoiseLookbackDays:      30,
		NoiseStrikeCount:       2,
		ContextCacheTTLMinutes: 15,
	})
	d, err := NewDispatcher(store, suppressor, cfg, nil, enqueuer)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

// seedPendingEvent creates a pending alert event for the entity with a
// realistic frozen signal snapshot. When no ruleID is given, a minimal
// rule is persisted to satisfy the events table's rule foreign key;
// callers that need channel routing persist their own rule first.
func seedPendingEvent(t *testing.T, store storage.Storage, tenant, entity, ruleID string) *models.AlertEvent {
	t.Helper()
	now := time.Now().UTC()
	sig := &models.Signal{
		ID:               uuid.New().String(),
		Tenant:           tenant,
		Metric:           models.MetricDenialRate,
		Kind:             models.SignalKindSpike,
		EntityKey:        entity,
		BaselineStart:    now.AddDate(0, 0, -28),
		BaselineEnd:      now.AddDate(0, 0, -7),
		RecentStart:      now.AddDate(0, 0, -7),
		RecentEnd:        now,
		BaselineValue:    0.10,
		RecentValue:      0.60,
		Delta:            0.50,
		RelativeDelta:    5.0,
		HasRelativeDelta: true,
		Severity:         0.75,
		Confidence:       0.9,
		Summary:          "denial rate jumped from 10.0% to 60.0%",
		CreatedAt:        now,
	}
	rule := &models.AlertRule{ID: ruleID, Name: "denial-spike"}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
		rule.Tenant = tenant
		rule.Name = "denial-spike-" + rule.ID
		rule.CreatedAt = now
		rule.UpdatedAt = now
		if err := store.Rules().Create(context.Background(), rule); err != nil {
			t.Fatalf("seed rule: %v", err)
		}
	}
	payload, err := models.SnapshotPayload(sig, rule)
	if err != nil {
		t.Fatalf("snapshot payload: %v", err)
	}

	event := &models.AlertEvent{
		ID:          uuid.New().String(),
		Tenant:      tenant,
		RuleID:      rule.ID,
		SignalID:    sig.ID,
		Status:      models.EventPending,
		Category:    "claims",
		SignalType:  "denial_rate_spike",
		EntityLabel: entity,
		Payload:     payload,
		TriggeredAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	stored, _, err := store.Events().CreateOrGet(context.Background(), event)
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return stored
}

func seedChatChannel(t *testing.T, store storage.Storage, tenant, name, url string, enabled bool) *models.NotificationChannel {
	t.Helper()
	now := time.Now().UTC()
	ch := &models.NotificationChannel{
		ID:        uuid.New().String(),
		Tenant:    tenant,
		Name:      name,
		Type:      models.ChannelChatWebhook,
		Enabled:   enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ch.SetConfig(models.ChatWebhookChannelConfig{WebhookURL: url}); err != nil {
		t.Fatalf("set channel config: %v", err)
	}
	if err := store.Channels().Create(context.Background(), ch); err != nil {
		t.Fatalf("seed channel %s: %v", name, err)
	}
	return ch
}

type enqueueCall struct {
	EndpointID string
	EventType  string
	Payload    map[string]interface{}
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []enqueueCall
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, endpointID, eventType string, payload map[string]interface{}) (*models.WebhookDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, enqueueCall{EndpointID: endpointID, EventType: eventType, Payload: payload})
	return &models.WebhookDelivery{ID: uuid.New().String()}, nil
}

func TestDispatch_ChatChannelSuccess(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	var mu sync.Mutex
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	seedChatChannel(t, store, "acme", "ops-chat", srv.URL, true)
	event := seedPendingEvent(t, store, "acme", "payer-aetna", "")

	d := newTestDispatcher(t, store, testNotifyConfig(), nil)
	res, err := d.Dispatch(ctx, event.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Status != string(models.EventSent) || res.Suppressed {
		t.Errorf("result = %s suppressed=%t, want sent", res.Status, res.Suppressed)
	}
	if len(res.Channels) != 1 || !res.Channels[0].Delivered {
		t.Fatalf("channels = %+v, want one delivered", res.Channels)
	}

	var msg struct {
		Text   string            `json:"text"`
		Blocks []json.RawMessage `json:"blocks"`
	}
	mu.Lock()
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("chat payload not json: %v", err)
	}
	mu.Unlock()
	if !strings.Contains(msg.Text, "CRITICAL") {
		t.Errorf("fallback text %q missing severity", msg.Text)
	}
	if len(msg.Blocks) == 0 {
		t.Error("chat payload has no blocks")
	}

	stored, err := store.Events().GetByID(ctx, event.ID)
	if err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if stored.Status != models.EventSent || stored.Suppressed {
		t.Errorf("stored status = %s suppressed=%t, want sent", stored.Status, stored.Suppressed)
	}
	if stored.NotificationSentAt == nil {
		t.Error("notification sent timestamp not set")
	}

	audit, err := store.Audit().ListByRef(ctx, event.ID, 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(audit) != 1 || audit[0].Action != models.AuditEventSent {
		t.Errorf("audit = %+v, want one %s record", audit, models.AuditEventSent)
	}
}

func TestDispatch_ChannelFailureMarksEventFailed(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	seedChatChannel(t, store, "acme", "ops-chat", srv.URL, true)
	event := seedPendingEvent(t, store, "acme", "payer-aetna", "")

	d := newTestDispatcher(t, store, testNotifyConfig(), nil)
	res, err := d.Dispatch(ctx, event.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Status != string(models.EventFailed) {
		t.Errorf("result status = %s, want failed", res.Status)
	}
	if !strings.Contains(res.Reason, "1 of 1 channels failed") {
		t.Errorf("reason = %q", res.Reason)
	}

	stored, _ := store.Events().GetByID(ctx, event.ID)
	if stored.Status != models.EventFailed || stored.ErrorMessage == "" {
		t.Errorf("stored = %s %q, want failed with error", stored.Status, stored.ErrorMessage)
	}
}

func TestDispatch_TerminalStatesShortCircuit(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// No channels exist; a real attempt would fail loudly.
	d := newTestDispatcher(t, store, testNotifyConfig(), nil)

	sent := seedPendingEvent(t, store, "acme", "payer-sent", "")
	if err := store.Events().MarkSent(ctx, sent.ID, time.Now().UTC(), false); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	res, err := d.Dispatch(ctx, sent.ID)
	if err != nil {
		t.Fatalf("dispatch sent event: %v", err)
	}
	if res.Status != string(models.EventSent) || len(res.Channels) != 0 {
		t.Errorf("sent event should be a no-op, got %+v", res)
	}

	failed := seedPendingEvent(t, store, "acme", "payer-failed", "")
	if err := store.Events().MarkFailed(ctx, failed.ID, "smtp down"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	res, err = d.Dispatch(ctx, failed.ID)
	if err != nil {
		t.Fatalf("dispatch failed event: %v", err)
	}
	if res.Status != string(models.EventFailed) || !strings.Contains(res.Reason, "re-trigger") {
		t.Errorf("failed event should wait for re-trigger, got %+v", res)
	}
}

func TestDispatch_SuppressedEventMarkedSent(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// A recent non-suppressed send for the same triple puts the new
	// event inside the cooldown window.
	prior := seedPendingEvent(t, store, "acme", "payer-aetna", "")
	if err := store.Events().MarkSent(ctx, prior.ID, time.Now().UTC().Add(-time.Hour), false); err != nil {
		t.Fatalf("mark prior sent: %v", err)
	}
	event := seedPendingEvent(t, store, "acme", "payer-aetna", "")

	d := newTestDispatcher(t, store, testNotifyConfig(), nil)
	res, err := d.Dispatch(ctx, event.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !res.Suppressed || res.Reason == "" {
		t.Fatalf("result = %+v, want suppressed with reason", res)
	}

	stored, _ := store.Events().GetByID(ctx, event.ID)
	if stored.Status != models.EventSent || !stored.Suppressed {
		t.Errorf("stored = %s suppressed=%t, want sent suppressed", stored.Status, stored.Suppressed)
	}

	audit, _ := store.Audit().ListByRef(ctx, event.ID, 10)
	if len(audit) != 1 || audit[0].Action != models.AuditEventSuppressed {
		t.Errorf("audit = %+v, want one suppression record", audit)
	}
}

func TestDispatch_RuleChannelRouting(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	var mu sync.Mutex
	hits := map[string]int{}
	serve := func(name string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			hits[name]++
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}))
	}
	primary := serve("primary")
	defer primary.Close()
	secondary := serve("secondary")
	defer secondary.Close()

	seedChatChannel(t, store, "acme", "primary", primary.URL, true)
	seedChatChannel(t, store, "acme", "secondary", secondary.URL, true)

	now := time.Now().UTC()
	rule := &models.AlertRule{
		ID:             uuid.New().String(),
		Tenant:         "acme",
		Name:           "routed",
		Metric:         models.RuleMetricDelta,
		ThresholdType:  models.ThresholdGTE,
		ThresholdValue: 0.1,
		Enabled:        true,
		Severity:       models.SeverityHigh,
		Channels:       []string{"secondary"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.Rules().Create(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	event := seedPendingEvent(t, store, "acme", "payer-aetna", rule.ID)

	d := newTestDispatcher(t, store, testNotifyConfig(), nil)
	res, err := d.Dispatch(ctx, event.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Status != string(models.EventSent) || len(res.Channels) != 1 {
		t.Fatalf("result = %+v, want sent via one channel", res)
	}

	mu.Lock()
	defer mu.Unlock()
	if hits["secondary"] != 1 || hits["primary"] != 0 {
		t.Errorf("hits = %v, want secondary only", hits)
	}
}

func TestDispatch_DisabledSubsetFallsThrough(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// The rule routes to a channel that has since been disabled; the
	// dispatcher falls back to the tenant's enabled channels.
	seedChatChannel(t, store, "acme", "retired", srv.URL, false)
	seedChatChannel(t, store, "acme", "active", srv.URL, true)

	now := time.Now().UTC()
	rule := &models.AlertRule{
		ID:             uuid.New().String(),
		Tenant:         "acme",
		Name:           "stale-route",
		Metric:         models.RuleMetricDelta,
		ThresholdType:  models.ThresholdGTE,
		ThresholdValue: 0.1,
		Enabled:        true,
		Severity:       models.SeverityHigh,
		Channels:       []string{"retired"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.Rules().Create(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	event := seedPendingEvent(t, store, "acme", "payer-aetna", rule.ID)

	d := newTestDispatcher(t, store, testNotifyConfig(), nil)
	res, err := d.Dispatch(ctx, event.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Status != string(models.EventSent) {
		t.Errorf("result = %+v, want sent through fallback channel", res)
	}
	if len(res.Channels) != 1 || res.Channels[0].Channel != "active" {
		t.Errorf("channels = %+v, want the active channel", res.Channels)
	}
}

func TestDispatch_NoChannelsFails(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	event := seedPendingEvent(t, store, "acme", "payer-aetna", "")

	d := newTestDispatcher(t, store, testNotifyConfig(), nil)
	res, err := d.Dispatch(ctx, event.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Status != string(models.EventFailed) || !strings.Contains(res.Reason, "no notification channels") {
		t.Errorf("result = %+v, want failed for missing channels", res)
	}
}

func TestDispatch_FallbackEmailWithoutSMTPFails(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// A default recipient synthesizes an email channel, but with no SMTP
	// host the send is skipped and the event fails rather than staying
	// pending forever.
	cfg := testNotifyConfig()
	cfg.DefaultRecipient = "oncall@example.com"
	event := seedPendingEvent(t, store, "acme", "payer-aetna", "")

	d := newTestDispatcher(t, store, cfg, nil)
	res, err := d.Dispatch(ctx, event.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Status != string(models.EventFailed) {
		t.Errorf("result = %+v, want failed", res)
	}
	stored, _ := store.Events().GetByID(ctx, event.ID)
	if stored.Status != models.EventFailed {
		t.Errorf("stored status = %s, want failed", stored.Status)
	}
}

func TestDispatch_GenericWebhookEnqueues(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	ch := &models.NotificationChannel{
		ID:        uuid.New().String(),
		Tenant:    "acme",
		Name:      "partner-hook",
		Type:      models.ChannelGenericWebhook,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	endpointID := uuid.New().String()
	if err := ch.SetConfig(models.GenericWebhookChannelConfig{EndpointID: endpointID}); err != nil {
		t.Fatalf("set channel config: %v", err)
	}
	if err := store.Channels().Create(ctx, ch); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	event := seedPendingEvent(t, store, "acme", "payer-aetna", "")

	enqueuer := &fakeEnqueuer{}
	d := newTestDispatcher(t, store, testNotifyConfig(), enqueuer)
	res, err := d.Dispatch(ctx, event.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Status != string(models.EventSent) {
		t.Fatalf("result = %+v, want sent", res)
	}

	if len(enqueuer.calls) != 1 {
		t.Fatalf("enqueue calls = %d, want 1", len(enqueuer.calls))
	}
	call := enqueuer.calls[0]
	if call.EndpointID != endpointID || call.EventType != EventTypeAlertTriggered {
		t.Errorf("enqueued %s/%s, want %s/%s", call.EndpointID, call.EventType, endpointID, EventTypeAlertTriggered)
	}
	if call.Payload["event_id"] != event.ID || call.Payload["tenant"] != "acme" {
		t.Errorf("payload = %v", call.Payload)
	}
}

func TestDispatch_WebhookChannelWithoutQueueFails(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	ch := &models.NotificationChannel{
		ID:        uuid.New().String(),
		Tenant:    "acme",
		Name:      "partner-hook",
		Type:      models.ChannelGenericWebhook,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ch.SetConfig(models.GenericWebhookChannelConfig{EndpointID: uuid.New().String()}); err != nil {
		t.Fatalf("set channel config: %v", err)
	}
	if err := store.Channels().Create(ctx, ch); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	event := seedPendingEvent(t, store, "acme", "payer-aetna", "")

	d := newTestDispatcher(t, store, testNotifyConfig(), nil)
	res, err := d.Dispatch(ctx, event.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Status != string(models.EventFailed) {
		t.Errorf("result = %+v, want failed when the queue is not wired", res)
	}
}

func TestDispatchPending_Batch(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	seedChatChannel(t, store, "acme", "ops-chat", srv.URL, true)

	// Distinct entities keep the concurrent items out of each other's
	// cooldown windows.
	for _, entity := range []string{"payer-a", "payer-b", "payer-c"} {
		seedPendingEvent(t, store, "acme", entity, "")
	}
	seedPendingEvent(t, store, "globex", "payer-a", "")

	d := newTestDispatcher(t, store, testNotifyConfig(), nil)
	batch, err := d.DispatchPending(ctx, "acme")
	if err != nil {
		t.Fatalf("dispatch pending: %v", err)
	}
	if batch.Processed != 3 || batch.Sent != 3 || batch.Failed != 0 || batch.Suppressed != 0 {
		t.Errorf("batch = %+v, want 3 sent", batch)
	}

	// The other tenant's event stays pending.
	pending, err := store.Events().ListPending(ctx, "globex")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("globex pending = %d, want 1", len(pending))
	}
}

func TestChatSender_MissingURL(t *testing.T) {
	sender := NewChatSender(time.Second)
	n := &Notification{
		Event: &models.AlertEvent{ID: uuid.New().String()},
		Data:  &TemplateData{Severity: "high"},
	}
	if sender.Send(context.Background(), n, "") {
		t.Error("send with empty url should report not delivered")
	}
}
