package evaluate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/driftwatch/internal/models"
	"github.com/good-yellow-bee/driftwatch/internal/storage"
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

func seedSignal(t *testing.T, store storage.Storage, tenant string) *models.Signal {
	t.Helper()
	now := time.Now().UTC()
	sig := &models.Signal{
		ID:               uuid.New().String(),
		Tenant:           tenant,
		Metric:           models.MetricDenialRate,
		Kind:             models.SignalKindSpike,
		EntityKey:        "payer-aetna",
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
		Summary:          "denial_rate spike",
		CreatedAt:        now,
	}
	err := store.Signals().ReplaceWindow(context.Background(), tenant, sig.Metric, sig.RecentStart, sig.RecentEnd, []*models.Signal{sig})
	if err != nil {
		t.Fatalf("seed signal: %v", err)
	}
	return sig
}

func seedRule(t *testing.T, store storage.Storage, tenant, name string, metric models.RuleMetric, threshold float64) *models.AlertRule {
	t.Helper()
	now := time.Now().UTC()
	rule := &models.AlertRule{
		ID:             uuid.New().String(),
		Tenant:         tenant,
		Name:           name,
		Metric:         metric,
		ThresholdType:  models.ThresholdGTE,
		ThresholdValue: threshold,
		Enabled:        true,
		Severity:       models.SeverityHigh,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.Rules().Create(context.Background(), rule); err != nil {
		t.Fatalf("seed rule %s: %v", name, err)
	}
	return rule
}

func TestEvaluator_FiresMatchingRules(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	sig := seedSignal(t, store, "acme")
	seedRule(t, store, "acme", "delta-spike", models.RuleMetricDelta, 0.5)    // fires, delta 0.50
	seedRule(t, store, "acme", "severe-only", models.RuleMetricSeverity, 0.9) // matched, under threshold
	disabled := seedRule(t, store, "acme", "disabled", models.RuleMetricDelta, 0.0)
	if err := store.Rules().SetEnabled(ctx, disabled.ID, false); err != nil {
		t.Fatalf("disable rule: %v", err)
	}

	res, err := New(store).EvaluateSignal(ctx, sig.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Matched != 2 {
		t.Errorf("matched = %d, want 2 (disabled rules never load)", res.Matched)
	}
	if res.Fired != 1 || res.Created != 1 {
		t.Errorf("fired=%d created=%d, want 1/1", res.Fired, res.Created)
	}

	event := res.Events[0]
	if event.Status != models.EventPending {
		t.Errorf("event status = %s, want pending", event.Status)
	}
	if event.Category != "claims" || event.SignalType != "denial_rate_spike" || event.EntityLabel != "payer-aetna" {
		t.Errorf("identity triple = (%s, %s, %s)", event.Category, event.SignalType, event.EntityLabel)
	}

	payload, err := event.DecodePayload()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Delta != 0.50 || payload.RuleName != "delta-spike" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestEvaluator_ReEvaluationDeduplicates(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	sig := seedSignal(t, store, "acme")
	seedRule(t, store, "acme", "delta-spike", models.RuleMetricDelta, 0.1)

	ev := New(store)
	first, err := ev.EvaluateSignal(ctx, sig.ID)
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	if first.Created != 1 {
		t.Fatalf("first created = %d, want 1", first.Created)
	}
	eventID := first.Events[0].ID

	// However many times the signal re-evaluates, the same event comes
	// back and nothing new is created.
	for i := 0; i < 3; i++ {
		res, err := ev.EvaluateSignal(ctx, sig.ID)
		if err != nil {
			t.Fatalf("re-evaluate %d: %v", i, err)
		}
		if res.Created != 0 || res.Deduped != 1 {
			t.Errorf("re-evaluate %d: created=%d deduped=%d, want 0/1", i, res.Created, res.Deduped)
		}
		if res.Events[0].ID != eventID {
			t.Errorf("re-evaluate %d returned event %s, want %s", i, res.Events[0].ID, eventID)
		}
	}
}

func TestEvaluator_ScopeFiltering(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	sig := seedSignal(t, store, "acme")

	now := time.Now().UTC()
	scoped := &models.AlertRule{
		ID:             uuid.New().String(),
		Tenant:         "acme",
		Name:           "payments-only",
		Metric:         models.RuleMetricDelta,
		ThresholdType:  models.ThresholdGTE,
		ThresholdValue: 0,
		Enabled:        true,
		Scope:          models.RuleScope{Metric: models.MetricPaymentDelay},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.Rules().Create(ctx, scoped); err != nil {
		t.Fatalf("create scoped rule: %v", err)
	}

	res, err := New(store).EvaluateSignal(ctx, sig.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Matched != 0 || res.Fired != 0 {
		t.Errorf("matched=%d fired=%d, want 0/0 for out-of-scope rule", res.Matched, res.Fired)
	}
}

func TestEvaluator_RelativeDeltaFallback(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// Zero-baseline signal: relative delta undefined, the rule's value
	// falls back to severity.
	now := time.Now().UTC()
	sig := &models.Signal{
		ID:            uuid.New().String(),
		Tenant:        "acme",
		Metric:        models.MetricDenialRate,
		Kind:          models.SignalKindNewOccurrence,
		EntityKey:     "payer-new",
		BaselineStart: now.AddDate(0, 0, -28),
		BaselineEnd:   now.AddDate(0, 0, -7),
		RecentStart:   now.AddDate(0, 0, -7),
		RecentEnd:     now,
		RecentValue:   0.2,
		Delta:         0.2,
		Severity:      0.65,
		Confidence:    0.8,
		CreatedAt:     now,
	}
	err := store.Signals().ReplaceWindow(ctx, "acme", sig.Metric, sig.RecentStart, sig.RecentEnd, []*models.Signal{sig})
	if err != nil {
		t.Fatalf("seed signal: %v", err)
	}
	seedRule(t, store, "acme", "rel-spike", models.RuleMetricRelativeDelta, 0.6)

	res, err := New(store).EvaluateSignal(ctx, sig.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// Severity 0.65 >= 0.6 fires through the fallback.
	if res.Fired != 1 {
		t.Errorf("fired = %d, want 1 via severity fallback", res.Fired)
	}
}

func TestEvaluator_TenantIsolation(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	sig := seedSignal(t, store, "acme")
	// Globex's rule would fire on these numbers, but it belongs to
	// another tenant.
	seedRule(t, store, "globex", "delta-spike", models.RuleMetricDelta, 0.0)

	res, err := New(store).EvaluateSignal(ctx, sig.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Matched != 0 {
		t.Errorf("matched = %d, want 0 rules from other tenants", res.Matched)
	}
}

func TestEvaluator_EvaluateTenant(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	seedSignal(t, store, "acme")
	seedRule(t, store, "acme", "delta-spike", models.RuleMetricDelta, 0.1)

	results, err := New(store).EvaluateTenant(ctx, "acme", 0)
	if err != nil {
		t.Fatalf("evaluate tenant: %v", err)
	}
	if len(results) != 1 || results[0].Created != 1 {
		t.Errorf("results = %+v, want one signal with one created event", results)
	}

	pending, err := store.Events().ListPending(ctx, "acme")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending events = %d, want 1", len(pending))
	}
}
