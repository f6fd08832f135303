package detect

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/driftwatch/internal/config"
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

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

// seedWindow writes one aggregate row per entry covering the given day.
func seedWindow(t *testing.T, store storage.Storage, tenant string, metric models.Metric, start, end time.Time, aggs []*models.Aggregate) {
	t.Helper()
	for _, a := range aggs {
		a.ID = uuid.New().String()
		a.Tenant = tenant
		a.Metric = metric
		a.CreatedAt = time.Now()
	}
	if err := store.Aggregates().ReplaceWindow(context.Background(), tenant, metric, start, end, aggs); err != nil {
		t.Fatalf("seed aggregates: %v", err)
	}
}

// asOf 2026-08-29 puts the denial_rate recent window at [08-22, 08-29)
// and the baseline at [08-01, 08-22).
var asOf = day("2026-08-29")

func seedDenialRate(t *testing.T, store storage.Storage, tenant, entity string, baseTotal, baseFlagged, recentTotal, recentFlagged int64) {
	t.Helper()
	if baseTotal > 0 {
		seedWindow(t, store, tenant, models.MetricDenialRate, day("2026-08-01"), day("2026-08-02"), []*models.Aggregate{
			{EntityKey: entity, Day: day("2026-08-01"), TotalCount: baseTotal, FlaggedCount: baseFlagged},
		})
	}
	seedWindow(t, store, tenant, models.MetricDenialRate, day("2026-08-22"), day("2026-08-23"), []*models.Aggregate{
		{EntityKey: entity, Day: day("2026-08-22"), TotalCount: recentTotal, FlaggedCount: recentFlagged},
	})
}

func TestDetector_SpikeSeverityTiers(t *testing.T) {
	tests := []struct {
		name          string
		baseFlagged   int64 // of 100
		recentFlagged int64 // of 100
		wantSeverity  float64
	}{
		// 10% -> 60%: relative delta 5.0, critical tier
		{"critical", 10, 60, 0.75},
		// 20% -> 36%: relative delta 0.8, high tier
		{"high", 20, 36, 0.65},
		// 20% -> 32%: relative delta 0.6, medium tier
		{"medium", 20, 32, 0.5},
		// 20% -> 26%: relative delta 0.3, absolute floor still fires
		{"low", 20, 26, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, cleanup := setupTestDB(t)
			defer cleanup()

			seedDenialRate(t, store, "acme", "payer-a", 100, tt.baseFlagged, 100, tt.recentFlagged)
			signals, err := New(store, config.DetectionConfig{}).Run(context.Background(), "acme", models.MetricDenialRate, asOf)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if len(signals) != 1 {
				t.Fatalf("signals = %d, want 1", len(signals))
			}
			sig := signals[0]
			if sig.Kind != models.SignalKindSpike {
				t.Errorf("kind = %s, want spike", sig.Kind)
			}
			if sig.Severity != tt.wantSeverity {
				t.Errorf("severity = %v, want %v", sig.Severity, tt.wantSeverity)
			}
			if !sig.HasRelativeDelta {
				t.Error("relative delta should be defined for nonzero baseline")
			}
		})
	}
}

func TestDetector_SpikeFields(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	seedDenialRate(t, store, "acme", "payer-a", 100, 10, 50, 30)
	signals, err := New(store, config.DetectionConfig{}).Run(context.Background(), "acme", models.MetricDenialRate, asOf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("signals = %d, want 1", len(signals))
	}

	sig := signals[0]
	if sig.BaselineValue != 0.10 || sig.RecentValue != 0.60 {
		t.Errorf("values = %v -> %v, want 0.10 -> 0.60", sig.BaselineValue, sig.RecentValue)
	}
	if sig.Delta != 0.50 {
		t.Errorf("delta = %v, want 0.50", sig.Delta)
	}
	if sig.RelativeDelta != 5.0 {
		t.Errorf("relative delta = %v, want 5.0", sig.RelativeDelta)
	}
	// Combined volume 150 of the 200 saturation point.
	if sig.Confidence != 0.75 {
		t.Errorf("confidence = %v, want 0.75", sig.Confidence)
	}
	if sig.Type() != "denial_rate_spike" {
		t.Errorf("type = %s, want denial_rate_spike", sig.Type())
	}
	if sig.Summary == "" {
		t.Error("summary should be set")
	}
}

func TestDetector_NoSignalWithinBounds(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	// 20% -> 22%: delta 0.02 under the floor, relative 0.1 under the
	// relative floor.
	seedDenialRate(t, store, "acme", "payer-a", 100, 20, 100, 22)
	signals, err := New(store, config.DetectionConfig{}).Run(context.Background(), "acme", models.MetricDenialRate, asOf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("signals = %d, want 0", len(signals))
	}
}

func TestDetector_MinVolume(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	// Recent volume 5 is under the denial_rate minimum of 10; a huge
	// swing still produces nothing.
	seedDenialRate(t, store, "acme", "payer-a", 100, 10, 5, 5)
	signals, err := New(store, config.DetectionConfig{}).Run(context.Background(), "acme", models.MetricDenialRate, asOf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("signals = %d, want 0 for below-volume recent window", len(signals))
	}
}

func TestDetector_BaselineBelowMinVolume(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	seedDenialRate(t, store, "acme", "payer-a", 5, 3, 100, 60)
	signals, err := New(store, config.DetectionConfig{}).Run(context.Background(), "acme", models.MetricDenialRate, asOf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("signals = %d, want 0 for below-volume baseline", len(signals))
	}
}

func TestDetector_NewOccurrence(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	// Entity exists only in the recent window.
	seedDenialRate(t, store, "acme", "payer-new", 0, 0, 50, 10)
	signals, err := New(store, config.DetectionConfig{}).Run(context.Background(), "acme", models.MetricDenialRate, asOf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("signals = %d, want 1", len(signals))
	}
	sig := signals[0]
	if sig.Kind != models.SignalKindNewOccurrence {
		t.Errorf("kind = %s, want new_occurrence", sig.Kind)
	}
	if sig.BaselineValue != 0 || sig.Delta != sig.RecentValue {
		t.Errorf("new occurrence values = base %v delta %v recent %v", sig.BaselineValue, sig.Delta, sig.RecentValue)
	}
	if sig.Confidence != 0.8 {
		t.Errorf("confidence = %v, want fixed 0.8", sig.Confidence)
	}
	if sig.HasRelativeDelta {
		t.Error("new occurrence has no relative delta")
	}
}

func TestDetector_ZeroBaselineSpike(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	// Entity has baseline volume but zero flagged: rate 0 -> 30%.
	seedDenialRate(t, store, "acme", "payer-a", 100, 0, 100, 30)
	signals, err := New(store, config.DetectionConfig{}).Run(context.Background(), "acme", models.MetricDenialRate, asOf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("signals = %d, want 1", len(signals))
	}
	sig := signals[0]
	if sig.HasRelativeDelta {
		t.Error("relative delta should be undefined for zero baseline")
	}
	// Growth from zero is unbounded relative growth.
	if sig.Severity != 0.75 {
		t.Errorf("severity = %v, want critical 0.75", sig.Severity)
	}
}

func TestDetector_PaymentDelayAbsoluteOnly(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// payment_delay windows: recent 14d [08-15, 08-29), baseline 60d
	// [06-16, 08-15). Min volume 30.
	seed := func(entity string, dayStr string, total int64, amountSum float64) {
		seedWindow(t, store, "acme", models.MetricPaymentDelay, day(dayStr), day(dayStr).AddDate(0, 0, 1), []*models.Aggregate{
			{EntityKey: entity, Day: day(dayStr), TotalCount: total, AmountSum: amountSum},
		})
	}

	// payer-a: mean delay 10 -> 13 days, delta 3.0 over the 2.0 floor.
	// payer-b: mean delay 1 -> 2.5 days, relative growth 1.5 but delta
	// 1.5 under the floor; mean-amount metrics get no relative test.
	seed("payer-a", "2026-07-01", 50, 500)
	seed("payer-a", "2026-08-20", 40, 520)
	seed("payer-b", "2026-07-02", 50, 50)
	seed("payer-b", "2026-08-21", 40, 100)

	signals, err := New(store, config.DetectionConfig{}).Run(ctx, "acme", models.MetricPaymentDelay, asOf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("signals = %d, want 1 (absolute floor only)", len(signals))
	}
	sig := signals[0]
	if sig.EntityKey != "payer-a" {
		t.Errorf("entity = %s, want payer-a", sig.EntityKey)
	}
	if sig.Delta != 3.0 {
		t.Errorf("delta = %v, want 3.0", sig.Delta)
	}
	// Relative delta 0.3 is still computed for severity: low tier.
	if sig.Severity != 0.25 {
		t.Errorf("severity = %v, want 0.25", sig.Severity)
	}
}

func TestDetector_RunIdempotent(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	seedDenialRate(t, store, "acme", "payer-a", 100, 10, 50, 30)
	det := New(store, config.DetectionConfig{})
	for i := 0; i < 3; i++ {
		if _, err := det.Run(ctx, "acme", models.MetricDenialRate, asOf); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	list, err := store.Signals().ListByTenant(ctx, "acme", 10, 0)
	if err != nil {
		t.Fatalf("list signals: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("signals after 3 runs = %d, want 1", len(list))
	}
}

func TestDetector_WindowOverrides(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	// Tighten min volume so the default-passing fixture is rejected.
	cfg := config.DetectionConfig{Metrics: map[string]config.MetricWindows{
		"denial_rate": {MinVolume: 500},
	}}
	seedDenialRate(t, store, "acme", "payer-a", 100, 10, 100, 60)
	signals, err := New(store, cfg).Run(context.Background(), "acme", models.MetricDenialRate, asOf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("signals = %d, want 0 under raised min volume", len(signals))
	}
}

func TestWindowsAsOf(t *testing.T) {
	win := WindowsAsOf(config.DetectionConfig{}, models.MetricDenialRate, asOf)
	if !win.RecentEnd.Equal(day("2026-08-29")) || !win.RecentStart.Equal(day("2026-08-22")) {
		t.Errorf("recent window = [%v, %v)", win.RecentStart, win.RecentEnd)
	}
	if !win.BaselineEnd.Equal(win.RecentStart) {
		t.Error("baseline must end where recent begins")
	}
	if !win.BaselineStart.Equal(day("2026-08-01")) {
		t.Errorf("baseline start = %v, want 2026-08-01", win.BaselineStart)
	}
}
