package aggregate

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

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func record(tenant, entity, dayStr string, flagged bool, amount float64) *models.RawRecord {
	return &models.RawRecord{
		ID:        uuid.New().String(),
		Tenant:    tenant,
		Metric:    models.MetricDenialRate,
		EntityKey: entity,
		Day:       day(dayStr),
		Flagged:   flagged,
		Amount:    amount,
		CreatedAt: time.Now(),
	}
}

func TestRollup(t *testing.T) {
	records := []*models.RawRecord{
		record("acme", "payer-a", "2026-08-10", true, 0),
		record("acme", "payer-a", "2026-08-10", false, 0),
		record("acme", "payer-a", "2026-08-10", false, 0),
		record("acme", "payer-a", "2026-08-11", true, 0),
		record("acme", "payer-b", "2026-08-10", false, 3.5),
	}

	aggs := Rollup("acme", models.MetricDenialRate, records, time.Now())
	if len(aggs) != 3 {
		t.Fatalf("buckets = %d, want 3", len(aggs))
	}

	byKey := map[string]*models.Aggregate{}
	for _, a := range aggs {
		byKey[a.EntityKey+a.Day.Format("2006-01-02")] = a
	}

	a := byKey["payer-a2026-08-10"]
	if a == nil {
		t.Fatal("missing payer-a bucket for 2026-08-10")
	}
	if a.TotalCount != 3 || a.FlaggedCount != 1 {
		t.Errorf("payer-a bucket = total %d flagged %d, want 3/1", a.TotalCount, a.FlaggedCount)
	}
	if a.Rate != 1.0/3.0 {
		t.Errorf("rate = %v, want 1/3", a.Rate)
	}

	b := byKey["payer-b2026-08-10"]
	if b == nil || b.AmountSum != 3.5 {
		t.Errorf("payer-b amount sum = %+v, want 3.5", b)
	}
}

func TestRollup_Empty(t *testing.T) {
	aggs := Rollup("acme", models.MetricDenialRate, nil, time.Now())
	if len(aggs) != 0 {
		t.Errorf("rollup of no records = %d aggregates, want 0", len(aggs))
	}
}

func TestDay(t *testing.T) {
	in := time.Date(2026, 8, 10, 23, 59, 1, 0, time.FixedZone("EST", -5*3600))
	got := Day(in)
	// 23:59 EST is already the next day in UTC.
	want := time.Date(2026, 8, 11, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Day(%v) = %v, want %v", in, got, want)
	}
}

func TestAggregator_Run(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	records := []*models.RawRecord{
		record("acme", "payer-a", "2026-08-10", true, 0),
		record("acme", "payer-a", "2026-08-10", false, 0),
		record("acme", "payer-a", "2026-08-11", true, 0),
	}
	if err := store.Records().Insert(ctx, records); err != nil {
		t.Fatalf("insert records: %v", err)
	}

	n, err := New(store).Run(ctx, "acme", models.MetricDenialRate, day("2026-08-10"), day("2026-08-12"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 2 {
		t.Errorf("aggregates written = %d, want 2", n)
	}

	sums, err := store.Aggregates().SumWindow(ctx, "acme", models.MetricDenialRate, day("2026-08-10"), day("2026-08-12"))
	if err != nil {
		t.Fatalf("sum window: %v", err)
	}
	if len(sums) != 1 || sums[0].TotalCount != 3 || sums[0].FlaggedCount != 2 {
		t.Errorf("window sum = %+v, want total 3 flagged 2", sums)
	}
}

func TestAggregator_RunIdempotent(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	records := []*models.RawRecord{
		record("acme", "payer-a", "2026-08-10", true, 0),
		record("acme", "payer-a", "2026-08-11", false, 0),
	}
	if err := store.Records().Insert(ctx, records); err != nil {
		t.Fatalf("insert records: %v", err)
	}

	agg := New(store)
	for i := 0; i < 3; i++ {
		if _, err := agg.Run(ctx, "acme", models.MetricDenialRate, day("2026-08-10"), day("2026-08-12")); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	// Overlapping re-run covering part of the window.
	if _, err := agg.Run(ctx, "acme", models.MetricDenialRate, day("2026-08-11"), day("2026-08-12")); err != nil {
		t.Fatalf("overlapping run: %v", err)
	}

	sums, err := store.Aggregates().SumWindow(ctx, "acme", models.MetricDenialRate, day("2026-08-10"), day("2026-08-12"))
	if err != nil {
		t.Fatalf("sum window: %v", err)
	}
	if len(sums) != 1 {
		t.Fatalf("entities = %d, want 1", len(sums))
	}
	// Totals are unchanged however many times the window recomputes.
	if sums[0].TotalCount != 2 || sums[0].FlaggedCount != 1 {
		t.Errorf("window sum after re-runs = %+v, want total 2 flagged 1", sums[0])
	}
}

func TestAggregator_RunValidation(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	agg := New(store)

	if _, err := agg.Run(ctx, "", models.MetricDenialRate, day("2026-08-10"), day("2026-08-12")); err == nil {
		t.Error("empty tenant should error")
	}
	if _, err := agg.Run(ctx, "acme", models.MetricDenialRate, day("2026-08-12"), day("2026-08-10")); err == nil {
		t.Error("inverted range should error")
	}
	if _, err := agg.Run(ctx, "acme", models.MetricDenialRate, day("2026-08-10"), day("2026-08-10")); err == nil {
		t.Error("empty range should error")
	}
}
