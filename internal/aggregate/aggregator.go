// Package aggregate rolls raw operational records into per-entity,
// per-day aggregates.
package aggregate

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

// Aggregator computes per-entity, per-day rollups for a tenant window.
type Aggregator struct {
	store storage.Storage
	log   zerolog.Logger
	now   func() time.Time
}

// New creates an Aggregator backed by the given storage.
func New(store storage.Storage) *Aggregator {
	return &Aggregator{
		store: store,
		log:   logger.WithComponent("aggregate"),
		now:   time.Now,
	}
}

// Day truncates a time to its UTC day bucket.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type bucket struct {
	entityKey string
	day       time.Time
}

// Run recomputes aggregates for the tenant, metric and date range
// [start, end). Prior rows strictly within the range are deleted and
// replaced in one transaction, so overlapping re-runs never double
// count and a failure leaves no partial window behind.
func (a *Aggregator) Run(ctx context.Context, tenant string, metric models.Metric, start, end time.Time) (int, error) {
	if tenant == "" {
		return 0, fmt.Errorf("tenant is required")
	}
	start, end = Day(start), Day(end)
	if !start.Before(end) {
		return 0, fmt.Errorf("invalid range: start %s is not before end %s",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	records, err := a.store.Records().ListWindow(ctx, tenant, metric, start, end)
	if err != nil {
		metrics.AggregateRunsTotal.WithLabelValues(tenant, "error").Inc()
		return 0, fmt.Errorf("list records: %w", err)
	}

	aggs := Rollup(tenant, metric, records, a.now())

	if err := a.store.Aggregates().ReplaceWindow(ctx, tenant, metric, start, end, aggs); err != nil {
		metrics.AggregateRunsTotal.WithLabelValues(tenant, "error").Inc()
		return 0, fmt.Errorf("replace window: %w", err)
	}

	metrics.AggregateRunsTotal.WithLabelValues(tenant, "ok").Inc()
	a.log.Info().
		Str("tenant", tenant).
		Str("metric", string(metric)).
		Str("start", start.Format("2006-01-02")).
		Str("end", end.Format("2006-01-02")).
		Int("records", len(records)).
		Int("aggregates", len(aggs)).
		Msg("aggregation run complete")

	return len(aggs), nil
}

// Rollup groups records by (entity key, day) and computes each bucket's
// counts, sum, and rate. Rate is flagged/total, zero when total is zero.
func Rollup(tenant string, metric models.Metric, records []*models.RawRecord, now time.Time) []*models.Aggregate {
	grouped := make(map[bucket]*models.Aggregate)
	var order []bucket

	for _, rec := range records {
		b := bucket{entityKey: rec.EntityKey, day: Day(rec.Day)}
		agg, ok := grouped[b]
		if !ok {
			agg = &models.Aggregate{
				ID:        uuid.New().String(),
				Tenant:    tenant,
				Metric:    metric,
				EntityKey: rec.EntityKey,
				Day:       b.day,
				CreatedAt: now,
			}
			grouped[b] = agg
			order = append(order, b)
		}
		agg.TotalCount++
		if rec.Flagged {
			agg.FlaggedCount++
		}
		agg.AmountSum += rec.Amount
	}

	aggs := make([]*models.Aggregate, 0, len(order))
	for _, b := range order {
		agg := grouped[b]
		if agg.TotalCount > 0 {
			agg.Rate = float64(agg.FlaggedCount) / float64(agg.TotalCount)
		}
		aggs = append(aggs, agg)
	}
	return aggs
}
