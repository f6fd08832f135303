// Package detect compares recent window aggregates against a baseline
// window per entity and emits immutable drift signals.
package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/driftwatch/internal/aggregate"
	"github.com/good-yellow-bee/driftwatch/internal/config"
	"github.com/good-yellow-bee/driftwatch/internal/logger"
	"github.com/good-yellow-bee/driftwatch/internal/metrics"
	"github.com/good-yellow-bee/driftwatch/internal/models"
	"github.com/good-yellow-bee/driftwatch/internal/storage"
)

// Spike classification thresholds. The relative tiers drive the
// severity step function; the absolute floor comes from the metric spec.
const (
	relativeSpikeFloor = 0.5

	tierCritical = 1.0
	tierHigh     = 0.75
	tierMedium   = 0.5
)

// Severity step scores per tier. Chosen so the critical tier lands
// inside the 0.6-0.8 band the downstream rule defaults assume.
const (
	severityCritical = 0.75
	severityHigh     = 0.65
	severityMedium   = 0.5
	severityLow      = 0.25
)

// newOccurrenceConfidence is the fixed confidence for entities that
// appear only in the recent window.
const newOccurrenceConfidence = 0.8

// confidenceScale is the combined sample size at which spike confidence
// saturates at 1.0.
const confidenceScale = 200.0

// Windows are the resolved comparison bounds: baseline strictly
// precedes recent, [BaselineStart, BaselineEnd) = [.., RecentStart).
type Windows struct {
	BaselineStart time.Time
	BaselineEnd   time.Time
	RecentStart   time.Time
	RecentEnd     time.Time
}

// WindowsAsOf resolves the detection windows for a metric ending at the
// asOf day (exclusive).
func WindowsAsOf(cfg config.DetectionConfig, metric models.Metric, asOf time.Time) Windows {
	w := cfg.WindowsFor(metric)
	recentEnd := aggregate.Day(asOf)
	recentStart := recentEnd.AddDate(0, 0, -w.RecentWindowDays)
	baselineStart := recentStart.AddDate(0, 0, -w.BaselineWindowDays)
	return Windows{
		BaselineStart: baselineStart,
		BaselineEnd:   recentStart,
		RecentStart:   recentStart,
		RecentEnd:     recentEnd,
	}
}

// Detector runs baseline comparison for one tenant and metric at a time.
type Detector struct {
	store storage.Storage
	cfg   config.DetectionConfig
	log   zerolog.Logger
	now   func() time.Time
}

// New creates a Detector.
func New(store storage.Storage, cfg config.DetectionConfig) *Detector {
	return &Detector{
		store: store,
		cfg:   cfg,
		log:   logger.WithComponent("detect"),
		now:   time.Now,
	}
}

// Run compares the recent window against the baseline window for every
// entity of the tenant and metric, and persists the resulting signals.
// Existing signals inside the recomputed window are replaced in the same
// transaction, so re-runs are idempotent. Below-minimum volume is not an
// error: the key simply produces no signal.
func (d *Detector) Run(ctx context.Context, tenant string, metric models.Metric, asOf time.Time) ([]*models.Signal, error) {
	if tenant == "" {
		return nil, fmt.Errorf("tenant is required")
	}

	win := WindowsAsOf(d.cfg, metric, asOf)
	minVolume := int64(d.cfg.WindowsFor(metric).MinVolume)

	baseline, err := d.store.Aggregates().SumWindow(ctx, tenant, metric, win.BaselineStart, win.BaselineEnd)
	if err != nil {
		return nil, fmt.Errorf("sum baseline window: %w", err)
	}
	recent, err := d.store.Aggregates().SumWindow(ctx, tenant, metric, win.RecentStart, win.RecentEnd)
	if err != nil {
		return nil, fmt.Errorf("sum recent window: %w", err)
	}

	baseByKey := make(map[string]models.WindowSum, len(baseline))
	for _, b := range baseline {
		baseByKey[b.EntityKey] = b
	}

	now := d.now()
	var signals []*models.Signal
	for _, cur := range recent {
		sig, skip := d.classify(tenant, metric, win, minVolume, cur, baseByKey, now)
		if skip != "" {
			metrics.SignalsSkippedTotal.WithLabelValues(tenant, skip).Inc()
			d.log.Debug().
				Str("tenant", tenant).
				Str("metric", string(metric)).
				Str("entity_key", cur.EntityKey).
				Str("reason", skip).
				Msg("no signal")
			continue
		}
		if sig != nil {
			signals = append(signals, sig)
			metrics.SignalsDetectedTotal.WithLabelValues(tenant, string(metric), string(sig.Kind)).Inc()
		}
	}

	if err := d.store.Signals().ReplaceWindow(ctx, tenant, metric, win.RecentStart, win.RecentEnd, signals); err != nil {
		return nil, fmt.Errorf("replace signals: %w", err)
	}

	d.log.Info().
		Str("tenant", tenant).
		Str("metric", string(metric)).
		Int("signals", len(signals)).
		Msg("detection run complete")
	return signals, nil
}

// classify applies the detection rules to one entity. It returns the
// signal to emit (nil when the entity is within normal bounds) or a
// non-empty skip reason.
func (d *Detector) classify(tenant string, metric models.Metric, win Windows, minVolume int64, cur models.WindowSum, baseByKey map[string]models.WindowSum, now time.Time) (*models.Signal, string) {
	if cur.TotalCount < minVolume {
		return nil, "recent_below_min_volume"
	}

	base, inBaseline := baseByKey[cur.EntityKey]
	if !inBaseline {
		return d.newOccurrence(tenant, metric, win, cur, now), ""
	}
	if base.TotalCount < minVolume {
		return nil, "baseline_below_min_volume"
	}

	spec := metric.Spec()
	baseValue := base.Value(metric)
	curValue := cur.Value(metric)
	delta := curValue - baseValue

	hasRel := baseValue > 0
	var rel float64
	if hasRel {
		rel = delta / baseValue
	}

	// The relative test only participates for rate metrics; a zero
	// baseline leaves it undefined and the absolute floor decides alone.
	fires := delta >= spec.AbsoluteFloor || (spec.Rate && hasRel && rel >= relativeSpikeFloor)
	if !fires {
		return nil, ""
	}

	severity := severityForRelativeDelta(rel, hasRel)
	confidence := spikeConfidence(base.TotalCount + cur.TotalCount)

	sig := &models.Signal{
		ID:               uuid.New().String(),
		Tenant:           tenant,
		Metric:           metric,
		Kind:             models.SignalKindSpike,
		EntityKey:        cur.EntityKey,
		BaselineStart:    win.BaselineStart,
		BaselineEnd:      win.BaselineEnd,
		RecentStart:      win.RecentStart,
		RecentEnd:        win.RecentEnd,
		BaselineValue:    baseValue,
		RecentValue:      curValue,
		Delta:            delta,
		RelativeDelta:    rel,
		HasRelativeDelta: hasRel,
		Severity:         severity,
		Confidence:       confidence,
		CreatedAt:        now,
	}
	sig.Summary = fmt.Sprintf("%s for %s rose from %.3f to %.3f (%+.3f) between the %dd baseline and %dd recent window",
		metric, cur.EntityKey, baseValue, curValue, delta,
		int(win.BaselineEnd.Sub(win.BaselineStart).Hours()/24),
		int(win.RecentEnd.Sub(win.RecentStart).Hours()/24))
	return sig, ""
}

func (d *Detector) newOccurrence(tenant string, metric models.Metric, win Windows, cur models.WindowSum, now time.Time) *models.Signal {
	curValue := cur.Value(metric)
	sig := &models.Signal{
		ID:               uuid.New().String(),
		Tenant:           tenant,
		Metric:           metric,
		Kind:             models.SignalKindNewOccurrence,
		EntityKey:        cur.EntityKey,
		BaselineStart:    win.BaselineStart,
		BaselineEnd:      win.BaselineEnd,
		RecentStart:      win.RecentStart,
		RecentEnd:        win.RecentEnd,
		BaselineValue:    0,
		RecentValue:      curValue,
		Delta:            curValue,
		HasRelativeDelta: false,
		Severity:         severityHigh,
		Confidence:       newOccurrenceConfidence,
		CreatedAt:        now,
	}
	sig.Summary = fmt.Sprintf("%s appeared for %s with value %.3f over %d records and no baseline history",
		metric, cur.EntityKey, curValue, cur.TotalCount)
	return sig
}

// severityForRelativeDelta is the step function over the relative delta.
// A spike with no defined relative delta grew from a zero baseline,
// which is unbounded relative growth, so it takes the critical score.
func severityForRelativeDelta(rel float64, hasRel bool) float64 {
	if !hasRel {
		return severityCritical
	}
	switch {
	case rel >= tierCritical:
		return severityCritical
	case rel >= tierHigh:
		return severityHigh
	case rel >= tierMedium:
		return severityMedium
	default:
		return severityLow
	}
}

// spikeConfidence scales with combined sample size, capped at 1.0.
func spikeConfidence(combined int64) float64 {
	c := float64(combined) / confidenceScale
	if c > 1.0 {
		return 1.0
	}
	return c
}
