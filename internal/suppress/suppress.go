// Package suppress decides, just before dispatch, whether an alert event
// should be silenced instead of delivered. Two independent checks apply:
// a cooldown on recently notified identity triples, and learned noise
// from repeated operator feedback.
package suppress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/driftwatch/internal/cache"
	"github.com/good-yellow-bee/driftwatch/internal/config"
	"github.com/good-yellow-bee/driftwatch/internal/logger"
	"github.com/good-yellow-bee/driftwatch/internal/metrics"
	"github.com/good-yellow-bee/driftwatch/internal/models"
	"github.com/good-yellow-bee/driftwatch/internal/storage"
)

// Suppression reasons.
const (
	ReasonCooldown     = "cooldown"
	ReasonLearnedNoise = "learned_noise"
)

// Triple is the identity an event is suppressed by: what kind of problem,
// on what kind of signal, for which entity.
type Triple struct {
	Category    string
	SignalType  string
	EntityLabel string
}

// TripleOf extracts the identity triple denormalized onto the event.
func TripleOf(event *models.AlertEvent) Triple {
	return Triple{
		Category:    event.Category,
		SignalType:  event.SignalType,
		EntityLabel: event.EntityLabel,
	}
}

// Decision is the outcome of a suppression check.
type Decision struct {
	Suppress bool   `json:"suppress"`
	Reason   string `json:"reason,omitempty"`
}

// Context is advisory display data about a triple's recent history. It is
// cached and may be stale; dispatch decisions never read it.
type Context struct {
	Triple        Triple     `json:"triple"`
	RecentSends   int64      `json:"recent_sends"`
	NoiseStrikes  int64      `json:"noise_strikes"`
	LatestVerdict string     `json:"latest_verdict,omitempty"`
	LatestJudged  *time.Time `json:"latest_judged,omitempty"`
}

// Engine evaluates suppression for alert events.
type Engine struct {
	store storage.Storage
	cache cache.Cache
	cfg   config.SuppressionConfig
	log   zerolog.Logger
	now   func() time.Time
}

// New creates a suppression Engine. A nil cache disables context caching.
func New(store storage.Storage, c cache.Cache, cfg config.SuppressionConfig) *Engine {
	if c == nil {
		c = cache.Noop{}
	}
	return &Engine{
		store: store,
		cache: c,
		cfg:   cfg,
		log:   logger.WithComponent("suppress"),
		now:   time.Now,
	}
}

// Check decides whether the event should be suppressed. Both checks read
// storage directly: a suppression decision is never made from cached
// data. Checks run in fixed order so the recorded reason is stable.
func (e *Engine) Check(ctx context.Context, event *models.AlertEvent) (Decision, error) {
	t := TripleOf(event)
	now := e.now().UTC()

	// Cooldown: a non-suppressed notification for this triple inside the
	// window blocks another one.
	cutoff := now.Add(-e.cfg.Cooldown())
	sent, err := e.store.Events().CountSentSince(ctx, event.Tenant, t.Category, t.SignalType, t.EntityLabel, cutoff)
	if err != nil {
		return Decision{}, fmt.Errorf("counting recent sends: %w", err)
	}
	if sent > 0 {
		e.record(event, ReasonCooldown)
		return Decision{Suppress: true, Reason: ReasonCooldown}, nil
	}

	// Learned noise: enough operators called this triple a false positive
	// recently that delivery stops until the verdicts age out.
	noiseCutoff := now.Add(-e.cfg.NoiseLookback())
	strikes, err := e.store.Judgments().CountNoiseForTriple(ctx, event.Tenant, t.Category, t.SignalType, t.EntityLabel, noiseCutoff)
	if err != nil {
		return Decision{}, fmt.Errorf("counting noise judgments: %w", err)
	}
	if strikes >= int64(e.cfg.NoiseStrikeCount) {
		e.record(event, ReasonLearnedNoise)
		return Decision{Suppress: true, Reason: ReasonLearnedNoise}, nil
	}

	return Decision{}, nil
}

// Context returns display data about the event's triple, served from
// cache when fresh. Staleness here is harmless because nothing downstream
// acts on it.
func (e *Engine) Context(ctx context.Context, event *models.AlertEvent) (*Context, error) {
	t := TripleOf(event)
	key := fmt.Sprintf("suppress:ctx:%s:%s:%s:%s", event.Tenant, t.Category, t.SignalType, t.EntityLabel)

	if data, err := e.cache.Get(ctx, key); err == nil {
		var sc Context
		if err := json.Unmarshal(data, &sc); err == nil {
			return &sc, nil
		}
	}

	now := e.now().UTC()
	sent, err := e.store.Events().CountSentSince(ctx, event.Tenant, t.Category, t.SignalType, t.EntityLabel, now.Add(-e.cfg.Cooldown()))
	if err != nil {
		return nil, fmt.Errorf("counting recent sends: %w", err)
	}
	strikes, err := e.store.Judgments().CountNoiseForTriple(ctx, event.Tenant, t.Category, t.SignalType, t.EntityLabel, now.Add(-e.cfg.NoiseLookback()))
	if err != nil {
		return nil, fmt.Errorf("counting noise judgments: %w", err)
	}

	sc := &Context{Triple: t, RecentSends: sent, NoiseStrikes: strikes}
	latest, err := e.store.Judgments().LatestForTriple(ctx, event.Tenant, t.Category, t.SignalType, t.EntityLabel)
	switch {
	case err == nil:
		sc.LatestVerdict = string(latest.Verdict)
		at := latest.CreatedAt
		sc.LatestJudged = &at
	case err != storage.ErrNotFound:
		return nil, fmt.Errorf("loading latest judgment: %w", err)
	}

	if data, err := json.Marshal(sc); err == nil {
		if err := e.cache.Set(ctx, key, data, e.cfg.ContextCacheTTL()); err != nil {
			e.log.Debug().Err(err).Msg("suppression context cache write failed")
		}
	}
	return sc, nil
}

func (e *Engine) record(event *models.AlertEvent, reason string) {
	metrics.SuppressionsTotal.WithLabelValues(event.Tenant, reason).Inc()
	e.log.Info().
		Str("event_id", event.ID).
		Str("tenant", event.Tenant).
		Str("entity", event.EntityLabel).
		Str("reason", reason).
		Msg("alert suppressed")
}
