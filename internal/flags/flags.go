// Package flags implements the feature rollout gate: percentage-based
// bucketing with master and environment kill switches and per-user or
// per-tenant overrides.
package flags

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/driftwatch/internal/cache"
	"github.com/good-yellow-bee/driftwatch/internal/config"
	"github.com/good-yellow-bee/driftwatch/internal/logger"
	"github.com/good-yellow-bee/driftwatch/internal/metrics"
	"github.com/good-yellow-bee/driftwatch/internal/models"
	"github.com/good-yellow-bee/driftwatch/internal/storage"
)

// Actor identifies who a flag is evaluated for. Either field may be
// empty; UserID is the bucketing identity when present, else Tenant.
type Actor struct {
	Tenant string
	UserID string
}

// id returns the bucketing identity, empty when anonymous.
func (a Actor) id() string {
	if a.UserID != "" {
		return a.UserID
	}
	return a.Tenant
}

// Gate evaluates feature flags. Evaluation is a pure function of flag
// state, overrides, and actor identity, so repeated calls under
// unchanged state always agree.
type Gate struct {
	store storage.Storage
	cache cache.Cache
	cfg   config.FlagsConfig
	env   string
	log   zerolog.Logger
}

// New creates a flag Gate for the given runtime environment. A nil
// cache disables override caching.
func New(store storage.Storage, c cache.Cache, cfg config.FlagsConfig, env string) *Gate {
	if c == nil {
		c = cache.Noop{}
	}
	return &Gate{
		store: store,
		cache: c,
		cfg:   cfg,
		env:   env,
		log:   logger.WithComponent("flags"),
	}
}

// IsEnabled evaluates the flag for the actor. Precedence: missing flag
// falls back to the configured default; the master switch, then the
// environment switch, can kill the flag outright; a user override, then
// a tenant override, beats percentage bucketing; finally the rollout
// percentage decides by consistent hash of (flag, actor id).
func (g *Gate) IsEnabled(ctx context.Context, name string, actor Actor) bool {
	result := g.evaluate(ctx, name, actor)
	metrics.FlagEvaluationsTotal.WithLabelValues(name, fmt.Sprintf("%t", result)).Inc()
	return result
}

func (g *Gate) evaluate(ctx context.Context, name string, actor Actor) bool {
	flag, err := g.store.Flags().GetFlag(ctx, name)
	if err != nil {
		if err != storage.ErrNotFound {
			g.log.Warn().Err(err).Str("flag", name).Msg("flag lookup failed, using default")
		}
		return g.cfg.DefaultEnabled
	}

	if !flag.Enabled {
		return false
	}
	if !flag.EnabledIn(g.env) {
		return false
	}

	if actor.UserID != "" {
		if value, ok := g.userOverride(ctx, flag, actor.UserID); ok {
			return value
		}
	}
	if actor.Tenant != "" {
		if value, ok := g.tenantOverride(ctx, flag, actor.Tenant); ok {
			return value
		}
	}

	return rolloutDecision(flag.Name, flag.RolloutPercentage, actor.id())
}

// rolloutDecision buckets the actor against the percentage. An anonymous
// evaluation has no stable bucket, so it coarsens to a majority vote.
func rolloutDecision(name string, percentage int, actorID string) bool {
	switch {
	case percentage >= 100:
		return true
	case percentage <= 0:
		return false
	case actorID == "":
		return percentage >= 50
	}
	return bucketOf(name, actorID) < percentage
}

// bucketOf maps (flag, actor) to a stable 0-99 bucket.
func bucketOf(name, actorID string) int {
	h := fnv.New32a()
	h.Write([]byte(name + ":" + actorID))
	return int(h.Sum32() % 100)
}

func (g *Gate) userOverride(ctx context.Context, flag *models.FeatureFlag, userID string) (bool, bool) {
	key := fmt.Sprintf("flags:override:user:%s:%s", flag.ID, userID)
	if value, ok := g.cachedOverride(ctx, key); ok {
		return value.apply()
	}

	o, err := g.store.Flags().GetUserOverride(ctx, flag.ID, userID)
	switch {
	case err == storage.ErrNotFound:
		g.storeOverride(ctx, key, cachedOverride{Present: false})
		return false, false
	case err != nil:
		g.log.Warn().Err(err).Str("flag", flag.Name).Msg("user override lookup failed")
		return false, false
	}
	g.storeOverride(ctx, key, cachedOverride{Present: true, Enabled: o.Value == models.OverrideEnabled})
	return o.Value == models.OverrideEnabled, true
}

func (g *Gate) tenantOverride(ctx context.Context, flag *models.FeatureFlag, tenant string) (bool, bool) {
	key := fmt.Sprintf("flags:override:tenant:%s:%s", flag.ID, tenant)
	if value, ok := g.cachedOverride(ctx, key); ok {
		return value.apply()
	}

	o, err := g.store.Flags().GetTenantOverride(ctx, flag.ID, tenant)
	switch {
	case err == storage.ErrNotFound:
		g.storeOverride(ctx, key, cachedOverride{Present: false})
		return false, false
	case err != nil:
		g.log.Warn().Err(err).Str("flag", flag.Name).Msg("tenant override lookup failed")
		return false, false
	}
	g.storeOverride(ctx, key, cachedOverride{Present: true, Enabled: o.Value == models.OverrideEnabled})
	return o.Value == models.OverrideEnabled, true
}

// cachedOverride caches both a present override and its absence, so the
// miss path also avoids a storage read per evaluation.
type cachedOverride struct {
	Present bool `json:"present"`
	Enabled bool `json:"enabled"`
}

func (c cachedOverride) apply() (bool, bool) {
	if !c.Present {
		return false, false
	}
	return c.Enabled, true
}

func (g *Gate) cachedOverride(ctx context.Context, key string) (cachedOverride, bool) {
	data, err := g.cache.Get(ctx, key)
	if err != nil {
		return cachedOverride{}, false
	}
	var c cachedOverride
	if err := json.Unmarshal(data, &c); err != nil {
		return cachedOverride{}, false
	}
	return c, true
}

func (g *Gate) storeOverride(ctx context.Context, key string, c cachedOverride) {
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, key, data, g.cfg.OverrideCacheTTL()); err != nil {
		g.log.Debug().Err(err).Msg("override cache write failed")
	}
}
