package models

import "time"

// FeatureFlag gates experimental code paths by percentage rollout with
// master and per-environment kill switches.
type FeatureFlag struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	// RolloutPercentage is 0-100; 100 means on for everyone, 0 off for
	// everyone, anything between buckets actors by consistent hash.
	RolloutPercentage int       `json:"rollout_percentage"`
	EnabledDev        bool      `json:"enabled_dev"`
	EnabledStaging    bool      `json:"enabled_staging"`
	EnabledProd       bool      `json:"enabled_prod"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// EnabledIn reports the per-environment switch for the named environment.
// Unknown environments default to the production switch.
func (f *FeatureFlag) EnabledIn(env string) bool {
	switch env {
	case "dev", "development":
		return f.EnabledDev
	case "staging":
		return f.EnabledStaging
	default:
		return f.EnabledProd
	}
}

// OverrideValue is an explicit per-target flag decision.
type OverrideValue string

const (
	OverrideEnabled  OverrideValue = "enabled"
	OverrideDisabled OverrideValue = "disabled"
)

// FeatureFlagOverride pins a flag for one tenant or one user. Overrides
// always beat percentage bucketing; exactly one of Tenant and UserID is
// set.
type FeatureFlagOverride struct {
	ID        string        `json:"id"`
	FlagID    string        `json:"flag_id"`
	Tenant    string        `json:"tenant,omitempty"`
	UserID    string        `json:"user_id,omitempty"`
	Value     OverrideValue `json:"value"`
	CreatedAt time.Time     `json:"created_at"`
}
