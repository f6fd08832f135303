package models

import (
	"fmt"
	"time"
)

// RuleMetric selects which value of a signal a rule compares against its
// threshold.
type RuleMetric string

const (
	RuleMetricSeverity      RuleMetric = "severity"
	RuleMetricConfidence    RuleMetric = "confidence"
	RuleMetricDelta         RuleMetric = "delta"
	RuleMetricRelativeDelta RuleMetric = "relative_delta"
	RuleMetricRecentValue   RuleMetric = "recent_value"
	RuleMetricBaselineValue RuleMetric = "baseline_value"
)

// ThresholdType is the comparison operator for a rule threshold.
type ThresholdType string

const (
	ThresholdGT  ThresholdType = "gt"
	ThresholdGTE ThresholdType = "gte"
	ThresholdLT  ThresholdType = "lt"
	ThresholdLTE ThresholdType = "lte"
	ThresholdEQ  ThresholdType = "eq"
)

// RuleScope optionally restricts a rule to a subset of signals. Empty
// fields match everything.
type RuleScope struct {
	// Metric restricts the rule to signals of one metric.
	Metric Metric `json:"metric,omitempty"`
	// Kind restricts the rule to one signal kind.
	Kind SignalKind `json:"kind,omitempty"`
	// EntityKeys restricts the rule to the listed entity keys.
	EntityKeys []string `json:"entity_keys,omitempty"`
}

// Matches reports whether the scope admits the signal.
func (s RuleScope) Matches(sig *Signal) bool {
	if s.Metric != "" && s.Metric != sig.Metric {
		return false
	}
	if s.Kind != "" && s.Kind != sig.Kind {
		return false
	}
	if len(s.EntityKeys) > 0 {
		found := false
		for _, k := range s.EntityKeys {
			if k == sig.EntityKey {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// AlertRule is a tenant-configured threshold over signal values. Name is
// unique per tenant. Evaluation always reads the latest enabled state.
type AlertRule struct {
	ID             string        `json:"id"`
	Tenant         string        `json:"tenant"`
	Name           string        `json:"name"`
	Metric         RuleMetric    `json:"metric"`
	ThresholdType  ThresholdType `json:"threshold_type"`
	ThresholdValue float64       `json:"threshold_value"`
	Enabled        bool          `json:"enabled"`
	Severity       SeverityLabel `json:"severity"`
	Scope          RuleScope     `json:"scope"`
	// Channels is an optional routing subset of the tenant's notification
	// channel names. Empty means all enabled channels.
	Channels  []string  `json:"channels,omitempty"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the rule configuration.
func (r *AlertRule) Validate() error {
	if r.Tenant == "" {
		return fmt.Errorf("rule tenant is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	switch r.ThresholdType {
	case ThresholdGT, ThresholdGTE, ThresholdLT, ThresholdLTE, ThresholdEQ:
	default:
		return fmt.Errorf("invalid threshold type %q for rule %q", r.ThresholdType, r.Name)
	}
	if r.Metric == "" {
		return fmt.Errorf("rule metric is required for rule %q", r.Name)
	}
	return nil
}

// Compare applies the rule's threshold operator to a value. Comparison is
// exact floating point: configured thresholds are authored constants, and
// an epsilon would blur gte/gt at the boundary.
func (r *AlertRule) Compare(value float64) bool {
	switch r.ThresholdType {
	case ThresholdGT:
		return value > r.ThresholdValue
	case ThresholdGTE:
		return value >= r.ThresholdValue
	case ThresholdLT:
		return value < r.ThresholdValue
	case ThresholdLTE:
		return value <= r.ThresholdValue
	case ThresholdEQ:
		return value == r.ThresholdValue
	default:
		return false
	}
}

// ValueFor selects the rule's metric value from a signal. When the pairing
// does not align (unknown metric, or relative_delta on a zero-baseline
// signal) it falls back to the signal's severity score.
func (r *AlertRule) ValueFor(sig *Signal) float64 {
	switch r.Metric {
	case RuleMetricSeverity:
		return sig.Severity
	case RuleMetricConfidence:
		return sig.Confidence
	case RuleMetricDelta:
		return sig.Delta
	case RuleMetricRelativeDelta:
		if sig.HasRelativeDelta {
			return sig.RelativeDelta
		}
		return sig.Severity
	case RuleMetricRecentValue:
		return sig.RecentValue
	case RuleMetricBaselineValue:
		return sig.BaselineValue
	default:
		return sig.Severity
	}
}
