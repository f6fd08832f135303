package models

import (
	"fmt"
	"time"
)

// SignalKind classifies how a signal crossed its detection condition.
type SignalKind string

const (
	// SignalKindSpike means the entity was present in both windows and the
	// recent value moved past the absolute or relative delta test.
	SignalKindSpike SignalKind = "spike"
	// SignalKindNewOccurrence means the entity appeared only in the recent
	// window with at least minimum volume.
	SignalKindNewOccurrence SignalKind = "new_occurrence"
)

// Signal records a detected, statistically notable change between a
// baseline and a recent window for one entity. Immutable once created.
type Signal struct {
	ID            string     `json:"id"`
	Tenant        string     `json:"tenant"`
	Metric        Metric     `json:"metric"`
	Kind          SignalKind `json:"kind"`
	EntityKey     string     `json:"entity_key"`
	BaselineStart time.Time  `json:"baseline_start"`
	BaselineEnd   time.Time  `json:"baseline_end"`
	RecentStart   time.Time  `json:"recent_start"`
	RecentEnd     time.Time  `json:"recent_end"`
	BaselineValue float64    `json:"baseline_value"`
	RecentValue   float64    `json:"recent_value"`
	Delta         float64    `json:"delta"`
	// RelativeDelta is Delta/BaselineValue. Undefined (and zero) when the
	// baseline is zero; HasRelativeDelta distinguishes the two.
	RelativeDelta    float64   `json:"relative_delta"`
	HasRelativeDelta bool      `json:"has_relative_delta"`
	Severity         float64   `json:"severity"`
	Confidence       float64   `json:"confidence"`
	Summary          string    `json:"summary"`
	CreatedAt        time.Time `json:"created_at"`
}

// Type returns the combined signal type string, the second element of the
// suppression identity triple (e.g. "denial_rate_spike").
func (s *Signal) Type() string {
	return fmt.Sprintf("%s_%s", s.Metric, s.Kind)
}

// SeverityLabel returns the display label derived from the numeric score.
func (s *Signal) SeverityLabel() SeverityLabel {
	return LabelForSeverity(s.Severity)
}
