// Package models defines domain models for driftwatch.
package models

// SeverityLabel is the categorical display label derived from a numeric
// severity score. The numeric score is canonical for rule evaluation;
// the label is display-only and never fed back into comparisons.
type SeverityLabel string

const (
	SeverityLow      SeverityLabel = "low"
	SeverityMedium   SeverityLabel = "medium"
	SeverityHigh     SeverityLabel = "high"
	SeverityCritical SeverityLabel = "critical"
)

// LabelForSeverity derives the categorical label from a 0.0-1.0 score.
func LabelForSeverity(score float64) SeverityLabel {
	switch {
	case score >= 0.75:
		return SeverityCritical
	case score >= 0.65:
		return SeverityHigh
	case score >= 0.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ParseSeverityLabel converts a string to SeverityLabel.
func ParseSeverityLabel(s string) SeverityLabel {
	switch s {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}
