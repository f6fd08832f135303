package models

import "time"

// Verdict is an operator's classification of an alert event.
type Verdict string

const (
	// VerdictNoise marks the alert as a false positive. Two noise
	// verdicts on the same identity triple inside the lookback window
	// teach the suppression engine to silence it.
	VerdictNoise Verdict = "noise"
	// VerdictReal confirms the alert; with a recovered amount it moves
	// the event to acknowledged.
	VerdictReal Verdict = "real"
	// VerdictNeedsFollowup defers the call; never affects suppression.
	VerdictNeedsFollowup Verdict = "needs_followup"
)

// ParseVerdict converts a string to Verdict, defaulting to needs_followup.
func ParseVerdict(s string) Verdict {
	switch s {
	case "noise":
		return VerdictNoise
	case "real":
		return VerdictReal
	default:
		return VerdictNeedsFollowup
	}
}

// OperatorJudgment is human feedback on a past AlertEvent. At most one
// exists per (alert_event, operator); repeated submissions upsert with
// last-writer-wins.
type OperatorJudgment struct {
	ID             string     `json:"id"`
	Tenant         string     `json:"tenant"`
	AlertEventID   string     `json:"alert_event_id"`
	Operator       string     `json:"operator"`
	Verdict        Verdict    `json:"verdict"`
	RecoveredCents int64      `json:"recovered_cents,omitempty"`
	RecoveredAt    *time.Time `json:"recovered_at,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
