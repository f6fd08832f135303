package models

import (
	"encoding/json"
	"time"
)

// EventStatus is the notification lifecycle state of an AlertEvent.
// "sent" and "failed" are terminal for automatic processing; a failed
// event needs an explicit re-trigger.
type EventStatus string

const (
	EventPending      EventStatus = "pending"
	EventSent         EventStatus = "sent"
	EventFailed       EventStatus = "failed"
	EventAcknowledged EventStatus = "acknowledged"
	EventResolved     EventStatus = "resolved"
)

// AlertEvent records a rule firing against a signal. At most one exists
// per (signal, rule) pair, enforced by a storage constraint.
type AlertEvent struct {
	ID       string      `json:"id"`
	Tenant   string      `json:"tenant"`
	RuleID   string      `json:"rule_id"`
	SignalID string      `json:"signal_id,omitempty"`
	Status   EventStatus `json:"status"`
	// Identity triple for suppression lookups, denormalized from the
	// signal at creation time.
	Category    string `json:"category"`
	SignalType  string `json:"signal_type"`
	EntityLabel string `json:"entity_label"`
	// Payload is the signal snapshot taken when the event was created;
	// later signal recomputation never rewrites it.
	Payload            string     `json:"payload"`
	Suppressed         bool       `json:"suppressed"`
	TriggeredAt        time.Time  `json:"triggered_at"`
	NotificationSentAt *time.Time `json:"notification_sent_at,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// EventPayload is the snapshot of signal fields carried by an AlertEvent.
type EventPayload struct {
	SignalID      string        `json:"signal_id"`
	Metric        Metric        `json:"metric"`
	Kind          SignalKind    `json:"kind"`
	EntityKey     string        `json:"entity_key"`
	BaselineStart time.Time     `json:"baseline_start"`
	BaselineEnd   time.Time     `json:"baseline_end"`
	RecentStart   time.Time     `json:"recent_start"`
	RecentEnd     time.Time     `json:"recent_end"`
	BaselineValue float64       `json:"baseline_value"`
	RecentValue   float64       `json:"recent_value"`
	Delta         float64       `json:"delta"`
	Severity      float64       `json:"severity"`
	SeverityLabel SeverityLabel `json:"severity_label"`
	Confidence    float64       `json:"confidence"`
	Summary       string        `json:"summary"`
	RuleName      string        `json:"rule_name"`
}

// SnapshotPayload builds the immutable payload for an event from the
// signal and rule that produced it.
func SnapshotPayload(sig *Signal, rule *AlertRule) (string, error) {
	p := EventPayload{
		SignalID:      sig.ID,
		Metric:        sig.Metric,
		Kind:          sig.Kind,
		EntityKey:     sig.EntityKey,
		BaselineStart: sig.BaselineStart,
		BaselineEnd:   sig.BaselineEnd,
		RecentStart:   sig.RecentStart,
		RecentEnd:     sig.RecentEnd,
		BaselineValue: sig.BaselineValue,
		RecentValue:   sig.RecentValue,
		Delta:         sig.Delta,
		Severity:      sig.Severity,
		SeverityLabel: sig.SeverityLabel(),
		Confidence:    sig.Confidence,
		Summary:       sig.Summary,
		RuleName:      rule.Name,
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodePayload parses the event's payload snapshot.
func (e *AlertEvent) DecodePayload() (*EventPayload, error) {
	var p EventPayload
	if err := json.Unmarshal([]byte(e.Payload), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
