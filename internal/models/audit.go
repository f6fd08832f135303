package models

import "time"

// AuditAction names an auditable state change.
type AuditAction string

const (
	AuditEventCreated     AuditAction = "alert_event.created"
	AuditEventSent        AuditAction = "alert_event.sent"
	AuditEventFailed      AuditAction = "alert_event.failed"
	AuditEventSuppressed  AuditAction = "alert_event.suppressed"
	AuditJudgmentRecorded AuditAction = "judgment.recorded"
)

// AuditRecord is an append-only trace of a state change, keyed to the
// entity it describes.
type AuditRecord struct {
	ID        string      `json:"id"`
	Tenant    string      `json:"tenant"`
	Action    AuditAction `json:"action"`
	RefID     string      `json:"ref_id"`
	Detail    string      `json:"detail,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
