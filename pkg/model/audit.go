package model

import (
	"time"
)

type AuditEvent string

const (
	AuditAllocation         = AuditEvent("ALLOCATION")
	AuditHostelVerification = AuditEvent("HOSTEL_VERIFICATION")
	AuditStatusTransition   = AuditEvent("STATUS_TRANSITION")
	AuditAlert              = AuditEvent("ALERT")
)

// AuditRecord is an append-only trail entry for a ledger mutation or escalation.
type AuditRecord struct {
	ID            string            `json:"id" sql:",pk"`
	Actor         string            `json:"actor"`
	EventType     AuditEvent        `json:"event_type"`
	TargetID      string            `json:"target_id"`
	Description   string            `json:"description"`
	PreviousValue string            `json:"previous_value,omitempty"`
	NewValue      string            `json:"new_value,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}
