package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited payment event.
type AuditAction string

const (
	AuditActionCreated       AuditAction = "TRANSACTION_CREATED"
	AuditActionChargeAttempt AuditAction = "CHARGE_ATTEMPT"
	AuditActionCompleted     AuditAction = "TRANSACTION_COMPLETED"
	AuditActionFailed        AuditAction = "TRANSACTION_FAILED"
	AuditActionRefundAttempt AuditAction = "REFUND_ATTEMPT"
	AuditActionRefunded      AuditAction = "TRANSACTION_REFUNDED"
	AuditActionRefundFailed  AuditAction = "REFUND_FAILED"
)

// AuditEvent is one immutable entry in the append-only payment audit trail.
// Events for a transaction form a SHA3-256 hash chain: Hash covers the event
// fields plus PrevHash, so tampering with any stored event breaks the chain.
type AuditEvent struct {
	ID            uuid.UUID         `json:"id"`
	TransactionID uuid.UUID         `json:"transaction_id"`
	Action        AuditAction       `json:"action"`
	Attempt       int               `json:"attempt,omitempty"`
	Detail        map[string]string `json:"detail,omitempty"` // redacted before recording
	PrevHash      string            `json:"prev_hash"`
	Hash          string            `json:"hash"`
	CreatedAt     time.Time         `json:"created_at"`
}
