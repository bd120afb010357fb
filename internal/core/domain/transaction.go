package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionStatus represents the lifecycle state of a donation transaction.
type TransactionStatus string

const (
	StatusCreated       TransactionStatus = "CREATED"
	StatusProcessing    TransactionStatus = "PROCESSING"
	StatusCompleted     TransactionStatus = "COMPLETED"
	StatusFailed        TransactionStatus = "FAILED"
	StatusRefundPending TransactionStatus = "REFUND_PENDING"
	StatusRefunded      TransactionStatus = "REFUNDED"
	StatusRefundFailed  TransactionStatus = "REFUND_FAILED"
)

// MaxFailureReasonLen bounds the persisted failure reason.
const MaxFailureReasonLen = 255

// transitions is the single source of truth for the status machine.
// Transitions are monotonic: the only way out of a terminal state is
// COMPLETED/REFUNDED -> REFUND_PENDING while refundable balance remains.
var transitions = map[TransactionStatus][]TransactionStatus{
	StatusCreated:       {StatusProcessing},
	StatusProcessing:    {StatusCompleted, StatusFailed},
	StatusCompleted:     {StatusRefundPending},
	StatusRefunded:      {StatusRefundPending},
	StatusRefundPending: {StatusRefunded, StatusRefundFailed},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transaction is the central record of a single donation charge.
// Amounts are fixed-point in the currency's minor unit (agorot, cents).
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	IdempotencyKey string            `json:"idempotency_key"`
	AmountMinor    int64             `json:"amount_minor"`
	Currency       string            `json:"currency"`
	DonorID        string            `json:"donor_id"`
	AssociationID  string            `json:"association_id"`
	CampaignID     *string           `json:"campaign_id,omitempty"`
	PaymentToken   string            `json:"-"` // tokenized payment method, never raw card data
	GatewayID      string            `json:"gateway_id,omitempty"`   // bound once at dispatch
	GatewayRef     *string           `json:"gateway_ref,omitempty"`  // immutable once set
	Status         TransactionStatus `json:"status"`
	FailureReason  *string           `json:"failure_reason,omitempty"`
	RefundedMinor  int64             `json:"refunded_minor"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// IsTerminal returns true if no processing transition remains. Refund
// transitions out of COMPLETED and REFUNDED are still allowed.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusRefunded, StatusRefundFailed:
		return true
	}
	return false
}

// RemainingRefundable returns how much of the original charge can still be
// refunded.
func (t *Transaction) RemainingRefundable() int64 {
	return t.AmountMinor - t.RefundedMinor
}

// IsRefundable returns true if a refund may be initiated now.
func (t *Transaction) IsRefundable() bool {
	if t.Status != StatusCompleted && t.Status != StatusRefunded {
		return false
	}
	return t.RemainingRefundable() > 0
}

// RefundStatus represents the lifecycle state of a single refund.
type RefundStatus string

const (
	RefundStatusPending RefundStatus = "PENDING"
	RefundStatusSettled RefundStatus = "SETTLED"
	RefundStatusFailed  RefundStatus = "FAILED"
)

// Refund is one (possibly partial) refund against a completed transaction.
type Refund struct {
	ID            uuid.UUID    `json:"id"`
	TransactionID uuid.UUID    `json:"transaction_id"`
	AmountMinor   int64        `json:"amount_minor"`
	Reason        string       `json:"reason"`
	Status        RefundStatus `json:"status"`
	GatewayRef    *string      `json:"gateway_ref,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// TruncateReason bounds a failure reason to the persisted column size.
func TruncateReason(reason string) string {
	if len(reason) > MaxFailureReasonLen {
		return reason[:MaxFailureReasonLen]
	}
	return reason
}
