package dto

// CreateTransactionRequest is the request body for transaction creation.
// The idempotency key travels in the Idempotency-Key header, not the body.
type CreateTransactionRequest struct {
	AmountMinor   int64             `json:"amount_minor" binding:"required,gt=0"`
	Currency      string            `json:"currency" binding:"required,currency_code"`
	DonorID       string            `json:"donor_id" binding:"required,safe_id,max=64"`
	AssociationID string            `json:"association_id" binding:"required,safe_id,max=64"`
	CampaignID    *string           `json:"campaign_id,omitempty" binding:"omitempty,safe_id,max=64"`
	PaymentToken  string            `json:"payment_token" binding:"required,max=128"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// RefundRequest is the request body for refunding a transaction.
// A nil amount refunds the remaining balance.
type RefundRequest struct {
	AmountMinor *int64 `json:"amount_minor,omitempty" binding:"omitempty,gt=0"`
	Reason      string `json:"reason" binding:"required,max=255"`
}

// TransactionResponse is the response body for transaction results.
type TransactionResponse struct {
	ID                  string            `json:"id"`
	AmountMinor         int64             `json:"amount_minor"`
	Currency            string            `json:"currency"`
	DonorID             string            `json:"donor_id"`
	AssociationID       string            `json:"association_id"`
	CampaignID          *string           `json:"campaign_id,omitempty"`
	GatewayID           string            `json:"gateway_id,omitempty"`
	GatewayRef          *string           `json:"gateway_ref,omitempty"`
	Status              string            `json:"status"`
	FailureReason       *string           `json:"failure_reason,omitempty"`
	RefundedMinor       int64             `json:"refunded_minor"`
	RemainingRefundable int64             `json:"remaining_refundable"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	CreatedAt           string            `json:"created_at"`
	UpdatedAt           string            `json:"updated_at"`
}

// RefundResponse is one refund entry under a transaction.
type RefundResponse struct {
	ID          string  `json:"id"`
	AmountMinor int64   `json:"amount_minor"`
	Reason      string  `json:"reason"`
	Status      string  `json:"status"`
	GatewayRef  *string `json:"gateway_ref,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// AuditEventResponse is one entry of a transaction's audit trail.
type AuditEventResponse struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	Attempt   int               `json:"attempt,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	PrevHash  string            `json:"prev_hash"`
	Hash      string            `json:"hash"`
	CreatedAt string            `json:"created_at"`
}

// AuditTrailResponse wraps a transaction's full audit trail.
type AuditTrailResponse struct {
	TransactionID string               `json:"transaction_id"`
	Events        []AuditEventResponse `json:"events"`
}
