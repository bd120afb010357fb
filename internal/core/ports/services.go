package ports

import (
	"context"
	"time"

	"donation-payments/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- Gateway Ports ---

// ChargeStatus is the provider-side outcome of a charge or refund call.
type ChargeStatus string

const (
	ChargeApproved ChargeStatus = "APPROVED"
	ChargeDeclined ChargeStatus = "DECLINED"
	ChargePending  ChargeStatus = "PENDING"
	ChargeRefunded ChargeStatus = "REFUNDED"
	ChargeUnknown  ChargeStatus = "UNKNOWN"
)

// ChargeRequest holds everything a gateway needs to move money once.
type ChargeRequest struct {
	Reference      string // our side's reference, stable across retries
	IdempotencyKey string
	AmountMinor    int64
	Currency       string
	PaymentToken   string // tokenized payment method, never raw card data
}

// ChargeResult is the successful outcome of a charge call.
type ChargeResult struct {
	ExternalRef string // provider's transaction reference
	Status      ChargeStatus
}

// RefundRequest holds input for a gateway refund call.
type RefundRequest struct {
	ExternalRef string // provider reference of the original charge
	AmountMinor int64
	Reason      string
}

// RefundResult is the successful outcome of a refund call.
type RefundResult struct {
	RefundRef string
	Status    ChargeStatus
}

// GatewayAdapter is the uniform contract both payment providers implement.
// Failed calls return a *gateway.Error carrying the transient/permanent
// classification the retry policy keys off.
type GatewayAdapter interface {
	// ID returns the stable gateway identifier ("interpay", "israpay").
	ID() string
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	GetStatus(ctx context.Context, externalRef string) (ChargeStatus, error)
}

// --- Service Ports (Business Logic) ---

// PaymentService defines the transaction engine's operations.
type PaymentService interface {
	// CreateTransaction validates and records a new transaction, or returns
	// the existing one when the idempotency key was seen before.
	CreateTransaction(ctx context.Context, req CreateTransactionRequest) (*domain.Transaction, error)
	// ProcessTransaction routes the charge to a gateway and drives it to a
	// terminal status, retrying transient failures.
	ProcessTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// RefundTransaction refunds part or all of a completed charge.
	RefundTransaction(ctx context.Context, req RefundTransactionRequest) (*domain.Transaction, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// GetAuditTrail returns the ordered audit events for a transaction.
	GetAuditTrail(ctx context.Context, id uuid.UUID) ([]domain.AuditEvent, error)
}

// CreateTransactionRequest holds validated input for transaction creation.
type CreateTransactionRequest struct {
	IdempotencyKey string
	AmountMinor    int64
	Currency       string
	DonorID        string
	AssociationID  string
	CampaignID     *string
	PaymentToken   string
	Metadata       map[string]string
}

// RefundTransactionRequest holds validated input for a refund.
type RefundTransactionRequest struct {
	TransactionID uuid.UUID
	AmountMinor   *int64 // nil = refund the remaining balance
	Reason        string
}

// CurrencyPolicy validates currencies and amounts and converts between them.
type CurrencyPolicy interface {
	IsSupported(code string) bool
	// ValidateAmount checks the per-currency minimum and maximum bounds.
	ValidateAmount(amountMinor int64, code string) error
	// Convert translates an amount between supported currencies using the
	// current exchange rate, rounding half-up to the minor unit.
	Convert(ctx context.Context, amountMinor int64, from, to string) (int64, error)
}

// RateSource provides exchange rates between currency pairs.
type RateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// AuditService records tamper-evident audit events.
type AuditService interface {
	// Record appends one event to the transaction's hash chain. Recording
	// failures are logged, never propagated: the payment outcome stands.
	Record(ctx context.Context, transactionID uuid.UUID, action domain.AuditAction, attempt int, detail map[string]string)
	Trail(ctx context.Context, transactionID uuid.UUID) ([]domain.AuditEvent, error)
	// Verify walks the chain and reports the first tampered event, if any.
	Verify(ctx context.Context, transactionID uuid.UUID) error
}

// ProcessLock serializes processing per transaction across instances.
type ProcessLock interface {
	// Acquire atomically claims the transaction for processing. Returns
	// false when another worker holds the claim.
	Acquire(ctx context.Context, transactionID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, transactionID string) error
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// EventPublisher emits lifecycle events for downstream consumers
// (receipts, notifications). Delivery is best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, event TransactionEvent) error
	Close()
}

// TransactionEvent is the message published on lifecycle changes.
type TransactionEvent struct {
	TransactionID string    `json:"transaction_id"`
	Type          string    `json:"type"` // e.g. "transaction.completed"
	AssociationID string    `json:"association_id"`
	AmountMinor   int64     `json:"amount_minor"`
	Currency      string    `json:"currency"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// TokenService handles JWT token operations for service-to-service auth.
type TokenService interface {
	Generate(serviceName string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	ServiceName string
}
