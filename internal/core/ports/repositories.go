package ports

import (
	"context"
	"errors"

	"donation-payments/internal/core/domain"

	"github.com/google/uuid"
)

// Sentinel errors returned by the storage layer. Services translate these
// into AppErrors; repositories stay free of HTTP concerns.
var (
	// ErrDuplicateIdempotencyKey signals a unique-index violation on the
	// idempotency key. The caller re-fetches the existing record.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already exists")

	// ErrStateConflict signals a compare-and-swap status update that matched
	// no row: the transaction moved concurrently or does not exist.
	ErrStateConflict = errors.New("transaction state changed concurrently")

	// ErrRefundExceedsRemaining signals a refund reservation that would push
	// the refunded total past the original charge amount.
	ErrRefundExceedsRemaining = errors.New("refund exceeds remaining refundable amount")
)

// StateFields carries the optional columns written together with a status
// transition. Nil pointers leave the column untouched.
type StateFields struct {
	GatewayID     *string
	GatewayRef    *string
	FailureReason *string
}

// TransactionStore defines persistence operations for donation transactions.
// Status changes go through TransitionState so every write is a guarded
// compare-and-swap against the expected current status.
type TransactionStore interface {
	Insert(ctx context.Context, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
	// TransitionState atomically moves id from expected to next, writing any
	// non-nil fields in the same statement. Returns ErrStateConflict when the
	// row is not currently in the expected status.
	TransitionState(ctx context.Context, id uuid.UUID, expected, next domain.TransactionStatus, fields StateFields) error
	// ReserveRefund inserts a PENDING refund row and bumps the parent's
	// refunded total in one transaction, guarded so the total can never
	// exceed the charge amount. Returns ErrRefundExceedsRemaining otherwise.
	ReserveRefund(ctx context.Context, refund *domain.Refund) error
	// SettleRefund marks a pending refund SETTLED with its gateway reference.
	SettleRefund(ctx context.Context, refundID uuid.UUID, gatewayRef string) error
	// ReleaseRefund marks a pending refund FAILED and returns its amount to
	// the parent's refundable balance.
	ReleaseRefund(ctx context.Context, refundID uuid.UUID) error
	ListRefunds(ctx context.Context, transactionID uuid.UUID) ([]domain.Refund, error)
}

// AuditRepository defines append-only persistence for the audit trail.
type AuditRepository interface {
	Append(ctx context.Context, event *domain.AuditEvent) error
	// LastHash returns the chain head for a transaction, or "" when the
	// transaction has no audit events yet.
	LastHash(ctx context.Context, transactionID uuid.UUID) (string, error)
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.AuditEvent, error)
}
