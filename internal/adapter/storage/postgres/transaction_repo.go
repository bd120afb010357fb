package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"donation-payments/internal/core/domain"
	"donation-payments/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

const transactionColumns = `id, idempotency_key, amount_minor, currency, donor_id, association_id,
		campaign_id, payment_token, gateway_id, gateway_ref, status, failure_reason,
		refunded_minor, metadata, created_at, updated_at`

// TransactionRepo implements ports.TransactionStore backed by PostgreSQL.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new PostgreSQL transaction repository.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Insert persists a new transaction. A unique-index violation on the
// idempotency key maps to ports.ErrDuplicateIdempotencyKey so the service can
// re-fetch the winner.
func (r *TransactionRepo) Insert(ctx context.Context, txn *domain.Transaction) error {
	metadata, err := json.Marshal(txn.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	query := `
		INSERT INTO transactions (
			id, idempotency_key, amount_minor, currency, donor_id, association_id,
			campaign_id, payment_token, gateway_id, gateway_ref, status, failure_reason,
			refunded_minor, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err = r.pool.Exec(ctx, query,
		txn.ID, txn.IdempotencyKey, txn.AmountMinor, txn.Currency,
		txn.DonorID, txn.AssociationID, txn.CampaignID, txn.PaymentToken,
		txn.GatewayID, txn.GatewayRef, txn.Status, txn.FailureReason,
		txn.RefundedMinor, metadata, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ports.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("inserting transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by its ID. Returns (nil, nil) when not found.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return r.scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey fetches a transaction by its idempotency key. Returns
// (nil, nil) when not found.
func (r *TransactionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`
	return r.scanTransaction(r.pool.QueryRow(ctx, query, key))
}

// TransitionState performs a guarded compare-and-swap on the status column.
// Non-nil fields are written in the same statement, so a winning transition
// and its side data are atomic.
func (r *TransactionRepo) TransitionState(ctx context.Context, id uuid.UUID, expected, next domain.TransactionStatus, fields ports.StateFields) error {
	set := []string{"status = $3", "updated_at = now()"}
	args := []any{id, expected, next}

	if fields.GatewayID != nil {
		args = append(args, *fields.GatewayID)
		set = append(set, fmt.Sprintf("gateway_id = $%d", len(args)))
	}
	if fields.GatewayRef != nil {
		args = append(args, *fields.GatewayRef)
		set = append(set, fmt.Sprintf("gateway_ref = $%d", len(args)))
	}
	if fields.FailureReason != nil {
		args = append(args, *fields.FailureReason)
		set = append(set, fmt.Sprintf("failure_reason = $%d", len(args)))
	}

	query := fmt.Sprintf(
		`UPDATE transactions SET %s WHERE id = $1 AND status = $2`,
		strings.Join(set, ", "),
	)

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transitioning transaction state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrStateConflict
	}
	return nil
}

// ReserveRefund atomically bumps the parent's refunded total and inserts a
// PENDING refund row. The guarded UPDATE is the authoritative bound: the
// refunded total can never exceed the charge amount, no matter how many
// refunds race.
func (r *TransactionRepo) ReserveRefund(ctx context.Context, refund *domain.Refund) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning refund reservation: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE transactions
		SET refunded_minor = refunded_minor + $2, updated_at = now()
		WHERE id = $1 AND refunded_minor + $2 <= amount_minor`,
		refund.TransactionID, refund.AmountMinor,
	)
	if err != nil {
		return fmt.Errorf("reserving refund amount: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrRefundExceedsRemaining
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refunds (id, transaction_id, amount_minor, reason, status, gateway_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		refund.ID, refund.TransactionID, refund.AmountMinor, refund.Reason,
		refund.Status, refund.GatewayRef, refund.CreatedAt, refund.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting refund: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing refund reservation: %w", err)
	}
	return nil
}

// SettleRefund marks a pending refund SETTLED with its gateway reference.
func (r *TransactionRepo) SettleRefund(ctx context.Context, refundID uuid.UUID, gatewayRef string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refunds
		SET status = $2, gateway_ref = $3, updated_at = now()
		WHERE id = $1 AND status = $4`,
		refundID, domain.RefundStatusSettled, gatewayRef, domain.RefundStatusPending,
	)
	if err != nil {
		return fmt.Errorf("settling refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrStateConflict
	}
	return nil
}

// ReleaseRefund marks a pending refund FAILED and returns its amount to the
// parent's refundable balance.
func (r *TransactionRepo) ReleaseRefund(ctx context.Context, refundID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning refund release: %w", err)
	}
	defer tx.Rollback(ctx)

	var transactionID uuid.UUID
	var amountMinor int64
	err = tx.QueryRow(ctx, `
		UPDATE refunds
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING transaction_id, amount_minor`,
		refundID, domain.RefundStatusFailed, domain.RefundStatusPending,
	).Scan(&transactionID, &amountMinor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ports.ErrStateConflict
		}
		return fmt.Errorf("releasing refund: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE transactions
		SET refunded_minor = refunded_minor - $2, updated_at = now()
		WHERE id = $1`,
		transactionID, amountMinor,
	)
	if err != nil {
		return fmt.Errorf("returning reserved refund amount: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing refund release: %w", err)
	}
	return nil
}

// ListRefunds returns all refunds against a transaction, oldest first.
func (r *TransactionRepo) ListRefunds(ctx context.Context, transactionID uuid.UUID) ([]domain.Refund, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, transaction_id, amount_minor, reason, status, gateway_ref, created_at, updated_at
		FROM refunds
		WHERE transaction_id = $1
		ORDER BY created_at ASC`,
		transactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing refunds: %w", err)
	}
	defer rows.Close()

	var refunds []domain.Refund
	for rows.Next() {
		var rf domain.Refund
		if err := rows.Scan(
			&rf.ID, &rf.TransactionID, &rf.AmountMinor, &rf.Reason,
			&rf.Status, &rf.GatewayRef, &rf.CreatedAt, &rf.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning refund: %w", err)
		}
		refunds = append(refunds, rf)
	}
	return refunds, rows.Err()
}

func (r *TransactionRepo) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var txn domain.Transaction
	var metadata []byte
	err := row.Scan(
		&txn.ID, &txn.IdempotencyKey, &txn.AmountMinor, &txn.Currency,
		&txn.DonorID, &txn.AssociationID, &txn.CampaignID, &txn.PaymentToken,
		&txn.GatewayID, &txn.GatewayRef, &txn.Status, &txn.FailureReason,
		&txn.RefundedMinor, &metadata, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &txn.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return &txn, nil
}
