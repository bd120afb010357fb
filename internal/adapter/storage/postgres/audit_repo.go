package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"donation-payments/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AuditRepo implements ports.AuditRepository backed by PostgreSQL. The
// audit_events table is append-only; seq is a bigserial so chain order is
// total even when events share a timestamp.
type AuditRepo struct {
	pool Pool
}

// NewAuditRepo creates a new PostgreSQL audit repository.
func NewAuditRepo(pool Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Append persists one audit event.
func (r *AuditRepo) Append(ctx context.Context, event *domain.AuditEvent) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("marshaling audit detail: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_events (id, transaction_id, action, attempt, detail, prev_hash, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.TransactionID, event.Action, event.Attempt,
		detail, event.PrevHash, event.Hash, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}
	return nil
}

// LastHash returns the chain head for a transaction, or "" when the
// transaction has no audit events yet.
func (r *AuditRepo) LastHash(ctx context.Context, transactionID uuid.UUID) (string, error) {
	var hash string
	err := r.pool.QueryRow(ctx, `
		SELECT hash FROM audit_events
		WHERE transaction_id = $1
		ORDER BY seq DESC
		LIMIT 1`,
		transactionID,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("fetching last audit hash: %w", err)
	}
	return hash, nil
}

// ListByTransaction returns all audit events for a transaction in chain order.
func (r *AuditRepo) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.AuditEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, transaction_id, action, attempt, detail, prev_hash, hash, created_at
		FROM audit_events
		WHERE transaction_id = $1
		ORDER BY seq ASC`,
		transactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var ev domain.AuditEvent
		var detail []byte
		if err := rows.Scan(
			&ev.ID, &ev.TransactionID, &ev.Action, &ev.Attempt,
			&detail, &ev.PrevHash, &ev.Hash, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &ev.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling audit detail: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
