package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"donation-payments/internal/core/domain"
	"donation-payments/internal/core/ports"
	"donation-payments/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/sha3"
)

// redactedKeys are detail keys that must never reach the audit trail.
var redactedKeys = map[string]struct{}{
	"payment_token": {},
	"card_number":   {},
	"cvv":           {},
}

// auditService implements ports.AuditService. Events for a transaction form
// a SHA3-256 hash chain: each event's hash covers its own fields plus the
// previous event's hash, so any tampering with stored rows is detectable.
type auditService struct {
	repo ports.AuditRepository
	log  zerolog.Logger

	// mu serializes appends so chains stay linear within this process. The
	// per-transaction process lock covers the cross-instance case.
	mu sync.Mutex
}

// NewAuditService creates a new audit service.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) ports.AuditService {
	return &auditService{repo: repo, log: log}
}

// Record appends one event to the transaction's chain. Recording failures
// are logged and counted against the chain, never propagated: a completed
// charge stays completed even if its audit write fails.
func (s *auditService) Record(ctx context.Context, txID uuid.UUID, action domain.AuditAction, attempt int, detail map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevHash, err := s.repo.LastHash(ctx, txID)
	if err != nil {
		s.log.Error().Err(err).Str("tx_id", txID.String()).Str("action", string(action)).Msg("failed to read audit chain head")
		return
	}

	event := &domain.AuditEvent{
		ID:            uuid.New(),
		TransactionID: txID,
		Action:        action,
		Attempt:       attempt,
		Detail:        redact(detail),
		PrevHash:      prevHash,
		CreatedAt:     time.Now().UTC(),
	}
	event.Hash = chainHash(event)

	if err := s.repo.Append(ctx, event); err != nil {
		s.log.Error().Err(err).Str("tx_id", txID.String()).Str("action", string(action)).Msg("failed to persist audit event")
		return
	}

	s.log.Info().
		Str("tx_id", txID.String()).
		Str("action", string(action)).
		Int("attempt", attempt).
		Msg("audit")
}

// Trail returns the transaction's events in chain order.
func (s *auditService) Trail(ctx context.Context, txID uuid.UUID) ([]domain.AuditEvent, error) {
	events, err := s.repo.ListByTransaction(ctx, txID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list audit events: %w", err))
	}
	return events, nil
}

// Verify walks the chain and reports the first broken link.
func (s *auditService) Verify(ctx context.Context, txID uuid.UUID) error {
	events, err := s.repo.ListByTransaction(ctx, txID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("list audit events: %w", err))
	}

	prevHash := ""
	for i := range events {
		e := &events[i]
		if e.PrevHash != prevHash {
			return apperror.InternalError(fmt.Errorf("audit chain broken at event %s: prev_hash mismatch", e.ID))
		}
		if chainHash(e) != e.Hash {
			return apperror.InternalError(fmt.Errorf("audit chain broken at event %s: hash mismatch", e.ID))
		}
		prevHash = e.Hash
	}
	return nil
}

// redact drops sensitive keys from a detail map before it is persisted.
func redact(detail map[string]string) map[string]string {
	if detail == nil {
		return nil
	}
	out := make(map[string]string, len(detail))
	for k, v := range detail {
		if _, sensitive := redactedKeys[k]; sensitive {
			continue
		}
		out[k] = v
	}
	return out
}

// chainHash computes the SHA3-256 hash over the event's canonical form.
// Detail keys are sorted so the encoding is deterministic.
func chainHash(e *domain.AuditEvent) string {
	var b strings.Builder
	b.WriteString(e.ID.String())
	b.WriteByte('|')
	b.WriteString(e.TransactionID.String())
	b.WriteByte('|')
	b.WriteString(string(e.Action))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(e.Attempt))
	b.WriteByte('|')

	keys := make([]string, 0, len(e.Detail))
	for k := range e.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(e.Detail[k])
		b.WriteByte(';')
	}

	b.WriteByte('|')
	b.WriteString(e.PrevHash)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(e.CreatedAt.UnixNano(), 10))

	sum := sha3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
