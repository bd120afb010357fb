package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"donation-payments/config"
	"donation-payments/internal/core/domain"
	"donation-payments/internal/core/ports"
	"donation-payments/internal/gateway"
	"donation-payments/pkg/apperror"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	idempotencyTTL = 24 * time.Hour
	processLockTTL = 2 * time.Minute
)

// PaymentServiceImpl implements ports.PaymentService: the transaction
// engine that creates, processes and refunds donation charges.
type PaymentServiceImpl struct {
	store      ports.TransactionStore
	router     *gateway.Router
	currency   ports.CurrencyPolicy
	audit      ports.AuditService
	idempCache ports.IdempotencyCache
	lock       ports.ProcessLock
	events     ports.EventPublisher
	retry      config.RetryConfig
	log        zerolog.Logger

	// sleep is replaced in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPaymentService creates a new PaymentServiceImpl.
func NewPaymentService(
	store ports.TransactionStore,
	router *gateway.Router,
	currency ports.CurrencyPolicy,
	audit ports.AuditService,
	idempCache ports.IdempotencyCache,
	lock ports.ProcessLock,
	events ports.EventPublisher,
	retry config.RetryConfig,
	log zerolog.Logger,
) *PaymentServiceImpl {
	return &PaymentServiceImpl{
		store:      store,
		router:     router,
		currency:   currency,
		audit:      audit,
		idempCache: idempCache,
		lock:       lock,
		events:     events,
		retry:      retry,
		log:        log,
		sleep:      sleepCtx,
	}
}

// CreateTransaction validates and records a new transaction. Replays of the
// same idempotency key return the original record without side effects.
func (s *PaymentServiceImpl) CreateTransaction(ctx context.Context, req ports.CreateTransactionRequest) (*domain.Transaction, error) {
	if req.IdempotencyKey == "" {
		return nil, apperror.ErrMissingIdempotencyKey()
	}
	if req.AmountMinor <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if !s.currency.IsSupported(req.Currency) {
		return nil, apperror.ErrUnsupportedCurrency(req.Currency)
	}
	if err := s.currency.ValidateAmount(req.AmountMinor, req.Currency); err != nil {
		return nil, err
	}

	// Layer 1: Redis idempotency check
	cached, err := s.idempCache.Get(ctx, req.IdempotencyKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", req.IdempotencyKey).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		return s.unmarshalCachedTransaction(cached)
	}

	// Layer 2: DB idempotency check
	existing, err := s.store.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	txn := &domain.Transaction{
		ID:             uuid.New(),
		IdempotencyKey: req.IdempotencyKey,
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		DonorID:        req.DonorID,
		AssociationID:  req.AssociationID,
		CampaignID:     req.CampaignID,
		PaymentToken:   req.PaymentToken,
		Status:         domain.StatusCreated,
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.attachSettlementEstimate(ctx, txn)

	if err := s.store.Insert(ctx, txn); err != nil {
		// Lost a creation race: the unique index caught a concurrent insert
		// with the same key. Return the winner's record.
		if errors.Is(err, ports.ErrDuplicateIdempotencyKey) {
			winner, gErr := s.store.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if gErr != nil || winner == nil {
				return nil, apperror.InternalError(fmt.Errorf("re-fetch after duplicate key: %w", gErr))
			}
			return winner, nil
		}
		return nil, apperror.ErrPersistence(fmt.Errorf("insert transaction: %w", err))
	}

	s.audit.Record(ctx, txn.ID, domain.AuditActionCreated, 0, map[string]string{
		"amount_minor":   strconv.FormatInt(txn.AmountMinor, 10),
		"currency":       txn.Currency,
		"association_id": txn.AssociationID,
	})

	// Post-process: cache in Redis (best-effort)
	if respJSON, mErr := json.Marshal(txn); mErr == nil {
		if cErr := s.idempCache.Set(ctx, req.IdempotencyKey, respJSON, idempotencyTTL); cErr != nil {
			s.log.Warn().Err(cErr).Str("key", req.IdempotencyKey).Msg("failed to cache idempotency in redis")
		}
	}

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("association_id", txn.AssociationID).
		Int64("amount", txn.AmountMinor).
		Str("currency", txn.Currency).
		Msg("transaction created")

	return txn, nil
}

// ProcessTransaction drives a CREATED transaction to a terminal status:
// route to a gateway, charge through its circuit breaker, retry transient
// failures with exponential backoff.
func (s *PaymentServiceImpl) ProcessTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if txn.Status != domain.StatusCreated {
		return nil, apperror.ErrInvalidState(string(domain.StatusCreated), string(txn.Status))
	}

	acquired, err := s.lock.Acquire(ctx, txn.ID.String(), processLockTTL)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("acquire process lock: %w", err))
	}
	if !acquired {
		return nil, apperror.ErrConcurrentOperation()
	}
	defer func() {
		if rErr := s.lock.Release(context.WithoutCancel(ctx), txn.ID.String()); rErr != nil {
			s.log.Warn().Err(rErr).Str("tx_id", txn.ID.String()).Msg("failed to release process lock")
		}
	}()

	adapter, err := s.router.Select(txn.Currency)
	if err != nil {
		return nil, apperror.ErrUnsupportedCurrency(txn.Currency)
	}

	gatewayID := adapter.ID()
	if err := s.store.TransitionState(ctx, txn.ID, domain.StatusCreated, domain.StatusProcessing,
		ports.StateFields{GatewayID: &gatewayID}); err != nil {
		if errors.Is(err, ports.ErrStateConflict) {
			return nil, apperror.ErrConcurrentOperation()
		}
		return nil, apperror.ErrPersistence(fmt.Errorf("transition to processing: %w", err))
	}
	txn.Status = domain.StatusProcessing
	txn.GatewayID = gatewayID

	// The gateway reference is minted once so every retry presents the same
	// charge to the provider.
	reference := "TXN-" + ulid.Make().String()

	return s.charge(ctx, txn, adapter, reference)
}

// charge runs the bounded retry loop for a transaction already in
// PROCESSING status.
func (s *PaymentServiceImpl) charge(ctx context.Context, txn *domain.Transaction, adapter ports.GatewayAdapter, reference string) (*domain.Transaction, error) {
	var lastErr error

	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		s.audit.Record(ctx, txn.ID, domain.AuditActionChargeAttempt, attempt, map[string]string{
			"gateway":      txn.GatewayID,
			"reference":    reference,
			"amount_minor": strconv.FormatInt(txn.AmountMinor, 10),
		})

		result, err := adapter.Charge(ctx, ports.ChargeRequest{
			Reference:      reference,
			IdempotencyKey: txn.IdempotencyKey,
			AmountMinor:    txn.AmountMinor,
			Currency:       txn.Currency,
			PaymentToken:   txn.PaymentToken,
		})
		if err == nil {
			return s.completeCharge(ctx, txn, result)
		}
		lastErr = err

		class := gateway.ClassOf(err)
		s.log.Warn().Err(err).
			Str("tx_id", txn.ID.String()).
			Str("gateway", txn.GatewayID).
			Int("attempt", attempt).
			Str("class", string(class)).
			Msg("charge attempt failed")

		if class != gateway.ClassTransient || attempt == s.retry.MaxAttempts {
			break
		}
		if err := s.sleep(ctx, s.backoff(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	return nil, s.failCharge(ctx, txn, lastErr)
}

func (s *PaymentServiceImpl) completeCharge(ctx context.Context, txn *domain.Transaction, result *ports.ChargeResult) (*domain.Transaction, error) {
	if err := s.store.TransitionState(ctx, txn.ID, domain.StatusProcessing, domain.StatusCompleted,
		ports.StateFields{GatewayRef: &result.ExternalRef}); err != nil {
		return nil, apperror.ErrPersistence(fmt.Errorf("transition to completed: %w", err))
	}
	txn.Status = domain.StatusCompleted
	txn.GatewayRef = &result.ExternalRef

	s.audit.Record(ctx, txn.ID, domain.AuditActionCompleted, 0, map[string]string{
		"gateway":     txn.GatewayID,
		"gateway_ref": result.ExternalRef,
	})
	s.publish(ctx, txn, "transaction.completed")

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("gateway", txn.GatewayID).
		Str("gateway_ref", result.ExternalRef).
		Msg("transaction completed")

	return txn, nil
}

// failCharge records the terminal failure and maps the last gateway error
// onto the API error taxonomy.
func (s *PaymentServiceImpl) failCharge(ctx context.Context, txn *domain.Transaction, lastErr error) error {
	reason := domain.TruncateReason(lastErr.Error())
	if err := s.store.TransitionState(ctx, txn.ID, domain.StatusProcessing, domain.StatusFailed,
		ports.StateFields{FailureReason: &reason}); err != nil {
		return apperror.ErrPersistence(fmt.Errorf("transition to failed: %w", err))
	}
	txn.Status = domain.StatusFailed
	txn.FailureReason = &reason

	s.audit.Record(ctx, txn.ID, domain.AuditActionFailed, 0, map[string]string{
		"gateway": txn.GatewayID,
		"reason":  reason,
	})
	s.publish(ctx, txn, "transaction.failed")

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("gateway", txn.GatewayID).
		Str("reason", reason).
		Msg("transaction failed")

	switch {
	case gateway.IsCircuitOpen(lastErr):
		return apperror.ErrCircuitOpen(txn.GatewayID)
	case gateway.ClassOf(lastErr) == gateway.ClassPermanent:
		return apperror.ErrPaymentDeclined()
	default:
		return apperror.ErrGatewayUnavailable(lastErr)
	}
}

// RefundTransaction refunds part or all of a completed charge. The refunded
// total is bounded at the data layer, so concurrent refunds can never
// exceed the original amount.
func (s *PaymentServiceImpl) RefundTransaction(ctx context.Context, req ports.RefundTransactionRequest) (*domain.Transaction, error) {
	txn, err := s.store.GetByID(ctx, req.TransactionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if txn.Status != domain.StatusCompleted && txn.Status != domain.StatusRefunded {
		return nil, apperror.ErrInvalidState(string(domain.StatusCompleted), string(txn.Status))
	}

	amount := txn.RemainingRefundable()
	if req.AmountMinor != nil {
		amount = *req.AmountMinor
	}
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if amount > txn.RemainingRefundable() {
		return nil, apperror.ErrRefundExceedsRemaining()
	}

	now := time.Now().UTC()
	refund := &domain.Refund{
		ID:            uuid.New(),
		TransactionID: txn.ID,
		AmountMinor:   amount,
		Reason:        req.Reason,
		Status:        domain.RefundStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// Reserve before the status change: the conditional update enforces
	// sum(refunds) <= amount even when validations raced on a stale read.
	if err := s.store.ReserveRefund(ctx, refund); err != nil {
		if errors.Is(err, ports.ErrRefundExceedsRemaining) {
			return nil, apperror.ErrRefundExceedsRemaining()
		}
		return nil, apperror.ErrPersistence(fmt.Errorf("reserve refund: %w", err))
	}

	if err := s.store.TransitionState(ctx, txn.ID, txn.Status, domain.StatusRefundPending, ports.StateFields{}); err != nil {
		if rErr := s.store.ReleaseRefund(ctx, refund.ID); rErr != nil {
			s.log.Error().Err(rErr).Str("refund_id", refund.ID.String()).Msg("failed to release refund reservation")
		}
		if errors.Is(err, ports.ErrStateConflict) {
			return nil, apperror.ErrConcurrentOperation()
		}
		return nil, apperror.ErrPersistence(fmt.Errorf("transition to refund_pending: %w", err))
	}

	s.audit.Record(ctx, txn.ID, domain.AuditActionRefundAttempt, 0, map[string]string{
		"refund_id":    refund.ID.String(),
		"amount_minor": strconv.FormatInt(amount, 10),
	})

	adapter, err := s.router.ByID(txn.GatewayID)
	if err != nil {
		return nil, s.failRefund(ctx, txn, refund, fmt.Errorf("resolve gateway: %w", err))
	}
	if txn.GatewayRef == nil {
		return nil, s.failRefund(ctx, txn, refund, errors.New("transaction has no gateway reference"))
	}

	result, err := adapter.Refund(ctx, ports.RefundRequest{
		ExternalRef: *txn.GatewayRef,
		AmountMinor: amount,
		Reason:      req.Reason,
	})
	if err != nil {
		return nil, s.failRefund(ctx, txn, refund, err)
	}

	if err := s.store.SettleRefund(ctx, refund.ID, result.RefundRef); err != nil {
		return nil, apperror.ErrPersistence(fmt.Errorf("settle refund: %w", err))
	}
	if err := s.store.TransitionState(ctx, txn.ID, domain.StatusRefundPending, domain.StatusRefunded, ports.StateFields{}); err != nil {
		return nil, apperror.ErrPersistence(fmt.Errorf("transition to refunded: %w", err))
	}

	s.audit.Record(ctx, txn.ID, domain.AuditActionRefunded, 0, map[string]string{
		"refund_id":    refund.ID.String(),
		"refund_ref":   result.RefundRef,
		"amount_minor": strconv.FormatInt(amount, 10),
	})

	updated, err := s.store.GetByID(ctx, txn.ID)
	if err != nil || updated == nil {
		return nil, apperror.InternalError(fmt.Errorf("reload after refund: %w", err))
	}
	s.publish(ctx, updated, "transaction.refunded")

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("refund_id", refund.ID.String()).
		Int64("amount", amount).
		Msg("refund settled")

	return updated, nil
}

// failRefund releases the reservation, parks the transaction in
// REFUND_FAILED and maps the gateway error.
func (s *PaymentServiceImpl) failRefund(ctx context.Context, txn *domain.Transaction, refund *domain.Refund, cause error) error {
	if err := s.store.ReleaseRefund(ctx, refund.ID); err != nil {
		s.log.Error().Err(err).Str("refund_id", refund.ID.String()).Msg("failed to release refund reservation")
	}
	if err := s.store.TransitionState(ctx, txn.ID, domain.StatusRefundPending, domain.StatusRefundFailed, ports.StateFields{}); err != nil {
		s.log.Error().Err(err).Str("tx_id", txn.ID.String()).Msg("failed to transition to refund_failed")
	}

	s.audit.Record(ctx, txn.ID, domain.AuditActionRefundFailed, 0, map[string]string{
		"refund_id": refund.ID.String(),
		"reason":    domain.TruncateReason(cause.Error()),
	})

	s.log.Warn().Err(cause).
		Str("tx_id", txn.ID.String()).
		Str("refund_id", refund.ID.String()).
		Msg("refund failed")

	switch gateway.ClassOf(cause) {
	case gateway.ClassPermanent:
		return apperror.ErrPaymentDeclined()
	case gateway.ClassTransient:
		return apperror.ErrGatewayUnavailable(cause)
	default:
		return apperror.InternalError(cause)
	}
}

// GetStatus returns the current transaction record.
func (s *PaymentServiceImpl) GetStatus(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	return txn, nil
}

// GetAuditTrail returns the ordered audit chain for a transaction.
func (s *PaymentServiceImpl) GetAuditTrail(ctx context.Context, id uuid.UUID) ([]domain.AuditEvent, error) {
	txn, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	return s.audit.Trail(ctx, id)
}

// attachSettlementEstimate annotates non-ILS donations with the ILS value
// at creation time. Best-effort: rate source outages never block creation.
func (s *PaymentServiceImpl) attachSettlementEstimate(ctx context.Context, txn *domain.Transaction) {
	if txn.Currency == "ILS" {
		return
	}
	estimate, err := s.currency.Convert(ctx, txn.AmountMinor, txn.Currency, "ILS")
	if err != nil {
		s.log.Warn().Err(err).Str("currency", txn.Currency).Msg("settlement estimate unavailable")
		return
	}
	if txn.Metadata == nil {
		txn.Metadata = make(map[string]string)
	}
	txn.Metadata["ils_estimate_minor"] = strconv.FormatInt(estimate, 10)
}

func (s *PaymentServiceImpl) publish(ctx context.Context, txn *domain.Transaction, eventType string) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, ports.TransactionEvent{
		TransactionID: txn.ID.String(),
		Type:          eventType,
		AssociationID: txn.AssociationID,
		AmountMinor:   txn.AmountMinor,
		Currency:      txn.Currency,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("tx_id", txn.ID.String()).Str("type", eventType).Msg("failed to publish event")
	}
}

// backoff returns the delay before the next attempt: base * 2^(attempt-1).
func (s *PaymentServiceImpl) backoff(attempt int) time.Duration {
	return s.retry.BaseDelay * (1 << (attempt - 1))
}

func (s *PaymentServiceImpl) unmarshalCachedTransaction(data []byte) (*domain.Transaction, error) {
	txn := &domain.Transaction{}
	if err := json.Unmarshal(data, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached tx: %w", err))
	}
	return txn, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
