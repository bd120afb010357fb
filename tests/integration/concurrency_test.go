package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"donation-payments/config"
	"donation-payments/internal/core/domain"
	"donation-payments/internal/core/ports"
	"donation-payments/internal/gateway"
	"donation-payments/internal/service"
	"donation-payments/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineEnv struct {
	svc   ports.PaymentService
	store *inMemoryStore
	audit *inMemoryAuditRepo
}

func newEngineEnv(t *testing.T, gateways map[string]ports.GatewayAdapter) *engineEnv {
	t.Helper()
	store := newInMemoryStore()
	auditRepo := newInMemoryAuditRepo()
	auditSvc := service.NewAuditService(auditRepo, zerolog.Nop())
	currency := service.NewCurrencyService(&stubRateSource{rate: decimal.NewFromFloat(3.6)}, time.Minute, zerolog.Nop())

	svc := service.NewPaymentService(
		store,
		gateway.NewRouter(gateways),
		currency,
		auditSvc,
		newInMemoryCache(),
		newInMemoryLock(),
		nil,
		config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond},
		zerolog.Nop(),
	)
	return &engineEnv{svc: svc, store: store, audit: auditRepo}
}

func (e *engineEnv) createILS(t *testing.T, key string, amount int64) *domain.Transaction {
	t.Helper()
	txn, err := e.svc.CreateTransaction(context.Background(), ports.CreateTransactionRequest{
		IdempotencyKey: key,
		AmountMinor:    amount,
		Currency:       "ILS",
		DonorID:        "donor-1",
		AssociationID:  "assoc-1",
		PaymentToken:   "tok_test",
	})
	require.NoError(t, err)
	return txn
}

func appErrorCode(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func TestIdempotentCreate_ReplayReturnsOriginal(t *testing.T) {
	env := newEngineEnv(t, map[string]ports.GatewayAdapter{"ILS": &stubGateway{id: "israpay"}})

	first := env.createILS(t, "dup-key", 18000)
	second := env.createILS(t, "dup-key", 18000)

	assert.Equal(t, first.ID, second.ID, "replay must return the original transaction")
}

func TestConcurrentCreate_SingleTransaction(t *testing.T) {
	env := newEngineEnv(t, map[string]ports.GatewayAdapter{"ILS": &stubGateway{id: "israpay"}})

	const workers = 10
	results := make([]*domain.Transaction, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			txn, err := env.svc.CreateTransaction(context.Background(), ports.CreateTransactionRequest{
				IdempotencyKey: "race-key",
				AmountMinor:    18000,
				Currency:       "ILS",
				DonorID:        "donor-1",
				AssociationID:  "assoc-1",
				PaymentToken:   "tok_test",
			})
			require.NoError(t, err)
			results[n] = txn
		}(i)
	}
	wg.Wait()

	for _, txn := range results[1:] {
		assert.Equal(t, results[0].ID, txn.ID, "every caller must observe the same transaction")
	}
}

func TestConcurrentProcess_SingleCharge(t *testing.T) {
	stub := &stubGateway{id: "israpay"}
	env := newEngineEnv(t, map[string]ports.GatewayAdapter{"ILS": stub})
	txn := env.createILS(t, "proc-key", 18000)

	const workers = 8
	var wg sync.WaitGroup
	var successes int32
	var mu sync.Mutex
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.ProcessTransaction(context.Background(), txn.ID)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else {
				code := appErrorCode(err)
				assert.Contains(t, []string{"CONC_001", "VAL_003"}, code)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes, "exactly one processor may win")
	assert.Equal(t, 1, stub.charges(), "the gateway must be charged exactly once")

	final, err := env.store.GetByID(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, final.Status)
}

func TestConcurrentRefunds_NeverExceedAmount(t *testing.T) {
	stub := &stubGateway{id: "israpay"}
	env := newEngineEnv(t, map[string]ports.GatewayAdapter{"ILS": stub})
	txn := env.createILS(t, "refund-race", 10000)
	_, err := env.svc.ProcessTransaction(context.Background(), txn.ID)
	require.NoError(t, err)

	const workers = 10
	amount := int64(3000)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.svc.RefundTransaction(context.Background(), ports.RefundTransactionRequest{
				TransactionID: txn.ID,
				AmountMinor:   &amount,
				Reason:        "stress",
			})
		}()
	}
	wg.Wait()

	final, err := env.store.GetByID(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, final.RefundedMinor, final.AmountMinor,
		"refunded total must never exceed the charge")

	refunds, err := env.store.ListRefunds(context.Background(), txn.ID)
	require.NoError(t, err)
	var settled int64
	for _, rf := range refunds {
		if rf.Status == domain.RefundStatusSettled {
			settled += rf.AmountMinor
		}
	}
	assert.Equal(t, settled, final.RefundedMinor,
		"refunded total must equal the sum of settled refunds")
}

func TestRetry_TransientExhaustionFailsTransaction(t *testing.T) {
	stub := &stubGateway{id: "israpay"}
	stub.chargeFn = func(call int) (*ports.ChargeResult, error) {
		return nil, gateway.NewTransient(stub.id, "timeout", "gateway timed out")
	}
	env := newEngineEnv(t, map[string]ports.GatewayAdapter{"ILS": stub})
	txn := env.createILS(t, "retry-exhaust", 18000)

	_, err := env.svc.ProcessTransaction(context.Background(), txn.ID)
	require.Error(t, err)
	assert.Equal(t, "PAY_002", appErrorCode(err))
	assert.Equal(t, 3, stub.charges(), "must stop at the attempt ceiling")

	final, _ := env.store.GetByID(context.Background(), txn.ID)
	assert.Equal(t, domain.StatusFailed, final.Status)
	require.NotNil(t, final.FailureReason)

	events, err := env.audit.ListByTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	var attempts int
	for _, ev := range events {
		if ev.Action == domain.AuditActionChargeAttempt {
			attempts++
		}
	}
	assert.Equal(t, 3, attempts, "every charge attempt must be audited")
}

func TestRetry_RecoversAfterTransientFailures(t *testing.T) {
	stub := &stubGateway{id: "israpay"}
	stub.chargeFn = func(call int) (*ports.ChargeResult, error) {
		if call < 3 {
			return nil, gateway.NewTransient(stub.id, "connection_error", "connection reset")
		}
		return &ports.ChargeResult{ExternalRef: "IL-777", Status: ports.ChargeApproved}, nil
	}
	env := newEngineEnv(t, map[string]ports.GatewayAdapter{"ILS": stub})
	txn := env.createILS(t, "retry-recover", 18000)

	result, err := env.svc.ProcessTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, result.Status)
	require.NotNil(t, result.GatewayRef)
	assert.Equal(t, "IL-777", *result.GatewayRef)
	assert.Equal(t, 3, stub.charges())
}

func TestPermanentDecline_NoRetry(t *testing.T) {
	stub := &stubGateway{id: "israpay"}
	stub.chargeFn = func(call int) (*ports.ChargeResult, error) {
		return nil, gateway.NewPermanent(stub.id, "003", "card declined")
	}
	env := newEngineEnv(t, map[string]ports.GatewayAdapter{"ILS": stub})
	txn := env.createILS(t, "declined", 18000)

	_, err := env.svc.ProcessTransaction(context.Background(), txn.ID)
	require.Error(t, err)
	assert.Equal(t, "PAY_001", appErrorCode(err))
	assert.Equal(t, 1, stub.charges(), "permanent failures must not be retried")

	final, _ := env.store.GetByID(context.Background(), txn.ID)
	assert.Equal(t, domain.StatusFailed, final.Status)
}

func TestBreaker_OpenRejectsWithoutCallingGateway(t *testing.T) {
	stub := &stubGateway{id: "israpay"}
	stub.chargeFn = func(call int) (*ports.ChargeResult, error) {
		return nil, gateway.NewTransient(stub.id, "timeout", "gateway timed out")
	}
	breaker := gateway.NewBreaker("israpay", 3, time.Minute, time.Minute)
	guarded := gateway.WithBreaker(stub, breaker)
	env := newEngineEnv(t, map[string]ports.GatewayAdapter{"ILS": guarded})

	// First transaction burns through the failure threshold and opens the
	// breaker.
	first := env.createILS(t, "breaker-1", 18000)
	_, err := env.svc.ProcessTransaction(context.Background(), first.ID)
	require.Error(t, err)
	assert.Equal(t, gateway.BreakerOpen, breaker.State())
	callsAfterTrip := stub.charges()

	// Second transaction is rejected by the breaker without touching the
	// gateway.
	second := env.createILS(t, "breaker-2", 18000)
	_, err = env.svc.ProcessTransaction(context.Background(), second.ID)
	require.Error(t, err)
	assert.Equal(t, "PAY_003", appErrorCode(err))
	assert.Equal(t, callsAfterTrip, stub.charges(), "open breaker must shed load")

	final, _ := env.store.GetByID(context.Background(), second.ID)
	assert.Equal(t, domain.StatusFailed, final.Status)
}

func TestCurrencyRouting(t *testing.T) {
	israpay := &stubGateway{id: "israpay"}
	interpay := &stubGateway{id: "interpay"}
	env := newEngineEnv(t, map[string]ports.GatewayAdapter{
		"ILS": israpay,
		"USD": interpay,
		"EUR": interpay,
	})

	ils := env.createILS(t, "route-ils", 18000)
	_, err := env.svc.ProcessTransaction(context.Background(), ils.ID)
	require.NoError(t, err)

	usd, err := env.svc.CreateTransaction(context.Background(), ports.CreateTransactionRequest{
		IdempotencyKey: "route-usd",
		AmountMinor:    5000,
		Currency:       "USD",
		DonorID:        "donor-2",
		AssociationID:  "assoc-1",
		PaymentToken:   "tok_test",
	})
	require.NoError(t, err)
	_, err = env.svc.ProcessTransaction(context.Background(), usd.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, israpay.charges())
	assert.Equal(t, 1, interpay.charges())

	ilsFinal, _ := env.store.GetByID(context.Background(), ils.ID)
	usdFinal, _ := env.store.GetByID(context.Background(), usd.ID)
	assert.Equal(t, "israpay", ilsFinal.GatewayID)
	assert.Equal(t, "interpay", usdFinal.GatewayID)
	assert.Equal(t, "18000", usdFinal.Metadata["ils_estimate_minor"],
		"non-ILS donations carry a settlement estimate") // 5000 * 3.6
}
