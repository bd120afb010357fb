package interpay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"donation-payments/config"
	"donation-payments/internal/core/ports"
	"donation-payments/internal/gateway"
	"donation-payments/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAdapter(config.InterPayConfig{BaseURL: srv.URL, APIKey: "sk_test"}, 5*time.Second, logger.New("error", false))
}

func TestAdapter_Charge_Approved(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/charges", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "idem-123", r.Header.Get("Idempotency-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(10000), body["amount"])
		assert.Equal(t, "USD", body["currency"])
		assert.Equal(t, "tok_visa", body["source"])

		json.NewEncoder(w).Encode(map[string]any{"id": "ch_1", "status": "succeeded"})
	})

	res, err := a.Charge(context.Background(), ports.ChargeRequest{
		Reference:      "TXN-01ABC",
		IdempotencyKey: "idem-123",
		AmountMinor:    10000,
		Currency:       "USD",
		PaymentToken:   "tok_visa",
	})
	require.NoError(t, err)
	assert.Equal(t, "ch_1", res.ExternalRef)
	assert.Equal(t, ports.ChargeApproved, res.Status)
}

func TestAdapter_Charge_CardDeclined(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{
				"type":    "card_error",
				"code":    "card_declined",
				"message": "Your card was declined.",
			},
		})
	})

	_, err := a.Charge(context.Background(), ports.ChargeRequest{Currency: "USD", AmountMinor: 500})
	require.Error(t, err)
	assert.Equal(t, gateway.ClassPermanent, gateway.ClassOf(err))

	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "card_declined", gwErr.Code)
}

func TestAdapter_Charge_TransientFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			"server error", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			"rate limited", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{"type": "rate_limit_error", "code": "rate_limited", "message": "slow down"},
				})
			},
		},
		{
			"api error", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{"type": "api_error", "code": "processing_error", "message": "try again"},
				})
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAdapter(t, tc.handler)
			_, err := a.Charge(context.Background(), ports.ChargeRequest{Currency: "USD", AmountMinor: 500})
			require.Error(t, err)
			assert.True(t, gateway.IsTransient(err))
		})
	}
}

func TestAdapter_Charge_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	a := NewAdapter(config.InterPayConfig{BaseURL: srv.URL}, 20*time.Millisecond, logger.New("error", false))
	_, err := a.Charge(context.Background(), ports.ChargeRequest{Currency: "USD", AmountMinor: 500})
	require.Error(t, err)
	assert.True(t, gateway.IsTransient(err))
}

func TestAdapter_Refund(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/refunds", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ch_1", body["charge"])
		assert.Equal(t, float64(4000), body["amount"])

		json.NewEncoder(w).Encode(map[string]any{"id": "re_1", "status": "succeeded"})
	})

	res, err := a.Refund(context.Background(), ports.RefundRequest{ExternalRef: "ch_1", AmountMinor: 4000})
	require.NoError(t, err)
	assert.Equal(t, "re_1", res.RefundRef)
	assert.Equal(t, ports.ChargeRefunded, res.Status)
}

func TestAdapter_GetStatus(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/charges/ch_1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"id": "ch_1", "status": "refunded"})
	})

	status, err := a.GetStatus(context.Background(), "ch_1")
	require.NoError(t, err)
	assert.Equal(t, ports.ChargeRefunded, status)
}
