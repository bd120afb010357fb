// Package interpay is the client for the international card processor.
package interpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"donation-payments/config"
	"donation-payments/internal/core/ports"
	"donation-payments/internal/gateway"

	"github.com/rs/zerolog"
)

// GatewayID is the stable identifier used in routing and persistence.
const GatewayID = "interpay"

// Adapter implements ports.GatewayAdapter against the InterPay REST API.
type Adapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewAdapter creates an InterPay client.
func NewAdapter(cfg config.InterPayConfig, timeout time.Duration, log zerolog.Logger) *Adapter {
	return &Adapter{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("gateway", GatewayID).Logger(),
	}
}

func (a *Adapter) ID() string { return GatewayID }

type chargeRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Source      string `json:"source"`
	Reference   string `json:"reference"`
	Description string `json:"description,omitempty"`
}

type chargeResponse struct {
	ID     string    `json:"id"`
	Status string    `json:"status"`
	Error  *apiError `json:"error,omitempty"`
}

// apiError is InterPay's error envelope. Type determines retryability:
// card_error and invalid_request_error are final verdicts on this payment,
// api_error and rate_limit_error are provider-side trouble.
type apiError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Charge submits a card charge. The idempotency key makes retried calls
// safe on the provider side.
func (a *Adapter) Charge(ctx context.Context, req ports.ChargeRequest) (*ports.ChargeResult, error) {
	body := chargeRequest{
		Amount:    req.AmountMinor,
		Currency:  req.Currency,
		Source:    req.PaymentToken,
		Reference: req.Reference,
	}

	var resp chargeResponse
	status, err := a.post(ctx, "/v1/charges", req.IdempotencyKey, body, &resp)
	if err != nil {
		return nil, err
	}
	if gwErr := a.classify(status, resp.Error); gwErr != nil {
		return nil, gwErr
	}

	a.log.Info().
		Str("charge_id", resp.ID).
		Str("reference", req.Reference).
		Int64("amount", req.AmountMinor).
		Msg("charge approved")

	return &ports.ChargeResult{ExternalRef: resp.ID, Status: mapStatus(resp.Status)}, nil
}

type refundRequest struct {
	Charge string `json:"charge"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

type refundResponse struct {
	ID     string    `json:"id"`
	Status string    `json:"status"`
	Error  *apiError `json:"error,omitempty"`
}

// Refund refunds part or all of a previously approved charge.
func (a *Adapter) Refund(ctx context.Context, req ports.RefundRequest) (*ports.RefundResult, error) {
	body := refundRequest{Charge: req.ExternalRef, Amount: req.AmountMinor, Reason: req.Reason}

	var resp refundResponse
	status, err := a.post(ctx, "/v1/refunds", "", body, &resp)
	if err != nil {
		return nil, err
	}
	if gwErr := a.classify(status, resp.Error); gwErr != nil {
		return nil, gwErr
	}

	a.log.Info().
		Str("refund_id", resp.ID).
		Str("charge_id", req.ExternalRef).
		Int64("amount", req.AmountMinor).
		Msg("refund accepted")

	return &ports.RefundResult{RefundRef: resp.ID, Status: ports.ChargeRefunded}, nil
}

// GetStatus fetches the provider-side status of a charge.
func (a *Adapter) GetStatus(ctx context.Context, externalRef string) (ports.ChargeStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/charges/"+externalRef, nil)
	if err != nil {
		return ports.ChargeUnknown, fmt.Errorf("building status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return ports.ChargeUnknown, gateway.WrapTransport(GatewayID, err)
	}
	defer httpResp.Body.Close()

	var resp chargeResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return ports.ChargeUnknown, gateway.WrapTransport(GatewayID, err)
	}
	if gwErr := a.classify(httpResp.StatusCode, resp.Error); gwErr != nil {
		return ports.ChargeUnknown, gwErr
	}
	return mapStatus(resp.Status), nil
}

// post sends a JSON request and decodes the JSON response regardless of
// HTTP status; classification happens afterwards on status + error body.
func (a *Adapter) post(ctx context.Context, path, idempotencyKey string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return 0, gateway.WrapTransport(GatewayID, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return 0, gateway.WrapTransport(GatewayID, err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return 0, gateway.WrapTransport(GatewayID, fmt.Errorf("decoding response: %w", err))
		}
	}
	return httpResp.StatusCode, nil
}

// classify turns an HTTP status + error envelope into a gateway error, or
// nil when the call succeeded.
func (a *Adapter) classify(status int, apiErr *apiError) error {
	if status < 400 && apiErr == nil {
		return nil
	}

	code, message := "http_"+fmt.Sprint(status), http.StatusText(status)
	errType := ""
	if apiErr != nil {
		code, message, errType = apiErr.Code, apiErr.Message, apiErr.Type
	}

	a.log.Warn().
		Int("http_status", status).
		Str("error_type", errType).
		Str("error_code", code).
		Msg("charge rejected by gateway")

	switch {
	case errType == "card_error" || errType == "invalid_request_error":
		return gateway.NewPermanent(GatewayID, code, message)
	case errType == "rate_limit_error" || errType == "api_error":
		return gateway.NewTransient(GatewayID, code, message)
	case status >= 500 || status == http.StatusTooManyRequests:
		return gateway.NewTransient(GatewayID, code, message)
	case status >= 400:
		return gateway.NewPermanent(GatewayID, code, message)
	}
	return gateway.NewPermanent(GatewayID, code, message)
}

func mapStatus(s string) ports.ChargeStatus {
	switch s {
	case "succeeded":
		return ports.ChargeApproved
	case "pending":
		return ports.ChargePending
	case "failed":
		return ports.ChargeDeclined
	case "refunded":
		return ports.ChargeRefunded
	default:
		return ports.ChargeUnknown
	}
}
