// Package israpay is the client for the domestic Israeli processor.
// IsraPay accepts ILS only and reports outcomes through numeric response
// codes on HTTP 200, in the style of local acquirer protocols.
package israpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"donation-payments/config"
	"donation-payments/internal/core/ports"
	"donation-payments/internal/gateway"

	"github.com/rs/zerolog"
)

// GatewayID is the stable identifier used in routing and persistence.
const GatewayID = "israpay"

// Response codes. "000" is the only approval; communication failures are
// the only retryable class, every other code is a final verdict.
const (
	codeApproved         = "000"
	codeDeclined         = "003"
	codeRestrictedCard   = "004"
	codeExpiredCard      = "033"
	codeInvalidCard      = "039"
	codeCommsFailure     = "101"
	codeProcessorOffline = "102"
)

// Adapter implements ports.GatewayAdapter against the IsraPay terminal API.
type Adapter struct {
	baseURL       string
	terminalID    string
	apiKey        string
	signingSecret string
	client        *http.Client
	log           zerolog.Logger
}

// NewAdapter creates an IsraPay client.
func NewAdapter(cfg config.IsraPayConfig, timeout time.Duration, log zerolog.Logger) *Adapter {
	return &Adapter{
		baseURL:       cfg.BaseURL,
		terminalID:    cfg.TerminalID,
		apiKey:        cfg.APIKey,
		signingSecret: cfg.SigningSecret,
		client:        &http.Client{Timeout: timeout},
		log:           log.With().Str("gateway", GatewayID).Logger(),
	}
}

func (a *Adapter) ID() string { return GatewayID }

type apiRequest struct {
	TerminalID      string `json:"terminal_id"`
	TransactionType string `json:"transaction_type"` // "debit" or "credit"
	Amount          int64  `json:"amount"`           // agorot
	Currency        string `json:"currency"`
	CardToken       string `json:"card_token,omitempty"`
	Reference       string `json:"reference"`
	OriginalRef     string `json:"original_ref,omitempty"`
}

type apiResponse struct {
	ResponseCode       string `json:"response_code"`
	ResponseMessage    string `json:"response_message"`
	ConfirmationNumber string `json:"confirmation_number"`
	Status             string `json:"status"`
}

// Charge submits a debit transaction. Non-ILS amounts are rejected locally
// as a permanent error so routing bugs never reach the terminal.
func (a *Adapter) Charge(ctx context.Context, req ports.ChargeRequest) (*ports.ChargeResult, error) {
	if req.Currency != "ILS" {
		return nil, gateway.NewPermanent(GatewayID, "unsupported_currency",
			fmt.Sprintf("israpay accepts ILS only, got %s", req.Currency))
	}

	body := apiRequest{
		TerminalID:      a.terminalID,
		TransactionType: "debit",
		Amount:          req.AmountMinor,
		Currency:        req.Currency,
		CardToken:       req.PaymentToken,
		Reference:       req.Reference,
	}

	resp, err := a.post(ctx, "/api/transactions", body)
	if err != nil {
		return nil, err
	}
	if gwErr := a.classify(resp); gwErr != nil {
		return nil, gwErr
	}

	a.log.Info().
		Str("confirmation", resp.ConfirmationNumber).
		Str("reference", req.Reference).
		Int64("amount", req.AmountMinor).
		Msg("debit approved")

	return &ports.ChargeResult{ExternalRef: resp.ConfirmationNumber, Status: ports.ChargeApproved}, nil
}

// Refund submits a credit transaction against the original confirmation.
func (a *Adapter) Refund(ctx context.Context, req ports.RefundRequest) (*ports.RefundResult, error) {
	body := apiRequest{
		TerminalID:      a.terminalID,
		TransactionType: "credit",
		Amount:          req.AmountMinor,
		Currency:        "ILS",
		Reference:       req.ExternalRef,
		OriginalRef:     req.ExternalRef,
	}

	resp, err := a.post(ctx, "/api/transactions", body)
	if err != nil {
		return nil, err
	}
	if gwErr := a.classify(resp); gwErr != nil {
		return nil, gwErr
	}

	a.log.Info().
		Str("confirmation", resp.ConfirmationNumber).
		Str("original_ref", req.ExternalRef).
		Int64("amount", req.AmountMinor).
		Msg("credit approved")

	return &ports.RefundResult{RefundRef: resp.ConfirmationNumber, Status: ports.ChargeRefunded}, nil
}

// GetStatus queries a transaction by confirmation number.
func (a *Adapter) GetStatus(ctx context.Context, externalRef string) (ports.ChargeStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.baseURL+"/api/transactions/"+externalRef+"?terminal_id="+a.terminalID, nil)
	if err != nil {
		return ports.ChargeUnknown, fmt.Errorf("building status request: %w", err)
	}
	httpReq.Header.Set("X-API-Key", a.apiKey)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return ports.ChargeUnknown, gateway.WrapTransport(GatewayID, err)
	}
	defer httpResp.Body.Close()

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return ports.ChargeUnknown, gateway.WrapTransport(GatewayID, err)
	}

	switch resp.Status {
	case "approved":
		return ports.ChargeApproved, nil
	case "credited":
		return ports.ChargeRefunded, nil
	case "declined":
		return ports.ChargeDeclined, nil
	default:
		return ports.ChargeUnknown, nil
	}
}

func (a *Adapter) post(ctx context.Context, path string, body apiRequest) (*apiResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.apiKey)
	httpReq.Header.Set("X-Signature", sign(a.signingSecret, payload))

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, gateway.WrapTransport(GatewayID, err)
	}
	defer httpResp.Body.Close()

	// The terminal API reports declines on HTTP 200; only infrastructure
	// failures surface as HTTP errors.
	if httpResp.StatusCode >= 500 {
		return nil, gateway.NewTransient(GatewayID, fmt.Sprintf("http_%d", httpResp.StatusCode),
			http.StatusText(httpResp.StatusCode))
	}
	if httpResp.StatusCode >= 400 {
		return nil, gateway.NewPermanent(GatewayID, fmt.Sprintf("http_%d", httpResp.StatusCode),
			http.StatusText(httpResp.StatusCode))
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, gateway.WrapTransport(GatewayID, err)
	}
	return &resp, nil
}

func (a *Adapter) classify(resp *apiResponse) error {
	if resp.ResponseCode == codeApproved {
		return nil
	}

	a.log.Warn().
		Str("response_code", resp.ResponseCode).
		Str("response_message", resp.ResponseMessage).
		Msg("transaction rejected by terminal")

	switch resp.ResponseCode {
	case codeCommsFailure, codeProcessorOffline:
		return gateway.NewTransient(GatewayID, resp.ResponseCode, resp.ResponseMessage)
	case codeDeclined, codeRestrictedCard, codeExpiredCard, codeInvalidCard:
		return gateway.NewPermanent(GatewayID, resp.ResponseCode, resp.ResponseMessage)
	default:
		// Unrecognized codes are final: never re-charge on an unclear verdict.
		return gateway.NewPermanent(GatewayID, resp.ResponseCode, resp.ResponseMessage)
	}
}
