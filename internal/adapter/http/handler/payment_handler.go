package handler

import (
	"time"

	"donation-payments/internal/adapter/http/dto"
	"donation-payments/internal/adapter/http/middleware"
	"donation-payments/internal/core/domain"
	"donation-payments/internal/core/ports"
	"donation-payments/pkg/apperror"
	"donation-payments/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PaymentHandler handles transaction endpoints.
type PaymentHandler struct {
	paymentSvc ports.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentSvc ports.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentSvc: paymentSvc}
}

// CreateTransaction handles POST /api/v1/transactions.
func (h *PaymentHandler) CreateTransaction(c *gin.Context) {
	idempotencyKey := c.GetHeader(middleware.HeaderIdempotencyKey)
	if idempotencyKey == "" {
		response.Error(c, apperror.ErrMissingIdempotencyKey())
		return
	}

	var req dto.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	txn, err := h.paymentSvc.CreateTransaction(c.Request.Context(), ports.CreateTransactionRequest{
		IdempotencyKey: idempotencyKey,
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		DonorID:        req.DonorID,
		AssociationID:  req.AssociationID,
		CampaignID:     req.CampaignID,
		PaymentToken:   req.PaymentToken,
		Metadata:       req.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(txn))
}

// ProcessTransaction handles POST /api/v1/transactions/:id/process.
func (h *PaymentHandler) ProcessTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid transaction id"))
		return
	}

	txn, err := h.paymentSvc.ProcessTransaction(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionResponse(txn))
}

// RefundTransaction handles POST /api/v1/transactions/:id/refund.
func (h *PaymentHandler) RefundTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid transaction id"))
		return
	}

	var req dto.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	txn, err := h.paymentSvc.RefundTransaction(c.Request.Context(), ports.RefundTransactionRequest{
		TransactionID: id,
		AmountMinor:   req.AmountMinor,
		Reason:        req.Reason,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionResponse(txn))
}

// GetStatus handles GET /api/v1/transactions/:id.
func (h *PaymentHandler) GetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid transaction id"))
		return
	}

	txn, err := h.paymentSvc.GetStatus(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionResponse(txn))
}

// GetAuditTrail handles GET /api/v1/transactions/:id/audit.
func (h *PaymentHandler) GetAuditTrail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid transaction id"))
		return
	}

	events, err := h.paymentSvc.GetAuditTrail(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.AuditTrailResponse{
		TransactionID: id.String(),
		Events:        make([]dto.AuditEventResponse, 0, len(events)),
	}
	for _, ev := range events {
		resp.Events = append(resp.Events, dto.AuditEventResponse{
			ID:        ev.ID.String(),
			Action:    string(ev.Action),
			Attempt:   ev.Attempt,
			Detail:    ev.Detail,
			PrevHash:  ev.PrevHash,
			Hash:      ev.Hash,
			CreatedAt: ev.CreatedAt.Format(time.RFC3339),
		})
	}

	response.OK(c, resp)
}

// toTransactionResponse converts domain.Transaction to DTO.
func toTransactionResponse(txn *domain.Transaction) dto.TransactionResponse {
	return dto.TransactionResponse{
		ID:                  txn.ID.String(),
		AmountMinor:         txn.AmountMinor,
		Currency:            txn.Currency,
		DonorID:             txn.DonorID,
		AssociationID:       txn.AssociationID,
		CampaignID:          txn.CampaignID,
		GatewayID:           txn.GatewayID,
		GatewayRef:          txn.GatewayRef,
		Status:              string(txn.Status),
		FailureReason:       txn.FailureReason,
		RefundedMinor:       txn.RefundedMinor,
		RemainingRefundable: txn.RemainingRefundable(),
		Metadata:            txn.Metadata,
		CreatedAt:           txn.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           txn.UpdatedAt.Format(time.RFC3339),
	}
}
