package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Validation (VAL) ----

func ErrInvalidAmount() *AppError {
	return New("VAL_001", "Invalid amount", http.StatusBadRequest)
}

func ErrUnsupportedCurrency(code string) *AppError {
	return New("VAL_002", fmt.Sprintf("Unsupported currency: %s", code), http.StatusBadRequest)
}

func ErrInvalidState(expected, actual string) *AppError {
	return New("VAL_003", fmt.Sprintf("Transaction is %s, expected %s", actual, expected), http.StatusConflict)
}

func ErrMissingIdempotencyKey() *AppError {
	return New("VAL_004", "Idempotency key is required", http.StatusBadRequest)
}

// Validation returns a VAL_001-style validation error with a custom message.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}

// ---- Payment processing (PAY) ----

func ErrPaymentDeclined() *AppError {
	return New("PAY_001", "Payment was declined by the gateway", http.StatusUnprocessableEntity)
}

func ErrGatewayUnavailable(err error) *AppError {
	return Wrap("PAY_002", "Payment gateway is temporarily unavailable", http.StatusBadGateway, err)
}

func ErrCircuitOpen(gateway string) *AppError {
	return New("PAY_003", fmt.Sprintf("Gateway %s is temporarily suspended", gateway), http.StatusServiceUnavailable)
}

func ErrNotFound(entity string) *AppError {
	return New("PAY_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrRefundExceedsRemaining() *AppError {
	return New("PAY_005", "Refund amount exceeds remaining refundable amount", http.StatusBadRequest)
}

// ---- Concurrency (CONC) ----

func ErrConcurrentOperation() *AppError {
	return New("CONC_001", "Another operation is in progress for this transaction", http.StatusConflict)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired service token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// ErrPersistence wraps a storage failure. The transaction remains in its
// last durably written state; callers must never assume it advanced.
func ErrPersistence(err error) *AppError {
	return Wrap("SYS_002", "Storage is unavailable", http.StatusServiceUnavailable, err)
}
