package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// --- SanitizeStruct tests ---

func TestSanitizeStruct_TrimsWhitespace(t *testing.T) {
	req := CreateTransactionRequest{
		Currency:      " ILS ",
		DonorID:       "  donor-1  ",
		AssociationID: " assoc-1 ",
		PaymentToken:  "  tok_abc  ",
	}
	SanitizeStruct(&req)

	assert.Equal(t, "ILS", req.Currency)
	assert.Equal(t, "donor-1", req.DonorID)
	assert.Equal(t, "assoc-1", req.AssociationID)
	assert.Equal(t, "tok_abc", req.PaymentToken)
}

func TestSanitizeStruct_EscapesHTML(t *testing.T) {
	req := RefundRequest{
		Reason: "donor <script>alert('x')</script> request",
	}
	SanitizeStruct(&req)

	assert.Contains(t, req.Reason, "&lt;script&gt;")
	assert.NotContains(t, req.Reason, "<script>")
}

func TestSanitizeStruct_HandlesPointerString(t *testing.T) {
	campaign := "  winter-2026  "
	req := CreateTransactionRequest{
		DonorID:       "donor-1",
		AssociationID: "assoc-1",
		CampaignID:    &campaign,
	}
	SanitizeStruct(&req)

	assert.Equal(t, "winter-2026", *req.CampaignID)
}

func TestSanitizeStruct_NilPointerIsNoOp(t *testing.T) {
	req := CreateTransactionRequest{
		DonorID:       "donor-1",
		AssociationID: "assoc-1",
		CampaignID:    nil,
	}
	SanitizeStruct(&req)
	assert.Nil(t, req.CampaignID)
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	s := "hello"
	SanitizeStruct(s) // should not panic
}

// --- Custom Validator tests ---

func TestSafeID_Valid(t *testing.T) {
	cases := []string{
		"donor-001",
		"ASSOC_002",
		"a.b.c",
		"simple123",
		"ABC-def_GHI.123",
	}
	for _, tc := range cases {
		assert.True(t, safeStringRe.MatchString(tc), "expected valid: %s", tc)
	}
}

func TestSafeID_Invalid(t *testing.T) {
	cases := []string{
		"donor 001",   // space
		"donor<001>",  // angle brackets
		"donor;DROP",  // semicolon
		"",            // empty
		"hello world", // space
		"donor\n001",  // newline
	}
	for _, tc := range cases {
		assert.False(t, safeStringRe.MatchString(tc), "expected invalid: %s", tc)
	}
}

func TestCurrencyCode_Valid(t *testing.T) {
	for _, tc := range []string{"ILS", "USD", "EUR", "GBP"} {
		assert.True(t, currencyCodeRe.MatchString(tc), "expected valid: %s", tc)
	}
}

func TestCurrencyCode_Invalid(t *testing.T) {
	for _, tc := range []string{"ils", "US", "USDD", "U$D", ""} {
		assert.False(t, currencyCodeRe.MatchString(tc), "expected invalid: %s", tc)
	}
}
