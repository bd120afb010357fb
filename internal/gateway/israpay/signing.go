package israpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// sign computes the HMAC-SHA256 request signature the terminal API expects
// in the X-Signature header, lowercase hex over the raw request body.
func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks a signature in constant time.
func verifySignature(secret string, payload []byte, signature string) bool {
	expected := sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
