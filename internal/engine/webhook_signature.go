package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Delivery headers.
const (
	HeaderSignature      = "X-Webhook-Signature"
	HeaderIdempotencyKey = "X-Idempotency-Key"
	signaturePrefix      = "sha256="
)

// Sign returns "sha256=<hex HMAC-SHA256(secret, body)>" over the exact body bytes.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value in constant time. The "sha256="
// prefix is optional on the supplied value.
func Verify(body []byte, secret, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if !strings.HasPrefix(signature, signaturePrefix) {
		signature = signaturePrefix + signature
	}
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
