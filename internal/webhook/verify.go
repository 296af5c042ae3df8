package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Verify checks an inbound request signature: HMAC-SHA256 over the raw body
// with the provider's shared secret, compared in constant time. Providers
// that prefix the hex digest with an algorithm tag ("sha256=") are
// normalized before comparison. An empty secret means the provider runs in
// open development mode and every request verifies.
func Verify(rawBody []byte, signatureHeader, secret string) bool {
	if secret == "" {
		return true
	}

	signature := strings.TrimSpace(signatureHeader)
	signature = strings.TrimPrefix(signature, "sha256=")
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hmac.Equal(provided, mac.Sum(nil))
}

// Sign computes the signature header value for a body and secret. Used by
// tests and by providers that call back into us.
func Sign(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
