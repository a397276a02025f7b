package paynow

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// VerifySignature reports whether the Signature header matches the base64
// HMAC-SHA256 digest of the raw inbound payload. This is the sole
// authentication mechanism for asynchronous notifications, so the comparison
// is constant-time and a length mismatch is treated as a plain rejection
// rather than falling back to variable-time equality.
func VerifySignature(rawBody []byte, signatureHeader, signatureKey string) bool {
	if signatureHeader == "" || signatureKey == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(signatureKey))
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}
