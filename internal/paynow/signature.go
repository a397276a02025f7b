package paynow

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
)

// SignatureInput is the canonical material signed for every outbound request.
type SignatureInput struct {
	APIKey         string
	IdempotencyKey string
	// Parameters holds query parameters. Keys with empty values are dropped
	// before signing; the remainder is sorted lexicographically.
	Parameters map[string]string
	// Body is the exact byte-for-byte JSON of the outbound body, or "" for
	// bodiless requests.
	Body string
}

type signedHeaders struct {
	APIKey         string `json:"Api-Key"`
	IdempotencyKey string `json:"Idempotency-Key"`
}

type signedPayload struct {
	Headers    signedHeaders     `json:"headers"`
	Parameters map[string]string `json:"parameters"`
	Body       string            `json:"body"`
}

// Sign computes the base64 HMAC-SHA256 signature over the canonical JSON
// representation of a request. The output is deterministic for identical
// inputs: parameters are key-sorted and the field order headers, parameters,
// body is fixed by the payload struct.
func Sign(in SignatureInput, signatureKey string) (string, error) {
	if signatureKey == "" {
		return "", ErrSignatureKeyMissing
	}
	params := make(map[string]string, len(in.Parameters))
	for key, value := range in.Parameters {
		if value == "" {
			continue
		}
		params[key] = value
	}
	canonical, err := marshalCompact(signedPayload{
		Headers:    signedHeaders{APIKey: in.APIKey, IdempotencyKey: in.IdempotencyKey},
		Parameters: params,
		Body:       in.Body,
	})
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(signatureKey))
	mac.Write(canonical)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// marshalCompact serialises without HTML escaping so signed bytes equal
// transmitted bytes even when values contain &, < or >.
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
