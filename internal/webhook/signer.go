// Package webhook signs and delivers generic webhook payloads with
// bounded exponential backoff, independent of the notification
// dispatcher.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Signature headers carried on every delivery.
const (
	HeaderSignature  = "X-Signature"
	HeaderEvent      = "X-Webhook-Event"
	HeaderDeliveryID = "X-Webhook-Delivery-ID"
)

// CanonicalJSON serializes the payload with sorted keys and compact
// separators so the same payload always produces the same bytes.
// encoding/json sorts map keys and emits no insignificant whitespace,
// which is exactly the canonical form.
func CanonicalJSON(payload map[string]interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing payload: %w", err)
	}
	return data, nil
}

// Sign computes the hex-encoded HMAC-SHA256 of the canonical payload
// bytes under the endpoint secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the signature matches the payload bytes under
// the secret, in constant time.
func Verify(body []byte, secret, signature string) bool {
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
