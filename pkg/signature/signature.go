package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Header carries the webhook signature on the wire.
const Header = "X-Webhook-Signature"

// ErrInvalidSignature indicates a missing or mismatched webhook signature.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign computes a hex HMAC-SHA256 over the exact raw payload bytes.
func Sign(payload []byte, secret string) string {
	hasher := hmac.New(sha256.New, []byte(secret))
	hasher.Write(payload)
	return hex.EncodeToString(hasher.Sum(nil))
}

// Verify recomputes the signature for payload and compares it to the provided
// value in constant time. A missing signature fails closed.
func Verify(payload []byte, secret, provided string) error {
	if provided == "" {
		return ErrInvalidSignature
	}
	expected := Sign(payload, secret)
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}
