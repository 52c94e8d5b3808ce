// Package callback implements the inbound HTTP surface for provider status
// callbacks: NHS Notify reports per-message delivery status changes by
// POSTing signed payloads here, and the handler folds them into the
// notification state store.
package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Header names used by the provider on callback requests.
const (
	HeaderSignature = "x-hmac-sha256-signature"
	HeaderAPIKey    = "x-api-key"
)

// SignatureVerifier validates the HMAC-SHA256 signature the provider attaches
// to callback payloads. The signing key is "<appName>.<apiKey>", matching
// what was registered with the provider when callbacks were configured.
type SignatureVerifier struct {
	key []byte
}

// NewSignatureVerifier builds a verifier for the given application name and
// API key.
func NewSignatureVerifier(appName, apiKey string) *SignatureVerifier {
	return &SignatureVerifier{key: []byte(appName + "." + apiKey)}
}

// Verify reports whether the hex-encoded signature matches the HMAC of the
// raw request body. Comparison is constant time.
func (v *SignatureVerifier) Verify(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, v.key)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Sign computes the hex-encoded signature for a payload. Used by tests and
// by local tooling that simulates provider callbacks.
func (v *SignatureVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
