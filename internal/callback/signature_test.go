package callback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignatureVerifier_RoundTrip(t *testing.T) {
	v := NewSignatureVerifier("rxnotify", "secret-api-key")
	body := []byte(`{"data":[{"type":"MessageStatus"}]}`)

	sig := v.Sign(body)
	assert.True(t, v.Verify(body, sig))
}

func TestSignatureVerifier_RejectsTamperedBody(t *testing.T) {
	v := NewSignatureVerifier("rxnotify", "secret-api-key")
	body := []byte(`{"data":[]}`)
	sig := v.Sign(body)

	tampered := []byte(`{"data":[{"type":"MessageStatus"}]}`)
	assert.False(t, v.Verify(tampered, sig))
}

func TestSignatureVerifier_RejectsWrongKey(t *testing.T) {
	body := []byte(`{"data":[]}`)
	sig := NewSignatureVerifier("rxnotify", "key-a").Sign(body)

	assert.False(t, NewSignatureVerifier("rxnotify", "key-b").Verify(body, sig))
	assert.False(t, NewSignatureVerifier("other-app", "key-a").Verify(body, sig))
}

func TestSignatureVerifier_RejectsEmptyOrGarbageSignature(t *testing.T) {
	v := NewSignatureVerifier("rxnotify", "secret-api-key")
	body := []byte(`{"data":[]}`)

	assert.False(t, v.Verify(body, ""))
	assert.False(t, v.Verify(body, "not-a-hex-signature"))
}
