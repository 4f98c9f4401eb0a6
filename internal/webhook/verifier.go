package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

var (
	// ErrMissingSignature is returned before any digest work is done.
	ErrMissingSignature = errors.New("missing_signature")
	ErrInvalidSignature = errors.New("invalid_signature")
)

// Verifier checks the HMAC-SHA256 signature the gateway sends with every
// webhook delivery. Verification runs over the exact raw request body and
// must happen before the body is parsed at all.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify recomputes the base64-encoded HMAC-SHA256 digest of rawBody and
// compares it to the signature header. Length mismatch short-circuits;
// equal-length buffers are compared in constant time.
func (v *Verifier) Verify(rawBody []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if len(signature) != len(expected) {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}
