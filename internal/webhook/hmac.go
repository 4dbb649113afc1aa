package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// VerifySignature checks body against the hex-encoded HMAC-SHA256
// signature the strategy's secret produces. No ecosystem HMAC/signing
// library appears anywhere in the retrieved example pack, so this is
// built directly on crypto/hmac + crypto/sha256 (DESIGN.md records
// the stdlib justification).
func VerifySignature(secret, body []byte, signatureHex string) error {
	if len(secret) == 0 {
		// strategy has no secret configured: signature checking is
		// skipped, not treated as a failure.
		return nil
	}
	expected, err := hex.DecodeString(signatureHex)
	if err != nil {
		return errors.New("webhook: signature is not valid hex")
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	sum := mac.Sum(nil)

	if subtle.ConstantTimeCompare(sum, expected) != 1 {
		return errors.New("webhook: signature mismatch")
	}
	return nil
}
