package kommo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrSignatureMismatch is returned when x-kommo-signature does not match the body.
var ErrSignatureMismatch = errors.New("kommo: webhook signature mismatch")

// SignatureHeader carries the hex HMAC-SHA256 digest of the raw request body.
const SignatureHeader = "x-kommo-signature"

// SignatureValid reports whether header is the HMAC-SHA256 hex digest of body.
// A "sha256=" prefix is tolerated; hex comparison is case-insensitive.
func SignatureValid(secret string, body []byte, header string) bool {
	if strings.TrimSpace(secret) == "" {
		return false
	}
	provided := strings.TrimSpace(header)
	provided = strings.TrimPrefix(provided, "sha256=")
	if provided == "" {
		return false
	}
	providedSig, err := hex.DecodeString(strings.ToLower(provided))
	if err != nil {
		return false
	}
	return hmac.Equal(sign(secret, body), providedSig)
}

// VerifySignature returns ErrSignatureMismatch unless SignatureValid holds.
func VerifySignature(secret string, body []byte, header string) error {
	if !SignatureValid(secret, body, header) {
		return ErrSignatureMismatch
	}
	return nil
}

func sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}
