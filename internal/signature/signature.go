// Package signature validates GitHub webhook signatures so the dispatcher
// only acts on requests that really came from GitHub.
package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Prefix is the algorithm tag GitHub puts in X-Hub-Signature-256.
const Prefix = "sha256="

// Validate reports whether signatureHeader carries a valid HMAC-SHA256 of
// body under secret. It fails closed: a missing header, missing secret, or
// a header without the sha256= prefix is invalid. The comparison is
// constant-time.
func Validate(body []byte, signatureHeader, secret string) bool {
	if signatureHeader == "" || secret == "" {
		return false
	}
	if !strings.HasPrefix(signatureHeader, Prefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, Prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// Sign computes the header value for body under secret. Used by the send
// command and by tests.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// GenerateSecret returns a 64-hex-char random webhook secret suitable for
// pasting into the GitHub webhook settings page.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
