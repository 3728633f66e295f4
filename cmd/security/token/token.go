package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the fingerprint HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "TEAMLY_TOKEN_HMAC_KEY"

	// FingerprintLen is the number of hex characters kept in a fingerprint.
	FingerprintLen = 12
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// Fingerprint returns a short digest of secret for logs. Blank secrets yield "".
// It uses HMAC-SHA256 when TEAMLY_TOKEN_HMAC_KEY is set, SHA-256 otherwise.
func Fingerprint(secret string) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ""
	}
	if key := strings.TrimSpace(os.Getenv(HMACEnvKey)); key != "" {
		return FingerprintWithKey(secret, []byte(key))
	}
	return HashSHA256Hex(secret)[:FingerprintLen]
}

// FingerprintWithKey is Fingerprint with an explicit HMAC key.
func FingerprintWithKey(secret string, key []byte) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ""
	}
	return HashHMACSHA256Hex(secret, key)[:FingerprintLen]
}
