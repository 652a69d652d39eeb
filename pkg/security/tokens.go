package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// GenerateToken returns prefix followed by n random bytes encoded as unpadded base64url.
func GenerateToken(prefix string, n int) (string, error) {
	if n < 16 {
		return "", fmt.Errorf("token entropy must be at least 16 bytes, got %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// SignHMAC returns the raw HMAC-SHA256 of message under secret.
func SignHMAC(secret string, message []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return mac.Sum(nil)
}

// VerifyHMACBase64 checks a base64 (std) encoded HMAC-SHA256 signature.
// A missing secret or signature is always a mismatch.
func VerifyHMACBase64(secret string, message []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	provided, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(provided, SignHMAC(secret, message))
}

// VerifyHMACHex checks a hex encoded HMAC-SHA256 signature.
func VerifyHMACHex(secret string, message []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(provided, SignHMAC(secret, message))
}

// ConstantTimeEqual compares two shared secrets without leaking timing. Empty
// expected values never match.
func ConstantTimeEqual(expected, provided string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
