package utils

import (
	"crypto/rand"
	"encoding/base64"
)

const (
	// RefreshSecretBytes is the entropy of a refresh secret.  Base64url
	// encoding keeps it at 64 characters, inside bcrypt's 72 byte limit.
	RefreshSecretBytes = 48
	// CSRFTokenBytes is the entropy of a session csrf token.
	CSRFTokenBytes = 32
)

// NewRefreshSecret returns a fresh high-entropy refresh secret.
func NewRefreshSecret() (string, error) {
	return randomString(RefreshSecretBytes)
}

// NewCSRFToken returns a fresh csrf token, unrelated to any refresh secret.
func NewCSRFToken() (string, error) {
	return randomString(CSRFTokenBytes)
}

// randomString returns n bytes from crypto/rand encoded as unpadded base64url.
func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
