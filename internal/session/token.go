package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const tokenBytes = 32

// newToken returns a fresh random token and the salted digest under which
// the session is stored. The raw token goes to the caller and is never
// written anywhere.
func newToken(salt []byte) (token, digest string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate session token: %w", err)
	}
	token = hex.EncodeToString(buf)
	return token, hashToken(salt, token), nil
}

// hashToken computes the salted SHA-256 digest of a presented token.
// Lookups key on the digest, so a stolen session store cannot be replayed.
func hashToken(salt []byte, token string) string {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

// newSalt returns the per-manager hashing salt.
func newSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate token salt: %w", err)
	}
	return salt, nil
}
