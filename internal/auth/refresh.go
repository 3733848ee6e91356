package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const refreshTokenBytes = 32

// refreshToken is an opaque bearer value; only Hash is persisted.
type refreshToken struct {
	Value string
	Hash  string
}

func newRefreshToken() (refreshToken, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return refreshToken{}, fmt.Errorf("generate refresh token: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(b)
	return refreshToken{Value: value, Hash: HashRefreshToken(value)}, nil
}

// HashRefreshToken returns the hex SHA-256 of a refresh token.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
