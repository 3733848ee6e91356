package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

// CodeLength is the number of digits in a verification code.
const CodeLength = 6

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a uniformly random code in 000000-999999.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// HashCode returns hex(SHA-256(phone:code:salt)), the only form persisted.
func HashCode(phone, code, salt string) string {
	sum := sha256.Sum256([]byte(phone + ":" + code + ":" + salt))
	return hex.EncodeToString(sum[:])
}

func codeMatches(storedHash, phone, code, salt string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(HashCode(phone, code, salt))) == 1
}

func wellFormedCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// phoneKey groups events for one phone without exposing the number.
func phoneKey(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:8])
}
