package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "phoneauth"

// Claims carried by access tokens. The subject is the user id.
type Claims struct {
	PhoneNumber string `json:"phone_number,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// JWTService signs and verifies HS256 access tokens.
type JWTService struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

// NewJWTService creates a JWT service issuing tokens valid for accessTTL.
func NewJWTService(secret string, accessTTL time.Duration) *JWTService {
	return &JWTService{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// SignAccessToken creates an access token for a verified phone owner.
func (s *JWTService) SignAccessToken(userID uuid.UUID, phoneNumber string) (string, error) {
	now := s.now()
	claims := &Claims{
		PhoneNumber: phoneNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    tokenIssuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses a token and checks signature, algorithm, issuer and expiry.
func (s *JWTService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if _, err := claims.UserID(); err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}
	return claims, nil
}
