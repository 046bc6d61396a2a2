// ABOUTME: JWT issuing and verification for API and websocket authentication
// ABOUTME: HS256 tokens with registered claims; "sub" carries the user ID, "iss" is fixed

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// MinSecretLength is the shortest accepted HS256 secret, in bytes.
	MinSecretLength = 32

	// Issuer is stamped into every token and required on verification.
	Issuer = "parley"

	clockSkew = 30 * time.Second
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// TokenVerifier resolves a bearer token to a user ID.
type TokenVerifier interface {
	Verify(tokenString string) (userID string, err error)
}

// TokenIssuer mints tokens for a user ID.
type TokenIssuer interface {
	Generate(userID string, expiresIn time.Duration) (string, error)
}

// JWTVerifier implements TokenVerifier and TokenIssuer with a shared HS256 secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
	now    func() time.Time
}

// NewJWTVerifier rejects secrets shorter than MinSecretLength.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTVerifier{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(clockSkew),
		),
		now: time.Now,
	}, nil
}

// Verify checks signature, issuer and expiry and returns the "sub" claim.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := v.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrExpiredToken
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims.Subject, nil
}

// Generate signs a token for userID that expires after expiresIn. Each token
// carries a unique "jti".
func (v *JWTVerifier) Generate(userID string, expiresIn time.Duration) (string, error) {
	now := v.now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
