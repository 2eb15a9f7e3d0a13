// Package security provides token handling for the collaboration backend.
// Tokens are HS256-signed JWTs carrying the user id as subject and an
// email claim; the gateway validates them on the websocket handshake and
// the HTTP surfaces validate them via echo-jwt with the same secret.
package security

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

type JWTService struct {
	secret []byte
}

func NewJWTService(secret string) *JWTService {
	return &JWTService{
		secret: []byte(secret),
	}
}

// GenerateToken issues a signed token for the given user.
func (j *JWTService) GenerateToken(userID, email string, expiration time.Duration) (string, error) {
	now := time.Now()

	token, err := jwt.NewBuilder().
		Subject(userID).
		Claim("email", email).
		IssuedAt(now).
		Expiration(now.Add(expiration)).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, j.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return string(signed), nil
}

// ValidateToken verifies the signature and expiry and returns the user id
// and email the token carries. Expired or tampered tokens fail here.
func (j *JWTService) ValidateToken(tokenString string) (userID, email string, err error) {
	token, err := jwt.Parse([]byte(tokenString), jwt.WithKey(jwa.HS256, j.secret))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse token: %w", err)
	}

	userID = token.Subject()
	if userID == "" {
		return "", "", fmt.Errorf("token has no subject")
	}
	if v, ok := token.Get("email"); ok {
		email, _ = v.(string)
	}
	return userID, email, nil
}
