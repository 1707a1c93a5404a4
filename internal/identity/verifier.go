package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for bad, expired, or malformed tokens.
var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier is the identity collaborator: it maps a bearer token to a
// user id or fails.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// JWTVerifier validates HS256 tokens carrying a "user_id" claim.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier builds a verifier for the shared signing secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify checks signature and expiry and returns the embedded user id.
func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	userID, ok := (*claims)["user_id"].(string)
	if !ok || userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// Issue signs a token for the user. Login lives in another service; this
// exists for tooling and tests.
func (v *JWTVerifier) Issue(userID string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(ttl).Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
