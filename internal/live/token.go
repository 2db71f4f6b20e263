package live

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ViewerClaims are the JWT claims for a viewer connection. The session
// id binds a token to one debate.
type ViewerClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// IssueViewerToken creates a signed HS256 token admitting a viewer to
// the given session.
func IssueViewerToken(secret []byte, sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ViewerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "viewer",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		SessionID: sessionID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign viewer token: %w", err)
	}
	return signed, nil
}

// ValidateViewerToken verifies a token and returns its claims.
func ValidateViewerToken(secret []byte, tokenString string) (*ViewerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ViewerClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse viewer token: %w", err)
	}
	claims, ok := token.Claims.(*ViewerClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid viewer token")
	}
	return claims, nil
}
