package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrMissingToken  = errors.New("bearer token missing")
	ErrMissingIssuer = errors.New("iss claim missing from token")
)

// stripBearerPrefix removes a case-insensitive "Bearer " prefix.
func stripBearerPrefix(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// IssuerFromToken reads the iss claim without verifying the signature.
// The caller must verify the token against that issuer before trusting
// any claim.
func IssuerFromToken(tokenString string) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, &jwt.RegisteredClaims{})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	issuer, err := token.Claims.GetIssuer()
	if err != nil {
		return "", fmt.Errorf("failed to read issuer: %w", err)
	}
	if issuer == "" {
		return "", ErrMissingIssuer
	}
	return issuer, nil
}
