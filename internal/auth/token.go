// Package auth supplies bearer tokens for transport requests.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource yields the bearer token for a request, or an empty string for
// anonymous endpoints.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource over a configured token string. JWT-shaped
// tokens are checked for expiry before each use; opaque tokens pass through
// unchanged.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token() (string, error) {
	token := string(t)
	if token == "" {
		return "", nil
	}
	if looksLikeJWT(token) {
		valid, err := isTokenValid(token)
		if err != nil {
			return "", fmt.Errorf("failed to validate token: %w", err)
		}
		if !valid {
			return "", fmt.Errorf("token has expired. Please configure a fresh token with 'shuttle config set token <token>'")
		}
	}
	return token, nil
}

// Anonymous is a TokenSource for endpoints without authentication.
var Anonymous TokenSource = StaticToken("")

func looksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2
}

// isTokenValid checks if a JWT token is not expired
func isTokenValid(tokenString string) (bool, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return false, fmt.Errorf("failed to parse JWT token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false, fmt.Errorf("failed to parse JWT claims")
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		// Tokens without an exp claim never expire locally.
		return true, nil
	}

	expirationTime := time.Unix(int64(exp), 0)
	return time.Now().Before(expirationTime), nil
}
