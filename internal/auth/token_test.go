package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestStaticToken(t *testing.T) {
	t.Run("empty token is anonymous", func(t *testing.T) {
		token, err := Anonymous.Token()
		require.NoError(t, err)
		assert.Empty(t, token)
	})

	t.Run("opaque tokens pass through unchanged", func(t *testing.T) {
		token, err := StaticToken("sk-opaque-api-key").Token()
		require.NoError(t, err)
		assert.Equal(t, "sk-opaque-api-key", token)
	})

	t.Run("valid JWT passes through", func(t *testing.T) {
		raw := signedJWT(t, jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		token, err := StaticToken(raw).Token()
		require.NoError(t, err)
		assert.Equal(t, raw, token)
	})

	t.Run("expired JWT is rejected", func(t *testing.T) {
		raw := signedJWT(t, jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})

		_, err := StaticToken(raw).Token()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("JWT without exp never expires locally", func(t *testing.T) {
		raw := signedJWT(t, jwt.MapClaims{"sub": "user-1"})

		token, err := StaticToken(raw).Token()
		require.NoError(t, err)
		assert.Equal(t, raw, token)
	})

	t.Run("malformed JWT-shaped token is an error", func(t *testing.T) {
		_, err := StaticToken("not.a.jwt").Token()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to validate token")
	})
}
