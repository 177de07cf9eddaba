package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenManager() *TokenManager {
	return NewTokenManager("unit-test-secret-unit-test-secret", 15*time.Minute, 24*time.Hour)
}

func TestTokenManager_GenerateAndValidate(t *testing.T) {
	tm := newTestTokenManager()

	tokenString, err := tm.GenerateAccessToken("u1", "alice@example.com", "admin")
	require.NoError(t, err)

	claims, err := tm.ValidateToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "access", claims.Type)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "admin", claims.Role)
	assert.NotEmpty(t, claims.ID, "jti should be set")
}

func TestTokenManager_RefreshTokenType(t *testing.T) {
	tm := newTestTokenManager()

	tokenString, err := tm.GenerateRefreshToken("u1", "alice@example.com", "user")
	require.NoError(t, err)

	claims, err := tm.ValidateToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "refresh", claims.Type)
}

func TestTokenManager_RejectsWrongSecret(t *testing.T) {
	tm := newTestTokenManager()
	other := NewTokenManager("a-different-secret-a-different-secret", 15*time.Minute, 24*time.Hour)

	tokenString, err := tm.GenerateAccessToken("u1", "alice@example.com", "user")
	require.NoError(t, err)

	_, err = other.ValidateToken(tokenString)
	assert.Error(t, err)
}

func TestTokenManager_RejectsExpiredToken(t *testing.T) {
	tm := NewTokenManager("unit-test-secret-unit-test-secret", -1*time.Minute, 24*time.Hour)

	tokenString, err := tm.GenerateAccessToken("u1", "alice@example.com", "user")
	require.NoError(t, err)

	_, err = tm.ValidateToken(tokenString)
	assert.Error(t, err)
}

func TestTokenManager_RejectsGarbage(t *testing.T) {
	tm := newTestTokenManager()

	_, err := tm.ValidateToken("not.a.token")
	assert.Error(t, err)
}
