package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAuthenticator(t *testing.T) *AdminAuthenticator {
	t.Helper()
	tokens, err := NewTokenService("test-secret", time.Hour)
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewAdminAuthenticator(tokens, "Admin@TrendyJamakapor.com", string(hash))
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	_, err := NewTokenService("  ", time.Hour)
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	a := newAuthenticator(t)

	token, err := a.Login("admin@trendyjamakapor.com", "s3cret")
	require.NoError(t, err)

	email, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "admin@trendyjamakapor.com", email)

	_, err = a.Login("admin@trendyjamakapor.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = a.Login("someone@else.com", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyRejectsOtherEmails(t *testing.T) {
	a := newAuthenticator(t)
	token, err := a.tokens.GenerateToken("customer@example.com", "user")
	require.NoError(t, err)

	_, err = a.Verify(token)
	assert.ErrorIs(t, err, ErrNotAdmin)
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	a := newAuthenticator(t)

	a.tokens.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := a.tokens.GenerateToken("admin@trendyjamakapor.com", "admin")
	require.NoError(t, err)
	_, err = a.Verify(expired)
	assert.Error(t, err)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": "admin@trendyjamakapor.com",
		"typ":   TokenTypeAccess,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := foreign.SignedString([]byte("another-secret"))
	require.NoError(t, err)
	_, err = a.Verify(signed)
	assert.Error(t, err)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("pw")))

	_, err = HashPassword("")
	assert.Error(t, err)
}
