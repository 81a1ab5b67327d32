package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret"
	testIssuer = "test-issuer"
	testUserID = "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11"
)

func TestJWTManager(t *testing.T) {
	m, err := auth.NewJWTManager(testSecret, testIssuer, 15*time.Minute)
	require.NoError(t, err)

	t.Run("Round Trip", func(t *testing.T) {
		token, err := m.GenerateToken(testUserID, true)
		require.NoError(t, err)

		claims, err := m.ValidateToken("Bearer " + token)
		require.NoError(t, err)
		assert.Equal(t, auth.Identity{UserID: testUserID, IsAdmin: true}, claims.Identity())
	})

	t.Run("Expired", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		old, err := auth.NewJWTManager(testSecret, testIssuer, time.Minute)
		require.NoError(t, err)
		token, err := old.WithNowFunc(func() time.Time { return past }).GenerateToken(testUserID, false)
		require.NoError(t, err)

		_, err = m.ValidateToken(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("Leeway", func(t *testing.T) {
		issued := time.Now().Add(-70 * time.Second)
		old, err := auth.NewJWTManager(testSecret, testIssuer, time.Minute)
		require.NoError(t, err)
		token, err := old.WithNowFunc(func() time.Time { return issued }).GenerateToken(testUserID, false)
		require.NoError(t, err)

		lenient, err := auth.NewJWTManager(testSecret, testIssuer, time.Minute)
		require.NoError(t, err)
		_, err = lenient.WithLeeway(30 * time.Second).ValidateToken(token)
		assert.NoError(t, err)

		strict, err := auth.NewJWTManager(testSecret, testIssuer, time.Minute)
		require.NoError(t, err)
		_, err = strict.WithLeeway(0).ValidateToken(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("Wrong Secret", func(t *testing.T) {
		other, err := auth.NewJWTManager("other-secret", testIssuer, time.Minute)
		require.NoError(t, err)
		token, err := other.GenerateToken(testUserID, false)
		require.NoError(t, err)

		_, err = m.ValidateToken(token)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("Wrong Issuer", func(t *testing.T) {
		other, err := auth.NewJWTManager(testSecret, "someone-else", time.Minute)
		require.NoError(t, err)
		token, err := other.GenerateToken(testUserID, false)
		require.NoError(t, err)

		_, err = m.ValidateToken(token)
		assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := m.ValidateToken("not-a-token")
		assert.Error(t, err)
	})
}

func TestNewJWTManagerRequiresSecret(t *testing.T) {
	_, err := auth.NewJWTManager("", testIssuer, time.Minute)
	assert.ErrorIs(t, err, auth.ErrEmptySecret)
}

func TestIdentityContext(t *testing.T) {
	_, ok := auth.IdentityFrom(context.Background())
	assert.False(t, ok)

	ctx := auth.WithIdentity(context.Background(), auth.Identity{UserID: testUserID})
	id, ok := auth.IdentityFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, testUserID, id.UserID)
}
