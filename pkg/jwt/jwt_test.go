package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJWTManager(t *testing.T) {
	secret := "test-secret-key-for-testing-purposes"
	manager := NewJWTManager(secret, 15*time.Minute)

	assert.NotNil(t, manager)
	assert.Equal(t, secret, manager.secretKey)
	assert.Equal(t, 15*time.Minute, manager.accessTokenDuration)
}

func TestValidateToken_ValidToken(t *testing.T) {
	manager := NewJWTManager("test-secret", 15*time.Minute)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "Ada")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "Ada", claims.Name)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.Contains(t, claims.Audience, Audience)
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Minute)
	issued := time.Now()
	manager.now = func() time.Time { return issued }

	token, err := manager.GenerateAccessToken(uuid.New(), "Ada")
	require.NoError(t, err)

	manager.now = func() time.Time { return issued.Add(2 * time.Minute) }
	claims, err := manager.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := NewJWTManager("secret-a", time.Minute).GenerateAccessToken(uuid.New(), "Ada")
	require.NoError(t, err)

	_, err = NewJWTManager("secret-b", time.Minute).ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_WrongAudience(t *testing.T) {
	claims := &Claims{
		UserID: uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{"some-other-api"},
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = NewJWTManager("test-secret", time.Minute).ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_MissingUserID(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = NewJWTManager("test-secret", time.Minute).ValidateToken(token)
	assert.ErrorContains(t, err, "no user id")
}

func TestValidateToken_Malformed(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Minute)

	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		_, err := manager.ValidateToken(token)
		assert.Error(t, err, token)
	}
}

func TestExtractUserID(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Minute)
	userID := uuid.New()
	token, err := manager.GenerateAccessToken(userID, "Ada")
	require.NoError(t, err)

	got, err := NewJWTManager("other-secret", time.Minute).ExtractUserID(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}
