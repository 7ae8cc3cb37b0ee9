package jwt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("u1", "t1", 1, testSecret, 1)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserId)
	assert.Equal(t, "t1", claims.TenantId)
	assert.Equal(t, 1, claims.PlatformId)
	assert.Equal(t, "parlor", claims.Issuer)
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken("u1", "t1", 1, testSecret, 1)
	require.NoError(t, err)

	_, err = ParseToken(token, "other-secret")
	assert.Error(t, err)
}

func TestParseToken_Garbage(t *testing.T) {
	_, err := ParseToken("not.a.token", testSecret)
	assert.Error(t, err)
}

func TestParseToken_Expired(t *testing.T) {
	token, err := GenerateToken("u1", "t1", 1, testSecret, -1)
	require.NoError(t, err)

	_, err = ParseToken(token, testSecret)
	assert.Error(t, err)
}

func TestValidateToken_UserMismatch(t *testing.T) {
	token, err := GenerateToken("u1", "t1", 1, testSecret, 1)
	require.NoError(t, err)

	claims, err := ValidateToken(token, testSecret, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserId)

	_, err = ValidateToken(token, testSecret, "u2")
	assert.Error(t, err)
}
