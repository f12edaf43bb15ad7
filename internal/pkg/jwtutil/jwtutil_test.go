package jwtutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("test-secret", "HS256", time.Minute, "a@x.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	subject, err := ParseToken("test-secret", token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", subject)
}

func TestGenerateToken_HMACVariants(t *testing.T) {
	for _, algorithm := range []string{"HS256", "HS384", "HS512"} {
		token, err := GenerateToken("test-secret", algorithm, time.Minute, "a@x.com")
		require.NoError(t, err, algorithm)

		subject, err := ParseToken("test-secret", token)
		require.NoError(t, err, algorithm)
		assert.Equal(t, "a@x.com", subject)
	}
}

func TestGenerateToken_NonHMACRejected(t *testing.T) {
	_, err := GenerateToken("test-secret", "RS256", time.Minute, "a@x.com")
	assert.Error(t, err)

	_, err = GenerateToken("test-secret", "nonsense", time.Minute, "a@x.com")
	assert.Error(t, err)
}

func TestParseToken_Expired(t *testing.T) {
	token, err := GenerateToken("test-secret", "HS256", -time.Minute, "a@x.com")
	require.NoError(t, err)

	_, err = ParseToken("test-secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken("test-secret", "HS256", time.Minute, "a@x.com")
	require.NoError(t, err)

	_, err = ParseToken("other-secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_Malformed(t *testing.T) {
	_, err := ParseToken("test-secret", "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
