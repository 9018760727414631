package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	a := NewAuthenticator("s3cret")
	require.True(t, a.Enabled())

	token, err := a.GenerateJWT("analyst")
	require.NoError(t, err)

	sub, err := a.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "analyst", sub)
}

func TestValidateRejects(t *testing.T) {
	a := NewAuthenticator("s3cret")
	token, err := a.GenerateJWT("analyst")
	require.NoError(t, err)

	_, err = NewAuthenticator("other").ValidateJWT(token)
	assert.Error(t, err, "wrong secret")

	expired := NewAuthenticator("s3cret")
	expired.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	old, err := expired.GenerateJWT("analyst")
	require.NoError(t, err)
	_, err = a.ValidateJWT(old)
	assert.Error(t, err, "expired")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "analyst"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.ValidateJWT(unsigned)
	assert.Error(t, err, "alg none")

	_, err = a.ValidateJWT("garbage")
	assert.Error(t, err)
}

func TestDisabled(t *testing.T) {
	a := NewAuthenticator("")
	assert.False(t, a.Enabled())
	_, err := a.GenerateJWT("x")
	assert.Error(t, err)
}
