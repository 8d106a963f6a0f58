package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	issuer := NewIssuer("test-secret")

	token, err := issuer.GenerateJWT("alice")
	require.NoError(t, err)

	sub, err := issuer.ValidateJWT(token)
	require.NoError(t, err)
	require.Equal(t, "alice", sub)
}

func TestJWTRejectsWrongSecretAndExpiry(t *testing.T) {
	issuer := NewIssuer("test-secret")
	token, err := issuer.GenerateJWT("alice")
	require.NoError(t, err)

	_, err = NewIssuer("other-secret").ValidateJWT(token)
	require.Error(t, err)

	later := NewIssuer("test-secret")
	later.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	_, err = later.ValidateJWT(token)
	require.Error(t, err)
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	require.True(t, CheckPasswordHash("hunter22", hash))
	require.False(t, CheckPasswordHash("hunter23", hash))
}
