package media

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	signer, err := NewSigner("test-secret", "http://localhost:8080", time.Minute)
	require.NoError(t, err)

	url, err := signer.SignURL("audio/msg-1.ogg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://localhost:8080/media/"))

	_, token, found := strings.Cut(url, "token=")
	require.True(t, found)

	key, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "audio/msg-1.ogg", key)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	signer, err := NewSigner("test-secret", "http://localhost:8080", -time.Minute)
	require.NoError(t, err)
	// Negative TTL falls back to the default, so force expiry directly.
	signer.ttl = -time.Minute

	url, err := signer.SignURL("audio/msg-1.ogg")
	require.NoError(t, err)
	_, token, _ := strings.Cut(url, "token=")

	_, err = signer.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	signer, err := NewSigner("secret-a", "http://localhost:8080", time.Minute)
	require.NoError(t, err)
	other, err := NewSigner("secret-b", "http://localhost:8080", time.Minute)
	require.NoError(t, err)

	url, err := signer.SignURL("audio/msg-1.ogg")
	require.NoError(t, err)
	_, token, _ := strings.Cut(url, "token=")

	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	signer, err := NewSigner("test-secret", "http://localhost:8080", time.Minute)
	require.NoError(t, err)

	_, err = signer.Verify("not-a-token")
	assert.Error(t, err)
}

func TestSignerRequiresSecret(t *testing.T) {
	_, err := NewSigner("", "http://localhost:8080", time.Minute)
	assert.Error(t, err)
}

func TestSignURLRequiresKey(t *testing.T) {
	signer, err := NewSigner("test-secret", "http://localhost:8080", time.Minute)
	require.NoError(t, err)

	_, err = signer.SignURL("")
	assert.Error(t, err)
}
