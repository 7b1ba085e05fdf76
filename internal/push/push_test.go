package push_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"jaces.io/core/internal/push"
)

func TestHashDeviceToken_RoundTrips(t *testing.T) {
	hash, err := push.HashDeviceToken("device-secret-token")
	require.NoError(t, err)
	assert.NotEqual(t, "device-secret-token", hash, "stored hash must never equal the plaintext token")

	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("device-secret-token")))
	assert.Error(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("wrong-token")))
}
