package sync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	pipelinesync "jaces.io/core/internal/sync"
)

func TestTokenManager_ValidTokenSkipsRefresh(t *testing.T) {
	tm := pipelinesync.NewTokenManager()
	cfg := &oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: "http://example.invalid/token"}}
	tok := &oauth2.Token{AccessToken: "abc", Expiry: time.Now().Add(time.Hour)}

	tm.RegisterSource("google_calendar", cfg, tok)
	assert.Equal(t, pipelinesync.TokenValid, tm.State("google_calendar"))

	got, err := tm.Token(context.Background(), "google_calendar")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.AccessToken)
}

func TestTokenManager_UnregisteredSourceErrors(t *testing.T) {
	tm := pipelinesync.NewTokenManager()
	_, err := tm.Token(context.Background(), "unknown_source")
	assert.Error(t, err)
}

func TestTokenManager_NearExpiryState(t *testing.T) {
	tm := pipelinesync.NewTokenManager()
	cfg := &oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: "http://example.invalid/token"}}
	tok := &oauth2.Token{AccessToken: "abc", Expiry: time.Now().Add(30 * time.Second)}

	tm.RegisterSource("google_calendar", cfg, tok)
	assert.Equal(t, pipelinesync.TokenNearExpiry, tm.State("google_calendar"))
}
