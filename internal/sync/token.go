// Package sync implements the pull-mode sync runtime: OAuth token lifecycle
// management, the Syncer contract, and SyncStream orchestration with
// retry/backoff.
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"jaces.io/core/internal/perr"
)

// TokenState names where a source's OAuth credential sits in its lifecycle.
type TokenState string

const (
	TokenValid         TokenState = "valid"
	TokenNearExpiry    TokenState = "near_expiry"
	TokenRefreshing    TokenState = "refreshing"
	TokenRefreshFailed TokenState = "refresh_failed"
)

// nearExpiryWindow is how far ahead of expiry a token is treated as
// NearExpiry and eligible for proactive refresh.
const nearExpiryWindow = 5 * time.Minute

// TokenManager tracks OAuth2 token state per source and guarantees only one
// refresh is in flight per source at a time, generalizing auth/token.go's
// token-pair issuance into a consumer of upstream OAuth2 tokens via
// oauth2.Config.TokenSource.
type TokenManager struct {
	mu      sync.Mutex
	configs map[string]*oauth2.Config
	tokens  map[string]*oauth2.Token
	states  map[string]TokenState
	inFlight map[string]chan struct{}
}

// NewTokenManager creates an empty token manager; sources are registered
// with RegisterSource before their first Sync call.
func NewTokenManager() *TokenManager {
	return &TokenManager{
		configs:  make(map[string]*oauth2.Config),
		tokens:   make(map[string]*oauth2.Token),
		states:   make(map[string]TokenState),
		inFlight: make(map[string]chan struct{}),
	}
}

// RegisterSource stores the OAuth2 client config and current token for a
// source, as loaded from the store at startup or after the consent flow
// (owned by the collaborator web frontend, out of scope here).
func (tm *TokenManager) RegisterSource(sourceName string, cfg *oauth2.Config, tok *oauth2.Token) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.configs[sourceName] = cfg
	tm.tokens[sourceName] = tok
	tm.states[sourceName] = classify(tok)
}

func classify(tok *oauth2.Token) TokenState {
	if tok == nil || !tok.Valid() {
		if tok != nil && !tok.Expiry.IsZero() && time.Until(tok.Expiry) < nearExpiryWindow {
			return TokenNearExpiry
		}
		return TokenRefreshFailed
	}
	if !tok.Expiry.IsZero() && time.Until(tok.Expiry) < nearExpiryWindow {
		return TokenNearExpiry
	}
	return TokenValid
}

// RegisteredSources returns every source name with a registered OAuth
// config, for the scheduler's periodic expiring-token sweep.
func (tm *TokenManager) RegisteredSources() []string {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	out := make([]string, 0, len(tm.configs))
	for name := range tm.configs {
		out = append(out, name)
	}
	return out
}

// State returns the current lifecycle state for a source.
func (tm *TokenManager) State(sourceName string) TokenState {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.states[sourceName]
}

// Token returns a valid access token for sourceName, refreshing it first if
// it is NearExpiry or already expired. Concurrent callers for the same
// source share a single in-flight refresh (single-flight guard).
func (tm *TokenManager) Token(ctx context.Context, sourceName string) (*oauth2.Token, error) {
	tm.mu.Lock()
	tok := tm.tokens[sourceName]
	cfg := tm.configs[sourceName]
	state := tm.states[sourceName]

	if cfg == nil {
		tm.mu.Unlock()
		return nil, perr.Wrap(perr.KindValidation, fmt.Errorf("source %s has no registered oauth config", sourceName))
	}

	if state == TokenValid {
		tm.mu.Unlock()
		return tok, nil
	}

	if ch, busy := tm.inFlight[sourceName]; busy {
		tm.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		tm.mu.Lock()
		defer tm.mu.Unlock()
		if tm.states[sourceName] != TokenValid {
			return nil, perr.Wrap(perr.KindAuth, perr.ErrAuthExpired)
		}
		return tm.tokens[sourceName], nil
	}

	done := make(chan struct{})
	tm.inFlight[sourceName] = done
	tm.states[sourceName] = TokenRefreshing
	tm.mu.Unlock()

	refreshed, err := cfg.TokenSource(ctx, tok).Token()

	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.inFlight, sourceName)
	close(done)

	if err != nil {
		tm.states[sourceName] = TokenRefreshFailed
		return nil, perr.Wrap(perr.KindAuth, fmt.Errorf("refreshing token for %s: %w", sourceName, err))
	}

	tm.tokens[sourceName] = refreshed
	tm.states[sourceName] = classify(refreshed)
	if tm.states[sourceName] == TokenRefreshFailed {
		return nil, perr.Wrap(perr.KindAuth, perr.ErrAuthExpired)
	}
	return refreshed, nil
}
