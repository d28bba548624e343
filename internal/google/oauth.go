// Package google holds the OAuth plumbing shared by the Gmail reader and
// the Calendar writer, plus the Calendar sink itself. A single refresh
// token, encrypted at rest, covers both scopes.
package google

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/seanmckay/hearth/internal/config"
	"github.com/seanmckay/hearth/internal/crypto"
	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/util"
)

// OAuthManager owns the stored Google credentials. Token refresh is
// serialized; callers share one cached access token.
type OAuthManager struct {
	config    *oauth2.Config
	db        *database.DB
	encryptor *crypto.Encryptor

	mu          sync.Mutex
	cachedToken *oauth2.Token
	cacheExpiry time.Time
	authState   string
	stateExpiry time.Time
}

func NewOAuthManager(cfg *config.Config, db *database.DB, encryptor *crypto.Encryptor) *OAuthManager {
	return &OAuthManager{
		config: &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURI,
			Scopes:       cfg.Google.Scopes,
			Endpoint:     googleoauth.Endpoint,
		},
		db:        db,
		encryptor: encryptor,
	}
}

func (m *OAuthManager) IsConfigured() bool {
	return m.config.ClientID != "" && m.config.ClientSecret != ""
}

// AuthURL returns the authorization URL for the initial grant. The state
// parameter is held in memory and checked once on callback.
func (m *OAuthManager) AuthURL() (string, error) {
	state, err := crypto.GenerateID("st_", 22)
	if err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}

	m.mu.Lock()
	m.authState = state
	m.stateExpiry = time.Now().Add(10 * time.Minute)
	m.mu.Unlock()

	return m.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// ExchangeCode trades the callback code for tokens and stores the
// refresh token encrypted.
func (m *OAuthManager) ExchangeCode(ctx context.Context, state, code string) error {
	m.mu.Lock()
	validState := m.authState != "" && state == m.authState && time.Now().Before(m.stateExpiry)
	m.authState = ""
	m.mu.Unlock()
	if !validState {
		return fmt.Errorf("oauth state mismatch or expired")
	}

	token, err := m.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange code: %w", err)
	}
	if err := m.saveToken(ctx, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	m.mu.Lock()
	m.cachedToken = token
	m.cacheExpiry = token.Expiry
	m.mu.Unlock()

	util.Info("google oauth token stored")
	return nil
}

// Client returns an HTTP client whose requests carry a valid access
// token, refreshing from the stored refresh token when needed.
func (m *OAuthManager) Client(ctx context.Context) (*http.Client, error) {
	token, err := m.validToken(ctx)
	if err != nil {
		return nil, err
	}
	return m.config.Client(ctx, token), nil
}

func (m *OAuthManager) validToken(ctx context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cachedToken != nil && time.Now().Add(5*time.Minute).Before(m.cacheExpiry) {
		return m.cachedToken, nil
	}

	token, err := m.loadToken(ctx)
	if err != nil {
		return nil, err
	}

	if token.Expiry.Before(time.Now().Add(5 * time.Minute)) {
		fresh, err := m.config.TokenSource(ctx, token).Token()
		if err != nil {
			util.Error("oauth token refresh failed", "error", err)
			return nil, fmt.Errorf("token refresh failed: %w", err)
		}
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = token.RefreshToken
		}
		// Google may rotate the refresh token on refresh.
		if err := m.saveToken(ctx, fresh); err != nil {
			util.Error("failed to save refreshed token", "error", err)
		}
		token = fresh
	}

	m.cachedToken = token
	m.cacheExpiry = token.Expiry
	return token, nil
}

func (m *OAuthManager) saveToken(ctx context.Context, token *oauth2.Token) error {
	if token.RefreshToken == "" {
		return fmt.Errorf("no refresh token to save")
	}
	enc, err := m.encryptor.Encrypt(token.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}

	scopes := ""
	if extra := token.Extra("scope"); extra != nil {
		if s, ok := extra.(string); ok {
			scopes = s
		}
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (id, refresh_token_enc, scopes, updated_at)
		VALUES ('primary', ?, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET
			refresh_token_enc = excluded.refresh_token_enc,
			scopes = excluded.scopes,
			updated_at = datetime('now')`, enc, scopes)
	return err
}

func (m *OAuthManager) loadToken(ctx context.Context) (*oauth2.Token, error) {
	var enc []byte
	var scopes sql.NullString
	err := m.db.QueryRowContext(ctx, `
		SELECT refresh_token_enc, scopes FROM oauth_tokens WHERE id = 'primary'`).
		Scan(&enc, &scopes)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no google credentials configured")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load oauth token: %w", err)
	}

	refreshToken, err := m.encryptor.Decrypt(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token: %w", err)
	}

	return &oauth2.Token{
		RefreshToken: refreshToken,
		// Past expiry forces an immediate refresh.
		Expiry: time.Now().Add(-time.Hour),
	}, nil
}

// HasToken reports whether a refresh token is stored.
func (m *OAuthManager) HasToken(ctx context.Context) bool {
	var count int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM oauth_tokens WHERE id = 'primary'`).Scan(&count)
	return err == nil && count > 0
}

// DeleteToken removes the stored credentials and clears the cache.
func (m *OAuthManager) DeleteToken(ctx context.Context) error {
	m.mu.Lock()
	m.cachedToken = nil
	m.cacheExpiry = time.Time{}
	m.mu.Unlock()

	_, err := m.db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE id = 'primary'`)
	return err
}
