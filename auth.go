package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthentication marks every failure to obtain or use a credential.
var ErrAuthentication = errors.New("authentication failed")

const (
	// appJWTLifetime is the validity window of the signed app assertion.
	appJWTLifetime = 5 * time.Minute

	// tokenCacheMargin is subtracted from a cached token's remaining lifetime.
	tokenCacheMargin = time.Minute
)

// TokenProvider produces a bearer credential for calls made on behalf of an
// installation.
type TokenProvider interface {
	Token(ctx context.Context, installationID int64) (string, error)
}

// InstallationTokenCache stores minted installation tokens. Get returns nil
// and no error on a miss.
type InstallationTokenCache interface {
	Get(ctx context.Context, installationID int64) (*InstallationToken, error)
	Put(ctx context.Context, installationID int64, token *InstallationToken, ttl time.Duration) error
}

// AppTokenProvider authenticates as the GitHub App: it signs a short-lived
// JWT with the app's private key and exchanges it for an installation token.
type AppTokenProvider struct {
	appID      int64
	key        *rsa.PrivateKey
	endpoint   string
	httpClient *http.Client
	cache      InstallationTokenCache
	metrics    *Metrics
	now        func() time.Time
}

// NewAppTokenProvider parses privateKeyPEM (PKCS#1 or PKCS#8) and returns a
// provider minting tokens against endpoint.
func NewAppTokenProvider(appID int64, privateKeyPEM []byte, endpoint string, httpClient *http.Client) (*AppTokenProvider, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse app private key: %w", err)
	}
	return &AppTokenProvider{
		appID:      appID,
		key:        key,
		endpoint:   endpoint,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// generateJWT creates a JWT token for GitHub App authentication
func generateJWT(appID int64, key *rsa.PrivateKey, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": appID,
		"iat": now.Unix(),
		"exp": now.Add(appJWTLifetime).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign app JWT: %w", err)
	}
	return signed, nil
}

func (p *AppTokenProvider) Token(ctx context.Context, installationID int64) (string, error) {
	tok, err := p.InstallationToken(ctx, installationID)
	if err != nil {
		return "", err
	}
	return tok.Token, nil
}

// InstallationToken returns a token for installationID, from the cache when
// one is configured and holds a token outside the safety margin.
func (p *AppTokenProvider) InstallationToken(ctx context.Context, installationID int64) (*InstallationToken, error) {
	now := p.now()
	if p.cache != nil {
		cached, err := p.cache.Get(ctx, installationID)
		switch {
		case err != nil:
			log.Printf("[Auth] Warning: token cache read failed for installation %d: %v\n", installationID, err)
		case cached.ValidAt(now.Add(tokenCacheMargin)):
			return cached, nil
		}
	}

	tok, err := p.mint(ctx, installationID, now)
	p.metrics.ObserveTokenAcquisition(authModeApp, err)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if ttl := tok.ExpiresAt.Sub(now) - tokenCacheMargin; ttl > 0 {
			if err := p.cache.Put(ctx, installationID, tok, ttl); err != nil {
				log.Printf("[Auth] Warning: token cache write failed for installation %d: %v\n", installationID, err)
			}
		}
	}
	return tok, nil
}

// mint exchanges a fresh app JWT for an installation token.
func (p *AppTokenProvider) mint(ctx context.Context, installationID int64, now time.Time) (*InstallationToken, error) {
	assertion, err := generateJWT(p.appID, p.key, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	var tok InstallationToken
	url := fmt.Sprintf("/app/installations/%d/access_tokens", installationID)
	if err := newAPIClient(p.endpoint, assertion, p.httpClient).call(ctx, http.MethodPost, url, nil, &tok); err != nil {
		return nil, fmt.Errorf("%w: exchange installation token for %d: %w", ErrAuthentication, installationID, err)
	}
	if !tok.ValidAt(now) {
		return nil, fmt.Errorf("%w: installation token for %d expired at %s", ErrAuthentication, installationID, tok.ExpiresAt)
	}

	log.Printf("[Auth] Minted installation token for %d (expires %s, selection=%s)\n",
		installationID, tok.ExpiresAt.Format(time.RFC3339), tok.RepositorySelection)
	return &tok, nil
}

const (
	authModeApp   = "app"
	authModeOAuth = "oauth"
)

// newTokenProvider selects the credential variant configured for this
// deployment. The OAuth variant is also returned as *OAuthTokenProvider so the
// callback route can complete installations.
func newTokenProvider(cfg *Config, store TokenStore, cache InstallationTokenCache, httpClient *http.Client, metrics *Metrics) (TokenProvider, *OAuthTokenProvider, error) {
	switch cfg.AuthMode {
	case authModeApp:
		p, err := NewAppTokenProvider(cfg.AppID, cfg.PrivateKeyPEM, cfg.APIEndpoint, httpClient)
		if err != nil {
			return nil, nil, err
		}
		p.cache = cache
		p.metrics = metrics
		return p, nil, nil
	case authModeOAuth:
		if store == nil {
			return nil, nil, errors.New("oauth mode requires a token store (DATABASE_URL)")
		}
		p := NewOAuthTokenProvider(cfg.ClientID, cfg.ClientSecret, cfg.WebEndpoint, store, httpClient)
		p.metrics = metrics
		return p, p, nil
	default:
		return nil, nil, fmt.Errorf("unsupported AUTH_MODE %q", cfg.AuthMode)
	}
}
