package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const defaultWebEndpoint = "https://github.com"

// OAuthTokenProvider authenticates with a user-to-server token pair obtained
// when the installation completed the OAuth flow. Every use refreshes the
// pair and persists the new one before the access token is handed out.
type OAuthTokenProvider struct {
	config      *oauth2.Config
	webEndpoint string
	store       TokenStore
	httpClient  *http.Client
	metrics     *Metrics
	now         func() time.Time

	// locks holds one *sync.Mutex per installation; refresh tokens are single
	// use. Entries are never removed, so it grows with the installations seen
	// by this process, a few dozen bytes each.
	locks sync.Map
}

func NewOAuthTokenProvider(clientID, clientSecret, webEndpoint string, store TokenStore, httpClient *http.Client) *OAuthTokenProvider {
	if webEndpoint == "" {
		webEndpoint = defaultWebEndpoint
	}
	webEndpoint = strings.TrimRight(webEndpoint, "/")
	return &OAuthTokenProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   webEndpoint + "/login/oauth/authorize",
				TokenURL:  webEndpoint + "/login/oauth/access_token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		webEndpoint: webEndpoint,
		store:       store,
		httpClient:  httpClient,
		now:         time.Now,
	}
}

func (p *OAuthTokenProvider) oauthContext(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// Install exchanges an authorization code for the installation's first
// token pair and stores it, replacing any previous pair.
func (p *OAuthTokenProvider) Install(ctx context.Context, code string, installationID int64) (*TokenPair, error) {
	tok, err := p.config.Exchange(p.oauthContext(ctx), code)
	if err != nil {
		return nil, p.authError("exchange authorization code", installationID, err)
	}

	pair := tokenPairFromOAuth(tok, p.now())
	if err := p.store.Save(ctx, installationID, pair); err != nil {
		return nil, err
	}
	log.Printf("[Auth] Stored OAuth token pair for installation %d\n", installationID)
	return pair, nil
}

func (p *OAuthTokenProvider) Token(ctx context.Context, installationID int64) (string, error) {
	pair, err := p.Refresh(ctx, installationID)
	if err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

// Refresh trades the stored refresh token for a new pair and persists it.
func (p *OAuthTokenProvider) Refresh(ctx context.Context, installationID int64) (*TokenPair, error) {
	pair, err := p.refresh(ctx, installationID)
	p.metrics.ObserveTokenAcquisition(authModeOAuth, err)
	return pair, err
}

func (p *OAuthTokenProvider) refresh(ctx context.Context, installationID int64) (*TokenPair, error) {
	mu, _ := p.locks.LoadOrStore(installationID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	current, err := p.store.Load(ctx, installationID)
	if errors.Is(err, ErrTokenNotFound) {
		return nil, fmt.Errorf("%w: installation %d has not completed OAuth: %w", ErrAuthentication, installationID, err)
	}
	if err != nil {
		return nil, err
	}

	// An empty access token makes the source refresh unconditionally.
	src := p.config.TokenSource(p.oauthContext(ctx), &oauth2.Token{RefreshToken: current.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, p.authError("refresh token", installationID, err)
	}

	pair := tokenPairFromOAuth(tok, p.now())
	if pair.RefreshToken == "" {
		pair.RefreshToken = current.RefreshToken
		pair.RefreshTokenExpiresIn = current.RefreshTokenExpiresIn
	}
	if err := p.store.Save(ctx, installationID, pair); err != nil {
		return nil, err
	}
	return pair, nil
}

// authError carries the token endpoint's status and body when it rejected
// the request.
func (p *OAuthTokenProvider) authError(op string, installationID int64, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		upstream := &UpstreamError{
			Method: http.MethodPost,
			URL:    p.config.Endpoint.TokenURL,
			Body:   string(re.Body),
		}
		if re.Response != nil {
			upstream.StatusCode = re.Response.StatusCode
		}
		err = upstream
	}
	return fmt.Errorf("%w: %s for installation %d: %w", ErrAuthentication, op, installationID, err)
}

func tokenPairFromOAuth(tok *oauth2.Token, now time.Time) *TokenPair {
	pair := &TokenPair{
		AccessToken:           tok.AccessToken,
		ExpiresIn:             extraSeconds(tok, "expires_in"),
		RefreshToken:          tok.RefreshToken,
		RefreshTokenExpiresIn: extraSeconds(tok, "refresh_token_expires_in"),
		TokenType:             tok.TokenType,
		IssuedAt:              now,
	}
	if pair.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		pair.ExpiresIn = int64(tok.Expiry.Sub(now).Seconds())
	}
	if pair.TokenType == "" {
		pair.TokenType = "bearer"
	}
	return pair
}

// extraSeconds reads a numeric field of the token response, which arrives as
// a JSON number or a form-encoded string depending on the endpoint.
func extraSeconds(tok *oauth2.Token, key string) int64 {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// CallbackHandler completes an installation: GET /oauth2/callback?code=...&installation_id=...
func (p *OAuthTokenProvider) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	installationID, err := strconv.ParseInt(r.URL.Query().Get("installation_id"), 10, 64)
	if code == "" || err != nil {
		http.Error(w, "code and installation_id are required", http.StatusBadRequest)
		return
	}

	if _, err := p.Install(r.Context(), code, installationID); err != nil {
		log.Printf("[Auth] Error: installation %d could not complete OAuth: %v\n", installationID, err)
		if errors.Is(err, ErrAuthentication) {
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}
		http.Error(w, "could not store token", http.StatusInternalServerError)
		return
	}

	target := fmt.Sprintf("%s/settings/installations/%d", p.webEndpoint, installationID)
	http.Redirect(w, r, target, http.StatusFound)
}
