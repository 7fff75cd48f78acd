package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTokenNotFound is returned when no token pair is stored for an installation.
var ErrTokenNotFound = errors.New("token not found")

// TokenPair is an OAuth access/refresh token pair. Lifetimes are in seconds,
// as issued by the token endpoint; zero means the endpoint did not say.
type TokenPair struct {
	AccessToken           string    `json:"access_token"`
	ExpiresIn             int64     `json:"expires_in"`
	RefreshToken          string    `json:"refresh_token"`
	RefreshTokenExpiresIn int64     `json:"refresh_token_expires_in"`
	TokenType             string    `json:"token_type"`
	IssuedAt              time.Time `json:"issued_at"`
}

// TokenStore persists one TokenPair per installation. Save is an upsert.
type TokenStore interface {
	Load(ctx context.Context, installationID int64) (*TokenPair, error)
	Save(ctx context.Context, installationID int64, pair *TokenPair) error
	Close() error
}

// openTokenStore picks the backend from the URL scheme.
func openTokenStore(ctx context.Context, url, encryptionKey string) (TokenStore, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return OpenPostgresTokenStore(ctx, url, encryptionKey)
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		return OpenRedisTokenStore(ctx, url)
	default:
		return nil, fmt.Errorf("unsupported token store URL scheme: %q", url)
	}
}
