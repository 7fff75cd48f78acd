package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// tokenSchema creates the token table. Tokens are stored pgcrypto-encrypted.
const tokenSchema = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS token (
	id BIGINT NOT NULL,
	access_token BYTEA NOT NULL,
	expires_in INT NOT NULL,
	refresh_token BYTEA NOT NULL,
	refresh_token_expires_in INT NOT NULL,
	token_type TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (id)
);
`

// PostgresTokenStore keeps token pairs in the token table, one row per
// installation.
type PostgresTokenStore struct {
	pool *pgxpool.Pool
	key  string
}

func OpenPostgresTokenStore(ctx context.Context, dsn, encryptionKey string) (*PostgresTokenStore, error) {
	if encryptionKey == "" {
		return nil, errors.New("postgres token store requires TOKEN_ENCRYPTION_KEY")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &PostgresTokenStore{pool: pool, key: encryptionKey}, nil
}

func (s *PostgresTokenStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies the token schema. It is idempotent.
func (s *PostgresTokenStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, tokenSchema); err != nil {
		return fmt.Errorf("apply token schema: %w", err)
	}
	return nil
}

func (s *PostgresTokenStore) Load(ctx context.Context, installationID int64) (*TokenPair, error) {
	var pair TokenPair
	err := s.pool.QueryRow(ctx, `
		SELECT pgp_sym_decrypt(access_token, $2), expires_in,
		       pgp_sym_decrypt(refresh_token, $2), refresh_token_expires_in,
		       token_type, updated_at
		FROM token
		WHERE id=$1
	`, installationID, s.key).Scan(
		&pair.AccessToken, &pair.ExpiresIn,
		&pair.RefreshToken, &pair.RefreshTokenExpiresIn,
		&pair.TokenType, &pair.IssuedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("installation %d: %w", installationID, ErrTokenNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load token for installation %d: %w", installationID, err)
	}
	return &pair, nil
}

func (s *PostgresTokenStore) Save(ctx context.Context, installationID int64, pair *TokenPair) error {
	issuedAt := pair.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO token (id, access_token, expires_in, refresh_token, refresh_token_expires_in, token_type, updated_at)
		VALUES ($1, pgp_sym_encrypt($2, $7), $3, pgp_sym_encrypt($4, $7), $5, $6, $8)
		ON CONFLICT (id) DO UPDATE SET
		  access_token=EXCLUDED.access_token,
		  expires_in=EXCLUDED.expires_in,
		  refresh_token=EXCLUDED.refresh_token,
		  refresh_token_expires_in=EXCLUDED.refresh_token_expires_in,
		  token_type=EXCLUDED.token_type,
		  updated_at=EXCLUDED.updated_at
	`, installationID, pair.AccessToken, pair.ExpiresIn, pair.RefreshToken, pair.RefreshTokenExpiresIn,
		pair.TokenType, s.key, issuedAt)
	if err != nil {
		return fmt.Errorf("save token for installation %d: %w", installationID, err)
	}
	return nil
}
