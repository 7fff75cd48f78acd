package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisTokenPrefix      = "workflowguard:token:"
	redisInstallTokPrefix = "workflowguard:installation-token:"
)

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// RedisTokenStore keeps token pairs as JSON values keyed by installation.
// A key expires together with its refresh token.
type RedisTokenStore struct {
	client *redis.Client
}

func OpenRedisTokenStore(ctx context.Context, url string) (*RedisTokenStore, error) {
	client, err := connectRedis(ctx, url)
	if err != nil {
		return nil, err
	}
	return &RedisTokenStore{client: client}, nil
}

func (s *RedisTokenStore) Close() error {
	return s.client.Close()
}

func (s *RedisTokenStore) Load(ctx context.Context, installationID int64) (*TokenPair, error) {
	raw, err := s.client.Get(ctx, redisTokenKey(installationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("installation %d: %w", installationID, ErrTokenNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load token for installation %d: %w", installationID, err)
	}
	var pair TokenPair
	if err := json.Unmarshal(raw, &pair); err != nil {
		return nil, fmt.Errorf("decode token for installation %d: %w", installationID, err)
	}
	return &pair, nil
}

func (s *RedisTokenStore) Save(ctx context.Context, installationID int64, pair *TokenPair) error {
	payload, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("encode token for installation %d: %w", installationID, err)
	}
	ttl := time.Duration(pair.RefreshTokenExpiresIn) * time.Second
	if err := s.client.Set(ctx, redisTokenKey(installationID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save token for installation %d: %w", installationID, err)
	}
	return nil
}

func redisTokenKey(installationID int64) string {
	return redisTokenPrefix + strconv.FormatInt(installationID, 10)
}

// RedisTokenCache implements InstallationTokenCache.
type RedisTokenCache struct {
	client *redis.Client
}

func OpenRedisTokenCache(ctx context.Context, url string) (*RedisTokenCache, error) {
	client, err := connectRedis(ctx, url)
	if err != nil {
		return nil, err
	}
	return &RedisTokenCache{client: client}, nil
}

func (c *RedisTokenCache) Close() error {
	return c.client.Close()
}

func (c *RedisTokenCache) Get(ctx context.Context, installationID int64) (*InstallationToken, error) {
	raw, err := c.client.Get(ctx, redisInstallTokKey(installationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tok InstallationToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode cached token: %w", err)
	}
	return &tok, nil
}

func (c *RedisTokenCache) Put(ctx context.Context, installationID int64, tok *InstallationToken, ttl time.Duration) error {
	payload, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisInstallTokKey(installationID), payload, ttl).Err()
}

func redisInstallTokKey(installationID int64) string {
	return redisInstallTokPrefix + strconv.FormatInt(installationID, 10)
}
