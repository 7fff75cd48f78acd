package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// PolicyConfig is the optional YAML policy overlay.
type PolicyConfig struct {
	WorkflowPrefix     string `yaml:"workflow_prefix"`
	RejectComment      string `yaml:"reject_comment"`
	TruncateRunListing bool   `yaml:"truncate_run_listing"`
}

// Config is the service configuration, read from the environment.
type Config struct {
	AuthMode      string
	AppID         int64
	PrivateKeyPEM []byte
	WebhookSecret []byte

	ClientID     string
	ClientSecret string

	APIEndpoint string
	WebEndpoint string

	DatabaseURL        string
	TokenEncryptionKey string
	RedisURL           string
	AMQPURL            string
	OutcomeURL         string

	Addr        string
	Workers     int
	QueueSize   int
	CallTimeout time.Duration
	JobTimeout  time.Duration

	Policy PolicyConfig
}

// loadConfig loads .env when present, then reads the environment and the
// policy file named by POLICY_FILE.
func loadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("[Config] Warning: .env file not found, using process environment")
	} else {
		log.Println("[Config] Loaded .env file")
	}
	return configFromEnv(os.Getenv)
}

func configFromEnv(getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		AuthMode:           env("AUTH_MODE", authModeApp),
		WebhookSecret:      []byte(getenv("WEBHOOK_SECRET")),
		ClientID:           env("CLIENT_ID", ""),
		ClientSecret:       env("CLIENT_SECRET", ""),
		APIEndpoint:        env("GITHUB_ENDPOINT", defaultAPIEndpoint),
		WebEndpoint:        env("GITHUB_WEB_ENDPOINT", defaultWebEndpoint),
		DatabaseURL:        env("DATABASE_URL", ""),
		TokenEncryptionKey: env("TOKEN_ENCRYPTION_KEY", ""),
		RedisURL:           env("REDIS_URL", ""),
		AMQPURL:            env("AMQP_URL", ""),
		OutcomeURL:         env("OUTCOME_URL", ""),
		Addr:               ":" + env("PORT", "3000"),
	}

	var errs []error
	if v := env("APP_ID", ""); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("APP_ID: %w", err))
		}
		cfg.AppID = id
	}
	if v := env("SECRET", ""); v != "" {
		cfg.PrivateKeyPEM = decodePrivateKey(v)
	}

	var err error
	if cfg.Workers, err = envInt(env("WORKERS", "4")); err != nil {
		errs = append(errs, fmt.Errorf("WORKERS: %w", err))
	}
	if cfg.QueueSize, err = envInt(env("QUEUE_SIZE", "64")); err != nil {
		errs = append(errs, fmt.Errorf("QUEUE_SIZE: %w", err))
	}
	if cfg.CallTimeout, err = time.ParseDuration(env("CALL_TIMEOUT", "15s")); err != nil {
		errs = append(errs, fmt.Errorf("CALL_TIMEOUT: %w", err))
	}
	if cfg.JobTimeout, err = time.ParseDuration(env("JOB_TIMEOUT", "2m")); err != nil {
		errs = append(errs, fmt.Errorf("JOB_TIMEOUT: %w", err))
	}
	if path := env("POLICY_FILE", ""); path != "" {
		if err := cfg.LoadPolicy(path); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func envInt(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}

// decodePrivateKey accepts the key as PEM text, with literal "\n" escapes, or
// base64-encoded PEM.
func decodePrivateKey(v string) []byte {
	if strings.Contains(v, "-----BEGIN") {
		return []byte(strings.ReplaceAll(v, `\n`, "\n"))
	}
	if decoded, err := base64.StdEncoding.DecodeString(v); err == nil {
		return decoded
	}
	return []byte(v)
}

// LoadPolicy overlays the YAML policy file at path.
func (c *Config) LoadPolicy(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	var policy PolicyConfig
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}
	c.Policy = policy
	return nil
}

// validateCredentials reports every variable the configured auth mode lacks.
func (c *Config) validateCredentials() error {
	var missing []string
	switch c.AuthMode {
	case authModeApp:
		if c.AppID == 0 {
			missing = append(missing, "APP_ID")
		}
		if len(c.PrivateKeyPEM) == 0 {
			missing = append(missing, "SECRET")
		}
	case authModeOAuth:
		if c.ClientID == "" {
			missing = append(missing, "CLIENT_ID")
		}
		if c.ClientSecret == "" {
			missing = append(missing, "CLIENT_SECRET")
		}
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", authModeApp, authModeOAuth, c.AuthMode)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// validate checks everything the webhook service needs.
func (c *Config) validate() error {
	err := c.validateCredentials()
	if len(c.WebhookSecret) == 0 {
		err = errors.Join(err, errors.New("missing configuration: WEBHOOK_SECRET"))
	}
	return err
}

// policy returns the evaluator configured by the overlay.
func (c *Config) policy() Policy {
	return Policy{WorkflowPrefix: c.Policy.WorkflowPrefix}
}
