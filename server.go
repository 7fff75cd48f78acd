package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
)

const shutdownGrace = 30 * time.Second

// App owns the long-lived resources of the service. Everything it opens is
// released by Close.
type App struct {
	cfg          *Config
	metrics      *Metrics
	store        TokenStore
	oauth        *OAuthTokenProvider
	orchestrator *Orchestrator
	closers      []func() error
}

// NewApp connects the token store and cache the configuration names and
// builds the orchestrator. metrics may be nil.
func NewApp(ctx context.Context, cfg *Config, metrics *Metrics) (app *App, err error) {
	if err := cfg.validateCredentials(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, metrics: metrics}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.AuthMode == authModeOAuth {
		store, err := openTokenStore(ctx, cfg.DatabaseURL, cfg.TokenEncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("open token store: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
	}

	var cache InstallationTokenCache
	if cfg.AuthMode == authModeApp && cfg.RedisURL != "" {
		redisCache, err := OpenRedisTokenCache(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("open token cache: %w", err)
		}
		cache = redisCache
		a.closers = append(a.closers, redisCache.Close)
	}

	httpClient := &http.Client{}
	tokens, oauth, err := newTokenProvider(cfg, a.store, cache, httpClient, metrics)
	if err != nil {
		return nil, err
	}
	a.oauth = oauth

	connector := &gitHubConnector{
		tokens:       tokens,
		endpoint:     cfg.APIEndpoint,
		httpClient:   httpClient,
		callTimeout:  cfg.CallTimeout,
		truncateRuns: cfg.Policy.TruncateRunListing,
		metrics:      metrics,
	}
	a.orchestrator, err = NewOrchestrator(connector, cfg.policy(), cfg.Policy.RejectComment, metrics)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("[Server] Warning: close: %v\n", err)
		}
	}
	a.closers = nil
}

// Serve runs the webhook service until ctx ends, then drains in-flight work.
func (a *App) Serve(ctx context.Context) error {
	if err := a.cfg.validate(); err != nil {
		return err
	}

	reporter := NewOutcomeReporter(a.cfg.OutcomeURL)
	reporters := []func(JobResult){a.metrics.ObserveJob, reporter.Report}

	var mq *RabbitMQ
	if a.cfg.AMQPURL != "" {
		var err error
		if mq, err = NewRabbitMQ(a.cfg.AMQPURL); err != nil {
			return err
		}
		// Closed after the pool drains so finished jobs can still be acked.
		defer mq.Close()
		reporters = append(reporters, mq.Report)
	}
	pool := NewWorkerPool(a.orchestrator, a.cfg.Workers, a.cfg.QueueSize, a.cfg.JobTimeout, reporters...)

	// Jobs keep running while the listener shuts down; they end with the pool.
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()
	pool.Start(jobCtx)

	var dispatcher Dispatcher = pool
	consumeCtx, stopConsuming := context.WithCancel(ctx)
	defer stopConsuming()
	consumerDone := make(chan struct{})
	if mq != nil {
		dispatcher = mq
		go func() {
			defer close(consumerDone)
			if err := mq.ConsumeJobs(consumeCtx, pool, a.cfg.Workers*(a.cfg.QueueSize+1)); err != nil {
				log.Printf("[RabbitMQ] Error: consumer stopped: %v\n", err)
			}
		}()
	} else {
		close(consumerDone)
	}

	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           newRouter(a.cfg.WebhookSecret, dispatcher, a.metrics, a.oauth),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("[Server] Listening on %s (auth mode %s)\n", a.cfg.Addr, a.cfg.AuthMode)
		serveErr <- srv.ListenAndServe()
	}()

	var err error
	select {
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		log.Println("[Server] Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Printf("[Server] Warning: HTTP shutdown: %v\n", serr)
	}
	stopConsuming()
	<-consumerDone
	if perr := pool.Shutdown(shutdownCtx); perr != nil {
		log.Printf("[Server] Warning: jobs still running at shutdown: %v\n", perr)
	}
	return err
}
