package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// newRouter registers the service's routes. The OAuth callback exists only
// when oauth is non-nil, and /metrics only when metrics is.
func newRouter(webhookSecret []byte, dispatcher Dispatcher, metrics *Metrics, oauth *OAuthTokenProvider) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	r.With(requireSignature(webhookSecret, metrics)).
		Method(http.MethodPost, "/webhook", NewWebhookHandler(dispatcher, metrics))
	if oauth != nil {
		r.Get("/oauth2/callback", oauth.CallbackHandler)
	}
	return r
}

// healthHandler reports liveness.
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}
