package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/google/uuid"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="

	// maxPayloadSize matches the platform's own webhook payload cap.
	maxPayloadSize = 25 << 20

	dispatchTimeout = 5 * time.Second
)

// verifyWebhookSignature reports whether signature is "sha256=" followed by
// the hex HMAC-SHA256 of payload under secret. The comparison covers the
// whole header value in constant time.
func verifyWebhookSignature(payload []byte, signature string, secret []byte) bool {
	if signature == "" || len(secret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := signaturePrefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// requireSignature rejects every request whose body does not carry a valid
// signature, before anything reads the payload. Every failure gets the same
// 422 response.
func requireSignature(secret []byte, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadSize))
			if err != nil {
				metrics.ObserveDelivery(deliveryUnverified, http.StatusBadRequest)
				http.Error(w, "cannot read body", http.StatusBadRequest)
				return
			}
			if !verifyWebhookSignature(body, r.Header.Get(signatureHeader), secret) {
				log.Printf("[Webhook] Rejected delivery %s: signature not verified\n", github.DeliveryID(r))
				metrics.ObserveDelivery(deliveryUnverified, http.StatusUnprocessableEntity)
				http.Error(w, "signature not verified", http.StatusUnprocessableEntity)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// WebhookHandler turns verified deliveries into corrective-action jobs.
type WebhookHandler struct {
	dispatcher Dispatcher
	metrics    *Metrics
}

func NewWebhookHandler(dispatcher Dispatcher, metrics *Metrics) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher, metrics: metrics}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	event := github.WebHookType(r)
	delivery := github.DeliveryID(r)
	if delivery == "" {
		delivery = uuid.NewString()
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respond(w, event, http.StatusBadRequest, "cannot read body")
		return
	}

	log.Printf("[Webhook] Delivery %s: event=%s\n", delivery, event)

	switch event {
	case "ping":
		h.respond(w, event, http.StatusOK, "pong")
	case "installation":
		h.handleInstallation(w, event, body)
	case "pull_request":
		h.handlePullRequest(r.Context(), w, event, delivery, body)
	case "workflow_run":
		h.handleWorkflowRun(r.Context(), w, event, delivery, body)
	default:
		h.respond(w, event, http.StatusUnprocessableEntity, "no handler for event "+event)
	}
}

func (h *WebhookHandler) handleInstallation(w http.ResponseWriter, event string, body []byte) {
	var payload github.InstallationEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		h.respond(w, event, http.StatusBadRequest, "invalid payload")
		return
	}
	log.Printf("[Webhook] Installation %d %s by %s\n",
		payload.GetInstallation().GetID(), payload.GetAction(), payload.GetSender().GetLogin())
	h.respond(w, event, http.StatusOK, "ok")
}

func (h *WebhookHandler) handlePullRequest(ctx context.Context, w http.ResponseWriter, event, delivery string, body []byte) {
	var payload github.PullRequestEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		h.respond(w, event, http.StatusBadRequest, "invalid payload")
		return
	}
	if payload.GetAction() == "closed" {
		h.respond(w, event, http.StatusOK, "ignored")
		return
	}
	if payload.PullRequest == nil || payload.Repo == nil || payload.Installation == nil ||
		payload.GetRepo().GetFullName() == "" || payload.GetInstallation().GetID() == 0 {
		h.respond(w, event, http.StatusBadRequest, "pull_request, repository and installation are required")
		return
	}

	number := payload.GetPullRequest().GetNumber()
	if number == 0 {
		number = payload.GetNumber()
	}
	h.dispatch(ctx, w, event, Job{
		Kind:           JobRejectPullRequest,
		DeliveryID:     delivery,
		InstallationID: payload.GetInstallation().GetID(),
		Repository:     payload.GetRepo().GetFullName(),
		PullRequest:    number,
	})
}

func (h *WebhookHandler) handleWorkflowRun(ctx context.Context, w http.ResponseWriter, event, delivery string, body []byte) {
	var payload github.WorkflowRunEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		h.respond(w, event, http.StatusBadRequest, "invalid payload")
		return
	}
	if payload.GetAction() == runStatusComplete || payload.GetWorkflowRun().GetStatus() == runStatusComplete {
		h.respond(w, event, http.StatusOK, "ignored")
		return
	}
	if payload.WorkflowRun == nil || payload.Repo == nil || payload.Installation == nil ||
		payload.GetRepo().GetFullName() == "" || payload.GetInstallation().GetID() == 0 {
		h.respond(w, event, http.StatusBadRequest, "workflow_run, repository and installation are required")
		return
	}

	var prs []int
	for _, pr := range payload.GetWorkflowRun().PullRequests {
		prs = append(prs, pr.GetNumber())
	}
	h.dispatch(ctx, w, event, Job{
		Kind:           JobCancelWorkflowRun,
		DeliveryID:     delivery,
		InstallationID: payload.GetInstallation().GetID(),
		Repository:     payload.GetRepo().GetFullName(),
		WorkflowRunID:  payload.GetWorkflowRun().GetID(),
		PullRequests:   prs,
	})
}

func (h *WebhookHandler) dispatch(ctx context.Context, w http.ResponseWriter, event string, job Job) {
	job.ID = uuid.NewString()
	job.EnqueuedAt = time.Now()

	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	if err := h.dispatcher.Dispatch(ctx, job); err != nil {
		log.Printf("[Webhook] Error: could not queue job for delivery %s: %v\n", job.DeliveryID, err)
		h.respond(w, event, http.StatusServiceUnavailable, "could not queue job")
		return
	}
	h.respond(w, event, http.StatusCreated, job.ID)
}

func (h *WebhookHandler) respond(w http.ResponseWriter, event string, status int, msg string) {
	h.metrics.ObserveDelivery(event, status)
	if status >= 400 {
		log.Printf("[Webhook] %s: %d %s\n", event, status, msg)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, strings.TrimSpace(msg)+"\n")
}
