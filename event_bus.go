package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// JobOutcome is the JSON document reported for every finished job.
type JobOutcome struct {
	Job        Job       `json:"job"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

func newJobOutcome(result JobResult) JobOutcome {
	out := JobOutcome{
		Job:        result.Job,
		Outcome:    "succeeded",
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		DurationMS: result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	}
	if result.Err != nil {
		out.Outcome = "failed"
		out.Error = result.Err.Error()
	}
	return out
}

// OutcomeReporter delivers job outcomes to an HTTP sink. Without a URL the
// outcome is logged only.
type OutcomeReporter struct {
	url    string
	client *http.Client
}

func NewOutcomeReporter(url string) *OutcomeReporter {
	if url == "" {
		log.Println("[EventBus] OUTCOME_URL not set, job outcomes will be logged only")
	} else {
		log.Printf("[EventBus] Delivering job outcomes to %s\n", url)
	}
	return &OutcomeReporter{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// Report is a WorkerPool reporter. Delivery failures are logged.
func (r *OutcomeReporter) Report(result JobResult) {
	if err := r.Deliver(context.Background(), newJobOutcome(result)); err != nil {
		log.Printf("[EventBus] Warning: could not deliver outcome of job %s: %v\n", result.Job.ID, err)
	}
}

// Deliver POSTs outcome to the sink.
func (r *OutcomeReporter) Deliver(ctx context.Context, outcome JobOutcome) error {
	if r.url == "" {
		log.Printf("[EventBus] Job %s (%s %s) %s %s\n",
			outcome.Job.ID, outcome.Job.Kind, outcome.Job.Key(), outcome.Outcome, outcome.Error)
		return nil
	}

	body, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("event_bus: failed to marshal outcome: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("event_bus: failed to reach %s: %w", r.url, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("event_bus: %s returned %d: %s", r.url, resp.StatusCode, string(respBody))
	}

	log.Printf("[EventBus] Delivered outcome of job %s, status=%d\n", outcome.Job.ID, resp.StatusCode)
	return nil
}
