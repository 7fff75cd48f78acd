package main

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsObserve(t *testing.T) {
	m := NewMetrics()
	start := time.Now()

	m.ObserveJob(JobResult{Job: Job{Kind: JobRejectPullRequest}, StartedAt: start, FinishedAt: start.Add(time.Second)})
	m.ObserveJob(JobResult{Job: Job{Kind: JobRejectPullRequest}, Err: errors.New("x"), StartedAt: start, FinishedAt: start})
	m.ObserveAPICall("GET", 200)
	m.ObserveAPICall("GET", 0)
	m.ObserveTokenAcquisition(authModeOAuth, errors.New("rejected"))

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"jobs succeeded", testutil.ToFloat64(m.jobs.WithLabelValues(string(JobRejectPullRequest), "succeeded")), 1},
		{"jobs failed", testutil.ToFloat64(m.jobs.WithLabelValues(string(JobRejectPullRequest), "failed")), 1},
		{"api 200", testutil.ToFloat64(m.apiCalls.WithLabelValues("GET", "200")), 1},
		{"api error", testutil.ToFloat64(m.apiCalls.WithLabelValues("GET", "error")), 1},
		{"oauth failed", testutil.ToFloat64(m.tokenRefresh.WithLabelValues(authModeOAuth, "failed")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if n := testutil.CollectAndCount(m.jobDuration); n != 1 {
		t.Errorf("job duration series = %d, want 1", n)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveDelivery("ping", 200)
	m.ObserveJob(JobResult{})
	m.ObserveAPICall("GET", 200)
	m.ObserveCancellation(nil)
	m.ObserveTokenAcquisition(authModeApp, nil)
}

func TestAPICallsCounted(t *testing.T) {
	f := newPullRequestFixture(t, harmlessFilesJSON)
	m := NewMetrics()
	o := newTestOrchestrator(t, f, m)

	if err := o.RejectPullRequest(t.Context(), 42, "octo/app", 7); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.apiCalls.WithLabelValues("GET", "200")); got != 3 {
		t.Errorf("GET 200 calls = %v, want 3", got)
	}
}
