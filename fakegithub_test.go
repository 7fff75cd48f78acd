package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// apiCall is one request received by fakeGitHub.
type apiCall struct {
	Method string
	Path   string
	Query  string
	Body   string
	Auth   string
}

func (c apiCall) String() string {
	return c.Method + " " + c.Path
}

// fakeGitHub is an httptest REST server that records every request.
type fakeGitHub struct {
	*httptest.Server
	mux *http.ServeMux

	mu    sync.Mutex
	calls []apiCall
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{mux: http.NewServeMux()}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls = append(f.calls, apiCall{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Body:   string(body),
			Auth:   r.Header.Get("Authorization"),
		})
		f.mu.Unlock()
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

// reply registers pattern to answer with status and a JSON body. "{base}" in
// body is replaced by the server URL.
func (f *fakeGitHub) reply(pattern string, status int, body string) {
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, strings.ReplaceAll(body, "{base}", f.URL))
	})
}

// replyPages serves pages in order, selected by the "page" query parameter,
// with a Link rel="next" header on every page but the last.
func (f *fakeGitHub) replyPages(pattern string, pages ...string) {
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil || n < 1 {
			n = 1
		}
		if n > len(pages) {
			http.NotFound(w, r)
			return
		}
		if n < len(pages) {
			next := *r.URL
			query := next.Query()
			query.Set("page", strconv.Itoa(n+1))
			next.RawQuery = query.Encode()
			w.Header().Set("Link", fmt.Sprintf(`<%s%s>; rel="next"`, f.URL, next.RequestURI()))
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, strings.ReplaceAll(pages[n-1], "{base}", f.URL))
	})
}

func (f *fakeGitHub) Calls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

// Writes returns the non-GET calls in order.
func (f *fakeGitHub) Writes() []string {
	var writes []string
	for _, c := range f.Calls() {
		if c.Method != http.MethodGet {
			writes = append(writes, c.String())
		}
	}
	return writes
}

func (f *fakeGitHub) find(method, path string) (apiCall, bool) {
	for _, c := range f.Calls() {
		if c.Method == method && c.Path == path {
			return c, true
		}
	}
	return apiCall{}, false
}

// staticToken hands out the same credential for every installation.
type staticToken string

func (s staticToken) Token(context.Context, int64) (string, error) {
	return string(s), nil
}

func (f *fakeGitHub) connector() *gitHubConnector {
	return &gitHubConnector{tokens: staticToken("test-token"), endpoint: f.URL}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}
