package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAPIEndpoint = "https://api.github.com"
	acceptHeader       = "application/vnd.github+json"
	apiVersionHeader   = "2022-11-28"
	userAgent          = "workflowguard"

	// maxErrorBody bounds how much of a failed response is kept for diagnostics.
	maxErrorBody = 64 << 10
)

// UpstreamError is returned for every non-2xx platform response.
type UpstreamError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream call failed: %s %s: %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// apiClient issues bearer-authenticated calls against the platform REST API.
type apiClient struct {
	endpoint     string
	token        string
	httpClient   *http.Client
	callTimeout  time.Duration
	truncateRuns bool
	metrics      *Metrics
}

type apiResponse struct {
	header http.Header
	body   []byte
}

func newAPIClient(endpoint, token string, httpClient *http.Client) *apiClient {
	if endpoint == "" {
		endpoint = defaultAPIEndpoint
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &apiClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// resolve turns an API path into an absolute URL. Absolute URLs, such as the
// resource and pagination links the API returns, are used verbatim.
func (c *apiClient) resolve(url string) string {
	if strings.HasPrefix(url, "/") {
		return c.endpoint + url
	}
	return url
}

// call performs one request and decodes a JSON response into out when out is
// non-nil and the response has a body.
func (c *apiClient) call(ctx context.Context, method, url string, body, out any) error {
	resp, err := c.send(ctx, method, url, body)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, c.resolve(url), err)
	}
	return nil
}

func (c *apiClient) send(ctx context.Context, method, url string, body any) (*apiResponse, error) {
	url = c.resolve(url)

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, url, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("X-GitHub-Api-Version", apiVersionHeader)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Printf("[API] %s %s\n", method, url)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveAPICall(method, 0)
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveAPICall(method, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Printf("[API] Warning: %s %s returned %d: %s\n", method, url, resp.StatusCode, string(errBody))
		return nil, &UpstreamError{
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, url, err)
	}
	return &apiResponse{header: resp.Header, body: respBody}, nil
}

// iterate walks a collection endpoint page by page, following the Link
// header's "next" relation. key names the array field of each page; an empty
// key means the page itself is the array. Pages are fetched only as the
// caller consumes items, and an error ends the sequence. firstPageOnly stops
// after the first page.
func (c *apiClient) iterate(ctx context.Context, url, key string, firstPageOnly bool) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		next := url
		for next != "" {
			resp, err := c.send(ctx, http.MethodGet, next, nil)
			if err != nil {
				yield(nil, err)
				return
			}

			items, err := pageItems(resp.body, key)
			if err != nil {
				yield(nil, fmt.Errorf("decode page %s: %w", c.resolve(next), err))
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}

			if firstPageOnly {
				return
			}
			next = ""
			if link, ok := LinksByRel(resp.header.Get("Link")).Get("next"); ok {
				next = link.URL
			}
		}
	}
}

func pageItems(body []byte, key string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if key == "" {
		err := json.Unmarshal(body, &items)
		return items, err
	}

	var page map[string]json.RawMessage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, err
	}
	field, ok := page[key]
	if !ok {
		return nil, fmt.Errorf("response has no %q field", key)
	}
	err := json.Unmarshal(field, &items)
	return items, err
}

// decodeEach adapts a raw item sequence into typed values.
func decodeEach[T any](seq iter.Seq2[json.RawMessage, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for raw, err := range seq {
			var item T
			if err != nil {
				yield(item, err)
				return
			}
			if err := json.Unmarshal(raw, &item); err != nil {
				yield(item, fmt.Errorf("decode item: %w", err))
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}
