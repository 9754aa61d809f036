// Package jira provides the minimal REST v3 client the copy pipeline needs:
// a JQL search with pagination and a per-issue field update.
package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Issue represents a Jira issue from the REST API. Fields is kept raw so
// custom fields can be read without a fixed schema.
type Issue struct {
	ID     string                     `json:"id"`
	Key    string                     `json:"key"`
	Self   string                     `json:"self"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// Summary returns the issue summary, or "" when absent.
func (i *Issue) Summary() string {
	s, _ := i.StringField("summary")
	return s
}

// StringField returns the value of a string-typed field. The second return
// is false when the field is absent, null, or not a string.
func (i *Issue) StringField(key string) (string, bool) {
	raw, ok := i.Fields[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// ListField returns the value of a labels-style field, or nil when the field
// is absent, null, or not a string list.
func (i *Issue) ListField(key string) []string {
	raw, ok := i.Fields[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	return list
}

// SearchResult represents a Jira JQL search response.
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// searchPageSize is the page size requested from the search endpoint.
const searchPageSize = 100

// Client provides HTTP access to a Jira instance.
type Client struct {
	URL        string
	Email      string
	APIToken   string
	HTTPClient *http.Client

	// RetryMaxElapsed caps the total time spent retrying a transient
	// search failure. Writes are never retried.
	RetryMaxElapsed time.Duration
}

// NewClient creates a new Jira client with a 30s request timeout.
func NewClient(url, email, apiToken string) *Client {
	return &Client{
		URL:      strings.TrimSuffix(url, "/"),
		Email:    email,
		APIToken: apiToken,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		RetryMaxElapsed: 15 * time.Second,
	}
}

// SearchIssues queries Jira using JQL and returns matching issues in result
// order, handling pagination. fields names the issue fields to request.
// max > 0 caps the number of issues fetched; max <= 0 fetches all.
func (c *Client) SearchIssues(ctx context.Context, jql string, fields []string, max int) ([]Issue, error) {
	var all []Issue
	startAt := 0

	for {
		pageSize := searchPageSize
		if max > 0 && max-len(all) < pageSize {
			pageSize = max - len(all)
		}

		params := url.Values{
			"jql":        {jql},
			"fields":     {strings.Join(fields, ",")},
			"startAt":    {fmt.Sprintf("%d", startAt)},
			"maxResults": {fmt.Sprintf("%d", pageSize)},
		}
		apiURL := fmt.Sprintf("%s/rest/api/3/search?%s", c.URL, params.Encode())

		body, err := c.get(ctx, apiURL)
		if err != nil {
			return nil, fmt.Errorf("search issues: %w", err)
		}

		var result SearchResult
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("parse search response: %w", err)
		}

		all = append(all, result.Issues...)

		if max > 0 && len(all) >= max {
			return all[:max], nil
		}
		if len(result.Issues) == 0 || startAt+len(result.Issues) >= result.Total {
			return all, nil
		}
		startAt += len(result.Issues)
	}
}

// UpdateIssue updates fields on an existing Jira issue by key. Not retried:
// a failed write is the caller's to record.
func (c *Client) UpdateIssue(ctx context.Context, key string, fields map[string]interface{}) error {
	payload := map[string]interface{}{"fields": fields}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal update request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s", c.URL, url.PathEscape(key))

	if _, err := c.doRequest(ctx, "PUT", apiURL, data); err != nil {
		return fmt.Errorf("update issue %s: %w", key, err)
	}
	return nil
}

// get executes a GET with retry for transient failures. BackOff instances are
// stateful, so a fresh one is built per call.
func (c *Client) get(ctx context.Context, apiURL string) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.RetryMaxElapsed

	var body []byte
	err := backoff.Retry(func() error {
		var err error
		body, err = c.doRequest(ctx, "GET", apiURL, nil)
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
	return body, err
}

// apiError is a non-2xx response from Jira.
type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("jira API returned %d: %s", e.StatusCode, e.Body)
}

// isRetryable reports whether an error is a transient failure worth retrying:
// rate limiting, server-side errors, or connection-level failures. Auth and
// client errors are permanent.
func isRetryable(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		switch ae.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	// Anything below the HTTP layer (refused, reset, timeout) is transient.
	return true
}

// doRequest executes an authenticated HTTP request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, apiURL string, body []byte) ([]byte, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("jira URL not configured")
	}
	if c.APIToken == "" {
		return nil, fmt.Errorf("jira API token not configured")
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.setAuth(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "fieldcopy/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// PUT returns 204 No Content on success
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apiError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

// setAuth sets the appropriate authentication header on the request.
// With an email configured we use Basic auth with email:token, which is what
// Jira Cloud requires; without one the token goes out as a bearer token, the
// server/Data Center convention.
func (c *Client) setAuth(req *http.Request) {
	if c.Email != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(c.Email + ":" + c.APIToken))
		req.Header.Set("Authorization", "Basic "+auth)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.APIToken)
	}
}
