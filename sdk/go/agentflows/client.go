// Package agentflows provides a small REST client for the AgentFlows API.
package agentflows

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// DefaultPollInterval is the pause between status checks in WaitForRun.
const DefaultPollInterval = 500 * time.Millisecond

// Client wraps the HTTP interactions with the AgentFlows REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// RunSubmission is the payload for creating a new run.
type RunSubmission struct {
	ID        string         `json:"id,omitempty"`
	Goal      string         `json:"goal"`
	FlowName  string         `json:"flow_name,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Result carries the outcome of a completed run.
type Result struct {
	Answer       string `json:"answer"`
	Thought      string `json:"thought"`
	Rounds       int    `json:"rounds"`
	Observations string `json:"observations"`
}

// Run mirrors the server-side run record.
type Run struct {
	ID         string         `json:"id"`
	Goal       string         `json:"goal"`
	FlowName   string         `json:"flow_name"`
	SessionID  string         `json:"session_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Status     string         `json:"status"`
	Attempts   int            `json:"attempts"`
	MaxRetries int            `json:"max_retries"`
	LastError  string         `json:"last_error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Result     *Result        `json:"result,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// Terminal reports whether the run reached a final status.
func (r *Run) Terminal() bool {
	return r != nil && (r.Status == "succeeded" || r.Status == "failed")
}

// RunStats aggregates run counts by status.
type RunStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ListQuery narrows ListRuns results. Zero values are omitted.
type ListQuery struct {
	Limit     int
	Offset    int
	Statuses  []string
	HasResult *bool
	Since     time.Time
	Query     string
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("agentflows api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the AgentFlows API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetToken stores a bearer token attached to subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the currently stored bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SubmitRun creates a new run and returns the accepted record.
func (c *Client) SubmitRun(ctx context.Context, submission RunSubmission) (*Run, error) {
	if strings.TrimSpace(submission.Goal) == "" {
		return nil, errors.New("agentflows: goal is required")
	}
	var run Run
	if err := c.post(ctx, "/api/v1/runs", submission, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun fetches one run by identifier.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	if runID == "" {
		return nil, errors.New("agentflows: run id is required")
	}
	var run Run
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(runID), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns fetches runs matching the query, newest first.
func (c *Client) ListRuns(ctx context.Context, query ListQuery) ([]*Run, error) {
	values := url.Values{}
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Offset > 0 {
		values.Set("offset", strconv.Itoa(query.Offset))
	}
	if len(query.Statuses) > 0 {
		values.Set("status", strings.Join(query.Statuses, ","))
	}
	if query.HasResult != nil {
		values.Set("has_result", strconv.FormatBool(*query.HasResult))
	}
	if !query.Since.IsZero() {
		values.Set("since", query.Since.UTC().Format(time.RFC3339))
	}
	if query.Query != "" {
		values.Set("q", query.Query)
	}
	var runs []*Run
	if err := c.get(ctx, "/api/v1/runs", values, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// Stats fetches aggregate run counts.
func (c *Client) Stats(ctx context.Context) (*RunStats, error) {
	var stats RunStats
	if err := c.get(ctx, "/api/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// WaitForRun polls until the run reaches a terminal status or the context is
// cancelled. A non-positive interval falls back to DefaultPollInterval.
func (c *Client) WaitForRun(ctx context.Context, runID string, interval time.Duration) (*Run, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Terminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
