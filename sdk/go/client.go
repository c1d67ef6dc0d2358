// Package shiplinesdk is a minimal client for the Shipline status API.
package shiplinesdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Shipline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API
// prefix, e.g. "http://127.0.0.1:8787/v0".
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Run represents one pipeline execution.
type Run struct {
	ID        string `json:"id"`
	PRDTitle  string `json:"prd_title"`
	PRDLevel  string `json:"prd_level"`
	Workspace string `json:"workspace"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Task represents the API task model (partial).
type Task struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority string `json:"priority,omitempty"`
	StoryID  string `json:"story_id,omitempty"`
}

// PullRequest represents the API pull request model (partial).
type PullRequest struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	TaskID       string   `json:"task_id"`
	BranchName   string   `json:"branch_name,omitempty"`
	FilesChanged []string `json:"files_changed,omitempty"`
	Status       string   `json:"status"`
	CreatedAt    string   `json:"created_at,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	RunID      string `json:"run_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Agent      string `json:"agent"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Runs lists all runs, newest first.
func (c *Client) Runs(ctx context.Context) ([]Run, error) {
	var resp []Run
	err := c.do(ctx, "runs", nil, &resp)
	return resp, err
}

// Run fetches one run by id.
func (c *Client) Run(ctx context.Context, id string) (Run, error) {
	var resp Run
	err := c.do(ctx, "runs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Tasks lists the tasks of a run.
func (c *Client) Tasks(ctx context.Context, runID string) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, "runs/"+url.PathEscape(runID)+"/tasks", nil, &resp)
	return resp, err
}

// PullRequests lists the pull requests of a run.
func (c *Client) PullRequests(ctx context.Context, runID string) ([]PullRequest, error) {
	var resp []PullRequest
	err := c.do(ctx, "runs/"+url.PathEscape(runID)+"/prs", nil, &resp)
	return resp, err
}

// Events tails the event log, newest first. An empty runID returns
// events across all runs.
func (c *Client) Events(ctx context.Context, runID string, limit int) ([]Event, error) {
	q := url.Values{}
	if runID != "" {
		q.Set("run_id", runID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp []Event
	err := c.do(ctx, "events", q, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, endpoint string, query url.Values, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
