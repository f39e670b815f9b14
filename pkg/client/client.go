package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/drover-io/drover/pkg/api"
)

const (
	apiPrefix = "/api/v1"

	// defaultTimeout bounds a whole request including the body read.
	// Per-call contexts can tighten it further.
	defaultTimeout = 30 * time.Second
)

// APIError is a non-2xx response from the server, carrying the decoded
// {"error": ...} message when one was present.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to a drover API server. It maintains no mutable state
// and is safe for concurrent use; create one per server and reuse it.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL, e.g.
// "http://localhost:8088".
func New(baseURL string) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: defaultTimeout})
}

// NewWithHTTPClient creates a client using the given http.Client, for
// callers that need custom transports or timeouts.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
}

// SubmitJob submits a job for scheduling and returns the created job's
// id and initial state.
func (c *Client) SubmitJob(ctx context.Context, req *api.SubmitRequest) (*api.SubmitResponse, error) {
	var out api.SubmitResponse
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/jobs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJob fetches one job with its timing, allocation and log tails.
func (c *Client) GetJob(ctx context.Context, id int64) (*api.JobView, error) {
	var out api.JobView
	if err := c.do(ctx, http.MethodGet, jobPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOptions filters ListJobs. Zero values mean no filter.
type ListOptions struct {
	State   string
	Account string
	Limit   int
}

// ListJobs lists jobs most recent first.
func (c *Client) ListJobs(ctx context.Context, opts ListOptions) (*api.ListJobsResponse, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", opts.State)
	}
	if opts.Account != "" {
		q.Set("account", opts.Account)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := apiPrefix + "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out api.ListJobsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelJob cancels a job. Cancelling a job that already reached a
// terminal state is not an error; the response echoes the state the job
// reached.
func (c *Client) CancelJob(ctx context.Context, id int64) (*api.CancelResponse, error) {
	var out api.CancelResponse
	if err := c.do(ctx, http.MethodDelete, jobPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Dashboard fetches the aggregate system view.
func (c *Client) Dashboard(ctx context.Context) (*api.DashboardView, error) {
	var out api.DashboardView
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/dashboard", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events fetches the server's recent-events ring, newest first.
func (c *Client) Events(ctx context.Context) (*api.EventsResponse, error) {
	var out api.EventsResponse
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/events", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health probes the liveness endpoint.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready probes the readiness endpoint. A 503 is a meaningful answer,
// not a transport failure: the response decodes either way and the
// caller inspects Status and Checks.
func (c *Client) Ready(ctx context.Context) (*api.ReadyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, errorFrom(resp)
	}

	var out api.ReadyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode readiness response: %w", err)
	}
	return &out, nil
}

func jobPath(id int64) string {
	return apiPrefix + "/jobs/" + strconv.FormatInt(id, 10)
}

// do sends one request and decodes the response into out when the
// server answered 2xx. Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Buffer
	if in != nil {
		body = &bytes.Buffer{}
		if err := json.NewEncoder(body).Encode(in); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFrom(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// errorFrom builds an APIError from a non-2xx response, falling back to
// the status text when the body is not the standard error shape.
func errorFrom(resp *http.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
	}
	return apiErr
}
