package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go"

	"github.com/rasto/lcmc-sub001/pkg/api"
	"github.com/rasto/lcmc-sub001/pkg/engine"
	"github.com/rasto/lcmc-sub001/pkg/graph"
	"github.com/rasto/lcmc-sub001/pkg/registry"
	"github.com/rasto/lcmc-sub001/pkg/store"
)

// Client talks to the lcmc daemon HTTP API.
type Client struct {
	endpoint string
	http     *http.Client

	// WaitReady backs off exponentially from readyDelay up to readyMaxDelay
	readyDelay    time.Duration
	readyMaxDelay time.Duration
}

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("daemon returned %d", e.StatusCode)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// NewClient creates a new lcmc client.
// endpoint defaults to "http://127.0.0.1:8095" if empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8095"
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			// apply may wait on a slow cluster command
			Timeout: 100 * time.Second,
		},
		readyDelay:    100 * time.Millisecond,
		readyMaxDelay: 5 * time.Second,
	}
}

// SetReadyDelay sets the first and the longest wait between WaitReady
// attempts.
func (c *Client) SetReadyDelay(base, max time.Duration) {
	c.readyDelay = base
	c.readyMaxDelay = max
}

// Health checks the daemon is serving.
func (c *Client) Health(ctx context.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, &body); err != nil {
		return err
	}
	if body.Status != "ok" {
		return fmt.Errorf("unexpected health status %q", body.Status)
	}
	return nil
}

// WaitReady polls Health until it succeeds, attempts run out or ctx ends.
// Connection errors and 5xx answers (a daemon still starting, or missing a
// dependency) are retried; any other answer means the endpoint is not an
// lcmc daemon and stops the wait.
func (c *Client) WaitReady(ctx context.Context, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	err := retry.Do(
		func() error { return c.Health(ctx) },
		retry.Attempts(uint(attempts)),
		retry.Delay(c.readyDelay),
		retry.MaxDelay(c.readyMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryableHealth),
	)
	if err != nil {
		return fmt.Errorf("daemon not ready: %w", err)
	}
	return nil
}

func retryableHealth(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}

// Status fetches the last pass and registry sequence numbers.
func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var s api.StatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &s)
	return s, err
}

// Resources fetches the resource tree and placeholders.
func (c *Client) Resources(ctx context.Context) (api.ResourcesResponse, error) {
	var r api.ResourcesResponse
	err := c.do(ctx, http.MethodGet, "/v1/resources", nil, &r)
	return r, err
}

// Resource fetches one node.
func (c *Client) Resource(ctx context.Context, id string) (registry.NodeView, error) {
	var n registry.NodeView
	err := c.do(ctx, http.MethodGet, "/v1/resources/"+url.PathEscape(id), nil, &n)
	return n, err
}

// Graph fetches the constraint graph.
func (c *Client) Graph(ctx context.Context) (*graph.Graph, error) {
	var g graph.Graph
	if err := c.do(ctx, http.MethodGet, "/v1/graph", nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Passes fetches the most recent journaled passes, newest first.
func (c *Client) Passes(ctx context.Context, limit int) ([]*store.PassRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var passes []*store.PassRecord
	err := c.do(ctx, http.MethodGet, "/v1/passes?limit="+strconv.Itoa(limit), nil, &passes)
	return passes, err
}

// Hosts fetches per-host reachability.
func (c *Client) Hosts(ctx context.Context) ([]engine.ClusterHost, error) {
	var hosts []engine.ClusterHost
	err := c.do(ctx, http.MethodGet, "/v1/cluster/hosts", nil, &hosts)
	return hosts, err
}

// AddPlaceholder creates an unconnected constraint placeholder.
func (c *Client) AddPlaceholder(ctx context.Context) (registry.NodeView, error) {
	var n registry.NodeView
	err := c.do(ctx, http.MethodPost, "/v1/placeholders", nil, &n)
	return n, err
}

// AddResource creates a locally new primitive.
func (c *Client) AddResource(ctx context.Context, req api.AddResourceRequest) (registry.NodeView, error) {
	if req.ID == "" || req.Class == "" || req.Type == "" {
		return registry.NodeView{}, fmt.Errorf("invalid resource: id, class and type are required")
	}
	var n registry.NodeView
	err := c.do(ctx, http.MethodPost, "/v1/resources", req, &n)
	return n, err
}

// Remove deletes a locally created node and its locally created members.
func (c *Client) Remove(ctx context.Context, id string) ([]string, error) {
	var resp api.RemoveResponse
	if err := c.do(ctx, http.MethodDelete, "/v1/resources/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Removed, nil
}

// Poll asks for a poll. With wait set it blocks until the pass finished.
func (c *Client) Poll(ctx context.Context, wait bool) (api.PollResponse, error) {
	path := "/v1/poll"
	if wait {
		path += "?wait=true"
	}
	var resp api.PollResponse
	err := c.do(ctx, http.MethodPost, path, nil, &resp)
	return resp, err
}

// Apply runs a configuration command on the cluster.
func (c *Client) Apply(ctx context.Context, command string) (engine.ApplyResult, error) {
	var res engine.ApplyResult
	err := c.do(ctx, http.MethodPost, "/v1/apply", api.ApplyRequest{Command: command}, &res)
	return res, err
}

// Report downloads a CSV report ("passes" or "warnings"). Zero times leave
// the window open.
func (c *Client) Report(ctx context.Context, typ string, from, to time.Time, changedOnly bool) ([]byte, error) {
	q := url.Values{}
	if !from.IsZero() {
		q.Set("from", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		q.Set("to", to.UTC().Format(time.RFC3339))
	}
	if changedOnly {
		q.Set("changed", "true")
	}
	path := "/v1/reports/" + url.PathEscape(typ)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	return io.ReadAll(resp.Body)
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	var e struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &e) == nil {
		apiErr.Code = e.Error
		if e.Detail != "" {
			apiErr.Code += ": " + e.Detail
		}
	}
	return apiErr
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
