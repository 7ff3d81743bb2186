// Package client is a Go client for the smake HTTP API.
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
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/instant-demo/smake/internal/api"
	"github.com/instant-demo/smake/pkg/logging"
)

const (
	apiKeyHeader    = "X-API-Key"
	applicationJSON = "application/json"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    string
	InstanceID string // set when the failed request still launched an instance
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Details)
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	APIKey   string
	RetryMax int           // retries after the first attempt, 3 if 0
	WaitMax  time.Duration // cap on backoff between retries
	Logger   *logging.Logger
}

// Client calls the smake API.
type Client struct {
	baseURL string
	apiKey  string
	http    *retryablehttp.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts Options) *Client {
	rc := retryablehttp.NewClient()
	rc.CheckRetry = retryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if opts.Logger != nil {
		rc.Logger = opts.Logger.With("component", "client").Logger
	}
	if opts.RetryMax != 0 {
		rc.RetryMax = opts.RetryMax
	}
	if opts.WaitMax > 0 {
		rc.RetryWaitMax = opts.WaitMax
		if rc.RetryWaitMin > opts.WaitMax {
			rc.RetryWaitMin = opts.WaitMax
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  opts.APIKey,
		http:    rc,
	}
}

// retryPolicy retries transport errors and 5xx responses, except that a POST
// which reached the server is never repeated: a repeated create launches a
// second instance.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.Request != nil && resp.Request.Method == http.MethodPost {
		return false, ctx.Err()
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// CreateInstance launches an instance outside the pool.
func (c *Client) CreateInstance(ctx context.Context, req api.CreateInstanceRequest) (*api.CreateInstanceResponse, error) {
	var out api.CreateInstanceResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/instances", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOptions filters ListInstances. Tags entries are "key" or "key=value".
type ListOptions struct {
	InstanceType string
	State        string
	Tags         []string
}

// ListInstances returns instances matching opts.
func (c *Client) ListInstances(ctx context.Context, opts ListOptions) (*api.ListResponse, error) {
	q := url.Values{}
	if opts.InstanceType != "" {
		q.Set("instance_type", opts.InstanceType)
	}
	if opts.State != "" {
		q.Set("state", opts.State)
	}
	for _, tag := range opts.Tags {
		q.Add("tag", tag)
	}
	path := "/api/v1/instances"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out api.ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetInstance returns one instance with its reachability status.
func (c *Client) GetInstance(ctx context.Context, id string) (*api.InstanceResponse, error) {
	var out api.InstanceResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/instances/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TerminateInstance terminates an instance.
func (c *Client) TerminateInstance(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/instances/"+url.PathEscape(id), nil, nil)
}

// ApplyTags writes tags on an instance.
func (c *Client) ApplyTags(ctx context.Context, id string, tags map[string]string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/instances/"+url.PathEscape(id)+"/tags", api.TagsRequest{Tags: tags}, nil)
}

// RemoveTags deletes tag keys from an instance.
func (c *Client) RemoveTags(ctx context.Context, id string, keys []string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/instances/"+url.PathEscape(id)+"/tags", api.RemoveTagsRequest{Keys: keys}, nil)
}

// SetTTL schedules termination hours from now.
func (c *Client) SetTTL(ctx context.Context, id string, hours int) (*api.TTLResponse, error) {
	var out api.TTLResponse
	if err := c.do(ctx, http.MethodPut, "/api/v1/instances/"+url.PathEscape(id)+"/ttl", api.TTLRequest{TTLHours: hours}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Acquire allocates one pooled instance. hours 0 uses the server default.
func (c *Client) Acquire(ctx context.Context, instanceType string, hours int) (*api.InstanceResponse, error) {
	var body any
	if hours != 0 {
		body = api.AcquireRequest{TTLHours: hours}
	}
	var out api.InstanceResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/pool/"+url.PathEscape(instanceType)+"/acquire", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PoolStats returns pool members per type against the desired inventory.
func (c *Client) PoolStats(ctx context.Context) (*api.PoolResponse, error) {
	var out api.PoolResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/pool", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reconcile triggers one reconciliation cycle.
func (c *Client) Reconcile(ctx context.Context) (*api.ReconcileResponse, error) {
	var out api.ReconcileResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/pool/reconcile", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", applicationJSON)
	}
	req.Header.Set("Accept", applicationJSON)
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var er api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
			apiErr.Code = er.Code
			apiErr.Details = er.Details
			apiErr.InstanceID = er.ID
			if er.Error != "" {
				apiErr.Message = er.Error
			}
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
