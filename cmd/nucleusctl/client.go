package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/artpar/nucleus/internal/core/domain"
	"github.com/artpar/nucleus/internal/shell/api"
)

// APIError is a failed API call.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
}

// Client calls the Nucleus HTTP API. Queries are retried on transport
// failures; deploys and log streams are sent once.
type Client struct {
	baseURL string
	token   string
	reads   *retryablehttp.Client
	once    *http.Client
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL, token string) *Client {
	reads := retryablehttp.NewClient()
	reads.RetryMax = 3
	reads.RetryWaitMin = 250 * time.Millisecond
	reads.RetryWaitMax = 2 * time.Second
	reads.HTTPClient.Timeout = 30 * time.Second
	reads.Logger = nil
	reads.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		reads:   reads,
		once:    &http.Client{},
	}
}

// =============================================================================
// Operations
// =============================================================================

// Deploy submits spec and waits for the deploy to finish.
func (c *Client) Deploy(ctx context.Context, spec domain.ServiceSpec) (domain.ServiceResponse, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return domain.ServiceResponse{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/services", bytes.NewReader(body))
	if err != nil {
		return domain.ServiceResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.once.Do(req)
	if err != nil {
		return domain.ServiceResponse{}, err
	}

	var out domain.ServiceResponse
	return out, decode(resp, &out)
}

// ListServices returns service names in order of first deploy.
func (c *Client) ListServices(ctx context.Context) ([]string, error) {
	var out api.ServiceListResponse
	if err := c.get(ctx, "/api/v1/services", &out); err != nil {
		return nil, err
	}
	return out.Services, nil
}

// GetService returns the endpoints of name.
func (c *Client) GetService(ctx context.Context, name string) (domain.ServiceResponse, error) {
	var out domain.ServiceResponse
	return out, c.get(ctx, "/api/v1/services/"+url.PathEscape(name), &out)
}

// DescribeService returns the registry record of name.
func (c *Client) DescribeService(ctx context.Context, name string) (*domain.DeploymentRecord, error) {
	var out domain.DeploymentRecord
	if err := c.get(ctx, "/api/v1/services/"+url.PathEscape(name)+"/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LogWindow returns the lines name emitted within window.
func (c *Client) LogWindow(ctx context.Context, name, window string) ([]string, error) {
	var out api.LogWindowResponse
	path := "/api/v1/services/" + url.PathEscape(name) + "/logs?window=" + url.QueryEscape(window)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Lines, nil
}

// TailLogs copies the log stream of name to w until the stream ends or ctx
// is cancelled.
func (c *Client) TailLogs(ctx context.Context, name string, follow bool, w io.Writer) error {
	path := "/api/v1/services/" + url.PathEscape(name) + "/logs/tail?follow=" + strconv.FormatBool(follow)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.once.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decode(resp, nil)
	}

	if _, err := io.Copy(w, resp.Body); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

// =============================================================================
// Transport
// =============================================================================

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	rreq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return err
	}
	resp, err := c.reads.Do(rreq)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

// decode reads a JSON body into out, or the API error body on failure.
func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var body api.ErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err == nil {
			apiErr.Kind = body.Error.Kind
			apiErr.Message = body.Error.Message
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
