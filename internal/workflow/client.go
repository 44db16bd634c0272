// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workflow

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/jeranaias/flowchat/internal/settings"
	"github.com/jeranaias/flowchat/internal/util"
)

const (
	// RunPath is appended to the base URL.
	RunPath = "/workflows/run"

	// ResponseModeStreaming asks the server for an event stream.
	ResponseModeStreaming = "streaming"

	// DefaultUserAgent identifies flowchat to the server.
	DefaultUserAgent = "flowchat/0.1.0"

	// MaxErrorBodySize caps how much of an error response is read.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxErrorBodySize = 1 << 20
)

// sharedStreamingClient is used for all run requests (no timeout, context-controlled).
// PERFORMANCE: Connection pooling across sends.
// SECURITY: TLS 1.2+ enforced
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrUnauthorized is returned when the server rejects the credential.
var ErrUnauthorized = errors.New("unauthorized")

// RequestError is a non-2xx response other than 401, or a 2xx response
// without a body.
type RequestError struct {
	Status int
	Detail string // server "message" field, or the raw body
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("request failed (%d): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("request failed (%d)", e.Status)
}

// =============================================================================
// CLIENT
// =============================================================================

// RunRequest is one workflow run.
type RunRequest struct {
	BaseURL string
	APIKey  string
	Query   string
	User    string // stable client identifier
}

// runBody is the JSON request body.
type runBody struct {
	Inputs       runInputs `json:"inputs"`
	ResponseMode string    `json:"response_mode"`
	User         string    `json:"user"`
}

type runInputs struct {
	Message string `json:"message"`
}

// Client posts workflow run requests.
type Client struct {
	httpClient  *http.Client
	userAgent   string
	limiter     *rate.Limiter
	devProxyURL string
	logger      *slog.Logger
}

// NewClient returns a Client using the shared streaming HTTP client.
func NewClient() *Client {
	return &Client{
		httpClient: sharedStreamingClient,
		userAgent:  DefaultUserAgent,
		logger:     slog.Default(),
	}
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithUserAgent sets the User-Agent header.
func (c *Client) WithUserAgent(ua string) *Client {
	if ua != "" {
		c.userAgent = ua
	}
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithRateLimit allows at most perMinute run requests per minute.
// Zero or a negative value disables throttling.
func (c *Client) WithRateLimit(perMinute int) *Client {
	if perMinute <= 0 {
		c.limiter = nil
		return c
	}
	c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	return c
}

// WithDevProxy routes requests aimed at settings.DefaultBaseURL to proxyURL
// instead, for local development against a forwarding proxy. Other base
// URLs are left alone. An empty proxyURL disables the rewrite.
func (c *Client) WithDevProxy(proxyURL string) *Client {
	c.devProxyURL = strings.TrimSpace(proxyURL)
	return c
}

// Endpoint returns the run URL for baseURL, applying the dev rewrite and
// dropping one trailing slash.
func (c *Client) Endpoint(baseURL string) string {
	resolved := baseURL
	if c.devProxyURL != "" && baseURL == settings.DefaultBaseURL {
		resolved = c.devProxyURL
	}
	return strings.TrimSuffix(resolved, "/") + RunPath
}

// Run posts req and returns the response body of a 2xx response.
// The caller must close the body.
//
// A 401 returns ErrUnauthorized. Other non-2xx statuses, and a 2xx with no
// body, return a *RequestError.
// Every other error is a transport failure or ctx being done.
func (c *Client) Run(ctx context.Context, req RunRequest) (io.ReadCloser, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("throttled: %w", err)
		}
	}

	bodyBytes, err := json.Marshal(runBody{
		Inputs:       runInputs{Message: req.Query},
		ResponseMode: ResponseModeStreaming,
		User:         req.User,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.Endpoint(req.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, req.APIKey)

	c.logger.Debug("workflow request",
		"method", httpReq.Method,
		"host", httpReq.URL.Host,
		"path", httpReq.URL.Path,
		"key", util.Fingerprint(req.APIKey))

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.logger.Debug("workflow response", "status", resp.StatusCode, "duration", time.Since(start))

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if success && resp.Body != http.NoBody {
		return resp.Body, nil
	}
	defer resp.Body.Close()

	// A success status with nothing to stream is a failed run
	if success {
		return nil, &RequestError{Status: resp.StatusCode}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	return nil, &RequestError{Status: resp.StatusCode, Detail: errorDetail(resp.Body)}
}

// setHeaders sets the required headers for a run request.
func (c *Client) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", c.userAgent)
}

// errorDetail reads an error body and returns its "message" field when the
// body is JSON carrying one, else the raw text. A body that cannot be read
// yields "".
func errorDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, MaxErrorBodySize))
	if err != nil || len(raw) == 0 {
		return ""
	}
	if gjson.ValidBytes(raw) {
		if msg := gjson.GetBytes(raw, "message"); msg.Exists() && msg.Type != gjson.Null {
			if msg.Type == gjson.String {
				return msg.Str
			}
			return msg.Raw
		}
	}
	return string(raw)
}
