// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/flowchat/internal/settings"
)

// =============================================================================
// REQUEST TESTS
// =============================================================================

// TestRun_RequestShape verifies method, path, headers and body.
func TestRun_RequestShape(t *testing.T) {
	var (
		gotMethod string
		gotPath   string
		gotHeader http.Header
		gotBody   map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotHeader = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"answer\":\"hi\"}\n")
	}))
	defer server.Close()

	client := NewClient().WithHTTPClient(server.Client())
	body, err := client.Run(context.Background(), RunRequest{
		BaseURL: server.URL + "/v1/",
		APIKey:  "app-secret",
		Query:   "hello there",
		User:    "client-1",
	})
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "data: {\"answer\":\"hi\"}\n", string(raw))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/v1/workflows/run", gotPath)
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "Bearer app-secret", gotHeader.Get("Authorization"))
	assert.Equal(t, DefaultUserAgent, gotHeader.Get("User-Agent"))
	assert.Equal(t, map[string]any{
		"inputs":        map[string]any{"message": "hello there"},
		"response_mode": "streaming",
		"user":          "client-1",
	}, gotBody)
}

func TestEndpoint(t *testing.T) {
	c := NewClient()
	assert.Equal(t, "https://example.com/v1/workflows/run", c.Endpoint("https://example.com/v1"))
	assert.Equal(t, "https://example.com/v1/workflows/run", c.Endpoint("https://example.com/v1/"))
	assert.Equal(t, settings.DefaultBaseURL+RunPath, c.Endpoint(settings.DefaultBaseURL))
}

func TestEndpoint_DevProxy(t *testing.T) {
	c := NewClient().WithDevProxy("http://localhost:5173/dify")
	assert.Equal(t, "http://localhost:5173/dify/workflows/run", c.Endpoint(settings.DefaultBaseURL))
	assert.Equal(t, "https://self-hosted/v1/workflows/run", c.Endpoint("https://self-hosted/v1"),
		"only the default endpoint is rewritten")
}

// =============================================================================
// STATUS HANDLING TESTS
// =============================================================================

func TestRun_StatusHandling(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantUnauth bool
		wantStatus int
		wantDetail string
		wantText   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"bad key"}`, true, 0, "", ""},
		{"json message", http.StatusInternalServerError, `{"code":"x","message":"workflow crashed"}`,
			false, 500, "workflow crashed", "request failed (500): workflow crashed"},
		{"json without message", http.StatusBadRequest, `{"code":"invalid_param"}`,
			false, 400, `{"code":"invalid_param"}`, `request failed (400): {"code":"invalid_param"}`},
		{"raw body", http.StatusBadGateway, "upstream down",
			false, 502, "upstream down", "request failed (502): upstream down"},
		{"empty body", http.StatusServiceUnavailable, "",
			false, 503, "", "request failed (503)"},
		{"empty message", http.StatusNotFound, `{"message":""}`,
			false, 404, "", "request failed (404)"},
		{"numeric message", http.StatusTeapot, `{"message":42}`,
			false, 418, "42", "request failed (418): 42"},
		{"no content", http.StatusNoContent, "",
			false, 204, "", "request failed (204)"},
		{"success without body", http.StatusOK, "",
			false, 200, "", "request failed (200)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			client := NewClient().WithHTTPClient(server.Client())
			body, err := client.Run(context.Background(), RunRequest{BaseURL: server.URL, APIKey: "k"})
			require.Error(t, err)
			assert.Nil(t, body)

			if tt.wantUnauth {
				assert.ErrorIs(t, err, ErrUnauthorized)
				assert.Equal(t, "unauthorized", err.Error())
				return
			}

			var reqErr *RequestError
			require.True(t, errors.As(err, &reqErr))
			assert.Equal(t, tt.wantStatus, reqErr.Status)
			assert.Equal(t, tt.wantDetail, reqErr.Detail)
			assert.Equal(t, tt.wantText, err.Error())
		})
	}
}

func TestRun_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient().Run(context.Background(), RunRequest{BaseURL: url, APIKey: "k"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	var reqErr *RequestError
	assert.False(t, errors.As(err, &reqErr))
}

func TestRun_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := NewClient().WithHTTPClient(server.Client()).Run(ctx, RunRequest{BaseURL: server.URL, APIKey: "k"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: {}\n")
	}))
	defer server.Close()

	client := NewClient().WithHTTPClient(server.Client()).WithRateLimit(1)
	body, err := client.Run(context.Background(), RunRequest{BaseURL: server.URL, APIKey: "k"})
	require.NoError(t, err)
	body.Close()

	// The second request would wait about a minute; a short deadline gives up
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Run(ctx, RunRequest{BaseURL: server.URL, APIKey: "k"})
	assert.Error(t, err)
}
