// Package client implements the Dagster Cloud GraphQL shim client.
//
// The client speaks raw GraphQL-over-HTTP: a JSON POST carrying query text
// and variables, authenticated with the Dagster-Cloud-Api-Token header. It
// deliberately does not model the schema; callers own their query strings
// and walk the decoded result.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// APITokenHeader authenticates requests against the cloud API.
const APITokenHeader = "Dagster-Cloud-Api-Token"

const maxBodyExcerpt = 1024

// Config configures a Client.
type Config struct {
	// URL is the full GraphQL endpoint, e.g. https://org.dagster.cloud/prod/graphql.
	URL string

	// Headers are sent on every request in addition to Content-Type.
	Headers map[string]string

	// Cookies are attached to every request.
	Cookies map[string]string

	// Timeout bounds a single request. Zero uses DefaultTimeout.
	Timeout time.Duration

	// Retries is the managed-session retry budget. Zero uses DefaultRetries.
	Retries int

	// Proxies maps scheme to proxy URL for the underlying session.
	Proxies map[string]string

	// RequestsPerSecond throttles outbound requests. Zero disables
	// client-side rate limiting.
	RequestsPerSecond float64

	// Session overrides the managed-retry session. Used by tests and by
	// callers that share one session across clients.
	Session *http.Client

	// Logger receives maintenance-wait notices. Nil uses zap.NewNop.
	Logger *zap.Logger
}

// Client executes GraphQL operations against the cloud API.
type Client struct {
	url     string
	headers map[string]string
	cookies map[string]string
	session *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger

	// wait is swapped out in tests to avoid real maintenance waits.
	wait func(ctx context.Context, d time.Duration) error
}

// New creates a Client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("graphql url is required")
	}

	session := cfg.Session
	if session == nil {
		session = NewSession(SessionConfig{
			Retries: cfg.Retries,
			Timeout: cfg.Timeout,
			Proxies: cfg.Proxies,
		})
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		url:     cfg.URL,
		headers: cfg.Headers,
		cookies: cfg.Cookies,
		session: session,
		limiter: limiter,
		logger:  logger,
		wait:    waitInterval,
	}, nil
}

// waitInterval blocks for d or until ctx is canceled.
func waitInterval(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// URL returns the configured GraphQL endpoint.
func (c *Client) URL() string {
	return c.url
}

// Execute runs one GraphQL operation and returns the decoded response
// envelope (the map containing "data").
//
// If the API reports scheduled maintenance, Execute retries at the
// server-suggested interval until the maintenance timeout elapses, then
// returns the MaintenanceError.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any) (map[string]any, error) {
	start := time.Now()
	for {
		result, err := c.executeOnce(ctx, query, variables)
		if err == nil {
			return result, nil
		}

		me, ok := asMaintenance(err)
		if !ok {
			return nil, err
		}
		if time.Since(start) > me.Timeout {
			return nil, err
		}

		c.logger.Warn("Dagster Cloud is under scheduled maintenance, retrying",
			zap.Duration("retry_interval", me.RetryInterval))
		if err := c.wait(ctx, me.RetryInterval); err != nil {
			return nil, err
		}
	}
}

func asMaintenance(err error) (*MaintenanceError, bool) {
	me, ok := err.(*MaintenanceError)
	return me, ok
}

func (c *Client) executeOnce(ctx context.Context, query string, variables map[string]any) (map[string]any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	payload := map[string]any{"query": query}
	if len(variables) > 0 {
		payload["variables"] = variables
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &GraphQLError{Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &GraphQLError{Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range c.cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}

	resp, err := c.session.Do(req)
	if err != nil {
		return nil, &GraphQLError{Message: "post " + c.url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &GraphQLError{Message: "read response", Err: err}
	}

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		result = nil
	}

	_, hasData := result["data"]
	_, hasErrors := result["errors"]
	maintenance, hasMaintenance := result["maintenance"]

	// A response with none of the envelope keys is not a GraphQL result at
	// all; surface it as an HTTP error with the status and body excerpt.
	if !hasData && !hasErrors && !hasMaintenance {
		return nil, &HTTPError{
			Op:         "Execute",
			URL:        c.url,
			StatusCode: resp.StatusCode,
			Body:       excerpt(raw),
		}
	}

	if hasMaintenance {
		return nil, maintenanceError(maintenance)
	}

	if hasErrors {
		return nil, &GraphQLError{Message: fmt.Sprintf("error in GraphQL response: %v", result["errors"])}
	}

	return result, nil
}

func maintenanceError(v any) *MaintenanceError {
	me := &MaintenanceError{
		Message:       "maintenance in progress",
		Timeout:       0,
		RetryInterval: 30 * time.Second,
	}
	info, ok := v.(map[string]any)
	if !ok {
		return me
	}
	if msg, ok := info["message"].(string); ok && msg != "" {
		me.Message = msg
	}
	if t, ok := info["timeout"].(float64); ok {
		me.Timeout = time.Duration(t * float64(time.Second))
	}
	if ri, ok := info["retry_interval"].(float64); ok && ri > 0 {
		me.RetryInterval = time.Duration(ri * float64(time.Second))
	}
	return me
}

func excerpt(raw []byte) string {
	if len(raw) > maxBodyExcerpt {
		raw = raw[:maxBodyExcerpt]
	}
	return string(bytes.TrimSpace(raw))
}
