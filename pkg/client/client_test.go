package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := New(Config{
		URL:     serverURL,
		Headers: map[string]string{APITokenHeader: "agent:test:token"},
		Session: &http.Client{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestExecute_DecodesData(t *testing.T) {
	var gotToken, gotContentType string
	var gotPayload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get(APITokenHeader)
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_, _ = w.Write([]byte(`{"data": {"deployments": [{"deploymentName": "prod"}]}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	result, err := c.Execute(context.Background(), "query { deployments { deploymentName } }",
		map[string]any{"limit": 10})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if gotToken != "agent:test:token" {
		t.Fatalf("token header not sent: %q", gotToken)
	}
	if gotContentType != "application/json" {
		t.Fatalf("unexpected content type %q", gotContentType)
	}
	if gotPayload["query"] == "" {
		t.Fatal("query text not posted")
	}
	if vars, ok := gotPayload["variables"].(map[string]any); !ok || vars["limit"] != float64(10) {
		t.Fatalf("variables not posted: %+v", gotPayload["variables"])
	}
	if _, ok := result["data"]; !ok {
		t.Fatalf("data envelope missing: %+v", result)
	}
}

func TestExecute_GraphQLErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors": [{"message": "unknown field"}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Execute(context.Background(), "query { nope }", nil)

	var ge *GraphQLError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GraphQLError, got %v", err)
	}
	if !strings.Contains(ge.Error(), "unknown field") {
		t.Fatalf("server message lost: %v", ge)
	}
}

func TestExecute_NonEnvelopeResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "<html>bad gateway</html>", http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Execute(context.Background(), "query { deployments }", nil)

	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if he.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected status %d", he.StatusCode)
	}
	if !strings.Contains(he.Body, "bad gateway") {
		t.Fatalf("body excerpt missing: %q", he.Body)
	}
}

func TestExecute_RetriesThroughMaintenance(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			_, _ = w.Write([]byte(`{"maintenance": {"message": "migrating", "timeout": 300, "retry_interval": 0.01}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data": {"ok": true}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	var slept []time.Duration
	c.wait = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	result, err := c.Execute(context.Background(), "query { ok }", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, ok := result["data"]; !ok {
		t.Fatalf("expected data after maintenance cleared: %+v", result)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if len(slept) != 2 || slept[0] != 10*time.Millisecond {
		t.Fatalf("expected two 10ms waits, got %v", slept)
	}
}

func TestExecute_MaintenanceTimeoutElapsed(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"maintenance": {"message": "migrating", "timeout": 0, "retry_interval": 0.01}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	c.wait = func(context.Context, time.Duration) error { return nil }

	_, err := c.Execute(context.Background(), "query { ok }", nil)

	var me *MaintenanceError
	if !errors.As(err, &me) {
		t.Fatalf("expected MaintenanceError, got %v", err)
	}
	if me.Message != "migrating" {
		t.Fatalf("server message lost: %q", me.Message)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt with zero timeout, got %d", calls.Load())
	}
}

func TestExecute_SendsCookies(t *testing.T) {
	var gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie("session_affinity"); err == nil {
			gotCookie = ck.Value
		}
		_, _ = w.Write([]byte(`{"data": {"ok": true}}`))
	}))
	defer server.Close()

	c, err := New(Config{
		URL:     server.URL,
		Cookies: map[string]string{"session_affinity": "node-7"},
		Session: &http.Client{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.Execute(context.Background(), "query { ok }", nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotCookie != "node-7" {
		t.Fatalf("cookie not sent: %q", gotCookie)
	}
}

func TestExecute_CancelInterruptsMaintenanceWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"maintenance": {"message": "migrating", "timeout": 300, "retry_interval": 30}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Execute(ctx, "query { ok }", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("wait not interrupted by cancellation, took %v", elapsed)
	}
}

func TestMaintenanceError_Defaults(t *testing.T) {
	me := maintenanceError(map[string]any{})
	if me.RetryInterval != 30*time.Second {
		t.Fatalf("default retry interval: %v", me.RetryInterval)
	}
	if me.Message == "" {
		t.Fatal("default message must be set")
	}

	me = maintenanceError(map[string]any{"timeout": 120.0, "retry_interval": 5.0})
	if me.Timeout != 2*time.Minute || me.RetryInterval != 5*time.Second {
		t.Fatalf("parsed durations wrong: timeout=%v interval=%v", me.Timeout, me.RetryInterval)
	}
}
