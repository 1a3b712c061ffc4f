// ABOUTME: Tests for the Bridge orchestrator and its two HTTP listeners
// ABOUTME: Runs real servers on ephemeral ports with a fake upstream forms API

package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/formbridge/internal/config"
)

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFormsAPI serves the minimal upstream REST shape the bridge calls.
func fakeFormsAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /form", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

// testConfig creates a minimal config for testing with available ports.
func testConfig(t *testing.T, formsURL string) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Server.HTTPAddr = reservePort(t)
	cfg.Server.InternalAddr = reservePort(t)
	cfg.Forms.BaseURL = formsURL
	cfg.Relay.Endpoint = "http://" + cfg.Server.InternalAddr + "/internal/notify"
	return cfg
}

// reservePort finds an available loopback port.
func reservePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// startBridge builds a Bridge, runs it, and waits for it to answer.
func startBridge(t *testing.T, cfg *config.Config) *Bridge {
	t.Helper()

	b, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() returned unexpected error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("bridge did not shut down in time")
		}
	})

	waitForServer(t, "http://"+cfg.Server.HTTPAddr+"/healthz")
	waitForServer(t, "http://"+cfg.Server.InternalAddr+"/healthz")
	return b
}

// waitForServer polls a URL until it answers or the deadline passes.
func waitForServer(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s did not come up", url)
}

func TestBridgeNew(t *testing.T) {
	upstream := fakeFormsAPI(t)
	cfg := testConfig(t, upstream.URL)

	b, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer func() {
		if err := b.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown() failed: %v", err)
		}
	}()

	if b.streams == nil {
		t.Error("stream registry should not be nil")
	}
	if b.router == nil {
		t.Error("router should not be nil")
	}
	if b.mcpServer == nil {
		t.Error("MCP server should be enabled by default")
	}
	if b.ledger != nil {
		t.Error("ledger should be nil when store.path is empty")
	}
	if got := len(b.tools.List()); got != 6 {
		t.Errorf("registered tools = %d, want 6", got)
	}
}

func TestBridgeRunAndShutdown(t *testing.T) {
	upstream := fakeFormsAPI(t)
	cfg := testConfig(t, upstream.URL)

	b, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Run(ctx)
	}()

	waitForServer(t, "http://"+cfg.Server.HTTPAddr+"/healthz")
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("bridge did not shut down in time")
	}
}

func TestReadiness(t *testing.T) {
	upstream := fakeFormsAPI(t)
	cfg := testConfig(t, upstream.URL)
	startBridge(t, cfg)

	readyURL := "http://" + cfg.Server.HTTPAddr + "/readyz"

	resp, err := http.Get(readyURL)
	if err != nil {
		t.Fatalf("ready request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// With the upstream gone, readiness degrades to 503.
	upstream.Close()
	resp, err = http.Get(readyURL)
	if err != nil {
		t.Fatalf("ready request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("ready status = %d, want %d (upstream down)", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestInternalEndpoints(t *testing.T) {
	upstream := fakeFormsAPI(t)
	cfg := testConfig(t, upstream.URL)
	cfg.Store.Path = filepath.Join(t.TempDir(), "changes.db")
	startBridge(t, cfg)

	internal := "http://" + cfg.Server.InternalAddr

	t.Run("notify accepts a change", func(t *testing.T) {
		body := strings.NewReader(`{"formId":"abc123","changeType":"created"}`)
		resp, err := http.Post(internal+"/internal/notify", "application/json", body)
		if err != nil {
			t.Fatalf("notify request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("notify status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("notify rejects unknown change type", func(t *testing.T) {
		body := strings.NewReader(`{"formId":"abc123","changeType":"exploded"}`)
		resp, err := http.Post(internal+"/internal/notify", "application/json", body)
		if err != nil {
			t.Fatalf("notify request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("notify status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})

	t.Run("stats reports state", func(t *testing.T) {
		resp, err := http.Get(internal + "/internal/stats")
		if err != nil {
			t.Fatalf("stats request failed: %v", err)
		}
		defer resp.Body.Close()

		var stats struct {
			Uptime      string          `json:"uptime"`
			Connections int             `json:"connections"`
			Router      json.RawMessage `json:"router"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			t.Fatalf("failed to decode stats: %v", err)
		}
		if stats.Connections != 0 {
			t.Errorf("connections = %d, want 0", stats.Connections)
		}
		if len(stats.Router) == 0 {
			t.Error("expected router metrics in stats")
		}
	})

	t.Run("changes lists recorded rows", func(t *testing.T) {
		resp, err := http.Get(internal + "/internal/changes?formId=abc123")
		if err != nil {
			t.Fatalf("changes request failed: %v", err)
		}
		defer resp.Body.Close()

		var out struct {
			Count   int `json:"count"`
			Changes []struct {
				FormID string `json:"formId"`
				Type   string `json:"changeType"`
			} `json:"changes"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("failed to decode changes: %v", err)
		}
		if out.Count != 1 {
			t.Fatalf("count = %d, want 1", out.Count)
		}
		if out.Changes[0].FormID != "abc123" || out.Changes[0].Type != "created" {
			t.Errorf("unexpected change row: %+v", out.Changes[0])
		}
	})

	t.Run("changes validates filters", func(t *testing.T) {
		resp, err := http.Get(internal + "/internal/changes?type=bogus")
		if err != nil {
			t.Fatalf("changes request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("changes status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})
}

func TestChangesDisabledWithoutLedger(t *testing.T) {
	upstream := fakeFormsAPI(t)
	cfg := testConfig(t, upstream.URL)
	startBridge(t, cfg)

	resp, err := http.Get("http://" + cfg.Server.InternalAddr + "/internal/changes")
	if err != nil {
		t.Fatalf("changes request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("changes status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestMCPOnPublicListener(t *testing.T) {
	upstream := fakeFormsAPI(t)
	cfg := testConfig(t, upstream.URL)
	startBridge(t, cfg)

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`
	resp, err := http.Post("http://"+cfg.Server.HTTPAddr+"/mcp", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("initialize request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if resp.Header.Get("Mcp-Session-Id") == "" {
		t.Error("expected Mcp-Session-Id header")
	}

	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), `"formbridge"`) {
		t.Errorf("expected server info in response, got %s", data)
	}
}

func TestCORSPreflight(t *testing.T) {
	upstream := fakeFormsAPI(t)
	cfg := testConfig(t, upstream.URL)
	startBridge(t, cfg)

	req, err := http.NewRequest(http.MethodOptions, "http://"+cfg.Server.HTTPAddr+"/mcp", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Headers"), "Mcp-Session-Id") {
		t.Error("expected Mcp-Session-Id in allowed headers")
	}
}

func TestRateLimiting(t *testing.T) {
	upstream := fakeFormsAPI(t)
	cfg := testConfig(t, upstream.URL)
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RPS = 0.1
	cfg.RateLimit.Burst = 3
	startBridge(t, cfg)

	url := "http://" + cfg.Server.HTTPAddr + "/healthz"

	var got429 bool
	for i := 0; i < 10; i++ {
		resp, err := http.Get(url)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			got429 = true
			if resp.Header.Get("Retry-After") == "" {
				t.Error("expected Retry-After header on 429")
			}
			break
		}
	}
	if !got429 {
		t.Error("expected a 429 after exhausting the burst")
	}
}

func TestMCPEndpointURL(t *testing.T) {
	upstream := fakeFormsAPI(t)

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   func(*config.Config) string
	}{
		{
			name:   "derived from http_addr",
			mutate: func(cfg *config.Config) {},
			want: func(cfg *config.Config) string {
				return "http://" + cfg.Server.HTTPAddr + "/mcp"
			},
		},
		{
			name: "public_url wins",
			mutate: func(cfg *config.Config) {
				cfg.Server.PublicURL = "https://forms.example.com"
			},
			want: func(cfg *config.Config) string {
				return "https://forms.example.com/mcp"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, upstream.URL)
			tt.mutate(cfg)

			b, err := New(cfg, testLogger())
			if err != nil {
				t.Fatalf("New() failed: %v", err)
			}
			defer b.Shutdown(context.Background())

			if got := b.MCPEndpoint(); got != tt.want(cfg) {
				t.Errorf("MCPEndpoint() = %q, want %q", got, tt.want(cfg))
			}
		})
	}
}

