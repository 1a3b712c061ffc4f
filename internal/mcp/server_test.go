// ABOUTME: Tests for the MCP HTTP server covering sessions, auth, and tool dispatch
// ABOUTME: Includes an end-to-end SSE exercise over a live httptest server

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/2389/formbridge/internal/auth"
	"github.com/2389/formbridge/internal/stream"
	"github.com/2389/formbridge/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestTools creates a registry with an echo tool and a failing tool.
func setupTestTools(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()

	err := reg.Register(&tools.Tool{
		Definition: tools.Definition{
			Name:        "echo",
			Description: "Returns its input unchanged",
			InputSchema: json.RawMessage(`{"type":"object"}`),
		},
		Handler: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return input, nil
		},
	})
	if err != nil {
		t.Fatalf("failed to register echo tool: %v", err)
	}

	err = reg.Register(&tools.Tool{
		Definition: tools.Definition{
			Name:        "explode",
			Description: "Always fails",
			InputSchema: json.RawMessage(`{"type":"object"}`),
		},
		Handler: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("tool blew up")
		},
	})
	if err != nil {
		t.Fatalf("failed to register explode tool: %v", err)
	}

	return reg
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Tools == nil {
		cfg.Tools = setupTestTools(t)
	}
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(server.Close)
	return server
}

// rpcEnvelope mirrors the wire shape of a JSON-RPC response for decoding.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func postRPC(t *testing.T, mux *http.ServeMux, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, body io.Reader) rpcEnvelope {
	t.Helper()
	var env rpcEnvelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return env
}

// initSession runs the initialize handshake and returns the session id.
func initSession(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-11-25"}}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("initialize returned status %d: %s", rr.Code, rr.Body.String())
	}
	sessionID := rr.Header().Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("initialize did not set Mcp-Session-Id")
	}
	return sessionID
}

func TestInitialize(t *testing.T) {
	t.Run("creates session and returns server info", func(t *testing.T) {
		server := newTestServer(t, Config{})
		mux := http.NewServeMux()
		server.RegisterRoutes(mux)

		rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-11-25","clientInfo":{"name":"test-client","version":"0.1"}}}`, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if rr.Header().Get("Mcp-Session-Id") == "" {
			t.Error("expected Mcp-Session-Id header")
		}

		env := decodeEnvelope(t, rr.Body)
		if env.Error != nil {
			t.Fatalf("unexpected error: %+v", env.Error)
		}

		var result struct {
			ProtocolVersion string `json:"protocolVersion"`
			ServerInfo      struct {
				Name string `json:"name"`
			} `json:"serverInfo"`
			Capabilities map[string]json.RawMessage `json:"capabilities"`
		}
		if err := json.Unmarshal(env.Result, &result); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}
		if result.ProtocolVersion != "2025-11-25" {
			t.Errorf("expected protocol version 2025-11-25, got %q", result.ProtocolVersion)
		}
		if result.ServerInfo.Name != "formbridge" {
			t.Errorf("expected server name formbridge, got %q", result.ServerInfo.Name)
		}
		if _, ok := result.Capabilities["tools"]; !ok {
			t.Error("expected tools capability")
		}
	})

	t.Run("echoes supported client protocol version", func(t *testing.T) {
		server := newTestServer(t, Config{})
		mux := http.NewServeMux()
		server.RegisterRoutes(mux)

		rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}`, nil)
		env := decodeEnvelope(t, rr.Body)

		var result struct {
			ProtocolVersion string `json:"protocolVersion"`
		}
		if err := json.Unmarshal(env.Result, &result); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}
		if result.ProtocolVersion != "2025-03-26" {
			t.Errorf("expected echoed version 2025-03-26, got %q", result.ProtocolVersion)
		}
	})

	t.Run("offers latest version to unknown clients", func(t *testing.T) {
		server := newTestServer(t, Config{})
		mux := http.NewServeMux()
		server.RegisterRoutes(mux)

		rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"1999-01-01"}}`, nil)
		env := decodeEnvelope(t, rr.Body)

		var result struct {
			ProtocolVersion string `json:"protocolVersion"`
		}
		if err := json.Unmarshal(env.Result, &result); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}
		if result.ProtocolVersion != latestProtocolVersion {
			t.Errorf("expected %s, got %q", latestProtocolVersion, result.ProtocolVersion)
		}
	})
}

func TestSessionEnforcement(t *testing.T) {
	server := newTestServer(t, Config{})
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	t.Run("missing session header", func(t *testing.T) {
		rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, map[string]string{
			"Mcp-Session-Id": "not-a-session",
		})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("valid session", func(t *testing.T) {
		sessionID := initSession(t, mux)
		rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, map[string]string{
			"Mcp-Session-Id": sessionID,
		})
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("unsupported protocol version header", func(t *testing.T) {
		sessionID := initSession(t, mux)
		rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, map[string]string{
			"Mcp-Session-Id":       sessionID,
			"Mcp-Protocol-Version": "1999-01-01",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestToolsList(t *testing.T) {
	server := newTestServer(t, Config{})
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	sessionID := initSession(t, mux)

	rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`, map[string]string{
		"Mcp-Session-Id": sessionID,
	})
	env := decodeEnvelope(t, rr.Body)
	if env.Error != nil {
		t.Fatalf("unexpected error: %+v", env.Error)
	}

	var result MCPListToolsResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if len(result.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(result.Tools))
	}
	if result.Tools[0].Name != "echo" {
		t.Errorf("expected first tool echo, got %q", result.Tools[0].Name)
	}
	if len(result.Tools[0].InputSchema) == 0 {
		t.Error("expected input schema to be present")
	}
}

func TestToolsCall(t *testing.T) {
	server := newTestServer(t, Config{})
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	sessionID := initSession(t, mux)
	headers := map[string]string{"Mcp-Session-Id": sessionID}

	t.Run("success", func(t *testing.T) {
		rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"echo","arguments":{"hello":"world"}}}`, headers)
		env := decodeEnvelope(t, rr.Body)
		if env.Error != nil {
			t.Fatalf("unexpected error: %+v", env.Error)
		}

		var result MCPCallToolResult
		if err := json.Unmarshal(env.Result, &result); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}
		if result.IsError {
			t.Error("expected isError false")
		}
		if len(result.Content) != 1 || result.Content[0].Type != "text" {
			t.Fatalf("expected one text content item, got %+v", result.Content)
		}
		if !strings.Contains(result.Content[0].Text, `"hello"`) {
			t.Errorf("expected echoed arguments, got %q", result.Content[0].Text)
		}
	})

	t.Run("tool failure becomes isError result", func(t *testing.T) {
		rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"explode"}}`, headers)
		env := decodeEnvelope(t, rr.Body)
		if env.Error != nil {
			t.Fatalf("tool failure should not be a protocol error: %+v", env.Error)
		}

		var result MCPCallToolResult
		if err := json.Unmarshal(env.Result, &result); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}
		if !result.IsError {
			t.Error("expected isError true")
		}
		if !strings.Contains(result.Content[0].Text, "tool blew up") {
			t.Errorf("expected failure text, got %q", result.Content[0].Text)
		}
	})

	t.Run("unknown tool is invalid params", func(t *testing.T) {
		rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"missing"}}`, headers)
		env := decodeEnvelope(t, rr.Body)
		if env.Error == nil {
			t.Fatal("expected error")
		}
		if env.Error.Code != -32602 {
			t.Errorf("expected code -32602, got %d", env.Error.Code)
		}
	})

	t.Run("missing tool name is invalid params", func(t *testing.T) {
		rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{}}`, headers)
		env := decodeEnvelope(t, rr.Body)
		if env.Error == nil || env.Error.Code != -32602 {
			t.Fatalf("expected code -32602, got %+v", env.Error)
		}
	})
}

func TestProtocolErrors(t *testing.T) {
	server := newTestServer(t, Config{})
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	t.Run("unknown method", func(t *testing.T) {
		sessionID := initSession(t, mux)
		rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":8,"method":"no/such/method"}`, map[string]string{
			"Mcp-Session-Id": sessionID,
		})
		env := decodeEnvelope(t, rr.Body)
		if env.Error == nil {
			t.Fatal("expected error")
		}
		if env.Error.Code != -32601 {
			t.Errorf("expected code -32601, got %d", env.Error.Code)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		rr := postRPC(t, mux, `{not json`, nil)
		env := decodeEnvelope(t, rr.Body)
		if env.Error == nil || env.Error.Code != -32700 {
			t.Fatalf("expected code -32700, got %+v", env.Error)
		}
	})

	t.Run("body too large", func(t *testing.T) {
		body := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"pad":%q}}`,
			strings.Repeat("x", MaxRequestBodySize))
		rr := postRPC(t, mux, body, nil)
		env := decodeEnvelope(t, rr.Body)
		if env.Error == nil || env.Error.Code != -32600 {
			t.Fatalf("expected code -32600, got %+v", env.Error)
		}
	})

	t.Run("wrong jsonrpc version", func(t *testing.T) {
		sessionID := initSession(t, mux)
		rr := postRPC(t, mux, `{"jsonrpc":"1.0","id":9,"method":"ping"}`, map[string]string{
			"Mcp-Session-Id": sessionID,
		})
		env := decodeEnvelope(t, rr.Body)
		if env.Error == nil || env.Error.Code != -32600 {
			t.Fatalf("expected code -32600, got %+v", env.Error)
		}
	})
}

func TestNotifications(t *testing.T) {
	server := newTestServer(t, Config{})
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	sessionID := initSession(t, mux)

	rr := postRPC(t, mux, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, map[string]string{
		"Mcp-Session-Id": sessionID,
	})
	if rr.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rr.Body.String())
	}
}

func TestAuth(t *testing.T) {
	verifier := auth.NewStaticVerifier([]string{"sekrit"})

	t.Run("required auth rejects missing token", func(t *testing.T) {
		server := newTestServer(t, Config{Verifier: verifier, RequireAuth: true})
		mux := http.NewServeMux()
		server.RegisterRoutes(mux)

		rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, nil)
		env := decodeEnvelope(t, rr.Body)
		if env.Error == nil || env.Error.Message != "authentication required" {
			t.Fatalf("expected authentication required, got %+v", env.Error)
		}
	})

	t.Run("invalid token rejected even when auth optional", func(t *testing.T) {
		server := newTestServer(t, Config{Verifier: verifier, RequireAuth: false})
		mux := http.NewServeMux()
		server.RegisterRoutes(mux)

		rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, map[string]string{
			"Authorization": "Bearer wrong",
		})
		env := decodeEnvelope(t, rr.Body)
		if env.Error == nil || env.Error.Message != "invalid or expired token" {
			t.Fatalf("expected invalid token error, got %+v", env.Error)
		}
	})

	t.Run("valid token creates session", func(t *testing.T) {
		server := newTestServer(t, Config{Verifier: verifier, RequireAuth: true})
		mux := http.NewServeMux()
		server.RegisterRoutes(mux)

		rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, map[string]string{
			"Authorization": "Bearer sekrit",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if rr.Header().Get("Mcp-Session-Id") == "" {
			t.Error("expected session header")
		}
	})

	t.Run("token accepted via query parameter", func(t *testing.T) {
		server := newTestServer(t, Config{Verifier: verifier, RequireAuth: true})
		mux := http.NewServeMux()
		server.RegisterRoutes(mux)

		req := httptest.NewRequest(http.MethodPost, "/mcp?token=sekrit",
			strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestDeleteSession(t *testing.T) {
	verifier := auth.NewStaticVerifier([]string{"sekrit"})
	server := newTestServer(t, Config{Verifier: verifier, RequireAuth: false})
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	deleteSession := func(sessionID, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
		if sessionID != "" {
			req.Header.Set("Mcp-Session-Id", sessionID)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		return rr
	}

	t.Run("missing session header", func(t *testing.T) {
		if rr := deleteSession("", ""); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		if rr := deleteSession("not-a-session", ""); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("wrong owner is forbidden", func(t *testing.T) {
		rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, map[string]string{
			"Authorization": "Bearer sekrit",
		})
		sessionID := rr.Header().Get("Mcp-Session-Id")

		if rr := deleteSession(sessionID, "different"); rr.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", rr.Code)
		}
	})

	t.Run("owner can terminate", func(t *testing.T) {
		rr := postRPC(t, mux, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, map[string]string{
			"Authorization": "Bearer sekrit",
		})
		sessionID := rr.Header().Get("Mcp-Session-Id")

		if rr := deleteSession(sessionID, "sekrit"); rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if _, ok := server.sessions.get(sessionID); ok {
			t.Error("session should be gone")
		}
	})
}

// readSSEEvent reads one SSE frame, skipping comment keep-alives.
func readSSEEvent(t *testing.T, br *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read SSE stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case strings.HasPrefix(line, ":"):
			// comment keep-alive
		case line == "":
			if event != "" || data != "" {
				return event, data
			}
		}
	}
}

func TestSSETransport(t *testing.T) {
	streams := stream.NewRegistry(10, time.Minute, testLogger())
	t.Cleanup(streams.Cleanup)

	server := newTestServer(t, Config{Streams: streams})
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	resp, err := ts.Client().Get(ts.URL + "/mcp/sse")
	if err != nil {
		t.Fatalf("failed to open SSE stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	br := bufio.NewReader(resp.Body)

	event, data := readSSEEvent(t, br)
	if event != "connection" {
		t.Fatalf("expected connection event, got %q", event)
	}
	var hello struct {
		ConnectionID string `json:"connectionId"`
	}
	if err := json.Unmarshal([]byte(data), &hello); err != nil {
		t.Fatalf("failed to decode connection event: %v", err)
	}
	if hello.ConnectionID == "" {
		t.Fatal("expected a connection id")
	}

	t.Run("message endpoint pushes response over stream", func(t *testing.T) {
		msgResp, err := ts.Client().Post(
			ts.URL+"/mcp/message?connection="+hello.ConnectionID,
			"application/json",
			strings.NewReader(`{"jsonrpc":"2.0","id":42,"method":"ping"}`),
		)
		if err != nil {
			t.Fatalf("failed to post message: %v", err)
		}
		defer msgResp.Body.Close()
		if msgResp.StatusCode != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d", msgResp.StatusCode)
		}

		event, data := readSSEEvent(t, br)
		if event != "message" {
			t.Fatalf("expected message event, got %q", event)
		}
		env := decodeEnvelope(t, strings.NewReader(data))
		if string(env.ID) != "42" {
			t.Errorf("expected id 42, got %s", env.ID)
		}
		if env.Error != nil {
			t.Errorf("unexpected error: %+v", env.Error)
		}
	})

	t.Run("unknown connection is rejected", func(t *testing.T) {
		msgResp, err := ts.Client().Post(
			ts.URL+"/mcp/message?connection=nope",
			"application/json",
			strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`),
		)
		if err != nil {
			t.Fatalf("failed to post message: %v", err)
		}
		defer msgResp.Body.Close()
		if msgResp.StatusCode != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", msgResp.StatusCode)
		}
	})

	t.Run("missing connection id is rejected", func(t *testing.T) {
		msgResp, err := ts.Client().Post(
			ts.URL+"/mcp/message",
			"application/json",
			strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`),
		)
		if err != nil {
			t.Fatalf("failed to post message: %v", err)
		}
		defer msgResp.Body.Close()
		if msgResp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", msgResp.StatusCode)
		}
	})
}

func TestServeStdio(t *testing.T) {
	t.Run("request response loop", func(t *testing.T) {
		server := newTestServer(t, Config{})

		in := strings.NewReader(strings.Join([]string{
			`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-11-25"}}`,
			`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
			`{"jsonrpc":"2.0","id":3,"method":"no/such/method"}`,
		}, "\n") + "\n")
		var out bytes.Buffer

		if err := ServeStdio(t.Context(), server, in, &out); err != nil {
			t.Fatalf("ServeStdio failed: %v", err)
		}

		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		if len(lines) != 3 {
			t.Fatalf("expected 3 response lines (notification is silent), got %d: %v", len(lines), lines)
		}

		first := decodeEnvelope(t, strings.NewReader(lines[0]))
		if string(first.ID) != "1" || first.Error != nil {
			t.Errorf("unexpected initialize response: %s", lines[0])
		}
		second := decodeEnvelope(t, strings.NewReader(lines[1]))
		if string(second.ID) != "2" || second.Error != nil {
			t.Errorf("unexpected ping response: %s", lines[1])
		}
		third := decodeEnvelope(t, strings.NewReader(lines[2]))
		if third.Error == nil || third.Error.Code != -32601 {
			t.Errorf("expected -32601 for unknown method, got %s", lines[2])
		}
	})

	t.Run("parse errors are reported per line", func(t *testing.T) {
		server := newTestServer(t, Config{})

		in := strings.NewReader("{broken\n" + `{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")
		var out bytes.Buffer

		if err := ServeStdio(t.Context(), server, in, &out); err != nil {
			t.Fatalf("ServeStdio failed: %v", err)
		}

		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		if len(lines) != 2 {
			t.Fatalf("expected 2 response lines, got %d", len(lines))
		}
		first := decodeEnvelope(t, strings.NewReader(lines[0]))
		if first.Error == nil || first.Error.Code != -32700 {
			t.Errorf("expected -32700, got %s", lines[0])
		}
	})

	t.Run("blank lines are skipped", func(t *testing.T) {
		server := newTestServer(t, Config{})

		in := strings.NewReader("\n\n" + `{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n\n")
		var out bytes.Buffer

		if err := ServeStdio(t.Context(), server, in, &out); err != nil {
			t.Fatalf("ServeStdio failed: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		if len(lines) != 1 {
			t.Fatalf("expected 1 response line, got %d", len(lines))
		}
	})
}

func TestSessionStore(t *testing.T) {
	t.Run("touch refreshes idle clock", func(t *testing.T) {
		store := newSessionStore(50 * time.Millisecond)
		sess := store.create(latestProtocolVersion, "client", "tok")

		time.Sleep(30 * time.Millisecond)
		if _, ok := store.touch(sess.id); !ok {
			t.Fatal("session should still be alive")
		}
		time.Sleep(30 * time.Millisecond)
		if _, ok := store.touch(sess.id); !ok {
			t.Fatal("touch should have extended the session")
		}
	})

	t.Run("expired sessions are gone on access", func(t *testing.T) {
		store := newSessionStore(10 * time.Millisecond)
		sess := store.create(latestProtocolVersion, "client", "tok")

		time.Sleep(25 * time.Millisecond)
		if _, ok := store.touch(sess.id); ok {
			t.Error("expected session to be expired")
		}
		if store.count() != 0 {
			t.Errorf("expected store to be empty, got %d", store.count())
		}
	})

	t.Run("prune removes only expired sessions", func(t *testing.T) {
		store := newSessionStore(40 * time.Millisecond)
		old := store.create(latestProtocolVersion, "old", "")
		time.Sleep(60 * time.Millisecond)
		fresh := store.create(latestProtocolVersion, "fresh", "")

		if n := store.prune(time.Now()); n != 1 {
			t.Errorf("expected 1 pruned, got %d", n)
		}
		if _, ok := store.get(old.id); ok {
			t.Error("old session should be pruned")
		}
		if _, ok := store.get(fresh.id); !ok {
			t.Error("fresh session should survive")
		}
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		store := newSessionStore(0)
		sess := store.create(latestProtocolVersion, "client", "")
		time.Sleep(10 * time.Millisecond)
		if n := store.prune(time.Now()); n != 0 {
			t.Errorf("expected no pruning, got %d", n)
		}
		if _, ok := store.get(sess.id); !ok {
			t.Error("session should persist")
		}
	})
}
