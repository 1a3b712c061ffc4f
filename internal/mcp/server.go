// ABOUTME: MCP-compatible HTTP server for agent clients like Claude Code
// ABOUTME: Serves POST-based JSON-RPC plus an SSE channel for pushed responses

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/2389/formbridge/internal/auth"
	"github.com/2389/formbridge/internal/rpc"
	"github.com/2389/formbridge/internal/stream"
	"github.com/2389/formbridge/internal/tools"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// sessionSweepInterval is how often expired sessions are pruned.
const sessionSweepInterval = time.Minute

// errInvalidToken is returned when a token is provided but invalid or
// expired. Distinct from "no auth": a presented token that fails
// verification always rejects, even when auth is optional.
var errInvalidToken = errors.New("invalid or expired token")

// Config holds configuration for the MCP server.
type Config struct {
	Tools       *tools.Registry
	Streams     *stream.Registry // optional; nil disables the SSE channel
	Verifier    auth.TokenVerifier
	RequireAuth bool
	SessionTTL  time.Duration
	Logger      *slog.Logger
}

// Server exposes the tool registry over MCP transports: Streamable HTTP
// (POST /mcp), an SSE channel pair (GET /mcp/sse + POST /mcp/message),
// and newline-delimited stdio for spawned processes.
type Server struct {
	tools       *tools.Registry
	streams     *stream.Registry
	dispatcher  *rpc.Dispatcher
	verifier    auth.TokenVerifier
	requireAuth bool
	logger      *slog.Logger
	sessions    *sessionStore

	done      chan struct{}
	closeOnce sync.Once
}

// NewServer creates an MCP server and populates its method table.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Tools == nil {
		return nil, errors.New("tool registry is required")
	}
	if cfg.RequireAuth && cfg.Verifier == nil {
		return nil, errors.New("token verifier required when auth is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp")

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	// A typed nil registry must not reach the dispatcher as a non-nil
	// interface value.
	var sender rpc.StreamSender
	if cfg.Streams != nil {
		sender = cfg.Streams
	}

	s := &Server{
		tools:       cfg.Tools,
		streams:     cfg.Streams,
		dispatcher:  rpc.NewDispatcher(sender, logger),
		verifier:    cfg.Verifier,
		requireAuth: cfg.RequireAuth,
		logger:      logger,
		sessions:    newSessionStore(ttl),
		done:        make(chan struct{}),
	}
	if err := s.registerMethods(); err != nil {
		return nil, err
	}

	go s.sessionSweepLoop()
	return s, nil
}

// Close stops the session sweep loop. Open HTTP requests are unaffected.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// RegisterRoutes registers the MCP endpoints on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /mcp", s.handlePost)
	mux.HandleFunc("DELETE /mcp", s.handleDelete)
	mux.HandleFunc("GET /mcp/sse", s.handleSSE)
	mux.HandleFunc("POST /mcp/message", s.handleMessage)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.writeResponse(w, rpc.ErrorResponse(nil, rpc.ParseError, "failed to read request body"))
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.writeResponse(w, rpc.ErrorResponse(nil, rpc.InvalidRequest, "request body too large"))
		return
	}

	req, errResp := rpc.DecodeRequest(body)
	if errResp != nil {
		s.writeResponse(w, errResp)
		return
	}
	if req.JSONRPC != "2.0" {
		s.writeResponse(w, rpc.ErrorResponse(req.ID, rpc.InvalidRequest, "invalid JSON-RPC version"))
		return
	}

	isInitialize := req.Method == "initialize"

	// Validate protocol version header (not required on initialize).
	if proto := r.Header.Get("Mcp-Protocol-Version"); proto != "" && !isInitialize && !supportedProtocolVersions[proto] {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}

	if isInitialize {
		clientID, authErr := s.authenticate(r)
		if authErr != nil {
			if errors.Is(authErr, errInvalidToken) {
				s.writeResponse(w, rpc.ErrorResponse(req.ID, rpc.InvalidRequest, "invalid or expired token"))
			} else {
				s.writeResponse(w, rpc.ErrorResponse(req.ID, rpc.InvalidRequest, "authentication required"))
			}
			return
		}

		sess := s.sessions.create(latestProtocolVersion, clientID, ownerToken(r))
		w.Header().Set("Mcp-Session-Id", sess.id)
		s.logger.Info("MCP session created",
			"session_id", sess.id,
			"client_id", clientID,
		)
	} else {
		sessionID := r.Header.Get("Mcp-Session-Id")
		if sessionID == "" {
			http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		if _, ok := s.sessions.touch(sessionID); !ok {
			// Session expired or invalid: client must re-initialize
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
	}

	s.logger.Debug("MCP request",
		"method", req.Method,
		"is_notification", req.IsNotification(),
	)

	// Notifications are accepted with HTTP 202 and no body.
	if req.IsNotification() {
		s.dispatcher.HandleRequestSync(r.Context(), req)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	s.writeResponse(w, s.dispatcher.HandleRequestSync(r.Context(), req))
}

// handleDelete terminates a session. The caller must carry the same auth
// the session was created with.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.get(sessionID)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	if sess.ownerToken != "" && ownerToken(r) != sess.ownerToken {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	s.sessions.delete(sessionID)
	s.logger.Info("MCP session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handleSSE opens the server-to-client event stream. The client learns
// its connection id from the initial "connection" event and uses it on
// POST /mcp/message.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if s.streams == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if _, err := s.authenticate(r); err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	conn, err := s.streams.Add(w, r)
	if err != nil {
		switch {
		case errors.Is(err, stream.ErrRegistryFull):
			http.Error(w, "Service Unavailable: connection limit reached", http.StatusServiceUnavailable)
		case errors.Is(err, stream.ErrStreamingUnsupported):
			http.Error(w, "Internal Server Error: streaming unsupported", http.StatusInternalServerError)
		default:
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		}
		return
	}
	defer s.streams.Remove(conn.ID)

	if err := conn.Run(r.Context()); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("stream closed", "connection_id", conn.ID, "error", err)
	}
}

// handleMessage accepts a JSON-RPC message for an open SSE connection.
// The request is acknowledged with 202 and the response, if any, is
// pushed over the stream.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if s.streams == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	connID := r.URL.Query().Get("connection")
	if connID == "" {
		http.Error(w, "Bad Request: missing connection id", http.StatusBadRequest)
		return
	}
	if !s.streams.Has(connID) {
		http.Error(w, "Not Found: unknown connection", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.writeResponse(w, rpc.ErrorResponse(nil, rpc.ParseError, "failed to read request body"))
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.writeResponse(w, rpc.ErrorResponse(nil, rpc.InvalidRequest, "request body too large"))
		return
	}

	req, errResp := rpc.DecodeRequest(body)
	if errResp != nil {
		s.writeResponse(w, errResp)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// The dispatch must outlive this handler; the response goes over the
	// SSE connection, not this ResponseWriter.
	go s.dispatcher.HandleRequest(context.WithoutCancel(r.Context()), connID, req)
}

// authenticate verifies the request's token. The returned client id is
// empty when auth is optional and no token was presented.
func (s *Server) authenticate(r *http.Request) (string, error) {
	token := ownerToken(r)
	if token == "" {
		if s.requireAuth {
			return "", errors.New("authentication required")
		}
		return "", nil
	}
	if s.verifier == nil {
		if s.requireAuth {
			return "", errors.New("authentication required")
		}
		return "", nil
	}

	clientID, err := s.verifier.Verify(token)
	if err != nil {
		return "", errInvalidToken
	}
	return clientID, nil
}

// ownerToken extracts the raw credential from the request: Authorization
// bearer first, then the token query parameter for EventSource clients
// that cannot set headers.
func ownerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *rpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

func (s *Server) sessionSweepLoop() {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.sessions.prune(time.Now()); n > 0 {
				s.logger.Debug("pruned expired MCP sessions", "count", n)
			}
		}
	}
}
