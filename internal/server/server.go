// ABOUTME: Bridge orchestrator wiring the forms client, registries, and HTTP servers
// ABOUTME: Manages the public and internal listeners and component lifecycle

package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/formbridge/internal/auth"
	"github.com/2389/formbridge/internal/config"
	"github.com/2389/formbridge/internal/forms"
	"github.com/2389/formbridge/internal/limiter"
	"github.com/2389/formbridge/internal/mcp"
	"github.com/2389/formbridge/internal/preview"
	"github.com/2389/formbridge/internal/relay"
	"github.com/2389/formbridge/internal/router"
	"github.com/2389/formbridge/internal/store"
	"github.com/2389/formbridge/internal/stream"
	"github.com/2389/formbridge/internal/tools"
)

// Bridge orchestrates the formbridge server components. It owns the public
// HTTP server (MCP endpoint, SSE channels, preview pages) and the internal
// loopback server (notification relay, stats, change log).
type Bridge struct {
	config  *config.Config
	forms   forms.Client
	ledger  *store.Ledger
	streams *stream.Registry
	router  *router.Router
	tools   *tools.Registry
	logger  *slog.Logger

	// mcpServer is nil when the MCP endpoint is disabled in config
	mcpServer *mcp.Server

	// limiter is nil when rate limiting is disabled in config
	limiter *limiter.PerKey

	publicSrv   *http.Server
	internalSrv *http.Server
	tsnetServer *tsnet.Server

	startedAt time.Time
}

// initLedger opens the change ledger, or returns nil when no path is
// configured.
func initLedger(cfg *config.Config, logger *slog.Logger) (*store.Ledger, error) {
	if cfg.Store.Path == "" {
		logger.Info("change ledger disabled (no store.path configured)")
		return nil, nil
	}
	ledger, err := store.OpenLedger(cfg.Store.Path, logger.With("component", "store"))
	if err != nil {
		return nil, fmt.Errorf("opening change ledger: %w", err)
	}
	return ledger, nil
}

// buildVerifier assembles the token verifier chain from config. Returns nil
// when no tokens or JWT secret are configured.
func buildVerifier(cfg config.MCPConfig) auth.TokenVerifier {
	var chain auth.Chain
	if len(cfg.Tokens) > 0 {
		chain = append(chain, auth.NewStaticVerifier(cfg.Tokens))
	}
	if cfg.JWTSecret != "" {
		chain = append(chain, auth.NewJWTVerifier([]byte(cfg.JWTSecret)))
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

// New creates a Bridge with the given configuration. The returned Bridge is
// not listening yet; call Run to start it.
func New(cfg *config.Config, logger *slog.Logger) (*Bridge, error) {
	formsClient := forms.NewHTTPClient(cfg.Forms.BaseURL, cfg.Forms.Token, cfg.Forms.Timeout)

	ledger, err := initLedger(cfg, logger)
	if err != nil {
		return nil, err
	}

	streams := stream.NewRegistry(cfg.Stream.MaxConnections, cfg.Stream.HeartbeatInterval, logger)

	var recorder router.ChangeRecorder
	if ledger != nil {
		recorder = ledger
	}
	rt := router.New(streams, recorder, router.Options{
		DebounceInterval: cfg.Router.DebounceInterval,
		IdleTimeout:      cfg.Router.IdleTimeout,
		SweepInterval:    cfg.Router.SweepInterval,
	}, logger)

	ownership := tools.Ownership{
		TitleTag:   cfg.Ownership.TitleTag,
		PathPrefix: cfg.Ownership.PathPrefix,
	}
	toolReg := tools.NewRegistry()
	formTools := tools.NewFormTools(formsClient, rt, ownership, logger)
	if err := formTools.RegisterAll(toolReg); err != nil {
		return nil, fmt.Errorf("registering form tools: %w", err)
	}

	b := &Bridge{
		config:    cfg,
		forms:     formsClient,
		ledger:    ledger,
		streams:   streams,
		router:    rt,
		tools:     toolReg,
		logger:    logger.With("component", "server"),
		startedAt: time.Now(),
	}

	if cfg.MCP.Enabled {
		mcpServer, err := mcp.NewServer(mcp.Config{
			Tools:       toolReg,
			Streams:     streams,
			Verifier:    buildVerifier(cfg.MCP),
			RequireAuth: cfg.MCP.RequireAuth,
			SessionTTL:  cfg.MCP.SessionTTL,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating MCP server: %w", err)
		}
		b.mcpServer = mcpServer
	}

	if cfg.RateLimit.Enabled {
		b.limiter = limiter.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	previewHandler := preview.NewHandler(formsClient, streams, rt, ownership, logger)

	b.publicSrv = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           b.buildPublicHandler(previewHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	b.internalSrv = &http.Server{
		Addr:              cfg.Server.InternalAddr,
		Handler:           b.buildInternalHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return b, nil
}

// buildPublicHandler assembles the public mux and its middleware chain.
func (b *Bridge) buildPublicHandler(previewHandler *preview.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", b.handleHealth)
	mux.HandleFunc("GET /readyz", b.handleReady)
	previewHandler.RegisterRoutes(mux)
	if b.mcpServer != nil {
		b.mcpServer.RegisterRoutes(mux)
	}

	var handler http.Handler = mux
	if b.limiter != nil {
		handler = limiter.Middleware(b.limiter, b.logger)(handler)
	}
	handler = cors(handler)
	handler = requestLog(b.logger)(handler)
	return handler
}

// buildInternalHandler assembles the loopback-only mux: the notification
// relay plus operational introspection endpoints.
func (b *Bridge) buildInternalHandler() http.Handler {
	mux := http.NewServeMux()
	relayHandler := relay.NewHandler(b.router, b.logger)
	relayHandler.RegisterRoutes(mux)
	mux.HandleFunc("GET /internal/stats", b.handleStats)
	mux.HandleFunc("GET /internal/changes", b.handleChanges)
	mux.HandleFunc("GET /healthz", b.handleHealth)
	return mux
}

// MCPEndpoint returns the externally visible MCP endpoint URL.
func (b *Bridge) MCPEndpoint() string {
	if b.config.Server.PublicURL != "" {
		return b.config.Server.PublicURL + "/mcp"
	}
	if b.config.Tailscale.Enabled {
		return "https://" + b.config.Tailscale.Hostname + "/mcp"
	}
	return "http://" + b.config.Server.HTTPAddr + "/mcp"
}
