// ABOUTME: Entry point for the formbridge server and companion subcommands
// ABOUTME: Bridges MCP clients to an upstream forms API with live preview streaming

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/formbridge/internal/auth"
	"github.com/2389/formbridge/internal/change"
	"github.com/2389/formbridge/internal/config"
	"github.com/2389/formbridge/internal/forms"
	"github.com/2389/formbridge/internal/mcp"
	"github.com/2389/formbridge/internal/relay"
	"github.com/2389/formbridge/internal/server"
	"github.com/2389/formbridge/internal/tools"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  __                      _          _     _
 / _| ___  _ __ _ __ ___ | |__  _ __(_) __| | __ _  ___
| |_ / _ \| '__| '_ ' _ \| '_ \| '__| |/ _' |/ _' |/ _ \
|  _| (_) | |  | | | | | | |_) | |  | | (_| | (_| |  __/
|_|  \___/|_|  |_| |_| |_|_.__/|_|  |_|\__,_|\__, |\___|
                                             |___/
`

func usage() {
	fmt.Println("Usage: formbridge <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve      Start the bridge server")
	fmt.Println("  stdio      Speak MCP over stdin/stdout (for spawned clients)")
	fmt.Println("  notify     Post one change notification to a running server")
	fmt.Println("  token      Mint a bearer token for the MCP endpoint")
	fmt.Println("  health     Check bridge health")
	fmt.Println("  version    Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "stdio":
		err = runStdio(ctx, os.Args[2:])
	case "notify":
		err = runNotify(ctx, os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx, os.Args[2:])
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the config file path.
// Priority: -config flag > FORMBRIDGE_CONFIG env var > ./formbridge.yaml
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("FORMBRIDGE_CONFIG"); envPath != "" {
		return envPath
	}
	return "formbridge.yaml"
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	configPath := resolveConfigPath(*configFlag)

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Public:    %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Internal:  %s\n", cfg.Server.InternalAddr)
	green.Print("    ▶ ")
	fmt.Printf("Forms API: %s\n", cfg.Forms.BaseURL)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting formbridge",
		"config", configPath,
		"public_addr", cfg.Server.HTTPAddr,
		"internal_addr", cfg.Server.InternalAddr,
	)

	bridge, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	return bridge.Run(ctx)
}

// runStdio speaks MCP over stdin/stdout for a client-spawned process. The
// spawned process shares nothing with a running server except the relay
// endpoint address: mutations post change notifications there, best effort.
func runStdio(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stdio", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadStdioConfig(resolveConfigPath(*configFlag))
	if err != nil {
		return err
	}

	// Stdout carries the protocol; all logging goes to stderr.
	logger := setupLogger(cfg.Logging, os.Stderr)

	formsClient := forms.NewHTTPClient(cfg.Forms.BaseURL, cfg.Forms.Token, cfg.Forms.Timeout)
	notifier := relay.NewClient(cfg.Relay.Endpoint, cfg.Relay.Timeout, logger)

	ownership := tools.Ownership{
		TitleTag:   cfg.Ownership.TitleTag,
		PathPrefix: cfg.Ownership.PathPrefix,
	}
	reg := tools.NewRegistry()
	formTools := tools.NewFormTools(formsClient, notifier, ownership, logger)
	if err := formTools.RegisterAll(reg); err != nil {
		return fmt.Errorf("registering form tools: %w", err)
	}

	srv, err := mcp.NewServer(mcp.Config{
		Tools:  reg,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	defer srv.Close()

	logger.Info("formbridge stdio ready",
		"forms_api", cfg.Forms.BaseURL,
		"relay_endpoint", cfg.Relay.Endpoint,
	)

	return mcp.ServeStdio(ctx, srv, os.Stdin, os.Stdout)
}

// loadStdioConfig loads config for the stdio process. A config file is
// optional here: spawned processes usually carry environment variables only.
func loadStdioConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err == nil {
		return config.Load(path)
	}

	cfg := config.Default()
	cfg.Forms.BaseURL = os.Getenv("FORMBRIDGE_FORMS_URL")
	cfg.Forms.Token = os.Getenv("FORMBRIDGE_FORMS_TOKEN")
	if endpoint := os.Getenv("FORMBRIDGE_RELAY_ENDPOINT"); endpoint != "" {
		cfg.Relay.Endpoint = endpoint
	}
	if cfg.Forms.BaseURL == "" {
		return nil, fmt.Errorf("no config file at %s and FORMBRIDGE_FORMS_URL not set", path)
	}
	return cfg, nil
}

// runNotify posts one change notification to a running server's relay
// endpoint. Unlike the relay client, failures are reported: this is a
// debugging aid and wants to see them.
func runNotify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("notify", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	formID := fs.String("form", "", "form id the change applies to")
	changeType := fs.String("type", "updated", "change type: created, updated, or deleted")
	endpoint := fs.String("endpoint", "", "relay endpoint URL (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *formID == "" {
		return fmt.Errorf("-form is required")
	}
	typ, err := change.Parse(*changeType)
	if err != nil {
		return err
	}

	target := *endpoint
	if target == "" {
		cfg, err := config.Load(resolveConfigPath(*configFlag))
		if err != nil {
			return fmt.Errorf("loading config (or pass -endpoint): %w", err)
		}
		target = cfg.Relay.Endpoint
	}

	payload, err := json.Marshal(relay.Payload{
		FormID:     *formID,
		ChangeType: string(typ),
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notify failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Printf("notified %s (%s)\n", *formID, typ)
	return nil
}

// runToken mints a JWT accepted by the MCP endpoint, signed with the
// configured secret.
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	clientID := fs.String("client", "", "client id to embed in the token")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *clientID == "" {
		return fmt.Errorf("-client is required")
	}

	cfg, err := config.Load(resolveConfigPath(*configFlag))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.MCP.JWTSecret == "" {
		return fmt.Errorf("mcp.jwt_secret not configured in %s", resolveConfigPath(*configFlag))
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.MCP.JWTSecret)).Generate(*clientID, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(resolveConfigPath(*configFlag))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
