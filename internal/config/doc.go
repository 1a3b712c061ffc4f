// Package config handles configuration loading for formbridge.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the -config flag
//  2. Path from FORMBRIDGE_CONFIG environment variable
//  3. ./formbridge.yaml (current directory)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	forms:
//	  base_url: "${FORMS_API_URL}"
//	  token: "${FORMS_API_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	stream:
//	  heartbeat_interval: "30s"
//	router:
//	  debounce_interval: "500ms"
//	  idle_timeout: "5m"
//	  sweep_interval: "60s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8090"       # Preview pages, SSE, MCP endpoint
//	  internal_addr: "127.0.0.1:8091" # Relay, stats, change history
//
// Upstream forms API:
//
//	forms:
//	  base_url: "${FORMS_API_URL}"
//	  token: "${FORMS_API_TOKEN}"
//	  timeout: "30s"
//
// MCP endpoint:
//
//	mcp:
//	  enabled: true
//	  require_auth: false
//	  tokens: []
//	  jwt_secret: "${FORMBRIDGE_JWT_SECRET}"
//
// Change ledger (empty path disables it):
//
//	store:
//	  path: "/var/lib/formbridge/changes.db"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "formbridge"
//	  auth_key: "${TS_AUTHKEY}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
