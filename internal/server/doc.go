// Package server assembles the formbridge components into a running process.
//
// Two HTTP surfaces come up side by side. The public server carries the MCP
// endpoint, the per-client SSE channels, the form preview pages, and the
// health probes; it listens on a configurable TCP address or, when Tailscale
// is enabled, as a tsnet node with auto-provisioned HTTPS. The internal
// server binds loopback only and carries the cross-process notification
// relay plus stats and change-log introspection for operators.
//
// Run blocks until the context is canceled, then shuts both servers down
// gracefully; stream connections receive a closing event first so handlers
// drain quickly.
package server
