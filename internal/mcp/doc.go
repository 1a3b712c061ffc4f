// Package mcp implements the Model Context Protocol server for form tool access.
//
// # Overview
//
// MCP (Model Context Protocol) is a standard for AI tool integration. This
// package exposes the form management tools to external AI clients (Claude
// Code, Claude Desktop, or custom applications) over three transports that
// share one JSON-RPC method table.
//
// # Transports
//
//   - POST /mcp - Streamable HTTP: one JSON-RPC request per POST, response
//     in the HTTP body, sessions tracked via the Mcp-Session-Id header
//   - GET /mcp/sse + POST /mcp/message - SSE channel: the GET opens an
//     event stream and delivers a connection id; subsequent POSTs to
//     /mcp/message?connection=<id> are acknowledged with 202 and answered
//     over the stream as "message" events
//   - stdio - newline-delimited JSON-RPC for spawned processes, see
//     ServeStdio
//
// # Sessions
//
// The initialize handshake creates a session and returns its id in the
// Mcp-Session-Id response header. Non-initialize POSTs to /mcp must carry
// that header; sessions idle past the TTL are dropped and the client gets
// 404 until it re-initializes. DELETE /mcp terminates a session, but only
// for the caller holding the credentials it was created with.
//
// # Authentication
//
// Requests authenticate with a bearer token:
//
//	Authorization: Bearer <token>
//
// EventSource clients that cannot set headers may use ?token=<token>
// instead. Tokens are verified through the auth package, so both static
// tokens and signed JWTs work. When auth is optional, requests without a
// token pass through; a presented token that fails verification is always
// rejected.
//
// # Methods
//
//   - initialize - protocol handshake, session creation
//   - ping - liveness probe
//   - tools/list - tool discovery with JSON Schema definitions
//   - tools/call - tool execution
//   - notifications/initialized - client lifecycle notification
//
// Tool execution failures are reported inside the tools/call result with
// isError set; only protocol-level problems (unknown tool, malformed
// params) become JSON-RPC errors.
//
// # Integration with Claude Code
//
// Streamable HTTP:
//
//	claude mcp add --transport http formbridge http://localhost:8090/mcp
//
// Spawned stdio process:
//
//	{
//	  "mcpServers": {
//	    "formbridge": {
//	      "command": "formbridge",
//	      "args": ["stdio"]
//	    }
//	  }
//	}
package mcp
