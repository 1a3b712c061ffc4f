// ABOUTME: MCP method handlers registered on the JSON-RPC dispatcher
// ABOUTME: Covers initialize, ping, tools/list, tools/call, and lifecycle notifications

package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/2389/formbridge/internal/rpc"
	"github.com/2389/formbridge/internal/tools"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise in initialize responses
const latestProtocolVersion = "2025-11-25"

const (
	serverName    = "formbridge"
	serverVersion = "1.0.0"
)

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []tools.Definition `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// registerMethods populates the dispatcher's method table. Called once
// from NewServer; the table is read-only afterwards.
func (s *Server) registerMethods() error {
	handlers := map[string]rpc.Handler{
		"initialize":                s.handleInitialize,
		"ping":                      s.handlePing,
		"tools/list":                s.handleToolsList,
		"tools/call":                s.handleToolsCall,
		"notifications/initialized": s.handleInitialized,
	}
	for method, h := range handlers {
		if err := s.dispatcher.Register(method, h); err != nil {
			return err
		}
	}
	return nil
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

// handleInitialize negotiates the protocol version and describes the
// server. Session creation happens at the transport layer.
func (s *Server) handleInitialize(ctx context.Context, params json.RawMessage) (any, error) {
	var p initializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, rpc.NewError(rpc.InvalidParams, "invalid params")
		}
	}

	// Echo the client's version when we support it, otherwise offer ours.
	version := latestProtocolVersion
	if supportedProtocolVersions[p.ProtocolVersion] {
		version = p.ProtocolVersion
	}

	s.logger.Debug("MCP initialize",
		"client_name", p.ClientInfo.Name,
		"client_version", p.ClientInfo.Version,
		"protocol_version", version,
	)

	return map[string]any{
		"protocolVersion": version,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    serverName,
			"version": serverVersion,
		},
	}, nil
}

func (s *Server) handlePing(ctx context.Context, params json.RawMessage) (any, error) {
	return map[string]any{}, nil
}

func (s *Server) handleInitialized(ctx context.Context, params json.RawMessage) (any, error) {
	s.logger.Debug("MCP client initialized")
	return nil, nil
}

// handleToolsList returns every registered tool definition.
func (s *Server) handleToolsList(ctx context.Context, params json.RawMessage) (any, error) {
	list := s.tools.List()
	result := MCPListToolsResult{Tools: make([]tools.Definition, len(list))}
	for i, t := range list {
		result.Tools[i] = t.Definition
	}

	s.logger.Debug("tools/list", "count", len(result.Tools))
	return result, nil
}

// handleToolsCall runs one tool. Protocol problems become JSON-RPC
// errors; tool execution failures are reported inside the result with
// isError set, per the MCP convention.
func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (any, error) {
	var p MCPCallToolParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, rpc.NewError(rpc.InvalidParams, "invalid params")
		}
	}
	if p.Name == "" {
		return nil, rpc.NewError(rpc.InvalidParams, "tool name is required")
	}

	s.logger.Debug("tools/call", "tool_name", p.Name)

	out, err := s.tools.Call(ctx, p.Name, p.Arguments)
	if err != nil {
		switch {
		case errors.Is(err, tools.ErrToolNotFound):
			return nil, rpc.NewError(rpc.InvalidParams, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			return nil, rpc.NewError(rpc.InternalError, "tool execution timed out")
		case errors.Is(err, context.Canceled):
			return nil, rpc.NewError(rpc.InternalError, "request cancelled")
		}

		s.logger.Warn("tool execution failed", "tool_name", p.Name, "error", err)
		return MCPCallToolResult{
			Content: []MCPContent{{Type: "text", Text: err.Error()}},
			IsError: true,
		}, nil
	}

	return MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: string(out)}},
	}, nil
}
