// ABOUTME: JSON-RPC 2.0 method dispatch shared by the HTTP and stdio transports
// ABOUTME: Routes requests through a method table and pushes responses to streams

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// ErrMethodExists is returned by Register for a method name already taken.
var ErrMethodExists = errors.New("method already registered")

// Request is a JSON-RPC 2.0 request. A request without an id is a
// notification and receives no response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a server-initiated JSON-RPC message. It carries a method
// but no id, so the peer must not reply.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Error is a JSON-RPC 2.0 error object. Handlers may return one to pick
// the wire code; any other error becomes an internal error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError builds an error object with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Handler processes the params of one method and returns its result.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// StreamSender is the slice of the connection registry the dispatcher needs
// to push responses and notifications.
type StreamSender interface {
	Send(id, event string, payload any) bool
	Has(id string) bool
	Broadcast(event string, payload any) int
}

// messageEvent is the stream event kind carrying JSON-RPC traffic.
const messageEvent = "message"

// Dispatcher routes JSON-RPC requests through a method table. The table is
// populated at startup via Register; dispatch itself never mutates it.
type Dispatcher struct {
	mu      sync.RWMutex
	methods map[string]Handler

	streams StreamSender
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. streams may be nil when responses are
// only ever returned synchronously (the stdio transport).
func NewDispatcher(streams StreamSender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		methods: make(map[string]Handler),
		streams: streams,
		logger:  logger.With("component", "rpc"),
	}
}

// Register adds a method to the table. Re-registering a name is a wiring
// mistake and fails loudly.
func (d *Dispatcher) Register(method string, h Handler) error {
	if method == "" {
		return errors.New("method name is required")
	}
	if h == nil {
		return fmt.Errorf("nil handler for method %q", method)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.methods[method]; exists {
		return fmt.Errorf("%s: %w", method, ErrMethodExists)
	}
	d.methods[method] = h
	return nil
}

// Methods returns the registered method names, sorted.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandleRequestSync runs one request through the method table and returns
// the response. All transports funnel through here.
//
// Protocol violations map to fixed codes: a malformed envelope is an
// invalid request, an unknown method is method-not-found. Handler errors
// are caught and become internal errors unless the handler returned an
// *Error with its own code. Notifications return nil.
func (d *Dispatcher) HandleRequestSync(ctx context.Context, req Request) *Response {
	if req.JSONRPC != "2.0" {
		return ErrorResponse(req.ID, InvalidRequest, "invalid JSON-RPC version")
	}
	if req.Method == "" {
		return ErrorResponse(req.ID, InvalidRequest, "method is required")
	}

	d.mu.RLock()
	h, ok := d.methods[req.Method]
	d.mu.RUnlock()

	if !ok {
		if req.IsNotification() {
			d.logger.Debug("dropping notification for unknown method", "method", req.Method)
			return nil
		}
		return ErrorResponse(req.ID, MethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}

	result, err := h(ctx, req.Params)
	if err != nil {
		if req.IsNotification() {
			d.logger.Warn("notification handler failed", "method", req.Method, "error", err)
			return nil
		}
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		}
		d.logger.Error("method handler failed", "method", req.Method, "error", err)
		return ErrorResponse(req.ID, InternalError, err.Error())
	}

	if req.IsNotification() {
		return nil
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// HandleRequest processes a request on behalf of a streaming connection and
// pushes the response over that connection's stream. Requests for
// connections the registry no longer knows are logged and dropped.
func (d *Dispatcher) HandleRequest(ctx context.Context, connID string, req Request) {
	if d.streams == nil || !d.streams.Has(connID) {
		d.logger.Warn("dropping request for unknown connection",
			"connection_id", connID,
			"method", req.Method,
		)
		return
	}

	resp := d.HandleRequestSync(ctx, req)
	if resp == nil {
		return
	}
	if !d.streams.Send(connID, messageEvent, resp) {
		d.logger.Warn("failed to push response",
			"connection_id", connID,
			"method", req.Method,
		)
	}
}

// SendNotification pushes a server-initiated notification to one connection.
func (d *Dispatcher) SendNotification(connID, method string, params any) bool {
	if d.streams == nil {
		return false
	}
	return d.streams.Send(connID, messageEvent, Notification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
}

// BroadcastNotification pushes a notification to every connection and
// returns how many received it.
func (d *Dispatcher) BroadcastNotification(method string, params any) int {
	if d.streams == nil {
		return 0
	}
	return d.streams.Broadcast(messageEvent, Notification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
}

// DecodeRequest parses raw bytes into a Request. On malformed JSON it
// returns a ready-to-send parse error response instead.
func DecodeRequest(data []byte) (Request, *Response) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, ErrorResponse(nil, ParseError, "invalid JSON")
	}
	return req, nil
}

// ErrorResponse builds an error response for the given request id.
func ErrorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}
