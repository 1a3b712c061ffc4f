// ABOUTME: Streaming connection registry that tracks all open SSE connections
// ABOUTME: Owns admission, per-connection sends, broadcast, heartbeat, and teardown

package stream

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds this package emits on its own behalf.
const (
	EventConnection = "connection"
	EventMessage    = "message"
	EventClosing    = "closing"
)

// ErrRegistryFull indicates the connection limit was reached; no state is
// created for the rejected connection.
var ErrRegistryFull = errors.New("connection limit reached")

// ErrStreamingUnsupported indicates the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// ErrRegistryClosed indicates the registry has been cleaned up.
var ErrRegistryClosed = errors.New("registry closed")

// Registry tracks every open streaming connection. One shared heartbeat
// timer runs while at least one connection is open.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	closed bool

	maxConnections    int
	heartbeatInterval time.Duration
	heartbeatStop     chan struct{}

	logger *slog.Logger
}

// NewRegistry creates a Registry. maxConnections <= 0 means unlimited;
// heartbeatInterval <= 0 disables heartbeats.
func NewRegistry(maxConnections int, heartbeatInterval time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		conns:             make(map[string]*Connection),
		maxConnections:    maxConnections,
		heartbeatInterval: heartbeatInterval,
		logger:            logger.With("component", "stream"),
	}
}

// Add admits a new streaming connection: it checks the connection limit,
// configures SSE framing headers, flushes them so the client sees the stream
// as open, and queues the initial "connection" event carrying the assigned
// id. The first connection starts the shared heartbeat timer.
//
// The caller must invoke Run on the returned connection from the handler
// goroutine and Remove it when Run returns.
func (r *Registry) Add(w http.ResponseWriter, req *http.Request) (*Connection, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if r.maxConnections > 0 && len(r.conns) >= r.maxConnections {
		r.mu.Unlock()
		return nil, ErrRegistryFull
	}

	now := time.Now()
	conn := &Connection{
		ID:            uuid.New().String(),
		ClientInfo:    req.RemoteAddr + " " + req.UserAgent(),
		Origin:        req.Header.Get("Origin"),
		w:             w,
		flusher:       flusher,
		frames:        make(chan frame, 16),
		done:          make(chan struct{}),
		createdAt:     now,
		lastHeartbeat: now,
	}
	r.conns[conn.ID] = conn
	total := len(r.conns)

	// First connection brings the heartbeat up
	if total == 1 && r.heartbeatInterval > 0 {
		r.heartbeatStop = make(chan struct{})
		go r.heartbeatLoop(r.heartbeatStop)
	}
	r.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	if conn.Origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", conn.Origin)
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	data, _ := json.Marshal(map[string]string{"connectionId": conn.ID})
	conn.queue(frame{event: EventConnection, data: data})

	r.logger.Info("stream connected",
		"connection_id", conn.ID,
		"client", conn.ClientInfo,
		"total_connections", total,
	)
	return conn, nil
}

// Remove closes and forgets a connection. Idempotent: removing an unknown
// id is a no-op. The last connection going away stops the heartbeat timer.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	conn, exists := r.conns[id]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(r.conns, id)
	total := len(r.conns)
	if total == 0 && r.heartbeatStop != nil {
		close(r.heartbeatStop)
		r.heartbeatStop = nil
	}
	r.mu.Unlock()

	conn.close()
	r.logger.Info("stream disconnected",
		"connection_id", id,
		"total_connections", total,
	)
}

// Has reports whether a connection with the given id is open.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// Count returns the number of open connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send queues a named event for one connection. Returns false when the
// connection is unknown, closed, or its buffer is full.
func (r *Registry) Send(id, event string, payload any) bool {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("failed to marshal event payload", "event", event, "error", err)
		return false
	}
	return conn.queue(frame{event: event, data: data})
}

// Broadcast queues a named event for every open connection and returns the
// number of successful queues.
func (r *Registry) Broadcast(event string, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("failed to marshal broadcast payload", "event", event, "error", err)
		return 0
	}

	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	sent := 0
	for _, conn := range conns {
		if conn.queue(frame{event: event, data: data}) {
			sent++
		}
	}
	return sent
}

// Cleanup stops the heartbeat, sends a best-effort closing event to every
// connection, and ends all streams. Called once at process shutdown.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.heartbeatStop != nil {
		close(r.heartbeatStop)
		r.heartbeatStop = nil
	}
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	data, _ := json.Marshal(map[string]string{"message": "server shutting down"})
	for _, conn := range conns {
		conn.queue(frame{event: EventClosing, data: data})
		conn.close()
	}

	r.logger.Info("stream registry cleaned up", "closed_connections", len(conns))
}

// heartbeatLoop queues a comment-only keep-alive frame to every connection
// on each tick. A connection that cannot accept a heartbeat is removed; one
// bad connection never blocks the others.
func (r *Registry) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.RLock()
			conns := make([]*Connection, 0, len(r.conns))
			for _, conn := range r.conns {
				conns = append(conns, conn)
			}
			r.mu.RUnlock()

			now := time.Now()
			for _, conn := range conns {
				if conn.queue(frame{comment: "heartbeat"}) {
					conn.markHeartbeat(now)
					continue
				}
				r.logger.Warn("heartbeat failed, removing connection",
					"connection_id", conn.ID,
				)
				r.Remove(conn.ID)
			}
		}
	}
}
