// ABOUTME: Single SSE connection with buffered frame queue and write loop
// ABOUTME: Frames are queued by the registry and drained on the handler goroutine

package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// frame is one wire-level SSE frame. A non-empty comment produces a
// comment-only keep-alive frame; otherwise event/data are written.
type frame struct {
	event   string
	data    []byte
	comment string
}

// Connection is one open server-to-client event stream.
//
// Writes never touch the ResponseWriter directly: callers queue frames and
// the HTTP handler goroutine drains them in Run, which keeps all writes on
// the goroutine that owns the response.
type Connection struct {
	ID         string
	ClientInfo string
	Origin     string

	w       http.ResponseWriter
	flusher http.Flusher
	frames  chan frame
	done    chan struct{}

	mu            sync.RWMutex
	closed        bool
	createdAt     time.Time
	lastHeartbeat time.Time
}

// queue enqueues a frame without blocking.
// Returns false if the connection is closed or its buffer is full.
func (c *Connection) queue(f frame) bool {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false
	}
	// Hold the read lock while sending to prevent close during send
	select {
	case c.frames <- f:
		c.mu.RUnlock()
		return true
	default:
		// Buffer full
		c.mu.RUnlock()
		return false
	}
}

// close marks the connection closed and releases the write loop.
// Safe to call more than once.
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *Connection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// CreatedAt returns the connection's accept time.
func (c *Connection) CreatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.createdAt
}

// LastHeartbeat returns the time of the last successfully queued heartbeat.
func (c *Connection) LastHeartbeat() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeartbeat
}

func (c *Connection) markHeartbeat(t time.Time) {
	c.mu.Lock()
	c.lastHeartbeat = t
	c.mu.Unlock()
}

// Run drains queued frames onto the wire until the context is cancelled,
// the connection is removed, or a write fails. It must be called from the
// HTTP handler goroutine that owns the ResponseWriter.
func (c *Connection) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			// Removed: flush anything still queued (e.g. the closing
			// event) before letting the handler return.
			c.drain()
			return nil
		case f := <-c.frames:
			if err := c.writeFrame(f); err != nil {
				return err
			}
		}
	}
}

// drain writes any frames still buffered, stopping at the first error.
func (c *Connection) drain() {
	for {
		select {
		case f := <-c.frames:
			if err := c.writeFrame(f); err != nil {
				return
			}
		default:
			return
		}
	}
}

// writeFrame writes one SSE frame and flushes it.
// Comment frames use the ": <text>\n\n" form, named events the
// "event: <kind>\ndata: <json>\n\n" form.
func (c *Connection) writeFrame(f frame) error {
	var err error
	if f.comment != "" {
		_, err = fmt.Fprintf(c.w, ": %s\n\n", f.comment)
	} else {
		_, err = fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", f.event, f.data)
	}
	if err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	c.flusher.Flush()
	return nil
}
