// Package stream owns the set of open server-sent-event connections.
//
// # Overview
//
// The Registry accepts, tracks, and writes to an arbitrary number of
// concurrent one-way event streams. Frames are queued per connection and
// drained by the HTTP handler goroutine, so a slow or dead client never
// blocks a send into another connection.
//
// # Registry
//
//	reg := stream.NewRegistry(100, 30*time.Second, logger)
//
// Key operations:
//
//   - Add(w, r): Admit a connection, emit the "connection" event
//   - Send(id, event, payload): Queue a named event frame
//   - Broadcast(event, payload): Queue a frame for every connection
//   - Remove(id): Close and forget a connection (idempotent)
//   - Cleanup(): Shut everything down with a "closing" event
//
// # Liveness
//
// A single shared heartbeat timer runs while any connection is open and
// writes comment-only keep-alive frames. Dead connections are detected
// reactively (a write fails in Run) and proactively (heartbeat can no
// longer be queued); either way the connection is removed and later sends
// to it report failure.
package stream
