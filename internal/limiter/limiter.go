// ABOUTME: Thread-safe keyed token-bucket rate limiter for HTTP endpoints.
// ABOUTME: Hands out one bucket per client key and evicts idle entries over time.

package limiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// sweepInterval is how often the background sweep looks for idle entries.
	sweepInterval = time.Minute

	// idleTTL is how long a key may go unused before its bucket is dropped.
	idleTTL = 3 * time.Minute
)

// entry holds a token bucket and last-seen time for a single key.
type entry struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// PerKey tracks one token bucket per client key. Buckets refill at a fixed
// rate and allow short bursts; keys that stay quiet are evicted by a
// background sweep so the map does not grow without bound.
type PerKey struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   rate.Limit
	burst   int
	done    chan struct{}
	closed  bool
}

// New creates a per-key limiter refilling rps tokens per second with the
// given burst capacity, and starts its eviction sweep.
func New(rps float64, burst int) *PerKey {
	l := &PerKey{
		entries: make(map[string]*entry),
		limit:   rate.Limit(rps),
		burst:   burst,
		done:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow reports whether a request under the given key may proceed, consuming
// one token if so. Unknown keys get a fresh bucket with a full burst.
func (l *PerKey) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{bucket: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = time.Now()
	return e.bucket.Allow()
}

// Len returns the number of tracked keys.
func (l *PerKey) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// sweep runs in a background goroutine, periodically removing idle entries.
func (l *PerKey) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle(time.Now())
		case <-l.done:
			return
		}
	}
}

// evictIdle removes every entry that has been idle longer than idleTTL.
func (l *PerKey) evictIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, e := range l.entries {
		if now.Sub(e.lastSeen) > idleTTL {
			delete(l.entries, key)
		}
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (l *PerKey) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
}
