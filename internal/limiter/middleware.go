// ABOUTME: HTTP middleware that applies the per-key limiter to incoming requests.
// ABOUTME: Keys requests by client IP and rejects over-limit callers with 429.

package limiter

import (
	"log/slog"
	"net"
	"net/http"
)

// Middleware returns middleware that rejects requests whose client has
// exhausted its token bucket. Rejected requests get a 429 with Retry-After.
func Middleware(l *PerKey, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientKey(r)
			if !l.Allow(key) {
				logger.Warn("rate limit exceeded",
					"client", key,
					"method", r.Method,
					"path", r.URL.Path,
				)
				w.Header().Set("Retry-After", "1")
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey derives the limiter key for a request: the remote IP without the
// port. Forwarding headers are ignored; the bridge is expected to face
// clients directly or over a tailnet.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
