// Package limiter provides per-client token-bucket rate limiting used to
// shed abusive request floods before they reach session or connection state.
package limiter
