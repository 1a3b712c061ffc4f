// Package auth provides bearer token authentication for formbridge.
//
// # Authentication Methods
//
// Two token kinds are accepted, configured under the mcp section:
//
//   - Static tokens: a fixed list from config. Each maps to a fingerprint
//     derived client id so the secret itself never reaches a log line.
//
//   - JWT tokens: HS256 signed with the configured jwt_secret, carrying the
//     client id in the "sub" claim. Generated out of band with the token
//     subcommand.
//
// Both kinds can be active at once via Chain, which accepts the first
// verifier that recognizes a token.
//
// # Middleware
//
// Middleware wraps protected HTTP handlers. It extracts the Authorization
// bearer token, verifies it, and attaches an Identity to the request
// context for retrieval with FromContext.
package auth
