// Package forms provides the client for the upstream forms REST API.
//
// The Client interface covers the five operations the tool handlers need
// (list, get, create, update, delete); HTTPClient is the production
// implementation. Form documents round-trip their component tree as raw
// JSON so fields this package does not model are never dropped.
package forms
