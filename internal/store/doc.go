// Package store persists accepted form change notifications to SQLite.
//
// The ledger is append-mostly: the relay and router record every accepted
// change, and the internal /internal/changes endpoint reads them back for
// debugging and audit. Losing the ledger loses history, never correctness;
// the bridge runs without it when no store path is configured.
//
// The driver is modernc.org/sqlite (pure Go, no cgo) with WAL mode enabled
// for concurrent reads during writes.
package store
