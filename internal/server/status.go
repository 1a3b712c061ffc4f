// ABOUTME: Health, readiness, and operational introspection handlers
// ABOUTME: Serves /healthz, /readyz on both listeners and stats/changes internally

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/formbridge/internal/change"
	"github.com/2389/formbridge/internal/forms"
	"github.com/2389/formbridge/internal/store"
)

// handleHealth returns 200 OK if the server is alive.
func (b *Bridge) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the upstream forms API answers.
func (b *Bridge) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := b.forms.List(ctx, forms.ListParams{Limit: 1}); err != nil {
		b.logger.Warn("readiness probe failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("forms API unreachable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleStats reports connection and watch state for operators.
func (b *Bridge) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"uptime":      time.Since(b.startedAt).Round(time.Second).String(),
		"connections": b.streams.Count(),
		"router":      b.router.Metrics(),
	})
}

// handleChanges serves recent ledger rows, filtered by query parameters.
func (b *Bridge) handleChanges(w http.ResponseWriter, r *http.Request) {
	if b.ledger == nil {
		http.Error(w, "change ledger disabled", http.StatusNotFound)
		return
	}

	q := store.ChangeQuery{FormID: r.URL.Query().Get("formId")}
	if raw := r.URL.Query().Get("type"); raw != "" {
		t, err := change.Parse(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q.Type = t
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "since must be an RFC3339 timestamp", http.StatusBadRequest)
			return
		}
		q.Since = ts
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		q.Limit = n
	}

	changes, err := b.ledger.ListChanges(r.Context(), q)
	if err != nil {
		b.logger.Error("listing changes", "error", err)
		http.Error(w, "failed to list changes", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"changes": changes,
		"count":   len(changes),
	})
}

// writeJSON writes a JSON response with the appropriate content type.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
