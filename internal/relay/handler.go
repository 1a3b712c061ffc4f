// ABOUTME: Internal HTTP endpoint receiving change notifications from
// ABOUTME: short-lived processes and feeding them into the update router

package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/formbridge/internal/change"
)

// maxPayloadSize caps relayed notification bodies (256KB).
const maxPayloadSize = 256 << 10

// Notifier receives validated change notifications. The update router
// satisfies it.
type Notifier interface {
	NotifyFormCreated(ctx context.Context, formID string, data any)
	NotifyFormUpdated(ctx context.Context, formID string, data any)
	NotifyFormDeleted(ctx context.Context, formID string)
}

// Payload is the wire shape of one relayed notification.
type Payload struct {
	FormID     string    `json:"formId"`
	ChangeType string    `json:"changeType"`
	Timestamp  time.Time `json:"timestamp,omitzero"`
	Data       any       `json:"data,omitempty"`
}

// Handler accepts relayed notifications on the internal listener.
type Handler struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewHandler creates a relay handler feeding the given notifier.
func NewHandler(notifier Notifier, logger *slog.Logger) *Handler {
	return &Handler{
		notifier: notifier,
		logger:   logger.With("component", "relay"),
	}
}

// RegisterRoutes registers the notify endpoint on the given ServeMux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /internal/notify", h.handleNotify)
}

func (h *Handler) handleNotify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadSize))
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if p.FormID == "" {
		h.sendError(w, http.StatusBadRequest, "formId is required")
		return
	}
	typ, err := change.Parse(p.ChangeType)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Debug("relayed notification received",
		"form_id", p.FormID,
		"change_type", typ,
		"sent_at", p.Timestamp,
	)

	switch typ {
	case change.TypeCreated:
		h.notifier.NotifyFormCreated(r.Context(), p.FormID, p.Data)
	case change.TypeUpdated:
		h.notifier.NotifyFormUpdated(r.Context(), p.FormID, p.Data)
	case change.TypeDeleted:
		h.notifier.NotifyFormDeleted(r.Context(), p.FormID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func (h *Handler) sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
