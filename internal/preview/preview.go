// ABOUTME: Live preview pages for managed forms with push-based reload
// ABOUTME: Serves the index, per-form pages, and the per-form event stream

package preview

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/2389/formbridge/internal/forms"
	"github.com/2389/formbridge/internal/router"
	"github.com/2389/formbridge/internal/stream"
	"github.com/2389/formbridge/internal/tools"
)

//go:embed docs/*.md
var docsFS embed.FS

// Handler serves the preview surface. Pages are rendered server side;
// the only script is the EventSource hookup that reloads on change.
type Handler struct {
	forms     forms.Client
	streams   *stream.Registry
	router    *router.Router
	ownership tools.Ownership
	logger    *slog.Logger
}

// NewHandler creates the preview handler.
func NewHandler(client forms.Client, streams *stream.Registry, rt *router.Router, ownership tools.Ownership, logger *slog.Logger) *Handler {
	return &Handler{
		forms:     client,
		streams:   streams,
		router:    rt,
		ownership: ownership,
		logger:    logger.With("component", "preview"),
	}
}

// RegisterRoutes registers the preview endpoints on the given ServeMux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /preview/{$}", h.handleIndex)
	mux.HandleFunc("GET /preview/{id}", h.handleForm)
	mux.HandleFunc("GET /preview/{id}/events", h.handleEvents)
}

type formItem struct {
	ID       string
	Title    string
	Path     string
	Modified string
}

type indexData struct {
	Title string
	About template.HTML
	Forms []formItem
}

// handleIndex lists every managed form with a link to its preview.
func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	list, err := h.forms.List(r.Context(), forms.ListParams{Limit: 200})
	if err != nil {
		h.logger.Error("failed to list forms", "error", err)
		http.Error(w, "Failed to load forms", http.StatusInternalServerError)
		return
	}

	var items []formItem
	for _, f := range list {
		if !h.ownership.Managed(f) {
			continue
		}
		items = append(items, formItem{
			ID:       f.ID,
			Title:    f.Title,
			Path:     f.Path,
			Modified: f.Modified,
		})
	}

	data := indexData{
		Title: "Form Previews",
		About: h.renderAbout(),
		Forms: items,
	}

	tmpl := template.Must(template.ParseFS(templateFS, "templates/index.html"))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		h.logger.Error("failed to render preview index", "error", err)
	}
}

// renderAbout converts the embedded about doc to HTML.
func (h *Handler) renderAbout() template.HTML {
	md, err := docsFS.ReadFile("docs/about.md")
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	if err := goldmark.Convert(md, &buf); err != nil {
		h.logger.Error("failed to convert markdown", "error", err)
		return ""
	}
	return template.HTML(buf.String())
}

type componentView struct {
	Type     string
	Key      string
	Label    string
	Required bool
}

type formPageData struct {
	Title      string
	FormID     string
	Path       string
	Display    string
	Modified   string
	Managed    bool
	Components []componentView
	RawJSON    string
}

// handleForm renders one form's preview page.
func (h *Handler) handleForm(w http.ResponseWriter, r *http.Request) {
	idOrPath := r.PathValue("id")

	form, err := h.forms.Get(r.Context(), idOrPath)
	if err != nil {
		if forms.IsNotFound(err) {
			http.Error(w, "Form not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to fetch form", "form", idOrPath, "error", err)
		http.Error(w, "Failed to load form", http.StatusInternalServerError)
		return
	}

	components, raw := parseComponents(form.Components)

	data := formPageData{
		Title:      form.Title,
		FormID:     form.ID,
		Path:       form.Path,
		Display:    form.Display,
		Modified:   form.Modified,
		Managed:    h.ownership.Managed(form),
		Components: components,
		RawJSON:    raw,
	}

	tmpl := template.Must(template.ParseFS(templateFS, "templates/form.html"))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		h.logger.Error("failed to render form preview", "form_id", form.ID, "error", err)
	}
}

// handleEvents opens the per-form event stream and registers the
// connection as a watcher, so tool mutations reach this page.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	idOrPath := r.PathValue("id")

	// Resolve paths to the canonical form id so all watchers of one form
	// share a key.
	form, err := h.forms.Get(r.Context(), idOrPath)
	if err != nil {
		if forms.IsNotFound(err) {
			http.Error(w, "Form not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to resolve form", "form", idOrPath, "error", err)
		http.Error(w, "Failed to load form", http.StatusInternalServerError)
		return
	}

	conn, err := h.streams.Add(w, r)
	if err != nil {
		switch {
		case errors.Is(err, stream.ErrRegistryFull):
			http.Error(w, "Service Unavailable: connection limit reached", http.StatusServiceUnavailable)
		case errors.Is(err, stream.ErrStreamingUnsupported):
			http.Error(w, "Internal Server Error: streaming unsupported", http.StatusInternalServerError)
		default:
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		}
		return
	}
	defer h.streams.Remove(conn.ID)

	h.router.RegisterPreviewConnection(conn.ID, form.ID)
	defer h.router.UnregisterPreviewConnection(conn.ID)

	if err := conn.Run(r.Context()); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Debug("preview stream closed", "connection_id", conn.ID, "form_id", form.ID, "error", err)
	}
}

type componentNode struct {
	Type     string `json:"type"`
	Key      string `json:"key"`
	Label    string `json:"label"`
	Validate struct {
		Required bool `json:"required"`
	} `json:"validate"`
	Components []componentNode `json:"components"`
	Columns    []componentNode `json:"columns"`
}

// parseComponents flattens the component tree into table rows and
// pretty-prints the raw JSON. Layout containers contribute their
// children, not themselves being inputs.
func parseComponents(raw json.RawMessage) ([]componentView, string) {
	pretty := raw
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err == nil {
		pretty = buf.Bytes()
	}

	var nodes []componentNode
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, string(pretty)
	}

	var out []componentView
	var walk func(list []componentNode)
	walk = func(list []componentNode) {
		for _, n := range list {
			out = append(out, componentView{
				Type:     n.Type,
				Key:      n.Key,
				Label:    n.Label,
				Required: n.Validate.Required,
			})
			walk(n.Components)
			walk(n.Columns)
		}
	}
	walk(nodes)

	return out, string(pretty)
}
