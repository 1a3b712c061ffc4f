// ABOUTME: Form management tools exposed over MCP
// ABOUTME: CRUD against the forms API with ownership gating and change notifications

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/formbridge/internal/forms"
)

// ErrUnmanagedForm refuses mutations on forms the bridge does not own.
var ErrUnmanagedForm = errors.New("form is not managed by this bridge")

// Ownership marks which forms the bridge may mutate. A form is managed when
// its title carries TitleTag or its path starts with PathPrefix. With both
// fields empty no gating applies.
type Ownership struct {
	TitleTag   string
	PathPrefix string
}

// Managed reports whether the form carries the ownership tag.
func (o Ownership) Managed(f *forms.Form) bool {
	if o.TitleTag == "" && o.PathPrefix == "" {
		return true
	}
	if o.TitleTag != "" && strings.Contains(f.Title, o.TitleTag) {
		return true
	}
	if o.PathPrefix != "" && strings.HasPrefix(f.Path, o.PathPrefix) {
		return true
	}
	return false
}

// Notifier receives change notifications after successful mutations. Both
// the in-process update router and the relay client satisfy it.
type Notifier interface {
	NotifyFormCreated(ctx context.Context, formID string, data any)
	NotifyFormUpdated(ctx context.Context, formID string, data any)
	NotifyFormDeleted(ctx context.Context, formID string)
}

// FormTools implements the form management tool set.
type FormTools struct {
	forms     forms.Client
	notifier  Notifier
	ownership Ownership
	logger    *slog.Logger
}

// NewFormTools creates the form tool set. notifier may be nil when change
// notifications are not wired.
func NewFormTools(client forms.Client, notifier Notifier, ownership Ownership, logger *slog.Logger) *FormTools {
	return &FormTools{
		forms:     client,
		notifier:  notifier,
		ownership: ownership,
		logger:    logger.With("component", "tools"),
	}
}

// RegisterAll adds every form tool to the registry.
func (t *FormTools) RegisterAll(reg *Registry) error {
	all := []*Tool{
		{
			Definition: Definition{
				Name:        "list_forms",
				Description: "List forms from the forms API with optional type, tag, and pagination filters",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"type":{"type":"string","description":"Filter by form type (form or resource)"},"tags":{"type":"array","items":{"type":"string"}},"limit":{"type":"integer"},"skip":{"type":"integer"}}}`),
			},
			Handler: t.ListForms,
		},
		{
			Definition: Definition{
				Name:        "get_form",
				Description: "Fetch one form by id or path, including its full component tree",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"formId":{"type":"string","description":"Form id or path"}},"required":["formId"]}`),
			},
			Handler: t.GetForm,
		},
		{
			Definition: Definition{
				Name:        "create_form",
				Description: "Create a managed form. The ownership tag is applied automatically",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"},"name":{"type":"string"},"path":{"type":"string"},"display":{"type":"string","enum":["form","wizard"]},"type":{"type":"string","enum":["form","resource"]},"tags":{"type":"array","items":{"type":"string"}},"components":{"type":"array","description":"Form.io component definitions"}},"required":["title","components"]}`),
			},
			Handler: t.CreateForm,
		},
		{
			Definition: Definition{
				Name:        "update_form",
				Description: "Update a managed form. Refuses forms without the ownership tag",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"formId":{"type":"string"},"title":{"type":"string"},"display":{"type":"string","enum":["form","wizard"]},"tags":{"type":"array","items":{"type":"string"}},"components":{"type":"array"}},"required":["formId"]}`),
			},
			Handler: t.UpdateForm,
		},
		{
			Definition: Definition{
				Name:        "delete_form",
				Description: "Delete a managed form. Refuses forms without the ownership tag",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"formId":{"type":"string"}},"required":["formId"]}`),
			},
			Handler: t.DeleteForm,
		},
		{
			Definition: Definition{
				Name:        "get_component_schema",
				Description: "Describe available form component types, or fetch the template for one type",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"type":{"type":"string","description":"Component type, e.g. textfield"}}}`),
			},
			Handler: t.GetComponentSchema,
		},
	}

	for _, tool := range all {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// formSummary is the compact listing shape.
type formSummary struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	Type     string   `json:"type,omitempty"`
	Display  string   `json:"display,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Managed  bool     `json:"managed"`
	Modified string   `json:"modified,omitempty"`
}

func (t *FormTools) summarize(f *forms.Form) formSummary {
	return formSummary{
		ID:       f.ID,
		Title:    f.Title,
		Name:     f.Name,
		Path:     f.Path,
		Type:     f.Type,
		Display:  f.Display,
		Tags:     f.Tags,
		Managed:  t.ownership.Managed(f),
		Modified: f.Modified,
	}
}

type listFormsInput struct {
	Type  string   `json:"type"`
	Tags  []string `json:"tags"`
	Limit int      `json:"limit"`
	Skip  int      `json:"skip"`
}

// ListForms handles the list_forms tool.
func (t *FormTools) ListForms(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in listFormsInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	list, err := t.forms.List(ctx, forms.ListParams{
		Type:  in.Type,
		Tags:  in.Tags,
		Limit: in.Limit,
		Skip:  in.Skip,
	})
	if err != nil {
		return nil, err
	}

	summaries := make([]formSummary, len(list))
	for i, f := range list {
		summaries[i] = t.summarize(f)
	}
	return json.Marshal(map[string]any{"forms": summaries, "count": len(summaries)})
}

type getFormInput struct {
	FormID string `json:"formId"`
}

// GetForm handles the get_form tool.
func (t *FormTools) GetForm(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in getFormInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.FormID == "" {
		return nil, errors.New("formId is required")
	}

	form, err := t.forms.Get(ctx, in.FormID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(form)
}

type createFormInput struct {
	Title      string          `json:"title"`
	Name       string          `json:"name"`
	Path       string          `json:"path"`
	Display    string          `json:"display"`
	Type       string          `json:"type"`
	Tags       []string        `json:"tags"`
	Components json.RawMessage `json:"components"`
}

// CreateForm handles the create_form tool. The ownership tag is applied to
// the title and path so the created form is always managed.
func (t *FormTools) CreateForm(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in createFormInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Title == "" {
		return nil, errors.New("title is required")
	}
	components, err := componentsArray(in.Components)
	if err != nil {
		return nil, err
	}

	form := &forms.Form{
		Title:      in.Title,
		Name:       in.Name,
		Path:       in.Path,
		Display:    in.Display,
		Type:       in.Type,
		Tags:       in.Tags,
		Components: components,
	}
	t.applyOwnership(form)

	created, err := t.forms.Create(ctx, form)
	if err != nil {
		return nil, err
	}

	if t.notifier != nil {
		t.notifier.NotifyFormCreated(ctx, created.ID, changeData(created))
	}
	t.logger.Info("form created", "form_id", created.ID, "path", created.Path)

	return json.Marshal(map[string]any{"status": "created", "form": created})
}

type updateFormInput struct {
	FormID     string          `json:"formId"`
	Title      string          `json:"title"`
	Display    string          `json:"display"`
	Tags       []string        `json:"tags"`
	Components json.RawMessage `json:"components"`
}

// UpdateForm handles the update_form tool. Only managed forms may change.
func (t *FormTools) UpdateForm(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in updateFormInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.FormID == "" {
		return nil, errors.New("formId is required")
	}

	form, err := t.forms.Get(ctx, in.FormID)
	if err != nil {
		return nil, err
	}
	if !t.ownership.Managed(form) {
		return nil, fmt.Errorf("%w: %s", ErrUnmanagedForm, form.Path)
	}

	if in.Title != "" {
		form.Title = in.Title
		if tag := t.ownership.TitleTag; tag != "" && !strings.Contains(form.Title, tag) {
			form.Title = tag + " " + form.Title
		}
	}
	if in.Display != "" {
		form.Display = in.Display
	}
	if in.Tags != nil {
		form.Tags = in.Tags
	}
	if len(in.Components) > 0 {
		components, err := componentsArray(in.Components)
		if err != nil {
			return nil, err
		}
		form.Components = components
	}

	updated, err := t.forms.Update(ctx, form.ID, form)
	if err != nil {
		return nil, err
	}

	if t.notifier != nil {
		t.notifier.NotifyFormUpdated(ctx, updated.ID, changeData(updated))
	}
	t.logger.Info("form updated", "form_id", updated.ID, "path", updated.Path)

	return json.Marshal(map[string]any{"status": "updated", "form": updated})
}

type deleteFormInput struct {
	FormID string `json:"formId"`
}

// DeleteForm handles the delete_form tool. Only managed forms may go.
func (t *FormTools) DeleteForm(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in deleteFormInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.FormID == "" {
		return nil, errors.New("formId is required")
	}

	form, err := t.forms.Get(ctx, in.FormID)
	if err != nil {
		return nil, err
	}
	if !t.ownership.Managed(form) {
		return nil, fmt.Errorf("%w: %s", ErrUnmanagedForm, form.Path)
	}

	if err := t.forms.Delete(ctx, form.ID); err != nil {
		return nil, err
	}

	if t.notifier != nil {
		t.notifier.NotifyFormDeleted(ctx, form.ID)
	}
	t.logger.Info("form deleted", "form_id", form.ID, "path", form.Path)

	return json.Marshal(map[string]string{"status": "deleted", "formId": form.ID})
}

// applyOwnership stamps the configured tag onto a new form's title and
// path, deriving name and path from the title when absent.
func (t *FormTools) applyOwnership(f *forms.Form) {
	if tag := t.ownership.TitleTag; tag != "" && !strings.Contains(f.Title, tag) {
		f.Title = tag + " " + f.Title
	}
	if f.Name == "" {
		title := f.Title
		if tag := t.ownership.TitleTag; tag != "" {
			title = strings.TrimSpace(strings.ReplaceAll(title, tag, ""))
		}
		f.Name = slugify(title)
	}
	if f.Path == "" {
		f.Path = f.Name
	}
	if prefix := t.ownership.PathPrefix; prefix != "" && !strings.HasPrefix(f.Path, prefix) {
		f.Path = prefix + f.Path
	}
}

// changeData is the payload carried with change notifications.
func changeData(f *forms.Form) map[string]string {
	return map[string]string{"title": f.Title, "path": f.Path}
}

// componentsArray enforces that components is a JSON array. The forms API
// tolerates other shapes; the tool surface does not.
func componentsArray(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errors.New("components must be a JSON array")
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(trimmed, &arr); err != nil {
		return nil, fmt.Errorf("components must be a JSON array: %w", err)
	}
	return trimmed, nil
}

// slugify lowercases a title into a form name: letters and digits kept,
// separator runs collapsed to single dashes.
func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			dash = false
		case r == ' ' || r == '-' || r == '_' || r == '.':
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
