// ABOUTME: Types and client contract for the upstream forms REST API
// ABOUTME: Defines Form documents, list parameters, and the API error shape

package forms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested form does not exist upstream.
var ErrNotFound = errors.New("form not found")

// Form is one form document as the upstream API represents it.
// Components carries the raw component tree untouched so unknown component
// settings survive a read-modify-write cycle.
type Form struct {
	ID         string          `json:"_id,omitempty"`
	Title      string          `json:"title"`
	Name       string          `json:"name,omitempty"`
	Path       string          `json:"path,omitempty"`
	Type       string          `json:"type,omitempty"`
	Display    string          `json:"display,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
	Components json.RawMessage `json:"components,omitempty"`
	Created    string          `json:"created,omitempty"`
	Modified   string          `json:"modified,omitempty"`
}

// ListParams narrows a List call. Zero values mean "no filter".
type ListParams struct {
	Type  string
	Tags  []string
	Limit int
	Skip  int
}

// Client is the upstream forms API surface the rest of the system consumes.
type Client interface {
	List(ctx context.Context, params ListParams) ([]*Form, error)
	// Get accepts either a form id or a form path.
	Get(ctx context.Context, idOrPath string) (*Form, error)
	Create(ctx context.Context, form *Form) (*Form, error)
	Update(ctx context.Context, id string, form *Form) (*Form, error)
	Delete(ctx context.Context, id string) error
}

// APIError is a non-2xx response from the upstream API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("forms api: %s (status %d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err represents a missing form, either as the
// package sentinel or an upstream 404.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}
