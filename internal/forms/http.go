// ABOUTME: HTTP implementation of the forms API client
// ABOUTME: Handles auth headers, query building, and error response decoding

package forms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPClient talks to a real forms API server.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a forms API client for the given base URL.
// The token, when non-empty, is sent as the x-jwt-token header.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// List fetches forms matching params.
func (c *HTTPClient) List(ctx context.Context, params ListParams) ([]*Form, error) {
	q := url.Values{}
	if params.Type != "" {
		q.Set("type", params.Type)
	}
	if len(params.Tags) > 0 {
		q.Set("tags", strings.Join(params.Tags, ","))
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Skip > 0 {
		q.Set("skip", strconv.Itoa(params.Skip))
	}

	endpoint := c.baseURL + "/form"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var forms []*Form
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &forms); err != nil {
		return nil, err
	}
	return forms, nil
}

// Get fetches a single form by id or path. Ids are recognized by shape
// (24 hex characters); anything else is treated as a path.
func (c *HTTPClient) Get(ctx context.Context, idOrPath string) (*Form, error) {
	if idOrPath == "" {
		return nil, fmt.Errorf("form id or path required")
	}

	var endpoint string
	if looksLikeID(idOrPath) {
		endpoint = c.baseURL + "/form/" + url.PathEscape(idOrPath)
	} else {
		endpoint = c.baseURL + "/" + url.PathEscape(strings.TrimPrefix(idOrPath, "/"))
	}

	var form Form
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &form); err != nil {
		return nil, err
	}
	return &form, nil
}

// Create stores a new form and returns the server's copy of it.
func (c *HTTPClient) Create(ctx context.Context, form *Form) (*Form, error) {
	var created Form
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/form", form, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// Update replaces the form document with the given id.
func (c *HTTPClient) Update(ctx context.Context, id string, form *Form) (*Form, error) {
	if id == "" {
		return nil, fmt.Errorf("form id required")
	}
	var updated Form
	if err := c.do(ctx, http.MethodPut, c.baseURL+"/form/"+url.PathEscape(id), form, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes the form with the given id.
func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("form id required")
	}
	return c.do(ctx, http.MethodDelete, c.baseURL+"/form/"+url.PathEscape(id), nil, nil)
}

// do executes one request, decoding a JSON response into out when non-nil.
func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("x-jwt-token", c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.errorFromResponse(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorFromResponse converts a non-2xx response into an *APIError,
// pulling the message from the body when one is present.
func (c *HTTPClient) errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := strings.TrimSpace(string(body))
	var errBody struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &errBody) == nil {
		if errBody.Message != "" {
			message = errBody.Message
		} else if errBody.Error != "" {
			message = errBody.Error
		}
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

// looksLikeID reports whether s has the shape of an upstream document id
// (24 lowercase hex characters).
func looksLikeID(s string) bool {
	if len(s) != 24 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
