package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storefront-hooks/internal/config"
)

// ErrNotConfigured is returned by every operation when no base URL is set.
var ErrNotConfigured = errors.New("record store not configured")

const defaultPerPage = 200

// ResponseError is a non-2xx answer from the record store.
type ResponseError struct {
	Status  int            `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("record store returned %d", e.Status)
	}
	return fmt.Sprintf("record store returned %d: %s", e.Status, e.Message)
}

// StatusCode extracts the HTTP status from a ResponseError anywhere in err's chain.
func StatusCode(err error) int {
	var re *ResponseError
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}

// Client talks to a PocketBase-style record store. Admin credentials, when
// present, are exchanged for a token at the start of every operation; the
// token is never cached.
type Client struct {
	baseURL  string
	email    string
	password string
	authPath string
	client   *http.Client
}

// New creates a client. An empty URL yields a client whose operations all
// return ErrNotConfigured.
func New(cfg config.RecordStoreConfig) *Client {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	authPath := cfg.AuthPath
	if authPath == "" {
		authPath = "/api/collections/_superusers/auth-with-password"
	}
	return &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		email:    cfg.AdminEmail,
		password: cfg.AdminPassword,
		authPath: authPath,
		client:   &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a base URL is set.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

type authResponse struct {
	Token string `json:"token"`
}

// authenticate returns an admin token, or "" when no credentials are configured.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	if c.email == "" || c.password == "" {
		return "", nil
	}
	var resp authResponse
	body := map[string]string{"identity": c.email, "password": c.password}
	if err := c.send(ctx, http.MethodPost, c.authPath, nil, "", body, &resp); err != nil {
		return "", fmt.Errorf("admin auth: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("admin auth: empty token")
	}
	return resp.Token, nil
}

// do authenticates and then performs one request.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	token, err := c.authenticate(ctx)
	if err != nil {
		return err
	}
	return c.send(ctx, method, path, query, token, body, out)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, token string, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		re := &ResponseError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, re) != nil || re.Message == "" {
			re.Message = strings.TrimSpace(string(respBody))
		}
		re.Status = resp.StatusCode
		return re
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func recordsPath(collection string) string {
	return "/api/collections/" + url.PathEscape(collection) + "/records"
}

func recordPath(collection, id string) string {
	return recordsPath(collection) + "/" + url.PathEscape(id)
}

// ListOptions narrows a List call.
type ListOptions struct {
	Sort   string
	Filter string
}

type listPage struct {
	Page       int               `json:"page"`
	PerPage    int               `json:"perPage"`
	TotalPages int               `json:"totalPages"`
	Items      []json.RawMessage `json:"items"`
}

// List fetches every page of a collection.
func (c *Client) List(ctx context.Context, collection string, opts ListOptions) ([]json.RawMessage, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	token, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("perPage", strconv.Itoa(defaultPerPage))
		if opts.Sort != "" {
			q.Set("sort", opts.Sort)
		}
		if opts.Filter != "" {
			q.Set("filter", opts.Filter)
		}

		var res listPage
		if err := c.send(ctx, http.MethodGet, recordsPath(collection), q, token, nil, &res); err != nil {
			return nil, err
		}
		items = append(items, res.Items...)
		if len(res.Items) == 0 || page >= res.TotalPages {
			break
		}
	}
	return items, nil
}

// Get fetches one record into out.
func (c *Client) Get(ctx context.Context, collection, id string, out any) error {
	return c.do(ctx, http.MethodGet, recordPath(collection, id), nil, nil, out)
}

// GetRecord fetches one record as a generic map.
func (c *Client) GetRecord(ctx context.Context, collection, id string) (map[string]any, error) {
	var rec map[string]any
	if err := c.Get(ctx, collection, id, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Create inserts a record; the stored record is decoded into out when non-nil.
func (c *Client) Create(ctx context.Context, collection string, body, out any) error {
	return c.do(ctx, http.MethodPost, recordsPath(collection), nil, body, out)
}

// Update patches a record.
func (c *Client) Update(ctx context.Context, collection, id string, body any) error {
	return c.do(ctx, http.MethodPatch, recordPath(collection, id), nil, body, nil)
}

// Delete removes a record.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	return c.do(ctx, http.MethodDelete, recordPath(collection, id), nil, nil, nil)
}

// Quote escapes a value for use inside a filter expression.
func Quote(v string) string {
	return `"` + strings.ReplaceAll(strings.ReplaceAll(v, `\`, `\\`), `"`, `\"`) + `"`
}
