// Package bridge adapts the stdio JSON-RPC tool protocol onto the central
// server's HTTP API.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/steveyegge/citadel/internal/protocol"
)

// ErrNotFound is returned when the server reports 404 for a resource.
var ErrNotFound = fmt.Errorf("not found")

// defaultTimeout covers every call except tool execution.
const defaultTimeout = 10 * time.Second

// toolCallTimeout is long because tools may run searches or edits.
const toolCallTimeout = 300 * time.Second

// Client is a thin HTTP client for the central server API.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// NewClient builds a client for the server at baseURL
// (e.g. http://127.0.0.1:24282).
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do issues one request and decodes the JSON response into out (when
// non-nil). A 404 maps to ErrNotFound; other non-2xx statuses map to an
// error carrying the server's message.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&payload)
		if payload.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, payload.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// GetSession checks that a session still exists on the server.
func (c *Client) GetSession(ctx context.Context, sid string) error {
	return c.do(ctx, http.MethodGet, "/api/sessions/"+sid, nil, nil)
}

// CreateSession opens a new session and returns its id.
func (c *Client) CreateSession(ctx context.Context, clientName string) (string, error) {
	var result struct {
		SessionID string `json:"session_id"`
	}
	body := map[string]string{"client_name": clientName}
	if err := c.do(ctx, http.MethodPost, "/api/sessions", body, &result); err != nil {
		return "", err
	}
	return result.SessionID, nil
}

// DeleteSession disconnects a session.
func (c *Client) DeleteSession(ctx context.Context, sid string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+sid, nil, nil)
}

// Heartbeat keeps a session alive.
func (c *Client) Heartbeat(ctx context.Context, sid string) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+sid+"/heartbeat", nil, nil)
}

// Tools fetches the server's tool catalog.
func (c *Client) Tools(ctx context.Context) ([]protocol.ToolDescriptor, error) {
	var result struct {
		Tools []protocol.ToolDescriptor `json:"tools"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tools", nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool executes a tool in the session and returns the result string
// plus the server's error flag.
func (c *Client) CallTool(ctx context.Context, sid, name string, args map[string]interface{}) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, toolCallTimeout)
	defer cancel()
	var result struct {
		Result  string `json:"result"`
		IsError bool   `json:"is_error"`
	}
	body := map[string]interface{}{"arguments": args}
	// The long per-call context governs here, not the client timeout.
	req := &http.Client{Timeout: 0, Transport: c.http.Transport}
	data, err := json.Marshal(body)
	if err != nil {
		return "", false, fmt.Errorf("encoding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/sessions/"+sid+"/tools/"+name, bytes.NewReader(data))
	if err != nil {
		return "", false, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := req.Do(httpReq)
	if err != nil {
		return "", false, fmt.Errorf("calling tool %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("calling tool %s: status %d", name, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", false, fmt.Errorf("decoding tool result: %w", err)
	}
	return result.Result, result.IsError, nil
}

// Prompt fetches the session's system prompt.
func (c *Client) Prompt(ctx context.Context, sid string) (string, error) {
	var result struct {
		Prompt string `json:"prompt"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+sid+"/prompt", nil, &result); err != nil {
		return "", err
	}
	return result.Prompt, nil
}
