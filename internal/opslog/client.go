package opslog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"fleetsync/internal/config"
)

const (
	loginPath = "/api/v1/auth/login"
	logsPath  = "/api/v1/logs"

	// tokens this close to expiry are renewed before use
	refreshMargin = 2 * time.Minute
	maxErrorBody  = 1 << 16
)

// Client reports cycle outcomes and API writes to the external operations
// log. Login trades the API key for a short-lived bearer token.
type Client struct {
	BaseURL string
	APIKey  string
	Agent   string
	HTTP    *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// New returns nil when the ops log is not configured; every helper in this
// package accepts a nil client.
func New(cfg config.OpsLogConfig) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Agent:   cfg.Agent,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError is a non-2xx answer from the ops log.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ops log %s http %d: %s", e.Op, e.Status, e.Body)
}

// Entry is one ops log line.
type Entry struct {
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Level      string         `json:"level"`
	Details    map[string]any `json:"details"`
	SessionKey string         `json:"session_key,omitempty"`
	Metadata   map[string]any `json:"metadata"`
}

// Login fetches a fresh token regardless of the cached one.
func (c *Client) Login(ctx context.Context) error {
	if c.BaseURL == "" {
		return errors.New("ops log base url is empty")
	}
	if c.APIKey == "" {
		return errors.New("ops log api key is empty")
	}
	var out struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	if err := c.post(ctx, "login", loginPath, "", map[string]string{"api_key": c.APIKey}, &out); err != nil {
		return err
	}
	token := strings.TrimSpace(out.Token)
	if token == "" {
		return errors.New("ops log login returned no token")
	}
	exp, _ := time.Parse(time.RFC3339, strings.TrimSpace(out.ExpiresAt))

	c.mu.Lock()
	c.token, c.expiresAt = token, exp
	c.mu.Unlock()
	return nil
}

// EnsureToken logs in when there is no token or it is about to expire.
func (c *Client) EnsureToken(ctx context.Context) error {
	if c.cachedToken() != "" {
		return nil
	}
	return c.Login(ctx)
}

// Write sends one entry. A 401 drops the cached token and retries once with
// a fresh login.
func (c *Client) Write(ctx context.Context, e Entry) error {
	if e.Agent == "" {
		e.Agent = c.agent()
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	for attempt := 0; ; attempt++ {
		if err := c.EnsureToken(ctx); err != nil {
			return err
		}
		err := c.post(ctx, "write", logsPath, c.cachedToken(), e, nil)
		var apiErr *APIError
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			c.invalidate()
			continue
		}
		return err
	}
}

func (c *Client) cachedToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return ""
	}
	if !c.expiresAt.IsZero() && time.Until(c.expiresAt) < refreshMargin {
		return ""
	}
	return c.token
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.token, c.expiresAt = "", time.Time{}
	c.mu.Unlock()
}

func (c *Client) post(ctx context.Context, op, path, token string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) agent() string {
	if a := strings.TrimSpace(c.Agent); a != "" {
		return a
	}
	return "fleetsync"
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}
